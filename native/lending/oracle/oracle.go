// Package oracle defines the price feed consumed by spokes when valuing
// collateral and debt.
package oracle

import (
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

const (
	// DefaultDecimals is the precision used by Static when none is given.
	DefaultDecimals = 8
	// MaxDecimals bounds the precision any oracle may quote with.
	MaxDecimals = 18
)

var (
	ErrPriceNotSet      = errors.New("oracle: price not set")
	ErrZeroPrice        = errors.New("oracle: price is zero")
	ErrDecimalsTooLarge = errors.New("oracle: decimals above 18")
)

// PriceOracle returns base-currency prices keyed by the spoke's reserve id.
type PriceOracle interface {
	ReservePrice(reserveID uint32) (*uint256.Int, error)
	Decimals() uint8
}

// Static is an in-memory oracle whose prices are pushed by an operator.
type Static struct {
	mu       sync.RWMutex
	decimals uint8
	prices   map[uint32]*uint256.Int
}

// NewStatic creates an empty oracle quoting with the given precision. It
// panics if decimals exceeds MaxDecimals.
func NewStatic(decimals uint8) *Static {
	if decimals > MaxDecimals {
		panic(fmt.Errorf("%w: %d", ErrDecimalsTooLarge, decimals))
	}
	return &Static{decimals: decimals, prices: make(map[uint32]*uint256.Int)}
}

// SetPrice records the price for a reserve.
func (o *Static) SetPrice(reserveID uint32, price *uint256.Int) error {
	if price == nil || price.IsZero() {
		return fmt.Errorf("reserve %d: %w", reserveID, ErrZeroPrice)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[reserveID] = new(uint256.Int).Set(price)
	return nil
}

// ReservePrice implements PriceOracle.
func (o *Static) ReservePrice(reserveID uint32) (*uint256.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[reserveID]
	if !ok {
		return nil, fmt.Errorf("reserve %d: %w", reserveID, ErrPriceNotSet)
	}
	return new(uint256.Int).Set(price), nil
}

// Decimals implements PriceOracle.
func (o *Static) Decimals() uint8 { return o.decimals }
