package hub

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrAssetNotListed        = errors.New("hub: asset not listed")
	ErrAssetNotActive        = errors.New("hub: asset not active")
	ErrAssetPaused           = errors.New("hub: asset paused")
	ErrSpokeNotListed        = errors.New("hub: spoke not listed")
	ErrSpokeNotActive        = errors.New("hub: spoke not active")
	ErrSpokeAlreadyListed    = errors.New("hub: spoke already listed")
	ErrInvalidAssetConfig    = errors.New("hub: invalid asset config")
	ErrInvalidSpoke          = errors.New("hub: invalid spoke address")
	ErrInvalidSupplyAmount   = errors.New("hub: invalid supply amount")
	ErrInvalidWithdrawAmount = errors.New("hub: invalid withdraw amount")
	ErrInvalidDrawAmount     = errors.New("hub: invalid draw amount")
	ErrInvalidRestoreAmount  = errors.New("hub: invalid restore amount")
	ErrInvalidPremiumChange  = errors.New("hub: invalid premium change")
	ErrInsufficientSupply    = errors.New("hub: insufficient supply")
	ErrNotAvailableLiquidity = errors.New("hub: not available liquidity")
	ErrSupplyCapExceeded     = errors.New("hub: supply cap exceeded")
	ErrDrawCapExceeded       = errors.New("hub: draw cap exceeded")
	ErrAmountOverflow        = errors.New("hub: amount overflow")
	ErrStrategyMissing       = errors.New("hub: interest rate strategy missing")
)

// LimitError reports a failure together with the value that bounded the
// request, e.g. the available liquidity or the cap that would be exceeded.
// It unwraps to its sentinel so errors.Is keeps working.
type LimitError struct {
	Err   error
	Limit *uint256.Int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (limit %s)", e.Err, e.Limit.Dec())
}

func (e *LimitError) Unwrap() error { return e.Err }

func limitError(err error, limit *uint256.Int) error {
	return &LimitError{Err: err, Limit: new(uint256.Int).Set(limit)}
}

// Limit extracts the bounding value from a LimitError chain.
func Limit(err error) (*uint256.Int, bool) {
	var limitErr *LimitError
	if errors.As(err, &limitErr) {
		return new(uint256.Int).Set(limitErr.Limit), true
	}
	return nil, false
}

// InsufficientSupply reports that a withdrawal exceeds the withdrawable claim.
func InsufficientSupply(limit *uint256.Int) error { return limitError(ErrInsufficientSupply, limit) }

// NotAvailableLiquidity reports that the asset cannot fund the request.
func NotAvailableLiquidity(available *uint256.Int) error {
	return limitError(ErrNotAvailableLiquidity, available)
}

// SupplyCapExceeded reports the supply cap that would be breached.
func SupplyCapExceeded(limit *uint256.Int) error { return limitError(ErrSupplyCapExceeded, limit) }

// DrawCapExceeded reports the draw cap that would be breached.
func DrawCapExceeded(limit *uint256.Int) error { return limitError(ErrDrawCapExceeded, limit) }
