package hub

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/rates"
)

// State is a serialisable copy of every asset on the hub. Amounts are
// *big.Int so the struct encodes directly with RLP.
type State struct {
	Assets []AssetState
}

// AssetState is the exported form of one asset.
type AssetState struct {
	Symbol             string
	Decimals           uint8
	Active             bool
	Paused             bool
	LiquidityFee       uint16
	FeeReceiver        common.Address
	SupplyCap          *big.Int
	SuppliedShares     *big.Int
	BaseDrawnShares    *big.Int
	PremiumShares      *big.Int
	PremiumOffset      *big.Int
	RealizedPremium    *big.Int
	SupplyIndex        *big.Int
	DrawnIndex         *big.Int
	AvailableLiquidity *big.Int
	BaseBorrowRate     *big.Int
	LastUpdate         uint64
	Spokes             []SpokeState
}

// SpokeState is the exported form of a spoke's slice of an asset.
type SpokeState struct {
	Address         common.Address
	Active          bool
	SupplyCap       *big.Int
	DrawCap         *big.Int
	SuppliedShares  *big.Int
	BaseDrawnShares *big.Int
	PremiumShares   *big.Int
	PremiumOffset   *big.Int
	RealizedPremium *big.Int
}

// Export captures the committed hub state.
func (h *Hub) Export() State {
	state := State{Assets: make([]AssetState, 0, len(h.assets))}
	for _, a := range h.assets {
		entry := AssetState{
			Symbol:             a.config.Symbol,
			Decimals:           a.config.Decimals,
			Active:             a.config.Active,
			Paused:             a.config.Paused,
			LiquidityFee:       a.config.LiquidityFee,
			FeeReceiver:        a.config.FeeReceiver,
			SupplyCap:          toBig(a.config.SupplyCap),
			SuppliedShares:     toBig(a.suppliedShares),
			BaseDrawnShares:    toBig(a.baseDrawnShares),
			PremiumShares:      toBig(a.premium.Shares),
			PremiumOffset:      toBig(a.premium.Offset),
			RealizedPremium:    toBig(a.premium.Realized),
			SupplyIndex:        toBig(a.supplyIndex),
			DrawnIndex:         toBig(a.drawnIndex),
			AvailableLiquidity: toBig(a.availableLiquidity),
			BaseBorrowRate:     toBig(a.baseBorrowRate),
			LastUpdate:         a.lastUpdate,
			Spokes:             make([]SpokeState, 0, len(a.spokeOrder)),
		}
		for _, addr := range a.spokeOrder {
			s := a.spokes[addr]
			entry.Spokes = append(entry.Spokes, SpokeState{
				Address:         addr,
				Active:          s.config.Active,
				SupplyCap:       toBig(s.config.SupplyCap),
				DrawCap:         toBig(s.config.DrawCap),
				SuppliedShares:  toBig(s.suppliedShares),
				BaseDrawnShares: toBig(s.baseDrawnShares),
				PremiumShares:   toBig(s.premium.Shares),
				PremiumOffset:   toBig(s.premium.Offset),
				RealizedPremium: toBig(s.premium.Realized),
			})
		}
		state.Assets = append(state.Assets, entry)
	}
	return state
}

// Import replaces the hub state. strategies must price every asset in state,
// keyed by position.
func (h *Hub) Import(state State, strategies map[AssetID]rates.Strategy) error {
	assets := make([]*asset, 0, len(state.Assets))
	for i, entry := range state.Assets {
		id := AssetID(i)
		if strategies[id] == nil {
			return fmt.Errorf("asset %d (%s): %w", id, entry.Symbol, ErrStrategyMissing)
		}
		a := &asset{
			id: id,
			config: AssetConfig{
				Symbol:       entry.Symbol,
				Decimals:     entry.Decimals,
				Active:       entry.Active,
				Paused:       entry.Paused,
				LiquidityFee: entry.LiquidityFee,
				FeeReceiver:  entry.FeeReceiver,
			},
			spokes: make(map[common.Address]*spokeState, len(entry.Spokes)),
		}
		var err error
		fields := []struct {
			dst **uint256.Int
			src *big.Int
		}{
			{&a.config.SupplyCap, entry.SupplyCap},
			{&a.suppliedShares, entry.SuppliedShares},
			{&a.baseDrawnShares, entry.BaseDrawnShares},
			{&a.premium.Shares, entry.PremiumShares},
			{&a.premium.Offset, entry.PremiumOffset},
			{&a.premium.Realized, entry.RealizedPremium},
			{&a.supplyIndex, entry.SupplyIndex},
			{&a.drawnIndex, entry.DrawnIndex},
			{&a.availableLiquidity, entry.AvailableLiquidity},
			{&a.baseBorrowRate, entry.BaseBorrowRate},
		}
		for _, f := range fields {
			if *f.dst, err = fromBig(f.src); err != nil {
				return fmt.Errorf("asset %d (%s): %w", id, entry.Symbol, err)
			}
		}
		a.lastUpdate = entry.LastUpdate
		for _, spoke := range entry.Spokes {
			s := newSpokeState(SpokeConfig{Active: spoke.Active})
			spokeFields := []struct {
				dst **uint256.Int
				src *big.Int
			}{
				{&s.config.SupplyCap, spoke.SupplyCap},
				{&s.config.DrawCap, spoke.DrawCap},
				{&s.suppliedShares, spoke.SuppliedShares},
				{&s.baseDrawnShares, spoke.BaseDrawnShares},
				{&s.premium.Shares, spoke.PremiumShares},
				{&s.premium.Offset, spoke.PremiumOffset},
				{&s.premium.Realized, spoke.RealizedPremium},
			}
			for _, f := range spokeFields {
				if *f.dst, err = fromBig(f.src); err != nil {
					return fmt.Errorf("asset %d spoke %s: %w", id, spoke.Address.Hex(), err)
				}
			}
			a.spokes[spoke.Address] = s
			a.spokeOrder = append(a.spokeOrder, spoke.Address)
		}
		assets = append(assets, a)
	}
	h.assets = assets
	h.strategies = make(map[AssetID]rates.Strategy, len(assets))
	for id := range assets {
		h.strategies[AssetID(id)] = strategies[AssetID(id)]
	}
	return nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: value %s out of range", ErrAmountOverflow, v.String())
	}
	return out, nil
}
