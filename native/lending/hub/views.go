package hub

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// preview returns a copy of the asset accrued to now without committing it.
func (h *Hub) preview(id AssetID) (*asset, error) {
	a, err := h.asset(id)
	if err != nil {
		return nil, err
	}
	next := a.clone()
	next.accrue(h.now())
	return next, nil
}

func (h *Hub) previewSpoke(id AssetID, spoke common.Address) (*asset, *spokeState, error) {
	a, err := h.preview(id)
	if err != nil {
		return nil, nil, err
	}
	s, ok := a.spokes[spoke]
	if !ok {
		return nil, nil, fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeNotListed)
	}
	return a, s, nil
}

// AssetCount returns the number of listed assets.
func (h *Hub) AssetCount() int { return len(h.assets) }

// AssetBySymbol looks up a listed asset by symbol.
func (h *Hub) AssetBySymbol(symbol string) (AssetID, bool) {
	for _, a := range h.assets {
		if a.config.Symbol == symbol {
			return a.id, true
		}
	}
	return 0, false
}

// AssetConfig returns the asset's current config.
func (h *Hub) AssetConfig(id AssetID) (AssetConfig, error) {
	a, err := h.asset(id)
	if err != nil {
		return AssetConfig{}, err
	}
	return a.config.Clone(), nil
}

// SpokeConfig returns a spoke's limits for an asset.
func (h *Hub) SpokeConfig(id AssetID, spoke common.Address) (SpokeConfig, error) {
	a, err := h.asset(id)
	if err != nil {
		return SpokeConfig{}, err
	}
	s, ok := a.spokes[spoke]
	if !ok {
		return SpokeConfig{}, fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeNotListed)
	}
	return s.config.Clone(), nil
}

// Asset returns the asset accrued to now.
func (h *Hub) Asset(id AssetID) (AssetView, error) {
	a, err := h.preview(id)
	if err != nil {
		return AssetView{}, err
	}
	return AssetView{
		ID:                 a.id,
		Config:             a.config.Clone(),
		SuppliedShares:     cloneInt(a.suppliedShares),
		SuppliedAssets:     toSuppliedAssetsDown(a.suppliedShares, a.supplyIndex),
		BaseDrawnShares:    cloneInt(a.baseDrawnShares),
		BaseDebt:           a.baseDebt(),
		PremiumDebt:        a.premiumDebt(),
		Premium:            a.premium.Clone(),
		AvailableLiquidity: cloneInt(a.availableLiquidity),
		SupplyIndex:        cloneInt(a.supplyIndex),
		DrawnIndex:         cloneInt(a.drawnIndex),
		BaseBorrowRate:     cloneInt(a.baseBorrowRate),
		LastUpdate:         a.lastUpdate,
		Spokes:             append([]common.Address(nil), a.spokeOrder...),
	}, nil
}

// Spoke returns a spoke's slice of an asset accrued to now.
func (h *Hub) Spoke(id AssetID, spoke common.Address) (SpokeView, error) {
	a, s, err := h.previewSpoke(id, spoke)
	if err != nil {
		return SpokeView{}, err
	}
	return SpokeView{
		Address:         spoke,
		Config:          s.config.Clone(),
		SuppliedShares:  cloneInt(s.suppliedShares),
		SuppliedAssets:  toSuppliedAssetsDown(s.suppliedShares, a.supplyIndex),
		BaseDrawnShares: cloneInt(s.baseDrawnShares),
		BaseDebt:        toDrawnAssetsUp(s.baseDrawnShares, a.drawnIndex),
		PremiumDebt:     s.premium.Debt(a.drawnIndex),
		Premium:         s.premium.Clone(),
	}, nil
}

// SupplyIndex returns the supply index accrued to now.
func (h *Hub) SupplyIndex(id AssetID) (*uint256.Int, error) {
	a, err := h.preview(id)
	if err != nil {
		return nil, err
	}
	return a.supplyIndex, nil
}

// DrawnIndex returns the base debt index accrued to now.
func (h *Hub) DrawnIndex(id AssetID) (*uint256.Int, error) {
	a, err := h.preview(id)
	if err != nil {
		return nil, err
	}
	return a.drawnIndex, nil
}

func (h *Hub) convert(id AssetID, drawn bool, value *uint256.Int, fn func(v, index *uint256.Int) *uint256.Int) (*uint256.Int, error) {
	a, err := h.preview(id)
	if err != nil {
		return nil, err
	}
	index := a.supplyIndex
	if drawn {
		index = a.drawnIndex
	}
	return fn(cloneInt(value), index), nil
}

// ConvertToSuppliedShares converts an amount to supplied shares, rounded down.
func (h *Hub) ConvertToSuppliedShares(id AssetID, amount *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, false, amount, toSuppliedSharesDown)
}

// ConvertToSuppliedSharesUp converts an amount to supplied shares, rounded up.
func (h *Hub) ConvertToSuppliedSharesUp(id AssetID, amount *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, false, amount, toSuppliedSharesUp)
}

// ConvertToSuppliedAssets converts supplied shares to an amount, rounded down.
func (h *Hub) ConvertToSuppliedAssets(id AssetID, shares *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, false, shares, toSuppliedAssetsDown)
}

// ConvertToSuppliedAssetsUp converts supplied shares to an amount, rounded up.
func (h *Hub) ConvertToSuppliedAssetsUp(id AssetID, shares *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, false, shares, toSuppliedAssetsUp)
}

// ConvertToDrawnShares converts an amount to drawn shares, rounded down.
func (h *Hub) ConvertToDrawnShares(id AssetID, amount *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, true, amount, toDrawnSharesDown)
}

// ConvertToDrawnSharesUp converts an amount to drawn shares, rounded up.
func (h *Hub) ConvertToDrawnSharesUp(id AssetID, amount *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, true, amount, toDrawnSharesUp)
}

// ConvertToDrawnAssets converts drawn shares to an amount, rounded down.
func (h *Hub) ConvertToDrawnAssets(id AssetID, shares *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, true, shares, toDrawnAssetsDown)
}

// ConvertToDrawnAssetsUp converts drawn shares to an amount, rounded up.
func (h *Hub) ConvertToDrawnAssetsUp(id AssetID, shares *uint256.Int) (*uint256.Int, error) {
	return h.convert(id, true, shares, toDrawnAssetsUp)
}

// GetAssetDebt returns the asset's base and premium debt.
func (h *Hub) GetAssetDebt(id AssetID) (*uint256.Int, *uint256.Int, error) {
	a, err := h.preview(id)
	if err != nil {
		return nil, nil, err
	}
	return a.baseDebt(), a.premiumDebt(), nil
}

// GetAssetTotalDebt returns the asset's base plus premium debt.
func (h *Hub) GetAssetTotalDebt(id AssetID) (*uint256.Int, error) {
	base, premium, err := h.GetAssetDebt(id)
	if err != nil {
		return nil, err
	}
	return base.Add(base, premium), nil
}

// GetSpokeDebt returns a spoke's base and premium debt on an asset.
func (h *Hub) GetSpokeDebt(id AssetID, spoke common.Address) (*uint256.Int, *uint256.Int, error) {
	view, err := h.Spoke(id, spoke)
	if err != nil {
		return nil, nil, err
	}
	return view.BaseDebt, view.PremiumDebt, nil
}

// GetSpokeTotalDebt returns a spoke's base plus premium debt on an asset.
func (h *Hub) GetSpokeTotalDebt(id AssetID, spoke common.Address) (*uint256.Int, error) {
	base, premium, err := h.GetSpokeDebt(id, spoke)
	if err != nil {
		return nil, err
	}
	return base.Add(base, premium), nil
}

// GetSpokeSuppliedAssets returns a spoke's supplied claim, rounded down.
func (h *Hub) GetSpokeSuppliedAssets(id AssetID, spoke common.Address) (*uint256.Int, error) {
	view, err := h.Spoke(id, spoke)
	if err != nil {
		return nil, err
	}
	return view.SuppliedAssets, nil
}

// GetSpokeSuppliedShares returns a spoke's supplied shares.
func (h *Hub) GetSpokeSuppliedShares(id AssetID, spoke common.Address) (*uint256.Int, error) {
	view, err := h.Spoke(id, spoke)
	if err != nil {
		return nil, err
	}
	return view.SuppliedShares, nil
}
