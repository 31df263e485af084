package hub

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/wadray"
)

// Supply credits amount to spoke and returns the supplied shares minted,
// rounded down.
func (h *Hub) Supply(id AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error) {
	a, s, err := h.prepare(id, spoke)
	if err != nil {
		return nil, err
	}
	if isZero(amount) {
		return nil, ErrInvalidSupplyAmount
	}
	shares := toSuppliedSharesDown(amount, a.supplyIndex)
	if shares.IsZero() {
		return nil, fmt.Errorf("%w: amount %s mints no shares", ErrInvalidSupplyAmount, amount.Dec())
	}
	if limit := a.config.SupplyCap; !isZero(limit) {
		total := new(uint256.Int).Add(a.suppliedShares, shares)
		if toSuppliedAssetsDown(total, a.supplyIndex).Cmp(limit) > 0 {
			return nil, SupplyCapExceeded(limit)
		}
	}
	if limit := s.config.SupplyCap; !isZero(limit) {
		total := new(uint256.Int).Add(s.suppliedShares, shares)
		if toSuppliedAssetsDown(total, a.supplyIndex).Cmp(limit) > 0 {
			return nil, SupplyCapExceeded(limit)
		}
	}
	liquidity, overflow := new(uint256.Int).AddOverflow(a.availableLiquidity, amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	a.availableLiquidity = liquidity
	a.suppliedShares.Add(a.suppliedShares, shares)
	s.suppliedShares.Add(s.suppliedShares, shares)
	h.commit(a)
	return shares, nil
}

// Withdraw releases amount of spoke's supplied claim and returns the shares
// burned, rounded up. MaxAmount withdraws the whole share balance.
func (h *Hub) Withdraw(id AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error) {
	a, s, err := h.prepare(id, spoke)
	if err != nil {
		return nil, err
	}
	withdrawn, shares, err := previewWithdraw(a, s, amount)
	if err != nil {
		return nil, err
	}
	if withdrawn.Cmp(a.availableLiquidity) > 0 {
		return nil, NotAvailableLiquidity(a.availableLiquidity)
	}
	a.availableLiquidity.Sub(a.availableLiquidity, withdrawn)
	a.suppliedShares.Sub(a.suppliedShares, shares)
	s.suppliedShares.Sub(s.suppliedShares, shares)
	h.commit(a)
	return shares, nil
}

// previewWithdraw resolves a withdrawal request into the asset amount and
// the shares it burns.
func previewWithdraw(a *asset, s *spokeState, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	claim := toSuppliedAssetsDown(s.suppliedShares, a.supplyIndex)
	if wadray.IsMax(amount) {
		if claim.IsZero() {
			return nil, nil, ErrInvalidWithdrawAmount
		}
		return claim, cloneInt(s.suppliedShares), nil
	}
	if isZero(amount) {
		return nil, nil, ErrInvalidWithdrawAmount
	}
	if amount.Cmp(claim) > 0 {
		return nil, nil, InsufficientSupply(claim)
	}
	shares := wadray.Min(toSuppliedSharesUp(amount, a.supplyIndex), s.suppliedShares)
	return cloneInt(amount), shares, nil
}

// Draw lends amount to spoke and returns the drawn shares minted, rounded up.
func (h *Hub) Draw(id AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error) {
	a, s, err := h.prepare(id, spoke)
	if err != nil {
		return nil, err
	}
	if isZero(amount) {
		return nil, ErrInvalidDrawAmount
	}
	if amount.Cmp(a.availableLiquidity) > 0 {
		return nil, NotAvailableLiquidity(a.availableLiquidity)
	}
	if limit := s.config.DrawCap; !isZero(limit) {
		drawn := new(uint256.Int).Add(toDrawnAssetsUp(s.baseDrawnShares, a.drawnIndex), amount)
		if drawn.Cmp(limit) > 0 {
			return nil, DrawCapExceeded(limit)
		}
	}
	shares := toDrawnSharesUp(amount, a.drawnIndex)
	a.availableLiquidity.Sub(a.availableLiquidity, amount)
	a.baseDrawnShares.Add(a.baseDrawnShares, shares)
	s.baseDrawnShares.Add(s.baseDrawnShares, shares)
	h.commit(a)
	return shares, nil
}

// Restore repays baseAmount of spoke's base debt and applies the premium
// change describing the premium paid alongside it. It returns the drawn
// shares burned, rounded down. MaxAmount repays the spoke's whole base debt;
// any base amount above the outstanding debt is not consumed.
func (h *Hub) Restore(id AssetID, spoke common.Address, baseAmount *uint256.Int, premium PremiumChange) (*uint256.Int, error) {
	a, s, err := h.prepare(id, spoke)
	if err != nil {
		return nil, err
	}
	oldPremium := premium.Old.Debt(a.drawnIndex)
	newPremium := premium.New.Debt(a.drawnIndex)
	if newPremium.Cmp(oldPremium) > 0 {
		return nil, fmt.Errorf("%w: restore increases premium debt", ErrInvalidPremiumChange)
	}
	premiumPaid := new(uint256.Int).Sub(oldPremium, newPremium)

	debt := toDrawnAssetsUp(s.baseDrawnShares, a.drawnIndex)
	consumed := new(uint256.Int)
	if !isZero(baseAmount) {
		consumed = wadray.Min(baseAmount, debt)
	}
	if consumed.IsZero() && premiumPaid.IsZero() {
		return nil, ErrInvalidRestoreAmount
	}
	shares := new(uint256.Int)
	if !consumed.IsZero() {
		shares = wadray.Min(toDrawnSharesDown(consumed, a.drawnIndex), s.baseDrawnShares)
	}
	if err := applyPremium(a, s, premium); err != nil {
		return nil, err
	}
	repaid := new(uint256.Int).Add(consumed, premiumPaid)
	liquidity, overflow := new(uint256.Int).AddOverflow(a.availableLiquidity, repaid)
	if overflow {
		return nil, ErrAmountOverflow
	}
	a.availableLiquidity = liquidity
	a.baseDrawnShares.Sub(a.baseDrawnShares, shares)
	s.baseDrawnShares.Sub(s.baseDrawnShares, shares)
	h.commit(a)
	return shares, nil
}

// RefreshPremium applies a premium re-rating that leaves the position's
// premium debt unchanged. Paused or inactive assets and spokes still accept
// it, so a re-rating triggered by an action on another reserve goes through.
func (h *Hub) RefreshPremium(id AssetID, spoke common.Address, premium PremiumChange) error {
	a, s, err := h.open(id, spoke, false)
	if err != nil {
		return err
	}
	if !premium.Old.Debt(a.drawnIndex).Eq(premium.New.Debt(a.drawnIndex)) {
		return fmt.Errorf("%w: refresh changes premium debt", ErrInvalidPremiumChange)
	}
	if err := applyPremium(a, s, premium); err != nil {
		return err
	}
	h.commit(a)
	return nil
}

// Accrue brings an asset's indices up to date.
func (h *Hub) Accrue(id AssetID) error {
	a, err := h.asset(id)
	if err != nil {
		return err
	}
	next := a.clone()
	next.accrue(h.now())
	h.commit(next)
	return nil
}

// applyPremium replaces Old with New inside the asset and spoke aggregates.
func applyPremium(a *asset, s *spokeState, change PremiumChange) error {
	old := change.Old.Clone()
	next := change.New.Clone()
	for _, agg := range []*PremiumData{&a.premium, &s.premium} {
		if agg.Shares.Lt(old.Shares) || agg.Offset.Lt(old.Offset) || agg.Realized.Lt(old.Realized) {
			return fmt.Errorf("%w: previous premium not held by spoke", ErrInvalidPremiumChange)
		}
	}
	for _, agg := range []*PremiumData{&a.premium, &s.premium} {
		agg.Shares = new(uint256.Int).Add(new(uint256.Int).Sub(agg.Shares, old.Shares), next.Shares)
		agg.Offset = new(uint256.Int).Add(new(uint256.Int).Sub(agg.Offset, old.Offset), next.Offset)
		agg.Realized = new(uint256.Int).Add(new(uint256.Int).Sub(agg.Realized, old.Realized), next.Realized)
	}
	return nil
}
