package spoke

import (
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/wadray"
)

// settlePremium re-rates every debt position of the user at their current
// risk premium. Premium accrued under the previous rate is realized first so
// the re-rating never changes what is owed.
func (s *Spoke) settlePremium(user common.Address, u *userState) error {
	rp, err := s.riskPremium(u)
	if err != nil {
		return err
	}
	for _, id := range u.sortedIDs() {
		pos := u.positions[id]
		if pos.BaseDrawnShares.IsZero() {
			continue
		}
		target := wadray.PercentMulUp(pos.BaseDrawnShares, rp)
		if rp == u.riskPremium && target.Eq(pos.PremiumDrawnShares) {
			continue
		}
		r := s.reserves[id]
		index, err := s.hub.DrawnIndex(r.AssetID)
		if err != nil {
			return err
		}
		change := rerate(pos.PremiumData(), target, index)
		if err := s.hub.RefreshPremium(r.AssetID, s.address, change); err != nil {
			return err
		}
		s.applyPremium(r, pos, change)
	}
	if rp != u.riskPremium {
		s.logger.Debug("spoke risk premium updated", "spoke", s.address.Hex(), "user", user.Hex(),
			"previous_bps", u.riskPremium, "risk_premium_bps", rp)
	}
	u.riskPremium = rp
	return nil
}

// rerate crystallizes the premium accrued under old into Realized and starts
// a fresh baseline of shares at the current index.
func rerate(old hub.PremiumData, shares, index *uint256.Int) hub.PremiumChange {
	accrued := wadray.RayMulDown(old.Shares, index)
	realized := new(uint256.Int).Add(old.Realized, accrued)
	if realized.Lt(old.Offset) {
		realized.Clear()
	} else {
		realized.Sub(realized, old.Offset)
	}
	return hub.PremiumChange{
		Old: old,
		New: hub.PremiumData{
			Shares:   new(uint256.Int).Set(shares),
			Offset:   wadray.RayMulDown(shares, index),
			Realized: realized,
		},
	}
}

// applyPremium mirrors a premium change into the position and the reserve
// aggregate.
func (s *Spoke) applyPremium(r *Reserve, pos *UserPosition, change hub.PremiumChange) {
	agg := r.Premium
	r.Premium = hub.PremiumData{
		Shares:   swap(agg.Shares, change.Old.Shares, change.New.Shares),
		Offset:   swap(agg.Offset, change.Old.Offset, change.New.Offset),
		Realized: swap(agg.Realized, change.Old.Realized, change.New.Realized),
	}
	pos.setPremium(change.New)
}

func swap(total, old, next *uint256.Int) *uint256.Int {
	out := new(uint256.Int).Sub(cloneInt(total), cloneInt(old))
	return out.Add(out, cloneInt(next))
}

func (u *userState) sortedIDs() []ReserveID {
	ids := make([]ReserveID, 0, len(u.positions))
	for id := range u.positions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (u *userState) hasDebt() bool {
	for _, pos := range u.positions {
		if pos.hasDebt() {
			return true
		}
	}
	return false
}
