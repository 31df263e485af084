package spoke

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/wadray"
)

// Supply deposits amount of the reserve's asset for user and returns the
// supplied shares minted.
func (s *Spoke) Supply(id ReserveID, caller, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := s.authorizeFor(caller, user); err != nil {
		return nil, err
	}
	r, err := s.usableReserve(id, reserveCheck{notFrozen: true})
	if err != nil {
		return nil, err
	}
	var minted *uint256.Int
	err = s.atomically(user, "supply", func(u *userState) error {
		shares, err := s.hub.Supply(r.AssetID, s.address, amount)
		if err != nil {
			return err
		}
		pos := u.position(id)
		pos.SuppliedShares.Add(pos.SuppliedShares, shares)
		s.reserves[id].SuppliedShares.Add(s.reserves[id].SuppliedShares, shares)
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Withdraw returns up to the user's supplied balance. MaxAmount withdraws the
// whole balance. The health factor is checked after the withdrawal.
func (s *Spoke) Withdraw(id ReserveID, caller, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := s.authorizeFor(caller, user); err != nil {
		return nil, err
	}
	r, err := s.usableReserve(id, reserveCheck{})
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, hub.ErrInvalidWithdrawAmount
	}
	var withdrawn *uint256.Int
	err = s.atomically(user, "withdraw", func(u *userState) error {
		index, err := s.hub.SupplyIndex(r.AssetID)
		if err != nil {
			return err
		}
		pos := u.position(id)
		balance := wadray.RayMulDown(pos.SuppliedShares, index)
		requested := amount
		if wadray.IsMax(amount) {
			requested = balance
		}
		if requested.IsZero() || requested.Gt(balance) {
			return hub.InsufficientSupply(balance)
		}
		burned, err := s.hub.Withdraw(r.AssetID, s.address, requested)
		if err != nil {
			return err
		}
		if burned.Gt(pos.SuppliedShares) {
			return hub.InsufficientSupply(balance)
		}
		pos.SuppliedShares.Sub(pos.SuppliedShares, burned)
		s.reserves[id].SuppliedShares.Sub(s.reserves[id].SuppliedShares, burned)
		withdrawn = new(uint256.Int).Set(requested)
		s.refreshConfigKeys(u)
		if err := s.settlePremium(user, u); err != nil {
			return err
		}
		return s.requireHealthy(u)
	})
	if err != nil {
		return nil, err
	}
	return withdrawn, nil
}

// Borrow draws amount from the hub against the user's collateral and returns
// the base drawn shares minted.
func (s *Spoke) Borrow(id ReserveID, caller, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := s.authorizeFor(caller, user); err != nil {
		return nil, err
	}
	r, err := s.usableReserve(id, reserveCheck{notFrozen: true, borrowable: true})
	if err != nil {
		return nil, err
	}
	var minted *uint256.Int
	err = s.atomically(user, "borrow", func(u *userState) error {
		shares, err := s.hub.Draw(r.AssetID, s.address, amount)
		if err != nil {
			return err
		}
		pos := u.position(id)
		pos.BaseDrawnShares.Add(pos.BaseDrawnShares, shares)
		s.reserves[id].BaseDrawnShares.Add(s.reserves[id].BaseDrawnShares, shares)
		minted = shares
		s.refreshConfigKeys(u)
		if err := s.settlePremium(user, u); err != nil {
			return err
		}
		return s.requireHealthy(u)
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Repay pays down the user's debt in the reserve, premium first, and returns
// the amount charged. Any amount at or above the total debt, MaxAmount
// included, charges exactly the total debt and clears the position.
func (s *Spoke) Repay(id ReserveID, caller, user common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if err := s.authorizeFor(caller, user); err != nil {
		return nil, err
	}
	r, err := s.usableReserve(id, reserveCheck{})
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() {
		return nil, hub.ErrInvalidRestoreAmount
	}
	var paid *uint256.Int
	err = s.atomically(user, "repay", func(u *userState) error {
		index, err := s.hub.DrawnIndex(r.AssetID)
		if err != nil {
			return err
		}
		pos := u.position(id)
		old := pos.PremiumData()
		baseDebt := wadray.RayMulUp(pos.BaseDrawnShares, index)
		premiumDebt := old.Debt(index)
		total := new(uint256.Int).Add(baseDebt, premiumDebt)
		if total.IsZero() {
			return hub.ErrInvalidRestoreAmount
		}
		pay := wadray.Min(amount, total)
		premiumPaid := wadray.Min(pay, premiumDebt)
		basePaid := new(uint256.Int).Sub(pay, premiumPaid)

		next := hub.NewPremiumData()
		if !basePaid.Eq(baseDebt) {
			next = hub.PremiumData{
				Shares:   cloneInt(old.Shares),
				Offset:   wadray.RayMulDown(old.Shares, index),
				Realized: new(uint256.Int).Sub(premiumDebt, premiumPaid),
			}
		}
		change := hub.PremiumChange{Old: old, New: next}
		burned, err := s.hub.Restore(r.AssetID, s.address, basePaid, change)
		if err != nil {
			return err
		}
		if burned.Gt(pos.BaseDrawnShares) {
			return fmt.Errorf("%w: burned %s of %s shares", hub.ErrInvalidRestoreAmount, burned, pos.BaseDrawnShares)
		}
		pos.BaseDrawnShares.Sub(pos.BaseDrawnShares, burned)
		s.reserves[id].BaseDrawnShares.Sub(s.reserves[id].BaseDrawnShares, burned)
		s.applyPremium(s.reserves[id], pos, hub.PremiumChange{Old: old, New: next})
		paid = pay
		return s.settlePremium(user, u)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// SetUsingAsCollateral toggles whether the user's supply in the reserve backs
// their debt. Enabling captures the reserve's current dynamic config;
// disabling is subject to the health factor check.
func (s *Spoke) SetUsingAsCollateral(id ReserveID, caller, user common.Address, enabled bool) error {
	if err := s.authorizeFor(caller, user); err != nil {
		return err
	}
	check := reserveCheck{}
	if enabled {
		check.notFrozen = true
	}
	r, err := s.usableReserve(id, check)
	if err != nil {
		return err
	}
	if enabled && !r.Config.Collateral {
		return fmt.Errorf("reserve %d: %w", id, ErrReserveNotCollateral)
	}
	return s.atomically(user, "collateral", func(u *userState) error {
		pos := u.position(id)
		if pos.UsingAsCollateral == enabled {
			return nil
		}
		pos.UsingAsCollateral = enabled
		if enabled {
			pos.ConfigKey = s.reserves[id].DynamicConfigKey
			return s.settlePremium(user, u)
		}
		s.refreshConfigKeys(u)
		if err := s.settlePremium(user, u); err != nil {
			return err
		}
		return s.requireHealthy(u)
	})
}

// UpdateUserRiskPremium re-rates the user's premium debt at their current
// risk premium.
func (s *Spoke) UpdateUserRiskPremium(caller, user common.Address) error {
	if err := s.authorizeFor(caller, user); err != nil {
		return err
	}
	return s.atomically(user, "refresh_risk_premium", func(u *userState) error {
		return s.settlePremium(user, u)
	})
}

// UpdateUserDynamicConfig moves every position of the user onto the latest
// dynamic config of its reserve and re-rates the premium accordingly.
func (s *Spoke) UpdateUserDynamicConfig(caller, user common.Address) error {
	if err := s.authorizeFor(caller, user); err != nil {
		return err
	}
	return s.atomically(user, "refresh_dynamic_config", func(u *userState) error {
		s.refreshConfigKeys(u)
		if err := s.settlePremium(user, u); err != nil {
			return err
		}
		return s.requireHealthy(u)
	})
}

func (s *Spoke) refreshConfigKeys(u *userState) {
	for id, pos := range u.positions {
		pos.ConfigKey = s.reserves[id].DynamicConfigKey
	}
}
