package spoke

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/oracle"
	"lendhub/native/lending/wadray"
)

type collateral struct {
	reserve ReserveID
	premium uint16
	value   *uint256.Int
}

type valuation struct {
	collateral      []collateral
	collateralValue *uint256.Int
	weighted        *uint256.Int
	debtValue       *uint256.Int
}

// value converts an asset amount of the reserve into base currency scaled
// by 1e18, failing rather than wrapping when the result exceeds 256 bits.
func (s *Spoke) value(r *Reserve, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	decimals := s.oracle.Decimals()
	if decimals > oracle.MaxDecimals {
		return nil, fmt.Errorf("%w: %d", oracle.ErrDecimalsTooLarge, decimals)
	}
	price, err := s.oracle.ReservePrice(uint32(r.ID))
	if err != nil {
		return nil, err
	}
	// amount * price * 1e18 / 10^(reserve+oracle decimals), as one rounding.
	var (
		v        *uint256.Int
		overflow bool
	)
	if shift := int(r.Decimals) + int(decimals) - 18; shift >= 0 {
		v, overflow = new(uint256.Int).MulDivOverflow(amount, price, wadray.Pow10(uint8(shift)))
	} else {
		v, overflow = new(uint256.Int).MulOverflow(amount, price)
		if !overflow {
			_, overflow = v.MulOverflow(v, wadray.Pow10(uint8(-shift)))
		}
	}
	if overflow {
		return nil, fmt.Errorf("reserve %d value: %w", r.ID, hub.ErrAmountOverflow)
	}
	return v, nil
}

// valuate prices every collateral and debt position of the user using the
// dynamic config each position has captured.
func (s *Spoke) valuate(u *userState) (valuation, error) {
	out := valuation{collateralValue: new(uint256.Int), weighted: new(uint256.Int), debtValue: new(uint256.Int)}
	for _, id := range u.sortedIDs() {
		pos := u.positions[id]
		r := s.reserves[id]
		if pos.hasDebt() {
			index, err := s.hub.DrawnIndex(r.AssetID)
			if err != nil {
				return valuation{}, err
			}
			debt := wadray.RayMulUp(pos.BaseDrawnShares, index)
			debt.Add(debt, pos.PremiumData().Debt(index))
			v, err := s.value(r, debt)
			if err != nil {
				return valuation{}, err
			}
			out.debtValue.Add(out.debtValue, v)
		}
		if !pos.UsingAsCollateral || pos.SuppliedShares.IsZero() {
			continue
		}
		dynamic, ok := r.DynamicConfig(pos.ConfigKey)
		if !ok {
			return valuation{}, fmt.Errorf("reserve %d key %d: %w", id, pos.ConfigKey, ErrDynamicConfigNotFound)
		}
		index, err := s.hub.SupplyIndex(r.AssetID)
		if err != nil {
			return valuation{}, err
		}
		v, err := s.value(r, wadray.RayMulDown(pos.SuppliedShares, index))
		if err != nil {
			return valuation{}, err
		}
		out.collateralValue.Add(out.collateralValue, v)
		out.weighted.Add(out.weighted, wadray.PercentMulDown(v, uint64(dynamic.CollateralFactor)))
		out.collateral = append(out.collateral, collateral{reserve: id, premium: dynamic.LiquidityPremium, value: v})
	}
	return out, nil
}

// riskPremium blends the liquidity premiums of the collateral needed to cover
// the user's debt, cheapest collateral first.
func (s *Spoke) riskPremium(u *userState) (uint64, error) {
	if !u.hasDebt() {
		return 0, nil
	}
	v, err := s.valuate(u)
	if err != nil {
		return 0, err
	}
	return v.riskPremium(), nil
}

func (v valuation) riskPremium() uint64 {
	if v.debtValue.IsZero() {
		return 0
	}
	sorted := slices.Clone(v.collateral)
	slices.SortStableFunc(sorted, func(a, b collateral) int {
		if c := cmp.Compare(a.premium, b.premium); c != 0 {
			return c
		}
		return cmp.Compare(a.reserve, b.reserve)
	})
	remaining := new(uint256.Int).Set(v.debtValue)
	acc := new(uint256.Int)
	utilized := new(uint256.Int)
	for _, c := range sorted {
		if remaining.IsZero() {
			break
		}
		used := wadray.Min(c.value, remaining)
		acc.Add(acc, new(uint256.Int).Mul(used, uint256.NewInt(uint64(c.premium))))
		utilized.Add(utilized, used)
		remaining.Sub(remaining, used)
	}
	if utilized.IsZero() {
		return 0
	}
	return acc.Div(acc, utilized).Uint64()
}

func (v valuation) healthFactor() *uint256.Int {
	if v.debtValue.IsZero() {
		return wadray.Max()
	}
	return wadray.MulDivDown(v.weighted, wadray.Wad(), v.debtValue)
}

// requireHealthy rejects the post-state when the user's health factor is
// below 1.
func (s *Spoke) requireHealthy(u *userState) error {
	if !u.hasDebt() {
		return nil
	}
	v, err := s.valuate(u)
	if err != nil {
		return err
	}
	if hf := v.healthFactor(); hf.Lt(wadray.Wad()) {
		return fmt.Errorf("%w: %s", ErrHealthFactorBelowThreshold, hf.Dec())
	}
	return nil
}
