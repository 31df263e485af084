// Package rates provides the borrow-rate strategies consulted by the hub after
// every ledger mutation. All rates are annual and expressed in ray precision.
package rates

import (
	"github.com/holiman/uint256"

	"lendhub/native/lending/wadray"
)

// Params describes the asset state a strategy prices.
type Params struct {
	AssetID            uint32
	AvailableLiquidity *uint256.Int
	TotalDebt          *uint256.Int
}

// Strategy converts the asset's liquidity position into a base borrow rate.
type Strategy interface {
	BorrowRate(p Params) *uint256.Int
}

// Fixed charges a constant rate regardless of utilisation.
type Fixed struct {
	Rate *uint256.Int
}

// NewFixed builds a fixed strategy from a basis-point APR.
func NewFixed(bps uint64) Fixed {
	return Fixed{Rate: wadray.BpsToRay(bps)}
}

// NewFixedRay builds a fixed strategy from a ray APR.
func NewFixedRay(rate *uint256.Int) Fixed {
	return Fixed{Rate: new(uint256.Int).Set(rate)}
}

// BorrowRate implements Strategy.
func (f Fixed) BorrowRate(Params) *uint256.Int {
	if f.Rate == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(f.Rate)
}

// Curve is a kinked utilisation curve.
type Curve struct {
	// BaseRate is the APR applied when utilisation is zero.
	BaseRate *uint256.Int
	// Slope1 is the APR increase per unit of utilisation up to the kink.
	Slope1 *uint256.Int
	// Slope2 is the additional APR increase per unit of utilisation beyond
	// the kink.
	Slope2 *uint256.Int
	// Kink is the utilisation where the slope changes.
	Kink *uint256.Int
}

// NewCurve constructs a curve from basis-point inputs, e.g. a 2% base rate is
// 200 and an 80% kink is 8000.
func NewCurve(baseBps, slope1Bps, slope2Bps, kinkBps uint64) *Curve {
	return &Curve{
		BaseRate: wadray.BpsToRay(baseBps),
		Slope1:   wadray.BpsToRay(slope1Bps),
		Slope2:   wadray.BpsToRay(slope2Bps),
		Kink:     wadray.BpsToRay(kinkBps),
	}
}

// Clone returns a deep copy of the curve.
func (c *Curve) Clone() *Curve {
	if c == nil {
		return nil
	}
	return &Curve{
		BaseRate: cloneOrZero(c.BaseRate),
		Slope1:   cloneOrZero(c.Slope1),
		Slope2:   cloneOrZero(c.Slope2),
		Kink:     cloneOrZero(c.Kink),
	}
}

// Utilisation returns debt / (available + debt) in ray precision.
func Utilisation(available, debt *uint256.Int) *uint256.Int {
	if debt == nil || debt.IsZero() {
		return new(uint256.Int)
	}
	total := new(uint256.Int).Set(debt)
	if available != nil {
		total.Add(total, available)
	}
	return wadray.MulDivDown(debt, wadray.Ray(), total)
}

// BorrowRate implements Strategy.
func (c *Curve) BorrowRate(p Params) *uint256.Int {
	if c == nil {
		return new(uint256.Int)
	}
	rate := cloneOrZero(c.BaseRate)
	utilisation := Utilisation(p.AvailableLiquidity, p.TotalDebt)
	if utilisation.IsZero() {
		return rate
	}
	kink := cloneOrZero(c.Kink)
	if kink.IsZero() || utilisation.Cmp(kink) <= 0 {
		return rate.Add(rate, wadray.RayMulDown(cloneOrZero(c.Slope1), utilisation))
	}
	rate.Add(rate, wadray.RayMulDown(cloneOrZero(c.Slope1), kink))
	excess := new(uint256.Int).Sub(utilisation, kink)
	return rate.Add(rate, wadray.RayMulDown(cloneOrZero(c.Slope2), excess))
}

// SupplyRate derives the supplier APR from the borrow rate, utilisation and
// the liquidity fee in basis points.
func (c *Curve) SupplyRate(p Params, liquidityFeeBps uint64) *uint256.Int {
	borrow := c.BorrowRate(p)
	if borrow.IsZero() {
		return borrow
	}
	gross := wadray.RayMulDown(borrow, Utilisation(p.AvailableLiquidity, p.TotalDebt))
	if liquidityFeeBps >= wadray.PercentageFactor {
		return new(uint256.Int)
	}
	return wadray.PercentMulDown(gross, wadray.PercentageFactor-liquidityFeeBps)
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// DefaultCurve mirrors a conservative money-market curve: 2% base, 15% slope
// to an 80% kink, 60% slope beyond it.
var DefaultCurve = NewCurve(200, 1500, 6000, 8000)
