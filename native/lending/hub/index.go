package hub

import (
	"github.com/holiman/uint256"

	"lendhub/native/lending/wadray"
)

var secondsPerYear = uint256.NewInt(wadray.SecondsPerYear)

// linearInterest returns RAY + ceil(rate*elapsed/SECONDS_PER_YEAR).
func linearInterest(rate *uint256.Int, elapsed uint64) *uint256.Int {
	factor := wadray.Ray()
	if rate == nil || rate.IsZero() || elapsed == 0 {
		return factor
	}
	growth := wadray.MulDivUp(rate, uint256.NewInt(elapsed), secondsPerYear)
	return factor.Add(factor, growth)
}

func toSuppliedSharesDown(amount, index *uint256.Int) *uint256.Int {
	return wadray.RayDivDown(amount, index)
}

func toSuppliedSharesUp(amount, index *uint256.Int) *uint256.Int {
	return wadray.RayDivUp(amount, index)
}

func toSuppliedAssetsDown(shares, index *uint256.Int) *uint256.Int {
	return wadray.RayMulDown(shares, index)
}

func toSuppliedAssetsUp(shares, index *uint256.Int) *uint256.Int {
	return wadray.RayMulUp(shares, index)
}

func toDrawnSharesDown(amount, index *uint256.Int) *uint256.Int {
	return wadray.RayDivDown(amount, index)
}

func toDrawnSharesUp(amount, index *uint256.Int) *uint256.Int {
	return wadray.RayDivUp(amount, index)
}

func toDrawnAssetsDown(shares, index *uint256.Int) *uint256.Int {
	return wadray.RayMulDown(shares, index)
}

func toDrawnAssetsUp(shares, index *uint256.Int) *uint256.Int {
	return wadray.RayMulUp(shares, index)
}

// baseDebt is the asset-wide base debt, read rounded up.
func (a *asset) baseDebt() *uint256.Int {
	return toDrawnAssetsUp(a.baseDrawnShares, a.drawnIndex)
}

func (a *asset) premiumDebt() *uint256.Int {
	return a.premium.Debt(a.drawnIndex)
}

func (a *asset) totalDebt() *uint256.Int {
	return new(uint256.Int).Add(a.baseDebt(), a.premiumDebt())
}

// accrue moves both indices to now and skims the liquidity fee. It returns
// the supplied shares minted to the fee receiver. Calls at or before the last
// update are no-ops, and without base debt only the timestamp moves.
func (a *asset) accrue(now uint64) *uint256.Int {
	minted := new(uint256.Int)
	if now <= a.lastUpdate {
		return minted
	}
	elapsed := now - a.lastUpdate
	a.lastUpdate = now
	if a.baseDrawnShares.IsZero() {
		return minted
	}

	oldIndex := a.drawnIndex
	newIndex := wadray.RayMulUp(oldIndex, linearInterest(a.baseBorrowRate, elapsed))
	if newIndex.Eq(oldIndex) {
		return minted
	}

	interest := new(uint256.Int).Sub(
		toDrawnAssetsUp(a.baseDrawnShares, newIndex),
		toDrawnAssetsUp(a.baseDrawnShares, oldIndex),
	)
	interest.Add(interest, new(uint256.Int).Sub(
		toDrawnAssetsDown(a.premium.Shares, newIndex),
		toDrawnAssetsDown(a.premium.Shares, oldIndex),
	))
	a.drawnIndex = newIndex
	if interest.IsZero() {
		return minted
	}
	return a.skimFee(interest)
}

// skimFee splits freshly accrued interest between suppliers, through the
// supply index, and the fee receiver, through newly minted supplied shares.
// With no suppliers all interest goes to the fee receiver.
func (a *asset) skimFee(interest *uint256.Int) *uint256.Int {
	fee := new(uint256.Int).Set(interest)
	if !a.suppliedShares.IsZero() {
		fee = wadray.PercentMulUp(interest, uint64(a.config.LiquidityFee))
	}
	net := new(uint256.Int).Sub(interest, fee)
	if !net.IsZero() {
		increment := wadray.MulDivDown(net, wadray.Ray(), a.suppliedShares)
		a.supplyIndex = new(uint256.Int).Add(a.supplyIndex, increment)
	}
	minted := toSuppliedSharesDown(fee, a.supplyIndex)
	if minted.IsZero() {
		return minted
	}
	treasury, ok := a.spokes[a.config.FeeReceiver]
	if !ok {
		a.addSpoke(a.config.FeeReceiver, SpokeConfig{Active: true})
		treasury = a.spokes[a.config.FeeReceiver]
	}
	treasury.suppliedShares.Add(treasury.suppliedShares, minted)
	a.suppliedShares = new(uint256.Int).Add(a.suppliedShares, minted)
	return minted
}
