package spoke

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	nativecommon "lendhub/native/common"
	"lendhub/native/lending/hub"
	"lendhub/native/lending/oracle"
	"lendhub/native/lending/rates"
	"lendhub/native/lending/wadray"
)

const year = 365 * 24 * time.Hour

var (
	admin     = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	treasury  = common.HexToAddress("0x000000000000000000000000000000000000007e")
	spokeAddr = common.HexToAddress("0x00000000000000000000000000000000000005a0")
	alice     = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	bob       = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000ca201")
)

const (
	dai  ReserveID = 0
	weth ReserveID = 1
	usdc ReserveID = 2
)

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type market struct {
	hub    *hub.Hub
	spoke  *Spoke
	clock  fakeClock
	prices *oracle.Static
}

func units(n uint64, decimals uint8) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), wadray.Pow10(decimals))
}

func dec(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	require.NoError(t, err)
	return v
}

// newMarket lists DAI, WETH and USDC on a hub accruing 50% a year with no
// liquidity fee, and on one spoke with liquidity premiums of 15%, 5% and 10%.
func newMarket(t *testing.T, opts ...Option) *market {
	t.Helper()
	clock := clockwork.NewFakeClock()
	h := hub.New(hub.WithClock(clock))
	prices := oracle.NewStatic(8)
	s := New(spokeAddr, h, prices, opts...)

	listings := []struct {
		symbol   string
		decimals uint8
		price    uint64
		dynamic  DynamicReserveConfig
	}{
		{"DAI", 18, 1, DynamicReserveConfig{CollateralFactor: 8000, LiquidityPremium: 1500}},
		{"WETH", 18, 2000, DynamicReserveConfig{CollateralFactor: 8000, LiquidityPremium: 500}},
		{"USDC", 6, 1, DynamicReserveConfig{CollateralFactor: 9000, LiquidityPremium: 1000}},
	}
	for _, l := range listings {
		assetID, err := h.AddAsset(admin, hub.AssetConfig{
			Symbol:      l.symbol,
			Decimals:    l.decimals,
			Active:      true,
			FeeReceiver: treasury,
		}, rates.NewFixed(5000))
		require.NoError(t, err)
		require.NoError(t, h.AddSpoke(admin, assetID, spokeAddr, hub.SpokeConfig{Active: true}))
		id, err := s.AddReserve(admin, assetID, ReserveConfig{
			Active:           true,
			Borrowable:       true,
			Collateral:       true,
			LiquidationBonus: 10500,
			LiquidationFee:   1000,
		}, l.dynamic)
		require.NoError(t, err)
		require.NoError(t, prices.SetPrice(uint32(id), units(l.price, 8)))
	}
	return &market{hub: h, spoke: s, clock: clock, prices: prices}
}

func (m *market) supply(t *testing.T, id ReserveID, user common.Address, amount *uint256.Int, collateral bool) {
	t.Helper()
	_, err := m.spoke.Supply(id, user, user, amount)
	require.NoError(t, err)
	if collateral {
		require.NoError(t, m.spoke.SetUsingAsCollateral(id, user, user, true))
	}
}

func (m *market) totalDebt(t *testing.T, id ReserveID, user common.Address) string {
	t.Helper()
	debt, err := m.spoke.GetUserTotalDebt(id, user)
	require.NoError(t, err)
	return debt.Dec()
}

func TestSupplyBorrowRepaySameBlock(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(100, 18), false)
	m.supply(t, weth, bob, units(1, 18), true)

	_, err := m.spoke.Borrow(dai, bob, bob, units(50, 18))
	require.NoError(t, err)
	require.Equal(t, units(50, 18).Dec(), m.totalDebt(t, dai, bob))

	paid, err := m.spoke.Repay(dai, bob, bob, units(25, 18))
	require.NoError(t, err)
	require.Equal(t, units(25, 18).Dec(), paid.Dec())
	require.Equal(t, units(25, 18).Dec(), m.totalDebt(t, dai, bob))

	supplied, err := m.spoke.GetUserSuppliedAssets(dai, alice)
	require.NoError(t, err)
	require.Equal(t, units(100, 18).Dec(), supplied.Dec())

	view, err := m.hub.Asset(hub.AssetID(dai))
	require.NoError(t, err)
	require.Equal(t, units(75, 18).Dec(), view.AvailableLiquidity.Dec())
}

func TestBaseAndPremiumDebtAfterOneYear(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)

	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)
	require.Equal(t, uint64(1000), m.spoke.GetUserLastRiskPremium(bob))

	pos, err := m.spoke.GetUserPosition(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(10, 18).Dec(), pos.PremiumDrawnShares.Dec())
	require.Equal(t, units(10, 18).Dec(), pos.PremiumOffset.Dec())

	m.clock.Advance(year)

	base, premium, err := m.spoke.GetUserDebt(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(150, 18).Dec(), base.Dec())
	// 10e18 premium shares grow to 15e18 against a 10e18 offset.
	require.Equal(t, units(5, 18).Dec(), premium.Dec())

	reserveBase, reservePremium, err := m.spoke.GetReserveDebt(dai)
	require.NoError(t, err)
	require.Equal(t, base.Dec(), reserveBase.Dec())
	require.Equal(t, premium.Dec(), reservePremium.Dec())

	hubDebt, err := m.hub.GetSpokeTotalDebt(hub.AssetID(dai), spokeAddr)
	require.NoError(t, err)
	require.Equal(t, units(155, 18).Dec(), hubDebt.Dec())

	supplied, err := m.spoke.GetUserSuppliedAssets(dai, alice)
	require.NoError(t, err)
	require.Equal(t, units(1055, 18).Dec(), supplied.Dec())
}

func TestFullRepayClearsPosition(t *testing.T) {
	for name, amount := range map[string]*uint256.Int{
		"max":      hub.MaxAmount(),
		"overpaid": units(1000, 18),
	} {
		t.Run(name, func(t *testing.T) {
			m := newMarket(t)
			m.supply(t, dai, alice, units(1000, 18), false)
			m.supply(t, usdc, bob, units(1000, 6), true)
			_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
			require.NoError(t, err)
			m.clock.Advance(year)

			owed := m.totalDebt(t, dai, bob)
			require.Equal(t, units(155, 18).Dec(), owed)

			paid, err := m.spoke.Repay(dai, bob, bob, amount)
			require.NoError(t, err)
			require.Equal(t, owed, paid.Dec())

			pos, err := m.spoke.GetUserPosition(dai, bob)
			require.NoError(t, err)
			require.True(t, pos.BaseDrawnShares.IsZero())
			require.True(t, pos.PremiumDrawnShares.IsZero())
			require.True(t, pos.PremiumOffset.IsZero())
			require.True(t, pos.RealizedPremium.IsZero())
			require.Equal(t, "0", m.totalDebt(t, dai, bob))
			require.Zero(t, m.spoke.GetUserLastRiskPremium(bob))

			view, err := m.hub.Spoke(hub.AssetID(dai), spokeAddr)
			require.NoError(t, err)
			require.True(t, view.BaseDrawnShares.IsZero())
			require.True(t, view.Premium.IsZero())

			_, err = m.spoke.Repay(dai, bob, bob, hub.MaxAmount())
			require.ErrorIs(t, err, hub.ErrInvalidRestoreAmount)
		})
	}
}

func TestRepayAppliesPremiumFirst(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)
	m.clock.Advance(year)

	paid, err := m.spoke.Repay(dai, bob, bob, units(2, 18))
	require.NoError(t, err)
	require.Equal(t, units(2, 18).Dec(), paid.Dec())

	base, premium, err := m.spoke.GetUserDebt(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(150, 18).Dec(), base.Dec())
	require.Equal(t, units(3, 18).Dec(), premium.Dec())

	paid, err = m.spoke.Repay(dai, bob, bob, units(63, 18))
	require.NoError(t, err)
	require.Equal(t, units(63, 18).Dec(), paid.Dec())

	base, premium, err = m.spoke.GetUserDebt(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(90, 18).Dec(), base.Dec())
	require.Equal(t, "0", premium.Dec())
}

func TestRiskPremiumSingleCollateral(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(5000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)

	rp, err := m.spoke.GetUserRiskPremium(bob)
	require.NoError(t, err)
	require.Zero(t, rp)

	_, err = m.spoke.Borrow(dai, bob, bob, units(300, 18))
	require.NoError(t, err)
	rp, err = m.spoke.GetUserRiskPremium(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rp)
}

func TestRiskPremiumCoveringCollateral(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(5000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	m.supply(t, weth, bob, units(1, 18), true)

	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)
	rp, err := m.spoke.GetUserRiskPremium(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(500), rp)

	// 2000 of WETH at 5% then 400 of USDC at 10%.
	_, err = m.spoke.Borrow(dai, bob, bob, units(2300, 18))
	require.NoError(t, err)
	rp, err = m.spoke.GetUserRiskPremium(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(583), rp)
	require.Equal(t, uint64(583), m.spoke.GetUserLastRiskPremium(bob))

	pos, err := m.spoke.GetUserPosition(dai, bob)
	require.NoError(t, err)
	require.Equal(t, wadray.PercentMulUp(units(2400, 18), 583).Dec(), pos.PremiumDrawnShares.Dec())
}

func TestRiskPremiumBlend(t *testing.T) {
	value := func(n uint64) *uint256.Int { return units(n, 18) }
	tests := []struct {
		name string
		v    valuation
		want uint64
	}{
		{
			name: "no debt",
			v:    valuation{collateral: []collateral{{reserve: 0, premium: 1000, value: value(10)}}, debtValue: new(uint256.Int)},
			want: 0,
		},
		{
			name: "debt without collateral",
			v:    valuation{debtValue: value(10)},
			want: 0,
		},
		{
			name: "under collateralised uses all collateral",
			v: valuation{collateral: []collateral{
				{reserve: 0, premium: 2000, value: value(50)},
				{reserve: 1, premium: 1000, value: value(100)},
			}, debtValue: value(1000)},
			want: 1333,
		},
		{
			name: "excess collateral does not dilute",
			v: valuation{collateral: []collateral{
				{reserve: 0, premium: 3000, value: value(1000)},
				{reserve: 1, premium: 100, value: value(40)},
			}, debtValue: value(50)},
			want: (40*100 + 10*3000) / 50,
		},
		{
			name: "ties by reserve id",
			v: valuation{collateral: []collateral{
				{reserve: 2, premium: 700, value: value(30)},
				{reserve: 1, premium: 700, value: value(30)},
			}, debtValue: value(40)},
			want: 700,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.v.riskPremium())
		})
	}
}

func TestRiskPremiumChangeRealizesAccruedPremium(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)
	m.clock.Advance(year)

	// WETH alone covers the debt at 5%.
	m.supply(t, weth, bob, units(1, 18), true)
	require.Equal(t, uint64(500), m.spoke.GetUserLastRiskPremium(bob))

	pos, err := m.spoke.GetUserPosition(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(5, 18).Dec(), pos.RealizedPremium.Dec())
	require.Equal(t, units(5, 18).Dec(), pos.PremiumDrawnShares.Dec())
	require.Equal(t, dec(t, "7500000000000000000").Dec(), pos.PremiumOffset.Dec())

	m.clock.Advance(year)
	base, premium, err := m.spoke.GetUserDebt(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(225, 18).Dec(), base.Dec())
	require.Equal(t, dec(t, "8750000000000000000").Dec(), premium.Dec())
}

func TestHealthFactorGuardsWithdrawAndBorrow(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(2000, 18), false)
	m.supply(t, weth, bob, units(1, 18), true)

	_, err := m.spoke.Borrow(dai, bob, bob, units(1601, 18))
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)

	_, err = m.spoke.Borrow(dai, bob, bob, units(1500, 18))
	require.NoError(t, err)

	data, err := m.spoke.GetUserAccountData(bob)
	require.NoError(t, err)
	require.Equal(t, units(2000, 18).Dec(), data.TotalCollateralValue.Dec())
	require.Equal(t, units(1500, 18).Dec(), data.TotalDebtValue.Dec())
	require.False(t, data.HealthFactor.Lt(wadray.Wad()))
	require.Equal(t, 1, data.ActiveCollaterals)
	require.Equal(t, uint64(500), data.RiskPremium)

	require.NoError(t, m.prices.SetPrice(uint32(weth), units(1800, 8)))
	before, err := m.spoke.GetUserSuppliedShares(weth, bob)
	require.NoError(t, err)

	_, err = m.spoke.Withdraw(weth, bob, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)
	err = m.spoke.SetUsingAsCollateral(weth, bob, bob, false)
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)

	after, err := m.spoke.GetUserSuppliedShares(weth, bob)
	require.NoError(t, err)
	require.Equal(t, before.Dec(), after.Dec())
	hubShares, err := m.hub.GetSpokeSuppliedShares(hub.AssetID(weth), spokeAddr)
	require.NoError(t, err)
	require.Equal(t, before.Dec(), hubShares.Dec())
}

func TestFailedActionRollsBack(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(2000, 18), false)

	before, err := m.hub.Asset(hub.AssetID(dai))
	require.NoError(t, err)

	// carol has no collateral so the draw is undone after the health check.
	_, err = m.spoke.Borrow(dai, carol, carol, units(10, 18))
	require.ErrorIs(t, err, ErrHealthFactorBelowThreshold)

	after, err := m.hub.Asset(hub.AssetID(dai))
	require.NoError(t, err)
	require.Equal(t, before.AvailableLiquidity.Dec(), after.AvailableLiquidity.Dec())
	require.Equal(t, before.BaseDrawnShares.Dec(), after.BaseDrawnShares.Dec())
	require.Equal(t, []common.Address{alice}, m.spoke.Users())

	r, err := m.spoke.Reserve(dai)
	require.NoError(t, err)
	require.True(t, r.BaseDrawnShares.IsZero())
	require.True(t, r.Premium.IsZero())
}

func TestDebtConservation(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(50_000, 18), false)
	borrowers := []struct {
		user   common.Address
		amount string
	}{
		{bob, "1234567890123456789012"},
		{carol, "777777777777777777777"},
		{common.HexToAddress("0x0000000000000000000000000000000000000d0d"), "3141592653589793238462"},
	}
	for _, b := range borrowers {
		m.supply(t, usdc, b.user, units(10_000, 6), true)
		_, err := m.spoke.Borrow(dai, b.user, b.user, dec(t, b.amount))
		require.NoError(t, err)
	}
	m.clock.Advance(37 * 24 * time.Hour)
	_, err := m.spoke.Repay(dai, carol, carol, dec(t, "123456789123456789"))
	require.NoError(t, err)
	m.clock.Advance(101 * 24 * time.Hour)

	sumBase, sumPremium := new(uint256.Int), new(uint256.Int)
	for _, b := range borrowers {
		base, premium, err := m.spoke.GetUserDebt(dai, b.user)
		require.NoError(t, err)
		sumBase.Add(sumBase, base)
		sumPremium.Add(sumPremium, premium)
	}
	reserveBase, reservePremium, err := m.spoke.GetReserveDebt(dai)
	require.NoError(t, err)
	requireWithin(t, sumBase, reserveBase, uint64(len(borrowers)))
	requireWithin(t, sumPremium, reservePremium, uint64(len(borrowers)))

	hubBase, hubPremium, err := m.hub.GetSpokeDebt(hub.AssetID(dai), spokeAddr)
	require.NoError(t, err)
	require.Equal(t, reserveBase.Dec(), hubBase.Dec())
	require.Equal(t, reservePremium.Dec(), hubPremium.Dec())

	assetBase, assetPremium, err := m.hub.GetAssetDebt(hub.AssetID(dai))
	require.NoError(t, err)
	require.Equal(t, hubBase.Dec(), assetBase.Dec())
	require.Equal(t, hubPremium.Dec(), assetPremium.Dec())
}

func TestDebtConservationAcrossSpokes(t *testing.T) {
	m := newMarket(t)
	spokeB := common.HexToAddress("0x00000000000000000000000000000000000005b0")
	dave := common.HexToAddress("0x0000000000000000000000000000000000000d0d")
	pricesB := oracle.NewStatic(8)
	other := New(spokeB, m.hub, pricesB)
	for _, listing := range []struct {
		asset   hub.AssetID
		premium uint16
	}{{hub.AssetID(dai), 1500}, {hub.AssetID(usdc), 2000}} {
		require.NoError(t, m.hub.AddSpoke(admin, listing.asset, spokeB, hub.SpokeConfig{Active: true}))
		id, err := other.AddReserve(admin, listing.asset, ReserveConfig{
			Active:           true,
			Borrowable:       true,
			Collateral:       true,
			LiquidationBonus: 10500,
		}, DynamicReserveConfig{CollateralFactor: 9000, LiquidityPremium: listing.premium})
		require.NoError(t, err)
		require.NoError(t, pricesB.SetPrice(uint32(id), units(1, 8)))
	}
	const daiB, usdcB ReserveID = 0, 1

	m.supply(t, dai, alice, units(50_000, 18), false)
	m.supply(t, usdc, bob, units(10_000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, dec(t, "1234567890123456789012"))
	require.NoError(t, err)
	_, err = other.Supply(usdcB, dave, dave, units(10_000, 6))
	require.NoError(t, err)
	require.NoError(t, other.SetUsingAsCollateral(usdcB, dave, dave, true))
	_, err = other.Borrow(daiB, dave, dave, dec(t, "2718281828459045235360"))
	require.NoError(t, err)

	m.clock.Advance(37 * 24 * time.Hour)
	_, err = other.Repay(daiB, dave, dave, dec(t, "314159265358979323846"))
	require.NoError(t, err)
	m.clock.Advance(101 * 24 * time.Hour)

	sumBase, sumPremium := new(uint256.Int), new(uint256.Int)
	for _, reserve := range []struct {
		spoke *Spoke
		id    ReserveID
	}{{m.spoke, dai}, {other, daiB}} {
		base, premium, err := reserve.spoke.GetReserveDebt(reserve.id)
		require.NoError(t, err)
		require.False(t, premium.IsZero())

		hubBase, hubPremium, err := m.hub.GetSpokeDebt(hub.AssetID(dai), reserve.spoke.Address())
		require.NoError(t, err)
		require.Equal(t, base.Dec(), hubBase.Dec())
		require.Equal(t, premium.Dec(), hubPremium.Dec())

		sumBase.Add(sumBase, base)
		sumPremium.Add(sumPremium, premium)
	}

	assetBase, assetPremium, err := m.hub.GetAssetDebt(hub.AssetID(dai))
	require.NoError(t, err)
	requireWithin(t, sumBase, assetBase, 2)
	requireWithin(t, sumPremium, assetPremium, 2)
}

func TestValuationOverflowFails(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(2000, 18), false)
	m.supply(t, weth, carol, uint256.NewInt(1000), true)
	m.supply(t, weth, bob, units(1, 18), true)
	require.NoError(t, m.prices.SetPrice(uint32(weth), units(1, 60)))

	// 1000 wei at 1e60 (8 decimals) is 1e55 base units; price*1e18 alone would not fit.
	data, err := m.spoke.GetUserAccountData(carol)
	require.NoError(t, err)
	require.Equal(t, units(1, 55).Dec(), data.TotalCollateralValue.Dec())

	_, err = m.spoke.GetUserAccountData(bob)
	require.ErrorIs(t, err, hub.ErrAmountOverflow)
	_, err = m.spoke.Borrow(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, hub.ErrAmountOverflow)
	debt, err := m.spoke.GetUserTotalDebt(dai, bob)
	require.NoError(t, err)
	require.True(t, debt.IsZero())
}

func TestPausedAssetDoesNotBlockOtherRepay(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(10_000, 18), false)
	m.supply(t, usdc, alice, units(10_000, 6), false)
	m.supply(t, weth, bob, units(1, 18), true)
	m.supply(t, usdc, bob, units(2000, 6), true)

	_, err := m.spoke.Borrow(dai, bob, bob, units(1500, 18))
	require.NoError(t, err)
	_, err = m.spoke.Borrow(usdc, bob, bob, units(1000, 6))
	require.NoError(t, err)
	data, err := m.spoke.GetUserAccountData(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(600), data.RiskPremium)
	require.Equal(t, uint64(600), m.spoke.GetUserLastRiskPremium(bob))

	cfg, err := m.hub.AssetConfig(hub.AssetID(dai))
	require.NoError(t, err)
	cfg.Paused = true
	require.NoError(t, m.hub.UpdateAssetConfig(admin, hub.AssetID(dai), cfg))

	// The repay lowers the blended premium, which re-rates the paused DAI debt.
	_, err = m.spoke.Repay(usdc, bob, bob, units(1000, 6))
	require.NoError(t, err)
	data, err = m.spoke.GetUserAccountData(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(500), data.RiskPremium)
	require.Equal(t, "0", m.totalDebt(t, usdc, bob))

	require.Equal(t, uint64(500), m.spoke.GetUserLastRiskPremium(bob))
	pos, err := m.spoke.GetUserPosition(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(75, 18).Dec(), pos.PremiumDrawnShares.Dec())

	_, err = m.spoke.Repay(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, hub.ErrAssetPaused)
}

func requireWithin(t *testing.T, a, b *uint256.Int, tolerance uint64) {
	t.Helper()
	diff := new(uint256.Int)
	if a.Gt(b) {
		diff.Sub(a, b)
	} else {
		diff.Sub(b, a)
	}
	require.Truef(t, diff.Cmp(uint256.NewInt(tolerance)) <= 0, "%s and %s differ by %s", a.Dec(), b.Dec(), diff.Dec())
}

func TestWithdrawMaxAfterInterest(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(333, 18))
	require.NoError(t, err)
	m.clock.Advance(45 * 24 * time.Hour)
	_, err = m.spoke.Repay(dai, bob, bob, hub.MaxAmount())
	require.NoError(t, err)

	balance, err := m.spoke.GetUserSuppliedAssets(dai, alice)
	require.NoError(t, err)
	_, err = m.spoke.Withdraw(dai, alice, alice, new(uint256.Int).AddUint64(balance, 1))
	require.ErrorIs(t, err, hub.ErrInsufficientSupply)
	limit, ok := hub.Limit(err)
	require.True(t, ok)
	require.Equal(t, balance.Dec(), limit.Dec())

	withdrawn, err := m.spoke.Withdraw(dai, alice, alice, hub.MaxAmount())
	require.NoError(t, err)
	require.Equal(t, balance.Dec(), withdrawn.Dec())
	shares, err := m.spoke.GetUserSuppliedShares(dai, alice)
	require.NoError(t, err)
	require.True(t, shares.IsZero())
}

func TestReserveStateChecks(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(10, 18))
	require.NoError(t, err)

	base := ReserveConfig{Active: true, Borrowable: true, Collateral: true, LiquidationBonus: 10500}

	frozen := base
	frozen.Frozen = true
	require.NoError(t, m.spoke.UpdateReserveConfig(admin, dai, frozen))
	_, err = m.spoke.Supply(dai, alice, alice, units(1, 18))
	require.ErrorIs(t, err, ErrReserveFrozen)
	_, err = m.spoke.Borrow(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, ErrReserveFrozen)
	_, err = m.spoke.Repay(dai, bob, bob, units(1, 18))
	require.NoError(t, err)
	_, err = m.spoke.Withdraw(dai, alice, alice, units(1, 18))
	require.NoError(t, err)

	paused := base
	paused.Paused = true
	require.NoError(t, m.spoke.UpdateReserveConfig(admin, dai, paused))
	_, err = m.spoke.Repay(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, ErrReservePaused)

	inactive := base
	inactive.Active = false
	require.NoError(t, m.spoke.UpdateReserveConfig(admin, dai, inactive))
	_, err = m.spoke.Withdraw(dai, alice, alice, units(1, 18))
	require.ErrorIs(t, err, ErrReserveNotActive)

	noBorrow := base
	noBorrow.Borrowable = false
	require.NoError(t, m.spoke.UpdateReserveConfig(admin, dai, noBorrow))
	_, err = m.spoke.Borrow(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, ErrReserveNotBorrowable)

	noCollateral := base
	noCollateral.Collateral = false
	require.NoError(t, m.spoke.UpdateReserveConfig(admin, weth, noCollateral))
	require.ErrorIs(t, m.spoke.SetUsingAsCollateral(weth, bob, bob, true), ErrReserveNotCollateral)

	_, err = m.spoke.Supply(ReserveID(9), alice, alice, units(1, 18))
	require.ErrorIs(t, err, ErrReserveNotListed)
}

func TestInvalidAmounts(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)

	_, err := m.spoke.Supply(dai, alice, alice, new(uint256.Int))
	require.ErrorIs(t, err, hub.ErrInvalidSupplyAmount)
	_, err = m.spoke.Withdraw(dai, alice, alice, new(uint256.Int))
	require.ErrorIs(t, err, hub.ErrInvalidWithdrawAmount)
	_, err = m.spoke.Borrow(dai, bob, bob, new(uint256.Int))
	require.ErrorIs(t, err, hub.ErrInvalidDrawAmount)
	_, err = m.spoke.Repay(dai, bob, bob, units(1, 18))
	require.ErrorIs(t, err, hub.ErrInvalidRestoreAmount)
	_, err = m.spoke.Repay(dai, bob, bob, new(uint256.Int))
	require.ErrorIs(t, err, hub.ErrInvalidRestoreAmount)
}

func TestDynamicConfigVersions(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)

	key, err := m.spoke.AddDynamicReserveConfig(admin, usdc, DynamicReserveConfig{CollateralFactor: 9000, LiquidityPremium: 2000})
	require.NoError(t, err)
	require.Equal(t, uint16(1), key)

	pos, err := m.spoke.GetUserPosition(usdc, bob)
	require.NoError(t, err)
	require.Equal(t, uint16(0), pos.ConfigKey)
	rp, err := m.spoke.GetUserRiskPremium(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rp)

	require.NoError(t, m.spoke.UpdateUserDynamicConfig(bob, bob))
	pos, err = m.spoke.GetUserPosition(usdc, bob)
	require.NoError(t, err)
	require.Equal(t, uint16(1), pos.ConfigKey)
	require.Equal(t, uint64(2000), m.spoke.GetUserLastRiskPremium(bob))

	require.NoError(t, m.spoke.UpdateDynamicReserveConfig(admin, usdc, 1, DynamicReserveConfig{CollateralFactor: 9000, LiquidityPremium: 1200}))
	require.NoError(t, m.spoke.UpdateUserRiskPremium(bob, bob))
	require.Equal(t, uint64(1200), m.spoke.GetUserLastRiskPremium(bob))

	err = m.spoke.UpdateDynamicReserveConfig(admin, usdc, 7, DynamicReserveConfig{})
	require.ErrorIs(t, err, ErrDynamicConfigNotFound)
	_, err = m.spoke.AddDynamicReserveConfig(admin, usdc, DynamicReserveConfig{CollateralFactor: 10_001})
	require.ErrorIs(t, err, ErrInvalidReserveConfig)
}

func TestAuthorization(t *testing.T) {
	roles := nativecommon.NewRoleTable()
	roles.Grant(admin, nativecommon.Wildcard)
	m := newMarket(t, WithAuthorizer(roles))

	_, err := m.spoke.AddDynamicReserveConfig(carol, dai, DynamicReserveConfig{})
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	require.ErrorIs(t, m.spoke.UpdateReserveConfig(carol, dai, ReserveConfig{LiquidationBonus: 10_000}), nativecommon.ErrUnauthorized)

	_, err = m.spoke.Supply(dai, carol, bob, units(1, 18))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	roles.Grant(carol, MethodPositionManager)
	_, err = m.spoke.Supply(dai, carol, bob, units(1, 18))
	require.NoError(t, err)
	supplied, err := m.spoke.GetUserSuppliedAssets(dai, bob)
	require.NoError(t, err)
	require.Equal(t, units(1, 18).Dec(), supplied.Dec())
}

func TestAddReserveValidation(t *testing.T) {
	m := newMarket(t)
	_, err := m.spoke.AddReserve(admin, hub.AssetID(dai), ReserveConfig{LiquidationBonus: 10_000}, DynamicReserveConfig{})
	require.ErrorIs(t, err, ErrReserveAlreadyListed)
	_, err = m.spoke.AddReserve(admin, hub.AssetID(42), ReserveConfig{LiquidationBonus: 10_000}, DynamicReserveConfig{})
	require.ErrorIs(t, err, hub.ErrAssetNotListed)

	id, ok := m.spoke.ReserveIDForAsset(hub.AssetID(usdc))
	require.True(t, ok)
	require.Equal(t, usdc, id)
	r, err := m.spoke.Reserve(usdc)
	require.NoError(t, err)
	require.Equal(t, uint8(6), r.Decimals)
	require.Equal(t, 3, m.spoke.ReserveCount())

	require.ErrorIs(t, m.spoke.UpdateReserveConfig(admin, dai, ReserveConfig{LiquidationBonus: 9000}), ErrInvalidReserveConfig)
}

func TestExportImport(t *testing.T) {
	m := newMarket(t)
	m.supply(t, dai, alice, units(1000, 18), false)
	m.supply(t, usdc, bob, units(1000, 6), true)
	_, err := m.spoke.Borrow(dai, bob, bob, units(100, 18))
	require.NoError(t, err)
	m.clock.Advance(year)

	state := m.spoke.Export()
	require.Len(t, state.Users, 2)

	restored := New(spokeAddr, m.hub, m.prices)
	require.NoError(t, restored.Import(state))
	require.Equal(t, m.totalDebt(t, dai, bob), func() string {
		debt, err := restored.GetUserTotalDebt(dai, bob)
		require.NoError(t, err)
		return debt.Dec()
	}())
	require.Equal(t, m.spoke.GetUserLastRiskPremium(bob), restored.GetUserLastRiskPremium(bob))
	pos, err := restored.GetUserPosition(usdc, bob)
	require.NoError(t, err)
	require.True(t, pos.UsingAsCollateral)

	other := New(common.HexToAddress("0x01"), m.hub, m.prices)
	require.Error(t, other.Import(state))
}
