package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"lendhub/config"
	nativecommon "lendhub/native/common"
	"lendhub/native/lending/hub"
	"lendhub/native/lending/spoke"
	"lendhub/native/lending/store"
	"lendhub/observability"
	"lendhub/storage"
)

var (
	admin = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	alice = common.HexToAddress("0x0000000000000000000000000000000000a11ce0")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

func testMarket() *config.Market {
	reserve := func(asset, price string, lp uint16) config.Reserve {
		return config.Reserve{
			Asset:               asset,
			Price:               price,
			Borrowable:          true,
			Collateral:          true,
			LiquidationBonusBps: 10_500,
			CollateralFactorBps: 8_000,
			LiquidityPremiumBps: lp,
		}
	}
	return &config.Market{
		Name:           "test",
		OracleDecimals: 8,
		Admins:         []string{admin.Hex()},
		Assets: []config.Asset{
			{Symbol: "DAI", Decimals: 18, FeeReceiver: "0x000000000000000000000000000000000000007e", Rate: config.Rate{Kind: config.RateFixed, BaseBps: 5_000}},
			{Symbol: "WETH", Decimals: 18, FeeReceiver: "0x000000000000000000000000000000000000007e", Rate: config.Rate{Kind: config.RateFixed, BaseBps: 5_000}},
		},
		Spokes: []config.Spoke{{
			Name:     "main",
			Address:  "0x00000000000000000000000000000000000005a0",
			Reserves: []config.Reserve{reserve("DAI", "100000000", 1_500), reserve("WETH", "200000000000", 500)},
		}},
	}
}

// flakyDB accepts budget more records and then fails every write. A batch
// that does not fit the budget fails whole. A negative budget never fails.
type flakyDB struct {
	*storage.MemDB
	budget int
}

func (db *flakyDB) spend(records int) error {
	if db.budget < 0 {
		return nil
	}
	if records > db.budget {
		db.budget = 0
		return errors.New("disk full")
	}
	db.budget -= records
	return nil
}

func (db *flakyDB) Put(key, value []byte) error {
	if err := db.spend(1); err != nil {
		return err
	}
	return db.MemDB.Put(key, value)
}

func (db *flakyDB) NewBatch() storage.Batch {
	return &flakyBatch{Batch: db.MemDB.NewBatch(), db: db}
}

type flakyBatch struct {
	storage.Batch
	db *flakyDB
}

func (b *flakyBatch) Write() error {
	if err := b.db.spend(b.Len()); err != nil {
		return err
	}
	return b.Batch.Write()
}

type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

type fixture struct {
	ledger  *Ledger
	db      *flakyDB
	journal *Journal
	clock   fakeClock
	metrics *observability.LedgerMetrics
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	journal, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	reg := prometheus.NewRegistry()
	f := &fixture{
		db:      &flakyDB{MemDB: storage.NewMemDB(), budget: -1},
		journal: journal,
		clock:   clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		metrics: observability.NewLedgerMetrics(reg),
		reg:     reg,
	}
	f.ledger = f.open(t)
	return f
}

func (f *fixture) open(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(Options{
		Market:  testMarket(),
		Store:   store.New(f.db),
		Journal: f.journal,
		Metrics: f.metrics,
		Clock:   f.clock,
	})
	require.NoError(t, err)
	return l
}

func req(asset string, user common.Address, amount *uint256.Int) Request {
	return Request{Spoke: "main", Asset: asset, Caller: user, User: user, Amount: amount}
}

// borrowAgainstEther leaves bob supplying DAI and alice borrowing 100 DAI
// against one WETH.
func borrowAgainstEther(t *testing.T, l *Ledger) {
	t.Helper()
	ctx := context.Background()
	_, err := l.Supply(ctx, req("dai", bob, units(10_000)))
	require.NoError(t, err)
	_, err = l.Supply(ctx, req("weth", alice, units(1)))
	require.NoError(t, err)
	require.NoError(t, l.SetCollateral(ctx, req("weth", alice, nil), true))
	shares, err := l.Borrow(ctx, req("dai", alice, units(100)))
	require.NoError(t, err)
	require.Equal(t, units(100), shares)
}

func TestBootstrapListsMarket(t *testing.T) {
	f := newFixture(t)

	view, err := f.ledger.Asset("weth")
	require.NoError(t, err)
	require.Equal(t, "WETH", view.Config.Symbol)
	require.Equal(t, hub.AssetID(1), view.ID)

	reserve, err := f.ledger.Reserve("main", "DAI")
	require.NoError(t, err)
	require.Equal(t, "DAI", reserve.Symbol)
	require.True(t, reserve.Reserve.Config.Borrowable)
	require.Equal(t, uint256.NewInt(100_000_000), reserve.Price)
	require.Equal(t, []string{"main"}, f.ledger.Spokes())
}

func TestUserFlowAndAccount(t *testing.T) {
	f := newFixture(t)
	borrowAgainstEther(t, f.ledger)

	pos, err := f.ledger.Position("main", "DAI", alice)
	require.NoError(t, err)
	require.Equal(t, units(100), pos.BaseDebt)
	require.True(t, pos.PremiumDebt.IsZero())

	account, err := f.ledger.Account("main", alice)
	require.NoError(t, err)
	require.Equal(t, uint64(500), account.RiskPremium)
	require.Equal(t, units(16), account.HealthFactor)
	require.Equal(t, units(2_000), account.TotalCollateralValue)
	require.Equal(t, units(100), account.TotalDebtValue)

	f.clock.Advance(time.Second)
	paid, err := f.ledger.Repay(context.Background(), req("dai", alice, hub.MaxAmount()))
	require.NoError(t, err)
	require.True(t, paid.Cmp(units(100)) > 0)
	pos, err = f.ledger.Position("main", "DAI", alice)
	require.NoError(t, err)
	require.True(t, pos.BaseDebt.IsZero())
	require.True(t, pos.PremiumDebt.IsZero())
}

func TestSnapshotsSurviveRestart(t *testing.T) {
	f := newFixture(t)
	borrowAgainstEther(t, f.ledger)
	before, err := f.ledger.Position("main", "DAI", alice)
	require.NoError(t, err)

	restarted := f.open(t)
	after, err := restarted.Position("main", "DAI", alice)
	require.NoError(t, err)
	require.Equal(t, before, after)

	account, err := restarted.Account("main", alice)
	require.NoError(t, err)
	require.Equal(t, units(16), account.HealthFactor)
}

func TestRestartRejectsChangedListing(t *testing.T) {
	f := newFixture(t)
	m := testMarket()
	m.Assets[0], m.Assets[1] = m.Assets[1], m.Assets[0]
	_, err := New(Options{Market: m, Store: store.New(f.db), Clock: f.clock})
	require.ErrorIs(t, err, ErrListingChanged)
}

func TestFailedPersistRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.db.budget = 0
	_, err := f.ledger.Supply(ctx, req("dai", bob, units(50)))
	require.Error(t, err)

	view, err := f.ledger.Asset("DAI")
	require.NoError(t, err)
	require.True(t, view.SuppliedShares.IsZero())
	pos, err := f.ledger.Position("main", "DAI", bob)
	require.NoError(t, err)
	require.True(t, pos.SuppliedAssets.IsZero())

	f.db.budget = -1
	_, err = f.ledger.Supply(ctx, req("dai", bob, units(50)))
	require.NoError(t, err)
	pos, err = f.ledger.Position("main", "DAI", bob)
	require.NoError(t, err)
	require.Equal(t, units(50), pos.SuppliedAssets)
}

func TestFailedPersistLeavesDiskUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// room for the hub record but not the spoke record
	f.db.budget = 1
	_, err := f.ledger.Supply(ctx, req("dai", bob, units(50)))
	require.Error(t, err)
	f.db.budget = -1

	restarted := f.open(t)
	view, err := restarted.Asset("DAI")
	require.NoError(t, err)
	require.True(t, view.SuppliedShares.IsZero())
	require.True(t, view.SuppliedAssets.IsZero())
	require.True(t, view.AvailableLiquidity.IsZero())
	reserve, err := restarted.Reserve("main", "DAI")
	require.NoError(t, err)
	require.True(t, reserve.SuppliedAssets.IsZero())
	pos, err := restarted.Position("main", "DAI", bob)
	require.NoError(t, err)
	require.True(t, pos.SuppliedAssets.IsZero())

	_, err = restarted.Supply(ctx, req("dai", bob, units(50)))
	require.NoError(t, err)
	view, err = f.open(t).Asset("DAI")
	require.NoError(t, err)
	require.Equal(t, units(50), view.SuppliedAssets)
}

func TestPriceUpdatesGateBorrowing(t *testing.T) {
	f := newFixture(t)
	borrowAgainstEther(t, f.ledger)
	ctx := context.Background()

	err := f.ledger.SetPrice(ctx, "main", "WETH", alice, uint256.NewInt(1))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)

	require.NoError(t, f.ledger.SetPrice(ctx, "main", "WETH", admin, uint256.NewInt(10_000_000_000)))
	_, err = f.ledger.Borrow(ctx, req("dai", alice, units(1)))
	require.ErrorIs(t, err, spoke.ErrHealthFactorBelowThreshold)

	pos, err := f.ledger.Position("main", "DAI", alice)
	require.NoError(t, err)
	require.Equal(t, units(100), pos.BaseDebt)
}

func TestRefreshUser(t *testing.T) {
	f := newFixture(t)
	borrowAgainstEther(t, f.ledger)
	ctx := context.Background()

	require.NoError(t, f.ledger.RefreshUser(ctx, "main", alice, alice, false))
	require.NoError(t, f.ledger.RefreshUser(ctx, "main", alice, alice, true))
	err := f.ledger.RefreshUser(ctx, "main", bob, alice, false)
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
	require.NoError(t, f.ledger.RefreshUser(ctx, "main", admin, alice, false))
}

func TestLookupErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Supply(ctx, Request{Spoke: "side", Asset: "DAI", Caller: bob, User: bob, Amount: units(1)})
	require.ErrorIs(t, err, ErrUnknownSpoke)
	_, err = f.ledger.Supply(ctx, req("USDT", bob, units(1)))
	require.ErrorIs(t, err, hub.ErrAssetNotListed)
	_, err = f.ledger.Reserve("side", "DAI")
	require.ErrorIs(t, err, ErrUnknownSpoke)
	_, err = f.ledger.History(ctx, "side", bob, 0)
	require.ErrorIs(t, err, ErrUnknownSpoke)
}

func TestJournalAndMetrics(t *testing.T) {
	f := newFixture(t)
	borrowAgainstEther(t, f.ledger)
	ctx := context.Background()

	_, err := f.ledger.Withdraw(ctx, req("weth", alice, units(5)))
	require.Error(t, err)

	entries, err := f.ledger.History(ctx, "main", alice, 0)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, entry := range entries {
		require.Equal(t, alice.Hex(), entry.Account)
		actions = append(actions, entry.Action)
	}
	require.ElementsMatch(t, []string{ActionSupply, ActionCollateral, ActionBorrow}, actions)

	limited, err := f.ledger.History(ctx, "main", alice, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	count, err := testutil.GatherAndCount(f.reg, "lendhub_ledger_operations_total")
	require.NoError(t, err)
	// supply, collateral and borrow committed; the withdraw was rejected
	require.Equal(t, 4, count)
}
