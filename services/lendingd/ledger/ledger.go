// Package ledger hosts one liquidity hub, its spokes and their oracles behind a
// single mutex. Every committed mutation is persisted as a snapshot, appended
// to the journal and reflected in the ledger metrics before the call returns.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"lendhub/config"
	nativecommon "lendhub/native/common"
	"lendhub/native/lending/hub"
	"lendhub/native/lending/oracle"
	"lendhub/native/lending/rates"
	"lendhub/native/lending/spoke"
	"lendhub/native/lending/store"
	"lendhub/observability"
)

// MethodSetPrice gates oracle price updates.
const MethodSetPrice = "oracle.setPrice"

// Actions recorded in metrics, spans and the journal.
const (
	ActionSupply        = "supply"
	ActionWithdraw      = "withdraw"
	ActionBorrow        = "borrow"
	ActionRepay         = "repay"
	ActionCollateral    = "collateral"
	ActionRiskPremium   = "refresh_risk_premium"
	ActionDynamicConfig = "refresh_dynamic_config"
	ActionSetPrice      = "set_price"
)

var (
	ErrUnknownSpoke   = errors.New("ledger: spoke not configured")
	ErrListingChanged = errors.New("ledger: market listing does not match snapshot")
)

// Options configures a Ledger.
type Options struct {
	Market  *config.Market
	Store   *store.Store
	Journal *Journal
	Metrics *observability.LedgerMetrics
	Clock   clockwork.Clock
	Logger  *slog.Logger
	// Admins are granted every gated method in addition to the market admins.
	Admins []common.Address
}

type market struct {
	name   string
	spoke  *spoke.Spoke
	prices *oracle.Static
}

// Ledger serialises access to the hub and its spokes.
type Ledger struct {
	mu      sync.Mutex
	hub     *hub.Hub
	roles   *nativecommon.RoleTable
	spokes  map[string]*market
	order   []string
	store   *store.Store
	journal *Journal
	metrics *observability.LedgerMetrics
	clock   clockwork.Clock
	logger  *slog.Logger
	tracer  trace.Tracer
	ops     metric.Int64Counter
}

// New builds the ledger from the market listing, restoring the persisted
// snapshot when one exists and bootstrapping a fresh hub otherwise.
func New(opts Options) (*Ledger, error) {
	if opts.Market == nil {
		return nil, fmt.Errorf("ledger: market listing required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("ledger: store required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	l := &Ledger{
		roles:   nativecommon.NewRoleTable(),
		spokes:  make(map[string]*market, len(opts.Market.Spokes)),
		store:   opts.Store,
		journal: opts.Journal,
		metrics: opts.Metrics,
		clock:   opts.Clock,
		logger:  opts.Logger,
		tracer:  otel.Tracer("lendhub/ledger"),
		ops:     operationsCounter(),
	}
	admins := append(opts.Market.AdminAddresses(), opts.Admins...)
	if len(admins) == 0 {
		return nil, fmt.Errorf("ledger: at least one admin required")
	}
	for _, admin := range admins {
		l.roles.Grant(admin, nativecommon.Wildcard)
	}
	l.hub = hub.New(hub.WithClock(opts.Clock), hub.WithAuthorizer(l.roles), hub.WithLogger(opts.Logger))
	for _, sc := range opts.Market.Spokes {
		prices := oracle.NewStatic(opts.Market.OracleDecimals)
		sp := spoke.New(common.HexToAddress(sc.Address), l.hub, prices,
			spoke.WithAuthorizer(l.roles),
			spoke.WithLogger(opts.Logger.With("spoke", sc.Name)))
		l.spokes[sc.Name] = &market{name: sc.Name, spoke: sp, prices: prices}
		l.order = append(l.order, sc.Name)
	}

	state, err := l.store.LoadHub()
	switch {
	case errors.Is(err, store.ErrNoSnapshot):
		if err := l.bootstrap(opts.Market, admins[0]); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("ledger: %w", err)
	default:
		if err := l.restore(opts.Market, state); err != nil {
			return nil, err
		}
	}
	if err := l.seedPrices(opts.Market); err != nil {
		return nil, err
	}
	l.refreshGauges()
	return l, nil
}

func operationsCounter() metric.Int64Counter {
	meter := otel.GetMeterProvider().Meter("lendhub/ledger")
	counter, err := meter.Int64Counter("lendhub.ledger.operations")
	if err != nil {
		fallback := noop.NewMeterProvider().Meter("lendhub/ledger")
		counter, _ = fallback.Int64Counter("lendhub.ledger.operations")
	}
	return counter
}

func (l *Ledger) bootstrap(m *config.Market, admin common.Address) error {
	for _, ac := range m.Assets {
		supplyCap, err := config.ParseAmount(ac.SupplyCap)
		if err != nil {
			return fmt.Errorf("ledger: asset %s: %w", ac.Symbol, err)
		}
		cfg := hub.AssetConfig{
			Symbol:       ac.Symbol,
			Decimals:     ac.Decimals,
			Active:       true,
			Paused:       ac.Paused,
			LiquidityFee: ac.LiquidityFeeBps,
			FeeReceiver:  common.HexToAddress(ac.FeeReceiver),
			SupplyCap:    supplyCap,
		}
		if _, err := l.hub.AddAsset(admin, cfg, ac.Rate.Strategy()); err != nil {
			return fmt.Errorf("ledger: list asset %s: %w", ac.Symbol, err)
		}
	}
	for _, sc := range m.Spokes {
		mk := l.spokes[sc.Name]
		for _, rc := range sc.Reserves {
			assetID, _ := l.hub.AssetBySymbol(rc.Asset)
			supplyCap, err := config.ParseAmount(rc.SupplyCap)
			if err != nil {
				return fmt.Errorf("ledger: spoke %s reserve %s: %w", sc.Name, rc.Asset, err)
			}
			drawCap, err := config.ParseAmount(rc.DrawCap)
			if err != nil {
				return fmt.Errorf("ledger: spoke %s reserve %s: %w", sc.Name, rc.Asset, err)
			}
			limits := hub.SpokeConfig{Active: true, SupplyCap: supplyCap, DrawCap: drawCap}
			if err := l.hub.AddSpoke(admin, assetID, mk.spoke.Address(), limits); err != nil {
				return fmt.Errorf("ledger: spoke %s reserve %s: %w", sc.Name, rc.Asset, err)
			}
			cfg := spoke.ReserveConfig{
				Active:           true,
				Frozen:           rc.Frozen,
				Borrowable:       rc.Borrowable,
				Collateral:       rc.Collateral,
				LiquidationBonus: rc.LiquidationBonusBps,
				LiquidationFee:   rc.LiquidationFeeBps,
			}
			dynamic := spoke.DynamicReserveConfig{
				CollateralFactor: rc.CollateralFactorBps,
				LiquidityPremium: rc.LiquidityPremiumBps,
			}
			if _, err := mk.spoke.AddReserve(admin, assetID, cfg, dynamic); err != nil {
				return fmt.Errorf("ledger: spoke %s reserve %s: %w", sc.Name, rc.Asset, err)
			}
		}
	}
	all := make([]*market, 0, len(l.order))
	for _, name := range l.order {
		all = append(all, l.spokes[name])
	}
	if err := l.persist(all...); err != nil {
		return err
	}
	l.logger.Info("ledger bootstrapped", "market", m.Name, "assets", len(m.Assets), "spokes", len(m.Spokes))
	return nil
}

func (l *Ledger) restore(m *config.Market, state hub.State) error {
	if len(state.Assets) != len(m.Assets) {
		return fmt.Errorf("%w: %d assets persisted, %d listed", ErrListingChanged, len(state.Assets), len(m.Assets))
	}
	strategies := make(map[hub.AssetID]rates.Strategy, len(m.Assets))
	for i, ac := range m.Assets {
		if state.Assets[i].Symbol != ac.Symbol {
			return fmt.Errorf("%w: asset %d is %s, listed as %s", ErrListingChanged, i, state.Assets[i].Symbol, ac.Symbol)
		}
		strategies[hub.AssetID(i)] = ac.Rate.Strategy()
	}
	if err := l.hub.Import(state, strategies); err != nil {
		return fmt.Errorf("ledger: restore hub: %w", err)
	}
	for _, name := range l.order {
		mk := l.spokes[name]
		snapshot, err := l.store.LoadSpoke(mk.spoke.Address())
		if err != nil {
			return fmt.Errorf("ledger: restore spoke %s: %w", name, err)
		}
		if err := mk.spoke.Import(snapshot); err != nil {
			return fmt.Errorf("ledger: restore spoke %s: %w", name, err)
		}
	}
	l.logger.Info("ledger restored", "market", m.Name, "assets", len(state.Assets), "spokes", len(l.order))
	return nil
}

func (l *Ledger) seedPrices(m *config.Market) error {
	for _, sc := range m.Spokes {
		mk := l.spokes[sc.Name]
		for _, rc := range sc.Reserves {
			id, err := l.reserveID(mk, rc.Asset)
			if err != nil {
				return fmt.Errorf("ledger: spoke %s: %w", sc.Name, err)
			}
			price, err := config.ParseAmount(rc.Price)
			if err != nil {
				return fmt.Errorf("ledger: spoke %s reserve %s: %w", sc.Name, rc.Asset, err)
			}
			if err := mk.prices.SetPrice(uint32(id), price); err != nil {
				return fmt.Errorf("ledger: spoke %s: %w", sc.Name, err)
			}
		}
	}
	return nil
}

// Request names one user action on a spoke reserve. Amount may be
// hub.MaxAmount() for withdraw and repay.
type Request struct {
	Spoke  string
	Asset  string
	Caller common.Address
	User   common.Address
	Amount *uint256.Int
}

// Supply deposits for the user and returns the shares minted.
func (l *Ledger) Supply(ctx context.Context, req Request) (*uint256.Int, error) {
	return l.reserveAction(ctx, ActionSupply, req, func(mk *market, id spoke.ReserveID) (*uint256.Int, error) {
		return mk.spoke.Supply(id, req.Caller, req.User, req.Amount)
	})
}

// Withdraw returns the amount withdrawn.
func (l *Ledger) Withdraw(ctx context.Context, req Request) (*uint256.Int, error) {
	return l.reserveAction(ctx, ActionWithdraw, req, func(mk *market, id spoke.ReserveID) (*uint256.Int, error) {
		return mk.spoke.Withdraw(id, req.Caller, req.User, req.Amount)
	})
}

// Borrow returns the base drawn shares minted.
func (l *Ledger) Borrow(ctx context.Context, req Request) (*uint256.Int, error) {
	return l.reserveAction(ctx, ActionBorrow, req, func(mk *market, id spoke.ReserveID) (*uint256.Int, error) {
		return mk.spoke.Borrow(id, req.Caller, req.User, req.Amount)
	})
}

// Repay returns the amount applied to the user's debt.
func (l *Ledger) Repay(ctx context.Context, req Request) (*uint256.Int, error) {
	return l.reserveAction(ctx, ActionRepay, req, func(mk *market, id spoke.ReserveID) (*uint256.Int, error) {
		return mk.spoke.Repay(id, req.Caller, req.User, req.Amount)
	})
}

// SetCollateral toggles whether the reserve counts as the user's collateral.
// req.Amount is ignored.
func (l *Ledger) SetCollateral(ctx context.Context, req Request, enabled bool) error {
	req.Amount = nil
	_, err := l.reserveAction(ctx, ActionCollateral, req, func(mk *market, id spoke.ReserveID) (*uint256.Int, error) {
		return nil, mk.spoke.SetUsingAsCollateral(id, req.Caller, req.User, enabled)
	})
	return err
}

// RefreshUser re-rates the user's premium debt. With dynamicConfig set the
// user's positions also move to the latest risk parameters.
func (l *Ledger) RefreshUser(ctx context.Context, spokeName string, caller, user common.Address, dynamicConfig bool) error {
	action := ActionRiskPremium
	if dynamicConfig {
		action = ActionDynamicConfig
	}
	req := Request{Spoke: spokeName, Caller: caller, User: user}
	_, err := l.mutate(ctx, action, req, func(mk *market) (*uint256.Int, error) {
		if dynamicConfig {
			return nil, mk.spoke.UpdateUserDynamicConfig(caller, user)
		}
		return nil, mk.spoke.UpdateUserRiskPremium(caller, user)
	})
	return err
}

// SetPrice pushes a price for the spoke's reserve of asset. Prices are held in
// memory and reseeded from the market listing on restart.
func (l *Ledger) SetPrice(ctx context.Context, spokeName, asset string, caller common.Address, price *uint256.Int) error {
	ctx, span := l.tracer.Start(ctx, "ledger."+ActionSetPrice, trace.WithAttributes(
		attribute.String("spoke", spokeName),
		attribute.String("asset", asset),
	))
	defer span.End()
	start := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()
	err := l.setPrice(spokeName, asset, caller, price)
	l.observe(ctx, span, spokeName, ActionSetPrice, start, err)
	if err == nil {
		l.logger.Info("price updated", "spoke", spokeName, "asset", asset, "price", price.Dec(), "caller", caller.Hex())
	}
	return err
}

func (l *Ledger) setPrice(spokeName, asset string, caller common.Address, price *uint256.Int) error {
	if err := nativecommon.Authorize(l.roles, caller, MethodSetPrice); err != nil {
		return err
	}
	mk, err := l.market(spokeName)
	if err != nil {
		return err
	}
	id, err := l.reserveID(mk, asset)
	if err != nil {
		return err
	}
	return mk.prices.SetPrice(uint32(id), price)
}

func (l *Ledger) reserveAction(ctx context.Context, action string, req Request, fn func(mk *market, id spoke.ReserveID) (*uint256.Int, error)) (*uint256.Int, error) {
	return l.mutate(ctx, action, req, func(mk *market) (*uint256.Int, error) {
		id, err := l.reserveID(mk, req.Asset)
		if err != nil {
			return nil, err
		}
		return fn(mk, id)
	})
}

// mutate runs fn inside an outer hub session so that a failure to persist the
// resulting snapshots unwinds the hub and the spoke together.
func (l *Ledger) mutate(ctx context.Context, action string, req Request, fn func(mk *market) (*uint256.Int, error)) (*uint256.Int, error) {
	ctx, span := l.tracer.Start(ctx, "ledger."+action, trace.WithAttributes(
		attribute.String("spoke", req.Spoke),
		attribute.String("asset", req.Asset),
		attribute.String("user", req.User.Hex()),
	))
	defer span.End()
	start := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	result, err := l.apply(action, req, fn)
	l.observe(ctx, span, req.Spoke, action, start, err)
	if err != nil {
		return nil, err
	}
	l.refreshGauges()
	entry := JournalEntry{
		Spoke:     req.Spoke,
		Account:   req.User.Hex(),
		Caller:    req.Caller.Hex(),
		Action:    action,
		Asset:     strings.ToUpper(req.Asset),
		Amount:    decimal(req.Amount),
		Result:    decimal(result),
		CreatedAt: start.UTC(),
	}
	if err := l.journal.Record(ctx, entry); err != nil {
		l.logger.Warn("journal append failed", "spoke", req.Spoke, "action", action, "error", err)
	}
	return result, nil
}

func (l *Ledger) apply(action string, req Request, fn func(mk *market) (*uint256.Int, error)) (*uint256.Int, error) {
	mk, err := l.market(req.Spoke)
	if err != nil {
		return nil, err
	}
	session := l.hub.Begin()
	defer session.Rollback()
	before := mk.spoke.Export()

	result, err := fn(mk)
	if err != nil {
		return nil, err
	}
	if err := l.persist(mk); err != nil {
		if restoreErr := mk.spoke.Import(before); restoreErr != nil {
			l.logger.Error("spoke restore failed", "spoke", mk.name, "action", action, "error", restoreErr)
		}
		return nil, err
	}
	session.Commit()
	return result, nil
}

// persist writes the hub and the given spokes in one batch, so a failed
// write leaves the previous snapshots on disk untouched.
func (l *Ledger) persist(mks ...*market) error {
	spokes := make([]spoke.State, 0, len(mks))
	for _, mk := range mks {
		spokes = append(spokes, mk.spoke.Export())
	}
	if err := l.store.Save(l.hub.Export(), spokes...); err != nil {
		return fmt.Errorf("ledger: persist: %w", err)
	}
	return nil
}

func (l *Ledger) observe(ctx context.Context, span trace.Span, spokeName, action string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "rejected"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	l.metrics.ObserveOperation(spokeName, action, outcome, l.clock.Since(start))
	l.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

func (l *Ledger) refreshGauges() {
	if l.metrics == nil {
		return
	}
	for i := 0; i < l.hub.AssetCount(); i++ {
		view, err := l.hub.Asset(hub.AssetID(i))
		if err != nil {
			continue
		}
		l.metrics.SetAsset(observability.AssetSnapshot{
			Symbol:      view.Config.Symbol,
			Decimals:    view.Config.Decimals,
			SupplyIndex: view.SupplyIndex,
			DrawnIndex:  view.DrawnIndex,
			Liquidity:   view.AvailableLiquidity,
			TotalDebt:   view.TotalDebt(),
		})
	}
}

func (l *Ledger) market(name string) (*market, error) {
	mk, ok := l.spokes[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownSpoke)
	}
	return mk, nil
}

func (l *Ledger) reserveID(mk *market, asset string) (spoke.ReserveID, error) {
	assetID, err := l.assetID(asset)
	if err != nil {
		return 0, err
	}
	id, ok := mk.spoke.ReserveIDForAsset(assetID)
	if !ok {
		return 0, fmt.Errorf("%s on %s: %w", strings.ToUpper(asset), mk.name, spoke.ErrReserveNotListed)
	}
	return id, nil
}

func (l *Ledger) assetID(symbol string) (hub.AssetID, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	id, ok := l.hub.AssetBySymbol(symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, hub.ErrAssetNotListed)
	}
	return id, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	if v.Eq(hub.MaxAmount()) {
		return "max"
	}
	return v.Dec()
}
