// Package hub implements the liquidity hub: the per-asset ledger of supplied
// and drawn shares shared by every connected spoke. The hub owns the interest
// indices, accrues them linearly between touches, skims the liquidity fee to
// the asset's fee receiver and enforces liquidity and cap limits.
//
// A Hub is a single-writer state machine. Callers that share one across
// goroutines must serialise access themselves.
package hub

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"

	nativecommon "lendhub/native/common"
	"lendhub/native/lending/rates"
	"lendhub/native/lending/wadray"
)

const moduleName = "lending"

// Gated admin methods.
const (
	MethodAddAsset          = "hub.addAsset"
	MethodUpdateAssetConfig = "hub.updateAssetConfig"
	MethodSetRateStrategy   = "hub.setInterestRateStrategy"
	MethodAddSpoke          = "hub.addSpoke"
	MethodUpdateSpokeConfig = "hub.updateSpokeConfig"
)

// Option configures a Hub.
type Option func(*Hub)

// WithClock overrides the wall clock used for accrual.
func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

// WithAuthorizer gates the admin methods.
func WithAuthorizer(auth nativecommon.Authorizer) Option {
	return func(h *Hub) { h.auth = auth }
}

// WithPauses installs the pause switch consulted before every mutation.
func WithPauses(pauses nativecommon.PauseView) Option {
	return func(h *Hub) { h.pauses = pauses }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logger }
}

// Hub is the multi-asset liquidity ledger.
type Hub struct {
	clock      clockwork.Clock
	auth       nativecommon.Authorizer
	pauses     nativecommon.PauseView
	logger     *slog.Logger
	assets     []*asset
	strategies map[AssetID]rates.Strategy

	pins   int
	pinned uint64
}

// New constructs an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		strategies: make(map[AssetID]rates.Strategy),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) now() uint64 {
	if h.pins > 0 {
		return h.pinned
	}
	unix := h.clock.Now().Unix()
	if unix < 0 {
		return 0
	}
	return uint64(unix)
}

// Session groups several hub mutations into one atomic step. The clock
// reading is pinned for the lifetime of the outermost session so every
// mutation inside it observes the same indices.
type Session struct {
	hub        *Hub
	assets     []*asset
	strategies map[AssetID]rates.Strategy
	done       bool
}

// Begin opens a session. Sessions nest; each one restores its own snapshot on
// Rollback.
func (h *Hub) Begin() *Session {
	if h.pins == 0 {
		h.pinned = h.now()
	}
	h.pins++
	return &Session{
		hub:        h,
		assets:     slices.Clone(h.assets),
		strategies: maps.Clone(h.strategies),
	}
}

// Commit keeps every mutation made since Begin.
func (s *Session) Commit() {
	s.end()
}

// Rollback discards every mutation made since Begin. It is a no-op after
// Commit, so it can be deferred unconditionally.
func (s *Session) Rollback() {
	if s.done {
		return
	}
	s.hub.assets = s.assets
	s.hub.strategies = s.strategies
	s.end()
}

func (s *Session) end() {
	if s.done {
		return
	}
	s.done = true
	s.hub.pins--
}

// AddAsset lists a new asset. Its fee receiver is registered as an active,
// uncapped spoke so it can later withdraw the skimmed fees.
func (h *Hub) AddAsset(caller common.Address, cfg AssetConfig, strategy rates.Strategy) (AssetID, error) {
	if err := nativecommon.Authorize(h.auth, caller, MethodAddAsset); err != nil {
		return 0, err
	}
	if err := validateAssetConfig(cfg); err != nil {
		return 0, err
	}
	if strategy == nil {
		return 0, ErrStrategyMissing
	}
	id := AssetID(len(h.assets))
	a := &asset{
		id:                 id,
		config:             cfg.Clone(),
		suppliedShares:     new(uint256.Int),
		baseDrawnShares:    new(uint256.Int),
		premium:            NewPremiumData(),
		supplyIndex:        wadray.Ray(),
		drawnIndex:         wadray.Ray(),
		availableLiquidity: new(uint256.Int),
		baseBorrowRate:     new(uint256.Int),
		lastUpdate:         h.now(),
		spokes:             make(map[common.Address]*spokeState),
	}
	a.addSpoke(cfg.FeeReceiver, SpokeConfig{Active: true})
	h.assets = append(h.assets, a)
	h.strategies[id] = strategy
	h.commit(a)
	h.logger.Info("hub asset listed", "asset", id, "symbol", cfg.Symbol, "decimals", cfg.Decimals, "liquidity_fee_bps", cfg.LiquidityFee)
	return id, nil
}

// UpdateAssetConfig replaces an asset's config. Interest up to now is accrued
// under the previous config.
func (h *Hub) UpdateAssetConfig(caller common.Address, id AssetID, cfg AssetConfig) error {
	if err := nativecommon.Authorize(h.auth, caller, MethodUpdateAssetConfig); err != nil {
		return err
	}
	a, err := h.asset(id)
	if err != nil {
		return err
	}
	if err := validateAssetConfig(cfg); err != nil {
		return err
	}
	next := a.clone()
	next.accrue(h.now())
	next.config = cfg.Clone()
	if _, ok := next.spokes[cfg.FeeReceiver]; !ok {
		next.addSpoke(cfg.FeeReceiver, SpokeConfig{Active: true})
	}
	h.commit(next)
	h.logger.Info("hub asset config updated", "asset", id, "active", cfg.Active, "paused", cfg.Paused, "liquidity_fee_bps", cfg.LiquidityFee)
	return nil
}

// SetInterestRateStrategy swaps the strategy pricing an asset.
func (h *Hub) SetInterestRateStrategy(caller common.Address, id AssetID, strategy rates.Strategy) error {
	if err := nativecommon.Authorize(h.auth, caller, MethodSetRateStrategy); err != nil {
		return err
	}
	a, err := h.asset(id)
	if err != nil {
		return err
	}
	if strategy == nil {
		return ErrStrategyMissing
	}
	next := a.clone()
	next.accrue(h.now())
	h.strategies[id] = strategy
	h.commit(next)
	h.logger.Info("hub rate strategy updated", "asset", id, "rate", next.baseBorrowRate.Dec())
	return nil
}

// AddSpoke registers a spoke for an asset.
func (h *Hub) AddSpoke(caller common.Address, id AssetID, spoke common.Address, cfg SpokeConfig) error {
	if err := nativecommon.Authorize(h.auth, caller, MethodAddSpoke); err != nil {
		return err
	}
	a, err := h.asset(id)
	if err != nil {
		return err
	}
	if spoke == (common.Address{}) {
		return ErrInvalidSpoke
	}
	if _, ok := a.spokes[spoke]; ok {
		return fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeAlreadyListed)
	}
	next := a.clone()
	next.addSpoke(spoke, cfg)
	h.assets[id] = next
	h.logger.Info("hub spoke added", "asset", id, "spoke", spoke.Hex(), "active", cfg.Active)
	return nil
}

// UpdateSpokeConfig replaces a spoke's limits for an asset.
func (h *Hub) UpdateSpokeConfig(caller common.Address, id AssetID, spoke common.Address, cfg SpokeConfig) error {
	if err := nativecommon.Authorize(h.auth, caller, MethodUpdateSpokeConfig); err != nil {
		return err
	}
	a, err := h.asset(id)
	if err != nil {
		return err
	}
	if _, ok := a.spokes[spoke]; !ok {
		return fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeNotListed)
	}
	next := a.clone()
	next.spokes[spoke].config = cfg.Clone()
	h.assets[id] = next
	h.logger.Info("hub spoke config updated", "asset", id, "spoke", spoke.Hex(), "active", cfg.Active)
	return nil
}

func validateAssetConfig(cfg AssetConfig) error {
	if cfg.Decimals > 18 {
		return fmt.Errorf("%w: decimals %d above 18", ErrInvalidAssetConfig, cfg.Decimals)
	}
	if cfg.LiquidityFee > wadray.PercentageFactor {
		return fmt.Errorf("%w: liquidity fee %d above 10000 bps", ErrInvalidAssetConfig, cfg.LiquidityFee)
	}
	if cfg.FeeReceiver == (common.Address{}) {
		return fmt.Errorf("%w: fee receiver required", ErrInvalidAssetConfig)
	}
	return nil
}

func (h *Hub) asset(id AssetID) (*asset, error) {
	if int(id) >= len(h.assets) {
		return nil, fmt.Errorf("asset %d: %w", id, ErrAssetNotListed)
	}
	return h.assets[id], nil
}

// prepare checks that spoke may touch asset id and returns an accrued working
// copy of the asset together with the spoke's entry inside it.
func (h *Hub) prepare(id AssetID, spoke common.Address) (*asset, *spokeState, error) {
	return h.open(id, spoke, true)
}

// open is prepare with the asset and spoke status checks made optional. The
// module guard and the listing checks always apply.
func (h *Hub) open(id AssetID, spoke common.Address, gated bool) (*asset, *spokeState, error) {
	if err := nativecommon.Guard(h.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	a, err := h.asset(id)
	if err != nil {
		return nil, nil, err
	}
	if gated && !a.config.Active {
		return nil, nil, fmt.Errorf("asset %d: %w", id, ErrAssetNotActive)
	}
	if gated && a.config.Paused {
		return nil, nil, fmt.Errorf("asset %d: %w", id, ErrAssetPaused)
	}
	s, ok := a.spokes[spoke]
	if !ok {
		return nil, nil, fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeNotListed)
	}
	if gated && !s.config.Active {
		return nil, nil, fmt.Errorf("asset %d spoke %s: %w", id, spoke.Hex(), ErrSpokeNotActive)
	}
	next := a.clone()
	if minted := next.accrue(h.now()); !minted.IsZero() {
		h.logger.Debug("hub liquidity fee skimmed", "asset", id, "shares", minted.Dec())
	}
	return next, next.spokes[spoke], nil
}

// commit prices the next interval and publishes the working copy.
func (h *Hub) commit(next *asset) {
	if strategy := h.strategies[next.id]; strategy != nil {
		next.baseBorrowRate = cloneInt(strategy.BorrowRate(rates.Params{
			AssetID:            uint32(next.id),
			AvailableLiquidity: cloneInt(next.availableLiquidity),
			TotalDebt:          next.totalDebt(),
		}))
	}
	h.assets[next.id] = next
}
