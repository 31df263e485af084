// Package spoke implements an isolated lending market drawing liquidity from
// a shared hub. A spoke lists reserves, tracks each user's supplied and drawn
// shares per reserve, blends the liquidity premiums of a user's collateral
// into a risk premium and charges it as premium debt on top of base debt.
//
// Like the hub, a Spoke is a single-writer state machine.
package spoke

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "lendhub/native/common"
	"lendhub/native/lending/hub"
	"lendhub/native/lending/oracle"
	"lendhub/native/lending/wadray"
)

// Gated methods.
const (
	MethodAddReserve               = "spoke.addReserve"
	MethodUpdateReserveConfig      = "spoke.updateReserveConfig"
	MethodAddDynamicReserveConfig  = "spoke.addDynamicReserveConfig"
	MethodUpdateDynamicReserveConf = "spoke.updateDynamicReserveConfig"
	MethodPositionManager          = "spoke.positionManager"
)

// Hub is the slice of the liquidity hub a spoke relies on.
type Hub interface {
	Begin() *hub.Session
	Supply(id hub.AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error)
	Withdraw(id hub.AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error)
	Draw(id hub.AssetID, spoke common.Address, amount *uint256.Int) (*uint256.Int, error)
	Restore(id hub.AssetID, spoke common.Address, baseAmount *uint256.Int, premium hub.PremiumChange) (*uint256.Int, error)
	RefreshPremium(id hub.AssetID, spoke common.Address, premium hub.PremiumChange) error
	AssetConfig(id hub.AssetID) (hub.AssetConfig, error)
	SupplyIndex(id hub.AssetID) (*uint256.Int, error)
	DrawnIndex(id hub.AssetID) (*uint256.Int, error)
}

// Option configures a Spoke.
type Option func(*Spoke)

// WithAuthorizer gates admin methods and third-party position management.
func WithAuthorizer(auth nativecommon.Authorizer) Option {
	return func(s *Spoke) { s.auth = auth }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spoke) { s.logger = logger }
}

// Spoke is an isolated market on top of a hub.
type Spoke struct {
	address  common.Address
	hub      Hub
	oracle   oracle.PriceOracle
	auth     nativecommon.Authorizer
	logger   *slog.Logger
	reserves []*Reserve
	byAsset  map[hub.AssetID]ReserveID
	users    map[common.Address]*userState
}

// New creates a spoke identified on the hub by address.
func New(address common.Address, h Hub, prices oracle.PriceOracle, opts ...Option) *Spoke {
	s := &Spoke{
		address: address,
		hub:     h,
		oracle:  prices,
		logger:  slog.Default(),
		byAsset: make(map[hub.AssetID]ReserveID),
		users:   make(map[common.Address]*userState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Address returns the spoke's hub identity.
func (s *Spoke) Address() common.Address { return s.address }

// AddReserve lists a hub asset on the spoke with its first dynamic config
// stored under key 0.
func (s *Spoke) AddReserve(caller common.Address, assetID hub.AssetID, cfg ReserveConfig, dynamic DynamicReserveConfig) (ReserveID, error) {
	if err := nativecommon.Authorize(s.auth, caller, MethodAddReserve); err != nil {
		return 0, err
	}
	if _, ok := s.byAsset[assetID]; ok {
		return 0, fmt.Errorf("asset %d: %w", assetID, ErrReserveAlreadyListed)
	}
	assetCfg, err := s.hub.AssetConfig(assetID)
	if err != nil {
		return 0, err
	}
	if err := validateReserveConfig(cfg); err != nil {
		return 0, err
	}
	if err := validateDynamicConfig(dynamic); err != nil {
		return 0, err
	}
	id := ReserveID(len(s.reserves))
	s.reserves = append(s.reserves, &Reserve{
		ID:              id,
		AssetID:         assetID,
		Decimals:        assetCfg.Decimals,
		Config:          cfg,
		DynamicConfigs:  []DynamicReserveConfig{dynamic},
		SuppliedShares:  new(uint256.Int),
		BaseDrawnShares: new(uint256.Int),
		Premium:         hub.NewPremiumData(),
	})
	s.byAsset[assetID] = id
	s.logger.Info("spoke reserve listed", "spoke", s.address.Hex(), "reserve", id, "asset", assetID,
		"collateral_factor_bps", dynamic.CollateralFactor, "liquidity_premium_bps", dynamic.LiquidityPremium)
	return id, nil
}

// UpdateReserveConfig replaces a reserve's static config.
func (s *Spoke) UpdateReserveConfig(caller common.Address, id ReserveID, cfg ReserveConfig) error {
	if err := nativecommon.Authorize(s.auth, caller, MethodUpdateReserveConfig); err != nil {
		return err
	}
	r, err := s.reserve(id)
	if err != nil {
		return err
	}
	if err := validateReserveConfig(cfg); err != nil {
		return err
	}
	r.Config = cfg
	s.logger.Info("spoke reserve config updated", "spoke", s.address.Hex(), "reserve", id,
		"active", cfg.Active, "frozen", cfg.Frozen, "paused", cfg.Paused, "borrowable", cfg.Borrowable)
	return nil
}

// AddDynamicReserveConfig stores a new version of a reserve's risk terms and
// returns its key. Existing positions keep their captured key until
// refreshed.
func (s *Spoke) AddDynamicReserveConfig(caller common.Address, id ReserveID, dynamic DynamicReserveConfig) (uint16, error) {
	if err := nativecommon.Authorize(s.auth, caller, MethodAddDynamicReserveConfig); err != nil {
		return 0, err
	}
	r, err := s.reserve(id)
	if err != nil {
		return 0, err
	}
	if err := validateDynamicConfig(dynamic); err != nil {
		return 0, err
	}
	if len(r.DynamicConfigs) > int(^uint16(0)) {
		return 0, ErrDynamicConfigKeysExhausted
	}
	r.DynamicConfigs = append(r.DynamicConfigs, dynamic)
	r.DynamicConfigKey = uint16(len(r.DynamicConfigs) - 1)
	s.logger.Info("spoke dynamic config added", "spoke", s.address.Hex(), "reserve", id, "key", r.DynamicConfigKey,
		"collateral_factor_bps", dynamic.CollateralFactor, "liquidity_premium_bps", dynamic.LiquidityPremium)
	return r.DynamicConfigKey, nil
}

// UpdateDynamicReserveConfig rewrites an existing version in place, affecting
// every position that captured it.
func (s *Spoke) UpdateDynamicReserveConfig(caller common.Address, id ReserveID, key uint16, dynamic DynamicReserveConfig) error {
	if err := nativecommon.Authorize(s.auth, caller, MethodUpdateDynamicReserveConf); err != nil {
		return err
	}
	r, err := s.reserve(id)
	if err != nil {
		return err
	}
	if _, ok := r.DynamicConfig(key); !ok {
		return fmt.Errorf("reserve %d key %d: %w", id, key, ErrDynamicConfigNotFound)
	}
	if err := validateDynamicConfig(dynamic); err != nil {
		return err
	}
	r.DynamicConfigs[key] = dynamic
	s.logger.Info("spoke dynamic config updated", "spoke", s.address.Hex(), "reserve", id, "key", key)
	return nil
}

func validateReserveConfig(cfg ReserveConfig) error {
	if cfg.LiquidationBonus < wadray.PercentageFactor {
		return fmt.Errorf("%w: liquidation bonus %d below 10000 bps", ErrInvalidReserveConfig, cfg.LiquidationBonus)
	}
	if cfg.LiquidationFee > wadray.PercentageFactor {
		return fmt.Errorf("%w: liquidation fee %d above 10000 bps", ErrInvalidReserveConfig, cfg.LiquidationFee)
	}
	return nil
}

func validateDynamicConfig(dynamic DynamicReserveConfig) error {
	if dynamic.CollateralFactor > wadray.PercentageFactor {
		return fmt.Errorf("%w: collateral factor %d above 10000 bps", ErrInvalidReserveConfig, dynamic.CollateralFactor)
	}
	if dynamic.LiquidityPremium > wadray.PercentageFactor {
		return fmt.Errorf("%w: liquidity premium %d above 10000 bps", ErrInvalidReserveConfig, dynamic.LiquidityPremium)
	}
	return nil
}

func (s *Spoke) reserve(id ReserveID) (*Reserve, error) {
	if int(id) >= len(s.reserves) {
		return nil, fmt.Errorf("reserve %d: %w", id, ErrReserveNotListed)
	}
	return s.reserves[id], nil
}

// reserveCheck lists the static flags an action requires.
type reserveCheck struct {
	notFrozen  bool
	borrowable bool
}

func (s *Spoke) usableReserve(id ReserveID, check reserveCheck) (*Reserve, error) {
	r, err := s.reserve(id)
	if err != nil {
		return nil, err
	}
	switch {
	case !r.Config.Active:
		return nil, fmt.Errorf("reserve %d: %w", id, ErrReserveNotActive)
	case r.Config.Paused:
		return nil, fmt.Errorf("reserve %d: %w", id, ErrReservePaused)
	case check.notFrozen && r.Config.Frozen:
		return nil, fmt.Errorf("reserve %d: %w", id, ErrReserveFrozen)
	case check.borrowable && !r.Config.Borrowable:
		return nil, fmt.Errorf("reserve %d: %w", id, ErrReserveNotBorrowable)
	}
	return r, nil
}

// authorizeFor lets users act for themselves and position managers act for
// anyone.
func (s *Spoke) authorizeFor(caller, user common.Address) error {
	if caller == user {
		return nil
	}
	return nativecommon.Authorize(s.auth, caller, MethodPositionManager)
}

type snapshot struct {
	reserves []*Reserve
	user     common.Address
	state    *userState
}

func (s *Spoke) snapshot(user common.Address) snapshot {
	snap := snapshot{reserves: make([]*Reserve, len(s.reserves)), user: user}
	for i, r := range s.reserves {
		snap.reserves[i] = r.Clone()
	}
	if u, ok := s.users[user]; ok {
		snap.state = u.clone()
	}
	return snap
}

func (s *Spoke) restore(snap snapshot) {
	s.reserves = snap.reserves
	if snap.state == nil {
		delete(s.users, snap.user)
		return
	}
	s.users[snap.user] = snap.state
}

// atomically runs fn against a hub session and a spoke snapshot, restoring
// both when fn fails.
func (s *Spoke) atomically(user common.Address, action string, fn func(u *userState) error) error {
	session := s.hub.Begin()
	snap := s.snapshot(user)
	u, ok := s.users[user]
	if !ok {
		u = newUserState()
		s.users[user] = u
	}
	if err := fn(u); err != nil {
		session.Rollback()
		s.restore(snap)
		level := slog.LevelDebug
		if !isUserError(err) {
			level = slog.LevelWarn
		}
		s.logger.Log(context.Background(), level, "spoke action rejected", "spoke", s.address.Hex(), "action", action, "user", user.Hex(), "error", err)
		return err
	}
	session.Commit()
	return nil
}

func isUserError(err error) bool {
	var limitErr *hub.LimitError
	switch {
	case errors.As(err, &limitErr),
		errors.Is(err, ErrHealthFactorBelowThreshold),
		errors.Is(err, hub.ErrInvalidDrawAmount),
		errors.Is(err, hub.ErrInvalidRestoreAmount),
		errors.Is(err, hub.ErrInvalidSupplyAmount),
		errors.Is(err, hub.ErrInvalidWithdrawAmount):
		return true
	}
	return false
}
