package hub

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetID indexes the hub's listed assets in listing order.
type AssetID uint32

// MaxAmount is the "everything" sentinel accepted by Withdraw and Restore.
func MaxAmount() *uint256.Int { return new(uint256.Int).SetAllOne() }

// AssetConfig holds the operator-controlled parameters of an asset. A zero or
// nil SupplyCap leaves supply uncapped.
type AssetConfig struct {
	Symbol       string
	Decimals     uint8
	Active       bool
	Paused       bool
	LiquidityFee uint16
	FeeReceiver  common.Address
	SupplyCap    *uint256.Int
}

// Clone returns a deep copy of the config.
func (c AssetConfig) Clone() AssetConfig {
	c.SupplyCap = cloneInt(c.SupplyCap)
	return c
}

// SpokeConfig holds the per-spoke limits of an asset. Zero or nil caps leave
// the corresponding side uncapped.
type SpokeConfig struct {
	Active    bool
	SupplyCap *uint256.Int
	DrawCap   *uint256.Int
}

// Clone returns a deep copy of the config.
func (c SpokeConfig) Clone() SpokeConfig {
	c.SupplyCap = cloneInt(c.SupplyCap)
	c.DrawCap = cloneInt(c.DrawCap)
	return c
}

// PremiumData is the premium bookkeeping of a debt position or the sum of
// many. Premium debt is Realized + Shares*index - Offset.
type PremiumData struct {
	Shares   *uint256.Int
	Offset   *uint256.Int
	Realized *uint256.Int
}

// NewPremiumData returns zeroed premium bookkeeping.
func NewPremiumData() PremiumData {
	return PremiumData{Shares: new(uint256.Int), Offset: new(uint256.Int), Realized: new(uint256.Int)}
}

// Clone returns a deep copy.
func (p PremiumData) Clone() PremiumData {
	return PremiumData{Shares: cloneInt(p.Shares), Offset: cloneInt(p.Offset), Realized: cloneInt(p.Realized)}
}

// IsZero reports whether every field is zero.
func (p PremiumData) IsZero() bool {
	return isZero(p.Shares) && isZero(p.Offset) && isZero(p.Realized)
}

// Debt returns the premium owed at the given drawn index.
func (p PremiumData) Debt(drawnIndex *uint256.Int) *uint256.Int {
	accrued := toDrawnAssetsDown(cloneInt(p.Shares), drawnIndex)
	debt := new(uint256.Int).Add(cloneInt(p.Realized), accrued)
	offset := cloneInt(p.Offset)
	if debt.Cmp(offset) < 0 {
		return new(uint256.Int)
	}
	return debt.Sub(debt, offset)
}

// PremiumChange describes how a spoke rewrote one position's premium
// bookkeeping. The hub applies New-Old to its aggregates.
type PremiumChange struct {
	Old PremiumData
	New PremiumData
}

// spokeState is a spoke's slice of an asset's pools.
type spokeState struct {
	config          SpokeConfig
	suppliedShares  *uint256.Int
	baseDrawnShares *uint256.Int
	premium         PremiumData
}

func newSpokeState(cfg SpokeConfig) *spokeState {
	return &spokeState{
		config:          cfg.Clone(),
		suppliedShares:  new(uint256.Int),
		baseDrawnShares: new(uint256.Int),
		premium:         NewPremiumData(),
	}
}

func (s *spokeState) clone() *spokeState {
	return &spokeState{
		config:          s.config.Clone(),
		suppliedShares:  cloneInt(s.suppliedShares),
		baseDrawnShares: cloneInt(s.baseDrawnShares),
		premium:         s.premium.Clone(),
	}
}

// asset is the hub-wide ledger of one underlying token.
type asset struct {
	id                 AssetID
	config             AssetConfig
	suppliedShares     *uint256.Int
	baseDrawnShares    *uint256.Int
	premium            PremiumData
	supplyIndex        *uint256.Int
	drawnIndex         *uint256.Int
	availableLiquidity *uint256.Int
	baseBorrowRate     *uint256.Int
	lastUpdate         uint64
	spokes             map[common.Address]*spokeState
	spokeOrder         []common.Address
}

func (a *asset) clone() *asset {
	spokes := make(map[common.Address]*spokeState, len(a.spokes))
	for addr, s := range a.spokes {
		spokes[addr] = s.clone()
	}
	return &asset{
		id:                 a.id,
		config:             a.config.Clone(),
		suppliedShares:     cloneInt(a.suppliedShares),
		baseDrawnShares:    cloneInt(a.baseDrawnShares),
		premium:            a.premium.Clone(),
		supplyIndex:        cloneInt(a.supplyIndex),
		drawnIndex:         cloneInt(a.drawnIndex),
		availableLiquidity: cloneInt(a.availableLiquidity),
		baseBorrowRate:     cloneInt(a.baseBorrowRate),
		lastUpdate:         a.lastUpdate,
		spokes:             spokes,
		spokeOrder:         append([]common.Address(nil), a.spokeOrder...),
	}
}

func (a *asset) addSpoke(addr common.Address, cfg SpokeConfig) {
	a.spokes[addr] = newSpokeState(cfg)
	a.spokeOrder = append(a.spokeOrder, addr)
}

// AssetView is a read-only snapshot of an asset at the current time.
type AssetView struct {
	ID                 AssetID
	Config             AssetConfig
	SuppliedShares     *uint256.Int
	SuppliedAssets     *uint256.Int
	BaseDrawnShares    *uint256.Int
	BaseDebt           *uint256.Int
	PremiumDebt        *uint256.Int
	Premium            PremiumData
	AvailableLiquidity *uint256.Int
	SupplyIndex        *uint256.Int
	DrawnIndex         *uint256.Int
	BaseBorrowRate     *uint256.Int
	LastUpdate         uint64
	Spokes             []common.Address
}

// TotalDebt returns base plus premium debt.
func (v AssetView) TotalDebt() *uint256.Int {
	return new(uint256.Int).Add(v.BaseDebt, v.PremiumDebt)
}

// SpokeView is a read-only snapshot of one spoke's slice of an asset.
type SpokeView struct {
	Address         common.Address
	Config          SpokeConfig
	SuppliedShares  *uint256.Int
	SuppliedAssets  *uint256.Int
	BaseDrawnShares *uint256.Int
	BaseDebt        *uint256.Int
	PremiumDebt     *uint256.Int
	Premium         PremiumData
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isZero(v *uint256.Int) bool {
	return v == nil || v.IsZero()
}
