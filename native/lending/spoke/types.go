package spoke

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
)

// ReserveID indexes a spoke's reserves in listing order.
type ReserveID uint32

// ReserveConfig is the static configuration of a reserve. Bonus and fee are
// basis points; the bonus is at least 100%.
type ReserveConfig struct {
	Active           bool
	Frozen           bool
	Paused           bool
	Borrowable       bool
	Collateral       bool
	LiquidationBonus uint16
	LiquidationFee   uint16
}

// DynamicReserveConfig is one version of a reserve's risk terms, both in
// basis points.
type DynamicReserveConfig struct {
	CollateralFactor uint16
	LiquidityPremium uint16
}

// Reserve is a spoke's market for one hub asset.
type Reserve struct {
	ID               ReserveID
	AssetID          hub.AssetID
	Decimals         uint8
	Config           ReserveConfig
	DynamicConfigKey uint16
	DynamicConfigs   []DynamicReserveConfig
	SuppliedShares   *uint256.Int
	BaseDrawnShares  *uint256.Int
	Premium          hub.PremiumData
}

// Clone returns a deep copy of the reserve.
func (r *Reserve) Clone() *Reserve {
	if r == nil {
		return nil
	}
	clone := *r
	clone.DynamicConfigs = append([]DynamicReserveConfig(nil), r.DynamicConfigs...)
	clone.SuppliedShares = cloneInt(r.SuppliedShares)
	clone.BaseDrawnShares = cloneInt(r.BaseDrawnShares)
	clone.Premium = r.Premium.Clone()
	return &clone
}

// DynamicConfig returns the risk terms stored under key.
func (r *Reserve) DynamicConfig(key uint16) (DynamicReserveConfig, bool) {
	if int(key) >= len(r.DynamicConfigs) {
		return DynamicReserveConfig{}, false
	}
	return r.DynamicConfigs[key], true
}

// UserPosition is one user's state in one reserve. Positions are created
// zeroed on first interaction and are never removed.
type UserPosition struct {
	SuppliedShares     *uint256.Int
	BaseDrawnShares    *uint256.Int
	PremiumDrawnShares *uint256.Int
	PremiumOffset      *uint256.Int
	RealizedPremium    *uint256.Int
	ConfigKey          uint16
	UsingAsCollateral  bool
}

func newPosition() *UserPosition {
	return &UserPosition{
		SuppliedShares:     new(uint256.Int),
		BaseDrawnShares:    new(uint256.Int),
		PremiumDrawnShares: new(uint256.Int),
		PremiumOffset:      new(uint256.Int),
		RealizedPremium:    new(uint256.Int),
	}
}

// Clone returns a deep copy of the position.
func (p *UserPosition) Clone() *UserPosition {
	clone := *p
	clone.SuppliedShares = cloneInt(p.SuppliedShares)
	clone.BaseDrawnShares = cloneInt(p.BaseDrawnShares)
	clone.PremiumDrawnShares = cloneInt(p.PremiumDrawnShares)
	clone.PremiumOffset = cloneInt(p.PremiumOffset)
	clone.RealizedPremium = cloneInt(p.RealizedPremium)
	return &clone
}

// PremiumData returns the position's premium bookkeeping.
func (p *UserPosition) PremiumData() hub.PremiumData {
	return hub.PremiumData{
		Shares:   cloneInt(p.PremiumDrawnShares),
		Offset:   cloneInt(p.PremiumOffset),
		Realized: cloneInt(p.RealizedPremium),
	}
}

func (p *UserPosition) setPremium(data hub.PremiumData) {
	p.PremiumDrawnShares = cloneInt(data.Shares)
	p.PremiumOffset = cloneInt(data.Offset)
	p.RealizedPremium = cloneInt(data.Realized)
}

func (p *UserPosition) hasDebt() bool {
	return !p.BaseDrawnShares.IsZero() || !p.PremiumData().IsZero()
}

type userState struct {
	positions   map[ReserveID]*UserPosition
	riskPremium uint64
}

func newUserState() *userState {
	return &userState{positions: make(map[ReserveID]*UserPosition)}
}

func (u *userState) clone() *userState {
	clone := &userState{positions: make(map[ReserveID]*UserPosition, len(u.positions)), riskPremium: u.riskPremium}
	for id, pos := range u.positions {
		clone.positions[id] = pos.Clone()
	}
	return clone
}

func (u *userState) position(id ReserveID) *UserPosition {
	pos, ok := u.positions[id]
	if !ok {
		pos = newPosition()
		u.positions[id] = pos
	}
	return pos
}

// AccountData summarises a user's positions in base-currency terms, scaled
// by 1e18.
type AccountData struct {
	User                 common.Address
	TotalCollateralValue *uint256.Int
	TotalDebtValue       *uint256.Int
	HealthFactor         *uint256.Int
	RiskPremium          uint64
	ActiveCollaterals    int
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
