package spoke

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
)

// State is a serialisable copy of a spoke. Amounts are *big.Int so the
// struct encodes directly with RLP.
type State struct {
	Address  common.Address
	Reserves []ReserveState
	Users    []UserState
}

// ReserveState is the exported form of one reserve.
type ReserveState struct {
	AssetID          uint32
	Decimals         uint8
	Config           ReserveConfig
	DynamicConfigKey uint16
	DynamicConfigs   []DynamicReserveConfig
	SuppliedShares   *big.Int
	BaseDrawnShares  *big.Int
	PremiumShares    *big.Int
	PremiumOffset    *big.Int
	RealizedPremium  *big.Int
}

// UserState is the exported form of a user's positions.
type UserState struct {
	Address     common.Address
	RiskPremium uint64
	Positions   []PositionState
}

// PositionState is the exported form of one position.
type PositionState struct {
	Reserve            uint32
	SuppliedShares     *big.Int
	BaseDrawnShares    *big.Int
	PremiumDrawnShares *big.Int
	PremiumOffset      *big.Int
	RealizedPremium    *big.Int
	ConfigKey          uint16
	UsingAsCollateral  bool
}

// Export captures the spoke state with users in address order.
func (s *Spoke) Export() State {
	state := State{Address: s.address, Reserves: make([]ReserveState, 0, len(s.reserves))}
	for _, r := range s.reserves {
		state.Reserves = append(state.Reserves, ReserveState{
			AssetID:          uint32(r.AssetID),
			Decimals:         r.Decimals,
			Config:           r.Config,
			DynamicConfigKey: r.DynamicConfigKey,
			DynamicConfigs:   append([]DynamicReserveConfig(nil), r.DynamicConfigs...),
			SuppliedShares:   toBig(r.SuppliedShares),
			BaseDrawnShares:  toBig(r.BaseDrawnShares),
			PremiumShares:    toBig(r.Premium.Shares),
			PremiumOffset:    toBig(r.Premium.Offset),
			RealizedPremium:  toBig(r.Premium.Realized),
		})
	}
	for _, addr := range s.Users() {
		u := s.users[addr]
		entry := UserState{Address: addr, RiskPremium: u.riskPremium}
		for _, id := range u.sortedIDs() {
			pos := u.positions[id]
			entry.Positions = append(entry.Positions, PositionState{
				Reserve:            uint32(id),
				SuppliedShares:     toBig(pos.SuppliedShares),
				BaseDrawnShares:    toBig(pos.BaseDrawnShares),
				PremiumDrawnShares: toBig(pos.PremiumDrawnShares),
				PremiumOffset:      toBig(pos.PremiumOffset),
				RealizedPremium:    toBig(pos.RealizedPremium),
				ConfigKey:          pos.ConfigKey,
				UsingAsCollateral:  pos.UsingAsCollateral,
			})
		}
		state.Users = append(state.Users, entry)
	}
	return state
}

// Import replaces the spoke state. The address recorded in state must match
// the spoke.
func (s *Spoke) Import(state State) error {
	if state.Address != s.address {
		return fmt.Errorf("%w: state for %s imported into %s", ErrInvalidReserveConfig, state.Address.Hex(), s.address.Hex())
	}
	reserves := make([]*Reserve, 0, len(state.Reserves))
	byAsset := make(map[hub.AssetID]ReserveID, len(state.Reserves))
	for i, entry := range state.Reserves {
		id := ReserveID(i)
		if len(entry.DynamicConfigs) == 0 || int(entry.DynamicConfigKey) >= len(entry.DynamicConfigs) {
			return fmt.Errorf("reserve %d key %d: %w", id, entry.DynamicConfigKey, ErrDynamicConfigNotFound)
		}
		r := &Reserve{
			ID:               id,
			AssetID:          hub.AssetID(entry.AssetID),
			Decimals:         entry.Decimals,
			Config:           entry.Config,
			DynamicConfigKey: entry.DynamicConfigKey,
			DynamicConfigs:   append([]DynamicReserveConfig(nil), entry.DynamicConfigs...),
		}
		if err := decodeInts(fmt.Sprintf("reserve %d", id), []intField{
			{&r.SuppliedShares, entry.SuppliedShares},
			{&r.BaseDrawnShares, entry.BaseDrawnShares},
			{&r.Premium.Shares, entry.PremiumShares},
			{&r.Premium.Offset, entry.PremiumOffset},
			{&r.Premium.Realized, entry.RealizedPremium},
		}); err != nil {
			return err
		}
		reserves = append(reserves, r)
		byAsset[r.AssetID] = id
	}
	users := make(map[common.Address]*userState, len(state.Users))
	for _, entry := range state.Users {
		u := newUserState()
		u.riskPremium = entry.RiskPremium
		for _, p := range entry.Positions {
			if int(p.Reserve) >= len(reserves) {
				return fmt.Errorf("user %s reserve %d: %w", entry.Address.Hex(), p.Reserve, ErrReserveNotListed)
			}
			pos := &UserPosition{ConfigKey: p.ConfigKey, UsingAsCollateral: p.UsingAsCollateral}
			if err := decodeInts(fmt.Sprintf("user %s reserve %d", entry.Address.Hex(), p.Reserve), []intField{
				{&pos.SuppliedShares, p.SuppliedShares},
				{&pos.BaseDrawnShares, p.BaseDrawnShares},
				{&pos.PremiumDrawnShares, p.PremiumDrawnShares},
				{&pos.PremiumOffset, p.PremiumOffset},
				{&pos.RealizedPremium, p.RealizedPremium},
			}); err != nil {
				return err
			}
			u.positions[ReserveID(p.Reserve)] = pos
		}
		users[entry.Address] = u
	}
	s.reserves = reserves
	s.byAsset = byAsset
	s.users = users
	return nil
}

type intField struct {
	dst **uint256.Int
	src *big.Int
}

func decodeInts(label string, fields []intField) error {
	for _, f := range fields {
		if f.src == nil {
			*f.dst = new(uint256.Int)
			continue
		}
		v, overflow := uint256.FromBig(f.src)
		if overflow || f.src.Sign() < 0 {
			return fmt.Errorf("%s: %w: value %s out of range", label, hub.ErrAmountOverflow, f.src.String())
		}
		*f.dst = v
	}
	return nil
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}
