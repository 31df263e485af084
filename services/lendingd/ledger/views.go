package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/spoke"
)

// ReserveView is a spoke reserve with its aggregates accrued to now.
type ReserveView struct {
	Spoke          string
	Symbol         string
	Reserve        *spoke.Reserve
	SuppliedAssets *uint256.Int
	BaseDebt       *uint256.Int
	PremiumDebt    *uint256.Int
	Price          *uint256.Int
}

// PositionView is one user's position with amounts accrued to now.
type PositionView struct {
	Spoke          string
	Symbol         string
	User           common.Address
	Position       *spoke.UserPosition
	SuppliedAssets *uint256.Int
	BaseDebt       *uint256.Int
	PremiumDebt    *uint256.Int
}

// Spokes lists the configured spoke names in listing order.
func (l *Ledger) Spokes() []string {
	return append([]string(nil), l.order...)
}

// Asset returns the hub asset listed under symbol.
func (l *Ledger) Asset(symbol string) (hub.AssetView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, err := l.assetID(symbol)
	if err != nil {
		return hub.AssetView{}, err
	}
	return l.hub.Asset(id)
}

// Reserve returns the spoke's reserve of asset.
func (l *Ledger) Reserve(spokeName, asset string) (ReserveView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mk, err := l.market(spokeName)
	if err != nil {
		return ReserveView{}, err
	}
	id, err := l.reserveID(mk, asset)
	if err != nil {
		return ReserveView{}, err
	}
	reserve, err := mk.spoke.Reserve(id)
	if err != nil {
		return ReserveView{}, err
	}
	supplied, err := mk.spoke.GetReserveSuppliedAssets(id)
	if err != nil {
		return ReserveView{}, err
	}
	base, premium, err := mk.spoke.GetReserveDebt(id)
	if err != nil {
		return ReserveView{}, err
	}
	price, err := mk.prices.ReservePrice(uint32(id))
	if err != nil {
		return ReserveView{}, err
	}
	return ReserveView{
		Spoke:          spokeName,
		Symbol:         l.symbol(reserve.AssetID),
		Reserve:        reserve,
		SuppliedAssets: supplied,
		BaseDebt:       base,
		PremiumDebt:    premium,
		Price:          price,
	}, nil
}

// Account returns the user's aggregate account data on the spoke.
func (l *Ledger) Account(spokeName string, user common.Address) (spoke.AccountData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mk, err := l.market(spokeName)
	if err != nil {
		return spoke.AccountData{}, err
	}
	return mk.spoke.GetUserAccountData(user)
}

// Position returns the user's position in the spoke's reserve of asset.
func (l *Ledger) Position(spokeName, asset string, user common.Address) (PositionView, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	mk, err := l.market(spokeName)
	if err != nil {
		return PositionView{}, err
	}
	id, err := l.reserveID(mk, asset)
	if err != nil {
		return PositionView{}, err
	}
	pos, err := mk.spoke.GetUserPosition(id, user)
	if err != nil {
		return PositionView{}, err
	}
	supplied, err := mk.spoke.GetUserSuppliedAssets(id, user)
	if err != nil {
		return PositionView{}, err
	}
	base, premium, err := mk.spoke.GetUserDebt(id, user)
	if err != nil {
		return PositionView{}, err
	}
	reserve, err := mk.spoke.Reserve(id)
	if err != nil {
		return PositionView{}, err
	}
	return PositionView{
		Spoke:          spokeName,
		Symbol:         l.symbol(reserve.AssetID),
		User:           user,
		Position:       pos,
		SuppliedAssets: supplied,
		BaseDebt:       base,
		PremiumDebt:    premium,
	}, nil
}

// History returns the user's most recent journal entries on the spoke.
func (l *Ledger) History(ctx context.Context, spokeName string, user common.Address, limit int) ([]JournalEntry, error) {
	if _, err := l.lockedMarket(spokeName); err != nil {
		return nil, err
	}
	return l.journal.Recent(ctx, spokeName, user, limit)
}

func (l *Ledger) lockedMarket(name string) (*market, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.market(name)
}

func (l *Ledger) symbol(id hub.AssetID) string {
	cfg, err := l.hub.AssetConfig(id)
	if err != nil {
		return ""
	}
	return cfg.Symbol
}
