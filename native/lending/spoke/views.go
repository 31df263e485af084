package spoke

import (
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/native/lending/wadray"
)

// ReserveCount returns the number of listed reserves.
func (s *Spoke) ReserveCount() int { return len(s.reserves) }

// ReserveIDForAsset returns the reserve listing a hub asset.
func (s *Spoke) ReserveIDForAsset(assetID hub.AssetID) (ReserveID, bool) {
	id, ok := s.byAsset[assetID]
	return id, ok
}

// Reserve returns a copy of a reserve.
func (s *Spoke) Reserve(id ReserveID) (*Reserve, error) {
	r, err := s.reserve(id)
	if err != nil {
		return nil, err
	}
	return r.Clone(), nil
}

// Users returns every address holding a position, in byte order.
func (s *Spoke) Users() []common.Address {
	users := make([]common.Address, 0, len(s.users))
	for addr := range s.users {
		users = append(users, addr)
	}
	slices.SortFunc(users, func(a, b common.Address) int { return bytes.Compare(a[:], b[:]) })
	return users
}

func (s *Spoke) lookup(id ReserveID, user common.Address) (*Reserve, *UserPosition, error) {
	r, err := s.reserve(id)
	if err != nil {
		return nil, nil, err
	}
	if u, ok := s.users[user]; ok {
		if pos, ok := u.positions[id]; ok {
			return r, pos, nil
		}
	}
	return r, newPosition(), nil
}

// GetUserPosition returns a copy of the user's position, zeroed when the user
// never touched the reserve.
func (s *Spoke) GetUserPosition(id ReserveID, user common.Address) (*UserPosition, error) {
	_, pos, err := s.lookup(id, user)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// GetUserSuppliedShares returns the user's supplied shares.
func (s *Spoke) GetUserSuppliedShares(id ReserveID, user common.Address) (*uint256.Int, error) {
	_, pos, err := s.lookup(id, user)
	if err != nil {
		return nil, err
	}
	return cloneInt(pos.SuppliedShares), nil
}

// GetUserSuppliedAssets returns the user's withdrawable balance.
func (s *Spoke) GetUserSuppliedAssets(id ReserveID, user common.Address) (*uint256.Int, error) {
	r, pos, err := s.lookup(id, user)
	if err != nil {
		return nil, err
	}
	index, err := s.hub.SupplyIndex(r.AssetID)
	if err != nil {
		return nil, err
	}
	return wadray.RayMulDown(pos.SuppliedShares, index), nil
}

// GetUserDebt returns the user's base and premium debt. Both round in the
// protocol's favour so a repayment of their sum clears the position.
func (s *Spoke) GetUserDebt(id ReserveID, user common.Address) (*uint256.Int, *uint256.Int, error) {
	r, pos, err := s.lookup(id, user)
	if err != nil {
		return nil, nil, err
	}
	index, err := s.hub.DrawnIndex(r.AssetID)
	if err != nil {
		return nil, nil, err
	}
	return wadray.RayMulUp(pos.BaseDrawnShares, index), pos.PremiumData().Debt(index), nil
}

// GetUserTotalDebt returns base plus premium debt.
func (s *Spoke) GetUserTotalDebt(id ReserveID, user common.Address) (*uint256.Int, error) {
	base, premium, err := s.GetUserDebt(id, user)
	if err != nil {
		return nil, err
	}
	return base.Add(base, premium), nil
}

// GetReserveDebt returns the reserve's aggregate base and premium debt.
func (s *Spoke) GetReserveDebt(id ReserveID) (*uint256.Int, *uint256.Int, error) {
	r, err := s.reserve(id)
	if err != nil {
		return nil, nil, err
	}
	index, err := s.hub.DrawnIndex(r.AssetID)
	if err != nil {
		return nil, nil, err
	}
	return wadray.RayMulUp(r.BaseDrawnShares, index), r.Premium.Debt(index), nil
}

// GetReserveTotalDebt returns the reserve's base plus premium debt.
func (s *Spoke) GetReserveTotalDebt(id ReserveID) (*uint256.Int, error) {
	base, premium, err := s.GetReserveDebt(id)
	if err != nil {
		return nil, err
	}
	return base.Add(base, premium), nil
}

// GetReserveSuppliedAssets returns the assets claimable by all suppliers of
// the reserve.
func (s *Spoke) GetReserveSuppliedAssets(id ReserveID) (*uint256.Int, error) {
	r, err := s.reserve(id)
	if err != nil {
		return nil, err
	}
	index, err := s.hub.SupplyIndex(r.AssetID)
	if err != nil {
		return nil, err
	}
	return wadray.RayMulDown(r.SuppliedShares, index), nil
}

// GetUserRiskPremium computes the user's risk premium from current state.
func (s *Spoke) GetUserRiskPremium(user common.Address) (uint64, error) {
	u, ok := s.users[user]
	if !ok {
		return 0, nil
	}
	return s.riskPremium(u)
}

// GetUserLastRiskPremium returns the risk premium the user's premium debt is
// currently rated at.
func (s *Spoke) GetUserLastRiskPremium(user common.Address) uint64 {
	if u, ok := s.users[user]; ok {
		return u.riskPremium
	}
	return 0
}

// GetUserAccountData values every position of the user.
func (s *Spoke) GetUserAccountData(user common.Address) (AccountData, error) {
	data := AccountData{
		User:                 user,
		TotalCollateralValue: new(uint256.Int),
		TotalDebtValue:       new(uint256.Int),
		HealthFactor:         wadray.Max(),
	}
	u, ok := s.users[user]
	if !ok {
		return data, nil
	}
	v, err := s.valuate(u)
	if err != nil {
		return AccountData{}, err
	}
	data.TotalCollateralValue = v.collateralValue
	data.TotalDebtValue = v.debtValue
	data.HealthFactor = v.healthFactor()
	data.RiskPremium = v.riskPremium()
	data.ActiveCollaterals = len(v.collateral)
	return data, nil
}
