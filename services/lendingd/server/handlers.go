package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"lendhub/native/lending/hub"
	"lendhub/services/lendingd/ledger"
)

type assetResponse struct {
	ID                 uint32   `json:"id"`
	Symbol             string   `json:"symbol"`
	Decimals           uint8    `json:"decimals"`
	Active             bool     `json:"active"`
	Paused             bool     `json:"paused"`
	LiquidityFeeBps    uint16   `json:"liquidity_fee_bps"`
	FeeReceiver        string   `json:"fee_receiver"`
	SupplyCap          string   `json:"supply_cap"`
	SuppliedShares     string   `json:"supplied_shares"`
	SuppliedAssets     string   `json:"supplied_assets"`
	BaseDebt           string   `json:"base_debt"`
	PremiumDebt        string   `json:"premium_debt"`
	AvailableLiquidity string   `json:"available_liquidity"`
	SupplyIndex        string   `json:"supply_index"`
	DrawnIndex         string   `json:"drawn_index"`
	BaseBorrowRate     string   `json:"base_borrow_rate"`
	LastUpdate         uint64   `json:"last_update"`
	Spokes             []string `json:"spokes"`
}

type reserveResponse struct {
	Spoke               string `json:"spoke"`
	Asset               string `json:"asset"`
	ID                  uint32 `json:"id"`
	Active              bool   `json:"active"`
	Frozen              bool   `json:"frozen"`
	Paused              bool   `json:"paused"`
	Borrowable          bool   `json:"borrowable"`
	Collateral          bool   `json:"collateral"`
	LiquidationBonusBps uint16 `json:"liquidation_bonus_bps"`
	LiquidationFeeBps   uint16 `json:"liquidation_fee_bps"`
	DynamicConfigKey    uint16 `json:"dynamic_config_key"`
	CollateralFactorBps uint16 `json:"collateral_factor_bps"`
	LiquidityPremiumBps uint16 `json:"liquidity_premium_bps"`
	SuppliedAssets      string `json:"supplied_assets"`
	BaseDebt            string `json:"base_debt"`
	PremiumDebt         string `json:"premium_debt"`
	Price               string `json:"price"`
}

type accountResponse struct {
	Spoke                string `json:"spoke"`
	User                 string `json:"user"`
	TotalCollateralValue string `json:"total_collateral_value"`
	TotalDebtValue       string `json:"total_debt_value"`
	HealthFactor         string `json:"health_factor"`
	RiskPremiumBps       uint64 `json:"risk_premium_bps"`
	ActiveCollaterals    int    `json:"active_collaterals"`
}

type positionResponse struct {
	Spoke              string `json:"spoke"`
	Asset              string `json:"asset"`
	User               string `json:"user"`
	SuppliedShares     string `json:"supplied_shares"`
	SuppliedAssets     string `json:"supplied_assets"`
	BaseDrawnShares    string `json:"base_drawn_shares"`
	BaseDebt           string `json:"base_debt"`
	PremiumDrawnShares string `json:"premium_drawn_shares"`
	PremiumOffset      string `json:"premium_offset"`
	RealizedPremium    string `json:"realized_premium"`
	PremiumDebt        string `json:"premium_debt"`
	ConfigKey          uint16 `json:"config_key"`
	UsingAsCollateral  bool   `json:"using_as_collateral"`
}

type historyEntry struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Asset     string `json:"asset,omitempty"`
	Caller    string `json:"caller"`
	Amount    string `json:"amount,omitempty"`
	Result    string `json:"result,omitempty"`
	CreatedAt string `json:"created_at"`
}

type actionRequest struct {
	User    string `json:"user"`
	Amount  string `json:"amount"`
	Enabled *bool  `json:"enabled"`
}

type actionResponse struct {
	Action string `json:"action"`
	User   string `json:"user"`
	Result string `json:"result,omitempty"`
}

type refreshRequest struct {
	DynamicConfig bool `json:"dynamic_config"`
}

type priceRequest struct {
	Spoke string `json:"spoke"`
	Asset string `json:"asset"`
	Price string `json:"price"`
}

func (s *Server) getAsset(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Asset(chi.URLParam(r, "asset"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	spokes := make([]string, 0, len(view.Spokes))
	for _, addr := range view.Spokes {
		spokes = append(spokes, addr.Hex())
	}
	writeJSON(w, http.StatusOK, assetResponse{
		ID:                 uint32(view.ID),
		Symbol:             view.Config.Symbol,
		Decimals:           view.Config.Decimals,
		Active:             view.Config.Active,
		Paused:             view.Config.Paused,
		LiquidityFeeBps:    view.Config.LiquidityFee,
		FeeReceiver:        view.Config.FeeReceiver.Hex(),
		SupplyCap:          dec(view.Config.SupplyCap),
		SuppliedShares:     dec(view.SuppliedShares),
		SuppliedAssets:     dec(view.SuppliedAssets),
		BaseDebt:           dec(view.BaseDebt),
		PremiumDebt:        dec(view.PremiumDebt),
		AvailableLiquidity: dec(view.AvailableLiquidity),
		SupplyIndex:        dec(view.SupplyIndex),
		DrawnIndex:         dec(view.DrawnIndex),
		BaseBorrowRate:     dec(view.BaseBorrowRate),
		LastUpdate:         view.LastUpdate,
		Spokes:             spokes,
	})
}

func (s *Server) getReserve(w http.ResponseWriter, r *http.Request) {
	view, err := s.ledger.Reserve(chi.URLParam(r, "spoke"), chi.URLParam(r, "reserve"))
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	res := view.Reserve
	dynamic, _ := res.DynamicConfig(res.DynamicConfigKey)
	writeJSON(w, http.StatusOK, reserveResponse{
		Spoke:               view.Spoke,
		Asset:               view.Symbol,
		ID:                  uint32(res.ID),
		Active:              res.Config.Active,
		Frozen:              res.Config.Frozen,
		Paused:              res.Config.Paused,
		Borrowable:          res.Config.Borrowable,
		Collateral:          res.Config.Collateral,
		LiquidationBonusBps: res.Config.LiquidationBonus,
		LiquidationFeeBps:   res.Config.LiquidationFee,
		DynamicConfigKey:    res.DynamicConfigKey,
		CollateralFactorBps: dynamic.CollateralFactor,
		LiquidityPremiumBps: dynamic.LiquidityPremium,
		SuppliedAssets:      dec(view.SuppliedAssets),
		BaseDebt:            dec(view.BaseDebt),
		PremiumDebt:         dec(view.PremiumDebt),
		Price:               dec(view.Price),
	})
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r)
	if !ok {
		return
	}
	spokeName := chi.URLParam(r, "spoke")
	data, err := s.ledger.Account(spokeName, user)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		Spoke:                spokeName,
		User:                 user.Hex(),
		TotalCollateralValue: dec(data.TotalCollateralValue),
		TotalDebtValue:       dec(data.TotalDebtValue),
		HealthFactor:         dec(data.HealthFactor),
		RiskPremiumBps:       data.RiskPremium,
		ActiveCollaterals:    data.ActiveCollaterals,
	})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r)
	if !ok {
		return
	}
	view, err := s.ledger.Position(chi.URLParam(r, "spoke"), chi.URLParam(r, "reserve"), user)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	pos := view.Position
	writeJSON(w, http.StatusOK, positionResponse{
		Spoke:              view.Spoke,
		Asset:              view.Symbol,
		User:               user.Hex(),
		SuppliedShares:     dec(pos.SuppliedShares),
		SuppliedAssets:     dec(view.SuppliedAssets),
		BaseDrawnShares:    dec(pos.BaseDrawnShares),
		BaseDebt:           dec(view.BaseDebt),
		PremiumDrawnShares: dec(pos.PremiumDrawnShares),
		PremiumOffset:      dec(pos.PremiumOffset),
		RealizedPremium:    dec(pos.RealizedPremium),
		PremiumDebt:        dec(view.PremiumDebt),
		ConfigKey:          pos.ConfigKey,
		UsingAsCollateral:  pos.UsingAsCollateral,
	})
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := pathAddress(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = parsed
	}
	entries, err := s.ledger.History(r.Context(), chi.URLParam(r, "spoke"), user, limit)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	out := make([]historyEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, historyEntry{
			ID:        entry.ID.String(),
			Action:    entry.Action,
			Asset:     entry.Asset,
			Caller:    entry.Caller,
			Amount:    entry.Amount,
			Result:    entry.Result,
			CreatedAt: entry.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (s *Server) postReserveAction(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var body actionRequest
	if !decodeBody(w, r, &body) {
		return
	}
	user := caller
	if strings.TrimSpace(body.User) != "" {
		if !common.IsHexAddress(body.User) {
			writeError(w, http.StatusBadRequest, "user must be a hex address", nil)
			return
		}
		user = common.HexToAddress(body.User)
	}
	req := ledger.Request{
		Spoke:  chi.URLParam(r, "spoke"),
		Asset:  chi.URLParam(r, "reserve"),
		Caller: caller,
		User:   user,
	}
	action := chi.URLParam(r, "action")
	if action == ledger.ActionCollateral {
		if body.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required", nil)
			return
		}
		if err := s.ledger.SetCollateral(r.Context(), req, *body.Enabled); err != nil {
			s.writeLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, actionResponse{Action: action, User: user.Hex()})
		return
	}

	var run func(ledger.Request) (*uint256.Int, error)
	switch action {
	case ledger.ActionSupply:
		run = func(req ledger.Request) (*uint256.Int, error) { return s.ledger.Supply(r.Context(), req) }
	case ledger.ActionWithdraw:
		run = func(req ledger.Request) (*uint256.Int, error) { return s.ledger.Withdraw(r.Context(), req) }
	case ledger.ActionBorrow:
		run = func(req ledger.Request) (*uint256.Int, error) { return s.ledger.Borrow(r.Context(), req) }
	case ledger.ActionRepay:
		run = func(req ledger.Request) (*uint256.Int, error) { return s.ledger.Repay(r.Context(), req) }
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", action), nil)
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	req.Amount = amount
	result, err := run(req)
	if err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: action, User: user.Hex(), Result: result.Dec()})
}

func (s *Server) postRefresh(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	user, ok := pathAddress(w, r)
	if !ok {
		return
	}
	var body refreshRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	if err := s.ledger.RefreshUser(r.Context(), chi.URLParam(r, "spoke"), caller, user, body.DynamicConfig); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	action := ledger.ActionRiskPremium
	if body.DynamicConfig {
		action = ledger.ActionDynamicConfig
	}
	writeJSON(w, http.StatusOK, actionResponse{Action: action, User: user.Hex()})
}

func (s *Server) postPrice(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFromContext(r.Context())
	var body priceRequest
	if !decodeBody(w, r, &body) {
		return
	}
	price, err := uint256.FromDecimal(strings.TrimSpace(body.Price))
	if err != nil {
		writeError(w, http.StatusBadRequest, "price must be a decimal integer", nil)
		return
	}
	if err := s.ledger.SetPrice(r.Context(), body.Spoke, body.Asset, caller, price); err != nil {
		s.writeLedgerError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "user")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "user must be a hex address", nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload", nil)
		return false
	}
	return true
}

var errAmountRequired = errors.New("amount is required")

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, errAmountRequired
	case strings.EqualFold(raw, "max"):
		return hub.MaxAmount(), nil
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q is not a decimal integer", raw)
	}
	return amount, nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
