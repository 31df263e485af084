package config

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"lendhub/native/lending/oracle"
)

const (
	maxBps      = 10_000
	maxDecimals = 18
)

// Validate checks the listing for internal consistency.
func (m *Market) Validate() error {
	var errs []error
	if m.OracleDecimals > oracle.MaxDecimals {
		errs = append(errs, fmt.Errorf("oracle decimals %d above %d", m.OracleDecimals, oracle.MaxDecimals))
	}
	if len(m.Admins) == 0 {
		errs = append(errs, errors.New("admins: at least one admin required"))
	}
	for _, admin := range m.Admins {
		if !common.IsHexAddress(admin) {
			errs = append(errs, fmt.Errorf("admins: %q is not a hex address", admin))
		}
	}
	if len(m.Assets) == 0 {
		errs = append(errs, errors.New("assets: at least one asset required"))
	}
	seen := make(map[string]struct{}, len(m.Assets))
	for _, a := range m.Assets {
		prefix := fmt.Sprintf("asset %s", a.Symbol)
		if a.Symbol == "" {
			errs = append(errs, errors.New("asset: symbol required"))
		}
		if _, dup := seen[a.Symbol]; dup {
			errs = append(errs, fmt.Errorf("%s: listed twice", prefix))
		}
		seen[a.Symbol] = struct{}{}
		if a.Decimals > maxDecimals {
			errs = append(errs, fmt.Errorf("%s: decimals %d above %d", prefix, a.Decimals, maxDecimals))
		}
		if a.LiquidityFeeBps > maxBps {
			errs = append(errs, fmt.Errorf("%s: liquidity fee %d above %d bps", prefix, a.LiquidityFeeBps, maxBps))
		}
		if !common.IsHexAddress(a.FeeReceiver) || common.HexToAddress(a.FeeReceiver) == (common.Address{}) {
			errs = append(errs, fmt.Errorf("%s: fee receiver %q must be a non-zero hex address", prefix, a.FeeReceiver))
		}
		if _, err := ParseAmount(a.SupplyCap); err != nil {
			errs = append(errs, fmt.Errorf("%s: supply cap: %w", prefix, err))
		}
		switch a.Rate.Kind {
		case RateFixed:
		case RateCurve:
			if a.Rate.KinkBps == 0 || a.Rate.KinkBps >= maxBps {
				errs = append(errs, fmt.Errorf("%s: rate kink %d must be within (0, %d)", prefix, a.Rate.KinkBps, maxBps))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown rate kind %q", prefix, a.Rate.Kind))
		}
	}

	addresses := make(map[common.Address]struct{}, len(m.Spokes))
	for _, s := range m.Spokes {
		prefix := fmt.Sprintf("spoke %s", s.Name)
		if s.Name == "" {
			errs = append(errs, errors.New("spoke: name required"))
		}
		if !common.IsHexAddress(s.Address) {
			errs = append(errs, fmt.Errorf("%s: address %q is not a hex address", prefix, s.Address))
			continue
		}
		addr := common.HexToAddress(s.Address)
		if _, dup := addresses[addr]; dup {
			errs = append(errs, fmt.Errorf("%s: address %s used twice", prefix, addr.Hex()))
		}
		addresses[addr] = struct{}{}
		listed := make(map[string]struct{}, len(s.Reserves))
		for _, r := range s.Reserves {
			rprefix := fmt.Sprintf("%s reserve %s", prefix, r.Asset)
			if _, ok := m.AssetIndex(r.Asset); !ok {
				errs = append(errs, fmt.Errorf("%s: asset not listed", rprefix))
			}
			if _, dup := listed[r.Asset]; dup {
				errs = append(errs, fmt.Errorf("%s: listed twice", rprefix))
			}
			listed[r.Asset] = struct{}{}
			for name, raw := range map[string]string{"supply cap": r.SupplyCap, "draw cap": r.DrawCap} {
				if _, err := ParseAmount(raw); err != nil {
					errs = append(errs, fmt.Errorf("%s: %s: %w", rprefix, name, err))
				}
			}
			if price, err := ParseAmount(r.Price); err != nil || price.IsZero() {
				errs = append(errs, fmt.Errorf("%s: price %q must be a positive integer", rprefix, r.Price))
			}
			if r.LiquidationBonusBps < maxBps {
				errs = append(errs, fmt.Errorf("%s: liquidation bonus %d below %d bps", rprefix, r.LiquidationBonusBps, maxBps))
			}
			for name, bps := range map[string]uint16{
				"liquidation fee":   r.LiquidationFeeBps,
				"collateral factor": r.CollateralFactorBps,
				"liquidity premium": r.LiquidityPremiumBps,
			} {
				if bps > maxBps {
					errs = append(errs, fmt.Errorf("%s: %s %d above %d bps", rprefix, name, bps, maxBps))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid market: %w", errors.Join(errs...))
	}
	return nil
}
