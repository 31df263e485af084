// Package config loads the TOML market listing consumed by the lending
// daemon.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"lendhub/native/lending/oracle"
	"lendhub/native/lending/rates"
)

const (
	RateFixed = "fixed"
	RateCurve = "curve"

	defaultLiquidationBonusBps = 10_500
)

// Load reads, normalises and validates the market file at path. Unknown keys
// are rejected so a typo cannot silently drop a risk parameter.
func Load(path string) (*Market, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	market := &Market{}
	meta, err := toml.DecodeFile(path, market)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config: %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	market.normalize()
	if err := market.Validate(); err != nil {
		return nil, err
	}
	return market, nil
}

func (m *Market) normalize() {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		m.Name = "lendhub-local"
	}
	if m.OracleDecimals == 0 {
		m.OracleDecimals = oracle.DefaultDecimals
	}
	for i := range m.Admins {
		m.Admins[i] = strings.TrimSpace(m.Admins[i])
	}
	for i := range m.Assets {
		a := &m.Assets[i]
		a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
		a.Rate.Kind = strings.ToLower(strings.TrimSpace(a.Rate.Kind))
		if a.Rate.Kind == "" {
			a.Rate.Kind = RateCurve
		}
	}
	for i := range m.Spokes {
		s := &m.Spokes[i]
		s.Name = strings.TrimSpace(s.Name)
		for j := range s.Reserves {
			r := &s.Reserves[j]
			r.Asset = strings.ToUpper(strings.TrimSpace(r.Asset))
			if r.LiquidationBonusBps == 0 {
				r.LiquidationBonusBps = defaultLiquidationBonusBps
			}
		}
	}
}

// AdminAddresses returns the parsed admin list.
func (m *Market) AdminAddresses() []common.Address {
	out := make([]common.Address, 0, len(m.Admins))
	for _, admin := range m.Admins {
		out = append(out, common.HexToAddress(admin))
	}
	return out
}

// AssetIndex returns the listing position of symbol.
func (m *Market) AssetIndex(symbol string) (int, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for i, a := range m.Assets {
		if a.Symbol == symbol {
			return i, true
		}
	}
	return 0, false
}

// Strategy builds the asset's interest-rate strategy.
func (r Rate) Strategy() rates.Strategy {
	if r.Kind == RateFixed {
		return rates.NewFixed(r.BaseBps)
	}
	return rates.NewCurve(r.BaseBps, r.Slope1Bps, r.Slope2Bps, r.KinkBps)
}

// ParseAmount parses an optional decimal amount. An empty string is zero,
// which caps read as "uncapped".
func ParseAmount(raw string) (*uint256.Int, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if raw == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", raw, err)
	}
	return v, nil
}
