// Package observability exposes the Prometheus instruments recorded by the
// lending daemon.
package observability

import (
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lendhub"

// LedgerMetrics groups the ledger and HTTP instruments.
type LedgerMetrics struct {
	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	supplyIndex *prometheus.GaugeVec
	drawnIndex  *prometheus.GaugeVec
	liquidity   *prometheus.GaugeVec
	debt        *prometheus.GaugeVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttles   *prometheus.CounterVec
}

var (
	ledgerMetricsOnce sync.Once
	ledgerRegistry    *LedgerMetrics
)

// Ledger returns the lazily-initialised metrics registered on the default
// Prometheus registry.
func Ledger() *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerRegistry = NewLedgerMetrics(prometheus.DefaultRegisterer)
	})
	return ledgerRegistry
}

// NewLedgerMetrics creates the instruments and registers them on reg.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	m := &LedgerMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Ledger operations segmented by spoke, action and outcome.",
		}, []string{"spoke", "action", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_duration_seconds",
			Help:      "Latency of ledger operations including persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"action"}),
		supplyIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "supply_index",
			Help:      "Supply index of an asset as a multiple of one.",
		}, []string{"asset"}),
		drawnIndex: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "drawn_index",
			Help:      "Base debt index of an asset as a multiple of one.",
		}, []string{"asset"}),
		liquidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "available_liquidity",
			Help:      "Liquidity held by the hub in whole tokens.",
		}, []string{"asset"}),
		debt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "total_debt",
			Help:      "Base plus premium debt of an asset in whole tokens.",
		}, []string{"asset"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests segmented by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for HTTP handlers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "throttles_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"reason"}),
	}
	reg.MustRegister(m.operations, m.duration, m.supplyIndex, m.drawnIndex, m.liquidity, m.debt, m.requests, m.latency, m.throttles)
	return m
}

// ObserveOperation records the outcome of a ledger call.
func (m *LedgerMetrics) ObserveOperation(spoke, action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(spoke, action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// AssetSnapshot is the per-asset state exported as gauges. Indices are ray
// scaled, amounts use the asset's decimals.
type AssetSnapshot struct {
	Symbol      string
	Decimals    uint8
	SupplyIndex *uint256.Int
	DrawnIndex  *uint256.Int
	Liquidity   *uint256.Int
	TotalDebt   *uint256.Int
}

// SetAsset updates the gauges of one asset.
func (m *LedgerMetrics) SetAsset(s AssetSnapshot) {
	if m == nil {
		return
	}
	m.supplyIndex.WithLabelValues(s.Symbol).Set(Scaled(s.SupplyIndex, 27))
	m.drawnIndex.WithLabelValues(s.Symbol).Set(Scaled(s.DrawnIndex, 27))
	m.liquidity.WithLabelValues(s.Symbol).Set(Scaled(s.Liquidity, s.Decimals))
	m.debt.WithLabelValues(s.Symbol).Set(Scaled(s.TotalDebt, s.Decimals))
}

// ObserveHTTP records one HTTP response.
func (m *LedgerMetrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// Throttled counts a rate-limited request.
func (m *LedgerMetrics) Throttled(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// Scaled converts a fixed-point integer into a float for gauges. Precision
// loss is acceptable for dashboards.
func Scaled(v *uint256.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	num := new(big.Float).SetInt(v.ToBig())
	den := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	out, _ := new(big.Float).Quo(num, den).Float64()
	return out
}
