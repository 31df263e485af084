// Package server exposes the lending ledger over a JSON HTTP API. Amounts are
// decimal strings in the asset's smallest unit; "max" selects everything for
// withdraw and repay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	nativecommon "lendhub/native/common"
	"lendhub/native/lending/hub"
	"lendhub/native/lending/oracle"
	"lendhub/native/lending/spoke"
	"lendhub/observability"
	"lendhub/services/lendingd/ledger"
)

const maxBodyBytes = 1 << 16

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger  *ledger.Ledger
	Auth    *Authenticator
	Limiter *RateLimiter
	Metrics *observability.LedgerMetrics
	// Gatherer backs /metrics; the default Prometheus registry when nil.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server encapsulates the HTTP API.
type Server struct {
	ledger   *ledger.Ledger
	auth     *Authenticator
	limiter  *RateLimiter
	metrics  *observability.LedgerMetrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	router http.Handler
}

func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Auth == nil {
		// an empty secret rejects every token
		cfg.Auth = NewAuthenticator(AuthConfig{}, cfg.Logger)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(RateLimit{RequestsPerMinute: 600, Burst: 60}, cfg.Metrics)
	}
	s := &Server{
		ledger:   cfg.Ledger,
		auth:     cfg.Auth,
		limiter:  cfg.Limiter,
		metrics:  cfg.Metrics,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(withRequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(v1 chi.Router) {
		v1.Group(func(read chi.Router) {
			read.Use(s.limiter.Middleware)
			read.Get("/assets/{asset}", s.getAsset)
			read.Get("/spokes/{spoke}/reserves/{reserve}", s.getReserve)
			read.Get("/spokes/{spoke}/reserves/{reserve}/users/{user}", s.getPosition)
			read.Get("/spokes/{spoke}/users/{user}", s.getAccount)
			read.Get("/spokes/{spoke}/users/{user}/history", s.getHistory)
		})
		v1.Group(func(write chi.Router) {
			write.Use(s.auth.Middleware(ScopeLendingWrite))
			write.Use(s.limiter.Middleware)
			write.Post("/spokes/{spoke}/reserves/{reserve}/{action}", s.postReserveAction)
			write.Post("/spokes/{spoke}/users/{user}/refresh", s.postRefresh)
		})
		v1.Group(func(oracleWrite chi.Router) {
			oracleWrite.Use(s.auth.Middleware(ScopeOracleWrite))
			oracleWrite.Use(s.limiter.Middleware)
			oracleWrite.Post("/prices", s.postPrice)
		})
	})
	return otelhttp.NewHandler(r, "lendingd")
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyRequestID, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(start)
		s.metrics.ObserveHTTP(route, r.Method, recorder.status, elapsed)
		level := slog.LevelDebug
		if recorder.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "http request",
			"method", r.Method,
			"route", route,
			"status", recorder.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", requestID(r.Context()))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

type errorResponse struct {
	Error string `json:"error"`
	Limit string `json:"limit,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, limit *string) {
	body := errorResponse{Error: msg}
	if limit != nil {
		body.Limit = *limit
	}
	writeJSON(w, status, body)
}

// writeLedgerError maps ledger failures onto HTTP statuses. Unexpected errors
// are logged and reported without detail.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("ledger call failed", "error", err, "request_id", requestID(r.Context()))
		writeError(w, status, "internal error", nil)
		return
	}
	var limit *string
	if value, ok := hub.Limit(err); ok {
		dec := value.Dec()
		limit = &dec
	}
	writeError(w, status, err.Error(), limit)
}

func statusFor(err error) int {
	var limitErr *hub.LimitError
	switch {
	case errors.Is(err, nativecommon.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrUnknownSpoke),
		errors.Is(err, hub.ErrAssetNotListed),
		errors.Is(err, hub.ErrSpokeNotListed),
		errors.Is(err, spoke.ErrReserveNotListed):
		return http.StatusNotFound
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, hub.ErrAssetNotActive),
		errors.Is(err, hub.ErrAssetPaused),
		errors.Is(err, hub.ErrSpokeNotActive),
		errors.Is(err, spoke.ErrReserveNotActive),
		errors.Is(err, spoke.ErrReservePaused),
		errors.Is(err, spoke.ErrReserveFrozen),
		errors.Is(err, spoke.ErrReserveNotBorrowable),
		errors.Is(err, spoke.ErrReserveNotCollateral):
		return http.StatusConflict
	case errors.As(err, &limitErr),
		errors.Is(err, spoke.ErrHealthFactorBelowThreshold),
		errors.Is(err, hub.ErrInvalidSupplyAmount),
		errors.Is(err, hub.ErrInvalidWithdrawAmount),
		errors.Is(err, hub.ErrInvalidDrawAmount),
		errors.Is(err, hub.ErrInvalidRestoreAmount),
		errors.Is(err, hub.ErrAmountOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, oracle.ErrZeroPrice):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
