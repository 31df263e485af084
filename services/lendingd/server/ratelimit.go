package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"lendhub/observability"
)

const visitorIdleTTL = 5 * time.Minute

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

// RateLimiter keeps one token bucket per authenticated caller, falling back to
// the client IP for anonymous requests. A bucket unused for five minutes is
// dropped by the next sweep.
type RateLimiter struct {
	limit     RateLimit
	metrics   *observability.LedgerMetrics
	clock     clockwork.Clock
	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limit RateLimit, metrics *observability.LedgerMetrics) *RateLimiter {
	return &RateLimiter{
		limit:    limit,
		metrics:  metrics,
		clock:    clockwork.NewRealClock(),
		visitors: make(map[string]*visitor),
	}
}

func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.obtain(visitorID(r)).Allow() {
			l.metrics.Throttled("rate_limit")
			writeError(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests), nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *RateLimiter) obtain(id string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= visitorIdleTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) >= visitorIdleTTL {
				delete(l.visitors, key)
			}
		}
		l.lastSweep = now
	}
	if v, ok := l.visitors[id]; ok {
		v.lastSeen = now
		return v.limiter
	}
	perSecond := l.limit.RequestsPerMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := l.limit.Burst
	if burst <= 0 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), burst)
	l.visitors[id] = &visitor{limiter: limiter, lastSeen: now}
	return limiter
}

func visitorID(r *http.Request) string {
	if caller, ok := CallerFromContext(r.Context()); ok {
		return "caller:" + caller.Hex()
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
