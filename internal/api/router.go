package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/keyspace/internal/api/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/keyspace/pkg/metrics"
	pkgmw "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/middleware"
)

// RouterConfig holds the optional middleware settings.
type RouterConfig struct {
	// Limiter guards the CPU-bound endpoints; nil disables rate limiting.
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Health  *health.Checker
	// Timeout bounds every request; zero disables it.
	Timeout time.Duration
}

// NewRouter builds the HTTP handler.
//
// Route table:
//
//	POST   /api/v1/recover           synchronous recovery (rate limited)
//	GET    /api/v1/algorithms        supported hash algorithms
//	POST   /api/v1/jobs              queue a recovery job (rate limited)
//	GET    /api/v1/jobs              list jobs
//	GET    /api/v1/jobs/{id}         job status and outcome
//	GET    /api/v1/cache/stats       result cache counters
//	POST   /api/v1/cache/invalidate  drop cached outcomes
//	GET    /api/v1/stats             aggregated recovery events
//	GET    /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → Metrics → Timeout → mux
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	limited := func(fn http.HandlerFunc) http.Handler {
		if cfg.Limiter == nil {
			return fn
		}
		return ratelimit.Middleware(cfg.Limiter)(fn)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/recover", limited(h.Recover))
	mux.HandleFunc("GET /api/v1/algorithms", h.Algorithms)
	mux.Handle("POST /api/v1/jobs", limited(h.SubmitJob))
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	if cfg.Health != nil {
		mux.HandleFunc("GET /health/live", cfg.Health.LiveHandler())
		mux.HandleFunc("GET /health/ready", cfg.Health.ReadyHandler())
	}

	var chain http.Handler = mux
	chain = pkgmw.Timeout(cfg.Timeout)(chain)
	if cfg.Metrics != nil {
		chain = pkgmw.Metrics(cfg.Metrics)(chain)
	}
	chain = pkgmw.RequestID(chain)
	return chain
}
