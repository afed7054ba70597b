package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zynx/internal/platform/health"
	"zynx/pkg/platform/middleware/request"
)

const (
	// APIPrefix is the mount point of the ledger API.
	APIPrefix = "/api/v1/pdpa"

	defaultMaxBodyBytes   = 1 << 20
	defaultRequestTimeout = 30 * time.Second
)

// RouteRegistrar mounts a group of routes.
type RouteRegistrar interface {
	Register(r chi.Router)
}

// Config wires the router's collaborators. Nil Metrics disables request
// instrumentation; nil Gatherer uses the default Prometheus registry.
type Config struct {
	Logger         *slog.Logger
	API            RouteRegistrar
	Health         *health.Handler
	Metrics        *request.Metrics
	Gatherer       prometheus.Gatherer
	MaxBodyBytes   int64
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler: health checks and metrics at the root, the
// ledger API under APIPrefix with the JSON middleware stack.
func NewRouter(cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(cfg.Logger))
	r.Use(request.Instrument(cfg.Metrics))

	if cfg.Health != nil {
		cfg.Health.Register(r)
	}
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route(APIPrefix, func(api chi.Router) {
		api.Use(request.BodyLimit(cfg.MaxBodyBytes))
		api.Use(request.ContentTypeJSON)
		api.Use(timeout(cfg.RequestTimeout))
		if cfg.API != nil {
			cfg.API.Register(api)
		}
	})
	return r
}

func timeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"timeout"}`)
	}
}
