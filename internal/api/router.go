package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	mw "github.com/kiranshivaraju/modeltrain/internal/api/middleware"
	"github.com/kiranshivaraju/modeltrain/internal/api/response"
	"github.com/kiranshivaraju/modeltrain/internal/metrics"
)

// Dependencies holds the handlers and middleware of the training API.
type Dependencies struct {
	CORSOrigins []string
	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool
	Metrics           *metrics.Middleware
	RateLimit         *mw.RateLimit

	HealthHandler     http.HandlerFunc
	ReadyHandler      http.HandlerFunc
	StartHandler      http.HandlerFunc
	StatusHandler     http.HandlerFunc
	StatusListHandler http.HandlerFunc
	MetricsHandler    http.Handler
}

// NewRouter builds the Chi router for the training API.
func NewRouter(deps Dependencies) http.Handler {
	r := newBaseRouter(deps.CORSOrigins, deps.TrustProxyHeaders, deps.Metrics)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	r.Get("/ready", orNotImplemented(deps.ReadyHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}
		r.Post("/start", orNotImplemented(deps.StartHandler))
	})

	r.Get("/status", orNotImplemented(deps.StatusListHandler))
	r.Get("/status/{trackingId}", orNotImplemented(deps.StatusHandler))

	return r
}

// MachinesDependencies holds the handlers of the machines read API.
type MachinesDependencies struct {
	CORSOrigins       []string
	TrustProxyHeaders bool
	Metrics           *metrics.Middleware

	HealthHandler  http.HandlerFunc
	ListHandler    http.HandlerFunc
	GetHandler     http.HandlerFunc
	MetricsHandler http.Handler
}

// NewMachinesRouter builds the Chi router for the machines read API.
func NewMachinesRouter(deps MachinesDependencies) http.Handler {
	r := newBaseRouter(deps.CORSOrigins, deps.TrustProxyHeaders, deps.Metrics)

	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/all", orNotImplemented(deps.ListHandler))
	r.Get("/machines/{name}", orNotImplemented(deps.GetHandler))

	return r
}

// NewAdminRouter builds the worker's probe and metrics endpoints.
func NewAdminRouter(health, ready http.HandlerFunc, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/health", orNotImplemented(health))
	r.Get("/ready", orNotImplemented(ready))
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}
	return r
}

func newBaseRouter(origins []string, trustProxy bool, m *metrics.Middleware) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	if m != nil {
		r.Use(m.Handler)
	}
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
