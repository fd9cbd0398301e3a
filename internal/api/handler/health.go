package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
)

// Pinger is a dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler reports liveness without checking dependencies.
func NewHealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, map[string]string{"status": "ok"})
	}
}

// NewReadyHandler checks every named dependency.
func NewReadyHandler(deps map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(deps))
		degraded := false
		for name, dep := range deps {
			checks[name] = "ok"
			if err := dep.Ping(r.Context()); err != nil {
				checks[name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
