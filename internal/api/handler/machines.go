package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/api/response"
	"github.com/kiranshivaraju/modeltrain/internal/store"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// MachineReader reads the machines table.
type MachineReader interface {
	ListMachines(ctx context.Context) ([]*models.Machine, error)
	GetMachine(ctx context.Context, name string) (*models.Machine, error)
}

// NewListMachinesHandler returns an http.HandlerFunc for GET /all.
func NewListMachinesHandler(machines MachineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := machines.ListMachines(r.Context())
		if err != nil {
			zap.S().Errorw("failed to list machines", "error", err)
			response.Error(w, http.StatusServiceUnavailable, response.CodeDatabaseUnavailable,
				"the machines database is not available", nil)
			return
		}
		if list == nil {
			list = []*models.Machine{}
		}
		response.JSON(w, list)
	}
}

// NewGetMachineHandler returns an http.HandlerFunc for GET /machines/{name}.
func NewGetMachineHandler(machines MachineReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		m, err := machines.GetMachine(r.Context(), name)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, response.CodeMachineNotFound, "no machine with this name", nil)
			return
		}
		if err != nil {
			zap.S().Errorw("failed to read machine", "name", name, "error", err)
			response.Error(w, http.StatusServiceUnavailable, response.CodeDatabaseUnavailable,
				"the machines database is not available", nil)
			return
		}
		response.JSON(w, m)
	}
}
