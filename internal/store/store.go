package store

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// Store is the data access interface for the machines table.
type Store interface {
	Ping(ctx context.Context) error

	RecordTraining(ctx context.Context, name string, opts ...TrainingOption) error
	ListMachines(ctx context.Context) ([]*models.Machine, error)
	GetMachine(ctx context.Context, name string) (*models.Machine, error)
}

// TrainingParams are the machine columns written by RecordTraining. Nil
// fields are left unchanged.
type TrainingParams struct {
	Status   *string
	Progress *int
}

type TrainingOption func(*TrainingParams)

// BuildTraining folds opts into TrainingParams.
func BuildTraining(opts ...TrainingOption) TrainingParams {
	var p TrainingParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func WithStatus(status string) TrainingOption {
	return func(p *TrainingParams) {
		p.Status = &status
	}
}

func WithProgress(progress int) TrainingOption {
	return func(p *TrainingParams) {
		p.Progress = &progress
	}
}
