// Package jobstore persists training job records. It is the single source of
// truth shared by the API process and the workers.
package jobstore

import (
	"context"
	"errors"
	"iter"

	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrAlreadyExists     = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Store is the job store contract. Every call is persisted before it returns.
// Implementations must be safe for concurrent use.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Update(ctx context.Context, trackingID string, opts ...UpdateOption) error
	Get(ctx context.Context, trackingID string) (*models.Job, error)
	List(ctx context.Context) iter.Seq2[models.JobSummary, error]
	Ping(ctx context.Context) error
}

// UpdateOption sets one field of a partial update.
type UpdateOption func(*models.JobUpdate)

func WithStatus(s models.JobStatus) UpdateOption {
	return func(u *models.JobUpdate) {
		u.Status = &s
	}
}

func WithProgress(p int) UpdateOption {
	return func(u *models.JobUpdate) {
		u.Progress = &p
	}
}

func WithResult(result string) UpdateOption {
	return func(u *models.JobUpdate) {
		u.Result = &result
	}
}

func WithError(msg string) UpdateOption {
	return func(u *models.JobUpdate) {
		u.Error = &msg
	}
}

// BuildUpdate folds opts into a JobUpdate.
func BuildUpdate(opts ...UpdateOption) models.JobUpdate {
	var u models.JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}
