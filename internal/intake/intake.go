// Package intake accepts dataset submissions: it creates the job record,
// stages the bytes in object storage and hands the work item to the queue.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/internal/metrics"
	"github.com/kiranshivaraju/modeltrain/internal/storage"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

var (
	ErrMissingName  = errors.New("missing dataset name")
	ErrEmptyPayload = errors.New("empty dataset payload")
	ErrStaging      = errors.New("dataset staging failed")
	ErrDispatch     = errors.New("work item dispatch failed")
)

// ObjectStore stages dataset bytes.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Dispatcher places work items on the durable queue.
type Dispatcher interface {
	Enqueue(ctx context.Context, item models.WorkItem) (string, error)
}

// Service is the dataset intake.
type Service struct {
	jobs    jobstore.Store
	objects ObjectStore
	queue   Dispatcher

	newID func() string
	now   func() time.Time
}

func NewService(jobs jobstore.Store, objects ObjectStore, queue Dispatcher) *Service {
	return &Service{
		jobs:    jobs,
		objects: objects,
		queue:   queue,
		newID:   uuid.NewString,
		now:     time.Now,
	}
}

// Submit registers a new training job for data and returns its tracking id.
//
// Once the job record exists every failure is written to it and the id is
// returned together with the error, so callers can always poll the job.
// An empty tracking id means no job was created.
func (s *Service) Submit(ctx context.Context, data []byte, contentType, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrMissingName
	}

	now := s.now().UTC()
	job := &models.Job{
		TrackingID: s.newID(),
		Name:       name,
		Status:     models.JobStatusPending,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	id := job.TrackingID

	// The request context may end with the client; failure records must still land.
	bg := context.WithoutCancel(ctx)

	if len(data) == 0 {
		s.markFailed(bg, id, "no dataset bytes received")
		metrics.IncreaseJobsSubmitted(metrics.OutcomeEmpty)
		return id, ErrEmptyPayload
	}

	key := storage.DatasetKey(id)
	if err := s.objects.Put(ctx, key, data, contentType); err != nil {
		s.markFailed(bg, id, fmt.Sprintf("staging dataset: %v", err))
		metrics.IncreaseJobsSubmitted(metrics.OutcomeStaging)
		return id, fmt.Errorf("%w: %v", ErrStaging, err)
	}

	item := models.WorkItem{
		ObjectKey:   key,
		DatasetName: name,
		TrackingID:  id,
	}
	deliveryID, err := s.queue.Enqueue(ctx, item)
	if err != nil {
		s.markFailed(bg, id, fmt.Sprintf("dispatching work item: %v", err))
		if delErr := s.objects.Delete(bg, key); delErr != nil {
			zap.S().Warnw("failed to delete staged dataset", "tracking_id", id, "key", key, "error", delErr)
		}
		metrics.IncreaseJobsSubmitted(metrics.OutcomeDispatch)
		return id, fmt.Errorf("%w: %v", ErrDispatch, err)
	}

	metrics.IncreaseJobsSubmitted(metrics.OutcomeAccepted)
	zap.S().Infow("job submitted",
		"tracking_id", id,
		"name", name,
		"bytes", len(data),
		"delivery_id", deliveryID,
	)
	return id, nil
}

func (s *Service) markFailed(ctx context.Context, id, msg string) {
	err := s.jobs.Update(ctx, id,
		jobstore.WithStatus(models.JobStatusFailed),
		jobstore.WithError(msg),
	)
	if err != nil {
		zap.S().Errorw("failed to mark job failed", "tracking_id", id, "reason", msg, "error", err)
		return
	}
	zap.S().Warnw("job failed at intake", "tracking_id", id, "error", msg)
}
