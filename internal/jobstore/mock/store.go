// Package mock provides an in-memory jobstore.Store for tests. It applies the
// same merge and transition rules as the Redis implementation.
package mock

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/modeltrain/internal/jobstore"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// MockStore satisfies jobstore.Store for testing.
type MockStore struct {
	mu   sync.Mutex
	jobs map[string]models.Job

	// History records every successful write per tracking id, in order.
	History map[string][]models.Job

	CreateErr error
	UpdateErr error
	GetErr    error
	PingErr   error
	// FailUpdateWhen lets a test reject specific updates.
	FailUpdateWhen func(trackingID string, u models.JobUpdate) error
}

// NewMockStore returns an empty MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		jobs:    make(map[string]models.Job),
		History: make(map[string][]models.Job),
	}
}

func (m *MockStore) Ping(_ context.Context) error { return m.PingErr }

func (m *MockStore) Create(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateErr != nil {
		return m.CreateErr
	}
	if _, ok := m.jobs[job.TrackingID]; ok {
		return jobstore.ErrAlreadyExists
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	m.jobs[job.TrackingID] = *job
	m.History[job.TrackingID] = append(m.History[job.TrackingID], *job)
	return nil
}

func (m *MockStore) Update(_ context.Context, trackingID string, opts ...jobstore.UpdateOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	u := jobstore.BuildUpdate(opts...)
	if m.FailUpdateWhen != nil {
		if err := m.FailUpdateWhen(trackingID, u); err != nil {
			return err
		}
	}
	if err := u.Validate(); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	job, ok := m.jobs[trackingID]
	if !ok {
		return jobstore.ErrNotFound
	}
	if !u.AllowedFrom(job.Status) {
		return fmt.Errorf("%w: %s", jobstore.ErrInvalidTransition, job.Status)
	}

	if u.Status != nil {
		job.Status = *u.Status
		switch job.Status {
		case models.JobStatusCompleted:
			job.Error = ""
		case models.JobStatusFailed:
			job.Result = ""
		}
	}
	if u.Progress != nil {
		job.Progress = *u.Progress
	}
	if u.Result != nil {
		job.Result = *u.Result
	}
	if u.Error != nil {
		job.Error = *u.Error
	}
	job.UpdatedAt = time.Now().UTC()

	m.jobs[trackingID] = job
	m.History[trackingID] = append(m.History[trackingID], job)
	return nil
}

func (m *MockStore) Get(_ context.Context, trackingID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetErr != nil {
		return nil, m.GetErr
	}
	job, ok := m.jobs[trackingID]
	if !ok {
		return nil, jobstore.ErrNotFound
	}
	return &job, nil
}

// List yields a snapshot taken when iteration starts, sorted by tracking id.
func (m *MockStore) List(_ context.Context) iter.Seq2[models.JobSummary, error] {
	return func(yield func(models.JobSummary, error) bool) {
		m.mu.Lock()
		summaries := make([]models.JobSummary, 0, len(m.jobs))
		for id, job := range m.jobs {
			summaries = append(summaries, models.JobSummary{TrackingID: id, Status: job.Status})
		}
		m.mu.Unlock()

		sort.Slice(summaries, func(i, j int) bool {
			return summaries[i].TrackingID < summaries[j].TrackingID
		})
		for _, s := range summaries {
			if !yield(s, nil) {
				return
			}
		}
	}
}

// Progresses returns the progress values written for trackingID, in order.
func (m *MockStore) Progresses(trackingID string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []int
	for _, j := range m.History[trackingID] {
		out = append(out, j.Progress)
	}
	return out
}

// Statuses returns the statuses written for trackingID, in order.
func (m *MockStore) Statuses(trackingID string) []models.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.JobStatus
	for _, j := range m.History[trackingID] {
		out = append(out, j.Status)
	}
	return out
}
