package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a training job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further work happens on a job in this state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// validTransitions lists the states a job may move to from each state.
// Terminal states only accept terminal overwrites, which happen when a
// redelivered work item finishes after the original delivery.
var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:   {JobStatusPending, JobStatusRunning, JobStatusFailed},
	JobStatusRunning:   {JobStatusRunning, JobStatusCompleted, JobStatusFailed},
	JobStatusCompleted: {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:    {JobStatusCompleted, JobStatusFailed},
}

// CanTransition reports whether a job in state from may be moved to state to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Job tracks one submitted training request. The API returns a trackingId on
// POST /start; the client polls GET /status/{trackingId} until status is
// completed or failed.
type Job struct {
	TrackingID string    `json:"trackingId"`
	Name       string    `json:"name,omitempty"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// JobSummary is the list view of a job.
type JobSummary struct {
	TrackingID string    `json:"trackingId"`
	Status     JobStatus `json:"status"`
}

// JobUpdate is a partial update. Nil fields are left untouched.
type JobUpdate struct {
	Status   *JobStatus
	Progress *int
	Result   *string
	Error    *string
}

// Validate checks field values without looking at the current record.
func (u JobUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return fmt.Errorf("invalid job status %q", *u.Status)
	}
	if u.Progress != nil && (*u.Progress < 0 || *u.Progress > 100) {
		return fmt.Errorf("progress must be within 0-100, got %d", *u.Progress)
	}
	return nil
}

// AllowedFrom reports whether u may be merged into a record whose current
// status is cur. Updates without a status keep the current one, and a
// terminal record only accepts updates that name a terminal status.
func (u JobUpdate) AllowedFrom(cur JobStatus) bool {
	if u.Status == nil {
		return !cur.Terminal()
	}
	return CanTransition(cur, *u.Status)
}
