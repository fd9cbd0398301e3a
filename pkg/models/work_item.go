package models

import "time"

// WorkItem is the unit of work handed from intake to a training worker.
// It is immutable once enqueued.
type WorkItem struct {
	ID          string    `json:"id"`
	ObjectKey   string    `json:"objectKey"`
	DatasetName string    `json:"datasetName"`
	TrackingID  string    `json:"trackingId"`
	EnqueuedAt  time.Time `json:"enqueuedAt"`
}
