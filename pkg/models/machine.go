package models

import "time"

// Machine is a row of the machines table. Training status and progress are
// mirrored into it by the worker; inference results are written by the
// inference service.
type Machine struct {
	Name                 string    `db:"name"                   json:"name"`
	Status               *string   `db:"status"                 json:"status"`
	LastInferenceResults []float64 `db:"last_inference_results" json:"lastInferenceResults"`
	TrainingProgress     *int      `db:"training_progress"      json:"trainingProgress"`
	UpdatedAt            time.Time `db:"updated_at"             json:"-"`
}
