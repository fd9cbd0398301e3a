package tracking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// MLmodelFile is the descriptor MLflow looks for in a model directory.
const MLmodelFile = "MLmodel"

// FlavorName is the flavor under which trained pipelines are described.
const FlavorName = "modeltrain"

// ModelDescriptor is the MLmodel file written next to a model artifact so the
// registry recognises the directory as a model.
type ModelDescriptor struct {
	ArtifactPath   string                    `yaml:"artifact_path"`
	Flavors        map[string]map[string]any `yaml:"flavors"`
	ModelUUID      string                    `yaml:"model_uuid"`
	RunID          string                    `yaml:"run_id"`
	UTCTimeCreated string                    `yaml:"utc_time_created"`
}

// NewModelDescriptor describes the JSON pipeline dataFile stored under
// artifactPath in run.
func NewModelDescriptor(run *Run, artifactPath, dataFile string, created time.Time) ModelDescriptor {
	return ModelDescriptor{
		ArtifactPath: artifactPath,
		Flavors: map[string]map[string]any{
			FlavorName: {
				"data":     dataFile,
				"format":   "json",
				"pipeline": []string{"standard_scaler", "pca", "logistic_regression"},
			},
		},
		ModelUUID:      uuid.NewString(),
		RunID:          run.ID,
		UTCTimeCreated: created.UTC().Format("2006-01-02 15:04:05.000000"),
	}
}

// Marshal renders the descriptor as MLmodel YAML.
func (d ModelDescriptor) Marshal() ([]byte, error) {
	out, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", MLmodelFile, err)
	}
	return out, nil
}
