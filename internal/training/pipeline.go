package training

import (
	"encoding/json"
	"fmt"
)

// Config controls splitting and model fitting.
type Config struct {
	TestSize      float64
	Seed          uint64
	Components    int
	MaxIterations int
	LearningRate  float64
	L2            float64
}

// DefaultConfig is a 20% test split with seed 42 and
// two principal components.
func DefaultConfig() Config {
	return Config{
		TestSize:      0.2,
		Seed:          42,
		Components:    2,
		MaxIterations: 500,
		LearningRate:  0.1,
		L2:            1e-3,
	}
}

// Pipeline chains scaler, PCA and classifier.
type Pipeline struct {
	Name       string              `json:"name"`
	Scaler     *StandardScaler     `json:"scaler"`
	PCA        *PCA                `json:"pca"`
	Classifier *LogisticRegression `json:"classifier"`

	fitted bool
}

func NewPipeline(name string, cfg Config) *Pipeline {
	return &Pipeline{
		Name:   name,
		Scaler: &StandardScaler{},
		PCA:    &PCA{Components: cfg.Components},
		Classifier: &LogisticRegression{
			MaxIterations: cfg.MaxIterations,
			LearningRate:  cfg.LearningRate,
			L2:            cfg.L2,
		},
	}
}

func (p *Pipeline) Fit(x [][]float64, y []string) error {
	if len(x) == 0 || len(x) != len(y) {
		return fmt.Errorf("fit: need matching non-empty features and labels, got %d and %d", len(x), len(y))
	}

	p.Scaler.Fit(x)
	scaled := p.Scaler.Transform(x)

	if err := p.PCA.Fit(scaled); err != nil {
		return fmt.Errorf("fit: %w", err)
	}
	p.Classifier.Fit(p.PCA.Transform(scaled), y)
	p.fitted = true
	return nil
}

func (p *Pipeline) Predict(x [][]float64) ([]string, error) {
	if !p.fitted {
		return nil, fmt.Errorf("predict: pipeline is not fitted")
	}
	if len(x) == 0 {
		return []string{}, nil
	}
	return p.Classifier.Predict(p.PCA.Transform(p.Scaler.Transform(x))), nil
}

// MarshalArtifact serializes the fitted parameters.
func (p *Pipeline) MarshalArtifact() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Accuracy is the fraction of predictions equal to the truth.
func Accuracy(pred, truth []string) (float64, error) {
	if len(pred) != len(truth) {
		return 0, fmt.Errorf("accuracy: %d predictions for %d labels", len(pred), len(truth))
	}
	if len(truth) == 0 {
		return 0, fmt.Errorf("accuracy: no samples")
	}
	correct := 0
	for i := range truth {
		if pred[i] == truth[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(truth)), nil
}

// Metrics is the result payload of a completed training job.
type Metrics struct {
	Accuracy     float64 `json:"accuracy"`
	TrainSamples int     `json:"trainSamples"`
	TestSamples  int     `json:"testSamples"`
	Classes      int     `json:"classes"`
}
