package training

import (
	"gonum.org/v1/gonum/stat"
)

// StandardScaler centers each feature and scales it to unit variance.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) Fit(x [][]float64) {
	d := len(x[0])
	s.Mean = make([]float64, d)
	s.Scale = make([]float64, d)

	col := make([]float64, len(x))
	for j := 0; j < d; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		s.Mean[j] = mean
		// Constant columns are only centered.
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
}

func (s *StandardScaler) Transform(x [][]float64) [][]float64 {
	out := make([][]float64, len(x))
	for i, row := range x {
		scaled := make([]float64, len(row))
		for j, v := range row {
			scaled[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = scaled
	}
	return out
}
