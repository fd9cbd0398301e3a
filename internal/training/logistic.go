package training

import (
	"math"
	"sort"
)

// LogisticRegression is a multinomial (softmax) classifier trained with
// full-batch gradient descent and L2 regularization. Weights start at zero,
// so training is deterministic.
type LogisticRegression struct {
	Classes []string    `json:"classes"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`

	MaxIterations int     `json:"-"`
	LearningRate  float64 `json:"-"`
	L2            float64 `json:"-"`
}

func (m *LogisticRegression) Fit(x [][]float64, y []string) {
	m.Classes = uniqueSorted(y)
	nClasses, d, n := len(m.Classes), len(x[0]), float64(len(x))

	m.Weights = make([][]float64, nClasses)
	for c := range m.Weights {
		m.Weights[c] = make([]float64, d)
	}
	m.Bias = make([]float64, nClasses)
	if nClasses < 2 {
		return
	}

	index := make(map[string]int, nClasses)
	for i, c := range m.Classes {
		index[c] = i
	}
	target := make([]int, len(y))
	for i, label := range y {
		target[i] = index[label]
	}

	gradW := make([][]float64, nClasses)
	for c := range gradW {
		gradW[c] = make([]float64, d)
	}
	gradB := make([]float64, nClasses)
	probs := make([]float64, nClasses)

	for iter := 0; iter < m.MaxIterations; iter++ {
		for c := range gradW {
			clear(gradW[c])
		}
		clear(gradB)

		for i, row := range x {
			m.softmax(row, probs)
			for c := 0; c < nClasses; c++ {
				diff := probs[c]
				if c == target[i] {
					diff -= 1
				}
				for j, v := range row {
					gradW[c][j] += diff * v
				}
				gradB[c] += diff
			}
		}

		for c := 0; c < nClasses; c++ {
			for j := 0; j < d; j++ {
				g := gradW[c][j]/n + m.L2*m.Weights[c][j]
				m.Weights[c][j] -= m.LearningRate * g
			}
			m.Bias[c] -= m.LearningRate * gradB[c] / n
		}
	}
}

func (m *LogisticRegression) Predict(x [][]float64) []string {
	out := make([]string, len(x))
	probs := make([]float64, len(m.Classes))
	for i, row := range x {
		m.softmax(row, probs)
		best := 0
		for c := 1; c < len(probs); c++ {
			if probs[c] > probs[best] {
				best = c
			}
		}
		out[i] = m.Classes[best]
	}
	return out
}

// softmax writes class probabilities for row into dst.
func (m *LogisticRegression) softmax(row []float64, dst []float64) {
	maxLogit := math.Inf(-1)
	for c := range dst {
		z := m.Bias[c]
		for j, v := range row {
			z += m.Weights[c][j] * v
		}
		dst[c] = z
		if z > maxLogit {
			maxLogit = z
		}
	}
	var sum float64
	for c := range dst {
		dst[c] = math.Exp(dst[c] - maxLogit)
		sum += dst[c]
	}
	for c := range dst {
		dst[c] /= sum
	}
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
