package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA projects features onto their leading principal components.
type PCA struct {
	Components int `json:"components"`
	// Mean is subtracted before projecting.
	Mean []float64 `json:"mean"`
	// Vectors holds one column per component (d rows, k columns).
	Vectors [][]float64 `json:"vectors"`
}

func (p *PCA) Fit(x [][]float64) error {
	n, d := len(x), len(x[0])
	if n < 2 {
		return fmt.Errorf("%w: pca needs at least 2 rows, got %d", ErrTooSmall, n)
	}
	k := min(p.Components, d, n)
	if k < 1 {
		return fmt.Errorf("pca: invalid component count %d", p.Components)
	}

	a := mat.NewDense(n, d, flatten(x))
	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return fmt.Errorf("pca: decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	p.Mean = make([]float64, d)
	for j := 0; j < d; j++ {
		p.Mean[j] = stat.Mean(mat.Col(nil, j, a), nil)
	}

	p.Vectors = make([][]float64, d)
	for i := range p.Vectors {
		p.Vectors[i] = make([]float64, k)
	}
	for c := 0; c < k; c++ {
		// Flip so the largest loading is positive; keeps the sign stable.
		sign := 1.0
		best := 0.0
		for i := 0; i < d; i++ {
			if v := vecs.At(i, c); math.Abs(v) > best {
				best = math.Abs(v)
				if v < 0 {
					sign = -1
				} else {
					sign = 1
				}
			}
		}
		for i := 0; i < d; i++ {
			p.Vectors[i][c] = sign * vecs.At(i, c)
		}
	}
	p.Components = k
	return nil
}

func (p *PCA) Transform(x [][]float64) [][]float64 {
	k := p.Components
	out := make([][]float64, len(x))
	for r, row := range x {
		proj := make([]float64, k)
		for c := 0; c < k; c++ {
			var sum float64
			for i, v := range row {
				sum += (v - p.Mean[i]) * p.Vectors[i][c]
			}
			proj[c] = sum
		}
		out[r] = proj
	}
	return out
}

func flatten(x [][]float64) []float64 {
	out := make([]float64, 0, len(x)*len(x[0]))
	for _, row := range x {
		out = append(out, row...)
	}
	return out
}
