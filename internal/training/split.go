package training

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Split is a train/test partition of a dataset.
type Split struct {
	XTrain [][]float64
	XTest  [][]float64
	YTrain []string
	YTest  []string
}

// TrainTestSplit shuffles rows with a PCG source seeded from seed and puts
// ceil(testSize*n) of them in the test partition. The same input and seed
// always produce the same partition.
func TrainTestSplit(x [][]float64, y []string, testSize float64, seed uint64) (*Split, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("features and labels differ in length: %d != %d", len(x), len(y))
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, fmt.Errorf("test size must be within (0, 1), got %v", testSize)
	}

	n := len(y)
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest < 1 || nTrain < 2 {
		return nil, fmt.Errorf("%w: %d rows cannot be split with test size %v", ErrTooSmall, n, testSize)
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)

	s := &Split{
		XTrain: make([][]float64, 0, nTrain),
		XTest:  make([][]float64, 0, nTest),
		YTrain: make([]string, 0, nTrain),
		YTest:  make([]string, 0, nTest),
	}
	for i, idx := range perm {
		if i < nTest {
			s.XTest = append(s.XTest, x[idx])
			s.YTest = append(s.YTest, y[idx])
			continue
		}
		s.XTrain = append(s.XTrain, x[idx])
		s.YTrain = append(s.YTrain, y[idx])
	}
	return s, nil
}
