package kmeans

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Source supplies uniformly distributed indices in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Seed returns a deterministic Source for the given seed.
func Seed(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Initialize draws k rows of data uniformly at random with replacement.
// Duplicate rows are possible and are kept. A nil src uses the unseeded
// process-wide generator.
func Initialize(data *mat.Dense, k int, src Source) (*mat.Dense, error) {
	if err := validate(data, k); err != nil {
		return nil, err
	}
	if src == nil {
		src = globalSource{}
	}
	n, d := data.Dims()
	centroids := mat.NewDense(k, d, nil)
	for i := 0; i < k; i++ {
		centroids.SetRow(i, data.RawRowView(src.IntN(n)))
	}
	return centroids, nil
}

func validate(data *mat.Dense, k int) error {
	if data == nil || data.IsEmpty() {
		return invalidf("dataset is empty")
	}
	n, _ := data.Dims()
	if k < 1 {
		return invalidf("k=%d must be positive", k)
	}
	if k > n {
		return invalidf("k=%d exceeds the number of points %d", k, n)
	}
	for i := 0; i < n; i++ {
		for j, x := range data.RawRowView(i) {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return invalidf("row %d column %d is not finite", i, j)
			}
		}
	}
	return nil
}
