package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/oho/centroid-daemon/internal/mathutil"
)

// scripted returns a fixed sequence of indices, cycling when exhausted.
type scripted struct {
	idx []int
	pos int
}

func (s *scripted) IntN(n int) int {
	v := s.idx[s.pos%len(s.idx)] % n
	s.pos++
	return v
}

func fourPoints() *mat.Dense {
	return mat.NewDense(4, 2, []float64{
		0, 0,
		0, 1,
		10, 0,
		10, 1,
	})
}

func blobs(seed uint64, perCluster int, centers [][]float64) *mat.Dense {
	r := rand.New(rand.NewPCG(seed, seed))
	d := len(centers[0])
	data := mat.NewDense(perCluster*len(centers), d, nil)
	row := 0
	for _, c := range centers {
		for i := 0; i < perCluster; i++ {
			for j := 0; j < d; j++ {
				data.Set(row, j, c[j]+r.NormFloat64()*0.5)
			}
			row++
		}
	}
	return data
}

// sortedRows returns the rows of m in lexicographic order.
func sortedRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i][0] != rows[j][0] {
			return rows[i][0] < rows[j][0]
		}
		return rows[i][1] < rows[j][1]
	})
	return rows
}

func TestRun_FourPointsAcrossGroups(t *testing.T) {
	ctx := context.Background()
	// Initial draws with one point on each side of the gap.
	for _, draw := range [][]int{{0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 0}, {3, 0}, {2, 1}, {3, 1}} {
		res, err := Run(ctx, fourPoints(), 2, Options{Source: &scripted{idx: draw}})
		require.NoError(t, err, "draw %v", draw)
		assert.Equal(t, Converged, res.State, "draw %v", draw)
		assert.Equal(t, [][]float64{{0, 0.5}, {10, 0.5}}, sortedRows(res.Centroids), "draw %v", draw)
	}
}

func TestRun_FourPointsSameGroup(t *testing.T) {
	ctx := context.Background()
	// Two distinct points from the same side settle on the horizontal split,
	// which is a fixed point of the update rule under either comparator.
	for _, cmp := range []Comparator{MinMovement, MaxMovement} {
		for _, draw := range [][]int{{0, 1}, {1, 0}, {2, 3}, {3, 2}} {
			res, err := Run(ctx, fourPoints(), 2, Options{Source: &scripted{idx: draw}, Comparator: cmp})
			require.NoError(t, err)
			assert.Equal(t, Converged, res.State)

			rows := sortedRows(res.Centroids)
			assert.InDelta(t, 5, rows[0][0], 1e-12)
			assert.InDelta(t, 5, rows[1][0], 1e-12)
		}
	}
}

func TestRun_DuplicateDrawFailsWithEmptyCluster(t *testing.T) {
	for i := 0; i < 4; i++ {
		_, err := Run(context.Background(), fourPoints(), 2, Options{Source: &scripted{idx: []int{i, i}}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEmptyCluster)

		var ece *EmptyClusterError
		require.True(t, errors.As(err, &ece))
		assert.Equal(t, 1, ece.Cluster)
		assert.Equal(t, 0, ece.Iteration)
	}
}

func TestRun_ReseedIsDeterministic(t *testing.T) {
	opts := func() Options {
		return Options{
			Source:       &scripted{idx: []int{0, 0, 2}},
			EmptyCluster: ReseedOnEmpty,
			Comparator:   MaxMovement,
		}
	}
	res1, err := Run(context.Background(), fourPoints(), 2, opts())
	require.NoError(t, err)
	res2, err := Run(context.Background(), fourPoints(), 2, opts())
	require.NoError(t, err)

	assert.Equal(t, Converged, res1.State)
	assert.Equal(t, 3, res1.Iterations)
	assert.Equal(t, [][]float64{{0, 0.5}, {10, 0.5}}, sortedRows(res1.Centroids))
	assert.Equal(t, res1.Centroids.RawMatrix().Data, res2.Centroids.RawMatrix().Data)
}

func TestRun_MinComparatorStopsEarlier(t *testing.T) {
	ctx := context.Background()
	minRes, err := Run(ctx, fourPoints(), 2, Options{Source: &scripted{idx: []int{0, 1}}})
	require.NoError(t, err)
	maxRes, err := Run(ctx, fourPoints(), 2, Options{Source: &scripted{idx: []int{0, 1}}, Comparator: MaxMovement})
	require.NoError(t, err)

	assert.Equal(t, 1, minRes.Iterations)
	assert.Equal(t, 2, maxRes.Iterations)
}

func TestRun_SinglePoint(t *testing.T) {
	data := mat.NewDense(1, 3, []float64{1.5, -2, 7})
	res, err := Run(context.Background(), data, 1, Options{})
	require.NoError(t, err)
	assert.Equal(t, Converged, res.State)
	assert.LessOrEqual(t, res.Iterations, 1)
	assert.Equal(t, []float64{1.5, -2, 7}, mat.Row(nil, 0, res.Centroids))
}

func TestRun_Exhausted(t *testing.T) {
	res, err := Run(context.Background(), fourPoints(), 2, Options{
		Source:     &scripted{idx: []int{0, 1}},
		Comparator: MaxMovement,
		MaxIter:    1,
	})
	require.NoError(t, err)
	assert.Equal(t, Exhausted, res.State)
	assert.Equal(t, 1, res.Iterations)
	assert.ErrorIs(t, res.Err(), ErrNotConverged)
	assert.Equal(t, [][]float64{{5, 0}, {5, 1}}, sortedRows(res.Centroids))
}

func TestRun_KExceedsN(t *testing.T) {
	called := false
	_, err := Run(context.Background(), fourPoints(), 5, Options{
		Hook:       func(Progress) { called = true },
		HookPeriod: 1,
	})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
	assert.False(t, called)
}

func TestRun_InvalidInputs(t *testing.T) {
	ctx := context.Background()

	_, err := Run(ctx, nil, 1, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, &mat.Dense{}, 1, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, fourPoints(), 0, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, fourPoints(), 2, Options{Tolerance: -1})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, fourPoints(), 2, Options{MaxIter: -3})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, fourPoints(), 2, Options{Comparator: Comparator(7)})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Run(ctx, fourPoints(), 2, Options{InitialCentroids: mat.NewDense(2, 3, nil)})
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "initial centroids")

	// A NaN coordinate must not reach the iteration loop.
	withNaN := mat.NewDense(3, 1, []float64{0, math.NaN(), 10})
	res, err := Run(ctx, withNaN, 2, Options{Source: &scripted{idx: []int{0, 2}}})
	assert.Nil(t, res)
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Reason, "row 1 column 0 is not finite")

	_, err = Run(ctx, mat.NewDense(2, 2, []float64{0, 1, math.Inf(-1), 2}), 1, Options{})
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Initialize(withNaN, 1, Seed(1))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestRun_InitialCentroids(t *testing.T) {
	init := mat.NewDense(2, 2, []float64{0, 0, 10, 0})
	res, err := Run(context.Background(), fourPoints(), 2, Options{InitialCentroids: init})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 0.5}, {10, 0.5}}, sortedRows(res.Centroids))
	// The caller's matrix is copied, not reused.
	assert.Equal(t, []float64{0, 0, 10, 0}, init.RawMatrix().Data)
}

func TestRun_Hook(t *testing.T) {
	var seen []int
	_, err := Run(context.Background(), fourPoints(), 2, Options{
		Source:     &scripted{idx: []int{0, 1}},
		Comparator: MaxMovement,
		HookPeriod: 1,
		Hook: func(p Progress) {
			seen = append(seen, p.Iteration)
			r, c := p.Centroids.Dims()
			assert.Equal(t, 2, r)
			assert.Equal(t, 2, c)
			assert.Greater(t, p.Movement, 0.0)
		},
	})
	require.NoError(t, err)
	// Iteration 1 converges and is not reported.
	assert.Equal(t, []int{0}, seen)
}

func TestRun_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, fourPoints(), 2, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_SeedReproducible(t *testing.T) {
	data := blobs(7, 50, [][]float64{{0, 0, 0}, {8, 8, 8}, {-8, 8, 0}})
	opts := Options{Comparator: MaxMovement, EmptyCluster: ReseedOnEmpty}

	opts.Source = Seed(42)
	a, err := Run(context.Background(), data, 3, opts)
	require.NoError(t, err)
	opts.Source = Seed(42)
	b, err := Run(context.Background(), data, 3, opts)
	require.NoError(t, err)

	assert.Equal(t, a.State, b.State)
	assert.Equal(t, a.Iterations, b.Iterations)
	assert.Equal(t, a.Centroids.RawMatrix().Data, b.Centroids.RawMatrix().Data)
}

func TestRun_ShapeMatchesInput(t *testing.T) {
	data := blobs(3, 40, [][]float64{{0, 0, 0, 0}, {5, 5, 5, 5}})
	for k := 1; k <= 4; k++ {
		res, err := Run(context.Background(), data, k, Options{Source: Seed(uint64(k)), EmptyCluster: ReseedOnEmpty})
		require.NoError(t, err)
		r, c := res.Centroids.Dims()
		assert.Equal(t, k, r)
		assert.Equal(t, 4, c)
	}
}

func TestInitialize(t *testing.T) {
	data := fourPoints()

	c, err := Initialize(data, 3, &scripted{idx: []int{3, 3, 1}})
	require.NoError(t, err)
	// Sampling is with replacement; duplicates are kept.
	assert.Equal(t, []float64{10, 1, 10, 1, 0, 1}, c.RawMatrix().Data)

	_, err = Initialize(data, 5, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	c, err = Initialize(data, 4, nil)
	require.NoError(t, err)
	r, cols := c.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, cols)
}

func TestAssign_NearestCentroid(t *testing.T) {
	data := blobs(11, 30, [][]float64{{0, 0}, {6, 0}, {0, 6}})
	centroids, err := Initialize(data, 5, Seed(1))
	require.NoError(t, err)

	labels := assignAll(t, data, centroids, 1)
	n, _ := data.Dims()
	require.Len(t, labels, n)
	for i, l := range labels {
		require.GreaterOrEqual(t, l, 0)
		require.Less(t, l, 5)
		own := mathutil.Distance(data.RawRowView(i), centroids.RawRowView(l))
		for j := 0; j < 5; j++ {
			assert.LessOrEqual(t, own, mathutil.Distance(data.RawRowView(i), centroids.RawRowView(j))+1e-12)
		}
	}
}

func TestAssign_TiesPreferLowestIndex(t *testing.T) {
	data := mat.NewDense(2, 1, []float64{5, 0})
	centroids := mat.NewDense(3, 1, []float64{10, 0, 0})
	// 5 is equidistant from 10 and 0; 0 matches centroids 1 and 2 exactly.
	assert.Equal(t, []int{0, 1}, assignAll(t, data, centroids, 1))
}

func TestAssign_ParallelMatchesSequential(t *testing.T) {
	data := blobs(5, 1500, [][]float64{{0, 0}, {3, 3}, {-3, 3}})
	centroids, err := Initialize(data, 8, Seed(9))
	require.NoError(t, err)

	assert.Equal(t, assignAll(t, data, centroids, 1), assignAll(t, data, centroids, 4))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Assign(ctx, data, centroids, 4)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKEqualsNIdentity(t *testing.T) {
	data := mat.NewDense(3, 2, []float64{1, 2, -4, 0.5, 9, 9})
	centroids, err := Initialize(data, 3, &scripted{idx: []int{0, 1, 2}})
	require.NoError(t, err)

	labels := assignAll(t, data, centroids, 1)
	assert.Equal(t, []int{0, 1, 2}, labels)
	for i, l := range labels {
		assert.Zero(t, mathutil.Distance(data.RawRowView(i), centroids.RawRowView(l)))
	}

	updated, err := Update(data, labels, 3, FailOnEmpty, nil)
	require.NoError(t, err)
	assert.Equal(t, data.RawMatrix().Data, updated.RawMatrix().Data)
}

func TestUpdate(t *testing.T) {
	data := fourPoints()
	labels := []int{0, 0, 1, 1}

	first, err := Update(data, labels, 2, FailOnEmpty, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 10, 0.5}, first.RawMatrix().Data)

	second, err := Update(data, labels, 2, FailOnEmpty, nil)
	require.NoError(t, err)
	assert.Equal(t, first.RawMatrix().Data, second.RawMatrix().Data)
}

func TestUpdate_EmptyCluster(t *testing.T) {
	data := fourPoints()

	_, err := Update(data, []int{0, 0, 2, 2}, 3, FailOnEmpty, nil)
	var ece *EmptyClusterError
	require.True(t, errors.As(err, &ece))
	assert.Equal(t, 1, ece.Cluster)

	c, err := Update(data, []int{0, 0, 2, 2}, 3, ReseedOnEmpty, &scripted{idx: []int{3}})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 1}, mat.Row(nil, 1, c))
}

func TestUpdate_InvalidLabels(t *testing.T) {
	_, err := Update(fourPoints(), []int{0, 1, 2, 0}, 2, FailOnEmpty, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = Update(fourPoints(), []int{0, 1}, 2, FailOnEmpty, nil)
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestMovement(t *testing.T) {
	prev := mat.NewDense(2, 2, []float64{0, 0, 1, 1})
	cur := mat.NewDense(2, 2, []float64{0.0005, 3, 1, 1.5})

	assert.InDelta(t, 0, Movement(prev, cur, MinMovement), 1e-15)
	assert.InDelta(t, 3, Movement(prev, cur, MaxMovement), 1e-15)

	assert.True(t, HasConverged(prev, cur, DefaultTolerance, MinMovement))
	assert.False(t, HasConverged(prev, cur, DefaultTolerance, MaxMovement))
}

func TestParsePolicies(t *testing.T) {
	c, err := ParseComparator("MAX")
	require.NoError(t, err)
	assert.Equal(t, MaxMovement, c)
	_, err = ParseComparator("median")
	assert.ErrorIs(t, err, ErrInvalidConfiguration)

	p, err := ParseEmptyClusterPolicy("reseed")
	require.NoError(t, err)
	assert.Equal(t, ReseedOnEmpty, p)
	assert.Equal(t, "fail", FailOnEmpty.String())
	assert.Equal(t, "exhausted", Exhausted.String())
}

func assignAll(t *testing.T, data, centroids *mat.Dense, workers int) []int {
	t.Helper()
	labels, err := Assign(context.Background(), data, centroids, workers)
	require.NoError(t, err)
	return labels
}
