package kmeans

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/oho/centroid-daemon/internal/mathutil"
)

// minPointsPerWorker keeps small datasets on the calling goroutine.
const minPointsPerWorker = 512

// Assign returns, for every row of data, the index of the nearest row of
// centroids under Euclidean distance. Ties resolve to the lowest index.
// workers <= 0 uses GOMAXPROCS. data and centroids must have the same
// number of columns. The only error is ctx's.
func Assign(ctx context.Context, data, centroids *mat.Dense, workers int) ([]int, error) {
	n, _ := data.Dims()
	labels := make([]int, n)
	if err := assignInto(ctx, labels, data, centroids, workers); err != nil {
		return nil, err
	}
	return labels, nil
}

func assignInto(ctx context.Context, labels []int, data, centroids *mat.Dense, workers int) error {
	n := len(labels)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if limit := n / minPointsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		return assignRange(ctx, labels, data, centroids, 0, n)
	}

	// Workers write disjoint ranges of labels and only read centroids.
	g, gctx := errgroup.WithContext(ctx)
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			return assignRange(gctx, labels, data, centroids, start, end)
		})
	}
	return g.Wait()
}

// assignRange checks ctx every minPointsPerWorker points.
func assignRange(ctx context.Context, labels []int, data, centroids *mat.Dense, start, end int) error {
	for i := start; i < end; i++ {
		if (i-start)%minPointsPerWorker == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		labels[i], _ = nearest(data.RawRowView(i), centroids)
	}
	return nil
}

// nearest returns the closest centroid and its squared distance.
func nearest(point []float64, centroids *mat.Dense) (int, float64) {
	k, _ := centroids.Dims()
	best := 0
	bestDist := mathutil.SquaredDistance(point, centroids.RawRowView(0))
	for j := 1; j < k; j++ {
		if d := mathutil.SquaredDistance(point, centroids.RawRowView(j)); d < bestDist {
			best = j
			bestDist = d
		}
	}
	return best, bestDist
}
