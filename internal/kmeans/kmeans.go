package kmeans

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultMaxIter bounds the number of iterations of a run.
	DefaultMaxIter = 500
	// DefaultTolerance is the movement below which a run has converged.
	DefaultTolerance = 1e-3
	// DefaultHookPeriod is the number of iterations between hook calls.
	DefaultHookPeriod = 100
)

// State is the terminal (or current) state of a run.
type State int

const (
	// Running is the state of a run still iterating.
	Running State = iota
	// Converged means the centroid movement fell below the tolerance.
	Converged
	// Exhausted means the iteration bound was reached without converging.
	Exhausted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Converged:
		return "converged"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Progress is passed to a Hook. Centroids must not be modified or retained.
type Progress struct {
	Iteration int
	Movement  float64
	Centroids mat.Matrix
}

// Hook observes a run every Options.HookPeriod iterations.
type Hook func(Progress)

// Options configures Run. Zero values select the defaults.
type Options struct {
	MaxIter      int
	Tolerance    float64
	Comparator   Comparator
	EmptyCluster EmptyClusterPolicy

	// Source drives initial sampling and reseeding. Nil uses the unseeded
	// process-wide generator.
	Source Source

	// InitialCentroids skips sampling. It must be k×d and is copied.
	InitialCentroids *mat.Dense

	// Hook is called after iterations 0, HookPeriod, 2*HookPeriod, ...
	// unless that iteration converged.
	Hook       Hook
	HookPeriod int

	// Workers bounds assignment parallelism; <= 0 uses GOMAXPROCS.
	Workers int

	Logger *slog.Logger
}

// DefaultOptions returns the options used when none are set.
func DefaultOptions() Options {
	return Options{
		MaxIter:    DefaultMaxIter,
		Tolerance:  DefaultTolerance,
		Comparator: MinMovement,
		HookPeriod: DefaultHookPeriod,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxIter == 0 {
		o.MaxIter = DefaultMaxIter
	}
	if o.Tolerance == 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.HookPeriod == 0 {
		o.HookPeriod = DefaultHookPeriod
	}
	if o.Source == nil {
		o.Source = globalSource{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

func (o Options) validate() error {
	if o.MaxIter < 0 {
		return invalidf("max_iter=%d must be positive", o.MaxIter)
	}
	if !(o.Tolerance > 0) {
		return invalidf("tolerance=%g must be positive", o.Tolerance)
	}
	if o.HookPeriod < 0 {
		return invalidf("hook period=%d must be positive", o.HookPeriod)
	}
	switch o.Comparator {
	case MinMovement, MaxMovement:
	default:
		return invalidf("unknown comparator %d", int(o.Comparator))
	}
	switch o.EmptyCluster {
	case FailOnEmpty, ReseedOnEmpty:
	default:
		return invalidf("unknown empty cluster policy %d", int(o.EmptyCluster))
	}
	return nil
}

// Result is the outcome of a run that did not fail.
type Result struct {
	Centroids  *mat.Dense
	State      State
	Iterations int
}

// Err returns nil for converged runs and wraps ErrNotConverged for
// exhausted ones, for callers that treat exhaustion as a failure.
func (r *Result) Err() error {
	if r.State == Exhausted {
		return fmt.Errorf("%w after %d iterations", ErrNotConverged, r.Iterations)
	}
	return nil
}

// Run clusters the rows of data into k groups. data is only read.
//
// Configuration problems are reported as ErrInvalidConfiguration before
// the first iteration. An empty cluster under FailOnEmpty aborts with an
// *EmptyClusterError and no result. ctx is checked between iterations.
func Run(ctx context.Context, data *mat.Dense, k int, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := validate(data, k); err != nil {
		return nil, err
	}
	n, d := data.Dims()

	var prev *mat.Dense
	if opts.InitialCentroids != nil {
		r, c := opts.InitialCentroids.Dims()
		if r != k || c != d {
			return nil, invalidf("initial centroids are %dx%d, want %dx%d", r, c, k, d)
		}
		prev = mat.DenseCopyOf(opts.InitialCentroids)
	} else {
		var err error
		if prev, err = Initialize(data, k, opts.Source); err != nil {
			return nil, err
		}
	}

	cur := mat.NewDense(k, d, nil)
	labels := make([]int, n)
	counts := make([]int, k)
	log := opts.Logger.With("k", k, "points", n, "dims", d)

	for iter := 0; iter < opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := assignInto(ctx, labels, data, prev, opts.Workers); err != nil {
			return nil, err
		}
		if err := updateInto(cur, data, labels, counts, opts.EmptyCluster, opts.Source, iter); err != nil {
			log.Debug("Run aborted", "iteration", iter, "error", err)
			return nil, err
		}

		movement := Movement(prev, cur, opts.Comparator)
		log.Debug("Iteration finished", "iteration", iter, "movement", movement)
		if movement < opts.Tolerance {
			return &Result{Centroids: cur, State: Converged, Iterations: iter + 1}, nil
		}

		if opts.Hook != nil && iter%opts.HookPeriod == 0 {
			opts.Hook(Progress{Iteration: iter, Movement: movement, Centroids: cur})
		}

		prev, cur = cur, prev
	}

	return &Result{Centroids: prev, State: Exhausted, Iterations: opts.MaxIter}, nil
}
