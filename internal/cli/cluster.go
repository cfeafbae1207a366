package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/subcommands"

	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/kmeans"
	"github.com/oho/centroid-daemon/internal/mathutil"
	"github.com/oho/centroid-daemon/internal/storage"
)

type clusterCmd struct {
	k          int
	seed       int64
	maxIter    int
	tol        float64
	comparator string
	empty      string
	header     bool
	asJSON     bool
	verbose    bool

	out io.Writer
}

func (*clusterCmd) Name() string     { return "cluster" }
func (*clusterCmd) Synopsis() string { return "cluster the rows of a CSV file and print the centroids" }
func (*clusterCmd) Usage() string {
	return `cluster -k <n> [-seed <s>] [-max-iter <m>] [-tol <e>] [-comparator min|max] [-empty fail|reseed] <file.csv>

  Runs k-means over a numeric CSV file (one vector per row) and prints the
  final state, the iteration count, the centroids and the cluster sizes.
`
}

func (c *clusterCmd) SetFlags(f *flag.FlagSet) {
	def := config.DefaultConfig().Clustering
	f.IntVar(&c.k, "k", 2, "Number of clusters.")
	f.Int64Var(&c.seed, "seed", -1, "Seed for centroid sampling. Negative means unseeded.")
	f.IntVar(&c.maxIter, "max-iter", def.MaxIter, "Maximum number of iterations.")
	f.Float64Var(&c.tol, "tol", def.Tolerance, "Convergence threshold on centroid movement.")
	f.StringVar(&c.comparator, "comparator", def.Comparator, "Movement reduction (min, max).")
	f.StringVar(&c.empty, "empty", def.EmptyCluster, "Empty cluster policy (fail, reseed).")
	f.BoolVar(&c.header, "header", false, "Skip the first CSV record.")
	f.BoolVar(&c.asJSON, "json", false, "Print the result as JSON.")
	f.BoolVar(&c.verbose, "v", false, "Log progress every hook period.")
}

type clusterResult struct {
	State      string      `json:"state"`
	Iterations int         `json:"iterations"`
	Centroids  [][]float64 `json:"centroids"`
	Sizes      []int       `json:"sizes"`
}

func (c *clusterCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "cluster: expected exactly one CSV file")
		return subcommands.ExitUsageError
	}
	vectors, err := readVectorsFile(f.Arg(0), c.header)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	res, err := c.run(ctx, vectors)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}

	out := c.out
	if out == nil {
		out = os.Stdout
	}
	if err := c.print(out, res); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *clusterCmd) run(ctx context.Context, vectors [][]float64) (*clusterResult, error) {
	if err := storage.ValidateVectors(vectors); err != nil {
		return nil, err
	}

	cc := config.DefaultConfig().Clustering
	cc.MaxIter = c.maxIter
	cc.Tolerance = c.tol
	cc.Comparator = c.comparator
	cc.EmptyCluster = c.empty
	opts, err := cc.Options()
	if err != nil {
		return nil, err
	}
	if c.seed >= 0 {
		opts.Source = kmeans.Seed(uint64(c.seed))
	}
	if c.verbose {
		opts.Hook = func(p kmeans.Progress) {
			slog.Info("Iteration", "iteration", p.Iteration, "movement", p.Movement)
		}
	}

	data := storage.NewDataset("", "", vectors).Matrix()
	res, err := kmeans.Run(ctx, data, c.k, opts)
	if err != nil {
		return nil, err
	}

	k, d := res.Centroids.Dims()
	out := &clusterResult{
		State:      res.State.String(),
		Iterations: res.Iterations,
		Centroids:  make([][]float64, k),
		Sizes:      make([]int, k),
	}
	for i := range k {
		out.Centroids[i] = append([]float64(nil), res.Centroids.RawRowView(i)[:d]...)
	}
	labels, err := kmeans.Assign(ctx, data, res.Centroids, opts.Workers)
	if err != nil {
		return nil, err
	}
	for _, l := range labels {
		out.Sizes[l]++
	}
	return out, nil
}

func (c *clusterCmd) print(w io.Writer, res *clusterResult) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(w, "state: %s\n", res.State)
	fmt.Fprintf(w, "iterations: %d\n", res.Iterations)
	mean, std := mathutil.SizeSpread(res.Sizes)
	fmt.Fprintf(w, "cluster sizes: mean %.2f, std %.2f\n", mean, std)
	for i, row := range res.Centroids {
		fmt.Fprintf(w, "%d\t%d\t%v\n", i, res.Sizes[i], row)
	}
	return nil
}
