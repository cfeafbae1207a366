package kmeans

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// EmptyClusterPolicy decides what the update step does with a cluster that
// received no points.
type EmptyClusterPolicy int

const (
	// FailOnEmpty aborts the run with an *EmptyClusterError.
	FailOnEmpty EmptyClusterPolicy = iota
	// ReseedOnEmpty replaces the centroid with a random dataset row drawn
	// from the run's Source.
	ReseedOnEmpty
)

func (p EmptyClusterPolicy) String() string {
	switch p {
	case FailOnEmpty:
		return "fail"
	case ReseedOnEmpty:
		return "reseed"
	default:
		return fmt.Sprintf("EmptyClusterPolicy(%d)", int(p))
	}
}

// ParseEmptyClusterPolicy parses "fail" or "reseed".
func ParseEmptyClusterPolicy(s string) (EmptyClusterPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return FailOnEmpty, nil
	case "reseed":
		return ReseedOnEmpty, nil
	}
	return 0, invalidf("unknown empty cluster policy %q", s)
}

// Update returns a new k×d centroid set where centroid i is the mean of
// the rows of data labelled i. Calling it twice with the same labels yields
// bit-identical results.
func Update(data *mat.Dense, labels []int, k int, policy EmptyClusterPolicy, src Source) (*mat.Dense, error) {
	if err := validate(data, k); err != nil {
		return nil, err
	}
	n, d := data.Dims()
	if len(labels) != n {
		return nil, invalidf("got %d labels for %d points", len(labels), n)
	}
	for i, c := range labels {
		if c < 0 || c >= k {
			return nil, invalidf("label %d of point %d is outside [0, %d)", c, i, k)
		}
	}
	if src == nil {
		src = globalSource{}
	}
	dst := mat.NewDense(k, d, nil)
	if err := updateInto(dst, data, labels, make([]int, k), policy, src, 0); err != nil {
		return nil, err
	}
	return dst, nil
}

// updateInto overwrites dst with the cluster means. counts is scratch of
// length k.
func updateInto(dst, data *mat.Dense, labels, counts []int, policy EmptyClusterPolicy, src Source, iteration int) error {
	dst.Zero()
	clear(counts)
	for i, c := range labels {
		floats.Add(dst.RawRowView(c), data.RawRowView(i))
		counts[c]++
	}

	n, _ := data.Dims()
	for c, count := range counts {
		if count > 0 {
			floats.Scale(1/float64(count), dst.RawRowView(c))
			continue
		}
		switch policy {
		case ReseedOnEmpty:
			dst.SetRow(c, data.RawRowView(src.IntN(n)))
		default:
			return &EmptyClusterError{Cluster: c, Iteration: iteration}
		}
	}
	return nil
}
