package kmeans

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/oho/centroid-daemon/internal/mathutil"
)

// Comparator reduces per-coordinate centroid movement to a single value.
type Comparator int

const (
	// MinMovement uses the smallest absolute coordinate change. A single
	// stable coordinate is enough to stop the run.
	MinMovement Comparator = iota
	// MaxMovement uses the largest absolute coordinate change.
	MaxMovement
)

func (c Comparator) String() string {
	switch c {
	case MinMovement:
		return "min"
	case MaxMovement:
		return "max"
	default:
		return fmt.Sprintf("Comparator(%d)", int(c))
	}
}

// ParseComparator parses "min" or "max".
func ParseComparator(s string) (Comparator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "min":
		return MinMovement, nil
	case "max":
		return MaxMovement, nil
	}
	return 0, invalidf("unknown comparator %q", s)
}

// Movement compares two centroid sets of equal shape coordinate by
// coordinate and reduces the absolute differences with cmp.
func Movement(prev, cur *mat.Dense, cmp Comparator) float64 {
	k, _ := prev.Dims()
	var m float64
	if cmp == MinMovement {
		m = math.Inf(1)
	}
	for i := 0; i < k; i++ {
		a, b := prev.RawRowView(i), cur.RawRowView(i)
		if cmp == MaxMovement {
			m = math.Max(m, mathutil.MaxAbsDiff(a, b))
		} else {
			m = math.Min(m, mathutil.MinAbsDiff(a, b))
		}
	}
	return m
}

// HasConverged reports whether Movement(prev, cur, cmp) is below tol.
func HasConverged(prev, cur *mat.Dense, tol float64, cmp Comparator) bool {
	return Movement(prev, cur, cmp) < tol
}
