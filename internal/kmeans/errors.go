package kmeans

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfiguration is returned before any iteration runs when the
	// dataset, k, or options cannot describe a valid run.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrEmptyCluster is returned when a cluster receives no points and the
	// run uses FailOnEmpty.
	ErrEmptyCluster = errors.New("empty cluster")

	// ErrNotConverged is reported by Result.Err for exhausted runs.
	ErrNotConverged = errors.New("not converged")
)

// ConfigError describes why a run configuration was rejected.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "kmeans: invalid configuration: " + e.Reason
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfiguration }

func invalidf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// EmptyClusterError identifies the cluster that received no points and the
// 0-based iteration in which it happened.
type EmptyClusterError struct {
	Cluster   int
	Iteration int
}

func (e *EmptyClusterError) Error() string {
	return fmt.Sprintf("kmeans: cluster %d received no points at iteration %d", e.Cluster, e.Iteration)
}

func (e *EmptyClusterError) Unwrap() error { return ErrEmptyCluster }
