package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/oho/centroid-daemon/internal/kmeans"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Port != 8743 {
		t.Errorf("expected port 8743, got %d", cfg.Port)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Host)
	}
	if cfg.Clustering.MaxIter != 500 {
		t.Errorf("expected 500 max iterations, got %d", cfg.Clustering.MaxIter)
	}
	if cfg.Clustering.Tolerance != 1e-3 {
		t.Errorf("expected tolerance 1e-3, got %g", cfg.Clustering.Tolerance)
	}
	if cfg.Clustering.Comparator != "min" {
		t.Errorf("expected min comparator, got %s", cfg.Clustering.Comparator)
	}
	if cfg.Clustering.EmptyCluster != "fail" {
		t.Errorf("expected fail policy, got %s", cfg.Clustering.EmptyCluster)
	}
	if cfg.Clustering.HookPeriod != 100 {
		t.Errorf("expected hook period 100, got %d", cfg.Clustering.HookPeriod)
	}
}

func TestLoadConfigEnvVars(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "kc-data")
	t.Setenv("KC_DATA_DIR", dir)
	t.Setenv("KC_PORT", "9999")
	t.Setenv("KC_MAX_ITER", "50")
	t.Setenv("KC_TOLERANCE", "0.5")
	t.Setenv("KC_COMPARATOR", "max")
	t.Setenv("KC_EMPTY_CLUSTER", "reseed")
	t.Setenv("KC_WORKERS", "3")
	t.Setenv("KC_START_RATE", "0")
	t.Setenv("KC_MAX_UPLOAD_BYTES", "4096")

	cfg := LoadConfig()

	if cfg.DataDir != dir {
		t.Errorf("expected data dir %s, got %s", dir, cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join(dir, "centroids.db") {
		t.Errorf("unexpected db path %s", cfg.DBPath)
	}
	if cfg.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Port)
	}
	if cfg.Runner.MaxUploadBytes != 4096 {
		t.Errorf("expected upload limit 4096, got %d", cfg.Runner.MaxUploadBytes)
	}
	if cfg.Runner.StartRate != 0 {
		t.Errorf("expected start rate disabled, got %g", cfg.Runner.StartRate)
	}
	if cfg.Clustering.MaxIter != 50 || cfg.Clustering.Tolerance != 0.5 {
		t.Errorf("clustering overrides not applied: %+v", cfg.Clustering)
	}
	if cfg.Clustering.Comparator != "max" || cfg.Clustering.EmptyCluster != "reseed" {
		t.Errorf("policy overrides not applied: %+v", cfg.Clustering)
	}
	if cfg.Clustering.Workers != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Clustering.Workers)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestLoadConfigIgnoresBadNumbers(t *testing.T) {
	t.Setenv("KC_DATA_DIR", t.TempDir())
	t.Setenv("KC_PORT", "not-a-port")
	t.Setenv("KC_TOLERANCE", "tiny")

	cfg := LoadConfig()
	if cfg.Port != 8743 {
		t.Errorf("expected default port, got %d", cfg.Port)
	}
	if cfg.Clustering.Tolerance != 1e-3 {
		t.Errorf("expected default tolerance, got %g", cfg.Clustering.Tolerance)
	}
}

func TestClusteringOptions(t *testing.T) {
	c := DefaultConfig().Clustering
	c.Comparator = "max"
	c.EmptyCluster = "reseed"

	opts, err := c.Options()
	if err != nil {
		t.Fatalf("Options: %v", err)
	}
	if opts.Comparator != kmeans.MaxMovement {
		t.Errorf("expected max comparator, got %v", opts.Comparator)
	}
	if opts.EmptyCluster != kmeans.ReseedOnEmpty {
		t.Errorf("expected reseed policy, got %v", opts.EmptyCluster)
	}
	if opts.MaxIter != 500 || opts.HookPeriod != 100 {
		t.Errorf("unexpected options %+v", opts)
	}

	c.Comparator = "mean"
	if _, err := c.Options(); !errors.Is(err, kmeans.ErrInvalidConfiguration) {
		t.Errorf("expected invalid configuration, got %v", err)
	}
}

func TestEnsureDirs(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := DefaultConfig()
	cfg.DataDir = dir

	cfg.EnsureDirs()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("directory not created: %s", dir)
	}
}
