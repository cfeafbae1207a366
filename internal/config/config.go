package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/oho/centroid-daemon/internal/kmeans"
)

type ClusteringConfig struct {
	MaxIter      int     `json:"max_iter"`
	Tolerance    float64 `json:"tolerance"`
	Comparator   string  `json:"comparator"`
	EmptyCluster string  `json:"empty_cluster"`
	HookPeriod   int     `json:"hook_period"`
	Workers      int     `json:"workers"`
}

type RunnerConfig struct {
	MaxConcurrentRuns int   `json:"max_concurrent_runs"`
	MaxDatasetRows    int   `json:"max_dataset_rows"`
	MaxUploadBytes    int64 `json:"max_upload_bytes"`

	// StartRate limits run submissions per second; zero disables it.
	StartRate  float64 `json:"start_rate"`
	StartBurst int     `json:"start_burst"`
}

type Config struct {
	DataDir    string           `json:"data_dir"`
	DBPath     string           `json:"db_path"`
	Host       string           `json:"host"`
	Port       int              `json:"port"`
	Clustering ClusteringConfig `json:"clustering"`
	Runner     RunnerConfig     `json:"runner"`
}

func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".centroid-daemon")
	return Config{
		DataDir: dataDir,
		DBPath:  filepath.Join(dataDir, "centroids.db"),
		Host:    "127.0.0.1",
		Port:    8743,
		Clustering: ClusteringConfig{
			MaxIter:      kmeans.DefaultMaxIter,
			Tolerance:    kmeans.DefaultTolerance,
			Comparator:   "min",
			EmptyCluster: "fail",
			HookPeriod:   kmeans.DefaultHookPeriod,
			Workers:      0,
		},
		Runner: RunnerConfig{
			MaxConcurrentRuns: 2,
			MaxDatasetRows:    1_000_000,
			MaxUploadBytes:    256 << 20,
			StartRate:         5,
			StartBurst:        10,
		},
	}
}

func LoadConfig() Config {
	cfg := DefaultConfig()

	if dataDir := os.Getenv("KC_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
		cfg.DBPath = filepath.Join(dataDir, "centroids.db")
	}
	if host := os.Getenv("KC_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("KC_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if v := os.Getenv("KC_MAX_ITER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clustering.MaxIter = n
		}
	}
	if v := os.Getenv("KC_TOLERANCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Clustering.Tolerance = f
		}
	}
	if v := os.Getenv("KC_COMPARATOR"); v != "" {
		cfg.Clustering.Comparator = v
	}
	if v := os.Getenv("KC_EMPTY_CLUSTER"); v != "" {
		cfg.Clustering.EmptyCluster = v
	}
	if v := os.Getenv("KC_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Clustering.Workers = n
		}
	}

	if v := os.Getenv("KC_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Runner.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("KC_START_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Runner.StartRate = f
		}
	}

	cfg.EnsureDirs()
	return cfg
}

func (c *Config) EnsureDirs() {
	os.MkdirAll(c.DataDir, 0o755)
}

// Options converts the clustering defaults into run options. Source, hook
// and logger are left for the caller.
func (c ClusteringConfig) Options() (kmeans.Options, error) {
	cmp, err := kmeans.ParseComparator(c.Comparator)
	if err != nil {
		return kmeans.Options{}, err
	}
	policy, err := kmeans.ParseEmptyClusterPolicy(c.EmptyCluster)
	if err != nil {
		return kmeans.Options{}, err
	}
	return kmeans.Options{
		MaxIter:      c.MaxIter,
		Tolerance:    c.Tolerance,
		Comparator:   cmp,
		EmptyCluster: policy,
		HookPeriod:   c.HookPeriod,
		Workers:      c.Workers,
	}, nil
}
