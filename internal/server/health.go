package server

import (
	"encoding/json"
	"net/http"

	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/storage"
)

type HealthResponse struct {
	Status       string         `json:"status"`
	DB           string         `json:"db"`
	DatasetCount int            `json:"dataset_count"`
	RunCounts    map[string]int `json:"run_counts"`
	DataDir      string         `json:"data_dir"`
	Port         int            `json:"port"`
}

// HealthHandler returns a handler for GET /health.
func HealthHandler(cfg config.Config, db *storage.Database) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "ok",
			DB:        "connected",
			RunCounts: map[string]int{},
			DataDir:   cfg.DataDir,
			Port:      cfg.Port,
		}

		if db == nil || db.DB().PingContext(r.Context()) != nil {
			resp.Status = "degraded"
			resp.DB = "unavailable"
		} else {
			resp.DatasetCount, _ = db.CountDatasets()
			if counts, err := db.CountRunsByStatus(); err == nil {
				resp.RunCounts = counts
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}
