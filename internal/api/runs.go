package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/mat"

	"github.com/oho/centroid-daemon/internal/kmeans"
	"github.com/oho/centroid-daemon/internal/mathutil"
	"github.com/oho/centroid-daemon/internal/runner"
	"github.com/oho/centroid-daemon/internal/storage"
)

type runResponse struct {
	ID           string          `json:"id"`
	DatasetID    string          `json:"dataset_id"`
	K            int             `json:"k"`
	Status       string          `json:"status"`
	State        *string         `json:"state"`
	Iterations   int             `json:"iterations"`
	Seed         *int64          `json:"seed"`
	Options      json.RawMessage `json:"options,omitempty"`
	Centroids    [][]float64     `json:"centroids"`
	Sizes        json.RawMessage `json:"sizes,omitempty"`
	Progress     json.RawMessage `json:"progress,omitempty"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

func rawJSON(s *string) json.RawMessage {
	if s == nil || *s == "" {
		return nil
	}
	return json.RawMessage(*s)
}

func toRunResponse(run storage.Run) runResponse {
	return runResponse{
		ID:           run.ID,
		DatasetID:    run.DatasetID,
		K:            run.K,
		Status:       string(run.Status),
		State:        run.State,
		Iterations:   run.Iterations,
		Seed:         run.Seed,
		Options:      rawJSON(run.OptionsJSON),
		Centroids:    run.CentroidRows(),
		Sizes:        rawJSON(run.SizesJSON),
		Progress:     rawJSON(run.ProgressJSON),
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

type predictRequest struct {
	Vectors [][]float64 `json:"vectors"`
}

// RunsRouter starts clustering runs and reports their results. A nil
// limiter accepts every start request.
func RunsRouter(db *storage.Database, orch *runner.Orchestrator, limiter *rate.Limiter) chi.Router {
	r := chi.NewRouter()

	r.Post("/start", func(w http.ResponseWriter, r *http.Request) {
		if limiter != nil && !limiter.Allow() {
			http.Error(w, "Too many run requests", http.StatusTooManyRequests)
			return
		}

		var req runner.RunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		runID, err := orch.Submit(req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"run_id": runID,
			"status": string(storage.RunPending),
		})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orch.GetStatus())
	})

	r.Get("/list", func(w http.ResponseWriter, r *http.Request) {
		var datasetID *string
		if id := r.URL.Query().Get("dataset_id"); id != "" {
			datasetID = &id
		}
		limit := 100
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		runs, err := db.ListRuns(datasetID, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := make([]runResponse, len(runs))
		for i, run := range runs {
			resp[i] = toRunResponse(run)
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/{run_id}", func(w http.ResponseWriter, r *http.Request) {
		run, err := db.GetRun(chi.URLParam(r, "run_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, toRunResponse(*run))
	})

	r.Get("/{run_id}/clusters/{cluster}", func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		cluster, err := strconv.Atoi(chi.URLParam(r, "cluster"))
		if err != nil || cluster < 0 {
			http.Error(w, "invalid cluster index", http.StatusBadRequest)
			return
		}
		members, err := db.GetMembers(runID, cluster)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if members == nil {
			http.Error(w, "Cluster not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":  runID,
			"cluster": cluster,
			"size":    members.GetCardinality(),
			"members": members.ToArray(),
		})
	})

	// Labels new points with the nearest centroid of a completed run.
	r.Post("/{run_id}/predict", func(w http.ResponseWriter, r *http.Request) {
		run, err := db.GetRun(chi.URLParam(r, "run_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if run.Status != storage.RunCompleted {
			http.Error(w, fmt.Sprintf("Run is %s", run.Status), http.StatusConflict)
			return
		}

		var req predictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := storage.ValidateVectors(req.Vectors); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Vectors[0]) != run.Dims {
			http.Error(w, fmt.Sprintf("vectors have %d dims, run has %d", len(req.Vectors[0]), run.Dims), http.StatusBadRequest)
			return
		}

		points := storage.NewDataset("", "", req.Vectors)
		centroids := mat.NewDense(run.K, run.Dims, run.Centroids)
		labels, err := kmeans.Assign(r.Context(), points.Matrix(), centroids, 0)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		distances := make([]float64, len(labels))
		for i, l := range labels {
			distances[i] = mathutil.Distance(req.Vectors[i], centroids.RawRowView(l))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id":    run.ID,
			"labels":    labels,
			"distances": distances,
		})
	})

	return r
}
