package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oho/centroid-daemon/internal/metrics"
	"github.com/oho/centroid-daemon/internal/storage"
)

type addDatasetRequest struct {
	Name    string      `json:"name"`
	Vectors [][]float64 `json:"vectors"`
}

type datasetResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Rows        int    `json:"rows"`
	Dims        int    `json:"dims"`
	Fingerprint string `json:"fingerprint"`
	CreatedAt   string `json:"created_at"`
}

func toDatasetResponse(ds storage.Dataset) datasetResponse {
	return datasetResponse{
		ID: ds.ID, Name: ds.Name, Rows: ds.Rows, Dims: ds.Dims,
		Fingerprint: ds.Fingerprint, CreatedAt: ds.CreatedAt,
	}
}

// DatasetsRouter serves dataset upload and lookup. maxRows and maxBytes
// bound uploads; zero disables either check.
func DatasetsRouter(db *storage.Database, maxRows int, maxBytes int64) chi.Router {
	r := chi.NewRouter()

	r.Post("/add", func(w http.ResponseWriter, r *http.Request) {
		if maxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		var req addDatasetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := storage.ValidateVectors(req.Vectors); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if maxRows > 0 && len(req.Vectors) > maxRows {
			http.Error(w, fmt.Sprintf("dataset has %d rows, limit is %d", len(req.Vectors), maxRows), http.StatusRequestEntityTooLarge)
			return
		}

		ds := storage.NewDataset(uuid.NewString(), req.Name, req.Vectors)
		id, created, err := db.InsertDataset(ds)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		ds.ID = id

		status := http.StatusCreated
		if created {
			metrics.DatasetsStored.WithLabelValues("created").Inc()
			slog.Info("Dataset stored", "id", id, "rows", ds.Rows, "dims", ds.Dims)
		} else {
			metrics.DatasetsStored.WithLabelValues("duplicate").Inc()
			status = http.StatusOK
			if existing, err := db.GetDataset(id); err == nil && existing != nil {
				ds = *existing
			}
		}
		writeJSON(w, status, toDatasetResponse(ds))
	})

	r.Get("/list", func(w http.ResponseWriter, r *http.Request) {
		list, err := db.ListDatasets()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp := make([]datasetResponse, len(list))
		for i, ds := range list {
			resp[i] = toDatasetResponse(ds)
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/{dataset_id}", func(w http.ResponseWriter, r *http.Request) {
		ds, err := db.GetDataset(chi.URLParam(r, "dataset_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if ds == nil {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("include") != "vectors" {
			writeJSON(w, http.StatusOK, toDatasetResponse(*ds))
			return
		}

		rows := make([][]float64, 0, ds.Rows)
		for i := 0; i < ds.Rows; i++ {
			rows = append(rows, ds.Vectors[i*ds.Dims:(i+1)*ds.Dims])
		}
		writeJSON(w, http.StatusOK, struct {
			datasetResponse
			Vectors [][]float64 `json:"vectors"`
		}{toDatasetResponse(*ds), rows})
	})

	r.Delete("/{dataset_id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "dataset_id")
		deleted, err := db.DeleteDataset(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !deleted {
			http.Error(w, "Dataset not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": id})
	})

	return r
}
