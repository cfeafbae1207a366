package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/oho/centroid-daemon/internal/kmeans"
	"github.com/oho/centroid-daemon/internal/runner"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, kmeans.ErrInvalidConfiguration):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, runner.ErrDatasetNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
