package storage

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// RunStatus represents the lifecycle of a clustering run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NowISO is the exported version of nowISO for use by other packages.
func NowISO() string {
	return nowISO()
}

// Dataset is an immutable N×d matrix stored row-major.
type Dataset struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Rows        int       `json:"rows"`
	Dims        int       `json:"dims"`
	Fingerprint string    `json:"fingerprint"`
	Vectors     []float64 `json:"-"`
	CreatedAt   string    `json:"created_at"`
}

// NewDataset flattens vectors into a Dataset. All vectors must share a
// length; use ValidateVectors first for untrusted input.
func NewDataset(id, name string, vectors [][]float64) Dataset {
	ds := Dataset{ID: id, Name: name, Rows: len(vectors), CreatedAt: nowISO()}
	if len(vectors) > 0 {
		ds.Dims = len(vectors[0])
	}
	ds.Vectors = make([]float64, 0, ds.Rows*ds.Dims)
	for _, v := range vectors {
		ds.Vectors = append(ds.Vectors, v...)
	}
	ds.Fingerprint = Fingerprint(ds.Rows, ds.Dims, ds.Vectors)
	return ds
}

// ValidateVectors checks that vectors form a non-empty rectangular matrix of
// finite values.
func ValidateVectors(vectors [][]float64) error {
	if len(vectors) == 0 {
		return fmt.Errorf("dataset has no rows")
	}
	dims := len(vectors[0])
	if dims == 0 {
		return fmt.Errorf("dataset has no columns")
	}
	for i, v := range vectors {
		if len(v) != dims {
			return fmt.Errorf("row %d has %d values, expected %d", i, len(v), dims)
		}
		for j, x := range v {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return fmt.Errorf("row %d column %d is not finite", i, j)
			}
		}
	}
	return nil
}

// Matrix returns a dense view over the dataset's vectors.
func (d Dataset) Matrix() *mat.Dense {
	if d.Rows == 0 || d.Dims == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(d.Rows, d.Dims, d.Vectors)
}

// Run records one clustering run over a dataset.
type Run struct {
	ID           string    `json:"id"`
	DatasetID    string    `json:"dataset_id"`
	K            int       `json:"k"`
	Dims         int       `json:"dims"`
	Status       RunStatus `json:"status"`
	State        *string   `json:"state,omitempty"`
	Iterations   int       `json:"iterations"`
	Seed         *int64    `json:"seed,omitempty"`
	OptionsJSON  *string   `json:"options_json,omitempty"`
	Centroids    []float64 `json:"-"`
	SizesJSON    *string   `json:"sizes_json,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	ProgressJSON *string   `json:"progress_json,omitempty"`
	CreatedAt    string    `json:"created_at"`
	UpdatedAt    string    `json:"updated_at"`
}

func NewRun(id, datasetID string, k, dims int) Run {
	now := nowISO()
	return Run{
		ID:        id,
		DatasetID: datasetID,
		K:         k,
		Dims:      dims,
		Status:    RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CentroidRows splits the stored centroids into k rows.
func (r Run) CentroidRows() [][]float64 {
	if r.Dims == 0 || len(r.Centroids) == 0 {
		return nil
	}
	rows := make([][]float64, 0, len(r.Centroids)/r.Dims)
	for i := 0; i+r.Dims <= len(r.Centroids); i += r.Dims {
		rows = append(rows, r.Centroids[i:i+r.Dims])
	}
	return rows
}
