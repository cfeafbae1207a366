package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS datasets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    num_rows INTEGER NOT NULL,
    num_dims INTEGER NOT NULL,
    fingerprint TEXT NOT NULL UNIQUE,
    vectors BLOB NOT NULL,
    created_at TEXT
);

CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
    k INTEGER NOT NULL,
    num_dims INTEGER NOT NULL,
    status TEXT DEFAULT 'pending',
    state TEXT,
    iterations INTEGER DEFAULT 0,
    seed INTEGER,
    options_json TEXT,
    centroids BLOB,
    sizes_json TEXT,
    error_message TEXT,
    progress_json TEXT,
    created_at TEXT,
    updated_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS run_members (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    cluster INTEGER NOT NULL,
    size INTEGER NOT NULL,
    bitmap BLOB NOT NULL,
    PRIMARY KEY (run_id, cluster)
);
`

const runColumns = `id, dataset_id, k, num_dims, status, state, iterations, seed,
	options_json, centroids, sizes_json, error_message, progress_json, created_at, updated_at`

// Database provides thread-safe SQLite operations.
type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	pragmas := []string{"foreign_keys(1)", "busy_timeout(10000)"}
	memory := dbPath == ":memory:"
	if !memory {
		pragmas = append(pragmas, "journal_mode(WAL)")
	}
	dsn := dbPath + "?_pragma=" + strings.Join(pragmas, "&_pragma=")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Database{db: db}, nil
}

func (d *Database) Initialize() error {
	_, err := d.db.Exec(schemaDDL)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) DB() *sql.DB {
	return d.db
}

// -- Dataset operations --

// InsertDataset stores ds unless a dataset with the same fingerprint exists.
// It returns the id of the stored dataset and whether a new row was written.
func (d *Database) InsertDataset(ds Dataset) (string, bool, error) {
	var existing string
	err := d.db.QueryRow("SELECT id FROM datasets WHERE fingerprint=?", ds.Fingerprint).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, err
	}

	_, err = d.db.Exec(`
		INSERT INTO datasets (id, name, num_rows, num_dims, fingerprint, vectors, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.Name, ds.Rows, ds.Dims, ds.Fingerprint, EncodeVectors(ds.Vectors), ds.CreatedAt,
	)
	if err != nil {
		return "", false, fmt.Errorf("insert dataset: %w", err)
	}
	return ds.ID, true, nil
}

// GetDataset loads a dataset with its vectors. It returns nil, nil when the
// id is unknown.
func (d *Database) GetDataset(id string) (*Dataset, error) {
	var ds Dataset
	var blob []byte
	err := d.db.QueryRow(`
		SELECT id, name, num_rows, num_dims, fingerprint, vectors, created_at
		FROM datasets WHERE id=?`, id,
	).Scan(&ds.ID, &ds.Name, &ds.Rows, &ds.Dims, &ds.Fingerprint, &blob, &ds.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if ds.Vectors, err = DecodeVectors(blob); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}
	if len(ds.Vectors) != ds.Rows*ds.Dims {
		return nil, fmt.Errorf("dataset %s: %d values for %dx%d", id, len(ds.Vectors), ds.Rows, ds.Dims)
	}
	return &ds, nil
}

// ListDatasets returns dataset metadata without vectors, newest first.
func (d *Database) ListDatasets() ([]Dataset, error) {
	rows, err := d.db.Query(`
		SELECT id, name, num_rows, num_dims, fingerprint, created_at
		FROM datasets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var ds Dataset
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Rows, &ds.Dims, &ds.Fingerprint, &ds.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// DeleteDataset removes a dataset and its runs. It reports whether the
// dataset existed.
func (d *Database) DeleteDataset(id string) (bool, error) {
	tx, err := d.db.Begin()
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM run_members WHERE run_id IN (SELECT id FROM runs WHERE dataset_id=?)", id); err != nil {
		tx.Rollback()
		return false, err
	}
	if _, err := tx.Exec("DELETE FROM runs WHERE dataset_id=?", id); err != nil {
		tx.Rollback()
		return false, err
	}
	res, err := tx.Exec("DELETE FROM datasets WHERE id=?", id)
	if err != nil {
		tx.Rollback()
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, tx.Commit()
}

func (d *Database) CountDatasets() (int, error) {
	var cnt int
	err := d.db.QueryRow("SELECT COUNT(*) FROM datasets").Scan(&cnt)
	return cnt, err
}

// -- Run operations --

func (d *Database) UpsertRun(r Run) error {
	now := nowISO()
	var centroids []byte
	if len(r.Centroids) > 0 {
		centroids = EncodeVectors(r.Centroids)
	}
	_, err := d.db.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status, state=excluded.state, iterations=excluded.iterations,
			centroids=excluded.centroids, sizes_json=excluded.sizes_json,
			error_message=excluded.error_message, progress_json=excluded.progress_json,
			updated_at=?`,
		r.ID, r.DatasetID, r.K, r.Dims, string(r.Status), r.State, r.Iterations, r.Seed,
		r.OptionsJSON, centroids, r.SizesJSON, r.ErrorMessage, r.ProgressJSON, r.CreatedAt, now, now,
	)
	return err
}

// GetRun returns nil, nil when the id is unknown.
func (d *Database) GetRun(id string) (*Run, error) {
	rows, err := d.db.Query("SELECT "+runColumns+" FROM runs WHERE id=?", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// ListRuns returns runs newest first, optionally filtered by dataset.
func (d *Database) ListRuns(datasetID *string, limit int) ([]Run, error) {
	var rows *sql.Rows
	var err error
	if datasetID != nil {
		rows, err = d.db.Query("SELECT "+runColumns+" FROM runs WHERE dataset_id=? ORDER BY created_at DESC LIMIT ?", *datasetID, limit)
	} else {
		rows, err = d.db.Query("SELECT "+runColumns+" FROM runs ORDER BY created_at DESC LIMIT ?", limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRuns(rows)
}

func (d *Database) UpdateRunProgress(id string, status RunStatus, progress *string) error {
	_, err := d.db.Exec(
		"UPDATE runs SET status=?, progress_json=?, updated_at=? WHERE id=?",
		string(status), progress, nowISO(), id,
	)
	return err
}

// CompleteRun stores the terminal state and centroids of a finished run.
func (d *Database) CompleteRun(id, state string, iterations int, centroids []float64, sizesJSON string) error {
	_, err := d.db.Exec(`
		UPDATE runs SET status=?, state=?, iterations=?, centroids=?, sizes_json=?, updated_at=?
		WHERE id=?`,
		string(RunCompleted), state, iterations, EncodeVectors(centroids), sizesJSON, nowISO(), id,
	)
	return err
}

func (d *Database) FailRun(id, message string) error {
	_, err := d.db.Exec(
		"UPDATE runs SET status=?, error_message=?, updated_at=? WHERE id=?",
		string(RunFailed), message, nowISO(), id,
	)
	return err
}

func (d *Database) CountRunsByStatus() (map[string]int, error) {
	rows, err := d.db.Query("SELECT status, COUNT(*) as cnt FROM runs GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var cnt int
		if err := rows.Scan(&status, &cnt); err != nil {
			return nil, err
		}
		counts[status] = cnt
	}
	return counts, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var centroids []byte
		err := rows.Scan(
			&r.ID, &r.DatasetID, &r.K, &r.Dims, &status, &r.State, &r.Iterations, &r.Seed,
			&r.OptionsJSON, &centroids, &r.SizesJSON, &r.ErrorMessage, &r.ProgressJSON,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Status = RunStatus(status)
		if r.Centroids, err = DecodeVectors(centroids); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
