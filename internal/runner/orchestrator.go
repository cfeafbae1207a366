// Package runner schedules clustering runs over stored datasets and records
// their progress and results.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/kmeans"
	"github.com/oho/centroid-daemon/internal/mathutil"
	"github.com/oho/centroid-daemon/internal/metrics"
	"github.com/oho/centroid-daemon/internal/storage"
)

// ErrDatasetNotFound is returned when a run references an unknown dataset.
var ErrDatasetNotFound = errors.New("dataset not found")

// RunRequest describes a clustering run. Nil fields fall back to the
// configured defaults.
type RunRequest struct {
	DatasetID    string   `json:"dataset_id"`
	K            int      `json:"k"`
	MaxIter      *int     `json:"max_iter,omitempty"`
	Tolerance    *float64 `json:"tolerance,omitempty"`
	Comparator   *string  `json:"comparator,omitempty"`
	EmptyCluster *string  `json:"empty_cluster,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
}

// Orchestrator runs clustering jobs in the background, bounded by
// Runner.MaxConcurrentRuns.
type Orchestrator struct {
	db     *storage.Database
	cfg    config.Config
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}

	logMu       sync.Mutex
	activityLog []map[string]any
}

func NewOrchestrator(db *storage.Database, cfg config.Config) *Orchestrator {
	limit := cfg.Runner.MaxConcurrentRuns
	if limit < 1 {
		limit = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		db:     db,
		cfg:    cfg,
		sem:    make(chan struct{}, limit),
		ctx:    ctx,
		cancel: cancel,
		active: make(map[string]struct{}),
	}
}

func (o *Orchestrator) emit(runID, action, detail string) {
	entry := map[string]any{
		"ts":     time.Now().UTC().Format("15:04:05"),
		"run_id": runID,
		"action": action,
		"detail": detail,
	}
	o.logMu.Lock()
	o.activityLog = append(o.activityLog, entry)
	if len(o.activityLog) > 200 {
		o.activityLog = o.activityLog[len(o.activityLog)-200:]
	}
	o.logMu.Unlock()
}

// Submit validates req, records a pending run and starts it in the
// background. Configuration errors are returned before anything is stored.
func (o *Orchestrator) Submit(req RunRequest) (string, error) {
	ds, run, opts, err := o.prepare(req)
	if err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		select {
		case o.sem <- struct{}{}:
		case <-o.ctx.Done():
			o.failRun(run.ID, o.ctx.Err().Error())
			return
		}
		defer func() { <-o.sem }()
		o.execute(o.ctx, run, ds, opts)
	}()
	return run.ID, nil
}

// RunSync executes a run on the calling goroutine and returns the stored
// record. A failed run is returned together with its error.
func (o *Orchestrator) RunSync(ctx context.Context, req RunRequest) (*storage.Run, error) {
	ds, run, opts, err := o.prepare(req)
	if err != nil {
		return nil, err
	}
	runErr := o.execute(ctx, run, ds, opts)
	stored, err := o.db.GetRun(run.ID)
	if err != nil {
		return nil, err
	}
	return stored, runErr
}

// Wait blocks until every submitted run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown cancels in-flight runs and waits for them to stop.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) prepare(req RunRequest) (*storage.Dataset, storage.Run, kmeans.Options, error) {
	opts, err := o.options(req)
	if err != nil {
		return nil, storage.Run{}, opts, err
	}

	ds, err := o.db.GetDataset(req.DatasetID)
	if err != nil {
		return nil, storage.Run{}, opts, fmt.Errorf("load dataset: %w", err)
	}
	if ds == nil {
		return nil, storage.Run{}, opts, fmt.Errorf("%w: %s", ErrDatasetNotFound, req.DatasetID)
	}
	if req.K < 1 || req.K > ds.Rows {
		return nil, storage.Run{}, opts, fmt.Errorf("%w: k=%d must be in [1, %d]",
			kmeans.ErrInvalidConfiguration, req.K, ds.Rows)
	}

	run := storage.NewRun(uuid.NewString(), ds.ID, req.K, ds.Dims)
	run.Seed = req.Seed
	optsJSON, _ := json.Marshal(map[string]any{
		"max_iter":      opts.MaxIter,
		"tolerance":     opts.Tolerance,
		"comparator":    opts.Comparator.String(),
		"empty_cluster": opts.EmptyCluster.String(),
		"hook_period":   opts.HookPeriod,
	})
	optsStr := string(optsJSON)
	run.OptionsJSON = &optsStr

	if err := o.db.UpsertRun(run); err != nil {
		return nil, storage.Run{}, opts, fmt.Errorf("record run: %w", err)
	}
	o.emit(run.ID, "queued", fmt.Sprintf("k=%d dataset=%s", run.K, ds.ID))
	return ds, run, opts, nil
}

func (o *Orchestrator) options(req RunRequest) (kmeans.Options, error) {
	c := o.cfg.Clustering
	if req.MaxIter != nil {
		c.MaxIter = *req.MaxIter
	}
	if req.Tolerance != nil {
		c.Tolerance = *req.Tolerance
	}
	if req.Comparator != nil {
		c.Comparator = *req.Comparator
	}
	if req.EmptyCluster != nil {
		c.EmptyCluster = *req.EmptyCluster
	}
	if c.MaxIter < 1 {
		return kmeans.Options{}, fmt.Errorf("%w: max_iter=%d must be positive", kmeans.ErrInvalidConfiguration, c.MaxIter)
	}
	if !(c.Tolerance > 0) {
		return kmeans.Options{}, fmt.Errorf("%w: tolerance=%g must be positive", kmeans.ErrInvalidConfiguration, c.Tolerance)
	}

	opts, err := c.Options()
	if err != nil {
		return opts, err
	}
	if req.Seed != nil {
		opts.Source = kmeans.Seed(uint64(*req.Seed))
	}
	return opts, nil
}

func (o *Orchestrator) execute(ctx context.Context, run storage.Run, ds *storage.Dataset, opts kmeans.Options) error {
	o.mu.Lock()
	o.active[run.ID] = struct{}{}
	o.mu.Unlock()
	metrics.RunsInFlight.Inc()
	defer func() {
		metrics.RunsInFlight.Dec()
		o.mu.Lock()
		delete(o.active, run.ID)
		o.mu.Unlock()
	}()

	log := slog.Default().With("run_id", run.ID, "dataset_id", ds.ID)
	log.Info("Run started", "k", run.K, "rows", ds.Rows, "dims", ds.Dims)
	o.updateProgress(run.ID, map[string]any{"stage": "clustering", "started_at": storage.NowISO()})
	o.emit(run.ID, "started", "")

	data := ds.Matrix()
	opts.Logger = log
	opts.Hook = func(p kmeans.Progress) {
		o.updateProgress(run.ID, map[string]any{
			"stage":     "clustering",
			"iteration": p.Iteration,
			"movement":  p.Movement,
		})
		o.emit(run.ID, "iteration", fmt.Sprintf("%d movement=%g", p.Iteration, p.Movement))
	}

	start := time.Now()
	res, err := kmeans.Run(ctx, data, run.K, opts)
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		log.Warn("Run failed", "error", err)
		o.failRun(run.ID, err.Error())
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		o.emit(run.ID, "failed", err.Error())
		return err
	}

	labels, err := kmeans.Assign(ctx, data, res.Centroids, opts.Workers)
	if err != nil {
		log.Warn("Run failed", "error", err)
		o.failRun(run.ID, err.Error())
		metrics.RunsTotal.WithLabelValues("failed").Inc()
		return err
	}
	sizes := make([]int, run.K)
	for _, l := range labels {
		sizes[l]++
	}
	if err := o.db.SaveMembers(run.ID, storage.MembersFromLabels(labels, run.K)); err != nil {
		log.Warn("Failed to store cluster members", "error", err)
	}
	sizeMean, sizeStd := mathutil.SizeSpread(sizes)
	sizesJSON, _ := json.Marshal(sizes)

	o.updateProgress(run.ID, map[string]any{
		"stage":        "completed",
		"iterations":   res.Iterations,
		"size_mean":    sizeMean,
		"size_std":     sizeStd,
		"completed_at": storage.NowISO(),
	})
	if err := o.db.CompleteRun(run.ID, res.State.String(), res.Iterations, res.Centroids.RawMatrix().Data, string(sizesJSON)); err != nil {
		log.Error("Failed to store run result", "error", err)
		return err
	}

	metrics.RunsTotal.WithLabelValues(res.State.String()).Inc()
	metrics.RunIterations.Observe(float64(res.Iterations))
	o.emit(run.ID, res.State.String(), fmt.Sprintf("%d iterations", res.Iterations))
	log.Info("Run finished", "state", res.State.String(), "iterations", res.Iterations, "elapsed", time.Since(start))
	if res.State == kmeans.Exhausted {
		log.Warn("Run did not converge", "max_iter", opts.MaxIter)
	}
	return nil
}

func (o *Orchestrator) failRun(runID, message string) {
	if err := o.db.FailRun(runID, message); err != nil {
		slog.Warn("Failed to record run failure", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) updateProgress(runID string, progress map[string]any) {
	data, _ := json.Marshal(progress)
	s := string(data)
	if err := o.db.UpdateRunProgress(runID, storage.RunRunning, &s); err != nil {
		slog.Warn("Failed to record progress", "run_id", runID, "error", err)
	}
}

// GetStatus returns active runs, run counts and recent activity.
func (o *Orchestrator) GetStatus() map[string]any {
	counts, _ := o.db.CountRunsByStatus()
	if counts == nil {
		counts = map[string]int{}
	}
	datasets, _ := o.db.CountDatasets()

	o.mu.Lock()
	active := make([]string, 0, len(o.active))
	for id := range o.active {
		active = append(active, id)
	}
	o.mu.Unlock()

	o.logMu.Lock()
	n := min(len(o.activityLog), 50)
	recentLog := make([]map[string]any, n)
	copy(recentLog, o.activityLog[len(o.activityLog)-n:])
	o.logMu.Unlock()

	return map[string]any{
		"running":       len(active) > 0,
		"active_runs":   active,
		"status_counts": counts,
		"dataset_count": datasets,
		"activity_log":  recentLog,
	}
}
