package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/oho/centroid-daemon/internal/api"
	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/runner"
	"github.com/oho/centroid-daemon/internal/server"
	"github.com/oho/centroid-daemon/internal/storage"
)

type serveCmd struct {
	host string
	port int
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "run the clustering daemon" }
func (*serveCmd) Usage() string {
	return `serve [-host <host>] [-port <port>]

  Starts the HTTP daemon. Configuration comes from KC_* environment
  variables; flags override host and port.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.host, "host", "", "Listen host. Overrides KC_HOST.")
	f.IntVar(&c.port, "port", 0, "Listen port. Overrides KC_PORT.")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg := config.LoadConfig()
	if c.host != "" {
		cfg.Host = c.host
	}
	if c.port != 0 {
		cfg.Port = c.port
	}
	slog.Info("Configuration loaded", "data_dir", cfg.DataDir, "port", cfg.Port)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := Serve(ctx, cfg); err != nil {
		slog.Error("Daemon failed", "error", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// NewHandler wires the HTTP surface of the daemon.
func NewHandler(cfg config.Config, db *storage.Database, orch *runner.Orchestrator) http.Handler {
	r := server.NewRouter()
	r.Get("/health", server.HealthHandler(cfg, db))
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/datasets", api.DatasetsRouter(db, cfg.Runner.MaxDatasetRows, cfg.Runner.MaxUploadBytes))
	var limiter *rate.Limiter
	if cfg.Runner.StartRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Runner.StartRate), max(cfg.Runner.StartBurst, 1))
	}
	r.Mount("/runs", api.RunsRouter(db, orch, limiter))
	return r
}

// Serve runs the daemon until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("Database initialized", "path", cfg.DBPath)

	orch := runner.NewOrchestrator(db, cfg)
	defer orch.Shutdown()

	pidPath := filepath.Join(cfg.DataDir, "daemon.pid")
	os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
	defer os.Remove(pidPath)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg, db, orch),
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 60))
	fmt.Printf("  Centroid Daemon\n")
	fmt.Printf("  http://%s\n", addr)
	fmt.Printf("  Data dir: %s\n", cfg.DataDir)
	fmt.Printf("%s\n\n", strings.Repeat("=", 60))

	errc := make(chan error, 1)
	go func() {
		slog.Info("Daemon ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("Daemon stopped")
	return nil
}
