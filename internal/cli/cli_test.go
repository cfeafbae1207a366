package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/subcommands"

	"github.com/oho/centroid-daemon/internal/config"
	"github.com/oho/centroid-daemon/internal/runner"
	"github.com/oho/centroid-daemon/internal/storage"
)

func TestReadVectors(t *testing.T) {
	in := "x,y\n# comment\n0, 0\n0,1\n10,0\n10, 1\n"
	got, err := ReadVectors(strings.NewReader(in), true)
	if err != nil {
		t.Fatalf("ReadVectors: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 vectors, got %d", len(got))
	}
	if got[3][0] != 10 || got[3][1] != 1 {
		t.Errorf("unexpected last vector %v", got[3])
	}
}

func TestReadVectorsErrors(t *testing.T) {
	if _, err := ReadVectors(strings.NewReader("x,y\n1,2\n"), false); err == nil {
		t.Error("expected parse error for header without -header")
	}
	if _, err := ReadVectors(strings.NewReader("1,2\n3\n"), false); err == nil {
		t.Error("expected error for ragged csv")
	}
}

func newClusterCmd(t *testing.T, args ...string) *clusterCmd {
	t.Helper()
	c := &clusterCmd{}
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	c.SetFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	return c
}

func TestClusterSingleGroup(t *testing.T) {
	c := newClusterCmd(t, "-k", "1", "-seed", "4")
	res, err := c.run(context.Background(), [][]float64{{0, 0}, {0, 1}, {10, 0}, {10, 1}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.State != "converged" || res.Iterations != 2 {
		t.Errorf("expected converged in 2, got %s in %d", res.State, res.Iterations)
	}
	if res.Centroids[0][0] != 5 || res.Centroids[0][1] != 0.5 {
		t.Errorf("unexpected centroid %v", res.Centroids[0])
	}
	if res.Sizes[0] != 4 {
		t.Errorf("expected size 4, got %d", res.Sizes[0])
	}

	var buf bytes.Buffer
	if err := c.print(&buf, res); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "state: converged") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestClusterRejectsBadFlags(t *testing.T) {
	data := [][]float64{{0}, {1}}
	if _, err := newClusterCmd(t, "-k", "3").run(context.Background(), data); err == nil {
		t.Error("expected error for k > rows")
	}
	if _, err := newClusterCmd(t, "-comparator", "avg").run(context.Background(), data); err == nil {
		t.Error("expected error for unknown comparator")
	}
	if _, err := newClusterCmd(t, "-empty", "drop").run(context.Background(), data); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestClusterExecuteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.csv")
	if err := os.WriteFile(path, []byte("1,1\n1,1\n1,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	c := newClusterCmd(t, "-k", "2", "-empty", "reseed", "-json", path)
	c.out = &out
	fs := flag.NewFlagSet("cluster", flag.ContinueOnError)
	fs.Parse([]string{path})
	if status := c.Execute(context.Background(), fs); status != subcommands.ExitSuccess {
		t.Fatalf("expected success, got %v", status)
	}

	var res clusterResult
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if res.State != "converged" || len(res.Centroids) != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Sizes[0] != 3 || res.Sizes[1] != 0 {
		t.Errorf("expected sizes [3 0], got %v", res.Sizes)
	}
}

func TestNewHandler(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = dir
	cfg.DBPath = filepath.Join(dir, "test.db")

	db, err := openDatabase(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.InsertDataset(storage.NewDataset("d1", "pair", [][]float64{{0}, {1}}))
	orch := runner.NewOrchestrator(db, cfg)
	defer orch.Shutdown()

	h := NewHandler(cfg, db, orch)
	for _, path := range []string{"/health", "/metrics", "/datasets/list", "/datasets/d1", "/runs/list", "/runs/status"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Errorf("GET %s: missing CORS header", path)
		}
	}
}
