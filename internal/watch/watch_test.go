package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"batchwand/internal/config"
	"batchwand/internal/pipeline"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// collectPaths drains submitted jobs until want paths have arrived. Slow
// event delivery may split a batch, so multiple jobs are merged.
func collectPaths(t *testing.T, jobs <-chan pipeline.Job, want int) []string {
	t.Helper()
	var paths []string
	deadline := time.After(5 * time.Second)
	for len(paths) < want {
		select {
		case job := <-jobs:
			got, ok := job.Options["paths"].([]string)
			if !ok {
				t.Fatalf("job without paths option: %+v", job)
			}
			paths = append(paths, got...)
		case <-deadline:
			t.Fatalf("timed out, got paths %v", paths)
		}
	}
	return paths
}

func TestWatcherSubmitsConvertRunForNewImages(t *testing.T) {
	dir := t.TempDir()

	jobs := make(chan pipeline.Job, 8)
	w, err := New(
		config.Watch{Paths: []string{dir}, Recipe: "/recipes/auto.yaml", DebounceMS: 50},
		func(job pipeline.Job) error {
			jobs <- job
			return nil
		},
		slog.Default(),
	)
	if err != nil {
		t.Fatalf("creating watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("starting watcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "a.png"))
	writeFile(t, filepath.Join(dir, "notes.txt"))
	writeFile(t, filepath.Join(dir, "b.jpg"))

	paths := collectPaths(t, jobs, 2)
	for _, p := range paths {
		if filepath.Ext(p) == ".txt" {
			t.Fatalf("non-image file submitted: %v", paths)
		}
	}
}

func TestWatcherScansMovedInDirectory(t *testing.T) {
	dir := t.TempDir()
	staging := t.TempDir()

	jobs := make(chan pipeline.Job, 8)
	w, err := New(
		config.Watch{Paths: []string{dir}, DebounceMS: 50},
		func(job pipeline.Job) error {
			jobs <- job
			return nil
		},
		slog.Default(),
	)
	if err != nil {
		t.Fatalf("creating watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("starting watcher: %v", err)
	}
	defer w.Stop()

	// A directory moved into the watched path produces one create event;
	// its files must come from the scan.
	batch := filepath.Join(staging, "batch")
	if err := os.Mkdir(batch, 0o755); err != nil {
		t.Fatalf("creating staging dir: %v", err)
	}
	writeFile(t, filepath.Join(batch, "one.png"))
	writeFile(t, filepath.Join(batch, "two.jpg"))
	writeFile(t, filepath.Join(batch, "skip.txt"))
	if err := os.Rename(batch, filepath.Join(dir, "batch")); err != nil {
		t.Fatalf("moving directory in: %v", err)
	}

	paths := collectPaths(t, jobs, 2)
	names := make(map[string]bool)
	for _, p := range paths {
		names[filepath.Base(p)] = true
	}
	if !names["one.png"] || !names["two.jpg"] {
		t.Fatalf("moved-in images not submitted, got %v", paths)
	}
	if names["skip.txt"] {
		t.Fatalf("non-image file submitted: %v", paths)
	}
}

func TestWatcherCarriesRecipeOption(t *testing.T) {
	dir := t.TempDir()

	jobs := make(chan pipeline.Job, 8)
	w, err := New(
		config.Watch{Paths: []string{dir}, Recipe: "/recipes/auto.yaml", DebounceMS: 20},
		func(job pipeline.Job) error {
			jobs <- job
			return nil
		},
		slog.Default(),
	)
	if err != nil {
		t.Fatalf("creating watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("starting watcher: %v", err)
	}
	defer w.Stop()

	writeFile(t, filepath.Join(dir, "shot.png"))

	select {
	case job := <-jobs:
		if job.Type != pipeline.RunConvert {
			t.Fatalf("unexpected run type %q", job.Type)
		}
		if job.Options["recipe"] != "/recipes/auto.yaml" {
			t.Fatalf("unexpected recipe option %v", job.Options["recipe"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for submitted run")
	}
}

func TestWatcherFlushesPendingBatchOnStop(t *testing.T) {
	dir := t.TempDir()

	jobs := make(chan pipeline.Job, 8)
	w, err := New(
		config.Watch{Paths: []string{dir}, DebounceMS: 60_000},
		func(job pipeline.Job) error {
			jobs <- job
			return nil
		},
		slog.Default(),
	)
	if err != nil {
		t.Fatalf("creating watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("starting watcher: %v", err)
	}

	writeFile(t, filepath.Join(dir, "late.png"))

	// Let the event reach the watcher before stopping.
	deadline := time.Now().Add(5 * time.Second)
	for {
		w.mu.Lock()
		n := len(w.pending)
		w.mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event never reached the watcher")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stopping watcher: %v", err)
	}

	select {
	case job := <-jobs:
		paths, _ := job.Options["paths"].([]string)
		if len(paths) != 1 || filepath.Base(paths[0]) != "late.png" {
			t.Fatalf("unexpected flushed paths %v", paths)
		}
	default:
		t.Fatalf("expected pending batch to be flushed on stop")
	}
}

func TestWatcherRequiresPaths(t *testing.T) {
	_, err := New(config.Watch{}, func(pipeline.Job) error { return nil }, slog.Default())
	if err == nil {
		t.Fatalf("expected error for empty watch paths")
	}
}
