package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"log/slog"

	"batchwand/internal/storage"
)

func TestPipelineProcessesSubmittedRun(t *testing.T) {
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()

	p := New(context.Background(), 1, slog.Default(), store, nil)
	defer p.Stop()

	results, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{Type: RunType("transmogrify")}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var res Result
	select {
	case res = <-results:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for run result")
	}

	if res.Job.ID == "" {
		t.Fatalf("expected an assigned run ID")
	}
	if res.Error == nil {
		t.Fatalf("expected unknown run type error")
	}

	runs, err := store.RecentRuns(5)
	if err != nil {
		t.Fatalf("reading runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 recorded run, got %d", len(runs))
	}
	if runs[0].ID != res.Job.ID {
		t.Fatalf("recorded run %q does not match result %q", runs[0].ID, res.Job.ID)
	}
	if runs[0].Status != "failed" {
		t.Fatalf("unexpected status %q", runs[0].Status)
	}
}

func TestPipelineStopClosesSubscribers(t *testing.T) {
	p := New(context.Background(), 2, slog.Default(), nil, nil)

	results, _ := p.Subscribe()
	p.Stop()

	if _, ok := <-results; ok {
		t.Fatalf("expected subscriber channel to be closed")
	}
}
