package web

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"batchwand/internal/storage"
)

func seededStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, rec := range []storage.RunRecord{
		{ID: "run-1", RunType: "convert", Status: "queued", InputPath: "/photos/a"},
		{ID: "run-2", RunType: "convert", Status: "queued", InputPath: "/photos/b"},
		{ID: "run-3", RunType: "layers", Status: "queued", InputPath: "/photos/comp.ora"},
		{ID: "run-4", RunType: "edit", Status: "queued", InputPath: "/photos/c"},
	} {
		if err := store.RecordRunQueued(rec); err != nil {
			t.Fatalf("seeding run: %v", err)
		}
	}
	if err := store.RecordRunStart("run-2"); err != nil {
		t.Fatalf("starting run: %v", err)
	}
	if err := store.RecordRunResult("run-3", "completed", map[string]any{"exported": 2}, ""); err != nil {
		t.Fatalf("completing run: %v", err)
	}
	if err := store.RecordRunResult("run-4", "failed", nil, "image is broken"); err != nil {
		t.Fatalf("failing run: %v", err)
	}
	return store
}

func TestDashboardDataCountsRuns(t *testing.T) {
	ws := NewWebServer(0, seededStore(t), nil, slog.Default())

	data := ws.generateDashboardData()

	stats := data.QueueStats
	if stats.QueuedCount != 1 || stats.RunningCount != 1 || stats.CompletedCount != 1 || stats.FailedCount != 1 {
		t.Fatalf("unexpected queue stats %+v", stats)
	}
	if len(data.RecentRuns) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(data.RecentRuns))
	}

	var failed *RunSummary
	for i := range data.RecentRuns {
		if data.RecentRuns[i].ID == "run-4" {
			failed = &data.RecentRuns[i]
		}
	}
	if failed == nil || failed.Error != "image is broken" {
		t.Fatalf("expected failed run with error, got %+v", failed)
	}
}

func TestAPIStatsServesSnapshot(t *testing.T) {
	ws := NewWebServer(0, seededStore(t), nil, slog.Default())

	rec := httptest.NewRecorder()
	ws.handleAPIStats(rec, httptest.NewRequest("GET", "/api/stats", nil))

	var data DashboardData
	if err := json.Unmarshal(rec.Body.Bytes(), &data); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if data.Timestamp.IsZero() {
		t.Fatalf("expected a timestamp")
	}
	if len(data.RecentRuns) != 4 {
		t.Fatalf("expected 4 runs, got %d", len(data.RecentRuns))
	}
}

func TestWebSocketReceivesSnapshots(t *testing.T) {
	ws := NewWebServer(0, seededStore(t), nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ws.hub.run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/ws", ws.handleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	// Registration races the first push, so keep pushing until the
	// client sees a snapshot.
	pushCtx, pushCancel := context.WithCancel(ctx)
	defer pushCancel()
	go func() {
		for pushCtx.Err() == nil {
			ws.pushSnapshot(pushCtx)
			time.Sleep(50 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading snapshot: %v", err)
	}

	var data DashboardData
	if err := json.Unmarshal(msg, &data); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if data.QueueStats.CompletedCount != 1 {
		t.Fatalf("unexpected snapshot %+v", data.QueueStats)
	}
}
