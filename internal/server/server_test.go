package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"log/slog"

	"github.com/gorilla/mux"

	"batchwand/internal/pipeline"
	"batchwand/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *storage.Store, *mux.Router) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	pipe := pipeline.New(context.Background(), 1, slog.Default(), store, nil)
	t.Cleanup(pipe.Stop)

	s := &Server{store: store, pipeline: pipe, log: slog.Default()}
	r := mux.NewRouter()
	s.setupRoutes(r)
	s.setupDetailRoutes(r)
	return s, store, r
}

func TestServerHealth(t *testing.T) {
	_, _, r := newTestServer(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerListsRuns(t *testing.T) {
	_, store, r := newTestServer(t)

	for _, id := range []string{"run-1", "run-2"} {
		if err := store.RecordRunQueued(storage.RunRecord{ID: id, RunType: "convert", Status: "queued"}); err != nil {
			t.Fatalf("seeding run: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/runs", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var runs []storage.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("decoding runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
}

func TestServerRunDetail(t *testing.T) {
	_, store, r := newTestServer(t)

	if err := store.RecordRunQueued(storage.RunRecord{ID: "run-1", RunType: "convert", Status: "queued"}); err != nil {
		t.Fatalf("seeding run: %v", err)
	}
	items := []storage.ItemRecord{
		{RunID: "run-1", ItemName: "a.png", Status: storage.ItemExported, OutputPath: "/out/a.png"},
	}
	if err := store.RecordRunItems(items); err != nil {
		t.Fatalf("seeding items: %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/runs/run-1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var detail RunDetailResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decoding detail: %v", err)
	}
	if detail.Run.ID != "run-1" || len(detail.Items) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/runs/no-such-run", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", rec.Code)
	}
}

func TestServerRunItems(t *testing.T) {
	_, store, r := newTestServer(t)

	items := []storage.ItemRecord{
		{RunID: "run-1", ItemName: "a.png", Status: storage.ItemExported},
		{RunID: "run-1", ItemName: "b.png", Status: storage.ItemFailed, Message: "scale: boom"},
	}
	if err := store.RecordRunItems(items); err != nil {
		t.Fatalf("seeding items: %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/runs/run-1/items", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var response RunItemsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
		t.Fatalf("decoding items: %v", err)
	}
	if response.Count != 2 || len(response.Items) != 2 {
		t.Fatalf("unexpected items response %+v", response)
	}
}

func TestServerSubmitRejectsUnknownType(t *testing.T) {
	_, _, r := newTestServer(t)

	body := strings.NewReader(`{"type": "transmogrify", "input": "/photos"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/runs", body))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestServerSubmitQueuesRun(t *testing.T) {
	_, store, r := newTestServer(t)

	body := strings.NewReader(`{"type": "preview", "input": "` + t.TempDir() + `"}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("POST", "/runs", body))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["id"] == "" {
		t.Fatalf("expected an assigned run ID")
	}

	if _, err := store.Run(resp["id"]); err != nil {
		t.Fatalf("submitted run not recorded: %v", err)
	}
}

func TestServerListsCommandsAndFields(t *testing.T) {
	_, _, r := newTestServer(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/commands", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var commands CommandsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &commands); err != nil {
		t.Fatalf("decoding commands: %v", err)
	}
	if !hasCommand(commands.Procedures, "scale") {
		t.Fatalf("expected scale procedure, got %v", commands.Procedures)
	}
	if !hasCommand(commands.Conditions, "matches_text") {
		t.Fatalf("expected matches_text condition, got %v", commands.Conditions)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/fields", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var fields FieldsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &fields); err != nil {
		t.Fatalf("decoding fields: %v", err)
	}
	if !contains(fields.Images, "image name") || !contains(fields.Layers, "layer name") {
		t.Fatalf("unexpected fields %+v", fields)
	}
}

func hasCommand(infos []CommandInfo, name string) bool {
	for _, info := range infos {
		if info.Name == name {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
