package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"batchwand/internal/config"
	"batchwand/internal/pipeline"
	"batchwand/internal/storage"
)

func TestRunDispatchesProcessingCommands(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	temp := t.TempDir()

	cases := []struct {
		name       string
		args       []string
		expectType pipeline.RunType
	}{
		{"convert", []string{"convert", temp, "--extension", "jpg"}, pipeline.RunConvert},
		{"edit", []string{"edit", temp, "--recipe", filepath.Join(temp, "r.yaml")}, pipeline.RunEdit},
		{"layers", []string{"layers", filepath.Join(temp, "comp.ora")}, pipeline.RunLayers},
		{"preview", []string{"preview", temp, "--pattern", "[image name]-[001]"}, pipeline.RunPreview},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fakePipe.reset()
			captureOutput(t, func() {
				if err := root.Run(context.Background(), tc.args); err != nil {
					t.Fatalf("run failed: %v", err)
				}
			})
			if len(fakePipe.jobs) != 1 {
				t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
			}
			if fakePipe.jobs[0].Type != tc.expectType {
				t.Fatalf("expected type %s, got %s", tc.expectType, fakePipe.jobs[0].Type)
			}
			if fakePipe.jobs[0].Options["source"] != "cli" {
				t.Fatalf("expected cli source marker, got %v", fakePipe.jobs[0].Options["source"])
			}
		})
	}
}

func TestRunValidatesArguments(t *testing.T) {
	root, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"convert"}); err == nil {
		t.Fatalf("expected error for missing convert input")
	}
	if err := root.Run(context.Background(), []string{"layers"}); err == nil {
		t.Fatalf("expected error for missing layers input")
	}
	if err := root.Run(context.Background(), []string{"layers", "a.ora", "b.ora"}); err == nil {
		t.Fatalf("expected error for multiple layers inputs")
	}
	if err := root.Run(context.Background(), []string{"no-such-command"}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	err := root.Run(context.Background(), []string{"convert", "--extension", "exe", "in.png"})
	if err == nil || !strings.Contains(err.Error(), "unsupported output format") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	out := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{}); err != nil {
			t.Fatalf("expected nil for empty args showing usage, got %v", err)
		}
	})
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage text, got %q", out)
	}
}

func TestConvertBuildsJobOptions(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	temp := t.TempDir()

	args := []string{"convert", "--pattern", "[image name]-[001]", "--extension", "webp",
		"--overwrite", "skip", "--export-mode", "single_image", "--keep-copies",
		filepath.Join(temp, "a"), filepath.Join(temp, "b")}
	captureOutput(t, func() {
		if err := root.Run(context.Background(), args); err != nil {
			t.Fatalf("convert failed: %v", err)
		}
	})

	if len(fakePipe.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(fakePipe.jobs))
	}
	job := fakePipe.jobs[0]
	if job.Output != root.cfg.Paths.DefaultOutput {
		t.Fatalf("expected default output directory, got %q", job.Output)
	}
	paths, _ := job.Options["paths"].([]string)
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %v", job.Options["paths"])
	}
	if job.Options["pattern"] != "[image name]-[001]" {
		t.Fatalf("unexpected pattern option: %v", job.Options["pattern"])
	}
	if job.Options["extension"] != "webp" {
		t.Fatalf("unexpected extension option: %v", job.Options["extension"])
	}
	if job.Options["overwrite"] != "skip" {
		t.Fatalf("unexpected overwrite option: %v", job.Options["overwrite"])
	}
	if job.Options["exportMode"] != "single_image" {
		t.Fatalf("unexpected export mode option: %v", job.Options["exportMode"])
	}
	if job.Options["keepCopies"] != true {
		t.Fatalf("expected keepCopies option, got %v", job.Options["keepCopies"])
	}
}

func TestPreviewPrintsResolvedNames(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	fakePipe.meta = map[string]any{
		"matched": 2,
		"names":   []string{"/out/a.png", "/out/b.png"},
	}

	out := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"preview", t.TempDir()}); err != nil {
			t.Fatalf("preview failed: %v", err)
		}
	})
	if !strings.Contains(out, "2 files would be written") {
		t.Fatalf("expected preview header, got %q", out)
	}
	if !strings.Contains(out, "/out/a.png") || !strings.Contains(out, "/out/b.png") {
		t.Fatalf("expected resolved names in output, got %q", out)
	}

	fakePipe.reset()
	out = captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"preview", t.TempDir()}); err != nil {
			t.Fatalf("preview failed: %v", err)
		}
	})
	if !strings.Contains(out, "No items matched.") {
		t.Fatalf("expected empty preview message, got %q", out)
	}
}

func TestRunsCommandListsHistory(t *testing.T) {
	root, _ := newTestRoot(t)

	store, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	root.store = store

	for _, rec := range []storage.RunRecord{
		{ID: "convert-1", RunType: "convert", Status: "queued", InputPath: "/photos/a"},
		{ID: "layers-1", RunType: "layers", Status: "queued", InputPath: "/photos/comp.ora"},
	} {
		if err := store.RecordRunQueued(rec); err != nil {
			t.Fatalf("seeding run: %v", err)
		}
	}
	if err := store.RecordRunResult("convert-1", "completed", map[string]any{"exported": 1}, ""); err != nil {
		t.Fatalf("completing run: %v", err)
	}
	items := []storage.ItemRecord{
		{RunID: "convert-1", ItemName: "a.png", Status: storage.ItemExported, OutputPath: "/out/a.png"},
		{RunID: "convert-1", ItemName: "b.png", Status: storage.ItemSkipped, Message: "scale: missing param"},
	}
	if err := store.RecordRunItems(items); err != nil {
		t.Fatalf("seeding items: %v", err)
	}

	listOut := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"runs"}); err != nil {
			t.Fatalf("runs failed: %v", err)
		}
	})
	for _, want := range []string{"convert-1", "layers-1", "completed"} {
		if !strings.Contains(listOut, want) {
			t.Fatalf("expected %q in listing, got %q", want, listOut)
		}
	}

	detailOut := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"runs", "convert-1"}); err != nil {
			t.Fatalf("run detail failed: %v", err)
		}
	})
	for _, want := range []string{"convert-1", "a.png -> /out/a.png", "scale: missing param"} {
		if !strings.Contains(detailOut, want) {
			t.Fatalf("expected %q in detail, got %q", want, detailOut)
		}
	}
}

func TestRunsCommandRequiresDatabase(t *testing.T) {
	root, _ := newTestRoot(t)
	if err := root.Run(context.Background(), []string{"runs"}); err == nil {
		t.Fatalf("expected error without a store")
	}
}

func TestFieldsAndCommandsListings(t *testing.T) {
	root, _ := newTestRoot(t)

	fieldsOut := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"fields"}); err != nil {
			t.Fatalf("fields failed: %v", err)
		}
	})
	for _, want := range []string{"[image name]", "[layer name]", "[001]"} {
		if !strings.Contains(fieldsOut, want) {
			t.Fatalf("expected field %q listed, got %q", want, fieldsOut)
		}
	}

	commandsOut := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"commands"}); err != nil {
			t.Fatalf("commands failed: %v", err)
		}
	})
	for _, want := range []string{"scale", "rename", "matches_text"} {
		if !strings.Contains(commandsOut, want) {
			t.Fatalf("expected command %q listed, got %q", want, commandsOut)
		}
	}
}

func TestServeCommandUsesInjectedFunction(t *testing.T) {
	root, _ := newTestRoot(t)
	temp := t.TempDir()
	var called bool
	root.serveFn = func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, watchCfg config.Watch, log *slog.Logger) error {
		called = true
		if addr != ":9999" {
			t.Fatalf("unexpected addr %s", addr)
		}
		if len(watchCfg.Paths) != 1 || watchCfg.Paths[0] != temp {
			t.Fatalf("unexpected watch paths %v", watchCfg.Paths)
		}
		if watchCfg.Recipe != "import.yaml" {
			t.Fatalf("unexpected recipe %s", watchCfg.Recipe)
		}
		return nil
	}
	args := []string{"serve", "--addr", ":9999", "--watch", temp, "--recipe", "import.yaml"}
	if err := root.Run(context.Background(), args); err != nil {
		t.Fatalf("cmdServe failed: %v", err)
	}
	if !called {
		t.Fatalf("serve function was not invoked")
	}
}

func TestWebCommandUsesInjectedFunction(t *testing.T) {
	root, _ := newTestRoot(t)
	var gotPort int
	root.webFn = func(ctx context.Context, port int, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
		gotPort = port
		return nil
	}
	if err := root.Run(context.Background(), []string{"web", "--port", "9100"}); err != nil {
		t.Fatalf("cmdWeb failed: %v", err)
	}
	if gotPort != 9100 {
		t.Fatalf("expected port 9100, got %d", gotPort)
	}
}

func TestConfigCommands(t *testing.T) {
	root, _ := newTestRoot(t)

	showOut := captureOutput(t, func() {
		if err := root.configShow(); err != nil {
			t.Fatalf("configShow failed: %v", err)
		}
	})
	if !strings.Contains(showOut, "Current configuration") {
		t.Fatalf("expected configuration output, got %q", showOut)
	}
	if !strings.Contains(showOut, root.cfg.Export.FileExtension) {
		t.Fatalf("expected export defaults in output, got %q", showOut)
	}

	versionOut := captureOutput(t, func() {
		if err := root.cmdVersion(); err != nil {
			t.Fatalf("cmdVersion failed: %v", err)
		}
	})
	if !strings.Contains(versionOut, "Batchwand v1.0.0-dev") {
		t.Fatalf("expected version string, got %q", versionOut)
	}
}

func TestHelpShowsCommandDetails(t *testing.T) {
	root, _ := newTestRoot(t)
	out := captureOutput(t, func() {
		if err := root.Run(context.Background(), []string{"help", "convert"}); err != nil {
			t.Fatalf("help failed: %v", err)
		}
	})
	if !strings.Contains(out, "batchwand convert") {
		t.Fatalf("expected convert help, got %q", out)
	}
}

func TestEnqueueAndWaitPropagatesErrors(t *testing.T) {
	root, fakePipe := newTestRoot(t)
	job := pipeline.Job{ID: "err-run", Type: pipeline.RunConvert}
	fakePipe.jobErrors["err-run"] = context.DeadlineExceeded
	if err := root.enqueueAndWait(context.Background(), job); err == nil {
		t.Fatalf("expected error from pipeline result")
	}
}

// Test helpers

func newTestRoot(t *testing.T) (*Root, *fakePipeline) {
	t.Helper()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	tmp := t.TempDir()
	cfg.Paths.DefaultOutput = filepath.Join(tmp, "output")
	cfg.Paths.DatabasePath = filepath.Join(tmp, "batchwand.db")

	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	pipe := newFakePipeline()

	root := &Root{
		pipeline: pipe,
		cfg:      cfg,
		log:      logger,
		store:    nil,
		serveFn:  defaultServe,
		webFn:    defaultWeb,
	}
	return root, pipe
}

type fakePipeline struct {
	mu        sync.Mutex
	jobs      []pipeline.Job
	subs      map[int]chan pipeline.Result
	nextSubID int
	jobErrors map[string]error
	meta      map[string]any
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		subs:      make(map[int]chan pipeline.Result),
		jobErrors: make(map[string]error),
	}
}

func (f *fakePipeline) Submit(job pipeline.Job) error {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	subs := make([]chan pipeline.Result, 0, len(f.subs))
	for _, ch := range f.subs {
		subs = append(subs, ch)
	}
	err := f.errorFor(job)
	meta := f.meta
	f.mu.Unlock()

	if meta == nil {
		meta = map[string]any{"matched": 0, "exported": 0, "skipped": 0, "failed": 0}
	}
	go func() {
		res := pipeline.Result{Job: job, Error: err, Meta: meta}
		for _, ch := range subs {
			ch <- res
		}
	}()
	return nil
}

func (f *fakePipeline) Subscribe() (<-chan pipeline.Result, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubID
	f.nextSubID++
	ch := make(chan pipeline.Result, 2)
	f.subs[id] = ch
	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			close(c)
			delete(f.subs, id)
		}
	}
	return ch, unsub
}

func (f *fakePipeline) errorFor(job pipeline.Job) error {
	if err, ok := f.jobErrors[job.ID]; ok {
		return err
	}
	if err, ok := f.jobErrors[string(job.Type)]; ok {
		return err
	}
	return nil
}

func (f *fakePipeline) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = nil
	f.jobErrors = make(map[string]error)
	f.meta = nil
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	_ = w.Close()
	os.Stdout = oldStdout
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, r)
	return buf.String()
}
