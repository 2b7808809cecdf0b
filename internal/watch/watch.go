// Package watch monitors directories for new image files and queues convert
// runs for them.
package watch

import (
	"fmt"
	"os"
	"sync"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"

	"batchwand/internal/config"
	"batchwand/internal/pathutil"
	"batchwand/internal/pipeline"
)

// SubmitFunc queues a run on the pipeline.
type SubmitFunc func(pipeline.Job) error

// Watcher monitors the configured directories and submits one convert run
// per batch of changed files. Changes arriving within the debounce window
// are coalesced into a single run.
type Watcher struct {
	watcher  *fsnotify.Watcher
	paths    []string
	recipe   string
	debounce time.Duration
	submit   SubmitFunc
	log      *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a watcher for the paths in cfg. Submitted runs carry cfg's
// recipe, if any.
func New(cfg config.Watch, submit SubmitFunc, logger *slog.Logger) (*Watcher, error) {
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("no watch paths configured")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounce := time.Duration(cfg.DebounceMS) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	return &Watcher{
		watcher:  fsw,
		paths:    cfg.Paths,
		recipe:   cfg.Recipe,
		debounce: debounce,
		submit:   submit,
		log:      logger,
		pending:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories.
func (w *Watcher) Start() error {
	for _, dir := range w.paths {
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		w.log.Info("watching directory", "path", dir)
	}

	go w.processEvents()

	return nil
}

// Stop shuts the watcher down. A pending debounce window is flushed so its
// files are not lost.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.flush()
	})
	return err
}

func (w *Watcher) processEvents() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.recordDir(event.Name)
					continue
				}
			}
			if !pathutil.IsImageFile(event.Name) {
				continue
			}
			w.record(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// recordDir scans a directory that appeared inside a watched path. A moved-in
// directory produces a single create event, without events for the files it
// already contains.
func (w *Watcher) recordDir(dir string) {
	images, err := pathutil.ListImages(dir)
	if err != nil {
		w.log.Warn("scanning new directory failed", "path", dir, "error", err)
		return
	}
	for _, path := range images {
		w.record(path)
	}
}

// record adds a changed file to the pending batch and restarts the
// debounce window.
func (w *Watcher) record(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

// flush submits the pending batch as one convert run.
func (w *Watcher) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	options := map[string]any{"paths": paths}
	if w.recipe != "" {
		options["recipe"] = w.recipe
	}

	job := pipeline.Job{
		Type:      pipeline.RunConvert,
		InputPath: paths[0],
		Options:   options,
	}
	if err := w.submit(job); err != nil {
		w.log.Warn("submitting watched batch failed", "files", len(paths), "error", err)
		return
	}
	w.log.Info("queued convert run for watched files", "files", len(paths))
}
