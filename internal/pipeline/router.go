package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"batchwand/internal/batch"
	"batchwand/internal/config"
	"batchwand/internal/export"
	"batchwand/internal/itemtree"
	"batchwand/internal/logging"
	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
	"batchwand/internal/proc"
	"batchwand/internal/storage"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log   *slog.Logger
	store *storage.Store
	cfg   *config.Config

	newFileRun  fileRunFactory
	newLayerRun layerRunFactory
}

// batchRun is the part of a batcher the router drives and reads back out.
type batchRun interface {
	Run(ctx context.Context) error
	MatchingItems() []*itemtree.Item
	ExportedItems() []*itemtree.Item
	SkippedProcedures() map[string][]batch.CommandEntry
	SkippedConditions() map[string][]batch.CommandEntry
	FailedProcedures() map[string][]batch.CommandEntry
	FailedConditions() map[string][]batch.CommandEntry
}

type fileRunFactory func(paths []string, opts batch.Options) (batchRun, error)

type layerRunFactory func(imagePath string, opts batch.Options) (batchRun, error)

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:         logger,
		store:       store,
		cfg:         cfg,
		newFileRun:  newFileRun,
		newLayerRun: newLayerRun,
	}
}

func newFileRun(paths []string, opts batch.Options) (batchRun, error) {
	tree := itemtree.NewFileTree()
	if _, err := tree.AddPaths(paths); err != nil {
		return nil, err
	}
	return batch.NewImageBatcher(tree, opts), nil
}

func newLayerRun(imagePath string, opts batch.Options) (batchRun, error) {
	img, err := magick.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	tree := itemtree.NewLayerTree()
	if _, err := tree.AddFromImage(img); err != nil {
		return nil, err
	}
	return batch.NewLayerBatcher(tree, opts), nil
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case RunConvert:
		return r.handleConvert(ctx, job)
	case RunEdit:
		return r.handleEdit(ctx, job)
	case RunLayers:
		return r.handleLayers(ctx, job)
	case RunPreview:
		return r.handlePreview(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown run type: %s", job.Type)}
	}
}

func (r *router) handleConvert(ctx context.Context, job Job) Result {
	opts, err := r.runOptions(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	return r.runFiles(ctx, job, opts)
}

func (r *router) handleEdit(ctx context.Context, job Job) Result {
	opts, err := r.runOptions(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	opts.EditMode = true
	return r.runFiles(ctx, job, opts)
}

func (r *router) handleLayers(ctx context.Context, job Job) Result {
	opts, err := r.runOptions(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	run, err := r.newLayerRun(job.InputPath, opts)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	err = run.Run(ctx)
	r.recordItems(job.ID, run, opts.OutputDirectory)
	return Result{Job: job, Error: err, Meta: runMeta(run)}
}

// handlePreview runs the name resolution of a convert run without loading
// or writing any image data, and reports the resolved output paths.
func (r *router) handlePreview(ctx context.Context, job Job) Result {
	opts, err := r.runOptions(job)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	opts.IsPreview = true
	opts.ProcessContents = false
	opts.ProcessExport = false

	run, err := r.newFileRun(r.inputPaths(job), opts)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	err = run.Run(ctx)
	r.recordItems(job.ID, run, opts.OutputDirectory)

	names := make([]string, 0, len(run.MatchingItems()))
	for _, item := range run.MatchingItems() {
		names = append(names, export.OutputPath(item, opts.OutputDirectory))
	}
	meta := runMeta(run)
	meta["names"] = names
	return Result{Job: job, Error: err, Meta: meta}
}

func (r *router) runFiles(ctx context.Context, job Job, opts batch.Options) Result {
	run, err := r.newFileRun(r.inputPaths(job), opts)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	err = run.Run(ctx)
	r.recordItems(job.ID, run, opts.OutputDirectory)
	return Result{Job: job, Error: err, Meta: runMeta(run)}
}

// inputPaths returns the explicit path list of the job, or its single
// input path.
func (r *router) inputPaths(job Job) []string {
	if paths := getStringsOption(job.Options, "paths"); len(paths) > 0 {
		return paths
	}
	return []string{job.InputPath}
}

// runOptions layers the run configuration: built-in defaults first, then
// the configuration file, then the recipe named by the job, then the job's
// own options.
func (r *router) runOptions(job Job) (batch.Options, error) {
	opts := batch.DefaultOptions()
	opts.Logger = r.log
	opts.OutputDirectory = job.Output

	if r.cfg != nil {
		if r.cfg.Export.FileExtension != "" {
			opts.FileExtension = r.cfg.Export.FileExtension
		}
		if r.cfg.Export.NamePattern != "" {
			opts.NamePattern = r.cfg.Export.NamePattern
		}
		if r.cfg.Export.OverwriteMode != "" {
			mode, err := overwrite.ParseMode(r.cfg.Export.OverwriteMode)
			if err != nil {
				return opts, fmt.Errorf("configured overwrite mode: %w", err)
			}
			opts.OverwriteMode = mode
		}
		if r.cfg.Export.ExportMode != "" {
			mode, err := export.ParseMode(r.cfg.Export.ExportMode)
			if err != nil {
				return opts, fmt.Errorf("configured export mode: %w", err)
			}
			opts.ExportOptions.Mode = mode
		}
		if opts.OutputDirectory == "" {
			opts.OutputDirectory = r.cfg.Paths.DefaultOutput
		}
	}

	if recipePath := getStringOption(job.Options, "recipe"); recipePath != "" {
		runOpts, procedures, conditions, err := proc.LoadRecipe(recipePath)
		if err != nil {
			return opts, err
		}
		opts.Procedures = procedures
		opts.Conditions = conditions
		if err := applyRecipeOptions(&opts, runOpts); err != nil {
			return opts, err
		}
	}

	if pattern := getStringOption(job.Options, "pattern"); pattern != "" {
		opts.NamePattern = pattern
	}
	if ext := getStringOption(job.Options, "extension"); ext != "" {
		opts.FileExtension = ext
	}
	if name := getStringOption(job.Options, "overwrite"); name != "" {
		mode, err := overwrite.ParseMode(name)
		if err != nil {
			return opts, err
		}
		opts.OverwriteMode = mode
	}
	if name := getStringOption(job.Options, "exportMode"); name != "" {
		mode, err := export.ParseMode(name)
		if err != nil {
			return opts, err
		}
		opts.ExportOptions.Mode = mode
	}
	if getBoolOption(job.Options, "keepCopies") {
		opts.KeepImageCopies = true
	}

	return opts, nil
}

// applyRecipeOptions folds the run options of a recipe file into opts.
// Zero values leave the current setting untouched.
func applyRecipeOptions(opts *batch.Options, ro proc.RunOptions) error {
	if ro.NamePattern != "" {
		opts.NamePattern = ro.NamePattern
	}
	if ro.FileExtension != "" {
		opts.FileExtension = ro.FileExtension
	}
	if ro.OutputDirectory != "" {
		opts.OutputDirectory = ro.OutputDirectory
	}
	if ro.OverwriteMode != "" {
		mode, err := overwrite.ParseMode(ro.OverwriteMode)
		if err != nil {
			return err
		}
		opts.OverwriteMode = mode
	}
	if ro.ExportMode != "" {
		mode, err := export.ParseMode(ro.ExportMode)
		if err != nil {
			return err
		}
		opts.ExportOptions.Mode = mode
	}
	if ro.EditMode {
		opts.EditMode = true
	}
	if ro.KeepImageCopies {
		opts.KeepImageCopies = true
	}
	return nil
}

// runMeta summarizes a finished run.
func runMeta(run batchRun) map[string]any {
	return map[string]any{
		"matched":  len(run.MatchingItems()),
		"exported": len(run.ExportedItems()),
		"skipped":  entryCount(run.SkippedProcedures()) + entryCount(run.SkippedConditions()),
		"failed":   entryCount(run.FailedProcedures()) + entryCount(run.FailedConditions()),
	}
}

func entryCount(entries map[string][]batch.CommandEntry) int {
	n := 0
	for _, list := range entries {
		n += len(list)
	}
	return n
}

// recordItems logs and stores the per-item outcome of a run.
func (r *router) recordItems(runID string, run batchRun, outputDirectory string) {
	items := make([]storage.ItemRecord, 0, len(run.ExportedItems()))
	for _, item := range run.ExportedItems() {
		items = append(items, storage.ItemRecord{
			RunID:      runID,
			ItemName:   item.OrigName(),
			Status:     storage.ItemExported,
			OutputPath: export.OutputPath(item, outputDirectory),
		})
	}
	items = append(items, entryRecords(runID, storage.ItemSkipped, run.SkippedProcedures(), run.SkippedConditions())...)
	items = append(items, entryRecords(runID, storage.ItemFailed, run.FailedProcedures(), run.FailedConditions())...)

	// Exports already show up in the run summary; only anomalies get a line.
	for _, rec := range items {
		if rec.Status != storage.ItemExported {
			logging.LogProcessingStep(r.log, runID, rec.ItemName, rec.Status,
				map[string]any{"message": rec.Message})
		}
	}

	if r.store == nil {
		return
	}
	if err := r.store.RecordRunItems(items); err != nil {
		r.log.Warn("recording run items failed", "run", runID, "error", err)
	}
}

func entryRecords(runID, status string, groups ...map[string][]batch.CommandEntry) []storage.ItemRecord {
	var records []storage.ItemRecord
	for _, entries := range groups {
		for command, list := range entries {
			for _, entry := range list {
				rec := storage.ItemRecord{
					RunID:   runID,
					Status:  status,
					Message: fmt.Sprintf("%s: %s", command, entry.Message),
				}
				if entry.Item != nil {
					rec.ItemName = entry.Item.OrigName()
				}
				records = append(records, rec)
			}
		}
	}
	return records
}

// Helper functions to safely extract typed options from job.Options map
func getStringOption(options map[string]any, key string) string {
	if val, ok := options[key].(string); ok {
		return val
	}
	return ""
}

func getBoolOption(options map[string]any, key string) bool {
	if val, ok := options[key].(bool); ok {
		return val
	}
	return false
}

func getStringsOption(options map[string]any, key string) []string {
	switch val := options[key].(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, v := range val {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
