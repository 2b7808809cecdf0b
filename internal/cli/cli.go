package cli

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"log/slog"

	"batchwand/internal/config"
	"batchwand/internal/pathutil"
	"batchwand/internal/pipeline"
	"batchwand/internal/proc"
	"batchwand/internal/rename"
	"batchwand/internal/server"
	"batchwand/internal/storage"
	"batchwand/internal/watch"
	"batchwand/internal/web"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type serverFunc func(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, watchCfg config.Watch, log *slog.Logger) error

func defaultServe(ctx context.Context, addr string, store *storage.Store, pipe pipelineClient, watchCfg config.Watch, log *slog.Logger) error {
	real, ok := pipe.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support server operation")
	}
	srv, err := server.NewServer(addr, store, real, watchCfg, log)
	if err != nil {
		return err
	}
	return srv.Start(ctx)
}

type webFunc func(ctx context.Context, port int, store *storage.Store, pipe pipelineClient, log *slog.Logger) error

func defaultWeb(ctx context.Context, port int, store *storage.Store, pipe pipelineClient, log *slog.Logger) error {
	real, ok := pipe.(*pipeline.Pipeline)
	if !ok {
		return fmt.Errorf("pipeline does not support dashboard operation")
	}
	return web.NewWebServer(port, store, real, log).Start(ctx)
}

type arrayFlag []string

func (i *arrayFlag) String() string {
	return fmt.Sprint(*i)
}

func (i *arrayFlag) Set(value string) error {
	*i = append(*i, value)
	return nil
}

// Root wires CLI commands to the run queue.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	serveFn  serverFunc
	webFn    webFunc
}

// NewRoot constructs the CLI root command.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		serveFn:  defaultServe,
		webFn:    defaultWeb,
	}
}

// Run parses args and dispatches to subcommands.
func (r *Root) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		r.usage()
		return nil
	}

	// Global help handling
	if args[0] == "--help" || args[0] == "-h" || args[0] == "help" {
		if len(args) == 1 {
			r.usage()
			return nil
		}
		return r.showCommandHelp(args[1])
	}

	switch args[0] {
	case "convert":
		return r.cmdConvert(ctx, args[1:])
	case "layers":
		return r.cmdLayers(ctx, args[1:])
	case "edit":
		return r.cmdEdit(ctx, args[1:])
	case "preview":
		return r.cmdPreview(ctx, args[1:])
	case "watch":
		return r.cmdWatch(ctx, args[1:])
	case "runs":
		return r.cmdRuns(ctx, args[1:])
	case "fields":
		return r.cmdFields(ctx)
	case "commands":
		return r.cmdCommands(ctx)
	case "serve":
		return r.cmdServe(ctx, args[1:])
	case "web":
		return r.cmdWeb(ctx, args[1:])
	case "config":
		return r.cmdConfig(ctx, args[1:])
	case "version":
		return r.cmdVersion()
	default:
		r.log.Error("unknown command", "command", args[0])
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// runFlags holds the flags shared by the commands that queue a run.
type runFlags struct {
	output        *string
	pattern       *string
	extension     *string
	overwriteMode *string
	exportMode    *string
	recipe        *string
	keepCopies    *bool
}

func (r *Root) addRunFlags(fs *flag.FlagSet) runFlags {
	return runFlags{
		output:        fs.String("output", r.cfg.Paths.DefaultOutput, "output directory"),
		pattern:       fs.String("pattern", "", "output name pattern, e.g. \"[image name]-[001]\""),
		extension:     fs.String("extension", "", "output file extension (png|jpg|tiff|webp|...)"),
		overwriteMode: fs.String("overwrite", "", "existing file handling (replace|skip|rename_new|rename_existing)"),
		exportMode:    fs.String("export-mode", "", "export grouping (each_item|each_top_level_item_or_folder|single_image)"),
		recipe:        fs.String("recipe", "", "recipe file with procedures and conditions"),
		keepCopies:    fs.Bool("keep-copies", false, "keep processed image copies in memory after the run"),
	}
}

// options builds the job option map, leaving defaults to the run router.
func (f runFlags) options(paths []string) map[string]any {
	opts := map[string]any{"source": "cli"}
	if len(paths) > 0 {
		opts["paths"] = paths
	}
	if *f.pattern != "" {
		opts["pattern"] = *f.pattern
	}
	if *f.extension != "" {
		opts["extension"] = *f.extension
	}
	if *f.overwriteMode != "" {
		opts["overwrite"] = *f.overwriteMode
	}
	if *f.exportMode != "" {
		opts["exportMode"] = *f.exportMode
	}
	if *f.recipe != "" {
		opts["recipe"] = *f.recipe
	}
	if *f.keepCopies {
		opts["keepCopies"] = true
	}
	return opts
}

// validate rejects flag values the export pipeline cannot honor.
func (f runFlags) validate() error {
	return checkExtension(*f.extension)
}

// checkExtension rejects output extensions no writable format owns. Unknown
// extensions on individual items fall back to the run default during export;
// the default itself has to be writable.
func checkExtension(ext string) error {
	if ext != "" && !pathutil.RecognizedFormat(ext) {
		return fmt.Errorf("unsupported output format %q", ext)
	}
	return nil
}

func (r *Root) cmdConvert(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	flags := r.addRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("convert requires at least one file or directory")
	}
	if err := flags.validate(); err != nil {
		return err
	}

	r.log.Info("convert command parsed",
		"inputs", len(paths),
		"output", *flags.output,
		"recipe", *flags.recipe,
	)

	job := pipeline.Job{
		ID:        newID("convert"),
		Type:      pipeline.RunConvert,
		InputPath: paths[0],
		Output:    *flags.output,
		Options:   flags.options(paths),
	}
	res, err := r.enqueueAndCollect(ctx, job)
	if err != nil {
		return err
	}
	printRunSummary(res)
	return nil
}

func (r *Root) cmdLayers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("layers", flag.ContinueOnError)
	flags := r.addRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	input := fs.Arg(0)
	if input == "" {
		return fmt.Errorf("layers requires an image file")
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("layers processes a single image")
	}
	if err := flags.validate(); err != nil {
		return err
	}

	job := pipeline.Job{
		ID:        newID("layers"),
		Type:      pipeline.RunLayers,
		InputPath: input,
		Output:    *flags.output,
		Options:   flags.options(nil),
	}
	res, err := r.enqueueAndCollect(ctx, job)
	if err != nil {
		return err
	}
	printRunSummary(res)
	return nil
}

func (r *Root) cmdEdit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("edit", flag.ContinueOnError)
	recipe := fs.String("recipe", "", "recipe file with procedures and conditions")
	keepCopies := fs.Bool("keep-copies", false, "keep processed image copies in memory after the run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("edit requires at least one file or directory")
	}

	opts := map[string]any{"source": "cli", "paths": paths}
	if *recipe != "" {
		opts["recipe"] = *recipe
	}
	if *keepCopies {
		opts["keepCopies"] = true
	}

	job := pipeline.Job{
		ID:        newID("edit"),
		Type:      pipeline.RunEdit,
		InputPath: paths[0],
		Options:   opts,
	}
	res, err := r.enqueueAndCollect(ctx, job)
	if err != nil {
		return err
	}
	printRunSummary(res)
	return nil
}

func (r *Root) cmdPreview(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("preview", flag.ContinueOnError)
	flags := r.addRunFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("preview requires at least one file or directory")
	}
	if err := flags.validate(); err != nil {
		return err
	}

	job := pipeline.Job{
		ID:        newID("preview"),
		Type:      pipeline.RunPreview,
		InputPath: paths[0],
		Output:    *flags.output,
		Options:   flags.options(paths),
	}
	res, err := r.enqueueAndCollect(ctx, job)
	if err != nil {
		return err
	}

	names, _ := res.Meta["names"].([]string)
	if len(names) == 0 {
		fmt.Fprintln(os.Stdout, "No items matched.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%d files would be written:\n", len(names))
	for _, name := range names {
		fmt.Fprintf(os.Stdout, "  %s\n", name)
	}
	return nil
}

func (r *Root) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	recipe := fs.String("recipe", r.cfg.Watch.Recipe, "recipe applied to watched files")
	debounce := fs.Int("debounce-ms", r.cfg.Watch.DebounceMS, "settle time before a batch is queued")
	if err := fs.Parse(args); err != nil {
		return err
	}
	paths := fs.Args()
	if len(paths) == 0 {
		paths = r.cfg.Watch.Paths
	}
	if len(paths) == 0 {
		return fmt.Errorf("watch requires at least one directory")
	}

	watchCfg := config.Watch{Paths: paths, Recipe: *recipe, DebounceMS: *debounce}
	w, err := watch.New(watchCfg, r.pipeline.Submit, r.log)
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	defer w.Stop()

	r.log.Info("watching for new images", "paths", paths, "recipe", *recipe)
	<-ctx.Done()
	return nil
}

func (r *Root) cmdRuns(ctx context.Context, args []string) error {
	_ = ctx
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "number of runs to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if r.store == nil {
		return fmt.Errorf("run history requires the database")
	}
	if fs.NArg() > 0 {
		return r.showRun(fs.Arg(0))
	}

	runs, err := r.store.RecentRuns(*limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(os.Stdout, "No runs recorded yet.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-30s %-8s %-10s %-19s %s\n", "ID", "TYPE", "STATUS", "CREATED", "INPUT")
	for _, rec := range runs {
		fmt.Fprintf(os.Stdout, "%-30s %-8s %-10s %-19s %s\n",
			rec.ID, rec.RunType, rec.Status,
			rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.InputPath)
	}
	return nil
}

func (r *Root) showRun(id string) error {
	rec, err := r.store.Run(id)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Run:    %s\n", rec.ID)
	fmt.Fprintf(os.Stdout, "Type:   %s\n", rec.RunType)
	fmt.Fprintf(os.Stdout, "Status: %s\n", rec.Status)
	fmt.Fprintf(os.Stdout, "Input:  %s\n", rec.InputPath)
	if rec.OutputPath != "" {
		fmt.Fprintf(os.Stdout, "Output: %s\n", rec.OutputPath)
	}
	if rec.Error != "" {
		fmt.Fprintf(os.Stdout, "Error:  %s\n", rec.Error)
	}

	items, err := r.store.RunItems(id)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	fmt.Fprintln(os.Stdout, "\nItems:")
	for _, item := range items {
		line := fmt.Sprintf("  %-10s %s", item.Status, item.ItemName)
		if item.OutputPath != "" {
			line += " -> " + item.OutputPath
		}
		if item.Message != "" {
			line += " (" + item.Message + ")"
		}
		fmt.Fprintln(os.Stdout, line)
	}
	return nil
}

func (r *Root) cmdFields(ctx context.Context) error {
	_ = ctx
	fmt.Fprintln(os.Stdout, "Fields for image name patterns:")
	for _, name := range rename.FieldNames(rename.ForImages) {
		fmt.Fprintf(os.Stdout, "  [%s]\n", name)
	}
	fmt.Fprintln(os.Stdout, "\nFields for layer name patterns:")
	for _, name := range rename.FieldNames(rename.ForLayers) {
		fmt.Fprintf(os.Stdout, "  [%s]\n", name)
	}
	return nil
}

func (r *Root) cmdCommands(ctx context.Context) error {
	_ = ctx
	fmt.Fprintln(os.Stdout, "Procedures:")
	for _, p := range proc.RegisteredProcedures() {
		fmt.Fprintf(os.Stdout, "  %s\n", p.Name)
		for _, param := range p.Params {
			fmt.Fprintf(os.Stdout, "      %-18s %v\n", param.Name, param.Default)
		}
	}
	fmt.Fprintln(os.Stdout, "\nConditions:")
	for _, c := range proc.RegisteredConditions() {
		fmt.Fprintf(os.Stdout, "  %s\n", c.Name)
		for _, param := range c.Params {
			fmt.Fprintf(os.Stdout, "      %-18s %v\n", param.Name, param.Default)
		}
	}
	return nil
}

func (r *Root) cmdServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "listen address")
	recipe := fs.String("recipe", "", "recipe applied to watched files")
	var watchPaths arrayFlag
	fs.Var(&watchPaths, "watch", "directory to monitor for new images (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	watchCfg := r.cfg.Watch
	if len(watchPaths) > 0 {
		watchCfg.Paths = watchPaths
	}
	if *recipe != "" {
		watchCfg.Recipe = *recipe
	}
	return r.serveFn(ctx, *addr, r.store, r.pipeline, watchCfg, r.log)
}

func (r *Root) cmdWeb(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	port := fs.Int("port", 8081, "dashboard port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return r.webFn(ctx, *port, r.store, r.pipeline, r.log)
}

func printRunSummary(res pipeline.Result) {
	matched, _ := res.Meta["matched"].(int)
	exported, _ := res.Meta["exported"].(int)
	skipped, _ := res.Meta["skipped"].(int)
	failed, _ := res.Meta["failed"].(int)
	fmt.Fprintf(os.Stdout, "Processed %d items: %d exported, %d skipped, %d failed\n",
		matched, exported, skipped, failed)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	_, err := r.enqueueAndCollect(ctx, job)
	return err
}

func (r *Root) enqueueAndCollect(ctx context.Context, job pipeline.Job) (pipeline.Result, error) {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return pipeline.Result{}, err
	}
	for {
		select {
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return pipeline.Result{}, fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res, res.Error
				}
				return res, nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("run queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func (r *Root) usage() {
	fmt.Fprintf(os.Stdout, `Batchwand - Batch Image Processing

Usage:
  batchwand <command> [options] [arguments]

Processing Commands:
  convert      Process and export images from files and folders
  layers       Process the layers of a single image
  edit         Process images and save them back in place
  preview      Show the output names a run would produce
  watch        Monitor directories and convert new images

Utility Commands:
  serve        Start the HTTP API server
  web          Start the monitoring dashboard
  runs         List recent runs and their outcomes
  fields       List the fields available in name patterns
  commands     List registered procedures and conditions
  config       Manage configuration settings
  version      Show version information

Examples:
  batchwand convert /photos/raw/ --extension jpg --output /photos/done/
  batchwand convert /photos/ --pattern "[image name]-[001]" --overwrite skip
  batchwand layers composite.ora --output ./layers/
  batchwand preview /photos/raw/ --recipe contact-sheet.yaml
  batchwand serve --addr :8080 --watch /photos/incoming

For detailed help on any command:
  batchwand help <command>
`)
}

func (r *Root) showCommandHelp(cmd string) error {
	switch cmd {
	case "convert":
		fmt.Fprintf(os.Stdout, "Usage: batchwand convert <paths...> [options]\nProcess images from files and folders and export the results.\nOptions:\n  --output DIR        Output directory (default: %s)\n  --pattern TEXT      Output name pattern, fields in [brackets]\n  --extension EXT     Output file extension\n  --overwrite MODE    Existing file handling (replace|skip|rename_new|rename_existing)\n  --export-mode MODE  Export grouping (each_item|each_top_level_item_or_folder|single_image)\n  --recipe PATH       Recipe file with procedures and conditions\n  --keep-copies       Keep processed image copies in memory\nExamples:\n  batchwand convert /photos/2026/ --extension jpg\n  batchwand convert a.png b.png --pattern \"[image name]-[001]\"\n", r.cfg.Paths.DefaultOutput)
	case "layers":
		fmt.Fprintf(os.Stdout, "Usage: batchwand layers <image> [options]\nProcess each layer of one image and export the results.\nOptions:\n  --output DIR        Output directory (default: %s)\n  --pattern TEXT      Output name pattern, e.g. \"[image name]-[layer name]\"\n  --extension EXT     Output file extension\n  --recipe PATH       Recipe file with procedures and conditions\nExamples:\n  batchwand layers composite.ora --output ./layers/\n", r.cfg.Paths.DefaultOutput)
	case "edit":
		fmt.Fprintf(os.Stdout, "Usage: batchwand edit <paths...> [options]\nProcess images and save them back to their original locations.\nOptions:\n  --recipe PATH       Recipe file with procedures and conditions\n  --keep-copies       Keep processed image copies in memory\nExamples:\n  batchwand edit /photos/2026/ --recipe autolevel.yaml\n")
	case "preview":
		fmt.Fprintf(os.Stdout, "Usage: batchwand preview <paths...> [options]\nResolve output names without loading or writing image data.\nOptions:\n  --output DIR        Output directory (default: %s)\n  --pattern TEXT      Output name pattern\n  --extension EXT     Output file extension\n  --recipe PATH       Recipe file with procedures and conditions\nExamples:\n  batchwand preview /photos/raw/ --pattern \"[current date]-[001]\"\n", r.cfg.Paths.DefaultOutput)
	case "watch":
		fmt.Fprintf(os.Stdout, "Usage: batchwand watch <directories...> [options]\nMonitor directories and queue convert runs for new image files.\nOptions:\n  --recipe PATH       Recipe applied to watched files\n  --debounce-ms N     Settle time before a batch is queued (default: %d)\nExamples:\n  batchwand watch /photos/incoming --recipe import.yaml\n", r.cfg.Watch.DebounceMS)
	case "runs":
		fmt.Fprintf(os.Stdout, "Usage: batchwand runs [run_id] [options]\nList recent runs, or show one run with its per-item outcomes.\nOptions:\n  --limit N           Number of runs to list (default: 20)\nExamples:\n  batchwand runs\n  batchwand runs convert-20260822T101500-0042\n")
	case "serve":
		fmt.Fprintf(os.Stdout, "Usage: batchwand serve [options]\nStart the HTTP API server for submitting and inspecting runs.\nOptions:\n  --addr ADDR         Listen address (default: :8080)\n  --watch DIR         Directory to monitor for new images (repeatable)\n  --recipe PATH       Recipe applied to watched files\nExamples:\n  batchwand serve --addr :8080 --watch /photos/incoming\n")
	case "web":
		fmt.Fprintf(os.Stdout, "Usage: batchwand web [options]\nStart the monitoring dashboard with live run updates.\nOptions:\n  --port N            Dashboard port (default: 8081)\nExamples:\n  batchwand web --port 8090\n")
	case "config":
		fmt.Fprintf(os.Stdout, "Usage: batchwand config <subcommand>\nManage configuration settings.\nSubcommands:\n  show             Display current configuration\n  validate         Validate the configuration file\nExamples:\n  batchwand config show\n")
	default:
		r.usage()
	}
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
