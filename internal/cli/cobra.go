package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"batchwand/internal/config"
	"batchwand/internal/pipeline"
	"batchwand/internal/proc"
	"batchwand/internal/rename"
	"batchwand/internal/storage"
	"batchwand/internal/watch"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root Cobra command for the installed binary.
func NewRootCmd(cfg *config.Config, log *slog.Logger, store *storage.Store, pipe *pipeline.Pipeline) *cobra.Command {
	root := NewRoot(pipe, cfg, log, store)

	rootCmd := &cobra.Command{
		Use:   "batchwand",
		Short: "Batchwand applies recipes to batches of images",
		Long: `Batchwand processes batches of image files or the layers of a single image,
applies the procedures and conditions of a recipe, and exports the results
with pattern-based renaming.`,
	}

	rootCmd.AddCommand(newConvertCmd(root))
	rootCmd.AddCommand(newLayersCmd(root))
	rootCmd.AddCommand(newEditCmd(root))
	rootCmd.AddCommand(newPreviewCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newRunsCmd(root))
	rootCmd.AddCommand(newFieldsCmd(root))
	rootCmd.AddCommand(newCommandsCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWebCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newConvertCmd(root *Root) *cobra.Command {
	var (
		output        string
		pattern       string
		extension     string
		overwriteMode string
		exportMode    string
		recipe        string
		keepCopies    bool
	)

	cmd := &cobra.Command{
		Use:   "convert <paths...>",
		Short: "Process and export images from files and folders",
		Long: `Process image files and folders, apply the procedures of a recipe, and
export the results with pattern-based renaming.

Examples:
  # Convert a folder of scans to PNG
  batchwand convert /photos/scans/ --extension png --output /photos/done/

  # Number the outputs and skip files that already exist
  batchwand convert /photos/raw/ --pattern "[image name]-[001]" --overwrite skip

  # Apply a recipe before exporting
  batchwand convert /photos/raw/ --recipe contact-sheet.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkExtension(extension); err != nil {
				return err
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			root.log.Info("convert command parsed",
				"inputs", len(args),
				"output", output,
				"recipe", recipe,
			)

			job := pipeline.Job{
				ID:        newID("convert"),
				Type:      pipeline.RunConvert,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"paths":      args,
					"pattern":    pattern,
					"extension":  extension,
					"overwrite":  overwriteMode,
					"exportMode": exportMode,
					"recipe":     recipe,
					"keepCopies": keepCopies,
					"source":     "cli",
				},
			}

			res, err := root.enqueueAndCollect(cmd.Context(), job)
			if err != nil {
				return err
			}
			printRunSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (config default if empty)")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "output name pattern, fields in [brackets]")
	cmd.Flags().StringVarP(&extension, "extension", "e", "", "output file extension (png|jpg|tiff|webp|...)")
	cmd.Flags().StringVar(&overwriteMode, "overwrite", "", "existing file handling (replace|skip|rename_new|rename_existing)")
	cmd.Flags().StringVar(&exportMode, "export-mode", "", "export grouping (each_item|each_top_level_item_or_folder|single_image)")
	cmd.Flags().StringVarP(&recipe, "recipe", "r", "", "recipe file with procedures and conditions")
	cmd.Flags().BoolVar(&keepCopies, "keep-copies", false, "keep processed image copies in memory after the run")

	return cmd
}

func newLayersCmd(root *Root) *cobra.Command {
	var (
		output    string
		pattern   string
		extension string
		recipe    string
	)

	cmd := &cobra.Command{
		Use:   "layers <image>",
		Short: "Process the layers of a single image",
		Long: `Load one layered image, apply the procedures of a recipe to each layer,
and export the layers as separate files.

Examples:
  # Export every layer of a composite as PNG
  batchwand layers composite.ora --output ./layers/

  # Name the outputs after the image and layer
  batchwand layers composite.ora --pattern "[image name]-[layer name]"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkExtension(extension); err != nil {
				return err
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			root.log.Info("layers command parsed",
				"input", args[0],
				"output", output,
				"recipe", recipe,
			)

			job := pipeline.Job{
				ID:        newID("layers"),
				Type:      pipeline.RunLayers,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"pattern":   pattern,
					"extension": extension,
					"recipe":    recipe,
					"source":    "cli",
				},
			}

			res, err := root.enqueueAndCollect(cmd.Context(), job)
			if err != nil {
				return err
			}
			printRunSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (config default if empty)")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "output name pattern, e.g. \"[image name]-[layer name]\"")
	cmd.Flags().StringVarP(&extension, "extension", "e", "", "output file extension (png|jpg|tiff|webp|...)")
	cmd.Flags().StringVarP(&recipe, "recipe", "r", "", "recipe file with procedures and conditions")

	return cmd
}

func newEditCmd(root *Root) *cobra.Command {
	var (
		recipe     string
		keepCopies bool
	)

	cmd := &cobra.Command{
		Use:   "edit <paths...>",
		Short: "Process images and save them back in place",
		Long: `Apply the procedures of a recipe to images and write each result back to
the file it was loaded from, keeping the original format.

Examples:
  # Autolevel a folder of photos in place
  batchwand edit /photos/2026/ --recipe autolevel.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("edit command parsed",
				"inputs", len(args),
				"recipe", recipe,
			)

			job := pipeline.Job{
				ID:        newID("edit"),
				Type:      pipeline.RunEdit,
				InputPath: args[0],
				Options: map[string]any{
					"paths":      args,
					"recipe":     recipe,
					"keepCopies": keepCopies,
					"source":     "cli",
				},
			}

			res, err := root.enqueueAndCollect(cmd.Context(), job)
			if err != nil {
				return err
			}
			printRunSummary(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&recipe, "recipe", "r", "", "recipe file with procedures and conditions")
	cmd.Flags().BoolVar(&keepCopies, "keep-copies", false, "keep processed image copies in memory after the run")

	return cmd
}

func newPreviewCmd(root *Root) *cobra.Command {
	var (
		output    string
		pattern   string
		extension string
		recipe    string
	)

	cmd := &cobra.Command{
		Use:   "preview <paths...>",
		Short: "Show the output names a run would produce",
		Long: `Resolve the output names of a convert run without loading or writing any
image data.

Examples:
  # Check what a numbered export would produce
  batchwand preview /photos/raw/ --pattern "[current date]-[001]"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkExtension(extension); err != nil {
				return err
			}
			if output == "" {
				output = root.cfg.Paths.DefaultOutput
			}

			job := pipeline.Job{
				ID:        newID("preview"),
				Type:      pipeline.RunPreview,
				InputPath: args[0],
				Output:    output,
				Options: map[string]any{
					"paths":     args,
					"pattern":   pattern,
					"extension": extension,
					"recipe":    recipe,
					"source":    "cli",
				},
			}

			res, err := root.enqueueAndCollect(cmd.Context(), job)
			if err != nil {
				return err
			}

			names, _ := res.Meta["names"].([]string)
			if len(names) == 0 {
				cmd.Println("No items matched.")
				return nil
			}
			cmd.Printf("%d files would be written:\n", len(names))
			for _, name := range names {
				cmd.Printf("  %s\n", name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (config default if empty)")
	cmd.Flags().StringVarP(&pattern, "pattern", "p", "", "output name pattern, fields in [brackets]")
	cmd.Flags().StringVarP(&extension, "extension", "e", "", "output file extension")
	cmd.Flags().StringVarP(&recipe, "recipe", "r", "", "recipe file with procedures and conditions")

	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	var (
		recipe     string
		debounceMS int
	)

	cmd := &cobra.Command{
		Use:   "watch <directories...>",
		Short: "Monitor directories and convert new images",
		Long: `Monitor directories and queue a convert run for each batch of new image
files once they stop changing.

Examples:
  batchwand watch /photos/incoming --recipe import.yaml`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				paths = root.cfg.Watch.Paths
			}
			if len(paths) == 0 {
				return fmt.Errorf("watch requires at least one directory")
			}

			watchCfg := config.Watch{Paths: paths, Recipe: recipe, DebounceMS: debounceMS}
			w, err := watch.New(watchCfg, root.pipeline.Submit, root.log)
			if err != nil {
				return err
			}
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()

			root.log.Info("watching for new images", "paths", paths, "recipe", recipe)
			<-cmd.Context().Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&recipe, "recipe", "r", root.cfg.Watch.Recipe, "recipe applied to watched files")
	cmd.Flags().IntVar(&debounceMS, "debounce-ms", root.cfg.Watch.DebounceMS, "settle time before a batch is queued")

	return cmd
}

func newRunsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [run_id]",
		Short: "List recent runs and their outcomes",
		Long: `List recent runs, or show one run with its per-item outcomes.

Examples:
  batchwand runs
  batchwand runs convert-20260822T101500-0042`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.store == nil {
				return fmt.Errorf("run history requires the database")
			}
			if len(args) > 0 {
				return root.showRun(args[0])
			}

			runs, err := root.store.RecentRuns(limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No runs recorded yet.")
				return nil
			}

			cmd.Printf("%-30s %-8s %-10s %-19s %s\n", "ID", "TYPE", "STATUS", "CREATED", "INPUT")
			for _, rec := range runs {
				cmd.Printf("%-30s %-8s %-10s %-19s %s\n",
					rec.ID, rec.RunType, rec.Status,
					rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.InputPath)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to list")

	return cmd
}

func newFieldsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "fields",
		Short: "List the fields available in name patterns",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Fields for image name patterns:")
			for _, name := range rename.FieldNames(rename.ForImages) {
				cmd.Printf("  [%s]\n", name)
			}
			cmd.Println("\nFields for layer name patterns:")
			for _, name := range rename.FieldNames(rename.ForLayers) {
				cmd.Printf("  [%s]\n", name)
			}
		},
	}
}

func newCommandsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "List registered procedures and conditions",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Procedures:")
			for _, p := range proc.RegisteredProcedures() {
				cmd.Printf("  %s\n", p.Name)
				for _, param := range p.Params {
					cmd.Printf("      %-18s %v\n", param.Name, param.Default)
				}
			}
			cmd.Println("\nConditions:")
			for _, c := range proc.RegisteredConditions() {
				cmd.Printf("  %s\n", c.Name)
				for _, param := range c.Params {
					cmd.Printf("      %-18s %v\n", param.Name, param.Default)
				}
			}
		},
	}
}

func newServeCmd(root *Root) *cobra.Command {
	var (
		addr       string
		watchPaths []string
		recipe     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start an HTTP server for submitting runs, inspecting results, and streaming
progress. Optionally monitors directories and converts new images.

Examples:
  # Basic server
  batchwand serve --addr :8080

  # Server with directory monitoring
  batchwand serve --addr :8080 --watch /photos/incoming --recipe import.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", addr,
				"watch_paths", watchPaths,
			)

			watchCfg := root.cfg.Watch
			if len(watchPaths) > 0 {
				watchCfg.Paths = watchPaths
			}
			if recipe != "" {
				watchCfg.Recipe = recipe
			}

			return root.serveFn(cmd.Context(), addr, root.store, root.pipeline, watchCfg, root.log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "server address (host:port)")
	cmd.Flags().StringSliceVar(&watchPaths, "watch", nil, "directories to monitor for new images")
	cmd.Flags().StringVarP(&recipe, "recipe", "r", "", "recipe applied to watched files")

	return cmd
}

func newWebCmd(root *Root) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "web",
		Short: "Start the monitoring dashboard",
		Long: `Start the web dashboard for monitoring the run queue with live updates.

Examples:
  batchwand web --port 8090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.webFn(cmd.Context(), port, root.store, root.pipeline, root.log)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8081, "dashboard port")

	return cmd
}

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long:  "Show or validate the batchwand configuration",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := os.Getenv("BATCHWAND_CONFIG")
			if cfgPath == "" {
				cfgPath = "(default) ~/.config/batchwand/config.json"
			}
			cmd.Printf("Config file: %s\n", cfgPath)
			cmd.Printf("Database Path: %s\n", root.cfg.Paths.DatabasePath)
			cmd.Printf("Default Output: %s\n", root.cfg.Paths.DefaultOutput)
			cmd.Printf("Temp Directory: %s\n", root.cfg.Processing.TempDir)
			cmd.Printf("Parallel Runs: %d\n", root.cfg.Processing.ParallelRuns)
			cmd.Printf("File Extension: %s\n", root.cfg.Export.FileExtension)
			cmd.Printf("Name Pattern: %s\n", root.cfg.Export.NamePattern)
			cmd.Printf("Overwrite Mode: %s\n", root.cfg.Export.OverwriteMode)
			cmd.Printf("Export Mode: %s\n", root.cfg.Export.ExportMode)
			cmd.Printf("Log Level: %s\n", root.cfg.Logging.Level)
			cmd.Printf("Log Format: %s\n", root.cfg.Logging.Format)
			if len(root.cfg.Watch.Paths) > 0 {
				cmd.Printf("Watch Paths: %s\n", strings.Join(root.cfg.Watch.Paths, ", "))
			}
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(); err != nil {
				return fmt.Errorf("configuration is invalid: %w", err)
			}
			cmd.Println("Configuration is valid.")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("Batchwand v1.0.0-dev")
		},
	}
}
