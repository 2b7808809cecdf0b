package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"batchwand/internal/config"
)

func (r *Root) cmdConfig(ctx context.Context, args []string) error {
	_ = ctx
	if len(args) == 0 {
		return r.configShow()
	}
	switch args[0] {
	case "show":
		return r.configShow()
	case "validate":
		return r.configValidate()
	default:
		return fmt.Errorf("unknown config command: %s", args[0])
	}
}

func (r *Root) configShow() error {
	fmt.Printf("Current configuration:\n")
	cfgPath := os.Getenv("BATCHWAND_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/batchwand/config.json"
	}
	fmt.Printf("Config file: %s\n", cfgPath)
	fmt.Printf("\nProcessing:\n")
	fmt.Printf("  Parallel runs: %d\n", r.cfg.Processing.ParallelRuns)
	fmt.Printf("  Temp directory: %s\n", r.cfg.Processing.TempDir)
	fmt.Printf("\nPaths:\n")
	fmt.Printf("  Default input: %s\n", r.cfg.Paths.DefaultInput)
	fmt.Printf("  Default output: %s\n", r.cfg.Paths.DefaultOutput)
	fmt.Printf("  Database: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Printf("\nExport defaults:\n")
	fmt.Printf("  File extension: %s\n", r.cfg.Export.FileExtension)
	fmt.Printf("  Name pattern: %s\n", r.cfg.Export.NamePattern)
	fmt.Printf("  Overwrite mode: %s\n", r.cfg.Export.OverwriteMode)
	fmt.Printf("  Export mode: %s\n", r.cfg.Export.ExportMode)
	fmt.Printf("\nLogging:\n")
	fmt.Printf("  Level: %s\n", r.cfg.Logging.Level)
	fmt.Printf("  Format: %s\n", r.cfg.Logging.Format)
	if r.cfg.Logging.FileOutput {
		fmt.Printf("  Log directory: %s\n", r.cfg.Logging.LogDir)
	}
	if len(r.cfg.Watch.Paths) > 0 {
		fmt.Printf("\nWatch:\n")
		fmt.Printf("  Paths: %s\n", strings.Join(r.cfg.Watch.Paths, ", "))
		if r.cfg.Watch.Recipe != "" {
			fmt.Printf("  Recipe: %s\n", r.cfg.Watch.Recipe)
		}
		fmt.Printf("  Debounce: %dms\n", r.cfg.Watch.DebounceMS)
	}
	return nil
}

func (r *Root) configValidate() error {
	if _, err := config.Load(); err != nil {
		fmt.Printf("Configuration is invalid: %v\n", err)
		return err
	}
	fmt.Printf("Configuration is valid.\n")
	return nil
}

func (r *Root) cmdVersion() error {
	fmt.Printf("Batchwand v1.0.0-dev\n")
	fmt.Printf("Built with Go %s\n", runtime.Version())
	return nil
}
