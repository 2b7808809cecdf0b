package batch

import (
	"log/slog"

	"batchwand/internal/export"
	"batchwand/internal/overwrite"
	"batchwand/internal/proc"
)

// Options configure a batcher. The zero value is not useful on its own;
// start from DefaultOptions.
type Options struct {
	// Procedures and Conditions are the configured commands of the run, in
	// the order they were set up.
	Procedures []*proc.Spec
	Conditions []*proc.Spec

	// RefreshTree re-derives the item tree from its source before
	// processing starts.
	RefreshTree bool

	// EditMode applies procedures to the opened images themselves instead
	// of copies, and adds no renaming or export of its own.
	EditMode bool

	// OutputDirectory receives the exported files.
	OutputDirectory string

	// NamePattern drives the default renaming of non-edit runs. Empty
	// keeps the original names.
	NamePattern string

	// FileExtension is the default output format.
	FileExtension string

	// OverwriteMode resolves clashes with existing files. A custom
	// OverwriteChooser takes precedence; with none set, a noninteractive
	// chooser answering OverwriteMode is used.
	OverwriteMode    overwrite.Mode
	OverwriteChooser overwrite.Chooser

	// ExportOptions configure the default export command.
	ExportOptions export.FormatOptions

	// Progress receives per-item completion updates. Nil keeps a private
	// tracker.
	Progress *Progress

	Logger *slog.Logger

	// IsPreview marks the run as a dry preview: commands disabled for
	// previews are skipped and name-only commands run in place of the
	// full pipeline.
	IsPreview bool

	// ProcessContents applies procedures to image contents. ProcessNames
	// resolves output names, ProcessExport writes output files; both are
	// consulted by the renaming and export commands.
	ProcessContents bool
	ProcessNames    bool
	ProcessExport   bool

	// KeepImageCopies leaves the per-item image copies alive after the
	// run instead of destroying them.
	KeepImageCopies bool
}

// DefaultOptions returns the options of a plain non-edit export run.
func DefaultOptions() Options {
	return Options{
		RefreshTree:     true,
		FileExtension:   "png",
		OverwriteMode:   overwrite.RenameNew,
		ExportOptions:   export.DefaultFormatOptions(),
		ProcessContents: true,
		ProcessNames:    true,
		ProcessExport:   true,
	}
}
