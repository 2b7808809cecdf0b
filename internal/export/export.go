// Package export turns processed images into files on disk. It resolves the
// final file name of every item (extension policy, filesystem validation,
// uniquification against earlier exports), applies the overwrite policy and
// drives the image writer, optionally gathering several items into one
// multi-layer output first.
package export

import (
	"errors"
	"fmt"
	"strings"

	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
)

// Mode selects how matching items map to output files.
type Mode int

const (
	// EachItem writes one file per matching item.
	EachItem Mode = iota
	// EachTopLevelItemOrFolder gathers the items below each top-level item
	// or folder into a single multi-layer output.
	EachTopLevelItemOrFolder
	// EntireImageAtOnce gathers all matching items into a single output.
	EntireImageAtOnce
)

var modeNames = map[Mode]string{
	EachItem:                 "each_item",
	EachTopLevelItemOrFolder: "each_top_level_item_or_folder",
	EntireImageAtOnce:        "single_image",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a mode name as used in configuration and recipes.
func ParseMode(name string) (Mode, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for mode, modeName := range modeNames {
		if modeName == normalized {
			return mode, nil
		}
	}
	return EachItem, fmt.Errorf("unknown export mode %q", name)
}

// Status is the outcome of one write attempt.
type Status int

const (
	NotExportedYet Status = iota
	ExportSuccessful
	// ForceInteractive means the writer rejected a non-interactive call and
	// the attempt is repeated interactively.
	ForceInteractive
	// UseDefaultFileExtension means the write failed under a non-default
	// extension and the whole naming and export step is repeated with the
	// default one.
	UseDefaultFileExtension
)

// ErrNeedsInteraction is returned by writers that must run interactively
// once to seed their settings before non-interactive calls succeed.
var ErrNeedsInteraction = errors.New("writer requires an interactive call")

// WriteOptions carry the per-write parameters handed to a WriteFunc.
type WriteOptions struct {
	// Quality is the encoder quality, 0 keeping the format default.
	Quality uint
	// Interactive is set when the caller allows the writer to prompt.
	Interactive bool
}

// WriteFunc writes an image to path. The default writer flattens and
// encodes through the wand toolchain.
type WriteFunc func(img *magick.Image, path string, opts WriteOptions) error

func defaultWriter(img *magick.Image, path string, opts WriteOptions) error {
	return img.Write(path, opts.Quality)
}

// FormatOptions configure how an exporter produces files.
type FormatOptions struct {
	Quality uint
	Mode    Mode

	// SingleImagePattern names the output of EntireImageAtOnce runs. An
	// empty pattern falls back to the name of the last exported item.
	SingleImagePattern string

	// UseItemFileExtension keeps an item's own extension when its format is
	// writable instead of applying the run's default extension.
	UseItemFileExtension bool

	// LowercaseExtension converts the output file extension to lowercase.
	LowercaseExtension bool

	// UseOriginalModificationDate stamps output files with the source
	// file's modification time.
	UseOriginalModificationDate bool

	// AutoOrient bakes Exif orientation into the pixels before writing.
	AutoOrient bool

	// OverwriteMode resolves collisions with existing files. Ask defers to
	// the run's chooser.
	OverwriteMode overwrite.Mode

	// Writer replaces the wand-backed writer, mainly in tests.
	Writer WriteFunc
}

// DefaultFormatOptions returns the options for a plain per-item export.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		Mode:          EachItem,
		OverwriteMode: overwrite.Ask,
		AutoOrient:    true,
	}
}
