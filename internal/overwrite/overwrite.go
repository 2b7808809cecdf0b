// Package overwrite resolves collisions with existing files, either with a
// fixed policy or by asking the user.
package overwrite

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"batchwand/internal/pathutil"
)

// Mode indicates how to handle an existing file.
type Mode int

const (
	// Replace overwrites the existing file with new contents.
	Replace Mode = iota
	// Skip leaves the existing file alone and does not write the new one.
	Skip
	// RenameNew writes the new file under a uniquified name.
	RenameNew
	// RenameExisting renames the existing file and writes the new one under
	// the original name.
	RenameExisting
	// Cancel aborts the whole run.
	Cancel
	// DoNothing means no conflict existed and no action was taken.
	DoNothing
	// Ask is a policy rather than a resolution: commands configured with it
	// defer to the run's chooser instead of a fixed mode. Choosers never
	// return it.
	Ask
)

var modeNames = map[Mode]string{
	Replace:        "replace",
	Skip:           "skip",
	RenameNew:      "rename_new",
	RenameExisting: "rename_existing",
	Cancel:         "cancel",
	DoNothing:      "do_nothing",
	Ask:            "ask",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ParseMode converts a mode name as used in configuration and flags.
func ParseMode(name string) (Mode, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
	for mode, modeName := range modeNames {
		if modeName == normalized {
			return mode, nil
		}
	}
	return Skip, fmt.Errorf("unknown overwrite mode %q", name)
}

// Chooser decides how to handle a path that already exists.
type Chooser interface {
	// Choose picks the mode for path. path points to an existing file and
	// is shown to the user by interactive implementations.
	Choose(path string) Mode
	// Mode returns the most recently chosen mode.
	Mode() Mode
}

// Noninteractive always chooses the same fixed mode.
type Noninteractive struct {
	mode Mode
}

func NewNoninteractive(mode Mode) *Noninteractive {
	return &Noninteractive{mode: mode}
}

func (c *Noninteractive) Choose(string) Mode { return c.mode }

func (c *Noninteractive) Mode() Mode { return c.mode }

// Console asks on a terminal. An answer ending in "!" applies to all
// subsequent conflicts without asking again.
type Console struct {
	in              *bufio.Scanner
	out             io.Writer
	defaultResponse Mode

	mode       Mode
	chosen     bool
	applyToAll bool
}

// NewConsole reads single-letter answers from in and prompts on out.
// Unrecognized answers resolve to defaultResponse.
func NewConsole(in io.Reader, out io.Writer, defaultResponse Mode) *Console {
	return &Console{
		in:              bufio.NewScanner(in),
		out:             out,
		defaultResponse: defaultResponse,
		mode:            defaultResponse,
	}
}

func (c *Console) Choose(path string) Mode {
	if c.chosen && c.applyToAll {
		return c.mode
	}

	fmt.Fprintf(c.out, "%s already exists.\n", path)
	fmt.Fprintln(c.out, "  [r] replace  [s] skip  [n] rename new  [e] rename existing  [c] cancel")
	fmt.Fprintf(c.out, "Choice (append ! to apply to all) [%s]: ", c.defaultResponse)

	if !c.in.Scan() {
		c.mode = Cancel
		c.chosen = true
		return c.mode
	}

	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	if strings.HasSuffix(answer, "!") {
		c.applyToAll = true
		answer = strings.TrimSuffix(answer, "!")
	}

	switch answer {
	case "r":
		c.mode = Replace
	case "s":
		c.mode = Skip
	case "n":
		c.mode = RenameNew
	case "e":
		c.mode = RenameExisting
	case "c":
		c.mode = Cancel
	default:
		c.mode = c.defaultResponse
	}
	c.chosen = true
	return c.mode
}

func (c *Console) Mode() Mode { return c.mode }

// ApplyToAll reports whether the last answer was marked to apply to all
// subsequent conflicts.
func (c *Console) ApplyToAll() bool { return c.applyToAll }

// Handle resolves writing to path when a file may already exist there.
//
// If path does not exist, Handle returns DoNothing and path unchanged
// without consulting the chooser. Otherwise the chooser picks the mode.
// For RenameNew the returned path is a uniquified variant to write to
// instead; for RenameExisting the existing file is renamed to a uniquified
// variant and the original path is returned. position sets where the
// uniquifying suffix is inserted in the file name; a negative position
// appends it at the end.
func Handle(path string, chooser Chooser, position int) (Mode, string, error) {
	if _, err := os.Lstat(path); err != nil {
		return DoNothing, path, nil
	}

	shown := path
	if abs, err := filepath.Abs(path); err == nil {
		shown = abs
	}
	mode := chooser.Choose(shown)

	switch mode {
	case RenameNew:
		path = pathutil.UniquifyFilepath(path, position)
	case RenameExisting:
		renamed := pathutil.UniquifyFilepath(path, position)
		if err := os.Rename(path, renamed); err != nil {
			return mode, path, fmt.Errorf("renaming existing file: %w", err)
		}
	}
	return mode, path, nil
}
