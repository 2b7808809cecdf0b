// Package proc defines the command model for batch runs: procedure and
// condition specs, the registry of builtin implementations, symbolic
// argument placeholders, and the recipe loader turning YAML documents into
// configured specs.
package proc

import (
	"fmt"
	"log/slog"

	"batchwand/internal/invoke"
	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
)

// Placeholder is a symbolic argument value resolved against the live run
// context immediately before a command is called.
type Placeholder string

const (
	CurrentImage      Placeholder = "current_image"
	CurrentLayer      Placeholder = "current_layer"
	BackgroundLayer   Placeholder = "background_layer"
	ForegroundLayer   Placeholder = "foreground_layer"
	AllTopLevelLayers Placeholder = "all_top_level_layers"
	OutputDirectory   Placeholder = "output_directory"

	// Unsupported marks an argument this engine cannot supply. Resolving it
	// always fails.
	Unsupported Placeholder = "unsupported"
)

var placeholders = map[Placeholder]struct{}{
	CurrentImage:      {},
	CurrentLayer:      {},
	BackgroundLayer:   {},
	ForegroundLayer:   {},
	AllTopLevelLayers: {},
	OutputDirectory:   {},
	Unsupported:       {},
}

// LookupPlaceholder maps a name from a recipe to a known placeholder.
func LookupPlaceholder(name string) (Placeholder, bool) {
	p := Placeholder(name)
	_, ok := placeholders[p]
	return p, ok
}

// Context is the run state commands execute against. It is implemented by
// the batchers in the batch package.
type Context interface {
	CurrentItem() *itemtree.Item
	CurrentImage() *magick.Image
	CurrentLayer() *magick.Layer
	SetCurrentLayer(*magick.Layer)

	// BackgroundLayer and ForegroundLayer return the layer directly behind
	// or in front of the current layer. When no such layer exists they
	// return a SkipError.
	BackgroundLayer() (*magick.Layer, error)
	ForegroundLayer() (*magick.Layer, error)

	Tree() *itemtree.Tree
	Invoker() *invoke.Invoker
	MatchingItems() []*itemtree.Item
	MatchingItemsAndParents() []*itemtree.Item

	// NextMatchingItem returns the item following item among the items
	// matching the run's conditions, or nil for the last one.
	NextMatchingItem(item *itemtree.Item) *itemtree.Item

	// AddExportedItem records an item written out by an export command.
	AddExportedItem(item *itemtree.Item)

	// CreateCopy duplicates image for writing, per the run's kind: image
	// runs duplicate the whole image and return a nil layer, layer runs
	// copy layer into a fresh image and return the copied layer.
	CreateCopy(image *magick.Image, layer *magick.Layer) (*magick.Image, *magick.Layer)

	// SetProgressText replaces the run's progress status text.
	SetProgressText(text string)

	OutputDirectory() string
	FileExtension() string
	OverwriteChooser() overwrite.Chooser
	EditMode() bool
	IsPreview() bool
	ProcessNames() bool
	ProcessExport() bool
	Logger() *slog.Logger
}

// Arg is one command argument: either a literal value or a placeholder
// resolved at call time.
type Arg struct {
	Value       any
	Placeholder Placeholder
}

// Literal wraps a plain value as an argument.
func Literal(v any) Arg { return Arg{Value: v} }

// IsPlaceholder reports whether the argument is symbolic.
func (a Arg) IsPlaceholder() bool { return a.Placeholder != "" }

// Resolve returns the concrete value of the argument under the given run
// context.
func (a Arg) Resolve(ctx Context) (any, error) {
	switch a.Placeholder {
	case "":
		return a.Value, nil
	case CurrentImage:
		return ctx.CurrentImage(), nil
	case CurrentLayer:
		return ctx.CurrentLayer(), nil
	case BackgroundLayer:
		return ctx.BackgroundLayer()
	case ForegroundLayer:
		return ctx.ForegroundLayer()
	case AllTopLevelLayers:
		img := ctx.CurrentImage()
		if img == nil {
			return []*magick.Layer(nil), nil
		}
		return append([]*magick.Layer(nil), img.Layers...), nil
	case OutputDirectory:
		return ctx.OutputDirectory(), nil
	case Unsupported:
		return nil, fmt.Errorf("unsupported parameter")
	default:
		return nil, fmt.Errorf("unknown placeholder %q", a.Placeholder)
	}
}

// ResolveArgs resolves every argument in order.
func ResolveArgs(ctx Context, args []Arg) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		v, err := a.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
