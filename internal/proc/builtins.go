package proc

import (
	"fmt"
	"math"
	"strings"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/rename"
)

// Aspect ratio handling for the scale procedure.
const (
	AspectStretch        = "stretch"
	AspectKeepWidth      = "keep_adjust_width"
	AspectKeepHeight     = "keep_adjust_height"
	AspectFit            = "fit"
	AspectFitWithPadding = "fit_with_padding"
)

// Units for the scale procedure's dimensions.
const (
	UnitPercent = "percent"
	UnitPixels  = "pixels"
)

func init() {
	for _, p := range []*Procedure{
		{
			Name: "scale",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "new_width", Default: 100.0},
				{Name: "new_height", Default: 100.0},
				{Name: "unit", Default: UnitPercent},
				{Name: "aspect_ratio", Default: AspectStretch},
			},
			Fn: scaleObject,
		},
		{
			Name: "crop_to_area",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "x", Default: 0},
				{Name: "y", Default: 0},
				{Name: "width", Default: 100},
				{Name: "height", Default: 100},
			},
			Fn: cropToArea,
		},
		{
			Name: "resize_canvas",
			Params: []Param{
				{Name: "layers", Default: CurrentLayer},
			},
			Fn: resizeCanvas,
		},
		{
			Name: "use_layer_size",
			Fn:   useLayerSize,
		},
		{
			Name: "rotate",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "angle", Default: 90.0},
			},
			Fn: rotateObject,
		},
		{
			Name: "flip_horizontally",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
			},
			Fn: flipHorizontally,
		},
		{
			Name: "flip_vertically",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
			},
			Fn: flipVertically,
		},
		{
			Name: "brightness_contrast",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "brightness", Default: 0.0},
				{Name: "contrast", Default: 0.0},
			},
			Fn: brightnessContrast,
		},
		{
			Name: "levels",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "black", Default: 0.0},
				{Name: "gamma", Default: 1.0},
				{Name: "white", Default: 1.0},
			},
			Fn: levels,
		},
		{
			Name: "modulate",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "brightness", Default: 100.0},
				{Name: "saturation", Default: 100.0},
				{Name: "hue", Default: 100.0},
			},
			Fn: modulate,
		},
		{
			Name: "sharpen",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "radius", Default: 0.0},
				{Name: "sigma", Default: 1.0},
			},
			Fn: sharpen,
		},
		{
			Name: "gaussian_blur",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "radius", Default: 0.0},
				{Name: "sigma", Default: 1.0},
			},
			Fn: gaussianBlur,
		},
		{
			Name: "apply_opacity",
			Params: []Param{
				{Name: "object", Default: CurrentLayer},
				{Name: "opacity", Default: 100.0},
			},
			Fn: applyOpacity,
		},
		{
			Name: "insert_background",
			Params: []Param{
				{Name: "text", Default: "background"},
			},
			Fn: insertBackground,
		},
		{
			Name: "insert_foreground",
			Params: []Param{
				{Name: "text", Default: "foreground"},
			},
			Fn: insertForeground,
		},
		{
			Name: "merge_background",
			Fn:   mergeBackground,
		},
		{
			Name: "merge_foreground",
			Fn:   mergeForeground,
		},
		{
			Name: "remove_folder_structure",
			Fn:   removeFolderStructure,
		},
		{
			Name: "rename",
			Params: []Param{
				{Name: "pattern", Default: "[layer name]"},
				{Name: "rename_items", Default: true},
				{Name: "rename_folders", Default: false},
			},
			New: newRenameProcedure,
		},
	} {
		RegisterProcedure(p)
	}
}

func scaleObject(ctx Context, args []any) (any, error) {
	object := objectArg(args, 0)
	newWidth := floatArg(args, 1)
	newHeight := floatArg(args, 2)
	unit := stringArg(args, 3)
	aspect := stringArg(args, 4)

	origW, origH, err := objectSize(object)
	if err != nil {
		return nil, err
	}

	targetW := max(dimensionToPixels(ctx, newWidth, unit, true), 1)
	targetH := max(dimensionToPixels(ctx, newHeight, unit, false), 1)

	scaledW, scaledH := targetW, targetH
	switch aspect {
	case AspectKeepWidth, AspectKeepHeight:
		scaledW, scaledH = keepAspect(aspect, origW, origH, targetW, targetH)
	case AspectFit, AspectFitWithPadding:
		scaledW, scaledH = fitDimensions(origW, origH, targetW, targetH)
	}
	scaledW = max(scaledW, 1)
	scaledH = max(scaledH, 1)

	switch obj := object.(type) {
	case *magick.Image:
		if err := obj.ScaleTo(uint(scaledW), uint(scaledH)); err != nil {
			return nil, err
		}
		if aspect == AspectFitWithPadding {
			obj.ResizeCanvasTo(uint(targetW), uint(targetH), (targetW-scaledW)/2, (targetH-scaledH)/2)
		}
	case *magick.Layer:
		if err := obj.Scale(uint(scaledW), uint(scaledH)); err != nil {
			return nil, err
		}
		if aspect == AspectFitWithPadding {
			if err := obj.ResizeCanvas(uint(targetW), uint(targetH), (targetW-scaledW)/2, (targetH-scaledH)/2); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("scale: cannot scale %T", object)
	}
	return nil, nil
}

// dimensionToPixels converts a dimension to pixels. Percentages are relative
// to the current image canvas.
func dimensionToPixels(ctx Context, value float64, unit string, horizontal bool) int {
	if unit != UnitPercent {
		return int(math.Round(value))
	}
	var base uint
	if img := ctx.CurrentImage(); img != nil {
		if horizontal {
			base = img.Width
		} else {
			base = img.Height
		}
	}
	return int(math.Round(float64(base) * value / 100))
}

// keepAspect adjusts one dimension so the original aspect ratio is kept,
// trusting the other.
func keepAspect(mode string, origW, origH, newW, newH int) (int, int) {
	if origW < 1 {
		origW = 1
	}
	if origH < 1 {
		origH = 1
	}
	if mode == AspectKeepHeight {
		return int(math.Round(float64(origW) * float64(newH) / float64(origH))), newH
	}
	return newW, int(math.Round(float64(origH) * float64(newW) / float64(origW)))
}

// fitDimensions scales to the largest size that fits within the new bounds
// without changing the aspect ratio.
func fitDimensions(origW, origH, newW, newH int) (int, int) {
	if origW < 1 {
		origW = 1
	}
	if origH < 1 {
		origH = 1
	}
	fitW := newW
	fitH := int(math.Round(float64(origH) * float64(newW) / float64(origW)))
	if fitH > newH {
		fitH = newH
		fitW = int(math.Round(float64(origW) * float64(newH) / float64(origH)))
	}
	return fitW, fitH
}

func objectSize(object any) (int, int, error) {
	switch obj := object.(type) {
	case *magick.Image:
		return int(obj.Width), int(obj.Height), nil
	case *magick.Layer:
		return int(obj.Width()), int(obj.Height()), nil
	default:
		return 0, 0, fmt.Errorf("no image or layer to operate on")
	}
}

func cropToArea(ctx Context, args []any) (any, error) {
	object := objectArg(args, 0)
	x := intArg(args, 1)
	y := intArg(args, 2)
	width := max(intArg(args, 3), 1)
	height := max(intArg(args, 4), 1)

	switch obj := object.(type) {
	case *magick.Image:
		return nil, obj.CropToArea(x, y, uint(width), uint(height))
	case *magick.Layer:
		if err := obj.CropToArea(x, y, uint(width), uint(height)); err != nil {
			return nil, err
		}
		obj.OffsetX += x
		obj.OffsetY += y
		return nil, nil
	default:
		return nil, fmt.Errorf("crop_to_area: cannot crop %T", object)
	}
}

func resizeCanvas(ctx Context, args []any) (any, error) {
	layers := layersArg(args, 0)
	img := ctx.CurrentImage()
	if img == nil || len(layers) == 0 {
		return nil, nil
	}

	minX, minY := layers[0].OffsetX, layers[0].OffsetY
	maxX, maxY := minX, minY
	for _, l := range layers {
		minX = min(minX, l.OffsetX)
		minY = min(minY, l.OffsetY)
		maxX = max(maxX, l.OffsetX+int(l.Width()))
		maxY = max(maxY, l.OffsetY+int(l.Height()))
	}
	if maxX <= minX || maxY <= minY {
		return nil, nil
	}

	img.ResizeCanvasTo(uint(maxX-minX), uint(maxY-minY), -minX, -minY)
	return nil, nil
}

func useLayerSize(ctx Context, _ []any) (any, error) {
	img := ctx.CurrentImage()
	layer := ctx.CurrentLayer()
	if img == nil || layer == nil {
		return nil, nil
	}
	w, h := layer.Width(), layer.Height()
	if w == 0 || h == 0 {
		return nil, nil
	}
	img.ResizeCanvasTo(w, h, -layer.OffsetX, -layer.OffsetY)
	return nil, nil
}

func rotateObject(ctx Context, args []any) (any, error) {
	object := objectArg(args, 0)
	angle := floatArg(args, 1)

	switch obj := object.(type) {
	case *magick.Image:
		for _, l := range obj.AllLayers() {
			if l.Group || l.Wand == nil {
				continue
			}
			if err := l.Rotate(angle); err != nil {
				return nil, err
			}
		}
		if math.Mod(angle, 90) == 0 && math.Mod(angle, 180) != 0 {
			obj.Width, obj.Height = obj.Height, obj.Width
		}
		return nil, nil
	case *magick.Layer:
		return nil, applyToLayers(obj, func(l *magick.Layer) error { return l.Rotate(angle) })
	default:
		return nil, fmt.Errorf("rotate: cannot rotate %T", object)
	}
}

func flipHorizontally(ctx Context, args []any) (any, error) {
	return flipObject(objectArg(args, 0), true)
}

func flipVertically(ctx Context, args []any) (any, error) {
	return flipObject(objectArg(args, 0), false)
}

func flipObject(object any, horizontal bool) (any, error) {
	flip := func(l *magick.Layer) error {
		if horizontal {
			return l.FlipHorizontally()
		}
		return l.FlipVertically()
	}

	switch obj := object.(type) {
	case *magick.Image:
		for _, l := range obj.Layers {
			if err := applyToLayers(l, flip); err != nil {
				return nil, err
			}
			if l.Group || l.Wand == nil {
				continue
			}
			if horizontal {
				l.OffsetX = int(obj.Width) - l.OffsetX - int(l.Width())
			} else {
				l.OffsetY = int(obj.Height) - l.OffsetY - int(l.Height())
			}
		}
		return nil, nil
	case *magick.Layer:
		return nil, applyToLayers(obj, flip)
	default:
		return nil, fmt.Errorf("flip: cannot flip %T", object)
	}
}

func brightnessContrast(ctx Context, args []any) (any, error) {
	brightness := floatArg(args, 1)
	contrast := floatArg(args, 2)
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		return l.BrightnessContrast(brightness, contrast)
	})
}

func levels(ctx Context, args []any) (any, error) {
	black := floatArg(args, 1)
	gamma := floatArg(args, 2)
	white := floatArg(args, 3)
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		return l.Levels(black, gamma, white)
	})
}

func modulate(ctx Context, args []any) (any, error) {
	brightness := floatArg(args, 1)
	saturation := floatArg(args, 2)
	hue := floatArg(args, 3)
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		return l.Modulate(brightness, saturation, hue)
	})
}

func sharpen(ctx Context, args []any) (any, error) {
	radius := floatArg(args, 1)
	sigma := floatArg(args, 2)
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		return l.Sharpen(radius, sigma)
	})
}

func gaussianBlur(ctx Context, args []any) (any, error) {
	radius := floatArg(args, 1)
	sigma := floatArg(args, 2)
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		return l.GaussianBlur(radius, sigma)
	})
}

func applyOpacity(ctx Context, args []any) (any, error) {
	factor := floatArg(args, 1) / 100
	if factor < 0 {
		factor = 0
	}
	if factor > 1 {
		factor = 1
	}
	return nil, eachLayer(objectArg(args, 0), func(l *magick.Layer) error {
		if err := l.ApplyOpacity(l.Opacity * factor); err != nil {
			return err
		}
		l.Opacity = 1.0
		return nil
	})
}

func insertBackground(ctx Context, args []any) (any, error) {
	return insertMatchedLayers(ctx, stringArg(args, 0), true)
}

func insertForeground(ctx Context, args []any) (any, error) {
	return insertMatchedLayers(ctx, stringArg(args, 0), false)
}

// insertMatchedLayers merges all tree layers whose original name contains
// text into a single layer and inserts it directly behind or in front of
// the current layer. The inserted layer is owned by the current image.
func insertMatchedLayers(ctx Context, text string, behind bool) (any, error) {
	img := ctx.CurrentImage()
	current := ctx.CurrentLayer()
	if text == "" || img == nil || current == nil {
		return nil, nil
	}

	var sources []*magick.Layer
	for _, item := range ctx.Tree().List(itemtree.IterOptions{Unfiltered: true}) {
		layer := itemLayer(item)
		if layer == nil || layer == current || layer.Group {
			continue
		}
		if strings.Contains(item.OrigName(), text) {
			sources = append(sources, layer)
		}
	}
	if len(sources) == 0 {
		return nil, nil
	}

	scratch := magick.NewImage(text, img.Width, img.Height)
	for _, src := range sources {
		clone := src.Clone()
		clone.Visible = true
		clone.Locked = false
		scratch.Layers = append(scratch.Layers, clone)
	}
	merged, err := scratch.Flatten()
	scratch.Destroy()
	if err != nil {
		return nil, err
	}
	merged.Name = text

	position := 0
	for i, l := range img.Layers {
		if l == current {
			position = i
			break
		}
	}
	if behind {
		position++
	}
	img.InsertLayer(merged, position)
	return merged, nil
}

func mergeBackground(ctx Context, _ []any) (any, error) {
	background, err := ctx.BackgroundLayer()
	if err != nil {
		return nil, err
	}
	return mergeAdjacent(ctx, ctx.CurrentLayer(), background)
}

func mergeForeground(ctx Context, _ []any) (any, error) {
	foreground, err := ctx.ForegroundLayer()
	if err != nil {
		return nil, err
	}
	return mergeAdjacent(ctx, foreground, ctx.CurrentLayer())
}

// mergeAdjacent merges upper onto lower, replaces both with the result in
// the current image, and makes the merged layer current. The merged layer
// keeps the current layer's name and visibility.
func mergeAdjacent(ctx Context, upper, lower *magick.Layer) (any, error) {
	img := ctx.CurrentImage()
	current := ctx.CurrentLayer()
	if img == nil || current == nil || upper == nil || lower == nil {
		return nil, nil
	}

	merged, err := magick.MergeDown(upper, lower)
	if err != nil {
		return nil, err
	}
	merged.Name = current.Name
	merged.Visible = current.Visible

	position := 0
	for i, l := range img.Layers {
		if l == upper {
			position = i
			break
		}
	}
	img.RemoveLayer(upper)
	img.RemoveLayer(lower)
	img.InsertLayer(merged, position)
	upper.Destroy()
	lower.Destroy()

	ctx.SetCurrentLayer(merged)
	return merged, nil
}

func removeFolderStructure(ctx Context, _ []any) (any, error) {
	item := ctx.CurrentItem()
	if item == nil {
		return nil, nil
	}
	item.SetParents(nil)
	return nil, nil
}

// newRenameProcedure returns a rename function for one run. The renamer and
// the set of already renamed parents persist across items so numbering
// fields keep counting.
func newRenameProcedure() ProcedureFunc {
	var renamer *rename.Renamer
	renamedParents := map[*itemtree.Item]bool{}

	return func(ctx Context, args []any) (any, error) {
		pattern := stringArg(args, 0)
		renameItems := boolArg(args, 1)
		renameFolders := boolArg(args, 2)

		item := ctx.CurrentItem()
		if item == nil {
			return nil, nil
		}
		if renamer == nil {
			variant := rename.ForImages
			if itemLayer(item) != nil {
				variant = rename.ForLayers
			}
			renamer = rename.NewRenamer(pattern, variant, renameItems, renameFolders)
		}

		if renameFolders {
			for _, parent := range item.Parents() {
				if renamedParents[parent] {
					continue
				}
				parent.Name = renamer.Rename(renameContext(ctx, parent))
				renamedParents[parent] = true
			}
		}

		if renameItems {
			item.Name = renamer.Rename(renameContext(ctx, item))
			if itemLayer(item) != nil && ctx.ProcessNames() && !ctx.IsPreview() {
				if layer := ctx.CurrentLayer(); layer != nil {
					layer.Name = item.Name
				}
			}
		}
		return nil, nil
	}
}

func renameContext(ctx Context, item *itemtree.Item) *rename.Context {
	return &rename.Context{
		Item:            item,
		Items:           ctx.MatchingItems(),
		ItemsAndParents: ctx.MatchingItemsAndParents(),
		Tree:            ctx.Tree(),
		FileExtension:   ctx.FileExtension(),
		OutputDirectory: ctx.OutputDirectory(),
		Image:           ctx.CurrentImage(),
		Layer:           ctx.CurrentLayer(),
	}
}

// itemLayer returns the layer behind an item, either the processed copy in
// Raw or the layer the item was built from.
func itemLayer(item *itemtree.Item) *magick.Layer {
	if l, ok := item.Raw.(*magick.Layer); ok {
		return l
	}
	if o, ok := item.Object().(itemtree.LayerObject); ok {
		return o.Layer()
	}
	return nil
}

// eachLayer applies fn to the non-group layers behind the object: a single
// layer, a group's descendants, a slice of layers, or every layer of an
// image.
func eachLayer(object any, fn func(*magick.Layer) error) error {
	switch obj := object.(type) {
	case *magick.Layer:
		return applyToLayers(obj, fn)
	case []*magick.Layer:
		for _, l := range obj {
			if err := applyToLayers(l, fn); err != nil {
				return err
			}
		}
		return nil
	case *magick.Image:
		for _, l := range obj.Layers {
			if err := applyToLayers(l, fn); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("no image or layer to operate on")
	}
}

func applyToLayers(l *magick.Layer, fn func(*magick.Layer) error) error {
	if l.Group {
		for _, child := range l.Children {
			if err := applyToLayers(child, fn); err != nil {
				return err
			}
		}
		return nil
	}
	if l.Wand == nil {
		return nil
	}
	return fn(l)
}

func objectArg(args []any, i int) any {
	if i >= len(args) {
		return nil
	}
	return args[i]
}

func layersArg(args []any, i int) []*magick.Layer {
	switch v := objectArg(args, i).(type) {
	case []*magick.Layer:
		return v
	case *magick.Layer:
		if v == nil {
			return nil
		}
		return []*magick.Layer{v}
	case *magick.Image:
		if v == nil {
			return nil
		}
		return v.Layers
	default:
		return nil
	}
}

func floatArg(args []any, i int) float64 {
	switch v := objectArg(args, i).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func intArg(args []any, i int) int {
	switch v := objectArg(args, i).(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func stringArg(args []any, i int) string {
	if s, ok := objectArg(args, i).(string); ok {
		return s
	}
	return ""
}

func boolArg(args []any, i int) bool {
	if b, ok := objectArg(args, i).(bool); ok {
		return b
	}
	return false
}
