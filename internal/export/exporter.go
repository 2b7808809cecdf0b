package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
	"batchwand/internal/pathutil"
	"batchwand/internal/proc"
	"batchwand/internal/rename"
)

// exportNameState is the named item state holding the resolved output name,
// kept apart from the display name.
const exportNameState = "export_name"

type extensionProperties struct {
	valid          bool
	processedCount int
}

// Exporter is the state of the export procedure across one run: name
// uniquification tables, per-extension bookkeeping and images gathered
// across items by the multi-item export modes.
type Exporter struct {
	opts   FormatOptions
	writer WriteFunc

	initialized      bool
	defaultExtension string
	uniquifier       *ItemUniquifier
	extensions       map[string]*extensionProperties
	processedParents map[*itemtree.Item]bool

	singleImageRenamer *rename.Renamer

	// gathered holds images accumulated by the multi-item export modes,
	// editCopies the edit-mode scratch copies. Both are destroyed by a
	// cleanup hook when a run ends prematurely.
	gathered   []*magick.Image
	editCopies []*magick.Image

	interactive bool
}

// New returns an exporter for one run.
func New(opts FormatOptions) *Exporter {
	writer := opts.Writer
	if writer == nil {
		writer = defaultWriter
	}
	return &Exporter{
		opts:             opts,
		writer:           writer,
		uniquifier:       NewItemUniquifier(),
		extensions:       map[string]*extensionProperties{},
		processedParents: map[*itemtree.Item]bool{},
	}
}

// Process implements the export procedure for the current item. args carry
// the output directory (index 0) and file extension (index 1). In name-only
// runs the item's output name is resolved without touching any image.
func (e *Exporter) Process(ctx proc.Context, args []any) (any, error) {
	outputDirectory := stringArg(args, 0)
	fileExtension := stringArg(args, 1)
	if fileExtension == "" {
		fileExtension = "png"
	}
	e.ensureInitialized(ctx, fileExtension)

	item := ctx.CurrentItem()
	if item == nil {
		return nil, nil
	}

	currentExtension := e.defaultExtension
	itemToProcess := item
	layerToProcess := ctx.CurrentLayer()

	var gathered *magick.Image
	if e.opts.Mode != EachItem && ctx.ProcessExport() {
		if len(e.gathered) == 0 {
			e.gathered = append(e.gathered, emptyImageLike(ctx.CurrentImage()))
		}
		gathered = e.gathered[len(e.gathered)-1]
	}

	var imageCopy *magick.Image
	if ctx.EditMode() && ctx.ProcessExport() {
		var layerCopy *magick.Layer
		imageCopy, layerCopy = ctx.CreateCopy(ctx.CurrentImage(), layerToProcess)
		e.editCopies = append(e.editCopies, imageCopy)

		if layerCopy == nil {
			layerToProcess = ctx.CurrentLayer()
		} else {
			layerCopy.Name = item.Name
			layerToProcess = layerCopy
		}
	} else {
		imageCopy = ctx.CurrentImage()
	}

	if ctx.ProcessExport() && e.opts.AutoOrient {
		if err := autoOrient(imageCopy); err != nil {
			return nil, err
		}
	}

	imageToProcess := imageCopy
	if gathered != nil {
		imageToProcess = gathered
	}

	switch e.opts.Mode {
	case EntireImageAtOnce:
		if ctx.ProcessExport() {
			merged, err := mergeAndResize(ctx, imageCopy, layerToProcess)
			if err != nil {
				return nil, err
			}
			copyLayerTo(merged, imageToProcess, item)
		}

		if ctx.NextMatchingItem(item) != nil {
			e.removeEditCopies(ctx)
			return nil, nil
		}

		nameOnly := itemtree.NewNameOnlyItem(item.Name)
		if e.singleImageRenamer != nil {
			nameOnly.Name = e.singleImageRenamer.Rename(renameContext(ctx, nameOnly))
		}
		itemToProcess = nameOnly

	case EachTopLevelItemOrFolder:
		if ctx.ProcessExport() {
			merged, err := mergeAndResize(ctx, imageCopy, layerToProcess)
			if err != nil {
				return nil, err
			}
			copyLayerTo(merged, imageToProcess, item)
		}

		if topLevelItem(item) == topLevelItem(ctx.NextMatchingItem(item)) {
			e.removeEditCopies(ctx)
			return nil, nil
		}
		itemToProcess = topLevelItem(item)
	}

	if ctx.ProcessNames() {
		itemToProcess.SaveState(exportNameState)

		if e.opts.UseItemFileExtension {
			currentExtension = e.currentFileExtension(itemToProcess)
		}
		if e.opts.LowercaseExtension {
			currentExtension = strings.ToLower(currentExtension)
		}

		e.processParentNames(itemToProcess)
		e.processItemName(itemToProcess, currentExtension, false)
	}

	if ctx.ProcessExport() {
		if e.opts.Mode != EachItem {
			imageToProcess.ResizeToLayers()
		}

		var chooser overwrite.Chooser
		if e.opts.OverwriteMode == overwrite.Ask {
			chooser = ctx.OverwriteChooser()
		} else {
			chooser = overwrite.NewNoninteractive(e.opts.OverwriteMode)
		}

		chosenMode, status, err := e.exportItem(ctx, itemToProcess, imageToProcess, outputDirectory, chooser)
		if err != nil {
			return nil, err
		}

		if status == UseDefaultFileExtension {
			if ctx.ProcessNames() {
				e.processItemName(itemToProcess, currentExtension, true)
			}
			chosenMode, _, err = e.exportItem(ctx, itemToProcess, imageToProcess, outputDirectory, chooser)
			if err != nil {
				return nil, err
			}
		}

		if chosenMode != overwrite.Skip {
			e.extensionProps(pathutil.FileExtension(exportName(itemToProcess))).processedCount++
			ctx.AddExportedItem(itemToProcess)
		}
	}

	if gathered != nil {
		destroyImages(&e.gathered)
	}
	e.removeEditCopies(ctx)
	return nil, nil
}

func (e *Exporter) ensureInitialized(ctx proc.Context, fileExtension string) {
	if e.initialized {
		return
	}
	e.initialized = true
	e.defaultExtension = fileExtension

	if e.opts.Mode == EntireImageAtOnce && e.opts.SingleImagePattern != "" {
		variant := rename.ForImages
		if item := ctx.CurrentItem(); item != nil && isLayerItem(item) {
			variant = rename.ForLayers
		}
		e.singleImageRenamer = rename.NewRenamer(e.opts.SingleImagePattern, variant, true, false)
	}

	inv := ctx.Invoker()
	inv.Add(func([]any) (any, error) {
		if ctx.ProcessExport() {
			destroyImages(&e.gathered)
		}
		return nil, nil
	}, "destroy_gathered_images", []string{proc.CleanupContentsGroup})
	inv.Add(func([]any) (any, error) {
		if ctx.ProcessExport() {
			destroyImages(&e.editCopies)
		}
		return nil, nil
	}, "destroy_edit_copies", []string{proc.CleanupContentsGroup})
}

// exportItem resolves the overwrite policy for the item's output path and
// writes the image once. The returned status asks the caller to repeat the
// naming and export step when the extension turned out unusable.
func (e *Exporter) exportItem(ctx proc.Context, item *itemtree.Item, img *magick.Image, outputDirectory string, chooser overwrite.Chooser) (overwrite.Mode, Status, error) {
	outputPath := itemFilepath(item, outputDirectory)
	fileExtension := pathutil.FileExtension(exportName(item))
	status := NotExportedYet

	chosenMode, outputPath, err := overwrite.Handle(outputPath, chooser, uniquePosition(outputPath, fileExtension))
	if err != nil {
		return chosenMode, status, &Error{
			Message:       err.Error(),
			ItemName:      exportName(item),
			FileExtension: fileExtension,
			Err:           err,
		}
	}

	ctx.SetProgressText(fmt.Sprintf("Saving %q", outputPath))

	if chosenMode == overwrite.Cancel {
		return chosenMode, status, &proc.CancelError{Message: "canceled"}
	}

	if chosenMode != overwrite.Skip {
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return chosenMode, status, newInvalidOutputDirectoryError(err, exportName(item), e.defaultExtension)
		}

		status, err = e.writeOnce(ctx, item, img, outputPath, fileExtension)
		if err != nil {
			return chosenMode, status, err
		}
	}
	return chosenMode, status, nil
}

// writeOnce drives the writer for one output path. A writer demanding an
// interactive call is retried once interactively; a failure under a
// non-default extension marks the extension invalid and reports
// UseDefaultFileExtension so the caller can fall back.
func (e *Exporter) writeOnce(ctx proc.Context, item *itemtree.Item, img *magick.Image, path, fileExtension string) (Status, error) {
	for {
		err := e.writer(img, path, WriteOptions{Quality: e.opts.Quality, Interactive: e.interactive})
		if err == nil {
			if e.opts.UseOriginalModificationDate {
				restoreModificationDate(item, path)
			}
			ctx.Logger().Debug("exported item", "path", path)
			return ExportSuccessful, nil
		}

		var cancel *proc.CancelError
		if errors.As(err, &cancel) {
			return NotExportedYet, cancel
		}

		if errors.Is(err, ErrNeedsInteraction) {
			if !e.interactive {
				e.interactive = true
				continue
			}
			return NotExportedYet, e.wrapWriteError(err, item)
		}

		if fileExtension != e.defaultExtension {
			e.extensionProps(fileExtension).valid = false
			return UseDefaultFileExtension, nil
		}
		return NotExportedYet, e.wrapWriteError(err, item)
	}
}

func (e *Exporter) wrapWriteError(err error, item *itemtree.Item) error {
	return &Error{
		Message:       err.Error(),
		ItemName:      exportName(item),
		FileExtension: e.defaultExtension,
		Err:           err,
	}
}

// currentFileExtension returns the item's own extension when its format has
// not failed before, the run default otherwise.
func (e *Exporter) currentFileExtension(item *itemtree.Item) string {
	ext := pathutil.FileExtension(item.OrigName())
	if ext != "" && e.extensionProps(ext).valid {
		return ext
	}
	return e.defaultExtension
}

// processParentNames validates and uniquifies the output names of the
// item's not yet visited ancestor folders.
func (e *Exporter) processParentNames(item *itemtree.Item) {
	for _, parent := range item.Parents() {
		if e.processedParents[parent] {
			continue
		}
		parent.SaveState(exportNameState)

		setExportName(parent, pathutil.ValidateFilename(exportName(parent)))
		setExportName(parent, e.uniquifier.Uniquify(parent, exportName(parent), -1))

		e.processedParents[parent] = true
	}
}

// processItemName resolves the item's output file name: the run default
// extension is appended, a different current extension replaces the item's
// own one, and the result is validated and uniquified against earlier
// exports with the suffix anchored before the extension.
func (e *Exporter) processItemName(item *itemtree.Item, currentExtension string, forceDefaultExtension bool) {
	name := exportName(item)

	switch {
	case forceDefaultExtension:
		name = pathutil.WithExtension(name, e.defaultExtension, true)
	case currentExtension == e.defaultExtension:
		name = name + "." + e.defaultExtension
	default:
		name = pathutil.WithExtension(name, currentExtension, true)
	}
	setExportName(item, name)

	setExportName(item, pathutil.ValidateFilename(exportName(item)))

	validated := exportName(item)
	position := uniquePosition(validated, pathutil.FileExtension(validated))
	setExportName(item, e.uniquifier.Uniquify(item, validated, position))
}

func (e *Exporter) extensionProps(ext string) *extensionProperties {
	key := magick.CanonicalExtension(ext)
	p, ok := e.extensions[key]
	if !ok {
		p = &extensionProperties{valid: true}
		e.extensions[key] = p
	}
	return p
}

func (e *Exporter) removeEditCopies(ctx proc.Context) {
	if ctx.EditMode() && ctx.ProcessExport() {
		destroyImages(&e.editCopies)
	}
}

// exportName returns the output name of an item, falling back to the
// display name before any naming step ran.
func exportName(item *itemtree.Item) string {
	if state, ok := item.NamedState(exportNameState); ok {
		return state.Name
	}
	return item.Name
}

func setExportName(item *itemtree.Item, name string) {
	state, _ := item.NamedState(exportNameState)
	state.Name = name
	item.SetNamedState(exportNameState, state)
}

// OutputPath returns the file path an item was or would be exported to:
// the output directory joined with the resolved output names of the item's
// parent folders and the item itself. Items that never went through name
// processing resolve to their display names.
func OutputPath(item *itemtree.Item, outputDirectory string) string {
	return itemFilepath(item, outputDirectory)
}

// itemFilepath joins the absolute output directory, the output names of the
// item's parents and the item's own output name.
func itemFilepath(item *itemtree.Item, outputDirectory string) string {
	path, err := filepath.Abs(outputDirectory)
	if err != nil {
		path = outputDirectory
	}
	for _, parent := range item.Parents() {
		path = filepath.Join(path, exportName(parent))
	}
	return filepath.Join(path, exportName(item))
}

// uniquePosition anchors uniquification suffixes directly before the file
// extension.
func uniquePosition(s, fileExtension string) int {
	return len(s) - len("."+fileExtension)
}

func topLevelItem(item *itemtree.Item) *itemtree.Item {
	if item != nil && len(item.Parents()) > 0 {
		return item.Parents()[0]
	}
	return item
}

// mergeAndResize merges the image's visible layers into a single
// canvas-sized layer replacing them, leaving invisible layers in place.
// Merging keeps outputs self-contained when commands inserted extra layers
// and when several items end up as layers of one file.
func mergeAndResize(ctx proc.Context, img *magick.Image, layer *magick.Layer) (*magick.Layer, error) {
	name := ""
	if layer != nil {
		name = layer.Name
	}

	merged, err := img.Flatten()
	if err != nil {
		return nil, err
	}
	merged.Name = name

	var kept []*magick.Layer
	for _, l := range img.Layers {
		if l.Visible {
			l.Destroy()
		} else {
			kept = append(kept, l)
		}
	}
	img.Layers = append([]*magick.Layer{merged}, kept...)
	img.Selected = []*magick.Layer{merged}

	if !ctx.EditMode() {
		ctx.SetCurrentLayer(merged)
	}
	return merged, nil
}

// copyLayerTo appends a copy of layer at the bottom of dest. The copy takes
// the item's display name so gathered outputs keep the original names.
func copyLayerTo(layer *magick.Layer, dest *magick.Image, item *itemtree.Item) *magick.Layer {
	if layer == nil {
		return nil
	}
	c := layer.Clone()
	c.Name = item.Name
	dest.InsertLayer(c, len(dest.Layers))
	return c
}

// emptyImageLike returns a new image with the canvas and path of img but no
// layers.
func emptyImageLike(img *magick.Image) *magick.Image {
	if img == nil {
		return magick.NewImage("", 0, 0)
	}
	copy := magick.NewImage(img.Name, img.Width, img.Height)
	copy.Path = img.Path
	return copy
}

func autoOrient(img *magick.Image) error {
	if img == nil {
		return nil
	}
	for _, l := range img.AllLayers() {
		if l.Group || l.Wand == nil {
			continue
		}
		if err := l.AutoOrient(); err != nil {
			return err
		}
	}
	return nil
}

// restoreModificationDate stamps the output file with the modification time
// of the item's source file, when the item has one.
func restoreModificationDate(item *itemtree.Item, path string) {
	source := item.ID()
	if source == "" {
		return
	}
	info, err := os.Stat(source)
	if err != nil || info.IsDir() {
		return
	}
	_ = os.Chtimes(path, info.ModTime(), info.ModTime())
}

func destroyImages(images *[]*magick.Image) {
	for _, img := range *images {
		img.Destroy()
	}
	*images = (*images)[:0]
}

func isLayerItem(item *itemtree.Item) bool {
	if _, ok := item.Raw.(*magick.Layer); ok {
		return true
	}
	_, ok := item.Object().(itemtree.LayerObject)
	return ok
}

func renameContext(ctx proc.Context, item *itemtree.Item) *rename.Context {
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

func stringArg(args []any, i int) string {
	if i < len(args) {
		if s, ok := args[i].(string); ok {
			return s
		}
	}
	return ""
}

func boolArg(args []any, i int) bool {
	if i < len(args) {
		if b, ok := args[i].(bool); ok {
			return b
		}
	}
	return false
}

func floatArg(args []any, i int) float64 {
	if i < len(args) {
		switch v := args[i].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
	}
	return 0
}
