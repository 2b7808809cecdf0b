// Package batch drives runs: a batcher assembles the command pipeline from
// configured specs, walks the items of a tree matching the conditions and
// applies the procedures to each item, collecting skip and failure
// bookkeeping along the way.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync/atomic"

	"batchwand/internal/export"
	"batchwand/internal/invoke"
	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
	"batchwand/internal/proc"
)

// CommandEntry records one skip or failure of a command during a run.
type CommandEntry struct {
	// Item being processed when the command skipped or failed. Nil when
	// the command never ran for an item.
	Item    *itemtree.Item
	Message string

	// Stack holds the goroutine stack captured at the point of failure.
	// Empty for skips.
	Stack string
}

type commandKind int

const (
	kindProcedure commandKind = iota
	kindCondition
)

// nameOnlyCommands are the builtin procedures that resolve item names and
// therefore also run during name-only previews.
var nameOnlyCommands = map[string]bool{
	"rename": true,
	"export": true,
	"save":   true,
}

// delegate covers the steps that differ between image and layer runs.
type delegate interface {
	initialImage() *magick.Image
	initialLayer() *magick.Layer
	addRunHooks()
	processItemContents() error
	cleanupContents(errOccurred bool)
	createCopy(image *magick.Image, layer *magick.Layer) (*magick.Image, *magick.Layer)
}

// Batcher holds the shared machinery of a run. Construct one with
// NewImageBatcher or NewLayerBatcher.
type Batcher struct {
	opts     Options
	tree     *itemtree.Tree
	refresh  func()
	delegate delegate

	logger   *slog.Logger
	progress *Progress
	chooser  overwrite.Chooser

	// initialInvoker keeps commands registered between runs; it is nested
	// into the fresh per-run invoker on every run.
	initialInvoker *invoke.Invoker
	invoker        *invoke.Invoker

	runCtx     context.Context
	shouldStop atomic.Bool

	currentItem  *itemtree.Item
	currentImage *magick.Image
	currentLayer *magick.Layer

	currentProcedure *proc.Spec
	lastCondition    *proc.Spec

	matchingOrder           []*itemtree.Item
	matchingAndParentsOrder []*itemtree.Item
	nextMatching            map[*itemtree.Item]*itemtree.Item
	nextMatchingAndParents  map[*itemtree.Item]*itemtree.Item

	imageCopies   []*magick.Image
	exportedItems []*itemtree.Item

	// origSelected remembers the layer selection of images edited in
	// place, restored during cleanup.
	origSelected map[*magick.Image][]*magick.Layer

	skippedProcedures map[string][]CommandEntry
	skippedConditions map[string][]CommandEntry
	failedProcedures  map[string][]CommandEntry
	failedConditions  map[string][]CommandEntry
}

var _ proc.Context = (*Batcher)(nil)

func (b *Batcher) init(tree *itemtree.Tree, refresh func(), opts Options, d delegate) {
	if opts.OverwriteChooser == nil {
		opts.OverwriteChooser = overwrite.NewNoninteractive(opts.OverwriteMode)
	}
	if opts.Progress == nil {
		opts.Progress = NewProgress(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b.opts = opts
	b.tree = tree
	b.refresh = refresh
	b.delegate = d
	b.logger = opts.Logger
	b.progress = opts.Progress
	b.chooser = opts.OverwriteChooser
	b.initialInvoker = invoke.NewInvoker()
	b.runCtx = context.Background()
}

// CurrentItem returns the item being processed, or nil outside a run.
func (b *Batcher) CurrentItem() *itemtree.Item { return b.currentItem }

// CurrentImage returns the image procedures currently operate on.
func (b *Batcher) CurrentImage() *magick.Image { return b.currentImage }

// CurrentLayer returns the layer procedures currently operate on.
func (b *Batcher) CurrentLayer() *magick.Layer { return b.currentLayer }

// SetCurrentLayer makes layer the one subsequent procedures operate on.
func (b *Batcher) SetCurrentLayer(layer *magick.Layer) { b.currentLayer = layer }

// BackgroundLayer returns the layer directly behind the current layer in
// the current image.
func (b *Batcher) BackgroundLayer() (*magick.Layer, error) {
	return b.adjacentLayer(1, "background")
}

// ForegroundLayer returns the layer directly in front of the current layer
// in the current image.
func (b *Batcher) ForegroundLayer() (*magick.Layer, error) {
	return b.adjacentLayer(-1, "foreground")
}

func (b *Batcher) adjacentLayer(offset int, which string) (*magick.Layer, error) {
	img := b.currentImage
	if img != nil && b.currentLayer != nil {
		for i, l := range img.Layers {
			if l != b.currentLayer {
				continue
			}
			if j := i + offset; j >= 0 && j < len(img.Layers) {
				return img.Layers[j], nil
			}
			break
		}
	}
	return nil, proc.Skip("there is no %s layer", which)
}

// Tree returns the item tree the batcher processes.
func (b *Batcher) Tree() *itemtree.Tree { return b.tree }

// Invoker returns the invoker of the active run. It is replaced on every
// run; commands that should persist belong in AddProcedure or AddCondition.
func (b *Batcher) Invoker() *invoke.Invoker { return b.invoker }

// MatchingItems returns the items matching the run's conditions in
// processing order. Valid once a run has started.
func (b *Batcher) MatchingItems() []*itemtree.Item { return b.matchingOrder }

// MatchingItemsAndParents returns the matching items with each folder
// inserted before its first matching descendant.
func (b *Batcher) MatchingItemsAndParents() []*itemtree.Item { return b.matchingAndParentsOrder }

// NextMatchingItem returns the item following item among the matching
// items, or nil for the last one. Items outside the computed set fall back
// to the tree order.
func (b *Batcher) NextMatchingItem(item *itemtree.Item) *itemtree.Item {
	if item == nil {
		return nil
	}
	if next, ok := b.nextMatching[item]; ok {
		return next
	}
	return b.tree.Next(item, itemtree.IterOptions{})
}

// AddExportedItem records an item written out by an export command.
func (b *Batcher) AddExportedItem(item *itemtree.Item) {
	b.exportedItems = append(b.exportedItems, item)
}

// ExportedItems returns the items written out so far, in export order.
func (b *Batcher) ExportedItems() []*itemtree.Item { return b.exportedItems }

// ImageCopies returns the per-item image copies that are still alive. Only
// meaningful with KeepImageCopies set; the copies belong to the caller.
func (b *Batcher) ImageCopies() []*magick.Image { return b.imageCopies }

// CreateCopy duplicates image for processing, per the run's kind. Image
// runs duplicate the whole image and return a nil layer, layer runs copy
// layer into a fresh image and return the copied layer.
func (b *Batcher) CreateCopy(image *magick.Image, layer *magick.Layer) (*magick.Image, *magick.Layer) {
	return b.delegate.createCopy(image, layer)
}

// SetProgressText replaces the run's progress status text.
func (b *Batcher) SetProgressText(text string) { b.progress.SetText(text) }

func (b *Batcher) OutputDirectory() string { return b.opts.OutputDirectory }

func (b *Batcher) FileExtension() string { return b.opts.FileExtension }

func (b *Batcher) OverwriteChooser() overwrite.Chooser { return b.chooser }

func (b *Batcher) EditMode() bool { return b.opts.EditMode }

func (b *Batcher) IsPreview() bool { return b.opts.IsPreview }

func (b *Batcher) ProcessNames() bool { return b.opts.ProcessNames }

func (b *Batcher) ProcessExport() bool { return b.opts.ProcessExport }

func (b *Batcher) Logger() *slog.Logger { return b.logger }

// Progress returns the run's progress tracker.
func (b *Batcher) Progress() *Progress { return b.progress }

// CurrentProcedure returns the configured procedure being applied, or nil.
func (b *Batcher) CurrentProcedure() *proc.Spec { return b.currentProcedure }

// LastCondition returns the configured condition applied most recently, or
// nil.
func (b *Batcher) LastCondition() *proc.Spec { return b.lastCondition }

// SkippedProcedures maps command names to the items they skipped.
func (b *Batcher) SkippedProcedures() map[string][]CommandEntry { return b.skippedProcedures }

// SkippedConditions maps command names to the items they skipped.
func (b *Batcher) SkippedConditions() map[string][]CommandEntry { return b.skippedConditions }

// FailedProcedures maps command names to their recorded failures.
func (b *Batcher) FailedProcedures() map[string][]CommandEntry { return b.failedProcedures }

// FailedConditions maps command names to their recorded failures.
func (b *Batcher) FailedConditions() map[string][]CommandEntry { return b.failedConditions }

// QueueStop makes the active run terminate once the item being processed
// completes. It has no effect when no run is active.
func (b *Batcher) QueueStop() { b.shouldStop.Store(true) }

// AddProcedure registers fn to run as part of every subsequent call to Run,
// ahead of the configured procedures. Nil groups schedule it with the
// configured procedures; the run also recognizes the bracketing groups
// declared in the proc package. The returned ID can be passed to
// RemoveCommand. On invocation, args are prepended with the batcher.
func (b *Batcher) AddProcedure(fn invoke.Func, name string, groups []string, args ...any) int {
	if groups == nil {
		groups = []string{proc.DefaultProceduresGroup}
	}
	return b.initialInvoker.Add(fn, name, groups, args...)
}

// AddCondition registers fn as a filter rule applied to every subsequent
// run. Nil groups schedule it with the configured conditions.
func (b *Batcher) AddCondition(fn proc.ConditionFunc, name string, groups []string, args ...any) int {
	if groups == nil {
		groups = []string{proc.DefaultConditionsGroup}
	}
	wrapped := func([]any) (any, error) {
		b.tree.Filter.Add(func(item *itemtree.Item) bool {
			return fn(item, b, args)
		}, name)
		return nil, nil
	}
	return b.initialInvoker.Add(wrapped, name, groups, args...)
}

// RemoveCommand removes a command registered with AddProcedure or
// AddCondition from the given groups.
func (b *Batcher) RemoveCommand(id int, groups []string) error {
	return b.initialInvoker.Remove(id, groups)
}

// ReorderCommand moves a command registered with AddProcedure or
// AddCondition to the given position within a group.
func (b *Batcher) ReorderCommand(id, position int, group string) error {
	return b.initialInvoker.Reorder(id, position, group)
}

// Run processes every item of the tree matching the conditions with the
// configured procedures. The context cancels the run between items. A stop
// through the context or QueueStop returns a proc.CancelError.
func (b *Batcher) Run(ctx context.Context) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	b.runCtx = ctx

	if err := b.prepare(); err != nil {
		return err
	}

	if b.opts.ProcessContents {
		defer func() {
			cleanupErr := b.cleanupContentsPhase(err != nil)
			if err == nil {
				err = cleanupErr
			}
		}()
	}

	return b.processItems()
}

func (b *Batcher) prepare() error {
	if b.opts.RefreshTree {
		b.refresh()
	}
	b.tree.ResetFilter()

	b.currentItem = nil
	b.currentImage = nil
	b.currentLayer = nil
	b.currentProcedure = nil
	b.lastCondition = nil
	b.shouldStop.Store(false)

	b.matchingOrder = nil
	b.matchingAndParentsOrder = nil
	b.nextMatching = nil
	b.nextMatchingAndParents = nil
	b.imageCopies = nil
	b.exportedItems = nil
	b.origSelected = map[*magick.Image][]*magick.Layer{}

	b.skippedProcedures = map[string][]CommandEntry{}
	b.skippedConditions = map[string][]CommandEntry{}
	b.failedProcedures = map[string][]CommandEntry{}
	b.failedConditions = map[string][]CommandEntry{}

	b.invoker = invoke.NewInvoker()

	if err := b.addCommands(); err != nil {
		return err
	}
	if err := b.addNameOnlyCommands(); err != nil {
		return err
	}

	// Conditions are invoked exactly once per run; their invocation adds
	// the filter rules the item traversal applies.
	if err := b.invokeGroup(proc.DefaultConditionsGroup); err != nil {
		return err
	}

	b.progress.Reset()
	return nil
}

func (b *Batcher) addCommands() error {
	b.delegate.addRunHooks()

	b.invoker.AddInvoker(b.initialInvoker, b.initialInvoker.Groups(true))

	b.addDefaultRename([]string{proc.DefaultProceduresGroup})

	for _, spec := range b.opts.Procedures {
		if err := b.addProcedureFromSpec(spec, nil); err != nil {
			return err
		}
	}

	b.addDefaultExport([]string{proc.DefaultProceduresGroup})

	for _, spec := range b.opts.Conditions {
		if err := b.addConditionFromSpec(spec, nil); err != nil {
			return err
		}
	}
	return nil
}

// addNameOnlyCommands populates the name group invoked by previews: the
// default renaming and export plus those configured commands that take part
// in naming.
func (b *Batcher) addNameOnlyCommands() error {
	groups := []string{proc.NameGroup}

	b.addDefaultRename(groups)

	for _, spec := range b.opts.Procedures {
		if err := b.addProcedureFromSpec(spec, groups); err != nil {
			return err
		}
	}

	b.addDefaultExport(groups)

	for _, spec := range b.opts.Conditions {
		if err := b.addConditionFromSpec(spec, groups); err != nil {
			return err
		}
	}
	return nil
}

// addDefaultRename schedules the builtin renaming with the run's name
// pattern. Edit runs and runs without a pattern keep the original names.
func (b *Batcher) addDefaultRename(groups []string) {
	if b.opts.EditMode || b.opts.NamePattern == "" {
		return
	}
	p, ok := proc.LookupProcedure("rename")
	if !ok {
		return
	}
	fn := p.Func()
	b.invoker.Add(func(args []any) (any, error) {
		return fn(b, args[1:])
	}, "rename", groups, b.opts.NamePattern, true, false)
}

// addDefaultExport schedules the run's own export step. Edit runs write
// nothing unless a save command is configured.
func (b *Batcher) addDefaultExport(groups []string) {
	if b.opts.EditMode {
		return
	}
	exporter := export.New(b.opts.ExportOptions)
	b.invoker.Add(func(args []any) (any, error) {
		return exporter.Process(b, args[1:])
	}, "export", groups, b.opts.OutputDirectory, b.opts.FileExtension)
}

func (b *Batcher) addProcedureFromSpec(spec *proc.Spec, overrideGroups []string) error {
	if overrideGroups != nil && !nameOnlyCommands[spec.OrigName] {
		return nil
	}

	p, ok := proc.LookupProcedure(spec.OrigName)
	if !ok {
		return b.missingCommand(spec, kindProcedure)
	}

	fn := p.Func()
	groups := overrideGroups
	if groups == nil {
		groups = specGroups(spec, proc.DefaultProceduresGroup)
	}
	b.invoker.Add(b.wrapProcedure(spec, fn), spec.Name, groups)
	return nil
}

func (b *Batcher) addConditionFromSpec(spec *proc.Spec, overrideGroups []string) error {
	if overrideGroups != nil && !nameOnlyCommands[spec.OrigName] {
		return nil
	}

	c, ok := proc.LookupCondition(spec.OrigName)
	if !ok {
		return b.missingCommand(spec, kindCondition)
	}

	groups := overrideGroups
	if groups == nil {
		groups = specGroups(spec, proc.DefaultConditionsGroup)
	}
	b.invoker.Add(b.wrapCondition(spec, c.Fn), spec.Name, groups)
	return nil
}

func specGroups(spec *proc.Spec, fallback string) []string {
	if len(spec.Groups) > 0 {
		return spec.Groups
	}
	return []string{fallback}
}

// missingCommand handles a spec whose function is not registered: enabled
// specs record a failure and abort, disabled ones are dropped silently.
func (b *Batcher) missingCommand(spec *proc.Spec, kind commandKind) error {
	if !spec.Enabled {
		return nil
	}
	message := fmt.Sprintf("command %q is not registered", spec.OrigName)
	b.recordFailure(spec, kind, message, "")
	return &proc.CommandError{Command: spec.Name, Message: message}
}

// wrapProcedure turns a configured spec into an invoker action: the enabled
// state is checked, placeholder arguments are resolved against the live run
// and skips and failures are recorded.
func (b *Batcher) wrapProcedure(spec *proc.Spec, fn proc.ProcedureFunc) invoke.Func {
	return func([]any) (any, error) {
		if !b.commandEnabled(spec) {
			return false, nil
		}
		b.currentProcedure = spec

		args, err := proc.ResolveArgs(b, spec.Args)
		if err != nil {
			return nil, b.commandFailure(spec, kindProcedure, err)
		}

		result, err := fn(b, args)
		if err != nil {
			return nil, b.commandFailure(spec, kindProcedure, err)
		}
		return result, nil
	}
}

// wrapCondition turns a configured condition spec into an invoker action
// that registers the condition as a filter rule on the tree.
func (b *Batcher) wrapCondition(spec *proc.Spec, fn proc.ConditionFunc) invoke.Func {
	return func([]any) (any, error) {
		if !b.commandEnabled(spec) {
			return false, nil
		}
		b.lastCondition = spec

		args, err := proc.ResolveArgs(b, spec.Args)
		if err != nil {
			return nil, b.commandFailure(spec, kindCondition, err)
		}

		rule := fn
		if spec.AlsoApplyToParentFolders {
			rule = applyToItemAndParents(fn)
		}
		b.tree.Filter.Add(func(item *itemtree.Item) bool {
			return rule(item, b, args)
		}, spec.OrigName)
		return nil, nil
	}
}

// applyToItemAndParents extends a condition to require the item and every
// ancestor folder to pass, nearest parent first.
func applyToItemAndParents(fn proc.ConditionFunc) proc.ConditionFunc {
	return func(item *itemtree.Item, ctx proc.Context, args []any) bool {
		if !fn(item, ctx, args) {
			return false
		}
		parents := item.Parents()
		for i := len(parents) - 1; i >= 0; i-- {
			if !fn(parents[i], ctx, args) {
				return false
			}
		}
		return true
	}
}

func (b *Batcher) commandEnabled(spec *proc.Spec) bool {
	if b.opts.IsPreview {
		return spec.Enabled && spec.EnabledForPreviews
	}
	return spec.Enabled
}

// commandFailure triages a command error: skips are recorded and swallowed,
// cancellations pass through, anything else is recorded and wrapped in a
// proc.CommandError aborting the run.
func (b *Batcher) commandFailure(spec *proc.Spec, kind commandKind, err error) error {
	var skip *proc.SkipError
	if errors.As(err, &skip) {
		b.recordSkip(spec, kind, skip.Message)
		return nil
	}

	var cancel *proc.CancelError
	if errors.As(err, &cancel) {
		return err
	}

	b.recordFailure(spec, kind, err.Error(), string(debug.Stack()))

	var cmdErr *proc.CommandError
	if errors.As(err, &cmdErr) {
		return err
	}
	return &proc.CommandError{
		Command:  spec.Name,
		ItemName: b.currentItemName(),
		Message:  err.Error(),
		Err:      err,
	}
}

func (b *Batcher) recordSkip(spec *proc.Spec, kind commandKind, message string) {
	entry := CommandEntry{Item: b.currentItem, Message: message}
	if kind == kindProcedure {
		b.skippedProcedures[spec.Name] = append(b.skippedProcedures[spec.Name], entry)
	} else {
		b.skippedConditions[spec.Name] = append(b.skippedConditions[spec.Name], entry)
	}
	b.logger.Debug("command skipped",
		"command", spec.Name, "item", b.currentItemName(), "reason", message)
}

func (b *Batcher) recordFailure(spec *proc.Spec, kind commandKind, message, stack string) {
	entry := CommandEntry{Item: b.currentItem, Message: message, Stack: stack}
	if kind == kindProcedure {
		b.failedProcedures[spec.Name] = append(b.failedProcedures[spec.Name], entry)
	} else {
		b.failedConditions[spec.Name] = append(b.failedConditions[spec.Name], entry)
	}
	b.logger.Error("command failed",
		"command", spec.Name, "item", b.currentItemName(), "error", message)
}

func (b *Batcher) currentItemName() string {
	if b.currentItem == nil {
		return ""
	}
	return b.currentItem.Name
}

func (b *Batcher) processItems() error {
	b.computeMatchingItems()
	b.progress.SetTotal(len(b.matchingOrder))

	b.logger.Info("starting batch run",
		"matching_items", len(b.matchingOrder),
		"edit_mode", b.opts.EditMode,
		"preview", b.opts.IsPreview)

	if err := b.invokeGroup(proc.BeforeItemsGroup); err != nil {
		return err
	}
	if b.opts.ProcessContents {
		if err := b.invokeGroup(proc.BeforeItemsContentsGroup); err != nil {
			return err
		}
	}

	for _, item := range b.matchingOrder {
		if err := b.checkStop(); err != nil {
			return err
		}
		if b.opts.EditMode {
			b.progress.SetText(fmt.Sprintf("Processing %q", item.OrigName()))
		}
		if err := b.processItem(item); err != nil {
			return err
		}
	}

	if b.opts.ProcessContents {
		if err := b.invokeGroup(proc.AfterItemsContentsGroup); err != nil {
			return err
		}
	}
	if err := b.invokeGroup(proc.AfterItemsGroup); err != nil {
		return err
	}

	b.logger.Info("batch run finished", "processed_items", len(b.matchingOrder))
	return nil
}

// computeMatchingItems freezes the set of items passing the filter, their
// order, and the successor of each. Items added or removed mid-run do not
// change the set.
func (b *Batcher) computeMatchingItems() {
	visited := map[*itemtree.Item]bool{}
	var withParents []*itemtree.Item
	var matching []*itemtree.Item

	for _, item := range b.tree.List(itemtree.IterOptions{}) {
		for _, parent := range item.Parents() {
			if !visited[parent] {
				withParents = append(withParents, parent)
				visited[parent] = true
			}
		}
		withParents = append(withParents, item)
		matching = append(matching, item)
	}

	b.matchingOrder = matching
	b.matchingAndParentsOrder = withParents
	b.nextMatching = nextItemMap(matching)
	b.nextMatchingAndParents = nextItemMap(withParents)
}

// nextItemMap maps every item to its successor in the slice, the last one
// to nil.
func nextItemMap(items []*itemtree.Item) map[*itemtree.Item]*itemtree.Item {
	next := make(map[*itemtree.Item]*itemtree.Item, len(items))
	for i, item := range items {
		if i+1 < len(items) {
			next[item] = items[i+1]
		} else {
			next[item] = nil
		}
	}
	return next
}

func (b *Batcher) checkStop() error {
	if b.shouldStop.Load() || b.runCtx.Err() != nil {
		return &proc.CancelError{Message: "stopped by user"}
	}
	return nil
}

func (b *Batcher) processItem(item *itemtree.Item) error {
	b.currentItem = item
	b.currentImage = b.delegate.initialImage()
	b.currentLayer = b.delegate.initialLayer()

	b.logger.Debug("processing item", "item", item.Name)

	if b.opts.IsPreview && b.opts.ProcessNames {
		if err := b.processItemNameOnly(); err != nil {
			return err
		}
	}
	if b.opts.ProcessContents {
		if err := b.delegate.processItemContents(); err != nil {
			return err
		}
	}

	b.progress.Advance()
	return nil
}

func (b *Batcher) processItemNameOnly() error {
	if err := b.invokeGroup(proc.BeforeItemGroup); err != nil {
		return err
	}
	if err := b.invokeGroup(proc.NameGroup); err != nil {
		return err
	}
	return b.invokeGroup(proc.AfterItemGroup)
}

// runItemGroups applies the bracketing hooks and the procedure group to the
// current item. The caller has set up the current image and layer.
func (b *Batcher) runItemGroups() error {
	b.stashSelectedLayers()

	if err := b.invokeGroup(proc.BeforeItemGroup); err != nil {
		return err
	}
	if b.opts.ProcessContents {
		if err := b.invokeGroup(proc.BeforeItemContentsGroup); err != nil {
			return err
		}
	}
	if err := b.invokeGroup(proc.DefaultProceduresGroup); err != nil {
		return err
	}
	if b.opts.ProcessContents {
		if err := b.invokeGroup(proc.AfterItemContentsGroup); err != nil {
			return err
		}
	}
	if err := b.invokeGroup(proc.AfterItemGroup); err != nil {
		return err
	}

	if !b.opts.EditMode && !b.opts.KeepImageCopies {
		b.removeImageCopies()
	}
	return nil
}

func (b *Batcher) invokeGroup(group string) error {
	return b.invoker.Invoke([]string{group}, []any{b}, 0)
}

// addSelectLayerHooks registers the layer re-selection around every
// procedure: once ahead of the item's procedures and again after each
// procedure that reports it ran.
func (b *Batcher) addSelectLayerHooks() {
	b.invoker.Add(func([]any) (any, error) {
		b.selectCurrentLayer()
		return nil, nil
	}, "select_current_layer", []string{proc.DefaultProceduresGroup})

	b.invoker.AddHook(invoke.Hook{
		After: func(_ []any, result any) error {
			if ran, ok := result.(bool); ok && !ran {
				return nil
			}
			b.selectCurrentLayer()
			return nil
		},
	}, "select_current_layer_after_command", []string{proc.DefaultProceduresGroup})
}

// selectCurrentLayer re-selects the current layer in the current image.
// When a procedure removed it, the first selected layer is adopted instead,
// falling back to the topmost one.
func (b *Batcher) selectCurrentLayer() {
	img := b.currentImage
	if !img.IsValid() {
		return
	}

	if layerInImage(img, b.currentLayer) {
		img.Selected = []*magick.Layer{b.currentLayer}
		return
	}

	if len(img.Selected) == 0 {
		return
	}
	if selected := img.Selected[0]; layerInImage(img, selected) {
		b.currentLayer = selected
	} else if len(img.Layers) > 0 {
		b.currentLayer = img.Layers[0]
		img.Selected = []*magick.Layer{img.Layers[0]}
	}
}

// stashSelectedLayers remembers the layer selection of an image edited in
// place so cleanup can restore it.
func (b *Batcher) stashSelectedLayers() {
	if !b.opts.EditMode || b.opts.IsPreview || b.currentImage == nil {
		return
	}
	if _, ok := b.origSelected[b.currentImage]; ok {
		return
	}
	b.origSelected[b.currentImage] = append([]*magick.Layer(nil), b.currentImage.Selected...)
}

func (b *Batcher) removeImageCopies() {
	for _, img := range b.imageCopies {
		if img.IsValid() {
			img.Destroy()
		}
	}
	b.imageCopies = nil
}

func (b *Batcher) cleanupContentsPhase(errOccurred bool) error {
	err := b.invokeGroup(proc.CleanupContentsGroup)

	b.delegate.cleanupContents(errOccurred)

	if afterErr := b.invokeGroup(proc.AfterCleanupContentsGroup); err == nil {
		err = afterErr
	}

	b.currentItem = nil
	b.currentImage = nil
	b.currentLayer = nil
	b.currentProcedure = nil
	b.lastCondition = nil
	return err
}

// finishContents destroys the per-item copies or, for edit runs, restores
// the layer selections recorded at the start.
func (b *Batcher) finishContents(errOccurred bool) {
	if !b.opts.EditMode || b.opts.IsPreview {
		if !b.opts.KeepImageCopies || errOccurred {
			b.removeImageCopies()
		}
		return
	}

	for img, selected := range b.origSelected {
		if !img.IsValid() {
			continue
		}
		var kept []*magick.Layer
		for _, l := range selected {
			if layerInImage(img, l) {
				kept = append(kept, l)
			}
		}
		if len(kept) > 0 {
			img.Selected = kept
		}
	}
}

// itemLayer resolves an item to its layer, preferring the processed copy
// in Raw.
func itemLayer(item *itemtree.Item) *magick.Layer {
	if item == nil {
		return nil
	}
	if l, ok := item.Raw.(*magick.Layer); ok {
		return l
	}
	if o, ok := item.Object().(itemtree.LayerObject); ok {
		return o.Layer()
	}
	return nil
}

func layerInImage(img *magick.Image, layer *magick.Layer) bool {
	if layer == nil {
		return false
	}
	for _, l := range img.AllLayers() {
		if l == layer {
			return true
		}
	}
	return false
}
