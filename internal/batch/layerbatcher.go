package batch

import (
	"batchwand/internal/invoke"
	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/proc"
)

// LayerBatcher processes the layers of opened images: each matching item is
// a layer, copied into its own image for processing unless the run edits
// the images in place.
type LayerBatcher struct {
	Batcher

	layers *itemtree.LayerTree

	// layerImages maps layers back to their owning image, rebuilt lazily
	// when a layer is not found.
	layerImages map[*magick.Layer]*magick.Image

	stashedLocks map[*magick.Layer]bool
}

var _ delegate = (*LayerBatcher)(nil)

// NewLayerBatcher returns a batcher over a layer tree.
func NewLayerBatcher(tree *itemtree.LayerTree, opts Options) *LayerBatcher {
	lb := &LayerBatcher{layers: tree}
	lb.init(&tree.Tree, tree.Refresh, opts, lb)
	return lb
}

func (lb *LayerBatcher) initialImage() *magick.Image {
	return lb.owningImage(itemLayer(lb.currentItem))
}

func (lb *LayerBatcher) initialLayer() *magick.Layer {
	return itemLayer(lb.currentItem)
}

func (lb *LayerBatcher) owningImage(layer *magick.Layer) *magick.Image {
	if layer == nil {
		return nil
	}
	if img, ok := lb.layerImages[layer]; ok {
		return img
	}

	lb.layerImages = map[*magick.Layer]*magick.Image{}
	for _, img := range lb.layers.Images() {
		for _, l := range img.AllLayers() {
			lb.layerImages[l] = img
		}
	}
	return lb.layerImages[layer]
}

func (lb *LayerBatcher) addRunHooks() {
	// Registered ahead of the selection hooks so the name is synced from
	// the layer the procedure worked on, not a re-selected one.
	lb.invoker.AddHook(invoke.Hook{
		After: func([]any, any) error {
			lb.syncItemNameFromLayer()
			return nil
		},
	}, "sync_item_name_and_layer_name", []string{proc.DefaultProceduresGroup})

	lb.addSelectLayerHooks()

	if lb.opts.EditMode {
		lb.invoker.AddHook(invoke.Hook{
			Before: func([]any) error {
				lb.stashLocks()
				return nil
			},
			After: func([]any, any) error {
				lb.restoreLocks()
				return nil
			},
		}, "preserve_layer_locks", []string{proc.DefaultProceduresGroup})
	}
}

func (lb *LayerBatcher) processItemContents() error {
	if !lb.opts.EditMode || lb.opts.IsPreview {
		imageCopy, layerCopy := lb.createCopy(lb.currentImage, lb.currentLayer)
		lb.currentImage = imageCopy
		lb.currentLayer = layerCopy
		if imageCopy != nil {
			lb.imageCopies = append(lb.imageCopies, imageCopy)
		}
	}

	var err error
	if lb.currentImage != nil {
		err = lb.runItemGroups()
	}

	lb.currentImage = nil
	lb.currentLayer = nil
	return err
}

// createCopy copies layer into a fresh single-layer image on image's
// canvas. Failures to copy leave the item without an image; its commands do
// not run.
func (lb *LayerBatcher) createCopy(image *magick.Image, layer *magick.Layer) (*magick.Image, *magick.Layer) {
	if image == nil || layer == nil {
		return nil, nil
	}
	imageCopy, err := image.NewFromLayer(layer)
	if err != nil {
		lb.logger.Error("failed to copy layer", "layer", layer.Name, "error", err)
		return nil, nil
	}
	return imageCopy, imageCopy.Layers[0]
}

// syncItemNameFromLayer carries a rename done by a procedure on the layer
// over to the item, keeping later naming steps consistent.
func (lb *LayerBatcher) syncItemNameFromLayer() {
	if !lb.opts.ProcessNames || lb.opts.IsPreview {
		return
	}
	if lb.currentItem == nil || lb.currentLayer == nil {
		return
	}
	lb.currentItem.Name = lb.currentLayer.Name
}

// stashLocks lifts the locks of the current layer and its enclosing groups
// for the duration of one procedure.
func (lb *LayerBatcher) stashLocks() {
	lb.stashedLocks = map[*magick.Layer]bool{}

	item := lb.currentItem
	if item == nil {
		return
	}
	for _, it := range append([]*itemtree.Item{item}, item.Parents()...) {
		if layer := itemLayer(it); layer != nil {
			lb.stashedLocks[layer] = layer.Locked
			layer.Locked = false
		}
	}
}

func (lb *LayerBatcher) restoreLocks() {
	for layer, locked := range lb.stashedLocks {
		if locked {
			layer.Locked = true
		}
	}
	lb.stashedLocks = nil
}

func (lb *LayerBatcher) cleanupContents(errOccurred bool) {
	lb.finishContents(errOccurred)
}
