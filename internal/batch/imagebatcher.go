package batch

import (
	"os"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
)

// ImageBatcher processes image files: each matching item names a file on
// disk that is loaded, run through the procedures and exported.
type ImageBatcher struct {
	Batcher

	// shouldLoadImage is set while the current item's image was loaded
	// from disk rather than supplied upfront.
	shouldLoadImage bool
}

var _ delegate = (*ImageBatcher)(nil)

// NewImageBatcher returns a batcher over a file tree.
func NewImageBatcher(tree *itemtree.FileTree, opts Options) *ImageBatcher {
	ib := &ImageBatcher{}
	ib.init(&tree.Tree, tree.Refresh, opts, ib)
	return ib
}

func (ib *ImageBatcher) initialImage() *magick.Image {
	if img, ok := ib.currentItem.Raw.(*magick.Image); ok {
		return img
	}
	return nil
}

func (ib *ImageBatcher) initialLayer() *magick.Layer { return nil }

func (ib *ImageBatcher) addRunHooks() {
	ib.addSelectLayerHooks()
}

func (ib *ImageBatcher) processItemContents() error {
	ib.shouldLoadImage = ib.currentImage == nil

	if !ib.opts.EditMode || ib.opts.IsPreview {
		if ib.shouldLoadImage {
			loaded, err := ib.loadItemImage()
			if err != nil {
				return err
			}
			ib.currentImage = loaded
			// The loaded image doubles as the working copy; later
			// commands reading the item find it in Raw.
			ib.currentItem.Raw = loaded
			ib.imageCopies = append(ib.imageCopies, loaded)
		} else {
			copied, _ := ib.createCopy(ib.currentImage, nil)
			ib.currentImage = copied
			if copied != nil {
				ib.imageCopies = append(ib.imageCopies, copied)
			}
		}
	}

	ib.currentLayer = currentLayerOf(ib.currentImage)

	var err error
	if ib.currentImage != nil {
		err = ib.runItemGroups()
	}

	if ib.shouldLoadImage {
		ib.currentItem.Raw = nil
	}
	ib.currentImage = nil
	ib.currentLayer = nil
	return err
}

func (ib *ImageBatcher) loadItemImage() (*magick.Image, error) {
	path := ib.currentItem.ID()

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return nil, &FileLoadError{Message: "file not found", Path: path}
	}

	img, err := magick.LoadImage(path)
	if err != nil {
		return nil, &FileLoadError{Message: "cannot load image", Path: path, Err: err}
	}
	return img, nil
}

// currentLayerOf picks the layer procedures start on: the only layer, the
// first selected one, or the topmost.
func currentLayerOf(img *magick.Image) *magick.Layer {
	if !img.IsValid() || len(img.Layers) == 0 {
		return nil
	}
	if len(img.Layers) == 1 {
		return img.Layers[0]
	}
	if len(img.Selected) > 0 {
		if layerInImage(img, img.Selected[0]) {
			return img.Selected[0]
		}
		return nil
	}
	return img.Layers[0]
}

func (ib *ImageBatcher) createCopy(image *magick.Image, _ *magick.Layer) (*magick.Image, *magick.Layer) {
	if image == nil {
		return nil, nil
	}
	return image.Duplicate(), nil
}

func (ib *ImageBatcher) cleanupContents(errOccurred bool) {
	ib.finishContents(errOccurred)

	if ib.shouldLoadImage {
		if ib.currentItem != nil {
			ib.currentItem.Raw = nil
		}
		ib.shouldLoadImage = false
	}
}
