package itemtree

import (
	"strconv"

	"batchwand/internal/magick"
)

// LayerObject adapts a magick.Layer to the Object interface. Layer groups
// are inserted twice, as a folder holding their children and as a group
// item acting as a single merged layer.
type LayerObject struct {
	layer *magick.Layer
}

func NewLayerObject(layer *magick.Layer) LayerObject {
	return LayerObject{layer: layer}
}

// Layer returns the wrapped layer.
func (o LayerObject) Layer() *magick.Layer { return o.layer }

func (o LayerObject) ID() string { return strconv.Itoa(o.layer.ID()) }

func (o LayerObject) Name() string { return o.layer.Name }

func (o LayerObject) Kind() Kind {
	if o.layer.Group {
		return KindGroup
	}
	return KindItem
}

func (o LayerObject) Children() []Object {
	if !o.layer.Group {
		return nil
	}
	children := make([]Object, 0, len(o.layer.Children))
	for _, child := range o.layer.Children {
		children = append(children, NewLayerObject(child))
	}
	return children
}

// LayerTree is a Tree over the layers of one or more images. Layer groups
// appear both as folders and as single merged items.
type LayerTree struct {
	Tree

	images []*magick.Image
}

// NewLayerTree returns an empty layer tree.
func NewLayerTree() *LayerTree {
	return &LayerTree{Tree: *NewTree()}
}

// Images returns the images whose layers populate the tree. Refresh
// re-derives the tree from these.
func (t *LayerTree) Images() []*magick.Image {
	return t.images
}

// AddFromImage adds all layers of the image to the tree.
func (t *LayerTree) AddFromImage(img *magick.Image) ([]*Item, error) {
	t.images = append(t.images, img)
	return t.Add(layerObjects(img), nil)
}

// Refresh removes all items and re-adds the layers of every image that is
// still valid. Destroyed images are dropped.
func (t *LayerTree) Refresh() {
	t.Clear()

	valid := t.images[:0]
	for _, img := range t.images {
		if img.IsValid() {
			valid = append(valid, img)
		}
	}
	t.images = valid

	for _, img := range t.images {
		_, _ = t.Add(layerObjects(img), nil)
	}
}

func layerObjects(img *magick.Image) []Object {
	objects := make([]Object, 0, len(img.Layers))
	for _, l := range img.Layers {
		objects = append(objects, NewLayerObject(l))
	}
	return objects
}
