// Package magick provides a layered image model on top of ImageMagick wands.
// Flat formats load as a single layer (or one layer per frame), OpenRaster
// files keep their full layer hierarchy.
package magick

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/gographics/imagick.v3/imagick"

	"batchwand/internal/ora"
)

var (
	initMu    sync.Mutex
	initCount int
)

// EnsureInitialized initializes the ImageMagick environment on first use.
// Every call must be paired with a Release call.
func EnsureInitialized() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		imagick.Initialize()
	}
	initCount++
}

// Release undoes one EnsureInitialized call, terminating the ImageMagick
// environment when the last reference is released.
func Release() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount == 0 {
		return
	}
	initCount--
	if initCount == 0 {
		imagick.Terminate()
	}
}

var layerIDCounter atomic.Int64

// Layer is a single layer or layer group of an Image. Non-group layers own
// one wand holding their pixel data; groups hold children only.
type Layer struct {
	id      int
	Name    string
	Visible bool
	Locked  bool
	Opacity float64
	OffsetX int
	OffsetY int
	Group   bool

	Children []*Layer
	Wand     *imagick.MagickWand
}

// NewLayer returns an empty visible layer with a fresh identifier.
func NewLayer(name string) *Layer {
	return &Layer{
		id:      int(layerIDCounter.Add(1)),
		Name:    name,
		Visible: true,
		Opacity: 1.0,
	}
}

// ID returns the process-unique identifier of this layer.
func (l *Layer) ID() int { return l.id }

func (l *Layer) Width() uint {
	if l.Wand == nil {
		return 0
	}
	return l.Wand.GetImageWidth()
}

func (l *Layer) Height() uint {
	if l.Wand == nil {
		return 0
	}
	return l.Wand.GetImageHeight()
}

// Clone returns a deep copy of the layer with a fresh identifier. Wands are
// cloned, so the copy is independent of the original.
func (l *Layer) Clone() *Layer {
	return l.cloneMapped(nil)
}

// cloneMapped clones the layer and, when mapping is non-nil, records which
// copy each original produced.
func (l *Layer) cloneMapped(mapping map[*Layer]*Layer) *Layer {
	c := NewLayer(l.Name)
	c.Visible = l.Visible
	c.Locked = l.Locked
	c.Opacity = l.Opacity
	c.OffsetX = l.OffsetX
	c.OffsetY = l.OffsetY
	c.Group = l.Group
	if l.Wand != nil {
		c.Wand = l.Wand.Clone()
	}
	for _, child := range l.Children {
		c.Children = append(c.Children, child.cloneMapped(mapping))
	}
	if mapping != nil {
		mapping[l] = c
	}
	return c
}

// Destroy releases the wands held by the layer and all its children.
func (l *Layer) Destroy() {
	if l.Wand != nil {
		l.Wand.Destroy()
		l.Wand = nil
	}
	for _, child := range l.Children {
		child.Destroy()
	}
}

// Image is a stack of layers with a canvas size, loaded from a file or
// assembled in memory.
type Image struct {
	Path   string
	Name   string
	Width  uint
	Height uint

	// Layers are ordered top-first.
	Layers []*Layer

	// Selected marks layers chosen for processing, if any.
	Selected []*Layer

	valid bool
}

// LoadImage loads the file at path. OpenRaster files keep their layer
// hierarchy; all other formats produce one layer per frame.
func LoadImage(path string) (*Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".ora") {
		return loadORA(path)
	}
	return loadFlat(path)
}

func loadFlat(path string) (*Image, error) {
	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImage(path); err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", path, err)
	}

	img := &Image{
		Path:  path,
		Name:  filepath.Base(path),
		valid: true,
	}

	base := filepath.Base(path)
	root := strings.TrimSuffix(base, filepath.Ext(base))

	n := int(mw.GetNumberImages())
	for i := 0; i < n; i++ {
		mw.SetIteratorIndex(i)
		frame := mw.GetImage()

		layer := NewLayer("")
		layer.Wand = frame
		if label := frame.GetImageProperty("label"); label != "" {
			layer.Name = label
		} else if n > 1 {
			layer.Name = fmt.Sprintf("%s #%d", root, i+1)
		} else {
			layer.Name = root
		}
		img.Layers = append(img.Layers, layer)
	}

	if len(img.Layers) > 0 {
		img.Width = img.Layers[0].Width()
		img.Height = img.Layers[0].Height()
	}
	return img, nil
}

func loadORA(path string) (*Image, error) {
	stack, err := ora.Read(path)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Path:   path,
		Name:   filepath.Base(path),
		Width:  uint(stack.Width),
		Height: uint(stack.Height),
		valid:  true,
	}

	img.Layers, err = layersFromORA(stack.Layers)
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return img, nil
}

func layersFromORA(oraLayers []*ora.Layer) ([]*Layer, error) {
	var layers []*Layer
	for _, ol := range oraLayers {
		l := NewLayer(ol.Name)
		l.Visible = ol.Visible
		l.Locked = ol.Locked
		l.Opacity = ol.Opacity
		l.OffsetX = ol.X
		l.OffsetY = ol.Y

		if ol.Group {
			l.Group = true
			children, err := layersFromORA(ol.Children)
			if err != nil {
				return layers, err
			}
			l.Children = children
		} else {
			wand := imagick.NewMagickWand()
			if err := wand.ReadImageBlob(ol.Data); err != nil {
				wand.Destroy()
				return layers, fmt.Errorf("failed to read layer %q: %w", ol.Name, err)
			}
			l.Wand = wand
		}
		layers = append(layers, l)
	}
	return layers, nil
}

// NewImage creates an empty image with the given canvas size.
func NewImage(name string, width, height uint) *Image {
	return &Image{Name: name, Width: width, Height: height, valid: true}
}

// IsValid reports whether the image has not been destroyed.
func (img *Image) IsValid() bool {
	return img != nil && img.valid
}

// Duplicate returns a deep copy of the image. The layer selection carries
// over to the corresponding copied layers.
func (img *Image) Duplicate() *Image {
	dup := NewImage(img.Name, img.Width, img.Height)
	dup.Path = img.Path

	mapping := map[*Layer]*Layer{}
	for _, l := range img.Layers {
		dup.Layers = append(dup.Layers, l.cloneMapped(mapping))
	}
	for _, sel := range img.Selected {
		if copied, ok := mapping[sel]; ok {
			dup.Selected = append(dup.Selected, copied)
		}
	}
	return dup
}

// Destroy releases all layer wands. The image is no longer valid afterwards.
func (img *Image) Destroy() {
	for _, l := range img.Layers {
		l.Destroy()
	}
	img.Layers = nil
	img.Selected = nil
	img.valid = false
}

// AllLayers returns all layers in depth-first, top-first order, including
// groups.
func (img *Image) AllLayers() []*Layer {
	var out []*Layer
	var walk func(layers []*Layer)
	walk = func(layers []*Layer) {
		for _, l := range layers {
			out = append(out, l)
			if l.Group {
				walk(l.Children)
			}
		}
	}
	walk(img.Layers)
	return out
}

// FindLayer returns the first layer with the given name, or nil.
func (img *Image) FindLayer(name string) *Layer {
	for _, l := range img.AllLayers() {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// InsertLayer inserts layer at the given top-level position, where 0 is the
// topmost layer. Positions past the end append at the bottom.
func (img *Image) InsertLayer(l *Layer, position int) {
	if position < 0 || position > len(img.Layers) {
		position = len(img.Layers)
	}
	img.Layers = append(img.Layers[:position], append([]*Layer{l}, img.Layers[position:]...)...)
}

// RemoveLayer detaches the layer from the image without destroying it.
// Only top-level layers can be removed.
func (img *Image) RemoveLayer(l *Layer) {
	for i, cur := range img.Layers {
		if cur == l {
			img.Layers = append(img.Layers[:i], img.Layers[i+1:]...)
			return
		}
	}
}
