package magick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLayerAssignsUniqueIDs(t *testing.T) {
	a := NewLayer("a")
	b := NewLayer("b")

	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, a.Visible)
	assert.Equal(t, 1.0, a.Opacity)
	assert.Equal(t, uint(0), a.Width())
	assert.Equal(t, uint(0), a.Height())
}

func TestLayerCloneCopiesChildren(t *testing.T) {
	group := NewLayer("group")
	group.Group = true
	group.Children = []*Layer{NewLayer("inner")}

	clone := group.Clone()
	clone.Name = "copy"
	clone.Children[0].Name = "changed"

	assert.Equal(t, "group", group.Name)
	assert.Equal(t, "inner", group.Children[0].Name)
	require.Len(t, clone.Children, 1)
	assert.Equal(t, "changed", clone.Children[0].Name)
}

func stackedImage() (*Image, *Layer, *Layer, *Layer) {
	img := NewImage("stack", 100, 100)
	top := NewLayer("top")
	group := NewLayer("group")
	group.Group = true
	inner := NewLayer("inner")
	group.Children = []*Layer{inner}
	img.Layers = []*Layer{top, group}
	return img, top, group, inner
}

func TestAllLayersDepthFirst(t *testing.T) {
	img, top, group, inner := stackedImage()

	assert.Equal(t, []*Layer{top, group, inner}, img.AllLayers())
}

func TestFindLayer(t *testing.T) {
	img, _, _, inner := stackedImage()

	assert.Same(t, inner, img.FindLayer("inner"))
	assert.Nil(t, img.FindLayer("missing"))
}

func TestInsertLayerPositions(t *testing.T) {
	img := NewImage("stack", 10, 10)
	a := NewLayer("a")
	b := NewLayer("b")
	img.Layers = []*Layer{a, b}

	mid := NewLayer("mid")
	img.InsertLayer(mid, 1)
	assert.Equal(t, []*Layer{a, mid, b}, img.Layers)

	bottom := NewLayer("bottom")
	img.InsertLayer(bottom, 99)
	assert.Equal(t, []*Layer{a, mid, b, bottom}, img.Layers)

	topmost := NewLayer("topmost")
	img.InsertLayer(topmost, 0)
	assert.Same(t, topmost, img.Layers[0])
}

func TestRemoveLayerDetachesWithoutDestroy(t *testing.T) {
	img, top, group, inner := stackedImage()

	img.RemoveLayer(top)
	assert.Equal(t, []*Layer{group}, img.Layers)

	// Nested layers cannot be removed from the top level.
	img.RemoveLayer(inner)
	assert.Equal(t, []*Layer{group}, img.Layers)
}

func TestImageDestroyInvalidates(t *testing.T) {
	img, _, _, _ := stackedImage()
	require.True(t, img.IsValid())

	img.Destroy()
	assert.False(t, img.IsValid())
	assert.Empty(t, img.Layers)
	assert.False(t, (*Image)(nil).IsValid())
}

func TestScaleToAdjustsOffsetsAndCanvas(t *testing.T) {
	img := NewImage("scale", 200, 100)
	layer := NewLayer("base")
	layer.OffsetX, layer.OffsetY = 40, 30
	img.Layers = []*Layer{layer}

	require.NoError(t, img.ScaleTo(100, 50))
	assert.Equal(t, uint(100), img.Width)
	assert.Equal(t, uint(50), img.Height)
	assert.Equal(t, 20, layer.OffsetX)
	assert.Equal(t, 15, layer.OffsetY)
}

func TestScaleToEmptyCanvasJustSetsSize(t *testing.T) {
	img := NewImage("empty", 0, 0)

	require.NoError(t, img.ScaleTo(64, 64))
	assert.Equal(t, uint(64), img.Width)
	assert.Equal(t, uint(64), img.Height)
}

func TestResizeCanvasToShiftsTopLevelLayers(t *testing.T) {
	img, top, group, inner := stackedImage()
	top.OffsetX, top.OffsetY = 5, 5
	inner.OffsetX, inner.OffsetY = 7, 7

	img.ResizeCanvasTo(50, 60, 10, -5)

	assert.Equal(t, uint(50), img.Width)
	assert.Equal(t, uint(60), img.Height)
	assert.Equal(t, 15, top.OffsetX)
	assert.Equal(t, 0, top.OffsetY)
	assert.Equal(t, 10, group.OffsetX)
	assert.Equal(t, 7, inner.OffsetX)
}

func TestCropToAreaShiftsPixellessLayers(t *testing.T) {
	img, top, group, _ := stackedImage()
	top.OffsetX, top.OffsetY = 50, 60

	require.NoError(t, img.CropToArea(40, 30, 30, 30))

	assert.Equal(t, uint(30), img.Width)
	assert.Equal(t, uint(30), img.Height)
	assert.Equal(t, 10, top.OffsetX)
	assert.Equal(t, 30, top.OffsetY)
	assert.Equal(t, -40, group.OffsetX)
	assert.Equal(t, -30, group.OffsetY)
}
