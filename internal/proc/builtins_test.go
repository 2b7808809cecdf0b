package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchwand/internal/magick"
)

func TestFitDimensions(t *testing.T) {
	w, h := fitDimensions(200, 100, 100, 100)
	assert.Equal(t, [2]int{100, 50}, [2]int{w, h})

	w, h = fitDimensions(100, 200, 100, 100)
	assert.Equal(t, [2]int{50, 100}, [2]int{w, h})

	w, h = fitDimensions(100, 100, 300, 200)
	assert.Equal(t, [2]int{200, 200}, [2]int{w, h})

	w, h = fitDimensions(0, 0, 40, 40)
	assert.Equal(t, [2]int{40, 40}, [2]int{w, h})
}

func TestKeepAspect(t *testing.T) {
	w, h := keepAspect(AspectKeepWidth, 200, 100, 50, 999)
	assert.Equal(t, [2]int{50, 25}, [2]int{w, h})

	w, h = keepAspect(AspectKeepHeight, 200, 100, 999, 50)
	assert.Equal(t, [2]int{100, 50}, [2]int{w, h})
}

func TestDimensionToPixels(t *testing.T) {
	ctx := &fakeContext{image: magick.NewImage("test", 200, 100)}

	assert.Equal(t, 100, dimensionToPixels(ctx, 50, UnitPercent, true))
	assert.Equal(t, 50, dimensionToPixels(ctx, 50, UnitPercent, false))
	assert.Equal(t, 7, dimensionToPixels(ctx, 7.4, UnitPixels, true))
	assert.Equal(t, 0, dimensionToPixels(&fakeContext{}, 50, UnitPercent, true))
}

func TestScaleImageByPercent(t *testing.T) {
	img := magick.NewImage("test", 200, 100)
	layer := magick.NewLayer("base")
	layer.OffsetX, layer.OffsetY = 20, 10
	img.Layers = []*magick.Layer{layer}
	ctx := &fakeContext{image: img}

	_, err := scaleObject(ctx, []any{img, 50.0, 50.0, UnitPercent, AspectStretch})
	require.NoError(t, err)

	assert.Equal(t, uint(100), img.Width)
	assert.Equal(t, uint(50), img.Height)
	assert.Equal(t, 10, layer.OffsetX)
	assert.Equal(t, 5, layer.OffsetY)
}

func TestScaleImageFitWithPadding(t *testing.T) {
	img := magick.NewImage("test", 200, 100)
	layer := magick.NewLayer("base")
	img.Layers = []*magick.Layer{layer}
	ctx := &fakeContext{image: img}

	_, err := scaleObject(ctx, []any{img, 100.0, 100.0, UnitPixels, AspectFitWithPadding})
	require.NoError(t, err)

	assert.Equal(t, uint(100), img.Width)
	assert.Equal(t, uint(100), img.Height)
	assert.Equal(t, 0, layer.OffsetX)
	assert.Equal(t, 25, layer.OffsetY)
}

func TestScaleRejectsUnknownObject(t *testing.T) {
	_, err := scaleObject(&fakeContext{}, []any{"not an image", 1.0, 1.0, UnitPixels, AspectStretch})
	assert.Error(t, err)
}

func TestCropImageShiftsOffsets(t *testing.T) {
	img := magick.NewImage("test", 300, 200)
	layer := magick.NewLayer("base")
	layer.OffsetX, layer.OffsetY = 50, 60
	img.Layers = []*magick.Layer{layer}

	_, err := cropToArea(&fakeContext{image: img}, []any{img, 40, 30, 100, 100})
	require.NoError(t, err)

	assert.Equal(t, uint(100), img.Width)
	assert.Equal(t, uint(100), img.Height)
	assert.Equal(t, 10, layer.OffsetX)
	assert.Equal(t, 30, layer.OffsetY)
}

func TestResizeCanvasToLayerBounds(t *testing.T) {
	img := magick.NewImage("test", 300, 200)
	l1 := magick.NewLayer("a")
	l1.OffsetX, l1.OffsetY = 10, 20
	l2 := magick.NewLayer("b")
	l2.OffsetX, l2.OffsetY = 50, 80
	img.Layers = []*magick.Layer{l1, l2}

	_, err := resizeCanvas(&fakeContext{image: img}, []any{[]*magick.Layer{l1, l2}})
	require.NoError(t, err)

	assert.Equal(t, uint(40), img.Width)
	assert.Equal(t, uint(60), img.Height)
	assert.Equal(t, 0, l1.OffsetX)
	assert.Equal(t, 0, l1.OffsetY)
	assert.Equal(t, 40, l2.OffsetX)
	assert.Equal(t, 60, l2.OffsetY)
}

func TestRenameNumbersItemsAcrossCalls(t *testing.T) {
	_, items := fileItems(t)
	fn := newRenameProcedure()
	ctx := &fakeContext{}

	var names []string
	for _, name := range []string{"photo.png", "scan.CR2", "notes.txt"} {
		ctx.item = items[name]
		_, err := fn(ctx, []any{"img[001]", true, false})
		require.NoError(t, err)
		names = append(names, ctx.item.Name)
	}
	assert.Equal(t, []string{"img001", "img002", "img003"}, names)
}

func TestRenameSyncsLayerName(t *testing.T) {
	items := layerItems(t)
	item := items["top"]
	layer := itemLayer(item)
	require.NotNil(t, layer)

	fn := newRenameProcedure()
	ctx := &fakeContext{item: item, processNames: true}
	_, err := fn(ctx, []any{"renamed", true, false})
	require.NoError(t, err)

	assert.Equal(t, "renamed", item.Name)
	assert.Equal(t, "renamed", layer.Name)
}

func TestRenamePreviewLeavesLayerAlone(t *testing.T) {
	items := layerItems(t)
	item := items["hidden"]
	layer := itemLayer(item)
	require.NotNil(t, layer)

	fn := newRenameProcedure()
	ctx := &fakeContext{item: item, processNames: true, preview: true}
	_, err := fn(ctx, []any{"renamed", true, false})
	require.NoError(t, err)

	assert.Equal(t, "renamed", item.Name)
	assert.Equal(t, "hidden", layer.Name)
}

func TestRemoveFolderStructure(t *testing.T) {
	items := layerItems(t)
	item := items["inner"]
	require.Equal(t, 1, item.Depth())

	_, err := removeFolderStructure(&fakeContext{item: item}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Depth())
}

func TestEachLayerDispatch(t *testing.T) {
	group := magick.NewLayer("group")
	group.Group = true
	group.Children = []*magick.Layer{magick.NewLayer("a"), magick.NewLayer("b")}

	var visited int
	count := func(*magick.Layer) error { visited++; return nil }

	// Layers without a wand carry no pixels and are skipped.
	require.NoError(t, eachLayer(group, count))
	assert.Equal(t, 0, visited)

	assert.Error(t, eachLayer(42, count))
}

func TestLayersArgForms(t *testing.T) {
	l := magick.NewLayer("a")
	img := magick.NewImage("test", 10, 10)
	img.Layers = []*magick.Layer{l}

	assert.Equal(t, []*magick.Layer{l}, layersArg([]any{l}, 0))
	assert.Equal(t, []*magick.Layer{l}, layersArg([]any{[]*magick.Layer{l}}, 0))
	assert.Equal(t, []*magick.Layer{l}, layersArg([]any{img}, 0))
	assert.Nil(t, layersArg([]any{"nope"}, 0))
	assert.Nil(t, layersArg(nil, 0))
}

func TestArgExtractors(t *testing.T) {
	assert.Equal(t, 2.0, floatArg([]any{2}, 0))
	assert.Equal(t, 2.5, floatArg([]any{2.5}, 0))
	assert.Equal(t, 0.0, floatArg([]any{"x"}, 0))

	assert.Equal(t, 3, intArg([]any{3}, 0))
	assert.Equal(t, 3, intArg([]any{2.6}, 0))
	assert.Equal(t, 0, intArg(nil, 5))

	assert.Equal(t, "s", stringArg([]any{"s"}, 0))
	assert.Equal(t, "", stringArg([]any{7}, 0))

	assert.True(t, boolArg([]any{true}, 0))
	assert.False(t, boolArg([]any{"true"}, 0))
}
