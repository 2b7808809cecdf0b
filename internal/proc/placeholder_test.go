package proc

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchwand/internal/invoke"
	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/overwrite"
)

type fakeContext struct {
	item            *itemtree.Item
	image           *magick.Image
	layer           *magick.Layer
	background      *magick.Layer
	backgroundErr   error
	foreground      *magick.Layer
	foregroundErr   error
	tree            *itemtree.Tree
	invoker         *invoke.Invoker
	matching        []*itemtree.Item
	matchingParents []*itemtree.Item
	exported        []*itemtree.Item
	outputDir       string
	fileExt         string
	chooser         overwrite.Chooser
	editMode        bool
	preview         bool
	processNames    bool
	processExport   bool
}

func (c *fakeContext) CurrentItem() *itemtree.Item { return c.item }
func (c *fakeContext) CurrentImage() *magick.Image { return c.image }
func (c *fakeContext) CurrentLayer() *magick.Layer { return c.layer }
func (c *fakeContext) SetCurrentLayer(l *magick.Layer) { c.layer = l }

func (c *fakeContext) BackgroundLayer() (*magick.Layer, error) {
	return c.background, c.backgroundErr
}

func (c *fakeContext) ForegroundLayer() (*magick.Layer, error) {
	return c.foreground, c.foregroundErr
}

func (c *fakeContext) Tree() *itemtree.Tree { return c.tree }
func (c *fakeContext) Invoker() *invoke.Invoker { return c.invoker }
func (c *fakeContext) MatchingItems() []*itemtree.Item { return c.matching }
func (c *fakeContext) MatchingItemsAndParents() []*itemtree.Item { return c.matchingParents }

func (c *fakeContext) NextMatchingItem(item *itemtree.Item) *itemtree.Item {
	for i, cur := range c.matching {
		if cur == item && i+1 < len(c.matching) {
			return c.matching[i+1]
		}
	}
	return nil
}

func (c *fakeContext) AddExportedItem(item *itemtree.Item) {
	c.exported = append(c.exported, item)
}

func (c *fakeContext) CreateCopy(image *magick.Image, layer *magick.Layer) (*magick.Image, *magick.Layer) {
	if image == nil {
		return nil, nil
	}
	return image.Duplicate(), nil
}

func (c *fakeContext) SetProgressText(text string) {}

func (c *fakeContext) OutputDirectory() string { return c.outputDir }
func (c *fakeContext) FileExtension() string { return c.fileExt }
func (c *fakeContext) OverwriteChooser() overwrite.Chooser { return c.chooser }
func (c *fakeContext) EditMode() bool { return c.editMode }
func (c *fakeContext) IsPreview() bool { return c.preview }
func (c *fakeContext) ProcessNames() bool { return c.processNames }
func (c *fakeContext) ProcessExport() bool { return c.processExport }

func (c *fakeContext) Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveLiteral(t *testing.T) {
	v, err := Literal(42).Resolve(&fakeContext{})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.False(t, Literal("text").IsPlaceholder())
	assert.True(t, Arg{Placeholder: CurrentImage}.IsPlaceholder())
}

func TestResolveCurrentImageAndLayer(t *testing.T) {
	img := magick.NewImage("test", 10, 10)
	layer := magick.NewLayer("layer")
	ctx := &fakeContext{image: img, layer: layer}

	v, err := Arg{Placeholder: CurrentImage}.Resolve(ctx)
	require.NoError(t, err)
	assert.Same(t, img, v)

	v, err = Arg{Placeholder: CurrentLayer}.Resolve(ctx)
	require.NoError(t, err)
	assert.Same(t, layer, v)
}

func TestResolveOutputDirectory(t *testing.T) {
	ctx := &fakeContext{outputDir: "/tmp/out"}

	v, err := Arg{Placeholder: OutputDirectory}.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/out", v)
}

func TestResolveAllTopLevelLayersCopiesSlice(t *testing.T) {
	img := magick.NewImage("test", 10, 10)
	img.Layers = []*magick.Layer{magick.NewLayer("a"), magick.NewLayer("b")}
	ctx := &fakeContext{image: img}

	v, err := Arg{Placeholder: AllTopLevelLayers}.Resolve(ctx)
	require.NoError(t, err)

	layers, ok := v.([]*magick.Layer)
	require.True(t, ok)
	assert.Equal(t, img.Layers, layers)

	layers[0] = nil
	assert.NotNil(t, img.Layers[0])
}

func TestResolveAllTopLevelLayersWithoutImage(t *testing.T) {
	v, err := Arg{Placeholder: AllTopLevelLayers}.Resolve(&fakeContext{})
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestResolveBackgroundPassesSkipThrough(t *testing.T) {
	ctx := &fakeContext{backgroundErr: Skip("there are no background layers")}

	_, err := Arg{Placeholder: BackgroundLayer}.Resolve(ctx)
	var skip *SkipError
	require.ErrorAs(t, err, &skip)
}

func TestResolveUnsupportedFails(t *testing.T) {
	_, err := Arg{Placeholder: Unsupported}.Resolve(&fakeContext{})
	assert.Error(t, err)
}

func TestResolveUnknownPlaceholderFails(t *testing.T) {
	_, err := Arg{Placeholder: "no_such_thing"}.Resolve(&fakeContext{})
	assert.Error(t, err)
}

func TestResolveArgs(t *testing.T) {
	layer := magick.NewLayer("layer")
	ctx := &fakeContext{layer: layer, outputDir: "/out"}

	args, err := ResolveArgs(ctx, []Arg{
		{Placeholder: CurrentLayer},
		Literal(3.5),
		{Placeholder: OutputDirectory},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{layer, 3.5, "/out"}, args)

	_, err = ResolveArgs(ctx, []Arg{Literal(1), {Placeholder: Unsupported}})
	assert.Error(t, err)
}

func TestLookupPlaceholder(t *testing.T) {
	p, ok := LookupPlaceholder("current_image")
	assert.True(t, ok)
	assert.Equal(t, CurrentImage, p)

	_, ok = LookupPlaceholder("current_banana")
	assert.False(t, ok)
}
