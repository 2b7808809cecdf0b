package batch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/proc"
)

func layerTreeOver(t *testing.T, img *magick.Image) *itemtree.LayerTree {
	t.Helper()
	tree := itemtree.NewLayerTree()
	_, err := tree.AddFromImage(img)
	require.NoError(t, err)
	return tree
}

func TestLayerBatcherExportsEachLayer(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "out")
	img := newTestImage("art", "fg", "bg")
	tree := layerTreeOver(t, img)

	var written []string
	opts := DefaultOptions()
	opts.OutputDirectory = outDir
	opts.NamePattern = "[layer name]"
	opts.ExportOptions.Writer = captureWriter(&written)

	b := NewLayerBatcher(tree, opts)
	require.NoError(t, b.Run(context.Background()))

	assert.Equal(t, []string{
		filepath.Join(outDir, "fg.png"),
		filepath.Join(outDir, "bg.png"),
	}, written)
	assert.Len(t, b.ExportedItems(), 2)

	// The source image is untouched; every layer was copied into its own
	// image for processing.
	require.Len(t, img.Layers, 2)
	assert.Equal(t, "fg", img.Layers[0].Name)
	assert.Equal(t, "bg", img.Layers[1].Name)
	assert.Empty(t, b.ImageCopies())
}

func TestLayerBatcherSyncsLayerRenameToItem(t *testing.T) {
	proc.RegisterProcedure(&proc.Procedure{
		Name: "tag_layer",
		Fn: func(ctx proc.Context, _ []any) (any, error) {
			ctx.CurrentLayer().Name = "tagged_" + ctx.CurrentLayer().Name
			return nil, nil
		},
	})
	spec, err := proc.NewProcedureSpec("tag_layer")
	require.NoError(t, err)

	outDir := filepath.Join(t.TempDir(), "out")
	img := newTestImage("art", "fg", "bg")
	tree := layerTreeOver(t, img)

	var written []string
	opts := DefaultOptions()
	opts.OutputDirectory = outDir
	opts.ExportOptions.Writer = captureWriter(&written)
	opts.Procedures = []*proc.Spec{spec}

	b := NewLayerBatcher(tree, opts)
	require.NoError(t, b.Run(context.Background()))

	// The rename applied to the copied layer carries over to the item and
	// into the output name, while the original layers keep their names.
	assert.Equal(t, []string{
		filepath.Join(outDir, "tagged_fg.png"),
		filepath.Join(outDir, "tagged_bg.png"),
	}, written)
	assert.Equal(t, []string{"tagged_fg", "tagged_bg"},
		itemNames(tree.List(itemtree.IterOptions{})))
	assert.Equal(t, "fg", img.Layers[0].Name)
	assert.Equal(t, "bg", img.Layers[1].Name)
}

func TestLayerBatcherEditModeLiftsLocksDuringProcessing(t *testing.T) {
	inner := magick.NewLayer("inner")
	inner.Locked = true
	group := magick.NewLayer("set")
	group.Group = true
	group.Locked = true
	group.Children = []*magick.Layer{inner}
	solo := magick.NewLayer("solo")

	img := magick.NewImage("art", 64, 64)
	img.Layers = []*magick.Layer{solo, group}

	type lockState struct {
		layer       string
		locked      bool
		groupLocked bool
	}
	var observed []lockState
	proc.RegisterProcedure(&proc.Procedure{
		Name: "observe_locks",
		Fn: func(ctx proc.Context, _ []any) (any, error) {
			observed = append(observed, lockState{
				layer:       ctx.CurrentLayer().Name,
				locked:      ctx.CurrentLayer().Locked,
				groupLocked: group.Locked,
			})
			return nil, nil
		},
	})
	spec, err := proc.NewProcedureSpec("observe_locks")
	require.NoError(t, err)

	tree := layerTreeOver(t, img)

	opts := DefaultOptions()
	opts.EditMode = true
	opts.Procedures = []*proc.Spec{spec}

	b := NewLayerBatcher(tree, opts)
	require.NoError(t, b.Run(context.Background()))

	// Locks are lifted for the current layer and its enclosing groups
	// while a procedure runs, including when the group itself is the item.
	require.Equal(t, []lockState{
		{layer: "solo", locked: false, groupLocked: true},
		{layer: "inner", locked: false, groupLocked: false},
		{layer: "set", locked: false, groupLocked: false},
	}, observed)

	assert.True(t, inner.Locked)
	assert.True(t, group.Locked)
	assert.False(t, solo.Locked)
}
