package export

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchwand/internal/itemtree"
	"batchwand/internal/magick"
	"batchwand/internal/proc"
)

func TestSaverWritesImageNextToItsSource(t *testing.T) {
	dir := t.TempDir()
	ctx := newTestContext(dir)
	img := magick.NewImage("a", 32, 32)
	img.Path = filepath.Join(dir, "a.png")
	ctx.image = img
	ctx.item = itemtree.NewNameOnlyItem("a")

	var written []string
	s := &Saver{Writer: fileWriter(&written)}
	_, err := s.Process(ctx, []any{"", ""})
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(dir, "a.png")}, written)
	assert.Equal(t, filepath.Join(dir, "a.png"), img.Path)
	assert.Equal(t, fmt.Sprintf("Saving %q", img.Path), ctx.progressText)
}

func TestSaverHonorsConfiguredOutputFolder(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	ctx := newTestContext(outDir)
	img := magick.NewImage("a", 32, 32)
	img.Path = filepath.Join(srcDir, "a.png")
	ctx.image = img
	ctx.item = itemtree.NewNameOnlyItem("a")

	var written []string
	s := &Saver{Writer: fileWriter(&written)}
	_, err := s.Process(ctx, []any{outDir, ""})
	require.NoError(t, err)

	want := filepath.Join(outDir, "a.png")
	assert.Equal(t, []string{want}, written)
	assert.Equal(t, want, img.Path)
}

func TestSaverUsesNewImagesFolderForImagesWithoutLocation(t *testing.T) {
	fallback := t.TempDir()
	ctx := newTestContext(fallback)
	img := magick.NewImage("a", 32, 32)
	ctx.image = img
	ctx.item = itemtree.NewNameOnlyItem("a")

	var written []string
	s := &Saver{Writer: fileWriter(&written)}
	_, err := s.Process(ctx, []any{"", fallback})
	require.NoError(t, err)

	want := filepath.Join(fallback, "a.miff")
	assert.Equal(t, []string{want}, written)
	assert.Equal(t, want, img.Path)
}

func TestSaverSkipsImageWithoutLocation(t *testing.T) {
	ctx := newTestContext(t.TempDir())
	ctx.image = magick.NewImage("a", 32, 32)
	ctx.item = itemtree.NewNameOnlyItem("a")

	var written []string
	s := &Saver{Writer: fileWriter(&written)}
	_, err := s.Process(ctx, []any{"", ""})

	var skip *proc.SkipError
	require.ErrorAs(t, err, &skip)
	assert.Equal(t, `image "a" has no file location and no output folder is set`, skip.Message)
	assert.Empty(t, written)
}

func TestSaverNameOnlyRunLeavesImageUntouched(t *testing.T) {
	ctx := newTestContext(t.TempDir())
	ctx.processExport = false
	img := magick.NewImage("a", 32, 32)
	ctx.image = img
	ctx.item = itemtree.NewNameOnlyItem("a")

	var written []string
	s := &Saver{Writer: fileWriter(&written)}
	_, err := s.Process(ctx, []any{"", ""})
	require.NoError(t, err)

	assert.Empty(t, written)
	assert.Empty(t, img.Path)
}
