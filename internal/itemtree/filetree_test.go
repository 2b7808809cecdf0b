package itemtree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTreeAddPaths(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	for _, name := range []string{"a.png", "b.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(sub, "c.png"), []byte("x"), 0o644))

	tree := NewFileTree()
	added, err := tree.AddPaths([]string{dir})
	require.NoError(t, err)

	// notes.txt has no image extension and never enters the tree.
	require.Len(t, added, 5)

	assert.Equal(t,
		[]string{filepath.Base(dir), "a.png", "b.png", "nested", "c.png"},
		names(tree.List(IterOptions{WithFolders: true})))
	assert.Equal(t, 3, tree.Len())

	root := mustGet(t, &tree.Tree, Key{ID: dir, Folder: true})
	assert.Equal(t, KindFolder, root.Kind())

	c := mustGet(t, &tree.Tree, Key{ID: filepath.Join(sub, "c.png")})
	assert.Equal(t, KindItem, c.Kind())
	assert.Equal(t, []string{filepath.Base(dir), "nested"}, names(c.Parents()))
}

func TestFileTreeRefresh(t *testing.T) {
	dir := t.TempDir()
	aPath := filepath.Join(dir, "a.png")
	bPath := filepath.Join(dir, "b.png")
	require.NoError(t, os.WriteFile(aPath, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("x"), 0o644))

	tree := NewFileTree()
	_, err := tree.AddPaths([]string{dir})
	require.NoError(t, err)

	a := mustGet(t, &tree.Tree, Key{ID: aPath})
	a.Name = "renamed.png"
	a.PushState()

	require.NoError(t, os.Remove(bPath))
	tree.Refresh()

	assert.Equal(t, "a.png", a.Name)

	// Saved states are dropped, so popping restores nothing.
	a.PopState()
	assert.Equal(t, "a.png", a.Name)

	// Files deleted from disk stay in the tree until removed explicitly.
	assert.True(t, tree.Contains(Key{ID: bPath}))
}

func TestFileObjectSkipsLinksToAncestors(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "a.png"), []byte("x"), 0o644))

	if err := os.Symlink(dir, filepath.Join(sub, "loop")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(sub, "a.png"), filepath.Join(sub, "b.png")))

	children := NewFileObject(sub).Children()
	got := make([]string, 0, len(children))
	for _, child := range children {
		got = append(got, child.Name())
	}
	assert.Equal(t, []string{"a.png", "b.png"}, got)
}
