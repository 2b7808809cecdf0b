package ora

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestORA(t *testing.T, stackXML string, files map[string][]byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.ora")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("stack.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(stackXML))
	require.NoError(t, err)

	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestReadFlatLayers(t *testing.T) {
	stackXML := `<?xml version="1.0" encoding="UTF-8"?>
<image w="640" h="480">
  <stack>
    <layer name="top" src="data/001.png" x="10" y="20" opacity="0.5"/>
    <layer name="bottom" src="data/002.png" visibility="hidden"/>
  </stack>
</image>`
	path := writeTestORA(t, stackXML, map[string][]byte{
		"data/001.png": []byte("png-1"),
		"data/002.png": []byte("png-2"),
	})

	stack, err := Read(path)
	require.NoError(t, err)

	assert.Equal(t, 640, stack.Width)
	assert.Equal(t, 480, stack.Height)
	require.Len(t, stack.Layers, 2)

	top := stack.Layers[0]
	assert.Equal(t, "top", top.Name)
	assert.Equal(t, 10, top.X)
	assert.Equal(t, 20, top.Y)
	assert.Equal(t, 0.5, top.Opacity)
	assert.True(t, top.Visible)
	assert.False(t, top.Group)
	assert.Equal(t, []byte("png-1"), top.Data)

	bottom := stack.Layers[1]
	assert.Equal(t, "bottom", bottom.Name)
	assert.False(t, bottom.Visible)
	assert.Equal(t, 1.0, bottom.Opacity)
}

func TestReadNestedGroups(t *testing.T) {
	stackXML := `<?xml version="1.0" encoding="UTF-8"?>
<image w="100" h="100">
  <stack>
    <stack name="group" edit-locked="true">
      <layer name="inner" src="data/a.png"/>
    </stack>
    <layer name="base" src="data/b.png"/>
  </stack>
</image>`
	path := writeTestORA(t, stackXML, map[string][]byte{
		"data/a.png": []byte("a"),
		"data/b.png": []byte("b"),
	})

	stack, err := Read(path)
	require.NoError(t, err)
	require.Len(t, stack.Layers, 2)

	group := stack.Layers[0]
	assert.Equal(t, "group", group.Name)
	assert.True(t, group.Group)
	assert.True(t, group.Locked)
	assert.Nil(t, group.Data)
	require.Len(t, group.Children, 1)
	assert.Equal(t, "inner", group.Children[0].Name)
	assert.Equal(t, []byte("a"), group.Children[0].Data)

	assert.Equal(t, "base", stack.Layers[1].Name)
}

func TestReadMissingLayerData(t *testing.T) {
	stackXML := `<image w="1" h="1"><stack><layer name="x" src="data/missing.png"/></stack></image>`
	path := writeTestORA(t, stackXML, nil)

	_, err := Read(path)
	assert.ErrorContains(t, err, "missing file")
}

func TestReadMissingStackXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.ora")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("data/001.png")
	require.NoError(t, err)
	_, _ = w.Write([]byte("x"))
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = Read(path)
	assert.ErrorContains(t, err, "missing stack.xml")
}
