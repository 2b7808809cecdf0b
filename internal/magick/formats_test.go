package magick

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupFormat(t *testing.T) {
	f, ok := LookupFormat("png")
	require.True(t, ok)
	assert.True(t, f.CanLoad)
	assert.True(t, f.CanSave)

	f, ok = LookupFormat(".JPEG")
	require.True(t, ok)
	assert.Equal(t, "jpg", f.Extensions[0])

	_, ok = LookupFormat("doc")
	assert.False(t, ok)
}

func TestCanonicalExtension(t *testing.T) {
	assert.Equal(t, "jpg", CanonicalExtension("jpeg"))
	assert.Equal(t, "jpg", CanonicalExtension("JPE"))
	assert.Equal(t, "tif", CanonicalExtension(".tiff"))
	assert.Equal(t, "png", CanonicalExtension("png"))
	assert.Equal(t, "doc", CanonicalExtension("DOC"))
}

func TestFormatCapabilities(t *testing.T) {
	assert.True(t, CanLoadFormat("png"))
	assert.True(t, CanSaveFormat("png"))

	assert.True(t, CanLoadFormat("cr2"))
	assert.False(t, CanSaveFormat("cr2"))

	assert.True(t, CanLoadFormat("ora"))
	assert.False(t, CanSaveFormat("ora"))

	assert.False(t, CanLoadFormat("txt"))
	assert.False(t, CanSaveFormat(""))
}
