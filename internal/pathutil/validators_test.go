package pathutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidFilename(t *testing.T) {
	ok, msgs := IsValidFilename("image.png")
	assert.True(t, ok)
	assert.Empty(t, msgs)

	ok, msgs = IsValidFilename("")
	assert.False(t, ok)
	assert.Equal(t, []string{"filename is not specified"}, msgs)

	ok, msgs = IsValidFilename("im:age?.png")
	assert.False(t, ok)
	assert.Contains(t, msgs, "filename contains invalid characters")

	ok, msgs = IsValidFilename("image.png ")
	assert.False(t, ok)
	assert.Contains(t, msgs, "filename cannot end with spaces")

	ok, msgs = IsValidFilename("image.")
	assert.False(t, ok)
	assert.Contains(t, msgs, "filename cannot end with a period")

	ok, msgs = IsValidFilename("con.txt")
	assert.False(t, ok)
	assert.Contains(t, msgs, "filename is a reserved name")

	ok, _ = IsValidFilename("console.txt")
	assert.True(t, ok)
}

func TestIsValidFilenameAccumulatesMessages(t *testing.T) {
	ok, msgs := IsValidFilename("im*age. ")
	assert.False(t, ok)
	assert.Len(t, msgs, 2)
}

func TestValidateFilename(t *testing.T) {
	assert.Equal(t, "image.png", ValidateFilename("image.png"))
	assert.Equal(t, "image.png", ValidateFilename("im:a*ge?.png"))
	assert.Equal(t, "image", ValidateFilename("  image.  "))
	assert.Equal(t, "CON (1).txt", ValidateFilename("CON.txt"))
	assert.Equal(t, "lpt1 (1)", ValidateFilename("lpt1"))
	assert.Equal(t, "Untitled", ValidateFilename("???"))
	assert.Equal(t, "Untitled", ValidateFilename(""))
}

func TestIsValidFilepath(t *testing.T) {
	ok, msgs := IsValidFilepath(filepath.Join("some", "dir", "image.png"))
	assert.True(t, ok)
	assert.Empty(t, msgs)

	ok, msgs = IsValidFilepath("")
	assert.False(t, ok)
	assert.Equal(t, []string{"file path is not specified"}, msgs)

	ok, msgs = IsValidFilepath(filepath.Join("so?me", "dir ", "image."))
	assert.False(t, ok)
	assert.Contains(t, msgs, "file path contains invalid characters")
	assert.Contains(t, msgs, "path components cannot end with spaces")
	assert.Contains(t, msgs, "path components cannot end with a period")

	ok, msgs = IsValidFilepath(filepath.Join("dir", "aux", "image.png"))
	assert.False(t, ok)
	assert.Contains(t, msgs, "file path contains a reserved name")
}

func TestValidateFilepath(t *testing.T) {
	p := ValidateFilepath(filepath.Join("so?me", " dir ", "image.png"))
	assert.Equal(t, filepath.Join("some", "dir", "image.png"), p)

	p = ValidateFilepath(string(filepath.Separator) + filepath.Join("a", "b."))
	assert.Equal(t, string(filepath.Separator)+filepath.Join("a", "b"), p)

	p = ValidateFilepath(filepath.Join("dir", "NUL.txt", "image.png"))
	assert.Equal(t, filepath.Join("dir", "NUL (1).txt", "image.png"), p)
}

func TestIsValidDirpath(t *testing.T) {
	dir := t.TempDir()
	ok, msgs := IsValidDirpath(dir)
	assert.True(t, ok)
	assert.Empty(t, msgs)

	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ok, msgs = IsValidDirpath(file)
	assert.False(t, ok)
	assert.Equal(t, []string{"path exists but is not a directory"}, msgs)

	// Nonexistent but well-formed paths are fine.
	ok, _ = IsValidDirpath(filepath.Join(dir, "nope"))
	assert.True(t, ok)
}

func TestIsValidFileExtension(t *testing.T) {
	ok, _ := IsValidFileExtension("png")
	assert.True(t, ok)

	ok, msgs := IsValidFileExtension("")
	assert.False(t, ok)
	assert.Equal(t, []string{"file extension is not specified"}, msgs)

	ok, msgs = IsValidFileExtension("pn?g")
	assert.False(t, ok)
	assert.Contains(t, msgs, "file extension contains invalid characters")

	ok, msgs = IsValidFileExtension("png.")
	assert.False(t, ok)
	assert.Contains(t, msgs, "file extension cannot end with a period")
}

func TestValidateFileExtension(t *testing.T) {
	assert.Equal(t, "png", ValidateFileExtension("png"))
	assert.Equal(t, "png", ValidateFileExtension("p?ng"))
	assert.Equal(t, "png", ValidateFileExtension("png."))
	assert.Equal(t, "jpg", ValidateFileExtension("jpg. "))
}
