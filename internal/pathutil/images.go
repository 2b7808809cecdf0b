package pathutil

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"batchwand/internal/magick"
)

// Camera RAW formats. Readable via delegates but never written.
var rawExts = map[string]bool{
	".nef": true, // Nikon
	".cr2": true, // Canon
	".cr3": true, // Canon (newer)
	".arw": true, // Sony
	".dng": true, // Adobe Digital Negative
	".orf": true, // Olympus
	".rw2": true, // Panasonic
	".raf": true, // Fujifilm
	".pef": true, // Pentax
	".srw": true, // Samsung
	".x3f": true, // Sigma
}

// IsImageFile reports whether path has an extension of a loadable image
// format, including RAW formats.
func IsImageFile(path string) bool {
	return magick.CanLoadFormat(filepath.Ext(path))
}

// IsRAWFile reports whether path has a camera RAW extension.
func IsRAWFile(path string) bool {
	return rawExts[strings.ToLower(filepath.Ext(path))]
}

// RecognizedFormat reports whether ext (without a leading period) names a
// format that can be written.
func RecognizedFormat(ext string) bool {
	return magick.CanSaveFormat(ext)
}

// ListImages walks root and returns all image files found, sorted.
func ListImages(root string) ([]string, error) {
	var images []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsImageFile(path) {
			images = append(images, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(images)
	return images, nil
}
