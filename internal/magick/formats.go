package magick

import "strings"

// Format is a file format the wand toolchain can read or write. The first
// extension is the canonical one shared by all of its aliases.
type Format struct {
	Extensions []string
	CanLoad    bool
	CanSave    bool
}

var formats = []Format{
	{Extensions: []string{"png"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"jpg", "jpeg", "jpe"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"tif", "tiff"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"gif"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"bmp"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"webp"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"avif"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"heif", "heic"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"jxl"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"jp2", "j2k", "j2c", "jpc"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"exr"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"hdr"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"dds"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"ico"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"tga"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"pcx", "pcc"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"pbm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"pgm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"ppm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"pnm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"psd"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"xbm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"xpm"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"miff"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"sgi"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"fit", "fits"}, CanLoad: true, CanSave: true},
	{Extensions: []string{"dcm", "dicom"}, CanLoad: true},
	{Extensions: []string{"svg"}, CanLoad: true},
	{Extensions: []string{"pdf"}, CanLoad: true},
	{Extensions: []string{"ora"}, CanLoad: true},
	{Extensions: []string{"xcf"}, CanLoad: true},

	// Camera raw formats are read through delegates and never written.
	{Extensions: []string{"dng"}, CanLoad: true},
	{Extensions: []string{"nef"}, CanLoad: true},
	{Extensions: []string{"cr2"}, CanLoad: true},
	{Extensions: []string{"cr3"}, CanLoad: true},
	{Extensions: []string{"arw"}, CanLoad: true},
	{Extensions: []string{"rw2"}, CanLoad: true},
	{Extensions: []string{"orf"}, CanLoad: true},
	{Extensions: []string{"pef"}, CanLoad: true},
	{Extensions: []string{"raf"}, CanLoad: true},
	{Extensions: []string{"srw"}, CanLoad: true},
	{Extensions: []string{"x3f"}, CanLoad: true},
}

var formatsByExt = map[string]int{}

func init() {
	for i, f := range formats {
		for _, ext := range f.Extensions {
			formatsByExt[ext] = i
		}
	}
}

func normalizeExtension(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// LookupFormat returns the format owning the extension, matched
// case-insensitively and with or without a leading period.
func LookupFormat(ext string) (Format, bool) {
	i, ok := formatsByExt[normalizeExtension(ext)]
	if !ok {
		return Format{}, false
	}
	return formats[i], true
}

// CanonicalExtension maps an extension to its format's canonical form, e.g.
// jpeg to jpg. Unknown extensions are returned lowercased.
func CanonicalExtension(ext string) string {
	normalized := normalizeExtension(ext)
	if i, ok := formatsByExt[normalized]; ok {
		return formats[i].Extensions[0]
	}
	return normalized
}

// CanLoadFormat reports whether files with the extension can be read.
func CanLoadFormat(ext string) bool {
	f, ok := LookupFormat(ext)
	return ok && f.CanLoad
}

// CanSaveFormat reports whether the extension is a writable output format.
func CanSaveFormat(ext string) bool {
	f, ok := LookupFormat(ext)
	return ok && f.CanSave
}
