package pathutil

import "strings"

// FileExtension returns the file extension of name without the leading
// period. Leading periods do not mark an extension, so ".config" has none.
func FileExtension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return ""
	}
	if strings.Trim(name[:i], ".") == "" {
		return ""
	}
	return name[i+1:]
}

// Root returns name without its file extension and the separating period.
func Root(name string) string {
	ext := FileExtension(name)
	if ext == "" {
		return strings.TrimSuffix(name, ".")
	}
	return name[:len(name)-len(ext)-1]
}

// WithExtension replaces the file extension of name with ext (specified
// without a leading period). Periods trailing the root are dropped unless
// keepExtraPeriods is set. An empty ext removes the extension.
func WithExtension(name, ext string, keepExtraPeriods bool) string {
	root := Root(name)
	if !keepExtraPeriods {
		root = strings.TrimRight(root, ".")
	}
	if ext == "" {
		return root
	}
	return root + "." + ext
}
