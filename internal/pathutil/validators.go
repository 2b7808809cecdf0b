package pathutil

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	invalidNameChars = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f<>:"\\/|?*]`)

	// Path components allow separators; ':' is stripped here too since the
	// drive prefix is handled separately.
	invalidPathChars      = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f<>:"|?*]`)
	invalidPathCharsDrive = regexp.MustCompile(`[\x00-\x1f\x7f-\x9f<>"|?*]`)
)

// Reserved names on Windows. Filenames are compared case-insensitively.
var reservedNames = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {},
	"COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {},
	"LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

func isReserved(component string) bool {
	root := component
	if ext := filepath.Ext(component); ext != "" {
		root = component[:len(component)-len(ext)]
	}
	_, ok := reservedNames[strings.ToUpper(root)]
	return ok
}

// IsValidFilename reports whether name is a valid file basename. When
// invalid, the returned messages describe every failed check.
func IsValidFilename(name string) (bool, []string) {
	if name == "" {
		return false, []string{"filename is not specified"}
	}

	var msgs []string
	if invalidNameChars.MatchString(name) {
		msgs = append(msgs, "filename contains invalid characters")
	}
	if strings.HasSuffix(name, " ") {
		msgs = append(msgs, "filename cannot end with spaces")
	}
	if strings.HasSuffix(name, ".") {
		msgs = append(msgs, "filename cannot end with a period")
	}
	if isReserved(name) {
		msgs = append(msgs, "filename is a reserved name")
	}
	return len(msgs) == 0, msgs
}

// ValidateFilename strips invalid characters and surrounding spaces, drops
// trailing periods, and renames reserved names. An empty result becomes
// "Untitled".
func ValidateFilename(name string) string {
	name = invalidNameChars.ReplaceAllString(name, "")
	name = strings.Trim(name, " ")
	name = strings.TrimRight(name, ".")

	if isReserved(name) {
		ext := filepath.Ext(name)
		root := name[:len(name)-len(ext)]
		name = root + " (1)" + ext
	}

	if name == "" {
		name = "Untitled"
	}
	return name
}

func splitPathComponents(path string) (drive string, abs bool, components []string) {
	path = filepath.Clean(path)
	drive = filepath.VolumeName(path)
	rest := path[len(drive):]
	abs = strings.HasPrefix(rest, string(filepath.Separator))
	for _, c := range strings.Split(rest, string(filepath.Separator)) {
		if c != "" {
			components = append(components, c)
		}
	}
	return drive, abs, components
}

// IsValidFilepath reports whether the path (relative or absolute) consists of
// valid components. Separator characters are allowed; ':' only within a
// drive prefix.
func IsValidFilepath(path string) (bool, []string) {
	if path == "" {
		return false, []string{"file path is not specified"}
	}

	drive, _, components := splitPathComponents(path)

	var msgs []string
	if drive != "" && invalidPathCharsDrive.MatchString(strings.TrimSuffix(drive, ":")) {
		msgs = append(msgs, "drive prefix contains invalid characters")
	}

	var hasInvalid, hasSpaces, hasPeriod, hasReserved bool
	for _, c := range components {
		if invalidPathChars.MatchString(c) {
			hasInvalid = true
		}
		if strings.HasSuffix(c, " ") {
			hasSpaces = true
		}
		if strings.HasSuffix(c, ".") {
			hasPeriod = true
		}
		if isReserved(c) {
			hasReserved = true
		}
	}
	if hasInvalid {
		msgs = append(msgs, "file path contains invalid characters")
	}
	if hasSpaces {
		msgs = append(msgs, "path components cannot end with spaces")
	}
	if hasPeriod {
		msgs = append(msgs, "path components cannot end with a period")
	}
	if hasReserved {
		msgs = append(msgs, "file path contains a reserved name")
	}
	return len(msgs) == 0, msgs
}

// ValidateFilepath applies the filename validation rules to every path
// component, preserving the drive prefix and absolute/relative form.
func ValidateFilepath(path string) string {
	drive, abs, components := splitPathComponents(path)
	if drive != "" {
		drive = invalidPathCharsDrive.ReplaceAllString(drive, "")
	}

	validated := components[:0]
	for _, c := range components {
		c = invalidPathChars.ReplaceAllString(c, "")
		c = strings.Trim(c, " ")
		c = strings.TrimRight(c, ".")
		if isReserved(c) {
			ext := filepath.Ext(c)
			c = c[:len(c)-len(ext)] + " (1)" + ext
		}
		if c != "" {
			validated = append(validated, c)
		}
	}

	joined := strings.Join(validated, string(filepath.Separator))
	if abs {
		joined = string(filepath.Separator) + joined
	}
	return filepath.Clean(drive + joined)
}

// IsValidDirpath applies the file-path rules and additionally fails when the
// path exists but is not a directory.
func IsValidDirpath(path string) (bool, []string) {
	ok, msgs := IsValidFilepath(path)
	if !ok {
		return ok, msgs
	}
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return false, []string{"path exists but is not a directory"}
	}
	return true, nil
}

// ValidateDirpath is identical to ValidateFilepath; existence cannot be
// repaired by string manipulation.
func ValidateDirpath(path string) string {
	return ValidateFilepath(path)
}

// IsValidFileExtension reports whether ext (without a leading period) is
// usable as a file extension.
func IsValidFileExtension(ext string) (bool, []string) {
	if ext == "" {
		return false, []string{"file extension is not specified"}
	}

	var msgs []string
	if invalidNameChars.MatchString(ext) {
		msgs = append(msgs, "file extension contains invalid characters")
	}
	if strings.HasSuffix(ext, " ") {
		msgs = append(msgs, "file extension cannot end with spaces")
	}
	if strings.HasSuffix(ext, ".") {
		msgs = append(msgs, "file extension cannot end with a period")
	}
	return len(msgs) == 0, msgs
}

// ValidateFileExtension strips invalid characters and trailing spaces and
// periods.
func ValidateFileExtension(ext string) string {
	ext = invalidNameChars.ReplaceAllString(ext, "")
	ext = strings.TrimRight(ext, " ")
	return strings.TrimRight(ext, ".")
}
