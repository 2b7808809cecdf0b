package batch

import "fmt"

// FileLoadError reports an item whose source file could not be opened as an
// image.
type FileLoadError struct {
	Message string
	Path    string
	Err     error
}

func (e *FileLoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Path)
}

func (e *FileLoadError) Unwrap() error { return e.Err }
