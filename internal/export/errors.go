package export

import "strings"

// Error reports a failed export of one item.
type Error struct {
	Message       string
	ItemName      string
	FileExtension string
	Err           error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.ItemName != "" {
		b.WriteString("\nItem: ")
		b.WriteString(e.ItemName)
	}
	if e.FileExtension != "" {
		b.WriteString("\nFile extension: ")
		b.WriteString(e.FileExtension)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// exportError aliases Error so embedding it below does not create a field
// named Error, which would shadow the promoted Error method and stop
// *InvalidOutputDirectoryError from implementing the error interface.
type exportError = Error

// InvalidOutputDirectoryError reports an output directory that could not be
// created or written to.
type InvalidOutputDirectoryError struct {
	exportError
}

func newInvalidOutputDirectoryError(err error, itemName, fileExtension string) *InvalidOutputDirectoryError {
	return &InvalidOutputDirectoryError{Error{
		Message:       err.Error(),
		ItemName:      itemName,
		FileExtension: fileExtension,
		Err:           err,
	}}
}
