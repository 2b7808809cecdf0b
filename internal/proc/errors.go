package proc

import "fmt"

// SkipError signals that a command chose not to process the current item.
// The run records the skip and continues with the next command or item.
type SkipError struct {
	Message string
}

func (e *SkipError) Error() string { return e.Message }

// Skip returns a SkipError with a formatted message.
func Skip(format string, args ...any) *SkipError {
	return &SkipError{Message: fmt.Sprintf(format, args...)}
}

// CancelError signals a clean, user-requested stop of the whole run. Callers
// should treat it as a stop, not a failure.
type CancelError struct {
	Message string
}

func (e *CancelError) Error() string { return e.Message }

// CommandError reports a command that failed and aborted the run.
type CommandError struct {
	Command  string
	ItemName string
	Message  string
	Err      error
}

func (e *CommandError) Error() string {
	if e.ItemName != "" {
		return fmt.Sprintf("command %q failed for item %q: %s", e.Command, e.ItemName, e.Message)
	}
	return fmt.Sprintf("command %q failed: %s", e.Command, e.Message)
}

func (e *CommandError) Unwrap() error { return e.Err }
