package dataset

import (
	"errors"
	"fmt"
)

var (
	ErrHeaderWritten = errors.New("dataset: header already written")
	ErrNoHeader      = errors.New("dataset: header not written")
	ErrClosed        = errors.New("dataset: recorder closed")
	ErrMalformed     = errors.New("dataset: malformed")
)

// RecorderError reports a failure to create or append to the dataset file.
// It is always fatal to a run: a row that cannot be written must stop the
// trial loop before the unattributed trial executes.
type RecorderError struct {
	Op   string
	Path string
	Err  error
}

func (e *RecorderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Path == "" {
		return "dataset: " + e.Op + ": " + e.Err.Error()
	}
	return fmt.Sprintf("dataset: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RecorderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func errMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}
