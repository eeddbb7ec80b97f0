package tiercache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Invalidate after Close.
var ErrClosed = errors.New("tiercache: closed")

// PersistError reports a failed disk write. AbortErr is set when the editor
// could not be rolled back either.
type PersistError struct {
	Key      string
	WriteErr error
	AbortErr error
}

func (e *PersistError) Error() string {
	switch {
	case e.WriteErr != nil && e.AbortErr != nil:
		return fmt.Sprintf("persist %q failed: write and abort failed: write=%v; abort=%v",
			e.Key, e.WriteErr, e.AbortErr)
	case e.WriteErr != nil:
		return fmt.Sprintf("persist %q: write failed: %v", e.Key, e.WriteErr)
	case e.AbortErr != nil:
		return fmt.Sprintf("persist %q: abort failed: %v", e.Key, e.AbortErr)
	default:
		return fmt.Sprintf("persist %q: unknown error", e.Key)
	}
}

func (e *PersistError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.WriteErr != nil {
		errs = append(errs, e.WriteErr)
	}
	if e.AbortErr != nil {
		errs = append(errs, e.AbortErr)
	}
	return errs
}
