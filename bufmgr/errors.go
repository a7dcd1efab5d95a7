package bufmgr

import (
	"github.com/pkg/errors"

	"github.com/lucasmoro/coldbuf/internal/latch"
)

// ErrRestart is latch.ErrRestart re-exported, so callers outside this module
// can recognise a restart from Resolve or AllocatePage with errors.Is.
var ErrRestart = latch.ErrRestart

// FatalError wraps a genuine environment failure that ErrRestart's
// retry-from-entry-point contract cannot fix: a failed open, a short
// direct-I/O write, a zero-byte read, or a broken invariant. Callers use
// errors.As to detect it rather than string-matching.
type FatalError struct {
	cause error
}

// NewFatalError wraps cause as a FatalError.
func NewFatalError(cause error) *FatalError {
	return &FatalError{cause: cause}
}

func (e *FatalError) Error() string {
	return "bufmgr: fatal: " + e.cause.Error()
}

func (e *FatalError) Unwrap() error {
	return e.cause
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
