package engine

import "fmt"

// UsageError covers transaction-state violations, unknown table/column/
// index, syntax mismatches, duplicate names, and exceeded MAX_* limits —
// rejected without aborting the engine.
type UsageError struct{ Msg string }

func (e *UsageError) Error() string { return e.Msg }

// IOError wraps a fatal I/O failure from the pager or WAL. There is no safe
// way to continue with inconsistent buffer state once one of these occurs.
type IOError struct {
	Msg string
	Err error
}

func (e *IOError) Error() string { return e.Msg + ": " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }

// StateError covers invariant violations detected at runtime that are
// neither a usage mistake nor an I/O failure — e.g. a catalog entry
// pointing at a root page that no longer decodes as a leaf.
type StateError struct{ Msg string }

func (e *StateError) Error() string { return e.Msg }

func usageErrorf(format string, args ...any) error {
	return &UsageError{Msg: fmt.Sprintf(format, args...)}
}

func stateErrorf(format string, args ...any) error {
	return &StateError{Msg: fmt.Sprintf(format, args...)}
}
