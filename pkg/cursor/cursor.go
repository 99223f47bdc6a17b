// Package cursor implements the bidirectional lazy sequence contract used
// by search results at every stage of the pipeline: partition scan,
// permission filter, attribute projection, alias dereferencing, and the
// response adapter all speak this same interface so they can be stacked
// without materializing the result set.
//
// A cursor is not thread-safe and is owned by the goroutine that opened it
// until Close is called.
package cursor

import (
	"dirsrv/pkg/dirserrors"
	"dirsrv/pkg/entry"
)

// Cursor is a bidirectional, lazily-evaluated sequence of entries.
//
// A cursor starts positioned before the first element. Next and Previous
// move the cursor and report whether a new current element exists; Get
// returns that element and fails with InvalidCursorPosition if the cursor
// is not currently positioned on one.
type Cursor interface {
	// BeforeFirst repositions the cursor before the first element without
	// reading.
	BeforeFirst() error

	// AfterLast repositions the cursor after the last element without
	// reading.
	AfterLast() error

	// Next advances the cursor and reports whether a new current element
	// exists.
	Next() (bool, error)

	// Previous moves the cursor backward and reports whether a new current
	// element exists.
	Previous() (bool, error)

	// Get returns the current element. It fails with InvalidCursorPosition
	// if Available is false.
	Get() (*entry.Entry, error)

	// Available reports whether Get would currently succeed.
	Available() bool

	// IsFirst, IsLast, IsBeforeFirst, and IsAfterLast are ancillary
	// predicates some sources cannot answer without materializing the
	// whole sequence; such sources fail with UnsupportedOperation rather
	// than guessing.
	IsFirst() (bool, error)
	IsLast() (bool, error)
	IsBeforeFirst() (bool, error)
	IsAfterLast() (bool, error)

	// Close releases the cursor's resources. It is idempotent; calling it
	// more than once is a no-op starting from the second call.
	Close() error
}

// unsupported is embedded by cursor implementations that cannot cheaply
// answer the ancillary predicates, so each only has to override what it
// can actually support.
type unsupported struct{}

func (unsupported) IsFirst() (bool, error)       { return false, errUnsupported }
func (unsupported) IsLast() (bool, error)        { return false, errUnsupported }
func (unsupported) IsBeforeFirst() (bool, error) { return false, errUnsupported }
func (unsupported) IsAfterLast() (bool, error)   { return false, errUnsupported }

var errUnsupported = dirserrors.New(dirserrors.UnsupportedOperation, "ancillary predicate not supported by this cursor")

// errInvalidPosition is returned by Get when Available is false.
func errInvalidPosition() error {
	return dirserrors.New(dirserrors.InvalidCursorPosition, "cursor is not positioned on an element")
}

// errClosed is returned by any operation attempted after Close.
func errClosed() error {
	return dirserrors.New(dirserrors.Closed, "cursor is closed")
}
