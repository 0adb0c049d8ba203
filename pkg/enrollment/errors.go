package enrollment

import "errors"

var (
	// ErrNotFound reports an absent enrollment, portal, module or
	// content. Callers treat it as "no access", never as a crash.
	ErrNotFound = errors.New("not found")

	// ErrConflict reports a write rejected because it raced another
	// writer (stale version or duplicate insert). It is surfaced to the
	// caller, never silently dropped.
	ErrConflict = errors.New("write conflict")
)
