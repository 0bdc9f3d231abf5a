// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds shared across the engine. Adapter implementations
// wrap these so callers can classify failures with errors.Is.
var (
	// ErrLocatorNotFound means no element matched the query.
	ErrLocatorNotFound = errors.New("locator matched no element")
	// ErrSurfaceUnavailable means the automation surface itself is gone
	// (closed tab, dead browser). Fatal to the run.
	ErrSurfaceUnavailable = errors.New("automation surface unavailable")
	// ErrCommandUnsupported means the command is outside the closed set or
	// the surface cannot perform it.
	ErrCommandUnsupported = errors.New("command unsupported")
	// ErrCancelled means a caller requested cancellation of the run.
	ErrCancelled = errors.New("cancellation requested")
)

// AmbiguousError reports a query that matched more than one element where
// exactly one was required.
type AmbiguousError struct {
	Query   string
	Matches int
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous locator %q: %d matches", e.Query, e.Matches)
}

// TimeoutError reports that a bounded operation exceeded its limit. It is
// distinct from a not-found failure so step results can carry a "timeout"
// reason rather than silently truncating.
type TimeoutError struct {
	Op    string
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Limit)
}

// IsFatal reports whether err ends the whole run rather than one step.
func IsFatal(err error) bool {
	return errors.Is(err, ErrSurfaceUnavailable)
}
