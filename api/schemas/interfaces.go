// File: api/schemas/interfaces.go
package schemas

import "context"

// ElementQuery describes one way of looking for an element. Exactly one of
// the groups is set: Selector, Role(+Name), or Text.
type ElementQuery struct {
	// Selector is a CSS selector, or an XPath expression when it starts
	// with "/" or "(".
	Selector string
	// Role and Name query by accessibility semantics.
	Role string
	Name string
	// Text queries by visible text content; ExactText distinguishes the
	// exact tier from the weaker substring tier.
	Text      string
	ExactText bool
}

// Surface is the automation surface adapter: the primitive capabilities the
// engine calls against a live page. Implementations map their own failures
// onto the typed error kinds (ErrLocatorNotFound, ErrSurfaceUnavailable,
// TimeoutError) so the engine can classify them. A surface handle is
// exclusively owned by the run that acquired it.
type Surface interface {
	// Navigate loads the given URL and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Query returns all matching elements in document order. An empty
	// result is (nil, nil); callers decide whether that is an error.
	Query(ctx context.Context, q ElementQuery) ([]ElementRef, error)
	// Act performs a command against a bound element. ref is nil for
	// commands that do not address an element (desktop pointer/keyboard).
	Act(ctx context.Context, ref *ElementRef, cmd Command, params CommandParams) error
	// ReadAttribute reads an attribute (or text content when attr is
	// empty) from a bound element.
	ReadAttribute(ctx context.Context, ref *ElementRef, attr string) (string, error)
	// Capture takes a screenshot of the page or a region and returns a
	// reference (file path) to the stored image.
	Capture(ctx context.Context, region *Region) (string, error)
	// PageSignature returns a stable identifier for the current surface
	// state, used to scope learned locator mappings.
	PageSignature(ctx context.Context) (string, error)
}

// VisualMatcher is an optional surface capability: locating an element by a
// previously captured visual fingerprint. The visual resolution tier is
// skipped for surfaces that do not implement it.
type VisualMatcher interface {
	QueryVisual(ctx context.Context, fp VisualFingerprint) ([]ElementRef, error)
}

// ExecutionStore is the persistence collaborator. The engine owns no
// storage schema of its own; it hands finished records to this interface.
type ExecutionStore interface {
	AppendExecutionRecord(ctx context.Context, testCaseID string, record *ExecutionRecord) error
}
