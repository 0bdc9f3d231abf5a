// File: api/schemas/locator.go
package schemas

import (
	"strings"
	"time"
)

// LocatorDescriptor is the declared way to find an element: a primary
// selector plus optional semantic hints the fallback strategies can use.
// Descriptors are immutable inputs; the engine never mutates them.
type LocatorDescriptor struct {
	// Selector is the primary CSS or XPath selector.
	Selector string `json:"selector"`
	// Role and Name describe the element in accessibility terms
	// (e.g. role "button", name "Submit").
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
	// Text is the expected visible text content of the element.
	Text string `json:"text,omitempty"`
	// Visual is an optional fingerprint of the target region for the
	// last-resort visual strategy.
	Visual *VisualFingerprint `json:"visual,omitempty"`
}

// Empty reports whether the descriptor carries no usable information.
func (d LocatorDescriptor) Empty() bool {
	return strings.TrimSpace(d.Selector) == "" && d.Role == "" && d.Text == "" && d.Visual == nil
}

// VisualFingerprint captures what the target region looked like: a
// difference hash of its pixels plus the region it occupied.
type VisualFingerprint struct {
	Hash   string `json:"hash"`
	Region Region `json:"region"`
}

// Region is a rectangle in page coordinates.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the region.
func (r Region) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// StrategyName identifies one tier of the resolution chain.
type StrategyName string

const (
	StrategyPrimary    StrategyName = "primary"
	StrategyRepository StrategyName = "repository"
	StrategyRole       StrategyName = "role"
	StrategyText       StrategyName = "text"
	StrategyVisual     StrategyName = "visual"
)

// RefKind says how an ElementRef re-addresses its element.
type RefKind string

const (
	RefCSS   RefKind = "css"
	RefXPath RefKind = "xpath"
	RefPoint RefKind = "point"
)

// ElementRef is a bound reference to a concrete element on a live surface.
// It is ephemeral: valid only for the surface state it was resolved against.
type ElementRef struct {
	Kind     RefKind `json:"kind"`
	Selector string  `json:"selector,omitempty"`
	// X, Y address the element center for point-kind refs.
	X float64 `json:"x,omitempty"`
	Y float64 `json:"y,omitempty"`
}

// ResolvedLocator is the outcome of one resolution attempt: which strategy
// won, the concrete reference to act on, and whether the result differs
// from the declared primary selector.
type ResolvedLocator struct {
	Strategy StrategyName
	Element  ElementRef
	// Selector is the selector that actually matched. For a point-kind
	// element it is empty.
	Selector string
	// Healed is true when the winning strategy was not Primary.
	Healed bool
}

// RepositoryEntry is a learned locator mapping shared across runs, keyed by
// (page signature, primary selector). Entries are never deleted; after
// repeated consecutive failures they are demoted and skipped until a
// success resets them.
type RepositoryEntry struct {
	PageSignature   string       `json:"page_signature"`
	PrimarySelector string       `json:"primary_selector"`
	HealedSelector  string       `json:"healed_selector"`
	Strategy        StrategyName `json:"strategy"`
	Successes       int          `json:"successes"`
	Failures        int          `json:"failures"` // consecutive failures since last success
	UpdatedAt       time.Time    `json:"updated_at"`
}
