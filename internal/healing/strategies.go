// File: internal/healing/strategies.go
package healing

import (
	"context"
	"errors"
	"fmt"

	"github.com/samuelvinay91/uniauto/api/schemas"
)

// ErrNotApplicable means a strategy has nothing to work with for this
// descriptor (no role hint, no text hint, no fingerprint) and was skipped.
var ErrNotApplicable = errors.New("strategy not applicable")

// ErrSurfaceUnsupported means the surface lacks an optional capability the
// strategy needs (currently only visual comparison).
var ErrSurfaceUnsupported = errors.New("surface unsupported")

// Strategy is one tier of the resolution chain. Implementations must be
// deterministic: when a query matches several elements they take the first
// in document order, never a scored guess.
type Strategy interface {
	Name() schemas.StrategyName
	// Attempt tries to locate the element described by d on the surface.
	// It returns ErrNotApplicable when the descriptor carries no hint for
	// this tier, schemas.ErrLocatorNotFound when nothing matched, or the
	// bound element on success.
	Attempt(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error)
}

// firstMatch runs a query and deterministically picks the first element in
// document order.
func firstMatch(ctx context.Context, surface schemas.Surface, q schemas.ElementQuery, what string) (schemas.ElementRef, error) {
	refs, err := surface.Query(ctx, q)
	if err != nil {
		return schemas.ElementRef{}, err
	}
	if len(refs) == 0 {
		return schemas.ElementRef{}, fmt.Errorf("%w: %s", schemas.ErrLocatorNotFound, what)
	}
	return refs[0], nil
}

// primaryStrategy attempts the declared selector directly.
type primaryStrategy struct{}

func (primaryStrategy) Name() schemas.StrategyName { return schemas.StrategyPrimary }

func (primaryStrategy) Attempt(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error) {
	if d.Selector == "" {
		return schemas.ElementRef{}, ErrNotApplicable
	}
	return firstMatch(ctx, surface, schemas.ElementQuery{Selector: d.Selector}, d.Selector)
}

// roleStrategy queries by accessibility role and accessible name.
type roleStrategy struct{}

func (roleStrategy) Name() schemas.StrategyName { return schemas.StrategyRole }

func (roleStrategy) Attempt(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error) {
	if d.Role == "" {
		return schemas.ElementRef{}, ErrNotApplicable
	}
	what := fmt.Sprintf("role=%s name=%q", d.Role, d.Name)
	return firstMatch(ctx, surface, schemas.ElementQuery{Role: d.Role, Name: d.Name}, what)
}

// textStrategy matches visible text: exact first, substring as the weaker
// tier.
type textStrategy struct{}

func (textStrategy) Name() schemas.StrategyName { return schemas.StrategyText }

func (textStrategy) Attempt(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error) {
	if d.Text == "" {
		return schemas.ElementRef{}, ErrNotApplicable
	}

	ref, err := firstMatch(ctx, surface, schemas.ElementQuery{Text: d.Text, ExactText: true}, "text="+d.Text)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, schemas.ErrLocatorNotFound) {
		return schemas.ElementRef{}, err
	}
	return firstMatch(ctx, surface, schemas.ElementQuery{Text: d.Text}, "text~="+d.Text)
}

// visualStrategy is the last resort: match a previously captured visual
// fingerprint of the target region. Skipped when the surface does not
// support visual comparison.
type visualStrategy struct{}

func (visualStrategy) Name() schemas.StrategyName { return schemas.StrategyVisual }

func (visualStrategy) Attempt(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error) {
	if d.Visual == nil {
		return schemas.ElementRef{}, ErrNotApplicable
	}
	matcher, ok := surface.(schemas.VisualMatcher)
	if !ok {
		return schemas.ElementRef{}, ErrSurfaceUnsupported
	}

	refs, err := matcher.QueryVisual(ctx, *d.Visual)
	if err != nil {
		return schemas.ElementRef{}, err
	}
	if len(refs) == 0 {
		return schemas.ElementRef{}, fmt.Errorf("%w: visual fingerprint", schemas.ErrLocatorNotFound)
	}
	return refs[0], nil
}

// defaultStrategies is the ranked fallback order after the primary and
// repository tiers. New strategies append here without touching the
// resolver loop.
func defaultStrategies() []Strategy {
	return []Strategy{roleStrategy{}, textStrategy{}, visualStrategy{}}
}
