// File: internal/healing/resolver.go
package healing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/samuelvinay91/uniauto/api/schemas"
	"github.com/samuelvinay91/uniauto/internal/config"
)

// StrategyAttempt records one tier's outcome inside a ResolutionError.
type StrategyAttempt struct {
	Strategy schemas.StrategyName
	Reason   string
}

// ResolutionError is returned when every tier of the chain failed. It names
// which strategies were attempted and why each one did not produce an
// element, because that record is most of the value when automation breaks.
type ResolutionError struct {
	Selector string
	Attempts []StrategyAttempt
}

func (e *ResolutionError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Strategy, a.Reason))
	}
	return fmt.Sprintf("unable to resolve locator %q (%s)", e.Selector, strings.Join(parts, "; "))
}

// Is lets errors.Is classify a full-chain miss as a locator-not-found.
func (e *ResolutionError) Is(target error) bool {
	return target == schemas.ErrLocatorNotFound
}

// Resolver owns the self-healing strategy chain and the learned-locator
// repository. It is safe for use by concurrent runs.
type Resolver struct {
	repo         Repository
	strategies   []Strategy
	primary      Strategy
	probeTimeout time.Duration
	staleAfter   int
	logger       *zap.Logger
}

// NewResolver builds a resolver with the default strategy chain.
func NewResolver(repo Repository, cfg config.HealingConfig, logger *zap.Logger) *Resolver {
	return &Resolver{
		repo:         repo,
		strategies:   defaultStrategies(),
		primary:      primaryStrategy{},
		probeTimeout: cfg.ProbeTimeout,
		staleAfter:   cfg.StaleAfterNFailures,
		logger:       logger.Named("resolver"),
	}
}

// Resolve binds the descriptor to a live element, trying each tier in rank
// order and short-circuiting on the first success. A non-primary win is
// recorded in the repository so the next run against the same page
// signature heals directly from the learned selector.
func (r *Resolver) Resolve(ctx context.Context, d schemas.LocatorDescriptor, surface schemas.Surface, pageSignature string) (*schemas.ResolvedLocator, error) {
	key := Key{PageSignature: pageSignature, PrimarySelector: d.Selector}
	var attempts []StrategyAttempt

	// Tier 1: the declared selector. When it matches, it always wins; no
	// repository mutation happens on the primary path.
	ref, err := r.probe(ctx, r.primary, d, surface)
	if err == nil {
		return &schemas.ResolvedLocator{
			Strategy: schemas.StrategyPrimary,
			Element:  ref,
			Selector: d.Selector,
			Healed:   false,
		}, nil
	}
	if fatal(err) {
		return nil, err
	}
	attempts = append(attempts, StrategyAttempt{schemas.StrategyPrimary, reason(err)})

	// Tier 2: the learned selector for this (page, selector) pair, unless
	// it has been demoted by consecutive failures.
	repoAttempt, resolved, err := r.tryRepository(ctx, key, surface)
	if err != nil {
		return nil, err
	}
	if resolved != nil {
		return resolved, nil
	}
	attempts = append(attempts, repoAttempt)

	// Tiers 3..n: semantic fallbacks. The first hit is learned.
	for _, strat := range r.strategies {
		ref, err := r.probe(ctx, strat, d, surface)
		if err == nil {
			r.learn(ctx, key, ref, strat.Name())
			return &schemas.ResolvedLocator{
				Strategy: strat.Name(),
				Element:  ref,
				Selector: ref.Selector,
				Healed:   true,
			}, nil
		}
		if fatal(err) {
			return nil, err
		}
		attempts = append(attempts, StrategyAttempt{strat.Name(), reason(err)})
	}

	return nil, &ResolutionError{Selector: d.Selector, Attempts: attempts}
}

// probe runs one strategy attempt under the bounded probe time, which is
// deliberately shorter than any step timeout.
func (r *Resolver) probe(ctx context.Context, strat Strategy, d schemas.LocatorDescriptor, surface schemas.Surface) (schemas.ElementRef, error) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	ref, err := strat.Attempt(probeCtx, d, surface)
	if err != nil && probeCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return schemas.ElementRef{}, &schemas.TimeoutError{Op: string(strat.Name()) + " probe", Limit: r.probeTimeout}
	}
	return ref, err
}

// tryRepository attempts the stored healed selector. A hit refreshes the
// entry; a miss increments its failure counter, demoting it from
// consideration once the threshold is reached.
func (r *Resolver) tryRepository(ctx context.Context, key Key, surface schemas.Surface) (StrategyAttempt, *schemas.ResolvedLocator, error) {
	miss := StrategyAttempt{Strategy: schemas.StrategyRepository}

	entry, ok, err := r.repo.Lookup(ctx, key)
	if err != nil {
		// The repository never fails a resolution; fall through to the
		// remaining strategies.
		r.logger.Warn("Locator repository lookup failed", zap.Error(err))
		miss.Reason = "lookup failed"
		return miss, nil, nil
	}
	if !ok || entry.HealedSelector == "" {
		miss.Reason = "no learned selector"
		return miss, nil, nil
	}
	if entry.Failures >= r.staleAfter {
		miss.Reason = fmt.Sprintf("demoted after %d consecutive failures", entry.Failures)
		return miss, nil, nil
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	ref, err := firstMatch(probeCtx, surface, schemas.ElementQuery{Selector: entry.HealedSelector}, entry.HealedSelector)
	cancel()
	if err == nil {
		if recErr := r.repo.RecordSuccess(ctx, key, entry.HealedSelector, entry.Strategy); recErr != nil {
			r.logger.Warn("Failed to refresh locator repository entry", zap.Error(recErr))
		}
		return miss, &schemas.ResolvedLocator{
			Strategy: schemas.StrategyRepository,
			Element:  ref,
			Selector: entry.HealedSelector,
			Healed:   true,
		}, nil
	}
	if fatal(err) {
		return miss, nil, err
	}

	failures, recErr := r.repo.RecordFailure(ctx, key)
	if recErr != nil {
		r.logger.Warn("Failed to record locator repository failure", zap.Error(recErr))
	}
	if failures >= r.staleAfter {
		r.logger.Info("Learned selector demoted",
			zap.String("page_signature", key.PageSignature),
			zap.String("primary_selector", key.PrimarySelector),
			zap.String("healed_selector", entry.HealedSelector),
			zap.Int("consecutive_failures", failures))
	}
	miss.Reason = fmt.Sprintf("stale: %s", reason(err))
	return miss, nil, nil
}

// learn writes a healed selector back to the repository. Point-kind
// references carry no re-addressable selector and are not learned.
func (r *Resolver) learn(ctx context.Context, key Key, ref schemas.ElementRef, strategy schemas.StrategyName) {
	if ref.Selector == "" || key.PrimarySelector == "" {
		return
	}
	if err := r.repo.RecordSuccess(ctx, key, ref.Selector, strategy); err != nil {
		r.logger.Warn("Failed to record healed selector", zap.Error(err))
		return
	}
	r.logger.Info("Locator healed",
		zap.String("page_signature", key.PageSignature),
		zap.String("primary_selector", key.PrimarySelector),
		zap.String("healed_selector", ref.Selector),
		zap.String("strategy", string(strategy)))
}

// fatal reports errors that must abort resolution outright instead of
// falling through to the next tier.
func fatal(err error) bool {
	return errors.Is(err, schemas.ErrSurfaceUnavailable) ||
		errors.Is(err, context.Canceled)
}

// reason condenses a strategy error into the short form kept in a
// ResolutionError.
func reason(err error) string {
	var ambiguous *schemas.AmbiguousError
	switch {
	case errors.Is(err, ErrNotApplicable):
		return "not applicable"
	case errors.Is(err, ErrSurfaceUnsupported):
		return "surface unsupported"
	case errors.As(err, &ambiguous):
		return fmt.Sprintf("ambiguous: %d matches", ambiguous.Matches)
	case errors.Is(err, schemas.ErrLocatorNotFound):
		return "no match"
	default:
		return err.Error()
	}
}
