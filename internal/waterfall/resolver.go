package waterfall

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HealthReporter receives per-tier outcomes so dependency health can be
// tracked outside this package. Implementations must be cheap and must not
// block the cascade.
type HealthReporter interface {
	ServiceFailure(name string)
	ServiceRecovered(name string)
}

// Resolver runs the tier cascade for one lead.
type Resolver struct {
	tiers        []Tier
	minNameScore float64
	tierTimeout  time.Duration
	reporter     HealthReporter
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMinNameScore sets the acceptance threshold for name-gated candidates.
func WithMinNameScore(score float64) Option {
	return func(r *Resolver) { r.minNameScore = score }
}

// WithTierTimeout bounds each individual tier lookup.
func WithTierTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.tierTimeout = d }
}

// WithHealthReporter wires per-tier outcomes into dependency health tracking.
func WithHealthReporter(hr HealthReporter) Option {
	return func(r *Resolver) { r.reporter = hr }
}

// NewResolver creates a Resolver over the given ordered tiers.
func NewResolver(tiers []Tier, opts ...Option) *Resolver {
	r := &Resolver{
		tiers:        tiers,
		minNameScore: 0.5,
		tierTimeout:  10 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve walks the tiers in order and returns the first accepted candidate,
// or nil when the cascade is exhausted. Tier failures are logged and
// swallowed; one flaky tier never blocks the ones behind it.
func (r *Resolver) Resolve(ctx context.Context, q Query) *Match {
	q.Phone = NormalizePhone(q.Phone)
	if q.Empty() {
		return nil
	}

	for _, tier := range r.tiers {
		if ctx.Err() != nil {
			return nil
		}

		tierCtx, cancel := context.WithTimeout(ctx, r.tierTimeout)
		cand, err := tier.Lookup(tierCtx, q)
		cancel()

		if err != nil {
			zap.L().Warn("waterfall: tier lookup failed, falling through",
				zap.String("tier", tier.Name()),
				zap.Error(err),
			)
			if r.reporter != nil {
				r.reporter.ServiceFailure(tier.Name())
			}
			continue
		}
		if r.reporter != nil {
			r.reporter.ServiceRecovered(tier.Name())
		}
		if cand == nil || cand.Identifier == "" {
			continue
		}

		match := r.accept(q, tier.Name(), cand)
		if match == nil {
			zap.L().Debug("waterfall: candidate rejected by name gate",
				zap.String("tier", tier.Name()),
				zap.String("candidate_name", cand.Name),
			)
			continue
		}
		return match
	}

	return nil
}

// accept applies the name-match gate. A candidate passes when no name was
// supplied, when the tier returned no name to compare, or when the token
// overlap meets the minimum score.
func (r *Resolver) accept(q Query, source string, cand *Candidate) *Match {
	confidence := cand.Confidence
	if q.Name != "" && cand.Name != "" {
		score := NameMatchScore(q.Name, cand.Name)
		if score < r.minNameScore {
			return nil
		}
		confidence = score
	}
	return &Match{
		Identifier:  cand.Identifier,
		Source:      source,
		MatchedName: cand.Name,
		Confidence:  confidence,
	}
}
