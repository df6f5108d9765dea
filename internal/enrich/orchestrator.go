package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/person"
	"github.com/ibvi/lead-enrich/internal/store"
	"github.com/ibvi/lead-enrich/internal/waterfall"
)

// Resolver finds a national identifier for a lead's contact data. Tier
// failures never surface here; a nil match is the only "not found" signal.
type Resolver interface {
	Resolve(ctx context.Context, q waterfall.Query) *waterfall.Match
}

// Fetcher retrieves full person data for a resolved identifier.
type Fetcher interface {
	ByIdentifier(ctx context.Context, identifier string) person.Result
}

// Monitor receives orchestration outcomes and dependency health signals.
type Monitor interface {
	RecordOutcome(ctx context.Context, success bool)
	ServiceFailure(name string)
	ServiceRecovered(name string)
	LeadExhausted(ctx context.Context, leadID string, retryCount int, lastErr string)
}

// Notifier is told about completed enrichments so the CRM can surface them.
// Failures are logged and never affect the record.
type Notifier interface {
	EnrichmentCompleted(ctx context.Context, lead model.Lead, rec *model.EnrichmentRecord) error
}

// Orchestrator drives a single lead through resolution and fetch, owning all
// status transitions. One call makes at most one resolution attempt and one
// fetch attempt; how often a lead is revisited is the scheduler's concern.
type Orchestrator struct {
	store    store.Store
	resolver Resolver
	fetcher  Fetcher
	policy   RetryPolicy
	monitor  Monitor
	notifier Notifier
	nowFunc  func() time.Time
}

type Option func(*Orchestrator)

// WithNotifier enables CRM completion notes.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func New(st store.Store, resolver Resolver, fetcher Fetcher, policy RetryPolicy, monitor Monitor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		resolver: resolver,
		fetcher:  fetcher,
		policy:   policy,
		monitor:  monitor,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Policy exposes the retry policy so the scheduler can filter candidates.
func (o *Orchestrator) Policy() RetryPolicy {
	return o.policy
}

// ProcessLead runs one enrichment attempt for the lead. Terminal records are
// returned untouched. Panics and unexpected errors are converted into a
// retryable outcome so one bad lead cannot abort a batch.
func (o *Orchestrator) ProcessLead(ctx context.Context, lead model.Lead) (rec *model.EnrichmentRecord, err error) {
	log := zap.L().With(zap.String("lead_id", lead.ID))

	rec, err = o.store.GetRecord(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	if rec != nil && rec.Status.IsTerminal() {
		log.Debug("enrich: record already terminal", zap.String("status", string(rec.Status)))
		return rec, nil
	}
	if rec == nil {
		rec = &model.EnrichmentRecord{LeadID: lead.ID, Status: model.StatusPending}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("enrich: recovered from panic", zap.Any("panic", r))
			o.monitor.RecordOutcome(ctx, false)
			rec, err = o.retryable(ctx, lead, rec, rec.Status, fmt.Sprintf("unexpected failure: %v", r))
		}
	}()

	if !rec.HasIdentifier() {
		match := o.resolver.Resolve(ctx, waterfall.Query{
			Phone: leadPhone(lead),
			Email: lead.Email,
			Name:  lead.Name,
		})
		if match == nil {
			log.Info("enrich: no identifier resolved")
			o.monitor.RecordOutcome(ctx, true)
			return o.retryable(ctx, lead, rec, model.StatusUnenriched, "no identifier resolved")
		}
		rec.ResolvedIdentifier = match.Identifier
		rec.IdentifierSource = match.Source
		rec.NameMatchConfidence = match.Confidence
	}

	res := o.fetcher.ByIdentifier(ctx, rec.ResolvedIdentifier)
	switch {
	case res.TimedOut:
		log.Warn("enrich: person fetch timed out", zap.String("source", rec.IdentifierSource))
		o.monitor.RecordOutcome(ctx, false)
		o.monitor.ServiceFailure(person.DependencyName)
		return o.retryable(ctx, lead, rec, model.StatusPartial, "person fetch timed out")
	case res.Err != nil:
		log.Warn("enrich: person fetch failed", zap.Error(res.Err))
		o.monitor.RecordOutcome(ctx, false)
		o.monitor.ServiceFailure(person.DependencyName)
		return o.retryable(ctx, lead, rec, model.StatusPartial, "person fetch failed: "+res.Err.Error())
	case res.Person == nil:
		log.Info("enrich: no person data for identifier")
		o.monitor.RecordOutcome(ctx, true)
		o.monitor.ServiceRecovered(person.DependencyName)
		return o.retryable(ctx, lead, rec, model.StatusPartial, "no person data for identifier")
	}

	now := o.nowFunc().UTC()
	rec.Status = model.StatusCompleted
	rec.Person = res.Person
	rec.EnrichedAt = &now
	rec.LastError = ""
	if err := o.store.UpsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	o.monitor.RecordOutcome(ctx, true)
	o.monitor.ServiceRecovered(person.DependencyName)
	log.Info("enrich: lead completed",
		zap.String("source", rec.IdentifierSource),
		zap.Float64("confidence", rec.NameMatchConfidence))

	if o.notifier != nil {
		if nerr := o.notifier.EnrichmentCompleted(ctx, lead, rec); nerr != nil {
			log.Warn("enrich: completion note failed", zap.Error(nerr))
		}
	}
	return rec, nil
}

// retryable persists a non-terminal outcome, charges one retry, and fails the
// record once the budget is spent.
func (o *Orchestrator) retryable(ctx context.Context, lead model.Lead, rec *model.EnrichmentRecord, status model.Status, reason string) (*model.EnrichmentRecord, error) {
	if !status.IsRetryable() {
		status = model.StatusUnenriched
	}
	rec.Status = status
	rec.Person = nil
	if err := o.store.UpsertRecord(ctx, rec); err != nil {
		return nil, err
	}
	if err := o.store.IncrementRetry(ctx, lead.ID, reason); err != nil {
		return nil, err
	}
	now := o.nowFunc().UTC()
	rec.RetryCount++
	rec.LastRetryAt = &now
	rec.LastError = reason

	if o.policy.Exhausted(rec) {
		failReason := "retry budget exhausted: " + reason
		if err := o.store.MarkFailed(ctx, lead.ID, failReason); err != nil {
			return nil, err
		}
		rec.Status = model.StatusFailed
		rec.LastError = failReason
		o.monitor.LeadExhausted(ctx, lead.ID, rec.RetryCount, reason)
		zap.L().Warn("enrich: lead failed after max retries",
			zap.String("lead_id", lead.ID),
			zap.Int("retry_count", rec.RetryCount))
	}
	return rec, nil
}

// ProcessRecord re-runs enrichment for an existing retryable record.
func (o *Orchestrator) ProcessRecord(ctx context.Context, rec model.EnrichmentRecord) (*model.EnrichmentRecord, error) {
	lead, err := o.store.GetLead(ctx, rec.LeadID)
	if err != nil {
		return nil, err
	}
	if lead == nil {
		return nil, eris.Errorf("enrich: lead not found: %s", rec.LeadID)
	}
	return o.ProcessLead(ctx, *lead)
}

func leadPhone(lead model.Lead) string {
	if lead.PhoneDigits != "" {
		return lead.PhoneDigits
	}
	return lead.Phone
}
