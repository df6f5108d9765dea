package enrich

import (
	"time"

	"github.com/ibvi/lead-enrich/internal/model"
)

// RetryPolicy decides when a non-terminal record may be retried. The backoff
// schedule is fixed, indexed by the record's retry count; there is no jitter
// so operators can predict exactly when a lead will be picked up again.
type RetryPolicy struct {
	Schedule   []time.Duration
	MaxRetries int
}

// DefaultSchedule doubles from one hour up to sixteen.
var DefaultSchedule = []time.Duration{
	1 * time.Hour,
	2 * time.Hour,
	4 * time.Hour,
	8 * time.Hour,
	16 * time.Hour,
}

// NewRetryPolicy builds a policy, falling back to defaults for zero values.
func NewRetryPolicy(schedule []time.Duration, maxRetries int) RetryPolicy {
	if len(schedule) == 0 {
		schedule = DefaultSchedule
	}
	if maxRetries <= 0 {
		maxRetries = 8
	}
	return RetryPolicy{Schedule: schedule, MaxRetries: maxRetries}
}

// NextDelay returns the wait before the retry following retryCount prior
// attempts. Counts past the end of the schedule clamp to the last entry.
func (p RetryPolicy) NextDelay(retryCount int) time.Duration {
	if len(p.Schedule) == 0 {
		return 0
	}
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= len(p.Schedule) {
		retryCount = len(p.Schedule) - 1
	}
	return p.Schedule[retryCount]
}

// IsEligible reports whether the record may be retried at the given instant.
// Terminal records and records that spent their retry budget are never
// eligible; a record that has not been retried yet always is.
func (p RetryPolicy) IsEligible(rec *model.EnrichmentRecord, now time.Time) bool {
	if rec == nil || !rec.Status.IsRetryable() {
		return false
	}
	if rec.RetryCount >= p.MaxRetries {
		return false
	}
	if rec.LastRetryAt == nil {
		return true
	}
	return !now.Before(rec.LastRetryAt.Add(p.NextDelay(rec.RetryCount)))
}

// Exhausted reports whether the record has no retry budget left.
func (p RetryPolicy) Exhausted(rec *model.EnrichmentRecord) bool {
	return rec != nil && rec.RetryCount >= p.MaxRetries
}
