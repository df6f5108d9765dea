package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// depState tracks one dependency's up/down condition. Reset on process
// restart; alerting history is deliberately not durable.
type depState struct {
	downSince     *time.Time
	lastSuccessAt *time.Time
}

// DependencyStatus is the externally visible health of one dependency.
type DependencyStatus struct {
	Name          string     `json:"name"`
	Up            bool       `json:"up"`
	DownSince     *time.Time `json:"down_since,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// Snapshot is the operator-facing view of tracker state.
type Snapshot struct {
	ErrorRate    float64            `json:"error_rate"`
	RateKnown    bool               `json:"rate_known"`
	Samples      int                `json:"samples"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// TrackerConfig holds tracker thresholds.
type TrackerConfig struct {
	Window             time.Duration
	MinSamples         int
	ErrorRateThreshold float64
	DownAfter          time.Duration
}

// Tracker records orchestration outcomes and per-dependency health, raising
// alerts through a rate-limited Alerter when thresholds are crossed.
type Tracker struct {
	cfg     TrackerConfig
	window  *ErrorWindow
	alerter *Alerter

	mu      sync.Mutex
	deps    map[string]*depState
	nowFunc func() time.Time
}

// NewTracker creates a Tracker. alerter may be nil, in which case thresholds
// are still evaluated but nothing is dispatched.
func NewTracker(cfg TrackerConfig, alerter *Alerter) *Tracker {
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = 0.5
	}
	if cfg.DownAfter <= 0 {
		cfg.DownAfter = 5 * time.Minute
	}
	return &Tracker{
		cfg:     cfg,
		window:  NewErrorWindow(cfg.Window, cfg.MinSamples),
		alerter: alerter,
		deps:    make(map[string]*depState),
		nowFunc: time.Now,
	}
}

// RecordOutcome appends one orchestration outcome to the sliding window and
// evaluates the error-rate threshold.
func (t *Tracker) RecordOutcome(ctx context.Context, success bool) {
	now := t.nowFunc()
	t.window.Record(now, success)

	rate, known := t.window.Rate(now)
	if !known || rate < t.cfg.ErrorRateThreshold {
		return
	}
	t.dispatch(ctx, Alert{
		Type:     AlertHighErrorRate,
		Severity: "high",
		Message: fmt.Sprintf("enrichment error rate %.0f%% over the last %s exceeds %.0f%%",
			rate*100, t.cfg.Window, t.cfg.ErrorRateThreshold*100),
		Details: map[string]any{
			"error_rate": rate,
			"threshold":  t.cfg.ErrorRateThreshold,
			"samples":    t.window.Samples(now),
		},
	})
}

// ServiceFailure marks a dependency failure. The dependency goes down on its
// first failure; once continuous downtime exceeds the configured duration a
// service_down alert fires (re-firing only after the alerter cooldown).
func (t *Tracker) ServiceFailure(name string) {
	t.serviceFailureCtx(context.Background(), name)
}

func (t *Tracker) serviceFailureCtx(ctx context.Context, name string) {
	now := t.nowFunc()

	t.mu.Lock()
	st := t.dep(name)
	if st.downSince == nil {
		down := now
		st.downSince = &down
	}
	downFor := now.Sub(*st.downSince)
	t.mu.Unlock()

	if downFor < t.cfg.DownAfter {
		return
	}
	t.dispatch(ctx, Alert{
		Type:     AlertServiceDown,
		Severity: "critical",
		Message:  fmt.Sprintf("dependency %s has been down for %s", name, downFor.Round(time.Second)),
		Details: map[string]any{
			"dependency": name,
			"down_for":   downFor.String(),
		},
	})
}

// ServiceRecovered marks a dependency success. One success is sufficient
// evidence of recovery; the waterfall already tolerates individual flakiness.
func (t *Tracker) ServiceRecovered(name string) {
	now := t.nowFunc()
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.dep(name)
	st.downSince = nil
	st.lastSuccessAt = &now
}

// LeadExhausted raises the dedicated alert for a lead that ran out of
// retries.
func (t *Tracker) LeadExhausted(ctx context.Context, leadID string, retryCount int, lastErr string) {
	t.dispatch(ctx, Alert{
		Type:     AlertEnrichmentExhausted,
		Severity: "warning",
		Message:  fmt.Sprintf("lead %s exhausted its %d enrichment retries", leadID, retryCount),
		Details: map[string]any{
			"lead_id":     leadID,
			"retry_count": retryCount,
			"last_error":  lastErr,
		},
	})
}

// Snapshot returns the current error rate and per-dependency health.
func (t *Tracker) Snapshot() Snapshot {
	now := t.nowFunc()
	rate, known := t.window.Rate(now)

	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ErrorRate: rate,
		RateKnown: known,
		Samples:   t.window.Samples(now),
	}
	for name, st := range t.deps {
		snap.Dependencies = append(snap.Dependencies, DependencyStatus{
			Name:          name,
			Up:            st.downSince == nil,
			DownSince:     st.downSince,
			LastSuccessAt: st.lastSuccessAt,
		})
	}
	return snap
}

// dep returns the state for a dependency, creating it on first sight.
// Caller holds the lock.
func (t *Tracker) dep(name string) *depState {
	st, ok := t.deps[name]
	if !ok {
		st = &depState{}
		t.deps[name] = st
	}
	return st
}

func (t *Tracker) dispatch(ctx context.Context, alert Alert) {
	if t.alerter == nil {
		return
	}
	t.alerter.Dispatch(ctx, alert)
}
