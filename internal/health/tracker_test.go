package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	alerts []Alert
	err    error
}

func (s *captureSink) Dispatch(_ context.Context, alert Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *captureSink) byType(t AlertType) []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Alert
	for _, a := range s.alerts {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// fixedClock steps time manually for deterministic tests.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestTracker(sink Sink, cooldown time.Duration) (*Tracker, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)}
	alerter := NewAlerter(sink, cooldown)
	alerter.nowFunc = clock.Now
	tr := NewTracker(TrackerConfig{
		Window:             10 * time.Minute,
		MinSamples:         10,
		ErrorRateThreshold: 0.5,
		DownAfter:          5 * time.Minute,
	}, alerter)
	tr.nowFunc = clock.Now
	return tr, clock
}

func TestHighErrorRate_DispatchedOncePerCooldown(t *testing.T) {
	sink := &captureSink{}
	tr, clock := newTestTracker(sink, 30*time.Minute)
	ctx := context.Background()

	// 15 consecutive failures inside the window, min samples 10
	for i := 0; i < 15; i++ {
		tr.RecordOutcome(ctx, false)
	}
	require.Len(t, sink.byType(AlertHighErrorRate), 1)

	// a 16th failure one second later does not re-dispatch
	clock.Advance(time.Second)
	tr.RecordOutcome(ctx, false)
	assert.Len(t, sink.byType(AlertHighErrorRate), 1)
}

func TestHighErrorRate_NotBeforeMinSamples(t *testing.T) {
	sink := &captureSink{}
	tr, _ := newTestTracker(sink, 30*time.Minute)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		tr.RecordOutcome(ctx, false)
	}
	assert.Empty(t, sink.byType(AlertHighErrorRate))
}

func TestServiceDown_AlertAfterDuration(t *testing.T) {
	sink := &captureSink{}
	tr, clock := newTestTracker(sink, 30*time.Minute)

	tr.ServiceFailure("directd")
	assert.Empty(t, sink.byType(AlertServiceDown), "first failure alone must not alert")

	clock.Advance(6 * time.Minute)
	tr.ServiceFailure("directd")
	require.Len(t, sink.byType(AlertServiceDown), 1)

	// outage continues within the cooldown: no re-fire
	clock.Advance(time.Minute)
	tr.ServiceFailure("directd")
	assert.Len(t, sink.byType(AlertServiceDown), 1)

	// after the cooldown the continuing outage re-fires
	clock.Advance(30 * time.Minute)
	tr.ServiceFailure("directd")
	assert.Len(t, sink.byType(AlertServiceDown), 2)
}

func TestServiceRecovered_ResetsDownTracking(t *testing.T) {
	sink := &captureSink{}
	tr, clock := newTestTracker(sink, 30*time.Minute)

	tr.ServiceFailure("directd")
	clock.Advance(4 * time.Minute)
	tr.ServiceRecovered("directd")

	// downtime restarted: another failure is 0 minutes down, no alert
	clock.Advance(4 * time.Minute)
	tr.ServiceFailure("directd")
	assert.Empty(t, sink.byType(AlertServiceDown))

	snap := tr.Snapshot()
	require.Len(t, snap.Dependencies, 1)
	assert.Equal(t, "directd", snap.Dependencies[0].Name)
	assert.False(t, snap.Dependencies[0].Up)
	assert.NotNil(t, snap.Dependencies[0].LastSuccessAt)
}

func TestLeadExhausted_DedicatedType(t *testing.T) {
	sink := &captureSink{}
	tr, _ := newTestTracker(sink, 30*time.Minute)

	tr.LeadExhausted(context.Background(), "L-42", 8, "fetch timed out")
	alerts := sink.byType(AlertEnrichmentExhausted)
	require.Len(t, alerts, 1)
	assert.Equal(t, "L-42", alerts[0].Details["lead_id"])
	assert.Equal(t, 8, alerts[0].Details["retry_count"])
}

func TestSnapshot_RateKnown(t *testing.T) {
	tr, _ := newTestTracker(&captureSink{}, 30*time.Minute)
	ctx := context.Background()

	snap := tr.Snapshot()
	assert.False(t, snap.RateKnown)

	for i := 0; i < 10; i++ {
		tr.RecordOutcome(ctx, i%2 == 0)
	}
	snap = tr.Snapshot()
	assert.True(t, snap.RateKnown)
	assert.InDelta(t, 0.5, snap.ErrorRate, 0.001)
	assert.Equal(t, 10, snap.Samples)
}

func TestAlerter_SinkFailureSwallowed(t *testing.T) {
	sink := &captureSink{err: assert.AnError}
	a := NewAlerter(sink, time.Minute)

	sent := a.Dispatch(context.Background(), Alert{Type: AlertHighErrorRate, Severity: "high"})
	assert.False(t, sent)
}

func TestAlerter_NilSink(t *testing.T) {
	a := NewAlerter(nil, time.Minute)
	assert.False(t, a.Dispatch(context.Background(), Alert{Type: AlertServiceDown}))
}
