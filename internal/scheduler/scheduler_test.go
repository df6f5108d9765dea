package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibvi/lead-enrich/internal/enrich"
	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/store"
)

type slowProcessor struct {
	mu      sync.Mutex
	leads   []string
	retries []string
	delay   time.Duration
	block   chan struct{}
}

func (p *slowProcessor) ProcessLead(_ context.Context, lead model.Lead) (*model.EnrichmentRecord, error) {
	if p.block != nil {
		<-p.block
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leads = append(p.leads, lead.ID)
	return &model.EnrichmentRecord{LeadID: lead.ID, Status: model.StatusCompleted}, nil
}

func (p *slowProcessor) ProcessRecord(_ context.Context, rec model.EnrichmentRecord) (*model.EnrichmentRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, rec.LeadID)
	return &rec, nil
}

func (p *slowProcessor) seen() ([]string, []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.leads...), append([]string(nil), p.retries...)
}

func newSchedulerStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestRunCycleProcessesLeadsAndRetries(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "new-1", Phone: "11999998888", CreatedAt: base}))
	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "new-2", Phone: "11988887777", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "retry-1", Phone: "11977776666", CreatedAt: base}))
	require.NoError(t, st.UpsertRecord(ctx, &model.EnrichmentRecord{LeadID: "retry-1", Status: model.StatusUnenriched}))

	proc := &slowProcessor{}
	s := New(st, proc, Config{Policy: enrich.NewRetryPolicy(nil, 8)})

	require.True(t, s.RunCycle(ctx))

	leads, retries := proc.seen()
	assert.Equal(t, []string{"new-1", "new-2"}, leads)
	assert.Equal(t, []string{"retry-1"}, retries)

	status := s.Status()
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, 2, status.LastCycleLeads)
	assert.Equal(t, 1, status.LastCycleRetries)
	assert.Equal(t, 1, status.CyclesRun)
}

func TestRunCycleSkipsIneligibleRetries(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "lead-1", Phone: "11999998888"}))
	require.NoError(t, st.UpsertRecord(ctx, &model.EnrichmentRecord{LeadID: "lead-1", Status: model.StatusUnenriched}))
	// One retry just happened; the backoff has not elapsed.
	require.NoError(t, st.IncrementRetry(ctx, "lead-1", "no identifier resolved"))

	proc := &slowProcessor{}
	s := New(st, proc, Config{Policy: enrich.NewRetryPolicy(nil, 8)})

	require.True(t, s.RunCycle(ctx))
	_, retries := proc.seen()
	assert.Empty(t, retries)
}

func TestSingleFlightGuard(t *testing.T) {
	st := newSchedulerStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "lead-1", Phone: "11999998888"}))

	block := make(chan struct{})
	proc := &slowProcessor{block: block}
	s := New(st, proc, Config{Policy: enrich.NewRetryPolicy(nil, 8)})

	done := make(chan bool)
	go func() { done <- s.RunCycle(ctx) }()

	// Wait until the first cycle is inside the processor.
	require.Eventually(t, func() bool {
		return s.Status().State == StateRunning
	}, time.Second, 5*time.Millisecond)

	assert.False(t, s.TriggerNow(ctx), "overlapping trigger is skipped, not queued")

	close(block)
	assert.True(t, <-done)
	assert.Equal(t, 1, s.Status().CyclesSkipped)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	st := newSchedulerStore(t)
	proc := &slowProcessor{}
	s := New(st, proc, Config{
		Policy: enrich.NewRetryPolicy(nil, 8),
		Bands:  &BandTable{bands: []Band{{Name: "test", Start: 0, End: 24 * 60, Interval: time.Hour}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error)
	go func() { errCh <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return !s.Status().NextRunAt.IsZero()
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, StateStopped, s.Status().State)
}

func TestStatusReportsBandAndNextRun(t *testing.T) {
	st := newSchedulerStore(t)
	proc := &slowProcessor{}
	s := New(st, proc, Config{
		Policy: enrich.NewRetryPolicy(nil, 8),
		Bands:  &BandTable{bands: []Band{{Name: "always", Start: 0, End: 24 * 60, Interval: time.Hour}}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx) //nolint:errcheck

	require.Eventually(t, func() bool {
		return s.Status().CurrentBand == "always"
	}, time.Second, 5*time.Millisecond)
	status := s.Status()
	assert.Equal(t, time.Hour, status.CurrentInterval)
	assert.False(t, status.NextRunAt.IsZero())
}

func TestCycleStopsMidBatchOnCancel(t *testing.T) {
	st := newSchedulerStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.UpsertLead(context.Background(), model.Lead{ID: id, Phone: "11999998888", CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}

	proc := &slowProcessor{delay: 20 * time.Millisecond}
	s := New(st, proc, Config{Policy: enrich.NewRetryPolicy(nil, 8)})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	s.RunCycle(ctx)

	leads, _ := proc.seen()
	assert.Less(t, len(leads), 3, "cancellation stops the batch early")
}
