package enrich

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/person"
	"github.com/ibvi/lead-enrich/internal/store"
	"github.com/ibvi/lead-enrich/internal/waterfall"
)

type fakeResolver struct {
	match *waterfall.Match
	calls int
	panic bool
}

func (f *fakeResolver) Resolve(_ context.Context, _ waterfall.Query) *waterfall.Match {
	f.calls++
	if f.panic {
		panic("resolver blew up")
	}
	return f.match
}

type fakeFetcher struct {
	result person.Result
	calls  int
}

func (f *fakeFetcher) ByIdentifier(_ context.Context, _ string) person.Result {
	f.calls++
	return f.result
}

type fakeMonitor struct {
	outcomes  []bool
	failures  []string
	recovered []string
	exhausted []string
}

func (m *fakeMonitor) RecordOutcome(_ context.Context, success bool) {
	m.outcomes = append(m.outcomes, success)
}
func (m *fakeMonitor) ServiceFailure(name string)   { m.failures = append(m.failures, name) }
func (m *fakeMonitor) ServiceRecovered(name string) { m.recovered = append(m.recovered, name) }
func (m *fakeMonitor) LeadExhausted(_ context.Context, leadID string, _ int, _ string) {
	m.exhausted = append(m.exhausted, leadID)
}

type fakeNotifier struct {
	leads []string
	err   error
}

func (n *fakeNotifier) EnrichmentCompleted(_ context.Context, lead model.Lead, _ *model.EnrichmentRecord) error {
	n.leads = append(n.leads, lead.ID)
	return n.err
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedLead(t *testing.T, s store.Store, id string) model.Lead {
	t.Helper()
	lead := model.Lead{ID: id, Name: "Ana Silva", Phone: "5511999998888", PhoneDigits: "11999998888", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.UpsertLead(context.Background(), lead))
	return lead
}

func match() *waterfall.Match {
	return &waterfall.Match{Identifier: "12345678900", Source: "directd_email", MatchedName: "ANA SILVA", Confidence: 0.95}
}

func TestProcessLeadCompleted(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	fetcher := &fakeFetcher{result: person.Result{Person: &model.Person{Name: "ANA SILVA"}}}
	o := New(s, &fakeResolver{match: match()}, fetcher, NewRetryPolicy(nil, 8), monitor)

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, "12345678900", rec.ResolvedIdentifier)
	assert.Equal(t, "directd_email", rec.IdentifierSource)
	require.NotNil(t, rec.EnrichedAt)
	assert.Equal(t, []bool{true}, monitor.outcomes)
	assert.Equal(t, []string{person.DependencyName}, monitor.recovered)

	// Persisted as terminal.
	stored, err := s.GetRecord(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	require.NotNil(t, stored.Person)
}

func TestProcessLeadNoIdentifier(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	fetcher := &fakeFetcher{}
	o := New(s, &fakeResolver{}, fetcher, NewRetryPolicy(nil, 8), monitor)

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnenriched, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "no identifier resolved", rec.LastError)
	assert.Zero(t, fetcher.calls, "no fetch without an identifier")
	assert.Equal(t, []bool{true}, monitor.outcomes, "waterfall exhaustion is not a dependency error")
}

func TestProcessLeadFetchTimeout(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	o := New(s, &fakeResolver{match: match()}, &fakeFetcher{result: person.Result{TimedOut: true}}, NewRetryPolicy(nil, 8), monitor)

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, rec.Status)
	assert.Equal(t, "12345678900", rec.ResolvedIdentifier, "identifier preserved for retry")
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, []bool{false}, monitor.outcomes)
	assert.Equal(t, []string{person.DependencyName}, monitor.failures)
}

func TestProcessLeadFetchNoData(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	o := New(s, &fakeResolver{match: match()}, &fakeFetcher{}, NewRetryPolicy(nil, 8), monitor)

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartial, rec.Status)
	assert.Equal(t, []bool{true}, monitor.outcomes)
	assert.Equal(t, []string{person.DependencyName}, monitor.recovered)
}

func TestRetrySkipsResolution(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	resolver := &fakeResolver{match: match()}
	fetcher := &fakeFetcher{result: person.Result{TimedOut: true}}
	monitor := &fakeMonitor{}
	o := New(s, resolver, fetcher, NewRetryPolicy(nil, 8), monitor)

	ctx := context.Background()
	_, err := o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	require.Equal(t, 1, resolver.calls)

	// The dependency comes back; the retry must reuse the stored identifier.
	fetcher.result = person.Result{Person: &model.Person{Name: "ANA SILVA"}}
	rec, err := o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, 1, resolver.calls, "resolution is not repeated for partial records")
	assert.Equal(t, 2, fetcher.calls)
}

func TestTerminalRecordsAreNotReprocessed(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	resolver := &fakeResolver{match: match()}
	fetcher := &fakeFetcher{result: person.Result{Person: &model.Person{Name: "ANA SILVA"}}}
	o := New(s, resolver, fetcher, NewRetryPolicy(nil, 8), &fakeMonitor{})

	ctx := context.Background()
	_, err := o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	rec, err := o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, 1, fetcher.calls)
}

func TestMaxRetriesMarksFailed(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	o := New(s, &fakeResolver{}, &fakeFetcher{}, NewRetryPolicy(nil, 2), monitor)

	ctx := context.Background()
	rec, err := o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnenriched, rec.Status)

	rec, err = o.ProcessLead(ctx, lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, []string{"lead-1"}, monitor.exhausted)

	stored, err := s.GetRecord(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, stored.Status)
	assert.Contains(t, stored.LastError, "retry budget exhausted")
}

func TestResolverPanicBecomesRetryable(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	monitor := &fakeMonitor{}
	o := New(s, &fakeResolver{panic: true}, &fakeFetcher{}, NewRetryPolicy(nil, 8), monitor)

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnenriched, rec.Status)
	assert.Contains(t, rec.LastError, "unexpected failure")
	assert.Equal(t, []bool{false}, monitor.outcomes)
}

func TestNotifierCalledOnCompletion(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	notifier := &fakeNotifier{}
	o := New(s, &fakeResolver{match: match()},
		&fakeFetcher{result: person.Result{Person: &model.Person{Name: "ANA SILVA"}}},
		NewRetryPolicy(nil, 8), &fakeMonitor{}, WithNotifier(notifier))

	_, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, []string{"lead-1"}, notifier.leads)
}

func TestNotifierFailureDoesNotAffectRecord(t *testing.T) {
	s := newTestStore(t)
	lead := seedLead(t, s, "lead-1")
	notifier := &fakeNotifier{err: errors.New("crm down")}
	o := New(s, &fakeResolver{match: match()},
		&fakeFetcher{result: person.Result{Person: &model.Person{Name: "ANA SILVA"}}},
		NewRetryPolicy(nil, 8), &fakeMonitor{}, WithNotifier(notifier))

	rec, err := o.ProcessLead(context.Background(), lead)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)
}

func TestProcessRecord(t *testing.T) {
	s := newTestStore(t)
	seedLead(t, s, "lead-1")
	o := New(s, &fakeResolver{match: match()},
		&fakeFetcher{result: person.Result{Person: &model.Person{Name: "ANA SILVA"}}},
		NewRetryPolicy(nil, 8), &fakeMonitor{})

	ctx := context.Background()
	require.NoError(t, s.UpsertRecord(ctx, &model.EnrichmentRecord{LeadID: "lead-1", Status: model.StatusUnenriched}))

	rec, err := o.ProcessRecord(ctx, model.EnrichmentRecord{LeadID: "lead-1", Status: model.StatusUnenriched})
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, rec.Status)

	_, err = o.ProcessRecord(ctx, model.EnrichmentRecord{LeadID: "ghost"})
	assert.Error(t, err)
}
