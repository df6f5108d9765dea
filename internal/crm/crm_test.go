package crm

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/store"
	"github.com/ibvi/lead-enrich/pkg/salesforce"
)

type fakeSF struct {
	queryFn   func(ctx context.Context, soql string, out any) error
	inserted  []map[string]any
	updated   []map[string]any
	updates   []salesforce.CollectionRecord
	insertErr error
}

func (f *fakeSF) Query(ctx context.Context, soql string, out any) error {
	if f.queryFn == nil {
		return nil
	}
	return f.queryFn(ctx, soql, out)
}

func (f *fakeSF) InsertOne(_ context.Context, _ string, record map[string]any) (string, error) {
	if f.insertErr != nil {
		return "", f.insertErr
	}
	f.inserted = append(f.inserted, record)
	return "002xx", nil
}

func (f *fakeSF) UpdateOne(_ context.Context, _ string, id string, fields map[string]any) error {
	fields["Id"] = id
	f.updated = append(f.updated, fields)
	return nil
}

func (f *fakeSF) UpdateCollection(_ context.Context, _ string, records []salesforce.CollectionRecord) ([]salesforce.CollectionResult, error) {
	f.updates = append(f.updates, records...)
	results := make([]salesforce.CollectionResult, len(records))
	for i, r := range records {
		results[i] = salesforce.CollectionResult{ID: r.ID, Success: true}
	}
	return results, nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestNotifierPostsNoteAndStamp(t *testing.T) {
	sf := &fakeSF{}
	n := NewNotifier(sf, "Enrichment_Status__c")

	income := 12000.0
	birth := time.Date(1985, 6, 15, 0, 0, 0, 0, time.UTC)
	rec := &model.EnrichmentRecord{
		Status:              model.StatusCompleted,
		ResolvedIdentifier:  "12345678901",
		IdentifierSource:    "directd_phone",
		NameMatchConfidence: 0.8,
		Person: &model.Person{
			Name:      "MARIA DA SILVA",
			BirthDate: &birth,
			Income:    &income,
			Phones:    []string{"11999998888"},
		},
	}

	err := n.EnrichmentCompleted(context.Background(), model.Lead{ID: "00Qxx"}, rec)
	require.NoError(t, err)

	require.Len(t, sf.inserted, 1)
	note := sf.inserted[0]
	assert.Equal(t, "00Qxx", note["ParentId"])
	body := note["Body"].(string)
	assert.Contains(t, body, "12345678901")
	assert.Contains(t, body, "MARIA DA SILVA")
	assert.Contains(t, body, "1985-06-15")
	assert.Contains(t, body, "12000.00")

	require.Len(t, sf.updated, 1)
	assert.Equal(t, "completed", sf.updated[0]["Enrichment_Status__c"])
}

func TestNotifierWithoutStatusField(t *testing.T) {
	sf := &fakeSF{}
	n := NewNotifier(sf, "")
	rec := &model.EnrichmentRecord{Status: model.StatusCompleted, ResolvedIdentifier: "123"}

	require.NoError(t, n.EnrichmentCompleted(context.Background(), model.Lead{ID: "00Qxx"}, rec))
	assert.Len(t, sf.inserted, 1)
	assert.Empty(t, sf.updated)
}

func TestNotifierPropagatesNoteFailure(t *testing.T) {
	sf := &fakeSF{insertErr: errors.New("sf down")}
	n := NewNotifier(sf, "")
	rec := &model.EnrichmentRecord{Status: model.StatusCompleted}

	err := n.EnrichmentCompleted(context.Background(), model.Lead{ID: "00Qxx"}, rec)
	assert.Error(t, err)
}

func TestImportNormalizesPhones(t *testing.T) {
	st := newTestStore(t)
	sf := &fakeSF{
		queryFn: func(_ context.Context, soql string, out any) error {
			assert.Contains(t, soql, "FROM Lead")
			leads := out.(*[]salesforce.Lead)
			*leads = []salesforce.Lead{
				{ID: "00Q1", FirstName: "Ana", LastName: "Silva", MobilePhone: "5511999998888", Email: "ana@example.com"},
				{ID: "00Q2", LastName: "Souza", Phone: "(11) 3333-4444"},
			}
			return nil
		},
	}
	s := NewSyncer(sf, st)

	n, err := s.Import(context.Background(), time.Now().Add(-24*time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lead, err := st.GetLead(context.Background(), "00Q1")
	require.NoError(t, err)
	require.NotNil(t, lead)
	assert.Equal(t, "Ana Silva", lead.Name)
	assert.Equal(t, "11999998888", lead.PhoneDigits, "country prefix stripped on import")

	lead, err = st.GetLead(context.Background(), "00Q2")
	require.NoError(t, err)
	assert.Equal(t, "1133334444", lead.PhoneDigits)
}

func TestPushStatuses(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertLead(ctx, model.Lead{ID: "00Q1"}))
	now := time.Now().UTC()
	require.NoError(t, st.UpsertRecord(ctx, &model.EnrichmentRecord{LeadID: "00Q1", Status: model.StatusCompleted, EnrichedAt: &now}))

	sf := &fakeSF{}
	s := NewSyncer(sf, st)

	n, err := s.PushStatuses(ctx, "Enrichment_Status__c", 100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sf.updates, 1)
	assert.Equal(t, "00Q1", sf.updates[0].ID)
	assert.Equal(t, "completed", sf.updates[0].Fields["Enrichment_Status__c"])

	_, err = s.PushStatuses(ctx, "", 100)
	assert.Error(t, err)
}
