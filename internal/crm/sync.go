package crm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ibvi/lead-enrich/internal/db"
	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/store"
	"github.com/ibvi/lead-enrich/internal/waterfall"
	"github.com/ibvi/lead-enrich/pkg/salesforce"
)

// importWorkers bounds concurrent upserts during Import. The sqlite backend
// serializes writes on its single connection regardless.
const importWorkers = 8

// Syncer moves leads from Salesforce into local storage and pushes
// enrichment outcomes back.
type Syncer struct {
	client salesforce.Client
	store  store.Store
}

func NewSyncer(client salesforce.Client, st store.Store) *Syncer {
	return &Syncer{client: client, store: st}
}

// Import fetches leads created after since and upserts them locally, with
// phone digits normalized on the way in. Returns the number imported.
func (s *Syncer) Import(ctx context.Context, since time.Time, limit int) (int, error) {
	sfLeads, err := salesforce.FetchLeadsSince(ctx, s.client, since, limit)
	if err != nil {
		return 0, eris.Wrap(err, "crm: fetch leads")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importWorkers)
	for _, sl := range sfLeads {
		lead := toModel(sl)
		g.Go(func() error {
			if err := s.store.UpsertLead(gctx, lead); err != nil {
				return eris.Wrapf(err, "crm: import lead %s", lead.ID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	zap.L().Info("crm: leads imported", zap.Int("count", len(sfLeads)))
	return len(sfLeads), nil
}

// BulkLoad imports leads straight into Postgres via COPY. Intended for the
// initial backfill of an empty leads table; it does not upsert.
func (s *Syncer) BulkLoad(ctx context.Context, pool db.Pool, since time.Time, limit int) (int, error) {
	sfLeads, err := salesforce.FetchLeadsSince(ctx, s.client, since, limit)
	if err != nil {
		return 0, eris.Wrap(err, "crm: fetch leads")
	}
	if len(sfLeads) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(sfLeads))
	for _, sl := range sfLeads {
		lead := toModel(sl)
		rows = append(rows, []any{lead.ID, lead.Name, lead.Phone, lead.PhoneDigits, lead.Email, lead.CreatedAt})
	}
	n, err := db.CopyFrom(ctx, pool, "leads",
		[]string{"id", "name", "phone", "phone_digits", "email", "created_at"}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "crm: bulk load leads")
	}
	zap.L().Info("crm: leads bulk loaded", zap.Int64("count", n))
	return int(n), nil
}

// PushStatuses writes each completed record's status back to its Salesforce
// Lead via the given custom field, batched through the Collections API.
func (s *Syncer) PushStatuses(ctx context.Context, statusField string, limit int) (int, error) {
	if statusField == "" {
		return 0, eris.New("crm: status field is required")
	}
	recs, err := s.store.ListCompleted(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "crm: list completed")
	}
	if len(recs) == 0 {
		return 0, nil
	}

	updates := make([]salesforce.LeadUpdate, 0, len(recs))
	for _, rec := range recs {
		updates = append(updates, salesforce.LeadUpdate{
			ID:     rec.LeadID,
			Fields: map[string]any{statusField: string(rec.Status)},
		})
	}
	results, err := salesforce.BulkUpdateLeads(ctx, s.client, updates)
	if err != nil {
		return 0, eris.Wrap(err, "crm: push statuses")
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			zap.L().Warn("crm: status push rejected", zap.String("sf_id", r.ID), zap.Strings("errors", r.Errors))
		}
	}
	return ok, nil
}

func toModel(sl salesforce.Lead) model.Lead {
	createdAt := sl.CreatedAt()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	phone := sl.BestPhone()
	return model.Lead{
		ID:          sl.ID,
		Name:        sl.FullName(),
		Phone:       phone,
		PhoneDigits: waterfall.NormalizePhone(phone),
		Email:       sl.Email,
		CreatedAt:   createdAt,
	}
}
