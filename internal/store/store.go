// Package store persists leads and their enrichment records.
package store

import (
	"context"

	"github.com/ibvi/lead-enrich/internal/model"
)

// Store defines the persistence interface for the enrichment engine.
type Store interface {
	// Leads
	UpsertLead(ctx context.Context, lead model.Lead) error
	GetLead(ctx context.Context, leadID string) (*model.Lead, error)
	UpdateLeadPhone(ctx context.Context, leadID, phoneDigits string) error
	ListLeadsWithRawPhone(ctx context.Context, limit int) ([]model.Lead, error)

	// ListUnenrichedLeads returns leads with no enrichment record or one
	// still in pending, oldest first.
	ListUnenrichedLeads(ctx context.Context, limit int) ([]model.Lead, error)

	// Enrichment records
	GetRecord(ctx context.Context, leadID string) (*model.EnrichmentRecord, error)
	UpsertRecord(ctx context.Context, rec *model.EnrichmentRecord) error

	// ListRetryCandidates returns records in a retryable status with
	// retry_count below max, oldest retry first. Final backoff eligibility
	// is the retry policy's call, not the store's.
	ListRetryCandidates(ctx context.Context, maxRetries, limit int) ([]model.EnrichmentRecord, error)

	// IncrementRetry bumps retry_count, stamps last_retry_at and records the
	// failure reason.
	IncrementRetry(ctx context.Context, leadID, reason string) error

	// MarkFailed moves a record to the terminal failed status.
	MarkFailed(ctx context.Context, leadID, reason string) error

	// ListCompleted returns completed records for export, oldest first.
	ListCompleted(ctx context.Context, limit int) ([]model.EnrichmentRecord, error)

	// StatusCounts returns the record count per status.
	StatusCounts(ctx context.Context) (map[model.Status]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
