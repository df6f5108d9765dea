package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/ibvi/lead-enrich/internal/model"
)

// SQLiteStore implements Store on a local file, used for single-node
// deployments and development.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) a SQLite database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// The scheduler and the HTTP server share the store; a single writer
	// connection avoids SQLITE_BUSY under modernc's driver.
	sqlDB.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	phone_digits TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	id                    TEXT PRIMARY KEY,
	lead_id               TEXT NOT NULL UNIQUE REFERENCES leads(id),
	status                TEXT NOT NULL DEFAULT 'pending',
	resolved_identifier   TEXT NOT NULL DEFAULT '',
	identifier_source     TEXT NOT NULL DEFAULT '',
	name_match_confidence REAL NOT NULL DEFAULT 0,
	person                TEXT,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	last_retry_at         TIMESTAMP,
	last_error            TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMP NOT NULL,
	enriched_at           TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_records_status ON enrichment_records(status);
CREATE INDEX IF NOT EXISTS idx_records_status_retry ON enrichment_records(status, retry_count, last_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return eris.Wrap(s.db.Close(), "sqlite: close")
}

func (s *SQLiteStore) UpsertLead(ctx context.Context, lead model.Lead) error {
	if lead.ID == "" {
		return eris.New("sqlite: lead id is required")
	}
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (id, name, phone, phone_digits, email, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = excluded.name, phone = excluded.phone,
		   phone_digits = excluded.phone_digits, email = excluded.email`,
		lead.ID, lead.Name, lead.Phone, lead.PhoneDigits, lead.Email, createdAt,
	)
	return eris.Wrapf(err, "sqlite: upsert lead %s", lead.ID)
}

func (s *SQLiteStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	var l model.Lead
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, phone_digits, email, created_at FROM leads WHERE id = ?`,
		leadID,
	).Scan(&l.ID, &l.Name, &l.Phone, &l.PhoneDigits, &l.Email, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", leadID)
	}
	return &l, nil
}

func (s *SQLiteStore) UpdateLeadPhone(ctx context.Context, leadID, phoneDigits string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET phone_digits = ? WHERE id = ?`,
		phoneDigits, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead phone %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("lead not found: %s", leadID)
	}
	return nil
}

func (s *SQLiteStore) ListLeadsWithRawPhone(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, phone_digits, email, created_at FROM leads
		 WHERE phone <> '' AND phone_digits = ''
		 ORDER BY created_at ASC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads with raw phone")
	}
	defer rows.Close()
	return scanSQLLeads(rows)
}

func (s *SQLiteStore) ListUnenrichedLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT l.id, l.name, l.phone, l.phone_digits, l.email, l.created_at
		 FROM leads l
		 LEFT JOIN enrichment_records r ON r.lead_id = l.id
		 WHERE r.id IS NULL OR r.status = 'pending'
		 ORDER BY l.created_at ASC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unenriched leads")
	}
	defer rows.Close()
	return scanSQLLeads(rows)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, leadID string) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records WHERE lead_id = ?`,
		leadID,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get record for lead %s", leadID)
	}
	return rec, nil
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.LeadID == "" {
		return eris.New("sqlite: record lead id is required")
	}
	if !rec.Status.Valid() {
		return eris.Errorf("sqlite: invalid status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var personJSON any
	if rec.Person != nil {
		b, err := json.Marshal(rec.Person)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal person")
		}
		personJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_records
		   (id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		    person, retry_count, last_retry_at, last_error, created_at, enriched_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   status = excluded.status, resolved_identifier = excluded.resolved_identifier,
		   identifier_source = excluded.identifier_source, name_match_confidence = excluded.name_match_confidence,
		   person = excluded.person, retry_count = excluded.retry_count,
		   last_retry_at = excluded.last_retry_at, last_error = excluded.last_error,
		   enriched_at = excluded.enriched_at
		 WHERE enrichment_records.status NOT IN ('completed', 'failed')`,
		rec.ID, rec.LeadID, string(rec.Status), rec.ResolvedIdentifier, rec.IdentifierSource,
		rec.NameMatchConfidence, personJSON, rec.RetryCount, rec.LastRetryAt, rec.LastError,
		rec.CreatedAt, rec.EnrichedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert record for lead %s", rec.LeadID)
}

func (s *SQLiteStore) ListRetryCandidates(ctx context.Context, maxRetries, limit int) ([]model.EnrichmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records
		 WHERE status IN ('partial', 'unenriched') AND retry_count < ?
		 ORDER BY last_retry_at IS NOT NULL, last_retry_at ASC, created_at ASC
		 LIMIT ?`,
		maxRetries, normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list retry candidates")
	}
	defer rows.Close()
	return scanSQLRecords(rows)
}

func (s *SQLiteStore) IncrementRetry(ctx context.Context, leadID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_records SET retry_count = retry_count + 1, last_retry_at = ?, last_error = ?
		 WHERE lead_id = ? AND status NOT IN ('completed', 'failed')`,
		time.Now().UTC(), reason, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment retry for lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("no retryable record for lead: %s", leadID)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, leadID, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_records SET status = 'failed', last_error = ?
		 WHERE lead_id = ? AND status NOT IN ('completed', 'failed')`,
		reason, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark failed for lead %s", leadID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("no active record for lead: %s", leadID)
	}
	return nil
}

func (s *SQLiteStore) ListCompleted(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records
		 WHERE status = 'completed'
		 ORDER BY enriched_at ASC
		 LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list completed")
	}
	defer rows.Close()
	return scanSQLRecords(rows)
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enrichment_records GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: status counts iterate")
}

func scanSQLLeads(rows *sql.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone, &l.PhoneDigits, &l.Email, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: iterate leads")
}

func scanSQLRecords(rows *sql.Rows) ([]model.EnrichmentRecord, error) {
	var recs []model.EnrichmentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: iterate records")
}
