package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/ibvi/lead-enrich/internal/db"
	"github.com/ibvi/lead-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for the
// hot path of every scheduler cycle.
var preparedStatements = map[string]string{
	"get_lead":          `SELECT id, name, phone, phone_digits, email, created_at FROM leads WHERE id = $1`,
	"get_record":        `SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence, person, retry_count, last_retry_at, last_error, created_at, enriched_at FROM enrichment_records WHERE lead_id = $1`,
	"increment_retry":   `UPDATE enrichment_records SET retry_count = retry_count + 1, last_retry_at = $1, last_error = $2 WHERE lead_id = $3 AND status NOT IN ('completed', 'failed')`,
	"mark_failed":       `UPDATE enrichment_records SET status = 'failed', last_error = $1 WHERE lead_id = $2 AND status NOT IN ('completed', 'failed')`,
	"update_lead_phone": `UPDATE leads SET phone_digits = $1 WHERE id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool for subsystems that need direct access
// (e.g., the CRM sync's bulk COPY).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL DEFAULT '',
	phone        TEXT NOT NULL DEFAULT '',
	phone_digits TEXT NOT NULL DEFAULT '',
	email        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	id                    TEXT PRIMARY KEY,
	lead_id               TEXT NOT NULL UNIQUE REFERENCES leads(id),
	status                TEXT NOT NULL DEFAULT 'pending',
	resolved_identifier   TEXT NOT NULL DEFAULT '',
	identifier_source     TEXT NOT NULL DEFAULT '',
	name_match_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	person                JSONB,
	retry_count           INTEGER NOT NULL DEFAULT 0,
	last_retry_at         TIMESTAMPTZ,
	last_error            TEXT NOT NULL DEFAULT '',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched_at           TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_leads_created_at ON leads(created_at);
CREATE INDEX IF NOT EXISTS idx_records_status ON enrichment_records(status);
CREATE INDEX IF NOT EXISTS idx_records_status_retry ON enrichment_records(status, retry_count, last_retry_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertLead(ctx context.Context, lead model.Lead) error {
	if lead.ID == "" {
		return eris.New("postgres: lead id is required")
	}
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO leads (id, name, phone, phone_digits, email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO UPDATE SET name = $2, phone = $3, phone_digits = $4, email = $5`,
		lead.ID, lead.Name, lead.Phone, lead.PhoneDigits, lead.Email, createdAt,
	)
	return eris.Wrapf(err, "postgres: upsert lead %s", lead.ID)
}

func (s *PostgresStore) GetLead(ctx context.Context, leadID string) (*model.Lead, error) {
	var l model.Lead
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, phone, phone_digits, email, created_at FROM leads WHERE id = $1`,
		leadID,
	).Scan(&l.ID, &l.Name, &l.Phone, &l.PhoneDigits, &l.Email, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", leadID)
	}
	return &l, nil
}

func (s *PostgresStore) UpdateLeadPhone(ctx context.Context, leadID, phoneDigits string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET phone_digits = $1 WHERE id = $2`,
		phoneDigits, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead phone %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("lead not found: %s", leadID)
	}
	return nil
}

func (s *PostgresStore) ListLeadsWithRawPhone(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, phone, phone_digits, email, created_at FROM leads
		 WHERE phone <> '' AND phone_digits = ''
		 ORDER BY created_at ASC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads with raw phone")
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (s *PostgresStore) ListUnenrichedLeads(ctx context.Context, limit int) ([]model.Lead, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.id, l.name, l.phone, l.phone_digits, l.email, l.created_at
		 FROM leads l
		 LEFT JOIN enrichment_records r ON r.lead_id = l.id
		 WHERE r.id IS NULL OR r.status = 'pending'
		 ORDER BY l.created_at ASC LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unenriched leads")
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (s *PostgresStore) GetRecord(ctx context.Context, leadID string) (*model.EnrichmentRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records WHERE lead_id = $1`,
		leadID,
	)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get record for lead %s", leadID)
	}
	return rec, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.EnrichmentRecord) error {
	if rec.LeadID == "" {
		return eris.New("postgres: record lead id is required")
	}
	if !rec.Status.Valid() {
		return eris.Errorf("postgres: invalid status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var personJSON []byte
	if rec.Person != nil {
		var err error
		personJSON, err = json.Marshal(rec.Person)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal person")
		}
	}

	// Terminal rows are immutable: the conflict update is a no-op for
	// completed and failed records.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_records
		   (id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		    person, retry_count, last_retry_at, last_error, created_at, enriched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (lead_id) DO UPDATE SET
		   status = $3, resolved_identifier = $4, identifier_source = $5, name_match_confidence = $6,
		   person = $7, retry_count = $8, last_retry_at = $9, last_error = $10, enriched_at = $12
		 WHERE enrichment_records.status NOT IN ('completed', 'failed')`,
		rec.ID, rec.LeadID, string(rec.Status), rec.ResolvedIdentifier, rec.IdentifierSource,
		rec.NameMatchConfidence, personJSON, rec.RetryCount, rec.LastRetryAt, rec.LastError,
		rec.CreatedAt, rec.EnrichedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record for lead %s", rec.LeadID)
}

func (s *PostgresStore) ListRetryCandidates(ctx context.Context, maxRetries, limit int) ([]model.EnrichmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records
		 WHERE status IN ('partial', 'unenriched') AND retry_count < $1
		 ORDER BY last_retry_at ASC NULLS FIRST, created_at ASC
		 LIMIT $2`,
		maxRetries, normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list retry candidates")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, leadID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_records SET retry_count = retry_count + 1, last_retry_at = $1, last_error = $2
		 WHERE lead_id = $3 AND status NOT IN ('completed', 'failed')`,
		time.Now().UTC(), reason, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment retry for lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("no retryable record for lead: %s", leadID)
	}
	return nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, leadID, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_records SET status = 'failed', last_error = $1
		 WHERE lead_id = $2 AND status NOT IN ('completed', 'failed')`,
		reason, leadID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark failed for lead %s", leadID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("no active record for lead: %s", leadID)
	}
	return nil
}

func (s *PostgresStore) ListCompleted(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, status, resolved_identifier, identifier_source, name_match_confidence,
		        person, retry_count, last_retry_at, last_error, created_at, enriched_at
		 FROM enrichment_records
		 WHERE status = 'completed'
		 ORDER BY enriched_at ASC
		 LIMIT $1`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list completed")
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (map[model.Status]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM enrichment_records GROUP BY status`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: status counts iterate")
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}

func scanLeads(rows pgx.Rows) ([]model.Lead, error) {
	var leads []model.Lead
	for rows.Next() {
		var l model.Lead
		if err := rows.Scan(&l.ID, &l.Name, &l.Phone, &l.PhoneDigits, &l.Email, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, l)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: iterate leads")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.EnrichmentRecord, error) {
	var rec model.EnrichmentRecord
	var status string
	var personJSON []byte
	if err := row.Scan(&rec.ID, &rec.LeadID, &status, &rec.ResolvedIdentifier, &rec.IdentifierSource,
		&rec.NameMatchConfidence, &personJSON, &rec.RetryCount, &rec.LastRetryAt, &rec.LastError,
		&rec.CreatedAt, &rec.EnrichedAt); err != nil {
		return nil, err
	}
	rec.Status = model.Status(status)
	if len(personJSON) > 0 {
		rec.Person = &model.Person{}
		if err := json.Unmarshal(personJSON, rec.Person); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal person")
		}
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]model.EnrichmentRecord, error) {
	var recs []model.EnrichmentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: iterate records")
}
