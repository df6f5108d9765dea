package model

import "time"

// Status represents the enrichment state of a lead.
type Status string

const (
	// StatusPending means the record exists but no orchestration attempt ran yet.
	StatusPending Status = "pending"
	// StatusUnenriched means the waterfall found no identifier. Retryable.
	StatusUnenriched Status = "unenriched"
	// StatusPartial means an identifier was resolved but the person fetch
	// timed out or returned nothing. Retryable; resolution is not repeated.
	StatusPartial Status = "partial"
	// StatusCompleted means person data was fetched and persisted. Terminal.
	StatusCompleted Status = "completed"
	// StatusFailed means the retry budget was exhausted. Terminal.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether the status accepts no further writes.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsRetryable reports whether the status is eligible for a later re-attempt.
func (s Status) IsRetryable() bool {
	return s == StatusPartial || s == StatusUnenriched
}

// Valid reports whether s is one of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusUnenriched, StatusPartial, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// EnrichmentRecord is the mutable state this engine owns for one lead (1:1).
type EnrichmentRecord struct {
	ID     string `json:"id"`
	LeadID string `json:"lead_id"`
	Status Status `json:"status"`

	ResolvedIdentifier  string  `json:"resolved_identifier,omitempty"` // CPF
	IdentifierSource    string  `json:"identifier_source,omitempty"`   // waterfall tier name
	NameMatchConfidence float64 `json:"name_match_confidence,omitempty"`

	Person *Person `json:"person,omitempty"`

	RetryCount  int        `json:"retry_count"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
}

// HasIdentifier reports whether a CPF was resolved for this record.
func (r *EnrichmentRecord) HasIdentifier() bool {
	return r.ResolvedIdentifier != ""
}
