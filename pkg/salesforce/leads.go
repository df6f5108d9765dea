package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Lead represents the subset of a Salesforce Lead the engine consumes.
type Lead struct {
	ID          string `json:"Id" salesforce:"Id"`
	FirstName   string `json:"FirstName" salesforce:"FirstName"`
	LastName    string `json:"LastName" salesforce:"LastName"`
	Phone       string `json:"Phone" salesforce:"Phone"`
	MobilePhone string `json:"MobilePhone" salesforce:"MobilePhone"`
	Email       string `json:"Email" salesforce:"Email"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
}

// FullName joins first and last name, either of which may be blank.
func (l Lead) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(l.FirstName) + " " + strings.TrimSpace(l.LastName))
}

// BestPhone prefers the mobile number over the landline.
func (l Lead) BestPhone() string {
	if l.MobilePhone != "" {
		return l.MobilePhone
	}
	return l.Phone
}

// CreatedAt parses Salesforce's CreatedDate timestamp. The zero time is
// returned for blank or malformed values.
func (l Lead) CreatedAt() time.Time {
	if l.CreatedDate == "" {
		return time.Time{}
	}
	ts, err := time.Parse("2006-01-02T15:04:05.000-0700", l.CreatedDate)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Phone", "MobilePhone", "Email", "CreatedDate",
}

// FetchLeadsSince queries Leads created after the given instant, oldest
// first, capped at limit.
func FetchLeadsSince(ctx context.Context, c Client, since time.Time, limit int) ([]Lead, error) {
	if limit <= 0 {
		limit = 200
	}
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE CreatedDate > %s AND IsConverted = false ORDER BY CreatedDate ASC LIMIT %d",
		strings.Join(leadFields, ", "),
		since.UTC().Format("2006-01-02T15:04:05Z"),
		limit,
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: fetch leads")
	}
	return leads, nil
}

// FindLeadByID queries Salesforce for a Lead by its ID.
// Returns nil if no lead is found.
func FindLeadByID(ctx context.Context, c Client, id string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Id = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(id),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by id %s", id))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpdateLead updates a Lead record with the given fields.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Lead", leadID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update lead %s", leadID))
	}
	return nil
}

// LeadUpdate holds a lead ID and the fields to update.
type LeadUpdate struct {
	ID     string
	Fields map[string]any
}

// BulkUpdateLeads splits updates into batches of 200 (SF Collections API limit)
// and sends them via UpdateCollection.
func BulkUpdateLeads(ctx context.Context, c Client, updates []LeadUpdate) ([]CollectionResult, error) {
	if len(updates) == 0 {
		return nil, nil
	}

	var allResults []CollectionResult

	for start := 0; start < len(updates); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		batch := updates[start:end]

		records := make([]CollectionRecord, len(batch))
		for i, u := range batch {
			records[i] = CollectionRecord(u)
		}

		results, err := c.UpdateCollection(ctx, "Lead", records)
		if err != nil {
			return allResults, eris.Wrap(err, fmt.Sprintf("sf: bulk update leads batch %d-%d", start, end))
		}
		allResults = append(allResults, results...)
	}

	return allResults, nil
}

// PostNote attaches a Note to the given parent record.
func PostNote(ctx context.Context, c Client, parentID, title, body string) (string, error) {
	if parentID == "" {
		return "", eris.New("sf: note parent id is required")
	}
	id, err := c.InsertOne(ctx, "Note", map[string]any{
		"ParentId": parentID,
		"Title":    title,
		"Body":     body,
	})
	if err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: post note to %s", parentID))
	}
	return id, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
