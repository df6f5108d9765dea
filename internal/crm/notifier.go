// Package crm bridges the enrichment engine and the Salesforce org: it
// imports inbound leads, pushes enrichment outcomes back, and posts
// completion notes for the sales team.
package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/pkg/salesforce"
)

// Notifier posts a Note on the Salesforce Lead when enrichment completes and
// optionally stamps a custom status field.
type Notifier struct {
	client      salesforce.Client
	statusField string
}

func NewNotifier(client salesforce.Client, statusField string) *Notifier {
	return &Notifier{client: client, statusField: statusField}
}

func (n *Notifier) EnrichmentCompleted(ctx context.Context, lead model.Lead, rec *model.EnrichmentRecord) error {
	if _, err := salesforce.PostNote(ctx, n.client, lead.ID, "Enrichment complete", noteBody(rec)); err != nil {
		return eris.Wrap(err, "crm: post completion note")
	}
	if n.statusField != "" {
		err := salesforce.UpdateLead(ctx, n.client, lead.ID, map[string]any{
			n.statusField: string(rec.Status),
		})
		if err != nil {
			return eris.Wrap(err, "crm: stamp status field")
		}
	}
	return nil
}

// noteBody renders the enriched attributes the sales team cares about.
// Absent attributes are omitted rather than rendered blank.
func noteBody(rec *model.EnrichmentRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Identifier: %s (via %s)\n", rec.ResolvedIdentifier, rec.IdentifierSource)
	if rec.NameMatchConfidence > 0 {
		fmt.Fprintf(&b, "Name match confidence: %.2f\n", rec.NameMatchConfidence)
	}
	p := rec.Person
	if p == nil {
		return b.String()
	}
	if p.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
	}
	if p.BirthDate != nil {
		fmt.Fprintf(&b, "Birth date: %s\n", p.BirthDate.Format("2006-01-02"))
	}
	if p.Occupation != "" {
		fmt.Fprintf(&b, "Occupation: %s\n", p.Occupation)
	}
	if p.MaritalStatus != "" {
		fmt.Fprintf(&b, "Marital status: %s\n", p.MaritalStatus)
	}
	if p.Income != nil {
		fmt.Fprintf(&b, "Income: %.2f\n", *p.Income)
	}
	if p.PresumedIncome != nil {
		fmt.Fprintf(&b, "Presumed income: %.2f\n", *p.PresumedIncome)
	}
	if len(p.Phones) > 0 {
		fmt.Fprintf(&b, "Phones: %s\n", strings.Join(p.Phones, ", "))
	}
	if len(p.Emails) > 0 {
		fmt.Fprintf(&b, "Emails: %s\n", strings.Join(p.Emails, ", "))
	}
	if len(p.Addresses) > 0 {
		fmt.Fprintf(&b, "Addresses on file: %d\n", len(p.Addresses))
	}
	return b.String()
}
