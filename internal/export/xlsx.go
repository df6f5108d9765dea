// Package export writes enrichment results to spreadsheet files for the
// sales team.
package export

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/store"
)

var headers = []string{
	"Lead ID", "Lead Name", "CPF", "Source", "Confidence",
	"Person Name", "Birth Date", "Sex", "Occupation", "Marital Status",
	"Income", "Presumed Income", "Phones", "Emails", "Enriched At",
}

// CompletedXLSX writes all completed enrichment records (up to limit) to an
// xlsx file at path. Returns the number of rows written.
func CompletedXLSX(ctx context.Context, st store.Store, path string, limit int) (int, error) {
	recs, err := st.ListCompleted(ctx, limit)
	if err != nil {
		return 0, eris.Wrap(err, "export: list completed")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("completed")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	head := sheet.AddRow()
	for _, h := range headers {
		head.AddCell().SetString(h)
	}

	for _, rec := range recs {
		lead, err := st.GetLead(ctx, rec.LeadID)
		if err != nil {
			return 0, eris.Wrapf(err, "export: lead %s", rec.LeadID)
		}
		leadName := ""
		if lead != nil {
			leadName = lead.Name
		}
		addRecordRow(sheet, rec, leadName)
	}

	if err := f.Save(path); err != nil {
		return 0, eris.Wrapf(err, "export: save %s", path)
	}
	zap.L().Info("export: workbook written", zap.String("path", path), zap.Int("rows", len(recs)))
	return len(recs), nil
}

func addRecordRow(sheet *xlsx.Sheet, rec model.EnrichmentRecord, leadName string) {
	row := sheet.AddRow()
	row.AddCell().SetString(rec.LeadID)
	row.AddCell().SetString(leadName)
	row.AddCell().SetString(rec.ResolvedIdentifier)
	row.AddCell().SetString(rec.IdentifierSource)
	row.AddCell().SetString(fmt.Sprintf("%.2f", rec.NameMatchConfidence))

	p := rec.Person
	if p == nil {
		p = &model.Person{}
	}
	row.AddCell().SetString(p.Name)
	if p.BirthDate != nil {
		row.AddCell().SetString(p.BirthDate.Format("2006-01-02"))
	} else {
		row.AddCell().SetString("")
	}
	row.AddCell().SetString(p.Sex)
	row.AddCell().SetString(p.Occupation)
	row.AddCell().SetString(p.MaritalStatus)
	setFloat(row, p.Income)
	setFloat(row, p.PresumedIncome)
	row.AddCell().SetString(strings.Join(p.Phones, ", "))
	row.AddCell().SetString(strings.Join(p.Emails, ", "))
	if rec.EnrichedAt != nil {
		row.AddCell().SetString(rec.EnrichedAt.Format("2006-01-02 15:04"))
	} else {
		row.AddCell().SetString("")
	}
}

func setFloat(row *xlsx.Row, v *float64) {
	if v == nil {
		row.AddCell().SetString("")
		return
	}
	row.AddCell().SetFloat(*v)
}
