package reporter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
)

const summarySheet = "Summary"

// generateXLSXReport writes a workbook with a summary sheet and one sheet per outcome bucket
func (rg *ReportGenerator) generateXLSXReport(report *outcome.RunReport, writer io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	if err := writeSummarySheet(f, report); err != nil {
		return err
	}

	buckets := []struct {
		sheet   string
		include bool
		status  models.OutcomeStatus
	}{
		{"Created", rg.config.IncludeCreated, models.StatusCreated},
		{"Skipped", rg.config.IncludeSkipped, models.StatusSkipped},
		{"Failed", rg.config.IncludeFailed, models.StatusFailed},
	}
	for _, b := range buckets {
		if !b.include {
			continue
		}
		if _, err := f.NewSheet(b.sheet); err != nil {
			return fmt.Errorf("failed to create sheet %s: %w", b.sheet, err)
		}
		if err := writeRows(f, b.sheet, bucketRows(report, b.status)); err != nil {
			return err
		}
	}

	if err := f.Write(writer); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func writeSummarySheet(f *excelize.File, report *outcome.RunReport) error {
	t := report.Totals
	summary := [][]interface{}{
		{"Run", report.RunID},
		{"Started", report.StartedAt.Format(time.RFC3339)},
		{"Finished", report.FinishedAt.Format(time.RFC3339)},
		{"Documents", t.Documents},
		{"Processed", t.DocumentsProcessed},
		{"Partial", t.DocumentsPartial},
		{"Skipped", t.DocumentsSkipped},
		{"Failed", t.DocumentsFailed},
		{"Journal entries", t.JournalEntries},
		{"Vendor credits", t.VendorCredits},
		{"Outcomes skipped", t.OutcomesSkipped},
		{"Outcomes failed", t.OutcomesFailed},
		{"Amount posted", t.AmountPosted.InexactFloat64()},
	}
	for _, rc := range report.SortedSkipReasons() {
		summary = append(summary, []interface{}{"Skip " + string(rc.Reason), rc.Count})
	}

	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := row
		if err := f.SetSheetRow(summarySheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	return nil
}

func bucketRows(report *outcome.RunReport, status models.OutcomeStatus) []outcomeRow {
	var rows []outcomeRow
	for _, doc := range report.Documents {
		if status == models.StatusFailed && doc.Error != "" {
			rows = append(rows, documentErrorRow(report.RunID, doc))
		}
		for _, o := range doc.Outcomes() {
			if o.Status == status {
				rows = append(rows, newOutcomeRow(report.RunID, doc, o))
			}
		}
	}
	return rows
}

func writeRows(f *excelize.File, sheet string, rows []outcomeRow) error {
	header := make([]interface{}, len(rowHeaders))
	for i, h := range rowHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write %s header: %w", sheet, err)
	}

	for i, row := range rows {
		record := row.strings()
		values := make([]interface{}, len(record))
		for j, v := range record {
			values[j] = v
		}
		// keep amounts numeric so the sheet can total them
		if amount, err := models.ParseDecimalFromString(row.Amount); err == nil {
			values[8] = amount.InexactFloat64()
		}
		values[7] = row.ItemCount

		if err := f.SetSheetRow(sheet, "A"+fmt.Sprint(i+2), &values); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+2, err)
		}
	}
	return nil
}
