package reporter

import (
	"strconv"
	"strings"
	"time"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
)

var rowHeaders = []string{
	"run_id", "document", "invoice_number", "document_status",
	"status", "codes", "bill_number", "item_count", "amount",
	"reason", "entry_kind", "entry_number", "entry_id", "authorization", "message",
}

// outcomeRow is the flat, one-line-per-outcome shape shared by CSV and XLSX
type outcomeRow struct {
	RunID          string
	Document       string
	InvoiceNumber  string
	DocumentStatus outcome.DocumentStatus
	Status         string
	Codes          string
	BillNumber     string
	ItemCount      int
	Amount         string
	Reason         string
	EntryKind      string
	EntryNumber    string
	EntryID        string
	Authorization  string
	Message        string
}

func newOutcomeRow(runID string, doc outcome.DocumentResult, o models.Outcome) outcomeRow {
	row := outcomeRow{
		RunID:          runID,
		Document:       doc.Document,
		InvoiceNumber:  doc.InvoiceNumber,
		DocumentStatus: doc.Status,
		Status:         string(o.Status),
		Codes:          strings.Join(o.Codes, "+"),
		BillNumber:     o.BillNumber,
		ItemCount:      o.ItemCount,
		Amount:         o.Amount.StringFixed(2),
		Reason:         string(o.Reason),
		Authorization:  o.Authorization,
		Message:        o.Message,
	}
	if o.Entry != nil {
		row.EntryKind = string(o.Entry.Kind)
		row.EntryNumber = o.Entry.Number
		row.EntryID = o.Entry.ID
	}
	return row
}

// documentErrorRow reports a document that never produced outcomes
func documentErrorRow(runID string, doc outcome.DocumentResult) outcomeRow {
	return outcomeRow{
		RunID:          runID,
		Document:       doc.Document,
		InvoiceNumber:  doc.InvoiceNumber,
		DocumentStatus: doc.Status,
		Status:         string(models.StatusFailed),
		Amount:         "0.00",
		Message:        doc.Error,
	}
}

func (r outcomeRow) strings() []string {
	return []string{
		r.RunID, r.Document, r.InvoiceNumber, string(r.DocumentStatus),
		r.Status, r.Codes, r.BillNumber, strconv.Itoa(r.ItemCount), r.Amount,
		r.Reason, r.EntryKind, r.EntryNumber, r.EntryID, r.Authorization, r.Message,
	}
}

// reportView renders decimals as fixed-point strings for YAML
type reportView struct {
	RunID      string         `yaml:"run_id"`
	StartedAt  time.Time      `yaml:"started_at"`
	FinishedAt time.Time      `yaml:"finished_at"`
	Totals     totalsView     `yaml:"totals"`
	Documents  []documentView `yaml:"documents"`
}

type totalsView struct {
	Documents          int            `yaml:"documents"`
	DocumentsProcessed int            `yaml:"documents_processed"`
	DocumentsPartial   int            `yaml:"documents_partial"`
	DocumentsSkipped   int            `yaml:"documents_skipped"`
	DocumentsFailed    int            `yaml:"documents_failed"`
	OutcomesCreated    int            `yaml:"outcomes_created"`
	OutcomesSkipped    int            `yaml:"outcomes_skipped"`
	OutcomesFailed     int            `yaml:"outcomes_failed"`
	JournalEntries     int            `yaml:"journal_entries"`
	VendorCredits      int            `yaml:"vendor_credits"`
	AmountPosted       string         `yaml:"amount_posted"`
	SkipReasons        map[string]int `yaml:"skip_reasons,omitempty"`
}

type documentView struct {
	Document      string        `yaml:"document"`
	InvoiceNumber string        `yaml:"invoice_number,omitempty"`
	Status        string        `yaml:"status"`
	Error         string        `yaml:"error,omitempty"`
	Outcomes      []outcomeView `yaml:"outcomes,omitempty"`
}

type outcomeView struct {
	Status        string   `yaml:"status"`
	Codes         []string `yaml:"codes,flow"`
	BillNumber    string   `yaml:"bill_number,omitempty"`
	Amount        string   `yaml:"amount"`
	Reason        string   `yaml:"reason,omitempty"`
	Entry         string   `yaml:"entry,omitempty"`
	Authorization string   `yaml:"authorization,omitempty"`
	Message       string   `yaml:"message"`
}

func newReportView(report *outcome.RunReport) reportView {
	t := report.Totals
	view := reportView{
		RunID:      report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Totals: totalsView{
			Documents:          t.Documents,
			DocumentsProcessed: t.DocumentsProcessed,
			DocumentsPartial:   t.DocumentsPartial,
			DocumentsSkipped:   t.DocumentsSkipped,
			DocumentsFailed:    t.DocumentsFailed,
			OutcomesCreated:    t.OutcomesCreated,
			OutcomesSkipped:    t.OutcomesSkipped,
			OutcomesFailed:     t.OutcomesFailed,
			JournalEntries:     t.JournalEntries,
			VendorCredits:      t.VendorCredits,
			AmountPosted:       t.AmountPosted.StringFixed(2),
		},
	}
	if len(t.SkipReasons) > 0 {
		view.Totals.SkipReasons = make(map[string]int, len(t.SkipReasons))
		for reason, n := range t.SkipReasons {
			view.Totals.SkipReasons[string(reason)] = n
		}
	}

	for _, doc := range report.Documents {
		dv := documentView{
			Document:      doc.Document,
			InvoiceNumber: doc.InvoiceNumber,
			Status:        string(doc.Status),
			Error:         doc.Error,
		}
		for _, o := range doc.Outcomes() {
			ov := outcomeView{
				Status:        string(o.Status),
				Codes:         o.Codes,
				BillNumber:    o.BillNumber,
				Amount:        o.Amount.StringFixed(2),
				Reason:        string(o.Reason),
				Authorization: o.Authorization,
				Message:       o.Message,
			}
			if o.Entry != nil {
				ov.Entry = o.Entry.Number
			}
			dv.Outcomes = append(dv.Outcomes, ov)
		}
		view.Documents = append(view.Documents, dv)
	}
	return view
}
