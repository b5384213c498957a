// Package outcome folds per-group outcomes into document results and run totals.
package outcome

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
)

// DocumentStatus summarizes one credit document
type DocumentStatus string

const (
	// DocumentProcessed means at least one transaction was created and nothing failed.
	DocumentProcessed DocumentStatus = "PROCESSED"
	// DocumentPartial means some groups were created and some failed.
	DocumentPartial DocumentStatus = "PARTIAL"
	// DocumentSkipped means every outcome was a skip, or there were none.
	DocumentSkipped DocumentStatus = "SKIPPED"
	// DocumentFailed means something failed and nothing was created.
	DocumentFailed DocumentStatus = "FAILED"
)

// DocumentResult is the aggregate for one credit document
type DocumentResult struct {
	Document      string           `json:"document"`
	InvoiceNumber string           `json:"invoice_number"`
	SourcePath    string           `json:"source_path,omitempty"`
	Status        DocumentStatus   `json:"status"`
	Created       []models.Outcome `json:"created"`
	Skipped       []models.Outcome `json:"skipped"`
	Failed        []models.Outcome `json:"failed"`
	// Error is set when the document could not be processed at all.
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Classify derives the document status from its outcomes
func Classify(outcomes []models.Outcome) DocumentStatus {
	var created, failed int
	for _, o := range outcomes {
		switch o.Status {
		case models.StatusCreated:
			created++
		case models.StatusFailed:
			failed++
		}
	}
	switch {
	case created > 0 && failed > 0:
		return DocumentPartial
	case created > 0:
		return DocumentProcessed
	case failed > 0:
		return DocumentFailed
	default:
		return DocumentSkipped
	}
}

// Aggregate buckets a document's outcomes, preserving their order within each bucket
func Aggregate(doc *models.CreditDocument, outcomes []models.Outcome) DocumentResult {
	result := DocumentResult{
		Document:      doc.Name(),
		InvoiceNumber: doc.InvoiceNumber,
		SourcePath:    doc.SourcePath,
		Status:        Classify(outcomes),
		Created:       []models.Outcome{},
		Skipped:       []models.Outcome{},
		Failed:        []models.Outcome{},
	}
	for _, o := range outcomes {
		switch o.Status {
		case models.StatusCreated:
			result.Created = append(result.Created, o)
		case models.StatusSkipped:
			result.Skipped = append(result.Skipped, o)
		default:
			result.Failed = append(result.Failed, o)
		}
	}
	return result
}

// DocumentFailure builds the result for a document that could not be processed
func DocumentFailure(doc *models.CreditDocument, err error) DocumentResult {
	result := Aggregate(doc, nil)
	result.Status = DocumentFailed
	if err != nil {
		result.Error = models.DescribeError(err)
	}
	return result
}

// Outcomes returns every outcome of the document: created, then skipped, then failed
func (r *DocumentResult) Outcomes() []models.Outcome {
	all := make([]models.Outcome, 0, len(r.Created)+len(r.Skipped)+len(r.Failed))
	all = append(all, r.Created...)
	all = append(all, r.Skipped...)
	return append(all, r.Failed...)
}

// AmountPosted sums the amounts of created outcomes
func (r *DocumentResult) AmountPosted() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Created {
		total = total.Add(o.Amount)
	}
	return total
}

// EntryRefs lists the distinct ledger transactions created for the document
func (r *DocumentResult) EntryRefs() []models.LedgerRef {
	seen := make(map[string]bool)
	var refs []models.LedgerRef
	for _, o := range r.Created {
		if o.Entry == nil {
			continue
		}
		key := string(o.Entry.Kind) + "/" + o.Entry.ID
		if seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, *o.Entry)
	}
	return refs
}

// Totals are run-wide counters
type Totals struct {
	Documents          int                       `json:"documents"`
	DocumentsProcessed int                       `json:"documents_processed"`
	DocumentsPartial   int                       `json:"documents_partial"`
	DocumentsSkipped   int                       `json:"documents_skipped"`
	DocumentsFailed    int                       `json:"documents_failed"`
	OutcomesCreated    int                       `json:"outcomes_created"`
	OutcomesSkipped    int                       `json:"outcomes_skipped"`
	OutcomesFailed     int                       `json:"outcomes_failed"`
	JournalEntries     int                       `json:"journal_entries"`
	VendorCredits      int                       `json:"vendor_credits"`
	AmountPosted       decimal.Decimal           `json:"amount_posted"`
	SkipReasons        map[models.SkipReason]int `json:"skip_reasons"`
}

// RunReport is the structured aggregate handed to the reporting collaborator
type RunReport struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Documents  []DocumentResult `json:"documents"`
	Totals     Totals           `json:"totals"`
}

// NewRunReport starts an empty report
func NewRunReport(runID string, startedAt time.Time) *RunReport {
	return &RunReport{
		RunID:     runID,
		StartedAt: startedAt,
		Documents: []DocumentResult{},
		Totals: Totals{
			AmountPosted: decimal.Zero,
			SkipReasons:  make(map[models.SkipReason]int),
		},
	}
}

// Add folds one document result into the report
func (r *RunReport) Add(result DocumentResult) {
	r.Documents = append(r.Documents, result)

	t := &r.Totals
	t.Documents++
	switch result.Status {
	case DocumentProcessed:
		t.DocumentsProcessed++
	case DocumentPartial:
		t.DocumentsPartial++
	case DocumentSkipped:
		t.DocumentsSkipped++
	default:
		t.DocumentsFailed++
	}

	t.OutcomesCreated += len(result.Created)
	t.OutcomesSkipped += len(result.Skipped)
	t.OutcomesFailed += len(result.Failed)
	t.AmountPosted = t.AmountPosted.Add(result.AmountPosted())

	for _, ref := range result.EntryRefs() {
		if ref.Kind == models.KindJournalEntry {
			t.JournalEntries++
		} else {
			t.VendorCredits++
		}
	}
	for _, o := range result.Skipped {
		t.SkipReasons[o.Reason]++
	}
}

// Finish stamps the end time
func (r *RunReport) Finish(at time.Time) {
	r.FinishedAt = at
}

// Duration is the wall time of the run
func (r *RunReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// HasFailures reports whether any outcome or document failed
func (r *RunReport) HasFailures() bool {
	return r.Totals.OutcomesFailed > 0 || r.Totals.DocumentsFailed > 0
}

// SortedSkipReasons returns skip reasons with counts, most frequent first
func (r *RunReport) SortedSkipReasons() []ReasonCount {
	counts := make([]ReasonCount, 0, len(r.Totals.SkipReasons))
	for reason, n := range r.Totals.SkipReasons {
		counts = append(counts, ReasonCount{Reason: reason, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Reason < counts[j].Reason
	})
	return counts
}

// ReasonCount pairs a skip reason with how often it occurred
type ReasonCount struct {
	Reason models.SkipReason `json:"reason"`
	Count  int               `json:"count"`
}
