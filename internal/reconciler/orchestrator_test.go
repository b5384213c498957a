package reconciler

import (
	"context"
	"errors"
	"testing"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
	"creditmemo-reconciliation-service/internal/parsers"
	apperrors "creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// scriptedProcessor returns a fixed outcome per invoice number and panics on demand
type scriptedProcessor struct {
	outcomes map[string][]models.Outcome
	panics   map[string]bool
	seen     []string
}

func (p *scriptedProcessor) ProcessDocument(ctx context.Context, doc *models.CreditDocument) outcome.DocumentResult {
	p.seen = append(p.seen, doc.InvoiceNumber)
	if p.panics[doc.InvoiceNumber] {
		panic("nil authorization")
	}
	return outcome.Aggregate(doc, p.outcomes[doc.InvoiceNumber])
}

type fakeLock struct {
	obtainErr error
	obtained  int
	released  int
}

func (l *fakeLock) Obtain(ctx context.Context) error {
	if l.obtainErr != nil {
		return l.obtainErr
	}
	l.obtained++
	return nil
}

func (l *fakeLock) Release(ctx context.Context) error {
	l.released++
	return nil
}

func created(code string) models.Outcome {
	return models.Created(models.Scope{Codes: []string{code}, Amount: amount("10.00"), ItemCount: 1},
		models.LedgerRef{Kind: models.KindJournalEntry, ID: "je-" + code, Number: code + "-CM"}, "ok")
}

func failed(code string) models.Outcome {
	return models.Failed(models.Scope{Codes: []string{code}, ItemCount: 1}, errors.New("ledger unavailable"))
}

func newTestOrchestrator(t *testing.T, p DocumentProcessor, config *Config) *Orchestrator {
	t.Helper()
	if config == nil {
		config = testConfig()
	}
	o, err := NewOrchestrator(p, config, logger.Discard())
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return o
}

func batchOf(numbers ...string) *parsers.Batch {
	batch := &parsers.Batch{}
	for _, n := range numbers {
		batch.Documents = append(batch.Documents, &models.CreditDocument{InvoiceNumber: n})
	}
	return batch
}

func TestNewOrchestratorRequiresProcessor(t *testing.T) {
	if _, err := NewOrchestrator(nil, nil, logger.Discard()); err == nil {
		t.Error("expected an error without a document processor")
	}
}

func TestRunProcessesSequentiallyAndReports(t *testing.T) {
	p := &scriptedProcessor{outcomes: map[string][]models.Outcome{
		"1": {created("J1")},
		"2": {created("J2"), failed("CORE")},
		"3": {models.Skipped(models.Scope{Codes: []string{"BOX"}}, models.ReasonShortShip, "box")},
	}}
	o := newTestOrchestrator(t, p, nil)

	var updates []Progress
	o.AddProgressCallback(func(progress *Progress) {
		updates = append(updates, *progress)
	})

	batch := batchOf("1", "2", "3")
	batch.Rejected = []parsers.Rejection{{Path: "/in/bad.json", Err: errors.New("invalid json")}}

	report, err := o.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(p.seen) != 3 || p.seen[0] != "1" || p.seen[2] != "3" {
		t.Errorf("expected documents in input order, saw %v", p.seen)
	}
	if report.RunID == "" {
		t.Error("expected a run id")
	}
	tot := report.Totals
	if tot.Documents != 4 || tot.DocumentsProcessed != 1 || tot.DocumentsPartial != 1 ||
		tot.DocumentsSkipped != 1 || tot.DocumentsFailed != 1 {
		t.Errorf("unexpected document totals %+v", tot)
	}
	if report.Documents[0].Document != "bad.json" || report.Documents[0].Error != "invalid json" {
		t.Errorf("expected rejected file first as a failed document, got %+v", report.Documents[0])
	}

	if len(updates) != 4 {
		t.Fatalf("expected 4 progress updates, got %d", len(updates))
	}
	last := updates[len(updates)-1]
	if last.CompletedDocuments != 4 || last.PercentComplete != 100 {
		t.Errorf("unexpected final progress %+v", last)
	}
	if last.Created != 2 || last.Failed != 1 || last.Skipped != 1 {
		t.Errorf("unexpected outcome counts in progress %+v", last)
	}
	if o.CurrentProgress().RunID != report.RunID {
		t.Error("progress and report must share the run id")
	}
}

func TestRunIsolatesPanickingDocument(t *testing.T) {
	p := &scriptedProcessor{
		outcomes: map[string][]models.Outcome{"2": {created("J2")}},
		panics:   map[string]bool{"1": true},
	}
	o := newTestOrchestrator(t, p, nil)

	report, err := o.Run(context.Background(), batchOf("1", "2"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Documents[0].Status != outcome.DocumentFailed || report.Documents[0].Error == "" {
		t.Errorf("expected panicking document to fail with an error, got %+v", report.Documents[0])
	}
	if report.Documents[1].Status != outcome.DocumentProcessed {
		t.Errorf("expected the next document to be processed, got %s", report.Documents[1].Status)
	}
}

func TestRunStopOnError(t *testing.T) {
	p := &scriptedProcessor{outcomes: map[string][]models.Outcome{
		"1": {created("J1")},
		"2": {failed("J2")},
		"3": {created("J3")},
	}}
	config := testConfig()
	config.StopOnError = true
	o := newTestOrchestrator(t, p, config)

	report, err := o.Run(context.Background(), batchOf("1", "2", "3"))
	if !apperrors.HasCode(err, apperrors.CodeProcessingError) {
		t.Fatalf("expected processing error, got %v", err)
	}
	if report == nil || len(report.Documents) != 2 {
		t.Fatalf("expected a report covering the first two documents, got %+v", report)
	}
	if len(p.seen) != 2 {
		t.Errorf("expected processing to stop after document 2, saw %v", p.seen)
	}
	if report.FinishedAt.IsZero() {
		t.Error("expected the partial report to be finished")
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	p := &scriptedProcessor{}
	o := newTestOrchestrator(t, p, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx, batchOf("1", "2"))
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(p.seen) != 0 || len(report.Documents) != 0 {
		t.Errorf("expected nothing processed after cancellation, saw %v", p.seen)
	}
}

func TestRunHoldsRunLock(t *testing.T) {
	p := &scriptedProcessor{}
	lock := &fakeLock{}
	o := newTestOrchestrator(t, p, nil).WithRunLock(lock)

	if _, err := o.Run(context.Background(), batchOf("1")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if lock.obtained != 1 || lock.released != 1 {
		t.Errorf("expected lock obtained and released once, got %d/%d", lock.obtained, lock.released)
	}

	busy := &fakeLock{obtainErr: errors.New("lock held")}
	o = newTestOrchestrator(t, p, nil).WithRunLock(busy)
	report, err := o.Run(context.Background(), batchOf("1"))
	if !apperrors.HasCode(err, apperrors.CodeLockNotObtained) {
		t.Errorf("expected lock not obtained, got %v", err)
	}
	if report != nil {
		t.Error("no report may be produced without the lock")
	}
	if busy.released != 0 {
		t.Error("a lock that was never obtained must not be released")
	}
}

func TestRunEndToEndWithEngine(t *testing.T) {
	store := seededStore()
	config := testConfig()
	config.ProgressReporting = true
	engine := newTestEngine(t, store)
	o := newTestOrchestrator(t, engine, config)

	batch := &parsers.Batch{Documents: []*models.CreditDocument{
		document("9001", item("J1234", "150.00", "", "")),
		document("9001", item("J1234", "150.00", "", "")),
	}}
	report, err := o.Run(context.Background(), batch)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Totals.JournalEntries != 1 {
		t.Errorf("expected exactly one journal entry, got %d", report.Totals.JournalEntries)
	}
	if report.Totals.SkipReasons[models.ReasonDuplicateJournalEntry] != 1 {
		t.Errorf("expected the second submission to be a duplicate, got %v", report.Totals.SkipReasons)
	}
	if !report.Totals.AmountPosted.Equal(amount("150.00")) {
		t.Errorf("expected 150.00 posted, got %s", report.Totals.AmountPosted)
	}
	if len(store.JournalEntries()) != 1 {
		t.Errorf("expected one stored journal entry, got %d", len(store.JournalEntries()))
	}
}

var _ DocumentProcessor = (*Engine)(nil)
