// Package reconciler provides high-level orchestration for credit-memo reconciliation.
//
// The Engine turns one credit document into journal entries and vendor credits:
//   - line items are grouped and classified by code
//   - journal-entry groups get a counterparty and share one journal entry
//   - vendor-credit groups are consolidated by bill and matched to authorizations
//   - every group ends as a created, skipped or failed outcome
//
// The Orchestrator runs a batch of documents strictly one after another, with
// progress callbacks, per-document failure isolation and an optional run lock.
//
// Example usage:
//
//	engine, err := reconciler.NewEngine(config, store, log)
//	orchestrator, err := reconciler.NewOrchestrator(engine, config, log)
//	orchestrator.AddProgressCallback(func(p *reconciler.Progress) {
//		fmt.Printf("%.1f%% %s\n", p.PercentComplete, p.CurrentDocument)
//	})
//	report, err := orchestrator.Run(ctx, batch)
package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
	"creditmemo-reconciliation-service/internal/parsers"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// DocumentProcessor resolves one document; Engine is the production implementation
type DocumentProcessor interface {
	ProcessDocument(ctx context.Context, doc *models.CreditDocument) outcome.DocumentResult
}

// RunLock keeps two runs from writing to the ledger at the same time
type RunLock interface {
	Obtain(ctx context.Context) error
	Release(ctx context.Context) error
}

// Progress tracks the progress of a batch run
type Progress struct {
	RunID              string        `json:"run_id"`
	TotalDocuments     int           `json:"total_documents"`
	CompletedDocuments int           `json:"completed_documents"`
	CurrentDocument    string        `json:"current_document"`
	PercentComplete    float64       `json:"percent_complete"`
	StartTime          time.Time     `json:"start_time"`
	ElapsedTime        time.Duration `json:"elapsed_time"`
	EstimatedRemaining time.Duration `json:"estimated_remaining"`

	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// ProgressCallback is called after each document
type ProgressCallback func(*Progress)

// Orchestrator runs batches of credit documents sequentially
type Orchestrator struct {
	processor DocumentProcessor
	config    *Config
	lock      RunLock
	logger    logger.Logger
	now       func() time.Time

	progressCallbacks []ProgressCallback
	currentProgress   *Progress
	progressMutex     sync.RWMutex
}

// NewOrchestrator creates a new batch orchestrator
func NewOrchestrator(processor DocumentProcessor, config *Config, log logger.Logger) (*Orchestrator, error) {
	if processor == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "document_processor", nil, nil).
			WithSuggestion("Provide a reconciliation engine")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Orchestrator{
		processor:       processor,
		config:          config,
		logger:          log.WithComponent("orchestrator"),
		now:             time.Now,
		currentProgress: &Progress{},
	}, nil
}

// WithRunLock makes Run hold lock for its whole duration
func (o *Orchestrator) WithRunLock(lock RunLock) *Orchestrator {
	o.lock = lock
	return o
}

// AddProgressCallback adds a progress callback function
func (o *Orchestrator) AddProgressCallback(callback ProgressCallback) {
	o.progressCallbacks = append(o.progressCallbacks, callback)
}

// CurrentProgress returns a snapshot of the progress of the running batch
func (o *Orchestrator) CurrentProgress() Progress {
	o.progressMutex.RLock()
	defer o.progressMutex.RUnlock()
	return *o.currentProgress
}

// Run processes every document of the batch and returns the run report. Rejected
// files are reported as failed documents. The report is returned even when the
// run stops early; the error says why it stopped.
func (o *Orchestrator) Run(ctx context.Context, batch *parsers.Batch) (*outcome.RunReport, error) {
	if batch == nil {
		batch = &parsers.Batch{}
	}

	if o.lock != nil {
		if err := o.lock.Obtain(ctx); err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeLockNotObtained,
				"another reconciliation run holds the lock")
		}
		defer func() {
			if err := o.lock.Release(context.WithoutCancel(ctx)); err != nil {
				o.logger.WithError(err).Warn("Failed to release run lock")
			}
		}()
	}

	runID := uuid.NewString()
	report := outcome.NewRunReport(runID, o.now())
	log := o.logger.WithFields(logger.Fields{
		"run_id":    runID,
		"documents": len(batch.Documents),
		"rejected":  len(batch.Rejected),
	})
	log.Info("Starting reconciliation run")

	o.initializeProgress(runID, batch.Len())

	var tracker *logger.ProgressTracker
	if o.config.ProgressReporting {
		tracker = logger.NewProgressTracker(logger.ProgressConfig{
			Operation:   "reconcile credit documents",
			Total:       int64(batch.Len()),
			LogInterval: o.config.ProgressInterval,
			Logger:      o.logger,
		})
	}

	for _, rejected := range batch.Rejected {
		doc := &models.CreditDocument{SourcePath: rejected.Path}
		o.record(report, outcome.DocumentFailure(doc, rejected.Err), tracker)
	}

	runErr := o.processDocuments(ctx, batch.Documents, report, tracker)

	report.Finish(o.now())
	if tracker != nil {
		tracker.Complete(runErr)
	}
	log.WithFields(logger.Fields{
		"processed":     report.Totals.DocumentsProcessed,
		"partial":       report.Totals.DocumentsPartial,
		"skipped":       report.Totals.DocumentsSkipped,
		"failed":        report.Totals.DocumentsFailed,
		"amount_posted": report.Totals.AmountPosted.StringFixed(2),
		"duration":      report.Duration(),
	}).Info("Reconciliation run finished")

	return report, runErr
}

func (o *Orchestrator) processDocuments(ctx context.Context, docs []*models.CreditDocument, report *outcome.RunReport, tracker *logger.ProgressTracker) error {
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			o.logger.WithError(err).WithField("remaining", len(docs)-i).Warn("Run cancelled")
			return errors.ReconciliationError(errors.CodeProcessingError, "reconciliation run", err).
				WithContext("remaining_documents", len(docs)-i)
		}

		o.setCurrent(doc.Name())
		result := o.processDocument(ctx, doc)
		o.record(report, result, tracker)

		if o.config.StopOnError && (result.Error != "" || len(result.Failed) > 0) {
			o.logger.WithField("document", doc.Name()).Warn("Stopping run after document failure")
			return errors.ReconciliationError(errors.CodeProcessingError, "document "+doc.Name(),
				fmt.Errorf("document finished %s", result.Status)).
				WithContext("remaining_documents", len(docs)-i-1).
				WithSuggestion("Resolve the failure or rerun without --stop-on-error")
		}
	}
	return nil
}

// processDocument isolates one document: a panic becomes a failed document result
func (o *Orchestrator) processDocument(ctx context.Context, doc *models.CreditDocument) (result outcome.DocumentResult) {
	var done bool
	err := logger.TimedOperation("process "+doc.Name(), o.logger, func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = errors.InternalError(errors.CodeUnexpectedError, "process document "+doc.Name(),
					fmt.Errorf("panic: %v", r))
			}
		}()
		result = o.processor.ProcessDocument(ctx, doc)
		done = true
		return nil
	})
	if !done {
		o.logger.WithError(err).WithField("document", doc.Name()).Error("Document processing aborted")
		return outcome.DocumentFailure(doc, err)
	}
	return result
}

func (o *Orchestrator) record(report *outcome.RunReport, result outcome.DocumentResult, tracker *logger.ProgressTracker) {
	report.Add(result)
	if tracker != nil {
		tracker.Increment()
	}
	o.updateProgress(len(result.Created), len(result.Skipped), len(result.Failed))
}

func (o *Orchestrator) initializeProgress(runID string, total int) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()

	o.currentProgress = &Progress{
		RunID:          runID,
		TotalDocuments: total,
		StartTime:      o.now(),
	}
}

func (o *Orchestrator) setCurrent(name string) {
	o.progressMutex.Lock()
	defer o.progressMutex.Unlock()
	o.currentProgress.CurrentDocument = name
}

func (o *Orchestrator) updateProgress(created, skipped, failed int) {
	o.progressMutex.Lock()
	p := o.currentProgress
	p.CompletedDocuments++
	p.Created += created
	p.Skipped += skipped
	p.Failed += failed
	p.ElapsedTime = o.now().Sub(p.StartTime)
	if p.TotalDocuments > 0 {
		p.PercentComplete = float64(p.CompletedDocuments) / float64(p.TotalDocuments) * 100
	}
	if p.CompletedDocuments > 0 && p.CompletedDocuments < p.TotalDocuments {
		perDoc := p.ElapsedTime / time.Duration(p.CompletedDocuments)
		p.EstimatedRemaining = perDoc * time.Duration(p.TotalDocuments-p.CompletedDocuments)
	} else {
		p.EstimatedRemaining = 0
	}
	snapshot := *p
	o.progressMutex.Unlock()

	for _, callback := range o.progressCallbacks {
		callback(&snapshot)
	}
}
