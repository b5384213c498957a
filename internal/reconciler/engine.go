package reconciler

import (
	"context"
	"fmt"
	"time"

	"creditmemo-reconciliation-service/internal/classifier"
	"creditmemo-reconciliation-service/internal/counterparty"
	"creditmemo-reconciliation-service/internal/guard"
	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/matcher"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/internal/outcome"
	"creditmemo-reconciliation-service/internal/synthesizer"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Engine resolves one credit document at a time into ledger outcomes.
// Journal-entry groups are handled before vendor-credit groups; a failure in
// one group never undoes what sibling groups already created.
type Engine struct {
	classifier  *classifier.Classifier
	resolver    *counterparty.Resolver
	matcher     *matcher.MatchingEngine
	synthesizer *synthesizer.Synthesizer
	logger      logger.Logger
}

// NewEngine wires every component against one ledger
func NewEngine(config *Config, l ledger.Ledger, log logger.Logger) (*Engine, error) {
	if config == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "reconciler_config", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", "", err)
	}
	if l == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "ledger", nil, nil).
			WithSuggestion("Provide a ledger backend (memory fixture or mysql)")
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	cls, err := classifier.New(config.Classifier)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "classifier", "", err)
	}
	synth, err := synthesizer.New(config.Synthesizer, l, guard.New(l, log), log)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "synthesizer", "", err)
	}

	return &Engine{
		classifier:  cls,
		resolver:    counterparty.NewResolver(l, log),
		matcher:     matcher.NewMatchingEngine(config.Matching, l, log),
		synthesizer: synth,
		logger:      log.WithComponent("engine"),
	}, nil
}

// ProcessDocument runs every group of the document to a terminal outcome
func (e *Engine) ProcessDocument(ctx context.Context, doc *models.CreditDocument) outcome.DocumentResult {
	start := time.Now()
	log := e.logger.WithFields(logger.Fields{
		"invoice_number": doc.InvoiceNumber,
		"source":         doc.Name(),
	})

	parts := e.classifier.Partition(doc)
	log.WithFields(logger.Fields{
		"journal_groups":      len(parts.JournalEntry),
		"vendor_credit_codes": len(parts.VendorCredit),
		"short_ship":          len(parts.ShortShip),
		"unidentified":        len(parts.Unidentified),
	}).Debug("Classified line items")

	session := e.synthesizer.ForDocument(doc)

	var outcomes []models.Outcome
	outcomes = append(outcomes, e.journalEntries(ctx, session, parts.JournalEntry)...)
	outcomes = append(outcomes, e.vendorCredits(ctx, session, parts.VendorCredit)...)
	outcomes = append(outcomes, parts.SkipOutcomes()...)

	result := outcome.Aggregate(doc, outcomes)
	result.Duration = time.Since(start)

	log.WithFields(logger.Fields{
		"status":  result.Status,
		"created": len(result.Created),
		"skipped": len(result.Skipped),
		"failed":  len(result.Failed),
	}).Info("Document processed")
	return result
}

func (e *Engine) journalEntries(ctx context.Context, session *synthesizer.Session, groups []*models.NardaGroup) []models.Outcome {
	var outcomes []models.Outcome
	var resolved []synthesizer.JournalGroup

	for _, g := range groups {
		inv, err := e.resolver.Resolve(ctx, g.Code)
		if err != nil {
			scope := models.ScopeOfGroup(g)
			if counterparty.IsNoMatch(err) {
				outcomes = append(outcomes, models.Skipped(scope, models.ReasonNoMatchingOpenInvoice,
					fmt.Sprintf("no open invoice found for code %s", g.Code)))
			} else {
				outcomes = append(outcomes, models.Failed(scope, err))
			}
			continue
		}
		resolved = append(resolved, synthesizer.JournalGroup{Group: g, Counterparty: *inv})
	}

	if len(resolved) > 0 {
		outcomes = append(outcomes, session.SynthesizeJournalEntry(ctx, resolved)...)
	}
	return outcomes
}

func (e *Engine) vendorCredits(ctx context.Context, session *synthesizer.Session, groups []*models.NardaGroup) []models.Outcome {
	if len(groups) == 0 {
		return nil
	}
	consolidated := matcher.Consolidate(groups)

	outcomes := append([]models.Outcome(nil), consolidated.Unreferenced...)
	for _, bill := range consolidated.Bills {
		outcomes = append(outcomes, e.matcher.Match(ctx, bill, session))
	}
	return outcomes
}
