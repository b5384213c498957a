// Package synthesizer builds balanced journal entries and vendor credits and commits
// them to the ledger, gated by the duplicate guard.
package synthesizer

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/guard"
	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Synthesizer holds what every document shares: config, ledger and guard
type Synthesizer struct {
	config *Config
	store  ledger.Store
	guard  *guard.Guard
	logger logger.Logger
}

// New creates a synthesizer
func New(config *Config, store ledger.Store, g *guard.Guard, log logger.Logger) (*Synthesizer, error) {
	if config == nil {
		return nil, fmt.Errorf("synthesizer configuration is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid synthesizer configuration: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Synthesizer{
		config: config,
		store:  store,
		guard:  g,
		logger: log.WithComponent("synthesizer"),
	}, nil
}

// Session carries the per-document state of one synthesis pass
type Session struct {
	*Synthesizer
	doc            *models.CreditDocument
	log            logger.Logger
	freightApplied bool
}

// ForDocument starts a session scoped to one credit document
func (s *Synthesizer) ForDocument(doc *models.CreditDocument) *Session {
	return &Session{
		Synthesizer: s,
		doc:         doc,
		log: s.logger.WithFields(logger.Fields{
			"invoice_number": doc.InvoiceNumber,
			"source":         doc.Name(),
		}),
	}
}

// FreightApplied reports whether the freight line has been posted for this document
func (s *Session) FreightApplied() bool {
	return s.freightApplied
}

// JournalGroup is a journal-entry group with its resolved counterparty
type JournalGroup struct {
	Group        *models.NardaGroup
	Counterparty models.OpenInvoice
}

// SynthesizeJournalEntry posts every resolved group of the document as credit lines of
// one journal entry and returns one outcome per group, in input order.
func (s *Session) SynthesizeJournalEntry(ctx context.Context, groups []JournalGroup) []models.Outcome {
	outcomes := make([]models.Outcome, len(groups))
	var postable []int

	for i, jg := range groups {
		scope := models.ScopeOfGroup(jg.Group)
		if !jg.Group.Total.IsPositive() {
			outcomes[i] = models.Skipped(scope, models.ReasonZeroAmount,
				fmt.Sprintf("code %s sums to zero; nothing to post", jg.Group.Code))
			continue
		}
		postable = append(postable, i)
	}
	if len(postable) == 0 {
		return outcomes
	}

	each := func(fn func(i int, scope models.Scope) models.Outcome) []models.Outcome {
		for _, i := range postable {
			outcomes[i] = fn(i, models.ScopeOfGroup(groups[i].Group))
		}
		return outcomes
	}

	if err := s.doc.ValidateHeader(); err != nil {
		verr := errors.ValidationError(errors.CodeMissingField, "invoice header", s.doc.Name(), err)
		return each(func(_ int, scope models.Scope) models.Outcome { return models.Failed(scope, verr) })
	}

	number := s.config.JournalNumber(s.doc.InvoiceNumber)
	existing, err := s.guard.Existing(ctx, models.KindJournalEntry, number)
	if err != nil {
		s.log.WithError(err).Error("Duplicate check failed, journal entry not created")
		return each(func(_ int, scope models.Scope) models.Outcome { return models.Failed(scope, err) })
	}
	if existing != nil {
		s.log.WithField("number", number).Info("Journal entry already exists")
		return each(func(_ int, scope models.Scope) models.Outcome {
			out := models.Skipped(scope, models.ReasonDuplicateJournalEntry,
				fmt.Sprintf("journal entry %s already exists (id %s)", number, existing.ID))
			out.Entry = existing
			return out
		})
	}

	entry := s.buildJournalEntry(number, groups, postable)
	if err := entry.Validate(); err != nil {
		ierr := errors.InternalError(errors.CodeUnexpectedError, "journal entry assembly", err)
		return each(func(_ int, scope models.Scope) models.Outcome { return models.Failed(scope, ierr) })
	}

	ref, err := s.store.CreateJournalEntry(ctx, entry)
	if err != nil {
		if stderrors.Is(err, ledger.ErrDuplicateNumber) {
			return each(func(_ int, scope models.Scope) models.Outcome {
				return models.Skipped(scope, models.ReasonDuplicateJournalEntry,
					fmt.Sprintf("journal entry %s was created concurrently", number))
			})
		}
		lerr := errors.LedgerError(errors.CodeLedgerOperationFailed, "create journal entry "+number, err)
		s.log.WithError(err).Error("Journal entry creation failed")
		return each(func(_ int, scope models.Scope) models.Outcome { return models.Failed(scope, lerr) })
	}

	s.log.WithFields(logger.Fields{
		"number": ref.Number,
		"id":     ref.ID,
		"amount": entry.TotalDebits().StringFixed(2),
		"lines":  len(entry.Lines),
	}).Info("Journal entry created")
	s.attach(ctx, ref)

	return each(func(i int, scope models.Scope) models.Outcome {
		return models.Created(scope, ref, fmt.Sprintf("credited %s %s for %s",
			groups[i].Counterparty.EntityID, scope.Amount.StringFixed(2), groups[i].Group.Code))
	})
}

func (s *Session) buildJournalEntry(number string, groups []JournalGroup, postable []int) *models.JournalEntry {
	codes := make([]string, 0, len(postable))
	total := decimal.Zero
	credits := make([]models.JournalLine, 0, len(postable))

	for _, i := range postable {
		g := groups[i]
		codes = append(codes, g.Group.Code)
		total = total.Add(g.Group.Total)
		credits = append(credits, models.JournalLine{
			Account:  s.config.ReceivableAccount,
			EntityID: g.Counterparty.EntityID,
			Credit:   g.Group.Total,
			Memo:     fmt.Sprintf("Credit memo %s code %s (invoice %s)", s.doc.InvoiceNumber, g.Group.Code, g.Counterparty.TranID),
		})
	}

	memo := fmt.Sprintf("Credit memo %s: %s", s.doc.InvoiceNumber, strings.Join(codes, ", "))
	lines := append([]models.JournalLine{{
		Account:  s.config.PayableAccount,
		EntityID: s.config.DebitEntity,
		Debit:    total,
		Memo:     memo,
	}}, credits...)

	return &models.JournalEntry{
		Number:     number,
		Date:       s.doc.InvoiceDate,
		Subsidiary: s.config.Subsidiary,
		Currency:   s.config.Currency,
		Memo:       memo,
		Lines:      lines,
	}
}

// Synthesize builds a vendor credit for one bill group from one candidate, keeping
// exactly the matched lines. It satisfies the matcher's candidate synthesizer contract.
func (s *Session) Synthesize(ctx context.Context, group *models.BillNumberGroup, candidate *models.AuthorizationCandidate, pairs []models.MatchedPair) models.Outcome {
	scope := models.ScopeOfBill(group)
	log := s.log.WithFields(logger.Fields{
		"bill_number":   group.BillNumber,
		"authorization": candidate.DocumentNumber,
	})

	if err := s.doc.ValidateHeader(); err != nil {
		return models.Failed(scope, errors.ValidationError(errors.CodeMissingField, "invoice header", s.doc.Name(), err))
	}

	number := s.config.VendorCreditNumber(s.doc.InvoiceNumber, group)
	if out := s.guard.Gate(ctx, scope, models.KindVendorCredit, number); out != nil {
		return out.WithAuthorization(candidate.DocumentNumber)
	}

	if s.config.IsTerminal(candidate.Status) {
		return models.Skipped(scope, models.ReasonVRMAInvalidStatus,
			fmt.Sprintf("authorization %s is %s", candidate.DocumentNumber, candidate.Status)).
			WithAuthorization(candidate.DocumentNumber)
	}

	draft, err := s.store.TransformAuthorization(ctx, candidate.ID)
	if err != nil {
		if reason, ok := transformSkipReason(err); ok {
			log.WithError(err).Warn("Authorization could not be transformed")
			return models.Skipped(scope, reason,
				fmt.Sprintf("authorization %s: %s", candidate.DocumentNumber, err.Error())).
				WithAuthorization(candidate.DocumentNumber)
		}
		return models.Failed(scope, errors.LedgerError(errors.CodeLedgerOperationFailed,
			"transform authorization "+candidate.DocumentNumber, err)).
			WithAuthorization(candidate.DocumentNumber)
	}

	keep := make(map[int]bool, len(pairs))
	for _, p := range pairs {
		keep[p.Line.Sequence] = true
	}
	draft.RetainSequences(keep)
	if len(draft.Items) != len(keep) {
		return models.Failed(scope, errors.InternalError(errors.CodeUnexpectedError,
			"vendor credit line retention", fmt.Errorf("draft kept %d lines, %d were matched", len(draft.Items), len(keep)))).
			WithAuthorization(candidate.DocumentNumber)
	}

	draft.Number = number
	draft.Date = s.doc.InvoiceDate
	draft.Memo = fmt.Sprintf("Credit memo %s: %s bill %s via %s",
		s.doc.InvoiceNumber, strings.Join(group.Codes, ", "), group.BillNumber, candidate.DocumentNumber)

	addFreight := s.doc.HasFreight() && !s.freightApplied
	if addFreight {
		if s.config.FreightAccount == "" {
			log.Warn("Freight amount present but no freight account configured, line not added")
			addFreight = false
		} else {
			draft.Expenses = append(draft.Expenses, models.VendorCreditExpense{
				Account:    s.config.FreightAccount,
				Department: s.config.FreightDepartment,
				Amount:     s.doc.FreightAmount.Abs(),
				Memo:       fmt.Sprintf("Freight for credit memo %s", s.doc.InvoiceNumber),
			})
		}
	}

	ref, err := s.store.SaveVendorCredit(ctx, draft)
	if err != nil {
		if stderrors.Is(err, ledger.ErrDuplicateNumber) {
			return models.Skipped(scope, models.ReasonDuplicateVendorCredit,
				fmt.Sprintf("vendor credit %s was created concurrently", number)).
				WithAuthorization(candidate.DocumentNumber)
		}
		log.WithError(err).Error("Vendor credit save failed")
		return models.Failed(scope, errors.LedgerError(errors.CodeLedgerOperationFailed,
			"save vendor credit "+number, err)).
			WithAuthorization(candidate.DocumentNumber)
	}
	if addFreight {
		s.freightApplied = true
	}

	log.WithFields(logger.Fields{
		"number":  ref.Number,
		"id":      ref.ID,
		"lines":   len(draft.Items),
		"freight": addFreight,
	}).Info("Vendor credit created")
	s.attach(ctx, ref)

	return models.Created(scope, ref, fmt.Sprintf("credited %d line(s) from %s",
		len(draft.Items), candidate.DocumentNumber)).
		WithAuthorization(candidate.DocumentNumber)
}

// attach is best effort; failures are logged and never change the outcome
func (s *Session) attach(ctx context.Context, ref models.LedgerRef) {
	if !s.config.AttachDocuments {
		return
	}
	for _, path := range s.doc.Attachments() {
		if err := s.store.AttachFile(ctx, ref, path); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{
				"entry": ref.Number,
				"file":  path,
			}).Warn("Attachment failed; transaction kept")
		}
	}
}

func transformSkipReason(err error) (models.SkipReason, bool) {
	switch {
	case stderrors.Is(err, ledger.ErrAlreadyConsumed):
		return models.ReasonVRMAAlreadyCredited, true
	case stderrors.Is(err, ledger.ErrPermissionDenied), stderrors.Is(err, ledger.ErrNotFound):
		return models.ReasonVRMAInaccessible, true
	case stderrors.Is(err, ledger.ErrTransformRejected):
		return models.ReasonVRMATransformFailed, true
	}
	return "", false
}
