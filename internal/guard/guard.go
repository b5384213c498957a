// Package guard checks the ledger for an existing transaction before anything is written.
package guard

import (
	"context"
	"fmt"

	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Guard is a query-before-write uniqueness check
type Guard struct {
	queries ledger.QueryService
	logger  logger.Logger
}

// New creates a duplicate guard
func New(queries ledger.QueryService, log logger.Logger) *Guard {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Guard{queries: queries, logger: log.WithComponent("guard")}
}

// Existing returns the first stored transaction of kind numbered number, or nil.
// A query failure comes back as a CodeGuardQueryFailed error.
func (g *Guard) Existing(ctx context.Context, kind models.LedgerKind, number string) (*models.LedgerRef, error) {
	refs, err := g.queries.FindLedgerEntriesByNumber(ctx, kind, number)
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeGuardQueryFailed,
			fmt.Sprintf("%s lookup for %s", kind, number), err).
			WithContext("kind", string(kind)).
			WithContext("number", number)
	}
	if len(refs) == 0 {
		return nil, nil
	}
	first := refs[0]
	return &first, nil
}

// Gate returns nil when number is free. Otherwise it returns the outcome that ends
// synthesis: Skipped(DUPLICATE_*) on a hit, Failed when the check itself failed.
func (g *Guard) Gate(ctx context.Context, scope models.Scope, kind models.LedgerKind, number string) *models.Outcome {
	existing, err := g.Existing(ctx, kind, number)
	if err != nil {
		g.logger.WithError(err).WithField("number", number).Error("Duplicate check failed, aborting synthesis")
		out := models.Failed(scope, err)
		return &out
	}
	if existing == nil {
		return nil
	}

	g.logger.WithFields(logger.Fields{
		"kind":        kind,
		"number":      number,
		"existing_id": existing.ID,
	}).Info("Transaction number already used")

	out := models.Skipped(scope, models.DuplicateReason(kind),
		fmt.Sprintf("%s %s already exists (id %s)", kind, number, existing.ID))
	out.Entry = existing
	return &out
}
