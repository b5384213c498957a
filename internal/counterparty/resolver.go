// Package counterparty resolves the customer entity credited by a journal-entry group.
package counterparty

import (
	"context"
	"fmt"
	"sort"

	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Resolver finds the open invoice that names a code's counterparty
type Resolver struct {
	queries ledger.QueryService
	logger  logger.Logger
}

// NewResolver creates a resolver over the ledger's query side
func NewResolver(queries ledger.QueryService, log logger.Logger) *Resolver {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Resolver{
		queries: queries,
		logger:  log.WithComponent("counterparty"),
	}
}

// Resolve returns the most recent open invoice for code, searching job references
// first and invoice numbers second. The returned error carries
// CodeNoMatchingOpenInvoice when nothing matched and CodeSearchError when a query failed.
func (r *Resolver) Resolve(ctx context.Context, code string) (*models.OpenInvoice, error) {
	operation := fmt.Sprintf("counterparty lookup for %s", code)

	matches, err := r.queries.FindOpenInvoicesByJobReference(ctx, code)
	if err != nil {
		return nil, errors.ReconciliationError(errors.CodeSearchError, operation, err).
			WithContext("code", code).
			WithContext("search", "job_reference")
	}

	if len(matches) == 0 {
		r.logger.WithField("code", code).Debug("No open invoice by job reference, trying invoice number")
		matches, err = r.queries.FindOpenInvoicesByNumber(ctx, code)
		if err != nil {
			return nil, errors.ReconciliationError(errors.CodeSearchError, operation, err).
				WithContext("code", code).
				WithContext("search", "tran_id")
		}
	}

	if len(matches) == 0 {
		return nil, errors.ReconciliationError(errors.CodeNoMatchingOpenInvoice, operation, nil).
			WithContext("code", code)
	}

	best := MostRecent(matches)
	r.logger.WithFields(logger.Fields{
		"code":       code,
		"invoice":    best.TranID,
		"entity_id":  best.EntityID,
		"candidates": len(matches),
	}).Debug("Resolved counterparty")
	return &best, nil
}

// MostRecent picks the invoice with the latest transaction date; ties keep input order.
// matches must not be empty.
func MostRecent(matches []models.OpenInvoice) models.OpenInvoice {
	sorted := append([]models.OpenInvoice(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TranDate.After(sorted[j].TranDate)
	})
	return sorted[0]
}

// IsNoMatch reports whether err means "no determinable counterparty"
func IsNoMatch(err error) bool {
	return errors.HasCode(err, errors.CodeNoMatchingOpenInvoice)
}
