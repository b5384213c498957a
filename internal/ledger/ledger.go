// Package ledger defines the contracts the reconciliation engine consumes from
// the accounting system: read-side queries and the transaction store.
package ledger

import (
	"context"
	"errors"

	"creditmemo-reconciliation-service/internal/models"
)

// Typed failures a store translates host errors into.
var (
	// ErrAlreadyConsumed means the authorization has already been fully credited.
	ErrAlreadyConsumed = errors.New("authorization already fully credited")
	// ErrPermissionDenied means the record exists but cannot be read or transformed.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransformRejected means the ledger refused the transform for another reason.
	ErrTransformRejected = errors.New("transform rejected")
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateNumber   = errors.New("transaction number already exists")
)

// QueryService is the read side of the ledger. An empty result with a nil error
// means "no results"; a non-nil error always means the query itself failed.
type QueryService interface {
	FindOpenInvoicesByJobReference(ctx context.Context, jobReference string) ([]models.OpenInvoice, error)
	FindOpenInvoicesByNumber(ctx context.Context, tranID string) ([]models.OpenInvoice, error)
	FindLedgerEntriesByNumber(ctx context.Context, kind models.LedgerKind, number string) ([]models.LedgerRef, error)
	FindAuthorizationLinesByMemo(ctx context.Context, fragment string) ([]models.AuthorizationLine, error)
}

// Store is the write side of the ledger.
type Store interface {
	CreateJournalEntry(ctx context.Context, entry *models.JournalEntry) (models.LedgerRef, error)
	// TransformAuthorization turns an authorization into an unsaved vendor credit draft
	// carrying every authorization line.
	TransformAuthorization(ctx context.Context, authorizationID string) (*models.VendorCredit, error)
	SaveVendorCredit(ctx context.Context, credit *models.VendorCredit) (models.LedgerRef, error)
	AttachFile(ctx context.Context, ref models.LedgerRef, path string) error
	DeleteTransaction(ctx context.Context, kind models.LedgerKind, id string) error
}

// Ledger bundles both sides, which every backend implements.
type Ledger interface {
	QueryService
	Store
	Close() error
}
