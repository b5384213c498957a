package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OutcomeStatus tags a processing attempt
type OutcomeStatus string

const (
	StatusCreated OutcomeStatus = "CREATED"
	StatusSkipped OutcomeStatus = "SKIPPED"
	StatusFailed  OutcomeStatus = "FAILED"
)

// SkipReason is the stable subtype attached to a skipped outcome
type SkipReason string

const (
	ReasonNoMatchingOpenInvoice SkipReason = "NO_MATCHING_OPEN_INVOICE"
	ReasonNoOriginatingBill     SkipReason = "NO_ORIGINATING_BILL"
	ReasonNoVRMAMatch           SkipReason = "NO_VRMA_MATCH"
	ReasonShortShip             SkipReason = "SHORT_SHIP"
	ReasonUnidentifiedCode      SkipReason = "UNIDENTIFIED_CODE"
	ReasonDuplicateJournalEntry SkipReason = "DUPLICATE_JOURNAL_ENTRY"
	ReasonDuplicateVendorCredit SkipReason = "DUPLICATE_VENDOR_CREDIT"
	ReasonVRMAInvalidStatus     SkipReason = "VRMA_INVALID_STATUS"
	ReasonVRMAAlreadyCredited   SkipReason = "VRMA_ALREADY_CREDITED"
	ReasonVRMAInaccessible      SkipReason = "VRMA_INACCESSIBLE"
	ReasonVRMATransformFailed   SkipReason = "VRMA_TRANSFORM_FAILED"
	ReasonCandidatesExhausted   SkipReason = "CANDIDATES_EXHAUSTED"
	ReasonZeroAmount            SkipReason = "ZERO_AMOUNT"
)

// IsDuplicate reports whether the reason is a duplicate-guard hit
func (r SkipReason) IsDuplicate() bool {
	return r == ReasonDuplicateJournalEntry || r == ReasonDuplicateVendorCredit
}

// DuplicateReason returns the duplicate subtype for a ledger kind
func DuplicateReason(kind LedgerKind) SkipReason {
	if kind == KindVendorCredit {
		return ReasonDuplicateVendorCredit
	}
	return ReasonDuplicateJournalEntry
}

// Scope identifies what an outcome is about: one code group or one bill group
type Scope struct {
	Codes      []string        `json:"codes"`
	BillNumber string          `json:"bill_number,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	ItemCount  int             `json:"item_count"`
}

// ScopeOfGroup builds the scope for a classification-code group
func ScopeOfGroup(g *NardaGroup) Scope {
	return Scope{
		Codes:     []string{g.Code},
		Amount:    g.Total,
		ItemCount: len(g.Items),
	}
}

// ScopeOfBill builds the scope for a bill-number group
func ScopeOfBill(g *BillNumberGroup) Scope {
	return Scope{
		Codes:      append([]string(nil), g.Codes...),
		BillNumber: g.BillNumber,
		Amount:     g.Total,
		ItemCount:  len(g.Items),
	}
}

// Label renders the scope for messages
func (s Scope) Label() string {
	label := strings.Join(s.Codes, "+")
	if s.BillNumber != "" {
		label = fmt.Sprintf("%s bill %s", label, s.BillNumber)
	}
	return label
}

// Outcome is the terminal result for one group
type Outcome struct {
	Scope
	Status        OutcomeStatus `json:"status"`
	Reason        SkipReason    `json:"reason,omitempty"`
	Message       string        `json:"message"`
	Entry         *LedgerRef    `json:"entry,omitempty"`
	Authorization string        `json:"authorization,omitempty"`
	Error         string        `json:"error,omitempty"`

	// Cause keeps the original error for failed outcomes.
	Cause error `json:"-"`
}

// Created builds a Created outcome
func Created(scope Scope, ref LedgerRef, message string) Outcome {
	entry := ref
	return Outcome{
		Scope:   scope,
		Status:  StatusCreated,
		Message: message,
		Entry:   &entry,
	}
}

// Skipped builds a Skipped outcome with a stable reason
func Skipped(scope Scope, reason SkipReason, message string) Outcome {
	return Outcome{
		Scope:   scope,
		Status:  StatusSkipped,
		Reason:  reason,
		Message: message,
	}
}

// Failed builds a Failed outcome from an error
func Failed(scope Scope, err error) Outcome {
	o := Outcome{
		Scope:   scope,
		Status:  StatusFailed,
		Message: fmt.Sprintf("%s failed", scope.Label()),
		Cause:   err,
	}
	if err != nil {
		o.Error = DescribeError(err)
		o.Message = fmt.Sprintf("%s failed: %s", scope.Label(), o.Error)
	}
	return o
}

// DescribeError renders err and, when the message hides it, its direct cause
func DescribeError(err error) string {
	msg := err.Error()
	if cause := errors.Unwrap(err); cause != nil && !strings.Contains(msg, cause.Error()) {
		msg = fmt.Sprintf("%s: %s", msg, cause.Error())
	}
	return msg
}

// IsCreated reports whether a ledger transaction was created
func (o Outcome) IsCreated() bool { return o.Status == StatusCreated }

// IsSkipped reports whether the outcome is a business skip
func (o Outcome) IsSkipped() bool { return o.Status == StatusSkipped }

// IsFailed reports whether the outcome is a system failure
func (o Outcome) IsFailed() bool { return o.Status == StatusFailed }

// WithAuthorization records the authorization the outcome was produced against
func (o Outcome) WithAuthorization(documentNumber string) Outcome {
	o.Authorization = documentNumber
	return o
}

// String returns a string representation of the Outcome
func (o Outcome) String() string {
	switch o.Status {
	case StatusCreated:
		return fmt.Sprintf("CREATED %s -> %s", o.Label(), o.Entry)
	case StatusSkipped:
		return fmt.Sprintf("SKIPPED %s [%s] %s", o.Label(), o.Reason, o.Message)
	default:
		return fmt.Sprintf("FAILED %s: %s", o.Label(), o.Error)
	}
}
