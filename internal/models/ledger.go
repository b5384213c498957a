package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind is the ledger transaction type
type LedgerKind string

const (
	KindJournalEntry LedgerKind = "journal_entry"
	KindVendorCredit LedgerKind = "vendor_credit"
)

// String returns the string representation of LedgerKind
func (k LedgerKind) String() string {
	return string(k)
}

// IsValid checks if the kind is known
func (k LedgerKind) IsValid() bool {
	return k == KindJournalEntry || k == KindVendorCredit
}

// LedgerRef points at a transaction stored in the ledger
type LedgerRef struct {
	Kind   LedgerKind `json:"kind"`
	ID     string     `json:"id"`
	Number string     `json:"number"`
}

// String returns a string representation of the LedgerRef
func (r LedgerRef) String() string {
	return fmt.Sprintf("%s %s (id %s)", r.Kind, r.Number, r.ID)
}

// OpenInvoice is an open, unpaid customer invoice used to resolve a counterparty
type OpenInvoice struct {
	InternalID      string          `json:"internal_id"`
	TranID          string          `json:"tran_id"`
	JobReference    string          `json:"job_reference,omitempty"`
	EntityID        string          `json:"entity_id"`
	EntityName      string          `json:"entity_name,omitempty"`
	TranDate        time.Time       `json:"tran_date"`
	AmountRemaining decimal.Decimal `json:"amount_remaining"`
}

// AuthorizationLine is one item line of an authorization record
type AuthorizationLine struct {
	AuthorizationID string          `json:"authorization_id"`
	DocumentNumber  string          `json:"document_number"`
	Status          string          `json:"status"`
	Sequence        int             `json:"sequence"`
	ItemID          string          `json:"item_id"`
	PartNumber      string          `json:"part_number,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Memo            string          `json:"memo"`
}

// MatchesPart compares part identity, ignoring case and surrounding space
func (l AuthorizationLine) MatchesPart(part string) bool {
	part = strings.TrimSpace(part)
	if strings.EqualFold(strings.TrimSpace(l.PartNumber), part) {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(l.ItemID), part)
}

// AuthorizationCandidate is an authorization record that may be transformed into a vendor credit
type AuthorizationCandidate struct {
	ID             string              `json:"id"`
	DocumentNumber string              `json:"document_number"`
	Status         string              `json:"status"`
	VendorID       string              `json:"vendor_id,omitempty"`
	Lines          []AuthorizationLine `json:"lines"`
}

// MatchedPair pairs one document line with one authorization line of the same candidate
type MatchedPair struct {
	Item LineItem          `json:"item"`
	Line AuthorizationLine `json:"line"`
}

// JournalLine is one side of a journal entry
type JournalLine struct {
	Account  string          `json:"account"`
	EntityID string          `json:"entity_id"`
	Debit    decimal.Decimal `json:"debit"`
	Credit   decimal.Decimal `json:"credit"`
	Memo     string          `json:"memo,omitempty"`
}

// JournalEntry is a balanced debit/credit posting
type JournalEntry struct {
	Number     string        `json:"number"`
	Date       time.Time     `json:"date"`
	Subsidiary string        `json:"subsidiary,omitempty"`
	Currency   string        `json:"currency,omitempty"`
	Memo       string        `json:"memo"`
	Lines      []JournalLine `json:"lines"`
}

// TotalDebits sums the debit side
func (je *JournalEntry) TotalDebits() decimal.Decimal {
	total := decimal.Zero
	for _, line := range je.Lines {
		total = total.Add(line.Debit)
	}
	return total
}

// TotalCredits sums the credit side
func (je *JournalEntry) TotalCredits() decimal.Decimal {
	total := decimal.Zero
	for _, line := range je.Lines {
		total = total.Add(line.Credit)
	}
	return total
}

// Validate checks the entry is numbered, non-empty and balanced
func (je *JournalEntry) Validate() error {
	if strings.TrimSpace(je.Number) == "" {
		return fmt.Errorf("journal entry number cannot be empty")
	}
	if len(je.Lines) < 2 {
		return fmt.Errorf("journal entry %s needs at least two lines", je.Number)
	}
	debits, credits := je.TotalDebits(), je.TotalCredits()
	if !debits.Equal(credits) {
		return fmt.Errorf("journal entry %s is unbalanced: debits %s, credits %s",
			je.Number, debits.StringFixed(2), credits.StringFixed(2))
	}
	if debits.IsZero() {
		return fmt.Errorf("journal entry %s has zero amount", je.Number)
	}
	return nil
}

// VendorCreditItem is an item line inherited from the authorization
type VendorCreditItem struct {
	Sequence   int             `json:"sequence"`
	ItemID     string          `json:"item_id"`
	PartNumber string          `json:"part_number,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
}

// VendorCreditExpense is an expense line added on top of the items
type VendorCreditExpense struct {
	Account    string          `json:"account"`
	Department string          `json:"department,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Memo       string          `json:"memo,omitempty"`
}

// VendorCredit is a draft or saved vendor credit derived from one authorization
type VendorCredit struct {
	DraftID             string                `json:"draft_id,omitempty"`
	Number              string                `json:"number"`
	Date                time.Time             `json:"date"`
	VendorID            string                `json:"vendor_id,omitempty"`
	AuthorizationID     string                `json:"authorization_id"`
	AuthorizationNumber string                `json:"authorization_number"`
	Memo                string                `json:"memo"`
	Items               []VendorCreditItem    `json:"items"`
	Expenses            []VendorCreditExpense `json:"expenses,omitempty"`
}

// RetainSequences drops every item line whose sequence is not in keep
func (vc *VendorCredit) RetainSequences(keep map[int]bool) {
	retained := vc.Items[:0:0]
	for _, item := range vc.Items {
		if keep[item.Sequence] {
			retained = append(retained, item)
		}
	}
	vc.Items = retained
}

// Total sums item and expense lines
func (vc *VendorCredit) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range vc.Items {
		total = total.Add(item.Amount.Abs())
	}
	for _, exp := range vc.Expenses {
		total = total.Add(exp.Amount.Abs())
	}
	return total
}
