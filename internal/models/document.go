package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionTypeClass is the posting route a classification code resolves to
type TransactionTypeClass string

const (
	// ClassJournalEntry codes reference a customer job or invoice and post as journal entries
	ClassJournalEntry TransactionTypeClass = "JOURNAL_ENTRY"
	// ClassVendorCredit codes post as vendor credits transformed from an authorization
	ClassVendorCredit TransactionTypeClass = "VENDOR_CREDIT"
	// ClassShortShip codes always go to manual review
	ClassShortShip TransactionTypeClass = "MANUAL_REVIEW_SHORT_SHIP"
	// ClassUnidentified codes match no known pattern
	ClassUnidentified TransactionTypeClass = "UNIDENTIFIED"
)

// String returns the string representation of TransactionTypeClass
func (c TransactionTypeClass) String() string {
	return string(c)
}

// IsValid checks if the class is one of the four known classes
func (c TransactionTypeClass) IsValid() bool {
	switch c {
	case ClassJournalEntry, ClassVendorCredit, ClassShortShip, ClassUnidentified:
		return true
	}
	return false
}

// LineItem is one extracted credit-memo line
type LineItem struct {
	Code             string          `json:"code"`
	Amount           decimal.Decimal `json:"amount"`
	PartNumber       string          `json:"part_number,omitempty"`
	BillNumber       string          `json:"bill_number,omitempty"`
	SalesOrderNumber string          `json:"sales_order_number,omitempty"`
	Description      string          `json:"description,omitempty"`
}

// NewLineItem creates a line item with its amount sign-normalized
func NewLineItem(code string, amount decimal.Decimal, partNumber, billNumber string) LineItem {
	return LineItem{
		Code:       strings.TrimSpace(code),
		Amount:     amount.Abs(),
		PartNumber: strings.TrimSpace(partNumber),
		BillNumber: strings.TrimSpace(billNumber),
	}
}

// HasBillNumber reports whether the line references an originating bill
func (li LineItem) HasBillNumber() bool {
	return strings.TrimSpace(li.BillNumber) != ""
}

// HasPartNumber reports whether the line carries a part identifier
func (li LineItem) HasPartNumber() bool {
	return strings.TrimSpace(li.PartNumber) != ""
}

// String returns a string representation of the LineItem
func (li LineItem) String() string {
	return fmt.Sprintf("LineItem{Code: %s, Amount: %s, Part: %s, Bill: %s}",
		li.Code, li.Amount.StringFixed(2), li.PartNumber, li.BillNumber)
}

// CreditDocument is one extracted credit memo; immutable once loaded
type CreditDocument struct {
	InvoiceNumber string          `json:"invoice_number"`
	InvoiceDate   time.Time       `json:"invoice_date"`
	Total         decimal.Decimal `json:"total"`
	FreightAmount decimal.Decimal `json:"freight_amount"`
	LineItems     []LineItem      `json:"line_items"`

	// SourcePath is the extraction file the document came from.
	SourcePath string `json:"source_path,omitempty"`
	// CompanionPath is the rendered copy of the original memo, if any.
	CompanionPath string `json:"companion_path,omitempty"`
}

// Name identifies the document in logs and reports
func (d *CreditDocument) Name() string {
	if d.SourcePath != "" {
		return filepath.Base(d.SourcePath)
	}
	return d.InvoiceNumber
}

// ValidateHeader checks the fields every ledger transaction needs
func (d *CreditDocument) ValidateHeader() error {
	if strings.TrimSpace(d.InvoiceNumber) == "" {
		return fmt.Errorf("credit document %s has no invoice number", d.Name())
	}
	if d.InvoiceDate.IsZero() {
		return fmt.Errorf("credit document %s has no invoice date", d.Name())
	}
	return nil
}

// HasFreight reports whether a positive delivery/freight amount is present
func (d *CreditDocument) HasFreight() bool {
	return d.FreightAmount.IsPositive()
}

// Attachments lists the files to attach to any transaction created from the document
func (d *CreditDocument) Attachments() []string {
	var paths []string
	if d.SourcePath != "" {
		paths = append(paths, d.SourcePath)
	}
	if d.CompanionPath != "" {
		paths = append(paths, d.CompanionPath)
	}
	return paths
}

// LineTotal sums the absolute amounts of all line items
func (d *CreditDocument) LineTotal() decimal.Decimal {
	return SumItems(d.LineItems)
}

// NardaGroup holds the line items sharing one classification code
type NardaGroup struct {
	Code        string               `json:"code"`
	Class       TransactionTypeClass `json:"class"`
	Items       []LineItem           `json:"items"`
	Total       decimal.Decimal      `json:"total"`
	BillNumbers []string             `json:"bill_numbers,omitempty"`
}

// UnreferencedItems returns the items that carry no originating-bill reference
func (g *NardaGroup) UnreferencedItems() []LineItem {
	var items []LineItem
	for _, item := range g.Items {
		if !item.HasBillNumber() {
			items = append(items, item)
		}
	}
	return items
}

// BillNumberGroup merges vendor-credit lines that share an originating bill.
// Sequence is the 1-based position of the bill among its document's bills.
type BillNumberGroup struct {
	BillNumber string          `json:"bill_number"`
	Sequence   int             `json:"sequence"`
	Codes      []string        `json:"codes"`
	Items      []LineItem      `json:"items"`
	Total      decimal.Decimal `json:"total"`
}

// SumItems sums absolute line amounts
func SumItems(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Amount.Abs())
	}
	return total
}
