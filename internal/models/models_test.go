package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionTypeClass_IsValid(t *testing.T) {
	tests := []struct {
		class TransactionTypeClass
		valid bool
	}{
		{ClassJournalEntry, true},
		{ClassVendorCredit, true},
		{ClassShortShip, true},
		{ClassUnidentified, true},
		{"OTHER", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := tt.class.IsValid(); got != tt.valid {
				t.Errorf("TransactionTypeClass.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestNewLineItem_NormalizesSign(t *testing.T) {
	item := NewLineItem(" CORE ", decimal.RequireFromString("-20.00"), " P-1 ", " B100 ")

	if item.Code != "CORE" {
		t.Errorf("expected trimmed code, got %q", item.Code)
	}
	if !item.Amount.Equal(decimal.RequireFromString("20.00")) {
		t.Errorf("expected absolute amount 20.00, got %s", item.Amount)
	}
	if !item.HasBillNumber() || !item.HasPartNumber() {
		t.Error("expected bill and part references to be kept")
	}
}

func TestCreditDocument_ValidateHeader(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		doc     CreditDocument
		wantErr bool
	}{
		{"valid", CreditDocument{InvoiceNumber: "9001", InvoiceDate: date}, false},
		{"missing number", CreditDocument{InvoiceDate: date}, true},
		{"blank number", CreditDocument{InvoiceNumber: "  ", InvoiceDate: date}, true},
		{"missing date", CreditDocument{InvoiceNumber: "9001"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.doc.ValidateHeader()
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreditDocument_NameAndAttachments(t *testing.T) {
	doc := CreditDocument{InvoiceNumber: "9001", SourcePath: "/in/memo-9001.json", CompanionPath: "/in/memo-9001.pdf"}

	if doc.Name() != "memo-9001.json" {
		t.Errorf("expected base name, got %s", doc.Name())
	}
	if got := doc.Attachments(); len(got) != 2 {
		t.Errorf("expected two attachments, got %v", got)
	}

	bare := CreditDocument{InvoiceNumber: "9002"}
	if bare.Name() != "9002" {
		t.Errorf("expected invoice number as name, got %s", bare.Name())
	}
	if len(bare.Attachments()) != 0 {
		t.Error("expected no attachments")
	}
}

func TestJournalEntry_Validate(t *testing.T) {
	amount := decimal.RequireFromString("150.00")

	balanced := JournalEntry{
		Number: "9001-CM",
		Lines: []JournalLine{
			{Account: "2000", Debit: amount},
			{Account: "1200", Credit: amount},
		},
	}
	if err := balanced.Validate(); err != nil {
		t.Errorf("expected balanced entry to validate, got %v", err)
	}

	unbalanced := balanced
	unbalanced.Lines = []JournalLine{
		{Account: "2000", Debit: amount},
		{Account: "1200", Credit: decimal.RequireFromString("149.99")},
	}
	if err := unbalanced.Validate(); err == nil {
		t.Error("expected unbalanced entry to fail validation")
	}

	single := JournalEntry{Number: "9001-CM", Lines: []JournalLine{{Account: "2000", Debit: amount}}}
	if err := single.Validate(); err == nil {
		t.Error("expected single-line entry to fail validation")
	}
}

func TestVendorCredit_RetainSequences(t *testing.T) {
	vc := VendorCredit{
		Items: []VendorCreditItem{
			{Sequence: 1, Amount: decimal.NewFromInt(10)},
			{Sequence: 2, Amount: decimal.NewFromInt(20)},
			{Sequence: 3, Amount: decimal.NewFromInt(30)},
		},
		Expenses: []VendorCreditExpense{{Account: "6100", Amount: decimal.NewFromInt(5)}},
	}

	vc.RetainSequences(map[int]bool{1: true, 3: true})

	if len(vc.Items) != 2 || vc.Items[0].Sequence != 1 || vc.Items[1].Sequence != 3 {
		t.Errorf("unexpected retained items: %+v", vc.Items)
	}
	if !vc.Total().Equal(decimal.NewFromInt(45)) {
		t.Errorf("expected total 45, got %s", vc.Total())
	}
}

func TestOutcomeConstructors(t *testing.T) {
	group := &NardaGroup{Code: "J1234", Class: ClassJournalEntry, Total: decimal.NewFromInt(150)}
	scope := ScopeOfGroup(group)

	created := Created(scope, LedgerRef{Kind: KindJournalEntry, ID: "1", Number: "9001-CM"}, "ok")
	if !created.IsCreated() || created.Entry == nil || created.Entry.Number != "9001-CM" {
		t.Errorf("unexpected created outcome: %+v", created)
	}

	skipped := Skipped(scope, ReasonShortShip, "manual review")
	if !skipped.IsSkipped() || skipped.Reason != ReasonShortShip {
		t.Errorf("unexpected skipped outcome: %+v", skipped)
	}

	failed := Failed(scope, errors.New("ledger down"))
	if !failed.IsFailed() || failed.Error != "ledger down" || failed.Cause == nil {
		t.Errorf("unexpected failed outcome: %+v", failed)
	}

	bill := ScopeOfBill(&BillNumberGroup{BillNumber: "B200", Codes: []string{"NF", "CORE"}})
	if bill.Label() != "NF+CORE bill B200" {
		t.Errorf("unexpected label %q", bill.Label())
	}
}

func TestDuplicateReason(t *testing.T) {
	if DuplicateReason(KindJournalEntry) != ReasonDuplicateJournalEntry {
		t.Error("expected journal duplicate reason")
	}
	if DuplicateReason(KindVendorCredit) != ReasonDuplicateVendorCredit {
		t.Error("expected vendor credit duplicate reason")
	}
	if !ReasonDuplicateVendorCredit.IsDuplicate() || ReasonNoVRMAMatch.IsDuplicate() {
		t.Error("IsDuplicate returned the wrong answer")
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"150.00", "150", false},
		{"$1,250.50", "1250.5", false},
		{"(30.00)", "-30", false},
		{"-20", "-20", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalFromString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("ParseDecimalFromString() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	for _, input := range []string{"2024-03-01", "03/01/2024", "2024-03-01T00:00:00Z", "Mar 1, 2024"} {
		got, err := ParseTimeWithFormats(input)
		if err != nil {
			t.Errorf("ParseTimeWithFormats(%q) error: %v", input, err)
			continue
		}
		if got.Year() != 2024 || got.Month() != time.March || got.Day() != 1 {
			t.Errorf("ParseTimeWithFormats(%q) = %v", input, got)
		}
	}

	if _, err := ParseTimeWithFormats("yesterday"); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestCompareAmountsWithTolerance(t *testing.T) {
	tol := decimal.RequireFromString("0.01")
	if !CompareAmountsWithTolerance(decimal.RequireFromString("30.00"), decimal.RequireFromString("-30.01"), tol) {
		t.Error("expected amounts within tolerance to match")
	}
	if CompareAmountsWithTolerance(decimal.RequireFromString("30.00"), decimal.RequireFromString("30.02"), tol) {
		t.Error("expected amounts outside tolerance not to match")
	}
}
