package matcher

import (
	"testing"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func vcGroup(code string, items ...models.LineItem) *models.NardaGroup {
	g := &models.NardaGroup{Code: code, Class: models.ClassVendorCredit, Total: decimal.Zero}
	for _, item := range items {
		g.Items = append(g.Items, item)
		g.Total = g.Total.Add(item.Amount)
	}
	return g
}

func TestConsolidateMergesAcrossCodes(t *testing.T) {
	groups := []*models.NardaGroup{
		vcGroup("NF", models.NewLineItem("NF", amount("30.00"), "P-100", "B200")),
		vcGroup("CORE", models.NewLineItem("CORE", amount("20.00"), "P-200", "B200")),
	}

	result := Consolidate(groups)
	if len(result.Bills) != 1 {
		t.Fatalf("expected 1 bill group, got %d", len(result.Bills))
	}
	bill := result.Bills[0]
	if bill.BillNumber != "B200" {
		t.Errorf("expected B200, got %s", bill.BillNumber)
	}
	if !bill.Total.Equal(amount("50.00")) {
		t.Errorf("expected merged total 50.00, got %s", bill.Total)
	}
	if len(bill.Codes) != 2 || bill.Codes[0] != "NF" || bill.Codes[1] != "CORE" {
		t.Errorf("expected codes [NF CORE], got %v", bill.Codes)
	}
	if len(result.Unreferenced) != 0 {
		t.Errorf("expected no unreferenced skips, got %d", len(result.Unreferenced))
	}
}

func TestConsolidateSplitsBillsAndUnreferenced(t *testing.T) {
	groups := []*models.NardaGroup{
		vcGroup("CORE",
			models.NewLineItem("CORE", amount("10.00"), "", "B100"),
			models.NewLineItem("CORE", amount("4.00"), "", ""),
			models.NewLineItem("CORE", amount("6.00"), "", "B300"),
			models.NewLineItem("CORE", amount("1.00"), "", " "),
		),
		{Code: "J1234", Class: models.ClassJournalEntry, Items: []models.LineItem{
			models.NewLineItem("J1234", amount("99.00"), "", "B100"),
		}},
	}

	result := Consolidate(groups)
	if len(result.Bills) != 2 {
		t.Fatalf("expected 2 bill groups, got %d", len(result.Bills))
	}
	if result.Bills[0].BillNumber != "B100" || result.Bills[1].BillNumber != "B300" {
		t.Errorf("unexpected bill order: %s, %s", result.Bills[0].BillNumber, result.Bills[1].BillNumber)
	}
	if result.Bills[0].Sequence != 1 || result.Bills[1].Sequence != 2 {
		t.Errorf("expected bill sequences 1 and 2, got %d and %d", result.Bills[0].Sequence, result.Bills[1].Sequence)
	}
	if !result.Bills[0].Total.Equal(amount("10.00")) {
		t.Errorf("journal entry lines must not be consolidated, got total %s", result.Bills[0].Total)
	}

	if len(result.Unreferenced) != 1 {
		t.Fatalf("expected 1 unreferenced skip, got %d", len(result.Unreferenced))
	}
	skip := result.Unreferenced[0]
	if skip.Reason != models.ReasonNoOriginatingBill {
		t.Errorf("expected NO_ORIGINATING_BILL, got %s", skip.Reason)
	}
	if !skip.Amount.Equal(amount("5.00")) || skip.ItemCount != 2 {
		t.Errorf("expected 2 unreferenced items totalling 5.00, got %d / %s", skip.ItemCount, skip.Amount)
	}
}

func TestConsolidateEveryLineLandsOnce(t *testing.T) {
	groups := []*models.NardaGroup{
		vcGroup("NF",
			models.NewLineItem("NF", amount("1.00"), "", "B1"),
			models.NewLineItem("NF", amount("2.00"), "", ""),
		),
		vcGroup("CONC",
			models.NewLineItem("CONC", amount("3.00"), "", "B2"),
			models.NewLineItem("CONC", amount("4.00"), "", "B1"),
			models.NewLineItem("CONC", amount("5.00"), "", ""),
		),
	}

	result := Consolidate(groups)
	count := 0
	for _, b := range result.Bills {
		count += len(b.Items)
	}
	for _, s := range result.Unreferenced {
		count += s.ItemCount
	}
	if count != 5 {
		t.Errorf("expected all 5 lines accounted for exactly once, got %d", count)
	}
}
