package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/ledger/memory"
	"creditmemo-reconciliation-service/internal/models"
)

// Generator produces extraction documents and a ledger fixture that agree with each other
type Generator struct {
	Count     int
	StartDate time.Time
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	Seed      uint64

	// Ratios in [0,1] controlling which documents get each variation
	ShortShipRatio  float64
	FreightRatio    float64
	UnmatchedRatio  float64
	DuplicateRatio  float64
	MaxParts        int

	// JournalSuffix must match synthesizer.journal_suffix for duplicates to be detected
	JournalSuffix string

	rng *rand.Rand
}

// DocumentTemplate mirrors the extraction JSON layout
type DocumentTemplate struct {
	InvoiceNumber string         `json:"invoice_number"`
	InvoiceDate   string         `json:"invoice_date"`
	Total         string         `json:"total,omitempty"`
	FreightAmount string         `json:"freight_amount,omitempty"`
	LineItems     []LineTemplate `json:"line_items"`
}

// LineTemplate is one extraction line item
type LineTemplate struct {
	Code        string `json:"narda"`
	Amount      string `json:"amount"`
	PartNumber  string `json:"part_number,omitempty"`
	BillNumber  string `json:"bill_number,omitempty"`
	Description string `json:"description,omitempty"`
}

// Scenario is one generated data set
type Scenario struct {
	Documents []DocumentTemplate
	Fixture   memory.Fixture
}

func (g *Generator) amount() decimal.Decimal {
	span := g.MaxAmount.Sub(g.MinAmount)
	return decimal.NewFromFloat(g.rng.Float64()).Mul(span).Add(g.MinAmount).Round(2)
}

func (g *Generator) chance(ratio float64) bool {
	return ratio > 0 && g.rng.Float64() < ratio
}

// Generate builds Count documents; each labor credit gets an open invoice and each
// part line an authorization line unless the document was picked as unmatched
func (g *Generator) Generate() Scenario {
	g.rng = rand.New(rand.NewPCG(g.Seed, g.Seed^0x9e3779b97f4a7c15))
	maxParts := g.MaxParts
	if maxParts <= 0 {
		maxParts = 3
	}

	scenario := Scenario{Fixture: memory.Fixture{
		OpenInvoices:             []models.OpenInvoice{},
		Authorizations:           []models.AuthorizationCandidate{},
		ExistingEntries:          []models.LedgerRef{},
		ConsumedAuthorizations:   []string{},
		RestrictedAuthorizations: []string{},
	}}

	for i := 0; i < g.Count; i++ {
		seq := i + 1
		invoiceNumber := fmt.Sprintf("%d", 90000+seq)
		date := g.StartDate.AddDate(0, 0, i%28)
		unmatched := g.chance(g.UnmatchedRatio)
		doc := DocumentTemplate{
			InvoiceNumber: invoiceNumber,
			InvoiceDate:   date.Format("2006-01-02"),
		}
		total := decimal.Zero

		jobRef := fmt.Sprintf("J%05d", seq)
		labor := g.amount()
		doc.LineItems = append(doc.LineItems, LineTemplate{
			Code:        jobRef,
			Amount:      labor.Neg().StringFixed(2),
			Description: "Labor credit",
		})
		total = total.Add(labor)
		if !unmatched {
			scenario.Fixture.OpenInvoices = append(scenario.Fixture.OpenInvoices, models.OpenInvoice{
				InternalID:      fmt.Sprintf("%d", 1000+seq),
				TranID:          fmt.Sprintf("INV%05d", seq),
				JobReference:    jobRef,
				EntityID:        fmt.Sprintf("C-%d", 1+seq%17),
				TranDate:        date.AddDate(0, 0, -14),
				AmountRemaining: labor.Add(g.amount()),
			})
		}

		billNumber := fmt.Sprintf("B%05d", seq)
		auth := models.AuthorizationCandidate{
			ID:             fmt.Sprintf("%d", 7000+seq),
			DocumentNumber: fmt.Sprintf("VRMA-%d", 7000+seq),
			Status:         "pendingCredit",
			VendorID:       fmt.Sprintf("V-%d", 1+seq%5),
		}
		parts := 1 + g.rng.IntN(maxParts)
		for p := 1; p <= parts; p++ {
			partNumber := fmt.Sprintf("P-%03d%02d", seq%1000, p)
			amount := g.amount()
			doc.LineItems = append(doc.LineItems, LineTemplate{
				Code:       "NF",
				Amount:     amount.StringFixed(2),
				PartNumber: partNumber,
				BillNumber: billNumber,
			})
			total = total.Add(amount)
			auth.Lines = append(auth.Lines, models.AuthorizationLine{
				Sequence:   p,
				ItemID:     partNumber,
				PartNumber: partNumber,
				Amount:     amount,
				Memo:       "Return per bill " + billNumber,
			})
		}
		if !unmatched {
			scenario.Fixture.Authorizations = append(scenario.Fixture.Authorizations, auth)
		}

		if g.chance(g.ShortShipRatio) {
			amount := g.amount()
			doc.LineItems = append(doc.LineItems, LineTemplate{Code: "BOX", Amount: amount.StringFixed(2)})
			total = total.Add(amount)
		}
		if g.chance(g.FreightRatio) {
			freight := decimal.NewFromFloat(5 + g.rng.Float64()*20).Round(2)
			doc.FreightAmount = freight.StringFixed(2)
			total = total.Add(freight)
		}
		if !unmatched && g.chance(g.DuplicateRatio) {
			scenario.Fixture.ExistingEntries = append(scenario.Fixture.ExistingEntries, models.LedgerRef{
				Kind:   models.KindJournalEntry,
				ID:     fmt.Sprintf("%d", 50000+seq),
				Number: invoiceNumber + g.JournalSuffix,
			})
		}

		doc.Total = total.StringFixed(2)
		scenario.Documents = append(scenario.Documents, doc)
	}

	return scenario
}

// Write stores every document as <invoice>.json under dir/input and the fixture as dir/ledger.json
func (s Scenario) Write(dir string) error {
	inputDir := filepath.Join(dir, "input")
	if err := os.MkdirAll(inputDir, 0755); err != nil {
		return err
	}
	for _, doc := range s.Documents {
		if err := writeJSON(filepath.Join(inputDir, doc.InvoiceNumber+".json"), doc); err != nil {
			return err
		}
	}
	return writeJSON(filepath.Join(dir, "ledger.json"), s.Fixture)
}

func writeJSON(path string, value interface{}) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
