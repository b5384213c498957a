package matcher

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
)

// Consolidation is the vendor-credit side of a document after bill merging
type Consolidation struct {
	// Bills are ordered by first appearance of their reference.
	Bills []*models.BillNumberGroup
	// Unreferenced holds one skip per code whose lines carry no bill reference.
	Unreferenced []models.Outcome
}

// Consolidate merges the lines of every vendor-credit group by originating bill.
// Lines without a bill reference never reach matching: each code's unreferenced lines
// become one NO_ORIGINATING_BILL skip, even when the same code has referenced lines.
func Consolidate(groups []*models.NardaGroup) Consolidation {
	var result Consolidation
	index := make(map[string]*models.BillNumberGroup)

	for _, group := range groups {
		if group.Class != models.ClassVendorCredit {
			continue
		}

		var unreferenced []models.LineItem
		for _, item := range group.Items {
			if !item.HasBillNumber() {
				unreferenced = append(unreferenced, item)
				continue
			}
			bill := strings.TrimSpace(item.BillNumber)
			bg, ok := index[bill]
			if !ok {
				bg = &models.BillNumberGroup{BillNumber: bill, Sequence: len(result.Bills) + 1, Total: decimal.Zero}
				index[bill] = bg
				result.Bills = append(result.Bills, bg)
			}
			bg.Items = append(bg.Items, item)
			bg.Total = bg.Total.Add(item.Amount.Abs())
			if !containsCode(bg.Codes, group.Code) {
				bg.Codes = append(bg.Codes, group.Code)
			}
		}

		if len(unreferenced) > 0 {
			total := models.SumItems(unreferenced)
			scope := models.Scope{Codes: []string{group.Code}, Amount: total, ItemCount: len(unreferenced)}
			result.Unreferenced = append(result.Unreferenced, models.Skipped(scope, models.ReasonNoOriginatingBill,
				fmt.Sprintf("%d line(s) coded %s totalling %s carry no originating bill",
					len(unreferenced), group.Code, total.StringFixed(2))))
		}
	}
	return result
}

func containsCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
