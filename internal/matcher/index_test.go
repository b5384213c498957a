package matcher

import (
	"reflect"
	"testing"

	"creditmemo-reconciliation-service/internal/models"
)

func authLine(authID, doc string, seq int, part, amt, memo string) models.AuthorizationLine {
	return models.AuthorizationLine{
		AuthorizationID: authID,
		DocumentNumber:  doc,
		Status:          "pendingCredit",
		Sequence:        seq,
		ItemID:          part,
		PartNumber:      part,
		Amount:          amount(amt),
		Memo:            memo,
	}
}

func TestNewCandidateIndex(t *testing.T) {
	lines := []models.AuthorizationLine{
		authLine("2", "VRMA-2", 1, "P-1", "10.00", "bill B200"),
		authLine("1", "VRMA-1", 1, "P-1", "10.00", "bill B200"),
		authLine("2", "VRMA-2", 2, "P-2", "5.00", "bill B200 part 2"),
		authLine("3", "VRMA-3", 1, "P-1", "10.00", "bill b200"),
	}

	index := NewCandidateIndex("B200", lines, true)
	if index.Len() != 2 {
		t.Fatalf("expected 2 candidates, got %d", index.Len())
	}
	if index.Candidates[0].ID != "2" || index.Candidates[1].ID != "1" {
		t.Errorf("expected encounter order [2 1], got [%s %s]", index.Candidates[0].ID, index.Candidates[1].ID)
	}
	if len(index.Candidates[0].Lines) != 2 {
		t.Errorf("expected candidate 2 to hold 2 lines, got %d", len(index.Candidates[0].Lines))
	}
	if index.Filtered() != 1 {
		t.Errorf("expected the lower-case memo to be filtered, got %d filtered", index.Filtered())
	}
	if _, ok := index.Get("3"); ok {
		t.Error("filtered candidate must not be indexed")
	}

	relaxed := NewCandidateIndex("B200", lines, false)
	if relaxed.Len() != 3 {
		t.Errorf("expected 3 candidates without re-check, got %d", relaxed.Len())
	}
}

func TestPair(t *testing.T) {
	config := DefaultMatchingConfig()
	candidate := &models.AuthorizationCandidate{
		ID: "1",
		Lines: []models.AuthorizationLine{
			authLine("1", "VRMA-1", 1, "P-100", "30.00", "B200"),
			authLine("1", "VRMA-1", 2, "P-200", "20.00", "B200"),
			authLine("1", "VRMA-1", 3, "P-300", "20.00", "B200"),
		},
	}

	tests := []struct {
		name      string
		items     []models.LineItem
		wantSeqs  []int
		unmatched int
	}{
		{
			name: "amount and part",
			items: []models.LineItem{
				models.NewLineItem("NF", amount("30.00"), "p-100", "B200"),
				models.NewLineItem("CORE", amount("-20.00"), "P-300", "B200"),
			},
			wantSeqs: []int{1, 3},
		},
		{
			name: "tolerance",
			items: []models.LineItem{
				models.NewLineItem("NF", amount("29.99"), "", "B200"),
			},
			wantSeqs: []int{1},
		},
		{
			name: "outside tolerance",
			items: []models.LineItem{
				models.NewLineItem("NF", amount("29.98"), "", "B200"),
			},
			unmatched: 1,
		},
		{
			name: "part mismatch",
			items: []models.LineItem{
				models.NewLineItem("NF", amount("30.00"), "P-999", "B200"),
			},
			unmatched: 1,
		},
		{
			name: "each line used once",
			items: []models.LineItem{
				models.NewLineItem("CORE", amount("20.00"), "", "B200"),
				models.NewLineItem("CORE", amount("20.00"), "", "B200"),
				models.NewLineItem("CORE", amount("20.00"), "", "B200"),
			},
			wantSeqs:  []int{2, 3},
			unmatched: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Pair(tt.items, candidate, config)
			var seqs []int
			for _, p := range result.Pairs {
				seqs = append(seqs, p.Line.Sequence)
			}
			if !reflect.DeepEqual(seqs, tt.wantSeqs) {
				t.Errorf("expected sequences %v, got %v", tt.wantSeqs, seqs)
			}
			if len(result.Unmatched) != tt.unmatched {
				t.Errorf("expected %d unmatched, got %d", tt.unmatched, len(result.Unmatched))
			}
		})
	}
}

func TestPairIsIdempotent(t *testing.T) {
	config := DefaultMatchingConfig()
	candidate := &models.AuthorizationCandidate{
		ID: "1",
		Lines: []models.AuthorizationLine{
			authLine("1", "VRMA-1", 1, "P-1", "10.00", "B1"),
			authLine("1", "VRMA-1", 2, "P-2", "10.00", "B1"),
		},
	}
	items := []models.LineItem{
		models.NewLineItem("NF", amount("10.00"), "", "B1"),
		models.NewLineItem("NF", amount("10.00"), "P-1", "B1"),
	}

	first := Pair(items, candidate, config)
	second := Pair(items, candidate, config)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("pairing is not idempotent: %+v vs %+v", first, second)
	}
}
