package matcher

import (
	"context"
	"errors"
	"testing"

	"creditmemo-reconciliation-service/internal/ledger/memory"
	"creditmemo-reconciliation-service/internal/models"
	apperrors "creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// scriptedSynthesizer returns a fixed outcome per authorization id and records calls
type scriptedSynthesizer struct {
	outcomes map[string]func(scope models.Scope) models.Outcome
	calls    []string
	pairs    map[string][]models.MatchedPair
}

func newScripted() *scriptedSynthesizer {
	return &scriptedSynthesizer{
		outcomes: make(map[string]func(models.Scope) models.Outcome),
		pairs:    make(map[string][]models.MatchedPair),
	}
}

func (s *scriptedSynthesizer) Synthesize(ctx context.Context, group *models.BillNumberGroup, candidate *models.AuthorizationCandidate, pairs []models.MatchedPair) models.Outcome {
	s.calls = append(s.calls, candidate.ID)
	s.pairs[candidate.ID] = pairs
	scope := models.ScopeOfBill(group)
	if fn, ok := s.outcomes[candidate.ID]; ok {
		return fn(scope)
	}
	return models.Created(scope, models.LedgerRef{Kind: models.KindVendorCredit, ID: "vc-" + candidate.ID, Number: "9001"}, "ok")
}

func skip(reason models.SkipReason) func(models.Scope) models.Outcome {
	return func(scope models.Scope) models.Outcome { return models.Skipped(scope, reason, string(reason)) }
}

func billGroup(bill string, items ...models.LineItem) *models.BillNumberGroup {
	g := &models.BillNumberGroup{BillNumber: bill, Codes: []string{"CORE"}}
	for _, item := range items {
		g.Items = append(g.Items, item)
		g.Total = g.Total.Add(item.Amount)
	}
	return g
}

func seededStore() *memory.Store {
	store := memory.NewStore()
	store.AddAuthorization(models.AuthorizationCandidate{
		ID: "1", DocumentNumber: "VRMA-1", Status: "pendingCredit",
		Lines: []models.AuthorizationLine{
			{Sequence: 1, ItemID: "P-9", Amount: amount("99.00"), Memo: "bill B200"},
		},
	})
	store.AddAuthorization(models.AuthorizationCandidate{
		ID: "2", DocumentNumber: "VRMA-2", Status: "pendingCredit",
		Lines: []models.AuthorizationLine{
			{Sequence: 1, ItemID: "P-100", Amount: amount("30.00"), Memo: "bill B200"},
			{Sequence: 2, ItemID: "P-200", Amount: amount("20.00"), Memo: "bill B200"},
		},
	})
	store.AddAuthorization(models.AuthorizationCandidate{
		ID: "3", DocumentNumber: "VRMA-3", Status: "pendingCredit",
		Lines: []models.AuthorizationLine{
			{Sequence: 1, ItemID: "P-100", Amount: amount("30.00"), Memo: "bill B200"},
		},
	})
	return store
}

func b200() *models.BillNumberGroup {
	return billGroup("B200",
		models.NewLineItem("NF", amount("30.00"), "P-100", "B200"),
		models.NewLineItem("CORE", amount("20.00"), "P-200", "B200"),
	)
}

func TestMatchNoCandidates(t *testing.T) {
	engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
	synth := newScripted()

	out := engine.Match(context.Background(), billGroup("B100", models.NewLineItem("CORE", amount("5.00"), "", "B100")), synth)
	if out.Reason != models.ReasonNoVRMAMatch {
		t.Fatalf("expected NO_VRMA_MATCH, got %s %s", out.Status, out.Reason)
	}
	if len(synth.calls) != 0 {
		t.Error("synthesizer must not be called without candidates")
	}
}

func TestMatchSkipsCandidatesWithoutPairs(t *testing.T) {
	engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
	synth := newScripted()

	out := engine.Match(context.Background(), b200(), synth)
	if !out.IsCreated() {
		t.Fatalf("expected created, got %s", out)
	}
	if len(synth.calls) != 1 || synth.calls[0] != "2" {
		t.Errorf("expected only candidate 2 to be synthesized, got %v", synth.calls)
	}
	if len(synth.pairs["2"]) != 2 {
		t.Errorf("expected both lines paired, got %d", len(synth.pairs["2"]))
	}
}

func TestMatchRetriesAfterBusinessSkip(t *testing.T) {
	engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
	synth := newScripted()
	synth.outcomes["2"] = skip(models.ReasonVRMAInvalidStatus)

	out := engine.Match(context.Background(), b200(), synth)
	if !out.IsCreated() || out.Entry.ID != "vc-3" {
		t.Fatalf("expected candidate 3 to succeed, got %s", out)
	}
	if len(synth.calls) != 2 {
		t.Errorf("expected 2 synthesis attempts, got %v", synth.calls)
	}
	if synth.calls[1] != "3" {
		t.Errorf("expected second attempt against candidate 3, got %s", synth.calls[1])
	}
	if out.Message == "ok" {
		t.Error("expected unmatched lines to be noted on a partial match")
	}
}

func TestMatchReturnsLastSkipWhenExhausted(t *testing.T) {
	engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
	synth := newScripted()
	synth.outcomes["2"] = skip(models.ReasonVRMAInvalidStatus)
	synth.outcomes["3"] = skip(models.ReasonVRMAAlreadyCredited)

	out := engine.Match(context.Background(), b200(), synth)
	if out.Reason != models.ReasonVRMAAlreadyCredited {
		t.Fatalf("expected last skip VRMA_ALREADY_CREDITED, got %s", out.Reason)
	}
}

func TestMatchStopsOnDuplicateAndFailure(t *testing.T) {
	tests := []struct {
		name   string
		script func(models.Scope) models.Outcome
		check  func(models.Outcome) bool
	}{
		{"duplicate", skip(models.ReasonDuplicateVendorCredit), func(o models.Outcome) bool { return o.Reason == models.ReasonDuplicateVendorCredit }},
		{"failure", func(scope models.Scope) models.Outcome { return models.Failed(scope, errors.New("save failed")) }, models.Outcome.IsFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
			synth := newScripted()
			synth.outcomes["2"] = tt.script

			out := engine.Match(context.Background(), b200(), synth)
			if !tt.check(out) {
				t.Errorf("unexpected outcome %s", out)
			}
			if len(synth.calls) != 1 {
				t.Errorf("expected the search to stop after one attempt, got %v", synth.calls)
			}
		})
	}
}

func TestMatchCandidatesExhaustedWithoutPairs(t *testing.T) {
	engine := NewMatchingEngine(nil, seededStore(), logger.Discard())
	synth := newScripted()

	out := engine.Match(context.Background(), billGroup("B200", models.NewLineItem("CORE", amount("1.23"), "", "B200")), synth)
	if out.Reason != models.ReasonCandidatesExhausted {
		t.Fatalf("expected CANDIDATES_EXHAUSTED, got %s", out.Reason)
	}
}

func TestMatchSearchErrorFails(t *testing.T) {
	store := seededStore()
	store.FailOn(memory.OpFindAuthorizationLines, errors.New("search down"))
	engine := NewMatchingEngine(nil, store, logger.Discard())

	out := engine.Match(context.Background(), b200(), newScripted())
	if !out.IsFailed() {
		t.Fatalf("expected failed outcome, got %s", out)
	}
	if !apperrors.HasCode(out.Cause, apperrors.CodeSearchError) {
		t.Errorf("expected search_error, got %v", out.Cause)
	}
}

func TestMatchMaxCandidates(t *testing.T) {
	config := DefaultMatchingConfig()
	config.MaxCandidates = 2
	engine := NewMatchingEngine(config, seededStore(), logger.Discard())
	synth := newScripted()
	synth.outcomes["2"] = skip(models.ReasonVRMAInaccessible)

	out := engine.Match(context.Background(), b200(), synth)
	if out.Reason != models.ReasonVRMAInaccessible {
		t.Fatalf("expected the cap to stop before candidate 3, got %s", out)
	}
}

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(*MatchingConfig) {}, false},
		{"negative tolerance", func(c *MatchingConfig) { c.AmountTolerance = amount("-0.01") }, true},
		{"huge tolerance", func(c *MatchingConfig) { c.AmountTolerance = amount("5") }, true},
		{"negative cap", func(c *MatchingConfig) { c.MaxCandidates = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if !StrictMatchingConfig().AmountTolerance.IsZero() {
		t.Error("strict config should demand exact amounts")
	}
}
