package synthesizer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/guard"
	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/ledger/memory"
	"creditmemo-reconciliation-service/internal/models"
	apperrors "creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testConfig() *Config {
	config := DefaultConfig()
	config.PayableAccount = "2000"
	config.ReceivableAccount = "1200"
	config.DebitEntity = "V-APPLIANCE"
	config.FreightAccount = "6100"
	config.FreightDepartment = "SERVICE"
	return config
}

func newSynth(t *testing.T, store *memory.Store) *Synthesizer {
	t.Helper()
	s, err := New(testConfig(), store, guard.New(store, logger.Discard()), logger.Discard())
	if err != nil {
		t.Fatalf("failed to create synthesizer: %v", err)
	}
	return s
}

func testDoc() *models.CreditDocument {
	return &models.CreditDocument{
		InvoiceNumber: "9001",
		InvoiceDate:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		SourcePath:    "/in/9001.json",
		CompanionPath: "/in/9001.pdf",
	}
}

func jeGroup(code, amt, entity string) JournalGroup {
	return JournalGroup{
		Group: &models.NardaGroup{
			Code:  code,
			Class: models.ClassJournalEntry,
			Items: []models.LineItem{models.NewLineItem(code, amount(amt), "", "")},
			Total: amount(amt),
		},
		Counterparty: models.OpenInvoice{TranID: "INV-" + code, EntityID: entity},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing payable", func(c *Config) { c.PayableAccount = "" }, true},
		{"missing receivable", func(c *Config) { c.ReceivableAccount = "" }, true},
		{"missing debit entity", func(c *Config) { c.DebitEntity = "" }, true},
		{"same accounts", func(c *Config) { c.ReceivableAccount = c.PayableAccount }, true},
		{"empty suffix", func(c *Config) { c.JournalSuffix = "" }, true},
		{"department without account", func(c *Config) { c.FreightAccount = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	config := testConfig()
	if !config.IsTerminal(" Closed ") || config.IsTerminal("pendingCredit") {
		t.Error("IsTerminal returned the wrong answer")
	}
	if config.JournalNumber("9001") != "9001-CM" {
		t.Errorf("unexpected journal number %s", config.JournalNumber("9001"))
	}
}

func TestSynthesizeJournalEntrySingleGroup(t *testing.T) {
	store := memory.NewStore()
	session := newSynth(t, store).ForDocument(testDoc())

	outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
	if len(outcomes) != 1 || !outcomes[0].IsCreated() {
		t.Fatalf("expected one created outcome, got %v", outcomes)
	}

	entries := store.JournalEntries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 journal entry, got %d", len(entries))
	}
	je := entries[0]
	if je.Number != "9001-CM" {
		t.Errorf("expected number 9001-CM, got %s", je.Number)
	}
	if !je.TotalDebits().Equal(je.TotalCredits()) || !je.TotalDebits().Equal(amount("150.00")) {
		t.Errorf("expected balanced 150.00, got debits %s credits %s", je.TotalDebits(), je.TotalCredits())
	}
	debit, credit := je.Lines[0], je.Lines[1]
	if debit.Account != "2000" || debit.EntityID != "V-APPLIANCE" {
		t.Errorf("unexpected debit line %+v", debit)
	}
	if credit.Account != "1200" || credit.EntityID != "C-42" {
		t.Errorf("unexpected credit line %+v", credit)
	}
	if !strings.Contains(je.Memo, "J1234") {
		t.Errorf("expected memo to name the code, got %q", je.Memo)
	}
	if got := store.Attachments(outcomes[0].Entry.ID); len(got) != 2 {
		t.Errorf("expected source and companion attached, got %v", got)
	}
}

func TestSynthesizeJournalEntryCombinesGroups(t *testing.T) {
	store := memory.NewStore()
	session := newSynth(t, store).ForDocument(testDoc())

	groups := []JournalGroup{
		jeGroup("J1234", "100.10", "C-1"),
		jeGroup("J0000", "0", "C-0"),
		jeGroup("INV77", "49.95", "C-2"),
	}
	outcomes := session.SynthesizeJournalEntry(context.Background(), groups)

	if outcomes[1].Reason != models.ReasonZeroAmount {
		t.Errorf("expected zero-amount group to be skipped, got %s", outcomes[1])
	}
	if !outcomes[0].IsCreated() || !outcomes[2].IsCreated() {
		t.Fatalf("expected both positive groups created, got %v", outcomes)
	}
	if outcomes[0].Entry.ID != outcomes[2].Entry.ID {
		t.Error("expected both groups to share one journal entry")
	}

	entries := store.JournalEntries()
	if len(entries) != 1 {
		t.Fatalf("expected a single combined journal entry, got %d", len(entries))
	}
	je := entries[0]
	if len(je.Lines) != 3 {
		t.Fatalf("expected one debit and two credits, got %d lines", len(je.Lines))
	}
	if !je.TotalDebits().Equal(amount("150.05")) || !je.TotalCredits().Equal(amount("150.05")) {
		t.Errorf("expected exact balance 150.05, got %s / %s", je.TotalDebits(), je.TotalCredits())
	}
}

func TestSynthesizeJournalEntryGuards(t *testing.T) {
	t.Run("duplicate", func(t *testing.T) {
		store := memory.NewStore()
		store.AddExistingEntry(models.LedgerRef{Kind: models.KindJournalEntry, ID: "77", Number: "9001-CM"})
		session := newSynth(t, store).ForDocument(testDoc())

		outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
		if outcomes[0].Reason != models.ReasonDuplicateJournalEntry || outcomes[0].Entry.ID != "77" {
			t.Errorf("expected duplicate referencing 77, got %s", outcomes[0])
		}
		if len(store.JournalEntries()) != 0 {
			t.Error("nothing may be created on a duplicate")
		}
	})

	t.Run("guard query failure", func(t *testing.T) {
		store := memory.NewStore()
		store.FailOn(memory.OpFindLedgerEntries, errors.New("timeout"))
		session := newSynth(t, store).ForDocument(testDoc())

		outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
		if !outcomes[0].IsFailed() || !apperrors.HasCode(outcomes[0].Cause, apperrors.CodeGuardQueryFailed) {
			t.Errorf("expected guard failure, got %s", outcomes[0])
		}
		if len(store.JournalEntries()) != 0 {
			t.Error("nothing may be created when the guard cannot run")
		}
	})

	t.Run("missing header", func(t *testing.T) {
		store := memory.NewStore()
		doc := testDoc()
		doc.InvoiceDate = time.Time{}
		session := newSynth(t, store).ForDocument(doc)

		outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
		if !outcomes[0].IsFailed() || !apperrors.HasCode(outcomes[0].Cause, apperrors.CodeMissingField) {
			t.Errorf("expected missing_field failure, got %s", outcomes[0])
		}
	})

	t.Run("ledger failure", func(t *testing.T) {
		store := memory.NewStore()
		store.FailOn(memory.OpCreateJournalEntry, errors.New("governance limit"))
		session := newSynth(t, store).ForDocument(testDoc())

		outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
		if !outcomes[0].IsFailed() || !apperrors.HasCode(outcomes[0].Cause, apperrors.CodeLedgerOperationFailed) {
			t.Errorf("expected ledger failure, got %s", outcomes[0])
		}
	})

	t.Run("attachment failure keeps creation", func(t *testing.T) {
		store := memory.NewStore()
		store.FailOn(memory.OpAttachFile, errors.New("file cabinet full"))
		session := newSynth(t, store).ForDocument(testDoc())

		outcomes := session.SynthesizeJournalEntry(context.Background(), []JournalGroup{jeGroup("J1234", "150.00", "C-42")})
		if !outcomes[0].IsCreated() {
			t.Errorf("expected creation despite attachment failure, got %s", outcomes[0])
		}
	})
}

func seedAuthorization(store *memory.Store, id, status string) *models.AuthorizationCandidate {
	auth := models.AuthorizationCandidate{
		ID: id, DocumentNumber: "VRMA-" + id, Status: status, VendorID: "V-9",
		Lines: []models.AuthorizationLine{
			{Sequence: 1, ItemID: "P-100", Amount: amount("30.00"), Memo: "B200"},
			{Sequence: 2, ItemID: "P-200", Amount: amount("20.00"), Memo: "B200"},
			{Sequence: 3, ItemID: "P-300", Amount: amount("75.00"), Memo: "B200"},
		},
	}
	store.AddAuthorization(auth)
	for i := range auth.Lines {
		auth.Lines[i].AuthorizationID = id
		auth.Lines[i].DocumentNumber = auth.DocumentNumber
		auth.Lines[i].Status = status
	}
	return &auth
}

func b200Group() *models.BillNumberGroup {
	items := []models.LineItem{
		models.NewLineItem("NF", amount("30.00"), "P-100", "B200"),
		models.NewLineItem("CORE", amount("20.00"), "P-200", "B200"),
	}
	return &models.BillNumberGroup{BillNumber: "B200", Codes: []string{"NF", "CORE"}, Items: items, Total: amount("50.00")}
}

func pairsFor(candidate *models.AuthorizationCandidate, seqs ...int) []models.MatchedPair {
	var pairs []models.MatchedPair
	for _, seq := range seqs {
		line := candidate.Lines[seq-1]
		pairs = append(pairs, models.MatchedPair{Item: models.NewLineItem("NF", line.Amount, line.ItemID, "B200"), Line: line})
	}
	return pairs
}

func TestSynthesizeVendorCredit(t *testing.T) {
	store := memory.NewStore()
	candidate := seedAuthorization(store, "7001", "pendingCredit")
	doc := testDoc()
	doc.FreightAmount = amount("12.50")
	session := newSynth(t, store).ForDocument(doc)

	out := session.Synthesize(context.Background(), b200Group(), candidate, pairsFor(candidate, 1, 2))
	if !out.IsCreated() {
		t.Fatalf("expected created, got %s", out)
	}
	if out.Authorization != "VRMA-7001" {
		t.Errorf("expected authorization on outcome, got %q", out.Authorization)
	}

	credits := store.VendorCredits()
	if len(credits) != 1 {
		t.Fatalf("expected 1 vendor credit, got %d", len(credits))
	}
	vc := credits[0]
	if vc.Number != "9001" {
		t.Errorf("expected plain invoice number, got %s", vc.Number)
	}
	if len(vc.Items) != 2 || vc.Items[0].Sequence != 1 || vc.Items[1].Sequence != 2 {
		t.Errorf("expected exactly the matched lines 1 and 2, got %+v", vc.Items)
	}
	if !strings.Contains(vc.Memo, "NF") || !strings.Contains(vc.Memo, "CORE") || !strings.Contains(vc.Memo, "VRMA-7001") {
		t.Errorf("expected memo to list codes and authorization, got %q", vc.Memo)
	}
	if len(vc.Expenses) != 1 || !vc.Expenses[0].Amount.Equal(amount("12.50")) || vc.Expenses[0].Account != "6100" {
		t.Errorf("expected one freight expense of 12.50, got %+v", vc.Expenses)
	}
	if !session.FreightApplied() {
		t.Error("expected freight to be marked applied")
	}
	if len(store.Attachments(out.Entry.ID)) != 2 {
		t.Error("expected attachments on the vendor credit")
	}
}

func TestSynthesizeVendorCreditFreightOncePerDocument(t *testing.T) {
	store := memory.NewStore()
	first := seedAuthorization(store, "1", "pendingCredit")
	second := seedAuthorization(store, "2", "pendingCredit")
	doc := testDoc()
	doc.FreightAmount = amount("10.00")
	session := newSynth(t, store).ForDocument(doc)

	ctx := context.Background()
	b200 := b200Group()
	b200.Sequence = 1
	if out := session.Synthesize(ctx, b200, first, pairsFor(first, 1)); !out.IsCreated() {
		t.Fatalf("expected first credit created, got %s", out)
	}
	if !session.FreightApplied() {
		t.Fatal("expected freight on the first credit")
	}

	b300 := &models.BillNumberGroup{
		BillNumber: "B300",
		Sequence:   2,
		Codes:      []string{"CORE"},
		Items:      []models.LineItem{models.NewLineItem("CORE", amount("75.00"), "P-300", "B300")},
		Total:      amount("75.00"),
	}
	out := session.Synthesize(ctx, b300, second, pairsFor(second, 3))
	if !out.IsCreated() {
		t.Fatalf("expected second credit created, got %s", out)
	}
	if out.Entry == nil || out.Entry.Number != "9001-B300" {
		t.Errorf("expected the second bill numbered 9001-B300, got %+v", out.Entry)
	}

	credits := store.VendorCredits()
	if len(credits) != 2 {
		t.Fatalf("expected two vendor credits, got %d", len(credits))
	}
	for _, vc := range credits {
		wantExpenses := 0
		if vc.Number == "9001" {
			wantExpenses = 1
		}
		if len(vc.Expenses) != wantExpenses {
			t.Errorf("credit %s: expected %d freight line(s), got %d", vc.Number, wantExpenses, len(vc.Expenses))
		}
	}
}

func TestVendorCreditNumber(t *testing.T) {
	config := testConfig()
	tests := []struct {
		name  string
		group *models.BillNumberGroup
		want  string
	}{
		{"no group", nil, "9001"},
		{"unsequenced group", &models.BillNumberGroup{BillNumber: "B200"}, "9001"},
		{"first bill", &models.BillNumberGroup{BillNumber: "B200", Sequence: 1}, "9001"},
		{"later bill", &models.BillNumberGroup{BillNumber: " B300 ", Sequence: 2}, "9001-B300"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := config.VendorCreditNumber(" 9001 ", tt.group); got != tt.want {
				t.Errorf("VendorCreditNumber() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSynthesizeVendorCreditSkips(t *testing.T) {
	tests := []struct {
		name   string
		status string
		setup  func(store *memory.Store)
		want   models.SkipReason
	}{
		{"terminal status", "Closed", nil, models.ReasonVRMAInvalidStatus},
		{"already credited", "pendingCredit", func(s *memory.Store) { s.MarkConsumed("7001") }, models.ReasonVRMAAlreadyCredited},
		{"inaccessible", "pendingCredit", func(s *memory.Store) { s.Restrict("7001") }, models.ReasonVRMAInaccessible},
		{"transform rejected", "pendingCredit", func(s *memory.Store) { s.FailTransform("7001", ledger.ErrTransformRejected) }, models.ReasonVRMATransformFailed},
		{"duplicate", "pendingCredit", func(s *memory.Store) {
			s.AddExistingEntry(models.LedgerRef{Kind: models.KindVendorCredit, Number: "9001"})
		}, models.ReasonDuplicateVendorCredit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			candidate := seedAuthorization(store, "7001", tt.status)
			if tt.setup != nil {
				tt.setup(store)
			}
			session := newSynth(t, store).ForDocument(testDoc())

			out := session.Synthesize(context.Background(), b200Group(), candidate, pairsFor(candidate, 1, 2))
			if !out.IsSkipped() || out.Reason != tt.want {
				t.Errorf("expected skipped %s, got %s", tt.want, out)
			}
			if len(store.VendorCredits()) != 0 {
				t.Error("nothing may be created on a skip")
			}
		})
	}
}

func TestSynthesizeVendorCreditFailures(t *testing.T) {
	t.Run("unexpected transform error", func(t *testing.T) {
		store := memory.NewStore()
		candidate := seedAuthorization(store, "7001", "pendingCredit")
		store.FailTransform("7001", errors.New("unexpected token"))
		session := newSynth(t, store).ForDocument(testDoc())

		out := session.Synthesize(context.Background(), b200Group(), candidate, pairsFor(candidate, 1))
		if !out.IsFailed() {
			t.Errorf("expected failure, got %s", out)
		}
	})

	t.Run("save error", func(t *testing.T) {
		store := memory.NewStore()
		candidate := seedAuthorization(store, "7001", "pendingCredit")
		store.FailOn(memory.OpSaveVendorCredit, errors.New("record locked"))
		doc := testDoc()
		doc.FreightAmount = amount("5.00")
		session := newSynth(t, store).ForDocument(doc)

		out := session.Synthesize(context.Background(), b200Group(), candidate, pairsFor(candidate, 1))
		if !out.IsFailed() || !apperrors.HasCode(out.Cause, apperrors.CodeLedgerOperationFailed) {
			t.Errorf("expected ledger failure, got %s", out)
		}
		if session.FreightApplied() {
			t.Error("freight must stay pending when the save failed")
		}
	})

	t.Run("missing invoice number", func(t *testing.T) {
		store := memory.NewStore()
		candidate := seedAuthorization(store, "7001", "pendingCredit")
		doc := testDoc()
		doc.InvoiceNumber = ""
		session := newSynth(t, store).ForDocument(doc)

		out := session.Synthesize(context.Background(), b200Group(), candidate, pairsFor(candidate, 1))
		if !out.IsFailed() {
			t.Errorf("expected failure, got %s", out)
		}
	})
}
