// Package memory provides an in-memory ledger used by tests and by fixture-driven
// dry runs of the reconciler.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
)

// Operation names a store call for failure injection
type Operation string

const (
	OpFindInvoicesByJobReference Operation = "find_invoices_by_job_reference"
	OpFindInvoicesByNumber       Operation = "find_invoices_by_number"
	OpFindLedgerEntries          Operation = "find_ledger_entries"
	OpFindAuthorizationLines     Operation = "find_authorization_lines"
	OpCreateJournalEntry         Operation = "create_journal_entry"
	OpSaveVendorCredit           Operation = "save_vendor_credit"
	OpAttachFile                 Operation = "attach_file"
)

// Store implements ledger.Ledger in memory.
type Store struct {
	mu             sync.RWMutex
	invoices       []models.OpenInvoice
	authorizations []*models.AuthorizationCandidate
	consumed       map[string]bool
	restricted     map[string]bool
	refs           []models.LedgerRef
	journals       map[string]*models.JournalEntry
	credits        map[string]*models.VendorCredit
	attachments    map[string][]string
	failures       map[Operation]error
	transformErrs  map[string]error
	idCounter      int
}

var _ ledger.Ledger = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		consumed:      make(map[string]bool),
		restricted:    make(map[string]bool),
		journals:      make(map[string]*models.JournalEntry),
		credits:       make(map[string]*models.VendorCredit),
		attachments:   make(map[string][]string),
		failures:      make(map[Operation]error),
		transformErrs: make(map[string]error),
	}
}

// Fixture is the on-disk seed format for a dry-run ledger.
type Fixture struct {
	OpenInvoices             []models.OpenInvoice            `json:"open_invoices"`
	Authorizations           []models.AuthorizationCandidate `json:"authorizations"`
	ExistingEntries          []models.LedgerRef              `json:"existing_entries"`
	ConsumedAuthorizations   []string                        `json:"consumed_authorizations"`
	RestrictedAuthorizations []string                        `json:"restricted_authorizations"`
}

// LoadFixture builds a store seeded from a JSON fixture file.
func LoadFixture(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger fixture: %w", err)
	}
	var fx Fixture
	if err := json.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("decode ledger fixture %s: %w", path, err)
	}
	return NewStoreFromFixture(fx), nil
}

// NewStoreFromFixture builds a store from an in-memory fixture.
func NewStoreFromFixture(fx Fixture) *Store {
	s := NewStore()
	for _, inv := range fx.OpenInvoices {
		s.AddOpenInvoice(inv)
	}
	for _, auth := range fx.Authorizations {
		s.AddAuthorization(auth)
	}
	for _, ref := range fx.ExistingEntries {
		s.AddExistingEntry(ref)
	}
	for _, id := range fx.ConsumedAuthorizations {
		s.consumed[id] = true
	}
	for _, id := range fx.RestrictedAuthorizations {
		s.restricted[id] = true
	}
	return s
}

// AddOpenInvoice seeds an open invoice.
func (s *Store) AddOpenInvoice(inv models.OpenInvoice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = append(s.invoices, inv)
}

// AddAuthorization seeds an authorization; its lines inherit the header fields.
func (s *Store) AddAuthorization(auth models.AuthorizationCandidate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := auth
	copied.Lines = make([]models.AuthorizationLine, len(auth.Lines))
	for i, line := range auth.Lines {
		line.AuthorizationID = auth.ID
		line.DocumentNumber = auth.DocumentNumber
		line.Status = auth.Status
		if line.Sequence == 0 {
			line.Sequence = i + 1
		}
		copied.Lines[i] = line
	}
	s.authorizations = append(s.authorizations, &copied)
}

// AddExistingEntry seeds a transaction that already exists in the ledger.
func (s *Store) AddExistingEntry(ref models.LedgerRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ref.ID == "" {
		s.idCounter++
		ref.ID = fmt.Sprintf("existing-%d", s.idCounter)
	}
	s.refs = append(s.refs, ref)
}

// MarkConsumed flags an authorization as already fully credited.
func (s *Store) MarkConsumed(authorizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed[authorizationID] = true
}

// Restrict flags an authorization as inaccessible.
func (s *Store) Restrict(authorizationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restricted[authorizationID] = true
}

// FailOn makes every call of op return err until cleared with a nil err.
func (s *Store) FailOn(op Operation, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// FailTransform makes transforming one authorization return err.
func (s *Store) FailTransform(authorizationID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transformErrs[authorizationID] = err
}

func (s *Store) failure(op Operation) error {
	return s.failures[op]
}

func (s *Store) nextID(prefix string) string {
	s.idCounter++
	return fmt.Sprintf("%s-%d", prefix, s.idCounter)
}

// FindOpenInvoicesByJobReference returns open invoices whose job reference equals the code.
func (s *Store) FindOpenInvoicesByJobReference(ctx context.Context, jobReference string) ([]models.OpenInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpFindInvoicesByJobReference); err != nil {
		return nil, err
	}
	var out []models.OpenInvoice
	for _, inv := range s.invoices {
		if inv.JobReference != "" && strings.EqualFold(inv.JobReference, jobReference) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// FindOpenInvoicesByNumber returns open invoices whose transaction number equals tranID.
func (s *Store) FindOpenInvoicesByNumber(ctx context.Context, tranID string) ([]models.OpenInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpFindInvoicesByNumber); err != nil {
		return nil, err
	}
	var out []models.OpenInvoice
	for _, inv := range s.invoices {
		if strings.EqualFold(inv.TranID, tranID) {
			out = append(out, inv)
		}
	}
	return out, nil
}

// FindLedgerEntriesByNumber returns stored transactions of kind with the given number.
func (s *Store) FindLedgerEntriesByNumber(ctx context.Context, kind models.LedgerKind, number string) ([]models.LedgerRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpFindLedgerEntries); err != nil {
		return nil, err
	}
	var out []models.LedgerRef
	for _, ref := range s.refs {
		if ref.Kind == kind && ref.Number == number {
			out = append(out, ref)
		}
	}
	return out, nil
}

// FindAuthorizationLinesByMemo returns lines whose memo contains fragment, ignoring case
// the way the hosted search does.
func (s *Store) FindAuthorizationLinesByMemo(ctx context.Context, fragment string) ([]models.AuthorizationLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.failure(OpFindAuthorizationLines); err != nil {
		return nil, err
	}
	needle := strings.ToLower(fragment)
	var out []models.AuthorizationLine
	for _, auth := range s.authorizations {
		for _, line := range auth.Lines {
			if strings.Contains(strings.ToLower(line.Memo), needle) {
				out = append(out, line)
			}
		}
	}
	return out, nil
}

// CreateJournalEntry stores a balanced journal entry.
func (s *Store) CreateJournalEntry(ctx context.Context, entry *models.JournalEntry) (models.LedgerRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpCreateJournalEntry); err != nil {
		return models.LedgerRef{}, err
	}
	if err := entry.Validate(); err != nil {
		return models.LedgerRef{}, err
	}
	if s.numberTaken(models.KindJournalEntry, entry.Number) {
		return models.LedgerRef{}, fmt.Errorf("journal entry %s: %w", entry.Number, ledger.ErrDuplicateNumber)
	}

	ref := models.LedgerRef{Kind: models.KindJournalEntry, ID: s.nextID("je"), Number: entry.Number}
	stored := *entry
	stored.Lines = append([]models.JournalLine(nil), entry.Lines...)
	s.journals[ref.ID] = &stored
	s.refs = append(s.refs, ref)
	return ref, nil
}

// TransformAuthorization returns an unsaved vendor credit carrying every line of the authorization.
func (s *Store) TransformAuthorization(ctx context.Context, authorizationID string) (*models.VendorCredit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.transformErrs[authorizationID]; err != nil {
		return nil, err
	}
	auth := s.authorization(authorizationID)
	if auth == nil {
		return nil, fmt.Errorf("authorization %s: %w", authorizationID, ledger.ErrNotFound)
	}
	if s.restricted[authorizationID] {
		return nil, fmt.Errorf("authorization %s: %w", auth.DocumentNumber, ledger.ErrPermissionDenied)
	}
	if s.consumed[authorizationID] {
		return nil, fmt.Errorf("authorization %s: %w", auth.DocumentNumber, ledger.ErrAlreadyConsumed)
	}

	draft := &models.VendorCredit{
		DraftID:             s.nextID("draft"),
		VendorID:            auth.VendorID,
		AuthorizationID:     auth.ID,
		AuthorizationNumber: auth.DocumentNumber,
	}
	for _, line := range auth.Lines {
		draft.Items = append(draft.Items, models.VendorCreditItem{
			Sequence:   line.Sequence,
			ItemID:     line.ItemID,
			PartNumber: line.PartNumber,
			Amount:     line.Amount.Abs(),
		})
	}
	return draft, nil
}

// SaveVendorCredit stores a vendor credit and marks its authorization consumed.
func (s *Store) SaveVendorCredit(ctx context.Context, credit *models.VendorCredit) (models.LedgerRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpSaveVendorCredit); err != nil {
		return models.LedgerRef{}, err
	}
	if strings.TrimSpace(credit.Number) == "" {
		return models.LedgerRef{}, fmt.Errorf("vendor credit number cannot be empty")
	}
	if s.numberTaken(models.KindVendorCredit, credit.Number) {
		return models.LedgerRef{}, fmt.Errorf("vendor credit %s: %w", credit.Number, ledger.ErrDuplicateNumber)
	}

	ref := models.LedgerRef{Kind: models.KindVendorCredit, ID: s.nextID("vc"), Number: credit.Number}
	stored := *credit
	stored.Items = append([]models.VendorCreditItem(nil), credit.Items...)
	stored.Expenses = append([]models.VendorCreditExpense(nil), credit.Expenses...)
	s.credits[ref.ID] = &stored
	s.refs = append(s.refs, ref)
	s.consumed[credit.AuthorizationID] = true
	return ref, nil
}

// AttachFile records a file against a stored transaction.
func (s *Store) AttachFile(ctx context.Context, ref models.LedgerRef, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failure(OpAttachFile); err != nil {
		return err
	}
	if !s.exists(ref.Kind, ref.ID) {
		return fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, ledger.ErrNotFound)
	}
	s.attachments[ref.ID] = append(s.attachments[ref.ID], path)
	return nil
}

// DeleteTransaction removes a stored transaction by id.
func (s *Store) DeleteTransaction(ctx context.Context, kind models.LedgerKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(kind, id) {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}
	for i, ref := range s.refs {
		if ref.Kind == kind && ref.ID == id {
			s.refs = append(s.refs[:i], s.refs[i+1:]...)
			break
		}
	}
	if credit, ok := s.credits[id]; ok && kind == models.KindVendorCredit {
		delete(s.consumed, credit.AuthorizationID)
	}
	delete(s.journals, id)
	delete(s.credits, id)
	delete(s.attachments, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) authorization(id string) *models.AuthorizationCandidate {
	for _, auth := range s.authorizations {
		if auth.ID == id {
			return auth
		}
	}
	return nil
}

func (s *Store) numberTaken(kind models.LedgerKind, number string) bool {
	for _, ref := range s.refs {
		if ref.Kind == kind && ref.Number == number {
			return true
		}
	}
	return false
}

func (s *Store) exists(kind models.LedgerKind, id string) bool {
	for _, ref := range s.refs {
		if ref.Kind == kind && ref.ID == id {
			return true
		}
	}
	return false
}

// JournalEntries returns stored journal entries ordered by id.
func (s *Store) JournalEntries() []models.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.JournalEntry, 0, len(s.journals))
	for _, id := range sortedKeys(s.journals) {
		out = append(out, *s.journals[id])
	}
	return out
}

// VendorCredits returns stored vendor credits ordered by id.
func (s *Store) VendorCredits() []models.VendorCredit {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.VendorCredit, 0, len(s.credits))
	for _, id := range sortedKeys(s.credits) {
		out = append(out, *s.credits[id])
	}
	return out
}

// Attachments returns the files attached to a transaction id.
func (s *Store) Attachments(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.attachments[id]...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) < len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}
