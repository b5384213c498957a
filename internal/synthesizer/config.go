package synthesizer

import (
	"fmt"
	"strings"

	"creditmemo-reconciliation-service/internal/models"
)

// Config holds the fixed accounts and entities postings are made against.
// It is built once per run and never mutated.
type Config struct {
	// PayableAccount takes the single debit line of a journal entry.
	PayableAccount string `mapstructure:"payable_account"`
	// ReceivableAccount takes every credit line of a journal entry.
	ReceivableAccount string `mapstructure:"receivable_account"`
	// DebitEntity is the fixed counterparty on the debit line.
	DebitEntity string `mapstructure:"debit_entity"`

	FreightAccount    string `mapstructure:"freight_account"`
	FreightDepartment string `mapstructure:"freight_department"`

	// JournalSuffix is appended to the invoice number to form the journal entry number.
	JournalSuffix string `mapstructure:"journal_suffix"`
	Subsidiary    string `mapstructure:"subsidiary"`
	Currency      string `mapstructure:"currency"`

	// TerminalStatuses are authorization statuses that can no longer be credited.
	TerminalStatuses []string `mapstructure:"terminal_statuses"`

	AttachDocuments bool `mapstructure:"attach_documents"`
}

// DefaultConfig returns defaults for everything except the accounts, which are site specific
func DefaultConfig() *Config {
	return &Config{
		JournalSuffix:    "-CM",
		Currency:         "USD",
		TerminalStatuses: []string{"closed", "rejected", "cancelled"},
		AttachDocuments:  true,
	}
}

// Validate validates the synthesizer configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.PayableAccount) == "" {
		return fmt.Errorf("payable account is required")
	}
	if strings.TrimSpace(c.ReceivableAccount) == "" {
		return fmt.Errorf("receivable account is required")
	}
	if strings.TrimSpace(c.DebitEntity) == "" {
		return fmt.Errorf("debit entity is required")
	}
	if c.PayableAccount == c.ReceivableAccount {
		return fmt.Errorf("payable and receivable accounts must differ")
	}
	if strings.TrimSpace(c.JournalSuffix) == "" {
		return fmt.Errorf("journal suffix cannot be empty; journal and vendor credit numbers would coincide")
	}
	if c.FreightDepartment != "" && c.FreightAccount == "" {
		return fmt.Errorf("freight department set without a freight account")
	}
	return nil
}

// IsTerminal reports whether an authorization status can no longer be credited
func (c *Config) IsTerminal(status string) bool {
	status = strings.TrimSpace(status)
	for _, s := range c.TerminalStatuses {
		if strings.EqualFold(s, status) {
			return true
		}
	}
	return false
}

// JournalNumber builds the journal entry number for an invoice
func (c *Config) JournalNumber(invoiceNumber string) string {
	return strings.TrimSpace(invoiceNumber) + c.JournalSuffix
}

// VendorCreditNumber numbers the credit for one bill of an invoice. The first bill
// takes the plain invoice number; later bills append their bill reference, so
// every bill keeps the same number across reruns.
func (c *Config) VendorCreditNumber(invoiceNumber string, group *models.BillNumberGroup) string {
	number := strings.TrimSpace(invoiceNumber)
	if group == nil || group.Sequence <= 1 {
		return number
	}
	return number + "-" + strings.TrimSpace(group.BillNumber)
}
