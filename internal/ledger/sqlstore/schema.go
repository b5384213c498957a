package sqlstore

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"creditmemo-reconciliation-service/internal/models"
)

const invoiceStatusOpen = "open"

type openInvoiceRow struct {
	ID              uint            `gorm:"primaryKey"`
	InternalID      string          `gorm:"size:64;uniqueIndex;not null"`
	TranID          string          `gorm:"size:64;index;not null"`
	JobReference    string          `gorm:"size:64;index"`
	EntityID        string          `gorm:"size:64;not null"`
	EntityName      string          `gorm:"size:255"`
	Status          string          `gorm:"size:32;index;not null;default:open"`
	TranDate        time.Time       `gorm:"not null"`
	AmountRemaining decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
}

func (openInvoiceRow) TableName() string { return "open_invoices" }

func (r openInvoiceRow) model() models.OpenInvoice {
	return models.OpenInvoice{
		InternalID:      r.InternalID,
		TranID:          r.TranID,
		JobReference:    r.JobReference,
		EntityID:        r.EntityID,
		EntityName:      r.EntityName,
		TranDate:        r.TranDate,
		AmountRemaining: r.AmountRemaining,
	}
}

type authorizationRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	DocumentNumber string `gorm:"size:64;index;not null"`
	Status         string `gorm:"size:64;not null"`
	VendorID       string `gorm:"size:64"`
	// Consumed is set once a vendor credit has been saved from the authorization.
	Consumed   bool                   `gorm:"not null;default:false"`
	Restricted bool                   `gorm:"not null;default:false"`
	Lines      []authorizationLineRow `gorm:"foreignKey:AuthorizationID"`
}

func (authorizationRow) TableName() string { return "vendor_return_authorizations" }

type authorizationLineRow struct {
	ID              uint            `gorm:"primaryKey"`
	AuthorizationID string          `gorm:"size:64;index;not null"`
	Sequence        int             `gorm:"not null"`
	ItemID          string          `gorm:"size:64"`
	PartNumber      string          `gorm:"size:64"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
	Memo            string          `gorm:"type:text"`
}

func (authorizationLineRow) TableName() string { return "vendor_return_authorization_lines" }

// memoLineRow is an authorization line joined with its header
type memoLineRow struct {
	AuthorizationID string
	DocumentNumber  string
	Status          string
	Sequence        int
	ItemID          string
	PartNumber      string
	Amount          decimal.Decimal
	Memo            string
}

func (r memoLineRow) model() models.AuthorizationLine {
	return models.AuthorizationLine{
		AuthorizationID: r.AuthorizationID,
		DocumentNumber:  r.DocumentNumber,
		Status:          r.Status,
		Sequence:        r.Sequence,
		ItemID:          r.ItemID,
		PartNumber:      r.PartNumber,
		Amount:          r.Amount,
		Memo:            r.Memo,
	}
}

type journalEntryRow struct {
	ID         uint             `gorm:"primaryKey"`
	Number     string           `gorm:"size:64;uniqueIndex;not null"`
	EntryDate  time.Time        `gorm:"not null"`
	Subsidiary string           `gorm:"size:64"`
	Currency   string           `gorm:"size:16"`
	Memo       string           `gorm:"type:text"`
	Total      decimal.Decimal  `gorm:"type:decimal(20,4);default:0"`
	Lines      []journalLineRow `gorm:"foreignKey:JournalEntryID"`
	CreatedAt  time.Time        `gorm:"autoCreateTime"`
}

func (journalEntryRow) TableName() string { return "journal_entries" }

type journalLineRow struct {
	ID             uint            `gorm:"primaryKey"`
	JournalEntryID uint            `gorm:"index;not null"`
	LineNo         int             `gorm:"not null"`
	Account        string          `gorm:"size:64;not null"`
	EntityID       string          `gorm:"size:64"`
	Debit          decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
	Credit         decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
	Memo           string          `gorm:"size:255"`
}

func (journalLineRow) TableName() string { return "journal_entry_lines" }

func newJournalEntryRow(entry *models.JournalEntry) *journalEntryRow {
	row := &journalEntryRow{
		Number:     entry.Number,
		EntryDate:  entry.Date,
		Subsidiary: entry.Subsidiary,
		Currency:   entry.Currency,
		Memo:       entry.Memo,
		Total:      entry.TotalDebits(),
	}
	for i, line := range entry.Lines {
		row.Lines = append(row.Lines, journalLineRow{
			LineNo:   i + 1,
			Account:  line.Account,
			EntityID: line.EntityID,
			Debit:    line.Debit,
			Credit:   line.Credit,
			Memo:     line.Memo,
		})
	}
	return row
}

func (r *journalEntryRow) ref() models.LedgerRef {
	return models.LedgerRef{Kind: models.KindJournalEntry, ID: formatID(r.ID), Number: r.Number}
}

type vendorCreditRow struct {
	ID                  uint                     `gorm:"primaryKey"`
	Number              string                   `gorm:"size:64;uniqueIndex;not null"`
	CreditDate          time.Time                `gorm:"not null"`
	VendorID            string                   `gorm:"size:64"`
	AuthorizationID     string                   `gorm:"size:64;index;not null"`
	AuthorizationNumber string                   `gorm:"size:64"`
	Memo                string                   `gorm:"type:text"`
	Total               decimal.Decimal          `gorm:"type:decimal(20,4);default:0"`
	Items               []vendorCreditItemRow    `gorm:"foreignKey:VendorCreditID"`
	Expenses            []vendorCreditExpenseRow `gorm:"foreignKey:VendorCreditID"`
	CreatedAt           time.Time                `gorm:"autoCreateTime"`
}

func (vendorCreditRow) TableName() string { return "vendor_credits" }

type vendorCreditItemRow struct {
	ID             uint            `gorm:"primaryKey"`
	VendorCreditID uint            `gorm:"index;not null"`
	Sequence       int             `gorm:"not null"`
	ItemID         string          `gorm:"size:64"`
	PartNumber     string          `gorm:"size:64"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
}

func (vendorCreditItemRow) TableName() string { return "vendor_credit_items" }

type vendorCreditExpenseRow struct {
	ID             uint            `gorm:"primaryKey"`
	VendorCreditID uint            `gorm:"index;not null"`
	Account        string          `gorm:"size:64;not null"`
	Department     string          `gorm:"size:64"`
	Amount         decimal.Decimal `gorm:"type:decimal(20,4);default:0"`
	Memo           string          `gorm:"size:255"`
}

func (vendorCreditExpenseRow) TableName() string { return "vendor_credit_expenses" }

func newVendorCreditRow(credit *models.VendorCredit) *vendorCreditRow {
	row := &vendorCreditRow{
		Number:              credit.Number,
		CreditDate:          credit.Date,
		VendorID:            credit.VendorID,
		AuthorizationID:     credit.AuthorizationID,
		AuthorizationNumber: credit.AuthorizationNumber,
		Memo:                credit.Memo,
		Total:               credit.Total(),
	}
	for _, item := range credit.Items {
		row.Items = append(row.Items, vendorCreditItemRow{
			Sequence:   item.Sequence,
			ItemID:     item.ItemID,
			PartNumber: item.PartNumber,
			Amount:     item.Amount,
		})
	}
	for _, exp := range credit.Expenses {
		row.Expenses = append(row.Expenses, vendorCreditExpenseRow{
			Account:    exp.Account,
			Department: exp.Department,
			Amount:     exp.Amount,
			Memo:       exp.Memo,
		})
	}
	return row
}

func (r *vendorCreditRow) ref() models.LedgerRef {
	return models.LedgerRef{Kind: models.KindVendorCredit, ID: formatID(r.ID), Number: r.Number}
}

// attachmentRow links an uploaded file to a journal entry or vendor credit
type attachmentRow struct {
	ID            uint      `gorm:"primaryKey"`
	ReferenceType string    `gorm:"size:32;index:idx_attachment_reference;not null"`
	ReferenceID   uint      `gorm:"index:idx_attachment_reference;not null"`
	FileName      string    `gorm:"size:255;not null"`
	URI           string    `gorm:"size:1024;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (attachmentRow) TableName() string { return "transaction_attachments" }

func allTables() []interface{} {
	return []interface{}{
		&openInvoiceRow{},
		&authorizationRow{},
		&authorizationLineRow{},
		&journalEntryRow{},
		&journalLineRow{},
		&vendorCreditRow{},
		&vendorCreditItemRow{},
		&vendorCreditExpenseRow{},
		&attachmentRow{},
	}
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

func parseID(id string) (uint, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}
