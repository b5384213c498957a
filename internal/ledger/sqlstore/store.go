// Package sqlstore is the MySQL-backed ledger. It serves the read-side queries
// and stores journal entries, vendor credits and attachments through gorm.
package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"creditmemo-reconciliation-service/internal/ledger"
	"creditmemo-reconciliation-service/internal/models"
	"creditmemo-reconciliation-service/pkg/errors"
	"creditmemo-reconciliation-service/pkg/logger"
)

// Uploader stores an attachment file and returns its location
type Uploader interface {
	Upload(ctx context.Context, objectName, localPath string) (string, error)
}

// Config configures the database connection
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
}

// DefaultConfig returns pool settings without a DSN
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		SlowThreshold:   time.Second,
	}
}

// Validate validates the database configuration
func (c Config) Validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("mysql dsn is required")
	}
	if c.MaxOpenConns < 0 || c.MaxIdleConns < 0 {
		return fmt.Errorf("connection pool sizes cannot be negative")
	}
	if c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max idle connections (%d) exceed max open connections (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// Store implements ledger.Ledger on MySQL
type Store struct {
	db       *gorm.DB
	uploader Uploader
	logger   logger.Logger
}

var _ ledger.Ledger = (*Store)(nil)

// Open connects to MySQL and optionally migrates the schema
func Open(ctx context.Context, config Config, uploader Uploader, log logger.Logger) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "ledger.mysql.dsn", nil, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	db, err := gorm.Open(mysql.Open(config.DSN), &gorm.Config{
		Logger: gormlogger.New(gormWriter{log.WithComponent("gorm")}, gormlogger.Config{
			SlowThreshold:             config.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryLedger, errors.CodeConnectionFailed, "failed to connect to ledger database").
			WithSuggestion("Check ledger.mysql.dsn and that the database is reachable")
	}

	if sqlDB, derr := db.DB(); derr == nil {
		if config.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		}
		if config.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		}
		if config.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
		}
	}

	if config.AutoMigrate {
		if err := db.WithContext(ctx).AutoMigrate(allTables()...); err != nil {
			return nil, errors.Wrap(err, errors.CategoryLedger, errors.CodeLedgerOperationFailed, "failed to migrate ledger schema")
		}
	}
	return New(db, uploader, log), nil
}

// New wraps an open gorm connection
func New(db *gorm.DB, uploader Uploader, log logger.Logger) *Store {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Store{
		db:       db,
		uploader: uploader,
		logger:   log.WithComponent("sqlstore"),
	}
}

// FindOpenInvoicesByJobReference returns open invoices whose job reference equals the code
func (s *Store) FindOpenInvoicesByJobReference(ctx context.Context, jobReference string) ([]models.OpenInvoice, error) {
	var rows []openInvoiceRow
	err := s.db.WithContext(ctx).
		Where("job_reference = ? AND status = ?", jobReference, invoiceStatusOpen).
		Order("tran_date, id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "find open invoices by job reference")
	}
	return invoices(rows), nil
}

// FindOpenInvoicesByNumber returns open invoices whose transaction number equals tranID
func (s *Store) FindOpenInvoicesByNumber(ctx context.Context, tranID string) ([]models.OpenInvoice, error) {
	var rows []openInvoiceRow
	err := s.db.WithContext(ctx).
		Where("tran_id = ? AND status = ?", tranID, invoiceStatusOpen).
		Order("tran_date, id").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "find open invoices by number")
	}
	return invoices(rows), nil
}

// FindLedgerEntriesByNumber returns stored transactions of kind with the given number
func (s *Store) FindLedgerEntriesByNumber(ctx context.Context, kind models.LedgerKind, number string) ([]models.LedgerRef, error) {
	var refs []models.LedgerRef
	switch kind {
	case models.KindJournalEntry:
		var rows []journalEntryRow
		if err := s.db.WithContext(ctx).Select("id", "number").Where("number = ?", number).Find(&rows).Error; err != nil {
			return nil, translate(err, "find journal entries by number")
		}
		for i := range rows {
			refs = append(refs, rows[i].ref())
		}
	case models.KindVendorCredit:
		var rows []vendorCreditRow
		if err := s.db.WithContext(ctx).Select("id", "number").Where("number = ?", number).Find(&rows).Error; err != nil {
			return nil, translate(err, "find vendor credits by number")
		}
		for i := range rows {
			refs = append(refs, rows[i].ref())
		}
	default:
		return nil, fmt.Errorf("unknown ledger kind %q", kind)
	}
	return refs, nil
}

// FindAuthorizationLinesByMemo returns authorization lines whose memo contains
// fragment. Matching follows the column collation, which ignores case.
func (s *Store) FindAuthorizationLinesByMemo(ctx context.Context, fragment string) ([]models.AuthorizationLine, error) {
	var rows []memoLineRow
	err := s.db.WithContext(ctx).
		Table("vendor_return_authorization_lines AS l").
		Select("l.authorization_id, a.document_number, a.status, l.sequence, l.item_id, l.part_number, l.amount, l.memo").
		Joins("JOIN vendor_return_authorizations AS a ON a.id = l.authorization_id").
		Where("l.memo LIKE ?", "%"+escapeLike(fragment)+"%").
		Order("a.id, l.sequence").
		Find(&rows).Error
	if err != nil {
		return nil, translate(err, "find authorization lines by memo")
	}

	lines := make([]models.AuthorizationLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, row.model())
	}
	return lines, nil
}

// CreateJournalEntry stores a balanced journal entry with its lines
func (s *Store) CreateJournalEntry(ctx context.Context, entry *models.JournalEntry) (models.LedgerRef, error) {
	if err := entry.Validate(); err != nil {
		return models.LedgerRef{}, err
	}
	row := newJournalEntryRow(entry)
	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(row).Error
	}); err != nil {
		return models.LedgerRef{}, translate(err, "journal entry "+entry.Number)
	}

	ref := row.ref()
	s.logger.WithFields(logger.Fields{"number": ref.Number, "id": ref.ID}).Debug("Stored journal entry")
	return ref, nil
}

// TransformAuthorization returns an unsaved vendor credit carrying every line of the authorization
func (s *Store) TransformAuthorization(ctx context.Context, authorizationID string) (*models.VendorCredit, error) {
	var auth authorizationRow
	err := s.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("sequence") }).
		Where("id = ?", authorizationID).
		First(&auth).Error
	if err != nil {
		return nil, translate(err, "authorization "+authorizationID)
	}
	if auth.Restricted {
		return nil, fmt.Errorf("authorization %s: %w", auth.DocumentNumber, ledger.ErrPermissionDenied)
	}
	if auth.Consumed {
		return nil, fmt.Errorf("authorization %s: %w", auth.DocumentNumber, ledger.ErrAlreadyConsumed)
	}
	return draftFromAuthorization(&auth), nil
}

// SaveVendorCredit stores a vendor credit and marks its authorization consumed
func (s *Store) SaveVendorCredit(ctx context.Context, credit *models.VendorCredit) (models.LedgerRef, error) {
	if strings.TrimSpace(credit.Number) == "" {
		return models.LedgerRef{}, fmt.Errorf("vendor credit number cannot be empty")
	}
	row := newVendorCreditRow(credit)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&authorizationRow{}).
			Where("id = ? AND consumed = ?", credit.AuthorizationID, false).
			Update("consumed", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("authorization %s: %w", credit.AuthorizationNumber, ledger.ErrAlreadyConsumed)
		}
		return tx.Create(row).Error
	})
	if err != nil {
		return models.LedgerRef{}, translate(err, "vendor credit "+credit.Number)
	}

	ref := row.ref()
	s.logger.WithFields(logger.Fields{
		"number":        ref.Number,
		"id":            ref.ID,
		"authorization": credit.AuthorizationNumber,
	}).Debug("Stored vendor credit")
	return ref, nil
}

// AttachFile uploads the file and links it to a stored transaction
func (s *Store) AttachFile(ctx context.Context, ref models.LedgerRef, path string) error {
	id, err := parseID(ref.ID)
	if err != nil {
		return fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, ledger.ErrNotFound)
	}
	exists, err := s.exists(ctx, ref.Kind, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", ref.Kind, ref.ID, ledger.ErrNotFound)
	}

	uri := "file://" + path
	if s.uploader != nil {
		uri, err = s.uploader.Upload(ctx, objectName(ref, path), path)
		if err != nil {
			return fmt.Errorf("upload attachment for %s %s: %w", ref.Kind, ref.Number, err)
		}
	}

	attachment := attachmentRow{
		ReferenceType: string(ref.Kind),
		ReferenceID:   id,
		FileName:      filepath.Base(path),
		URI:           uri,
	}
	if err := s.db.WithContext(ctx).Create(&attachment).Error; err != nil {
		return translate(err, "attachment for "+ref.Number)
	}
	return nil
}

// DeleteTransaction removes a stored transaction, its lines and attachments.
// Deleting a vendor credit frees its authorization again.
func (s *Store) DeleteTransaction(ctx context.Context, kind models.LedgerKind, id string) error {
	rowID, err := parseID(id)
	if err != nil {
		return fmt.Errorf("%s %s: %w", kind, id, ledger.ErrNotFound)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		switch kind {
		case models.KindJournalEntry:
			if err := tx.Where("journal_entry_id = ?", rowID).Delete(&journalLineRow{}).Error; err != nil {
				return err
			}
			res := tx.Delete(&journalEntryRow{}, rowID)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return gorm.ErrRecordNotFound
			}
		case models.KindVendorCredit:
			var credit vendorCreditRow
			if err := tx.Select("id", "authorization_id").First(&credit, rowID).Error; err != nil {
				return err
			}
			if err := tx.Where("vendor_credit_id = ?", rowID).Delete(&vendorCreditItemRow{}).Error; err != nil {
				return err
			}
			if err := tx.Where("vendor_credit_id = ?", rowID).Delete(&vendorCreditExpenseRow{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&vendorCreditRow{}, rowID).Error; err != nil {
				return err
			}
			if err := tx.Model(&authorizationRow{}).Where("id = ?", credit.AuthorizationID).
				Update("consumed", false).Error; err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown ledger kind %q", kind)
		}
		return tx.Where("reference_type = ? AND reference_id = ?", string(kind), rowID).
			Delete(&attachmentRow{}).Error
	})
	return translate(err, fmt.Sprintf("delete %s %s", kind, id))
}

// Close closes the database connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) exists(ctx context.Context, kind models.LedgerKind, id uint) (bool, error) {
	var model interface{}
	switch kind {
	case models.KindJournalEntry:
		model = &journalEntryRow{}
	case models.KindVendorCredit:
		model = &vendorCreditRow{}
	default:
		return false, fmt.Errorf("unknown ledger kind %q", kind)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, translate(err, fmt.Sprintf("look up %s %d", kind, id))
	}
	return count > 0, nil
}

func draftFromAuthorization(auth *authorizationRow) *models.VendorCredit {
	draft := &models.VendorCredit{
		DraftID:             "vra-" + auth.ID,
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
	return draft
}

func invoices(rows []openInvoiceRow) []models.OpenInvoice {
	out := make([]models.OpenInvoice, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.model())
	}
	return out
}

// objectName is the storage path of an attachment: <kind>/<number>/<file>
func objectName(ref models.LedgerRef, path string) string {
	return fmt.Sprintf("%s/%s/%s", ref.Kind, ref.Number, filepath.Base(path))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// gormWriter routes gorm's own log lines into the application logger
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Warnf(format, args...)
}
