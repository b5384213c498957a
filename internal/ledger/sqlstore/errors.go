package sqlstore

import (
	stderrors "errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"creditmemo-reconciliation-service/internal/ledger"
)

// MySQL server error numbers the store translates
const (
	mysqlDuplicateEntry     = 1062
	mysqlDBAccessDenied     = 1044
	mysqlAccessDenied       = 1045
	mysqlTableAccessDenied  = 1142
	mysqlColumnAccessDenied = 1143
)

// translate maps driver and gorm failures onto the ledger sentinels
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ledger.ErrNotFound)
	}
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", what, ledger.ErrDuplicateNumber)
	}

	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlDuplicateEntry:
			return fmt.Errorf("%s: %w", what, ledger.ErrDuplicateNumber)
		case mysqlDBAccessDenied, mysqlAccessDenied, mysqlTableAccessDenied, mysqlColumnAccessDenied:
			return fmt.Errorf("%s: %w: %s", what, ledger.ErrPermissionDenied, mysqlErr.Message)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
