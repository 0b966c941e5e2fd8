package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/openkey-lms/keyledger/internal/apperr"
)

// classify maps driver failures onto apperr codes by SQLite result code.
// Errors it does not recognise are wrapped with op and left uncoded.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		switch {
		case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return apperr.Wrap(apperr.CodeReferentialViolation, op, err)
		case code&0xff == sqlite3.SQLITE_CONSTRAINT:
			return apperr.Wrap(apperr.CodeConstraintViolation, op, err)
		case code&0xff == sqlite3.SQLITE_BUSY,
			code&0xff == sqlite3.SQLITE_LOCKED,
			code&0xff == sqlite3.SQLITE_CANTOPEN,
			code&0xff == sqlite3.SQLITE_IOERR,
			code&0xff == sqlite3.SQLITE_FULL,
			code&0xff == sqlite3.SQLITE_READONLY:
			return apperr.Wrap(apperr.CodeStoreUnavailable, op, err)
		}
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrTxDone) {
		return apperr.Wrap(apperr.CodeStoreUnavailable, op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
