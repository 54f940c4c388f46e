package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrForeignKeyViolation is returned when a media row references a message
	// that does not exist. The pipeline writes messages first, so seeing this
	// means the write ordering was broken.
	ErrForeignKeyViolation = errors.New("foreign key violation")

	// ErrDatabaseUnavailable is returned when the database cannot be reached.
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

// mysqlFKViolation is ER_NO_REFERENCED_ROW_2.
const mysqlFKViolation = 1452

// classify maps driver errors onto the store's sentinel errors. Unknown errors
// are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		case liteErr.Code == sqlite3.ErrCantOpen, liteErr.Code == sqlite3.ErrNotADB:
			return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
		}
		return err
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		if myErr.Number == mysqlFKViolation {
			return fmt.Errorf("%w: %w", ErrForeignKeyViolation, err)
		}
		return err
	}

	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}
	return err
}
