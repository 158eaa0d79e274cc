package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/jonwraymond/depguard/resilience"
)

// Classify tags a database error for the executor.
//
//   - gorm.ErrRecordNotFound → caller fault wrapping ErrNotFound
//   - MySQL 1062 (duplicate entry) → caller fault wrapping ErrDuplicate
//   - MySQL 1451, 1452 (foreign key) → caller fault wrapping ErrConstraint
//   - MySQL 1048, 1265, 1366, 1406, 3140 (bad or oversized value) → caller fault wrapping ErrInvalidValue
//   - MySQL 1205 (lock wait timeout), 1213 (deadlock) → retryable
//   - MySQL 1040, 1053, 1203 (server overloaded or shutting down) → rate limited
//   - connection errors and anything else → retryable
//
// Context errors are returned unchanged so the executor can tell a
// cancelled caller from a failed dependency.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return resilience.CallerFault(fmt.Errorf("%w: %v", ErrNotFound, err), "id")
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return classifyMySQLError(mysqlErr)
	}

	if isConnectionError(err) {
		return resilience.Retryable(fmt.Errorf("ledger: database connection error: %w", err))
	}
	return resilience.Retryable(fmt.Errorf("ledger: database error: %w", err))
}

func classifyMySQLError(err *mysql.MySQLError) error {
	switch err.Number {
	case 1062: // ER_DUP_ENTRY
		return resilience.CallerFault(fmt.Errorf("%w: %v", ErrDuplicate, err), "")
	case 1451, 1452: // ER_ROW_IS_REFERENCED_2, ER_NO_REFERENCED_ROW_2
		return resilience.CallerFault(fmt.Errorf("%w: %v", ErrConstraint, err), "")
	case 1048, 1265, 1366, 1406, 3140: // null, truncated, wrong value, too long, invalid JSON
		return resilience.CallerFault(fmt.Errorf("%w: %v", ErrInvalidValue, err), "")
	case 1040, 1053, 1203: // too many connections, server shutdown, user connection limit
		return resilience.RateLimited(fmt.Errorf("ledger: database overloaded: %w", err), 0)
	default: // 1205 lock wait timeout, 1213 deadlock and the rest
		return resilience.Retryable(fmt.Errorf("ledger: mysql error %d: %w", err.Number, err))
	}
}

func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
