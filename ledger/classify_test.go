package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/jonwraymond/depguard/resilience"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOutcome resilience.Outcome
		wantIs      error
	}{
		{"record not found", gorm.ErrRecordNotFound, resilience.OutcomeCallerFault, ErrNotFound},
		{"duplicate entry", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, resilience.OutcomeCallerFault, ErrDuplicate},
		{"foreign key", &mysql.MySQLError{Number: 1452}, resilience.OutcomeCallerFault, ErrConstraint},
		{"parent row", &mysql.MySQLError{Number: 1451}, resilience.OutcomeCallerFault, ErrConstraint},
		{"data too long", &mysql.MySQLError{Number: 1406}, resilience.OutcomeCallerFault, ErrInvalidValue},
		{"null column", &mysql.MySQLError{Number: 1048}, resilience.OutcomeCallerFault, ErrInvalidValue},
		{"invalid json", &mysql.MySQLError{Number: 3140}, resilience.OutcomeCallerFault, ErrInvalidValue},
		{"deadlock", &mysql.MySQLError{Number: 1213}, resilience.OutcomeRetryable, resilience.ErrDependencyFailure},
		{"lock wait timeout", &mysql.MySQLError{Number: 1205}, resilience.OutcomeRetryable, resilience.ErrDependencyFailure},
		{"too many connections", &mysql.MySQLError{Number: 1040}, resilience.OutcomeRetryable, resilience.ErrDependencyFailure},
		{"bad conn", driver.ErrBadConn, resilience.OutcomeRetryable, driver.ErrBadConn},
		{"invalid conn", mysql.ErrInvalidConn, resilience.OutcomeRetryable, mysql.ErrInvalidConn},
		{"conn done", sql.ErrConnDone, resilience.OutcomeRetryable, sql.ErrConnDone},
		{"dial error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, resilience.OutcomeRetryable, resilience.ErrDependencyFailure},
		{"wrapped mysql", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062}), resilience.OutcomeCallerFault, ErrDuplicate},
		{"unknown", errors.New("weird"), resilience.OutcomeRetryable, resilience.ErrDependencyFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.wantOutcome, resilience.ClassifyError(got))
			assert.ErrorIs(t, got, tt.wantIs)
		})
	}
}

func TestClassify_RateLimitedOverload(t *testing.T) {
	var depErr *resilience.DependencyFailureError
	err := Classify(&mysql.MySQLError{Number: 1040, Message: "Too many connections"})

	assert.ErrorAs(t, err, &depErr)
	assert.True(t, depErr.RateLimited)
}

func TestClassify_PassesThrough(t *testing.T) {
	assert.NoError(t, Classify(nil))
	assert.Equal(t, context.Canceled, Classify(context.Canceled))
	assert.Equal(t, context.DeadlineExceeded, Classify(context.DeadlineExceeded))
}
