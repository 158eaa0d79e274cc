package ledger

import "errors"

// Sentinel errors for ledger operations.
var (
	ErrNotFound       = errors.New("ledger: payment not found")
	ErrDuplicate      = errors.New("ledger: duplicate entry")
	ErrConstraint     = errors.New("ledger: constraint violation")
	ErrInvalidValue   = errors.New("ledger: invalid value")
	ErrMissingDSN     = errors.New("ledger: dsn is empty")
	ErrNilPayment     = errors.New("ledger: payment is nil")
	ErrMissingPayment = errors.New("ledger: payment id is empty")
)
