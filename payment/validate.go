package payment

import (
	"github.com/jonwraymond/depguard/cache"
	"github.com/jonwraymond/depguard/resilience"
)

// Validate checks req before any call is made. Failures are caller faults
// naming the offending field.
func Validate(req ChargeRequest) error {
	switch {
	case req.Amount <= 0:
		return resilience.CallerFault(ErrInvalidAmount, "amount")
	case !isCurrencyCode(req.Currency):
		return resilience.CallerFault(ErrInvalidCurrency, "currency")
	case req.Provider == "":
		return resilience.CallerFault(ErrMissingProvider, "provider")
	case req.UserID == "":
		return resilience.CallerFault(ErrMissingUserID, "user_id")
	}
	if req.TransactionID != "" && cache.ValidateKey(req.TransactionID) != nil {
		return resilience.CallerFault(ErrInvalidTxnID, "transaction_id")
	}
	if req.IdempotencyKey != "" {
		if err := cache.ValidateKey(req.IdempotencyKey); err != nil {
			return resilience.CallerFault(err, "idempotency_key")
		}
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for i := range len(s) {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}
