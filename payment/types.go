package payment

// Charge statuses reported by the provider.
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// ChargeRequest asks the provider to move Amount from the user's payment
// method. Amount is in the currency's minor unit.
type ChargeRequest struct {
	TransactionID string `json:"transaction_id,omitempty"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Provider      string `json:"provider"`
	UserID        string `json:"user_id"`
	Description   string `json:"description,omitempty"`

	// Metadata carries caller annotations through to the provider.
	Metadata map[string]string `json:"metadata,omitempty"`

	// IdempotencyKey deduplicates retried submissions. It is sent to the
	// provider as the Idempotency-Key header, not in the body.
	IdempotencyKey string `json:"-"`
}

// ChargeResult is the provider's record of a charge.
type ChargeResult struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`

	// Replayed is set when the result came from the idempotency cache.
	Replayed bool `json:"-"`
}
