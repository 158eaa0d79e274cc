package ledger

import "time"

// Payment is one completed charge.
type Payment struct {
	ID             string    `gorm:"column:id;primaryKey;size:64" json:"transaction_id"`
	UserID         string    `gorm:"column:user_id;size:64;not null;index" json:"user_id"`
	Provider       string    `gorm:"column:provider;size:32;not null" json:"provider"`
	Amount         int64     `gorm:"column:amount;not null" json:"amount"`
	Currency       string    `gorm:"column:currency;type:char(3);not null" json:"currency"`
	Status         string    `gorm:"column:status;size:16;not null" json:"status"`
	IdempotencyKey string    `gorm:"column:idempotency_key;size:255" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Payment) TableName() string {
	return "payments"
}
