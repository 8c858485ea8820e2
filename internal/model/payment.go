package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProcessedPayment is the idempotency marker for webhook-driven credits. The
// existence of a row is the sole dedup gate: it is inserted in the same
// transaction as, and before, the balance credit it guards, so a duplicate
// delivery can never credit twice.
type ProcessedPayment struct {
	PaymentID   string          `gorm:"type:varchar(64);primaryKey" json:"payment_id"`
	UserID      int64           `gorm:"index;not null" json:"user_id"`
	AmountUSD   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount_usd"`
	Status      string          `gorm:"type:varchar(32);not null" json:"status"` // processor status at credit time
	ProcessedAt time.Time       `gorm:"autoCreateTime" json:"processed_at"`
}

func (ProcessedPayment) TableName() string {
	return "processed_payment"
}
