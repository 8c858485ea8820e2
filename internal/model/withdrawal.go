package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	WithdrawalStatusPending   = "pending"
	WithdrawalStatusCompleted = "completed"
	WithdrawalStatusFailed    = "failed"
)

var validWithdrawalTransitions = map[string][]string{
	WithdrawalStatusPending: {WithdrawalStatusCompleted, WithdrawalStatusFailed},
}

// WithdrawalCanTransitionTo reports whether a withdrawal status transition is
// allowed. Both terminal states are final.
func WithdrawalCanTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := validWithdrawalTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Withdrawal is one withdrawal attempt. The balance debit happens-before the
// row reaches pending (same transaction), and is reversed atomically if the
// row reaches failed. TxRef is set only on successful submission; once set,
// the withdrawal is never rolled back. Confirmed tracks on-chain confirmation
// for user messaging only and never affects the terminal status.
type Withdrawal struct {
	ID           int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	WithdrawalNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"withdrawal_no"`
	UserID       int64           `gorm:"index;not null" json:"user_id"`
	AmountUSD    decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount_usd"` // gross requested fiat value
	FeeUSD       decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"fee_usd"`
	AmountAsset  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount_asset"` // net of fee, at frozen price
	Destination  string          `gorm:"type:varchar(128);not null" json:"destination"`
	Status       string          `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	Confirmed    bool            `gorm:"not null;default:false" json:"confirmed"`
	TxRef        string          `gorm:"type:varchar(128)" json:"tx_ref"`
	ErrorDetail  string          `gorm:"type:varchar(512)" json:"error_detail"`
	CompletedAt  *time.Time      `json:"completed_at"`
	CreatedAt    time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Withdrawal) TableName() string {
	return "withdrawal"
}
