package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TransactionTypeDeposit        = "DEPOSIT"         // reconciled on-chain deposit
	TransactionTypeWebhookCredit  = "WEBHOOK_CREDIT"  // processor callback credit
	TransactionTypeWithdraw       = "WITHDRAW"        // withdrawal reservation debit
	TransactionTypeWithdrawRevert = "WITHDRAW_REVERT" // rollback of a failed submission
	TransactionTypeExchange       = "EXCHANGE"        // points converted to balance
)

// AccountTransaction is the append-only journal of every balance movement.
// Rows are never updated or deleted; each one references the causing record
// (intent id, withdrawal no, payment id) and captures the balance before and
// after, which is what reconciliation audits against.
type AccountTransaction struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	RefID         string          `gorm:"type:varchar(64);index;not null" json:"ref_id"` // causing record identifier
	Amount        decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"amount"`     // positive credit, negative debit
	Type          string          `gorm:"type:varchar(20);not null" json:"type"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"balance_after"`
	Remark        string          `gorm:"type:varchar(256)" json:"remark"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AccountTransaction) TableName() string {
	return "account_transaction"
}
