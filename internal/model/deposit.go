package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
	DepositStatusExpired   = "expired"
)

// DepositIntent records an expected inbound transfer to the custodial wallet.
//
// ExpectedAsset is perturbed with a per-intent random offset so that a
// transfer can be matched to exactly one intent by amount alone, even when
// two users request the same fiat value concurrently. ExpectedUSD is frozen
// at the price seen when the intent was created; the eventual credit uses
// this value, never the price at confirmation time.
//
// An intent makes exactly one terminal transition: pending->confirmed or
// pending->expired, never both.
type DepositIntent struct {
	ID            int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	IntentID      string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"intent_id"` // embeds user id + creation time
	UserID        int64           `gorm:"index;not null" json:"user_id"`
	ExpectedAsset decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"expected_asset"`
	ExpectedUSD   decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"expected_usd"`
	Status        string          `gorm:"type:varchar(20);index;not null;default:pending" json:"status"`
	TxRef         string          `gorm:"type:varchar(128)" json:"tx_ref"` // settlement transaction reference, set on match
	ExpiresAt     time.Time       `gorm:"not null" json:"expires_at"`
	ConfirmedAt   *time.Time      `json:"confirmed_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (DepositIntent) TableName() string {
	return "deposit_intent"
}
