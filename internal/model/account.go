package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's custodial USD balance and gamified points counter.
// Rows are created on the first balance-affecting event and never deleted.
// Balance and Points are unrelated currencies; the only bridge between them
// is the explicit points exchange.
type Account struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64           `gorm:"uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,8);not null;default:0" json:"balance"`
	Points    int64           `gorm:"not null;default:0" json:"points"`
	Version   int             `gorm:"not null;default:0" json:"version"` // optimistic lock counter
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}
