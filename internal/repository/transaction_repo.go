package repository

import (
	"context"
	"time"

	"custodian/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create appends a journal row. The journal is append-only: there are no
// update or delete methods on purpose.
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, transaction *model.AccountTransaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(transaction).Error
}

func (r *TransactionRepository) GetByRefID(ctx context.Context, refID string) ([]*model.AccountTransaction, error) {
	var transactions []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("ref_id = ?", refID).
		Order("created_at ASC").
		Find(&transactions).Error
	return transactions, err
}

// SumByTypeSince totals journal amounts of one type for a user since the
// given instant; the points exchange uses it for the weekly cap.
func (r *TransactionRepository) SumByTypeSince(ctx context.Context, userID int64, txType string, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&model.AccountTransaction{}).
		Select("SUM(amount)").
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, txType, since).
		Scan(&total).Error
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.AccountTransaction, error) {
	var transactions []*model.AccountTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error
	return transactions, err
}
