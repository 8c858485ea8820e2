package repository

import (
	"context"
	"errors"

	"custodian/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// InsertMarker inserts the idempotency marker for a payment id. It returns
// (false, nil) when the marker already exists, which is how duplicate webhook
// deliveries are detected. The insert must run inside the same transaction as
// the credit it guards, and before it.
func (r *PaymentRepository) InsertMarker(ctx context.Context, tx *gorm.DB, marker *model.ProcessedPayment) (bool, error) {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			DoNothing: true,
		}).
		Create(marker)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) GetByPaymentID(ctx context.Context, paymentID string) (*model.ProcessedPayment, error) {
	var p model.ProcessedPayment
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}
