package repository

import (
	"context"
	"errors"
	"time"

	"custodian/internal/model"

	"gorm.io/gorm"
)

var (
	ErrIntentNotFound      = errors.New("deposit intent not found")
	ErrIntentStatusInvalid = errors.New("deposit intent status invalid")
)

type DepositRepository struct {
	db *gorm.DB
}

func NewDepositRepository(db *gorm.DB) *DepositRepository {
	return &DepositRepository{db: db}
}

func (r *DepositRepository) Create(ctx context.Context, tx *gorm.DB, intent *model.DepositIntent) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(intent).Error
}

func (r *DepositRepository) GetByIntentID(ctx context.Context, intentID string) (*model.DepositIntent, error) {
	var intent model.DepositIntent
	err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// GetPending returns up to limit pending intents, most recent first.
func (r *DepositRepository) GetPending(ctx context.Context, limit int) ([]*model.DepositIntent, error) {
	var intents []*model.DepositIntent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.DepositStatusPending).
		Order("created_at DESC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}

// MarkExpired flips every pending intent past its expiration. Expired intents
// are never matched again, even if a late transfer with a coincidentally
// matching amount shows up.
func (r *DepositRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.DepositIntent{}).
		Where("status = ? AND expires_at < ?", model.DepositStatusPending, now).
		Update("status", model.DepositStatusExpired)
	return result.RowsAffected, result.Error
}

// Confirm performs the single pending->confirmed transition, recording the
// settlement reference. The status guard in the WHERE clause makes the
// transition happen at most once.
func (r *DepositRepository) Confirm(ctx context.Context, tx *gorm.DB, intentID, txRef string, confirmedAt time.Time) error {
	if tx == nil {
		tx = r.db
	}
	result := tx.WithContext(ctx).
		Model(&model.DepositIntent{}).
		Where("intent_id = ? AND status = ?", intentID, model.DepositStatusPending).
		Updates(map[string]interface{}{
			"status":       model.DepositStatusConfirmed,
			"tx_ref":       txRef,
			"confirmed_at": &confirmedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIntentStatusInvalid
	}
	return nil
}

func (r *DepositRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.DepositIntent, error) {
	var intents []*model.DepositIntent
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&intents).Error
	return intents, err
}
