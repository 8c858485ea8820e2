package repository

import (
	"context"
	"errors"
	"time"

	"custodian/internal/model"

	"gorm.io/gorm"
)

var (
	ErrWithdrawalNotFound      = errors.New("withdrawal not found")
	ErrWithdrawalStatusInvalid = errors.New("withdrawal status invalid")
)

type WithdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepository {
	return &WithdrawalRepository{db: db}
}

func (r *WithdrawalRepository) Create(ctx context.Context, tx *gorm.DB, w *model.Withdrawal) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(w).Error
}

func (r *WithdrawalRepository) GetByWithdrawalNo(ctx context.Context, withdrawalNo string) (*model.Withdrawal, error) {
	var w model.Withdrawal
	err := r.db.WithContext(ctx).Where("withdrawal_no = ?", withdrawalNo).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CountCompletedSince counts completed withdrawals created at or after the
// given instant; the executor uses the start of the current UTC day for the
// rolling daily limit.
func (r *WithdrawalRepository) CountCompletedSince(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, model.WithdrawalStatusCompleted, since).
		Count(&count).Error
	return count, err
}

// Complete transitions pending->completed, storing the submission reference.
// The confirmed flag reflects whether confirmation polling observed the
// transaction; it never gates the transition.
func (r *WithdrawalRepository) Complete(ctx context.Context, tx *gorm.DB, withdrawalNo, txRef string, confirmed bool, completedAt time.Time) error {
	return r.transition(ctx, tx, withdrawalNo, model.WithdrawalStatusCompleted, map[string]interface{}{
		"status":       model.WithdrawalStatusCompleted,
		"tx_ref":       txRef,
		"confirmed":    confirmed,
		"completed_at": &completedAt,
	})
}

// Fail transitions pending->failed with the error detail.
func (r *WithdrawalRepository) Fail(ctx context.Context, tx *gorm.DB, withdrawalNo, errorDetail string) error {
	return r.transition(ctx, tx, withdrawalNo, model.WithdrawalStatusFailed, map[string]interface{}{
		"status":       model.WithdrawalStatusFailed,
		"error_detail": errorDetail,
	})
}

// SetConfirmed upgrades the confirmation flag on an already-completed record.
func (r *WithdrawalRepository) SetConfirmed(ctx context.Context, withdrawalNo string) error {
	return r.db.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, model.WithdrawalStatusCompleted).
		Update("confirmed", true).Error
}

func (r *WithdrawalRepository) transition(ctx context.Context, tx *gorm.DB, withdrawalNo, toStatus string, updates map[string]interface{}) error {
	if !model.WithdrawalCanTransitionTo(model.WithdrawalStatusPending, toStatus) {
		return ErrWithdrawalStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.Withdrawal{}).
		Where("withdrawal_no = ? AND status = ?", withdrawalNo, model.WithdrawalStatusPending).
		Updates(updates)

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrWithdrawalStatusInvalid
	}
	return nil
}

func (r *WithdrawalRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.Withdrawal, error) {
	var ws []*model.Withdrawal
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&ws).Error
	return ws, err
}
