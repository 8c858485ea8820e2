package repository

import (
	"context"
	"errors"

	"custodian/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrBalanceNotEnough = errors.New("balance not enough")
	ErrPointsNotEnough  = errors.New("points not enough")
	ErrOptimisticLock   = errors.New("optimistic lock conflict")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	var account model.Account
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) GetByUserIDForUpdate(ctx context.Context, tx *gorm.DB, userID int64) (*model.Account, error) {
	var account model.Account
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// Deduct debits the balance with a conditional update: the WHERE clause
// re-checks both the balance floor and the version read earlier, so a
// concurrent writer makes this a no-op instead of driving the balance
// negative.
func (r *AccountRepository) Deduct(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND balance >= ? AND version = ?", userID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if account.Balance.LessThan(amount) {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) Increase(ctx context.Context, tx *gorm.DB, userID int64, amount decimal.Decimal) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// DeductPoints debits the points counter with the same conditional-update
// guard as Deduct.
func (r *AccountRepository) DeductPoints(ctx context.Context, tx *gorm.DB, userID int64, points int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND points >= ?", userID, points).
		Updates(map[string]interface{}{
			"points":  gorm.Expr("points - ?", points),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if account.Points < points {
			return ErrPointsNotEnough
		}
		return ErrOptimisticLock
	}

	return nil
}

func (r *AccountRepository) AddPoints(ctx context.Context, tx *gorm.DB, userID int64, points int64) error {
	result := tx.WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ?", userID).
		Update("points", gorm.Expr("points + ?", points))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) GetOrCreate(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return account, nil
	}

	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	newAccount := &model.Account{
		UserID:  userID,
		Balance: decimal.Zero,
	}

	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(newAccount).Error

	if err != nil {
		return nil, err
	}

	return r.GetByUserID(ctx, userID)
}
