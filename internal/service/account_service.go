package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custodian/internal/config"
	"custodian/internal/model"
	"custodian/internal/repository"
	"custodian/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountService exposes balance reads and the points exchange, the only
// bridge between the gamified points counter and the custodial balance.
type AccountService struct {
	db     *gorm.DB
	cfg    *config.Config
	logger *zap.Logger

	accountRepo     *repository.AccountRepository
	transactionRepo *repository.TransactionRepository
}

func NewAccountService(db *gorm.DB, cfg *config.Config, logger *zap.Logger) *AccountService {
	return &AccountService{
		db:              db,
		cfg:             cfg,
		logger:          logger.Named("account"),
		accountRepo:     repository.NewAccountRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
	}
}

func (s *AccountService) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return s.accountRepo.GetOrCreate(ctx, userID)
}

func (s *AccountService) AddPoints(ctx context.Context, userID int64, points int64) error {
	if _, err := s.accountRepo.GetOrCreate(ctx, userID); err != nil {
		return err
	}
	return s.accountRepo.AddPoints(ctx, s.db, userID, points)
}

func (s *AccountService) ListTransactions(ctx context.Context, userID int64, limit int) ([]*model.AccountTransaction, error) {
	return s.transactionRepo.ListByUserID(ctx, userID, limit)
}

// ExchangePoints converts points into balance at the configured rate,
// subject to a weekly fiat cap. Debit and credit run in one transaction so
// neither counter can drift alone.
func (s *AccountService) ExchangePoints(ctx context.Context, userID int64, points int64) (decimal.Decimal, error) {
	rate := s.cfg.Business.ExchangeRate
	if points < rate {
		return decimal.Decimal{}, NewMoneyError(ReasonAmountTooLow, "minimum exchange is %d points ($1.00)", rate)
	}

	usd := decimal.NewFromInt(points).Div(decimal.NewFromInt(rate)).RoundDown(2)

	weekStart := startOfISOWeek(time.Now().UTC())
	exchanged, err := s.transactionRepo.SumByTypeSince(ctx, userID, model.TransactionTypeExchange, weekStart)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("weekly exchange total: %w", err)
	}
	if exchanged.Add(usd).GreaterThan(s.cfg.Business.ExchangeWeeklyCapUSD) {
		return decimal.Decimal{}, NewMoneyError(ReasonWeeklyCapReached, "weekly exchange cap is $%s", s.cfg.Business.ExchangeWeeklyCapUSD.StringFixed(2))
	}

	account, err := s.accountRepo.GetOrCreate(ctx, userID)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("ensure account: %w", err)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.DeductPoints(ctx, tx, userID, points); err != nil {
			if errors.Is(err, repository.ErrPointsNotEnough) {
				return NewMoneyError(ReasonInsufficientPoints, "not enough points")
			}
			return err
		}

		if err := s.accountRepo.Increase(ctx, tx, userID, usd); err != nil {
			return err
		}

		journal := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefID:         fmt.Sprintf("exchange_%d", points),
			Amount:        usd,
			Type:          model.TransactionTypeExchange,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Add(usd),
			Remark:        fmt.Sprintf("%d points exchanged", points),
		}
		return s.transactionRepo.Create(ctx, tx, journal)
	})
	if err != nil {
		if _, ok := AsMoneyError(err); ok {
			return decimal.Decimal{}, err
		}
		return decimal.Decimal{}, fmt.Errorf("exchange points: %w", err)
	}

	s.logger.Info("points exchanged",
		zap.Int64("user_id", userID),
		zap.Int64("points", points),
		zap.String("usd", usd.StringFixed(2)))

	return usd, nil
}

func startOfISOWeek(now time.Time) time.Time {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	day := now.Truncate(24 * time.Hour)
	return day.AddDate(0, 0, -(weekday - 1))
}
