package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"custodian/internal/config"
	"custodian/internal/infrastructure/chain"
	"custodian/internal/infrastructure/lock"
	"custodian/internal/model"
	"custodian/internal/notify"
	"custodian/internal/oracle"
	"custodian/internal/repository"
	"custodian/pkg/idgen"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WithdrawService drives one withdrawal attempt through
// validate -> reserve -> submit -> confirm.
type WithdrawService struct {
	db          *gorm.DB
	redisClient *redis.Client
	cfg         *config.Config
	chain       chain.Client
	prices      PriceSource
	notifier    notify.Notifier
	logger      *zap.Logger

	accountRepo     *repository.AccountRepository
	withdrawalRepo  *repository.WithdrawalRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewWithdrawService(db *gorm.DB, redisClient *redis.Client, cfg *config.Config, chainClient chain.Client, prices PriceSource, notifier notify.Notifier, logger *zap.Logger) *WithdrawService {
	return &WithdrawService{
		db:              db,
		redisClient:     redisClient,
		cfg:             cfg,
		chain:           chainClient,
		prices:          prices,
		notifier:        notifier,
		logger:          logger.Named("withdraw"),
		accountRepo:     repository.NewAccountRepository(db),
		withdrawalRepo:  repository.NewWithdrawalRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// WithdrawResult reports a completed withdrawal. Confirmed is messaging
// metadata only: once submission succeeded the withdrawal is final whether or
// not confirmation polling observed it in time.
type WithdrawResult struct {
	WithdrawalNo string          `json:"withdrawal_no"`
	TxRef        string          `json:"tx_ref"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	FeeUSD       decimal.Decimal `json:"fee_usd"`
	AmountAsset  decimal.Decimal `json:"amount_asset"`
	Confirmed    bool            `json:"confirmed"`
}

// Withdraw validates the request, reserves funds by debiting before any
// network call, submits the transfer with the custodial key, and polls for
// confirmation. Per-user serialization is enforced with a Redis lock held
// from the reservation through submission, so a second concurrent request
// can never pass the balance check against the pre-debit balance.
func (s *WithdrawService) Withdraw(ctx context.Context, userID int64, amountUSD decimal.Decimal, destination string) (*WithdrawResult, error) {
	// Validation stage: fail fast, no state mutation.
	if !s.chain.ValidateAddress(destination) {
		return nil, NewMoneyError(ReasonInvalidAddress, "destination is not a valid address")
	}
	if amountUSD.LessThan(s.cfg.Business.MinWithdrawUSD) {
		return nil, NewMoneyError(ReasonAmountTooLow, "minimum withdrawal is $%s", s.cfg.Business.MinWithdrawUSD.StringFixed(2))
	}
	if amountUSD.GreaterThan(s.cfg.Business.MaxWithdrawUSD) {
		return nil, NewMoneyError(ReasonAmountTooHigh, "maximum withdrawal is $%s", s.cfg.Business.MaxWithdrawUSD.StringFixed(2))
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	count, err := s.withdrawalRepo.CountCompletedSince(ctx, userID, dayStart)
	if err != nil {
		return nil, fmt.Errorf("count withdrawals: %w", err)
	}
	if count >= int64(s.cfg.Business.MaxWithdrawalsPerDay) {
		return nil, NewMoneyError(ReasonRateLimit, "daily limit reached (%d withdrawals/day)", s.cfg.Business.MaxWithdrawalsPerDay)
	}

	price, err := s.prices.Price(ctx)
	if err != nil {
		if errors.Is(err, oracle.ErrPriceUnavailable) {
			return nil, NewMoneyError(ReasonPriceUnavailable, "current asset price unavailable, try again later")
		}
		return nil, fmt.Errorf("fetch price: %w", err)
	}

	fee := amountUSD.Mul(s.cfg.Business.WithdrawFeePercent)
	netUSD := amountUSD.Sub(fee)
	assetAmount := netUSD.Div(price).RoundDown(assetScale)

	withdrawLock := lock.NewWithdrawLock(s.redisClient, userID, uuid.NewString())
	if err := withdrawLock.Lock(ctx, 100*time.Millisecond, 30); err != nil {
		return nil, fmt.Errorf("acquire withdraw lock: %w", err)
	}
	defer withdrawLock.Unlock(ctx)

	// The custodial wallet must cover the transfer plus a reserve for network
	// fees. This is an operator problem, not a user error, so it is logged
	// loudly.
	walletBalance, err := s.chain.GetBalance(ctx, s.cfg.Chain.WalletAddress)
	if err != nil {
		return nil, fmt.Errorf("check wallet balance: %w", err)
	}
	required := assetAmount.Add(s.cfg.Business.WalletReserve)
	if walletBalance.LessThan(required) {
		s.logger.Error("custodial wallet underfunded",
			zap.String("wallet_balance", walletBalance.String()),
			zap.String("required", required.String()))
		return nil, NewMoneyError(ReasonWalletInsufficientFunds, "system wallet has insufficient funds, contact the operator")
	}

	withdrawalNo := idgen.GenerateWithdrawalNo()
	w := &model.Withdrawal{
		WithdrawalNo: withdrawalNo,
		UserID:       userID,
		AmountUSD:    amountUSD,
		FeeUSD:       fee,
		AmountAsset:  assetAmount,
		Destination:  destination,
		Status:       model.WithdrawalStatusPending,
	}

	if err := s.reserve(ctx, w); err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal reserved",
		zap.String("withdrawal_no", withdrawalNo),
		zap.Int64("user_id", userID),
		zap.String("usd", amountUSD.StringFixed(2)),
		zap.String("asset", assetAmount.String()))

	txRef, err := s.chain.SubmitTransfer(ctx, destination, assetAmount)
	if err != nil || txRef == "" {
		if err == nil {
			err = errors.New("settlement network returned no transaction reference")
		}
		s.rollback(ctx, w, err)
		return nil, NewMoneyError(ReasonTransactionFailed, "transfer failed, balance restored")
	}

	// From here the transfer is broadcast and economically final: the record
	// is completed no matter what confirmation polling says.
	confirmed := s.pollConfirmation(ctx, txRef)

	if err := s.complete(ctx, w, txRef, confirmed); err != nil {
		// The money left the wallet; a bookkeeping failure here is an alert,
		// not a rollback.
		s.logger.Error("mark withdrawal completed failed",
			zap.String("withdrawal_no", withdrawalNo),
			zap.String("tx_ref", txRef),
			zap.Error(err))
	}

	s.notifyCompleted(ctx, w, txRef, confirmed)

	return &WithdrawResult{
		WithdrawalNo: withdrawalNo,
		TxRef:        txRef,
		AmountUSD:    amountUSD,
		FeeUSD:       fee,
		AmountAsset:  assetAmount,
		Confirmed:    confirmed,
	}, nil
}

// reserve debits the balance and inserts the pending record in one
// transaction, before any network submission.
func (s *WithdrawService) reserve(ctx context.Context, w *model.Withdrawal) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, w.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return NewMoneyError(ReasonInsufficientBalance, "no balance available")
			}
			return err
		}

		if account.Balance.LessThan(w.AmountUSD) {
			return NewMoneyError(ReasonInsufficientBalance, "insufficient balance ($%s available)", account.Balance.StringFixed(2))
		}

		if err := s.accountRepo.Deduct(ctx, tx, w.UserID, w.AmountUSD, account.Version); err != nil {
			if errors.Is(err, repository.ErrBalanceNotEnough) {
				return NewMoneyError(ReasonInsufficientBalance, "insufficient balance")
			}
			return fmt.Errorf("debit balance: %w", err)
		}

		if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}

		journal := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        w.UserID,
			RefID:         w.WithdrawalNo,
			Amount:        w.AmountUSD.Neg(),
			Type:          model.TransactionTypeWithdraw,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Sub(w.AmountUSD),
			Remark:        fmt.Sprintf("withdrawal to %s", w.Destination),
		}
		return s.transactionRepo.Create(ctx, tx, journal)
	})

	if err != nil {
		if _, ok := AsMoneyError(err); ok {
			return err
		}
		return fmt.Errorf("reserve withdrawal: %w", err)
	}
	return nil
}

// rollback is the single failure path: submission threw or returned no
// reference, so the debit is restored and the record marked failed in one
// transaction.
func (s *WithdrawService) rollback(ctx context.Context, w *model.Withdrawal, cause error) {
	detail := cause.Error()
	if len(detail) > 500 {
		detail = detail[:500]
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, w.UserID)
		if err != nil {
			return err
		}

		if err := s.withdrawalRepo.Fail(ctx, tx, w.WithdrawalNo, detail); err != nil {
			return err
		}

		if err := s.accountRepo.Increase(ctx, tx, w.UserID, w.AmountUSD); err != nil {
			return err
		}

		journal := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        w.UserID,
			RefID:         w.WithdrawalNo,
			Amount:        w.AmountUSD,
			Type:          model.TransactionTypeWithdrawRevert,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Add(w.AmountUSD),
			Remark:        "submission failed, balance restored",
		}
		if err := s.transactionRepo.Create(ctx, tx, journal); err != nil {
			return err
		}

		return s.writeEvent(ctx, tx, model.EventWithdrawalFailed, w, "", detail)
	})

	if err != nil {
		s.logger.Error("withdrawal rollback failed",
			zap.String("withdrawal_no", w.WithdrawalNo),
			zap.Error(err))
		return
	}

	s.logger.Warn("withdrawal rolled back",
		zap.String("withdrawal_no", w.WithdrawalNo),
		zap.String("cause", detail))
}

func (s *WithdrawService) complete(ctx context.Context, w *model.Withdrawal, txRef string, confirmed bool) error {
	now := time.Now().UTC()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.withdrawalRepo.Complete(ctx, tx, w.WithdrawalNo, txRef, confirmed, now); err != nil {
			return err
		}
		return s.writeEvent(ctx, tx, model.EventWithdrawalComplete, w, txRef, "")
	})
}

// pollConfirmation checks the submitted transaction's status with a bounded
// retry budget. Timing out is a monitoring gap, never a failure.
func (s *WithdrawService) pollConfirmation(ctx context.Context, txRef string) bool {
	for attempt := 0; attempt < s.cfg.Business.ConfirmRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.cfg.Business.ConfirmBackoff):
		}

		status, err := s.chain.GetTransactionStatus(ctx, txRef)
		if err != nil {
			s.logger.Debug("confirmation poll failed",
				zap.String("tx_ref", txRef),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}
		if status == chain.TxStatusConfirmed {
			return true
		}
	}
	return false
}

func (s *WithdrawService) writeEvent(ctx context.Context, tx *gorm.DB, event string, w *model.Withdrawal, txRef, detail string) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"event":         event,
		"withdrawal_no": w.WithdrawalNo,
		"user_id":       w.UserID,
		"usd":           w.AmountUSD,
		"fee_usd":       w.FeeUSD,
		"asset":         w.AmountAsset,
		"tx_ref":        txRef,
		"detail":        detail,
	})
	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: w.WithdrawalNo,
		Topic:      s.cfg.Kafka.Topic.PaymentEvents,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (s *WithdrawService) notifyCompleted(ctx context.Context, w *model.Withdrawal, txRef string, confirmed bool) {
	state := "sent (confirmation pending)"
	if confirmed {
		state = "confirmed"
	}
	msg := fmt.Sprintf("💸 Withdrawal %s\n\nAmount: $%s (fee $%s)\nSent: %s units\nTransaction: %s",
		state, w.AmountUSD.StringFixed(2), w.FeeUSD.StringFixed(2), w.AmountAsset.String(), txRef)
	if err := s.notifier.Notify(ctx, w.UserID, msg); err != nil {
		s.logger.Warn("withdrawal notification failed",
			zap.String("withdrawal_no", w.WithdrawalNo),
			zap.Error(err))
	}
}

func (s *WithdrawService) ListWithdrawals(ctx context.Context, userID int64, limit int) ([]*model.Withdrawal, error) {
	return s.withdrawalRepo.ListByUserID(ctx, userID, limit)
}
