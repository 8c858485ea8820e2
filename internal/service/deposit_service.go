package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"custodian/internal/config"
	"custodian/internal/infrastructure/chain"
	"custodian/internal/model"
	"custodian/internal/notify"
	"custodian/internal/oracle"
	"custodian/internal/repository"
	"custodian/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	assetScale        = 6  // deposit/withdrawal amounts carry six decimal places
	pendingBatchSize  = 50 // per-sweep bound on pending intents
	inboundFetchLimit = 20
)

// PriceSource is the slice of the oracle the money-movement services need.
type PriceSource interface {
	Price(ctx context.Context) (decimal.Decimal, error)
}

// DepositService creates deposit intents and reconciles them against the
// settlement network.
type DepositService struct {
	db       *gorm.DB
	cfg      *config.Config
	chain    chain.Client
	prices   PriceSource
	notifier notify.Notifier
	logger   *zap.Logger

	accountRepo     *repository.AccountRepository
	depositRepo     *repository.DepositRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewDepositService(db *gorm.DB, cfg *config.Config, chainClient chain.Client, prices PriceSource, notifier notify.Notifier, logger *zap.Logger) *DepositService {
	return &DepositService{
		db:              db,
		cfg:             cfg,
		chain:           chainClient,
		prices:          prices,
		notifier:        notifier,
		logger:          logger.Named("deposit"),
		accountRepo:     repository.NewAccountRepository(db),
		depositRepo:     repository.NewDepositRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// CreateIntent converts the target fiat value into an expected asset amount
// at the current price, pads it with the safety buffer for price drift, and
// perturbs it with a small random offset so every pending intent's expected
// amount is unique and an inbound transfer can be matched by amount alone.
func (s *DepositService) CreateIntent(ctx context.Context, userID int64, amountUSD decimal.Decimal) (*model.DepositIntent, error) {
	price, err := s.prices.Price(ctx)
	if err != nil {
		if errors.Is(err, oracle.ErrPriceUnavailable) {
			return nil, NewMoneyError(ReasonPriceUnavailable, "current asset price unavailable, try again later")
		}
		return nil, fmt.Errorf("fetch price: %w", err)
	}

	asset := amountUSD.Div(price).RoundUp(assetScale)
	asset = asset.Mul(decimal.NewFromInt(1).Add(s.cfg.Business.DepositBufferPercent)).RoundUp(assetScale)
	asset = asset.Add(randomOffset())

	if asset.LessThan(s.cfg.Business.DepositMinAsset) {
		return nil, NewMoneyError(ReasonAmountTooLow, "minimum deposit is %s units", s.cfg.Business.DepositMinAsset)
	}

	if _, err := s.accountRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	now := time.Now().UTC()
	intent := &model.DepositIntent{
		IntentID:      newIntentID(userID, now),
		UserID:        userID,
		ExpectedAsset: asset,
		ExpectedUSD:   amountUSD,
		Status:        model.DepositStatusPending,
		ExpiresAt:     now.Add(s.cfg.Business.DepositTTL),
	}

	if err := s.depositRepo.Create(ctx, nil, intent); err != nil {
		return nil, fmt.Errorf("create intent: %w", err)
	}

	s.logger.Info("deposit intent created",
		zap.String("intent_id", intent.IntentID),
		zap.Int64("user_id", userID),
		zap.String("expected_asset", asset.String()),
		zap.String("expected_usd", amountUSD.StringFixed(2)),
		zap.String("price", price.StringFixed(2)))

	return intent, nil
}

// Reconcile runs one matching sweep: expire overdue intents, fetch recent
// inbound transfers, and credit each matching intent exactly once. It is
// idempotent: running it again with no new transfers changes nothing, because
// confirmed intents leave the pending set.
func (s *DepositService) Reconcile(ctx context.Context) (int, error) {
	now := time.Now().UTC()

	expired, err := s.depositRepo.MarkExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("mark expired: %w", err)
	}
	if expired > 0 {
		s.logger.Info("expired deposit intents", zap.Int64("count", expired))
	}

	pending, err := s.depositRepo.GetPending(ctx, pendingBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load pending intents: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	transfers, err := s.chain.GetRecentInbound(ctx, s.cfg.Chain.WalletAddress, inboundFetchLimit)
	if err != nil {
		return 0, fmt.Errorf("fetch inbound transfers: %w", err)
	}
	if len(transfers) == 0 {
		return 0, nil
	}

	// Process in creation order so that when two intents' tolerance windows
	// overlap for one transfer, the earlier intent wins deterministically.
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	tolerance := s.cfg.Business.MatchTolerance
	claimed := make(map[string]bool, len(transfers))
	matched := 0

	for _, intent := range pending {
		for _, transfer := range transfers {
			if claimed[transfer.Ref] {
				continue
			}
			if transfer.Amount.Sub(intent.ExpectedAsset).Abs().GreaterThan(tolerance) {
				continue
			}

			if err := s.confirmIntent(ctx, intent, transfer); err != nil {
				s.logger.Error("confirm deposit intent failed",
					zap.String("intent_id", intent.IntentID),
					zap.String("tx_ref", transfer.Ref),
					zap.Error(err))
				break
			}

			claimed[transfer.Ref] = true
			matched++
			s.notifyConfirmed(ctx, intent, transfer)
			break
		}
	}

	return matched, nil
}

// confirmIntent credits the intent's frozen fiat value and flips its status
// inside one transaction. The status guard in Confirm makes a second sweep a
// no-op even if it somehow sees the same intent.
func (s *DepositService) confirmIntent(ctx context.Context, intent *model.DepositIntent, transfer chain.InboundTransfer) error {
	now := time.Now().UTC()

	return s.db.Transaction(func(tx *gorm.DB) error {
		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, intent.UserID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		if err := s.depositRepo.Confirm(ctx, tx, intent.IntentID, transfer.Ref, now); err != nil {
			return fmt.Errorf("confirm intent: %w", err)
		}

		if err := s.accountRepo.Increase(ctx, tx, intent.UserID, intent.ExpectedUSD); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		journal := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        intent.UserID,
			RefID:         intent.IntentID,
			Amount:        intent.ExpectedUSD,
			Type:          model.TransactionTypeDeposit,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Add(intent.ExpectedUSD),
			Remark:        fmt.Sprintf("deposit %s matched %s", intent.IntentID, transfer.Ref),
		}
		if err := s.transactionRepo.Create(ctx, tx, journal); err != nil {
			return fmt.Errorf("journal credit: %w", err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"event":     model.EventDepositConfirmed,
			"intent_id": intent.IntentID,
			"user_id":   intent.UserID,
			"usd":       intent.ExpectedUSD,
			"asset":     transfer.Amount,
			"tx_ref":    transfer.Ref,
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: intent.IntentID,
			Topic:      s.cfg.Kafka.Topic.PaymentEvents,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		return s.outboxRepo.Create(ctx, tx, outboxMsg)
	})
}

// notifyConfirmed is best effort: a notification failure must never undo the
// credit, so it only logs.
func (s *DepositService) notifyConfirmed(ctx context.Context, intent *model.DepositIntent, transfer chain.InboundTransfer) {
	msg := fmt.Sprintf("✅ Deposit confirmed!\n\nAmount: $%s\nReceived: %s units\nTransaction: %s",
		intent.ExpectedUSD.StringFixed(2), transfer.Amount.String(), transfer.Ref)
	if err := s.notifier.Notify(ctx, intent.UserID, msg); err != nil {
		s.logger.Warn("deposit notification failed",
			zap.String("intent_id", intent.IntentID),
			zap.Error(err))
	}
}

func (s *DepositService) ListIntents(ctx context.Context, userID int64, limit int) ([]*model.DepositIntent, error) {
	return s.depositRepo.ListByUserID(ctx, userID, limit)
}

// newIntentID embeds the user id and creation time for auditability.
func newIntentID(userID int64, now time.Time) string {
	return fmt.Sprintf("DEP_%d_%d_%06x", userID, now.Unix(), now.UnixMicro()&0xffffff)
}

// randomOffset returns a sub-unit perturbation in (0, 0.009999]. The offset
// range and the match tolerance are sized together so two live intents
// practically never share a tolerance window.
func randomOffset() decimal.Decimal {
	return decimal.New(int64(rand.Intn(9999)+1), -assetScale)
}
