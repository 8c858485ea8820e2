package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"custodian/internal/config"
	"custodian/internal/model"
	"custodian/internal/notify"
	"custodian/internal/repository"
	"custodian/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Payment processor statuses. Anything not listed is treated as
// intermediate: acknowledged, no mutation.
var (
	creditableStatuses = map[string]bool{"finished": true, "partially_paid": true}
	terminalStatuses   = map[string]bool{"failed": true, "expired": true, "refunded": true}
)

// CallbackPayload is the payment processor's asynchronous notification.
// Deliveries are at least once; duplicates are normal.
type CallbackPayload struct {
	PaymentID     string          `json:"payment_id"`
	PaymentStatus string          `json:"payment_status"`
	OrderID       string          `json:"order_id"`
	PayAmount     decimal.Decimal `json:"pay_amount"`
	ActuallyPaid  decimal.Decimal `json:"actually_paid"`
	PayCurrency   string          `json:"pay_currency"`
	PriceAmount   decimal.Decimal `json:"price_amount"`
	PriceCurrency string          `json:"price_currency"`
	OutcomeAmount decimal.Decimal `json:"outcome_amount"`
}

// CallbackResult reports how a delivery was handled. Accepted=true also
// covers duplicates and non-creditable statuses, matching the processor's
// retry semantics: only payloads we could never process are rejected.
type CallbackResult struct {
	Accepted  bool
	Duplicate bool
	Credited  decimal.Decimal
}

// WebhookService idempotently credits balances from processor callbacks.
type WebhookService struct {
	db       *gorm.DB
	cfg      *config.Config
	prices   PriceSource
	notifier notify.Notifier
	logger   *zap.Logger

	accountRepo     *repository.AccountRepository
	paymentRepo     *repository.PaymentRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewWebhookService(db *gorm.DB, cfg *config.Config, prices PriceSource, notifier notify.Notifier, logger *zap.Logger) *WebhookService {
	return &WebhookService{
		db:              db,
		cfg:             cfg,
		prices:          prices,
		notifier:        notifier,
		logger:          logger.Named("webhook"),
		accountRepo:     repository.NewAccountRepository(db),
		paymentRepo:     repository.NewPaymentRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// HandleCallback processes one delivery. The idempotency marker is inserted
// in the same transaction as, and before, the credit: a crash between insert
// and commit rolls both back, and a duplicate delivery finds the marker and
// becomes a no-op, so a retry can never credit twice.
func (s *WebhookService) HandleCallback(ctx context.Context, payload *CallbackPayload) (*CallbackResult, error) {
	userID, err := userIDFromOrderID(payload.OrderID)
	if err != nil {
		s.logger.Warn("webhook with unusable order id",
			zap.String("order_id", payload.OrderID),
			zap.String("payment_id", payload.PaymentID))
		return &CallbackResult{Accepted: false}, err
	}

	status := strings.ToLower(payload.PaymentStatus)

	if terminalStatuses[status] {
		s.logger.Warn("payment ended without credit",
			zap.String("payment_id", payload.PaymentID),
			zap.Int64("user_id", userID),
			zap.String("status", status))
		return &CallbackResult{Accepted: true}, nil
	}

	if !creditableStatuses[status] {
		s.logger.Info("payment still in progress",
			zap.String("payment_id", payload.PaymentID),
			zap.Int64("user_id", userID),
			zap.String("status", status))
		return &CallbackResult{Accepted: true}, nil
	}

	credit, err := s.creditAmount(ctx, payload)
	if err != nil {
		return &CallbackResult{Accepted: false}, err
	}

	result, err := s.credit(ctx, userID, credit, payload)
	if err != nil {
		return &CallbackResult{Accepted: false}, err
	}

	if result.Duplicate {
		s.logger.Warn("duplicate webhook ignored", zap.String("payment_id", payload.PaymentID))
		return result, nil
	}

	s.logger.Info("webhook credited",
		zap.String("payment_id", payload.PaymentID),
		zap.Int64("user_id", userID),
		zap.String("usd", credit.StringFixed(2)))

	s.notifyCredited(ctx, userID, credit)
	return result, nil
}

// creditAmount picks the USD value to credit. Preference order: the amount
// the user actually paid (converted through the oracle when it is in the
// settlement asset), then the pre-converted USD invoice amount, then the
// processor's outcome field, then the raw pay amount. First strictly
// positive value wins.
func (s *WebhookService) creditAmount(ctx context.Context, payload *CallbackPayload) (decimal.Decimal, error) {
	payCurrency := strings.ToLower(payload.PayCurrency)

	if payload.ActuallyPaid.IsPositive() {
		switch payCurrency {
		case "usd":
			return payload.ActuallyPaid, nil
		case assetTicker(s.cfg.Oracle.Symbol):
			price, err := s.prices.Price(ctx)
			if err != nil {
				// Price unavailable blocks the conversion path but the fiat
				// fallbacks below may still apply.
				s.logger.Warn("price unavailable for webhook conversion",
					zap.String("payment_id", payload.PaymentID))
			} else {
				return payload.ActuallyPaid.Mul(price), nil
			}
		}
	}

	if strings.EqualFold(payload.PriceCurrency, "usd") && payload.PriceAmount.IsPositive() {
		return payload.PriceAmount, nil
	}
	if payload.OutcomeAmount.IsPositive() {
		return payload.OutcomeAmount, nil
	}
	if payload.PayAmount.IsPositive() {
		return payload.PayAmount, nil
	}

	return decimal.Decimal{}, NewMoneyError(ReasonNoCreditableAmount, "no positive amount in payment %s", payload.PaymentID)
}

func (s *WebhookService) credit(ctx context.Context, userID int64, amount decimal.Decimal, payload *CallbackPayload) (*CallbackResult, error) {
	if _, err := s.accountRepo.GetOrCreate(ctx, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	result := &CallbackResult{Accepted: true, Credited: amount}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		marker := &model.ProcessedPayment{
			PaymentID: payload.PaymentID,
			UserID:    userID,
			AmountUSD: amount,
			Status:    payload.PaymentStatus,
		}
		inserted, err := s.paymentRepo.InsertMarker(ctx, tx, marker)
		if err != nil {
			return fmt.Errorf("insert marker: %w", err)
		}
		if !inserted {
			result.Duplicate = true
			result.Credited = decimal.Zero
			return nil
		}

		account, err := s.accountRepo.GetByUserIDForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load account: %w", err)
		}

		if err := s.accountRepo.Increase(ctx, tx, userID, amount); err != nil {
			return fmt.Errorf("credit balance: %w", err)
		}

		journal := &model.AccountTransaction{
			TransactionNo: idgen.GenerateTransactionNo(),
			UserID:        userID,
			RefID:         payload.PaymentID,
			Amount:        amount,
			Type:          model.TransactionTypeWebhookCredit,
			BalanceBefore: account.Balance,
			BalanceAfter:  account.Balance.Add(amount),
			Remark:        fmt.Sprintf("processor payment %s (%s)", payload.PaymentID, payload.PaymentStatus),
		}
		if err := s.transactionRepo.Create(ctx, tx, journal); err != nil {
			return fmt.Errorf("journal credit: %w", err)
		}

		eventPayload, _ := json.Marshal(map[string]interface{}{
			"event":      model.EventWebhookCredited,
			"payment_id": payload.PaymentID,
			"user_id":    userID,
			"usd":        amount,
		})
		return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
			MessageKey: payload.PaymentID,
			Topic:      s.cfg.Kafka.Topic.PaymentEvents,
			Payload:    string(eventPayload),
			Status:     model.OutboxStatusPending,
		})
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *WebhookService) notifyCredited(ctx context.Context, userID int64, amount decimal.Decimal) {
	msg := fmt.Sprintf("✅ Deposit received!\n\nAmount: $%s has been added to your balance.", amount.StringFixed(2))
	if err := s.notifier.Notify(ctx, userID, msg); err != nil {
		s.logger.Warn("webhook notification failed",
			zap.Int64("user_id", userID),
			zap.Error(err))
	}
}

// userIDFromOrderID decodes the user id embedded in the order reference.
// Recognized formats: deposit_<uid>_<ts> and user_<uid>.
func userIDFromOrderID(orderID string) (int64, error) {
	parts := strings.Split(orderID, "_")
	if len(parts) < 2 || (parts[0] != "deposit" && parts[0] != "user") {
		return 0, fmt.Errorf("unrecognized order id format: %q", orderID)
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse user id from order id %q: %w", orderID, err)
	}
	return userID, nil
}

// assetTicker maps an exchange symbol like ETHUSDT to the processor's
// currency code like eth.
func assetTicker(symbol string) string {
	return strings.ToLower(strings.TrimSuffix(strings.ToUpper(symbol), "USDT"))
}
