package service

import (
	"context"
	"testing"
	"time"

	"custodian/internal/infrastructure/chain"
	"custodian/internal/model"
	"custodian/internal/oracle"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newDepositService(t *testing.T, fc *fakeChain, price decimal.Decimal) *DepositService {
	t.Helper()
	return NewDepositService(newTestDB(t), testConfig(), fc, staticPrice{price: price}, testNotifier(), zap.NewNop())
}

func TestCreateIntent_AmountIncludesBufferAndOffset(t *testing.T) {
	svc := newDepositService(t, newFakeChain(), decimal.NewFromInt(1000))
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, 42, decimal.NewFromInt(100))
	require.NoError(t, err)

	// $100 at $1000/unit is 0.1, plus the 1% buffer is 0.101, plus a
	// strictly positive offset below 0.01.
	base := decimal.RequireFromString("0.101")
	assert.True(t, intent.ExpectedAsset.GreaterThan(base),
		"expected asset %s must exceed %s", intent.ExpectedAsset, base)
	assert.True(t, intent.ExpectedAsset.LessThan(base.Add(decimal.RequireFromString("0.01"))),
		"expected asset %s offset too large", intent.ExpectedAsset)

	assert.Equal(t, model.DepositStatusPending, intent.Status)
	assert.True(t, intent.ExpectedUSD.Equal(decimal.NewFromInt(100)))
	assert.WithinDuration(t, time.Now().UTC().Add(20*time.Minute), intent.ExpiresAt, 5*time.Second)
}

func TestCreateIntent_UniqueExpectedAmounts(t *testing.T) {
	svc := newDepositService(t, newFakeChain(), decimal.NewFromInt(1000))
	ctx := context.Background()

	a, err := svc.CreateIntent(ctx, 1, decimal.NewFromInt(100))
	require.NoError(t, err)
	b, err := svc.CreateIntent(ctx, 2, decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.False(t, a.ExpectedAsset.Equal(b.ExpectedAsset),
		"two intents for the same fiat amount must not expect the same asset amount")
}

func TestCreateIntent_PriceUnavailable(t *testing.T) {
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), newFakeChain(),
		staticPrice{err: oracle.ErrPriceUnavailable}, testNotifier(), zap.NewNop())

	_, err := svc.CreateIntent(context.Background(), 42, decimal.NewFromInt(100))
	moneyErr, ok := AsMoneyError(err)
	require.True(t, ok)
	assert.Equal(t, ReasonPriceUnavailable, moneyErr.Reason)
}

func TestReconcile_CreditsMatchingIntent(t *testing.T) {
	fc := newFakeChain()
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), fc, staticPrice{price: decimal.NewFromInt(1000)}, testNotifier(), zap.NewNop())
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, 42, decimal.NewFromInt(10))
	require.NoError(t, err)

	fc.inbound = []chain.InboundTransfer{
		{Ref: "0xaaa", Amount: intent.ExpectedAsset, Time: time.Now()},
	}

	matched, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	var stored model.DepositIntent
	require.NoError(t, db.Where("intent_id = ?", intent.IntentID).First(&stored).Error)
	assert.Equal(t, model.DepositStatusConfirmed, stored.Status)
	assert.Equal(t, "0xaaa", stored.TxRef)
	require.NotNil(t, stored.ConfirmedAt)

	var account model.Account
	require.NoError(t, db.Where("user_id = ?", int64(42)).First(&account).Error)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10)),
		"credited %s, want 10", account.Balance)

	var journal model.AccountTransaction
	require.NoError(t, db.Where("ref_id = ?", intent.IntentID).First(&journal).Error)
	assert.Equal(t, model.TransactionTypeDeposit, journal.Type)
	assert.True(t, journal.Amount.Equal(decimal.NewFromInt(10)))

	var outboxCount int64
	require.NoError(t, db.Model(&model.OutboxMessage{}).Count(&outboxCount).Error)
	assert.Equal(t, int64(1), outboxCount)
}

func TestReconcile_SecondSweepIsNoOp(t *testing.T) {
	fc := newFakeChain()
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), fc, staticPrice{price: decimal.NewFromInt(1000)}, testNotifier(), zap.NewNop())
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, 42, decimal.NewFromInt(10))
	require.NoError(t, err)

	fc.inbound = []chain.InboundTransfer{
		{Ref: "0xaaa", Amount: intent.ExpectedAsset, Time: time.Now()},
	}

	matched, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, matched)

	// Same transfers are still visible on chain; nothing may be credited
	// again.
	matched, err = svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, matched)

	var account model.Account
	require.NoError(t, db.Where("user_id = ?", int64(42)).First(&account).Error)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10)))
}

func TestReconcile_ToleranceMismatchStaysPending(t *testing.T) {
	fc := newFakeChain()
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), fc, staticPrice{price: decimal.NewFromInt(1000)}, testNotifier(), zap.NewNop())
	ctx := context.Background()

	intent, err := svc.CreateIntent(ctx, 42, decimal.NewFromInt(10))
	require.NoError(t, err)

	// Off by more than the tolerance.
	fc.inbound = []chain.InboundTransfer{
		{Ref: "0xaaa", Amount: intent.ExpectedAsset.Add(decimal.RequireFromString("0.0001")), Time: time.Now()},
	}

	matched, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, matched)

	var stored model.DepositIntent
	require.NoError(t, db.Where("intent_id = ?", intent.IntentID).First(&stored).Error)
	assert.Equal(t, model.DepositStatusPending, stored.Status)
}

func TestReconcile_ExpiresOverdueIntents(t *testing.T) {
	fc := newFakeChain()
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), fc, staticPrice{price: decimal.NewFromInt(1000)}, testNotifier(), zap.NewNop())
	ctx := context.Background()

	expired := &model.DepositIntent{
		IntentID:      "DEP_42_old",
		UserID:        42,
		ExpectedAsset: decimal.RequireFromString("0.105"),
		ExpectedUSD:   decimal.NewFromInt(100),
		Status:        model.DepositStatusPending,
		ExpiresAt:     time.Now().UTC().Add(-time.Minute),
	}
	require.NoError(t, db.Create(expired).Error)

	// A transfer matching the expired intent arrives too late.
	fc.inbound = []chain.InboundTransfer{
		{Ref: "0xlate", Amount: expired.ExpectedAsset, Time: time.Now()},
	}

	matched, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, matched)

	var stored model.DepositIntent
	require.NoError(t, db.Where("intent_id = ?", "DEP_42_old").First(&stored).Error)
	assert.Equal(t, model.DepositStatusExpired, stored.Status)

	var count int64
	require.NoError(t, db.Model(&model.Account{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "no account may be credited for an expired intent")
}

func TestReconcile_EarlierIntentWinsOverlappingTransfer(t *testing.T) {
	fc := newFakeChain()
	db := newTestDB(t)
	svc := NewDepositService(db, testConfig(), fc, staticPrice{price: decimal.NewFromInt(1000)}, testNotifier(), zap.NewNop())
	ctx := context.Background()

	amount := decimal.RequireFromString("0.105")
	now := time.Now().UTC()

	earlier := &model.DepositIntent{
		IntentID:      "DEP_1_first",
		UserID:        1,
		ExpectedAsset: amount,
		ExpectedUSD:   decimal.NewFromInt(100),
		Status:        model.DepositStatusPending,
		ExpiresAt:     now.Add(20 * time.Minute),
		CreatedAt:     now.Add(-2 * time.Minute),
	}
	later := &model.DepositIntent{
		IntentID:      "DEP_2_second",
		UserID:        2,
		ExpectedAsset: amount,
		ExpectedUSD:   decimal.NewFromInt(100),
		Status:        model.DepositStatusPending,
		ExpiresAt:     now.Add(20 * time.Minute),
		CreatedAt:     now.Add(-time.Minute),
	}
	require.NoError(t, db.Create(later).Error)
	require.NoError(t, db.Create(earlier).Error)

	fc.inbound = []chain.InboundTransfer{
		{Ref: "0xone", Amount: amount, Time: now},
	}

	matched, err := svc.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, matched)

	var first, second model.DepositIntent
	require.NoError(t, db.Where("intent_id = ?", "DEP_1_first").First(&first).Error)
	require.NoError(t, db.Where("intent_id = ?", "DEP_2_second").First(&second).Error)
	assert.Equal(t, model.DepositStatusConfirmed, first.Status)
	assert.Equal(t, model.DepositStatusPending, second.Status)
}
