package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"custodian/internal/config"
	"custodian/internal/infrastructure/chain"
	"custodian/internal/infrastructure/database"
	"custodian/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps every query on the same in-memory database
	// and serializes access, which is what FOR UPDATE provides on MySQL.
	sqlDB.SetMaxOpenConns(1)

	// sqlite does not parse FOR UPDATE.
	err = db.Callback().Query().Before("gorm:query").Register("strip_locking", func(tx *gorm.DB) {
		delete(tx.Statement.Clauses, "FOR")
	})
	require.NoError(t, err)

	require.NoError(t, database.Migrate(db))
	return db
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func testConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{PaymentEvents: "custodian.payment.events"},
		},
		Chain: config.ChainConfig{
			WalletAddress: "0x00000000000000000000000000000000000000aa",
			InboundBlocks: 20,
		},
		Oracle: config.OracleConfig{
			Symbol:  "ETHUSDT",
			AssetID: "ethereum",
		},
		Business: config.BusinessConfig{
			MinWithdrawUSD:       decimal.NewFromInt(10),
			MaxWithdrawUSD:       decimal.NewFromInt(1000),
			WithdrawFeePercent:   decimal.RequireFromString("0.01"),
			MaxWithdrawalsPerDay: 3,
			WalletReserve:        decimal.RequireFromString("0.01"),
			DepositTTL:           20 * time.Minute,
			DepositBufferPercent: decimal.RequireFromString("0.01"),
			DepositMinAsset:      decimal.RequireFromString("0.000001"),
			MatchTolerance:       decimal.RequireFromString("0.000001"),
			ExchangeRate:         100,
			ExchangeWeeklyCapUSD: decimal.NewFromInt(50),
			ReconcileInterval:    time.Second,
			ConfirmRetries:       2,
			ConfirmBackoff:       time.Millisecond,
		},
	}
}

// staticPrice is a PriceSource pinned to one value.
type staticPrice struct {
	price decimal.Decimal
	err   error
}

func (p staticPrice) Price(ctx context.Context) (decimal.Decimal, error) {
	return p.price, p.err
}

type submittedTransfer struct {
	To     string
	Amount decimal.Decimal
}

// fakeChain is a scriptable settlement network.
type fakeChain struct {
	mu sync.Mutex

	balance    decimal.Decimal
	inbound    []chain.InboundTransfer
	inboundErr error
	submitRef  string
	submitErr  error
	status     chain.TxStatus
	statusErr  error
	invalid    map[string]bool

	submitted []submittedTransfer
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		balance:   decimal.NewFromInt(100),
		submitRef: "0xtx",
		status:    chain.TxStatusConfirmed,
		invalid:   map[string]bool{},
	}
}

func (f *fakeChain) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeChain) GetRecentInbound(ctx context.Context, address string, limit int) ([]chain.InboundTransfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inbound, f.inboundErr
}

func (f *fakeChain) SubmitTransfer(ctx context.Context, to string, amount decimal.Decimal) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, submittedTransfer{To: to, Amount: amount})
	return f.submitRef, nil
}

func (f *fakeChain) GetTransactionStatus(ctx context.Context, ref string) (chain.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeChain) ValidateAddress(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalid[address]
}

func testNotifier() notify.Notifier {
	return notify.NewLogNotifier(zap.NewNop())
}
