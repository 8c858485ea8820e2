package repository

import (
	"context"
	"testing"

	"custodian/internal/infrastructure/database"
	"custodian/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestGetOrCreate_Idempotent(t *testing.T) {
	db := newDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	first, err := repo.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	second, err := repo.GetOrCreate(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&model.Account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestDeduct_BalanceFloor(t *testing.T) {
	db := newDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Account{UserID: 42, Balance: decimal.NewFromInt(10)}).Error)

	account, err := repo.GetByUserID(ctx, 42)
	require.NoError(t, err)

	err = repo.Deduct(ctx, db, 42, decimal.NewFromInt(20), account.Version)
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	// Balance untouched.
	account, err = repo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(10)))
}

func TestDeduct_StaleVersionRejected(t *testing.T) {
	db := newDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Account{UserID: 42, Balance: decimal.NewFromInt(100)}).Error)

	account, err := repo.GetByUserID(ctx, 42)
	require.NoError(t, err)

	// A concurrent writer bumps the version between read and write.
	require.NoError(t, repo.Increase(ctx, db, 42, decimal.NewFromInt(1)))

	err = repo.Deduct(ctx, db, 42, decimal.NewFromInt(50), account.Version)
	assert.ErrorIs(t, err, ErrOptimisticLock)
}

func TestDeduct_Success(t *testing.T) {
	db := newDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Account{UserID: 42, Balance: decimal.NewFromInt(100)}).Error)

	account, err := repo.GetByUserID(ctx, 42)
	require.NoError(t, err)

	require.NoError(t, repo.Deduct(ctx, db, 42, decimal.NewFromInt(30), account.Version))

	account, err = repo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 1, account.Version)
}

func TestDeductPoints_Floor(t *testing.T) {
	db := newDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&model.Account{UserID: 42, Points: 100}).Error)

	err := repo.DeductPoints(ctx, db, 42, 200)
	assert.ErrorIs(t, err, ErrPointsNotEnough)

	require.NoError(t, repo.DeductPoints(ctx, db, 42, 60))
	account, err := repo.GetByUserID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(40), account.Points)
}
