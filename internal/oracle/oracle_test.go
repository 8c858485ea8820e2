package oracle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	name  string
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) Fetch(ctx context.Context) (decimal.Decimal, error) {
	s.calls++
	return s.price, s.err
}

func TestPrice_FirstPositiveSourceWins(t *testing.T) {
	broken := &stubSource{name: "a", err: errors.New("timeout")}
	zero := &stubSource{name: "b", price: decimal.Zero}
	good := &stubSource{name: "c", price: decimal.NewFromInt(2000)}
	never := &stubSource{name: "d", price: decimal.NewFromInt(9999)}

	o := New([]Source{broken, zero, good, never}, time.Hour, 24*time.Hour, zap.NewNop())

	price, err := o.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 0, never.calls, "later sources must not be queried once one answered")
}

func TestPrice_ServedFromCacheInsideSoftTTL(t *testing.T) {
	src := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	now := time.Now()
	clock := func() time.Time { return now }

	o := New([]Source{src}, time.Hour, 24*time.Hour, zap.NewNop(), WithClock(clock))

	_, err := o.Price(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	now = now.Add(30 * time.Minute)
	price, err := o.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, 1, src.calls, "inside the soft TTL the cache must answer without a fetch")
}

func TestPrice_RefetchesPastSoftTTL(t *testing.T) {
	src := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	now := time.Now()
	clock := func() time.Time { return now }

	o := New([]Source{src}, time.Hour, 24*time.Hour, zap.NewNop(), WithClock(clock))

	_, err := o.Price(context.Background())
	require.NoError(t, err)

	src.price = decimal.NewFromInt(2100)
	now = now.Add(2 * time.Hour)

	price, err := o.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2100)))
	assert.Equal(t, 2, src.calls)
}

func TestPrice_StaleCacheServedUntilHardBound(t *testing.T) {
	src := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	now := time.Now()
	clock := func() time.Time { return now }

	o := New([]Source{src}, time.Hour, 24*time.Hour, zap.NewNop(), WithClock(clock))

	_, err := o.Price(context.Background())
	require.NoError(t, err)

	// Sources go dark; the 12h-old cache is still inside the hard bound.
	src.err = errors.New("network down")
	now = now.Add(12 * time.Hour)

	price, err := o.Price(context.Background())
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.NewFromInt(2000)))
}

func TestPrice_UnavailablePastHardBound(t *testing.T) {
	src := &stubSource{name: "a", price: decimal.NewFromInt(2000)}
	now := time.Now()
	clock := func() time.Time { return now }

	o := New([]Source{src}, time.Hour, 24*time.Hour, zap.NewNop(), WithClock(clock))

	_, err := o.Price(context.Background())
	require.NoError(t, err)

	src.err = errors.New("network down")
	now = now.Add(25 * time.Hour)

	_, err = o.Price(context.Background())
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestPrice_UnavailableWithEmptyCache(t *testing.T) {
	src := &stubSource{name: "a", err: errors.New("network down")}
	o := New([]Source{src}, time.Hour, 24*time.Hour, zap.NewNop())

	_, err := o.Price(context.Background())
	assert.ErrorIs(t, err, ErrPriceUnavailable)
}
