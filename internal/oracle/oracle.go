package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrPriceUnavailable means no source answered and the cache is too old to
// trust. Callers must abort the money-movement operation that asked; the
// price is never assumed to be zero.
var ErrPriceUnavailable = errors.New("asset price unavailable")

// Source is one independent external price feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (decimal.Decimal, error)
}

// Oracle caches the asset/USD price with two staleness bounds. Inside the
// soft TTL the cached value is served without any network call. Past it,
// sources are tried in priority order and the first strictly-positive result
// wins. If every source fails, the stale cache is still served up to the hard
// staleness bound.
//
// The cache is deliberately not persisted: each deposit and withdrawal
// freezes its own price inside its own record, so the cache is never a source
// of truth for historical pricing.
type Oracle struct {
	sources []Source
	softTTL time.Duration
	hardMax time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	price     decimal.Decimal
	fetchedAt time.Time
}

// Option tweaks oracle construction.
type Option func(*Oracle)

// WithClock injects a time source, used by staleness tests.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

func New(sources []Source, softTTL, hardMax time.Duration, logger *zap.Logger, opts ...Option) *Oracle {
	o := &Oracle{
		sources: sources,
		softTTL: softTTL,
		hardMax: hardMax,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Price returns the current asset/USD price or ErrPriceUnavailable.
func (o *Oracle) Price(ctx context.Context) (decimal.Decimal, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()

	if o.price.IsPositive() && now.Sub(o.fetchedAt) < o.softTTL {
		return o.price, nil
	}

	for _, src := range o.sources {
		price, err := src.Fetch(ctx)
		if err != nil {
			o.logger.Debug("price source failed",
				zap.String("source", src.Name()),
				zap.Error(err))
			continue
		}
		if !price.IsPositive() {
			continue
		}
		o.price = price
		o.fetchedAt = now
		o.logger.Info("asset price refreshed",
			zap.String("source", src.Name()),
			zap.String("price", price.StringFixed(2)))
		return price, nil
	}

	// Every source failed; fall back to the stale cache if it is young
	// enough to be safe.
	if o.price.IsPositive() {
		age := now.Sub(o.fetchedAt)
		if age <= o.hardMax {
			o.logger.Warn("all price sources failed, serving stale cache",
				zap.Duration("age", age),
				zap.String("price", o.price.StringFixed(2)))
			return o.price, nil
		}
		o.logger.Error("cached price too old to serve", zap.Duration("age", age))
	}

	return decimal.Decimal{}, ErrPriceUnavailable
}
