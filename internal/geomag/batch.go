package geomag

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/geomag-gateway/internal/metrics"
)

// Resolver resolves a single key; *Fetcher is the production implementation.
type Resolver interface {
	Resolve(ctx context.Context, key QueryKey) (Series, CacheStatus, error)
}

// BatchConfig bounds a batch request.
type BatchConfig struct {
	MaxItems    int           // 0 = unlimited
	Timeout     time.Duration // 0 = only the caller's ctx applies
	Concurrency int           // 0 = one goroutine per item
}

// BatchOptions modify how every item of a batch is resolved.
type BatchOptions struct {
	// Override replaces the selector of every item when set.
	Override TimeSelector
	// Statistics attaches Reduce output, or its EmptySeries error, to
	// successful items.
	Statistics bool
}

// Batcher resolves independent keys concurrently and reports per-item
// success or failure.
type Batcher struct {
	resolver Resolver
	cfg      BatchConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewBatcher creates a Batcher.
func NewBatcher(resolver Resolver, cfg BatchConfig, logger *zap.Logger, m *metrics.Metrics) *Batcher {
	return &Batcher{
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.Named("batch"),
		metrics:  m,
	}
}

// ResolveBatch resolves keys and returns exactly one result per key in input
// order. Item failures never abort the batch; only an empty or oversized
// batch is rejected as a whole.
func (b *Batcher) ResolveBatch(ctx context.Context, keys []QueryKey, opts BatchOptions) (BatchResult, error) {
	if len(keys) == 0 {
		return BatchResult{}, NewError(KindInvalidQuery, "at least one item is required")
	}
	if b.cfg.MaxItems > 0 && len(keys) > b.cfg.MaxItems {
		return BatchResult{}, NewError(KindInvalidQuery, "maximum %d items allowed per batch request, got %d", b.cfg.MaxItems, len(keys))
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	id := uuid.NewString()
	logger := b.logger.With(zap.String("batch_id", id), zap.Int("items", len(keys)))
	logger.Debug("batch started")
	start := time.Now()

	results := make([]BatchItemResult, len(keys))

	var g errgroup.Group
	if b.cfg.Concurrency > 0 {
		g.SetLimit(b.cfg.Concurrency)
	}
	for i, key := range keys {
		if opts.Override != nil {
			key = key.WithSelector(opts.Override)
		}
		key = key.Normalize()

		g.Go(func() error {
			results[i] = b.resolveItem(ctx, i, key, opts.Statistics)
			return nil
		})
	}
	_ = g.Wait()

	out := BatchResult{ID: id, Items: results}
	for _, r := range results {
		if r.OK() {
			out.Successful++
			b.metrics.BatchItems.WithLabelValues("ok").Inc()
		} else {
			out.Failed++
			b.metrics.BatchItems.WithLabelValues(string(r.Err.Kind)).Inc()
		}
	}

	logger.Info("batch completed",
		zap.Int("successful", out.Successful),
		zap.Int("failed", out.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
	return out, nil
}

func (b *Batcher) resolveItem(ctx context.Context, index int, key QueryKey, withStats bool) BatchItemResult {
	res := BatchItemResult{Index: index, Label: key.Label(), Key: key}

	series, status, err := b.resolver.Resolve(ctx, key)
	if err != nil {
		res.Err = asCoreError(err)
		return res
	}

	res.Series = series
	res.CacheStatus = status
	if withStats {
		st, err := Reduce(series)
		if err != nil {
			res.StatsErr = asCoreError(err)
		} else {
			res.Stats = &st
		}
	}
	return res
}
