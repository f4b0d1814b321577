package geomag

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/geomag-gateway/internal/metrics"
	"github.com/i474232898/geomag-gateway/internal/store"
)

// TTLPolicy selects how long a fetched series stays fresh.
type TTLPolicy struct {
	Latest     time.Duration
	Historical time.Duration

	// Negative is how long NotFound failures are cached. Zero disables
	// negative caching so that an upstream fix is visible on the next request.
	Negative time.Duration
}

// For returns the TTL for a selector class.
func (p TTLPolicy) For(class SelectorClass) time.Duration {
	if class == ClassLatest {
		return p.Latest
	}
	return p.Historical
}

// CachedSeries is what the Fetcher stores per key: a series or, with
// negative caching enabled, a NotFound snapshot.
type CachedSeries struct {
	Series Series
	Err    *Error
}

// SeriesCache is the cache type the Fetcher reads through.
type SeriesCache = store.Cache[CachedSeries]

type resolution struct {
	series Series
	status CacheStatus
}

// Fetcher is a read-through cache in front of an Upstream. Concurrent misses
// on the same key share a single upstream call.
type Fetcher struct {
	cache    *SeriesCache
	upstream Upstream
	ttl      TTLPolicy
	group    singleflight.Group
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewFetcher creates a Fetcher.
func NewFetcher(cache *SeriesCache, upstream Upstream, ttl TTLPolicy, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	return &Fetcher{
		cache:    cache,
		upstream: upstream,
		ttl:      ttl,
		logger:   logger.Named("fetcher"),
		metrics:  m,
	}
}

// Resolve returns the series for key, from cache when fresh, otherwise from
// upstream. If ctx ends first the caller gets UpstreamTimeout while a shared
// upstream call keeps running and still populates the cache.
func (f *Fetcher) Resolve(ctx context.Context, key QueryKey) (Series, CacheStatus, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, "", err
	}

	ck := key.CacheKey()
	if e, ok := f.cache.Get(ck); ok {
		f.metrics.CacheLookups.WithLabelValues("series", string(CacheHit)).Inc()
		f.logger.Debug("cache hit", zap.String("key", ck))
		if e.Value.Err != nil {
			return nil, "", e.Value.Err
		}
		return e.Value.Series, CacheHit, nil
	}
	f.metrics.CacheLookups.WithLabelValues("series", string(CacheMiss)).Inc()

	if err := ctx.Err(); err != nil {
		return nil, "", WrapError(KindUpstreamTimeout, err, "deadline passed before upstream call")
	}

	ch := f.group.DoChan(ck, func() (interface{}, error) {
		// Another flight may have filled the cache between our miss and now.
		if e, ok := f.cache.Peek(ck); ok {
			if e.Value.Err != nil {
				return nil, e.Value.Err
			}
			return resolution{series: e.Value.Series, status: CacheHit}, nil
		}

		series, err := f.upstream.Fetch(context.WithoutCancel(ctx), key)
		if err != nil {
			cerr := asCoreError(err)
			f.logger.Warn("upstream fetch failed", zap.String("key", ck), zap.Error(cerr))
			if f.ttl.Negative > 0 && cerr.Kind == KindNotFound {
				f.cache.Put(ck, CachedSeries{Err: cerr}, f.ttl.Negative)
			}
			return nil, cerr
		}

		ttl := f.ttl.For(key.Class())
		f.cache.Put(ck, CachedSeries{Series: series}, ttl)
		f.logger.Debug("cached upstream series",
			zap.String("key", ck),
			zap.Int("points", len(series)),
			zap.Duration("ttl", ttl),
		)
		return resolution{series: series, status: CacheMiss}, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			f.metrics.SharedWaits.Inc()
		}
		if res.Err != nil {
			return nil, "", res.Err
		}
		r := res.Val.(resolution)
		return r.series, r.status, nil
	case <-ctx.Done():
		return nil, "", WrapError(KindUpstreamTimeout, ctx.Err(), "gave up waiting for upstream")
	}
}

// Sweep drops expired series from the cache.
func (f *Fetcher) Sweep() int {
	return f.cache.Sweep()
}

// CacheStats exposes cache counters to operators.
func (f *Fetcher) CacheStats() store.Stats {
	return f.cache.Stats()
}

// TTL returns the configured freshness policy.
func (f *Fetcher) TTL() TTLPolicy {
	return f.ttl
}

// asCoreError makes sure anything crossing the core boundary is an *Error.
func asCoreError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(KindUpstreamTimeout, err, "upstream call timed out")
	}
	return WrapError(KindUpstreamUnavailable, err, "upstream call failed")
}
