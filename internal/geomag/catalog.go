package geomag

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/geomag-gateway/internal/metrics"
	"github.com/i474232898/geomag-gateway/internal/store"
)

// SummaryCache is the cache type the Catalog reads through.
type SummaryCache = store.Cache[DataSummary]

// Catalog serves the upstream data summary (stations, sensors, aspects),
// cached per domain.
type Catalog struct {
	cache    *SummaryCache
	upstream Upstream
	ttl      time.Duration
	group    singleflight.Group
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewCatalog creates a Catalog whose summaries stay fresh for ttl.
func NewCatalog(cache *SummaryCache, upstream Upstream, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *Catalog {
	return &Catalog{
		cache:    cache,
		upstream: upstream,
		ttl:      ttl,
		logger:   logger.Named("catalog"),
		metrics:  m,
	}
}

func summaryKey(domain string) string {
	return "dataSummary:" + domain
}

func normalizeDomain(domain string) (string, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return DefaultDomain, nil
	}
	if strings.ContainsAny(domain, "/:") {
		return "", NewError(KindInvalidQuery, "domain contains invalid characters")
	}
	return domain, nil
}

// Summary returns the data summary of a domain.
func (c *Catalog) Summary(ctx context.Context, domain string) (DataSummary, CacheStatus, error) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return DataSummary{}, "", err
	}

	key := summaryKey(domain)
	if e, ok := c.cache.Get(key); ok {
		c.metrics.CacheLookups.WithLabelValues("summary", string(CacheHit)).Inc()
		return e.Value, CacheHit, nil
	}
	c.metrics.CacheLookups.WithLabelValues("summary", string(CacheMiss)).Inc()

	ch := c.group.DoChan(key, func() (interface{}, error) {
		if e, ok := c.cache.Peek(key); ok {
			return e.Value, nil
		}

		summary, err := c.upstream.Summary(context.WithoutCancel(ctx), domain)
		if err != nil {
			cerr := asCoreError(err)
			c.logger.Warn("upstream summary failed", zap.String("domain", domain), zap.Error(cerr))
			return nil, cerr
		}
		c.cache.Put(key, summary, c.ttl)
		return summary, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return DataSummary{}, "", res.Err
		}
		return res.Val.(DataSummary), CacheMiss, nil
	case <-ctx.Done():
		return DataSummary{}, "", WrapError(KindUpstreamTimeout, ctx.Err(), "gave up waiting for upstream")
	}
}

// Stations returns the sorted station codes of a domain.
func (c *Catalog) Stations(ctx context.Context, domain string) ([]string, error) {
	summary, _, err := c.Summary(ctx, domain)
	if err != nil {
		return nil, err
	}
	domain, _ = normalizeDomain(domain)

	stations := summary.Domain[domain].Stations
	codes := make([]string, 0, len(stations))
	for code := range stations {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes, nil
}

// Station returns one station of a domain.
func (c *Catalog) Station(ctx context.Context, domain, code string) (StationInfo, error) {
	summary, _, err := c.Summary(ctx, domain)
	if err != nil {
		return StationInfo{}, err
	}
	domain, _ = normalizeDomain(domain)

	info, ok := summary.Domain[domain].Stations[code]
	if !ok {
		return StationInfo{}, NewError(KindNotFound, "station '%s' not found in domain '%s'", code, domain)
	}
	return info, nil
}

// Peek returns station metadata only if the domain summary is already
// cached. It never calls upstream.
func (c *Catalog) Peek(domain, code string) (StationMetadata, bool) {
	domain, err := normalizeDomain(domain)
	if err != nil {
		return StationMetadata{}, false
	}
	e, ok := c.cache.Peek(summaryKey(domain))
	if !ok {
		return StationMetadata{}, false
	}
	info, ok := e.Value.Domain[domain].Stations[code]
	if !ok {
		return StationMetadata{}, false
	}
	return info.Metadata(), true
}

// Sweep drops expired summaries from the cache.
func (c *Catalog) Sweep() int {
	return c.cache.Sweep()
}
