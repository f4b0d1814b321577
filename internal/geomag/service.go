package geomag

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DataResult is a resolved series plus its provenance.
type DataResult struct {
	Query       QueryKey         `json:"query"`
	Series      Series           `json:"data"`
	CacheStatus CacheStatus      `json:"cache"`
	Station     *StationMetadata `json:"station_metadata,omitempty"`
}

// StatsResult is the statistics of a resolved series plus its provenance.
type StatsResult struct {
	Query       QueryKey    `json:"query"`
	Statistics  Statistics  `json:"statistics"`
	CacheStatus CacheStatus `json:"cache"`
}

// Service is the entry point used by transports: it composes the Fetcher,
// the Batcher and the Catalog.
type Service struct {
	fetcher *Fetcher
	batcher *Batcher
	catalog *Catalog
	logger  *zap.Logger
}

// NewService creates a new Service.
func NewService(fetcher *Fetcher, batcher *Batcher, catalog *Catalog, logger *zap.Logger) *Service {
	return &Service{
		fetcher: fetcher,
		batcher: batcher,
		catalog: catalog,
		logger:  logger.Named("service"),
	}
}

// Data resolves a single series. Station metadata is attached when the
// domain summary happens to be cached already.
func (s *Service) Data(ctx context.Context, key QueryKey) (DataResult, error) {
	key = key.Normalize()
	series, status, err := s.fetcher.Resolve(ctx, key)
	if err != nil {
		return DataResult{}, err
	}

	res := DataResult{Query: key, Series: series, CacheStatus: status}
	if meta, ok := s.catalog.Peek(key.Domain, key.Station); ok {
		res.Station = &meta
	}
	return res, nil
}

// Stats resolves a series and reduces it to descriptive statistics.
func (s *Service) Stats(ctx context.Context, key QueryKey) (StatsResult, error) {
	key = key.Normalize()
	series, status, err := s.fetcher.Resolve(ctx, key)
	if err != nil {
		return StatsResult{}, err
	}

	st, err := Reduce(series)
	if err != nil {
		return StatsResult{}, err
	}
	return StatsResult{Query: key, Statistics: st, CacheStatus: status}, nil
}

// Batch delegates to the Batcher.
func (s *Service) Batch(ctx context.Context, keys []QueryKey, opts BatchOptions) (BatchResult, error) {
	return s.batcher.ResolveBatch(ctx, keys, opts)
}

// Summary delegates to the Catalog.
func (s *Service) Summary(ctx context.Context, domain string) (DataSummary, CacheStatus, error) {
	return s.catalog.Summary(ctx, domain)
}

// Stations delegates to the Catalog.
func (s *Service) Stations(ctx context.Context, domain string) ([]string, error) {
	return s.catalog.Stations(ctx, domain)
}

// Station delegates to the Catalog.
func (s *Service) Station(ctx context.Context, domain, code string) (StationInfo, error) {
	return s.catalog.Station(ctx, domain, code)
}

// Warm resolves every key concurrently so that the cache holds fresh data
// for them. Failures are logged and do not stop the other keys.
func (s *Service) Warm(ctx context.Context, keys []QueryKey) int {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		warmed int
	)

	for _, key := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, status, err := s.fetcher.Resolve(ctx, key)
			if err != nil {
				s.logger.Warn("warm-up failed", zap.String("key", key.Normalize().CacheKey()), zap.Error(err))
				return
			}

			if status == CacheMiss {
				mu.Lock()
				warmed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	return warmed
}

// Sweep drops expired entries from every cache and returns the total.
func (s *Service) Sweep() int {
	return s.fetcher.Sweep() + s.catalog.Sweep()
}
