package geomag

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/metrics"
	"github.com/i474232898/geomag-gateway/internal/store"
)

// fakeUpstream counts calls per cache key and delegates to optional hooks.
type fakeUpstream struct {
	mu           sync.Mutex
	calls        map[string]int
	summaryCalls int

	fetch   func(ctx context.Context, key QueryKey) (Series, error)
	summary func(ctx context.Context, domain string) (DataSummary, error)
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{calls: make(map[string]int)}
}

func (u *fakeUpstream) Fetch(ctx context.Context, key QueryKey) (Series, error) {
	u.mu.Lock()
	u.calls[key.CacheKey()]++
	u.mu.Unlock()

	if u.fetch != nil {
		return u.fetch(ctx, key)
	}
	return sampleSeries(), nil
}

func (u *fakeUpstream) Summary(ctx context.Context, domain string) (DataSummary, error) {
	u.mu.Lock()
	u.summaryCalls++
	u.mu.Unlock()

	if u.summary != nil {
		return u.summary(ctx, domain)
	}
	return sampleSummary(), nil
}

func (u *fakeUpstream) callsFor(key QueryKey) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[key.Normalize().CacheKey()]
}

func (u *fakeUpstream) totalCalls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	n := 0
	for _, c := range u.calls {
		n += c
	}
	return n
}

var testTTL = TTLPolicy{Latest: 5 * time.Minute, Historical: 24 * time.Hour}

func newTestFetcher(up Upstream, clk clockwork.Clock, ttl TTLPolicy) (*Fetcher, *SeriesCache) {
	cache := store.New[CachedSeries](0, clk)
	return NewFetcher(cache, up, ttl, zap.NewNop(), metrics.NewNop()), cache
}

func latestKey(station, aspect string) QueryKey {
	return QueryKey{
		Station:    station,
		Name:       "magnetic-field-component",
		SensorCode: "50",
		Method:     "60s",
		Aspect:     aspect,
		Selector:   Latest{Period: 6 * time.Hour},
	}
}

func rangeKey(station, aspect string) QueryKey {
	k := latestKey(station, aspect)
	k.Selector = NewRange(
		time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC),
	)
	return k
}

func sampleSeries() Series {
	return Series{
		{Timestamp: time.Date(2025, 1, 20, 12, 0, 0, 0, time.UTC), Value: 12345.67},
		{Timestamp: time.Date(2025, 1, 20, 12, 1, 0, 0, time.UTC), Value: 12346.12},
	}
}

func sampleSummary() DataSummary {
	return DataSummary{Domain: map[string]DomainSummary{
		"geomag": {
			Domain: "geomag",
			Stations: map[string]StationInfo{
				"EYWM": {Station: "EYWM", Locality: "West Melton Geomagnetic Observatory", Latitude: -43.474, Longitude: 172.3928, ElevationM: 87},
				"TEST": {Station: "TEST", Locality: "Test Station", Latitude: -40, Longitude: 175, ElevationM: 100},
			},
		},
	}}
}
