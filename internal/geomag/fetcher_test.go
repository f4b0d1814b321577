package geomag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveHitWithinTTL(t *testing.T) {
	up := newFakeUpstream()
	f, _ := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	ctx := context.Background()
	key := latestKey("EYWM", "X-magnetic-north")

	first, status, err := f.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, status)

	second, status, err := f.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, status)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, up.callsFor(key))
}

func TestResolveCountsOneLookupPerCall(t *testing.T) {
	up := newFakeUpstream()
	f, _ := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	key := latestKey("EYWM", "X-magnetic-north")

	_, _, err := f.Resolve(context.Background(), key)
	require.NoError(t, err)
	st := f.CacheStats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Zero(t, st.Hits)

	_, _, err = f.Resolve(context.Background(), key)
	require.NoError(t, err)
	st = f.CacheStats()
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Hits)
}

func TestResolveMissAfterTTL(t *testing.T) {
	up := newFakeUpstream()
	clk := clockwork.NewFakeClock()
	f, _ := newTestFetcher(up, clk, testTTL)
	ctx := context.Background()
	key := latestKey("EYWM", "X-magnetic-north")

	_, _, err := f.Resolve(ctx, key)
	require.NoError(t, err)

	clk.Advance(testTTL.Latest + time.Second)

	_, status, err := f.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, status)
	assert.Equal(t, 2, up.callsFor(key))

	// Historical keys outlive the latest TTL.
	rk := rangeKey("EYWM", "X-magnetic-north")
	_, _, err = f.Resolve(ctx, rk)
	require.NoError(t, err)
	clk.Advance(testTTL.Latest + time.Second)
	_, status, err = f.Resolve(ctx, rk)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, status)
}

func TestResolveSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return sampleSeries(), nil
	}
	f, _ := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	key := latestKey("EYWM", "X-magnetic-north")

	const n = 20
	var wg sync.WaitGroup
	results := make([]Series, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = f.Resolve(context.Background(), key)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, up.callsFor(key))
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, sampleSeries(), results[i])
	}
}

func TestResolveSingleFlightSharesFailure(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, NewError(KindUpstreamUnavailable, "upstream returned 503")
	}
	f, _ := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	key := latestKey("EYWM", "X-magnetic-north")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.Resolve(context.Background(), key)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Late goroutines may start a second flight after the first one failed,
	// since failures are not cached; everybody still sees the same failure.
	assert.LessOrEqual(t, up.callsFor(key), n)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	}
}

func TestResolveTTLClassSelection(t *testing.T) {
	up := newFakeUpstream()
	f, cache := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	ctx := context.Background()

	lk := latestKey("EYWM", "X-magnetic-north")
	rk := rangeKey("EYWM", "X-magnetic-north")
	dk := lk.WithSelector(NewDay(time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)))

	for _, k := range []QueryKey{lk, rk, dk} {
		_, _, err := f.Resolve(ctx, k)
		require.NoError(t, err)
	}

	e, ok := cache.Get(lk.Normalize().CacheKey())
	require.True(t, ok)
	assert.Equal(t, testTTL.Latest, e.TTL)

	e, ok = cache.Get(rk.Normalize().CacheKey())
	require.True(t, ok)
	assert.Equal(t, testTTL.Historical, e.TTL)

	e, ok = cache.Get(dk.Normalize().CacheKey())
	require.True(t, ok)
	assert.Equal(t, testTTL.Historical, e.TTL)
}

func TestResolveFailureNotCached(t *testing.T) {
	fail := true
	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		if fail {
			return nil, NewError(KindUpstreamUnavailable, "upstream returned 503")
		}
		return sampleSeries(), nil
	}
	f, cache := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	ctx := context.Background()
	key := latestKey("EYWM", "X-magnetic-north")

	_, _, err := f.Resolve(ctx, key)
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 0, cache.Len())

	fail = false
	series, status, err := f.Resolve(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, CacheMiss, status)
	assert.Len(t, series, 2)
	assert.Equal(t, 2, up.callsFor(key))
}

func TestResolveNegativeCaching(t *testing.T) {
	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		return nil, NewError(KindNotFound, "unknown station")
	}
	clk := clockwork.NewFakeClock()
	ttl := testTTL
	ttl.Negative = time.Minute
	f, _ := newTestFetcher(up, clk, ttl)
	ctx := context.Background()
	key := latestKey("NOPE", "X-magnetic-north")

	_, _, err := f.Resolve(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	_, _, err = f.Resolve(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, up.callsFor(key))

	clk.Advance(2 * time.Minute)
	_, _, err = f.Resolve(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 2, up.callsFor(key))
}

func TestResolveInvalidQuerySkipsUpstream(t *testing.T) {
	up := newFakeUpstream()
	f, cache := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)

	key := latestKey("", "X-magnetic-north")
	_, _, err := f.Resolve(context.Background(), key)
	require.ErrorIs(t, err, ErrInvalidQuery)

	key = latestKey("EYWM", "X-magnetic-north")
	key.Selector = nil
	_, _, err = f.Resolve(context.Background(), key)
	require.ErrorIs(t, err, ErrInvalidQuery)

	assert.Equal(t, 0, up.totalCalls())
	assert.Equal(t, 0, cache.Len())
}

func TestResolveWaiterTimeoutKeepsSharedCall(t *testing.T) {
	release := make(chan struct{})
	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		<-release
		return sampleSeries(), ctx.Err()
	}
	f, cache := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)
	key := latestKey("EYWM", "X-magnetic-north")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := f.Resolve(ctx, key)
	require.ErrorIs(t, err, ErrUpstreamTimeout)

	close(release)
	require.Eventually(t, func() bool { return cache.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, status, err := f.Resolve(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, CacheHit, status)
	assert.Equal(t, 1, up.callsFor(key))
}

func TestResolveWrapsForeignErrors(t *testing.T) {
	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		return nil, errors.New("boom")
	}
	f, _ := newTestFetcher(up, clockwork.NewFakeClock(), testTTL)

	_, _, err := f.Resolve(context.Background(), latestKey("EYWM", "X-magnetic-north"))
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, KindUpstreamUnavailable, KindOf(err))
}
