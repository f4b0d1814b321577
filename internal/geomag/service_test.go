package geomag

import (
	"context"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/metrics"
)

func newTestService(up *fakeUpstream) *Service {
	clk := clockwork.NewFakeClock()
	f, _ := newTestFetcher(up, clk, testTTL)
	b := NewBatcher(f, BatchConfig{MaxItems: 20}, zap.NewNop(), metrics.NewNop())
	c := newTestCatalog(up, clk)
	return NewService(f, b, c, zap.NewNop())
}

func TestServiceDataAttachesCachedStationMetadata(t *testing.T) {
	up := newFakeUpstream()
	svc := newTestService(up)
	ctx := context.Background()
	key := latestKey("EYWM", "X-magnetic-north")

	res, err := svc.Data(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, res.Station)
	assert.Equal(t, CacheMiss, res.CacheStatus)

	_, err = svc.Stations(ctx, "geomag")
	require.NoError(t, err)

	res, err = svc.Data(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, res.Station)
	assert.Equal(t, "EYWM", res.Station.Station)
	assert.Equal(t, CacheHit, res.CacheStatus)
}

func TestServiceStats(t *testing.T) {
	up := newFakeUpstream()
	svc := newTestService(up)

	res, err := svc.Stats(context.Background(), latestKey("EYWM", "X-magnetic-north"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Statistics.Count)
	assert.InDelta(t, 12345.895, res.Statistics.Mean, 1e-9)

	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) { return Series{}, nil }
	_, err = svc.Stats(context.Background(), latestKey("EMPTY", "X-magnetic-north"))
	require.ErrorIs(t, err, ErrEmptySeries)
}

func TestServiceWarmAndSweep(t *testing.T) {
	up := newFakeUpstream()
	up.fetch = func(ctx context.Context, key QueryKey) (Series, error) {
		if key.Station == "BAD" {
			return nil, NewError(KindNotFound, "unknown station")
		}
		return sampleSeries(), nil
	}
	svc := newTestService(up)
	keys := []QueryKey{
		latestKey("EYWM", "X-magnetic-north"),
		latestKey("BAD", "X-magnetic-north"),
	}

	assert.Equal(t, 1, svc.Warm(context.Background(), keys))
	assert.Equal(t, 0, svc.Warm(context.Background(), keys[:1]))
	assert.Equal(t, 0, svc.Sweep())
}
