package geomag

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/metrics"
	"github.com/i474232898/geomag-gateway/internal/store"
)

func newTestCatalog(up Upstream, clk clockwork.Clock) *Catalog {
	return NewCatalog(store.New[DataSummary](0, clk), up, time.Hour, zap.NewNop(), metrics.NewNop())
}

func TestCatalogStationsCached(t *testing.T) {
	up := newFakeUpstream()
	c := newTestCatalog(up, clockwork.NewFakeClock())
	ctx := context.Background()

	stations, err := c.Stations(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"EYWM", "TEST"}, stations)

	_, status, err := c.Summary(ctx, "geomag")
	require.NoError(t, err)
	assert.Equal(t, CacheHit, status)
	assert.Equal(t, 1, up.summaryCalls)
}

func TestCatalogStation(t *testing.T) {
	c := newTestCatalog(newFakeUpstream(), clockwork.NewFakeClock())
	ctx := context.Background()

	info, err := c.Station(ctx, "geomag", "EYWM")
	require.NoError(t, err)
	assert.Equal(t, "West Melton Geomagnetic Observatory", info.Locality)

	_, err = c.Station(ctx, "geomag", "NOPE")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, MessageOf(err), "NOPE")
}

func TestCatalogPeekNeverCallsUpstream(t *testing.T) {
	up := newFakeUpstream()
	clk := clockwork.NewFakeClock()
	c := newTestCatalog(up, clk)

	_, ok := c.Peek("geomag", "EYWM")
	assert.False(t, ok)
	assert.Equal(t, 0, up.summaryCalls)

	_, _, err := c.Summary(context.Background(), "geomag")
	require.NoError(t, err)

	meta, ok := c.Peek("geomag", "EYWM")
	require.True(t, ok)
	assert.Equal(t, 87.0, meta.ElevationM)

	clk.Advance(2 * time.Hour)
	_, ok = c.Peek("geomag", "EYWM")
	assert.False(t, ok)
}

func TestCatalogRejectsBadDomain(t *testing.T) {
	up := newFakeUpstream()
	c := newTestCatalog(up, clockwork.NewFakeClock())

	_, _, err := c.Summary(context.Background(), "geo/mag")
	require.ErrorIs(t, err, ErrInvalidQuery)
	assert.Equal(t, 0, up.summaryCalls)
}
