package geomag

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduceEmpty(t *testing.T) {
	_, err := Reduce(nil)
	require.ErrorIs(t, err, ErrEmptySeries)

	_, err = Reduce(Series{})
	require.ErrorIs(t, err, ErrEmptySeries)
}

func TestReduceSinglePoint(t *testing.T) {
	st, err := Reduce(Series{{Timestamp: time.Now().UTC(), Value: 5.0}})
	require.NoError(t, err)
	assert.Equal(t, Statistics{Count: 1, Min: 5.0, Max: 5.0, Mean: 5.0, StdDev: 0.0}, st)
}

func TestReduceTwoPoints(t *testing.T) {
	t0 := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	st, err := Reduce(Series{
		{Timestamp: t0, Value: 1.0},
		{Timestamp: t0.Add(time.Minute), Value: 3.0},
	})
	require.NoError(t, err)
	assert.Equal(t, Statistics{Count: 2, Min: 1.0, Max: 3.0, Mean: 2.0, StdDev: 1.0}, st)
}

func TestReduceConstantSeriesHasZeroVariance(t *testing.T) {
	series := make(Series, 1000)
	for i := range series {
		series[i] = Point{Value: -7.25}
	}
	st, err := Reduce(series)
	require.NoError(t, err)
	assert.Equal(t, 1000, st.Count)
	assert.Equal(t, -7.25, st.Mean)
	assert.Equal(t, 0.0, st.StdDev)
}

func TestReduceIsStableWithLargeOffset(t *testing.T) {
	// Geomagnetic field values sit around 5e4 nT with tiny variations; a
	// naive sum of squares loses the variance entirely at this scale.
	const offset = 1e9
	series := Series{{Value: offset + 4}, {Value: offset + 7}, {Value: offset + 13}, {Value: offset + 16}}

	st, err := Reduce(series)
	require.NoError(t, err)
	assert.InDelta(t, offset+10, st.Mean, 1e-6)
	assert.InDelta(t, math.Sqrt(22.5), st.StdDev, 1e-6)
	assert.Equal(t, offset+4, st.Min)
	assert.Equal(t, offset+16, st.Max)
}
