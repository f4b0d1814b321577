package geomag

import "math"

// Reduce computes descriptive statistics over the values of series in a
// single pass using Welford's method. The standard deviation is the
// population one. An empty series fails with EmptySeries.
func Reduce(series Series) (Statistics, error) {
	if len(series) == 0 {
		return Statistics{}, NewError(KindEmptySeries, "statistics requested on a series with no points")
	}

	var (
		n    int
		mean float64
		m2   float64
		min  = series[0].Value
		max  = series[0].Value
	)

	for _, p := range series {
		n++
		delta := p.Value - mean
		mean += delta / float64(n)
		m2 += delta * (p.Value - mean)

		if p.Value < min {
			min = p.Value
		}
		if p.Value > max {
			max = p.Value
		}
	}

	return Statistics{
		Count:  n,
		Min:    min,
		Max:    max,
		Mean:   mean,
		StdDev: math.Sqrt(m2 / float64(n)),
	}, nil
}
