package geomag

import (
	"time"
)

// Point is a single sample of a time series.
type Point struct {
	Timestamp time.Time `json:"ts"` // always UTC
	Value     float64   `json:"val"`
}

// Series is an ordered (timestamp ascending) sequence of points as returned
// by upstream. Duplicates are passed through unmodified.
//
// Series values handed out by the Fetcher may be shared between callers and
// must be treated as read-only.
type Series []Point

// CacheStatus reports whether data was served from cache or upstream.
type CacheStatus string

const (
	CacheHit  CacheStatus = "hit"
	CacheMiss CacheStatus = "miss"
)

// Statistics summarises the values of a non-empty series.
type Statistics struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"` // population
}

// BatchItemResult is the outcome of one batch item. Exactly one of
// Series/CacheStatus (success) or Err (failure) is meaningful. When
// statistics were requested for a successful item, exactly one of Stats or
// StatsErr is set.
type BatchItemResult struct {
	Index       int         `json:"index"`
	Label       string      `json:"label"`
	Key         QueryKey    `json:"query"`
	Series      Series      `json:"data,omitempty"`
	CacheStatus CacheStatus `json:"cache,omitempty"`
	Stats       *Statistics `json:"statistics,omitempty"`
	StatsErr    *Error      `json:"-"`
	Err         *Error      `json:"-"`
}

// OK reports whether the item resolved successfully.
func (r BatchItemResult) OK() bool {
	return r.Err == nil
}

// BatchResult holds one result per input item, in input order.
type BatchResult struct {
	ID         string            `json:"batchId"`
	Items      []BatchItemResult `json:"items"`
	Successful int               `json:"successful"`
	Failed     int               `json:"failed"`
}

// DataSummary describes what the upstream offers, keyed by domain.
type DataSummary struct {
	Domain map[string]DomainSummary `json:"domain"`
}

// DomainSummary lists the stations of a domain.
type DomainSummary struct {
	Domain      string                 `json:"domain"`
	Description string                 `json:"description,omitempty"`
	Stations    map[string]StationInfo `json:"stations"`
}

// StationInfo is the upstream description of a single station.
type StationInfo struct {
	Station     string                `json:"station"`
	Locality    string                `json:"stationLocality,omitempty"`
	Latitude    float64               `json:"latitude"`
	Longitude   float64               `json:"longitude"`
	ElevationM  float64               `json:"stationElevationM"`
	SensorCodes map[string]SensorInfo `json:"sensorCodes,omitempty"`
}

// SensorInfo lists the series names offered by one sensor.
type SensorInfo struct {
	SensorCode string                `json:"sensorCode"`
	Names      map[string]SeriesInfo `json:"names,omitempty"`
}

// SeriesInfo lists the sampling methods of one series.
type SeriesInfo struct {
	Name    string                `json:"name"`
	Methods map[string]MethodInfo `json:"methods,omitempty"`
}

// MethodInfo lists the aspects recorded with one sampling method.
type MethodInfo struct {
	Method  string   `json:"method"`
	Aspects []string `json:"aspects,omitempty"`
}

// StationMetadata is the compact station description attached to data
// responses.
type StationMetadata struct {
	Station    string  `json:"station"`
	Locality   string  `json:"locality,omitempty"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	ElevationM float64 `json:"elevationM"`
}

// Metadata returns the compact form of s.
func (s StationInfo) Metadata() StationMetadata {
	return StationMetadata{
		Station:    s.Station,
		Locality:   s.Locality,
		Latitude:   s.Latitude,
		Longitude:  s.Longitude,
		ElevationM: s.ElevationM,
	}
}
