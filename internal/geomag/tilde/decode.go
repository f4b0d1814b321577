package tilde

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

// seriesDoc is one series block of a data response.
type seriesDoc struct {
	Data []rawPoint `json:"data"`
}

// rawPoint accepts both the compact (ts/val) and the verbose
// (timestamp|time/value) field names.
type rawPoint struct {
	TS        string   `json:"ts"`
	Timestamp string   `json:"timestamp"`
	Time      string   `json:"time"`
	Val       *float64 `json:"val"`
	Value     *float64 `json:"value"`
}

func (p rawPoint) instant() string {
	switch {
	case p.TS != "":
		return p.TS
	case p.Timestamp != "":
		return p.Timestamp
	default:
		return p.Time
	}
}

func (p rawPoint) value() (float64, bool) {
	switch {
	case p.Val != nil:
		return *p.Val, true
	case p.Value != nil:
		return *p.Value, true
	default:
		return 0, false
	}
}

// decodeSeries parses a data response: either a list of series blocks or a
// single block. Points without a value are gaps and are dropped. The result
// is ordered by timestamp; equal timestamps keep upstream order.
func decodeSeries(body []byte) (geomag.Series, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, geomag.NewError(geomag.KindInvalidResponse, "upstream returned an empty body")
	}

	var docs []seriesDoc
	if body[0] == '[' {
		if err := json.Unmarshal(body, &docs); err != nil {
			return nil, geomag.WrapError(geomag.KindInvalidResponse, err, "data response is not a list of series")
		}
	} else {
		var doc seriesDoc
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, geomag.WrapError(geomag.KindInvalidResponse, err, "data response is not a series object")
		}
		docs = []seriesDoc{doc}
	}

	series := geomag.Series{}
	for _, doc := range docs {
		for i, raw := range doc.Data {
			v, ok := raw.value()
			if !ok {
				continue
			}
			ts := raw.instant()
			if ts == "" {
				return nil, geomag.NewError(geomag.KindInvalidResponse, "data point %d has no timestamp", i)
			}
			t, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, geomag.WrapError(geomag.KindInvalidResponse, err, "data point %d has a malformed timestamp %q", i, ts)
			}
			series = append(series, geomag.Point{Timestamp: t.UTC(), Value: v})
		}
	}

	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
	return series, nil
}

// detail extracts a short human message from an error body.
func detail(body []byte) string {
	var doc struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &doc) == nil {
		for _, s := range []string{doc.Detail, doc.Message, doc.Error} {
			if s != "" {
				return s
			}
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
