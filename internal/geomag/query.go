package geomag

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultDomain is the upstream data domain for geomagnetic sensors.
	DefaultDomain = "geomag"

	// MaxRangeDays is the widest explicit date range accepted.
	MaxRangeDays = 90

	dateLayout = "2006-01-02"
)

var validate = validator.New()

// SelectorClass decides which TTL applies to a cached series.
type SelectorClass int

const (
	// ClassLatest data mutates as new samples arrive upstream.
	ClassLatest SelectorClass = iota
	// ClassHistorical data is effectively immutable once its window has elapsed.
	ClassHistorical
)

func (c SelectorClass) String() string {
	if c == ClassLatest {
		return "latest"
	}
	return "historical"
}

// TimeSelector picks the time window of a query. It is a closed set:
// Latest, Range and Day are the only implementations.
type TimeSelector interface {
	Class() SelectorClass
	// String is the normalized form used in cache keys.
	String() string
	check() error
	isTimeSelector()
}

// Latest selects the most recent Period of samples.
type Latest struct {
	Period time.Duration
}

// Range selects whole UTC days from Start to End, both inclusive.
type Range struct {
	Start time.Time
	End   time.Time
}

// Day selects a single UTC day.
type Day struct {
	Date time.Time
}

func (Latest) Class() SelectorClass { return ClassLatest }
func (Range) Class() SelectorClass  { return ClassHistorical }
func (Day) Class() SelectorClass    { return ClassHistorical }

func (Latest) isTimeSelector() {}
func (Range) isTimeSelector()  {}
func (Day) isTimeSelector()    {}

func (l Latest) String() string { return "latest:" + FormatPeriod(l.Period) }
func (r Range) String() string {
	return "range:" + FormatDate(r.Start) + ":" + FormatDate(r.End)
}
func (d Day) String() string { return "day:" + FormatDate(d.Date) }

func (l Latest) check() error {
	if l.Period <= 0 {
		return NewError(KindInvalidQuery, "period must be positive")
	}
	if l.Period%time.Second != 0 {
		return NewError(KindInvalidQuery, "period must be a whole number of seconds")
	}
	return nil
}

func (r Range) check() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return NewError(KindInvalidQuery, "start and end dates are required")
	}
	days := int(truncateDay(r.End).Sub(truncateDay(r.Start)).Hours() / 24)
	if days < 0 {
		return NewError(KindInvalidQuery, "end date must not be before start date")
	}
	if days > MaxRangeDays {
		return NewError(KindInvalidQuery, "date range cannot exceed %d days; requested range: %d days", MaxRangeDays, days)
	}
	return nil
}

func (d Day) check() error {
	if d.Date.IsZero() {
		return NewError(KindInvalidQuery, "date is required")
	}
	return nil
}

// NewRange returns a Range normalized to UTC midnight.
func NewRange(start, end time.Time) Range {
	return Range{Start: truncateDay(start), End: truncateDay(end)}
}

// NewDay returns a Day normalized to UTC midnight.
func NewDay(date time.Time) Day {
	return Day{Date: truncateDay(date)}
}

func truncateDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var periodPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParsePeriod parses the upstream period notation ("30m", "6h", "7d").
func ParsePeriod(s string) (Latest, error) {
	m := periodPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Latest{}, NewError(KindInvalidQuery, "period must be in format '<number><unit>' where unit is s, m, h or d")
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return Latest{}, NewError(KindInvalidQuery, "period too large: %s", m[0])
	}
	if n <= 0 {
		return Latest{}, NewError(KindInvalidQuery, "period must be a positive number")
	}

	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	}
	if n > math.MaxInt64/int64(unit) {
		return Latest{}, NewError(KindInvalidQuery, "period too large: %s", m[0])
	}
	return Latest{Period: time.Duration(n) * unit}, nil
}

// FormatPeriod renders d with the largest unit that divides it exactly.
func FormatPeriod(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// ParseDate parses a YYYY-MM-DD date as UTC midnight.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, NewError(KindInvalidQuery, "date %q must be in YYYY-MM-DD format", s)
	}
	return t, nil
}

// FormatDate renders t as an ISO-8601 UTC date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// ParseSelector builds a selector from loosely typed request parameters.
// Exactly one of period, start+end or date must be set.
func ParseSelector(period, start, end, date string) (TimeSelector, error) {
	set := 0
	if period != "" {
		set++
	}
	if start != "" || end != "" {
		set++
	}
	if date != "" {
		set++
	}
	if set != 1 {
		return nil, NewError(KindInvalidQuery, "either 'period' (for latest), both 'start_date' and 'end_date' (for range), or 'date' must be provided")
	}

	switch {
	case period != "":
		return ParsePeriod(period)
	case date != "":
		d, err := ParseDate(date)
		if err != nil {
			return nil, err
		}
		return NewDay(d), nil
	default:
		if start == "" || end == "" {
			return nil, NewError(KindInvalidQuery, "both 'start_date' and 'end_date' are required for a range")
		}
		s, err := ParseDate(start)
		if err != nil {
			return nil, err
		}
		e, err := ParseDate(end)
		if err != nil {
			return nil, err
		}
		return NewRange(s, e), nil
	}
}

// QueryKey identifies one time-series request.
type QueryKey struct {
	Domain     string       `json:"domain" validate:"required,excludesall=/:"`
	Station    string       `json:"station" validate:"required,excludesall=/:"`
	Name       string       `json:"name" validate:"required,excludesall=/:"`
	SensorCode string       `json:"sensorCode" validate:"required,excludesall=/:"`
	Method     string       `json:"method" validate:"required,excludesall=/:"`
	Aspect     string       `json:"aspect" validate:"required,excludesall=/:"`
	Selector   TimeSelector `json:"-" validate:"-"`
}

// Normalize trims identifiers, fills the default domain and truncates dates
// to UTC midnight. Case is preserved.
func (k QueryKey) Normalize() QueryKey {
	k.Domain = strings.TrimSpace(k.Domain)
	if k.Domain == "" {
		k.Domain = DefaultDomain
	}
	k.Station = strings.TrimSpace(k.Station)
	k.Name = strings.TrimSpace(k.Name)
	k.SensorCode = strings.TrimSpace(k.SensorCode)
	k.Method = strings.TrimSpace(k.Method)
	k.Aspect = strings.TrimSpace(k.Aspect)

	switch s := k.Selector.(type) {
	case Range:
		k.Selector = NewRange(s.Start, s.End)
	case Day:
		k.Selector = NewDay(s.Date)
	}
	return k
}

// WithSelector returns a copy of k using sel.
func (k QueryKey) WithSelector(sel TimeSelector) QueryKey {
	k.Selector = sel
	return k
}

// Validate reports an InvalidQuery error for malformed keys.
func (k QueryKey) Validate() error {
	if err := validate.Struct(k); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			if fe.Tag() == "required" {
				return NewError(KindInvalidQuery, "%s is required", strings.ToLower(fe.Field()))
			}
			return NewError(KindInvalidQuery, "%s contains invalid characters", strings.ToLower(fe.Field()))
		}
		return WrapError(KindInvalidQuery, err, "invalid query")
	}
	if k.Selector == nil {
		return NewError(KindInvalidQuery, "a time selector is required")
	}
	return k.Selector.check()
}

// CacheKey is the stable serialization of a normalized key.
func (k QueryKey) CacheKey() string {
	sel := ""
	if k.Selector != nil {
		sel = k.Selector.String()
	}
	return strings.Join([]string{"data", k.Domain, k.Station, k.Name, k.SensorCode, k.Method, k.Aspect, sel}, ":")
}

// MarshalJSON renders the selector in its normalized string form.
func (k QueryKey) MarshalJSON() ([]byte, error) {
	type plain QueryKey
	sel := ""
	if k.Selector != nil {
		sel = k.Selector.String()
	}
	return json.Marshal(struct {
		plain
		Selector string `json:"selector,omitempty"`
	}{plain(k), sel})
}

// Label is the short human identifier used in batch responses.
func (k QueryKey) Label() string {
	return k.Station + "_" + k.Aspect
}

// Class returns the TTL class of the key's selector.
func (k QueryKey) Class() SelectorClass {
	if k.Selector == nil {
		return ClassHistorical
	}
	return k.Selector.Class()
}
