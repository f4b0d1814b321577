package tilde

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/geomag"
	"github.com/i474232898/geomag-gateway/internal/metrics"
)

// DefaultBaseURL is the public Tilde v4 API.
const DefaultBaseURL = "https://tilde.geonet.org.nz/v4"

// Config holds the upstream endpoint and resilience settings.
type Config struct {
	BaseURL string
	// Timeout bounds a whole call, retries and backoff included.
	Timeout time.Duration
	// AttemptTimeout bounds a single HTTP attempt. Zero means no bound
	// beyond Timeout.
	AttemptTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Timeout:        30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		MaxRetries:     2,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// Client implements geomag.Upstream for the Tilde v4 API. It never caches.
type Client struct {
	http    *http.Client
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

var _ geomag.Upstream = (*Client)(nil)

// NewClient creates a Client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient *http.Client, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger = logger.Named("tilde")

	return &Client{
		http:     httpClient,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Fetch retrieves the series described by key.
func (c *Client) Fetch(ctx context.Context, key geomag.QueryKey) (geomag.Series, error) {
	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}

	u := c.DataURL(key)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.doRequestWithResilience(ctx, "data", c.breakerFor(seriesPath(key)), getRequest(u))
	if err != nil {
		return nil, err
	}

	series, err := decodeSeries(body)
	if err != nil {
		c.logger.Warn("malformed upstream payload", zap.String("url", u), zap.Error(err))
		return nil, err
	}
	c.logger.Debug("fetched series", zap.String("url", u), zap.Int("points", len(series)))
	return series, nil
}

// Summary retrieves the data summary of a domain.
func (c *Client) Summary(ctx context.Context, domain string) (geomag.DataSummary, error) {
	if domain == "" {
		domain = geomag.DefaultDomain
	}

	u := c.buildURL("dataSummary", domain)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	body, err := c.doRequestWithResilience(ctx, "dataSummary", c.breakerFor("dataSummary/"+domain), getRequest(u))
	if err != nil {
		return geomag.DataSummary{}, err
	}

	var summary geomag.DataSummary
	if err := json.Unmarshal(body, &summary); err != nil {
		return geomag.DataSummary{}, geomag.WrapError(geomag.KindInvalidResponse, err, "data summary is not valid JSON")
	}
	return summary, nil
}

// DataURL renders the upstream URL for a normalized key. Each selector
// variant maps to exactly one URL.
func (c *Client) DataURL(key geomag.QueryKey) string {
	parts := []string{"data", key.Domain, key.Station, key.Name, key.SensorCode, key.Method, key.Aspect}

	switch sel := key.Selector.(type) {
	case geomag.Latest:
		parts = append(parts, "latest", geomag.FormatPeriod(sel.Period))
	case geomag.Range:
		parts = append(parts, geomag.FormatDate(sel.Start), geomag.FormatDate(sel.End))
	case geomag.Day:
		d := geomag.FormatDate(sel.Date)
		parts = append(parts, d, d)
	default:
		panic(fmt.Sprintf("tilde: unhandled selector %T", sel))
	}
	return c.buildURL(parts...)
}

// breakerFor returns the breaker guarding one upstream resource, creating it
// on first use. A failing series never short-circuits its siblings.
func (c *Client) breakerFor(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	cb, ok := c.breakers[name]
	if !ok {
		cb = newBreaker(name, c.logger)
		c.breakers[name] = cb
	}
	return cb
}

// seriesPath identifies a series independently of its time selector.
func seriesPath(key geomag.QueryKey) string {
	return strings.Join([]string{key.Domain, key.Station, key.Name, key.SensorCode, key.Method, key.Aspect}, "/")
}

func (c *Client) buildURL(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return c.cfg.BaseURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.Timeout)
}

func getRequest(u string) func(ctx context.Context) (*http.Request, error) {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}
