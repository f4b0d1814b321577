package tilde

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 32 << 20

var (
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid retry configuration")
)

// statusError is a non-2xx upstream answer.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("upstream returned %d", e.code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// newBreaker trips after consecutive transient failures. Client errors
// (4xx other than 429) say nothing about upstream health and count as
// successes.
func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		IsSuccessful: func(err error) bool {
			if err == nil || errors.Is(err, context.Canceled) {
				return true
			}
			var se *statusError
			return errors.As(err, &se) && !se.retryable()
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
	})
}

func (c *Client) newBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.InitialBackoff
	b.MaxInterval = c.cfg.MaxBackoff
	b.Multiplier = 2
	// The overall deadline lives on ctx.
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.MaxRetries)), ctx)
}

// doRequestWithResilience executes the request with retries, exponential
// backoff and a circuit breaker, and returns the body of the first 2xx
// answer. Every failure is translated into a *geomag.Error.
func (c *Client) doRequestWithResilience(
	ctx context.Context,
	endpoint string,
	breaker *gobreaker.CircuitBreaker,
	buildRequest func(ctx context.Context) (*http.Request, error),
) ([]byte, error) {
	if c.http == nil {
		return nil, errNoHTTPClient
	}
	if c.cfg.MaxRetries < 0 || c.cfg.InitialBackoff <= 0 {
		return nil, errInvalidConfig
	}

	start := time.Now()
	attempts := 0

	operation := func() ([]byte, error) {
		attempts++
		c.metrics.UpstreamAttempts.Inc()

		result, err := breaker.Execute(func() (interface{}, error) {
			return c.attempt(ctx, buildRequest)
		})
		if err == nil {
			return result.([]byte), nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(geomag.WrapError(geomag.KindUpstreamUnavailable, err, "upstream circuit breaker is open"))
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, backoff.Permanent(classifyStatus(se))
		}

		c.logger.Debug("upstream attempt failed",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		return nil, err
	}

	body, err := backoff.RetryWithData(operation, c.newBackoff(ctx))

	c.metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		err = c.classifyFinal(ctx, err, attempts)
		c.metrics.UpstreamRequests.WithLabelValues(endpoint, string(geomag.KindOf(err))).Inc()
		return nil, err
	}
	c.metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	return body, nil
}

// attempt sends one request. Only 2xx answers are returned as a body.
func (c *Client) attempt(ctx context.Context, buildRequest func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	if c.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.AttemptTimeout)
		defer cancel()
	}

	req, err := buildRequest(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: detail(body)}
	}
	return body, nil
}

func classifyStatus(se *statusError) error {
	switch {
	case se.code == http.StatusNotFound:
		return geomag.WrapError(geomag.KindNotFound, se, "resource not found upstream")
	case se.code >= 400 && se.code < 500:
		return geomag.WrapError(geomag.KindInvalidQuery, se, "upstream rejected the request")
	default:
		return geomag.WrapError(geomag.KindInvalidResponse, se, "unexpected upstream status %d", se.code)
	}
}

func (c *Client) classifyFinal(ctx context.Context, err error, attempts int) error {
	var gerr *geomag.Error
	if errors.As(err, &gerr) {
		return gerr
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return geomag.WrapError(geomag.KindUpstreamTimeout, err, "request to Tilde API timed out")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return geomag.WrapError(geomag.KindUpstreamTimeout, err, "request to Tilde API timed out")
	}
	var se *statusError
	if errors.As(err, &se) {
		return geomag.WrapError(geomag.KindUpstreamUnavailable, err, "upstream returned %d after %d attempts", se.code, attempts)
	}
	return geomag.WrapError(geomag.KindUpstreamUnavailable, err, "failed to connect to Tilde API after %d attempts", attempts)
}
