// Package station fetches the external inputs of the risk engine: the remote
// station snapshot (a JSON document overriding the bundled readings) and the
// live 24-hour rainfall total from an Open-Meteo compatible weather API.
//
// All requests go through a circuit breaker and a bounded retry loop. Errors
// are returned to the caller, which decides on a fallback value; nothing here
// ever produces a partially updated snapshot.
package station

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/rewired-gh/slopewatch/internal/models"
)

// maxBodyBytes bounds upstream payloads.
const maxBodyBytes = 1 << 20

// HTTPError is returned for non-2xx upstream responses.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream %s returned status %d", e.URL, e.StatusCode)
}

// retryable reports whether another attempt could succeed.
func (e *HTTPError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// ClientConfig holds connection settings for the station client.
type ClientConfig struct {
	RemoteConfigURL string
	WeatherBaseURL  string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelayBase  time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client provides access to the remote station config and weather API.
type Client struct {
	remoteConfigURL string
	weatherBaseURL  string
	httpClient      *http.Client
	breaker         *gobreaker.CircuitBreaker[[]byte]
	maxRetries      int
	retryDelayBase  time.Duration
}

// NewClient creates a new station client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "station",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled request says nothing about upstream health.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &Client{
		remoteConfigURL: cfg.RemoteConfigURL,
		weatherBaseURL:  cfg.WeatherBaseURL,
		httpClient:      &http.Client{Timeout: cfg.Timeout},
		breaker:         breaker,
		maxRetries:      cfg.MaxRetries,
		retryDelayBase:  cfg.RetryDelayBase,
	}
}

// RemoteConfigEnabled reports whether a remote snapshot URL is configured.
func (c *Client) RemoteConfigEnabled() bool { return c.remoteConfigURL != "" }

// WeatherEnabled reports whether a weather API is configured.
func (c *Client) WeatherEnabled() bool { return c.weatherBaseURL != "" }

// FetchSnapshot retrieves the remote station snapshot. Keys missing from the
// payload inherit from base, so the result is always a complete snapshot.
func (c *Client) FetchSnapshot(ctx context.Context, base models.SensorSnapshot) (models.SensorSnapshot, error) {
	if !c.RemoteConfigEnabled() {
		return base, errors.New("remote config URL not configured")
	}

	body, err := c.get(ctx, c.remoteConfigURL)
	if err != nil {
		return base, fmt.Errorf("failed to fetch remote snapshot: %w", err)
	}

	next := base
	if err := json.Unmarshal(body, &next); err != nil {
		return base, fmt.Errorf("failed to decode remote snapshot: %w", err)
	}
	next.Source = models.SourceRemote
	if next.ObservedAt.IsZero() || next.ObservedAt.Equal(base.ObservedAt) {
		next.ObservedAt = time.Now()
	}
	return next, nil
}

// hourlyResponse is the subset of the Open-Meteo forecast response we read.
type hourlyResponse struct {
	Hourly struct {
		Time          []string   `json:"time"`
		Precipitation []*float64 `json:"precipitation"`
	} `json:"hourly"`
}

const openMeteoTimeLayout = "2006-01-02T15:04"

// FetchRainfall24h returns the precipitation total, in millimetres, over the
// 24 hours ending at now for the given position.
func (c *Client) FetchRainfall24h(ctx context.Context, at models.GeoPoint, now time.Time) (float64, error) {
	if !c.WeatherEnabled() {
		return 0, errors.New("weather API URL not configured")
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(at.Lat, 'f', 5, 64))
	q.Set("longitude", strconv.FormatFloat(at.Lon, 'f', 5, 64))
	q.Set("hourly", "precipitation")
	q.Set("past_days", "1")
	q.Set("forecast_days", "1")
	q.Set("timezone", "UTC")
	endpoint := fmt.Sprintf("%s/v1/forecast?%s", c.weatherBaseURL, q.Encode())

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch rainfall: %w", err)
	}

	var resp hourlyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("failed to decode rainfall: %w", err)
	}
	if len(resp.Hourly.Time) != len(resp.Hourly.Precipitation) {
		return 0, fmt.Errorf("malformed rainfall response: %d times, %d values",
			len(resp.Hourly.Time), len(resp.Hourly.Precipitation))
	}

	return sumLast24h(resp.Hourly.Time, resp.Hourly.Precipitation, now.UTC())
}

// sumLast24h adds hourly values stamped within (now-24h, now]. Null hours are skipped.
func sumLast24h(times []string, values []*float64, now time.Time) (float64, error) {
	from := now.Add(-24 * time.Hour)
	var total float64
	counted := 0
	for i, ts := range times {
		t, err := time.Parse(openMeteoTimeLayout, ts)
		if err != nil {
			return 0, fmt.Errorf("invalid hourly timestamp %q: %w", ts, err)
		}
		if !t.After(from) || t.After(now) || values[i] == nil {
			continue
		}
		total += *values[i]
		counted++
	}
	if counted == 0 {
		return 0, errors.New("no rainfall observations in the last 24 hours")
	}
	return total, nil
}

// get runs one logical request through the circuit breaker.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.breaker.Execute(func() ([]byte, error) {
		return c.doRequest(ctx, rawURL)
	})
}

// doRequest performs an HTTP GET with retry on network errors and 5xx/429.
func (c *Client) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelayBase * time.Duration(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			httpErr := &HTTPError{URL: req.URL.Redacted(), StatusCode: resp.StatusCode}
			if !httpErr.retryable() {
				return nil, httpErr
			}
			lastErr = httpErr
			continue
		}
		if readErr != nil {
			lastErr = readErr
			continue
		}
		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
