// Package meteo is a client for a Meteomatics-style weather API: station
// search and time-series queries, both returned as semicolon separated CSV.
package meteo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/lox/surfcast/internal/httputil"
	"github.com/lox/surfcast/internal/metrics"
)

const DefaultBaseURL = "https://api.meteomatics.com"

var (
	ErrCircuitOpen = errors.New("provider circuit open")
	ErrStatus      = errors.New("unexpected status")
)

type Config struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	// MaxElapsed bounds the retries of a single request.
	MaxElapsed time.Duration
}

type Client struct {
	baseURL    string
	username   string
	password   string
	client     *http.Client
	maxElapsed time.Duration
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httputil.NewClient()
	}
	if cfg.MaxElapsed == 0 {
		cfg.MaxElapsed = 2 * time.Minute
	}
	logger = logger.With("component", "meteo")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "meteo",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		client:     cfg.HTTPClient,
		maxElapsed: cfg.MaxElapsed,
		breaker:    cb,
		logger:     logger,
	}
}

type response struct {
	status int
	body   []byte
}

// get fetches url with retries on throttling and server errors. Other
// non-200 answers fail immediately.
func (c *Client) get(ctx context.Context, endpoint, url string) ([]byte, error) {
	var body []byte
	operation := func() error {
		start := time.Now()
		result, err := c.breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			if c.username != "" {
				req.SetBasicAuth(c.username, c.password)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w %d", ErrStatus, resp.StatusCode)
			}
			return &response{status: resp.StatusCode, body: b}, nil
		})
		metrics.ProviderLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.ProviderCallsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrCircuitOpen, err))
		}
		if err != nil {
			metrics.ProviderCallsTotal.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}

		resp := result.(*response)
		metrics.ProviderCallsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.status)).Inc()
		if resp.status != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("%s: %w %d: %s", endpoint, ErrStatus, resp.status, truncate(string(resp.body), 200)))
		}
		body = resp.body
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
