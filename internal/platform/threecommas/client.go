// Package threecommas is a REST client for the 3Commas public API: currency
// rates for pricing and v2 smart trades for executing swaps.
package threecommas

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanyoungcy/basketbot/internal/crypto"
	"github.com/alanyoungcy/basketbot/internal/domain"
)

const (
	defaultBaseURL     = "https://api.3commas.io"
	defaultTimeout     = 10 * time.Second
	defaultMinInterval = 200 * time.Millisecond
	defaultRetries     = 3
	defaultBackoff     = 500 * time.Millisecond
)

// Config configures a Client. Zero values take the defaults.
type Config struct {
	BaseURL string
	Key     string
	Secret  string
	// Quote is the currency prices are read against, USDT by default.
	Quote string
	// MarketCode selects the exchange the currency rate is read from.
	MarketCode  string
	Timeout     time.Duration
	MinInterval time.Duration
	Retries     int
	Backoff     time.Duration
}

// Client talks to the 3Commas API. Requests are signed, throttled to one
// per MinInterval and retried on transient failures.
type Client struct {
	baseURL    string
	auth       crypto.HMACAuth
	quote      string
	marketCode string
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
}

// NewClient creates a 3Commas client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Quote == "" {
		cfg.Quote = "USDT"
	}
	if cfg.MarketCode == "" {
		cfg.MarketCode = "binance"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	} else if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		auth:       crypto.HMACAuth{Key: cfg.Key, Secret: cfg.Secret},
		quote:      strings.ToUpper(cfg.Quote),
		marketCode: cfg.MarketCode,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
	}
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"error_description"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("HTTP %d: %s (%s)", e.Status, e.Message, e.Code)
}

func (e *apiError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return domain.ErrUnauthorized
	case e.Status == http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case e.Status == http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

func retryable(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

// do sends a signed request, retrying transient failures with exponential
// backoff.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if !c.auth.Configured() {
		return nil, fmt.Errorf("api key not configured: %w", domain.ErrUnauthorized)
	}

	var body []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		body = b
	}
	signed := path
	if len(query) > 0 {
		signed += "?" + query.Encode()
	}

	wait := c.backoff
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			wait *= 2
		}

		respBody, err := c.once(ctx, method, signed, body)
		if err == nil {
			return respBody, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, signed string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+signed, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.auth.Headers(signed, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(respBody, apiErr)
		return nil, apiErr
	}
	return respBody, nil
}
