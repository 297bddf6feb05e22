package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toary310/crosschain-dex-sub001/internal/config"
	"github.com/toary310/crosschain-dex-sub001/internal/metrics"
	"github.com/toary310/crosschain-dex-sub001/internal/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPError carries everything needed to classify a non-2xx response.
type HTTPError struct {
	Status      int
	URL         string
	Body        string
	RateLimited bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.URL, e.Body)
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	return &HTTPError{
		Status:      resp.StatusCode,
		URL:         resp.Request.URL.String(),
		Body:        truncate(msg, 240),
		RateLimited: resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "throttled"),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// Client is the shared outbound HTTP layer for adapters: one rate limiter,
// one retry policy, typed error classification. Each adapter owns one.
type Client struct {
	proto   types.ProtocolID
	http    *http.Client
	limiter *rate.Limiter
	retries int
	base    time.Duration
	timeout time.Duration
	apiKey  string
	header  string // header name the API key is sent under, empty = none
	log     *zap.Logger
}

func NewClient(cfg config.AdapterCfg, keyHeader string, log *zap.Logger) *Client {
	window := cfg.Window()
	if window <= 0 {
		window = time.Second
	}
	rl := cfg.RateLimit
	if rl <= 0 {
		rl = 1
	}
	// rate.Every spreads the per-window allowance across the window; burst
	// equals the window allowance so short spikes inside one window pass.
	lim := rate.NewLimiter(rate.Every(window/time.Duration(rl)), rl)
	return &Client{
		proto:   cfg.Protocol,
		http:    &http.Client{Timeout: cfg.Timeout()},
		limiter: lim,
		retries: cfg.RetryAttempts,
		base:    cfg.RetryBase(),
		timeout: cfg.Timeout(),
		apiKey:  cfg.APIKey,
		header:  keyHeader,
		log:     log,
	}
}

// GetJSON performs a rate-limited, retried GET and decodes the 2xx body
// into v. PostJSON is the same with a JSON request body.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	return c.doJSON(ctx, http.MethodGet, url, nil, v)
}

func (c *Client) PostJSON(ctx context.Context, url string, body, v any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return types.ProtocolError(types.ErrAPI, c.proto, "encode request", err)
	}
	return c.doJSON(ctx, http.MethodPost, url, b, v)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, v any) error {
	if !c.limiter.Allow() {
		metrics.AdapterRateLimited.WithLabelValues(string(c.proto)).Inc()
		return types.ProtocolError(types.ErrRateLimited, c.proto, "local rate limit empty", nil)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			backoff := c.base * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return c.classifyCtx(ctx.Err())
			case <-time.After(backoff):
			}
		}

		err := c.doOnce(ctx, method, url, body, v)
		if err == nil {
			return nil
		}
		lastErr = err

		// Only transport failures and 429/5xx are worth retrying.
		var he *HTTPError
		if errors.As(err, &he) && !he.RateLimited && he.Status < 500 {
			break
		}
		if ctx.Err() != nil {
			return c.classifyCtx(ctx.Err())
		}
		c.log.Debug("adapter retry",
			zap.String("protocol", string(c.proto)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return c.classify(lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, url string, body []byte, v any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" && c.header != "" {
		req.Header.Set(c.header, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.AdapterLatency.WithLabelValues(string(c.proto)).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.AdapterErrors.WithLabelValues(string(c.proto)).Inc()
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		metrics.AdapterErrors.WithLabelValues(string(c.proto)).Inc()
		return newHTTPError(resp, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		metrics.AdapterErrors.WithLabelValues(string(c.proto)).Inc()
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (c *Client) classifyCtx(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ProtocolError(types.ErrTimeout, c.proto, "request deadline exceeded", err)
	}
	return types.ProtocolError(types.ErrNetwork, c.proto, "request canceled", err)
}

func (c *Client) classify(err error) error {
	if err == nil {
		return nil
	}
	var qe *types.QuoteError
	if errors.As(err, &qe) {
		return err
	}
	var he *HTTPError
	if errors.As(err, &he) {
		if he.RateLimited {
			return types.ProtocolError(types.ErrRateLimited, c.proto, "remote rate limit", he)
		}
		return types.ProtocolError(types.ErrAPI, c.proto, fmt.Sprintf("status %d", he.Status), he)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.ProtocolError(types.ErrTimeout, c.proto, "request timed out", err)
	}
	return types.ProtocolError(types.ErrNetwork, c.proto, "transport failure", err)
}
