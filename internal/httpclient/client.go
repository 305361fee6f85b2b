// Package httpclient wraps net/http with retry, backoff, and provider
// rate-limit handling for the LLM provider clients. Adapted from the
// teacher's pkg/httpclient, with the hand-rolled exponential backoff
// replaced by cenkalti/backoff/v4 so the runtime's retry behavior is
// driven by one shared backoff policy instead of bespoke math per client.
package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryStrategy classifies how a failed response should be retried.
type RetryStrategy int

const (
	NoRetry RetryStrategy = iota
	ConservativeRetry
	SmartRetry
)

// RateLimitInfo is rate-limit information extracted from response headers.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	InputTokensRemaining  int
	OutputTokensRemaining int
	TokensRemaining       int
}

// HeaderParser extracts rate-limit info from a provider's response headers.
type HeaderParser func(http.Header) RateLimitInfo

// StrategyFunc maps an HTTP status code to a RetryStrategy.
type StrategyFunc func(int) RetryStrategy

// Client wraps http.Client with retry and backoff.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	headerParser HeaderParser
	strategyFunc StrategyFunc
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.client = c } }
func WithMaxRetries(max int) Option        { return func(cl *Client) { cl.maxRetries = max } }
func WithBaseDelay(d time.Duration) Option { return func(cl *Client) { cl.baseDelay = d } }
func WithMaxDelay(d time.Duration) Option  { return func(cl *Client) { cl.maxDelay = d } }
func WithHeaderParser(p HeaderParser) Option {
	return func(cl *Client) { cl.headerParser = p }
}
func WithRetryStrategy(f StrategyFunc) Option {
	return func(cl *Client) { cl.strategyFunc = f }
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	c := &Client{
		client:       &http.Client{Timeout: 120 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		maxDelay:     60 * time.Second,
		strategyFunc: DefaultStrategy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultStrategy is the default status-code-to-strategy mapping.
func DefaultStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do executes req, retrying on retryable status codes using an exponential
// backoff policy, honoring provider-supplied Retry-After/reset hints when
// SmartRetry applies.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, fmt.Errorf("httpclient: read request body: %w", err)
		}
		req.Body.Close()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	bo.MaxInterval = c.maxDelay
	bo.MaxElapsedTime = 0 // bounded by maxRetries below, not wall-clock

	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if bodyBytes != nil {
			req.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		resp, strategy, retryInfo, err := c.attemptRequest(req)
		lastResp, lastErr = resp, err

		if strategy == NoRetry || err == nil {
			return resp, err
		}
		if attempt >= c.maxRetries {
			break
		}

		delay := c.calculateDelay(bo, strategy, retryInfo)
		if delay <= 0 {
			break
		}
		c.logRetry(strategy, delay, attempt, resp)
		time.Sleep(delay)
	}

	statusCode := 0
	if lastResp != nil {
		statusCode = lastResp.StatusCode
	}
	return lastResp, &RetryableError{
		StatusCode: statusCode,
		Message:    fmt.Sprintf("max retries (%d) exceeded", c.maxRetries),
		Err:        lastErr,
	}
}

func (c *Client) attemptRequest(req *http.Request) (*http.Response, RetryStrategy, RateLimitInfo, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, NoRetry, RateLimitInfo{}, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, NoRetry, RateLimitInfo{}, nil
	}

	var info RateLimitInfo
	if c.headerParser != nil {
		info = c.headerParser(resp.Header)
	}
	strategy := c.strategyFunc(resp.StatusCode)
	return resp, strategy, info, fmt.Errorf("httpclient: HTTP %d", resp.StatusCode)
}

func (c *Client) calculateDelay(bo *backoff.ExponentialBackOff, strategy RetryStrategy, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if d := time.Until(time.Unix(info.ResetTime, 0)); d > 0 {
				return min(d, c.maxDelay)
			}
		}
		return bo.NextBackOff()
	case ConservativeRetry:
		return min(bo.NextBackOff(), 3*time.Second)
	default:
		return 0
	}
}

func (c *Client) logRetry(strategy RetryStrategy, delay time.Duration, attempt int, resp *http.Response) {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	switch strategy {
	case SmartRetry:
		slog.Info("httpclient: rate limited, retrying", "status", statusCode, "delay", delay, "attempt", attempt+1)
	case ConservativeRetry:
		slog.Warn("httpclient: server error, retrying", "status", statusCode, "delay", delay, "attempt", attempt+1)
	}
}

// RetryableError is returned once every retry attempt has been exhausted.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RetryableError) Unwrap() error { return e.Err }
func (e *RetryableError) IsRetryable() bool { return true }
