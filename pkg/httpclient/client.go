// Package httpclient provides the outbound HTTP client used to talk to the
// search engine, with retry, circuit breaker, rate limiting and middleware
// for logging, metrics and trace propagation. It wraps the resty library and
// maps HTTP failures onto the errors package taxonomy.
//
// Example usage:
//
//	client, err := httpclient.New(ctx, cfg.Search.HTTPClient())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WithAuthToken(cfg.Search.APIKey).WithLogging(logger).WithTracing()
//
//	resp, err := client.Post(ctx, "/multi-search").
//	    WithOperation("multi_search").
//	    WithJSON(body).
//	    Do()
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"golang.org/x/time/rate"
	"resty.dev/v3"
)

// Client provides HTTP client functionality with retry, circuit breaker,
// rate limiting, and middleware support.
type Client struct {
	resty   *resty.Client
	config  config.HTTPClientConfig
	limiter *rate.Limiter
}

// New creates a new HTTP client with the provided configuration.
func New(ctx context.Context, cfg config.HTTPClientConfig) (*Client, error) {
	cfg = applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid http client config")
	}

	restyClient := resty.New()

	if cfg.BaseURL != "" {
		restyClient.SetBaseURL(cfg.BaseURL)
	}
	restyClient.SetTimeout(cfg.Timeout)

	if cfg.RetryCount > 0 {
		restyClient.
			SetRetryCount(cfg.RetryCount).
			SetRetryWaitTime(cfg.RetryWaitTime).
			SetRetryMaxWaitTime(cfg.RetryMaxWaitTime)

		restyClient.AddRetryConditions(func(res *resty.Response, err error) bool {
			if err != nil {
				return errors.IsTemporary(err)
			}
			statusCode := res.StatusCode()
			return statusCode == http.StatusTooManyRequests ||
				(statusCode >= 500 && statusCode != http.StatusNotImplemented)
		})
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
	}
	restyClient.SetTransport(transport)

	if cfg.CircuitBreakerEnabled {
		cb := resty.NewCircuitBreaker().
			SetTimeout(cfg.CircuitBreakerTimeout).
			SetFailureThreshold(uint32(cfg.CircuitBreakerFailureThreshold)).
			SetSuccessThreshold(uint32(cfg.CircuitBreakerSuccessThreshold))
		restyClient.SetCircuitBreaker(cb)
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	return &Client{
		resty:   restyClient,
		config:  cfg,
		limiter: limiter,
	}, nil
}

// Get creates a new GET request for the specified URL.
// The URL can be relative (appended to BaseURL) or absolute.
func (c *Client) Get(ctx context.Context, url string) *Request {
	return c.NewRequest(ctx).SetMethod(http.MethodGet).SetURL(url)
}

// Post creates a new POST request for the specified URL.
func (c *Client) Post(ctx context.Context, url string) *Request {
	return c.NewRequest(ctx).SetMethod(http.MethodPost).SetURL(url)
}

// Put creates a new PUT request for the specified URL.
func (c *Client) Put(ctx context.Context, url string) *Request {
	return c.NewRequest(ctx).SetMethod(http.MethodPut).SetURL(url)
}

// Patch creates a new PATCH request for the specified URL.
func (c *Client) Patch(ctx context.Context, url string) *Request {
	return c.NewRequest(ctx).SetMethod(http.MethodPatch).SetURL(url)
}

// Delete creates a new DELETE request for the specified URL.
func (c *Client) Delete(ctx context.Context, url string) *Request {
	return c.NewRequest(ctx).SetMethod(http.MethodDelete).SetURL(url)
}

// NewRequest creates a new request with the client's configuration.
func (c *Client) NewRequest(ctx context.Context) *Request {
	return &Request{
		client: c,
		resty:  c.resty.R(),
		ctx:    ctx,
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.resty.Close()
	return nil
}

// checkRateLimit blocks until a token is available or the context is canceled.
func (c *Client) checkRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait failed")
	}

	return nil
}

// applyDefaults applies default values to unset configuration fields.
func applyDefaults(cfg config.HTTPClientConfig) config.HTTPClientConfig {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryCount == 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryWaitTime == 0 {
		cfg.RetryWaitTime = 100 * time.Millisecond
	}
	if cfg.RetryMaxWaitTime == 0 {
		cfg.RetryMaxWaitTime = 2 * time.Second
	}
	if cfg.RateLimitBurst == 0 && cfg.RateLimitPerSecond > 0 {
		cfg.RateLimitBurst = 1
	}
	if cfg.CircuitBreakerTimeout == 0 {
		cfg.CircuitBreakerTimeout = 60 * time.Second
	}
	if cfg.CircuitBreakerFailureThreshold == 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	if cfg.CircuitBreakerSuccessThreshold == 0 {
		cfg.CircuitBreakerSuccessThreshold = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost == 0 {
		cfg.MaxIdleConnsPerHost = 10
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}
	return cfg
}

// validateConfig validates the HTTP client configuration.
func validateConfig(cfg config.HTTPClientConfig) error {
	if cfg.Timeout < 0 {
		return fmt.Errorf("timeout must be positive, got: %v", cfg.Timeout)
	}
	if cfg.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate_limit_per_second must be non-negative, got: %f", cfg.RateLimitPerSecond)
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate_limit_burst must be non-negative, got: %d", cfg.RateLimitBurst)
	}
	if cfg.MaxIdleConns < 0 {
		return fmt.Errorf("max_idle_conns must be non-negative, got: %d", cfg.MaxIdleConns)
	}
	return nil
}
