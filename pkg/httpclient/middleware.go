package httpclient

import (
	"context"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"resty.dev/v3"
)

// WithLogging logs every completed request at debug, client errors at warn
// and server errors at error.
func (c *Client) WithLogging(logger *logging.Logger) *Client {
	logger = logging.OrNop(logger)

	c.resty.AddRequestMiddleware(func(client *resty.Client, req *resty.Request) error {
		req.SetContext(context.WithValue(req.Context(), startKey, time.Now()))
		return nil
	})

	c.resty.AddResponseMiddleware(func(client *resty.Client, resp *resty.Response) error {
		ctx := resp.Request.Context()
		start, ok := ctx.Value(startKey).(time.Time)
		if !ok {
			start = time.Now()
		}

		statusCode := resp.StatusCode()
		logEvent := logger.Debug()
		if statusCode >= 500 {
			logEvent = logger.Error()
		} else if statusCode >= 400 {
			logEvent = logger.Warn()
		}

		logEvent.
			Str("operation", operationFrom(ctx)).
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status_code", statusCode).
			Dur(logging.Duration, time.Since(start)).
			Msg("HTTP request completed")

		return nil
	})

	return c
}

// WithTracing propagates the caller's trace context in request headers and
// records the response status on the caller's span.
func (c *Client) WithTracing() *Client {
	c.resty.AddRequestMiddleware(func(client *resty.Client, req *resty.Request) error {
		tracing.InjectHTTP(req.Context(), req.Header)
		return nil
	})

	c.resty.AddResponseMiddleware(func(client *resty.Client, resp *resty.Response) error {
		span := trace.SpanFromContext(resp.Request.Context())
		span.SetAttributes(
			attribute.String("http.request.method", resp.Request.Method),
			attribute.Int("http.response.status_code", resp.StatusCode()),
		)
		return nil
	})

	return c
}

// WithAuthToken adds Bearer token authentication to all requests.
func (c *Client) WithAuthToken(token string) *Client {
	if token != "" {
		c.resty.SetAuthToken(token)
	}
	return c
}

// WithDefaultHeader adds a default header to all requests.
func (c *Client) WithDefaultHeader(key, value string) *Client {
	c.resty.SetHeader(key, value)
	return c
}
