package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"resty.dev/v3"
)

type ctxKey int

const (
	operationKey ctxKey = iota
	startKey
	spanKey
)

// Request represents an HTTP request with a fluent builder API.
type Request struct {
	client  *Client
	resty   *resty.Request
	ctx     context.Context
	method  string
	url     string
	timeout time.Duration
}

// SetMethod sets the HTTP method for the request.
func (r *Request) SetMethod(method string) *Request {
	r.method = method
	return r
}

// SetURL sets the URL for the request.
// Can be relative (appended to BaseURL) or absolute.
func (r *Request) SetURL(url string) *Request {
	r.url = url
	return r
}

// WithOperation names the logical operation for metrics and tracing.
func (r *Request) WithOperation(op string) *Request {
	r.ctx = context.WithValue(r.ctx, operationKey, op)
	return r
}

// WithHeader sets a single header on the request.
func (r *Request) WithHeader(key, value string) *Request {
	r.resty.SetHeader(key, value)
	return r
}

// WithQuery adds a single query parameter to the request.
func (r *Request) WithQuery(key, value string) *Request {
	r.resty.SetQueryParam(key, value)
	return r
}

// WithQueryParams adds multiple query parameters to the request.
func (r *Request) WithQueryParams(params map[string]string) *Request {
	r.resty.SetQueryParams(params)
	return r
}

// WithJSON sets the request body as JSON.
func (r *Request) WithJSON(body interface{}) *Request {
	r.resty.SetBody(body)
	r.resty.SetHeader("Content-Type", "application/json")
	return r
}

// WithTimeout bounds this request, overriding the client's default timeout.
func (r *Request) WithTimeout(timeout time.Duration) *Request {
	r.timeout = timeout
	return r
}

// Do executes the request and returns the response.
// It enforces rate limiting and maps failures to errors package types.
func (r *Request) Do() (*Response, error) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := r.client.checkRateLimit(ctx); err != nil {
		return nil, err
	}

	r.resty.SetContext(ctx)

	var resp *resty.Response
	var err error

	switch r.method {
	case http.MethodGet:
		resp, err = r.resty.Get(r.url)
	case http.MethodPost:
		resp, err = r.resty.Post(r.url)
	case http.MethodPut:
		resp, err = r.resty.Put(r.url)
	case http.MethodPatch:
		resp, err = r.resty.Patch(r.url)
	case http.MethodDelete:
		resp, err = r.resty.Delete(r.url)
	default:
		return nil, errors.NewPermanent(fmt.Sprintf("unsupported HTTP method: %s", r.method), nil)
	}

	return newResponse(resp, err)
}

func operationFrom(ctx context.Context) string {
	if op, ok := ctx.Value(operationKey).(string); ok {
		return op
	}
	return "unknown"
}
