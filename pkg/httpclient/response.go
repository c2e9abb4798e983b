package httpclient

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"resty.dev/v3"
)

// Response wraps the resty response with error mapping.
type Response struct {
	resty      *resty.Response
	statusCode int
	headers    http.Header
	body       []byte
	err        error
}

// newResponse creates a new Response from a resty response and error.
// It maps HTTP status codes to errors package types.
func newResponse(resp *resty.Response, err error) (*Response, error) {
	if err != nil {
		return nil, mapRequestError(err)
	}

	var body []byte
	if resp.Body != nil {
		var readErr error
		body, readErr = io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, errors.NewTemporary("failed to read response body", readErr)
		}
	}

	response := &Response{
		resty:      resp,
		statusCode: resp.StatusCode(),
		headers:    resp.Header(),
		body:       body,
	}

	if err := mapStatusCodeToError(resp.StatusCode(), string(body)); err != nil {
		response.err = err
		return response, err
	}

	return response, nil
}

// StatusCode returns the HTTP status code.
func (r *Response) StatusCode() int {
	return r.statusCode
}

// Header returns the value of a single header.
func (r *Response) Header(key string) string {
	return r.headers.Get(key)
}

// Body returns the raw response body as bytes.
func (r *Response) Body() []byte {
	return r.body
}

// BodyAsJSON unmarshals the response body into the provided struct.
func (r *Response) BodyAsJSON(dest interface{}) error {
	if r.err != nil {
		return r.err
	}

	if len(r.body) == 0 {
		return errors.NewInvalidInput("body", "empty response body")
	}

	if err := json.Unmarshal(r.body, dest); err != nil {
		return errors.NewPermanent("failed to unmarshal JSON response", err)
	}

	return nil
}

// IsSuccess returns true if the status code is 2xx.
func (r *Response) IsSuccess() bool {
	return r.statusCode >= 200 && r.statusCode < 300
}

// mapRequestError maps request-level errors to errors package types.
func mapRequestError(err error) error {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, "request canceled or timed out")
	}

	// Network failures and an open circuit breaker both clear up on their own.
	return errors.NewTemporary("request failed", err)
}

// mapStatusCodeToError maps HTTP status codes to errors package types.
func mapStatusCodeToError(statusCode int, body string) error {
	if statusCode >= 200 && statusCode < 400 {
		return nil
	}

	errMsg := fmt.Sprintf("HTTP %d: %s", statusCode, http.StatusText(statusCode))
	if len(body) > 0 && len(body) < 200 {
		errMsg = fmt.Sprintf("%s - %s", errMsg, body)
	}

	switch statusCode {
	case http.StatusBadRequest:
		return errors.NewInvalidInput("request", errMsg)
	case http.StatusNotFound:
		return errors.NewNotFound("resource", errMsg)
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return errors.NewTemporary(errMsg, nil)
	}

	if statusCode >= 500 {
		return errors.NewTemporary(errMsg, nil)
	}
	// 401, 403, 409 and the remaining 4xx will not succeed on retry.
	return errors.NewPermanent(errMsg, nil)
}
