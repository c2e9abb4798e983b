package search

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/httpclient"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
)

const (
	defaultTaskPoll    = 50 * time.Millisecond
	defaultTaskTimeout = 30 * time.Second
)

// Client talks to the search engine. It is safe for concurrent use.
type Client struct {
	http   *httpclient.Client
	logger *logging.Logger
	strict bool

	taskPoll    time.Duration
	taskTimeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTaskPolling sets how often and for how long the client waits on
// engine tasks.
func WithTaskPolling(interval, timeout time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.taskPoll = interval
		}
		if timeout > 0 {
			c.taskTimeout = timeout
		}
	}
}

// New creates a client for the engine at cfg.URL. The transport carries the
// search circuit breaker when cfg.BreakerEnabled is set.
func New(ctx context.Context, cfg config.SearchConfig, logger *logging.Logger, opts ...Option) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.NewInvalidInput("search.url", "search engine url is required")
	}

	logger = logging.OrNop(logger).WithComponent("search")

	hc, err := httpclient.New(ctx, cfg.HTTPClient())
	if err != nil {
		return nil, err
	}
	hc.WithAuthToken(cfg.APIKey).WithLogging(logger).WithTracing()

	c := &Client{
		http:        hc,
		logger:      logger,
		strict:      cfg.Strict,
		taskPoll:    defaultTaskPoll,
		taskTimeout: defaultTaskTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close releases the client's connections.
func (c *Client) Close() error {
	return c.http.Close()
}

// Provision creates every index that does not exist yet and applies its
// attribute settings. It is idempotent. Failures are logged; they are only
// returned when the client is strict, so a process can boot without search.
func (c *Client) Provision(ctx context.Context, specs []IndexSpec) error {
	var errs []error
	for _, spec := range specs {
		if err := c.EnsureIndex(ctx, spec); err != nil {
			c.logger.Error().Str(logging.Index, spec.UID).Err(err).Msg("index provisioning failed")
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if !c.strict {
		c.logger.Warn().Int("failed", len(errs)).Msg("continuing without full search provisioning")
		return nil
	}
	return stderrors.Join(errs...)
}

// EnsureIndex creates spec's index when missing and applies its settings.
func (c *Client) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	return c.observe(ctx, "provision", spec.UID, func(ctx context.Context) error {
		primaryKey := spec.PrimaryKey
		if primaryKey == "" {
			primaryKey = PrimaryKey
		}

		_, err := c.http.Get(ctx, "/indexes/"+url.PathEscape(spec.UID)).WithOperation("get_index").Do()
		switch {
		case errors.IsNotFound(err):
			ref, err := c.submit(c.http.Post(ctx, "/indexes").
				WithOperation("create_index").
				WithJSON(map[string]string{"uid": spec.UID, "primaryKey": primaryKey}))
			if err != nil {
				return err
			}
			if err := c.wait(ctx, ref); err != nil && !hasCode(err, CodeIndexAlreadyExists) {
				return err
			}
		case err != nil:
			return err
		}

		ref, err := c.submit(c.http.Patch(ctx, "/indexes/"+url.PathEscape(spec.UID)+"/settings").
			WithOperation("update_settings").
			WithJSON(settings{
				SearchableAttributes: orEmpty(spec.Searchable),
				FilterableAttributes: orEmpty(spec.Filterable),
				SortableAttributes:   orEmpty(spec.Sortable),
			}))
		if err != nil {
			return err
		}
		return c.wait(ctx, ref)
	})
}

// Upsert adds or fully replaces documents by primary key.
func (c *Client) Upsert(ctx context.Context, index string, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	return c.observe(ctx, "upsert", index, func(ctx context.Context) error {
		ref, err := c.submit(c.http.Post(ctx, "/indexes/"+url.PathEscape(index)+"/documents").
			WithOperation("upsert").
			WithQuery("primaryKey", PrimaryKey).
			WithJSON(docs))
		if err != nil {
			return err
		}
		return c.wait(ctx, ref)
	})
}

// Delete removes a document. Deleting an absent document, or one from an
// index that does not exist, succeeds.
func (c *Client) Delete(ctx context.Context, index, id string) error {
	return c.observe(ctx, "delete", index, func(ctx context.Context) error {
		ref, err := c.submit(c.http.Delete(ctx, "/indexes/"+url.PathEscape(index)+"/documents/"+url.PathEscape(id)).
			WithOperation("delete"))
		if errors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := c.wait(ctx, ref); err != nil && !hasCode(err, CodeIndexNotFound) {
			return err
		}
		return nil
	})
}

// MultiSearch runs every query in one round trip and returns one result per
// query, in order.
func (c *Client) MultiSearch(ctx context.Context, queries []Query) ([]Result, error) {
	var out struct {
		Results []Result `json:"results"`
	}
	err := c.observe(ctx, "multi_search", "", func(ctx context.Context) error {
		resp, err := c.http.Post(ctx, "/multi-search").
			WithOperation("multi_search").
			WithJSON(map[string][]Query{"queries": queries}).
			Do()
		if err != nil {
			return err
		}
		return resp.BodyAsJSON(&out)
	})
	if err != nil {
		return nil, err
	}
	return out.Results, nil
}

// Search queries a single index.
func (c *Client) Search(ctx context.Context, index, q string, limit int) (Result, error) {
	results, err := c.MultiSearch(ctx, []Query{{IndexUID: index, Q: q, Limit: limit}})
	if err != nil {
		return Result{}, err
	}
	if len(results) == 0 {
		return Result{IndexUID: index, Query: q}, nil
	}
	return results[0], nil
}

// Check implements health.Checker.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.http.Get(ctx, "/health").WithOperation("health").Do()
	return err
}

// submit sends a mutating request and decodes the task reference.
func (c *Client) submit(req *httpclient.Request) (taskRef, error) {
	var ref taskRef
	resp, err := req.Do()
	if err != nil {
		return ref, err
	}
	if err := resp.BodyAsJSON(&ref); err != nil {
		return ref, err
	}
	return ref, nil
}

// wait polls a task until it leaves the queue.
func (c *Client) wait(ctx context.Context, ref taskRef) error {
	ctx, cancel := context.WithTimeout(ctx, c.taskTimeout)
	defer cancel()

	ticker := time.NewTicker(c.taskPoll)
	defer ticker.Stop()

	path := fmt.Sprintf("/tasks/%d", ref.TaskUID)
	for {
		var task Task
		resp, err := c.http.Get(ctx, path).WithOperation("get_task").Do()
		if err != nil {
			return err
		}
		if err := resp.BodyAsJSON(&task); err != nil {
			return err
		}

		switch task.Status {
		case TaskSucceeded:
			return nil
		case TaskFailed, TaskCanceled:
			return taskError(task)
		}

		select {
		case <-ctx.Done():
			return errors.NewTemporary(fmt.Sprintf("task %d still %s", ref.TaskUID, task.Status), ctx.Err())
		case <-ticker.C:
		}
	}
}

// observe runs fn in a span and records its outcome.
func (c *Client) observe(ctx context.Context, op, index string, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "search."+op)
	defer span.End()
	span.SetAttributes(tracing.SearchAttributes(op, index)...)

	start := time.Now()
	err := fn(ctx)
	metrics.SearchDuration().Observe(time.Since(start).Seconds(), op)

	status := "ok"
	if err != nil {
		status = "error"
		tracing.SetSpanError(ctx, err)
	}
	metrics.SearchRequests().Inc(op, status)
	return err
}

func taskError(task Task) error {
	te := task.Error
	if te == nil {
		te = &TaskError{Message: "task " + task.Status, Code: task.Status}
	}
	// Rejected input fails the same way on every attempt.
	if te.Type == "invalid_request" {
		return errors.NewPermanent(fmt.Sprintf("search task %d failed", task.UID), te)
	}
	return errors.NewTemporary(fmt.Sprintf("search task %d failed", task.UID), te)
}

func hasCode(err error, code string) bool {
	var te *TaskError
	return stderrors.As(err, &te) && te.Code == code
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
