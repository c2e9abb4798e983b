// Package queue provides the durable index-sync job queue.
//
// Jobs are delivered at least once. A reserved job is held under a lease;
// the consumer completes it, fails it (which either schedules a retry with
// exponential backoff or moves it to a bounded failed set) or lets the lease
// lapse, in which case the job is recovered as stalled and delivered again.
//
// Two backends implement Queue: RedisQueue over the background connection
// profile (the default) and JetStreamQueue over NATS JetStream.
//
// Example usage:
//
//	q := queue.NewRedis(pool.Background(), cfg.Queue, logger)
//	id, err := q.Enqueue(ctx, queue.ActionUpdate, "MapTemplate", "abc123")
package queue

import (
	"context"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/redispool"
	"github.com/Combine-Capital/cqsync/pkg/retry"
)

// ErrLockLost is returned when a job's lease expired and the job was
// recovered by another consumer before this one finished it.
var ErrLockLost = errors.NewTemporary("job lease lost", nil)

// ErrStalledLimit is the failure recorded for a job whose lease lapsed more
// often than the queue allows.
var ErrStalledLimit = errors.NewPermanent("job stalled more than the allowed limit", nil)

// Queue is a durable sync job queue.
type Queue interface {
	// Enqueue stores a job and returns its id.
	Enqueue(ctx context.Context, action Action, entityType, entityID string) (string, error)

	// Reserve waits up to the poll timeout for a job. It returns nil and no
	// error when none became available.
	Reserve(ctx context.Context) (Delivery, error)

	// Recover requeues jobs whose lease expired and returns them. Jobs
	// moved to the failed set for stalling too often come back with
	// FailedAt set.
	Recover(ctx context.Context) ([]Job, error)

	// Failed returns up to limit jobs from the failed set, newest first.
	Failed(ctx context.Context, limit int) ([]Job, error)

	// RetryFailed moves a failed job back to the queue with a fresh attempt
	// budget. It returns a NotFound error for unknown ids.
	RetryFailed(ctx context.Context, id string) error

	// Counts reports queue depth by state.
	Counts(ctx context.Context) (Counts, error)

	Check(ctx context.Context) error
	Close() error
}

// Delivery is a reserved job.
type Delivery interface {
	Job() Job

	// Touch renews the lease.
	Touch(ctx context.Context) error

	// Complete removes the job.
	Complete(ctx context.Context) error

	// Fail records a failed attempt and reports what happens next.
	Fail(ctx context.Context, cause error) (Outcome, error)
}

// Outcome is the fate of a failed attempt.
type Outcome struct {
	// Dead is set when the job moved to the failed set.
	Dead bool
	// Delay is the wait before the next attempt of a retried job.
	Delay time.Duration
}

// Counts is the number of jobs per state.
type Counts struct {
	Waiting int64
	Active  int64
	Delayed int64
	Failed  int64
}

// Policy is the retry and retention policy of a queue.
type Policy struct {
	Attempts    int
	Backoff     time.Duration
	FailedLimit int
	MaxStalled  int
}

// PolicyFrom extracts the job policy from queue configuration.
func PolicyFrom(cfg config.QueueConfig) Policy {
	p := Policy{
		Attempts:    cfg.Attempts,
		Backoff:     cfg.Backoff,
		FailedLimit: cfg.FailedLimit,
		MaxStalled:  cfg.MaxStalled,
	}
	if p.Attempts < 1 {
		p.Attempts = 3
	}
	if p.Backoff <= 0 {
		p.Backoff = time.Second
	}
	if p.FailedLimit < 1 {
		p.FailedLimit = 500
	}
	if p.MaxStalled < 1 {
		p.MaxStalled = 1
	}
	return p
}

// decide returns the outcome of attempt job.Attempt failing with cause.
// Permanent causes skip the remaining attempts.
func (p Policy) decide(job Job, cause error) Outcome {
	if errors.IsPermanent(cause) || errors.IsInvalidInput(cause) || job.Attempt >= p.Attempts {
		return Outcome{Dead: true}
	}
	return Outcome{Delay: p.delay(job.Attempt)}
}

// delay is Backoff doubled per failed attempt: 1s, 2s, 4s for the default.
func (p Policy) delay(failed int) time.Duration {
	return retry.Delay(retry.Config{
		InitialDelay: p.Backoff,
		MaxDelay:     time.Hour,
		Jitter:       retry.NoJitter,
	}, failed)
}

// withDefaults fills the queue settings a caller may omit.
func withDefaults(cfg config.QueueConfig) config.QueueConfig {
	if cfg.Name == "" {
		cfg.Name = "search-sync"
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "CQSYNC_JOBS"
	}
	return cfg
}

// New opens the queue backend selected by cfg.Backend. The Redis backend
// runs on the pool's background profile.
func New(ctx context.Context, cfg config.QueueConfig, pool *redispool.Pool, logger *logging.Logger) (Queue, error) {
	switch cfg.Backend {
	case "", "redis":
		if pool == nil {
			return nil, errors.NewInvalidInput("queue.backend", "redis backend needs a connection pool")
		}
		return NewRedis(pool.Background(), cfg, logger), nil
	case "jetstream":
		return NewJetStream(ctx, cfg, logger)
	default:
		return nil, errors.NewInvalidInput("queue.backend", "unknown backend "+cfg.Backend)
	}
}
