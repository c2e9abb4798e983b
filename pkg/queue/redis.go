package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// promoteBatch bounds how many due retries one Reserve moves.
const promoteBatch = 100

// RedisQueue is a Queue stored in Redis lists:
//
//	wait     LIST  ids ready to run, consumed from the right
//	active   LIST  ids reserved by a consumer
//	delayed  ZSET  ids waiting for a retry, scored by ready time
//	failed   LIST  encoded exhausted jobs, newest first, capped
//	job:<id> STRING encoded job
//	lock:<id> STRING lease token with a TTL
//
// All keys share a hash tag so the scripts stay on one cluster slot.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    config.QueueConfig
	policy Policy
	logger *logging.Logger
	now    func() time.Time

	prefix string
}

// NewRedis creates a queue over client, normally the background profile.
func NewRedis(client redis.UniversalClient, cfg config.QueueConfig, logger *logging.Logger) *RedisQueue {
	cfg = withDefaults(cfg)
	return &RedisQueue{
		client: client,
		cfg:    cfg,
		policy: PolicyFrom(cfg),
		logger: logging.OrNop(logger).WithComponent("queue"),
		now:    time.Now,
		prefix: "queue:{" + cfg.Name + "}:",
	}
}

func (q *RedisQueue) key(name string) string   { return q.prefix + name }
func (q *RedisQueue) jobKey(id string) string  { return q.prefix + "job:" + id }
func (q *RedisQueue) lockKey(id string) string { return q.prefix + "lock:" + id }
func (q *RedisQueue) lockPrefix() string       { return q.prefix + "lock:" }
func (q *RedisQueue) ms(t time.Time) string    { return strconv.FormatInt(t.UnixMilli(), 10) }
func (q *RedisQueue) leaseMillis() string {
	return strconv.FormatInt(q.cfg.LockDuration.Milliseconds(), 10)
}
func (q *RedisQueue) temporary(msg string, err error) error { return errors.NewTemporary(msg, err) }

// Enqueue stores the job and appends it to the wait list atomically.
func (q *RedisQueue) Enqueue(ctx context.Context, action Action, entityType, entityID string) (string, error) {
	now := q.now()
	job := Job{
		ID:          uuid.NewString(),
		Action:      action,
		EntityType:  entityType,
		EntityID:    entityID,
		EnqueuedAt:  now,
		ScheduledAt: now,
		Trace:       tracing.InjectMap(ctx),
	}
	if err := job.Validate(); err != nil {
		return "", err
	}

	data, err := encodeJob(job)
	if err != nil {
		return "", errors.NewPermanent("encode job", err)
	}

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, q.jobKey(job.ID), data, 0)
		pipe.LPush(ctx, q.key("wait"), job.ID)
		return nil
	})
	if err != nil {
		return "", q.temporary("enqueue job", err)
	}

	q.logger.Debug().
		Str(logging.JobID, job.ID).
		Str(logging.Action, string(action)).
		Str(logging.EntityType, entityType).
		Str(logging.EntityID, entityID).
		Msg("job enqueued")
	return job.ID, nil
}

// Reserve promotes due retries, then takes the next job. When the wait list
// is empty it blocks until a job arrives, the next retry is due or the poll
// timeout passes.
func (q *RedisQueue) Reserve(ctx context.Context) (Delivery, error) {
	if err := q.promote(ctx); err != nil {
		return nil, err
	}

	token := uuid.NewString()
	id, err := reserveScript.Run(ctx, q.client,
		[]string{q.key("wait"), q.key("active")},
		q.lockPrefix(), token, q.leaseMillis(),
	).Text()
	switch {
	case err == nil:
		return q.load(ctx, id, token)
	case !errors.Is(err, redis.Nil):
		return nil, q.temporary("reserve job", err)
	}

	wait, err := q.idleWait(ctx)
	if err != nil {
		return nil, err
	}

	capped := false
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < wait {
			wait, capped = left, true
		}
	}

	// Blocking commands take whole seconds.
	if wait < time.Second {
		if capped {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
			return nil, nil
		}
	}

	id, err = q.client.BLMove(ctx, q.key("wait"), q.key("active"), "RIGHT", "LEFT", wait.Truncate(time.Second)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if cerr := contextDone(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, q.temporary("reserve job", err)
	}
	if err := q.client.Set(ctx, q.lockKey(id), token, q.cfg.LockDuration).Err(); err != nil {
		// The stalled sweep returns the job to the wait list.
		return nil, q.temporary("lock job", err)
	}
	return q.load(ctx, id, token)
}

// contextDone returns ctx's error, or DeadlineExceeded once the deadline
// has passed but the context has not yet noticed.
func contextDone(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}

// idleWait is how long an empty Reserve may block.
func (q *RedisQueue) idleWait(ctx context.Context) (time.Duration, error) {
	wait := q.cfg.PollTimeout
	next, err := q.client.ZRangeWithScores(ctx, q.key("delayed"), 0, 0).Result()
	if err != nil {
		return 0, q.temporary("read delayed jobs", err)
	}
	if len(next) > 0 {
		due := time.UnixMilli(int64(next[0].Score)).Sub(q.now())
		if due < 0 {
			due = 0
		}
		if due < wait {
			wait = due
		}
	}
	return wait, nil
}

func (q *RedisQueue) promote(ctx context.Context) error {
	err := promoteScript.Run(ctx, q.client,
		[]string{q.key("delayed"), q.key("wait")},
		q.ms(q.now()), promoteBatch,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return q.temporary("promote delayed jobs", err)
	}
	return nil
}

// load reads a reserved job. Jobs whose payload is gone or unreadable go
// straight to the failed set.
func (q *RedisQueue) load(ctx context.Context, id, token string) (Delivery, error) {
	d := &redisDelivery{q: q, token: token}

	data, err := q.client.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, q.temporary("load job", err)
	}

	job, decodeErr := decodeJob(data)
	job.ID = id
	job.Attempt++
	d.job = job

	if errors.Is(err, redis.Nil) {
		decodeErr = errors.NewPermanent("job payload missing", nil)
	}
	if decodeErr != nil {
		q.logger.Error().Str(logging.JobID, id).Err(decodeErr).Msg("unprocessable job moved to failed set")
		if _, err := d.Fail(ctx, decodeErr); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return d, nil
}

// Recover requeues active jobs whose lease lapsed across two sweeps. A job
// that stalls more than the policy allows goes to the failed set instead
// and is returned with FailedAt set.
func (q *RedisQueue) Recover(ctx context.Context) ([]Job, error) {
	res, err := stalledScript.Run(ctx, q.client,
		[]string{q.key("active"), q.key("wait"), q.key("stalled"), q.key("stalls")},
		q.lockPrefix(), q.policy.MaxStalled,
	).Slice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, q.temporary("recover stalled jobs", err)
	}
	var requeued, over []string
	if len(res) == 2 {
		requeued, over = idList(res[0]), idList(res[1])
	}

	jobs := make([]Job, 0, len(requeued)+len(over))
	for _, id := range requeued {
		job := q.stalledJob(ctx, id)
		q.logger.Warn().Str(logging.JobID, id).Str(logging.EntityType, job.EntityType).Msg("stalled job requeued")
		jobs = append(jobs, job)
	}
	for _, id := range over {
		job := q.stalledJob(ctx, id)
		job.LastError = ErrStalledLimit.Error()
		job.FailedAt = q.now()
		data, err := encodeJob(job)
		if err != nil {
			return jobs, errors.NewPermanent("encode job", err)
		}
		ok, err := buryScript.Run(ctx, q.client,
			[]string{q.key("active"), q.jobKey(id), q.key("failed"), q.key("stalls")},
			id, data, q.policy.FailedLimit,
		).Int()
		if err != nil {
			return jobs, q.temporary("fail stalled job", err)
		}
		if ok == 0 {
			continue
		}
		q.logger.Error().Str(logging.JobID, id).Str(logging.EntityType, job.EntityType).Msg("job stalled too often, moved to failed set")
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// stalledJob loads a recovered job's payload, falling back to its id alone.
func (q *RedisQueue) stalledJob(ctx context.Context, id string) Job {
	job := Job{ID: id}
	if data, err := q.client.Get(ctx, q.jobKey(id)).Bytes(); err == nil {
		if decoded, err := decodeJob(data); err == nil {
			job = decoded
			job.ID = id
		}
	}
	return job
}

func idList(v interface{}) []string {
	items, _ := v.([]interface{})
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id, ok := item.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Failed returns up to limit exhausted jobs, newest first.
func (q *RedisQueue) Failed(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = q.policy.FailedLimit
	}
	entries, err := q.client.LRange(ctx, q.key("failed"), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, q.temporary("read failed jobs", err)
	}

	jobs := make([]Job, 0, len(entries))
	for _, e := range entries {
		job, err := decodeFailed([]byte(e))
		if err != nil {
			q.logger.Warn().Err(err).Msg("skipping unreadable failed job")
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// RetryFailed moves a failed job back to the wait list with a fresh attempt
// budget.
func (q *RedisQueue) RetryFailed(ctx context.Context, id string) error {
	entries, err := q.client.LRange(ctx, q.key("failed"), 0, -1).Result()
	if err != nil {
		return q.temporary("read failed jobs", err)
	}

	for _, e := range entries {
		job, err := decodeFailed([]byte(e))
		if err != nil || job.ID != id {
			continue
		}

		job.Attempt = 0
		job.LastError = ""
		job.FailedAt = time.Time{}
		job.ScheduledAt = q.now()
		data, err := encodeJob(job)
		if err != nil {
			return errors.NewPermanent("encode job", err)
		}

		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.key("failed"), 1, e)
			pipe.HDel(ctx, q.key("stalls"), id)
			pipe.Set(ctx, q.jobKey(id), data, 0)
			pipe.LPush(ctx, q.key("wait"), id)
			return nil
		})
		if err != nil {
			return q.temporary("requeue failed job", err)
		}
		q.logger.Info().Str(logging.JobID, id).Msg("failed job requeued")
		return nil
	}
	return errors.NewNotFound("failed job", id)
}

// Counts reports queue depth and publishes it to the queue gauge.
func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	var wait, active, failed *redis.IntCmd
	var delayed *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		wait = pipe.LLen(ctx, q.key("wait"))
		active = pipe.LLen(ctx, q.key("active"))
		delayed = pipe.ZCard(ctx, q.key("delayed"))
		failed = pipe.LLen(ctx, q.key("failed"))
		return nil
	})
	if err != nil {
		return Counts{}, q.temporary("count jobs", err)
	}

	c := Counts{Waiting: wait.Val(), Active: active.Val(), Delayed: delayed.Val(), Failed: failed.Val()}
	publishCounts(c)
	return c, nil
}

// Check implements health.Checker.
func (q *RedisQueue) Check(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return q.temporary("queue ping failed", err)
	}
	return nil
}

// Close is a no-op; the connection belongs to the pool.
func (q *RedisQueue) Close() error { return nil }

type redisDelivery struct {
	q     *RedisQueue
	job   Job
	token string
}

func (d *redisDelivery) Job() Job { return d.job }

func (d *redisDelivery) Touch(ctx context.Context) error {
	ok, err := extendScript.Run(ctx, d.q.client,
		[]string{d.q.lockKey(d.job.ID)},
		d.token, d.q.leaseMillis(),
	).Int()
	if err != nil {
		return d.q.temporary("extend lease", err)
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

func (d *redisDelivery) Complete(ctx context.Context) error {
	ok, err := completeScript.Run(ctx, d.q.client,
		[]string{d.q.lockKey(d.job.ID), d.q.key("active"), d.q.jobKey(d.job.ID), d.q.key("stalls")},
		d.token, d.job.ID,
	).Int()
	if err != nil {
		return d.q.temporary("complete job", err)
	}
	if ok == 0 {
		return ErrLockLost
	}
	return nil
}

func (d *redisDelivery) Fail(ctx context.Context, cause error) (Outcome, error) {
	q := d.q
	out := q.policy.decide(d.job, cause)

	job := d.job
	if cause != nil {
		job.LastError = cause.Error()
	}

	var (
		ok  int
		err error
	)
	if out.Dead {
		job.FailedAt = q.now()
		data, encErr := encodeJob(job)
		if encErr != nil {
			return out, errors.NewPermanent("encode job", encErr)
		}
		ok, err = failScript.Run(ctx, q.client,
			[]string{q.lockKey(job.ID), q.key("active"), q.jobKey(job.ID), q.key("failed"), q.key("stalls")},
			d.token, job.ID, data, q.policy.FailedLimit,
		).Int()
	} else {
		job.ScheduledAt = q.now().Add(out.Delay)
		data, encErr := encodeJob(job)
		if encErr != nil {
			return out, errors.NewPermanent("encode job", encErr)
		}
		ok, err = retryScript.Run(ctx, q.client,
			[]string{q.lockKey(job.ID), q.key("active"), q.jobKey(job.ID), q.key("delayed")},
			d.token, job.ID, data, q.ms(job.ScheduledAt),
		).Int()
	}
	if err != nil {
		return out, q.temporary("record job failure", err)
	}
	if ok == 0 {
		return out, ErrLockLost
	}
	return out, nil
}

// decodeFailed reads a failed-set entry. Unlike decodeJob it accepts
// payloads that failed validation, since those are why they are there.
func decodeFailed(data []byte) (Job, error) {
	job, err := decodeJob(data)
	if err != nil && job.ID == "" {
		return job, err
	}
	return job, nil
}

func publishCounts(c Counts) {
	g := metrics.QueueJobs()
	g.Set(float64(c.Waiting), "waiting")
	g.Set(float64(c.Active), "active")
	g.Set(float64(c.Delayed), "delayed")
	g.Set(float64(c.Failed), "failed")
}
