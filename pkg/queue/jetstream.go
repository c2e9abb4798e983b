package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStreamQueue is a Queue on a NATS JetStream work-queue stream.
// Leases are ack waits, retries are delayed naks and exhausted jobs are
// republished to a capped dead-letter stream.
type JetStreamQueue struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	jobs     jetstream.Stream
	failed   jetstream.Stream
	consumer jetstream.Consumer

	cfg    config.QueueConfig
	policy Policy
	logger *logging.Logger
	now    func() time.Time

	closed   bool
	closedMu sync.RWMutex
}

// NewJetStream connects to NATS and creates or updates the job and
// dead-letter streams and the durable consumer.
func NewJetStream(ctx context.Context, cfg config.QueueConfig, logger *logging.Logger) (*JetStreamQueue, error) {
	cfg = withDefaults(cfg)
	if len(cfg.Servers) == 0 {
		return nil, errors.NewInvalidInput("servers", "at least one NATS server is required")
	}

	nc, err := nats.Connect(
		strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.NewTemporary(fmt.Sprintf("failed to connect to NATS: %v", err), err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, errors.NewTemporary(fmt.Sprintf("failed to create JetStream context: %v", err), err)
	}

	q := &JetStreamQueue{
		nc:     nc,
		js:     js,
		cfg:    cfg,
		policy: PolicyFrom(cfg),
		logger: logging.OrNop(logger).WithComponent("queue"),
		now:    time.Now,
	}
	if err := q.ensureStreams(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return q, nil
}

func (q *JetStreamQueue) jobSubject(entityType string) string {
	return q.cfg.Name + ".jobs." + entityType
}

func (q *JetStreamQueue) failedSubject() string { return q.cfg.Name + ".failed" }

func (q *JetStreamQueue) consumerName() string { return q.cfg.Name + "-worker" }

func (q *JetStreamQueue) ensureStreams(ctx context.Context) error {
	var err error
	q.jobs, err = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        q.cfg.StreamName,
		Description: "Index sync jobs",
		Subjects:    []string{q.cfg.Name + ".jobs.>"},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return errors.Wrap(err, "failed to ensure job stream")
	}

	q.failed, err = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        q.cfg.StreamName + "_FAILED",
		Description: "Index sync jobs that exhausted their attempts",
		Subjects:    []string{q.failedSubject()},
		Retention:   jetstream.LimitsPolicy,
		MaxMsgs:     int64(q.policy.FailedLimit),
		Discard:     jetstream.DiscardOld,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		return errors.Wrap(err, "failed to ensure dead-letter stream")
	}

	// Retries are scheduled by the worker with delayed naks, so the consumer
	// redelivers without a limit and Reserve enforces the attempt budget.
	q.consumer, err = q.js.CreateOrUpdateConsumer(ctx, q.cfg.StreamName, jetstream.ConsumerConfig{
		Name:          q.consumerName(),
		Durable:       q.consumerName(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       q.cfg.LockDuration,
		MaxDeliver:    -1,
		MaxAckPending: 1000,
	})
	if err != nil {
		return errors.Wrap(err, "failed to ensure consumer")
	}
	return nil
}

func (q *JetStreamQueue) checkOpen() error {
	if q.closed {
		return errors.NewPermanent("queue is closed", nil)
	}
	return nil
}

// Enqueue publishes the job. The job id doubles as the message id, so a
// retried publish within the duplicate window is stored once.
func (q *JetStreamQueue) Enqueue(ctx context.Context, action Action, entityType, entityID string) (string, error) {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return "", err
	}

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

	if err := q.publish(ctx, q.jobSubject(entityType), job, jetstream.WithMsgID(job.ID)); err != nil {
		return "", err
	}

	q.logger.Debug().
		Str(logging.JobID, job.ID).
		Str(logging.Action, string(action)).
		Str(logging.EntityType, entityType).
		Str(logging.EntityID, entityID).
		Msg("job enqueued")
	return job.ID, nil
}

func (q *JetStreamQueue) publish(ctx context.Context, subject string, job Job, opts ...jetstream.PublishOpt) error {
	data, err := encodeJob(job)
	if err != nil {
		return errors.NewPermanent("encode job", err)
	}
	if _, err := q.js.Publish(ctx, subject, data, opts...); err != nil {
		if ctx.Err() != nil {
			return errors.Wrap(ctx.Err(), "publish cancelled")
		}
		return errors.NewTemporary(fmt.Sprintf("failed to publish job: %v", err), err)
	}
	return nil
}

// Reserve fetches one message, waiting up to the poll timeout.
func (q *JetStreamQueue) Reserve(ctx context.Context) (Delivery, error) {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()
	if err := q.checkOpen(); err != nil {
		return nil, err
	}

	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(q.cfg.PollTimeout))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewTemporary("fetch job", err)
	}

	var msg jetstream.Msg
	for m := range batch.Messages() {
		msg = m
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, errors.NewTemporary("fetch job", err)
	}
	if msg == nil {
		return nil, ctx.Err()
	}

	meta, err := msg.Metadata()
	if err != nil {
		return nil, errors.NewTemporary("read message metadata", err)
	}

	job, decodeErr := decodeJob(msg.Data())
	job.Attempt = int(meta.NumDelivered)
	d := &jsDelivery{q: q, msg: msg, job: job}

	switch {
	case decodeErr != nil:
		q.logger.Error().Uint64("sequence", meta.Sequence.Stream).Err(decodeErr).Msg("unprocessable job moved to failed set")
		_, err := d.Fail(ctx, decodeErr)
		return nil, err
	case job.Attempt > q.policy.Attempts:
		// The last attempt lost its lease.
		q.logger.Warn().Str(logging.JobID, job.ID).Int(logging.Attempt, job.Attempt).Msg("stalled job exhausted its attempts")
		d.job.Attempt = q.policy.Attempts
		_, err := d.Fail(ctx, errors.NewPermanent("job stalled on its last attempt", nil))
		return nil, err
	}
	return d, nil
}

// Recover is a no-op: the server redelivers messages whose ack wait lapsed.
func (q *JetStreamQueue) Recover(ctx context.Context) ([]Job, error) {
	return nil, nil
}

// Failed reads the dead-letter stream from its newest message.
func (q *JetStreamQueue) Failed(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = q.policy.FailedLimit
	}
	jobs, _, err := q.scanFailed(ctx, limit, "")
	return jobs, err
}

// scanFailed walks the dead-letter stream newest first. With id set it stops
// at that job and returns its sequence.
func (q *JetStreamQueue) scanFailed(ctx context.Context, limit int, id string) ([]Job, uint64, error) {
	info, err := q.failed.Info(ctx)
	if err != nil {
		return nil, 0, errors.NewTemporary("read dead-letter stream", err)
	}

	var jobs []Job
	for seq := info.State.LastSeq; seq >= info.State.FirstSeq && seq > 0 && len(jobs) < limit; seq-- {
		raw, err := q.failed.GetMsg(ctx, seq)
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, errors.NewTemporary("read failed job", err)
		}
		job, err := decodeFailed(raw.Data)
		if err != nil {
			q.logger.Warn().Uint64("sequence", seq).Err(err).Msg("skipping unreadable failed job")
			continue
		}
		if id != "" {
			if job.ID == id {
				return []Job{job}, seq, nil
			}
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, 0, nil
}

// RetryFailed republishes a dead-lettered job with a fresh attempt budget.
func (q *JetStreamQueue) RetryFailed(ctx context.Context, id string) error {
	found, seq, err := q.scanFailed(ctx, 1, id)
	if err != nil {
		return err
	}
	if len(found) == 0 {
		return errors.NewNotFound("failed job", id)
	}

	job := found[0]
	job.Attempt = 0
	job.LastError = ""
	job.FailedAt = time.Time{}
	job.ScheduledAt = q.now()
	if err := q.publish(ctx, q.jobSubject(job.EntityType), job); err != nil {
		return err
	}
	if err := q.failed.DeleteMsg(ctx, seq); err != nil {
		return errors.NewTemporary("remove failed job", err)
	}
	q.logger.Info().Str(logging.JobID, id).Msg("failed job requeued")
	return nil
}

// Counts reports consumer backlog and dead-letter size. Delayed retries are
// counted as active since the server tracks them as pending acks.
func (q *JetStreamQueue) Counts(ctx context.Context) (Counts, error) {
	ci, err := q.consumer.Info(ctx)
	if err != nil {
		return Counts{}, errors.NewTemporary("read consumer info", err)
	}
	fi, err := q.failed.Info(ctx)
	if err != nil {
		return Counts{}, errors.NewTemporary("read dead-letter stream", err)
	}

	c := Counts{
		Waiting: int64(ci.NumPending),
		Active:  int64(ci.NumAckPending),
		Failed:  int64(fi.State.Msgs),
	}
	publishCounts(c)
	return c, nil
}

// Check implements health.Checker.
func (q *JetStreamQueue) Check(ctx context.Context) error {
	q.closedMu.RLock()
	defer q.closedMu.RUnlock()

	if q.closed {
		return errors.NewTemporary("queue is closed", nil)
	}
	if status := q.nc.Status(); status != nats.CONNECTED {
		return errors.NewTemporary(fmt.Sprintf("NATS connection not connected: status=%v", status), nil)
	}
	if _, err := q.nc.RTT(); err != nil {
		return errors.NewTemporary("NATS RTT check failed", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (q *JetStreamQueue) Close() error {
	q.closedMu.Lock()
	defer q.closedMu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	_ = q.nc.Drain()
	q.nc.Close()
	return nil
}

type jsDelivery struct {
	q   *JetStreamQueue
	msg jetstream.Msg
	job Job
}

func (d *jsDelivery) Job() Job { return d.job }

func (d *jsDelivery) Touch(ctx context.Context) error {
	if err := d.msg.InProgress(); err != nil {
		return errors.NewTemporary("extend lease", err)
	}
	return nil
}

func (d *jsDelivery) Complete(ctx context.Context) error {
	if err := d.msg.DoubleAck(ctx); err != nil {
		return errors.NewTemporary("ack job", err)
	}
	return nil
}

func (d *jsDelivery) Fail(ctx context.Context, cause error) (Outcome, error) {
	q := d.q
	out := q.policy.decide(d.job, cause)

	if !out.Dead {
		if err := d.msg.NakWithDelay(out.Delay); err != nil {
			return out, errors.NewTemporary("schedule retry", err)
		}
		return out, nil
	}

	job := d.job
	if cause != nil {
		job.LastError = cause.Error()
	}
	job.FailedAt = q.now()
	if err := q.publish(ctx, q.failedSubject(), job); err != nil {
		return out, err
	}
	if err := d.msg.Term(); err != nil {
		return out, errors.NewTemporary("terminate job", err)
	}
	return out, nil
}
