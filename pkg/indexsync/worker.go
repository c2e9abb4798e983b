package indexsync

import (
	"context"
	"sync"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/metrics"
	"github.com/Combine-Capital/cqsync/pkg/queue"
	"github.com/Combine-Capital/cqsync/pkg/retry"
	"github.com/Combine-Capital/cqsync/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// finishTimeout bounds the queue call that records a job's result, which
// runs even while the worker is shutting down.
const finishTimeout = 5 * time.Second

// Worker drains a queue with a fixed pool of consumers.
type Worker struct {
	queue  queue.Queue
	syncer *Syncer
	cfg    config.QueueConfig
	logger *logging.Logger

	// reserveRetry keeps consumers polling through backing store outages.
	reserveRetry retry.Config

	mu       sync.RWMutex
	handlers []queue.Handler
}

// NewWorker creates a worker. Zero queue settings take their defaults.
func NewWorker(q queue.Queue, syncer *Syncer, cfg config.QueueConfig, logger *logging.Logger) *Worker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 5
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Second
	}
	if cfg.StalledInterval <= 0 {
		cfg.StalledInterval = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "search-sync"
	}

	w := &Worker{
		queue:  q,
		syncer: syncer,
		cfg:    cfg,
		logger: logging.OrNop(logger).WithComponent("worker"),
	}
	w.reserveRetry = retry.Config{
		Unlimited:    true,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		PolicyFunc:   func(err error) bool { return !errors.IsPermanent(err) },
		OnRetry: func(err error, delay time.Duration) {
			w.logger.Warn().Err(err).Dur("retry_in", delay).Msg("queue unavailable")
		},
	}
	return w
}

// OnEvent registers h for job lifecycle events. Handlers run synchronously
// on the consumer that produced the event.
func (w *Worker) OnEvent(h queue.Handler) {
	w.mu.Lock()
	w.handlers = append(w.handlers, h)
	w.mu.Unlock()
}

func (w *Worker) emit(e queue.Event) {
	w.mu.RLock()
	handlers := w.handlers
	w.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

// Run consumes jobs until ctx is done. Jobs in flight when ctx ends are not
// failed; their leases lapse and they are delivered again.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Int("concurrency", w.cfg.Concurrency).
		Str("queue", w.cfg.Name).
		Msg("worker started")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		w.sweep(ctx)
		return nil
	})
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error { return w.consume(ctx) })
	}

	err := g.Wait()
	w.logger.Info().Msg("worker stopped")
	return err
}

func (w *Worker) consume(ctx context.Context) error {
	for {
		d, err := retry.DoWithData(ctx, w.reserveRetry, func() (queue.Delivery, error) {
			return w.queue.Reserve(ctx)
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reserve job")
		}
		if d != nil {
			w.handle(ctx, d)
		}
	}
}

// handle runs one job and records its result.
func (w *Worker) handle(ctx context.Context, d queue.Delivery) {
	job := d.Job()
	log := w.logger.WithFields(map[string]interface{}{
		logging.JobID:      job.ID,
		logging.Action:     string(job.Action),
		logging.EntityType: job.EntityType,
		logging.EntityID:   job.EntityID,
		logging.Attempt:    job.Attempt,
	})

	jctx := tracing.ExtractMap(ctx, job.Trace)
	jctx, span := tracing.StartSpan(jctx, "indexsync.job", trace.WithAttributes(
		tracing.JobAttributes(w.cfg.Name, job.ID, string(job.Action), job.EntityType, job.EntityID, job.Attempt)...,
	))
	defer span.End()

	stop := w.keepAlive(jctx, d, log)
	start := time.Now()
	err := w.syncer.SyncDocument(jctx, job.Action, job.EntityType, job.EntityID)
	stop()
	metrics.JobDuration().Observe(time.Since(start).Seconds(), job.EntityType)

	if err != nil && ctx.Err() != nil {
		log.Debug().Msg("shutdown interrupted job, leaving it for redelivery")
		return
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(jctx), finishTimeout)
	defer cancel()

	if err == nil {
		if err := d.Complete(fctx); err != nil {
			log.Warn().Err(err).Msg("job synced but not acknowledged, it will be redelivered")
			return
		}
		metrics.Jobs().Inc(job.EntityType, metrics.OutcomeCompleted)
		tracing.RecordJobOutcome(jctx, metrics.OutcomeCompleted, 0)
		log.Debug().Dur(logging.Duration, time.Since(start)).Msg("job completed")
		w.emit(queue.Event{Type: queue.EventCompleted, Job: job})
		return
	}

	tracing.SetSpanError(jctx, err)
	out, ferr := d.Fail(fctx, err)
	if ferr != nil {
		log.Error().Err(ferr).AnErr("cause", err).Msg("failed to record job failure")
		return
	}

	job.LastError = err.Error()
	if out.Dead {
		metrics.Jobs().Inc(job.EntityType, metrics.OutcomeFailed)
		tracing.RecordJobOutcome(jctx, metrics.OutcomeFailed, 0)
		log.Error().Err(err).Stringer("category", errors.CategoryOf(err)).Msg("job failed, moved to failed set")
		w.emit(queue.Event{Type: queue.EventFailed, Job: job, Err: err})
		return
	}
	metrics.Jobs().Inc(job.EntityType, metrics.OutcomeRetrying)
	tracing.RecordJobOutcome(jctx, metrics.OutcomeRetrying, out.Delay)
	log.Warn().Err(err).Stringer("category", errors.CategoryOf(err)).Dur("retry_in", out.Delay).Msg("job failed, retrying")
	w.emit(queue.Event{Type: queue.EventRetrying, Job: job, Err: err, Delay: out.Delay})
}

// keepAlive renews the job's lease at half the lease duration until the
// returned function is called.
func (w *Worker) keepAlive(ctx context.Context, d queue.Delivery, log *logging.Logger) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.LockDuration / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Touch(ctx); err != nil {
					if errors.Is(err, queue.ErrLockLost) {
						log.Warn().Msg("job lease lost")
						return
					}
					log.Warn().Err(err).Msg("failed to renew job lease")
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// sweep periodically recovers stalled jobs and refreshes the queue gauges.
func (w *Worker) sweep(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.StalledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		jobs, err := w.queue.Recover(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn().Err(err).Msg("stalled job sweep failed")
			}
			continue
		}
		for _, job := range jobs {
			if !job.FailedAt.IsZero() {
				metrics.Jobs().Inc(job.EntityType, metrics.OutcomeFailed)
				w.emit(queue.Event{Type: queue.EventFailed, Job: job, Err: queue.ErrStalledLimit})
				continue
			}
			metrics.Jobs().Inc(job.EntityType, metrics.OutcomeStalled)
			w.emit(queue.Event{Type: queue.EventStalled, Job: job})
		}

		if _, err := w.queue.Counts(ctx); err != nil && ctx.Err() == nil {
			w.logger.Debug().Err(err).Msg("failed to refresh queue counts")
		}
	}
}
