package indexsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/queue"
	"github.com/Combine-Capital/cqsync/pkg/search"
	"github.com/Combine-Capital/cqsync/pkg/search/searchtest"
	"github.com/alicebob/miniredis/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, cfg config.QueueConfig) *queue.RedisQueue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })

	cfg.PollTimeout = 10 * time.Millisecond
	return queue.NewRedis(client, cfg, nil)
}

// runWorker starts w and returns a channel of its events. The worker is
// stopped when the test ends.
func runWorker(t *testing.T, w *Worker) <-chan queue.Event {
	t.Helper()

	events := make(chan queue.Event, 100)
	w.OnEvent(func(e queue.Event) { events <- e })

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := w.Run(ctx); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return events
}

func waitEvent(t *testing.T, events <-chan queue.Event, want queue.EventType) queue.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == want {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event within 5s", want)
		}
	}
}

func TestWorkerEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := searchtest.New(t)
	client := newSearchClient(t, srv)
	catalog := DefaultCatalog()

	if err := client.Provision(ctx, catalog.Specs()); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()
	src, _ := newMockSourceFrom(mock)

	mock.ExpectQuery(`FROM "map_templates" WHERE id = \$1`).
		WithArgs("abc123").
		WillReturnRows(pgxmock.NewRows(mapTemplateColumns).
			AddRow("abc123", "Dust 2", "Desert bomb map", "cs2", false, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))

	q := newTestQueue(t, config.QueueConfig{})
	w := NewWorker(q, NewSyncer(catalog, src, client, nil), config.QueueConfig{Concurrency: 2}, nil)
	events := runWorker(t, w)

	id, err := q.Enqueue(ctx, queue.ActionUpdate, "MapTemplate", "abc123")
	if err != nil {
		t.Fatal(err)
	}
	done := waitEvent(t, events, queue.EventCompleted)
	if done.Job.ID != id {
		t.Errorf("completed job = %s, want %s", done.Job.ID, id)
	}

	res, err := client.Search(ctx, "map_templates", "Dust", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if ids := res.IDs(); len(ids) != 1 || ids[0] != "abc123" {
		t.Fatalf("Search(Dust) ids = %v, want [abc123]", ids)
	}

	if _, err := q.Enqueue(ctx, queue.ActionDelete, "MapTemplate", "abc123"); err != nil {
		t.Fatal(err)
	}
	waitEvent(t, events, queue.EventCompleted)

	res, err = client.Search(ctx, "map_templates", "Dust", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, hit := range res.IDs() {
		if hit == "abc123" {
			t.Error("deleted document still returned by search")
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %s", err)
	}

	c, err := q.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if c != (queue.Counts{}) {
		t.Errorf("Counts() = %+v, want empty queue", c)
	}
}

func TestWorkerExhaustsAttempts(t *testing.T) {
	ctx := context.Background()
	srv := searchtest.New(t)
	src := newMemSource()
	src.loadErr = errors.NewTemporary("database unavailable", nil)

	qcfg := config.QueueConfig{Attempts: 3, Backoff: time.Millisecond}
	q := newTestQueue(t, qcfg)
	w := NewWorker(q, NewSyncer(DefaultCatalog(), src, newSearchClient(t, srv), nil), config.QueueConfig{Concurrency: 1}, nil)
	events := runWorker(t, w)

	id, err := q.Enqueue(ctx, queue.ActionUpdate, "Player", "p1")
	if err != nil {
		t.Fatal(err)
	}

	for attempt := 1; attempt <= 2; attempt++ {
		e := waitEvent(t, events, queue.EventRetrying)
		if e.Job.Attempt != attempt || e.Err == nil {
			t.Errorf("retrying event = %+v, want attempt %d", e, attempt)
		}
	}
	failed := waitEvent(t, events, queue.EventFailed)
	if failed.Job.ID != id || failed.Job.Attempt != 3 {
		t.Errorf("failed event job = %+v", failed.Job)
	}

	jobs, err := q.Failed(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].ID != id || jobs[0].LastError == "" {
		t.Fatalf("Failed() = %+v", jobs)
	}

	// No fourth attempt.
	time.Sleep(100 * time.Millisecond)
	if n := src.loadCount(); n != 3 {
		t.Errorf("source loaded %d times, want 3", n)
	}
}

func TestWorkerPermanentFailure(t *testing.T) {
	ctx := context.Background()
	srv := searchtest.New(t)

	q := newTestQueue(t, config.QueueConfig{Attempts: 3, Backoff: time.Millisecond})
	w := NewWorker(q, NewSyncer(DefaultCatalog(), newMemSource(), newSearchClient(t, srv), nil), config.QueueConfig{Concurrency: 1}, nil)
	events := runWorker(t, w)

	if _, err := q.Enqueue(ctx, queue.ActionUpdate, "Sponsor", "s1"); err != nil {
		t.Fatal(err)
	}
	e := waitEvent(t, events, queue.EventFailed)
	if e.Job.Attempt != 1 || !errors.IsInvalidInput(e.Err) {
		t.Errorf("failed event = %+v, want first attempt with invalid input", e)
	}
}

func TestWorkerStopsOnCancel(t *testing.T) {
	q := newTestQueue(t, config.QueueConfig{})
	w := NewWorker(q, NewSyncer(DefaultCatalog(), newMemSource(), nil, nil), config.QueueConfig{Concurrency: 3}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

var _ Indexer = (*search.Client)(nil)

// stallingQueue reports one job buried for stalling on its first sweep.
type stallingQueue struct {
	queue.Queue
	once sync.Once
}

func (q *stallingQueue) Recover(ctx context.Context) ([]queue.Job, error) {
	var jobs []queue.Job
	q.once.Do(func() {
		jobs = []queue.Job{{
			ID:         "j1",
			Action:     queue.ActionUpdate,
			EntityType: "Player",
			EntityID:   "p1",
			LastError:  queue.ErrStalledLimit.Error(),
			FailedAt:   time.Now(),
		}}
	})
	return jobs, nil
}

func TestWorkerReportsStalledLimitAsFailed(t *testing.T) {
	q := &stallingQueue{Queue: newTestQueue(t, config.QueueConfig{})}
	w := NewWorker(q, NewSyncer(DefaultCatalog(), newMemSource(), nil, nil),
		config.QueueConfig{Concurrency: 1, StalledInterval: 10 * time.Millisecond}, nil)
	events := runWorker(t, w)

	e := waitEvent(t, events, queue.EventFailed)
	if e.Job.ID != "j1" || !errors.Is(e.Err, queue.ErrStalledLimit) {
		t.Errorf("failed event = %+v, want j1 with the stalled-limit error", e)
	}
}
