// Command cqsync runs the search index sync worker and its operator tasks.
//
// Usage:
//
//	cqsync [-config cqsync.yaml] [command] [flags]
//
// Commands:
//
//	worker     run the sync worker and the health endpoints (default)
//	reindex    enqueue an update for every row of the given entity types
//	provision  create the indexes and apply their settings
//	failed     print the failed set, or requeue one job with -retry
//	flush      drop every cache entry under the configured prefix
//
// Configuration is read from CQSYNC_* environment variables, layered over
// the YAML file named by -config or CQSYNC_CONFIG when one is given.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/breaker"
	"github.com/Combine-Capital/cqsync/pkg/cache"
	"github.com/Combine-Capital/cqsync/pkg/config"
	"github.com/Combine-Capital/cqsync/pkg/database"
	"github.com/Combine-Capital/cqsync/pkg/health"
	"github.com/Combine-Capital/cqsync/pkg/indexsync"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/queue"
	"github.com/Combine-Capital/cqsync/pkg/redispool"
	"github.com/Combine-Capital/cqsync/pkg/search"
	"github.com/Combine-Capital/cqsync/pkg/service"
)

const envPrefix = "CQSYNC"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("cqsync", flag.ContinueOnError)
	configPath := fs.String("config", os.Getenv(envPrefix+"_CONFIG"),
		"path to the YAML configuration file; configuration comes from the environment alone when empty")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	command := "worker"
	rest := fs.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	commands := map[string]func(context.Context, *app, []string) error{
		"worker":    runWorker,
		"reindex":   runReindex,
		"provision": runProvision,
		"failed":    runFailed,
		"flush":     runFlush,
	}
	cmd, ok := commands[command]
	if !ok {
		fmt.Fprintf(os.Stderr, "cqsync: unknown command %q\n", command)
		return 2
	}

	cfg, err := config.Load(*configPath, envPrefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cqsync: %v\n", err)
		return 1
	}

	ctx := context.Background()
	opts := []service.BootstrapOption{}
	if command != "worker" {
		// One-shot commands neither serve metrics nor export spans.
		opts = append(opts, service.WithoutMetrics(), service.WithoutTracing())
	}
	bootstrap, err := service.NewBootstrap(ctx, cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cqsync: %v\n", err)
		return 1
	}
	defer bootstrap.Cleanup(ctx)

	a := &app{cfg: cfg, logger: bootstrap.Logger, bootstrap: bootstrap}
	if err := cmd(ctx, a, rest); err != nil {
		a.logger.Error().Err(err).Str("command", command).Msg("command failed")
		return 1
	}
	return 0
}

// app holds the configuration and opens connections on demand. Every
// connection it opens is closed by the bootstrap cleanup.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	bootstrap *service.Bootstrap
}

func (a *app) redis(ctx context.Context) (*redispool.Pool, error) {
	pool, err := redispool.New(ctx, a.cfg.Redis, a.logger)
	if err != nil {
		return nil, err
	}
	a.bootstrap.AddCleanup(func(context.Context) error { return pool.Close() })
	return pool, nil
}

func (a *app) queue(ctx context.Context, pool *redispool.Pool) (queue.Queue, error) {
	q, err := queue.New(ctx, a.cfg.Queue, pool, a.logger)
	if err != nil {
		return nil, err
	}
	a.bootstrap.AddCleanup(func(context.Context) error { return q.Close() })
	return q, nil
}

func (a *app) search(ctx context.Context) (*search.Client, error) {
	client, err := search.New(ctx, a.cfg.Search, a.logger)
	if err != nil {
		return nil, err
	}
	a.bootstrap.AddCleanup(func(context.Context) error { return client.Close() })
	return client, nil
}

func (a *app) database(ctx context.Context) (*database.Pool, error) {
	db, err := database.NewPool(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}
	a.bootstrap.AddCleanup(func(context.Context) error {
		db.Close()
		return nil
	})
	return db, nil
}

// queueFor opens the queue, and the redis pool only when the backend needs
// it.
func (a *app) queueFor(ctx context.Context) (queue.Queue, *redispool.Pool, error) {
	var pool *redispool.Pool
	if a.cfg.Queue.Backend == "" || a.cfg.Queue.Backend == "redis" {
		p, err := a.redis(ctx)
		if err != nil {
			return nil, nil, err
		}
		pool = p
	}
	q, err := a.queue(ctx, pool)
	if err != nil {
		return nil, nil, err
	}
	return q, pool, nil
}

func runWorker(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := a.redis(ctx)
	if err != nil {
		return err
	}
	waitCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	err = pool.WaitReady(waitCtx, redispool.ProfileBackground)
	stop()
	if err != nil {
		return fmt.Errorf("wait for redis: %w", err)
	}
	q, err := a.queue(ctx, pool)
	if err != nil {
		return err
	}
	client, err := a.search(ctx)
	if err != nil {
		return err
	}
	db, err := a.database(ctx)
	if err != nil {
		return err
	}

	catalog := indexsync.DefaultCatalog()
	// Provisioning only fails here when search.strict is set.
	if err := client.Provision(ctx, catalog.Specs()); err != nil {
		return fmt.Errorf("provision indexes: %w", err)
	}

	store, cacheBreaker := cache.NewFromPool(pool, a.cfg.Cache, a.logger)
	source := indexsync.NewSQLSource(db)
	syncer := indexsync.NewSyncer(catalog, source, client, a.logger)
	worker := indexsync.NewWorker(q, syncer, a.cfg.Queue, a.logger)
	worker.OnEvent(func(e queue.Event) {
		if e.Type != queue.EventFailed {
			return
		}
		a.logger.Error().
			Str(logging.JobID, e.Job.ID).
			Str(logging.EntityType, e.Job.EntityType).
			Str(logging.EntityID, e.Job.EntityID).
			Err(e.Err).
			Msg("sync job moved to the failed set")
	})

	h := health.New()
	h.RegisterChecker(string(redispool.ProfileBackground), pool.Checker(redispool.ProfileBackground))
	h.RegisterChecker("queue", health.CheckerFunc(q.Check))
	h.RegisterChecker("database", source)
	// The request path degrades without these, so they never fail readiness.
	h.RegisterOptional(string(redispool.ProfileCache), store)
	h.RegisterOptional(string(redispool.ProfileSession), pool.Checker(redispool.ProfileSession))
	h.RegisterOptional("search", client)
	refreshOnTransition(cacheBreaker, h)

	shutdown := service.DefaultShutdownConfig()
	if a.cfg.Server.ShutdownTimeout > 0 {
		shutdown.Timeout = a.cfg.Server.ShutdownTimeout
	}
	return service.Run(ctx, a.logger, shutdown,
		service.NewOpsService(a.cfg.Server, h),
		service.NewWorkerService("indexsync", worker.Run),
	)
}

// refreshOnTransition drops the cached health result whenever b changes
// state, so probes see the cache degrade or recover at once.
func refreshOnTransition(b *breaker.Breaker, h *health.Health) {
	b.OnStateChange(func(_, _ breaker.State) {
		h.ClearCache()
	})
}

func runReindex(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("reindex", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	q, _, err := a.queueFor(ctx)
	if err != nil {
		return err
	}
	db, err := a.database(ctx)
	if err != nil {
		return err
	}

	reindexer := indexsync.NewReindexer(indexsync.DefaultCatalog(), indexsync.NewSQLSource(db), q, a.logger)
	report, err := reindexer.Reindex(ctx, fs.Args()...)
	for entityType, n := range report.Enqueued {
		fmt.Printf("%s\t%d\n", entityType, n)
	}
	return err
}

func runProvision(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a.cfg.Search.Strict = true
	client, err := a.search(ctx)
	if err != nil {
		return err
	}
	return client.Provision(ctx, indexsync.DefaultCatalog().Specs())
}

func runFailed(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("failed", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of jobs to print")
	retryID := fs.String("retry", "", "requeue the failed job with this id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	q, _, err := a.queueFor(ctx)
	if err != nil {
		return err
	}

	if *retryID != "" {
		if err := q.RetryFailed(ctx, *retryID); err != nil {
			return err
		}
		fmt.Printf("requeued %s\n", *retryID)
		return nil
	}

	jobs, err := q.Failed(ctx, *limit)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, job := range jobs {
		if err := enc.Encode(failedJob{
			ID:         job.ID,
			Action:     string(job.Action),
			EntityType: job.EntityType,
			EntityID:   job.EntityID,
			Attempts:   job.Attempt,
			LastError:  job.LastError,
			FailedAt:   job.FailedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

type failedJob struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entityType"`
	EntityID   string    `json:"entityId"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"lastError,omitempty"`
	FailedAt   time.Time `json:"failedAt"`
}

func runFlush(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("flush", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := a.redis(ctx)
	if err != nil {
		return err
	}
	store := cache.New(pool.Cache(), nil, a.cfg.Cache, a.logger)
	return store.Flush(ctx)
}
