package indexsync

import (
	"context"
	stderrors "errors"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/queue"
)

// Enqueuer accepts sync jobs. queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, action queue.Action, entityType, entityID string) (string, error)
}

// Reindexer enqueues an update for every source row. It does not touch the
// index itself, so a sweep gets the same retries as incremental syncs.
type Reindexer struct {
	catalog *Catalog
	source  Source
	queue   Enqueuer
	logger  *logging.Logger
}

// NewReindexer creates a reindexer.
func NewReindexer(catalog *Catalog, source Source, q Enqueuer, logger *logging.Logger) *Reindexer {
	return &Reindexer{
		catalog: catalog,
		source:  source,
		queue:   q,
		logger:  logging.OrNop(logger).WithComponent("reindex"),
	}
}

// Report is the outcome of a sweep.
type Report struct {
	// Enqueued counts jobs per entity type, including types that failed
	// part way.
	Enqueued map[string]int
	// Failed holds the error of every entity type whose sweep stopped early.
	Failed map[string]error
}

// Reindex sweeps the given entity types, or all of them when none are given.
// A failing type is logged and does not stop the others; the returned error
// joins every failure.
func (r *Reindexer) Reindex(ctx context.Context, entityTypes ...string) (Report, error) {
	entities := r.catalog.Entities()
	if len(entityTypes) > 0 {
		entities = make([]Entity, 0, len(entityTypes))
		for _, t := range entityTypes {
			e, err := r.catalog.Lookup(t)
			if err != nil {
				return Report{}, err
			}
			entities = append(entities, e)
		}
	}

	report := Report{Enqueued: make(map[string]int), Failed: make(map[string]error)}
	var errs []error
	for _, e := range entities {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		n := 0
		err := r.source.ListIDs(ctx, e, func(id string) error {
			if _, err := r.queue.Enqueue(ctx, queue.ActionUpdate, e.Type, id); err != nil {
				return err
			}
			n++
			return nil
		})
		report.Enqueued[e.Type] = n

		if err != nil {
			err = errors.Wrap(err, "reindex "+e.Type)
			report.Failed[e.Type] = err
			errs = append(errs, err)
			r.logger.Error().Err(err).Str(logging.EntityType, e.Type).Int("enqueued", n).Msg("reindex sweep failed for entity type")
			continue
		}
		r.logger.Info().Str(logging.EntityType, e.Type).Int("enqueued", n).Msg("reindex sweep enqueued entity type")
	}
	return report, stderrors.Join(errs...)
}
