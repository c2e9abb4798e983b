package indexsync

import (
	"context"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/logging"
	"github.com/Combine-Capital/cqsync/pkg/queue"
	"github.com/Combine-Capital/cqsync/pkg/search"
)

// Indexer applies documents to the search index. *search.Client implements it.
type Indexer interface {
	Upsert(ctx context.Context, index string, docs []search.Document) error
	Delete(ctx context.Context, index, id string) error
}

// Syncer applies one entity's current state to its index.
type Syncer struct {
	catalog *Catalog
	source  Source
	index   Indexer
	logger  *logging.Logger
}

// NewSyncer creates a syncer.
func NewSyncer(catalog *Catalog, source Source, index Indexer, logger *logging.Logger) *Syncer {
	return &Syncer{
		catalog: catalog,
		source:  source,
		index:   index,
		logger:  logging.OrNop(logger).WithComponent("indexsync"),
	}
}

// SyncDocument makes the index entry of entityID match the source. An update
// for a row that no longer exists removes the document.
func (s *Syncer) SyncDocument(ctx context.Context, action queue.Action, entityType, entityID string) error {
	e, err := s.catalog.Lookup(entityType)
	if err != nil {
		return err
	}

	switch action {
	case queue.ActionDelete:
		return s.index.Delete(ctx, e.Index, entityID)

	case queue.ActionUpdate:
		doc, err := s.source.Load(ctx, e, entityID)
		if errors.IsNotFound(err) {
			s.logger.Debug().
				Str(logging.EntityType, entityType).
				Str(logging.EntityID, entityID).
				Msg("source row gone, deleting document")
			return s.index.Delete(ctx, e.Index, entityID)
		}
		if err != nil {
			return err
		}
		return s.index.Upsert(ctx, e.Index, []search.Document{doc})

	default:
		return errors.NewInvalidInput("action", "unknown action "+string(action))
	}
}
