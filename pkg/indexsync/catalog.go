// Package indexsync keeps the search index consistent with the system of
// record. Entity mutations enqueue sync jobs; the Worker drains them, rebuilds
// each document from its source row and applies it to the index. Documents
// are rebuilt from scratch on every sync, so replaying a job converges to the
// same index state.
//
// Example usage:
//
//	catalog := indexsync.DefaultCatalog()
//	syncer := indexsync.NewSyncer(catalog, indexsync.NewSQLSource(db), searchClient, logger)
//	worker := indexsync.NewWorker(q, syncer, cfg.Queue, logger)
//	worker.OnEvent(func(e queue.Event) { ... })
//	err := worker.Run(ctx)
package indexsync

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Combine-Capital/cqsync/pkg/errors"
	"github.com/Combine-Capital/cqsync/pkg/search"
	"github.com/google/uuid"
)

// Field maps a source column to a document attribute.
type Field struct {
	Column    string
	Attribute string
}

// Entity describes one indexed entity type.
type Entity struct {
	Type  string
	Index string
	Table string

	// Fields lists the projected columns. The id column is implicit.
	Fields []Field

	Searchable []string
	Filterable []string
	Sortable   []string
}

// Spec returns the index declaration for provisioning.
func (e Entity) Spec() search.IndexSpec {
	return search.IndexSpec{
		UID:        e.Index,
		PrimaryKey: search.PrimaryKey,
		Searchable: e.Searchable,
		Filterable: e.Filterable,
		Sortable:   e.Sortable,
	}
}

func (e Entity) columns() string {
	cols := make([]string, 0, len(e.Fields)+1)
	cols = append(cols, "id")
	for _, f := range e.Fields {
		cols = append(cols, f.Column)
	}
	return strings.Join(cols, ", ")
}

// Project flattens a source row into a document.
func (e Entity) Project(row map[string]interface{}) search.Document {
	doc := search.Document{search.PrimaryKey: idString(row["id"])}
	for _, f := range e.Fields {
		doc[f.Attribute] = normalize(row[f.Column])
	}
	return doc
}

func idString(v interface{}) string {
	switch id := normalize(v).(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

// normalize converts driver values into JSON-friendly ones. Times become
// unix seconds so they stay sortable in the index.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case time.Time:
		return t.Unix()
	case [16]byte:
		return uuid.UUID(t).String()
	case []byte:
		return string(t)
	default:
		return v
	}
}

// Catalog is the set of indexed entity types.
type Catalog struct {
	byType map[string]Entity
}

// NewCatalog builds a catalog. Entity types and index names must be unique.
func NewCatalog(entities ...Entity) (*Catalog, error) {
	c := &Catalog{byType: make(map[string]Entity, len(entities))}
	indexes := make(map[string]string, len(entities))
	for _, e := range entities {
		if e.Type == "" || e.Index == "" || e.Table == "" {
			return nil, errors.NewInvalidInput("entity", "type, index and table are required")
		}
		if _, dup := c.byType[e.Type]; dup {
			return nil, errors.NewInvalidInput("entity", "duplicate entity type "+e.Type)
		}
		if other, dup := indexes[e.Index]; dup {
			return nil, errors.NewInvalidInput("entity", fmt.Sprintf("index %s used by %s and %s", e.Index, other, e.Type))
		}
		c.byType[e.Type] = e
		indexes[e.Index] = e.Type
	}
	return c, nil
}

// Lookup returns the entity registered for entityType. Unknown types are
// InvalidInput so their jobs fail without retrying.
func (c *Catalog) Lookup(entityType string) (Entity, error) {
	e, ok := c.byType[entityType]
	if !ok {
		return Entity{}, errors.NewInvalidInput("entityType", "unknown entity type "+entityType)
	}
	return e, nil
}

// Entities returns the entities sorted by type.
func (c *Catalog) Entities() []Entity {
	out := make([]Entity, 0, len(c.byType))
	for _, e := range c.byType {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Specs returns every index declaration.
func (c *Catalog) Specs() []search.IndexSpec {
	entities := c.Entities()
	specs := make([]search.IndexSpec, 0, len(entities))
	for _, e := range entities {
		specs = append(specs, e.Spec())
	}
	return specs
}

// DefaultCatalog returns the tournament admin's indexed entities.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Entity{
			Type:  "Player",
			Index: "players",
			Table: "players",
			Fields: []Field{
				{"nickname", "nickname"},
				{"full_name", "fullName"},
				{"country", "country"},
				{"family_id", "familyId"},
				{"is_archived", "isArchived"},
				{"created_at", "createdAt"},
			},
			Searchable: []string{"nickname", "fullName"},
			Filterable: []string{"country", "familyId", "isArchived"},
			Sortable:   []string{"nickname", "createdAt"},
		},
		Entity{
			Type:  "Family",
			Index: "families",
			Table: "families",
			Fields: []Field{
				{"name", "name"},
				{"description", "description"},
				{"is_archived", "isArchived"},
				{"created_at", "createdAt"},
			},
			Searchable: []string{"name", "description"},
			Filterable: []string{"isArchived"},
			Sortable:   []string{"name", "createdAt"},
		},
		Entity{
			Type:  "Map",
			Index: "maps",
			Table: "maps",
			Fields: []Field{
				{"name", "name"},
				{"game", "game"},
				{"map_template_id", "mapTemplateId"},
				{"tournament_id", "tournamentId"},
				{"is_archived", "isArchived"},
				{"created_at", "createdAt"},
			},
			Searchable: []string{"name"},
			Filterable: []string{"game", "mapTemplateId", "tournamentId", "isArchived"},
			Sortable:   []string{"name", "createdAt"},
		},
		Entity{
			Type:  "Tournament",
			Index: "tournaments",
			Table: "tournaments",
			Fields: []Field{
				{"name", "name"},
				{"game", "game"},
				{"status", "status"},
				{"starts_at", "startsAt"},
				{"is_archived", "isArchived"},
				{"created_at", "createdAt"},
			},
			Searchable: []string{"name"},
			Filterable: []string{"game", "status", "isArchived"},
			Sortable:   []string{"name", "startsAt", "createdAt"},
		},
		Entity{
			Type:  "MapTemplate",
			Index: "map_templates",
			Table: "map_templates",
			Fields: []Field{
				{"name", "name"},
				{"description", "description"},
				{"game", "game"},
				{"is_archived", "isArchived"},
				{"created_at", "createdAt"},
			},
			Searchable: []string{"name", "description"},
			Filterable: []string{"game", "isArchived"},
			Sortable:   []string{"name", "createdAt"},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}
