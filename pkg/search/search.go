// Package search is a thin client over a Meilisearch-compatible search
// engine: index provisioning, document upsert and delete, and multi-index
// queries.
//
// Writes are asynchronous on the engine side. Every mutating call waits for
// the engine's task to finish so that a returned nil means the index reflects
// the change, and a failed task surfaces as an error the sync worker can retry.
//
// Example usage:
//
//	client, err := search.New(ctx, cfg.Search, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	if err := client.Provision(ctx, specs); err != nil {
//	    log.Fatal(err) // only returned in strict mode
//	}
//
//	results, err := client.MultiSearch(ctx, []search.Query{
//	    {IndexUID: "map_templates", Q: "Dust"},
//	    {IndexUID: "players", Q: "Dust", Limit: 5},
//	})
package search

// PrimaryKey is the document field every index is keyed on.
const PrimaryKey = "id"

// IndexSpec declares one index and its attribute sets.
type IndexSpec struct {
	UID        string
	PrimaryKey string
	Searchable []string
	Filterable []string
	Sortable   []string
}

// Document is a flattened search projection. It always carries a string id.
type Document map[string]interface{}

// ID returns the document's primary key, or "" when absent.
func (d Document) ID() string {
	id, _ := d[PrimaryKey].(string)
	return id
}

// Query is one entry of a multi-index search.
type Query struct {
	IndexUID string   `json:"indexUid"`
	Q        string   `json:"q"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
	Filter   string   `json:"filter,omitempty"`
	Sort     []string `json:"sort,omitempty"`
}

// Result holds the hits of one query.
type Result struct {
	IndexUID           string     `json:"indexUid"`
	Query              string     `json:"query"`
	Hits               []Document `json:"hits"`
	EstimatedTotalHits int        `json:"estimatedTotalHits"`
}

// IDs returns the ids of the result's hits in rank order.
func (r Result) IDs() []string {
	ids := make([]string, 0, len(r.Hits))
	for _, h := range r.Hits {
		ids = append(ids, h.ID())
	}
	return ids
}

// settings is the body of an index settings update.
type settings struct {
	SearchableAttributes []string `json:"searchableAttributes"`
	FilterableAttributes []string `json:"filterableAttributes"`
	SortableAttributes   []string `json:"sortableAttributes"`
}

// Task states reported by the engine.
const (
	TaskEnqueued   = "enqueued"
	TaskProcessing = "processing"
	TaskSucceeded  = "succeeded"
	TaskFailed     = "failed"
	TaskCanceled   = "canceled"
)

// Engine error codes the client reacts to.
const (
	CodeIndexNotFound      = "index_not_found"
	CodeIndexAlreadyExists = "index_already_exists"
)

// Task is an asynchronous engine operation.
type Task struct {
	UID      int64      `json:"uid"`
	IndexUID string     `json:"indexUid"`
	Status   string     `json:"status"`
	Type     string     `json:"type"`
	Error    *TaskError `json:"error,omitempty"`
}

// TaskError describes why a task failed.
type TaskError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

func (e *TaskError) Error() string {
	return e.Code + ": " + e.Message
}

// taskRef is the 202 body of every mutating endpoint.
type taskRef struct {
	TaskUID int64 `json:"taskUid"`
}
