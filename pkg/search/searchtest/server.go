// Package searchtest provides an in-memory fake of the subset of the
// Meilisearch HTTP API used by package search. Tasks complete synchronously,
// so every task a client polls is already finished.
package searchtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
)

// Index is the fake's view of one index.
type Index struct {
	UID        string
	PrimaryKey string
	Searchable []string
	Filterable []string
	Sortable   []string
	Documents  map[string]map[string]interface{}
}

type task struct {
	UID      int64        `json:"uid"`
	IndexUID string       `json:"indexUid"`
	Status   string       `json:"status"`
	Type     string       `json:"type"`
	Error    *taskFailure `json:"error,omitempty"`
}

type taskFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Type    string `json:"type"`
}

// Server is a fake search engine.
type Server struct {
	*httptest.Server

	apiKey string

	mu       sync.Mutex
	indexes  map[string]*Index
	tasks    map[int64]*task
	nextTask int64
	failNext int
	requests int
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey requires a bearer token on every request.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// New starts a fake engine that is closed when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		indexes: make(map[string]*Index),
		tasks:   make(map[int64]*task),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.health)
	mux.HandleFunc("GET /indexes/{uid}", s.getIndex)
	mux.HandleFunc("POST /indexes", s.createIndex)
	mux.HandleFunc("PATCH /indexes/{uid}/settings", s.updateSettings)
	mux.HandleFunc("POST /indexes/{uid}/documents", s.addDocuments)
	mux.HandleFunc("DELETE /indexes/{uid}/documents/{id}", s.deleteDocument)
	mux.HandleFunc("GET /tasks/{id}", s.getTask)
	mux.HandleFunc("POST /multi-search", s.multiSearch)

	s.Server = httptest.NewServer(s.middleware(mux))
	t.Cleanup(s.Close)
	return s
}

// FailNext makes the next n requests answer 503.
func (s *Server) FailNext(n int) {
	s.mu.Lock()
	s.failNext = n
	s.mu.Unlock()
}

// Requests returns how many requests reached the server.
func (s *Server) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Index returns a copy of an index, or nil.
func (s *Server) Index(uid string) *Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[uid]
	if !ok {
		return nil
	}
	cp := *idx
	cp.Documents = make(map[string]map[string]interface{}, len(idx.Documents))
	for id, doc := range idx.Documents {
		cp.Documents[id] = doc
	}
	return &cp
}

// Document returns a stored document, or nil.
func (s *Server) Document(index, id string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indexes[index]; ok {
		return idx.Documents[id]
	}
	return nil
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests++
		fail := s.failNext > 0
		if fail {
			s.failNext--
		}
		s.mu.Unlock()

		if fail {
			writeError(w, http.StatusServiceUnavailable, "unavailable", "system", "engine unavailable")
			return
		}
		if s.apiKey != "" && r.Header.Get("Authorization") != "Bearer "+s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid_api_key", "auth", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "available"})
}

func (s *Server) getIndex(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	idx, ok := s.indexes[r.PathValue("uid")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found", "invalid_request", "index not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"uid": idx.UID, "primaryKey": idx.PrimaryKey})
}

func (s *Server) createIndex(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UID        string `json:"uid"`
		PrimaryKey string `json:"primaryKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid_request", "invalid index body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.indexes[body.UID]; exists {
		s.finish(w, body.UID, "indexCreation", &taskFailure{Code: "index_already_exists", Type: "invalid_request", Message: "index already exists"})
		return
	}
	s.indexes[body.UID] = &Index{UID: body.UID, PrimaryKey: body.PrimaryKey, Documents: map[string]map[string]interface{}{}}
	s.finish(w, body.UID, "indexCreation", nil)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SearchableAttributes []string `json:"searchableAttributes"`
		FilterableAttributes []string `json:"filterableAttributes"`
		SortableAttributes   []string `json:"sortableAttributes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid_request", "invalid settings body")
		return
	}

	uid := r.PathValue("uid")
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.ensure(uid, "id")
	idx.Searchable = body.SearchableAttributes
	idx.Filterable = body.FilterableAttributes
	idx.Sortable = body.SortableAttributes
	s.finish(w, uid, "settingsUpdate", nil)
}

func (s *Server) addDocuments(w http.ResponseWriter, r *http.Request) {
	var docs []map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&docs); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_payload", "invalid_request", "documents must be a json array")
		return
	}

	uid := r.PathValue("uid")
	pk := r.URL.Query().Get("primaryKey")
	if pk == "" {
		pk = "id"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.ensure(uid, pk)
	for _, doc := range docs {
		id, ok := doc[idx.PrimaryKey].(string)
		if !ok || id == "" {
			s.finish(w, uid, "documentAdditionOrUpdate", &taskFailure{Code: "missing_document_id", Type: "invalid_request", Message: "document has no string id"})
			return
		}
	}
	for _, doc := range docs {
		idx.Documents[doc[idx.PrimaryKey].(string)] = doc
	}
	s.finish(w, uid, "documentAdditionOrUpdate", nil)
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	uid := r.PathValue("uid")

	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indexes[uid]
	if !ok {
		s.finish(w, uid, "documentDeletion", &taskFailure{Code: "index_not_found", Type: "invalid_request", Message: "index not found"})
		return
	}
	delete(idx.Documents, r.PathValue("id"))
	s.finish(w, uid, "documentDeletion", nil)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	var uid int64
	if _, err := fmt.Sscan(r.PathValue("id"), &uid); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid_request", "invalid task uid")
		return
	}

	s.mu.Lock()
	t, ok := s.tasks[uid]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "task_not_found", "invalid_request", "task not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) multiSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Queries []struct {
			IndexUID string `json:"indexUid"`
			Q        string `json:"q"`
			Limit    int    `json:"limit"`
			Offset   int    `json:"offset"`
		} `json:"queries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid_request", "invalid search body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]map[string]interface{}, 0, len(body.Queries))
	for _, q := range body.Queries {
		idx, ok := s.indexes[q.IndexUID]
		if !ok {
			writeError(w, http.StatusBadRequest, "index_not_found", "invalid_request", "index "+q.IndexUID+" not found")
			return
		}

		hits := make([]map[string]interface{}, 0)
		for _, doc := range idx.Documents {
			if matches(doc, idx.Searchable, q.Q) {
				hits = append(hits, doc)
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			return fmt.Sprint(hits[i][idx.PrimaryKey]) < fmt.Sprint(hits[j][idx.PrimaryKey])
		})

		total := len(hits)
		limit := q.Limit
		if limit <= 0 {
			limit = 20
		}
		if q.Offset < len(hits) {
			hits = hits[q.Offset:]
		} else {
			hits = hits[:0]
		}
		if len(hits) > limit {
			hits = hits[:limit]
		}

		results = append(results, map[string]interface{}{
			"indexUid":           q.IndexUID,
			"query":              q.Q,
			"hits":               hits,
			"estimatedTotalHits": total,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// ensure returns an index, creating it like the engine does on first write.
// The caller holds s.mu.
func (s *Server) ensure(uid, primaryKey string) *Index {
	idx, ok := s.indexes[uid]
	if !ok {
		idx = &Index{UID: uid, PrimaryKey: primaryKey, Documents: map[string]map[string]interface{}{}}
		s.indexes[uid] = idx
	}
	return idx
}

// finish records a completed task and answers 202. The caller holds s.mu.
func (s *Server) finish(w http.ResponseWriter, indexUID, kind string, failure *taskFailure) {
	s.nextTask++
	t := &task{UID: s.nextTask, IndexUID: indexUID, Type: kind, Status: "succeeded"}
	if failure != nil {
		t.Status = "failed"
		t.Error = failure
	}
	s.tasks[t.UID] = t
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"taskUid":  t.UID,
		"indexUid": indexUID,
		"status":   "enqueued",
		"type":     kind,
	})
}

// matches is a case-insensitive substring match over the searchable
// attributes, or every string field when none are declared.
func matches(doc map[string]interface{}, searchable []string, q string) bool {
	if q == "" {
		return true
	}
	q = strings.ToLower(q)
	fields := searchable
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "*") {
		fields = make([]string, 0, len(doc))
		for k := range doc {
			fields = append(fields, k)
		}
	}
	for _, f := range fields {
		if v, ok := doc[f].(string); ok && strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, errType, msg string) {
	writeJSON(w, code, taskFailure{Message: msg, Code: errCode, Type: errType})
}
