// Package searchstub is an in-memory stand-in for the subset of the
// Elasticsearch-compatible HTTP API used by the repository: index lifecycle,
// NDJSON bulk ingest, _search with bool/term/range/wildcard/script_score
// queries, and _count.
//
// Fingerprint terms score 1 each, matching the boolean similarity of the
// record mapping, and script_score evaluates the metric named in the script
// params instead of running Painless.
package searchstub

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Fault is a failure injected into requests whose operation matches Op.
// Op is the last path segment ("_bulk", "_search", "_count", "_refresh") or
// "index" for requests on the index itself.
type Fault struct {
	Op string
	// Status, when non-zero, is returned instead of handling the request.
	Status int
	// Body accompanies Status.  A generic error body is used when empty.
	Body string
	// Delay is waited before the request is handled or failed.  A cancelled
	// client connection ends the wait.
	Delay time.Duration
	// Times limits how many requests the fault applies to; zero means all.
	Times int
	// Match, when set, restricts the fault to requests whose body it
	// accepts.
	Match func(body []byte) bool
}

type document struct {
	id     string
	source map[string]interface{}
}

type index struct {
	mapping map[string]interface{}
	docs    []document
}

// Server is an httptest server holding indices in memory.  It is safe for
// concurrent use.
type Server struct {
	*httptest.Server

	mu      sync.Mutex
	indices map[string]*index
	faults  []*Fault
	reject  func(map[string]interface{}) bool
	nextID  int64
	lastReq map[string][]byte

	counts sync.Map // op -> *atomic.Int64
}

// New starts a stub server.  It is closed by t.Cleanup when t is non-nil.
func New(t interface{ Cleanup(func()) }) *Server {
	s := &Server{
		indices: make(map[string]*index),
		lastReq: make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	if t != nil {
		t.Cleanup(s.Close)
	}
	return s
}

// Inject adds a fault.  Faults are consulted in insertion order.
func (s *Server) Inject(f Fault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fc := f
	s.faults = append(s.faults, &fc)
}

// ClearFaults removes every injected fault.
func (s *Server) ClearFaults() {
	s.mu.Lock()
	s.faults = nil
	s.mu.Unlock()
}

// RejectDocuments makes bulk ingest fail every document for which fn
// returns true with a per-item mapper_parsing_exception.
func (s *Server) RejectDocuments(fn func(source map[string]interface{}) bool) {
	s.mu.Lock()
	s.reject = fn
	s.mu.Unlock()
}

// Requests returns how many requests for op reached the server, faults
// included.
func (s *Server) Requests(op string) int {
	if v, ok := s.counts.Load(op); ok {
		return int(v.(*atomic.Int64).Load())
	}
	return 0
}

// LastBody returns the body of the most recent request for op.
func (s *Server) LastBody(op string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq[op]
}

// HasIndex reports whether name exists.
func (s *Server) HasIndex(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.indices[name]
	return ok
}

// Mapping returns the body an index was created with.
func (s *Server) Mapping(name string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx, ok := s.indices[name]; ok {
		return idx.mapping
	}
	return nil
}

// Documents returns a copy of the sources stored in name, in insertion order.
func (s *Server) Documents(name string) []map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.indices[name]
	if !ok {
		return nil
	}
	out := make([]map[string]interface{}, len(idx.docs))
	for i, d := range idx.docs {
		out[i] = d.source
	}
	return out
}

// Put stores source under id directly, bypassing the HTTP API.  The index is
// created when missing.
func (s *Server) Put(indexName, id string, source map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indices[indexName]
	if idx == nil {
		idx = &index{}
		s.indices[indexName] = idx
	}
	// round-trip through JSON so stored values look like decoded request bodies
	b, _ := json.Marshal(source)
	var decoded map[string]interface{}
	_ = json.Unmarshal(b, &decoded)
	idx.docs = append(idx.docs, document{id: id, source: decoded})
}

func (s *Server) count(op string) {
	v, _ := s.counts.LoadOrStore(op, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func operation(segments []string) string {
	switch {
	case len(segments) == 0:
		return "ping"
	case strings.HasPrefix(segments[len(segments)-1], "_"):
		return segments[len(segments)-1]
	default:
		return "index"
	}
}

// fault returns the first live fault for op and consumes one use of it.
func (s *Server) fault(op string, body []byte) *Fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, f := range s.faults {
		if f.Op != op || (f.Match != nil && !f.Match(body)) {
			continue
		}
		applied := *f
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				s.faults = append(s.faults[:i], s.faults[i+1:]...)
			}
		}
		return &applied
	}
	return nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var segments []string
	for _, p := range strings.Split(strings.Trim(r.URL.Path, "/"), "/") {
		if p != "" {
			segments = append(segments, p)
		}
	}
	op := operation(segments)
	s.count(op)

	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.lastReq[op] = body
	s.mu.Unlock()

	if f := s.fault(op, body); f != nil {
		if f.Delay > 0 {
			select {
			case <-time.After(f.Delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.Status != 0 {
			b := f.Body
			if b == "" {
				b = fmt.Sprintf(`{"error":{"type":"stub_fault","reason":"injected failure"},"status":%d}`, f.Status)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.Status)
			_, _ = io.WriteString(w, b)
			return
		}
	}

	switch {
	case op == "ping":
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":         "searchstub",
			"cluster_name": "searchstub",
			"version":      map[string]interface{}{"distribution": "opensearch", "number": "2.11.0"},
		})
	case op == "index" && len(segments) == 1:
		s.handleIndex(w, r, segments[0], body)
	case op == "_refresh" && len(segments) == 2:
		if !s.HasIndex(segments[0]) {
			writeIndexNotFound(w, segments[0])
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"_shards": map[string]interface{}{"total": 1, "successful": 1, "failed": 0}})
	case op == "_bulk" && len(segments) == 2:
		s.handleBulk(w, segments[0], body)
	case op == "_search" && len(segments) == 2:
		s.handleSearch(w, segments[0], body)
	case op == "_count" && len(segments) == 2:
		s.handleCount(w, segments[0], body)
	default:
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "unsupported request "+r.Method+" "+r.URL.Path, "")
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, name string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.indices[name]

	switch r.Method {
	case http.MethodHead:
		if exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case http.MethodPut:
		if exists {
			writeError(w, http.StatusBadRequest, "resource_already_exists_exception",
				fmt.Sprintf("index [%s] already exists", name), name)
			return
		}
		var mapping map[string]interface{}
		if len(body) > 0 {
			if err := json.Unmarshal(body, &mapping); err != nil {
				writeError(w, http.StatusBadRequest, "parse_exception", err.Error(), name)
				return
			}
		}
		s.indices[name] = &index{mapping: mapping}
		writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true, "index": name})
	case http.MethodDelete:
		if !exists {
			writeIndexNotFound(w, name)
			return
		}
		delete(s.indices, name)
		writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "illegal_argument_exception", "method not allowed", name)
	}
}

func (s *Server) handleBulk(w http.ResponseWriter, name string, body []byte) {
	type action struct {
		Index *struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		} `json:"index"`
	}

	var lines [][]byte
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
	}
	if len(lines)%2 != 0 {
		writeError(w, http.StatusBadRequest, "illegal_argument_exception", "the bulk request must be terminated by a newline", "")
		return
	}

	actions := make([]action, 0, len(lines)/2)
	for i := 0; i < len(lines); i += 2 {
		var a action
		if err := json.Unmarshal(lines[i], &a); err != nil || a.Index == nil {
			writeError(w, http.StatusBadRequest, "illegal_argument_exception", "malformed action/metadata line", "")
			return
		}
		actions = append(actions, a)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]interface{}, 0, len(actions))
	hasErrors := false
	for n, a := range actions {
		target := a.Index.Index
		if target == "" {
			target = name
		}

		var source map[string]interface{}
		if err := json.Unmarshal(lines[2*n+1], &source); err != nil {
			hasErrors = true
			items = append(items, itemError(target, a.Index.ID, "mapper_parsing_exception", err.Error()))
			continue
		}
		if s.reject != nil && s.reject(source) {
			hasErrors = true
			items = append(items, itemError(target, a.Index.ID, "mapper_parsing_exception", "document rejected"))
			continue
		}

		idx := s.indices[target]
		if idx == nil {
			idx = &index{}
			s.indices[target] = idx
		}
		id := a.Index.ID
		if id == "" {
			s.nextID++
			id = fmt.Sprintf("doc-%06d", s.nextID)
		}
		idx.docs = append(idx.docs, document{id: id, source: source})
		items = append(items, map[string]interface{}{"index": map[string]interface{}{
			"_index": target, "_id": id, "status": http.StatusCreated, "result": "created",
		}})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"took": 1, "errors": hasErrors, "items": items})
}

func itemError(indexName, id, typ, reason string) map[string]interface{} {
	return map[string]interface{}{"index": map[string]interface{}{
		"_index": indexName, "_id": id, "status": http.StatusBadRequest,
		"error": map[string]interface{}{"type": typ, "reason": reason},
	}}
}

type hit struct {
	doc   document
	score float64
}

func (s *Server) handleSearch(w http.ResponseWriter, name string, body []byte) {
	var req struct {
		Size     *int                   `json:"size"`
		Query    map[string]interface{} `json:"query"`
		MinScore *float64               `json:"min_score"`
		Source   *struct {
			Excludes []string `json:"excludes"`
		} `json:"_source"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error(), name)
			return
		}
	}

	s.mu.Lock()
	idx, ok := s.indices[name]
	var docs []document
	if ok {
		docs = append(docs, idx.docs...)
	}
	s.mu.Unlock()
	if !ok {
		writeIndexNotFound(w, name)
		return
	}

	var hits []hit
	for _, d := range docs {
		matched, score, err := evaluate(req.Query, d.source)
		if err != nil {
			writeError(w, http.StatusBadRequest, "search_phase_execution_exception", err.Error(), name)
			return
		}
		if !matched {
			continue
		}
		if req.MinScore != nil && score < *req.MinScore {
			continue
		}
		hits = append(hits, hit{doc: d, score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	size := 10
	if req.Size != nil {
		size = *req.Size
	}
	total := len(hits)
	if size < len(hits) {
		hits = hits[:size]
	}

	var excludes []string
	if req.Source != nil {
		excludes = req.Source.Excludes
	}
	out := make([]interface{}, len(hits))
	var maxScore interface{}
	for i, h := range hits {
		src := make(map[string]interface{}, len(h.doc.source))
		for k, v := range h.doc.source {
			src[k] = v
		}
		for _, k := range excludes {
			delete(src, k)
		}
		out[i] = map[string]interface{}{"_index": name, "_id": h.doc.id, "_score": h.score, "_source": src}
		if i == 0 {
			maxScore = h.score
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"took":      1,
		"timed_out": false,
		"hits": map[string]interface{}{
			"total":     map[string]interface{}{"value": total, "relation": "eq"},
			"max_score": maxScore,
			"hits":      out,
		},
	})
}

func (s *Server) handleCount(w http.ResponseWriter, name string, body []byte) {
	var req struct {
		Query map[string]interface{} `json:"query"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error(), name)
			return
		}
	}

	s.mu.Lock()
	idx, ok := s.indices[name]
	var docs []document
	if ok {
		docs = append(docs, idx.docs...)
	}
	s.mu.Unlock()
	if !ok {
		writeIndexNotFound(w, name)
		return
	}

	n := 0
	for _, d := range docs {
		matched, _, err := evaluate(req.Query, d.source)
		if err != nil {
			writeError(w, http.StatusBadRequest, "search_phase_execution_exception", err.Error(), name)
			return
		}
		if matched {
			n++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"count": n})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, reason, indexName string) {
	e := map[string]interface{}{"type": typ, "reason": reason}
	if indexName != "" {
		e["index"] = indexName
	}
	writeJSON(w, status, map[string]interface{}{"error": e, "status": status})
}

func writeIndexNotFound(w http.ResponseWriter, name string) {
	writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]", name)
}
