package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// SearcherConfig holds configuration for the Searcher.
type SearcherConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// SearchRequest is one bounded query against a single index.
type SearchRequest struct {
	IndexName      string
	Query          map[string]interface{}
	Size           int
	MinScore       *float64
	SourceExcludes []string
}

// SearchResult holds the search response.
type SearchResult struct {
	Total    int64
	MaxScore float64
	Hits     []SearchHit
	TookMs   int64
}

// SearchHit is one hit.  Source numbers are json.Number.
type SearchHit struct {
	ID     string
	Score  float64
	Source map[string]interface{}
}

// Searcher performs search operations.
type Searcher struct {
	client *Client
	config SearcherConfig
	logger logging.Logger
}

// NewSearcher creates a new Searcher.
func NewSearcher(client *Client, cfg SearcherConfig, logger logging.Logger) *Searcher {
	if cfg.DefaultPageSize == 0 {
		cfg.DefaultPageSize = 100
	}
	if cfg.MaxPageSize == 0 {
		cfg.MaxPageSize = 10000
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Searcher{client: client, config: cfg, logger: logger}
}

// buildBody renders the _search request body.
func (s *Searcher) buildBody(req SearchRequest) map[string]interface{} {
	size := req.Size
	if size <= 0 {
		size = s.config.DefaultPageSize
	}
	if size > s.config.MaxPageSize {
		size = s.config.MaxPageSize
	}

	body := map[string]interface{}{
		"size":             size,
		"track_total_hits": true,
	}
	if req.Query != nil {
		body["query"] = req.Query
	} else {
		body["query"] = map[string]interface{}{"match_all": map[string]interface{}{}}
	}
	if req.MinScore != nil {
		body["min_score"] = *req.MinScore
	}
	if len(req.SourceExcludes) > 0 {
		body["_source"] = map[string]interface{}{"excludes": req.SourceExcludes}
	}
	return body
}

// Search executes one search request.  A missing index is reported as
// ErrCodeIndexNotFound.
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	if req.IndexName == "" {
		return nil, errors.New(errors.ErrCodeValidation, "IndexName is required")
	}

	body, err := json.Marshal(s.buildBody(req))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal query DSL")
	}

	start := time.Now()
	resp, err := s.client.do(ctx, "search", func() opensearchapi.Request {
		return opensearchapi.SearchRequest{Index: []string{req.IndexName}, Body: bytes.NewReader(body)}
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, responseError(resp, "search "+req.IndexName)
	}

	var raw struct {
		Took int64 `json:"took"`
		Hits struct {
			Total struct {
				Value int64 `json:"value"`
			} `json:"total"`
			MaxScore *float64 `json:"max_score"`
			Hits     []struct {
				ID     string                 `json:"_id"`
				Score  *float64               `json:"_score"`
				Source map[string]interface{} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedResponse, "failed to decode search response")
	}

	result := &SearchResult{
		Total:  raw.Hits.Total.Value,
		TookMs: raw.Took,
		Hits:   make([]SearchHit, 0, len(raw.Hits.Hits)),
	}
	if raw.Hits.MaxScore != nil {
		result.MaxScore = *raw.Hits.MaxScore
	}
	for _, h := range raw.Hits.Hits {
		hit := SearchHit{ID: h.ID, Source: h.Source}
		if h.Score != nil {
			hit.Score = *h.Score
		}
		result.Hits = append(result.Hits, hit)
	}

	s.logger.Debug("search executed",
		logging.String("index", req.IndexName),
		logging.Int64("took_ms", time.Since(start).Milliseconds()),
		logging.Int64("total", result.Total),
		logging.Int("returned", len(result.Hits)))
	return result, nil
}

// Count returns the number of documents matching query, or all documents when
// query is nil.
func (s *Searcher) Count(ctx context.Context, indexName string, query map[string]interface{}) (int64, error) {
	var payload []byte
	if query != nil {
		b, err := json.Marshal(map[string]interface{}{"query": query})
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal count query")
		}
		payload = b
	}

	resp, err := s.client.do(ctx, "count", func() opensearchapi.Request {
		req := opensearchapi.CountRequest{Index: []string{indexName}}
		if payload != nil {
			req.Body = bytes.NewReader(payload)
		}
		return req
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return 0, responseError(resp, "count "+indexName)
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&countResp); err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeMalformedResponse, "failed to decode count response")
	}
	return countResp.Count, nil
}
