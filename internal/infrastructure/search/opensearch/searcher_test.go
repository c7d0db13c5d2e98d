package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/testutil/searchstub"
	"github.com/turtacn/chemsearch/pkg/errors"
)

func newTestSearcher(t *testing.T) (*Searcher, *searchstub.Server) {
	t.Helper()
	c, stub := newStubClient(t)
	return NewSearcher(c, SearcherConfig{DefaultPageSize: 10, MaxPageSize: 50}, nil), stub
}

func TestSearcher_BuildBody(t *testing.T) {
	s := NewSearcher(nil, SearcherConfig{DefaultPageSize: 10, MaxPageSize: 50}, nil)
	minScore := 0.8

	tests := []struct {
		name     string
		req      SearchRequest
		wantSize int
	}{
		{"default size", SearchRequest{}, 10},
		{"explicit size", SearchRequest{Size: 25}, 25},
		{"clamped size", SearchRequest{Size: 500}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := s.buildBody(tt.req)
			assert.Equal(t, tt.wantSize, body["size"])
			assert.Equal(t, true, body["track_total_hits"])
			assert.Contains(t, body["query"], "match_all")
			assert.NotContains(t, body, "min_score")
			assert.NotContains(t, body, "_source")
		})
	}

	body := s.buildBody(SearchRequest{
		Query:          map[string]interface{}{"match_none": map[string]interface{}{}},
		MinScore:       &minScore,
		SourceExcludes: []string{"sim_fingerprint"},
	})
	assert.Contains(t, body["query"], "match_none")
	assert.Equal(t, 0.8, body["min_score"])
	assert.Equal(t, map[string]interface{}{"excludes": []string{"sim_fingerprint"}}, body["_source"])
}

func TestSearcher_DefaultConfig(t *testing.T) {
	s := NewSearcher(nil, SearcherConfig{}, nil)
	assert.Equal(t, 100, s.config.DefaultPageSize)
	assert.Equal(t, 10000, s.config.MaxPageSize)
}

func TestSearch_TermQuery(t *testing.T) {
	s, stub := newTestSearcher(t)
	stub.Put("chem-molecules", "a", map[string]interface{}{"name": "ethanol", "mw": 46.07})
	stub.Put("chem-molecules", "b", map[string]interface{}{"name": "methanol", "mw": 32.04})

	res, err := s.Search(context.Background(), SearchRequest{
		IndexName: "chem-molecules",
		Query:     map[string]interface{}{"term": map[string]interface{}{"name": "methanol"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "b", res.Hits[0].ID)
	assert.Equal(t, json.Number("32.04"), res.Hits[0].Source["mw"], "numbers keep their text")
}

func TestSearch_SourceExcludesAndSize(t *testing.T) {
	s, stub := newTestSearcher(t)
	for _, id := range []string{"a", "b", "c"} {
		stub.Put("chem-molecules", id, map[string]interface{}{"name": id, "sim_fingerprint": []int{1, 2}})
	}

	res, err := s.Search(context.Background(), SearchRequest{
		IndexName:      "chem-molecules",
		Size:           2,
		SourceExcludes: []string{"sim_fingerprint"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total, "total counts beyond the page")
	require.Len(t, res.Hits, 2)
	for _, h := range res.Hits {
		assert.NotContains(t, h.Source, "sim_fingerprint")
		assert.Contains(t, h.Source, "name")
	}
}

func TestSearch_MissingIndex(t *testing.T) {
	s, _ := newTestSearcher(t)
	_, err := s.Search(context.Background(), SearchRequest{IndexName: "chem-molecules"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeIndexNotFound))
}

func TestSearch_RequiresIndexName(t *testing.T) {
	s, stub := newTestSearcher(t)
	_, err := s.Search(context.Background(), SearchRequest{})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
	assert.Zero(t, stub.Requests("_search"))
}

func TestSearch_MalformedResponse(t *testing.T) {
	s, stub := newTestSearcher(t)
	stub.Inject(searchstub.Fault{Op: "_search", Status: http.StatusOK, Body: `{"hits":`})

	_, err := s.Search(context.Background(), SearchRequest{IndexName: "chem-molecules"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeMalformedResponse))
}

func TestSearch_ServerError(t *testing.T) {
	s, stub := newTestSearcher(t)
	stub.Inject(searchstub.Fault{Op: "_search", Status: http.StatusInternalServerError})

	_, err := s.Search(context.Background(), SearchRequest{IndexName: "chem-molecules"})
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
}

func TestCount(t *testing.T) {
	s, stub := newTestSearcher(t)
	ctx := context.Background()
	stub.Put("chem-molecules", "a", map[string]interface{}{"name": "ethanol"})
	stub.Put("chem-molecules", "b", map[string]interface{}{"name": "methanol"})

	n, err := s.Count(ctx, "chem-molecules", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.Count(ctx, "chem-molecules", map[string]interface{}{
		"wildcard": map[string]interface{}{"name": map[string]interface{}{"value": "eth*"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Count(ctx, "chem-reactions", nil)
	assert.True(t, errors.IsNotFound(err))
}
