package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// BulkItem is one document of a bulk request.  An empty ID lets the backend
// assign one.
type BulkItem struct {
	ID       string
	Document map[string]interface{}
}

// BulkItemResult is the backend's verdict on one BulkItem, in request order.
type BulkItemResult struct {
	ID     string
	Status int
	Err    error
}

// BulkResult summarises one bulk request.
type BulkResult struct {
	Items     []BulkItemResult
	Succeeded int
	Failed    int
}

// Indexer manages indices and document ingestion.
type Indexer struct {
	client *Client
	logger logging.Logger
}

// NewIndexer creates a new Indexer.
func NewIndexer(client *Client, logger logging.Logger) *Indexer {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Indexer{client: client, logger: logger}
}

// CreateIndex issues the create request directly and treats "already exists"
// as success, so concurrent creators cannot race between a check and a
// create.  created reports whether this call made the index.
func (i *Indexer) CreateIndex(ctx context.Context, indexName string, mapping IndexMapping) (bool, error) {
	body, err := json.Marshal(mapping)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal index mapping")
	}

	resp, err := i.client.do(ctx, "create index", func() opensearchapi.Request {
		return opensearchapi.IndicesCreateRequest{Index: indexName, Body: bytes.NewReader(body)}
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		err := responseError(resp, "create index "+indexName)
		if errors.IsCode(err, errors.ErrCodeIndexAlreadyExists) {
			i.logger.Debug("index already exists", logging.String("index", indexName))
			return false, nil
		}
		return false, err
	}

	i.logger.Info("index created", logging.String("index", indexName))
	return true, nil
}

// DeleteIndex drops an index.  existed is false when there was nothing to
// drop.
func (i *Indexer) DeleteIndex(ctx context.Context, indexName string) (bool, error) {
	resp, err := i.client.do(ctx, "delete index", func() opensearchapi.Request {
		return opensearchapi.IndicesDeleteRequest{Index: []string{indexName}}
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, responseError(resp, "delete index "+indexName)
	}

	i.logger.Warn("index deleted", logging.String("index", indexName))
	return true, nil
}

// IndexExists checks if an index exists.
func (i *Indexer) IndexExists(ctx context.Context, indexName string) (bool, error) {
	resp, err := i.client.do(ctx, "index exists", func() opensearchapi.Request {
		return opensearchapi.IndicesExistsRequest{Index: []string{indexName}}
	})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, responseError(resp, "index exists "+indexName)
}

// Refresh makes recent writes to indexName searchable.
func (i *Indexer) Refresh(ctx context.Context, indexName string) error {
	resp, err := i.client.do(ctx, "refresh", func() opensearchapi.Request {
		return opensearchapi.IndicesRefreshRequest{Index: []string{indexName}}
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.IsError() {
		return responseError(resp, "refresh "+indexName)
	}
	return nil
}

type bulkAction struct {
	Index bulkTarget `json:"index"`
}

type bulkTarget struct {
	Index string `json:"_index"`
	ID    string `json:"_id,omitempty"`
}

// Bulk submits items as one NDJSON bulk request.  A request the backend
// refuses as a whole returns ErrCodeBulkRejected; failures of single items
// are reported in the result and do not fail the call.
func (i *Indexer) Bulk(ctx context.Context, indexName string, items []BulkItem, refresh bool) (*BulkResult, error) {
	if len(items) == 0 {
		return &BulkResult{}, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, it := range items {
		if err := enc.Encode(bulkAction{Index: bulkTarget{Index: indexName, ID: it.ID}}); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk action")
		}
		if err := enc.Encode(it.Document); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode bulk document")
		}
	}
	payload := buf.Bytes()

	refreshPolicy := "false"
	if refresh {
		refreshPolicy = "true"
	}

	resp, err := i.client.do(ctx, "bulk", func() opensearchapi.Request {
		return opensearchapi.BulkRequest{Index: indexName, Body: bytes.NewReader(payload), Refresh: refreshPolicy}
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		cause := responseError(resp, "bulk")
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, cause
		}
		return nil, errors.Wrap(cause, errors.ErrCodeBulkRejected, "bulk request rejected")
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  *struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error,omitempty"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&bulkResp); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedResponse, "failed to decode bulk response")
	}
	if len(bulkResp.Items) != len(items) {
		return nil, errors.Newf(errors.ErrCodeMalformedResponse,
			"bulk response has %d items for %d documents", len(bulkResp.Items), len(items))
	}

	result := &BulkResult{Items: make([]BulkItemResult, len(items))}
	for n, item := range bulkResp.Items {
		// each item has a single key naming the action
		for _, v := range item {
			r := BulkItemResult{ID: v.ID, Status: v.Status}
			if v.Status < 200 || v.Status >= 300 {
				reason := "status " + strconv.Itoa(v.Status)
				if v.Error != nil {
					reason = v.Error.Type + ": " + v.Error.Reason
				}
				r.Err = errors.New(errors.ErrCodeBulkRejected, "document rejected").WithDetail(reason)
			}
			result.Items[n] = r
		}
		if result.Items[n].Err != nil {
			result.Failed++
		} else {
			result.Succeeded++
		}
	}
	return result, nil
}
