// Package search defines the record repository contract: one backend index
// per record kind, bulk ingest, and bounded predicate queries returning a
// lazy, non-restartable stream of hydrated records.
package search

import (
	"context"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/postprocess"
	"github.com/turtacn/chemsearch/internal/domain/predicate"
	"github.com/turtacn/chemsearch/internal/domain/record"
)

const (
	DefaultChunkSize = 500
	DefaultLimit     = 100
	// MaxLimit is the largest page a single query may request.
	MaxLimit = 10000
)

// Repository mediates all I/O for the records of one kind.  Implementations
// are safe for concurrent use.
type Repository interface {
	Kind() chem.Kind
	IndexName() string

	// CreateIndex creates the index with its field mapping.  An existing
	// index is not an error.
	CreateIndex(ctx context.Context) error

	// IndexRecord submits one record and returns its storage id.
	IndexRecord(ctx context.Context, r *record.Record) (string, error)

	// IndexRecords drains src in ChunkSize batches.  Per-record failures are
	// reported through OnItem and counted; only source errors and transport
	// failures abort the call.
	IndexRecords(ctx context.Context, src record.Source, opts IngestOptions) (*IngestSummary, error)

	// Filter runs one bounded query.  A missing index yields an empty result.
	Filter(ctx context.Context, req FilterRequest) (*Hits, error)

	Count(ctx context.Context) (int64, error)

	// DeleteAllRecords drops the index.  A missing index is not an error.
	DeleteAllRecords(ctx context.Context) error
}

// FilterRequest describes one query.  Predicates are conjoined; at most one of
// them may be a chemistry predicate.
type FilterRequest struct {
	Predicates []predicate.Predicate

	// Limit caps the number of backend hits.  Zero means DefaultLimit.
	Limit int

	// Hooks run on every hydrated candidate, after verification hooks.
	Hooks []postprocess.Hook

	// Verify adds the engine verification hooks matching the chemistry
	// predicate.  The repository must have been given an engine.
	Verify bool

	// IncludeFingerprints asks the backend to return the fingerprint fields,
	// which are excluded from _source by default.
	IncludeFingerprints bool
}

// EffectiveLimit returns Limit clamped to [1, MaxLimit], with DefaultLimit
// standing in for unset values.
func (r FilterRequest) EffectiveLimit() int {
	switch {
	case r.Limit <= 0:
		return DefaultLimit
	case r.Limit > MaxLimit:
		return MaxLimit
	default:
		return r.Limit
	}
}

// IngestOptions controls IndexRecords.
type IngestOptions struct {
	// ChunkSize is the number of records per bulk request.
	ChunkSize int

	// Workers > 1 submits batches concurrently.  Ordering across and within
	// batches is then unspecified.
	Workers int

	// BatchesPerSecond throttles submission when positive.
	BatchesPerSecond float64

	// Refresh makes the documents searchable before the bulk call returns.
	Refresh bool

	// OnItem receives one result per record.  Calls are serialized.
	OnItem func(ItemResult)
}

// Normalize fills unset options with defaults.
func (o IngestOptions) Normalize() IngestOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o
}

// IngestSummary totals one IndexRecords call.
type IngestSummary struct {
	Batches   int
	Succeeded int
	Failed    int
}

// Total is the number of records that reached a bulk request or failed
// local validation.
func (s IngestSummary) Total() int { return s.Succeeded + s.Failed }

// ItemResult is the per-record outcome of a bulk submission.
type ItemResult struct {
	Record    *record.Record
	StorageID string
	Err       error
}

func (r ItemResult) OK() bool { return r.Err == nil }
