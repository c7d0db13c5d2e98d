package search

import (
	"context"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/postprocess"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// RawHit is one backend hit before hydration.
type RawHit struct {
	ID     string
	Score  float64
	Source map[string]interface{}
}

// DropFunc observes a candidate removed from the stream.  reason is nil when
// a hook rejected the candidate and the corrupt-record error otherwise.
type DropFunc func(storageID string, reason error)

// HitsOptions configures NewHits.
type HitsOptions struct {
	Hooks postprocess.Chain
	// Total is the backend's total hit count, which may exceed the page.
	Total  int64
	OnDrop DropFunc
}

// Hits is a finite, non-restartable stream of hydrated records.  Hydration
// and post-processing happen lazily in Next.
//
//	for hits.Next() {
//		r := hits.Record()
//	}
//	if err := hits.Err(); err != nil { ... }
type Hits struct {
	ctx    context.Context
	kind   chem.Kind
	raw    []RawHit
	pos    int
	hooks  postprocess.Chain
	total  int64
	onDrop DropFunc

	cur     *record.Record
	score   float64
	err     error
	dropped int
	closed  bool
}

// NewHits wraps one page of raw hits.
func NewHits(ctx context.Context, kind chem.Kind, raw []RawHit, opts HitsOptions) *Hits {
	return &Hits{
		ctx:    ctx,
		kind:   kind,
		raw:    raw,
		hooks:  opts.Hooks,
		total:  opts.Total,
		onDrop: opts.OnDrop,
	}
}

// EmptyHits is a stream with no records.
func EmptyHits() *Hits {
	return &Hits{ctx: context.Background()}
}

// Next advances to the next surviving record.  It returns false when the page
// is exhausted, the stream is closed or an error occurred.
func (h *Hits) Next() bool {
	h.cur = nil
	if h.closed || h.err != nil {
		return false
	}
	for h.pos < len(h.raw) {
		if err := h.ctx.Err(); err != nil {
			h.err = err
			return false
		}
		raw := h.raw[h.pos]
		h.pos++

		rec, err := record.FromHit(h.kind, raw.ID, raw.Source)
		if err == nil {
			var keep bool
			keep, err = h.hooks.Apply(h.ctx, rec)
			if err == nil && !keep {
				h.drop(raw.ID, nil)
				continue
			}
		}
		if err != nil {
			if errors.IsCorruptRecord(err) {
				h.drop(raw.ID, err)
				continue
			}
			h.err = err
			return false
		}

		h.cur = rec
		h.score = raw.Score
		return true
	}
	return false
}

func (h *Hits) drop(id string, reason error) {
	h.dropped++
	if h.onDrop != nil {
		h.onDrop(id, reason)
	}
}

// Record returns the current record.  Valid only after Next returned true.
func (h *Hits) Record() *record.Record { return h.cur }

// Score is the backend score of the current record.
func (h *Hits) Score() float64 { return h.score }

func (h *Hits) Err() error { return h.err }

// Total is the backend's count of all matches, not only those on this page.
func (h *Hits) Total() int64 { return h.total }

// Dropped counts candidates removed by hooks or hydration so far.
func (h *Hits) Dropped() int { return h.dropped }

// Close releases the page.  Next returns false afterwards.
func (h *Hits) Close() error {
	h.closed = true
	h.raw = nil
	h.cur = nil
	return nil
}

// All drains the stream.
func (h *Hits) All() ([]*record.Record, error) {
	defer h.Close()
	var out []*record.Record
	for h.Next() {
		out = append(out, h.Record())
	}
	return out, h.Err()
}
