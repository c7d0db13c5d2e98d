package record

import (
	"context"
	"io"
)

// Source is a pull-based stream of records.  Next returns io.EOF once the
// stream is exhausted; any other error aborts the consumer.
type Source interface {
	Next(ctx context.Context) (*Record, error)
}

// SliceSource yields the records of a slice in order.
type SliceSource struct {
	records []*Record
	pos     int
}

func NewSliceSource(records ...*Record) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	r := s.records[s.pos]
	s.pos++
	return r, nil
}

// ChanSource yields records received from a channel until it is closed.
type ChanSource struct {
	ch <-chan *Record
}

func NewChanSource(ch <-chan *Record) *ChanSource {
	return &ChanSource{ch: ch}
}

func (s *ChanSource) Next(ctx context.Context) (*Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return r, nil
	}
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (*Record, error)

func (f SourceFunc) Next(ctx context.Context) (*Record, error) { return f(ctx) }
