// Package worker runs the streaming ingest loop: it drains a Kafka-backed
// record source into the repository one flush round at a time and settles
// each message once the backend reported the record's outcome.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// AckSource is a record source whose records are settled after indexing.
// kafka.RecordSource implements it.
type AckSource interface {
	record.Source
	Ack(ctx context.Context, res search.ItemResult) error
	Pending() int
}

// Stats totals the rounds run so far.
type Stats struct {
	Rounds    int64
	Succeeded int64
	Failed    int64
	AckErrors int64
}

// Worker repeatedly calls Repository.IndexRecords on one source.  Each call
// ends when the source reports io.EOF at the end of its flush round.
type Worker struct {
	repo   search.Repository
	src    AckSource
	opts   search.IngestOptions
	logger logging.Logger

	// idleBackoff is slept after a round that produced nothing, so a source
	// without flush rounds cannot spin.
	idleBackoff time.Duration

	rounds    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	ackErrors atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithLogger(l logging.Logger) Option { return func(w *Worker) { w.logger = l } }

func WithIdleBackoff(d time.Duration) Option { return func(w *Worker) { w.idleBackoff = d } }

// New returns a worker.  opts.OnItem is replaced; the worker acknowledges
// every item itself.
func New(repo search.Repository, src AckSource, opts search.IngestOptions, options ...Option) (*Worker, error) {
	if repo == nil || src == nil {
		return nil, errors.New(errors.ErrCodeValidation, "worker requires a repository and a source")
	}
	w := &Worker{repo: repo, src: src, opts: opts, idleBackoff: 100 * time.Millisecond}
	for _, o := range options {
		o(w)
	}
	if w.logger == nil {
		w.logger = logging.NewNopLogger()
	}
	w.logger = w.logger.Named("worker").With(logging.String("index", repo.IndexName()))
	return w, nil
}

// Run loops until ctx is cancelled, which is not an error.  Any other ingest
// error ends the loop: unacknowledged messages stay uncommitted and are
// redelivered after restart.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.repo.CreateIndex(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	w.logger.Info("ingest worker started",
		logging.Int("chunk_size", w.opts.ChunkSize),
		logging.Int("workers", w.opts.Workers))

	for {
		if ctx.Err() != nil {
			w.logger.Info("ingest worker stopped", logging.Int64("rounds", w.rounds.Load()))
			return nil
		}
		n, err := w.round(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("ingest round failed",
				logging.Int("pending", w.src.Pending()),
				logging.Err(err))
			return err
		}
		if n == 0 && w.idleBackoff > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(w.idleBackoff):
			}
		}
	}
}

// round runs one IndexRecords call and returns the number of records it saw.
func (w *Worker) round(ctx context.Context) (int, error) {
	var (
		mu     sync.Mutex
		ackErr error
	)
	opts := w.opts
	opts.OnItem = func(res search.ItemResult) {
		if !res.OK() && res.Record != nil {
			w.logger.Warn("record rejected",
				logging.String("record", res.Record.ID().String()),
				logging.String("name", res.Record.Name()),
				logging.Err(res.Err))
		}
		if err := w.src.Ack(ctx, res); err != nil {
			w.ackErrors.Add(1)
			mu.Lock()
			if ackErr == nil {
				ackErr = err
			}
			mu.Unlock()
		}
	}

	summary, err := w.repo.IndexRecords(ctx, w.src, opts)
	w.rounds.Add(1)
	n := 0
	if summary != nil {
		n = summary.Total()
		w.succeeded.Add(int64(summary.Succeeded))
		w.failed.Add(int64(summary.Failed))
		if n > 0 {
			w.logger.Info("ingest round completed",
				logging.Int("batches", summary.Batches),
				logging.Int("succeeded", summary.Succeeded),
				logging.Int("failed", summary.Failed))
		}
	}
	if err != nil {
		return n, err
	}
	if ackErr != nil {
		return n, errors.Wrap(ackErr, errors.CodeUnknown, "failed to acknowledge records")
	}
	return n, nil
}

func (w *Worker) Stats() Stats {
	return Stats{
		Rounds:    w.rounds.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
		AckErrors: w.ackErrors.Load(),
	}
}
