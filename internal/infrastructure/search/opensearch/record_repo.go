package opensearch

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/postprocess"
	"github.com/turtacn/chemsearch/internal/domain/predicate"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/chemsearch/pkg/errors"
)

// RecordRepository stores the records of one kind in one index.
type RecordRepository struct {
	kind     chem.Kind
	index    string
	indexer  *Indexer
	searcher *Searcher
	mapping  IndexMapping
	engine   chem.Engine
	widths   map[chem.FingerprintType]int
	refresh  bool
	metrics  *prometheus.BridgeMetrics
	logger   logging.Logger

	// ready is set once the index is known to exist; DeleteAllRecords clears
	// it so the next write recreates the index.
	ready atomic.Bool
}

type repoOptions struct {
	prefix   string
	shards   int
	replicas int
	engine   chem.Engine
	width    int
	refresh  bool
	metrics  *prometheus.BridgeMetrics
	logger   logging.Logger
}

// RepositoryOption configures NewRecordRepository.
type RepositoryOption func(*repoOptions)

// WithIndexPrefix overrides DefaultIndexPrefix.
func WithIndexPrefix(prefix string) RepositoryOption {
	return func(o *repoOptions) { o.prefix = prefix }
}

// WithShards sets the shard and replica counts used when the index is
// created.
func WithShards(shards, replicas int) RepositoryOption {
	return func(o *repoOptions) { o.shards, o.replicas = shards, replicas }
}

// WithEngine enables FilterRequest.Verify and width checks on ingest.
func WithEngine(eng chem.Engine) RepositoryOption {
	return func(o *repoOptions) { o.engine = eng }
}

// WithFingerprintWidth rejects records with bits at or above width in
// either fingerprint.  Without it each fingerprint is bounded by the
// engine's width for its type.
func WithFingerprintWidth(width int) RepositoryOption {
	return func(o *repoOptions) { o.width = width }
}

// WithRefresh makes IndexRecord wait for the document to become searchable.
func WithRefresh(refresh bool) RepositoryOption {
	return func(o *repoOptions) { o.refresh = refresh }
}

func WithMetrics(m *prometheus.BridgeMetrics) RepositoryOption {
	return func(o *repoOptions) { o.metrics = m }
}

func WithLogger(l logging.Logger) RepositoryOption {
	return func(o *repoOptions) { o.logger = l }
}

// NewRecordRepository creates the repository for kind.  The index itself is
// created lazily on first write or explicitly with CreateIndex.
func NewRecordRepository(client *Client, kind chem.Kind, opts ...RepositoryOption) (*RecordRepository, error) {
	if client == nil {
		return nil, errors.New(errors.ErrCodeValidation, "search client is required")
	}
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown record kind %q", kind)
	}

	o := repoOptions{prefix: DefaultIndexPrefix, replicas: -1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewNopLogger()
	}
	if o.metrics == nil {
		o.metrics = prometheus.NewNopBridgeMetrics()
	}
	widths := make(map[chem.FingerprintType]int, 2)
	for _, t := range []chem.FingerprintType{chem.FingerprintSimilarity, chem.FingerprintSubstructure} {
		switch {
		case o.width > 0:
			widths[t] = o.width
		case o.engine != nil:
			widths[t] = o.engine.FingerprintWidth(t)
		}
	}

	index := IndexName(o.prefix, kind)
	logger := o.logger.Named("repository").With(logging.String("index", index))
	return &RecordRepository{
		kind:     kind,
		index:    index,
		indexer:  NewIndexer(client, logger),
		searcher: NewSearcher(client, SearcherConfig{DefaultPageSize: search.DefaultLimit, MaxPageSize: search.MaxLimit}, logger),
		mapping:  RecordIndexMapping(o.shards, o.replicas),
		engine:   o.engine,
		widths:   widths,
		refresh:  o.refresh,
		metrics:  o.metrics,
		logger:   logger,
	}, nil
}

func (r *RecordRepository) Kind() chem.Kind   { return r.kind }
func (r *RecordRepository) IndexName() string { return r.index }

// CreateIndex creates the index with the record mapping.  It is idempotent.
func (r *RecordRepository) CreateIndex(ctx context.Context) error {
	if _, err := r.indexer.CreateIndex(ctx, r.index, r.mapping); err != nil {
		return err
	}
	r.ready.Store(true)
	return nil
}

func (r *RecordRepository) ensureIndex(ctx context.Context) error {
	if r.ready.Load() {
		return nil
	}
	return r.CreateIndex(ctx)
}

// DeleteAllRecords drops the index.  It is recreated on the next write.
func (r *RecordRepository) DeleteAllRecords(ctx context.Context) error {
	existed, err := r.indexer.DeleteIndex(ctx, r.index)
	if err != nil {
		return err
	}
	r.ready.Store(false)
	if !existed {
		r.logger.Debug("nothing to delete")
	}
	return nil
}

// Refresh makes all previous writes searchable.
func (r *RecordRepository) Refresh(ctx context.Context) error {
	return r.indexer.Refresh(ctx, r.index)
}

// IndexRecord submits rec on its own.
func (r *RecordRepository) IndexRecord(ctx context.Context, rec *record.Record) (string, error) {
	if err := r.ensureIndex(ctx); err != nil {
		return "", err
	}
	results, _, err := r.submitBatch(ctx, []*record.Record{rec}, r.refresh)
	if err != nil {
		return "", err
	}
	return results[0].StorageID, results[0].Err
}

// IndexRecords drains src into bulk requests of opts.ChunkSize records.
//
// Sequentially, batches are submitted in source order.  With Workers > 1 up
// to Workers batches are in flight at once and no order is kept.  A source
// error or a transport failure stops reading; batches already submitted run
// to completion, and the summary covers them.
func (r *RecordRepository) IndexRecords(ctx context.Context, src record.Source, opts search.IngestOptions) (*search.IngestSummary, error) {
	if src == nil {
		return nil, errors.New(errors.ErrCodeValidation, "record source is required")
	}
	opts = opts.Normalize()
	if err := r.ensureIndex(ctx); err != nil {
		return nil, err
	}

	var limiter *rate.Limiter
	if opts.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.BatchesPerSecond), 1)
	}

	var (
		mu      sync.Mutex
		summary = &search.IngestSummary{}
	)
	submit := func(batch []*record.Record) error {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}
		results, sent, err := r.submitBatch(ctx, batch, opts.Refresh)
		if err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if sent {
			summary.Batches++
		}
		for _, res := range results {
			if res.OK() {
				summary.Succeeded++
			} else {
				summary.Failed++
			}
			if opts.OnItem != nil {
				opts.OnItem(res)
			}
		}
		return nil
	}

	start := time.Now()
	var err error
	if opts.Workers == 1 {
		err = r.ingestSequential(ctx, src, opts.ChunkSize, submit)
	} else {
		err = r.ingestParallel(ctx, src, opts, submit)
	}

	mu.Lock()
	defer mu.Unlock()
	fields := []logging.Field{
		logging.Int("batches", summary.Batches),
		logging.Int("succeeded", summary.Succeeded),
		logging.Int("failed", summary.Failed),
		logging.Int("workers", opts.Workers),
		logging.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		r.logger.Error("ingest aborted", append(fields, logging.Err(err))...)
		return summary, err
	}
	r.logger.Info("ingest completed", fields...)
	return summary, nil
}

func (r *RecordRepository) ingestSequential(ctx context.Context, src record.Source, size int, submit func([]*record.Record) error) error {
	for {
		batch, done, err := readChunk(ctx, src, size)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			if err := submit(batch); err != nil {
				return err
			}
		}
		if done {
			return nil
		}
	}
}

// ingestParallel reads chunks on the calling goroutine and hands them to a
// bounded errgroup.  The group context only stops reading; submissions use
// ctx so in-flight batches are not cut short by a sibling's failure.
func (r *RecordRepository) ingestParallel(ctx context.Context, src record.Source, opts search.IngestOptions, submit func([]*record.Record) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)

	var readErr error
	for gctx.Err() == nil {
		batch, done, err := readChunk(gctx, src, opts.ChunkSize)
		if err != nil {
			if gctx.Err() == nil || ctx.Err() != nil {
				readErr = err
			}
			break
		}
		if len(batch) > 0 {
			g.Go(func() error { return submit(batch) })
		}
		if done {
			break
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}

// readChunk pulls up to size records.  done reports that src is exhausted.
func readChunk(ctx context.Context, src record.Source, size int) ([]*record.Record, bool, error) {
	batch := make([]*record.Record, 0, size)
	for len(batch) < size {
		rec, err := src.Next(ctx)
		if err == io.EOF {
			return batch, true, nil
		}
		if err != nil {
			return batch, false, errors.Wrap(err, errors.CodeUnknown, "record source failed")
		}
		batch = append(batch, rec)
	}
	return batch, false, nil
}

// validate rejects records that cannot be stored in this index.
func (r *RecordRepository) validate(rec *record.Record) error {
	if rec == nil {
		return errors.New(errors.ErrCodeValidation, "nil record")
	}
	if rec.Kind() != r.kind {
		return errors.Newf(errors.ErrCodeValidation, "%s record cannot be stored in %s", rec.Kind(), r.index)
	}
	if err := rec.SimFingerprint().Validate(r.widths[chem.FingerprintSimilarity]); err != nil {
		return err
	}
	return rec.SubFingerprint().Validate(r.widths[chem.FingerprintSubstructure])
}

// submitBatch sends the valid records of batch in one bulk request.  The
// returned results are in batch order; sent is false when every record
// failed validation and no request was made.  A rejected request fails its
// items; only transport failures are returned as err.
func (r *RecordRepository) submitBatch(ctx context.Context, batch []*record.Record, refresh bool) ([]search.ItemResult, bool, error) {
	results := make([]search.ItemResult, len(batch))
	items := make([]BulkItem, 0, len(batch))
	positions := make([]int, 0, len(batch))
	for i, rec := range batch {
		results[i].Record = rec
		if err := r.validate(rec); err != nil {
			results[i].Err = err
			continue
		}
		items = append(items, BulkItem{Document: rec.ToDocument()})
		positions = append(positions, i)
	}
	if len(items) == 0 {
		return results, false, nil
	}

	inflight := r.metrics.IngestInFlightBatches.WithLabelValues(r.index)
	inflight.Inc()
	res, err := r.indexer.Bulk(ctx, r.index, items, refresh)
	inflight.Dec()
	if err != nil {
		r.metrics.RecordBulkBatch(r.index, 0, len(items), err)
		if !errors.IsCode(err, errors.ErrCodeBulkRejected) {
			return nil, true, err
		}
		r.logger.Warn("bulk batch rejected", logging.Int("documents", len(items)), logging.Err(err))
		for _, p := range positions {
			results[p].Err = err
		}
		return results, true, nil
	}

	for n, item := range res.Items {
		p := positions[n]
		results[p].StorageID = item.ID
		results[p].Err = item.Err
	}
	r.metrics.RecordBulkBatch(r.index, res.Succeeded, res.Failed, nil)
	r.logger.Debug("bulk batch submitted",
		logging.Int("succeeded", res.Succeeded),
		logging.Int("failed", res.Failed))
	return results, true, nil
}

// Filter compiles req, runs one query and returns its hits lazily.
func (r *RecordRepository) Filter(ctx context.Context, req search.FilterRequest) (*search.Hits, error) {
	compiled, err := predicate.Compile(req.Predicates...)
	if err != nil {
		return nil, err
	}

	var chain postprocess.Chain
	if req.Verify {
		if r.engine == nil {
			return nil, errors.New(errors.ErrCodeValidation, "verification requires a repository engine")
		}
		if chain, err = postprocess.ForPredicate(r.engine, req.Predicates...); err != nil {
			return nil, err
		}
	}
	chain = append(chain, req.Hooks...)

	if compiled.MatchNone {
		r.logger.Debug("query matches nothing", logging.String("predicate", compiled.Label))
		return search.EmptyHits(), nil
	}

	sreq := SearchRequest{
		IndexName: r.index,
		Query:     compiled.Query(),
		Size:      req.EffectiveLimit(),
		MinScore:  compiled.MinScore,
	}
	if !req.IncludeFingerprints {
		sreq.SourceExcludes = record.FingerprintFields()
	}

	timer := r.metrics.SearchTimer(r.index, compiled.Label)
	res, err := r.searcher.Search(ctx, sreq)
	if err != nil {
		if errors.IsCode(err, errors.ErrCodeIndexNotFound) {
			r.logger.Debug("index does not exist, empty result")
			return search.EmptyHits(), nil
		}
		return nil, err
	}
	r.metrics.RecordSearch(timer, r.index, compiled.Label, len(res.Hits))

	raw := make([]search.RawHit, len(res.Hits))
	for i, h := range res.Hits {
		raw[i] = search.RawHit{ID: h.ID, Score: h.Score, Source: h.Source}
	}
	return search.NewHits(ctx, r.kind, raw, search.HitsOptions{
		Hooks:  chain,
		Total:  res.Total,
		OnDrop: r.onDrop,
	}), nil
}

func (r *RecordRepository) onDrop(id string, reason error) {
	r.metrics.RecordDropped(r.index)
	if reason != nil {
		r.logger.Warn("dropping corrupt record", logging.String("id", id), logging.Err(reason))
		return
	}
	r.logger.Debug("candidate failed verification", logging.String("id", id))
}

// Count returns the number of stored records.  A missing index holds none.
func (r *RecordRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.searcher.Count(ctx, r.index, nil)
	if errors.IsCode(err, errors.ErrCodeIndexNotFound) {
		return 0, nil
	}
	return n, err
}

var _ search.Repository = (*RecordRepository)(nil)
