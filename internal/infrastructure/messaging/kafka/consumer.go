package kafka

import (
	"context"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/domain/search"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

var ErrSourceClosed = errors.New(errors.ErrCodeInternal, "record source closed")

// ConsumerConfig holds configuration for RecordSource.
type ConsumerConfig struct {
	Brokers           []string
	Topic             string
	GroupID           string
	StartOffset       string // earliest | latest
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	CommitInterval    time.Duration
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	IsolationLevel    string
	Security          SecurityConfig

	// FlushInterval bounds one ingest round: Next reports io.EOF once this
	// long has passed since the round's first message, or after this long
	// without any message.  Zero disables rounds and Next blocks until a
	// message arrives.
	FlushInterval time.Duration

	// SkipErrors skips undecodable messages and keeps records whose
	// fingerprints the engine cannot compute.  Otherwise both end Next with
	// an error.
	SkipErrors bool

	// DeadLetterTopic receives undecodable messages and records the backend
	// rejected.  Empty disables dead-lettering.
	DeadLetterTopic string
}

// ConsumerMetrics holds consumer counters.
type ConsumerMetrics struct {
	MessagesConsumed     atomic.Int64
	MessagesDecoded      atomic.Int64
	MessagesFailed       atomic.Int64
	MessagesCommitted    atomic.Int64
	MessagesDeadLettered atomic.Int64
	Lag                  atomic.Int64
}

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// Publisher is the dead-letter sink.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// RecordSource is a record.Source over a Kafka consumer group.  Every
// message value is a StructureMessage.  Offsets are committed only through
// Ack, after the repository reported the record's outcome, so delivery is
// at least once.  Acks may arrive out of order; a partition's offset only
// advances over the settled prefix of what was fetched from it.
type RecordSource struct {
	reader     ReaderInterface
	engine     chem.Engine
	kind       chem.Kind
	config     ConsumerConfig
	logger     logging.Logger
	deadLetter Publisher

	mu         sync.Mutex
	pending    map[uuid.UUID]kafka.Message
	roundStart time.Time

	// commitMu guards inflight and is held across CommitMessages so a
	// partition's committed offset never moves backwards.
	commitMu sync.Mutex
	inflight map[int][]*inflightMessage

	closed  atomic.Bool
	metrics *ConsumerMetrics
}

// inflightMessage is a fetched message awaiting its commit.
type inflightMessage struct {
	msg     kafka.Message
	settled bool
}

// NewRecordSource builds records of kind from the configured topic.
func NewRecordSource(cfg ConsumerConfig, eng chem.Engine, kind chem.Kind, logger logging.Logger) (*RecordSource, error) {
	if err := ValidateConsumerConfig(cfg); err != nil {
		return nil, err
	}
	cfg = consumerDefaults(cfg)

	dialer, err := newDialer(cfg.Security)
	if err != nil {
		return nil, err
	}
	readerCfg := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          cfg.MinBytes,
		MaxBytes:          cfg.MaxBytes,
		MaxWait:           cfg.MaxWait,
		CommitInterval:    cfg.CommitInterval,
		SessionTimeout:    cfg.SessionTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StartOffset:       kafka.FirstOffset,
		Dialer:            dialer,
	}
	if cfg.StartOffset == "latest" {
		readerCfg.StartOffset = kafka.LastOffset
	}
	if cfg.IsolationLevel == "read_committed" {
		readerCfg.IsolationLevel = kafka.ReadCommitted
	}

	var dl Publisher
	if cfg.DeadLetterTopic != "" {
		p, err := NewProducer(ProducerConfig{Brokers: cfg.Brokers, Security: cfg.Security}, logger)
		if err != nil {
			return nil, err
		}
		dl = p
	}
	return newRecordSource(kafka.NewReader(readerCfg), dl, cfg, eng, kind, logger)
}

func newRecordSource(r ReaderInterface, dl Publisher, cfg ConsumerConfig, eng chem.Engine, kind chem.Kind, logger logging.Logger) (*RecordSource, error) {
	if eng == nil {
		return nil, errors.New(errors.ErrCodeValidation, "record source requires a chemistry engine")
	}
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrCodeValidation, "unknown record kind %q", kind)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RecordSource{
		reader:     r,
		engine:     eng,
		kind:       kind,
		config:     cfg,
		logger:     logger.Named("kafka-source").With(logging.String("topic", cfg.Topic)),
		deadLetter: dl,
		pending:    make(map[uuid.UUID]kafka.Message),
		inflight:   make(map[int][]*inflightMessage),
		metrics:    &ConsumerMetrics{},
	}, nil
}

func consumerDefaults(cfg ConsumerConfig) ConsumerConfig {
	if cfg.StartOffset == "" {
		cfg.StartOffset = "earliest"
	}
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = 500 * time.Millisecond
	}
	if cfg.CommitInterval == 0 {
		cfg.CommitInterval = time.Second
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 3 * time.Second
	}
	return cfg
}

func newDialer(sec SecurityConfig) (*kafka.Dialer, error) {
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	tlsCfg, err := sec.tlsConfig()
	if err != nil {
		return nil, err
	}
	dialer.TLS = tlsCfg
	mech, err := sec.mechanism()
	if err != nil {
		return nil, err
	}
	dialer.SASLMechanism = mech
	return dialer, nil
}

// Next returns the next decodable record.  It reports io.EOF at the end of an
// ingest round, so a caller may run IndexRecords in a loop.
func (s *RecordSource) Next(ctx context.Context) (*record.Record, error) {
	for {
		if s.closed.Load() {
			return nil, ErrSourceClosed
		}
		m, err := s.fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.metrics.MessagesConsumed.Add(1)
		s.metrics.Lag.Store(m.HighWaterMark - m.Offset - 1)

		rec, err := s.decode(m)
		if err == nil {
			s.metrics.MessagesDecoded.Add(1)
			s.mu.Lock()
			s.pending[rec.ID()] = m
			s.mu.Unlock()
			return rec, nil
		}

		s.metrics.MessagesFailed.Add(1)
		if !s.config.SkipErrors {
			return nil, errors.Wrapf(err, errors.CodeUnknown, "message %s/%d/%d", m.Topic, m.Partition, m.Offset)
		}
		s.logger.Warn("skipping undecodable message",
			logging.Int("partition", m.Partition),
			logging.Int64("offset", m.Offset),
			logging.Err(err))
		if err := s.settle(ctx, m, err); err != nil {
			return nil, err
		}
	}
}

func (s *RecordSource) fetch(ctx context.Context) (kafka.Message, error) {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if s.config.FlushInterval > 0 {
		s.mu.Lock()
		deadline := time.Now().Add(s.config.FlushInterval)
		if !s.roundStart.IsZero() {
			deadline = s.roundStart.Add(s.config.FlushInterval)
		}
		s.mu.Unlock()
		fctx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	m, err := s.reader.FetchMessage(fctx)
	switch {
	case err == nil:
		s.mu.Lock()
		if s.roundStart.IsZero() {
			s.roundStart = time.Now()
		}
		s.mu.Unlock()
		s.track(m)
		return m, nil
	case ctx.Err() != nil:
		return kafka.Message{}, ctx.Err()
	case fctx.Err() != nil, errors.Is(err, io.EOF):
		s.mu.Lock()
		s.roundStart = time.Time{}
		s.mu.Unlock()
		return kafka.Message{}, io.EOF
	default:
		return kafka.Message{}, errors.Wrap(err, errors.ErrCodeTransport, "kafka fetch failed")
	}
}

func (s *RecordSource) decode(m kafka.Message) (*record.Record, error) {
	msg, err := DecodeStructureMessage(m.Value)
	if err != nil {
		return nil, err
	}
	kind := s.kind
	if msg.Kind != "" {
		if kind, err = chem.ParseKind(msg.Kind); err != nil {
			return nil, err
		}
		if kind != s.kind {
			return nil, errors.Newf(errors.ErrCodeValidation, "message carries a %s, source ingests %s records", kind, s.kind)
		}
	}
	st, err := s.engine.Parse(msg.Structure, kind)
	if err != nil {
		return nil, err
	}
	policy := record.Raise()
	if s.config.SkipErrors {
		policy = record.Skip()
	}
	return record.Build(s.engine, st, kind,
		record.WithName(msg.Name),
		record.WithMetadata(msg.Metadata),
		record.WithErrorPolicy(policy))
}

// Ack settles the message rec was built from: a failed result is
// dead-lettered when configured, then the offset is committed.  Records this
// source did not produce are ignored.
func (s *RecordSource) Ack(ctx context.Context, res search.ItemResult) error {
	if res.Record == nil {
		return nil
	}
	s.mu.Lock()
	m, ok := s.pending[res.Record.ID()]
	delete(s.pending, res.Record.ID())
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.settle(ctx, m, res.Err)
}

func (s *RecordSource) settle(ctx context.Context, m kafka.Message, cause error) error {
	if cause != nil && s.deadLetter != nil {
		if err := s.deadLetter.Publish(ctx, deadLetterMessage(s.config.DeadLetterTopic, m, cause)); err != nil {
			// Leave the offset uncommitted so the message is redelivered.
			return errors.Wrap(err, errors.CodeUnknown, "dead-letter publish failed")
		}
		s.metrics.MessagesDeadLettered.Add(1)
	}
	return s.commit(ctx, m)
}

// track queues m behind the messages already fetched from its partition.
// An offset at or below the queue tail means the partition was reassigned
// and redelivered, so the stale queue is dropped.
func (s *RecordSource) track(m kafka.Message) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	q := s.inflight[m.Partition]
	if n := len(q); n > 0 && q[n-1].msg.Offset >= m.Offset {
		s.logger.Warn("partition rewound, dropping unsettled offsets",
			logging.Int("partition", m.Partition),
			logging.Int64("offset", m.Offset),
			logging.Int("dropped", n))
		q = nil
	}
	s.inflight[m.Partition] = append(q, &inflightMessage{msg: m})
}

// commit marks m settled and commits the longest settled prefix of its
// partition.  Offsets settled behind an unsettled one stay queued until the
// gap closes.
func (s *RecordSource) commit(ctx context.Context, m kafka.Message) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	q := s.inflight[m.Partition]
	for _, e := range q {
		if e.msg.Offset == m.Offset {
			e.settled = true
			break
		}
	}
	n := 0
	for n < len(q) && q[n].settled {
		n++
	}
	if n == 0 {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, q[n-1].msg); err != nil {
		return errors.Wrap(err, errors.ErrCodeTransport, "kafka commit failed")
	}
	s.inflight[m.Partition] = q[n:]
	s.metrics.MessagesCommitted.Add(int64(n))
	return nil
}

// Uncommitted is the number of fetched messages whose offsets are not yet
// committed, settled or not.
func (s *RecordSource) Uncommitted() int {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	n := 0
	for _, q := range s.inflight {
		n += len(q)
	}
	return n
}

func deadLetterMessage(topic string, m kafka.Message, cause error) Message {
	headers := make(map[string]string, len(m.Headers)+4)
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	headers[HeaderError] = cause.Error()
	headers[HeaderErrorCode] = string(errors.GetCode(cause))
	headers[HeaderOriginalTopic] = m.Topic
	headers[HeaderOriginalOffset] = strconv.FormatInt(m.Offset, 10)
	return Message{Topic: topic, Key: m.Key, Value: m.Value, Headers: headers}
}

// Pending is the number of records handed out and not yet acknowledged.
func (s *RecordSource) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Metrics returns the live counters.
func (s *RecordSource) Metrics() *ConsumerMetrics { return s.metrics }

// Stats exposes the underlying reader statistics.
func (s *RecordSource) Stats() kafka.ReaderStats { return s.reader.Stats() }

// Close stops the reader.  Unacknowledged messages are redelivered to the
// next member of the group.
func (s *RecordSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.reader.Close()
	if s.deadLetter != nil {
		if dlErr := s.deadLetter.Close(); err == nil {
			err = dlErr
		}
	}
	s.logger.Info("kafka record source closed",
		logging.Int64("consumed", s.metrics.MessagesConsumed.Load()),
		logging.Int("pending", s.Pending()))
	return err
}

// ValidateConsumerConfig validates configuration.
func ValidateConsumerConfig(cfg ConsumerConfig) error {
	if len(cfg.Brokers) == 0 {
		return errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if cfg.GroupID == "" {
		return errors.New(errors.ErrCodeValidation, "GroupID required")
	}
	if cfg.Topic == "" {
		return errors.New(errors.ErrCodeValidation, "topic required")
	}
	if cfg.StartOffset != "" && cfg.StartOffset != "earliest" && cfg.StartOffset != "latest" {
		return errors.Newf(errors.ErrCodeValidation, "invalid start offset %q", cfg.StartOffset)
	}
	if cfg.FlushInterval < 0 {
		return errors.New(errors.ErrCodeValidation, "FlushInterval must be >= 0")
	}
	return cfg.Security.validate()
}

var _ record.Source = (*RecordSource)(nil)
