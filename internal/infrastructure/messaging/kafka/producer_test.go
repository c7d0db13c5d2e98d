package kafka

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/pkg/errors"
)

type mockKafkaWriter struct {
	writeFunc func(ctx context.Context, msgs ...kafka.Message) error
	written   []kafka.Message
	closed    bool
}

func (m *mockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if m.writeFunc != nil {
		if err := m.writeFunc(ctx, msgs...); err != nil {
			return err
		}
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockKafkaWriter) Close() error {
	m.closed = true
	return nil
}

func (m *mockKafkaWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func newTestProducer(w WriterInterface) *Producer {
	return newProducerWithWriter(w, ProducerConfig{Brokers: []string{"localhost:9092"}}, nil)
}

func TestValidateProducerConfig(t *testing.T) {
	assert.NoError(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"localhost:9092"}}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{}))
	assert.Error(t, ValidateProducerConfig(ProducerConfig{Brokers: []string{"b"}, MaxRetries: -1}))

	err := ValidateProducerConfig(ProducerConfig{
		Brokers:  []string{"b"},
		Security: SecurityConfig{SASLEnabled: true, SASLMechanism: "GSSAPI", SASLUsername: "u", SASLPassword: "p"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GSSAPI")
}

func TestPublish(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), Message{
		Topic:   TopicStructures,
		Key:     []byte("ethanol"),
		Value:   []byte(`{"structure":"CCO"}`),
		Headers: map[string]string{"source": "test"},
	})
	require.NoError(t, err)
	require.Len(t, w.written, 1)
	assert.Equal(t, TopicStructures, w.written[0].Topic)
	assert.Equal(t, []kafka.Header{{Key: "source", Value: []byte("test")}}, w.written[0].Headers)

	sent, failed, bytes := p.Metrics()
	assert.Equal(t, int64(1), sent)
	assert.Zero(t, failed)
	assert.Equal(t, int64(len(`{"structure":"CCO"}`)), bytes)
}

func TestPublish_Validation(t *testing.T) {
	p := newTestProducer(&mockKafkaWriter{})
	ctx := context.Background()

	assert.True(t, errors.IsCode(p.Publish(ctx, Message{Value: []byte("x")}), errors.ErrCodeValidation))
	assert.True(t, errors.IsCode(p.Publish(ctx, Message{Topic: "t"}), errors.ErrCodeValidation))
	assert.True(t, errors.IsCode(p.Publish(ctx, Message{Topic: "t", Value: make([]byte, 2<<20)}), errors.ErrCodeValidation))
}

func TestPublish_WriterFailure(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(context.Context, ...kafka.Message) error {
		return stderrors.New("leader not available")
	}}
	p := newTestProducer(w)

	err := p.Publish(context.Background(), Message{Topic: "t", Value: []byte("x")})
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	_, failed, _ := p.Metrics()
	assert.Equal(t, int64(1), failed)
}

func TestPublishBatch_PartialFailure(t *testing.T) {
	w := &mockKafkaWriter{writeFunc: func(_ context.Context, msgs ...kafka.Message) error {
		return kafka.WriteErrors{nil, stderrors.New("too large"), nil}
	}}
	p := newTestProducer(w)

	res, err := p.PublishBatch(context.Background(), []Message{
		{Topic: "t", Value: []byte("a")},
		{Topic: "t", Value: []byte("b")},
		{Topic: "t", Value: []byte("c")},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Failures, 1)
}

func TestPublishBatch_Empty(t *testing.T) {
	w := &mockKafkaWriter{}
	res, err := newTestProducer(w).PublishBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, res.Succeeded)
	assert.Empty(t, w.written)
}

func TestPublishStructures(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)

	res, err := p.PublishStructures(context.Background(), TopicStructures, []StructureMessage{
		{Structure: "CCO", Name: "ethanol", Metadata: map[string]interface{}{"mw": 46.07}},
		{Structure: "CO"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	require.Len(t, w.written, 2)
	assert.Equal(t, []byte("ethanol"), w.written[0].Key)
	assert.Nil(t, w.written[1].Key)

	msg, err := DecodeStructureMessage(w.written[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "CCO", msg.Structure)
	assert.Equal(t, "46.07", msg.Metadata["mw"].(interface{ String() string }).String())

	_, err = p.PublishStructures(context.Background(), TopicStructures, []StructureMessage{{Name: "empty"}})
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestProducerClose(t *testing.T) {
	w := &mockKafkaWriter{}
	p := newTestProducer(w)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), Message{Topic: "t", Value: []byte("x")}), ErrProducerClosed)
}
