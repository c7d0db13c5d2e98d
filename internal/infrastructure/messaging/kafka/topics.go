package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/chemsearch/pkg/errors"
)

const (
	TopicStructures = "chemsearch.records"

	// DeadLetterSuffix is appended to a source topic to name its dead-letter
	// topic.
	DeadLetterSuffix = ".dlq"

	HeaderError          = "chemsearch-error"
	HeaderErrorCode      = "chemsearch-error-code"
	HeaderOriginalTopic  = "chemsearch-original-topic"
	HeaderOriginalOffset = "chemsearch-original-offset"
)

// DeadLetterTopic names the dead-letter topic of topic.
func DeadLetterTopic(topic string) string { return topic + DeadLetterSuffix }

// StructureMessage is the wire form of one record to ingest.  Kind may be
// empty, in which case the consuming source's kind applies.
type StructureMessage struct {
	Structure string                 `json:"structure"`
	Kind      string                 `json:"kind,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// EncodeStructureMessage validates and serializes m.
func EncodeStructureMessage(m StructureMessage) ([]byte, error) {
	if strings.TrimSpace(m.Structure) == "" {
		return nil, errors.New(errors.ErrCodeValidation, "structure required")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode structure message")
	}
	return b, nil
}

// DecodeStructureMessage parses one message value.  Numbers in metadata keep
// their textual form.
func DecodeStructureMessage(b []byte) (StructureMessage, error) {
	var m StructureMessage
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return StructureMessage{}, errors.Wrap(err, errors.ErrCodeSerialization, "malformed structure message")
	}
	if strings.TrimSpace(m.Structure) == "" {
		return StructureMessage{}, errors.New(errors.ErrCodeValidation, "structure message has no structure")
	}
	return m, nil
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	NumPartitions     int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
	Configs           map[string]string
}

// ConnInterface abstracts kafka.Conn for testing.
type ConnInterface interface {
	CreateTopics(topics ...kafka.TopicConfig) error
	DeleteTopics(topics ...string) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// TopicManager creates the ingest and dead-letter topics.
type TopicManager struct {
	conn   ConnInterface
	logger logging.Logger
}

// NewTopicManager dials the cluster controller through the first reachable
// broker in brokers.
func NewTopicManager(brokers []string, sec SecurityConfig, logger logging.Logger) (*TopicManager, error) {
	if len(brokers) == 0 {
		return nil, errors.New(errors.ErrCodeValidation, "brokers required")
	}
	if err := sec.validate(); err != nil {
		return nil, err
	}
	dialer, err := newDialer(sec)
	if err != nil {
		return nil, err
	}

	conn, err := dialer.Dial("tcp", brokers[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeTransport, "failed to dial kafka")
	}
	// Topic creation must go to the controller.
	controller, err := conn.Controller()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, errors.ErrCodeTransport, "failed to locate kafka controller")
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	if addr != brokers[0] {
		_ = conn.Close()
		if conn, err = dialer.Dial("tcp", addr); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeTransport, "failed to dial kafka controller")
		}
	}
	return newTopicManagerWithConn(conn, logger), nil
}

func newTopicManagerWithConn(conn ConnInterface, logger logging.Logger) *TopicManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TopicManager{conn: conn, logger: logger}
}

// CreateTopic creates cfg.Name.  An existing topic is not an error.
func (m *TopicManager) CreateTopic(ctx context.Context, cfg TopicConfig) error {
	if cfg.Name == "" {
		return errors.New(errors.ErrCodeValidation, "topic name required")
	}
	if cfg.NumPartitions <= 0 {
		return errors.New(errors.ErrCodeValidation, "NumPartitions must be > 0")
	}
	if cfg.ReplicationFactor <= 0 {
		return errors.New(errors.ErrCodeValidation, "ReplicationFactor must be > 0")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	kCfg := kafka.TopicConfig{
		Topic:             cfg.Name,
		NumPartitions:     cfg.NumPartitions,
		ReplicationFactor: cfg.ReplicationFactor,
	}
	if cfg.RetentionMs > 0 {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", cfg.RetentionMs)})
	}
	if cfg.CleanupPolicy != "" {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: "cleanup.policy", ConfigValue: cfg.CleanupPolicy})
	}
	for k, v := range cfg.Configs {
		kCfg.ConfigEntries = append(kCfg.ConfigEntries, kafka.ConfigEntry{ConfigName: k, ConfigValue: v})
	}

	if err := m.conn.CreateTopics(kCfg); err != nil {
		if errors.Is(err, kafka.TopicAlreadyExists) {
			return nil
		}
		if exists, _ := m.TopicExists(ctx, cfg.Name); exists {
			return nil
		}
		return errors.Wrapf(err, errors.ErrCodeTransport, "failed to create topic %s", cfg.Name)
	}
	m.logger.Info("topic created", logging.String("topic", cfg.Name), logging.Int("partitions", cfg.NumPartitions))
	return nil
}

// TopicExists reports whether name has at least one partition.
func (m *TopicManager) TopicExists(ctx context.Context, name string) (bool, error) {
	partitions, err := m.conn.ReadPartitions(name)
	if err != nil {
		if errors.Is(err, kafka.UnknownTopicOrPartition) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrCodeTransport, "failed to read partitions")
	}
	return len(partitions) > 0, nil
}

// EnsureTopics creates every topic in topics that does not exist yet.
func (m *TopicManager) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	for _, topic := range topics {
		if err := m.CreateTopic(ctx, topic); err != nil {
			return err
		}
	}
	return nil
}

func (m *TopicManager) Close() error {
	return m.conn.Close()
}

// IngestTopics returns the ingest topic and its dead-letter topic.
func IngestTopics(topic string, partitions, replication int) []TopicConfig {
	if partitions <= 0 {
		partitions = 3
	}
	if replication <= 0 {
		replication = 1
	}
	return []TopicConfig{
		{Name: topic, NumPartitions: partitions, ReplicationFactor: replication, RetentionMs: 7 * 24 * 3600 * 1000},
		{Name: DeadLetterTopic(topic), NumPartitions: 1, ReplicationFactor: replication, RetentionMs: 30 * 24 * 3600 * 1000},
	}
}
