package cli

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/chemsearch/internal/config"
	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/infrastructure/monitoring/logging"
)

func TestEnqueue_PublishesToConfiguredTopic(t *testing.T) {
	h := newHarness(t)
	file := writeFile(t, "in.smi", "CCO ethanol\nCCN\n")

	var rep enqueueReport
	h.runJSON(&rep, "enqueue", "--file", file)
	assert.Equal(t, config.DefaultKafkaTopic, rep.Topic)
	assert.Equal(t, 2, rep.Published)
	assert.Equal(t, 0, rep.Failed)

	require.Len(t, h.pub.msgs, 2)
	assert.Equal(t, "CCO", h.pub.msgs[0].Structure)
	assert.Equal(t, "ethanol", h.pub.msgs[0].Name)
	assert.Equal(t, "molecule", h.pub.msgs[0].Kind)
	assert.Equal(t, config.DefaultKafkaTopic, h.pub.topics[1])
	assert.True(t, h.pub.closed)
}

func TestEnqueue_TopicAndKindFlags(t *testing.T) {
	h := newHarness(t)
	file := writeFile(t, "in.jsonl",
		"{\"structure\":\"CC>>CO\"}\n"+
			"{\"structure\":\"C>>N\",\"kind\":\"molecule\"}\n")

	var rep enqueueReport
	h.runJSON(&rep, "--kind", "reaction", "enqueue", "--file", file, "--topic", "custom")
	assert.Equal(t, "custom", rep.Topic)
	require.Len(t, h.pub.msgs, 2)
	assert.Equal(t, "reaction", h.pub.msgs[0].Kind)
	// An explicit kind is passed through for the worker to reject.
	assert.Equal(t, "molecule", h.pub.msgs[1].Kind)
}

func TestEnqueue_ObjectStoreInput(t *testing.T) {
	h := newHarness(t)
	h.objects["inbox/today.smi"] = "CCO ethanol\nc1ccccc1 benzene\n"

	var rep enqueueReport
	h.runJSON(&rep, "enqueue", "--file", "s3://inbox/today.smi")
	assert.Equal(t, 2, rep.Published)
	require.Len(t, h.pub.msgs, 2)
	assert.Equal(t, "benzene", h.pub.msgs[1].Name)
}

func TestEnqueue_PublisherFactoryError(t *testing.T) {
	h := newHarness(t)
	deps := h.deps()
	deps.NewPublisher = func(*CLIContext) (StructurePublisher, error) { return nil, fmt.Errorf("no brokers") }
	cmd := NewRootCommand(deps)
	cmd.SetOut(&strings.Builder{})
	cmd.SetArgs([]string{"--config", h.config, "enqueue", "--file", writeFile(t, "in.smi", "CCO\n")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no brokers")
}

func TestKafkaPublisher_RequiresBrokers(t *testing.T) {
	cc := &CLIContext{Config: config.NewDefaultConfig(), Logger: logging.NewNopLogger()}
	_, err := kafkaPublisher(cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka.brokers")

	cc.Config.Kafka.Brokers = []string{"localhost:9092"}
	cc.Config.Kafka.SASLEnabled = true
	cc.Config.Kafka.SASLMechanism = "GSSAPI"
	cc.Config.Kafka.SASLUsername = "u"
	cc.Config.Kafka.SASLPassword = "p"
	_, err = kafkaPublisher(cc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GSSAPI")
}

func TestRunEnqueue_BatchesAndFailures(t *testing.T) {
	pub := &mockPublisher{fail: map[string]error{"C5": fmt.Errorf("too large")}}
	var sb strings.Builder
	for i := 0; i < enqueueBatchSize+10; i++ {
		fmt.Fprintf(&sb, "C%d\n", i)
	}
	lines, err := newLineReader(strings.NewReader(sb.String()), formatSMI)
	require.NoError(t, err)

	cc := &CLIContext{Logger: logging.NewNopLogger(), Kind: chem.KindMolecule}
	rep, err := runEnqueue(context.Background(), cc, pub, lines, "t")
	require.NoError(t, err)
	assert.Equal(t, enqueueBatchSize+9, rep.Published)
	assert.Equal(t, 1, rep.Failed)
}

func TestRunEnqueue_BadLine(t *testing.T) {
	lines, err := newLineReader(strings.NewReader("{\"structure\":\"CCO\"}\n[]\n"), formatJSONL)
	require.NoError(t, err)

	pub := &mockPublisher{}
	cc := &CLIContext{Logger: logging.NewNopLogger(), Kind: chem.KindMolecule}
	rep, err := runEnqueue(context.Background(), cc, pub, lines, "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	// Nothing is flushed past a bad line.
	assert.Equal(t, 0, rep.Published)
	assert.Empty(t, pub.msgs)
}
