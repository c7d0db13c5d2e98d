//go:build integration

// Package integration runs the repository and the ingest worker against a
// real OpenSearch node and, when configured, a real Kafka broker.  Tests are
// gated behind the "integration" build tag and CHEMSEARCH_INTEGRATION_TEST.
package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/turtacn/chemsearch/internal/domain/chem"
	"github.com/turtacn/chemsearch/internal/domain/record"
	"github.com/turtacn/chemsearch/internal/infrastructure/chem/linear"
	"github.com/turtacn/chemsearch/internal/infrastructure/search/opensearch"
)

const (
	// EnvIntegrationEnabled controls whether integration tests run.
	EnvIntegrationEnabled = "CHEMSEARCH_INTEGRATION_TEST"

	// EnvOpenSearchURL points at an existing node instead of a container.
	EnvOpenSearchURL = "CHEMSEARCH_TEST_OPENSEARCH_URL"

	// EnvKafkaBrokers enables the streaming tests against existing brokers.
	EnvKafkaBrokers = "CHEMSEARCH_TEST_KAFKA_BROKERS"

	openSearchImage = "opensearchproject/opensearch:2.11.1"
)

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv(EnvIntegrationEnabled) != "true" {
		t.Skipf("set %s=true to run integration tests", EnvIntegrationEnabled)
	}
}

// openSearchURL returns the node address, starting a single-node container
// when none is configured.
func openSearchURL(t *testing.T) string {
	t.Helper()
	if u := os.Getenv(EnvOpenSearchURL); u != "" {
		return u
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        openSearchImage,
		ExposedPorts: []string{"9200/tcp"},
		Env: map[string]string{
			"discovery.type":          "single-node",
			"DISABLE_SECURITY_PLUGIN": "true",
			"OPENSEARCH_JAVA_OPTS":    "-Xms512m -Xmx512m",
		},
		WaitingFor: wait.ForHTTP("/_cluster/health").
			WithPort("9200/tcp").
			WithStartupTimeout(3 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9200")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func kafkaBrokers(t *testing.T) []string {
	t.Helper()
	v := os.Getenv(EnvKafkaBrokers)
	if v == "" {
		t.Skipf("set %s to run streaming tests", EnvKafkaBrokers)
	}
	return strings.Split(v, ",")
}

// newRepository returns a repository on a fresh, uniquely prefixed index that
// is dropped when the test ends.
func newRepository(t *testing.T, url string, kind chem.Kind) (*opensearch.RecordRepository, chem.Engine) {
	t.Helper()
	client, err := opensearch.NewClient(opensearch.ClientConfig{
		Addresses:      []string{url},
		RequestTimeout: 30 * time.Second,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	eng := linear.New()
	prefix := "it-" + strings.ReplaceAll(uuid.NewString()[:8], "-", "") + "-"
	repo, err := opensearch.NewRecordRepository(client, kind,
		opensearch.WithIndexPrefix(prefix),
		opensearch.WithEngine(eng),
		opensearch.WithRefresh(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.DeleteAllRecords(context.Background()) })
	return repo, eng
}

func buildRecords(t *testing.T, eng chem.Engine, kind chem.Kind, named map[string]string) []*record.Record {
	t.Helper()
	out := make([]*record.Record, 0, len(named))
	for name, text := range named {
		st, err := eng.Parse(text, kind)
		require.NoError(t, err, text)
		rec, err := record.Build(eng, st, kind, record.WithName(name))
		require.NoError(t, err, text)
		out = append(out, rec)
	}
	return out
}
