package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "redis", cfg.Grid.Backend)
	assert.Equal(t, 5, cfg.SSE.MaxConnectionsPerUser)
	assert.Equal(t, 1000, cfg.DB.BatchSize)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "broadcast.orchestration.v1", cfg.Kafka.Topic.NameOrchestration)
	assert.Equal(t, 2*time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 2*time.Minute, cfg.Schedule.StaleThreshold)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BDS_GRID_BACKEND", "memory")
	t.Setenv("BDS_SSE_MAXCONNECTIONSPERUSER", "2")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Grid.Backend)
	assert.Equal(t, 2, cfg.SSE.MaxConnectionsPerUser)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
grid:
  backend: memory
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "memory", cfg.Grid.Backend)
	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	cfg.Postgres.DSN = ""
	assert.ErrorContains(t, cfg.Validate(), "postgres.dsn")

	cfg = base()
	cfg.SSE.MaxConnectionsPerUser = 0
	assert.ErrorContains(t, cfg.Validate(), "maxConnectionsPerUser")

	cfg = base()
	cfg.DB.BatchSize = 0
	assert.ErrorContains(t, cfg.Validate(), "batchSize")

	cfg = base()
	cfg.Grid.Backend = "hazelcast"
	assert.ErrorContains(t, cfg.Validate(), "grid.backend")

	cfg = base()
	cfg.Schedule.LockAtLeastFor = time.Minute
	cfg.Schedule.LockAtMostFor = time.Second
	assert.ErrorContains(t, cfg.Validate(), "lockAtMostFor")
}
