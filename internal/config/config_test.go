package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 0.92, cfg.Curator.SimilarityThreshold)
	assert.Equal(t, "@daily", cfg.Curator.Schedule)
	assert.Equal(t, 20, cfg.Curator.BatchSize)
	assert.Equal(t, 10, cfg.Curator.MaxConsolidations)
	assert.Equal(t, 768, cfg.Qdrant.Dimensions)
	assert.Equal(t, "memoryd:ingest", cfg.Queue.Stream)
	assert.Equal(t, 30*time.Second, cfg.AI.Timeout)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memoryd.yaml")
	body := `
http_port: 9090
curator:
  similarity_threshold: 0.85
  batch_size: 5
qdrant:
  collection: test_memories
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 0.85, cfg.Curator.SimilarityThreshold)
	assert.Equal(t, 5, cfg.Curator.BatchSize)
	assert.Equal(t, "test_memories", cfg.Qdrant.Collection)
	// untouched values keep defaults
	assert.Equal(t, 10, cfg.Curator.MaxConsolidations)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SIMILARITY_THRESHOLD", "0.9")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("REDIS_ADDR", "localhost:6380")
	t.Setenv("QDRANT_PORT", "7333")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.9, cfg.Curator.SimilarityThreshold)
	assert.Equal(t, "sk-test", cfg.AI.OpenAIAPIKey)
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr)
	assert.Equal(t, 7333, cfg.Qdrant.Port)
}

func TestEnvOverrideRejectsOutOfRangeThreshold(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("SIMILARITY_THRESHOLD", "1.5")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.92, cfg.Curator.SimilarityThreshold)
}
