package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setAstraEnv(t *testing.T) {
	t.Setenv("ASTRA_DB_API_ENDPOINT", "https://db-id.apps.astra.datastax.com")
	t.Setenv("ASTRA_DB_APPLICATION_TOKEN", "AstraCS:test")
}

func TestLoadDefaults(t *testing.T) {
	setAstraEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 7860, cfg.Server.Port)
	assert.Equal(t, "pdf_data", cfg.Astra.Collection)
	assert.Equal(t, "default_keyspace", cfg.Astra.Keyspace)
	assert.Equal(t, "https://db-id.apps.astra.datastax.com", cfg.Astra.Endpoint)
	assert.Equal(t, "sk-test", cfg.OpenAI.APIKey)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.Model)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, 400, cfg.Search.SnippetLimit)
	assert.Equal(t, 1000, cfg.Ingest.TextLimit)
	assert.Equal(t, 300, cfg.Ingest.RenderDPI)
	assert.Equal(t, "hash", cfg.Ingest.IDScheme)
	assert.Equal(t, "pdf_images", cfg.Storage.Path)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Empty(t, cfg.Embed.Model)
	assert.Equal(t, cfg.VectorDB.Dimension, cfg.Embed.Dimensions)
}

func TestLoadFromFileAndEnv(t *testing.T) {
	setAstraEnv(t)
	t.Setenv("ASTRA_DB_COLLECTION", "manuals")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
vectordb:
  type: memory
  dimension: 256
embed:
  provider: local
search:
  top_k: 5
openai:
  api_key: ${PDFQA_TEST_KEY}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("PDFQA_TEST_KEY", "sk-from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.VectorDB.Type)
	assert.Equal(t, "local", cfg.Embed.Provider)
	assert.Equal(t, 256, cfg.Embed.Dimensions)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, "manuals", cfg.Astra.Collection)
	assert.Equal(t, "sk-from-env", cfg.OpenAI.APIKey)
}

func TestValidate(t *testing.T) {
	t.Setenv("ASTRA_DB_API_ENDPOINT", "")
	t.Setenv("ASTRA_DB_APPLICATION_TOKEN", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "astra")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vectordb:\n  type: memory\ningest:\n  id_scheme: random\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IDScheme")

	path = filepath.Join(t.TempDir(), "dims.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vectordb:\n  type: memory\n  dimension: 768\nembed:\n  dimensions: 1536\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embed.dimensions")

	path = filepath.Join(t.TempDir(), "llm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vectordb:\n  type: memory\nllm:\n  timeout: 0s\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeout")

	path = filepath.Join(t.TempDir(), "pg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vectordb:\n  type: pgvector\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pdf_data")
}
