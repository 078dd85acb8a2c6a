package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_from_env")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 10000, c.Server.Port)
	assert.Equal(t, "groq", c.LLM.Provider)
	assert.Equal(t, "gsk_from_env", c.LLM.APIKey)
	assert.Equal(t, "llama-3.3-70b-versatile", c.LLM.ChatModel)
	assert.Equal(t, "llama3-8b-8192", c.LLM.PlaygroundModel)
	assert.Equal(t, 1024, c.LLM.MaxTokens)
	assert.InDelta(t, 0.7, c.LLM.Temperature, 1e-6)
	assert.InDelta(t, 0.9, c.LLM.TopP, 1e-6)
	assert.Len(t, c.LLM.Models, 7)

	assert.Equal(t, "http://localhost:10000", c.Client.BackendURL)
	assert.Equal(t, 10*time.Millisecond, c.Client.Stream.MinDelay)
	assert.Equal(t, 40*time.Millisecond, c.Client.Stream.MaxDelay)
	assert.Equal(t, 3*time.Second, c.Client.Voice.SilenceTimeout)
	assert.Equal(t, 500*time.Millisecond, c.Client.Voice.RestartDelay)
	assert.Same(t, c, Get())
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 8080
llm:
  provider: qwen
  api_key: file-key
  models:
    - id: custom
      name: Custom Model
client:
  storage:
    type: sqlite
    path: /tmp/sessions.db
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Setenv("CHAT_SERVER_PORT", "9090")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, "qwen", c.LLM.Provider)
	assert.Equal(t, "file-key", c.LLM.APIKey)
	assert.Equal(t, []ModelOption{{ID: "custom", Name: "Custom Model"}}, c.LLM.Models)
	assert.Equal(t, "sqlite", c.Client.Storage.Type)
	assert.Equal(t, "/tmp/sessions.db", c.Client.Storage.Path)
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: ark\n"), 0o644))
	t.Setenv("ARK_API_KEY", "ark-key")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ark-key", c.LLM.APIKey)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
