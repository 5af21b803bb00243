package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, ":8080", s.Server.Addr)
	assert.Equal(t, []string{"*"}, s.Server.CORSOrigins)
	assert.Equal(t, 4, s.Engine.Workers)
	assert.Equal(t, 100, s.Engine.QueueSize)
	assert.Equal(t, 64*1024, s.Engine.MaxCodeSize)
	assert.Empty(t, s.Database.URL)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)
}

func TestLoad_Precedence(t *testing.T) {
	// --- Arrange ---
	yamlPath := writeFile(t, "flowgrid.yaml", `
server:
  addr: ":9000"
  cors_origins: ["https://app.example"]
engine:
  workers: 2
  queue_size: 10
openai:
  model: from-yaml
  base_url: "http://llm.local/v1/"
`)
	envPath := writeFile(t, ".env", "FLOWGRID_OPENAI_MODEL=from-dotenv\nFLOWGRID_DATABASE_URL=postgres://dotenv\n")
	t.Cleanup(func() {
		os.Unsetenv("FLOWGRID_OPENAI_MODEL")
		os.Unsetenv("FLOWGRID_DATABASE_URL")
	})
	t.Setenv("FLOWGRID_ENGINE_WORKERS", "8")

	// --- Act ---
	s, err := Load(yamlPath, envPath)

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, ":9000", s.Server.Addr, "yaml overrides defaults")
	assert.Equal(t, []string{"https://app.example"}, s.Server.CORSOrigins)
	assert.Equal(t, 8, s.Engine.Workers, "environment overrides yaml")
	assert.Equal(t, 10, s.Engine.QueueSize)
	assert.Equal(t, "from-dotenv", s.OpenAI.Model, ".env feeds the environment")
	assert.Equal(t, "postgres://dotenv", s.Database.URL)
	assert.Equal(t, "http://llm.local/v1", s.OpenAI.BaseURL)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	envPath := writeFile(t, ".env", "FLOWGRID_LOG_LEVEL=debug\n")
	t.Setenv("FLOWGRID_LOG_LEVEL", "warn")

	s, err := Load("", envPath)
	require.NoError(t, err)
	assert.Equal(t, "warn", s.Log.Level)
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("FLOWGRID_SERVER_CORS_ORIGINS", "https://a.example,https://b.example")

	s, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, s.Server.CORSOrigins)
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	_, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Setenv("FLOWGRID_LOG_FORMAT", "xml")
		t.Setenv("FLOWGRID_ENGINE_WORKERS", "0")

		_, err := Load("", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `invalid log.format "xml"`)
		assert.Contains(t, err.Error(), "engine.workers must be positive")
	})
}
