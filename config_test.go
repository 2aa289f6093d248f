package caseflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Empty(t, config.Database.URL)
	require.Equal(t, "llama-3.3-70b-versatile", config.LLM.Model)
	require.Equal(t, "GROQ_API_KEY", config.LLM.APIKeyEnv)
	require.Equal(t, DefaultMaxSteps, config.Engine.MaxSteps)
	require.Equal(t, RepeatForceComplete, config.Engine.RepeatPolicy)
	require.Equal(t, DefaultPollInterval, config.Polling.Interval)
	require.Equal(t, DefaultMaxPolls, config.Polling.MaxPolls)
	require.NoError(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	t.Run("overrides defaults", func(t *testing.T) {
		path := writeConfigFile(t, `
database:
  url: postgres://localhost/caseflow
llm:
  model: mixtral-8x7b
engine:
  max_steps: 10
  repeat_policy: treat-as-error
polling:
  interval: 5s
  max_polls: 12
`)
		config, err := LoadConfig(path)
		require.NoError(t, err)
		require.Equal(t, "postgres://localhost/caseflow", config.Database.URL)
		require.Equal(t, "mixtral-8x7b", config.LLM.Model)
		require.Equal(t, 10, config.Engine.MaxSteps)
		require.Equal(t, RepeatTreatAsError, config.Engine.RepeatPolicy)
		require.Equal(t, 5*time.Second, config.Polling.Interval)
		require.Equal(t, 12, config.Polling.MaxPolls)
		// Omitted values keep their defaults.
		require.Equal(t, "GROQ_API_KEY", config.LLM.APIKeyEnv)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfigFile(t, "engine: [not a mapping")
		_, err := LoadConfig(path)
		require.Error(t, err)
	})

	t.Run("unknown repeat policy", func(t *testing.T) {
		path := writeConfigFile(t, "engine:\n  repeat_policy: sometimes\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		require.Contains(t, err.Error(), "repeat_policy")
	})
}

func TestConfigAPIKey(t *testing.T) {
	config := DefaultConfig()
	config.LLM.APIKeyEnv = "CASEFLOW_TEST_KEY"
	t.Setenv("CASEFLOW_TEST_KEY", "sk-test")
	require.Equal(t, "sk-test", config.APIKey())

	config.LLM.APIKeyEnv = ""
	require.Empty(t, config.APIKey())
}
