package caseflow

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-loadable configuration for a caseflow deployment.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	LLM      LLMConfig      `yaml:"llm"`
	Engine   EngineConfig   `yaml:"engine"`
	Polling  PollingConfig  `yaml:"polling"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	// URL is a Postgres connection string. Empty selects the in-memory store.
	URL string `yaml:"url"`
}

// LLMConfig configures the chat transport used by the oracle and the
// summarize executor.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the API key. Keys are
	// never read from the config file itself.
	APIKeyEnv string `yaml:"api_key_env"`
}

// EngineConfig tunes the workflow engine.
type EngineConfig struct {
	MaxSteps     int          `yaml:"max_steps"`
	RepeatPolicy RepeatPolicy `yaml:"repeat_policy"`
}

// PollingConfig tunes the intervention polling manager.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
	MaxPolls int           `yaml:"max_polls"`
}

// DefaultConfig returns the configuration used when no file is supplied.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Model:     "llama-3.3-70b-versatile",
			APIKeyEnv: "GROQ_API_KEY",
		},
		Engine: EngineConfig{
			MaxSteps:     DefaultMaxSteps,
			RepeatPolicy: RepeatForceComplete,
		},
		Polling: PollingConfig{
			Interval: DefaultPollInterval,
			MaxPolls: DefaultMaxPolls,
		},
	}
}

// LoadConfig loads a YAML configuration file, applying defaults for any
// omitted values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine max_steps must not be negative")
	}
	if c.Polling.Interval < 0 {
		return fmt.Errorf("polling interval must not be negative")
	}
	switch c.Engine.RepeatPolicy {
	case "", RepeatForceComplete, RepeatTreatAsError:
	default:
		return fmt.Errorf("unknown repeat_policy %q", c.Engine.RepeatPolicy)
	}
	return nil
}

// APIKey resolves the LLM API key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.LLM.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.LLM.APIKeyEnv)
}
