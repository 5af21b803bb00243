package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. FLOWGRID_ENGINE_WORKERS.
const EnvPrefix = "FLOWGRID"

// Settings holds the configuration for the application.
type Settings struct {
	Server struct {
		Addr            string   `mapstructure:"addr"`
		HealthcheckPort int      `mapstructure:"healthcheck_port"`
		CORSOrigins     []string `mapstructure:"cors_origins"`
		WorkflowsDir    string   `mapstructure:"workflows_dir"`
	} `mapstructure:"server"`
	Engine struct {
		Workers     int `mapstructure:"workers"`
		QueueSize   int `mapstructure:"queue_size"`
		MaxCodeSize int `mapstructure:"max_code_size"`
	} `mapstructure:"engine"`
	Database struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"database"`
	OpenAI struct {
		APIKey  string `mapstructure:"api_key"`
		BaseURL string `mapstructure:"base_url"`
		Model   string `mapstructure:"model"`
	} `mapstructure:"openai"`
	Embedding struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"embedding"`
	Search struct {
		UserAgent string `mapstructure:"user_agent"`
	} `mapstructure:"search"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

var defaults = map[string]any{
	"server.addr":             ":8080",
	"server.healthcheck_port": 0,
	"server.cors_origins":     []string{"*"},
	"server.workflows_dir":    "",
	"engine.workers":          4,
	"engine.queue_size":       100,
	"engine.max_code_size":    64 * 1024,
	"database.url":            "",
	"openai.api_key":          "",
	"openai.base_url":         "",
	"openai.model":            "",
	"embedding.url":           "",
	"search.user_agent":       "",
	"log.level":               "info",
	"log.format":              "text",
}

// Load reads the settings. configPath is an optional YAML file; envFile is
// loaded into the process environment when it exists and never overrides
// variables that are already set.
func Load(configPath, envFile string) (*Settings, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.OpenAI.BaseURL = strings.TrimRight(strings.TrimSpace(s.OpenAI.BaseURL), "/")
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate rejects settings the service cannot start with.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("invalid log.level %q: must be 'debug', 'info', 'warn', or 'error'", s.Log.Level))
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log.format %q: must be 'text' or 'json'", s.Log.Format))
	}
	if s.Engine.Workers <= 0 {
		errs = append(errs, fmt.Errorf("engine.workers must be positive, got %d", s.Engine.Workers))
	}
	if s.Engine.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.queue_size must be positive, got %d", s.Engine.QueueSize))
	}
	if s.Engine.MaxCodeSize <= 0 {
		errs = append(errs, fmt.Errorf("engine.max_code_size must be positive, got %d", s.Engine.MaxCodeSize))
	}
	return errors.Join(errs...)
}
