package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Model    ModelConfig
	Storage  StorageConfig
	Analysis AnalysisConfig
	Log      LogConfig
	API      APIConfig
}

type ServerConfig struct {
	Port     int
	MaxConns int
}

type ModelConfig struct {
	Provider       string
	BaseURL        string
	DefaultModel   string
	APIKey         string
	Temperature    float64
	MaxTokens      int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type StorageConfig struct {
	DataDir string
	// DSN selects PostgreSQL when set; otherwise SQLite under DataDir is used.
	DSN string
}

type AnalysisConfig struct {
	Timeout    time.Duration
	Confidence float64
	Workers    int
}

type LogConfig struct {
	Level string
}

type APIConfig struct {
	Token string
}

// Providers lists the accepted model.provider values.
var Providers = []string{"openai", "anthropic", "gemini", "ollama"}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:     4100,
			MaxConns: 256,
		},
		Model: ModelConfig{
			Provider:       "openai",
			DefaultModel:   "gpt-4-turbo-preview",
			Temperature:    0.3,
			MaxTokens:      4096,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Analysis: AnalysisConfig{
			Timeout:    60 * time.Second,
			Confidence: 0.85,
			Workers:    4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in increasing order of precedence: built-in
// defaults, the JSON file at $XDG_CONFIG_HOME/influix/config.json, a .env
// file in the working directory, and INFLUIX_* environment variables.
// Secrets never live in the config file; when a secret is still empty after
// the environment it is looked up in the secrets file, and the model API key
// finally falls back to the provider's conventional variable
// (OPENAI_API_KEY and friends).
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	for _, s := range specs {
		if !s.secret || s.extract(cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Model.APIKey == "" {
		if env := providerKeyEnv[cfg.Model.Provider]; env != "" {
			cfg.Model.APIKey = os.Getenv(env)
		}
	}

	return cfg, nil
}

var providerKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"gemini":    "GEMINI_API_KEY",
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	known := false
	for _, p := range Providers {
		if c.Model.Provider == p {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("invalid model.provider %q: must be one of %v", c.Model.Provider, Providers)
	}
	if c.Model.Provider != "ollama" && c.Model.APIKey == "" {
		return fmt.Errorf("missing required config: API key for provider %s. "+
			"Set it via environment variable INFLUIX_MODEL_API_KEY or %s",
			c.Model.Provider, providerKeyEnv[c.Model.Provider])
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature %v out of range [0, 2]", c.Model.Temperature)
	}
	if c.Model.MaxTokens <= 0 {
		return fmt.Errorf("model.max_tokens must be positive, got %d", c.Model.MaxTokens)
	}
	if c.Model.MaxRetries < 1 {
		return fmt.Errorf("model.max_retries must be at least 1, got %d", c.Model.MaxRetries)
	}
	if c.Analysis.Confidence < 0 || c.Analysis.Confidence > 1 {
		return fmt.Errorf("analysis.confidence %v out of range [0, 1]", c.Analysis.Confidence)
	}
	if c.Analysis.Timeout <= 0 {
		return fmt.Errorf("analysis.timeout must be positive")
	}
	return nil
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "influix-data"
		}
	}
	return filepath.Join(dir, "influix")
}
