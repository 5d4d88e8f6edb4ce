package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the ragdex API configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Cache      CacheConfig      `yaml:"cache"`
	Completion CompletionConfig `yaml:"completion"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// CorpusConfig locates the source collections, the persisted indexes,
// and the system prompt.
type CorpusConfig struct {
	ContentPath     string `yaml:"content_path"`
	ImagePath       string `yaml:"image_path"`
	ContentIndexDir string `yaml:"content_index_dir"`
	ImageIndexDir   string `yaml:"image_index_dir"`
	PromptPath      string `yaml:"prompt_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// CacheConfig holds the optional Redis-backed embedding cache settings.
// Empty addrs disables the cache.
type CacheConfig struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	TTLSec   int      `yaml:"ttl_sec"`
	// ReadinessTimeout bounds the startup wait for the cache store.
	ReadinessTimeoutSec int `yaml:"readiness_timeout_sec"`
}

// CompletionConfig holds completion backend settings.
type CompletionConfig struct {
	Driver      string  `yaml:"driver"` // chat, assistant (default: chat)
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	AssistantID string  `yaml:"assistant_id"`
	RPS         float64 `yaml:"rps"` // outbound throttle, 0 = off

	PollBaseMs        int     `yaml:"poll_base_ms"`
	PollGrowth        float64 `yaml:"poll_growth"`
	PollCapMs         int     `yaml:"poll_cap_ms"`
	PollMaxAttempts   int     `yaml:"poll_max_attempts"`
	PollTransientWait int     `yaml:"poll_transient_wait_ms"`
}

// RetrievalConfig holds top-k settings; Enabled=false feeds the prompt
// builder empty result sets.
type RetrievalConfig struct {
	Enabled  *bool `yaml:"enabled"`
	ContentK int   `yaml:"content_k"`
	ImageK   int   `yaml:"image_k"`
}

// RateLimitConfig holds admission control settings.
type RateLimitConfig struct {
	Enabled      *bool `yaml:"enabled"`
	WindowSec    int   `yaml:"window_sec"`
	Limit        int   `yaml:"limit"`
	BlacklistSec int   `yaml:"blacklist_sec"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// RetrievalEnabled defaults to true when unset.
func (c *Config) RetrievalEnabled() bool {
	return c.Retrieval.Enabled == nil || *c.Retrieval.Enabled
}

// RateLimitEnabled defaults to true when unset.
func (c *Config) RateLimitEnabled() bool {
	return c.RateLimit.Enabled == nil || *c.RateLimit.Enabled
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Corpus.ContentPath == "" {
		c.Corpus.ContentPath = "content.json"
	}
	if c.Corpus.ImagePath == "" {
		c.Corpus.ImagePath = "image.json"
	}
	if c.Corpus.ContentIndexDir == "" {
		c.Corpus.ContentIndexDir = "vectordb_content"
	}
	if c.Corpus.ImageIndexDir == "" {
		c.Corpus.ImageIndexDir = "vectordb_image"
	}
	if c.Corpus.PromptPath == "" {
		c.Corpus.PromptPath = "prompt.txt"
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = "openai"
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = 384
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 7 * 24 * 3600
	}
	if c.Cache.ReadinessTimeoutSec <= 0 {
		c.Cache.ReadinessTimeoutSec = 10
	}
	if c.Completion.Driver == "" {
		c.Completion.Driver = "chat"
	}
	if c.Completion.Model == "" {
		c.Completion.Model = "deepseek-chat"
	}
	if c.Completion.PollBaseMs <= 0 {
		c.Completion.PollBaseMs = 1000
	}
	if c.Completion.PollGrowth <= 1 {
		c.Completion.PollGrowth = 1.5
	}
	if c.Completion.PollCapMs <= 0 {
		c.Completion.PollCapMs = 10000
	}
	if c.Completion.PollMaxAttempts <= 0 {
		c.Completion.PollMaxAttempts = 30
	}
	if c.Completion.PollTransientWait <= 0 {
		c.Completion.PollTransientWait = 2000
	}
	if c.Retrieval.ContentK <= 0 {
		c.Retrieval.ContentK = 10
	}
	if c.Retrieval.ImageK <= 0 {
		c.Retrieval.ImageK = 5
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 60
	}
	if c.RateLimit.Limit <= 0 {
		c.RateLimit.Limit = 10
	}
	if c.RateLimit.BlacklistSec <= 0 {
		c.RateLimit.BlacklistSec = 600
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key is required")
	}
	switch c.Completion.Driver {
	case "chat":
		if c.Completion.APIKey == "" {
			return fmt.Errorf("completion.api_key is required")
		}
	case "assistant":
		if c.Completion.APIKey == "" {
			return fmt.Errorf("completion.api_key is required")
		}
		if c.Completion.AssistantID == "" {
			return fmt.Errorf("completion.assistant_id is required for the assistant driver")
		}
	default:
		return fmt.Errorf("completion.driver must be \"chat\" or \"assistant\", got %q", c.Completion.Driver)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
