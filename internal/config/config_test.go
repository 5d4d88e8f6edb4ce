package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "test.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	return dir
}

func TestLoad(t *testing.T) {
	writeConfig(t, `
http:
  port: 8080
embedding:
  api_key: embed-key
  dimensions: 512
completion:
  driver: chat
  api_key: chat-key
`)

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
	if cfg.Embedding.Dimensions != 512 {
		t.Errorf("Embedding.Dimensions = %d, want 512", cfg.Embedding.Dimensions)
	}

	// Defaults should be filled in.
	if cfg.Completion.Model != "deepseek-chat" {
		t.Errorf("Completion.Model = %q, want default", cfg.Completion.Model)
	}
	if cfg.Retrieval.ContentK != 10 || cfg.Retrieval.ImageK != 5 {
		t.Errorf("Retrieval defaults = (%d, %d), want (10, 5)", cfg.Retrieval.ContentK, cfg.Retrieval.ImageK)
	}
	if cfg.RateLimit.WindowSec != 60 || cfg.RateLimit.Limit != 10 || cfg.RateLimit.BlacklistSec != 600 {
		t.Errorf("RateLimit defaults = %+v", cfg.RateLimit)
	}
	if !cfg.RetrievalEnabled() || !cfg.RateLimitEnabled() {
		t.Error("toggles should default to enabled")
	}
}

func TestLoadEnvExpansion(t *testing.T) {
	t.Setenv("RAGDEX_TEST_KEY", "secret-from-env")
	writeConfig(t, `
http:
  port: 9090
embedding:
  api_key: ${RAGDEX_TEST_KEY}
completion:
  api_key: ${RAGDEX_MISSING_KEY:-fallback-key}
`)

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Embedding.APIKey != "secret-from-env" {
		t.Errorf("Embedding.APIKey = %q, want value from env", cfg.Embedding.APIKey)
	}
	if cfg.Completion.APIKey != "fallback-key" {
		t.Errorf("Completion.APIKey = %q, want default fallback", cfg.Completion.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		var c Config
		c.HTTP.Port = 8080
		c.Embedding.APIKey = "k"
		c.Completion.APIKey = "k"
		c.ApplyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid chat driver",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.HTTP.Port = 0 },
			wantErr: "http.port",
		},
		{
			name:    "missing embedding key",
			mutate:  func(c *Config) { c.Embedding.APIKey = "" },
			wantErr: "embedding.api_key",
		},
		{
			name:    "assistant driver without assistant id",
			mutate:  func(c *Config) { c.Completion.Driver = "assistant" },
			wantErr: "assistant_id",
		},
		{
			name: "assistant driver complete",
			mutate: func(c *Config) {
				c.Completion.Driver = "assistant"
				c.Completion.AssistantID = "asst_123"
			},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Completion.Driver = "batch" },
			wantErr: "completion.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("ENV", "")
	if got := GetEnv(); got != "local" {
		t.Errorf("GetEnv() = %q, want local", got)
	}
	t.Setenv("ENV", "prod")
	if got := GetEnv(); got != "prod" {
		t.Errorf("GetEnv() = %q, want prod", got)
	}
}
