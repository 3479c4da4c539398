// Package config provides configuration loading and structs for subcog.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Recall     RecallConfig     `yaml:"recall"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Watch      WatchConfig      `yaml:"watch"`
	Router     RouterConfig     `yaml:"router"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the embedding model's own sibling-cache directory.
// Per-scope index/vector/graph paths are resolved by RouterConfig instead,
// since subcog (unlike a single-corpus search engine) has more than one
// storage subtree live at once.
type StorageConfig struct {
	CacheDir string `yaml:"cache_dir"`
}

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	ModelPath       string `yaml:"model_path"`
	Dimensions      int    `yaml:"dimensions"`
	MaxTokens       int    `yaml:"max_tokens"`
	UseQuantization bool   `yaml:"use_quantization"`
	CacheSize       int    `yaml:"cache_size"`
}

// RecallConfig tunes hybrid search.
type RecallConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
	RRFK         int `yaml:"rrf_k"`

	BoostEnabled          bool    `yaml:"boost_enabled"`
	SummaryMultiplier     float64 `yaml:"summary_multiplier"`
	Recency24hMultiplier  float64 `yaml:"recency_24h_multiplier"`
	RecencyWeekMultiplier float64 `yaml:"recency_week_multiplier"`
}

// ResilienceConfig bounds every external call's concurrency and deadline.
type ResilienceConfig struct {
	EmbeddingMaxConcurrent int `yaml:"embedding_max_concurrent"`
	EmbeddingTimeoutSecs   int `yaml:"embedding_timeout_secs"`
	LLMMaxConcurrent       int `yaml:"llm_max_concurrent"`
	LLMTimeoutSecs         int `yaml:"llm_timeout_secs"`
	WebhookTimeoutSecs     int `yaml:"webhook_timeout_secs"`
	MaxBatchFetch          int `yaml:"max_batch_fetch"`
}

// DedupConfig tunes the three-stage deduplicator.
type DedupConfig struct {
	SemanticThreshold       float64 `yaml:"semantic_threshold"`
	RecentCaptureWindowSecs int     `yaml:"recent_capture_window_secs"`
	RecentCaptureCacheSize  int     `yaml:"recent_capture_cache_size"`
}

// WatchConfig holds session-file watch settings (the file-watch capture
// source, source="file-watch").
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to
// true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// RouterConfig configures the DomainRouter.
type RouterConfig struct {
	UserDataDir string    `yaml:"user_data_dir"`
	Org         OrgConfig `yaml:"org"`
}

// OrgConfig is the closed union backing Org scope: exactly one of
// SqliteShared/Postgresql should be set; leaving both unset means Org
// scope is not configured.
type OrgConfig struct {
	SqliteShared *SqliteSharedConfig `yaml:"sqlite_shared"`
	Postgresql   *PostgresqlConfig   `yaml:"postgresql"`
}

// SqliteSharedConfig backs Org scope with a single shared SQLite file.
type SqliteSharedConfig struct {
	Path string `yaml:"path"`
}

// PostgresqlConfig backs Org scope with a shared Postgres cluster.
type PostgresqlConfig struct {
	URL            string `yaml:"url"`
	MaxConnections int    `yaml:"max_connections"`
	TimeoutSecs    int    `yaml:"timeout_secs"`
}

// Load reads and parses the config file at path, expands paths, and
// applies defaults. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.CacheDir = expandPath(cfg.Storage.CacheDir, configDir)
	cfg.Router.UserDataDir = expandPath(cfg.Router.UserDataDir, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Router.Org.SqliteShared != nil {
		cfg.Router.Org.SqliteShared.Path = expandPath(cfg.Router.Org.SqliteShared.Path, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
