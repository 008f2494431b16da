package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"hochat/internal/common/fsutil"
)

// Config holds runtime parameters for the daemon and the CLI.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir      string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`
	CatalogPath  string `json:"catalog_path" yaml:"catalog_path" toml:"catalog_path"`
	// LegacyPath points at the flat key/value file older releases wrote.
	LegacyPath string `json:"legacy_path" yaml:"legacy_path" toml:"legacy_path"`

	Database   DatabaseConfig   `json:"database" yaml:"database" toml:"database"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" toml:"cache"`
	Provider   ProviderConfig   `json:"provider" yaml:"provider" toml:"provider"`
	Engine     EngineConfig     `json:"engine" yaml:"engine" toml:"engine"`
	Generation GenerationConfig `json:"generation" yaml:"generation" toml:"generation"`
	CORS       CORSConfig       `json:"cors" yaml:"cors" toml:"cors"`

	PopulationConcurrency int   `json:"population_concurrency" yaml:"population_concurrency" toml:"population_concurrency"`
	RetentionDays         int   `json:"retention_days" yaml:"retention_days" toml:"retention_days"`
	MaxBodyBytes          int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// DatabaseConfig selects the conversation store backend.
type DatabaseConfig struct {
	// Driver is one of sqlite, postgres, mysql.
	Driver string `json:"driver" yaml:"driver" toml:"driver"`
	// DSN is a file path for sqlite, a connection string otherwise.
	DSN string `json:"dsn" yaml:"dsn" toml:"dsn"`
}

// CacheConfig selects the model asset cache tier.
type CacheConfig struct {
	// Backend is one of fs, minio, none.
	Backend string      `json:"backend" yaml:"backend" toml:"backend"`
	Dir     string      `json:"dir" yaml:"dir" toml:"dir"`
	Minio   MinioConfig `json:"minio" yaml:"minio" toml:"minio"`
}

// MinioConfig configures the object storage cache backend.
type MinioConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket" toml:"bucket"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl" toml:"use_ssl"`
}

// ProviderConfig describes where manifests and weight files are fetched from.
type ProviderConfig struct {
	BaseURL      string `json:"base_url" yaml:"base_url" toml:"base_url"`
	ManifestFile string `json:"manifest_file" yaml:"manifest_file" toml:"manifest_file"`
	AccessToken  string `json:"access_token" yaml:"access_token" toml:"access_token"`
}

// EngineConfig selects the inference runtime.
type EngineConfig struct {
	// Kind is one of llama, openai.
	Kind       string `json:"kind" yaml:"kind" toml:"kind"`
	BaseURL    string `json:"base_url" yaml:"base_url" toml:"base_url"`
	APIKey     string `json:"api_key" yaml:"api_key" toml:"api_key"`
	CtxSize    int    `json:"ctx_size" yaml:"ctx_size" toml:"ctx_size"`
	Threads    int    `json:"threads" yaml:"threads" toml:"threads"`
	ScratchDir string `json:"scratch_dir" yaml:"scratch_dir" toml:"scratch_dir"`
}

// GenerationConfig holds sampling defaults for chat completions.
type GenerationConfig struct {
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// CORSConfig is opt-in; browsers talking to the daemon need it.
type CORSConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:         "127.0.0.1:8080",
		DataDir:      "~/.local/share/hochat",
		LogLevel:     "info",
		LogFormat:    "console",
		DefaultModel: "Llama-3.2-1B-Instruct-q4f32_1-MLC",
		Database:     DatabaseConfig{Driver: "sqlite"},
		Cache:        CacheConfig{Backend: "fs"},
		Provider: ProviderConfig{
			BaseURL:      "https://huggingface.co/mlc-ai",
			ManifestFile: "ndarray-cache.json",
		},
		Engine:                EngineConfig{Kind: "openai", BaseURL: "http://127.0.0.1:8000", CtxSize: 4096, Threads: 4},
		Generation:            GenerationConfig{Temperature: 0.7, MaxTokens: 2048},
		PopulationConcurrency: 2,
		MaxBodyBytes:          16 << 20,
	}
}

// ApplyEnv overrides fields from HOCHAT_* environment variables.
func (c *Config) ApplyEnv() {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("HOCHAT_ADDR", &c.Addr)
	str("HOCHAT_DATA_DIR", &c.DataDir)
	str("HOCHAT_LOG_LEVEL", &c.LogLevel)
	str("HOCHAT_DEFAULT_MODEL", &c.DefaultModel)
	str("HOCHAT_DB_DRIVER", &c.Database.Driver)
	str("HOCHAT_DB_DSN", &c.Database.DSN)
	str("HOCHAT_CACHE_BACKEND", &c.Cache.Backend)
	str("HOCHAT_CACHE_DIR", &c.Cache.Dir)
	str("HOCHAT_PROVIDER_URL", &c.Provider.BaseURL)
	str("HOCHAT_ACCESS_TOKEN", &c.Provider.AccessToken)
	str("HOCHAT_ENGINE", &c.Engine.Kind)
	str("HOCHAT_ENGINE_URL", &c.Engine.BaseURL)
	str("HOCHAT_ENGINE_API_KEY", &c.Engine.APIKey)
	if v := os.Getenv("HOCHAT_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RetentionDays = n
		}
	}
}

// Resolve expands the data directory and fills derived paths that were left
// empty. It does not touch the filesystem.
func (c *Config) Resolve() error {
	dir, err := fsutil.ExpandHome(c.DataDir)
	if err != nil {
		return err
	}
	c.DataDir = dir
	if c.Database.Driver == "sqlite" && c.Database.DSN == "" {
		c.Database.DSN = filepath.Join(dir, "conversations.db")
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = filepath.Join(dir, "models")
	} else if c.Cache.Dir, err = fsutil.ExpandHome(c.Cache.Dir); err != nil {
		return err
	}
	if c.LegacyPath == "" {
		c.LegacyPath = filepath.Join(dir, "localstorage.db")
	} else if c.LegacyPath, err = fsutil.ExpandHome(c.LegacyPath); err != nil {
		return err
	}
	if c.Engine.ScratchDir == "" {
		c.Engine.ScratchDir = filepath.Join(dir, "engine")
	}
	return nil
}

// Validate rejects values the daemon cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("database.driver: unsupported %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "fs", "none":
	case "minio":
		if c.Cache.Minio.Endpoint == "" || c.Cache.Minio.Bucket == "" {
			return fmt.Errorf("cache.minio: endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("cache.backend: unsupported %q", c.Cache.Backend)
	}
	switch c.Engine.Kind {
	case "llama":
	case "openai":
		if strings.TrimSpace(c.Engine.BaseURL) == "" {
			return fmt.Errorf("engine.base_url is required for the openai engine")
		}
	default:
		return fmt.Errorf("engine.kind: unsupported %q", c.Engine.Kind)
	}
	if c.Provider.BaseURL == "" || c.Provider.ManifestFile == "" {
		return fmt.Errorf("provider.base_url and provider.manifest_file are required")
	}
	if c.Generation.MaxTokens <= 0 {
		return fmt.Errorf("generation.max_tokens must be positive")
	}
	if c.Generation.Temperature < 0 {
		return fmt.Errorf("generation.temperature must not be negative")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("retention_days must not be negative")
	}
	return nil
}
