package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sha1n/mcp-frcdocs-server/internal/embedding"
	"github.com/sha1n/mcp-frcdocs-server/internal/query"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

// Auth type constants
const (
	AuthTypeNone   = "none"
	AuthTypeBasic  = "basic"
	AuthTypeAPIKey = "apikey"
)

const envPrefix = "FRCDOCS_MCP"

// AuthSettings configuration for authentication
type AuthSettings struct {
	Type    string            `mapstructure:"type"` // AuthTypeNone, AuthTypeBasic, or AuthTypeAPIKey
	Basic   BasicAuthSettings `mapstructure:"basic"`
	APIKeys []string          `mapstructure:"api_keys"`
}

// BasicAuthSettings configuration for basic auth
type BasicAuthSettings struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheSettings configuration for the Redis query embedding cache
type CacheSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// EmbeddingSettings configuration for the embedding provider
type EmbeddingSettings struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Cache             CacheSettings `mapstructure:"cache"`
}

// SyncSettings configuration for documentation snapshot synchronization
type SyncSettings struct {
	BaseURL         string        `mapstructure:"base_url"`
	AutoUpdate      bool          `mapstructure:"auto_update"`
	OnStartup       bool          `mapstructure:"on_startup"`
	Interval        time.Duration `mapstructure:"interval"` // 0 disables periodic sync
	ManifestTimeout time.Duration `mapstructure:"manifest_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
}

// QuerySettings configuration for retrieval
type QuerySettings struct {
	DefaultTopK int      `mapstructure:"default_top_k"`
	MaxTopK     int      `mapstructure:"max_top_k"`
	Languages   []string `mapstructure:"languages"`
}

// Settings application settings
type Settings struct {
	Transport string            `mapstructure:"transport"`
	Host      string            `mapstructure:"host"`
	Port      int               `mapstructure:"port"`
	LogLevel  string            `mapstructure:"log_level"`
	Auth      AuthSettings      `mapstructure:"auth"`
	DataDir   string            `mapstructure:"data_dir"`
	Embedding EmbeddingSettings `mapstructure:"embedding"`
	Sync      SyncSettings      `mapstructure:"sync"`
	Query     QuerySettings     `mapstructure:"query"`
}

// extraEnv lists environment variables honoured after the prefixed one.
var extraEnv = map[string][]string{
	"embedding.api_key": {"VOYAGE_API_KEY", "WPILIB_RAG_VOYAGE_API_KEY"},
	"embedding.model":   {"VOYAGE_MODEL"},
	"sync.auto_update":  {"WPILIB_RAG_AUTO_UPDATE"},
}

// flagBindings maps setting keys to CLI flag names.
var flagBindings = map[string]string{
	"transport":                      "transport",
	"host":                           "host",
	"port":                           "port",
	"log_level":                      "log-level",
	"auth.type":                      "auth-type",
	"auth.basic.username":            "auth-basic-username",
	"auth.basic.password":            "auth-basic-password",
	"auth.api_keys":                  "auth-api-keys",
	"data_dir":                       "data-dir",
	"embedding.api_key":              "embedding-api-key",
	"embedding.base_url":             "embedding-base-url",
	"embedding.model":                "embedding-model",
	"embedding.timeout":              "embedding-timeout",
	"embedding.requests_per_second":  "embedding-requests-per-second",
	"embedding.burst":                "embedding-burst",
	"embedding.cache.enabled":        "embedding-cache-enabled",
	"embedding.cache.redis_addr":     "embedding-cache-redis-addr",
	"embedding.cache.redis_password": "embedding-cache-redis-password",
	"embedding.cache.redis_db":       "embedding-cache-redis-db",
	"embedding.cache.ttl":            "embedding-cache-ttl",
	"sync.base_url":                  "sync-base-url",
	"sync.auto_update":               "sync-auto-update",
	"sync.on_startup":                "sync-on-startup",
	"sync.interval":                  "sync-interval",
	"sync.manifest_timeout":          "sync-manifest-timeout",
	"sync.download_timeout":          "sync-download-timeout",
	"sync.lock_timeout":              "sync-lock-timeout",
	"query.default_top_k":            "query-default-top-k",
	"query.max_top_k":                "query-max-top-k",
	"query.languages":                "query-languages",
}

// LoadSettings loads settings from environment variables and optional .env file
func LoadSettings() (*Settings, error) {
	return LoadSettingsWithFlags(nil)
}

// LoadSettingsWithFlags loads settings with optional CLI flag overrides.
// Priority: CLI flags > environment variables > .env file > defaults.
// If flags is nil, only env vars and defaults are used.
func LoadSettingsWithFlags(flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()

	// Default values
	v.SetDefault("transport", "stdio")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("auth.type", AuthTypeNone)
	v.SetDefault("data_dir", defaultDataDir())

	// Embedding defaults
	v.SetDefault("embedding.base_url", embedding.DefaultBaseURL)
	v.SetDefault("embedding.model", embedding.DefaultModel)
	v.SetDefault("embedding.timeout", embedding.DefaultTimeout)
	v.SetDefault("embedding.requests_per_second", 5.0)
	v.SetDefault("embedding.burst", 5)
	v.SetDefault("embedding.cache.enabled", false)
	v.SetDefault("embedding.cache.redis_addr", "localhost:6379")
	v.SetDefault("embedding.cache.redis_db", 0)
	v.SetDefault("embedding.cache.ttl", embedding.DefaultCacheTTL)

	// Sync defaults
	v.SetDefault("sync.base_url", updater.DefaultBaseURL)
	v.SetDefault("sync.auto_update", true)
	v.SetDefault("sync.on_startup", true)
	v.SetDefault("sync.interval", time.Duration(0))
	v.SetDefault("sync.manifest_timeout", updater.DefaultManifestTimeout)
	v.SetDefault("sync.download_timeout", updater.DefaultDownloadTimeout)
	v.SetDefault("sync.lock_timeout", updater.DefaultLockTimeout)

	// Query defaults
	v.SetDefault("query.default_top_k", query.DefaultTopK)
	v.SetDefault("query.max_top_k", query.MaxTopK)
	v.SetDefault("query.languages", query.DefaultLanguages)

	// Environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind specific env vars for nested config
	for key := range flagBindings {
		names := append([]string{key, envName(key)}, extraEnv[key]...)
		_ = v.BindEnv(names...)
	}

	// Bind CLI flags if provided (highest priority)
	if flags != nil {
		for key, name := range flagBindings {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}

	// Helper to look for .env file
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	_ = v.ReadInConfig() // Ignore error if .env doesn't exist

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, err
	}

	// Comma-separated env values arrive as a single element
	settings.Auth.APIKeys = splitList(settings.Auth.APIKeys)
	settings.Query.Languages = splitList(settings.Query.Languages)

	settings.LogLevel = strings.ToLower(strings.TrimSpace(settings.LogLevel))
	settings.Embedding.APIKey = strings.TrimSpace(settings.Embedding.APIKey)

	// Expand home directory in data_dir
	settings.DataDir = expandHomeDir(settings.DataDir)

	return &settings, nil
}

// envName returns the prefixed environment variable for a setting key.
func envName(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// defaultDataDir returns the default documentation data directory
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frcdocs-mcp"
	}
	return filepath.Join(home, ".frcdocs-mcp")
}

// expandHomeDir expands ~ to the user's home directory
func expandHomeDir(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	return path
}

// splitList splits comma-separated elements, trims spaces and drops empty ones
func splitList(s []string) []string {
	var result []string
	for _, item := range s {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}
	return result
}

// ValidateSettings checks for conflicting configurations.
// Returns an error if the settings contain mutually exclusive or incomplete auth config.
func ValidateSettings(s *Settings) error {
	// Validate transport type
	switch s.Transport {
	case "stdio", "sse":
		// valid
	default:
		return errors.New("transport must be 'stdio' or 'sse', got: " + s.Transport)
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return errors.New("log-level must be one of debug, info, warn, error, got: " + s.LogLevel)
	}

	hasBasicCreds := s.Auth.Basic.Username != "" || s.Auth.Basic.Password != ""
	hasAPIKeys := len(s.Auth.APIKeys) > 0

	switch s.Auth.Type {
	case AuthTypeNone, "":
		if hasBasicCreds || hasAPIKeys {
			return errors.New("auth-type 'none' is incompatible with auth credentials")
		}
	case AuthTypeBasic:
		if hasAPIKeys {
			return errors.New("auth-type 'basic' is mutually exclusive with auth-api-keys")
		}
		if s.Auth.Basic.Username == "" || s.Auth.Basic.Password == "" {
			return errors.New("auth-type 'basic' requires both username and password")
		}
	case AuthTypeAPIKey:
		if hasBasicCreds {
			return errors.New("auth-type 'apikey' is mutually exclusive with basic auth credentials")
		}
		if !hasAPIKeys {
			return errors.New("auth-type 'apikey' requires at least one API key")
		}
	default:
		return errors.New("unknown auth-type: " + s.Auth.Type)
	}

	if s.DataDir == "" {
		return errors.New("data-dir cannot be empty")
	}

	if err := validateEmbeddingSettings(&s.Embedding); err != nil {
		return err
	}
	if err := validateSyncSettings(&s.Sync); err != nil {
		return err
	}
	return validateQuerySettings(&s.Query)
}

// validateEmbeddingSettings validates the embedding provider configuration.
// A missing API key is not an error: documentation listings work without one
// and queries report the missing credential.
func validateEmbeddingSettings(e *EmbeddingSettings) error {
	if e.BaseURL == "" {
		return errors.New("embedding-base-url cannot be empty")
	}
	if e.Model == "" {
		return errors.New("embedding-model cannot be empty")
	}
	if e.Timeout <= 0 {
		return errors.New("embedding-timeout must be positive")
	}
	if e.RequestsPerSecond < 0 {
		return errors.New("embedding-requests-per-second cannot be negative")
	}
	if e.Burst < 0 {
		return errors.New("embedding-burst cannot be negative")
	}

	if !e.Cache.Enabled {
		return nil
	}
	if e.Cache.RedisAddr == "" {
		return errors.New("embedding-cache-enabled requires embedding-cache-redis-addr")
	}
	if e.Cache.TTL <= 0 {
		return errors.New("embedding-cache-ttl must be positive")
	}
	return nil
}

// validateSyncSettings validates the snapshot synchronization configuration
func validateSyncSettings(s *SyncSettings) error {
	if s.BaseURL == "" {
		return errors.New("sync-base-url cannot be empty")
	}
	if s.Interval < 0 {
		return errors.New("sync-interval cannot be negative")
	}
	if s.ManifestTimeout <= 0 {
		return errors.New("sync-manifest-timeout must be positive")
	}
	if s.DownloadTimeout <= 0 {
		return errors.New("sync-download-timeout must be positive")
	}
	if s.LockTimeout <= 0 {
		return errors.New("sync-lock-timeout must be positive")
	}
	return nil
}

// validateQuerySettings validates the retrieval configuration
func validateQuerySettings(q *QuerySettings) error {
	if q.MaxTopK <= 0 {
		return errors.New("query-max-top-k must be positive")
	}
	if q.DefaultTopK <= 0 || q.DefaultTopK > q.MaxTopK {
		return fmt.Errorf("query-default-top-k must be between 1 and %d", q.MaxTopK)
	}
	if len(q.Languages) == 0 {
		return errors.New("query-languages requires at least one language")
	}
	return nil
}
