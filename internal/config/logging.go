package config

import (
	"context"
	"log/slog"
)

const masked = "****"

// Log logs the resolved settings in a granular way, skipping irrelevant ones
func Log(s *Settings) {
	LogWithLogger(s, slog.Default())
}

// LogWithLogger logs the resolved settings using the provided logger
func LogWithLogger(s *Settings, logger *slog.Logger) {
	ctx := context.Background()
	logger.InfoContext(ctx, "Config: transport", "value", s.Transport)
	if s.Transport == "sse" {
		logger.InfoContext(ctx, "Config: host", "value", s.Host)
		logger.InfoContext(ctx, "Config: port", "value", s.Port)
	}
	logger.InfoContext(ctx, "Config: log_level", "value", s.LogLevel)
	logger.InfoContext(ctx, "Config: data_dir", "value", s.DataDir)

	logger.InfoContext(ctx, "Config: auth.type", "value", s.Auth.Type)
	switch s.Auth.Type {
	case AuthTypeBasic:
		logger.InfoContext(ctx, "Config: auth.basic.username", "value", s.Auth.Basic.Username)
		logger.InfoContext(ctx, "Config: auth.basic.password", "value", masked)
	case AuthTypeAPIKey:
		logger.InfoContext(ctx, "Config: auth.api_keys", "count", len(s.Auth.APIKeys))
	}

	e := s.Embedding
	logger.InfoContext(ctx, "Config: embedding.base_url", "value", e.BaseURL)
	logger.InfoContext(ctx, "Config: embedding.model", "value", e.Model)
	logger.InfoContext(ctx, "Config: embedding.api_key", "value", maskSecret(e.APIKey))
	logger.InfoContext(ctx, "Config: embedding.rate", "requests_per_second", e.RequestsPerSecond, "burst", e.Burst)
	logger.InfoContext(ctx, "Config: embedding.cache.enabled", "value", e.Cache.Enabled)
	if e.Cache.Enabled {
		logger.InfoContext(ctx, "Config: embedding.cache.redis_addr", "value", e.Cache.RedisAddr)
		logger.InfoContext(ctx, "Config: embedding.cache.ttl", "value", e.Cache.TTL)
	}

	logger.InfoContext(ctx, "Config: sync.base_url", "value", s.Sync.BaseURL)
	logger.InfoContext(ctx, "Config: sync.auto_update", "value", s.Sync.AutoUpdate)
	logger.InfoContext(ctx, "Config: sync.on_startup", "value", s.Sync.OnStartup)
	if s.Sync.Interval > 0 {
		logger.InfoContext(ctx, "Config: sync.interval", "value", s.Sync.Interval)
	}

	logger.InfoContext(ctx, "Config: query.top_k", "default", s.Query.DefaultTopK, "max", s.Query.MaxTopK)
	logger.InfoContext(ctx, "Config: query.languages", "value", s.Query.Languages)
}

// maskSecret reports whether a secret is set without revealing it
func maskSecret(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return masked
}

// AuthSettingsLogValue returns a slog.Value for AuthSettings with masked data
func AuthSettingsLogValue(s AuthSettings) slog.Value {
	keys := make([]string, len(s.APIKeys))
	for i := range s.APIKeys {
		keys[i] = masked
	}
	return slog.GroupValue(
		slog.String("type", s.Type),
		slog.Any("basic", BasicAuthSettingsLogValue(s.Basic)),
		slog.Any("api_keys", keys),
	)
}

// BasicAuthSettingsLogValue returns a slog.Value for BasicAuthSettings with masked data
func BasicAuthSettingsLogValue(s BasicAuthSettings) slog.Value {
	return slog.GroupValue(
		slog.String("username", s.Username),
		slog.String("password", masked),
	)
}

// EmbeddingSettingsLogValue returns a slog.Value for EmbeddingSettings with masked data
func EmbeddingSettingsLogValue(s EmbeddingSettings) slog.Value {
	return slog.GroupValue(
		slog.String("base_url", s.BaseURL),
		slog.String("model", s.Model),
		slog.String("api_key", maskSecret(s.APIKey)),
		slog.Duration("timeout", s.Timeout),
		slog.Float64("requests_per_second", s.RequestsPerSecond),
		slog.Int("burst", s.Burst),
		slog.Group("cache",
			slog.Bool("enabled", s.Cache.Enabled),
			slog.String("redis_addr", s.Cache.RedisAddr),
			slog.String("redis_password", maskSecret(s.Cache.RedisPassword)),
			slog.Int("redis_db", s.Cache.RedisDB),
			slog.Duration("ttl", s.Cache.TTL),
		),
	)
}

// SettingsLogValue returns a slog.Value for Settings with masked data
func SettingsLogValue(s Settings) slog.Value {
	return slog.GroupValue(
		slog.String("transport", s.Transport),
		slog.String("host", s.Host),
		slog.Int("port", s.Port),
		slog.String("log_level", s.LogLevel),
		slog.String("data_dir", s.DataDir),
		slog.Any("auth", AuthSettingsLogValue(s.Auth)),
		slog.Any("embedding", EmbeddingSettingsLogValue(s.Embedding)),
		slog.Group("sync",
			slog.String("base_url", s.Sync.BaseURL),
			slog.Bool("auto_update", s.Sync.AutoUpdate),
			slog.Bool("on_startup", s.Sync.OnStartup),
			slog.Duration("interval", s.Sync.Interval),
		),
		slog.Group("query",
			slog.Int("default_top_k", s.Query.DefaultTopK),
			slog.Int("max_top_k", s.Query.MaxTopK),
			slog.Any("languages", s.Query.Languages),
		),
	)
}
