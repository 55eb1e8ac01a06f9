package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet.
// Unset flags fall through to environment variables and defaults.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn, or error")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")
	flags.StringP("data-dir", "d", "", "Directory holding installed documentation snapshots")

	RegisterEmbeddingFlags(flags)
	RegisterSyncFlags(flags)

	flags.Int("query-default-top-k", 0, "Results returned when a query does not set top_k")
	flags.Int("query-max-top-k", 0, "Largest top_k a query may request")
	flags.StringSlice("query-languages", nil, "Languages accepted by the language filter (comma-separated)")
}

// RegisterEmbeddingFlags registers the embedding provider flags
func RegisterEmbeddingFlags(flags *pflag.FlagSet) {
	flags.String("embedding-api-key", "", "Embedding provider API key (also read from VOYAGE_API_KEY)")
	flags.String("embedding-base-url", "", "Embedding provider base URL")
	flags.String("embedding-model", "", "Embedding model name")
	flags.Duration("embedding-timeout", 0, "Embedding request timeout")
	flags.Float64("embedding-requests-per-second", 0, "Outbound embedding request rate")
	flags.Int("embedding-burst", 0, "Embedding request burst size")
	flags.Bool("embedding-cache-enabled", false, "Cache query embeddings in Redis")
	flags.String("embedding-cache-redis-addr", "", "Redis address for the embedding cache")
	flags.String("embedding-cache-redis-password", "", "Redis password for the embedding cache")
	flags.Int("embedding-cache-redis-db", 0, "Redis database for the embedding cache")
	flags.Duration("embedding-cache-ttl", 0, "Embedding cache entry lifetime")
}

// RegisterSyncFlags registers the snapshot synchronization flags
func RegisterSyncFlags(flags *pflag.FlagSet) {
	flags.String("sync-base-url", "", "Distribution server base URL")
	flags.Bool("sync-auto-update", true, "Install newer snapshots automatically")
	flags.Bool("sync-on-startup", true, "Synchronize when the server starts")
	flags.Duration("sync-interval", 0, "Periodic synchronization interval (0 disables)")
	flags.Duration("sync-manifest-timeout", 0, "Version manifest request timeout")
	flags.Duration("sync-download-timeout", 0, "Snapshot download timeout")
	flags.Duration("sync-lock-timeout", 0, "How long to wait for another process's sync")
}
