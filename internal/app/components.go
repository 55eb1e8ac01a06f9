package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sha1n/mcp-frcdocs-server/internal/config"
	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/embedding"
	"github.com/sha1n/mcp-frcdocs-server/internal/query"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

const redisPingTimeout = 3 * time.Second

// Components are the long-lived services behind the MCP tools
type Components struct {
	Store    *docstore.Store
	Embedder embedding.Embedder
	Engine   *query.Engine
	Updater  *updater.Updater

	redis  *redis.Client
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewComponents opens the document store and builds the services over it.
// An unreachable embedding cache is logged and skipped.
func NewComponents(settings *config.Settings) (*Components, error) {
	store, err := docstore.New(settings.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}

	c := &Components{Store: store}

	var embedder embedding.Embedder = embedding.NewClient(embedding.Config{
		APIKey:            settings.Embedding.APIKey,
		BaseURL:           settings.Embedding.BaseURL,
		Model:             settings.Embedding.Model,
		Timeout:           settings.Embedding.Timeout,
		RequestsPerSecond: settings.Embedding.RequestsPerSecond,
		Burst:             settings.Embedding.Burst,
	})
	if settings.Embedding.APIKey == "" {
		slog.Warn("No embedding API key configured, queries will fail until one is set")
	}

	if cache := settings.Embedding.Cache; cache.Enabled {
		rdb, err := connectRedis(cache)
		if err != nil {
			slog.Warn("Embedding cache unavailable, continuing without it", "addr", cache.RedisAddr, "error", err)
		} else {
			c.redis = rdb
			embedder = embedding.NewCachedEmbedder(embedder, rdb, settings.Embedding.Model, cache.TTL)
			slog.Info("Embedding cache enabled", "addr", cache.RedisAddr, "ttl", cache.TTL)
		}
	}
	c.Embedder = embedder

	c.Engine = query.New(store, embedder, query.Options{
		DefaultTopK: settings.Query.DefaultTopK,
		MaxTopK:     settings.Query.MaxTopK,
		Languages:   settings.Query.Languages,
		Model:       settings.Embedding.Model,
	})

	c.Updater = updater.New(store, updater.Config{
		BaseURL:         settings.Sync.BaseURL,
		ManifestTimeout: settings.Sync.ManifestTimeout,
		DownloadTimeout: settings.Sync.DownloadTimeout,
		LockTimeout:     settings.Sync.LockTimeout,
	})

	return c, nil
}

// connectRedis opens a client and checks the server answers
func connectRedis(cache config.CacheSettings) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cache.RedisAddr,
		Password: cache.RedisPassword,
		DB:       cache.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}

// Start loads the installed snapshot and begins background work: the startup
// sync, the periodic sync loop and the marker watcher. It does not block on
// network access; tools answer from the installed snapshot meanwhile.
func (c *Components) Start(settings config.SyncSettings) {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.Store.Load(ctx); err != nil {
		slog.Warn("Installed snapshot is unusable", "error", err)
	}

	if watching, err := c.Store.Watch(ctx); err != nil {
		slog.Warn("Snapshot watcher disabled", "error", err)
	} else {
		c.wg.Go(func() { <-watching })
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if settings.OnStartup {
			if err := c.Updater.Initialize(ctx, settings.AutoUpdate); err != nil {
				slog.Error("Documentation initialization failed", "error", err)
			}
		}
		c.Updater.Run(ctx, settings.Interval, settings.AutoUpdate)
	}()
}

// Close stops background work and releases the store and cache
func (c *Components) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if err := c.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close document store: %w", err))
	}
	return errors.Join(errs...)
}
