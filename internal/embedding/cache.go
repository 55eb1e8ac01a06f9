package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sha1n/mcp-frcdocs-server/internal/metrics"
)

const (
	cacheKeyPrefix = "frcdocs:emb:"

	// DefaultCacheTTL is used when the cache is created with a non-positive TTL.
	DefaultCacheTTL = 7 * 24 * time.Hour
)

// CachedEmbedder caches vectors in Redis, keyed by model and text digest.
// Cache failures are logged and bypassed; they never change the vector returned.
type CachedEmbedder struct {
	inner Embedder
	rdb   redis.Cmdable
	model string
	ttl   time.Duration
}

// NewCachedEmbedder wraps inner with a Redis cache. The model name is part of
// the key so vectors from different embedding spaces never mix.
func NewCachedEmbedder(inner Embedder, rdb redis.Cmdable, model string, ttl time.Duration) *CachedEmbedder {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, model: model, ttl: ttl}
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.get(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.put(ctx, key, vec)
	return vec, nil
}

// EmbedBatch implements Embedder. Only cache misses are sent to the inner embedder.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.get(ctx, keys[i]); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("inner embedder returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		c.put(ctx, keys[i], vecs[j])
	}
	return out, nil
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha256.Sum256([]byte(text))
	return cacheKeyPrefix + c.model + ":" + hex.EncodeToString(h[:])
}

func (c *CachedEmbedder) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
		} else {
			metrics.EmbeddingCacheTotal.WithLabelValues("error").Inc()
			slog.Warn("Failed to read cached embedding", "key", key, "error", err)
		}
		return nil, false
	}

	vec, err := decodeVector(data)
	if err != nil {
		metrics.EmbeddingCacheTotal.WithLabelValues("error").Inc()
		slog.Warn("Failed to decode cached embedding", "key", key, "error", err)
		return nil, false
	}

	metrics.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
	return vec, true
}

func (c *CachedEmbedder) put(ctx context.Context, key string, vec []float32) {
	if err := c.rdb.Set(ctx, key, encodeVector(vec), c.ttl).Err(); err != nil {
		slog.Warn("Failed to cache embedding", "key", key, "error", err)
	}
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector payload length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}
