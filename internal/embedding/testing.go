package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// FakeEmbedder produces deterministic bag-of-words vectors without network access.
// Texts sharing words land close to each other, which is enough to drive
// ranking in tests. This is exported for use in integration tests.
type FakeEmbedder struct {
	dim int

	mu      sync.Mutex
	vectors map[string][]float32
	err     error
	calls   []string
}

// NewFakeEmbedder creates a fake embedder producing vectors of the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{
		dim:     dim,
		vectors: make(map[string][]float32),
	}
}

// SetVector pins the vector returned for an exact text.
func (f *FakeEmbedder) SetVector(text string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[text] = vec
}

// SetError makes every subsequent call fail with err. Pass nil to clear.
func (f *FakeEmbedder) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns every text embedded so far, in call order.
func (f *FakeEmbedder) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

// Embed implements Embedder.
func (f *FakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder.
func (f *FakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fake embed: %w", err)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("input %d is empty: %w", i, domain.ErrInvalidRequest)
		}
		f.calls = append(f.calls, text)
		if vec, ok := f.vectors[text]; ok {
			out[i] = vec
			continue
		}
		out[i] = HashVector(text, f.dim)
	}
	return out, nil
}

// HashVector builds a normalized bag-of-words vector by hashing each lowercase
// word of text into one of dim buckets.
func HashVector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
