package docstore

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// Snapshot is an immutable, fully loaded set of chunks. It is reference
// counted: the store holds one reference while the snapshot is active and each
// reader holds one for the duration of a read. The filter index is closed when
// the last reference is released.
type Snapshot struct {
	Version  string
	Checksum string
	Model    string
	Dir      string

	InstalledAt time.Time

	chunks    []domain.DocumentChunk
	norms     []float64
	dim       int
	versions  []string
	languages []string
	index     bleve.Index

	refs atomic.Int64
}

// newSnapshot validates chunks and builds the snapshot around them.
// Validation failures are reported as domain.ErrCorruptSnapshot.
func newSnapshot(version, checksum, model, dir string, chunks []domain.DocumentChunk) (*Snapshot, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("snapshot %s has no chunks: %w", version, domain.ErrCorruptSnapshot)
	}

	sort.Slice(chunks, func(i, j int) bool { return chunks[i].ID < chunks[j].ID })

	dim := len(chunks[0].Embedding)
	norms := make([]float64, len(chunks))
	versionSet := make(map[string]struct{})
	languageSet := make(map[string]struct{})

	for i, c := range chunks {
		if i > 0 && chunks[i-1].ID == c.ID {
			return nil, fmt.Errorf("duplicate chunk id %q: %w", c.ID, domain.ErrCorruptSnapshot)
		}
		if len(c.Embedding) != dim {
			return nil, fmt.Errorf("chunk %q has %d dimensions, expected %d: %w",
				c.ID, len(c.Embedding), dim, domain.ErrCorruptSnapshot)
		}
		if !finite(c.Embedding) {
			return nil, fmt.Errorf("chunk %q has a non-finite embedding value: %w", c.ID, domain.ErrCorruptSnapshot)
		}
		norms[i] = norm(c.Embedding)
		versionSet[c.Version] = struct{}{}
		languageSet[c.Language] = struct{}{}
	}

	index, err := buildFilterIndex(chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCorruptSnapshot, err)
	}

	s := &Snapshot{
		Version:   version,
		Checksum:  checksum,
		Model:     model,
		Dir:       dir,
		chunks:    chunks,
		norms:     norms,
		dim:       dim,
		versions:  sortedVersions(versionSet),
		languages: sortedKeys(languageSet),
		index:     index,
	}
	s.refs.Store(1)
	return s, nil
}

// Len returns the number of chunks.
func (s *Snapshot) Len() int {
	return len(s.chunks)
}

// Dimension returns the embedding length shared by all chunks.
func (s *Snapshot) Dimension() int {
	return s.dim
}

// acquire takes a reader reference.
func (s *Snapshot) acquire() {
	s.refs.Add(1)
}

// release drops a reference and closes the index when none remain.
func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 {
		if err := s.index.Close(); err != nil {
			slog.Warn("Failed to close snapshot index", "version", s.Version, "error", err)
		}
	}
}

// search scores every chunk passing the filter and returns the topK best.
func (s *Snapshot) search(vec []float32, filter domain.Filter, topK int) ([]domain.ScoredChunk, error) {
	if len(vec) != s.dim {
		return nil, fmt.Errorf("query vector has %d dimensions, snapshot has %d: %w",
			len(vec), s.dim, domain.ErrDimensionMismatch)
	}
	if !finite(vec) {
		return nil, fmt.Errorf("query vector has a non-finite value: %w", domain.ErrInvalidRequest)
	}

	positions, err := matchingPositions(s.index, filter, len(s.chunks))
	if err != nil {
		return nil, err
	}

	qNorm := norm(vec)
	hits := make([]domain.ScoredChunk, 0, len(positions))
	for _, pos := range positions {
		hits = append(hits, domain.ScoredChunk{
			Chunk: s.chunks[pos],
			Score: cosine(vec, qNorm, s.chunks[pos].Embedding, s.norms[pos]),
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})

	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Snapshot) languagesOf(version string) []string {
	if version == "" {
		return append([]string(nil), s.languages...)
	}

	positions, err := matchingPositions(s.index, domain.Filter{Version: version}, len(s.chunks))
	if err != nil {
		slog.Warn("Failed to list languages", "version", version, "error", err)
		return nil
	}
	set := make(map[string]struct{})
	for _, pos := range positions {
		set[s.chunks[pos].Language] = struct{}{}
	}
	return sortedKeys(set)
}

// cosine returns the cosine similarity of a and b given their norms.
// A zero-magnitude side scores 0.
func cosine(a []float32, aNorm float64, b []float32, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (aNorm * bNorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedVersions(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	domain.SortVersionsDesc(out)
	return out
}

// finite reports whether every component of v is a real number.
func finite(v []float32) bool {
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return false
		}
	}
	return true
}
