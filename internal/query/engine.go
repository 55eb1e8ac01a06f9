package query

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/embedding"
)

// Defaults for result sizing.
const (
	DefaultTopK = 8
	MaxTopK     = 50
)

// DefaultLanguages are the documentation languages accepted as filters.
var DefaultLanguages = []string{"Java", "Python", "C++", "API Reference"}

// languageAliases maps lower-case alternative spellings to canonical names.
var languageAliases = map[string]string{
	"cpp": "C++",
}

// Store is the read side of the document store used by the engine.
type Store interface {
	CurrentVersion() (string, bool)
	LatestVersion() (string, bool)
	Versions() []string
	Languages(version string) []string
	Search(ctx context.Context, vec []float32, filter domain.Filter, topK int) ([]domain.ScoredChunk, error)
}

// Options configures the engine. Zero values select the defaults.
type Options struct {
	DefaultTopK int
	MaxTopK     int
	Languages   []string
	// Model names the embedding model reported by EmbedQuery.
	Model string
}

// Embedding is a query vector together with the model that produced it.
type Embedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model,omitempty"`
	Dimension int       `json:"dimension"`
}

// Engine answers retrieval queries against the installed snapshot.
type Engine struct {
	store       Store
	embedder    embedding.Embedder
	defaultTopK int
	maxTopK     int
	languages   map[string]string
	model       string
}

// New creates a query engine.
func New(store Store, embedder embedding.Embedder, opts Options) *Engine {
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = MaxTopK
	}
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = DefaultTopK
	}
	opts.DefaultTopK = min(opts.DefaultTopK, opts.MaxTopK)
	if len(opts.Languages) == 0 {
		opts.Languages = DefaultLanguages
	}

	languages := make(map[string]string, len(opts.Languages))
	for _, lang := range opts.Languages {
		lang = strings.TrimSpace(lang)
		if lang != "" {
			languages[strings.ToLower(lang)] = lang
		}
	}

	return &Engine{
		store:       store,
		embedder:    embedder,
		defaultTopK: opts.DefaultTopK,
		maxTopK:     opts.MaxTopK,
		languages:   languages,
		model:       opts.Model,
	}
}

// Query embeds the question and returns the most similar chunks of the
// requested version and language. An omitted version means the latest one
// installed; an omitted language means any. Embedding failures are returned
// as is; there is no keyword fallback.
func (e *Engine) Query(ctx context.Context, req domain.QueryRequest) (domain.QueryResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return domain.QueryResult{}, fmt.Errorf("question must not be empty: %w", domain.ErrInvalidRequest)
	}

	if _, ok := e.store.CurrentVersion(); !ok {
		return domain.QueryResult{}, domain.ErrNoDocumentation
	}

	version, err := e.resolveVersion(req.Version)
	if err != nil {
		return domain.QueryResult{}, err
	}
	language, err := e.resolveLanguage(req.Language)
	if err != nil {
		return domain.QueryResult{}, err
	}
	topK, err := e.resolveTopK(req.TopK)
	if err != nil {
		return domain.QueryResult{}, err
	}

	vec, err := e.embedder.Embed(ctx, question)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("embedding question: %w", err)
	}

	hits, err := e.store.Search(ctx, vec, domain.Filter{Version: version, Language: language}, topK)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("searching documentation: %w", err)
	}

	slog.Debug("Query answered", "version", version, "language", language, "top_k", topK, "hits", len(hits))
	return domain.QueryResult{
		Question: question,
		Version:  version,
		Language: language,
		Hits:     hits,
	}, nil
}

// LatestVersion returns the newest documentation version installed.
func (e *Engine) LatestVersion() (string, error) {
	version, ok := e.store.LatestVersion()
	if !ok {
		return "", domain.ErrNoDocumentation
	}
	return version, nil
}

// ListVersions returns the installed documentation versions, newest first.
func (e *Engine) ListVersions() ([]string, error) {
	if _, ok := e.store.CurrentVersion(); !ok {
		return nil, domain.ErrNoDocumentation
	}
	return e.store.Versions(), nil
}

// ListLanguages returns the sorted languages documented for version, or for
// all versions when version is empty.
func (e *Engine) ListLanguages(version string) ([]string, error) {
	if _, ok := e.store.CurrentVersion(); !ok {
		return nil, domain.ErrNoDocumentation
	}
	version = strings.TrimSpace(version)
	if version != "" && !domain.ValidVersion(version) {
		return nil, fmt.Errorf("version %q is not a dotted numeric tag: %w", version, domain.ErrInvalidRequest)
	}
	return e.store.Languages(version), nil
}

// EmbedQuery returns the embedding of text as used for retrieval.
func (e *Engine) EmbedQuery(ctx context.Context, text string) (Embedding, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Embedding{}, fmt.Errorf("text must not be empty: %w", domain.ErrInvalidRequest)
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return Embedding{}, err
	}
	return Embedding{Vector: vec, Model: e.model, Dimension: len(vec)}, nil
}

// SupportedLanguages returns the accepted language filters.
func (e *Engine) SupportedLanguages() []string {
	out := make([]string, 0, len(e.languages))
	for _, lang := range e.languages {
		out = append(out, lang)
	}
	slices.Sort(out)
	return out
}

// DefaultTopK returns the number of hits returned when none is requested.
func (e *Engine) DefaultTopK() int {
	return e.defaultTopK
}

func (e *Engine) resolveVersion(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		latest, ok := e.store.LatestVersion()
		if !ok {
			return "", domain.ErrNoDocumentation
		}
		return latest, nil
	}
	if !domain.ValidVersion(version) {
		return "", fmt.Errorf("version %q is not a dotted numeric tag: %w", version, domain.ErrInvalidRequest)
	}
	return version, nil
}

func (e *Engine) resolveLanguage(language string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(language))
	if key == "" {
		return "", nil
	}
	if alias, ok := languageAliases[key]; ok {
		key = strings.ToLower(alias)
	}
	if canonical, ok := e.languages[key]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("unsupported language %q (supported: %s): %w",
		language, strings.Join(e.SupportedLanguages(), ", "), domain.ErrInvalidRequest)
}

func (e *Engine) resolveTopK(topK int) (int, error) {
	switch {
	case topK == 0:
		return e.defaultTopK, nil
	case topK < 0 || topK > e.maxTopK:
		return 0, fmt.Errorf("top_k must be between 1 and %d, got %d: %w", e.maxTopK, topK, domain.ErrInvalidRequest)
	default:
		return topK, nil
	}
}
