package domain

// DocumentChunk is a retrievable unit of documentation text together with its
// embedding vector and provenance metadata.
type DocumentChunk struct {
	// ID is unique within a snapshot.
	ID string `json:"id"`

	// Text is the chunk body returned to callers as a snippet.
	Text string `json:"text"`

	// Embedding is the chunk vector. All chunks of a snapshot share its length.
	Embedding []float32 `json:"-"`

	// Version is the documentation version the chunk belongs to.
	// Example: "2025.3.2"
	Version string `json:"version"`

	// Language is the programming language of the chunk.
	// Example: "Java", "Python", "C++", "API Reference"
	Language string `json:"language"`

	// SourcePath is the path of the source document within the corpus.
	SourcePath string `json:"source_path"`

	// Optional provenance carried by the corpus metadata.
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	Component   string `json:"component,omitempty"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Citation points a caller back to the origin of a retrieved chunk.
type Citation struct {
	SourcePath string `json:"source_path"`
	Version    string `json:"version"`
	Language   string `json:"language"`
	Title      string `json:"title,omitempty"`
	URL        string `json:"url,omitempty"`
}

// Citation derives the citation of the chunk.
func (c DocumentChunk) Citation() Citation {
	return Citation{
		SourcePath: c.SourcePath,
		Version:    c.Version,
		Language:   c.Language,
		Title:      c.Title,
		URL:        c.URL,
	}
}

// Filter restricts a search to chunks matching the given metadata.
// An empty field matches everything.
type Filter struct {
	Version  string
	Language string
}

// IsEmpty reports whether the filter matches every chunk.
func (f Filter) IsEmpty() bool {
	return f.Version == "" && f.Language == ""
}

// QueryRequest is a natural-language question with optional scoping.
// Empty strings and a zero TopK mean "omitted".
type QueryRequest struct {
	Question string
	Version  string
	Language string
	TopK     int
}

// ScoredChunk pairs a chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk DocumentChunk
	Score float64
}

// QueryResult is the ranked outcome of a query. Hits are ordered by descending
// score, ties broken by ascending chunk ID.
type QueryResult struct {
	Question string
	Version  string
	Language string
	Hits     []ScoredChunk
}
