package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/embedding"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

// Property names published by the services below
const (
	PropSyncURL      = "sync_url"
	PropEmbeddingURL = "embedding_url"
)

// DistributionService serves documentation snapshots the way the
// distribution server does
type DistributionService struct {
	dist *updater.FakeDistribution
}

// NewDistributionService creates a stopped distribution service
func NewDistributionService() *DistributionService {
	return &DistributionService{}
}

func (s *DistributionService) Start() (map[string]any, error) {
	s.dist = updater.NewFakeDistribution()
	return map[string]any{PropSyncURL: s.dist.URL()}, nil
}

func (s *DistributionService) Stop() error {
	if s.dist != nil {
		s.dist.Close()
	}
	return nil
}

func (s *DistributionService) GetName() string {
	return "distribution"
}

// Publish makes a snapshot of chunks available as version
func (s *DistributionService) Publish(version string, chunks []domain.DocumentChunk) error {
	return s.dist.Publish(version, embedding.DefaultModel, chunks)
}

// CorruptChecksum makes the published manifest advertise a checksum the
// archive does not match
func (s *DistributionService) CorruptChecksum() {
	m := s.dist.Manifest()
	m.Checksum = strings.Repeat("0", 64)
	s.dist.SetManifest(m)
}

// Downloads returns how many archives were served
func (s *DistributionService) Downloads() int {
	return s.dist.Downloads()
}

// ProviderService is an OpenAI-compatible embeddings endpoint returning
// embedding.HashVector vectors of a fixed dimension
type ProviderService struct {
	Dimension int

	server   *httptest.Server
	requests atomic.Int32
}

// NewProviderService creates a stopped provider producing dim-sized vectors
func NewProviderService(dim int) *ProviderService {
	return &ProviderService{Dimension: dim}
}

func (s *ProviderService) Start() (map[string]any, error) {
	s.server = httptest.NewServer(http.HandlerFunc(s.serveEmbeddings))
	return map[string]any{PropEmbeddingURL: s.server.URL + "/v1"}, nil
}

func (s *ProviderService) Stop() error {
	if s.server != nil {
		s.server.Close()
	}
	return nil
}

func (s *ProviderService) GetName() string {
	return "embedding-provider"
}

// Requests returns how many embedding requests were answered
func (s *ProviderService) Requests() int {
	return int(s.requests.Load())
}

// Vector returns the vector the provider answers for text
func (s *ProviderService) Vector(text string) []float32 {
	return embedding.HashVector(text, s.Dimension)
}

func (s *ProviderService) serveEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/embeddings") {
		http.NotFound(w, r)
		return
	}
	if r.Header.Get("Authorization") == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		Input []string `json:"input"`
		Model string   `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.requests.Add(1)

	resp := openai.EmbeddingResponse{Object: "list", Model: openai.EmbeddingModel(req.Model)}
	for i, text := range req.Input {
		resp.Data = append(resp.Data, openai.Embedding{
			Object:    "embedding",
			Embedding: s.Vector(text),
			Index:     i,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
