package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/metrics"
)

// Default provider settings. Voyage AI exposes an OpenAI-compatible /embeddings endpoint.
const (
	DefaultBaseURL = "https://api.voyageai.com/v1"
	DefaultModel   = "voyage-code-3"
	DefaultTimeout = 30 * time.Second

	// maxBatchSize is the number of inputs sent in a single provider request.
	maxBatchSize = 128
)

// Embedder converts text into vectors.
type Embedder interface {
	// Embed returns the vector for a single non-empty text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds the embedding provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration

	// RequestsPerSecond paces outbound requests. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client is an Embedder backed by an OpenAI-compatible embeddings API.
// It never retries; failures are classified and returned to the caller.
type Client struct {
	client  *openai.Client
	apiKey  string
	model   string
	limiter *rate.Limiter

	mu        sync.Mutex
	dimension int
}

// NewClient creates an embedding client. Empty fields fall back to the defaults.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		client:  openai.NewClientWithConfig(clientCfg),
		apiKey:  cfg.APIKey,
		model:   model,
		limiter: limiter,
	}
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.model
}

// Dimension returns the vector length observed in the first successful
// response, or zero before any request succeeded.
func (c *Client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimension
}

// Embed implements Embedder.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Embedder. Inputs larger than the provider batch limit
// are split into several sequential requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("input %d is empty: %w", i, domain.ErrInvalidRequest)
		}
	}
	if c.apiKey == "" {
		c.recordError("auth")
		return nil, fmt.Errorf("embedding API key is not configured: %w", domain.ErrAuthentication)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := min(start+maxBatchSize, len(texts))
		vecs, err := c.request(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			c.recordError("transport")
			return nil, fmt.Errorf("waiting for embedding rate limiter: %w", errors.Join(domain.ErrTransport, err))
		}
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.model),
	})
	metrics.EmbeddingRequestDuration.WithLabelValues(c.model).Observe(time.Since(start).Seconds())

	if err != nil {
		classified, kind := classifyError(err)
		c.recordError(kind)
		slog.Debug("Embedding request failed", "model", c.model, "inputs", len(texts), "error", err)
		return nil, classified
	}

	if len(resp.Data) != len(texts) {
		c.recordError("transport")
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs: %w",
			len(resp.Data), len(texts), domain.ErrTransport)
	}

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) || vecs[d.Index] != nil {
			c.recordError("transport")
			return nil, fmt.Errorf("embedding response has invalid or repeated index %d for %d inputs: %w",
				d.Index, len(texts), domain.ErrTransport)
		}
		if len(d.Embedding) == 0 {
			c.recordError("transport")
			return nil, fmt.Errorf("embedding response contains an empty vector: %w", domain.ErrTransport)
		}
		if err := c.pinDimension(len(d.Embedding)); err != nil {
			c.recordError("dimension")
			return nil, err
		}
		vecs[d.Index] = d.Embedding
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "success").Inc()
	return vecs, nil
}

func (c *Client) pinDimension(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dimension == 0 {
		c.dimension = n
		return nil
	}
	if c.dimension != n {
		return fmt.Errorf("provider returned %d dimensions, expected %d: %w", n, c.dimension, domain.ErrDimensionMismatch)
	}
	return nil
}

func (c *Client) recordError(kind string) {
	metrics.EmbeddingRequestsTotal.WithLabelValues(c.model, "error").Inc()
	metrics.EmbeddingErrorsTotal.WithLabelValues(c.model, kind).Inc()
}

// classifyError maps a provider error to a domain error kind and a metrics label.
func classifyError(err error) (error, string) {
	status := 0
	detail := ""

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		detail = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		detail = strings.TrimSpace(string(reqErr.Body))
	}

	if status == 0 {
		return fmt.Errorf("embedding request failed: %w", errors.Join(domain.ErrTransport, err)), "transport"
	}

	var kind error
	var label string
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind, label = domain.ErrAuthentication, "auth"
	case http.StatusTooManyRequests:
		kind, label = domain.ErrRateLimit, "rate_limit"
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		kind, label = domain.ErrInvalidRequest, "invalid_request"
	default:
		kind, label = domain.ErrTransport, "transport"
	}

	if detail != "" {
		return fmt.Errorf("embedding API error %d: %s: %w", status, detail, kind), label
	}
	return fmt.Errorf("embedding API error %d: %w", status, kind), label
}
