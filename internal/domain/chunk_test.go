package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestDocumentChunk_Citation(t *testing.T) {
	chunk := DocumentChunk{
		ID:         "c1",
		Text:       "Use the SparkMax motor controller",
		Embedding:  []float32{0.1, 0.2},
		Version:    "2025.3.2",
		Language:   "Java",
		SourcePath: "docs/software/hardware-apis/motors.rst",
		Title:      "Motor Controllers",
		URL:        "https://docs.wpilib.org/en/stable/motors.html",
	}

	c := chunk.Citation()
	if c.SourcePath != chunk.SourcePath || c.Version != chunk.Version || c.Language != chunk.Language {
		t.Errorf("Citation() = %+v, does not match chunk provenance", c)
	}
	if c.Title != "Motor Controllers" || c.URL != chunk.URL {
		t.Errorf("Citation() title/url = %q/%q", c.Title, c.URL)
	}
}

func TestDocumentChunk_JSONOmitsEmbedding(t *testing.T) {
	chunk := DocumentChunk{ID: "c1", Text: "text", Embedding: []float32{1, 2, 3}}

	data, err := json.Marshal(chunk)
	if err != nil {
		t.Fatalf("Failed to marshal DocumentChunk: %v", err)
	}
	if strings.Contains(string(data), "embedding") {
		t.Errorf("Expected embedding to be omitted, got %s", data)
	}
}

func TestFilter_IsEmpty(t *testing.T) {
	if !(Filter{}).IsEmpty() {
		t.Error("Expected zero filter to be empty")
	}
	if (Filter{Language: "Java"}).IsEmpty() {
		t.Error("Expected language filter to be non-empty")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"transport", fmt.Errorf("fetch: %w", ErrTransport), true},
		{"rate limit", ErrRateLimit, true},
		{"integrity", ErrIntegrity, true},
		{"corrupt", fmt.Errorf("unpack: %w", ErrCorruptSnapshot), true},
		{"auth", ErrAuthentication, false},
		{"invalid", ErrInvalidRequest, false},
		{"other", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestUserMessage(t *testing.T) {
	kinds := []error{
		ErrInvalidRequest, ErrNoDocumentation, ErrAuthentication, ErrRateLimit,
		ErrIntegrity, ErrCorruptSnapshot, ErrManifest, ErrDimensionMismatch, ErrTransport,
	}

	seen := make(map[string]error)
	for _, kind := range kinds {
		msg := UserMessage(fmt.Errorf("context: %w", kind))
		prefix, _, _ := strings.Cut(msg, ":")
		if other, dup := seen[prefix]; dup {
			t.Errorf("%v and %v share the message %q", kind, other, prefix)
		}
		seen[prefix] = kind
		if !strings.Contains(msg, kind.Error()) {
			t.Errorf("message %q does not include the cause", msg)
		}
	}

	if UserMessage(nil) != "" {
		t.Error("expected empty message for nil error")
	}
	if got := UserMessage(ErrEmptyStore); !strings.HasPrefix(got, "No documentation") {
		t.Errorf("expected empty store to read as missing documentation, got %q", got)
	}
}
