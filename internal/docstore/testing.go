package docstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// WriteStaged writes chunks as a snapshot database into dir and returns the
// staged snapshot ready for Install.
// This is exported for use in integration tests.
func WriteStaged(dir, version, model string, chunks []domain.DocumentChunk) (Staged, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Staged{}, fmt.Errorf("failed to create staging directory: %w", err)
	}
	if err := WriteDatabase(filepath.Join(dir, DatabaseFilename), version, model, chunks); err != nil {
		return Staged{}, err
	}
	return Staged{Version: version, Dir: dir}, nil
}
