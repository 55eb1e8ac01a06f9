package docstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFilename is the file recording which snapshot is installed.
const MarkerFilename = "current.json"

// Marker records the installed snapshot. It is the commit point of an install:
// a snapshot is installed once the marker naming it is on disk.
type Marker struct {
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	Dir         string    `json:"dir"`
	InstalledAt time.Time `json:"installed_at"`
}

// LoadMarker reads a marker from disk. It returns nil without error when the
// marker does not exist.
func LoadMarker(path string) (*Marker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read marker: %w", err)
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("failed to parse marker: %w", err)
	}
	if marker.Version == "" || marker.Dir == "" {
		return nil, fmt.Errorf("marker %s is incomplete", path)
	}
	return &marker, nil
}

// Save writes the marker to disk atomically.
// Uses write-to-temp + rename so readers never observe a partial marker.
func (m *Marker) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create marker directory: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write marker temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename marker file: %w", err)
	}

	return nil
}
