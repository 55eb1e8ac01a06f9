package updater

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// RemoteManifest describes the snapshot currently published by the distribution server.
type RemoteManifest struct {
	Version     string  `json:"version"`
	Checksum    string  `json:"checksum,omitempty"`
	SizeMB      float64 `json:"size_mb,omitempty"`
	Changelog   string  `json:"changelog,omitempty"`
	DownloadURL string  `json:"download_url,omitempty"`
}

type manifestDocument struct {
	Version     string  `json:"version"`
	Checksum    string  `json:"checksum"`
	SHA256      string  `json:"sha256"`
	SizeMB      float64 `json:"size_mb"`
	Changelog   string  `json:"changelog"`
	DownloadURL string  `json:"download_url"`
}

// ParseManifest decodes the body of the version endpoint. The server may answer
// with a JSON object, a bare JSON string, or plain text holding the version.
func ParseManifest(body []byte) (RemoteManifest, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return RemoteManifest{}, fmt.Errorf("empty manifest: %w", domain.ErrManifest)
	}

	var m RemoteManifest
	switch body[0] {
	case '{':
		var doc manifestDocument
		if err := json.Unmarshal(body, &doc); err != nil {
			return RemoteManifest{}, fmt.Errorf("%w: %w", domain.ErrManifest, err)
		}
		m = RemoteManifest{
			Version:     doc.Version,
			Checksum:    doc.Checksum,
			SizeMB:      doc.SizeMB,
			Changelog:   doc.Changelog,
			DownloadURL: doc.DownloadURL,
		}
		if m.Checksum == "" {
			m.Checksum = doc.SHA256
		}
	case '"':
		if err := json.Unmarshal(body, &m.Version); err != nil {
			return RemoteManifest{}, fmt.Errorf("%w: %w", domain.ErrManifest, err)
		}
	default:
		line, _, _ := strings.Cut(string(body), "\n")
		m.Version = line
	}

	m.Version = strings.TrimSpace(m.Version)
	m.Checksum = strings.ToLower(strings.TrimSpace(m.Checksum))

	if !domain.ValidVersion(m.Version) {
		return RemoteManifest{}, fmt.Errorf("manifest version %q is not a dotted numeric tag: %w", m.Version, domain.ErrManifest)
	}
	if m.Checksum != "" && !validChecksum(m.Checksum) {
		return RemoteManifest{}, fmt.Errorf("manifest checksum %q is not a SHA-256 digest: %w", m.Checksum, domain.ErrManifest)
	}
	return m, nil
}

func validChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
