package updater

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// BuildArchive writes chunks as a snapshot database and returns it packed as
// a tar.gz archive together with the archive's SHA-256 digest.
// This is exported for use in integration tests.
func BuildArchive(version, model string, chunks []domain.DocumentChunk) ([]byte, string, error) {
	dir, err := os.MkdirTemp("", "frcdocs-archive-*")
	if err != nil {
		return nil, "", err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	if _, err := docstore.WriteStaged(dir, version, model, chunks); err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	if err := Pack(dir, &buf); err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:]), nil
}

// FakeDistribution is an in-process distribution server serving one published
// snapshot at /version and /download.
// This is exported for use in integration tests.
type FakeDistribution struct {
	Server *httptest.Server

	mu             sync.Mutex
	manifest       RemoteManifest
	archive        []byte
	headerChecksum string
	status         int
	downloads      atomic.Int32
}

// NewFakeDistribution starts a distribution server with nothing published.
func NewFakeDistribution() *FakeDistribution {
	d := &FakeDistribution{}
	mux := http.NewServeMux()
	mux.HandleFunc("/version", d.serveManifest)
	mux.HandleFunc("/download", d.serveArchive)
	d.Server = httptest.NewServer(mux)
	return d
}

// URL returns the base URL to configure the updater with.
func (d *FakeDistribution) URL() string {
	return d.Server.URL
}

// Close shuts the server down.
func (d *FakeDistribution) Close() {
	d.Server.Close()
}

// Publish builds an archive from chunks and publishes it as version, with its
// checksum in the manifest.
func (d *FakeDistribution) Publish(version, model string, chunks []domain.DocumentChunk) error {
	archive, checksum, err := BuildArchive(version, model, chunks)
	if err != nil {
		return fmt.Errorf("building archive: %w", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manifest = RemoteManifest{Version: version, Checksum: checksum, SizeMB: float64(len(archive)) / (1 << 20)}
	d.archive = archive
	d.headerChecksum = ""
	return nil
}

// SetManifest overrides the published manifest.
func (d *FakeDistribution) SetManifest(m RemoteManifest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.manifest = m
}

// Manifest returns the published manifest.
func (d *FakeDistribution) Manifest() RemoteManifest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.manifest
}

// SetArchive overrides the archive bytes served at /download.
func (d *FakeDistribution) SetArchive(archive []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.archive = archive
}

// SetHeaderChecksum makes /download send the checksum header.
func (d *FakeDistribution) SetHeaderChecksum(checksum string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headerChecksum = checksum
}

// SetStatus makes every endpoint answer with status. Zero restores normal service.
func (d *FakeDistribution) SetStatus(status int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = status
}

// Downloads returns how many archive downloads were served.
func (d *FakeDistribution) Downloads() int {
	return int(d.downloads.Load())
}

func (d *FakeDistribution) serveManifest(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != 0 {
		w.WriteHeader(d.status)
		return
	}
	if d.manifest.Version == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.manifest)
}

func (d *FakeDistribution) serveArchive(w http.ResponseWriter, _ *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != 0 {
		w.WriteHeader(d.status)
		return
	}
	d.downloads.Add(1)
	if d.headerChecksum != "" {
		w.Header().Set(ChecksumHeader, d.headerChecksum)
	}
	w.Header().Set("Content-Type", "application/gzip")
	_, _ = w.Write(d.archive)
}
