package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/metrics"
)

const (
	snapshotsDirName = "snapshots"
	stagingDirName   = "staging"

	// staleStagingAge is how old a staging entry must be before New removes it.
	// Younger entries may belong to a download in progress in another process.
	staleStagingAge = time.Hour
)

// ErrClosed is returned by Load and Install once the store has been closed.
var ErrClosed = errors.New("document store is closed")

// Staged describes an unpacked snapshot waiting to be installed.
// Dir must contain the snapshot database file.
type Staged struct {
	Version string
	Dir     string
}

// Stats describes the active snapshot.
type Stats struct {
	Version     string    `json:"version"`
	Checksum    string    `json:"checksum"`
	Model       string    `json:"embedding_model,omitempty"`
	Chunks      int       `json:"chunks"`
	Dimension   int       `json:"dimension"`
	Versions    []string  `json:"versions"`
	Languages   []string  `json:"languages"`
	InstalledAt time.Time `json:"installed_at"`
}

// Store holds the active snapshot and manages its on-disk lifecycle.
//
// Layout under the data directory:
//
//	current.json                       marker naming the installed snapshot
//	snapshots/<version>-<checksum12>/  installed snapshot directories
//	staging/                           downloads and unpacked archives
type Store struct {
	dataDir string

	installMu sync.Mutex
	closed    bool // guarded by installMu
	mu        sync.RWMutex
	active    *Snapshot

	// writeMarker persists the marker. Tests replace it to simulate failures
	// at the commit point.
	writeMarker func(m *Marker, path string) error
}

// New creates a store rooted at dataDir, creating the directory layout and
// removing stale staging leftovers. The store starts uninitialized; call Load.
func New(dataDir string) (*Store, error) {
	s := &Store{
		dataDir: dataDir,
		writeMarker: func(m *Marker, path string) error {
			return m.Save(path)
		},
	}

	for _, dir := range []string{dataDir, s.snapshotsDir(), s.StagingDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
		}
	}

	if err := s.SweepStaging(staleStagingAge); err != nil {
		slog.Warn("Failed to sweep staging directory", "dir", s.StagingDir(), "error", err)
	}
	return s, nil
}

// DataDir returns the store root directory.
func (s *Store) DataDir() string {
	return s.dataDir
}

// StagingDir returns the directory where downloads are unpacked.
func (s *Store) StagingDir() string {
	return filepath.Join(s.dataDir, stagingDirName)
}

// MarkerPath returns the path of the installed-version marker.
func (s *Store) MarkerPath() string {
	return filepath.Join(s.dataDir, MarkerFilename)
}

func (s *Store) snapshotsDir() string {
	return filepath.Join(s.dataDir, snapshotsDirName)
}

// SweepStaging removes staging entries last modified more than olderThan ago.
// Zero removes everything.
func (s *Store) SweepStaging(olderThan time.Duration) error {
	entries, err := os.ReadDir(s.StagingDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	cutoff := time.Now().Add(-olderThan)
	var errs []error
	for _, e := range entries {
		if olderThan > 0 {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
		}
		if err := os.RemoveAll(filepath.Join(s.StagingDir(), e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Load activates the snapshot named by the on-disk marker. A missing marker
// leaves the store as it is without error. The snapshot database checksum is
// verified against the marker; a mismatch is domain.ErrCorruptSnapshot.
func (s *Store) Load(ctx context.Context) error {
	s.installMu.Lock()
	defer s.installMu.Unlock()
	if s.closed {
		return ErrClosed
	}

	marker, err := LoadMarker(s.MarkerPath())
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrCorruptSnapshot, err)
	}
	if marker == nil {
		return nil
	}

	if cur := s.current(); cur != nil && cur.Version == marker.Version && cur.Checksum == marker.Checksum {
		return nil
	}

	dir := filepath.Join(s.snapshotsDir(), filepath.Base(marker.Dir))
	dbPath := filepath.Join(dir, DatabaseFilename)

	checksum, err := FileChecksum(dbPath)
	if err != nil {
		return fmt.Errorf("snapshot %s: %w: %w", marker.Version, domain.ErrCorruptSnapshot, err)
	}
	if checksum != marker.Checksum {
		return fmt.Errorf("snapshot %s checksum %s does not match marker %s: %w",
			marker.Version, checksum, marker.Checksum, domain.ErrCorruptSnapshot)
	}

	snap, err := s.loadSnapshot(ctx, dbPath, marker.Version, checksum, dir)
	if err != nil {
		return err
	}
	snap.InstalledAt = marker.InstalledAt

	old := s.swap(snap)
	if old != nil {
		old.release()
	}

	slog.Info("Loaded documentation snapshot", "version", snap.Version, "chunks", snap.Len())
	return nil
}

// Install atomically replaces the active snapshot with a staged one.
//
// The staged database is loaded and validated in full before anything on
// disk changes. The marker write is the commit point: a failure before it
// leaves the previous snapshot active and removes the staged data.
// Cancellation is honoured up to the commit point only.
func (s *Store) Install(ctx context.Context, staged Staged) error {
	s.installMu.Lock()
	defer s.installMu.Unlock()
	defer func() { _ = os.RemoveAll(staged.Dir) }()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !domain.ValidVersion(staged.Version) {
		return fmt.Errorf("staged version %q: %w", staged.Version, domain.ErrInvalidRequest)
	}

	dbPath := filepath.Join(staged.Dir, DatabaseFilename)
	checksum, err := FileChecksum(dbPath)
	if err != nil {
		return fmt.Errorf("staged snapshot: %w: %w", domain.ErrCorruptSnapshot, err)
	}

	if cur := s.current(); cur != nil && cur.Version == staged.Version && cur.Checksum == checksum {
		slog.Info("Snapshot already installed", "version", staged.Version)
		return nil
	}

	snap, err := s.loadSnapshot(ctx, dbPath, staged.Version, checksum, "")
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		snap.release()
		return err
	}

	name := fmt.Sprintf("%s-%s", staged.Version, checksum[:12])
	target := filepath.Join(s.snapshotsDir(), name)
	if err := os.RemoveAll(target); err != nil {
		snap.release()
		return fmt.Errorf("failed to clear snapshot directory: %w", err)
	}
	if err := os.Rename(staged.Dir, target); err != nil {
		snap.release()
		return fmt.Errorf("failed to move staged snapshot: %w", err)
	}
	snap.Dir = target

	marker := &Marker{
		Version:     staged.Version,
		Checksum:    checksum,
		Dir:         name,
		InstalledAt: time.Now().UTC(),
	}
	if err := s.writeMarker(marker, s.MarkerPath()); err != nil {
		_ = os.RemoveAll(target)
		snap.release()
		return fmt.Errorf("failed to commit snapshot %s: %w", staged.Version, err)
	}
	snap.InstalledAt = marker.InstalledAt

	old := s.swap(snap)
	if old != nil {
		old.release()
		if old.Dir != "" && old.Dir != target {
			if err := os.RemoveAll(old.Dir); err != nil {
				slog.Warn("Failed to remove retired snapshot", "dir", old.Dir, "error", err)
			}
		}
	}

	slog.Info("Installed documentation snapshot", "version", snap.Version, "chunks", snap.Len(), "checksum", checksum)
	return nil
}

// loadSnapshot reads and validates a snapshot database.
func (s *Store) loadSnapshot(ctx context.Context, dbPath, version, checksum, dir string) (*Snapshot, error) {
	contents, err := readDatabase(ctx, dbPath)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("snapshot %s: %w: %w", version, domain.ErrCorruptSnapshot, err)
	}

	if declared := contents.meta[MetaSnapshotVersion]; declared != "" && declared != version {
		return nil, fmt.Errorf("snapshot database declares version %s, expected %s: %w",
			declared, version, domain.ErrCorruptSnapshot)
	}

	return newSnapshot(version, checksum, contents.meta[MetaEmbeddingModel], dir, contents.chunks)
}

func (s *Store) swap(snap *Snapshot) *Snapshot {
	s.mu.Lock()
	old := s.active
	s.active = snap
	s.mu.Unlock()

	if snap != nil {
		metrics.SetActiveSnapshot(snap.Version, snap.Len())
	}
	return old
}

// current returns the active snapshot without taking a reference.
func (s *Store) current() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// acquire returns the active snapshot with a reader reference taken, or nil.
// Callers must release the snapshot when done.
func (s *Store) acquire() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return nil
	}
	s.active.acquire()
	return s.active
}

// CurrentVersion returns the installed snapshot version.
func (s *Store) CurrentVersion() (string, bool) {
	snap := s.acquire()
	if snap == nil {
		return "", false
	}
	defer snap.release()
	return snap.Version, true
}

// Search returns up to topK chunks passing filter, ordered by descending cosine
// similarity to vec and ascending id on ties. An empty result is not an error.
func (s *Store) Search(ctx context.Context, vec []float32, filter domain.Filter, topK int) ([]domain.ScoredChunk, error) {
	start := time.Now()
	hits, err := s.search(ctx, vec, filter, topK)
	metrics.SearchDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SearchesTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.SearchesTotal.WithLabelValues("success").Inc()
	return hits, nil
}

func (s *Store) search(ctx context.Context, vec []float32, filter domain.Filter, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("top_k must be positive, got %d: %w", topK, domain.ErrInvalidRequest)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := s.acquire()
	if snap == nil {
		return nil, domain.ErrEmptyStore
	}
	defer snap.release()

	return snap.search(vec, filter, topK)
}

// Versions returns the documentation versions present in the active snapshot,
// newest first.
func (s *Store) Versions() []string {
	snap := s.acquire()
	if snap == nil {
		return nil
	}
	defer snap.release()
	return append([]string(nil), snap.versions...)
}

// LatestVersion returns the newest documentation version in the active snapshot.
func (s *Store) LatestVersion() (string, bool) {
	snap := s.acquire()
	if snap == nil || len(snap.versions) == 0 {
		if snap != nil {
			snap.release()
		}
		return "", false
	}
	defer snap.release()
	return snap.versions[0], true
}

// Languages returns the sorted languages present for version, or across all
// versions when version is empty.
func (s *Store) Languages(version string) []string {
	snap := s.acquire()
	if snap == nil {
		return nil
	}
	defer snap.release()
	return snap.languagesOf(version)
}

// Stats describes the active snapshot. ok is false when nothing is installed.
func (s *Store) Stats() (stats Stats, ok bool) {
	snap := s.acquire()
	if snap == nil {
		return Stats{}, false
	}
	defer snap.release()

	return Stats{
		Version:     snap.Version,
		Checksum:    snap.Checksum,
		Model:       snap.Model,
		Chunks:      snap.Len(),
		Dimension:   snap.Dimension(),
		Versions:    append([]string(nil), snap.versions...),
		Languages:   append([]string(nil), snap.languages...),
		InstalledAt: snap.InstalledAt,
	}, true
}

// Close releases the active snapshot. Later Load and Install calls fail with
// ErrClosed.
func (s *Store) Close() error {
	s.installMu.Lock()
	defer s.installMu.Unlock()
	s.closed = true

	s.mu.Lock()
	old := s.active
	s.active = nil
	s.mu.Unlock()

	if old != nil {
		old.release()
	}
	return nil
}

// FileChecksum returns the hex SHA-256 digest of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
