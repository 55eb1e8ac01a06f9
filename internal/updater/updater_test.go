package updater

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

func sampleChunks(version string) []domain.DocumentChunk {
	chunk := func(id, language string, vec ...float32) domain.DocumentChunk {
		return domain.DocumentChunk{
			ID:         version + "-" + id,
			Text:       "Documentation text " + id,
			Embedding:  vec,
			Version:    version,
			Language:   language,
			SourcePath: "docs/" + id + ".rst",
			Title:      "Page " + id,
		}
	}
	return []domain.DocumentChunk{
		chunk("drive", "Java", 1, 0, 0),
		chunk("drive", "Python", 0, 1, 0),
		chunk("vision", "C++", 0, 0, 1),
	}
}

func newTestStore(t *testing.T, dataDir string) *docstore.Store {
	t.Helper()
	store, err := docstore.New(dataDir)
	if err != nil {
		t.Fatalf("docstore.New failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestUpdater(t *testing.T, dist *FakeDistribution, store *docstore.Store) *Updater {
	t.Helper()
	return New(store, Config{BaseURL: dist.URL(), LockTimeout: 2 * time.Second})
}

func publish(t *testing.T, dist *FakeDistribution, version string) {
	t.Helper()
	if err := dist.Publish(version, "voyage-code-3", sampleChunks(version)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func currentVersion(t *testing.T, store *docstore.Store) string {
	t.Helper()
	v, _ := store.CurrentVersion()
	return v
}

func stagingEntries(t *testing.T, store *docstore.Store) int {
	t.Helper()
	entries, err := os.ReadDir(store.StagingDir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	return len(entries)
}

func TestUpdater_Synchronize_InstallsIntoEmptyStore(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	if u.State() != StateUninitialized {
		t.Errorf("State = %s, want %s", u.State(), StateUninitialized)
	}

	outcome, err := u.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if outcome.Action != ActionInstalled {
		t.Errorf("Action = %s, want %s", outcome.Action, ActionInstalled)
	}
	if outcome.RemoteVersion != "2025.3.2" || outcome.LocalVersion != "" {
		t.Errorf("unexpected versions in outcome %+v", outcome)
	}
	if got := currentVersion(t, store); got != "2025.3.2" {
		t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
	}
	if u.State() != StateCurrent {
		t.Errorf("State = %s, want %s", u.State(), StateCurrent)
	}
	if n := stagingEntries(t, store); n != 0 {
		t.Errorf("expected staging to be empty, found %d entries", n)
	}
}

func TestUpdater_Synchronize_UpToDate(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)
	if _, err := u.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("first Synchronize failed: %v", err)
	}

	outcome, err := u.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if outcome.Action != ActionUpToDate {
		t.Errorf("Action = %s, want %s", outcome.Action, ActionUpToDate)
	}
	if dist.Downloads() != 1 {
		t.Errorf("expected a single download, got %d", dist.Downloads())
	}
}

func TestUpdater_Synchronize_NeverDowngrades(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2026.1.0")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)
	if _, err := u.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	publish(t, dist, "2025.3.2")
	outcome, err := u.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if outcome.Action != ActionUpToDate {
		t.Errorf("Action = %s, want %s", outcome.Action, ActionUpToDate)
	}
	if got := currentVersion(t, store); got != "2026.1.0" {
		t.Errorf("CurrentVersion = %q, want 2026.1.0", got)
	}
	if u.State() != StateCurrent {
		t.Errorf("State = %s, want %s", u.State(), StateCurrent)
	}
}

func TestUpdater_Synchronize_CheckOnly(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)
	if _, err := u.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	publish(t, dist, "2025.3.10")
	outcome, err := u.Synchronize(context.Background(), false)
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if outcome.Action != ActionUpdateAvailable {
		t.Errorf("Action = %s, want %s", outcome.Action, ActionUpdateAvailable)
	}
	if outcome.LocalVersion != "2025.3.2" || outcome.RemoteVersion != "2025.3.10" {
		t.Errorf("unexpected versions in outcome %+v", outcome)
	}
	if outcome.Manifest.Checksum != dist.Manifest().Checksum {
		t.Error("expected outcome to carry the published manifest")
	}
	if dist.Downloads() != 1 {
		t.Errorf("check-only sync must not download, got %d downloads", dist.Downloads())
	}
	if u.State() != StateStale {
		t.Errorf("State = %s, want %s", u.State(), StateStale)
	}
	if got := currentVersion(t, store); got != "2025.3.2" {
		t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
	}
}

func TestUpdater_Synchronize_Upgrade(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)
	if _, err := u.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	publish(t, dist, "2026.1.0")
	outcome, err := u.Synchronize(context.Background(), true)
	if err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}
	if outcome.Action != ActionInstalled || outcome.LocalVersion != "2025.3.2" {
		t.Errorf("unexpected outcome %+v", outcome)
	}
	if got := currentVersion(t, store); got != "2026.1.0" {
		t.Errorf("CurrentVersion = %q, want 2026.1.0", got)
	}

	hits, err := store.Search(context.Background(), []float32{0, 0, 1}, domain.Filter{Version: "2026.1.0"}, 1)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) != 1 || hits[0].Chunk.ID != "2026.1.0-vision" {
		t.Errorf("unexpected hits %+v", hits)
	}
}

func TestUpdater_Synchronize_FailuresKeepPreviousSnapshot(t *testing.T) {
	tests := []struct {
		name    string
		breakIt func(d *FakeDistribution)
		wantErr error
	}{
		{
			name:    "checksum mismatch",
			breakIt: func(d *FakeDistribution) { d.SetArchive([]byte("tampered")) },
			wantErr: domain.ErrIntegrity,
		},
		{
			name:    "empty download",
			breakIt: func(d *FakeDistribution) { d.SetArchive(nil) },
			wantErr: domain.ErrIntegrity,
		},
		{
			name:    "server error",
			breakIt: func(d *FakeDistribution) { d.SetStatus(http.StatusInternalServerError) },
			wantErr: domain.ErrTransport,
		},
		{
			name: "malformed manifest",
			breakIt: func(d *FakeDistribution) {
				d.SetManifest(RemoteManifest{Version: "next"})
			},
			wantErr: domain.ErrManifest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist := NewFakeDistribution()
			defer dist.Close()
			publish(t, dist, "2025.3.2")

			store := newTestStore(t, t.TempDir())
			u := newTestUpdater(t, dist, store)
			if _, err := u.Synchronize(context.Background(), true); err != nil {
				t.Fatalf("Synchronize failed: %v", err)
			}

			publish(t, dist, "2026.1.0")
			tt.breakIt(dist)

			_, err := u.Synchronize(context.Background(), true)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if got := currentVersion(t, store); got != "2025.3.2" {
				t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
			}
			if n := stagingEntries(t, store); n != 0 {
				t.Errorf("expected staging to be empty, found %d entries", n)
			}
		})
	}
}

func TestUpdater_Synchronize_CorruptArchive(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)
	if _, err := u.Synchronize(context.Background(), true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	// A correctly signed archive whose content is not a snapshot.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte("no database"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	archive, checksum := packDir(t, dir)
	dist.SetManifest(RemoteManifest{Version: "2026.1.0", Checksum: checksum})
	dist.SetArchive(archive)

	_, err := u.Synchronize(context.Background(), true)
	if !errors.Is(err, domain.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
	if !domain.Retryable(err) {
		t.Error("expected corrupt snapshot errors to be retryable")
	}
	if got := currentVersion(t, store); got != "2025.3.2" {
		t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
	}
}

func TestUpdater_Synchronize_VersionMismatch(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()

	// The archive contains 2025.3.2 but the manifest announces 2026.1.0.
	archive, checksum, err := BuildArchive("2025.3.2", "voyage-code-3", sampleChunks("2025.3.2"))
	if err != nil {
		t.Fatalf("BuildArchive failed: %v", err)
	}
	dist.SetManifest(RemoteManifest{Version: "2026.1.0", Checksum: checksum})
	dist.SetArchive(archive)

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	_, err = u.Synchronize(context.Background(), true)
	if !errors.Is(err, domain.ErrCorruptSnapshot) {
		t.Fatalf("expected ErrCorruptSnapshot, got %v", err)
	}
	if _, ok := store.CurrentVersion(); ok {
		t.Error("expected the store to stay uninitialized")
	}
}

func TestUpdater_CheckForUpdate(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	m, err := u.CheckForUpdate(context.Background())
	if err != nil {
		t.Fatalf("CheckForUpdate failed: %v", err)
	}
	if m.Version != "2025.3.2" {
		t.Errorf("Version = %q, want 2025.3.2", m.Version)
	}
	if dist.Downloads() != 0 {
		t.Errorf("expected no downloads, got %d", dist.Downloads())
	}
	if u.State() != StateUninitialized {
		t.Errorf("State = %s, want %s", u.State(), StateUninitialized)
	}
}

func TestUpdater_Initialize_Leader(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	if err := u.Initialize(context.Background(), true); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := currentVersion(t, store); got != "2025.3.2" {
		t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
	}

	lock := NewFileLock(filepath.Join(store.DataDir(), LockFilename))
	acquired, err := lock.TryLock()
	if err != nil || !acquired {
		t.Fatalf("expected lock to be released after Initialize, got %v, %v", acquired, err)
	}
	_ = lock.Unlock()
}

func TestUpdater_Initialize_SyncFailureIsNotFatal(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	dist.SetStatus(http.StatusServiceUnavailable)

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	if err := u.Initialize(context.Background(), true); err != nil {
		t.Fatalf("expected Initialize to tolerate sync failure, got %v", err)
	}
	if u.State() != StateUninitialized {
		t.Errorf("State = %s, want %s", u.State(), StateUninitialized)
	}
}

func TestUpdater_Initialize_LoadsExistingSnapshotWithoutAutoUpdate(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	dataDir := t.TempDir()
	first := newTestStore(t, dataDir)
	if _, err := newTestUpdater(t, dist, first).Synchronize(context.Background(), true); err != nil {
		t.Fatalf("Synchronize failed: %v", err)
	}

	publish(t, dist, "2026.1.0")
	restarted := newTestStore(t, dataDir)
	u := newTestUpdater(t, dist, restarted)
	if err := u.Initialize(context.Background(), false); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if got := currentVersion(t, restarted); got != "2025.3.2" {
		t.Errorf("CurrentVersion = %q, want 2025.3.2", got)
	}
	if u.State() != StateStale {
		t.Errorf("State = %s, want %s", u.State(), StateStale)
	}
	if dist.Downloads() != 1 {
		t.Errorf("expected no download without auto update, got %d downloads", dist.Downloads())
	}
}

func TestUpdater_Initialize_FollowerWaitsForLeader(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	dataDir := t.TempDir()
	leaderStore := newTestStore(t, dataDir)
	leader := newTestUpdater(t, dist, leaderStore)

	// Hold the lock as a running leader would, install, then release.
	lock := NewFileLock(filepath.Join(dataDir, LockFilename))
	if ok, err := lock.TryLock(); err != nil || !ok {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}

	followerStore := newTestStore(t, dataDir)
	follower := newTestUpdater(t, dist, followerStore)
	done := make(chan error, 1)
	go func() {
		done <- follower.Initialize(context.Background(), true)
	}()

	if err := leader.install(context.Background(), dist.Manifest()); err != nil {
		t.Fatalf("leader install failed: %v", err)
	}
	_ = lock.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("follower Initialize failed: %v", err)
	}
	if got := currentVersion(t, followerStore); got != "2025.3.2" {
		t.Errorf("follower CurrentVersion = %q, want 2025.3.2", got)
	}
	if dist.Downloads() != 1 {
		t.Errorf("expected only the leader to download, got %d downloads", dist.Downloads())
	}
}

func TestUpdater_Synchronize_ConcurrentCallsDownloadOnce(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := u.Synchronize(context.Background(), true)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Synchronize failed: %v", err)
		}
	}
	if dist.Downloads() != 1 {
		t.Errorf("expected a single download, got %d", dist.Downloads())
	}
}

func TestUpdater_Run_StopsOnCancel(t *testing.T) {
	dist := NewFakeDistribution()
	defer dist.Close()
	publish(t, dist, "2025.3.2")

	store := newTestStore(t, t.TempDir())
	u := newTestUpdater(t, dist, store)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		u.Run(ctx, 20*time.Millisecond, true)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := store.CurrentVersion(); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("periodic sync did not install the snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func packDir(t *testing.T, dir string) ([]byte, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "custom.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := Pack(dir, f); err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	_ = f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	sum, err := docstore.FileChecksum(path)
	if err != nil {
		t.Fatalf("FileChecksum failed: %v", err)
	}
	return data, sum
}
