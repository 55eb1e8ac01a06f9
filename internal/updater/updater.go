package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
	"github.com/sha1n/mcp-frcdocs-server/internal/metrics"
)

// DefaultLockTimeout bounds how long a process waits for a sibling's sync.
const DefaultLockTimeout = 60 * time.Second

// State is the lifecycle state of the local document store relative to the
// published snapshot.
type State string

const (
	// StateUninitialized means no snapshot is installed.
	StateUninitialized State = "uninitialized"
	// StateCurrent means the installed snapshot is at least as new as the last published one seen.
	StateCurrent State = "current"
	// StateStale means a newer snapshot was published but is not installed.
	StateStale State = "stale"
)

// Action is what a synchronization did.
type Action string

const (
	ActionUpToDate        Action = "up_to_date"
	ActionUpdateAvailable Action = "update_available"
	ActionInstalled       Action = "installed"
)

// Outcome reports the result of a synchronization.
type Outcome struct {
	Action        Action         `json:"action"`
	State         State          `json:"state"`
	LocalVersion  string         `json:"local_version,omitempty"`
	RemoteVersion string         `json:"remote_version,omitempty"`
	Manifest      RemoteManifest `json:"manifest"`
}

// Config holds the synchronizer settings.
type Config struct {
	BaseURL         string
	ManifestTimeout time.Duration
	DownloadTimeout time.Duration
	LockTimeout     time.Duration
}

// Updater keeps the local store in step with the distribution server.
// Within a process syncs are serialized by a mutex; across processes sharing
// a data directory by a flock on sync.lock.
type Updater struct {
	store       *docstore.Store
	client      *Client
	lockPath    string
	lockTimeout time.Duration

	mu sync.Mutex

	stateMu    sync.RWMutex
	lastRemote string
}

// New creates an updater for store.
func New(store *docstore.Store, cfg Config) *Updater {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Updater{
		store:       store,
		client:      NewClient(cfg.BaseURL, cfg.ManifestTimeout, cfg.DownloadTimeout),
		lockPath:    filepath.Join(store.DataDir(), LockFilename),
		lockTimeout: lockTimeout,
	}
}

// State returns the current lifecycle state.
func (u *Updater) State() State {
	local, ok := u.store.CurrentVersion()
	if !ok {
		return StateUninitialized
	}

	u.stateMu.RLock()
	remote := u.lastRemote
	u.stateMu.RUnlock()

	if remote != "" && domain.CompareVersions(local, remote) < 0 {
		return StateStale
	}
	return StateCurrent
}

// CheckForUpdate fetches the published manifest without downloading anything.
func (u *Updater) CheckForUpdate(ctx context.Context) (RemoteManifest, error) {
	manifest, err := u.client.FetchManifest(ctx)
	if err != nil {
		return RemoteManifest{}, err
	}
	u.rememberRemote(manifest.Version)
	return manifest, nil
}

// Synchronize compares the installed snapshot with the published one. A local
// snapshot that is newer or equal is never replaced. Otherwise, with auto
// false it only reports the available update; with auto true it downloads,
// verifies and installs it. On any failure the previous snapshot stays active.
func (u *Updater) Synchronize(ctx context.Context, auto bool) (Outcome, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !auto {
		return u.synchronize(ctx, false)
	}

	lock := NewFileLock(u.lockPath)
	if err := lock.Lock(ctx, u.lockTimeout); err != nil {
		metrics.SyncAttemptsTotal.WithLabelValues("error").Inc()
		return u.outcome("", ""), fmt.Errorf("acquiring sync lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Error("Failed to unlock", "error", err)
		}
	}()

	// A sibling may have installed while we waited for the lock.
	if err := u.store.Load(ctx); err != nil {
		slog.Warn("Failed to reload snapshot before sync", "error", err)
	}
	return u.synchronize(ctx, true)
}

// Initialize prepares the store at startup. The process winning the sync lock
// loads what is on disk and synchronizes; the others wait for it (bounded by
// the lock timeout) and then load the result from disk.
func (u *Updater) Initialize(ctx context.Context, auto bool) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	lock := NewFileLock(u.lockPath)
	acquired, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		slog.Info("Another instance is syncing, waiting for completion")
		if err := lock.Lock(ctx, u.lockTimeout); err != nil {
			slog.Warn("Timeout waiting for sync, using installed snapshot", "error", err)
		} else if err := lock.Unlock(); err != nil {
			slog.Error("Failed to unlock", "error", err)
		}
		return u.store.Load(ctx)
	}

	defer func() {
		if err := lock.Unlock(); err != nil {
			slog.Error("Failed to unlock", "error", err)
		}
	}()

	slog.Info("Acquired sync leader lock, checking for documentation updates")
	if err := u.store.Load(ctx); err != nil {
		slog.Warn("Installed snapshot is unusable, a fresh download is required", "error", err)
	}

	outcome, err := u.synchronize(ctx, auto)
	if err != nil {
		slog.Error("Documentation sync failed", "error", err, "state", outcome.State)
		return nil
	}
	if outcome.Action == ActionUpdateAvailable {
		slog.Warn("Documentation update available",
			"current", outcome.LocalVersion,
			"new", outcome.RemoteVersion,
			"size_mb", outcome.Manifest.SizeMB,
			"changelog", outcome.Manifest.Changelog)
	}
	return nil
}

// Run synchronizes every interval until ctx is done. Errors are logged.
func (u *Updater) Run(ctx context.Context, interval time.Duration, auto bool) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			outcome, err := u.Synchronize(ctx, auto)
			if err != nil {
				slog.Error("Periodic documentation sync failed", "error", err)
				continue
			}
			slog.Info("Periodic documentation sync", "action", outcome.Action, "version", outcome.RemoteVersion)
		}
	}
}

// synchronize runs one sync. Callers hold u.mu, and the file lock when auto is true.
func (u *Updater) synchronize(ctx context.Context, auto bool) (Outcome, error) {
	manifest, err := u.client.FetchManifest(ctx)
	if err != nil {
		metrics.SyncAttemptsTotal.WithLabelValues("error").Inc()
		local, _ := u.store.CurrentVersion()
		return u.outcome(local, ""), err
	}
	u.rememberRemote(manifest.Version)

	local, installed := u.store.CurrentVersion()
	outcome := u.outcome(local, manifest.Version)
	outcome.Manifest = manifest

	if installed && domain.CompareVersions(local, manifest.Version) >= 0 {
		outcome.Action = ActionUpToDate
		metrics.SyncAttemptsTotal.WithLabelValues(string(ActionUpToDate)).Inc()
		return outcome, nil
	}

	if !auto {
		outcome.Action = ActionUpdateAvailable
		metrics.SyncAttemptsTotal.WithLabelValues(string(ActionUpdateAvailable)).Inc()
		return outcome, nil
	}

	slog.Info("Installing documentation snapshot", "current", local, "new", manifest.Version, "size_mb", manifest.SizeMB)
	if err := u.install(ctx, manifest); err != nil {
		metrics.SyncAttemptsTotal.WithLabelValues("error").Inc()
		return u.outcome(local, manifest.Version), err
	}

	outcome.Action = ActionInstalled
	outcome.State = StateCurrent
	metrics.SyncAttemptsTotal.WithLabelValues(string(ActionInstalled)).Inc()
	return outcome, nil
}

// install downloads, verifies, unpacks and installs the published snapshot.
// Staging files are removed whatever the result.
func (u *Updater) install(ctx context.Context, manifest RemoteManifest) error {
	staging := u.store.StagingDir()
	if err := u.store.SweepStaging(0); err != nil {
		slog.Warn("Failed to clear staging directory", "error", err)
	}

	archive, err := u.client.Download(ctx, manifest, staging)
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(archive) }()

	unpackDir := filepath.Join(staging, uuid.NewString())
	defer func() { _ = os.RemoveAll(unpackDir) }()

	dbDir, err := Unpack(archive, unpackDir)
	if err != nil {
		return err
	}

	if err := u.store.Install(ctx, docstore.Staged{Version: manifest.Version, Dir: dbDir}); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("installing snapshot %s: %w", manifest.Version, errors.Join(domain.ErrTransport, err))
		}
		return fmt.Errorf("installing snapshot %s: %w", manifest.Version, err)
	}
	return nil
}

func (u *Updater) outcome(local, remote string) Outcome {
	return Outcome{
		State:         u.State(),
		LocalVersion:  local,
		RemoteVersion: remote,
	}
}

func (u *Updater) rememberRemote(version string) {
	u.stateMu.Lock()
	u.lastRemote = version
	u.stateMu.Unlock()
}
