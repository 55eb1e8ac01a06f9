package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-frcdocs-server/internal/config"
	"github.com/sha1n/mcp-frcdocs-server/internal/docstore"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

// RunUpdate runs a single synchronization against the configured data
// directory and writes the outcome to out. With check set nothing is
// downloaded; the outcome only reports whether an update is available.
func RunUpdate(ctx context.Context, flags *pflag.FlagSet, check bool, out io.Writer) error {
	settings, err := config.LoadSettingsWithFlags(flags)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := config.ValidateSettings(settings); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ConfigureLogging(settings.LogLevel)

	store, err := docstore.New(settings.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Failed to close document store", "error", err)
		}
	}()

	if err := store.Load(ctx); err != nil {
		slog.Warn("Installed snapshot is unusable", "error", err)
	}

	u := updater.New(store, updater.Config{
		BaseURL:         settings.Sync.BaseURL,
		ManifestTimeout: settings.Sync.ManifestTimeout,
		DownloadTimeout: settings.Sync.DownloadTimeout,
		LockTimeout:     settings.Sync.LockTimeout,
	})

	outcome, err := u.Synchronize(ctx, !check)
	if err != nil {
		return fmt.Errorf("documentation sync failed: %w", err)
	}

	_, err = fmt.Fprintln(out, updater.FormatOutcome(outcome))
	return err
}
