package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-frcdocs-server/internal/config"
	"github.com/sha1n/mcp-frcdocs-server/internal/updater"
)

// fakeRun builds RunParams that load fixed settings and record what the
// runner does with them
type fakeRun struct {
	settings  *config.Settings
	loadErr   error
	validErr  error
	createErr error
	startErr  error
	transport mcp.Transport

	version   string
	cleanedUp bool
	sseServed bool
}

func (f *fakeRun) params() RunParams {
	return RunParams{
		LoadSettings: func(*pflag.FlagSet) (*config.Settings, error) {
			return f.settings, f.loadErr
		},
		ValidSettings: func(*config.Settings) error {
			return f.validErr
		},
		CreateServer: func(_ *config.Settings, version string) (*mcp.Server, func(), error) {
			f.version = version
			if f.createErr != nil {
				return nil, nil, f.createErr
			}
			server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
			return server, func() { f.cleanedUp = true }, nil
		},
		StartSSEServer: func(*mcp.Server, *config.Settings) error {
			f.sseServed = true
			return f.startErr
		},
		CustomIOTransport: f.transport,
	}
}

func sse() *config.Settings {
	return &config.Settings{Transport: "sse", LogLevel: "error"}
}

func TestRunWithDeps_ErrorCases(t *testing.T) {
	tests := []struct {
		name           string
		run            *fakeRun
		wantErrContain string
	}{
		{"LoadSettings error", &fakeRun{loadErr: errors.New("settings error")}, "failed to load settings"},
		{"ValidSettings error", &fakeRun{settings: sse(), validErr: errors.New("validation error")}, "invalid configuration"},
		{"CreateServer error", &fakeRun{settings: sse(), createErr: errors.New("data dir unwritable")}, "data dir unwritable"},
		{"StartSSEServer error", &fakeRun{settings: sse(), startErr: errors.New("address in use")}, "address in use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := RunWithDeps(context.Background(), tt.run.params(), nil, "test")
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErrContain)
			}
			if !strings.Contains(err.Error(), tt.wantErrContain) {
				t.Errorf("Expected error containing %q, got %q", tt.wantErrContain, err.Error())
			}
		})
	}
}

func TestRunWithDeps_SSE(t *testing.T) {
	run := &fakeRun{settings: sse(), startErr: errors.New("server closed")}

	_ = RunWithDeps(context.Background(), run.params(), nil, "2025.1.0")

	if !run.sseServed {
		t.Error("Expected the SSE server to be started")
	}
	if !run.cleanedUp {
		t.Error("Cleanup was not called")
	}
	if run.version != "2025.1.0" {
		t.Errorf("Expected version 2025.1.0, got %q", run.version)
	}
}

func TestRunWithDeps_StdioUsesCustomTransport(t *testing.T) {
	transportUsed := false
	run := &fakeRun{
		settings:  &config.Settings{Transport: "stdio", LogLevel: "error"},
		transport: &mockTransport{connectCalled: &transportUsed},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := RunWithDeps(ctx, run.params(), nil, "test"); err == nil {
		t.Error("Expected the failing transport error to be returned")
	}
	if !transportUsed {
		t.Error("Custom transport Connect was not called")
	}
	if run.sseServed {
		t.Error("Expected no SSE server for stdio")
	}
	if !run.cleanedUp {
		t.Error("Cleanup was not called")
	}
}

func TestDefaultRunParams(t *testing.T) {
	params := DefaultRunParams()

	if params.LoadSettings == nil || params.ValidSettings == nil || params.StartSSEServer == nil || params.CreateServer == nil {
		t.Errorf("Expected all production dependencies to be set: %+v", params)
	}
	if params.CustomIOTransport != nil {
		t.Error("Expected stdio transport to be chosen at run time")
	}
}

func TestCreateMCPServer(t *testing.T) {
	dist := updater.NewFakeDistribution()
	defer dist.Close()

	settings := testSettings(t, dist.URL())
	settings.Sync.OnStartup = false

	server, cleanup, err := CreateMCPServer(settings, "1.2.3")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if server == nil {
		t.Fatal("Expected server to be created")
	}
	if cleanup == nil {
		t.Fatal("Expected a cleanup function")
	}
	cleanup()

	if dist.Downloads() != 0 {
		t.Errorf("Expected no download with startup sync disabled, got %d", dist.Downloads())
	}
}

func TestCreateMCPServer_InvalidDataDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	settings := testSettings(t, "http://127.0.0.1:1")
	settings.DataDir = file

	if _, _, err := CreateMCPServer(settings, "test"); err == nil {
		t.Fatal("Expected error for a data dir that is a file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// mockTransport implements mcp.Transport for testing
type mockTransport struct {
	connectCalled *bool
}

func (m *mockTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	if m.connectCalled != nil {
		*m.connectCalled = true
	}
	return nil, errors.New("mock transport - no real connection")
}
