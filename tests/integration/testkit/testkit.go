package testkit

import (
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/spf13/pflag"

	"github.com/sha1n/mcp-frcdocs-server/internal/app"
)

// Service represents a test service that can be started and stopped
type Service interface {
	Start() (map[string]any, error)
	Stop() error
	GetName() string
}

// TestEnvContext provides access to properties collected during environment startup
type TestEnvContext interface {
	GetProperties() map[string]any
	GetProperty(name string) (any, bool)
}

// TestEnv manages the lifecycle of test services
type TestEnv interface {
	Start() (map[string]any, error)
	Stop() error
	GetContext() TestEnvContext
}

type testEnvContextImpl struct {
	properties map[string]any
}

func (c *testEnvContextImpl) GetProperties() map[string]any {
	return c.properties
}

func (c *testEnvContextImpl) GetProperty(name string) (any, bool) {
	val, ok := c.properties[name]
	return val, ok
}

type testEnvImpl struct {
	services []Service
	context  *testEnvContextImpl
}

// NewTestEnv creates a new test environment with the given services
func NewTestEnv(services ...Service) TestEnv {
	return &testEnvImpl{
		services: services,
		context:  &testEnvContextImpl{properties: make(map[string]any)},
	}
}

// Start starts the services in order and merges their properties. When a
// service fails, the ones already started are stopped again.
func (e *testEnvImpl) Start() (map[string]any, error) {
	for i, s := range e.services {
		props, err := s.Start()
		if err != nil {
			startErr := fmt.Errorf("failed to start %s: %w", s.GetName(), err)
			return nil, errors.Join(startErr, stopAll(e.services[:i]))
		}
		for k, v := range props {
			e.context.properties[k] = v
		}
	}
	return e.context.properties, nil
}

// Stop stops every service in reverse order and joins their errors
func (e *testEnvImpl) Stop() error {
	return stopAll(e.services)
}

func stopAll(services []Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		if err := services[i].Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", services[i].GetName(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *testEnvImpl) GetContext() TestEnvContext {
	return e.context
}

// GetFreePort returns a free port from the kernel
func GetFreePort() (int, error) {
	return getFreePortWithAddr("localhost:0")
}

// MustGetFreePort returns a free port or fails the test
func MustGetFreePort(t testing.TB) int {
	t.Helper()
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("Failed to get free port: %v", err)
	}
	return port
}

func getFreePortWithAddr(addrStr string) (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", addrStr)
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// FlagOptions configures NewTestFlags
type FlagOptions struct {
	Port      int    // Uses free port if 0
	Transport string // Defaults to "sse"
	AuthType  string // Defaults to "none"
	Host      string // Defaults to "localhost"

	DataDir          string // Uses t.TempDir() if empty
	SyncBaseURL      string // Left to defaults if empty
	EmbeddingBaseURL string // Left to defaults if empty
	EmbeddingAPIKey  string // Defaults to "test-key"
	AutoUpdate       *bool  // Left to defaults if nil
}

// NewTestFlags creates a configured pflag.FlagSet for testing
func NewTestFlags(t testing.TB, opts *FlagOptions) *pflag.FlagSet {
	t.Helper()

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	app.RegisterFlags(flags)

	port := 0
	transport := "sse"
	authType := "none"
	host := "localhost"
	dataDir := ""
	apiKey := "test-key"

	if opts == nil {
		opts = &FlagOptions{}
	}
	if opts.Port != 0 {
		port = opts.Port
	}
	if opts.Transport != "" {
		transport = opts.Transport
	}
	if opts.AuthType != "" {
		authType = opts.AuthType
	}
	if opts.Host != "" {
		host = opts.Host
	}
	if opts.DataDir != "" {
		dataDir = opts.DataDir
	}
	if opts.EmbeddingAPIKey != "" {
		apiKey = opts.EmbeddingAPIKey
	}

	if dataDir == "" {
		dataDir = t.TempDir()
	}

	if port == 0 {
		port = MustGetFreePort(t)
	}

	_ = flags.Set("port", fmt.Sprintf("%d", port))
	_ = flags.Set("transport", transport)
	_ = flags.Set("auth-type", authType)
	_ = flags.Set("host", host)
	_ = flags.Set("data-dir", dataDir)
	_ = flags.Set("embedding-api-key", apiKey)
	if opts.SyncBaseURL != "" {
		_ = flags.Set("sync-base-url", opts.SyncBaseURL)
	}
	if opts.EmbeddingBaseURL != "" {
		_ = flags.Set("embedding-base-url", opts.EmbeddingBaseURL)
	}
	if opts.AutoUpdate != nil {
		_ = flags.Set("sync-auto-update", fmt.Sprintf("%t", *opts.AutoUpdate))
	}

	return flags
}
