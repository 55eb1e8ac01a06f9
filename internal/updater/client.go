package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

// Distribution server defaults.
const (
	DefaultBaseURL         = "http://97.139.150.106:3000/database"
	DefaultManifestTimeout = 10 * time.Second
	DefaultDownloadTimeout = 5 * time.Minute

	// ChecksumHeader carries the archive digest when the manifest does not.
	ChecksumHeader = "X-Checksum-Sha256"

	maxManifestBytes = 1 << 20
)

// Client talks to the snapshot distribution server:
//
//	GET <base>/version   -> manifest
//	GET <base>/download  -> tar.gz snapshot archive
type Client struct {
	baseURL         string
	httpClient      *http.Client
	manifestTimeout time.Duration
	downloadTimeout time.Duration
}

// NewClient creates a distribution client. Non-positive timeouts use the defaults.
func NewClient(baseURL string, manifestTimeout, downloadTimeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if manifestTimeout <= 0 {
		manifestTimeout = DefaultManifestTimeout
	}
	if downloadTimeout <= 0 {
		downloadTimeout = DefaultDownloadTimeout
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      &http.Client{},
		manifestTimeout: manifestTimeout,
		downloadTimeout: downloadTimeout,
	}
}

// BaseURL returns the distribution base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchManifest retrieves and parses the published manifest.
func (c *Client) FetchManifest(ctx context.Context) (RemoteManifest, error) {
	ctx, cancel := context.WithTimeout(ctx, c.manifestTimeout)
	defer cancel()

	resp, err := c.get(ctx, c.baseURL+"/version")
	if err != nil {
		return RemoteManifest{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return RemoteManifest{}, fmt.Errorf("reading manifest: %w", errors.Join(domain.ErrTransport, err))
	}
	return ParseManifest(body)
}

// Download fetches the archive published by manifest into dir, verifying its
// SHA-256 digest while streaming. It returns the path of the verified archive;
// the caller owns the file. On failure nothing is left behind.
func (c *Client) Download(ctx context.Context, manifest RemoteManifest, dir string) (string, error) {
	target, err := c.downloadURL(manifest)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.downloadTimeout)
	defer cancel()

	resp, err := c.get(ctx, target)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	expected, err := expectedChecksum(manifest.Checksum, resp.Header.Get(ChecksumHeader))
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	path := filepath.Join(dir, "dl-"+uuid.NewString()+".tar.gz")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create archive file: %w", err)
	}

	h := sha256.New()
	written, copyErr := io.Copy(io.MultiWriter(f, h), resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("downloading archive: %w", errors.Join(domain.ErrTransport, copyErr))
	}
	if closeErr != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("failed to write archive: %w", closeErr)
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		_ = os.Remove(path)
		return "", fmt.Errorf("archive checksum %s does not match expected %s: %w", actual, expected, domain.ErrIntegrity)
	}

	slog.Debug("Downloaded snapshot archive", "version", manifest.Version, "bytes", written)
	return path, nil
}

func (c *Client) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", target, errors.Join(domain.ErrTransport, err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, errors.Join(domain.ErrTransport, err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxManifestBytes))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d: %w", target, resp.StatusCode, domain.ErrTransport)
	}
	return resp, nil
}

// downloadURL resolves the manifest download location against the base URL.
func (c *Client) downloadURL(manifest RemoteManifest) (string, error) {
	if manifest.DownloadURL == "" {
		return c.baseURL + "/download", nil
	}

	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", errors.Join(domain.ErrTransport, err))
	}
	ref, err := url.Parse(manifest.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("invalid download URL %q: %w", manifest.DownloadURL, domain.ErrManifest)
	}
	return base.ResolveReference(ref).String(), nil
}

// expectedChecksum picks the digest to verify against. The manifest wins; the
// response header is used when the manifest carries none. Disagreement or the
// absence of both is an integrity failure.
func expectedChecksum(fromManifest, fromHeader string) (string, error) {
	fromHeader = strings.ToLower(strings.TrimSpace(fromHeader))

	switch {
	case fromManifest != "" && fromHeader != "" && fromManifest != fromHeader:
		return "", fmt.Errorf("manifest checksum %s disagrees with %s header %s: %w",
			fromManifest, ChecksumHeader, fromHeader, domain.ErrIntegrity)
	case fromManifest != "":
		return fromManifest, nil
	case fromHeader != "":
		if !validChecksum(fromHeader) {
			return "", fmt.Errorf("malformed %s header %q: %w", ChecksumHeader, fromHeader, domain.ErrIntegrity)
		}
		return fromHeader, nil
	default:
		return "", fmt.Errorf("no checksum published for the snapshot archive: %w", domain.ErrIntegrity)
	}
}
