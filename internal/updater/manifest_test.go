package updater

import (
	"errors"
	"strings"
	"testing"

	"github.com/sha1n/mcp-frcdocs-server/internal/domain"
)

var testDigest = strings.Repeat("ab", 32)

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name string
		body string
		want RemoteManifest
	}{
		{
			name: "json object",
			body: `{"version":"2025.3.2","checksum":"` + testDigest + `","size_mb":12.5,"changelog":"new pages"}`,
			want: RemoteManifest{Version: "2025.3.2", Checksum: testDigest, SizeMB: 12.5, Changelog: "new pages"},
		},
		{
			name: "sha256 field",
			body: `{"version":"2025.3.2","sha256":"` + strings.ToUpper(testDigest) + `"}`,
			want: RemoteManifest{Version: "2025.3.2", Checksum: testDigest},
		},
		{
			name: "download url",
			body: `{"version":"2026.1","download_url":"files/2026.1.tar.gz"}`,
			want: RemoteManifest{Version: "2026.1", DownloadURL: "files/2026.1.tar.gz"},
		},
		{
			name: "json string",
			body: `"2025.3.2"`,
			want: RemoteManifest{Version: "2025.3.2"},
		},
		{
			name: "plain text",
			body: "2025.3.2\nignored line\n",
			want: RemoteManifest{Version: "2025.3.2"},
		},
		{
			name: "surrounding whitespace",
			body: "  \n 2025.3.2 \n",
			want: RemoteManifest{Version: "2025.3.2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseManifest([]byte(tt.body))
			if err != nil {
				t.Fatalf("ParseManifest failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseManifest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"blank", "   \n"},
		{"malformed json", `{"version":`},
		{"missing version", `{"checksum":"` + testDigest + `"}`},
		{"non numeric version", `{"version":"latest"}`},
		{"html", "<html>oops</html>"},
		{"short checksum", `{"version":"2025.3.2","checksum":"abc"}`},
		{"non hex checksum", `{"version":"2025.3.2","checksum":"` + strings.Repeat("zz", 32) + `"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.body))
			if !errors.Is(err, domain.ErrManifest) {
				t.Errorf("expected ErrManifest, got %v", err)
			}
		})
	}
}
