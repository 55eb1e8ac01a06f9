package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/sha1n/mcp-frcdocs-server/internal/config"
	"github.com/sha1n/mcp-frcdocs-server/internal/metrics"
)

const realm = `Basic realm="frcdocs-mcp"`

// excludedPaths are operational endpoints that bypass authentication
var excludedPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// isExcludedPath checks if the request path should bypass authentication
func isExcludedPath(path string) bool {
	return excludedPaths[path]
}

// authenticator decides whether a request carries valid credentials
type authenticator func(r *http.Request) bool

// NewMiddleware creates a new authentication middleware based on settings
func NewMiddleware(settings config.AuthSettings) (func(http.Handler) http.Handler, error) {
	switch settings.Type {
	case config.AuthTypeNone, "":
		return func(next http.Handler) http.Handler {
			return next
		}, nil
	case config.AuthTypeBasic:
		if settings.Basic.Username == "" || settings.Basic.Password == "" {
			return nil, fmt.Errorf("basic auth requires non-empty username and password")
		}
		return guard(config.AuthTypeBasic, basicAuth(settings.Basic)), nil
	case config.AuthTypeAPIKey:
		if len(settings.APIKeys) == 0 {
			return nil, fmt.Errorf("apikey auth requires at least one API key")
		}
		return guard(config.AuthTypeAPIKey, apiKeyAuth(settings.APIKeys)), nil
	default:
		return nil, fmt.Errorf("unknown auth type: %s", settings.Type)
	}
}

// guard rejects requests that fail authenticate, except on excluded paths.
// Rejections are counted under scheme.
func guard(scheme string, authenticate authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExcludedPath(r.URL.Path) || authenticate(r) {
				next.ServeHTTP(w, r)
				return
			}

			metrics.AuthRejectionsTotal.WithLabelValues(scheme).Inc()
			if scheme == config.AuthTypeBasic {
				w.Header().Set("WWW-Authenticate", realm)
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func basicAuth(settings config.BasicAuthSettings) authenticator {
	return func(r *http.Request) bool {
		user, pass, ok := r.BasicAuth()
		userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(settings.Username)) == 1
		passMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(settings.Password)) == 1
		return ok && userMatch && passMatch
	}
}

func apiKeyAuth(apiKeys []string) authenticator {
	return func(r *http.Request) bool {
		key := requestAPIKey(r)
		if key == "" {
			return false
		}
		return slices.ContainsFunc(apiKeys, func(valid string) bool {
			return subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1
		})
	}
}

// requestAPIKey extracts the key from X-API-Key, falling back to a Bearer token
func requestAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	const prefix = "Bearer "
	if h := r.Header.Get("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
