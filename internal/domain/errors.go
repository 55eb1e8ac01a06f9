package domain

import "errors"

// Error kinds surfaced by the retrieval layer. Callers match them with errors.Is;
// implementations wrap them with context using fmt.Errorf("...: %w", err).
var (
	// ErrInvalidRequest marks malformed caller input (empty question, bad top_k,
	// unknown language, oversized or empty embedding input).
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNoDocumentation is returned when no snapshot has been installed yet.
	ErrNoDocumentation = errors.New("no documentation installed")

	// ErrTransport covers network failures, timeouts and unexpected HTTP statuses.
	ErrTransport = errors.New("transport error")

	// ErrAuthentication is returned for missing or rejected credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRateLimit is returned when the embedding provider throttles the caller.
	ErrRateLimit = errors.New("rate limited")

	// ErrIntegrity is returned when a downloaded artifact fails checksum verification.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrCorruptSnapshot is returned when snapshot data cannot be unpacked or loaded.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrEmptyStore is returned by searches against a store with no snapshot.
	ErrEmptyStore = errors.New("document store is empty")

	// ErrManifest is returned for a malformed remote manifest.
	ErrManifest = errors.New("invalid manifest")

	// ErrDimensionMismatch is returned when vectors from different embedding
	// spaces meet.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Retryable reports whether the operation that produced err may succeed if the
// caller tries again later.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransport),
		errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrIntegrity),
		errors.Is(err, ErrCorruptSnapshot):
		return true
	default:
		return false
	}
}

// UserMessage returns the message shown to tool callers for err. Each error
// kind has its own message; the underlying error is appended for context.
func UserMessage(err error) string {
	var msg string
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidRequest):
		msg = "Invalid request"
	case errors.Is(err, ErrNoDocumentation), errors.Is(err, ErrEmptyStore):
		msg = "No documentation is installed yet. Run sync_docs with auto_update enabled, or try again once the initial download completes"
	case errors.Is(err, ErrAuthentication):
		msg = "The embedding provider rejected the configured API key. Check the embedding API key setting"
	case errors.Is(err, ErrRateLimit):
		msg = "The embedding provider is rate limiting requests. Try again shortly"
	case errors.Is(err, ErrIntegrity):
		msg = "The downloaded documentation failed checksum verification and was not installed. The previous documentation remains active"
	case errors.Is(err, ErrCorruptSnapshot):
		msg = "The documentation snapshot is corrupt and was not installed. The previous documentation remains active"
	case errors.Is(err, ErrManifest):
		msg = "The documentation server published an invalid version manifest"
	case errors.Is(err, ErrDimensionMismatch):
		msg = "The query embedding does not match the installed documentation. Check that the embedding model matches the snapshot"
	case errors.Is(err, ErrTransport):
		msg = "A network request failed. Try again later"
	default:
		msg = "Request failed"
	}
	return msg + ": " + err.Error()
}
