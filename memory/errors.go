package memory

import (
	"github.com/m-mizutani/goerr/v2"
)

// Error kind sentinels. Backends and the service wrap these with goerr.Wrap
// so callers can categorize a failure with errors.Is while still getting a
// call-site-specific message and attached values (goerr.V).
var (
	// ErrConfiguration covers missing endpoints/keys and contradictory options.
	ErrConfiguration = goerr.New("configuration error")

	// ErrSchemaMismatch covers a collection that exists with a different
	// dimension than requested, with recreation disallowed.
	ErrSchemaMismatch = goerr.New("schema mismatch")

	// ErrBackendUnavailable covers network/transport failures reaching the
	// embedder, LLM, or vector store.
	ErrBackendUnavailable = goerr.New("backend unavailable")

	// ErrProtocol covers a non-2xx response or malformed response body from
	// a remote backend.
	ErrProtocol = goerr.New("protocol error")

	// ErrNotFound covers Get/Update referring to an unknown id. This is
	// surfaced as a null/false return, not raised as an error: no backend
	// or Service method currently returns this sentinel.
	ErrNotFound = goerr.New("not found")

	// ErrValidation covers an empty message list, a zero-length embedding,
	// or an id collision on insert against a strict backend.
	ErrValidation = goerr.New("validation error")
)

// ConfigurationError wraps err as an ErrConfiguration with call-site context.
func ConfigurationError(msg string, kv ...goerr.Option) error {
	return goerr.Wrap(ErrConfiguration, msg, kv...)
}

// SchemaMismatchError reports a dimension conflict between a requested
// vector size and a collection's already-declared size.
func SchemaMismatchError(collection string, declared, requested int) error {
	return goerr.Wrap(ErrSchemaMismatch, "collection declares a different vector size",
		goerr.V("collection", collection),
		goerr.V("declared", declared),
		goerr.V("requested", requested),
	)
}

// BackendUnavailableError wraps a transport-level failure reaching a backend.
func BackendUnavailableError(backend string, err error) error {
	msg := "backend unreachable"
	if err != nil {
		msg = err.Error()
	}
	return goerr.Wrap(ErrBackendUnavailable, msg,
		goerr.V("backend", backend),
	)
}

// ProtocolError reports a non-2xx HTTP response or malformed response body.
func ProtocolError(backend string, status int, body string) error {
	return goerr.Wrap(ErrProtocol, "backend returned a protocol error",
		goerr.V("backend", backend),
		goerr.V("status", status),
		goerr.V("body", body),
	)
}

// ValidationError reports a request that failed validation before reaching
// a backend.
func ValidationError(msg string, kv ...goerr.Option) error {
	return goerr.Wrap(ErrValidation, msg, kv...)
}
