package store

import "errors"

// Error taxonomy, matching the propagation policy table: LimitExceeded is
// expressed as ErrConditionFailed (handled locally by the caller's retry
// loop); StoreTransient and StoreFatal are surfaced.
var (
	// ErrConditionFailed means the row as stored (or its absence) failed the
	// precondition (or a numeric bound would have been exceeded). Callers
	// retry.
	ErrConditionFailed = errors.New("store: condition failed")

	// ErrNotFound means get() found no row for the key.
	ErrNotFound = errors.New("store: not found")

	// ErrStoreTransient wraps a retryable backend error (timeout, connection
	// reset). RedisStore returns it on the first failed backend call; the
	// store does not retry the operation itself.
	ErrStoreTransient = errors.New("store: transient error")

	// ErrStoreFatal wraps a non-retryable backend error (malformed key,
	// malformed precondition). Always surfaced.
	ErrStoreFatal = errors.New("store: fatal error")
)
