package stores

import "github.com/keystep-id/keystep/internal/platform/errors"

var (
	// ErrNotFound indicates the record is absent or was already consumed.
	ErrNotFound = errors.New(errors.CodeNotFound, "ephemeral record not found")
	// ErrExpired indicates the record's TTL lapsed. Callers must treat it
	// identically to ErrNotFound in responses; it exists for logging.
	ErrExpired = errors.New(errors.CodeExpired, "ephemeral record expired")
	// ErrCodeIncorrect indicates a one-time code mismatch below the limit.
	ErrCodeIncorrect = errors.New(errors.CodeStepUpCodeIncorrect, "one-time code incorrect")
	// ErrAttemptsExhausted indicates the attempt limit was reached and the
	// record was invalidated.
	ErrAttemptsExhausted = errors.New(errors.CodeStepUpAttemptsExhausted, "one-time code attempts exhausted")
	// ErrBackend indicates the Redis backend failed.
	ErrBackend = errors.New(errors.CodeStoreUnavailable, "ephemeral store unavailable")
)
