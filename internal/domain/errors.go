package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrChunkNotFound signals a missing document chunk.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrDocumentNotFound signals a missing source document record.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrConversationNotFound signals a missing conversation.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrMessageNotFound signals a missing message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnauthorized signals a policy gate denial. Never retried, never downgraded.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrValidation signals invalid input rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrStoreConflict signals a transactional write collision.
	ErrStoreConflict = errors.New("store conflict")
	// ErrVectorDimMismatch signals an embedding dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProvider signals an embedding provider failure.
	ErrEmbeddingProvider = errors.New("embedding provider error")
)

// ProviderError wraps an embedding provider failure with its retry classification.
// Transient failures (timeouts, rate limits, 5xx) are retryable with backoff;
// permanent failures (bad request, auth) are logged and the input is skipped.
type ProviderError struct {
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s provider error: %v", kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Is reports equivalence with ErrEmbeddingProvider so callers can match the
// whole class without caring about classification.
func (e *ProviderError) Is(target error) bool { return target == ErrEmbeddingProvider }

// NewProviderError creates a classified embedding provider error.
func NewProviderError(transient bool, err error) error {
	return &ProviderError{Transient: transient, Err: err}
}

// IsTransientProvider reports whether err is a retryable provider failure.
func IsTransientProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}
