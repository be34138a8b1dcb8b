// Package embed provides embedding generation for the semantic index.
package embed

import (
	"context"
	"errors"
	"fmt"
)

// Common errors for embedding providers.
var (
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
	ErrModelNotFound       = errors.New("embedding model not found")
	ErrEmptyText           = errors.New("cannot embed empty text")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
)

// Provider defines the interface for embedding backends.
type Provider interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embedding vectors for multiple texts, in the same
	// order and of the same length as the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Model returns the name of the embedding model in use.
	Model() string

	// Dimensions returns the length of the embedding vectors.
	Dimensions() int

	// Ping checks that the provider is reachable and the model available.
	Ping(ctx context.Context) error
}

// ProviderError wraps a failure with provider context. Provider calls are
// safe to retry unless the wrapped error is ErrModelNotFound or ErrEmptyText.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a ProviderError.
func NewProviderError(provider, op string, err error) error {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// Retryable reports whether an embedding failure is transient.
func Retryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrModelNotFound) &&
		!errors.Is(err, ErrEmptyText) &&
		!errors.Is(err, context.Canceled)
}
