// Package kv contains the string key/value persistence used by the credential store.
//
// Values survive process restarts for every implementation except MemoryStore.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: not found")

// Store is a minimal string-keyed persistence surface.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set creates or overwrites a value.
	Set(ctx context.Context, key, value string) error

	// Delete removes the keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// Close releases the store's resources.
	Close() error
}
