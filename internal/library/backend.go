// Package library persists the artifacts the panel produces between
// screens: extracted titles, premises, scripts and provider API keys.
package library

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned when a requested item does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidKey is returned for keys that cannot be stored safely.
	ErrInvalidKey = errors.New("invalid library key")
)

// Backend is a byte-oriented key-value store.
type Backend interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys in sorted order.
	Keys(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// Pinger is implemented by backends that can check they are reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// keys double as file names in FileBackend.
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// ValidateKey rejects keys that are empty, too long, or contain anything
// besides letters, digits, '-' and '_'.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// BackendError wraps a failure from the underlying store.
type BackendError struct {
	Backend string
	Op      string
	Key     string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s backend: %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}
