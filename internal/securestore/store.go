// Package securestore holds secrets (session tokens, small JSON blobs) that must survive restarts
// and must not be readable at rest. Callers depend only on Store; BoltStore is the on-disk
// implementation and MemoryStore backs tests and ephemeral sessions.
package securestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidPassphrase is returned when an existing store cannot be opened with the given passphrase.
var ErrInvalidPassphrase = errors.New("securestore: invalid passphrase")

// ErrStoreLocked is returned when the store file is held open by another process.
var ErrStoreLocked = errors.New("securestore: store is locked by another process")

// Store is an opaque key-value store for strings. Each call may fail independently.
type Store interface {
	// Get returns the value for key and true, or "", false when the key is absent.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
}

// GetJSON decodes the JSON value stored under key into v. Returns false when the key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("securestore: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v under key as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("securestore: encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(payload))
}
