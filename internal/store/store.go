// Package store provides the persistent key-value storage the session layers mirror into.
package store

import "context"

// Storage keys.
const (
	KeyAccessToken = "accessToken"
	KeyUser        = "user"
	KeyTheme       = "toollink-theme"
)

// Storage is a string key-value store with key-level atomic writes.
type Storage interface {
	// Get returns the value and whether the key is present.
	Get(key string) (string, bool, error)
	// Set writes value under key.
	Set(key, value string) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(key string) error
}

// Event reports that key was changed by another writer.
type Event struct {
	Key string
}

// Watcher is implemented by storages that can notify about changes made elsewhere.
type Watcher interface {
	// Watch streams change events until ctx is done; the channel is then closed.
	Watch(ctx context.Context) (<-chan Event, error)
}
