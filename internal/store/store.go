// Package store implements the persisted key-value store the daemon treats
// as its single source of truth. The contract is deliberately small: get,
// set, and remove by key, no transactions, last-write-wins. Callers that
// need partial updates fetch, merge, and store within one handler
// invocation.
package store

import "encoding/json"

// Store is the persistent-store collaborator.
type Store interface {
	// Get returns the values for the requested keys. Missing keys are
	// absent from the result, not an error.
	Get(keys []string) (map[string]json.RawMessage, error)
	// Set writes the given key/value pairs. Writes to distinct keys are
	// not atomic with respect to each other.
	Set(values map[string]json.RawMessage) error
	// Remove deletes the given keys. Removing a missing key is a no-op.
	Remove(keys []string) error
}

// LibraryKey is the key under which the whole prompt library document is
// persisted.
const LibraryKey = "promptLibraryData"
