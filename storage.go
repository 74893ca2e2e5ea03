package rack

import "iter"

// storage is the key-value engine behind a store (Bolt file or in-memory).
// A single Put is atomic at the key granularity; no transactions beyond that
// are required of a backend.
type storage interface {
	// Get retrieves a value by key. Returns nil if not found.
	Get(key string) ([]byte, error)

	// Put stores a key-value pair, overwriting any previous value.
	Put(key string, value []byte) error

	// Delete removes a key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys iterates over all keys. Each call returns a fresh, restartable
	// iterator; mutating the store mid-iteration is undefined.
	Keys() iter.Seq[string]

	// Len returns the number of stored keys.
	Len() (int, error)

	// Wipe removes every key.
	Wipe() error

	// Ordered reports whether iteration follows insertion order. Byte-sorted
	// backends return false; Store.Sort still rewrites them, but their
	// iteration order does not change.
	Ordered() bool

	// Close releases the backend.
	Close() error
}
