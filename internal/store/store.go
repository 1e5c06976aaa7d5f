package store

// Store is the configuration-store collaborator: get/set opaque documents by
// key with a default-value fallback. Implementations must be safe for
// concurrent use; concurrent writers to the same key are detected above the
// store through the document revision counter.
type Store interface {
	// Get returns the document stored under key, or def when absent.
	Get(key string, def []byte) ([]byte, error)
	// Put stores the document wholesale under key.
	Put(key string, value []byte) error
	// Delete removes the document stored under key. Deleting an absent key
	// is not an error.
	Delete(key string) error
	// Close releases any underlying resources.
	Close() error
}
