// Package store persists the engine's opaque configuration documents.
//
// The settings layer stores the whole SKU→record map as a single JSON blob
// under one well-known key, read with a default-value fallback and written
// wholesale on every update. Store is that collaborator interface; FileStore
// keeps the blob on disk with atomic replace, BoltStore keeps it in a bbolt
// bucket for installs that already run an embedded database.
package store
