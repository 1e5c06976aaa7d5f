package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps every document in one JSON file on disk, replaced
// atomically on each write.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// OpenFile opens (or creates) a file-backed store at path.
func OpenFile(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	s := &FileStore{path: path}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeAll(map[string]json.RawMessage{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns the document stored under key, or def when absent.
func (s *FileStore) Get(key string, def []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readAll()
	if err != nil {
		return nil, err
	}
	v, ok := docs[key]
	if !ok {
		return def, nil
	}
	return v, nil
}

// Put stores the document wholesale under key.
func (s *FileStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readAll()
	if err != nil {
		return err
	}
	docs[key] = json.RawMessage(value)
	return s.writeAll(docs)
}

// Delete removes the document stored under key.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, err := s.readAll()
	if err != nil {
		return err
	}
	if _, ok := docs[key]; !ok {
		return nil
	}
	delete(docs, key)
	return s.writeAll(docs)
}

// Close implements Store. The file store holds no open handles.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	docs := map[string]json.RawMessage{}
	if len(data) == 0 {
		return docs, nil
	}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("store file is corrupt: %w", err)
	}
	return docs, nil
}

// writeAll replaces the file via rename so a crashed write never leaves a
// half-written document behind.
func (s *FileStore) writeAll(docs map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store documents: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	return os.Rename(tmp, s.path)
}
