package guard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is the local tier of the sent-key set: a JSON array of key
// strings, rewritten whole on every change. Key volume is a few per order,
// so full-file overwrites stay cheap for years of orders.
type FileStore struct {
	path string

	mu   sync.Mutex
	keys map[string]struct{}
}

// NewFileStore loads the key set from path, tolerating a missing file.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, keys: make(map[string]struct{})}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sent-key file: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("parse sent-key file %s: %w", path, err)
	}
	for _, k := range keys {
		s.keys[k] = struct{}{}
	}
	return s, nil
}

// Has reports whether a key is present.
func (s *FileStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok
}

// Add inserts keys and persists the whole set. Already-present keys are a
// no-op without a rewrite.
func (s *FileStore) Add(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for _, k := range keys {
		if _, ok := s.keys[k]; !ok {
			s.keys[k] = struct{}{}
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

// Clear drops every key and persists the empty set.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = make(map[string]struct{})
	return s.persist()
}

// Len returns the number of stored keys.
func (s *FileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// persist writes the set via temp file + rename so a crash mid-write never
// truncates the durable safety net. Caller holds the lock.
func (s *FileStore) persist() error {
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sent-key dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "sent-messages-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}
