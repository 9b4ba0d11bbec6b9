package ssevents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	toml "github.com/pelletier/go-toml/v2"
)

// FileStore persists values in a small TOML document on local disk.
//
//	[state]
//	replay_timestamp = "2024-06-01T12:00:00Z"
type FileStore struct {
	path string
	mu   sync.Mutex
}

type fileStoreDoc struct {
	State map[string]string `toml:"state"`
}

// NewFileStore returns a store backed by path. The file and its directory
// are created on the first Put.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) read() (*fileStoreDoc, error) {
	doc := &fileStoreDoc{State: map[string]string{}}
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("cannot read state file: %w", err)
	}
	if err := toml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("cannot parse state file: %w", err)
	}
	if doc.State == nil {
		doc.State = map[string]string{}
	}
	return doc, nil
}

// write replaces the file atomically so a crash never leaves a torn cursor.
func (s *FileStore) write(doc *fileStoreDoc) error {
	data, err := toml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cannot marshal state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.toml")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("cannot write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cannot write state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("cannot replace state file: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return "", false, err
	}
	v, ok := doc.State[key]
	return v, ok, nil
}

func (s *FileStore) Put(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.State[key] = value
	return s.write(doc)
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := doc.State[key]; !ok {
		return nil
	}
	delete(doc.State, key)
	return s.write(doc)
}

func (s *FileStore) Close() error { return nil }
