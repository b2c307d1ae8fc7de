package storefront

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-faster/errors"
)

// ErrKeyNotFound is returned by KeyValueStore.Get for absent keys.
var ErrKeyNotFound = errors.New("key not found")

// KeyValueStore is the persistence contract the session and stores write
// through. Implementations differ in durability and protection level; callers
// choose a store per key once, by the key's sensitivity, never per call.
type KeyValueStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Storage bundles the two protection levels a client runs with. Secure holds
// tokens and anything identifying; General holds cached cart/wishlist state.
type Storage struct {
	Secure  KeyValueStore
	General KeyValueStore
}

// NewMemoryStorage returns a Storage backed entirely by process memory,
// for tests and ephemeral sessions.
func NewMemoryStorage() Storage {
	return Storage{Secure: NewMemoryStore(), General: NewMemoryStore()}
}

// NewFileStorage returns a Storage persisting under dir: secure keys in a
// 0600 file, general keys in a 0644 file.
func NewFileStorage(dir string) Storage {
	return Storage{
		Secure:  NewFileStore(filepath.Join(dir, "secure.json"), 0o600),
		General: NewFileStore(filepath.Join(dir, "state.json"), 0o644),
	}
}

// MemoryStore is an in-memory KeyValueStore.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// FileStore is a KeyValueStore persisted as a single JSON object. Writes go
// through a temp file and rename so readers never observe a partial file.
type FileStore struct {
	mu   sync.Mutex
	path string
	mode os.FileMode
}

func NewFileStore(path string, mode os.FileMode) *FileStore {
	return &FileStore{path: path, mode: mode}
}

func (s *FileStore) Get(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	data[key] = value
	return s.save(data)
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return s.save(data)
}

func (s *FileStore) load() (map[string]string, error) {
	buf, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read store")
	}
	data := map[string]string{}
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, errors.Wrap(err, "parse store")
	}
	return data, nil
}

func (s *FileStore) save(data map[string]string) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode store")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create store dir")
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, buf, s.mode); err != nil {
		return errors.Wrap(err, "write store")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "replace store")
	}
	return nil
}
