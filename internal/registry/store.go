package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/srg/tuhi/internal/wire"
)

// Record is a persisted RegistrationRecord (spec.md §3): the tuple
// (address, uuid, family) keyed by address.
type Record struct {
	UUID   string  `yaml:"uuid"`
	Family wire.Tag `yaml:"family"`
}

// fileFormat is the on-disk shape: the {address: {uuid: hex32, family:
// string}} map sits under a top-level "devices" key rather than at the
// document root.
type fileFormat struct {
	Devices map[string]Record `yaml:"devices"`
}

// FileStore is the persistent store collaborator spec.md §1 describes: it
// holds the registration UUID and the family tag per device, keyed by
// Bluetooth address. It is not the teacher's bledb generated-data file, but follows
// the same "small keyed lookup table with a stable on-disk format" shape,
// written at runtime instead of go:generate time, and replaced atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path. The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads every persisted record. A missing file is not an error: it
// just means no device has registered yet.
func (s *FileStore) Load() (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registration store %s: %w", s.path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registration store %s: %w", s.path, err)
	}
	if f.Devices == nil {
		f.Devices = map[string]Record{}
	}
	return f.Devices, nil
}

// Save atomically replaces the store's contents, following the "write to a
// temp file in the same directory, then rename" idiom so a crash mid-write
// never leaves a truncated store.
func (s *FileStore) Save(devices map[string]Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registration store directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(fileFormat{Devices: devices})
	if err != nil {
		return fmt.Errorf("encode registration store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tuhi-registry-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp registration store: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registration store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registration store: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("replace registration store %s: %w", s.path, err)
	}
	return nil
}

// Put persists one RegistrationRecord, read-modify-write.
func (s *FileStore) Put(address string, rec Record) error {
	devices, err := s.Load()
	if err != nil {
		return err
	}
	devices[address] = rec
	return s.Save(devices)
}
