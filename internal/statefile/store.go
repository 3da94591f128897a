// Package statefile keeps small durable flag files in a state directory.
// The existence of a file is meaningful on its own; its content is a short text record.
package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store reads and writes named flag files under a directory.
type Store struct {
	dir string
}

// NewStore constructs a store rooted at dir, creating it when missing.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("statefile: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statefile: create %s: %w", dir, err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("statefile: %s is not a directory", dir)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string { return s.dir }

// Put atomically replaces the named file with content.
func (s *Store) Put(name, content string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.WriteString(content); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return syncDir(s.dir)
}

// Get returns the content of the named file and whether it exists.
func (s *Store) Get(name string) (string, bool, error) {
	path, err := s.path(name)
	if err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(data), true, nil
}

// Exists reports whether the named file is present.
func (s *Store) Exists(name string) (bool, error) {
	path, err := s.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Remove deletes the named file. Removing a missing file is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) path(name string) (string, error) {
	if s == nil {
		return "", errors.New("statefile: nil store")
	}
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("statefile: invalid name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// some filesystems refuse fsync on directories; the rename is already visible
	_ = d.Sync()
	return nil
}
