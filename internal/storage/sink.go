// Package storage provides the destinations finished recordings are written to.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Sink creates output streams for named files. Remove deletes a file left
// behind by a failed write.
type Sink interface {
	CreateOutputStream(name, mimeType string) (io.WriteCloser, error)
	Remove(name string) error
}

// Kinds accepted by Open.
const (
	KindDir  = "dir"
	KindRoot = "root"
)

// ErrInvalidName is returned for names that are empty or not a single path element.
var ErrInvalidName = errors.New("storage: invalid file name")

// Open returns the sink of the given kind rooted at dir, creating dir if needed.
func Open(kind, dir string) (Sink, error) {
	switch kind {
	case KindDir, "":
		return NewDirSink(dir)
	case KindRoot:
		return OpenRootSink(dir)
	default:
		return nil, fmt.Errorf("storage: unknown sink kind %q", kind)
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// DirSink writes files into a plain directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if it does not exist.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	return &DirSink{dir: dir}, nil
}

// Dir returns the directory the sink writes to.
func (s *DirSink) Dir() string { return s.dir }

// CreateOutputStream creates name exclusively; an existing file is an error.
func (s *DirSink) CreateOutputStream(name, _ string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes name; a missing file is not an error.
func (s *DirSink) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// RootSink writes through an os.Root, so nothing outside the granted
// directory can be touched even through symlinks.
type RootSink struct {
	root *os.Root
}

// OpenRootSink creates dir if needed and opens it as a root.
func OpenRootSink(dir string) (*RootSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: open root %s: %w", dir, err)
	}
	return &RootSink{root: root}, nil
}

// Dir returns the directory the sink writes to.
func (s *RootSink) Dir() string { return s.root.Name() }

// CreateOutputStream creates name exclusively inside the root.
func (s *RootSink) CreateOutputStream(name, _ string) (io.WriteCloser, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := s.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", name, err)
	}
	return f, nil
}

// Remove deletes name inside the root; a missing file is not an error.
func (s *RootSink) Remove(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := s.root.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: remove %s: %w", name, err)
	}
	return nil
}

// Close releases the root handle.
func (s *RootSink) Close() error {
	return s.root.Close()
}
