// Package storage provides the byte-source abstraction the player streams
// from: open by name, then read/seek/size/close. Both the real file system
// and any fs.FS (including embed.FS) are supported.
package storage

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Source is an open, seekable, sized byte source. The read position is a
// single piece of shared state: every logical reader must seek before
// reading if another reader may have moved it.
type Source interface {
	io.Reader
	io.Seeker
	io.Closer
	// Size returns the total length of the source in bytes.
	Size() int64
}

// Storage opens named byte sources.
type Storage interface {
	Open(name string) (Source, error)
}

// RealStorage opens sources on the real file system, optionally rooted at a
// base path. Lookups are case-insensitive so files copied from FAT-style
// media resolve regardless of name casing.
type RealStorage struct {
	basePath string
}

// NewRealStorage creates a Storage rooted at basePath ("" for none).
func NewRealStorage(basePath string) *RealStorage {
	return &RealStorage{basePath: basePath}
}

func (r *RealStorage) Open(name string) (Source, error) {
	path := name
	if r.basePath != "" && !filepath.IsAbs(name) {
		path = filepath.Join(r.basePath, name)
	}

	if _, err := os.Stat(path); err != nil {
		found, findErr := FindFileCaseInsensitive(filepath.Dir(path), filepath.Base(path))
		if findErr != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		path = found
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	return &fileSource{File: f, size: info.Size()}, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (s *fileSource) Size() int64 {
	return s.size
}

// FSStorage opens sources from an fs.FS. Files that do not support seeking
// (fs.FS only guarantees reads) are loaded into memory and served from a
// bytes.Reader, which preserves the Source contract at the cost of one
// up-front read.
type FSStorage struct {
	fsys     fs.FS
	basePath string
}

// NewFSStorage creates a Storage over fsys, optionally rooted at basePath.
func NewFSStorage(fsys fs.FS, basePath string) *FSStorage {
	return &FSStorage{fsys: fsys, basePath: basePath}
}

func (e *FSStorage) Open(name string) (Source, error) {
	path := name
	if e.basePath != "" {
		path = e.basePath + "/" + name
	}

	f, err := e.fsys.Open(path)
	if err != nil {
		found, findErr := FindFileCaseInsensitiveFS(e.fsys, fsDir(path), filepath.Base(path))
		if findErr != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		if f, err = e.fsys.Open(found); err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if seeker, ok := f.(io.Seeker); ok {
		return &fsSource{file: f, seeker: seeker, size: info.Size()}, nil
	}

	data, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &memSource{Reader: bytes.NewReader(data)}, nil
}

type fsSource struct {
	file   fs.File
	seeker io.Seeker
	size   int64
}

func (s *fsSource) Read(p []byte) (int, error) { return s.file.Read(p) }

func (s *fsSource) Seek(off int64, whence int) (int64, error) { return s.seeker.Seek(off, whence) }

func (s *fsSource) Close() error { return s.file.Close() }

func (s *fsSource) Size() int64 { return s.size }

type memSource struct {
	*bytes.Reader
}

func (s *memSource) Close() error { return nil }
func (s *memSource) Size() int64  { return s.Reader.Size() }

// fsDir is filepath.Dir with fs.FS path separators.
func fsDir(path string) string {
	dir := filepath.ToSlash(filepath.Dir(path))
	if dir == "" {
		return "."
	}
	return dir
}
