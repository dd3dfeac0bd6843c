// Package fsutil abstracts the file operations of the replay source and the
// debug recorder, so both run against memory in tests.
package fsutil

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem is the file access used by the replay source and the debug
// recorder.
type FileSystem interface {
	Open(name string) (fs.File, error)
	ReadFile(name string) ([]byte, error)
	ReadDir(name string) ([]fs.DirEntry, error)
	Stat(name string) (fs.FileInfo, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	MkdirAll(path string, perm os.FileMode) error
	Exists(name string) bool
}

// OSFileSystem is the real file system.
type OSFileSystem struct{}

func (OSFileSystem) Open(name string) (fs.File, error)          { return os.Open(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (OSFileSystem) ReadDir(name string) ([]fs.DirEntry, error) { return os.ReadDir(name) }
func (OSFileSystem) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem keeps files and directories in maps keyed by cleaned
// path. Writing a file creates its parent directories.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMemoryFileSystem returns an empty file system.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

// mkdirs marks path and its parents as directories. Callers hold mu.
func (m *MemoryFileSystem) mkdirs(path string) {
	for p := path; p != "." && p != "/" && !m.dirs[p]; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
}

func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, notExist("open", name)
	}
	return &memFile{
		Reader: bytes.NewReader(data),
		info:   memInfo{name: filepath.Base(name), size: int64(len(data))},
	}, nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[name]
	if !ok {
		return nil, notExist("read", name)
	}
	return bytes.Clone(data), nil
}

// ReadDir lists the direct children of name sorted by file name.
func (m *MemoryFileSystem) ReadDir(name string) ([]fs.DirEntry, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.dirs[name] {
		return nil, notExist("readdir", name)
	}

	var out []fs.DirEntry
	for p, data := range m.files {
		if filepath.Dir(p) == name {
			out = append(out, fs.FileInfoToDirEntry(memInfo{name: filepath.Base(p), size: int64(len(data))}))
		}
	}
	for p := range m.dirs {
		if p != name && filepath.Dir(p) == name {
			out = append(out, fs.FileInfoToDirEntry(memInfo{name: filepath.Base(p), dir: true}))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if data, ok := m.files[name]; ok {
		return memInfo{name: filepath.Base(name), size: int64(len(data))}, nil
	}
	if m.dirs[name] {
		return memInfo{name: filepath.Base(name), dir: true}, nil
	}
	return nil, notExist("stat", name)
}

func (m *MemoryFileSystem) WriteFile(name string, data []byte, _ os.FileMode) error {
	name = filepath.Clean(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dirs[name] {
		return &fs.PathError{Op: "write", Path: name, Err: fs.ErrExist}
	}
	m.mkdirs(filepath.Dir(name))
	m.files[name] = bytes.Clone(data)
	return nil
}

func (m *MemoryFileSystem) MkdirAll(path string, _ os.FileMode) error {
	path = filepath.Clean(path)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return &fs.PathError{Op: "mkdir", Path: path, Err: fs.ErrExist}
	}
	m.mkdirs(path)
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	name = filepath.Clean(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok || m.dirs[name]
}

// Files returns every file path under dir, sorted.
func (m *MemoryFileSystem) Files(dir string) []string {
	dir = filepath.Clean(dir)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.files {
		if strings.HasPrefix(p, dir+string(filepath.Separator)) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

type memFile struct {
	*bytes.Reader
	info memInfo
}

func (f *memFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *memFile) Close() error               { return nil }

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
