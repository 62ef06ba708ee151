package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// FileStorage manages files below a single directory on the local filesystem.
type FileStorage struct {
	dir string
}

// NewFileStorage creates a new FileStorage instance with the given directory.
func NewFileStorage(dir string) *FileStorage {
	return &FileStorage{dir: dir}
}

func (s *FileStorage) Dir() string {
	return s.dir
}

// Path returns the absolute-or-relative path of name inside the storage dir.
func (s *FileStorage) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// CreateTemp creates a download temp file named temp_<unix-nano>_<name>.
func (s *FileStorage) CreateTemp(fileName string) (*os.File, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	name := "temp_" + strconv.FormatInt(time.Now().UnixNano(), 10) + "_" + filepath.Base(fileName)
	return os.Create(filepath.Join(s.dir, name))
}

// FileExists checks whether a regular file exists in the storage directory.
func (s *FileStorage) FileExists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Writable reports whether the directory exists and accepts new files.
func (s *FileStorage) Writable() bool {
	return probeWritable(s.dir)
}

// Remove deletes name. A missing file is not an error.
func (s *FileStorage) Remove(name string) error {
	err := os.Remove(s.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// CopyFile writes src to name, replacing any existing file. Readers never
// see a half-written destination: data goes to a sibling temp file which is
// renamed into place.
func (s *FileStorage) CopyFile(src io.Reader, name string) (int64, error) {
	dst := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".partial_*")
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, src)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("write %s: %w", name, err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return n, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// PlaceFile copies the file at srcPath to name, overwriting, and returns
// the destination path.
func (s *FileStorage) PlaceFile(srcPath, name string) (string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	if _, err := s.CopyFile(src, name); err != nil {
		return "", err
	}
	return s.Path(name), nil
}

func probeWritable(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe_*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true
}
