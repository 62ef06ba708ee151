package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ScopedFolder is a directory tree the user granted access to. All
// operations are confined to that tree; paths that escape it fail.
type ScopedFolder struct {
	root *os.Root
}

func OpenScopedFolder(dir string) (*ScopedFolder, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open scoped folder: %w", err)
	}
	return &ScopedFolder{root: root}, nil
}

func (f *ScopedFolder) Close() error {
	return f.root.Close()
}

// Location returns a displayable path for name inside the folder.
func (f *ScopedFolder) Location(name string) string {
	return filepath.Join(f.root.Name(), filepath.FromSlash(name))
}

func (f *ScopedFolder) Writable() bool {
	return probeWritable(f.root.Name())
}

// EnsureDir finds or creates a direct child directory.
func (f *ScopedFolder) EnsureDir(name string) error {
	err := f.root.Mkdir(name, 0o755)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrExist) {
		return err
	}
	info, serr := f.root.Stat(name)
	if serr != nil {
		return serr
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", name)
	}
	return nil
}

func (f *ScopedFolder) Exists(name string) bool {
	info, err := f.root.Stat(filepath.FromSlash(name))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes name. A missing file is not an error.
func (f *ScopedFolder) Remove(name string) error {
	err := f.root.Remove(filepath.FromSlash(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// WriteFile creates name and fills it from r. The file is removed if the
// copy fails.
func (f *ScopedFolder) WriteFile(name string, r io.Reader) (int64, error) {
	name = filepath.FromSlash(name)
	dst, err := f.root.Create(name)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", name, err)
	}

	n, err := io.Copy(dst, r)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		f.root.Remove(name)
		return n, fmt.Errorf("write %s: %w", name, err)
	}
	return n, nil
}
