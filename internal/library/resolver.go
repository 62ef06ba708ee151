// Package library decides where a downloaded ROM ends up and puts it there.
//
// Backends are tried in a fixed order on every placement: a configured
// remote share always wins, then a writable scoped folder, then a plain
// directory. A failing remote share never falls through to local storage.
package library

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/storage"
)

// Uploader writes files to a remote share.
type Uploader interface {
	Upload(ctx context.Context, server, share, remotePath string, r io.Reader, creds *domain.Credentials) error
}

// ScopedFolder is a user-granted directory handle.
type ScopedFolder interface {
	Writable() bool
	EnsureDir(name string) error
	Exists(name string) bool
	Remove(name string) error
	WriteFile(name string, r io.Reader) (int64, error)
	Location(name string) string
}

// Dirs are the plain-directory candidates in precedence order. Explicit and
// Legacy are used only if they already exist and are writable; Internal is
// created on demand.
type Dirs struct {
	Explicit string
	Legacy   string
	Internal string
}

type Resolver struct {
	uploader Uploader
	dirs     Dirs
	logger   *slog.Logger

	dest atomic.Pointer[domain.LibraryDestination]

	mu     sync.RWMutex
	scoped ScopedFolder
}

func NewResolver(uploader Uploader, dirs Dirs, logger *slog.Logger) *Resolver {
	return &Resolver{
		uploader: uploader,
		dirs:     dirs,
		logger:   logger,
	}
}

// SetDestination installs (or with nil, clears) the remote share destination.
func (r *Resolver) SetDestination(dest *domain.LibraryDestination) {
	if dest == nil {
		r.dest.Store(nil)
		return
	}
	d := *dest
	d.SubPath = strings.Trim(d.SubPath, "/")
	r.dest.Store(&d)
}

// Destination returns a copy of the configured share destination, or nil.
func (r *Resolver) Destination() *domain.LibraryDestination {
	d := r.dest.Load()
	if d == nil {
		return nil
	}
	cp := *d
	return &cp
}

// SetScopedFolder installs (or with nil, revokes) the scoped folder grant.
func (r *Resolver) SetScopedFolder(f ScopedFolder) {
	r.mu.Lock()
	r.scoped = f
	r.mu.Unlock()
}

// GrantScopedFolder opens dir as the scoped folder, closing any previous
// grant. An empty dir revokes the grant.
func (r *Resolver) GrantScopedFolder(dir string) error {
	var next ScopedFolder
	if dir != "" {
		f, err := storage.OpenScopedFolder(dir)
		if err != nil {
			return fmt.Errorf("failed to open scoped folder: %w", err)
		}
		next = f
	}

	r.mu.Lock()
	prev := r.scoped
	r.scoped = next
	r.mu.Unlock()

	if c, ok := prev.(io.Closer); ok {
		_ = c.Close()
	}
	r.logger.Info("scoped folder grant changed", "dir", dir)
	return nil
}

func (r *Resolver) scopedFolder() ScopedFolder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.scoped == nil || !r.scoped.Writable() {
		return nil
	}
	return r.scoped
}

// backendLabel names the backend for errors raised before one is chosen.
func (r *Resolver) backendLabel() domain.Backend {
	b, err := r.ActiveBackend()
	if err != nil {
		return "none"
	}
	return b
}

// ActiveBackend reports which backend the next placement would use.
func (r *Resolver) ActiveBackend() (domain.Backend, error) {
	if r.dest.Load() != nil {
		return domain.BackendSMB, nil
	}
	if r.scopedFolder() != nil {
		return domain.BackendSAF, nil
	}
	if _, err := r.plainStorage(); err != nil {
		return "", err
	}
	return domain.BackendLocal, nil
}

// Place moves the bytes of tempFile to <system>/<fileName> on the active
// backend, replacing an existing file of the same name.
func (r *Resolver) Place(ctx context.Context, tempFile, fileName, systemID string) (domain.Placement, error) {
	if err := ctx.Err(); err != nil {
		return domain.Placement{}, err
	}
	systemID = strings.TrimSpace(systemID)
	if !validSystemID(systemID) {
		return domain.Placement{}, &errpkg.PlacementError{
			Backend: string(r.backendLabel()),
			Path:    systemID,
			Err:     fmt.Errorf("invalid system id %q", systemID),
		}
	}
	rel := relativePath(systemID, fileName)
	if base := path.Base(rel); base == "." || base == ".." || base == "/" {
		return domain.Placement{}, &errpkg.PlacementError{
			Backend: string(r.backendLabel()),
			Path:    fileName,
			Err:     fmt.Errorf("invalid file name %q", fileName),
		}
	}

	if dest := r.dest.Load(); dest != nil {
		return r.placeRemote(ctx, *dest, tempFile, rel)
	}
	if f := r.scopedFolder(); f != nil {
		return r.placeScoped(f, tempFile, systemID, rel)
	}

	fs, err := r.plainStorage()
	if err != nil {
		return domain.Placement{}, err
	}
	location, err := fs.PlaceFile(tempFile, rel)
	if err != nil {
		return domain.Placement{}, &errpkg.PlacementError{Backend: string(domain.BackendLocal), Path: fs.Path(rel), Err: err}
	}
	r.logger.Info("file placed", "backend", domain.BackendLocal, "location", location)
	return domain.Placement{Location: location, Backend: domain.BackendLocal}, nil
}

func (r *Resolver) placeRemote(ctx context.Context, dest domain.LibraryDestination, tempFile, rel string) (domain.Placement, error) {
	remotePath := RemotePath(dest, rel)
	location := "smb://" + dest.Server + "/" + dest.Share + "/" + remotePath

	src, err := os.Open(tempFile)
	if err != nil {
		return domain.Placement{}, &errpkg.PlacementError{Backend: string(domain.BackendSMB), Path: location, Err: err}
	}
	defer src.Close()

	if err := r.uploader.Upload(ctx, dest.Server, dest.Share, remotePath, src, dest.Credentials); err != nil {
		return domain.Placement{}, &errpkg.PlacementError{
			Backend: string(domain.BackendSMB),
			Path:    location,
			Err:     fmt.Errorf("SMB upload failed: %w", err),
		}
	}

	r.logger.Info("file placed", "backend", domain.BackendSMB, "location", location)
	return domain.Placement{Location: location, Backend: domain.BackendSMB}, nil
}

func (r *Resolver) placeScoped(f ScopedFolder, tempFile, systemID, rel string) (domain.Placement, error) {
	fail := func(err error) (domain.Placement, error) {
		return domain.Placement{}, &errpkg.PlacementError{Backend: string(domain.BackendSAF), Path: f.Location(rel), Err: err}
	}

	if systemID != "" {
		if err := f.EnsureDir(systemID); err != nil {
			return fail(fmt.Errorf("create system folder: %w", err))
		}
	}
	if err := f.Remove(rel); err != nil {
		return fail(fmt.Errorf("remove existing file: %w", err))
	}

	src, err := os.Open(tempFile)
	if err != nil {
		return fail(err)
	}
	defer src.Close()

	if _, err := f.WriteFile(rel, src); err != nil {
		return fail(err)
	}

	location := f.Location(rel)
	r.logger.Info("file placed", "backend", domain.BackendSAF, "location", location)
	return domain.Placement{Location: location, Backend: domain.BackendSAF}, nil
}

// plainStorage resolves the plain directory: explicit, then legacy, then
// the internal directory.
func (r *Resolver) plainStorage() (*storage.FileStorage, error) {
	for _, dir := range []string{r.dirs.Explicit, r.dirs.Legacy} {
		if dir == "" {
			continue
		}
		if fs := storage.NewFileStorage(dir); fs.Writable() {
			return fs, nil
		}
	}

	if r.dirs.Internal != "" {
		if err := os.MkdirAll(r.dirs.Internal, 0o755); err == nil {
			if fs := storage.NewFileStorage(r.dirs.Internal); fs.Writable() {
				return fs, nil
			}
		}
	}
	return nil, errpkg.ErrStorageNotConfigured
}

// PlacedPath returns the location of an already placed file on the scoped
// folder or plain directory.
func (r *Resolver) PlacedPath(systemID, fileName string) (string, bool) {
	if !validSystemID(systemID) {
		return "", false
	}
	rel := relativePath(systemID, fileName)
	if f := r.scopedFolder(); f != nil {
		if f.Exists(rel) {
			return f.Location(rel), true
		}
		return "", false
	}
	fs, err := r.plainStorage()
	if err != nil || !fs.FileExists(rel) {
		return "", false
	}
	return fs.Path(rel), true
}

// AvailableBytes reports free space on the active backend, or -1 when the
// backend cannot tell (remote share, unsupported platform).
func (r *Resolver) AvailableBytes() (int64, domain.Backend, error) {
	if r.dest.Load() != nil {
		return -1, domain.BackendSMB, nil
	}
	if f := r.scopedFolder(); f != nil {
		return availableSpace(f.Location("")), domain.BackendSAF, nil
	}
	fs, err := r.plainStorage()
	if err != nil {
		return 0, "", err
	}
	return availableSpace(fs.Dir()), domain.BackendLocal, nil
}

// CheckCapacity sums the declared sizes of files and compares them with the
// free space of the active backend. Unknown free space counts as enough.
func (r *Resolver) CheckCapacity(files []domain.DownloadableFile) (domain.StorageCheck, error) {
	var required int64
	for _, f := range files {
		if f.Size > 0 {
			required += f.Size
		}
	}

	available, backend, err := r.AvailableBytes()
	if err != nil {
		return domain.StorageCheck{}, err
	}

	check := domain.StorageCheck{
		Sufficient:     true,
		RequiredBytes:  required,
		AvailableBytes: available,
		Required:       humanize.IBytes(uint64(required)),
		Available:      "unknown",
		Backend:        backend,
	}
	if available < 0 {
		return check, nil
	}

	check.Available = humanize.IBytes(uint64(available))
	if required > available {
		check.Sufficient = false
		check.ShortageBytes = required - available
		check.Shortage = humanize.IBytes(uint64(check.ShortageBytes))
	}
	return check, nil
}

// RemotePath joins the destination sub path with rel using forward slashes.
func RemotePath(dest domain.LibraryDestination, rel string) string {
	return strings.TrimPrefix(path.Join(strings.Trim(dest.SubPath, "/"), rel), "/")
}

// validSystemID accepts a single folder name: no separators and no dot
// segments.
func validSystemID(systemID string) bool {
	if systemID == "." || systemID == ".." {
		return false
	}
	return !strings.ContainsAny(systemID, `/\`)
}

func relativePath(systemID, fileName string) string {
	name := domain.DownloadableFile{Name: fileName}.BaseName()
	if s := strings.TrimSpace(systemID); s != "" {
		return s + "/" + name
	}
	return name
}
