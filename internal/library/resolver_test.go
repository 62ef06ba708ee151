package library

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/storage"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type upload struct {
	server, share, path string
	data                []byte
	creds               *domain.Credentials
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, server, share, remotePath string, r io.Reader, creds *domain.Credentials) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.uploads = append(f.uploads, upload{server, share, remotePath, data, creds})
	f.mu.Unlock()
	return nil
}

type revokedFolder struct{ ScopedFolder }

func (revokedFolder) Writable() bool { return false }

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "temp_1_download")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func openScoped(t *testing.T) (string, *storage.ScopedFolder) {
	t.Helper()
	dir := t.TempDir()
	f, err := storage.OpenScopedFolder(dir)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return dir, f
}

func TestPlace_RemoteShareWinsOverEverything(t *testing.T) {
	up := &fakeUploader{}
	internal := t.TempDir()
	scopedDir, scoped := openScoped(t)

	r := NewResolver(up, Dirs{Internal: internal}, newTestLogger())
	r.SetScopedFolder(scoped)
	r.SetDestination(&domain.LibraryDestination{
		Server: "nas.local", Share: "games", SubPath: "/roms/",
		Credentials: &domain.Credentials{Username: "u", Password: "p"},
	})

	p, err := r.Place(context.Background(), writeTemp(t, "rom"), "Sonic.md", "genesis")
	require.NoError(t, err)

	assert.Equal(t, domain.BackendSMB, p.Backend)
	assert.Equal(t, "smb://nas.local/games/roms/genesis/Sonic.md", p.Location)
	require.Len(t, up.uploads, 1)
	assert.Equal(t, "roms/genesis/Sonic.md", up.uploads[0].path)
	assert.Equal(t, "games", up.uploads[0].share)
	assert.Equal(t, []byte("rom"), up.uploads[0].data)
	assert.Equal(t, "u", up.uploads[0].creds.Username)

	assert.NoFileExists(t, filepath.Join(scopedDir, "genesis", "Sonic.md"))
	assert.NoFileExists(t, filepath.Join(internal, "genesis", "Sonic.md"))
}

func TestPlace_RemoteFailureDoesNotFallBack(t *testing.T) {
	up := &fakeUploader{err: errors.New("STATUS_BAD_NETWORK_NAME")}
	internal := t.TempDir()
	scopedDir, scoped := openScoped(t)

	r := NewResolver(up, Dirs{Internal: internal}, newTestLogger())
	r.SetScopedFolder(scoped)
	r.SetDestination(&domain.LibraryDestination{Server: "nas.local", Share: "nope"})

	_, err := r.Place(context.Background(), writeTemp(t, "rom"), "Sonic.md", "genesis")

	var perr *errpkg.PlacementError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "SMB", perr.Backend)
	assert.Contains(t, err.Error(), "SMB upload failed")
	assert.NoFileExists(t, filepath.Join(scopedDir, "genesis", "Sonic.md"))
	assert.NoFileExists(t, filepath.Join(internal, "genesis", "Sonic.md"))
}

func TestPlace_RemotePathSegments(t *testing.T) {
	tests := []struct {
		name     string
		subPath  string
		system   string
		expected string
	}{
		{"all segments", "roms", "snes", "roms/snes/game.sfc"},
		{"no sub path", "", "snes", "snes/game.sfc"},
		{"no system", "roms/nested", "", "roms/nested/game.sfc"},
		{"nothing", "", " ", "game.sfc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUploader{}
			r := NewResolver(up, Dirs{}, newTestLogger())
			r.SetDestination(&domain.LibraryDestination{Server: "s", Share: "sh", SubPath: tt.subPath})

			_, err := r.Place(context.Background(), writeTemp(t, "x"), "game.sfc", tt.system)
			require.NoError(t, err)
			require.Len(t, up.uploads, 1)
			assert.Equal(t, tt.expected, up.uploads[0].path)
		})
	}
}

func TestPlace_ScopedFolderOverwrites(t *testing.T) {
	internal := t.TempDir()
	scopedDir, scoped := openScoped(t)
	require.NoError(t, os.MkdirAll(filepath.Join(scopedDir, "snes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scopedDir, "snes", "game.sfc"), []byte("old and longer"), 0o644))

	r := NewResolver(&fakeUploader{}, Dirs{Internal: internal}, newTestLogger())
	r.SetScopedFolder(scoped)

	p, err := r.Place(context.Background(), writeTemp(t, "new"), "game.sfc", "snes")
	require.NoError(t, err)

	assert.Equal(t, domain.BackendSAF, p.Backend)
	assert.Equal(t, filepath.Join(scopedDir, "snes", "game.sfc"), p.Location)
	content, err := os.ReadFile(p.Location)
	require.NoError(t, err)
	assert.Equal(t, "new", string(content))
	assert.NoFileExists(t, filepath.Join(internal, "snes", "game.sfc"))
}

func TestPlace_RevokedScopedFolderFallsBackToLocal(t *testing.T) {
	internal := t.TempDir()
	_, scoped := openScoped(t)

	r := NewResolver(&fakeUploader{}, Dirs{Internal: internal}, newTestLogger())
	r.SetScopedFolder(revokedFolder{scoped})

	p, err := r.Place(context.Background(), writeTemp(t, "rom"), "game.nes", "nes")
	require.NoError(t, err)
	assert.Equal(t, domain.BackendLocal, p.Backend)
	assert.FileExists(t, filepath.Join(internal, "nes", "game.nes"))
}

func TestPlace_PlainDirectoryPrecedence(t *testing.T) {
	base := t.TempDir()
	explicit := filepath.Join(base, "explicit")
	legacy := filepath.Join(base, "legacy")
	internal := filepath.Join(base, "internal")
	require.NoError(t, os.Mkdir(legacy, 0o755))

	r := NewResolver(&fakeUploader{}, Dirs{Explicit: explicit, Legacy: legacy, Internal: internal}, newTestLogger())

	p, err := r.Place(context.Background(), writeTemp(t, "rom"), "game.gba", "gba")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(legacy, "gba", "game.gba"), p.Location)

	require.NoError(t, os.Mkdir(explicit, 0o755))
	p, err = r.Place(context.Background(), writeTemp(t, "rom2"), "game.gba", "gba")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(explicit, "gba", "game.gba"), p.Location)

	path, ok := r.PlacedPath("gba", "game.gba")
	assert.True(t, ok)
	assert.Equal(t, p.Location, path)
	_, ok = r.PlacedPath("gba", "other.gba")
	assert.False(t, ok)
}

func TestPlace_InternalDirectoryCreated(t *testing.T) {
	internal := filepath.Join(t.TempDir(), "data", "roms")
	r := NewResolver(&fakeUploader{}, Dirs{Internal: internal}, newTestLogger())

	p, err := r.Place(context.Background(), writeTemp(t, "rom"), "../../escape.nes", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(internal, "escape.nes"), p.Location)
}

func TestPlace_NoStorageConfigured(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	r := NewResolver(&fakeUploader{}, Dirs{Internal: filepath.Join(blocker, "roms")}, newTestLogger())

	_, err := r.Place(context.Background(), writeTemp(t, "rom"), "game.nes", "nes")
	assert.ErrorIs(t, err, errpkg.ErrStorageNotConfigured)

	_, err = r.ActiveBackend()
	assert.ErrorIs(t, err, errpkg.ErrStorageNotConfigured)

	_, err = r.CheckCapacity(nil)
	assert.ErrorIs(t, err, errpkg.ErrStorageNotConfigured)
}

func TestPlace_CancelledContext(t *testing.T) {
	up := &fakeUploader{}
	r := NewResolver(up, Dirs{Internal: t.TempDir()}, newTestLogger())
	r.SetDestination(&domain.LibraryDestination{Server: "s", Share: "sh"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Place(ctx, writeTemp(t, "rom"), "game.nes", "nes")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, up.uploads)
}

func TestCheckCapacity(t *testing.T) {
	r := NewResolver(&fakeUploader{}, Dirs{Internal: t.TempDir()}, newTestLogger())

	check, err := r.CheckCapacity([]domain.DownloadableFile{{Size: 1024}, {Size: -5}})
	require.NoError(t, err)
	assert.Equal(t, domain.BackendLocal, check.Backend)
	assert.Equal(t, int64(1024), check.RequiredBytes)
	assert.Equal(t, "1.0 KiB", check.Required)

	if check.AvailableBytes >= 0 {
		assert.True(t, check.Sufficient)

		huge, err := r.CheckCapacity([]domain.DownloadableFile{{Size: 1 << 60}})
		require.NoError(t, err)
		assert.False(t, huge.Sufficient)
		assert.Equal(t, huge.RequiredBytes-huge.AvailableBytes, huge.ShortageBytes)
		assert.NotEmpty(t, huge.Shortage)
	}

	r.SetDestination(&domain.LibraryDestination{Server: "s", Share: "sh"})
	check, err = r.CheckCapacity([]domain.DownloadableFile{{Size: 1 << 60}})
	require.NoError(t, err)
	assert.True(t, check.Sufficient)
	assert.Equal(t, int64(-1), check.AvailableBytes)
	assert.Equal(t, "unknown", check.Available)
	assert.Equal(t, domain.BackendSMB, check.Backend)
}

func TestDestination_CopyAndClear(t *testing.T) {
	r := NewResolver(&fakeUploader{}, Dirs{}, newTestLogger())
	assert.Nil(t, r.Destination())

	r.SetDestination(&domain.LibraryDestination{Server: "s", Share: "sh", SubPath: "/a/b/"})
	d := r.Destination()
	require.NotNil(t, d)
	assert.Equal(t, "a/b", d.SubPath)

	d.Share = "mutated"
	assert.Equal(t, "sh", r.Destination().Share)

	r.SetDestination(nil)
	assert.Nil(t, r.Destination())
}

func TestGrantScopedFolder(t *testing.T) {
	internal := t.TempDir()
	scopedDir := t.TempDir()
	r := NewResolver(&fakeUploader{}, Dirs{Internal: internal}, newTestLogger())

	require.NoError(t, r.GrantScopedFolder(scopedDir))
	backend, err := r.ActiveBackend()
	require.NoError(t, err)
	assert.Equal(t, domain.BackendSAF, backend)

	require.NoError(t, r.GrantScopedFolder(""))
	backend, err = r.ActiveBackend()
	require.NoError(t, err)
	assert.Equal(t, domain.BackendLocal, backend)

	assert.Error(t, r.GrantScopedFolder(filepath.Join(scopedDir, "missing")))
}

func TestPlace_RejectsSystemOutsideLibrary(t *testing.T) {
	base := t.TempDir()
	lib := filepath.Join(base, "lib")
	r := NewResolver(&fakeUploader{}, Dirs{Internal: lib}, newTestLogger())

	for _, systemID := range []string{"../escaped", "..", ".", `..\escaped`, "gba/../../escaped"} {
		_, err := r.Place(context.Background(), writeTemp(t, "rom"), "Game.zip", systemID)
		require.Error(t, err, systemID)

		var perr *errpkg.PlacementError
		require.ErrorAs(t, err, &perr, systemID)
		assert.Equal(t, string(domain.BackendLocal), perr.Backend)
	}

	assert.NoFileExists(t, filepath.Join(base, "escaped", "Game.zip"))
	assert.NoFileExists(t, filepath.Join(base, "Game.zip"))
	assert.NoFileExists(t, filepath.Join(lib, "Game.zip"))

	_, ok := r.PlacedPath("../escaped", "Game.zip")
	assert.False(t, ok)
}

func TestPlace_StripsFoldersFromFileName(t *testing.T) {
	lib := t.TempDir()
	r := NewResolver(&fakeUploader{}, Dirs{Internal: lib}, newTestLogger())

	p, err := r.Place(context.Background(), writeTemp(t, "rom"), `USA\..\Sonic.zip`, "genesis")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(lib, "genesis", "Sonic.zip"), p.Location)

	_, err = r.Place(context.Background(), writeTemp(t, "rom"), "..", "genesis")
	require.Error(t, err)
}
