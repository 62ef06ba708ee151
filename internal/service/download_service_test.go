package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veranemoloko/romfetch/internal/classifier"
	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/library"
	"github.com/veranemoloko/romfetch/internal/metadata"
	"github.com/veranemoloko/romfetch/internal/presence"
	"github.com/veranemoloko/romfetch/internal/storage"
	"github.com/veranemoloko/romfetch/internal/worker"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, _, _, remotePath string, r io.Reader, _ *domain.Credentials) error {
	if f.err != nil {
		return f.err
	}
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	f.mu.Lock()
	f.paths = append(f.paths, remotePath)
	f.mu.Unlock()
	return nil
}

func (f *fakeUploader) uploaded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

type fakeLister struct {
	files []domain.RemoteFile
}

func (f *fakeLister) List(context.Context, string, string, string, *domain.Credentials) ([]domain.RemoteFile, error) {
	return f.files, nil
}

func zipBytes(t *testing.T, entry string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entry)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type testEnv struct {
	svc      *DownloadService
	server   *httptest.Server
	uploader *fakeUploader
	presence *presence.Cache
	lister   *fakeLister
	tempDir  string
	romsDir  string
	slowHits atomic.Int32
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		uploader: &fakeUploader{},
		lister:   &fakeLister{},
		tempDir:  t.TempDir(),
		romsDir:  t.TempDir(),
	}

	sonic := zipBytes(t, "Sonic The Hedgehog (USA, Europe).md", bytes.Repeat([]byte("SEGA"), 4096))
	stop := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/sonic.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(sonic)
	})
	mux.HandleFunc("/chrono.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(bytes.Repeat([]byte("not a zip "), 10000))
	})
	mux.HandleFunc("/slow/", func(w http.ResponseWriter, r *http.Request) {
		env.slowHits.Add(1)
		w.Header().Set("Content-Length", "10000000")
		w.WriteHeader(http.StatusOK)
		w.Write(make([]byte, 16*1024))
		w.(http.Flusher).Flush()
		select {
		case <-stop:
		case <-r.Context().Done():
		}
	})
	env.server = httptest.NewServer(mux)

	logger := newTestLogger()
	wrk := worker.NewDownloadWorker(storage.NewFileStorage(env.tempDir), nil, 0, 10*time.Second, logger)
	cls := classifier.New(metadata.PathLookup{}, logger)
	res := library.NewResolver(env.uploader, library.Dirs{Internal: env.romsDir}, logger)
	env.presence = presence.NewCache(env.lister, logger)

	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = 10 * time.Millisecond
	}
	env.svc = NewDownloadService(wrk, cls, res, env.presence, opts, logger)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		env.svc.Shutdown(ctx)
		close(stop)
		env.server.Close()
	})
	return env
}

func (e *testEnv) file(name, path string) domain.DownloadableFile {
	return domain.DownloadableFile{Name: name, URL: e.server.URL + path}
}

func (e *testEnv) waitStatus(t *testing.T, id string, status domain.JobStatus) domain.DownloadJob {
	t.Helper()
	var job domain.DownloadJob
	waitFor(t, 5*time.Second, func() bool {
		j, err := e.svc.Job(id)
		job = j
		return err == nil && j.Status == status
	})
	return job
}

func (e *testEnv) tempFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(e.tempDir)
	require.NoError(t, err)
	return len(entries)
}

var snesPack = domain.CollectionItem{ID: "snes-pack", Title: "SNES Pack", SystemID: "snes"}

func TestRequestDownload_FallsBackToDeclaredSystem(t *testing.T) {
	env := newTestEnv(t, Options{})

	job, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)
	assert.Equal(t, "snes-pack_Chrono Trigger (USA).zip", job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, "SNES Pack", job.SourceLabel)

	done := env.waitStatus(t, job.ID, domain.JobStatusCompleted)

	want := filepath.Join(env.romsDir, "snes", "Chrono Trigger (USA).zip")
	assert.Equal(t, want, done.FilePath)
	assert.Equal(t, domain.BackendLocal, done.Backend)
	assert.Equal(t, "snes", done.SystemID)
	assert.Equal(t, 100, done.Progress)
	assert.Equal(t, int64(100000), done.DownloadedBytes)
	assert.FileExists(t, want)

	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 0 })
	assert.True(t, env.svc.IsFileDownloaded("snes", "Chrono Trigger (USA).zip"))
	assert.False(t, env.svc.IsFileDownloaded("nes", "Chrono Trigger (USA).zip"))
}

func TestRequestDownload_RemoteShareUsesDetectedSystem(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.svc.SetLibraryDestination(&domain.LibraryDestination{Server: "nas.local", Share: "games", SubPath: "roms"})
	waitFor(t, 2*time.Second, env.presence.Loaded)

	item := domain.CollectionItem{ID: "sega", SystemID: ""}
	job, err := env.svc.RequestDownload(item, env.file("Sonic.zip", "/sonic.zip"))
	require.NoError(t, err)

	done := env.waitStatus(t, job.ID, domain.JobStatusCompleted)

	assert.Equal(t, domain.BackendSMB, done.Backend)
	assert.Equal(t, "genesis", done.SystemID)
	assert.Equal(t, "smb://nas.local/games/roms/genesis/Sonic.zip", done.FilePath)
	assert.Equal(t, []string{"roms/genesis/Sonic.zip"}, env.uploader.uploaded())

	assert.True(t, env.presence.Contains("genesis", "sonic.zip"))
	assert.True(t, env.svc.IsFileDownloaded("genesis", "Sonic.zip"))
	path, ok := env.svc.DownloadedPath("genesis", "Sonic.zip")
	assert.True(t, ok)
	assert.Equal(t, done.FilePath, path)

	assert.NoDirExists(t, filepath.Join(env.romsDir, "genesis"))
	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 0 })
}

func TestRequestDownload_FolderInFileNameIsFlattened(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.svc.SetLibraryDestination(&domain.LibraryDestination{Server: "nas.local", Share: "games", SubPath: "roms"})
	waitFor(t, 2*time.Second, env.presence.Loaded)

	item := domain.CollectionItem{ID: "sega"}
	job, err := env.svc.RequestDownload(item, env.file("USA/Sonic.zip", "/sonic.zip"))
	require.NoError(t, err)
	assert.Equal(t, "Sonic.zip", job.FileName)

	done := env.waitStatus(t, job.ID, domain.JobStatusCompleted)
	assert.Equal(t, []string{"roms/genesis/Sonic.zip"}, env.uploader.uploaded())

	check := func() {
		t.Helper()
		for _, name := range []string{"USA/Sonic.zip", "Sonic.zip"} {
			assert.True(t, env.svc.IsFileDownloaded("genesis", name), name)
			path, ok := env.svc.DownloadedPath("genesis", name)
			assert.True(t, ok, name)
			assert.Equal(t, "smb://nas.local/games/roms/genesis/Sonic.zip", path)
			assert.Equal(t, done.FilePath, path)
		}
	}
	check()

	env.lister.files = []domain.RemoteFile{{Name: "Sonic.zip", RelativePath: "genesis/Sonic.zip"}}
	require.NoError(t, env.svc.RefreshPresence(context.Background()))
	check()
}

func TestRequestDownload_RemoteShareFailureNeverFallsBack(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.uploader.err = errors.New("STATUS_BAD_NETWORK_NAME")
	env.svc.SetLibraryDestination(&domain.LibraryDestination{Server: "nas.local", Share: "missing"})

	job, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)

	failed := env.waitStatus(t, job.ID, domain.JobStatusError)

	assert.Contains(t, failed.Error, "SMB upload failed")
	assert.Empty(t, failed.FilePath)
	assert.NoDirExists(t, filepath.Join(env.romsDir, "snes"))
	assert.False(t, env.presence.Contains("snes", "Chrono Trigger (USA).zip"))
	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 0 })
}

func TestIsFileDownloaded_RemoteDestinationIgnoresLocalFiles(t *testing.T) {
	env := newTestEnv(t, Options{})
	require.NoError(t, os.MkdirAll(filepath.Join(env.romsDir, "nes"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(env.romsDir, "nes", "mario.nes"), []byte("x"), 0o644))
	assert.True(t, env.svc.IsFileDownloaded("nes", "mario.nes"))

	env.lister.files = []domain.RemoteFile{{Name: "zelda.nes", RelativePath: "nes/zelda.nes"}}
	env.svc.SetLibraryDestination(&domain.LibraryDestination{Server: "nas", Share: "games"})
	waitFor(t, 2*time.Second, env.presence.Loaded)

	assert.False(t, env.svc.IsFileDownloaded("nes", "mario.nes"))
	assert.True(t, env.svc.IsFileDownloaded("NES", "Zelda.nes"))

	env.svc.SetLibraryDestination(nil)
	assert.True(t, env.svc.IsFileDownloaded("nes", "mario.nes"))
	assert.Nil(t, env.svc.LibraryDestination())
}

func TestRequestDownload_Idempotent(t *testing.T) {
	env := newTestEnv(t, Options{})
	file := env.file("big.iso", "/slow/big.iso")

	first, err := env.svc.RequestDownload(snesPack, file)
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return env.slowHits.Load() == 1 })

	second, err := env.svc.RequestDownload(snesPack, file)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, domain.JobStatusDownloading, second.Status)
	assert.Len(t, env.svc.Snapshot(), 1)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), env.slowHits.Load())
}

func TestCancelDownload_RemovesRecordAndTempFile(t *testing.T) {
	env := newTestEnv(t, Options{})

	job, err := env.svc.RequestDownload(snesPack, env.file("big.iso", "/slow/big.iso"))
	require.NoError(t, err)
	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 1 })

	require.NoError(t, env.svc.CancelDownload(job.ID))

	_, err = env.svc.Job(job.ID)
	assert.ErrorIs(t, err, errpkg.ErrJobNotFound)
	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 0 })

	// the task must not resurrect the record as an error
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.svc.Snapshot())
	assert.ErrorIs(t, env.svc.CancelDownload(job.ID), errpkg.ErrJobNotFound)
}

func TestMaxParallel_QueuesPendingJobs(t *testing.T) {
	env := newTestEnv(t, Options{MaxParallel: 1})

	a, err := env.svc.RequestDownload(snesPack, env.file("a.iso", "/slow/a.iso"))
	require.NoError(t, err)
	env.waitStatus(t, a.ID, domain.JobStatusDownloading)

	b, err := env.svc.RequestDownload(snesPack, env.file("b.iso", "/slow/b.iso"))
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	jb, err := env.svc.Job(b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, jb.Status)
	assert.Equal(t, 1, env.svc.ActiveCount())

	require.NoError(t, env.svc.CancelDownload(a.ID))
	env.waitStatus(t, b.ID, domain.JobStatusDownloading)
	assert.Equal(t, 1, env.svc.ActiveCount())
}

func TestDownloadTimeout_StartsWhenSlotIsAcquired(t *testing.T) {
	env := newTestEnv(t, Options{MaxParallel: 1, DownloadTimeout: 400 * time.Millisecond})

	slow, err := env.svc.RequestDownload(snesPack, env.file("a.iso", "/slow/a.iso"))
	require.NoError(t, err)
	env.waitStatus(t, slow.ID, domain.JobStatusDownloading)

	queued, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)

	failed := env.waitStatus(t, slow.ID, domain.JobStatusError)
	assert.Contains(t, failed.Error, "timed out")

	done := env.waitStatus(t, queued.ID, domain.JobStatusCompleted)
	assert.Empty(t, done.Error)
	assert.FileExists(t, filepath.Join(env.romsDir, "snes", "Chrono Trigger (USA).zip"))
}

func TestFailure_IsIsolatedAndRetryable(t *testing.T) {
	env := newTestEnv(t, Options{})

	bad, err := env.svc.RequestDownload(snesPack, env.file("missing.zip", "/missing.zip"))
	require.NoError(t, err)
	good, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)

	failed := env.waitStatus(t, bad.ID, domain.JobStatusError)
	env.waitStatus(t, good.ID, domain.JobStatusCompleted)
	assert.Contains(t, failed.Error, "404")

	retry, err := env.svc.RequestDownload(snesPack, env.file("missing.zip", "/missing.zip"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, retry.Status)
	env.waitStatus(t, bad.ID, domain.JobStatusError)

	assert.Equal(t, 2, env.svc.ClearCompleted())
	assert.Empty(t, env.svc.Snapshot())
}

func TestWatch_ProgressAndStatusOnlyMoveForward(t *testing.T) {
	env := newTestEnv(t, Options{ProgressInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := env.svc.Watch(ctx)

	initial := <-updates
	assert.Empty(t, initial)

	job, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)

	rank := map[domain.JobStatus]int{
		domain.JobStatusPending:     0,
		domain.JobStatusDownloading: 1,
		domain.JobStatusProcessing:  2,
		domain.JobStatusCompleted:   3,
	}
	lastRank, lastProgress := -1, -1
	timeout := time.After(5 * time.Second)
	for lastRank < 3 {
		select {
		case snap := <-updates:
			j, ok := snap[job.ID]
			if !ok {
				continue
			}
			r, known := rank[j.Status]
			require.True(t, known, "unexpected status %s", j.Status)
			assert.GreaterOrEqual(t, r, lastRank)
			assert.GreaterOrEqual(t, j.Progress, lastProgress)
			if j.Status == domain.JobStatusProcessing {
				assert.Equal(t, 100, j.Progress)
			}
			lastRank, lastProgress = r, j.Progress
		case <-timeout:
			t.Fatal("no completed snapshot observed")
		}
	}

	cancel()
	waitFor(t, time.Second, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	})
}

func TestCancelAll(t *testing.T) {
	env := newTestEnv(t, Options{})

	for _, name := range []string{"a.iso", "b.iso"} {
		_, err := env.svc.RequestDownload(snesPack, env.file(name, "/slow/"+name))
		require.NoError(t, err)
	}
	done, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)
	env.waitStatus(t, done.ID, domain.JobStatusCompleted)

	assert.Equal(t, 2, env.svc.CancelAll())
	jobs := env.svc.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, done.ID, jobs[0].ID)
	waitFor(t, 2*time.Second, func() bool { return env.tempFiles(t) == 0 })
}

func TestShutdown_StopsJobsAndRejectsNewOnes(t *testing.T) {
	env := newTestEnv(t, Options{})

	job, err := env.svc.RequestDownload(snesPack, env.file("big.iso", "/slow/big.iso"))
	require.NoError(t, err)
	env.waitStatus(t, job.ID, domain.JobStatusDownloading)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, env.svc.Shutdown(ctx))

	j, err := env.svc.Job(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusError, j.Status)
	assert.Equal(t, 0, env.tempFiles(t))

	_, err = env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	assert.Error(t, err)
}

func TestRequestDownload_RejectsIncompleteFile(t *testing.T) {
	env := newTestEnv(t, Options{})

	_, err := env.svc.RequestDownload(snesPack, domain.DownloadableFile{Name: "x.zip"})
	assert.ErrorIs(t, err, errpkg.ErrUnsupportedSource)
	assert.Empty(t, env.svc.Snapshot())
}

func TestCheckStorageCapacity(t *testing.T) {
	env := newTestEnv(t, Options{})

	check, err := env.svc.CheckStorageCapacity([]domain.DownloadableFile{{Size: 10}})
	require.NoError(t, err)
	assert.Equal(t, domain.BackendLocal, check.Backend)

	env.svc.SetLibraryDestination(&domain.LibraryDestination{Server: "nas", Share: "games"})
	check, err = env.svc.CheckStorageCapacity([]domain.DownloadableFile{{Size: 10}})
	require.NoError(t, err)
	assert.True(t, check.Sufficient)
	assert.Equal(t, int64(-1), check.AvailableBytes)
}

func TestStopWatchers_ClosesStreamsButKeepsJobs(t *testing.T) {
	env := newTestEnv(t, Options{})

	updates := env.svc.Watch(context.Background())
	<-updates

	env.svc.StopWatchers()
	waitFor(t, 2*time.Second, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	})

	late := env.svc.Watch(context.Background())
	<-late
	waitFor(t, 2*time.Second, func() bool {
		select {
		case _, ok := <-late:
			return !ok
		default:
			return false
		}
	})

	job, err := env.svc.RequestDownload(snesPack, env.file("Chrono Trigger (USA).zip", "/chrono.zip"))
	require.NoError(t, err)
	env.waitStatus(t, job.ID, domain.JobStatusCompleted)
}
