package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/metrics"
	"github.com/veranemoloko/romfetch/internal/smb"
	"github.com/veranemoloko/romfetch/internal/worker"
)

// Fetcher streams a catalog file into a temp file.
type Fetcher interface {
	Fetch(ctx context.Context, item domain.CollectionItem, file domain.DownloadableFile, progress smb.ProgressFunc) (worker.Result, error)
}

// Classifier decides the system of a downloaded file.
type Classifier interface {
	Classify(ctx context.Context, localPath, fileName, originPath, declaredSystem string) domain.ClassificationResult
}

// Library places files and answers questions about the placement target.
type Library interface {
	Place(ctx context.Context, tempFile, fileName, systemID string) (domain.Placement, error)
	Destination() *domain.LibraryDestination
	SetDestination(dest *domain.LibraryDestination)
	PlacedPath(systemID, fileName string) (string, bool)
	CheckCapacity(files []domain.DownloadableFile) (domain.StorageCheck, error)
}

// Presence remembers which files exist on the remote destination.
type Presence interface {
	Contains(systemID, fileName string) bool
	Add(systemID, fileName string)
	Refresh(ctx context.Context, dest domain.LibraryDestination) error
	Clear()
}

type Options struct {
	// MaxParallel caps jobs in DOWNLOADING. Zero means no cap.
	MaxParallel      int
	ProgressInterval time.Duration
	DownloadTimeout  time.Duration
}

var errShuttingDown = errors.New("service is shutting down")

type jobEntry struct {
	job    domain.DownloadJob
	cancel context.CancelFunc
	seq    uint64
}

// DownloadService owns the job collection and runs one task per job:
// download to a temp file, classify, place, update the presence cache.
type DownloadService struct {
	fetcher    Fetcher
	classifier Classifier
	library    Library
	presence   Presence
	opts       Options
	logger     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	slots  *semaphore.Weighted
	wg     sync.WaitGroup

	mu      sync.RWMutex
	jobs    map[string]*jobEntry
	seq     uint64
	closing bool

	watchMu   sync.Mutex
	watchers  map[chan map[string]domain.DownloadJob]struct{}
	watchStop chan struct{}
	stopOnce  sync.Once
}

func NewDownloadService(fetcher Fetcher, classifier Classifier, library Library, presence Presence, opts Options, logger *slog.Logger) *DownloadService {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &DownloadService{
		fetcher:    fetcher,
		classifier: classifier,
		library:    library,
		presence:   presence,
		opts:       opts,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		jobs:       make(map[string]*jobEntry),
		watchers:   make(map[chan map[string]domain.DownloadJob]struct{}),
		watchStop:  make(chan struct{}),
	}
	if opts.MaxParallel > 0 {
		s.slots = semaphore.NewWeighted(int64(opts.MaxParallel))
	}

	logger.Info("download service started", "max_parallel", opts.MaxParallel)
	return s
}

// RequestDownload starts a job for file of item. A request for a job that is
// still running returns the running job; a request for a finished job
// replaces it with a fresh one.
func (s *DownloadService) RequestDownload(item domain.CollectionItem, file domain.DownloadableFile) (domain.DownloadJob, error) {
	if file.Name == "" || file.URL == "" {
		return domain.DownloadJob{}, fmt.Errorf("%w: file name and url are required", errpkg.ErrUnsupportedSource)
	}
	// the library keeps files flat per system, so folders in the name go
	file.Name = file.BaseName()
	if file.Name == "." || file.Name == ".." || file.Name == "/" {
		return domain.DownloadJob{}, fmt.Errorf("%w: invalid file name", errpkg.ErrUnsupportedSource)
	}
	id := domain.JobID(item.ID, file.Name)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return domain.DownloadJob{}, errShuttingDown
	}
	if existing, ok := s.jobs[id]; ok && !existing.job.Status.IsTerminal() {
		job := existing.job
		s.mu.Unlock()
		s.logger.Debug("download already in progress", "job_id", id)
		return job, nil
	}

	now := time.Now()
	ctx, cancel := context.WithCancel(s.ctx)
	s.seq++
	entry := &jobEntry{
		job: domain.DownloadJob{
			ID:          id,
			FileName:    file.Name,
			SourceLabel: item.Label(),
			SystemID:    item.SystemID,
			TotalBytes:  file.Size,
			Status:      domain.JobStatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
		cancel: cancel,
		seq:    s.seq,
	}
	s.jobs[id] = entry
	job := entry.job
	s.wg.Add(1)
	s.mu.Unlock()

	metrics.JobsCreated.Inc()
	s.logger.Info("download requested",
		"job_id", id,
		"url", file.URL,
		"system", item.SystemID,
	)

	go s.run(ctx, entry.seq, item, file)
	s.publish()
	return job, nil
}

func (s *DownloadService) run(ctx context.Context, seq uint64, item domain.CollectionItem, file domain.DownloadableFile) {
	defer s.wg.Done()
	id := domain.JobID(item.ID, file.Name)

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("download task panicked", "job_id", id, "panic", r)
			s.fail(id, seq, fmt.Errorf("internal error: %v", r))
		}
	}()

	if s.slots != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			s.abort(id, seq, err)
			return
		}
	}

	// queue time does not count against the timeout
	if s.opts.DownloadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.DownloadTimeout)
		defer cancel()
	}

	result, err := s.download(ctx, id, seq, item, file)
	if s.slots != nil {
		s.slots.Release(1)
	}
	if err != nil {
		s.abort(id, seq, err)
		return
	}
	defer os.Remove(result.TempPath)

	if err := s.process(ctx, id, seq, item, file, result); err != nil {
		s.abort(id, seq, err)
	}
}

func (s *DownloadService) download(ctx context.Context, id string, seq uint64, item domain.CollectionItem, file domain.DownloadableFile) (worker.Result, error) {
	if !s.update(id, seq, func(j *domain.DownloadJob) { j.Status = domain.JobStatusDownloading }) {
		return worker.Result{}, errpkg.ErrCancelled
	}

	metrics.ActiveTransfers.Inc()
	defer metrics.ActiveTransfers.Dec()

	throttle := &rate.Sometimes{Interval: s.opts.ProgressInterval}
	start := time.Now()

	result, err := s.fetcher.Fetch(ctx, item, file, func(done, total int64) {
		throttle.Do(func() { s.setProgress(id, seq, done, total) })
	})
	if err != nil {
		return worker.Result{}, err
	}

	metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	metrics.DownloadBytes.Add(float64(result.BytesRead))

	// final progress lands before PROCESSING regardless of throttling
	s.setProgress(id, seq, result.BytesRead, result.TotalBytes)
	return result, nil
}

func (s *DownloadService) process(ctx context.Context, id string, seq uint64, item domain.CollectionItem, file domain.DownloadableFile, result worker.Result) error {
	if !s.update(id, seq, func(j *domain.DownloadJob) { j.Status = domain.JobStatusProcessing }) {
		return errpkg.ErrCancelled
	}

	class := s.classifier.Classify(ctx, result.TempPath, file.Name, originPath(file.URL), item.SystemID)
	metrics.ClassificationsDetected.WithLabelValues(fmt.Sprint(class.Detected)).Inc()

	if err := ctx.Err(); err != nil {
		return err
	}

	placement, err := s.library.Place(ctx, result.TempPath, file.Name, class.SystemID)
	if err != nil {
		backend := "none"
		var perr *errpkg.PlacementError
		if errors.As(err, &perr) {
			backend = perr.Backend
		}
		metrics.Placements.WithLabelValues(backend, "error").Inc()
		return err
	}
	metrics.Placements.WithLabelValues(string(placement.Backend), "ok").Inc()

	if s.library.Destination() != nil {
		s.presence.Add(class.SystemID, file.Name)
	}

	completed := s.update(id, seq, func(j *domain.DownloadJob) {
		j.Status = domain.JobStatusCompleted
		j.Progress = 100
		j.SystemID = class.SystemID
		j.FilePath = placement.Location
		j.Backend = placement.Backend
	})
	if completed {
		metrics.JobsCompleted.Inc()
		s.logger.Info("download completed",
			"job_id", id,
			"system", class.SystemID,
			"detected", class.Detected,
			"backend", placement.Backend,
			"location", placement.Location,
		)
	}
	return nil
}

// abort records err on the job unless the job was cancelled by the user,
// in which case the record is already gone and nothing is reported.
func (s *DownloadService) abort(id string, seq uint64, err error) {
	if !s.exists(id, seq) {
		s.logger.Info("download cancelled", "job_id", id)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("download timed out after %s", s.opts.DownloadTimeout)
	} else if errors.Is(err, context.Canceled) {
		err = errpkg.ErrCancelled
	}
	s.fail(id, seq, err)
}

func (s *DownloadService) fail(id string, seq uint64, err error) {
	if s.update(id, seq, func(j *domain.DownloadJob) {
		j.Status = domain.JobStatusError
		j.Error = err.Error()
	}) {
		metrics.JobsFailed.Inc()
		s.logger.Error("download failed", "job_id", id, "error", err)
	}
}

func (s *DownloadService) setProgress(id string, seq uint64, done, total int64) {
	s.update(id, seq, func(j *domain.DownloadJob) {
		if done > j.DownloadedBytes {
			j.DownloadedBytes = done
		}
		if total > 0 {
			j.TotalBytes = total
		}
		if j.TotalBytes > 0 {
			p := int(j.DownloadedBytes * 100 / j.TotalBytes)
			if p > 100 {
				p = 100
			}
			if p > j.Progress {
				j.Progress = p
			}
		}
	})
}

// update applies fn to the job if it is still the same, non-terminal record.
func (s *DownloadService) update(id string, seq uint64, fn func(j *domain.DownloadJob)) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok || e.seq != seq || e.job.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	fn(&e.job)
	e.job.UpdatedAt = time.Now()
	if e.job.Status.IsTerminal() {
		e.cancel()
	}
	s.mu.Unlock()

	s.publish()
	return true
}

func (s *DownloadService) exists(id string, seq uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	return ok && e.seq == seq
}

// CancelDownload stops the job and removes its record, whatever its state.
func (s *DownloadService) CancelDownload(id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errpkg.ErrJobNotFound
	}
	delete(s.jobs, id)
	s.mu.Unlock()

	e.cancel()
	if !e.job.Status.IsTerminal() {
		metrics.JobsCancelled.Inc()
	}
	s.logger.Info("download cancel requested", "job_id", id, "status", e.job.Status)
	s.publish()
	return nil
}

// CancelAll cancels and removes every job that has not finished yet.
func (s *DownloadService) CancelAll() int {
	s.mu.Lock()
	var cancelled []*jobEntry
	for id, e := range s.jobs {
		if !e.job.Status.IsTerminal() {
			delete(s.jobs, id)
			cancelled = append(cancelled, e)
		}
	}
	s.mu.Unlock()

	for _, e := range cancelled {
		e.cancel()
		metrics.JobsCancelled.Inc()
	}
	if len(cancelled) > 0 {
		s.logger.Info("all downloads cancelled", "count", len(cancelled))
		s.publish()
	}
	return len(cancelled)
}

// ClearCompleted removes COMPLETED and ERROR jobs and returns how many.
func (s *DownloadService) ClearCompleted() int {
	s.mu.Lock()
	n := 0
	for id, e := range s.jobs {
		if e.job.Status.IsTerminal() {
			delete(s.jobs, id)
			n++
		}
	}
	s.mu.Unlock()

	if n > 0 {
		s.publish()
	}
	return n
}

func (s *DownloadService) Job(id string) (domain.DownloadJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return domain.DownloadJob{}, errpkg.ErrJobNotFound
	}
	return e.job, nil
}

// Snapshot returns a copy of the job collection keyed by job id.
func (s *DownloadService) Snapshot() map[string]domain.DownloadJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.DownloadJob, len(s.jobs))
	for id, e := range s.jobs {
		out[id] = e.job
	}
	return out
}

// Jobs returns the job collection ordered by creation time.
func (s *DownloadService) Jobs() []domain.DownloadJob {
	snap := s.Snapshot()
	out := make([]domain.DownloadJob, 0, len(snap))
	for _, j := range snap {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ActiveCount returns the number of jobs in DOWNLOADING or PROCESSING.
func (s *DownloadService) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.jobs {
		if e.job.Status.IsActive() {
			n++
		}
	}
	return n
}

// Shutdown cancels every running job and waits for the tasks to exit.
func (s *DownloadService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.logger.Info("shutting down download service")
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("download service stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("download service shutdown timed out")
		return ctx.Err()
	}
}

func originPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}
