package service

import (
	"context"

	"github.com/veranemoloko/romfetch/internal/domain"
)

// Watch streams snapshots of the job collection until ctx is done. The
// current snapshot is delivered first. A slow reader only ever misses
// intermediate snapshots, never the latest one.
func (s *DownloadService) Watch(ctx context.Context) <-chan map[string]domain.DownloadJob {
	ch := make(chan map[string]domain.DownloadJob, 1)

	s.watchMu.Lock()
	s.watchers[ch] = struct{}{}
	ch <- s.Snapshot()
	s.watchMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		case <-s.watchStop:
		}
		s.watchMu.Lock()
		delete(s.watchers, ch)
		close(ch)
		s.watchMu.Unlock()
	}()

	return ch
}

// StopWatchers closes every Watch channel, current and future, while jobs
// keep running. Used when the HTTP server shuts down.
func (s *DownloadService) StopWatchers() {
	s.stopOnce.Do(func() { close(s.watchStop) })
}

func (s *DownloadService) publish() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if len(s.watchers) == 0 {
		return
	}

	snap := s.Snapshot()
	for ch := range s.watchers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// drop the stale snapshot nobody read yet
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
