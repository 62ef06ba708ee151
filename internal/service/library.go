package service

import (
	"context"

	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/library"
	"github.com/veranemoloko/romfetch/internal/metrics"
)

// IsFileDownloaded reports whether <system>/<fileName> is already in the
// library. With a remote destination configured only the presence cache is
// consulted, so files placed locally before that are not seen.
func (s *DownloadService) IsFileDownloaded(systemID, fileName string) bool {
	fileName = domain.DownloadableFile{Name: fileName}.BaseName()
	if s.library.Destination() != nil {
		return s.presence.Contains(systemID, fileName)
	}
	_, ok := s.library.PlacedPath(systemID, fileName)
	return ok
}

// DownloadedPath returns where <system>/<fileName> lives in the library.
func (s *DownloadService) DownloadedPath(systemID, fileName string) (string, bool) {
	fileName = domain.DownloadableFile{Name: fileName}.BaseName()
	if dest := s.library.Destination(); dest != nil {
		if !s.presence.Contains(systemID, fileName) {
			return "", false
		}
		rel := fileName
		if systemID != "" {
			rel = systemID + "/" + fileName
		}
		return "smb://" + dest.Server + "/" + dest.Share + "/" + library.RemotePath(*dest, rel), true
	}
	return s.library.PlacedPath(systemID, fileName)
}

// CheckStorageCapacity compares the declared sizes of files with the free
// space of the active backend.
func (s *DownloadService) CheckStorageCapacity(files []domain.DownloadableFile) (domain.StorageCheck, error) {
	return s.library.CheckCapacity(files)
}

func (s *DownloadService) LibraryDestination() *domain.LibraryDestination {
	return s.library.Destination()
}

// SetLibraryDestination switches the remote destination (nil clears it).
// The presence cache is emptied and, for a new destination, rebuilt in the
// background.
func (s *DownloadService) SetLibraryDestination(dest *domain.LibraryDestination) {
	s.library.SetDestination(dest)
	s.presence.Clear()

	if dest == nil {
		s.logger.Info("library destination cleared")
		return
	}
	s.logger.Info("library destination set", "destination", dest.URL())

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.RefreshPresence(s.ctx)
	}()
}

// RefreshPresence re-lists the remote destination. Without a destination
// it does nothing.
func (s *DownloadService) RefreshPresence(ctx context.Context) error {
	dest := s.library.Destination()
	if dest == nil {
		return nil
	}
	err := s.presence.Refresh(ctx, *dest)
	metrics.PresenceRefreshes.WithLabelValues(metrics.Outcome(err)).Inc()
	if err != nil {
		s.logger.Warn("presence refresh failed", "destination", dest.URL(), "error", err)
	}
	return err
}
