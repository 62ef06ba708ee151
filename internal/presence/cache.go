// Package presence tracks which ROMs already exist on the remote library
// share so the UI can mark them as downloaded without listing the share
// every time.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/metadata"
)

// Lister lists every file below a share sub path.
type Lister interface {
	List(ctx context.Context, server, share, subPath string, creds *domain.Credentials) ([]domain.RemoteFile, error)
}

type keySet map[string]struct{}

type Cache struct {
	lister Lister
	logger *slog.Logger

	keys   atomic.Pointer[keySet]
	loaded atomic.Bool
	group  singleflight.Group

	mu       sync.Mutex
	gen      uint64
	inflight int
	pending  keySet // adds seen while a refresh is listing
}

func NewCache(lister Lister, logger *slog.Logger) *Cache {
	c := &Cache{lister: lister, logger: logger}
	empty := keySet{}
	c.keys.Store(&empty)
	return c
}

// Key normalizes system and file name into the cache key.
func Key(systemID, fileName string) string {
	systemID = strings.TrimSpace(systemID)
	if systemID == "" {
		return strings.ToLower(fileName)
	}
	return strings.ToLower(systemID + "/" + fileName)
}

// Contains reports whether <system>/<fileName> is known to be on the share.
func (c *Cache) Contains(systemID, fileName string) bool {
	_, ok := (*c.keys.Load())[Key(systemID, fileName)]
	return ok
}

// Add records a file that was just placed on the share.
func (c *Cache) Add(systemID, fileName string) {
	key := Key(systemID, fileName)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := *c.keys.Load()
	next := make(keySet, len(cur)+1)
	for k := range cur {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	c.keys.Store(&next)

	if c.pending != nil {
		c.pending[key] = struct{}{}
	}
}

// Len returns the number of known files.
func (c *Cache) Len() int {
	return len(*c.keys.Load())
}

// Loaded reports whether a refresh has completed since the last Clear.
func (c *Cache) Loaded() bool {
	return c.loaded.Load()
}

// Clear forgets everything and invalidates refreshes still in flight.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.pending != nil {
		c.pending = keySet{}
	}
	empty := keySet{}
	c.keys.Store(&empty)
	c.loaded.Store(false)
}

// Refresh rebuilds the set from a full listing of dest. Concurrent calls for
// the same destination share one listing. On failure the previous set is
// kept.
func (c *Cache) Refresh(ctx context.Context, dest domain.LibraryDestination) error {
	c.mu.Lock()
	key := fmt.Sprintf("%s#%d", dest.URL(), c.gen)
	c.mu.Unlock()

	_, err, _ := c.group.Do(key, func() (any, error) {
		return nil, c.refresh(ctx, dest)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context, dest domain.LibraryDestination) error {
	c.mu.Lock()
	gen := c.gen
	c.inflight++
	if c.pending == nil {
		c.pending = keySet{}
	}
	c.mu.Unlock()

	files, err := c.lister.List(ctx, dest.Server, dest.Share, dest.SubPath, dest.Credentials)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.inflight--
	pending := c.pending
	if c.inflight == 0 {
		c.pending = nil
	}

	if gen != c.gen {
		// cleared while listing
		return err
	}
	if err != nil {
		c.logger.Warn("presence refresh failed, keeping previous set",
			"destination", dest.URL(), "error", err)
		return err
	}

	next := make(keySet, len(files)+len(pending))
	for _, f := range files {
		info := metadata.Extract(f.RelativePath, f.Name)
		next[Key(info.SystemID, f.Name)] = struct{}{}
	}
	for k := range pending {
		next[k] = struct{}{}
	}
	c.keys.Store(&next)
	c.loaded.Store(true)

	c.logger.Info("presence cache refreshed", "destination", dest.URL(), "files", len(next))
	return nil
}
