package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
)

type state struct {
	Sources     []*domain.Source           `json:"sources"`
	Destination *domain.LibraryDestination `json:"destination,omitempty"`
	ScopedRoot  string                     `json:"scoped_root,omitempty"`
}

// SourceStorage keeps sources and library settings in memory and mirrors
// them to a JSON file on every change.
type SourceStorage struct {
	mu          sync.RWMutex
	sources     map[string]*domain.Source
	destination *domain.LibraryDestination
	scopedRoot  string
	file        string
}

// NewSourceStorage creates a SourceStorage and loads the file if it exists.
func NewSourceStorage(filePath string) (*SourceStorage, error) {
	repo := &SourceStorage{
		sources: make(map[string]*domain.Source),
		file:    filepath.Clean(filePath),
	}

	if err := repo.restore(); err != nil {
		return nil, fmt.Errorf("failed to load state from file: %w", err)
	}

	slog.Info("Source repository initialized", "file_path", repo.file, "sources_count", len(repo.sources))
	return repo, nil
}

func (r *SourceStorage) restore() error {
	if isFileNotExist(r.file) {
		slog.Info("State file does not exist, starting with empty state", "file_path", r.file)
		return nil
	}

	data, err := os.ReadFile(r.file)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		slog.Warn("State file is empty")
		return nil
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal state file: %w", err)
	}

	for _, s := range st.Sources {
		r.sources[s.ID] = s
	}
	r.destination = st.Destination
	r.scopedRoot = st.ScopedRoot

	slog.Info("State loaded from file", "sources_count", len(st.Sources), "file_path", r.file)
	return nil
}

func isFileNotExist(filePath string) bool {
	_, err := os.Stat(filePath)
	return os.IsNotExist(err)
}

func (r *SourceStorage) persist() error {
	r.mu.RLock()
	st := state{
		Sources:     r.sortedSources(),
		Destination: r.destination,
		ScopedRoot:  r.scopedRoot,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tempFile := r.file + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}

	if err := os.Rename(tempFile, r.file); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}

	slog.Debug("State saved to file", "sources_count", len(st.Sources), "file_path", r.file)
	return nil
}

func (r *SourceStorage) sortedSources() []*domain.Source {
	out := make([]*domain.Source, 0, len(r.sources))
	for _, s := range r.sources {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AddSource stores a new source, assigning an id when it has none.
func (r *SourceStorage) AddSource(ctx context.Context, source *domain.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if source.ID == "" {
		source.ID = uuid.NewString()
	}

	r.mu.Lock()
	cp := *source
	r.sources[source.ID] = &cp
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to save state after adding source: %w", err)
	}

	slog.Debug("Source added and saved", "source_id", source.ID, "type", source.Type)
	return nil
}

// GetSource retrieves a source by ID.
func (r *SourceStorage) GetSource(ctx context.Context, id string) (*domain.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	source, exists := r.sources[id]
	r.mu.RUnlock()

	if !exists {
		return nil, errpkg.ErrSourceNotFound
	}
	cp := *source
	return &cp, nil
}

// UpdateSource replaces an existing source.
func (r *SourceStorage) UpdateSource(ctx context.Context, source *domain.Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.sources[source.ID]; !exists {
		r.mu.Unlock()
		return errpkg.ErrSourceNotFound
	}
	cp := *source
	r.sources[source.ID] = &cp
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to save state after updating source: %w", err)
	}
	return nil
}

func (r *SourceStorage) RemoveSource(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if _, exists := r.sources[id]; !exists {
		r.mu.Unlock()
		return errpkg.ErrSourceNotFound
	}
	delete(r.sources, id)
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to save state after removing source: %w", err)
	}
	return nil
}

// ListSources returns all sources ordered by name.
func (r *SourceStorage) ListSources(ctx context.Context) ([]*domain.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedSources(), nil
}

// SaveDestination persists the library destination; nil clears it.
func (r *SourceStorage) SaveDestination(ctx context.Context, dest *domain.LibraryDestination) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	if dest == nil {
		r.destination = nil
	} else {
		cp := *dest
		r.destination = &cp
	}
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to save state after setting destination: %w", err)
	}
	return nil
}

func (r *SourceStorage) Destination(ctx context.Context) (*domain.LibraryDestination, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.destination == nil {
		return nil, nil
	}
	cp := *r.destination
	return &cp, nil
}

// SaveScopedRoot persists the granted scoped folder; "" revokes it.
func (r *SourceStorage) SaveScopedRoot(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	r.scopedRoot = dir
	r.mu.Unlock()

	if err := r.persist(); err != nil {
		return fmt.Errorf("failed to save state after setting scoped root: %w", err)
	}
	return nil
}

func (r *SourceStorage) ScopedRoot(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scopedRoot, nil
}
