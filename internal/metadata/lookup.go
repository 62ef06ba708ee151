package metadata

import (
	"context"
	"log/slog"
	"path"

	"github.com/veranemoloko/romfetch/internal/domain"
)

// Lookup resolves metadata for a ROM file. A nil result with a nil error
// means "unknown".
type Lookup interface {
	Lookup(ctx context.Context, f domain.RomFile) (*domain.GameMetadata, error)
}

// LookupFunc adapts a function to Lookup.
type LookupFunc func(ctx context.Context, f domain.RomFile) (*domain.GameMetadata, error)

func (fn LookupFunc) Lookup(ctx context.Context, f domain.RomFile) (*domain.GameMetadata, error) {
	return fn(ctx, f)
}

// Composite asks each lookup in order and returns the first hit. Failing
// lookups are logged and skipped.
type Composite struct {
	lookups []Lookup
	logger  *slog.Logger
}

func NewComposite(logger *slog.Logger, lookups ...Lookup) *Composite {
	return &Composite{lookups: lookups, logger: logger}
}

func (c *Composite) Lookup(ctx context.Context, f domain.RomFile) (*domain.GameMetadata, error) {
	var lastErr error
	for _, l := range c.lookups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := l.Lookup(ctx, f)
		if err != nil {
			c.logger.Warn("metadata lookup failed", "file", f.Name, "error", err)
			lastErr = err
			continue
		}
		if m != nil && m.SystemID != "" {
			return m, nil
		}
	}
	return nil, lastErr
}

// PathLookup guesses the system from the ROM's own extension (or that of
// the file inside an archive) and then from the folders in its path.
type PathLookup struct{}

func (PathLookup) Lookup(_ context.Context, f domain.RomFile) (*domain.GameMetadata, error) {
	for _, name := range []string{f.InternalName, f.Name} {
		ext := domain.Extension(name)
		if name == "" || ambiguousExtensions[ext] || ArchiveExtensions[ext] {
			continue
		}
		if system := SystemFromExtension(ext); system != "" {
			return pathMetadata(name, system), nil
		}
	}

	if system := SystemFromPath(f.Path); system != "" {
		return pathMetadata(f.Name, system), nil
	}
	return nil, nil
}

func pathMetadata(fileName, system string) *domain.GameMetadata {
	name := CleanName(path.Base(fileName))
	return &domain.GameMetadata{
		Name:         name,
		RomName:      fileName,
		SystemID:     system,
		ThumbnailURL: ThumbnailURL(system, name),
	}
}
