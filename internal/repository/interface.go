package repository

import (
	"context"

	"github.com/veranemoloko/romfetch/internal/domain"
)

// SourceRepo stores the user's named ROM sources and library settings.
type SourceRepo interface {
	AddSource(ctx context.Context, source *domain.Source) error
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	UpdateSource(ctx context.Context, source *domain.Source) error
	RemoveSource(ctx context.Context, id string) error
	ListSources(ctx context.Context) ([]*domain.Source, error)

	SaveDestination(ctx context.Context, dest *domain.LibraryDestination) error
	Destination(ctx context.Context) (*domain.LibraryDestination, error)
	SaveScopedRoot(ctx context.Context, dir string) error
	ScopedRoot(ctx context.Context) (string, error)
}
