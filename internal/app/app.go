// Package app wires configuration into a running engine and HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	h "github.com/veranemoloko/romfetch/internal/api/http"
	"github.com/veranemoloko/romfetch/internal/catalog"
	"github.com/veranemoloko/romfetch/internal/classifier"
	cfgpkg "github.com/veranemoloko/romfetch/internal/config"
	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/library"
	"github.com/veranemoloko/romfetch/internal/metadata"
	"github.com/veranemoloko/romfetch/internal/presence"
	repo "github.com/veranemoloko/romfetch/internal/repository"
	svc "github.com/veranemoloko/romfetch/internal/service"
	"github.com/veranemoloko/romfetch/internal/smb"
	"github.com/veranemoloko/romfetch/internal/storage"
	"github.com/veranemoloko/romfetch/internal/worker"
)

// App holds every long-lived component of a romfetch process.
type App struct {
	Config     *cfgpkg.Config
	Logger     *slog.Logger
	SMB        *smb.Client
	Classifier *classifier.Classifier
	Resolver   *library.Resolver
	Presence   *presence.Cache
	Downloads  *svc.DownloadService
	Catalog    *catalog.Client
	Sources    *repo.SourceStorage

	romDB *metadata.RomDB
}

// New builds the component graph and restores persisted library settings.
func New(cfg *cfgpkg.Config, logger *slog.Logger) (*App, error) {
	sources, err := repo.NewSourceStorage(cfg.StateFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize source repository: %w", err)
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		SMB:     smb.NewClient(cfg.SMBDialTimeout, logger),
		Sources: sources,
		Catalog: catalog.NewClient(cfg.CatalogURL, cfg.HTTPRetryMax, cfg.HTTPTimeout, logger),
	}

	lookups := []metadata.Lookup{}
	if cfg.MetadataDB != "" {
		db, err := metadata.OpenRomDB(cfg.MetadataDB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open metadata database: %w", err)
		}
		a.romDB = db
		lookups = append(lookups, db)
	}
	lookups = append(lookups, metadata.PathLookup{})
	a.Classifier = classifier.New(metadata.NewComposite(logger, lookups...), logger)

	a.Resolver = library.NewResolver(a.SMB, library.Dirs{
		Explicit: cfg.RomsDir,
		Legacy:   cfg.LegacyRomsDir,
		Internal: cfg.InternalRomsDir,
	}, logger)
	a.Presence = presence.NewCache(a.SMB, logger)

	// Downloads are bounded by DownloadTimeout, not by the HTTP client.
	fetcher := worker.NewDownloadWorker(storage.NewFileStorage(cfg.TempDir), a.SMB, cfg.HTTPRetryMax, 0, logger)
	a.Downloads = svc.NewDownloadService(fetcher, a.Classifier, a.Resolver, a.Presence, svc.Options{
		MaxParallel:      cfg.MaxParallelDownloads,
		ProgressInterval: cfg.ProgressInterval,
		DownloadTimeout:  cfg.DownloadTimeout,
	}, logger)

	if err := a.restoreLibrary(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

// restoreLibrary applies the persisted scoped folder and destination,
// falling back to the configured ones when nothing was persisted.
func (a *App) restoreLibrary(ctx context.Context) error {
	root, err := a.Sources.ScopedRoot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read scoped folder: %w", err)
	}
	if root == "" {
		root = a.Config.ScopedRoot
	}
	if root != "" {
		if err := a.Resolver.GrantScopedFolder(root); err != nil {
			a.Logger.Warn("scoped folder unavailable", "dir", root, "error", err)
		}
	}

	dest, err := a.Sources.Destination(ctx)
	if err != nil {
		return fmt.Errorf("failed to read library destination: %w", err)
	}
	if dest == nil && a.Config.LibraryDestination != "" {
		parsed, err := domain.ParseShareURL(a.Config.LibraryDestination)
		if err != nil {
			return fmt.Errorf("invalid configured library destination: %w", err)
		}
		dest = &parsed
	}
	if dest != nil {
		a.Downloads.SetLibraryDestination(dest)
	}
	return nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler {
	return h.NewRouter(h.Deps{
		Downloads: a.Downloads,
		Catalog:   a.Catalog,
		Sources:   a.Sources,
		Scoped:    a.Resolver,
	}, a.Logger)
}

// newServer builds the HTTP server. Event streams are closed as soon as
// shutdown starts so they do not hold it open.
func (a *App) newServer() *http.Server {
	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", a.Config.HTTPPort),
		Handler:     a.Handler(),
		ReadTimeout: a.Config.HTTPTimeout,
		IdleTimeout: a.Config.HTTPTimeout,
	}
	server.RegisterOnShutdown(a.Downloads.StopWatchers)
	return server
}

// Serve runs the HTTP server until ctx is done, then shuts the server and
// the download engine down within ShutdownTimeout.
func (a *App) Serve(ctx context.Context) error {
	server := a.newServer()

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.Close(context.Background())
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
		a.Logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("server shutdown failed", "error", err)
	} else {
		a.Logger.Info("server stopped gracefully")
	}
	return a.Close(shutdownCtx)
}

// Close stops the download engine and releases the metadata database.
func (a *App) Close(ctx context.Context) error {
	err := a.Downloads.Shutdown(ctx)
	if a.romDB != nil {
		if cerr := a.romDB.Close(); cerr != nil {
			a.Logger.Error("failed to close metadata database", "error", cerr)
		}
	}
	return err
}
