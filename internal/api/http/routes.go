package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veranemoloko/romfetch/internal/repository"
)

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Downloads DownloadServiceI
	Catalog   CatalogI
	Sources   repository.SourceRepo
	Scoped    ScopedGranter
}

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up download, library, catalog and source routes, health check, and Prometheus metrics endpoint.
func NewRouter(deps Deps, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	downloads := NewDownloadHandler(deps.Downloads, logger)
	lib := NewLibraryHandler(deps.Downloads, deps.Sources, deps.Scoped, logger)
	cat := NewCatalogHandler(deps.Catalog, logger)
	sources := NewSourceHandler(deps.Sources, logger)

	r.Route("/downloads", func(r chi.Router) {
		r.Post("/", downloads.CreateDownload)
		r.Get("/", downloads.ListDownloads)
		r.Get("/events", downloads.Events)
		r.Post("/clear", downloads.ClearCompleted)
		r.Post("/cancel-all", downloads.CancelAll)
		r.Get("/{jobID}", downloads.GetDownload)
		r.Delete("/{jobID}", downloads.CancelDownload)
	})

	r.Route("/library", func(r chi.Router) {
		r.Get("/contains", lib.Contains)
		r.Post("/refresh", lib.Refresh)
		r.Get("/destination", lib.GetDestination)
		r.Put("/destination", lib.SetDestination)
		r.Delete("/destination", lib.ClearDestination)
		r.Put("/scoped", lib.GrantScoped)
		r.Delete("/scoped", lib.RevokeScoped)
	})
	r.Post("/storage/check", lib.CheckStorage)

	r.Route("/catalog", func(r chi.Router) {
		r.Get("/systems", cat.Systems)
		r.Get("/search", cat.Search)
		r.Get("/items/{itemID}/files", cat.Files)
	})

	r.Route("/sources", func(r chi.Router) {
		r.Post("/", sources.Create)
		r.Get("/", sources.List)
		r.Get("/{sourceID}", sources.Get)
		r.Put("/{sourceID}", sources.Update)
		r.Delete("/{sourceID}", sources.Delete)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
