package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veranemoloko/romfetch/internal/catalog"
	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/metadata"
)

// CatalogI searches the remote ROM catalog.
type CatalogI interface {
	Search(ctx context.Context, systemID, query string, page, pageSize int) (domain.SearchResult, error)
	ListFiles(ctx context.Context, identifier string) ([]domain.DownloadableFile, error)
}

type systemResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CatalogHandler struct {
	catalog CatalogI
	logger  *slog.Logger
}

func NewCatalogHandler(c CatalogI, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: c, logger: logger}
}

func (h *CatalogHandler) Systems(w http.ResponseWriter, r *http.Request) {
	ids := catalog.Systems()
	out := make([]systemResponse, 0, len(ids))
	for _, id := range ids {
		out = append(out, systemResponse{ID: id, Name: metadata.DisplayName(id)})
	}
	writeJSON(w, http.StatusOK, out)
}

// Search handles GET /catalog/search?system=&q=&page=&page_size=.
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	system := q.Get("system")
	if system == "" {
		writeError(w, http.StatusBadRequest, "system is required")
		return
	}

	page, err := intParam(q.Get("page"), 1)
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	pageSize, err := intParam(q.Get("page_size"), catalog.DefaultPageSize)
	if err != nil || pageSize < 1 {
		writeError(w, http.StatusBadRequest, "invalid page_size")
		return
	}

	result, err := h.catalog.Search(r.Context(), system, q.Get("q"), page, pageSize)
	if err != nil {
		h.logger.Error("catalog search failed", "system", system, "error", err)
		writeError(w, http.StatusBadGateway, "catalog search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Files handles GET /catalog/items/{itemID}/files.
func (h *CatalogHandler) Files(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "itemID")
	files, err := h.catalog.ListFiles(r.Context(), id)
	if err != nil {
		h.logger.Error("catalog file listing failed", "item_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "catalog file listing failed")
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
