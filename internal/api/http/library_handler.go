package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/repository"
	"github.com/veranemoloko/romfetch/internal/validation"
)

// ScopedGranter installs or revokes the scoped folder.
type ScopedGranter interface {
	GrantScopedFolder(dir string) error
}

type destinationRequest struct {
	URL      string `json:"url" validate:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
	Domain   string `json:"domain"`
}

type scopedRequest struct {
	Dir string `json:"dir" validate:"required"`
}

type storageCheckRequest struct {
	Files []domain.DownloadableFile `json:"files" validate:"dive"`
}

type containsResponse struct {
	Downloaded bool   `json:"downloaded"`
	Path       string `json:"path,omitempty"`
}

// LibraryHandler serves presence, capacity and destination settings.
type LibraryHandler struct {
	service   DownloadServiceI
	repo      repository.SourceRepo
	scoped    ScopedGranter
	validator *validator.Validate
	logger    *slog.Logger
}

func NewLibraryHandler(service DownloadServiceI, repo repository.SourceRepo, scoped ScopedGranter, logger *slog.Logger) *LibraryHandler {
	return &LibraryHandler{
		service:   service,
		repo:      repo,
		scoped:    scoped,
		validator: validation.New(),
		logger:    logger,
	}
}

// Contains handles GET /library/contains?system=&file=.
func (h *LibraryHandler) Contains(w http.ResponseWriter, r *http.Request) {
	system := strings.TrimSpace(r.URL.Query().Get("system"))
	file := strings.TrimSpace(r.URL.Query().Get("file"))
	if file == "" {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}

	resp := containsResponse{Downloaded: h.service.IsFileDownloaded(system, file)}
	if resp.Downloaded {
		resp.Path, _ = h.service.DownloadedPath(system, file)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CheckStorage handles POST /storage/check.
func (h *LibraryHandler) CheckStorage(w http.ResponseWriter, r *http.Request) {
	var req storageCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	check, err := h.service.CheckStorageCapacity(req.Files)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, check)
}

func (h *LibraryHandler) GetDestination(w http.ResponseWriter, r *http.Request) {
	dest := h.service.LibraryDestination()
	if dest == nil {
		writeError(w, http.StatusNotFound, "no library destination configured")
		return
	}
	writeJSON(w, http.StatusOK, redacted(*dest))
}

// SetDestination handles PUT /library/destination. The destination is
// persisted before the engine switches to it.
func (h *LibraryHandler) SetDestination(w http.ResponseWriter, r *http.Request) {
	var req destinationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dest, err := domain.ParseShareURL(req.URL)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if req.Username != "" {
		dest.Credentials = &domain.Credentials{Username: req.Username, Password: req.Password, Domain: req.Domain}
	}
	if err := h.validator.Struct(dest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.SaveDestination(r.Context(), &dest); err != nil {
		h.logger.Error("failed to persist destination", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.service.SetLibraryDestination(&dest)

	writeJSON(w, http.StatusOK, redacted(dest))
}

func (h *LibraryHandler) ClearDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.SaveDestination(r.Context(), nil); err != nil {
		h.logger.Error("failed to persist destination", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.service.SetLibraryDestination(nil)
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /library/refresh and waits for the listing.
func (h *LibraryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshPresence(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

// GrantScoped handles PUT /library/scoped.
func (h *LibraryHandler) GrantScoped(w http.ResponseWriter, r *http.Request) {
	var req scopedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.scoped.GrantScopedFolder(req.Dir); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.persistScoped(r.Context(), req.Dir); err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *LibraryHandler) RevokeScoped(w http.ResponseWriter, r *http.Request) {
	_ = h.scoped.GrantScopedFolder("")
	if err := h.persistScoped(r.Context(), ""); err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LibraryHandler) persistScoped(ctx context.Context, dir string) error {
	if err := h.repo.SaveScopedRoot(ctx, dir); err != nil {
		h.logger.Error("failed to persist scoped folder", "error", err)
		return err
	}
	return nil
}

func redacted(dest domain.LibraryDestination) domain.LibraryDestination {
	if dest.Credentials != nil {
		c := *dest.Credentials
		c.Password = ""
		dest.Credentials = &c
	}
	return dest
}
