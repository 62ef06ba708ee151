package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/romfetch/internal/domain"
	errpkg "github.com/veranemoloko/romfetch/internal/errors"
	"github.com/veranemoloko/romfetch/internal/validation"
)

// DownloadServiceI defines the download engine operations exposed over HTTP.
type DownloadServiceI interface {
	RequestDownload(item domain.CollectionItem, file domain.DownloadableFile) (domain.DownloadJob, error)
	CancelDownload(id string) error
	CancelAll() int
	ClearCompleted() int
	Job(id string) (domain.DownloadJob, error)
	Jobs() []domain.DownloadJob
	Watch(ctx context.Context) <-chan map[string]domain.DownloadJob

	IsFileDownloaded(systemID, fileName string) bool
	DownloadedPath(systemID, fileName string) (string, bool)
	CheckStorageCapacity(files []domain.DownloadableFile) (domain.StorageCheck, error)
	LibraryDestination() *domain.LibraryDestination
	SetLibraryDestination(dest *domain.LibraryDestination)
	RefreshPresence(ctx context.Context) error
}

// DownloadRequest asks for one file of a collection item.
type DownloadRequest struct {
	Item domain.CollectionItem   `json:"item"`
	File domain.DownloadableFile `json:"file"`
}

// DownloadHandler handles HTTP requests for download jobs.
type DownloadHandler struct {
	service   DownloadServiceI
	validator *validator.Validate
	logger    *slog.Logger
}

// NewDownloadHandler creates a new DownloadHandler with the provided service and logger.
func NewDownloadHandler(service DownloadServiceI, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		service:   service,
		validator: validation.New(),
		logger:    logger,
	}
}

// CreateDownload handles POST /downloads.
func (h *DownloadHandler) CreateDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.service.RequestDownload(req.Item, req.File)
	if err != nil {
		if errors.Is(err, errpkg.ErrUnsupportedSource) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to request download", "error", err)
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

// ListDownloads handles GET /downloads.
func (h *DownloadHandler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Jobs())
}

// GetDownload handles GET /downloads/{jobID}.
func (h *DownloadHandler) GetDownload(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Job(chi.URLParam(r, "jobID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelDownload handles DELETE /downloads/{jobID}.
func (h *DownloadHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.service.CancelDownload(id); err != nil {
		writeServiceError(w, err)
		return
	}
	h.logger.Info("download cancelled", "job_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) CancelAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": h.service.CancelAll()})
}

func (h *DownloadHandler) ClearCompleted(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cleared": h.service.ClearCompleted()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps domain errors to status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errpkg.ErrJobNotFound), errors.Is(err, errpkg.ErrSourceNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errpkg.ErrInvalidDestination), errors.Is(err, errpkg.ErrUnsupportedSource):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, errpkg.ErrStorageNotConfigured):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
