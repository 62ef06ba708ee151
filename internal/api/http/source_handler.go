package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/repository"
	"github.com/veranemoloko/romfetch/internal/validation"
)

// SourceHandler handles CRUD requests for browsable sources.
type SourceHandler struct {
	repo      repository.SourceRepo
	validator *validator.Validate
	logger    *slog.Logger
}

func NewSourceHandler(repo repository.SourceRepo, logger *slog.Logger) *SourceHandler {
	return &SourceHandler{
		repo:      repo,
		validator: validation.New(),
		logger:    logger,
	}
}

func (h *SourceHandler) decode(w http.ResponseWriter, r *http.Request) (*domain.Source, bool) {
	var src domain.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	if err := h.validator.Struct(src); err != nil {
		h.logger.Warn("validation failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &src, true
}

func (h *SourceHandler) Create(w http.ResponseWriter, r *http.Request) {
	src, ok := h.decode(w, r)
	if !ok {
		return
	}
	src.ID = ""
	if err := h.repo.AddSource(r.Context(), src); err != nil {
		writeServiceError(w, err)
		return
	}
	h.logger.Info("source created", "source_id", src.ID, "type", src.Type)
	writeJSON(w, http.StatusCreated, redactedSource(*src))
}

func (h *SourceHandler) List(w http.ResponseWriter, r *http.Request) {
	sources, err := h.repo.ListSources(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := make([]domain.Source, 0, len(sources))
	for _, s := range sources {
		out = append(out, redactedSource(*s))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *SourceHandler) Get(w http.ResponseWriter, r *http.Request) {
	src, err := h.repo.GetSource(r.Context(), chi.URLParam(r, "sourceID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactedSource(*src))
}

func (h *SourceHandler) Update(w http.ResponseWriter, r *http.Request) {
	src, ok := h.decode(w, r)
	if !ok {
		return
	}
	src.ID = chi.URLParam(r, "sourceID")
	if err := h.repo.UpdateSource(r.Context(), src); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redactedSource(*src))
}

func (h *SourceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.RemoveSource(r.Context(), chi.URLParam(r, "sourceID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func redactedSource(s domain.Source) domain.Source {
	if s.Credentials != nil {
		c := *s.Credentials
		c.Password = ""
		s.Credentials = &c
	}
	return s
}
