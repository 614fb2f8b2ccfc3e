// jobs.go — обработчики пакетных заданий распознавания:
// постановка, чтение статуса, пауза и возобновление.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// submitJobRequest — тело POST /api/v1/jobs.
type submitJobRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Provider    string   `json:"provider,omitempty"`
	Settings    struct {
		LanguageHints []string `json:"language_hints,omitempty"`
		DPI           int      `json:"dpi,omitempty"`
	} `json:"settings"`
}

// HandleSubmitJob — реализация POST /api/v1/jobs.
// Либо все документы принимаются в задание, либо ни один.
func (h *APIHandler) HandleSubmitJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	job, err := h.orch.Submit(r.Context(), actor, req.DocumentIDs, model.OCRSettings{
		LanguageHints: req.Settings.LanguageHints,
		DPI:           req.Settings.DPI,
	}, req.Provider)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jobToResponse(job))
}

// HandleGetJob — реализация GET /api/v1/jobs/{id}.
func (h *APIHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	job, err := h.orch.GetJob(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

// HandlePauseJob — реализация POST /api/v1/jobs/{id}/pause.
func (h *APIHandler) HandlePauseJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	job, err := h.orch.Pause(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}

// HandleResumeJob — реализация POST /api/v1/jobs/{id}/resume.
func (h *APIHandler) HandleResumeJob(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	job, err := h.orch.Resume(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobToResponse(job))
}
