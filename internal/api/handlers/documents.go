// documents.go — обработчики операций над документами:
// чтение, классификация, переходы жизненного цикла, admin override,
// переклассификация, экспорт и журнал аудита документа.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// HandleGetDocument — реализация GET /api/v1/documents/{id}.
func (h *APIHandler) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	doc, err := h.docs.GetDocument(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// HandleListProjectDocuments — реализация GET /api/v1/projects/{id}/documents.
func (h *APIHandler) HandleListProjectDocuments(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	docs, err := h.docs.ListProjectDocuments(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]documentResponse, 0, len(docs))
	for _, d := range docs {
		resp = append(resp, documentToResponse(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": resp,
		"total":     len(resp),
	})
}

// classifyRequest — тело POST /api/v1/documents/{id}/classify.
type classifyRequest struct {
	Classification string `json:"classification"`
}

// HandleClassifyDocument — реализация POST /api/v1/documents/{id}/classify.
func (h *APIHandler) HandleClassifyDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Classification == "" {
		apierrors.ValidationError(w, "Поле classification обязательно")
		return
	}

	doc, err := h.docs.Classify(r.Context(), actor, chi.URLParam(r, "id"),
		model.Classification(req.Classification))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// transitionRequest — тело POST /api/v1/documents/{id}/transition
// и POST /api/v1/documents/{id}/override.
type transitionRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason,omitempty"`
}

// HandleTransitionDocument — реализация POST /api/v1/documents/{id}/transition.
// Штатный переход по матрице жизненного цикла.
func (h *APIHandler) HandleTransitionDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Target == "" {
		apierrors.ValidationError(w, "Поле target обязательно")
		return
	}

	doc, err := h.docs.Transition(r.Context(), actor, chi.URLParam(r, "id"),
		model.DocumentStatus(req.Target), req.Reason, nil)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// HandleOverrideDocument — реализация POST /api/v1/documents/{id}/override.
// Административный перевод в произвольный статус в обход матрицы.
func (h *APIHandler) HandleOverrideDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Target == "" {
		apierrors.ValidationError(w, "Поле target обязательно")
		return
	}

	doc, err := h.docs.AdminOverride(r.Context(), actor, chi.URLParam(r, "id"),
		model.DocumentStatus(req.Target), req.Reason)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// reclassifyRequest — тело POST /api/v1/documents/{id}/reclassify.
type reclassifyRequest struct {
	Classification string `json:"classification"`
	Reason         string `json:"reason"`
}

// HandleReclassifyDocument — реализация POST /api/v1/documents/{id}/reclassify.
func (h *APIHandler) HandleReclassifyDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req reclassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.Classification == "" {
		apierrors.ValidationError(w, "Поле classification обязательно")
		return
	}

	doc, err := h.docs.Reclassify(r.Context(), actor, chi.URLParam(r, "id"),
		model.Classification(req.Classification), req.Reason)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// HandleExportDocument — реализация POST /api/v1/documents/{id}/export.
func (h *APIHandler) HandleExportDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	doc, err := h.docs.Export(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentToResponse(doc))
}

// HandleDocumentAudit — реализация GET /api/v1/documents/{id}/audit.
// Возвращает записи журнала аудита по документу в хронологическом порядке.
func (h *APIHandler) HandleDocumentAudit(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	entries, err := h.docs.AuditTrail(actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, auditEntryToResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": resp,
		"total":   len(resp),
	})
}
