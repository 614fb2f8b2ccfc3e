// assignments.go — обработчики назначений: выдача пакета документов
// исполнителю и чтение прогресса.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
)

// createAssignmentRequest — тело POST /api/v1/assignments.
type createAssignmentRequest struct {
	AssigneeID  string    `json:"assignee_id"`
	DocumentIDs []string  `json:"document_ids"`
	DueAt       time.Time `json:"due_at"`
}

// HandleCreateAssignment — реализация POST /api/v1/assignments.
func (h *APIHandler) HandleCreateAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req createAssignmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.AssigneeID == "" {
		apierrors.ValidationError(w, "Поле assignee_id обязательно")
		return
	}
	if req.DueAt.IsZero() {
		apierrors.ValidationError(w, "Поле due_at обязательно")
		return
	}

	assignment, err := h.reviews.CreateAssignment(r.Context(), actor,
		req.AssigneeID, req.DocumentIDs, req.DueAt)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, assignmentToResponse(assignment))
}

// HandleGetAssignment — реализация GET /api/v1/assignments/{id}.
func (h *APIHandler) HandleGetAssignment(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	assignment, err := h.reviews.GetAssignment(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignmentToResponse(assignment))
}
