// reviews.go — обработчики очереди проверки:
// просмотр очереди, взятие записи, завершение проверки.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
)

// HandleListReviews — реализация GET /api/v1/reviews.
// Администратор видит всю очередь; проверяющий — ожидающие записи
// своей роли и собственные взятые.
func (h *APIHandler) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	entries, err := h.reviews.ListQueue(r.Context(), actor)
	if err != nil {
		h.mapError(w, err)
		return
	}

	resp := make([]reviewEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, reviewEntryToResponse(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": resp,
		"total":   len(resp),
	})
}

// HandleClaimReview — реализация POST /api/v1/reviews/{id}/claim.
func (h *APIHandler) HandleClaimReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	entry, err := h.reviews.Claim(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewEntryToResponse(entry))
}

// completeReviewRequest — тело POST /api/v1/reviews/{id}/complete.
// EditedText непустой — проверяющий внёс ручную правку распознанного текста.
type completeReviewRequest struct {
	Notes      string `json:"notes,omitempty"`
	EditedText string `json:"edited_text,omitempty"`
}

// HandleCompleteReview — реализация POST /api/v1/reviews/{id}/complete.
func (h *APIHandler) HandleCompleteReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.currentUser(r)
	if !ok {
		apierrors.Unauthorized(w, "Пользователь не разрешён")
		return
	}

	var req completeReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	entry, err := h.reviews.Complete(r.Context(), actor, chi.URLParam(r, "id"),
		req.Notes, req.EditedText)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reviewEntryToResponse(entry))
}
