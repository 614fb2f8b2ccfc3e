// handler.go — основной обработчик REST API оркестрационного ядра.
// Разрешает пользователя из JWT claims, маппит доменные ошибки
// в единый формат ответов.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/domain/lifecycle"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/orchestrator"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/review"
	"github.com/bigkaa/docflow/internal/service"
)

// APIHandler — основной обработчик API.
// Делегирует запросы в сервисный слой: документы, задания, очередь проверки.
type APIHandler struct {
	docs    *service.DocumentService
	orch    *orchestrator.Orchestrator
	reviews *review.Manager
	users   repository.UserRepository
	logger  *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	docs *service.DocumentService,
	orch *orchestrator.Orchestrator,
	reviews *review.Manager,
	users repository.UserRepository,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		docs:    docs,
		orch:    orch,
		reviews: reviews,
		users:   users,
		logger:  logger.With(slog.String("component", "api_handler")),
	}
}

// currentUser разрешает пользователя запроса.
// Зарегистрированный в хранилище пользователь имеет приоритет
// (его роли и назначения — источник истины); незарегистрированный
// строится из claims токена.
func (h *APIHandler) currentUser(r *http.Request) (*model.User, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return nil, false
	}

	username := claims.PreferredUsername
	if username == "" {
		username = claims.Subject
	}
	if u, err := h.users.GetByUsername(r.Context(), username); err == nil {
		if !u.Active {
			return nil, false
		}
		return u, true
	}
	if len(claims.Roles) == 0 {
		return nil, false
	}
	return claims.User(), true
}

// mapError маппит доменную ошибку в HTTP-ответ единого формата.
func (h *APIHandler) mapError(w http.ResponseWriter, err error) {
	var te *lifecycle.TransitionError
	switch {
	case errors.As(err, &te):
		switch te.Code {
		case lifecycle.CodeForbidden:
			apierrors.Forbidden(w, te.Message)
		case lifecycle.CodeClassificationRequired:
			apierrors.ClassificationRequired(w, te.Message)
		default:
			apierrors.InvalidTransition(w, te.Message)
		}
	case errors.Is(err, rbac.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, repository.ErrAlreadyClaimed):
		apierrors.AlreadyClaimed(w, err.Error())
	case errors.Is(err, service.ErrReasonRequired):
		apierrors.ReasonRequired(w, err.Error())
	case errors.Is(err, service.ErrConflict), errors.Is(err, repository.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrExportDisabled), errors.Is(err, service.ErrExportUnavailable):
		apierrors.ExportUnavailable(w, err.Error())
	case errors.Is(err, service.ErrValidation), errors.Is(err, model.ErrValidation),
		errors.Is(err, orchestrator.ErrEmptyJob):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, orchestrator.ErrJobNotPausable):
		apierrors.Conflict(w, err.Error())
	default:
		h.logger.Error("Внутренняя ошибка обработки запроса",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// --- API-типы ---

// statusChangeResponse — запись истории переходов в API-ответе.
type statusChangeResponse struct {
	Status    string    `json:"status"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// documentResponse — документ в API-ответе.
type documentResponse struct {
	ID              string                 `json:"id"`
	ProjectID       string                 `json:"project_id"`
	Classification  string                 `json:"classification,omitempty"`
	Status          string                 `json:"status"`
	StatusHistory   []statusChangeResponse `json:"status_history"`
	OCRStatus       string                 `json:"ocr_status,omitempty"`
	OCRText         string                 `json:"ocr_text,omitempty"`
	OCRConfidence   float64                `json:"ocr_confidence,omitempty"`
	OCRRetryCount   int                    `json:"ocr_retry_count,omitempty"`
	ReviewedBy      string                 `json:"reviewed_by,omitempty"`
	ReviewNotes     string                 `json:"review_notes,omitempty"`
	FinalApprovedBy string                 `json:"final_approved_by,omitempty"`
	ExportRef       string                 `json:"export_ref,omitempty"`
	ExportedAt      *time.Time             `json:"exported_at,omitempty"`
	UploadedBy      string                 `json:"uploaded_by"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func documentToResponse(d *model.Document) documentResponse {
	history := make([]statusChangeResponse, 0, len(d.StatusHistory))
	for _, ch := range d.StatusHistory {
		history = append(history, statusChangeResponse{
			Status:    string(ch.Status),
			Actor:     ch.Actor,
			Timestamp: ch.Timestamp,
			Reason:    ch.Reason,
		})
	}
	return documentResponse{
		ID:              d.ID,
		ProjectID:       d.ProjectID,
		Classification:  string(d.Classification),
		Status:          string(d.Status),
		StatusHistory:   history,
		OCRStatus:       string(d.OCRStatus),
		OCRText:         d.OCRText,
		OCRConfidence:   d.OCRConfidence,
		OCRRetryCount:   d.OCRRetryCount,
		ReviewedBy:      d.ReviewedBy,
		ReviewNotes:     d.ReviewNotes,
		FinalApprovedBy: d.FinalApprovedBy,
		ExportRef:       d.ExportRef,
		ExportedAt:      d.ExportedAt,
		UploadedBy:      d.UploadedBy,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// jobResponse — задание распознавания в API-ответе.
type jobResponse struct {
	ID          string     `json:"id"`
	DocumentIDs []string   `json:"document_ids"`
	Provider    string     `json:"provider"`
	Status      string     `json:"status"`
	Current     int        `json:"current"`
	Total       int        `json:"total"`
	FailedCount int        `json:"failed_count"`
	SubmittedBy string     `json:"submitted_by"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func jobToResponse(j *model.OCRJob) jobResponse {
	return jobResponse{
		ID:          j.ID,
		DocumentIDs: j.DocumentIDs,
		Provider:    j.Provider,
		Status:      string(j.Status),
		Current:     j.Progress.Current,
		Total:       j.Progress.Total,
		FailedCount: j.FailedCount,
		SubmittedBy: j.SubmittedBy,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// reviewEntryResponse — запись очереди проверки в API-ответе.
type reviewEntryResponse struct {
	ID               string     `json:"id"`
	DocumentID       string     `json:"document_id"`
	Classification   string     `json:"classification"`
	AssignedRole     string     `json:"assigned_role"`
	Status           string     `json:"status"`
	ClaimedBy        string     `json:"claimed_by,omitempty"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	EnqueuedAt       time.Time  `json:"enqueued_at"`
	DueAt            time.Time  `json:"due_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	SLAViolated      bool       `json:"sla_violated"`
	EscalationCount  int        `json:"escalation_count"`
	EscalatedToAdmin bool       `json:"escalated_to_admin"`
}

func reviewEntryToResponse(e *model.ReviewQueueEntry) reviewEntryResponse {
	return reviewEntryResponse{
		ID:               e.ID,
		DocumentID:       e.DocumentID,
		Classification:   string(e.Classification),
		AssignedRole:     string(e.AssignedRole),
		Status:           string(e.Status),
		ClaimedBy:        e.ClaimedBy,
		ClaimedAt:        e.ClaimedAt,
		EnqueuedAt:       e.EnqueuedAt,
		DueAt:            e.DueAt,
		CompletedAt:      e.CompletedAt,
		SLAViolated:      e.SLAViolated,
		EscalationCount:  e.EscalationCount,
		EscalatedToAdmin: e.EscalatedToAdmin,
	}
}

// assignmentResponse — назначение в API-ответе.
type assignmentResponse struct {
	ID             string    `json:"id"`
	AssigneeID     string    `json:"assignee_id"`
	DocumentIDs    []string  `json:"document_ids"`
	DocumentCount  int       `json:"document_count"`
	CompletedCount int       `json:"completed_count"`
	Status         string    `json:"status"`
	DueAt          time.Time `json:"due_at"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

func assignmentToResponse(a *model.Assignment) assignmentResponse {
	return assignmentResponse{
		ID:             a.ID,
		AssigneeID:     a.AssigneeID,
		DocumentIDs:    a.DocumentIDs,
		DocumentCount:  a.DocumentCount,
		CompletedCount: a.CompletedCount,
		Status:         string(a.Status),
		DueAt:          a.DueAt,
		CreatedBy:      a.CreatedBy,
		CreatedAt:      a.CreatedAt,
	}
}

// auditEntryResponse — запись журнала аудита в API-ответе.
type auditEntryResponse struct {
	ID           string            `json:"id"`
	Actor        string            `json:"actor"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id"`
	Detail       map[string]string `json:"detail,omitempty"`
	Sensitive    bool              `json:"sensitive"`
	Timestamp    time.Time         `json:"timestamp"`
}

func auditEntryToResponse(e model.AuditLogEntry) auditEntryResponse {
	return auditEntryResponse{
		ID:           e.ID,
		Actor:        e.Actor,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Detail:       e.Detail,
		Sensitive:    e.Sensitive,
		Timestamp:    e.Timestamp,
	}
}
