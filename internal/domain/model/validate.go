// validate.go — явная валидация сущностей перед каждой записью.
// Типизированные структуры + Validate() дают те же гарантии, что
// и schema-валидация на стороне хранилища, без зависимости от него.
package model

import (
	"errors"
	"fmt"
)

// ErrValidation — базовая ошибка валидации сущности.
var ErrValidation = errors.New("ошибка валидации")

// Validate проверяет инварианты документа.
// Вызывается репозиториями перед каждой записью.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("%w: document: пустой ID", ErrValidation)
	}
	if d.ProjectID == "" {
		return fmt.Errorf("%w: document %s: пустой ProjectID", ErrValidation, d.ID)
	}
	if !IsValidDocumentStatus(d.Status) {
		return fmt.Errorf("%w: document %s: недопустимый статус %q", ErrValidation, d.ID, d.Status)
	}
	if d.Classification != "" && !IsValidClassification(d.Classification) {
		return fmt.Errorf("%w: document %s: недопустимый гриф %q", ErrValidation, d.ID, d.Classification)
	}
	if len(d.StatusHistory) == 0 {
		return fmt.Errorf("%w: document %s: пустая история статусов", ErrValidation, d.ID)
	}
	// Статус всегда согласован с последней записью истории
	last := d.StatusHistory[len(d.StatusHistory)-1]
	if last.Status != d.Status {
		return fmt.Errorf("%w: document %s: статус %q расходится с историей (%q)",
			ErrValidation, d.ID, d.Status, last.Status)
	}
	if d.OCRConfidence < 0 || d.OCRConfidence > 1 {
		return fmt.Errorf("%w: document %s: confidence %f вне диапазона [0, 1]",
			ErrValidation, d.ID, d.OCRConfidence)
	}
	if d.OCRRetryCount < 0 {
		return fmt.Errorf("%w: document %s: отрицательный retry count", ErrValidation, d.ID)
	}
	return nil
}

// Validate проверяет инварианты пользователя.
func (u *User) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: user: пустой ID", ErrValidation)
	}
	if u.Username == "" {
		return fmt.Errorf("%w: user %s: пустой username", ErrValidation, u.ID)
	}
	if len(u.Roles) == 0 {
		return fmt.Errorf("%w: user %s: пустой набор ролей", ErrValidation, u.ID)
	}
	for _, r := range u.Roles {
		if !IsValidRole(r) {
			return fmt.Errorf("%w: user %s: недопустимая роль %q", ErrValidation, u.ID, r)
		}
	}
	return nil
}

// Validate проверяет инварианты проекта.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: project: пустой ID", ErrValidation)
	}
	if p.Name == "" {
		return fmt.Errorf("%w: project %s: пустое имя", ErrValidation, p.ID)
	}
	if p.SLADuration < 0 {
		return fmt.Errorf("%w: project %s: отрицательный SLA", ErrValidation, p.ID)
	}
	return nil
}

// Validate проверяет инварианты записи очереди проверки.
func (e *ReviewQueueEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: review entry: пустой ID", ErrValidation)
	}
	if e.DocumentID == "" {
		return fmt.Errorf("%w: review entry %s: пустой DocumentID", ErrValidation, e.ID)
	}
	if !IsValidClassification(e.Classification) {
		return fmt.Errorf("%w: review entry %s: недопустимый гриф %q",
			ErrValidation, e.ID, e.Classification)
	}
	if !IsValidRole(e.AssignedRole) {
		return fmt.Errorf("%w: review entry %s: недопустимая роль %q",
			ErrValidation, e.ID, e.AssignedRole)
	}
	switch e.Status {
	case ReviewPending, ReviewClaimed, ReviewCompleted, ReviewReassigned:
	default:
		return fmt.Errorf("%w: review entry %s: недопустимый статус %q",
			ErrValidation, e.ID, e.Status)
	}
	if e.Status == ReviewClaimed && e.ClaimedBy == "" {
		return fmt.Errorf("%w: review entry %s: claimed без ClaimedBy", ErrValidation, e.ID)
	}
	if e.EscalationCount < 0 {
		return fmt.Errorf("%w: review entry %s: отрицательный escalation count",
			ErrValidation, e.ID)
	}
	return nil
}

// Validate проверяет инварианты назначения.
func (a *Assignment) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: assignment: пустой ID", ErrValidation)
	}
	if a.AssigneeID == "" {
		return fmt.Errorf("%w: assignment %s: пустой AssigneeID", ErrValidation, a.ID)
	}
	if a.DocumentCount != len(a.DocumentIDs) {
		return fmt.Errorf("%w: assignment %s: DocumentCount %d не совпадает с числом документов %d",
			ErrValidation, a.ID, a.DocumentCount, len(a.DocumentIDs))
	}
	if a.CompletedCount < 0 || a.CompletedCount > a.DocumentCount {
		return fmt.Errorf("%w: assignment %s: CompletedCount %d вне диапазона [0, %d]",
			ErrValidation, a.ID, a.CompletedCount, a.DocumentCount)
	}
	switch a.Status {
	case AssignmentActive, AssignmentCompleted, AssignmentOverdue:
	default:
		return fmt.Errorf("%w: assignment %s: недопустимый статус %q",
			ErrValidation, a.ID, a.Status)
	}
	return nil
}

// Validate проверяет инварианты задания распознавания.
func (j *OCRJob) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("%w: job: пустой ID", ErrValidation)
	}
	if len(j.DocumentIDs) == 0 {
		return fmt.Errorf("%w: job %s: пустой список документов", ErrValidation, j.ID)
	}
	if j.Provider == "" {
		return fmt.Errorf("%w: job %s: пустой provider", ErrValidation, j.ID)
	}
	switch j.Status {
	case JobProcessing, JobCompleted, JobFailed, JobPaused:
	default:
		return fmt.Errorf("%w: job %s: недопустимый статус %q", ErrValidation, j.ID, j.Status)
	}
	if j.Progress.Total != len(j.DocumentIDs) {
		return fmt.Errorf("%w: job %s: Progress.Total %d не совпадает с числом документов %d",
			ErrValidation, j.ID, j.Progress.Total, len(j.DocumentIDs))
	}
	if j.Progress.Current < 0 || j.Progress.Current > j.Progress.Total {
		return fmt.Errorf("%w: job %s: Progress.Current %d вне диапазона [0, %d]",
			ErrValidation, j.ID, j.Progress.Current, j.Progress.Total)
	}
	if j.FailedCount < 0 || j.FailedCount > j.Progress.Total {
		return fmt.Errorf("%w: job %s: FailedCount %d вне диапазона [0, %d]",
			ErrValidation, j.ID, j.FailedCount, j.Progress.Total)
	}
	return nil
}

// Validate проверяет инварианты записи аудита.
func (e *AuditLogEntry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: audit entry: пустой ID", ErrValidation)
	}
	if e.Actor == "" {
		return fmt.Errorf("%w: audit entry %s: пустой Actor", ErrValidation, e.ID)
	}
	if e.Action == "" {
		return fmt.Errorf("%w: audit entry %s: пустой Action", ErrValidation, e.ID)
	}
	if e.ResourceID == "" {
		return fmt.Errorf("%w: audit entry %s: пустой ResourceID", ErrValidation, e.ID)
	}
	return nil
}
