package model

import "time"

// ReviewStatus — статус записи очереди проверки.
type ReviewStatus string

const (
	// ReviewPending — запись ожидает проверяющего.
	ReviewPending ReviewStatus = "pending"
	// ReviewClaimed — запись взята конкретным проверяющим.
	ReviewClaimed ReviewStatus = "claimed"
	// ReviewCompleted — проверка завершена.
	ReviewCompleted ReviewStatus = "completed"
	// ReviewReassigned — запись отменена при переклассификации
	// (взамен создана новая с другой требуемой ролью).
	ReviewReassigned ReviewStatus = "reassigned"
)

// Active возвращает true для статусов, считающихся активными.
// Инвариант: не более одной активной записи на документ.
func (s ReviewStatus) Active() bool {
	return s == ReviewPending || s == ReviewClaimed
}

// ReviewQueueEntry — запись очереди проверки: один документ, одна требуемая роль.
type ReviewQueueEntry struct {
	// ID — UUID записи
	ID string
	// DocumentID — UUID документа
	DocumentID string
	// Classification — гриф документа на момент постановки в очередь
	Classification Classification
	// AssignedRole — требуемая роль проверяющего
	// (PUBLIC → reviewer, PRIVATE → teacher)
	AssignedRole Role
	// Status — статус записи
	Status ReviewStatus
	// ClaimedBy — идентификатор взявшего запись (пустой для pending)
	ClaimedBy string
	// ClaimedAt — время взятия
	ClaimedAt *time.Time
	// EnqueuedAt — время постановки в очередь
	EnqueuedAt time.Time
	// DueAt — дедлайн SLA (EnqueuedAt + SLA проекта)
	DueAt time.Time
	// CompletedAt — время завершения проверки
	CompletedAt *time.Time
	// SLAViolated — дедлайн пропущен (выставляется SLA sweep, не сбрасывается)
	SLAViolated bool
	// EscalationCount — количество эскалаций записи
	EscalationCount int
	// EscalatedToAdmin — запись эскалирована администраторам
	EscalatedToAdmin bool
}

// Assignment — пакет документов, выданный администратором одному исполнителю.
type Assignment struct {
	// ID — UUID назначения
	ID string
	// AssigneeID — UUID исполнителя
	AssigneeID string
	// DocumentIDs — документы пакета
	DocumentIDs []string
	// DocumentCount — размер пакета
	DocumentCount int
	// CompletedCount — завершено документов.
	// Инвариант: CompletedCount <= DocumentCount.
	CompletedCount int
	// Status — статус (active, completed, overdue).
	// В overdue переводит только SLA sweep, не действия пользователей.
	Status AssignmentStatus
	// DueAt — дедлайн пакета
	DueAt time.Time
	// CreatedBy — администратор, создавший назначение
	CreatedBy string
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// AssignmentStatus — статус назначения.
type AssignmentStatus string

const (
	// AssignmentActive — назначение в работе.
	AssignmentActive AssignmentStatus = "active"
	// AssignmentCompleted — все документы пакета завершены.
	AssignmentCompleted AssignmentStatus = "completed"
	// AssignmentOverdue — дедлайн пропущен (только через SLA sweep).
	AssignmentOverdue AssignmentStatus = "overdue"
)
