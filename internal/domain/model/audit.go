package model

import "time"

// AuditLogEntry — неизменяемая запись одного действия, меняющего состояние.
// После записи никогда не обновляется и не удаляется; вытесняются
// только самые старые записи при переполнении журнала.
type AuditLogEntry struct {
	// ID — UUID записи
	ID string
	// Actor — идентификатор инициатора действия
	Actor string
	// Action — машиночитаемое имя действия (document.transition, review.claim, ...)
	Action string
	// ResourceType — тип ресурса (document, review_entry, job, assignment)
	ResourceType string
	// ResourceID — идентификатор ресурса
	ResourceID string
	// Detail — детали действия (произвольные пары ключ-значение)
	Detail map[string]string
	// Sensitive — запись касается приватного документа
	Sensitive bool
	// Timestamp — время действия (UTC)
	Timestamp time.Time
}
