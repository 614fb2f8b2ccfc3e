package model

import "time"

// ProjectCounters — агрегатные счётчики документов проекта.
// Инвариант: счётчики всегда пересчитываются из фактических статусов
// документов при каждом переходе, накопительный дрейф недопустим.
type ProjectCounters struct {
	// Total — всего документов в проекте
	Total int
	// Processed — документов со статусом OCR_PROCESSED и далее
	Processed int
	// Reviewed — документов со статусом REVIEWED_APPROVED и далее
	Reviewed int
	// Approved — документов со статусом FINAL_APPROVED и далее
	Approved int
}

// Project — проект, владеющий коллекцией документов.
type Project struct {
	// ID — UUID проекта
	ID string
	// Name — человекочитаемое имя
	Name string
	// Counters — агрегатные счётчики (пересчитываются, не инкрементируются)
	Counters ProjectCounters
	// SLADuration — SLA проверки для документов проекта
	// (0 — используется значение по умолчанию из конфигурации)
	SLADuration time.Duration
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// RecomputeCounters пересчитывает счётчики проекта по фактическим
// статусам документов. Единственный допустимый способ обновления счётчиков.
func RecomputeCounters(docs []*Document) ProjectCounters {
	var c ProjectCounters
	for _, d := range docs {
		c.Total++
		if statusReached(d, StatusOCRProcessed) {
			c.Processed++
		}
		if statusReached(d, StatusReviewedApproved) {
			c.Reviewed++
		}
		if statusReached(d, StatusFinalApproved) {
			c.Approved++
		}
	}
	return c
}

// statusOrder — порядковый номер статуса в штатном жизненном цикле.
// OCR_FAILED — терминальный подстатус вне основной последовательности.
var statusOrder = map[DocumentStatus]int{
	StatusUploaded:              0,
	StatusClassificationPending: 1,
	StatusClassifiedPublic:      2,
	StatusClassifiedPrivate:     2,
	StatusOCRProcessing:         3,
	StatusOCRProcessed:          4,
	StatusInReview:              5,
	StatusReviewedApproved:      6,
	StatusFinalAdminReview:      7,
	StatusFinalApproved:         8,
	StatusExported:              9,
}

// statusReached возвращает true, если документ достиг статуса target
// в штатной последовательности (или прошёл дальше).
func statusReached(d *Document, target DocumentStatus) bool {
	cur, ok := statusOrder[d.Status]
	if !ok {
		return false
	}
	return cur >= statusOrder[target]
}
