package model

import "time"

// JobStatus — статус пакетного задания распознавания.
type JobStatus string

const (
	// JobProcessing — задание выполняется.
	JobProcessing JobStatus = "PROCESSING"
	// JobCompleted — все документы получили терминальный исход OCR.
	JobCompleted JobStatus = "COMPLETED"
	// JobFailed — все документы задания исчерпали лимит повторов.
	JobFailed JobStatus = "FAILED"
	// JobPaused — оператор приостановил выдачу новых единиц работы.
	JobPaused JobStatus = "PAUSED"
)

// JobProgress — прогресс задания.
type JobProgress struct {
	// Current — документов с терминальным исходом (done или failed)
	Current int
	// Total — всего документов в задании
	Total int
}

// OCRJob — пакетное задание распознавания.
// Мутируется только отчётами worker-ов и reconciliation оркестратора.
type OCRJob struct {
	// ID — UUID задания
	ID string
	// DocumentIDs — документы задания
	DocumentIDs []string
	// Provider — имя OCR-провайдера (tesseract, stub, ...)
	Provider string
	// Settings — настройки распознавания (языковые подсказки и т.п.)
	Settings OCRSettings
	// Status — статус задания
	Status JobStatus
	// Progress — прогресс выполнения
	Progress JobProgress
	// FailedCount — документов, исчерпавших лимит повторов
	FailedCount int
	// SubmittedBy — идентификатор отправившего задание
	SubmittedBy string
	// CreatedAt — время создания
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
	// CompletedAt — время достижения терминального статуса
	CompletedAt *time.Time
}

// OCRSettings — настройки распознавания, передаваемые провайдеру.
type OCRSettings struct {
	// LanguageHints — языковые подсказки (например, ["eng", "rus"])
	LanguageHints []string
	// DPI — плотность точек исходного скана (0 — не задана)
	DPI int
}

// Terminal возвращает true для терминальных статусов задания.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}
