package model

import "time"

// DocumentStatus — статус документа в жизненном цикле.
type DocumentStatus string

const (
	// StatusUploaded — документ загружен, ожидает классификации.
	StatusUploaded DocumentStatus = "UPLOADED"
	// StatusClassificationPending — классификация запрошена, но не завершена.
	StatusClassificationPending DocumentStatus = "CLASSIFICATION_PENDING"
	// StatusClassifiedPublic — документ классифицирован как публичный.
	StatusClassifiedPublic DocumentStatus = "CLASSIFIED_PUBLIC"
	// StatusClassifiedPrivate — документ классифицирован как приватный.
	StatusClassifiedPrivate DocumentStatus = "CLASSIFIED_PRIVATE"
	// StatusOCRProcessing — документ отправлен на распознавание.
	StatusOCRProcessing DocumentStatus = "OCR_PROCESSING"
	// StatusOCRProcessed — распознавание завершено успешно.
	StatusOCRProcessed DocumentStatus = "OCR_PROCESSED"
	// StatusOCRFailed — распознавание исчерпало лимит повторов (терминальный подстатус).
	StatusOCRFailed DocumentStatus = "OCR_FAILED"
	// StatusInReview — документ взят на проверку.
	StatusInReview DocumentStatus = "IN_REVIEW"
	// StatusReviewedApproved — проверка завершена, документ одобрен.
	StatusReviewedApproved DocumentStatus = "REVIEWED_APPROVED"
	// StatusFinalAdminReview — финальная проверка администратором.
	StatusFinalAdminReview DocumentStatus = "FINAL_ADMIN_REVIEW"
	// StatusFinalApproved — финально одобрен, готов к экспорту.
	StatusFinalApproved DocumentStatus = "FINAL_APPROVED"
	// StatusExported — документ выгружен во внешнюю архивную систему.
	StatusExported DocumentStatus = "EXPORTED"
)

// Classification — гриф конфиденциальности документа.
// Пустое значение — документ ещё не классифицирован.
type Classification string

const (
	// ClassificationPublic — публичный документ (проверяет роль reviewer).
	ClassificationPublic Classification = "PUBLIC"
	// ClassificationPrivate — приватный документ (проверяет роль teacher).
	ClassificationPrivate Classification = "PRIVATE"
)

// OCRStatus — статус распознавания документа.
type OCRStatus string

const (
	// OCRStatusNone — распознавание не запускалось.
	OCRStatusNone OCRStatus = "none"
	// OCRStatusPending — единица работы опубликована в очередь.
	OCRStatusPending OCRStatus = "pending"
	// OCRStatusDone — текст распознан.
	OCRStatusDone OCRStatus = "done"
	// OCRStatusFailed — лимит повторов исчерпан.
	OCRStatusFailed OCRStatus = "failed"
)

// StatusChange — одна запись истории переходов документа.
// История append-only: записи никогда не изменяются и не удаляются.
type StatusChange struct {
	// Status — статус после перехода
	Status DocumentStatus
	// Actor — идентификатор инициатора перехода
	Actor string
	// Timestamp — время перехода (UTC)
	Timestamp time.Time
	// Reason — причина перехода (обязательна для admin override)
	Reason string
}

// Document — центральная сущность: отсканированный документ.
type Document struct {
	// ID — UUID документа
	ID string
	// ProjectID — UUID проекта-владельца
	ProjectID string
	// FilePath — непрозрачная ссылка на файл во внешнем хранилище
	FilePath string
	// Checksum — SHA-256 контрольная сумма файла
	Checksum string
	// Classification — гриф (пустой до классификации, далее неизменяемый
	// через штатный поток; меняется только через admin override)
	Classification Classification
	// Status — текущий статус жизненного цикла.
	// Инвариант: всегда равен Status последней записи StatusHistory.
	Status DocumentStatus
	// StatusHistory — append-only история переходов
	StatusHistory []StatusChange

	// OCRStatus — статус распознавания
	OCRStatus OCRStatus
	// OCRText — распознанный текст
	OCRText string
	// OCRConfidence — средняя уверенность распознавания (0..1)
	OCRConfidence float64
	// OCRRetryCount — количество повторов распознавания
	OCRRetryCount int

	// ReviewedBy — идентификатор проверившего
	ReviewedBy string
	// ReviewNotes — заметки проверяющего
	ReviewNotes string
	// ManualEdits — след ручных правок распознанного текста
	ManualEdits []ManualEdit

	// FinalApprovedBy — идентификатор администратора финального одобрения
	FinalApprovedBy string
	// FinalApprovedAt — время финального одобрения
	FinalApprovedAt *time.Time

	// ExportedAt — время экспорта
	ExportedAt *time.Time
	// ExportRef — внешний идентификатор в архивной системе
	ExportRef string

	// UploadedBy — идентификатор загрузившего
	UploadedBy string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ManualEdit — одна ручная правка распознанного текста.
type ManualEdit struct {
	// Editor — кто внёс правку
	Editor string
	// EditedAt — время правки
	EditedAt time.Time
	// Note — комментарий к правке
	Note string
}

// Classified возвращает true, если документу присвоен гриф.
func (d *Document) Classified() bool {
	return d.Classification == ClassificationPublic || d.Classification == ClassificationPrivate
}

// IsValidDocumentStatus проверяет, является ли строка допустимым статусом.
func IsValidDocumentStatus(s DocumentStatus) bool {
	switch s {
	case StatusUploaded, StatusClassificationPending,
		StatusClassifiedPublic, StatusClassifiedPrivate,
		StatusOCRProcessing, StatusOCRProcessed, StatusOCRFailed,
		StatusInReview, StatusReviewedApproved,
		StatusFinalAdminReview, StatusFinalApproved, StatusExported:
		return true
	default:
		return false
	}
}

// IsValidClassification проверяет допустимость грифа.
func IsValidClassification(c Classification) bool {
	return c == ClassificationPublic || c == ClassificationPrivate
}
