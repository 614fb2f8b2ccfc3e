// Пакет lifecycle — конечный автомат жизненного цикла документа.
//
// Штатная последовательность:
//
//	UPLOADED → CLASSIFICATION_PENDING → {CLASSIFIED_PUBLIC, CLASSIFIED_PRIVATE}
//	→ OCR_PROCESSING → OCR_PROCESSED → IN_REVIEW → REVIEWED_APPROVED
//	→ FINAL_ADMIN_REVIEW → FINAL_APPROVED → EXPORTED
//
// OCR_PROCESSING может завершиться терминальным подстатусом OCR_FAILED;
// из него документ можно отправить на распознавание повторно.
// Пропуск стадий возможен только через admin override — отдельное,
// отдельно аудируемое действие (GuardOverride).
package lifecycle

import (
	"fmt"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
)

// Коды ошибок переходов.
const (
	CodeInvalidTransition      = "INVALID_TRANSITION"
	CodeForbidden              = "FORBIDDEN"
	CodeClassificationRequired = "CLASSIFICATION_REQUIRED"
)

// TransitionError — ошибка перехода между статусами.
type TransitionError struct {
	Code    string // Машиночитаемый код
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// validTransitions — матрица допустимых переходов.
// Ключ — текущий статус, значение — набор допустимых целевых статусов.
var validTransitions = map[model.DocumentStatus]map[model.DocumentStatus]bool{
	model.StatusUploaded: {
		model.StatusClassificationPending: true,
	},
	model.StatusClassificationPending: {
		model.StatusClassifiedPublic:  true,
		model.StatusClassifiedPrivate: true,
	},
	model.StatusClassifiedPublic: {
		model.StatusOCRProcessing: true,
	},
	model.StatusClassifiedPrivate: {
		model.StatusOCRProcessing: true,
	},
	model.StatusOCRProcessing: {
		model.StatusOCRProcessed: true,
		model.StatusOCRFailed:    true,
	},
	// Повторная отправка после исчерпания лимита повторов
	model.StatusOCRFailed: {
		model.StatusOCRProcessing: true,
	},
	model.StatusOCRProcessed: {
		model.StatusInReview: true,
	},
	model.StatusInReview: {
		model.StatusReviewedApproved: true,
	},
	model.StatusReviewedApproved: {
		model.StatusFinalAdminReview: true,
	},
	model.StatusFinalAdminReview: {
		model.StatusFinalApproved: true,
	},
	model.StatusFinalApproved: {
		model.StatusExported: true,
	},
	// Терминальный статус
	model.StatusExported: {},
}

// requiresClassification — целевые статусы, требующие присвоенного грифа.
var requiresClassification = map[model.DocumentStatus]bool{
	model.StatusOCRProcessing:    true,
	model.StatusOCRProcessed:     true,
	model.StatusOCRFailed:        true,
	model.StatusInReview:         true,
	model.StatusReviewedApproved: true,
	model.StatusFinalAdminReview: true,
	model.StatusFinalApproved:    true,
	model.StatusExported:         true,
}

// requiredAction — действие, необходимое для перехода в целевой статус.
// Статусы без записи (исходы OCR) меняются только системными компонентами.
var requiredAction = map[model.DocumentStatus]rbac.Action{
	model.StatusClassificationPending: rbac.ActionClassify,
	model.StatusClassifiedPublic:      rbac.ActionClassify,
	model.StatusClassifiedPrivate:     rbac.ActionClassify,
	model.StatusOCRProcessing:         rbac.ActionSubmitOCR,
	model.StatusInReview:              rbac.ActionClaimReview,
	model.StatusReviewedApproved:      rbac.ActionCompleteReview,
	model.StatusFinalAdminReview:      rbac.ActionFinalApprove,
	model.StatusFinalApproved:         rbac.ActionFinalApprove,
	model.StatusExported:              rbac.ActionExport,
}

// Guard проверяет допустимость перехода current → target без учёта прав.
// classified — присвоен ли документу гриф.
// Возвращает nil или TransitionError (INVALID_TRANSITION, CLASSIFICATION_REQUIRED).
func Guard(current, target model.DocumentStatus, classified bool) error {
	if !model.IsValidDocumentStatus(target) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", target),
		}
	}

	if requiresClassification[target] && !classified {
		return &TransitionError{
			Code:    CodeClassificationRequired,
			Message: fmt.Sprintf("переход в %s требует классифицированного документа", target),
		}
	}

	targets, ok := validTransitions[current]
	if !ok || !targets[target] {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("переход %s → %s недопустим", current, target),
		}
	}

	return nil
}

// GuardActor проверяет права инициатора на переход в target.
// nil user — системный переход: разрешены только исходы OCR.
func GuardActor(u *model.User, target model.DocumentStatus) error {
	action, needsPermission := requiredAction[target]
	if u == nil {
		if needsPermission {
			return &TransitionError{
				Code:    CodeForbidden,
				Message: fmt.Sprintf("переход в %s требует инициатора", target),
			}
		}
		return nil
	}
	if !needsPermission {
		// Исходы OCR выставляет только оркестратор
		return &TransitionError{
			Code:    CodeForbidden,
			Message: fmt.Sprintf("переход в %s выполняется только системой", target),
		}
	}
	if err := rbac.Authorize(u, action); err != nil {
		return &TransitionError{
			Code:    CodeForbidden,
			Message: err.Error(),
		}
	}
	return nil
}

// GuardOverride проверяет admin override: допускается любой валидный
// целевой статус в обход матрицы. Права (override_state) проверяет
// вызывающая сторона; здесь — только валидность цели.
func GuardOverride(target model.DocumentStatus) error {
	if !model.IsValidDocumentStatus(target) {
		return &TransitionError{
			Code:    CodeInvalidTransition,
			Message: fmt.Sprintf("недопустимый целевой статус: %q", target),
		}
	}
	return nil
}

// AllowedSuccessors возвращает допустимые целевые статусы для текущего.
func AllowedSuccessors(current model.DocumentStatus) []model.DocumentStatus {
	targets, ok := validTransitions[current]
	if !ok {
		return nil
	}
	result := make([]model.DocumentStatus, 0, len(targets))
	for t := range targets {
		result = append(result, t)
	}
	return result
}

// Terminal возвращает true для терминальных статусов.
func Terminal(s model.DocumentStatus) bool {
	return s == model.StatusExported
}

// StatusForClassification возвращает целевой статус классификации для грифа.
func StatusForClassification(c model.Classification) (model.DocumentStatus, error) {
	switch c {
	case model.ClassificationPublic:
		return model.StatusClassifiedPublic, nil
	case model.ClassificationPrivate:
		return model.StatusClassifiedPrivate, nil
	default:
		return "", fmt.Errorf("недопустимый гриф: %q", c)
	}
}
