// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrReasonRequired — admin override без указания причины.
	ErrReasonRequired = errors.New("причина обязательна для override")
	// ErrExportDisabled — внешняя система экспорта не сконфигурирована.
	ErrExportDisabled = errors.New("экспорт не сконфигурирован")
	// ErrExportUnavailable — внешняя система экспорта недоступна.
	ErrExportUnavailable = errors.New("система экспорта недоступна")
	// ErrAuditUnavailable — журнал аудита недоступен, мутация отклонена.
	ErrAuditUnavailable = errors.New("журнал аудита недоступен")
)
