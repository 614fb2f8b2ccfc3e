// Пакет ocr — провайдеры распознавания текста.
//
// Провайдер получает байты изображения и возвращает распознанный текст
// со средней уверенностью. Транзиентные сбои провайдера оборачиваются
// в ProviderError — оркестратор повторяет такие документы с backoff.
package ocr

import (
	"context"
	"errors"
	"fmt"
)

// Result — результат распознавания одного документа.
type Result struct {
	// Text — распознанный текст
	Text string
	// Confidence — средняя уверенность распознавания (0..1)
	Confidence float64
}

// Settings — настройки распознавания.
type Settings struct {
	// LanguageHints — языковые подсказки (например, ["eng", "rus"])
	LanguageHints []string
	// DPI — плотность точек исходного скана (0 — не задана)
	DPI int
}

// Provider — провайдер распознавания текста.
type Provider interface {
	// Name возвращает имя провайдера.
	Name() string
	// Recognize распознаёт текст изображения.
	// Транзиентные сбои возвращаются как ProviderError.
	Recognize(ctx context.Context, image []byte, settings Settings) (Result, error)
}

// ProviderError — транзиентный сбой провайдера (таймаут, недоступность).
// Документ с такой ошибкой подлежит повтору.
type ProviderError struct {
	Provider string
	Err      error
}

// Error реализует интерфейс error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("сбой провайдера %s: %v", e.Provider, e.Err)
}

// Unwrap возвращает вложенную ошибку.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient возвращает true, если ошибка — транзиентный сбой провайдера.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
