// tesseract.go — провайдер распознавания на базе Tesseract (gosseract).
// Клиент создаётся на каждый вызов: gosseract.Client не потокобезопасен.
package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractProvider — провайдер распознавания через libtesseract.
type TesseractProvider struct {
	clientFactory func() *gosseract.Client
}

// NewTesseractProvider создаёт провайдер Tesseract.
func NewTesseractProvider() *TesseractProvider {
	return &TesseractProvider{clientFactory: gosseract.NewClient}
}

// Name возвращает имя провайдера.
func (p *TesseractProvider) Name() string { return "tesseract" }

// Recognize распознаёт текст изображения через Tesseract.
// Все ошибки библиотеки считаются транзиентными: повтор может помочь
// при временной нехватке ресурсов, повреждённый скан исчерпает лимит.
func (p *TesseractProvider) Recognize(ctx context.Context, image []byte, settings Settings) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	c := p.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(image); err != nil {
		return Result{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("установка изображения: %w", err)}
	}
	if len(settings.LanguageHints) > 0 {
		if err := c.SetLanguage(settings.LanguageHints...); err != nil {
			return Result{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("установка языков: %w", err)}
		}
	}
	if settings.DPI > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(settings.DPI)); err != nil {
			return Result{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("установка DPI: %w", err)}
		}
	}

	text, err := c.Text()
	if err != nil {
		return Result{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("распознавание: %w", err)}
	}

	return Result{
		Text:       strings.TrimSpace(text),
		Confidence: averageConfidence(c),
	}, nil
}

// averageConfidence возвращает среднюю уверенность по словам (0..1).
func averageConfidence(c *gosseract.Client) float64 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return sum / float64(len(boxes))
}
