// stub.go — детерминированный провайдер для standalone-режима и тестов.
package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StubProvider — провайдер-заглушка: возвращает детерминированный
// «текст», вычисленный из содержимого изображения. Используется в
// standalone-режиме без libtesseract и в тестах.
type StubProvider struct {
	// FailFor — контрольные суммы изображений, на которых провайдер
	// возвращает транзиентный сбой (для тестов повторов)
	FailFor map[string]bool
}

// NewStubProvider создаёт провайдер-заглушку.
func NewStubProvider() *StubProvider {
	return &StubProvider{FailFor: make(map[string]bool)}
}

// Name возвращает имя провайдера.
func (p *StubProvider) Name() string { return "stub" }

// Recognize возвращает детерминированный результат по контрольной сумме.
func (p *StubProvider) Recognize(ctx context.Context, image []byte, _ Settings) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	sum := sha256.Sum256(image)
	checksum := hex.EncodeToString(sum[:])

	if p.FailFor[checksum] {
		return Result{}, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("искусственный сбой для %s", checksum[:8])}
	}

	return Result{
		Text:       fmt.Sprintf("stub-text-%s", checksum[:16]),
		Confidence: 0.99,
	}, nil
}
