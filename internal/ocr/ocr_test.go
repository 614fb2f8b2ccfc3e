package ocr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
)

func TestStubProvider_Deterministic(t *testing.T) {
	p := NewStubProvider()
	ctx := context.Background()

	first, err := p.Recognize(ctx, []byte("scan-content"), Settings{})
	if err != nil {
		t.Fatalf("Recognize вернул ошибку: %v", err)
	}
	second, err := p.Recognize(ctx, []byte("scan-content"), Settings{})
	if err != nil {
		t.Fatalf("Recognize вернул ошибку: %v", err)
	}
	if first.Text != second.Text {
		t.Errorf("результат не детерминирован: %q != %q", first.Text, second.Text)
	}
	if first.Confidence <= 0 || first.Confidence > 1 {
		t.Errorf("Confidence = %f вне диапазона (0, 1]", first.Confidence)
	}

	other, err := p.Recognize(ctx, []byte("another-scan"), Settings{})
	if err != nil {
		t.Fatalf("Recognize вернул ошибку: %v", err)
	}
	if other.Text == first.Text {
		t.Error("разные изображения дали одинаковый текст")
	}
}

func TestStubProvider_TransientFailure(t *testing.T) {
	p := NewStubProvider()
	image := []byte("broken-scan")
	sum := sha256.Sum256(image)
	p.FailFor = map[string]bool{hex.EncodeToString(sum[:]): true}

	_, err := p.Recognize(context.Background(), image, Settings{})
	if err == nil {
		t.Fatal("Recognize не вернул ошибку для помеченного изображения")
	}
	if !IsTransient(err) {
		t.Errorf("ошибка %v не распознана как транзиентная", err)
	}

	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Provider != "stub" {
		t.Errorf("ожидался ProviderError провайдера stub, получено %v", err)
	}
}

func TestStubProvider_ContextCancel(t *testing.T) {
	p := NewStubProvider()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Recognize(ctx, []byte("scan"), Settings{})
	if err != context.Canceled {
		t.Errorf("Recognize вернул %v, ожидался context.Canceled", err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errors.New("обычная ошибка")) {
		t.Error("обычная ошибка распознана как транзиентная")
	}
	wrapped := &ProviderError{Provider: "tesseract", Err: errors.New("timeout")}
	if !IsTransient(wrapped) {
		t.Error("ProviderError не распознан как транзиентный")
	}
}
