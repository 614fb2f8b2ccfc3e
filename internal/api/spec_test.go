package api

import (
	"context"
	"testing"
)

// Контракт поддерживается вручную — тест ловит синтаксические ошибки
// и битые $ref при изменении документа.
func TestLoadSpec(t *testing.T) {
	doc, err := LoadSpec(context.Background())
	if err != nil {
		t.Fatalf("LoadSpec: %v", err)
	}

	if doc.Info == nil || doc.Info.Title == "" {
		t.Error("в документе отсутствует info.title")
	}

	required := []string{
		"/api/v1/documents/{id}",
		"/api/v1/documents/{id}/classify",
		"/api/v1/documents/{id}/export",
		"/api/v1/jobs",
		"/api/v1/reviews",
		"/api/v1/assignments",
		"/health/ready",
	}
	for _, p := range required {
		if doc.Paths.Find(p) == nil {
			t.Errorf("в документе отсутствует путь %s", p)
		}
	}
}
