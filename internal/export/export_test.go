package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockArchive создаёт mock HTTP-сервер внешнего архива.
func setupMockArchive(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func exportableDocument() *model.Document {
	return &model.Document{
		ID:             "doc-1",
		ProjectID:      "proj-1",
		Classification: model.ClassificationPublic,
		Status:         model.StatusFinalApproved,
		OCRText:        "распознанный текст",
		OCRConfidence:  0.93,
		ReviewedBy:     "rev-1",
		ReviewNotes:    "сверено",
	}
}

// TestClient_Export проверяет Export (POST /api/v1/archive).
func TestClient_Export(t *testing.T) {
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/archive" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var req archiveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("декодирование запроса: %v", err)
		}
		if req.DocumentID != "doc-1" || req.Text != "распознанный текст" {
			t.Errorf("тело запроса: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(archiveResponse{ArchiveRef: "archive://batch-7/doc-1"})
	})

	client, err := New(server.URL, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	ref, err := client.Export(context.Background(), exportableDocument())
	if err != nil {
		t.Fatalf("Ошибка Export: %v", err)
	}
	if ref != "archive://batch-7/doc-1" {
		t.Errorf("ArchiveRef = %q", ref)
	}
}

// TestClient_Export_ServerError проверяет обработку ошибки архива.
func TestClient_Export_ServerError(t *testing.T) {
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	client, err := New(server.URL, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Export(context.Background(), exportableDocument()); err == nil {
		t.Error("ожидалась ошибка при недоступном архиве")
	}
}

// TestClient_Export_EmptyRef проверяет отказ на пустую ссылку архива.
func TestClient_Export_EmptyRef(t *testing.T) {
	server := setupMockArchive(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(archiveResponse{})
	})

	client, err := New(server.URL, "", testLogger())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := client.Export(context.Background(), exportableDocument()); err == nil {
		t.Error("ожидалась ошибка на пустую ссылку архива")
	}
}
