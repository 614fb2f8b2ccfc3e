package audit

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// entry возвращает валидную запись журнала.
func entry(action, resourceID string) model.AuditLogEntry {
	return model.AuditLogEntry{
		Actor:        "tester",
		Action:       action,
		ResourceType: "document",
		ResourceID:   resourceID,
	}
}

// TestNew_CreatesDirectory проверяет создание директории журнала.
func TestNew_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")

	l, err := New(dir, 100, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание журнала: %v", err)
	}
	if l.Dir() != dir {
		t.Errorf("ожидался путь %s, получен %s", dir, l.Dir())
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("директория журнала не создана: %v", err)
	}
}

// TestNew_InvalidCapacity проверяет ошибку при неположительной ёмкости.
func TestNew_InvalidCapacity(t *testing.T) {
	if _, err := New(t.TempDir(), 0, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при нулевой ёмкости")
	}
}

// TestAppend проверяет одношаговую запись.
func TestAppend(t *testing.T) {
	l, err := New(t.TempDir(), 100, testLogger())
	if err != nil {
		t.Fatalf("ошибка создания журнала: %v", err)
	}

	if err := l.Append(entry("document.transition", "doc-1")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}

	entries := l.Entries()
	if len(entries) != 1 {
		t.Fatalf("ожидалась 1 запись, получено %d", len(entries))
	}
	if entries[0].ID == "" {
		t.Error("ID должен быть заполнен автоматически")
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("Timestamp должен быть заполнен автоматически")
	}
}

// TestAppend_InvalidEntry проверяет отказ для невалидной записи.
func TestAppend_InvalidEntry(t *testing.T) {
	l, _ := New(t.TempDir(), 100, testLogger())

	bad := entry("document.transition", "doc-1")
	bad.Actor = ""
	if err := l.Append(bad); err == nil {
		t.Fatal("ожидалась ошибка валидации")
	}
	if l.Len() != 0 {
		t.Error("невалидная запись не должна попасть в кольцо")
	}
}

// TestTx_CommitRollback проверяет двухфазный контракт.
func TestTx_CommitRollback(t *testing.T) {
	l, _ := New(t.TempDir(), 100, testLogger())

	// Commit делает запись видимой
	tx, err := l.Begin(entry("review.claim", "entry-1"))
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if l.Len() != 0 {
		t.Error("pending запись не должна быть видимой")
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("ошибка Commit: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("ожидалась 1 запись после Commit, получено %d", l.Len())
	}

	// Rollback не публикует запись
	tx2, err := l.Begin(entry("review.claim", "entry-2"))
	if err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}
	if err := tx2.Rollback(); err != nil {
		t.Fatalf("ошибка Rollback: %v", err)
	}
	if l.Len() != 1 {
		t.Errorf("откаченная запись не должна быть видимой, записей: %d", l.Len())
	}

	// Повторный Commit завершённой операции — ошибка
	if err := tx.Commit(); err == nil {
		t.Error("повторный Commit должен вернуть ошибку")
	}
}

// TestRingEviction проверяет вытеснение самых старых записей.
func TestRingEviction(t *testing.T) {
	l, _ := New(t.TempDir(), 3, testLogger())

	for i := 0; i < 5; i++ {
		e := entry("document.transition", "doc-"+string(rune('a'+i)))
		e.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := l.Append(e); err != nil {
			t.Fatalf("ошибка записи %d: %v", i, err)
		}
	}

	entries := l.Entries()
	if len(entries) != 3 {
		t.Fatalf("ожидалось 3 записи после вытеснения, получено %d", len(entries))
	}
	// Остались самые новые
	if entries[0].ResourceID != "doc-c" || entries[2].ResourceID != "doc-e" {
		t.Errorf("вытеснение затронуло не самые старые записи: %v", entries)
	}
}

// TestRecovery проверяет восстановление журнала при рестарте:
// закоммиченные записи загружаются, pending откатываются.
func TestRecovery(t *testing.T) {
	dir := t.TempDir()

	l, _ := New(dir, 100, testLogger())
	for i := 0; i < 3; i++ {
		e := entry("document.transition", "doc-1")
		e.Timestamp = time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		if err := l.Append(e); err != nil {
			t.Fatalf("ошибка записи: %v", err)
		}
	}
	// Незавершённая операция остаётся pending на диске
	if _, err := l.Begin(entry("document.export", "doc-2")); err != nil {
		t.Fatalf("ошибка Begin: %v", err)
	}

	// Новый экземпляр над той же директорией
	restored, err := New(dir, 100, testLogger())
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if restored.Len() != 3 {
		t.Errorf("ожидалось 3 закоммиченных записи, получено %d", restored.Len())
	}
	for _, e := range restored.Entries() {
		if e.Action == "document.export" {
			t.Error("pending запись не должна восстановиться как закоммиченная")
		}
	}
}

// TestEntriesFor проверяет выборку записей по ресурсу.
func TestEntriesFor(t *testing.T) {
	l, _ := New(t.TempDir(), 100, testLogger())
	l.Append(entry("document.transition", "doc-1"))
	l.Append(entry("document.transition", "doc-2"))
	l.Append(entry("document.export", "doc-1"))

	got := l.EntriesFor("doc-1")
	if len(got) != 2 {
		t.Errorf("ожидалось 2 записи для doc-1, получено %d", len(got))
	}
}

func TestCheckReady(t *testing.T) {
	l, err := New(t.TempDir(), 10, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	status, msg := l.CheckReady()
	if status != "ok" {
		t.Errorf("статус = %q (%s), ожидался ok", status, msg)
	}
}
