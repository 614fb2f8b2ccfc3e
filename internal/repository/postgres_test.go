package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bigkaa/docflow/internal/config"
	"github.com/bigkaa/docflow/internal/database"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool; контейнер и пул закрываются через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("docflow_test"),
		postgres.WithUsername("docflow"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("DF_STORE", "postgres")
	t.Setenv("DF_DB_HOST", host)
	t.Setenv("DF_DB_PORT", port.Port())
	t.Setenv("DF_DB_NAME", "docflow_test")
	t.Setenv("DF_DB_USER", "docflow")
	t.Setenv("DF_DB_PASSWORD", "test-password")
	t.Setenv("DF_DB_SSL_MODE", "disable")
	t.Setenv("DF_JWKS_URL", "http://localhost:8080/certs")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// createTestProject создаёт проект для ссылочной целостности документов.
func createTestProject(t *testing.T, store Store) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := &model.Project{
		ID:        uuid.New().String(),
		Name:      "test-project",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.Projects().Create(ctx, p); err != nil {
		t.Fatalf("Create project: %v", err)
	}
	return p.ID
}

func pgTestDocument(projectID string) *model.Document {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New().String()
	return &model.Document{
		ID:        id,
		ProjectID: projectID,
		FilePath:  "/data/" + id + ".pdf",
		Checksum:  "deadbeef",
		Status:    model.StatusUploaded,
		StatusHistory: []model.StatusChange{
			{Status: model.StatusUploaded, Actor: "user-1", Timestamp: now},
		},
		OCRStatus:  model.OCRStatusNone,
		UploadedBy: "user-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestPostgresDocuments_CRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	projectID := createTestProject(t, store)

	doc := pgTestDocument(projectID)
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := store.Documents().Create(ctx, doc); !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create: ожидался ErrConflict, получено %v", err)
	}

	got, err := store.Documents().Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.FilePath != doc.FilePath || got.Checksum != "deadbeef" {
		t.Errorf("Get вернул другие данные: %+v", got)
	}
	if len(got.StatusHistory) != 1 || got.StatusHistory[0].Status != model.StatusUploaded {
		t.Errorf("история статусов не сохранилась: %+v", got.StatusHistory)
	}

	// Переход статуса с дополнением истории
	got.Status = model.StatusClassificationPending
	got.StatusHistory = append(got.StatusHistory, model.StatusChange{
		Status:    model.StatusClassificationPending,
		Actor:     "user-1",
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	})
	got.UpdatedAt = time.Now().UTC()
	if err := store.Documents().Update(ctx, got); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}

	again, err := store.Documents().Get(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Get() после Update: %v", err)
	}
	if again.Status != model.StatusClassificationPending || len(again.StatusHistory) != 2 {
		t.Errorf("обновление не применилось: status=%q history=%d",
			again.Status, len(again.StatusHistory))
	}

	if _, err := store.Documents().Get(ctx, uuid.New().String()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get несуществующего: ожидался ErrNotFound, получено %v", err)
	}
}

func TestPostgresReviews_ActiveUniqueness(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	projectID := createTestProject(t, store)

	doc := pgTestDocument(projectID)
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create document: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	mk := func() *model.ReviewQueueEntry {
		return &model.ReviewQueueEntry{
			ID:             uuid.New().String(),
			DocumentID:     doc.ID,
			Classification: model.ClassificationPublic,
			AssignedRole:   model.RoleReviewer,
			Status:         model.ReviewPending,
			EnqueuedAt:     now,
			DueAt:          now.Add(24 * time.Hour),
		}
	}

	first := mk()
	if err := store.Reviews().Create(ctx, first); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	// Частичный уникальный индекс запрещает вторую активную запись
	if err := store.Reviews().Create(ctx, mk()); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидался ErrConflict, получено %v", err)
	}

	active, err := store.Reviews().ActiveForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ActiveForDocument: %v", err)
	}
	if active.ID != first.ID {
		t.Errorf("ActiveForDocument вернул %q, ожидался %q", active.ID, first.ID)
	}
}

// Конкурентный захват одной записи: условный UPDATE гарантирует
// ровно одного победителя на уровне PostgreSQL.
func TestPostgresReviews_ConcurrentClaim(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	projectID := createTestProject(t, store)

	doc := pgTestDocument(projectID)
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create document: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &model.ReviewQueueEntry{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		Classification: model.ClassificationPublic,
		AssignedRole:   model.RoleReviewer,
		Status:         model.ReviewPending,
		EnqueuedAt:     now,
		DueAt:          now.Add(24 * time.Hour),
	}
	if err := store.Reviews().Create(ctx, entry); err != nil {
		t.Fatalf("Create entry: %v", err)
	}

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Reviews().Claim(ctx, entry.ID, fmt.Sprintf("u-%d", i), time.Now().UTC())
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyClaimed) {
				t.Errorf("неожиданная ошибка Claim: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("победителей %d, ожидался ровно 1", winners)
	}
}

func TestPostgresReviews_CompleteOwnerOnly(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)
	projectID := createTestProject(t, store)

	doc := pgTestDocument(projectID)
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create document: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	entry := &model.ReviewQueueEntry{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		Classification: model.ClassificationPrivate,
		AssignedRole:   model.RoleTeacher,
		Status:         model.ReviewPending,
		EnqueuedAt:     now,
		DueAt:          now.Add(24 * time.Hour),
	}
	if err := store.Reviews().Create(ctx, entry); err != nil {
		t.Fatalf("Create entry: %v", err)
	}

	if _, err := store.Reviews().Claim(ctx, entry.ID, "u1", now); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := store.Reviews().Complete(ctx, entry.ID, "u2", now); !errors.Is(err, ErrAlreadyClaimed) {
		t.Errorf("Complete чужой записи: ожидался ErrAlreadyClaimed, получено %v", err)
	}

	done, err := store.Reviews().Complete(ctx, entry.ID, "u1", now)
	if err != nil {
		t.Fatalf("Complete владельцем: %v", err)
	}
	if done.Status != model.ReviewCompleted || done.CompletedAt == nil {
		t.Errorf("после Complete: status=%q completedAt=%v", done.Status, done.CompletedAt)
	}
}

func TestPostgresJobs_Roundtrip(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	job := &model.OCRJob{
		ID:          uuid.New().String(),
		DocumentIDs: []string{uuid.New().String(), uuid.New().String()},
		Provider:    "tesseract",
		Settings:    model.OCRSettings{LanguageHints: []string{"eng", "rus"}, DPI: 300},
		Status:      model.JobProcessing,
		Progress:    model.JobProgress{Current: 0, Total: 2},
		SubmittedBy: "admin",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Jobs().Create(ctx, job); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	got, err := store.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if len(got.DocumentIDs) != 2 || got.Settings.DPI != 300 {
		t.Errorf("Get вернул другие данные: %+v", got)
	}
	if len(got.Settings.LanguageHints) != 2 || got.Settings.LanguageHints[0] != "eng" {
		t.Errorf("настройки OCR не сохранились: %+v", got.Settings)
	}

	completedAt := now.Add(time.Minute)
	got.Status = model.JobCompleted
	got.Progress.Current = 2
	got.UpdatedAt = completedAt
	got.CompletedAt = &completedAt
	if err := store.Jobs().Update(ctx, got); err != nil {
		t.Fatalf("Update() ошибка: %v", err)
	}

	again, err := store.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get() после Update: %v", err)
	}
	if again.Status != model.JobCompleted || again.CompletedAt == nil {
		t.Errorf("обновление не применилось: %+v", again)
	}
}

func TestPostgresProjects_SLADuration(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	store := NewPostgresStore(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        "sla-project",
		SLADuration: 48 * time.Hour,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.Projects().Create(ctx, p); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	got, err := store.Projects().Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if got.SLADuration != 48*time.Hour {
		t.Errorf("SLADuration = %v, ожидается 48h", got.SLADuration)
	}
}
