package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/audit"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/ocr"
	"github.com/bigkaa/docflow/internal/queue"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — оркестратор поверх in-memory хранилища и очереди.
type testEnv struct {
	orch  *Orchestrator
	store repository.Store
	queue *queue.Queue
}

func newTestEnv(t *testing.T, retryLimit int) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	auditLog, err := audit.New(t.TempDir(), 1000, testLogger())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	cache := service.NewDocumentCache(100, time.Minute)
	docs := service.NewDocumentService(store, auditLog, cache, nil, testLogger())
	q := queue.New(time.Minute, 10*time.Millisecond, testLogger())
	orch := New(store, docs, q, retryLimit, time.Millisecond, testLogger())
	return &testEnv{orch: orch, store: store, queue: q}
}

func operatorUser() *model.User {
	return &model.User{ID: "op-1", Username: "operator", Roles: []model.Role{model.RoleAdmin}, Active: true}
}

// seedClassified создаёт проект и классифицированный документ,
// готовый к постановке в очередь распознавания.
func seedClassified(t *testing.T, store repository.Store, id string) *model.Document {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	project := &model.Project{ID: "proj-1", Name: "пилотный проект", CreatedAt: now, UpdatedAt: now}
	if err := store.Projects().Create(ctx, project); err != nil && !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("Create project: %v", err)
	}

	doc := &model.Document{
		ID:        id,
		ProjectID: "proj-1",
		FilePath:  "/data/" + id + ".png",
		Status:    model.StatusClassifiedPublic,
		StatusHistory: []model.StatusChange{
			{Status: model.StatusClassifiedPublic, Actor: "seed", Timestamp: now},
		},
		Classification: model.ClassificationPublic,
		UploadedBy:     "user-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create document: %v", err)
	}
	return doc
}

// drain вытягивает единицы работы и отдаёт их провайдеру-заглушке,
// имитируя worker pool синхронно.
func drain(t *testing.T, env *testEnv, provider *ocr.StubProvider, maxUnits int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < maxUnits; i++ {
		env.queue.Sweep(time.Now().Add(time.Hour))
		if env.queue.Len() == 0 {
			return
		}
		pullCtx, cancel := context.WithTimeout(ctx, time.Second)
		u, err := env.queue.Pull(pullCtx)
		cancel()
		if err != nil {
			t.Fatalf("Pull: %v", err)
		}
		settings, err := env.orch.SettingsFor(ctx, u.JobID)
		if err != nil {
			t.Fatalf("SettingsFor: %v", err)
		}
		image := []byte(u.DocumentID)
		res, recErr := provider.Recognize(ctx, image, settings)
		env.orch.Report(ctx, u, settings, res, recErr)
		env.queue.Ack(u)
	}
}

func imageKey(documentID string) string {
	sum := sha256.Sum256([]byte(documentID))
	return hex.EncodeToString(sum[:])
}

func TestSubmit_PublishesUnits(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("doc-%d", i)
		seedClassified(t, env.store, id)
		ids = append(ids, id)
	}

	job, err := env.orch.Submit(ctx, operatorUser(), ids, model.OCRSettings{LanguageHints: []string{"eng"}}, "stub")
	if err != nil {
		t.Fatalf("Submit вернул ошибку: %v", err)
	}
	if job.Status != model.JobProcessing {
		t.Errorf("Status = %q", job.Status)
	}
	if job.Progress.Total != 3 {
		t.Errorf("Progress.Total = %d", job.Progress.Total)
	}
	if env.queue.Len() != 3 {
		t.Errorf("в очереди %d единиц, ожидалось 3", env.queue.Len())
	}

	// Все документы переведены в OCR_PROCESSING
	for _, id := range ids {
		doc, err := env.store.Documents().Get(ctx, id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if doc.Status != model.StatusOCRProcessing || doc.OCRStatus != model.OCRStatusPending {
			t.Errorf("документ %s: Status=%q OCRStatus=%q", id, doc.Status, doc.OCRStatus)
		}
	}
}

func TestSubmit_RejectsUnclassified(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	now := time.Now().UTC()

	seedClassified(t, env.store, "doc-ok")
	raw := &model.Document{
		ID:        "doc-raw",
		ProjectID: "proj-1",
		FilePath:  "/data/raw.png",
		Status:    model.StatusUploaded,
		StatusHistory: []model.StatusChange{
			{Status: model.StatusUploaded, Actor: "seed", Timestamp: now},
		},
		UploadedBy: "user-1",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := env.store.Documents().Create(ctx, raw); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := env.orch.Submit(ctx, operatorUser(), []string{"doc-ok", "doc-raw"}, model.OCRSettings{}, "stub")
	if err == nil {
		t.Fatal("ожидалась ошибка для неклассифицированного документа")
	}
	// Задание отклонено целиком: очередь пуста, статусы не тронуты
	if env.queue.Len() != 0 {
		t.Errorf("очередь не пуста: %d", env.queue.Len())
	}
	doc, _ := env.store.Documents().Get(ctx, "doc-ok")
	if doc.Status != model.StatusClassifiedPublic {
		t.Errorf("статус изменён: %q", doc.Status)
	}
}

func TestSubmit_Forbidden(t *testing.T) {
	env := newTestEnv(t, 3)
	reviewer := &model.User{ID: "rev-1", Username: "reviewer", Roles: []model.Role{model.RoleReviewer}, Active: true}

	_, err := env.orch.Submit(context.Background(), reviewer, []string{"doc-0"}, model.OCRSettings{}, "stub")
	if !errors.Is(err, rbac.ErrForbidden) {
		t.Errorf("ожидался ErrForbidden, получено %v", err)
	}
}

func TestReport_CompletesJob(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("doc-%d", i)
		seedClassified(t, env.store, id)
		ids = append(ids, id)
	}

	job, err := env.orch.Submit(ctx, operatorUser(), ids, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	drain(t, env, ocr.NewStubProvider(), 10)

	got, err := env.store.Jobs().Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get job: %v", err)
	}
	if got.Status != model.JobCompleted {
		t.Errorf("Status = %q, ожидался COMPLETED", got.Status)
	}
	if got.Progress.Current != 5 || got.FailedCount != 0 {
		t.Errorf("Progress=%+v FailedCount=%d", got.Progress, got.FailedCount)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt не установлен")
	}

	for _, id := range ids {
		doc, _ := env.store.Documents().Get(ctx, id)
		if doc.Status != model.StatusOCRProcessed || doc.OCRText == "" {
			t.Errorf("документ %s: Status=%q OCRText=%q", id, doc.Status, doc.OCRText)
		}
	}
}

func TestReport_PartialFailureStillCompleted(t *testing.T) {
	env := newTestEnv(t, 2)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("doc-%d", i)
		seedClassified(t, env.store, id)
		ids = append(ids, id)
	}

	// Один документ сбоит на каждой попытке
	provider := ocr.NewStubProvider()
	provider.FailFor[imageKey("doc-2")] = true

	job, err := env.orch.Submit(ctx, operatorUser(), ids, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// 4 успеха + 3 попытки сбойного документа (лимит 2 повтора)
	drain(t, env, provider, 20)

	got, _ := env.store.Jobs().Get(ctx, job.ID)
	if got.Status != model.JobCompleted {
		t.Errorf("Status = %q: частичный сбой не валит задание", got.Status)
	}
	if got.FailedCount != 1 {
		t.Errorf("FailedCount = %d", got.FailedCount)
	}

	failed, _ := env.store.Documents().Get(ctx, "doc-2")
	if failed.Status != model.StatusOCRFailed || failed.OCRStatus != model.OCRStatusFailed {
		t.Errorf("сбойный документ: Status=%q OCRStatus=%q", failed.Status, failed.OCRStatus)
	}
	if failed.OCRRetryCount != 2 {
		t.Errorf("OCRRetryCount = %d, ожидалось 2", failed.OCRRetryCount)
	}
}

func TestReport_AllFailedJobFailed(t *testing.T) {
	env := newTestEnv(t, 0)
	ctx := context.Background()

	provider := ocr.NewStubProvider()
	var ids []string
	for i := 0; i < 2; i++ {
		id := fmt.Sprintf("doc-%d", i)
		seedClassified(t, env.store, id)
		provider.FailFor[imageKey(id)] = true
		ids = append(ids, id)
	}

	job, err := env.orch.Submit(ctx, operatorUser(), ids, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	drain(t, env, provider, 10)

	got, _ := env.store.Jobs().Get(ctx, job.ID)
	if got.Status != model.JobFailed {
		t.Errorf("Status = %q, ожидался FAILED", got.Status)
	}
	if got.FailedCount != 2 {
		t.Errorf("FailedCount = %d", got.FailedCount)
	}
}

func TestReport_DuplicateIgnored(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()

	seedClassified(t, env.store, "doc-0")
	job, err := env.orch.Submit(ctx, operatorUser(), []string{"doc-0"}, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	u := queue.Unit{JobID: job.ID, DocumentID: "doc-0", Attempt: 0}
	res := ocr.Result{Text: "распознанный текст", Confidence: 0.9}
	env.orch.Report(ctx, u, ocr.Settings{}, res, nil)
	// Повторная доставка той же единицы (at-least-once)
	env.orch.Report(ctx, u, ocr.Settings{}, res, nil)

	got, _ := env.store.Jobs().Get(ctx, job.ID)
	if got.Progress.Current != 1 {
		t.Errorf("Progress.Current = %d: дубликат исказил прогресс", got.Progress.Current)
	}
	if got.Status != model.JobCompleted {
		t.Errorf("Status = %q", got.Status)
	}
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	op := operatorUser()

	seedClassified(t, env.store, "doc-0")
	job, err := env.orch.Submit(ctx, op, []string{"doc-0"}, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	paused, err := env.orch.Pause(ctx, op, job.ID)
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if paused.Status != model.JobPaused {
		t.Errorf("Status = %q", paused.Status)
	}

	// Единицы приостановленного задания не выдаются
	pullCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	if _, err := env.queue.Pull(pullCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("единица выдана во время паузы: %v", err)
	}
	cancel()

	resumed, err := env.orch.Resume(ctx, op, job.ID)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.Status != model.JobProcessing {
		t.Errorf("Status = %q", resumed.Status)
	}

	pullCtx, cancel = context.WithTimeout(ctx, time.Second)
	defer cancel()
	if _, err := env.queue.Pull(pullCtx); err != nil {
		t.Errorf("единица не выдана после возобновления: %v", err)
	}
}

func TestPause_TerminalJob(t *testing.T) {
	env := newTestEnv(t, 3)
	ctx := context.Background()
	op := operatorUser()

	seedClassified(t, env.store, "doc-0")
	job, err := env.orch.Submit(ctx, op, []string{"doc-0"}, model.OCRSettings{}, "stub")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	drain(t, env, ocr.NewStubProvider(), 5)

	if _, err := env.orch.Pause(ctx, op, job.ID); !errors.Is(err, ErrJobNotPausable) {
		t.Errorf("ожидался ErrJobNotPausable, получено %v", err)
	}
}
