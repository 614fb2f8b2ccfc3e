package review

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/bigkaa/docflow/internal/audit"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const (
	testDefaultSLA = 72 * time.Hour
	testThreshold  = 3
)

func newTestManager(t *testing.T) (*Manager, repository.Store, *service.DocumentService) {
	t.Helper()
	store := repository.NewMemoryStore()
	auditLog, err := audit.New(t.TempDir(), 1000, testLogger())
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	cache := service.NewDocumentCache(100, time.Minute)
	docs := service.NewDocumentService(store, auditLog, cache, nil, testLogger())
	mgr := New(store, docs, testDefaultSLA, testThreshold, time.Minute, testLogger())
	docs.OnReclassify = mgr.Reroute
	return mgr, store, docs
}

func reviewer() *model.User {
	return &model.User{ID: "rev-1", Username: "reviewer", Roles: []model.Role{model.RoleReviewer}, Active: true}
}

func teacher() *model.User {
	return &model.User{ID: "tea-1", Username: "teacher", Roles: []model.Role{model.RoleTeacher}, Active: true}
}

func admin() *model.User {
	return &model.User{ID: "adm-1", Username: "admin", Roles: []model.Role{model.RoleAdmin}, Active: true}
}

// seedProcessed создаёт проект и документ в OCR_PROCESSED — готовый
// к постановке в очередь проверки.
func seedProcessed(t *testing.T, store repository.Store, id string, c model.Classification, sla time.Duration) *model.Document {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	project := &model.Project{ID: "proj-1", Name: "архивный проект", SLADuration: sla, CreatedAt: now, UpdatedAt: now}
	if err := store.Projects().Create(ctx, project); err != nil && !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("Create project: %v", err)
	}

	doc := &model.Document{
		ID:        id,
		ProjectID: "proj-1",
		FilePath:  "/data/" + id + ".png",
		Status:    model.StatusOCRProcessed,
		StatusHistory: []model.StatusChange{
			{Status: model.StatusOCRProcessed, Actor: "seed", Timestamp: now},
		},
		Classification: c,
		OCRStatus:      model.OCRStatusDone,
		OCRText:        "распознанный текст",
		OCRConfidence:  0.95,
		UploadedBy:     "user-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.Documents().Create(ctx, doc); err != nil {
		t.Fatalf("Create document: %v", err)
	}
	return doc
}

func TestEnqueue_RoleAndSLA(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPrivate, 24*time.Hour)

	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue вернул ошибку: %v", err)
	}
	if entry.AssignedRole != model.RoleTeacher {
		t.Errorf("AssignedRole = %q: приватный документ требует teacher", entry.AssignedRole)
	}
	if entry.Status != model.ReviewPending {
		t.Errorf("Status = %q", entry.Status)
	}
	got := entry.DueAt.Sub(entry.EnqueuedAt)
	if got != 24*time.Hour {
		t.Errorf("DueAt - EnqueuedAt = %v, ожидалось SLA проекта 24h", got)
	}
}

func TestEnqueue_DefaultSLA(t *testing.T) {
	mgr, store, _ := newTestManager(t)

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)

	entry, err := mgr.Enqueue(context.Background(), doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.AssignedRole != model.RoleReviewer {
		t.Errorf("AssignedRole = %q", entry.AssignedRole)
	}
	if got := entry.DueAt.Sub(entry.EnqueuedAt); got != testDefaultSLA {
		t.Errorf("DueAt - EnqueuedAt = %v, ожидался SLA по умолчанию", got)
	}
}

func TestEnqueue_DuplicateActive(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)

	if _, err := mgr.Enqueue(ctx, doc); err != nil {
		t.Fatalf("первый Enqueue: %v", err)
	}
	if _, err := mgr.Enqueue(ctx, doc); !errors.Is(err, service.ErrConflict) {
		t.Errorf("ожидался ErrConflict, получено %v", err)
	}
}

func TestClaim_HappyPath(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	rev := reviewer()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	claimed, err := mgr.Claim(ctx, rev, entry.ID)
	if err != nil {
		t.Fatalf("Claim вернул ошибку: %v", err)
	}
	if claimed.Status != model.ReviewClaimed || claimed.ClaimedBy != rev.ID {
		t.Errorf("запись: Status=%q ClaimedBy=%q", claimed.Status, claimed.ClaimedBy)
	}

	got, _ := store.Documents().Get(ctx, doc.ID)
	if got.Status != model.StatusInReview {
		t.Errorf("документ не переведён в IN_REVIEW: %q", got.Status)
	}
}

func TestClaim_WrongRole(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPrivate, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Запись адресована teacher — reviewer её взять не может
	if _, err := mgr.Claim(ctx, reviewer(), entry.ID); !errors.Is(err, rbac.ErrForbidden) {
		t.Errorf("ожидался ErrForbidden, получено %v", err)
	}
	// Администратор может брать любые записи
	if _, err := mgr.Claim(ctx, admin(), entry.ID); err != nil {
		t.Errorf("Claim администратором: %v", err)
	}
}

func TestClaim_AlreadyClaimed(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := mgr.Claim(ctx, reviewer(), entry.ID); err != nil {
		t.Fatalf("первый Claim: %v", err)
	}
	second := &model.User{ID: "rev-2", Username: "reviewer2", Roles: []model.Role{model.RoleReviewer}, Active: true}
	if _, err := mgr.Claim(ctx, second, entry.ID); !errors.Is(err, repository.ErrAlreadyClaimed) {
		t.Errorf("ожидался ErrAlreadyClaimed, получено %v", err)
	}
}

func TestClaim_RevertsOnTransitionFailure(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Документ ещё в OCR_PROCESSING: переход в IN_REVIEW недопустим
	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	doc.Status = model.StatusOCRProcessing
	doc.OCRStatus = model.OCRStatusPending
	doc.OCRText = ""
	doc.OCRConfidence = 0
	doc.StatusHistory = []model.StatusChange{
		{Status: model.StatusOCRProcessing, Actor: "seed", Timestamp: now},
	}
	if err := store.Documents().Update(ctx, doc); err != nil {
		t.Fatalf("Update: %v", err)
	}

	entry := &model.ReviewQueueEntry{
		ID:             "entry-1",
		DocumentID:     doc.ID,
		Classification: model.ClassificationPublic,
		AssignedRole:   model.RoleReviewer,
		Status:         model.ReviewPending,
		EnqueuedAt:     now,
		DueAt:          now.Add(time.Hour),
	}
	if err := store.Reviews().Create(ctx, entry); err != nil {
		t.Fatalf("Create entry: %v", err)
	}

	if _, err := mgr.Claim(ctx, reviewer(), entry.ID); err == nil {
		t.Fatal("ожидалась ошибка перехода")
	}

	got, _ := store.Reviews().Get(ctx, entry.ID)
	if got.Status != model.ReviewPending || got.ClaimedBy != "" {
		t.Errorf("claim не откатился: Status=%q ClaimedBy=%q", got.Status, got.ClaimedBy)
	}
}

func TestComplete(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	rev := reviewer()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Claim(ctx, rev, entry.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	done, err := mgr.Complete(ctx, rev, entry.ID, "текст сверен со сканом", "")
	if err != nil {
		t.Fatalf("Complete вернул ошибку: %v", err)
	}
	if done.Status != model.ReviewCompleted || done.CompletedAt == nil {
		t.Errorf("запись: Status=%q CompletedAt=%v", done.Status, done.CompletedAt)
	}

	got, _ := store.Documents().Get(ctx, doc.ID)
	if got.Status != model.StatusReviewedApproved {
		t.Errorf("Status = %q", got.Status)
	}
	if got.ReviewedBy != rev.ID || got.ReviewNotes != "текст сверен со сканом" {
		t.Errorf("ReviewedBy=%q ReviewNotes=%q", got.ReviewedBy, got.ReviewNotes)
	}
}

func TestComplete_ManualEdit(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	rev := reviewer()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Claim(ctx, rev, entry.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	if _, err := mgr.Complete(ctx, rev, entry.ID, "исправлена опечатка", "исправленный текст"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := store.Documents().Get(ctx, doc.ID)
	if got.OCRText != "исправленный текст" {
		t.Errorf("OCRText = %q", got.OCRText)
	}
	if len(got.ManualEdits) != 1 || got.ManualEdits[0].Editor != rev.ID {
		t.Errorf("след правок: %+v", got.ManualEdits)
	}
}

func TestComplete_OnlyClaimer(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Claim(ctx, reviewer(), entry.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	other := &model.User{ID: "rev-2", Username: "reviewer2", Roles: []model.Role{model.RoleReviewer}, Active: true}
	if _, err := mgr.Complete(ctx, other, entry.ID, "", ""); !errors.Is(err, repository.ErrAlreadyClaimed) {
		t.Errorf("ожидался ErrAlreadyClaimed, получено %v", err)
	}
}

func TestReroute_OnReclassify(t *testing.T) {
	mgr, store, docs := newTestManager(t)
	ctx := context.Background()
	adm := admin()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Переклассификация PUBLIC → PRIVATE переадресует запись teacher-у
	if _, err := docs.Reclassify(ctx, adm, doc.ID, model.ClassificationPrivate, "ошибочный гриф"); err != nil {
		t.Fatalf("Reclassify: %v", err)
	}

	old, _ := store.Reviews().Get(ctx, entry.ID)
	if old.Status != model.ReviewReassigned {
		t.Errorf("старая запись: Status=%q", old.Status)
	}

	active, err := store.Reviews().ActiveForDocument(ctx, doc.ID)
	if err != nil {
		t.Fatalf("ActiveForDocument: %v", err)
	}
	if active.ID == entry.ID || active.AssignedRole != model.RoleTeacher {
		t.Errorf("новая запись: ID=%q AssignedRole=%q", active.ID, active.AssignedRole)
	}
}

func TestSweepSLA(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, time.Hour)
	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// Дедлайн не наступил — sweep ничего не делает
	mgr.SweepSLA(ctx, entry.DueAt.Add(-time.Minute))
	got, _ := store.Reviews().Get(ctx, entry.ID)
	if got.SLAViolated {
		t.Error("SLA помечен нарушенным до дедлайна")
	}

	// Первый период просрочки: нарушение зафиксировано, одна эскалация
	after := entry.DueAt.Add(time.Minute)
	mgr.SweepSLA(ctx, after)
	got, _ = store.Reviews().Get(ctx, entry.ID)
	if !got.SLAViolated || got.EscalationCount != 1 || got.EscalatedToAdmin {
		t.Errorf("после первого sweep: %+v", got)
	}

	// Повторный sweep в тот же момент ничего не накручивает
	mgr.SweepSLA(ctx, after)
	got, _ = store.Reviews().Get(ctx, entry.ID)
	if got.EscalationCount != 1 {
		t.Errorf("повторный sweep накрутил счётчик: %d", got.EscalationCount)
	}

	// Три периода просрочки — эскалация администраторам
	mgr.SweepSLA(ctx, entry.DueAt.Add(2*time.Hour+time.Minute))
	got, _ = store.Reviews().Get(ctx, entry.ID)
	if got.EscalationCount != testThreshold || !got.EscalatedToAdmin {
		t.Errorf("эскалация не сработала: count=%d admin=%v", got.EscalationCount, got.EscalatedToAdmin)
	}
}

func TestSweepAssignments(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	adm := admin()
	now := time.Now().UTC()

	seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	if err := store.Users().Create(ctx, &model.User{
		ID: "rev-1", Username: "reviewer", Roles: []model.Role{model.RoleReviewer}, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Create user: %v", err)
	}

	a, err := mgr.CreateAssignment(ctx, adm, "rev-1", []string{"doc-1"}, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	mgr.SweepAssignments(ctx, now)

	got, _ := store.Assignments().Get(ctx, a.ID)
	if got.Status != model.AssignmentOverdue {
		t.Errorf("Status = %q, ожидался overdue", got.Status)
	}
}

func TestComplete_AssignmentProgress(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()
	rev := reviewer()
	adm := admin()
	now := time.Now().UTC()

	doc := seedProcessed(t, store, "doc-1", model.ClassificationPublic, 0)
	if err := store.Users().Create(ctx, &model.User{
		ID: rev.ID, Username: rev.Username, Roles: rev.Roles, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("Create user: %v", err)
	}

	a, err := mgr.CreateAssignment(ctx, adm, rev.ID, []string{doc.ID}, now.Add(72*time.Hour))
	if err != nil {
		t.Fatalf("CreateAssignment: %v", err)
	}

	entry, err := mgr.Enqueue(ctx, doc)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Claim(ctx, rev, entry.ID); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if _, err := mgr.Complete(ctx, rev, entry.ID, "", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	got, _ := store.Assignments().Get(ctx, a.ID)
	if got.CompletedCount != 1 || got.Status != model.AssignmentCompleted {
		t.Errorf("назначение: CompletedCount=%d Status=%q", got.CompletedCount, got.Status)
	}
}

func TestListQueue_Visibility(t *testing.T) {
	mgr, store, _ := newTestManager(t)
	ctx := context.Background()

	pub := seedProcessed(t, store, "doc-pub", model.ClassificationPublic, 0)
	priv := seedProcessed(t, store, "doc-priv", model.ClassificationPrivate, 0)
	if _, err := mgr.Enqueue(ctx, pub); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := mgr.Enqueue(ctx, priv); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	fromReviewer, err := mgr.ListQueue(ctx, reviewer())
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(fromReviewer) != 1 || fromReviewer[0].AssignedRole != model.RoleReviewer {
		t.Errorf("reviewer видит %d записей", len(fromReviewer))
	}

	fromAdmin, err := mgr.ListQueue(ctx, admin())
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if len(fromAdmin) != 2 {
		t.Errorf("администратор видит %d записей, ожидалось 2", len(fromAdmin))
	}
}
