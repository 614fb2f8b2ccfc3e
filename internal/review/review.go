// Пакет review — менеджер очереди человеческой проверки.
//
// Документы попадают в очередь после успешного распознавания. Запись
// очереди адресована роли (PUBLIC → reviewer, PRIVATE → teacher);
// взятие записи — атомарный compare-and-swap, гарантирующий единственного
// проверяющего. Фоновый sweep отслеживает нарушение SLA и эскалирует
// просроченные записи администраторам.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/service"
)

// Prometheus метрики очереди проверки
var (
	// enqueuedTotal — количество записей, поставленных в очередь.
	enqueuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_review_enqueued_total",
		Help: "Общее количество записей, поставленных в очередь проверки",
	})

	// claimsTotal — количество взятий записей по исходу.
	claimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_review_claims_total",
		Help: "Общее количество попыток взятия записей очереди проверки",
	}, []string{"outcome"})

	// completionsTotal — количество завершённых проверок.
	completionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_review_completions_total",
		Help: "Общее количество завершённых проверок",
	})

	// slaViolationsTotal — количество записей с нарушенным SLA.
	slaViolationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_review_sla_violations_total",
		Help: "Общее количество записей очереди с нарушенным SLA",
	})

	// escalationsTotal — количество эскалаций администраторам.
	escalationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_review_escalations_total",
		Help: "Общее количество эскалаций записей очереди администраторам",
	})
)

// Manager — менеджер очереди проверки.
type Manager struct {
	store      repository.Store
	docs       *service.DocumentService
	defaultSLA time.Duration
	threshold  int
	interval   time.Duration
	logger     *slog.Logger

	now    func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New создаёт менеджер очереди проверки.
// defaultSLA используется для проектов без собственного SLA;
// threshold — количество эскалаций до передачи администраторам;
// sweepInterval — период фонового sweep.
func New(
	store repository.Store,
	docs *service.DocumentService,
	defaultSLA time.Duration,
	threshold int,
	sweepInterval time.Duration,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		store:      store,
		docs:       docs,
		defaultSLA: defaultSLA,
		threshold:  threshold,
		interval:   sweepInterval,
		logger:     logger.With(slog.String("component", "review")),
		now:        time.Now,
	}
}

// Start запускает фоновый SLA sweep.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.logger.Info("SLA sweep запущен", slog.String("interval", m.interval.String()))
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("SLA sweep остановлен")
				return
			case <-ticker.C:
				m.SweepSLA(ctx, m.now().UTC())
				m.SweepAssignments(ctx, m.now().UTC())
			}
		}
	}()
}

// Stop останавливает фоновый sweep и дожидается его завершения.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Enqueue ставит документ в очередь проверки. Требуемая роль
// определяется грифом; дедлайн — SLA проекта либо значением по умолчанию.
// Документ с активной записью повторно не ставится.
func (m *Manager) Enqueue(ctx context.Context, doc *model.Document) (*model.ReviewQueueEntry, error) {
	role, err := rbac.RoleForClassification(doc.Classification)
	if err != nil {
		return nil, err
	}

	sla := m.defaultSLA
	if project, err := m.store.Projects().Get(ctx, doc.ProjectID); err == nil && project.SLADuration > 0 {
		sla = project.SLADuration
	}

	now := m.now().UTC()
	entry := &model.ReviewQueueEntry{
		ID:             uuid.New().String(),
		DocumentID:     doc.ID,
		Classification: doc.Classification,
		AssignedRole:   role,
		Status:         model.ReviewPending,
		EnqueuedAt:     now,
		DueAt:          now.Add(sla),
	}
	if err := m.store.Reviews().Create(ctx, entry); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// У документа уже есть активная запись
			return nil, service.ErrConflict
		}
		return nil, fmt.Errorf("ошибка постановки в очередь: %w", err)
	}

	enqueuedTotal.Inc()
	m.logger.Info("Документ поставлен в очередь проверки",
		slog.String("entry_id", entry.ID),
		slog.String("document_id", doc.ID),
		slog.String("assigned_role", string(role)),
		slog.Time("due_at", entry.DueAt),
	)
	return entry, nil
}

// Claim — взятие записи проверяющим. Запись достаётся ровно одному:
// CAS pending → claimed; проигравший получает ErrAlreadyClaimed.
// Документ переводится в IN_REVIEW; при сбое перехода claim откатывается.
func (m *Manager) Claim(ctx context.Context, actor *model.User, entryID string) (*model.ReviewQueueEntry, error) {
	if err := rbac.Authorize(actor, rbac.ActionClaimReview); err != nil {
		claimsTotal.WithLabelValues("forbidden").Inc()
		return nil, err
	}

	entry, err := m.store.Reviews().Get(ctx, entryID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	if !rbac.CanClaimAs(actor, entry.AssignedRole) {
		claimsTotal.WithLabelValues("forbidden").Inc()
		return nil, rbac.ErrForbidden
	}

	now := m.now().UTC()
	claimed, err := m.store.Reviews().Claim(ctx, entryID, actor.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyClaimed) {
			claimsTotal.WithLabelValues("already_claimed").Inc()
		}
		return nil, err
	}

	if _, err := m.docs.Transition(ctx, actor, claimed.DocumentID, model.StatusInReview, "", nil); err != nil {
		// Документ не готов к проверке — возвращаем запись в pending
		claimed.Status = model.ReviewPending
		claimed.ClaimedBy = ""
		claimed.ClaimedAt = nil
		if revertErr := m.store.Reviews().Update(ctx, claimed); revertErr != nil {
			m.logger.Error("Откат claim не удался",
				slog.String("entry_id", entryID),
				slog.String("error", revertErr.Error()),
			)
		}
		claimsTotal.WithLabelValues("transition_failed").Inc()
		return nil, err
	}

	claimsTotal.WithLabelValues("claimed").Inc()
	m.logger.Info("Запись очереди взята",
		slog.String("entry_id", entryID),
		slog.String("document_id", claimed.DocumentID),
		slog.String("claimed_by", actor.ID),
	)
	return claimed, nil
}

// Complete завершает проверку: CAS claimed → completed (только взявшим),
// документ переводится в REVIEWED_APPROVED с фиксацией проверяющего
// и его заметок. Непустой editedText заменяет распознанный текст и
// оставляет след в ManualEdits.
func (m *Manager) Complete(ctx context.Context, actor *model.User, entryID, notes, editedText string) (*model.ReviewQueueEntry, error) {
	if err := rbac.Authorize(actor, rbac.ActionCompleteReview); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	entry, err := m.store.Reviews().Complete(ctx, entryID, actor.ID, now)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	if _, err := m.docs.Transition(ctx, actor, entry.DocumentID, model.StatusReviewedApproved, "",
		func(d *model.Document) {
			d.ReviewedBy = actor.ID
			d.ReviewNotes = notes
			if editedText != "" && editedText != d.OCRText {
				d.OCRText = editedText
				d.ManualEdits = append(d.ManualEdits, model.ManualEdit{
					Editor:   actor.ID,
					EditedAt: now,
					Note:     notes,
				})
			}
		}); err != nil {
		// Запись возвращается в claimed: проверка не зафиксирована
		entry.Status = model.ReviewClaimed
		entry.CompletedAt = nil
		if revertErr := m.store.Reviews().Update(ctx, entry); revertErr != nil {
			m.logger.Error("Откат завершения проверки не удался",
				slog.String("entry_id", entryID),
				slog.String("error", revertErr.Error()),
			)
		}
		return nil, err
	}

	completionsTotal.Inc()
	m.recordAssignmentProgress(ctx, entry.DocumentID, actor.ID)
	m.logger.Info("Проверка завершена",
		slog.String("entry_id", entryID),
		slog.String("document_id", entry.DocumentID),
		slog.String("completed_by", actor.ID),
	)
	return entry, nil
}

// Reroute переводит активную запись документа на другую роль после
// переклассификации: старая запись помечается reassigned, создаётся
// новая со свежим дедлайном. Подключается к DocumentService.OnReclassify.
func (m *Manager) Reroute(ctx context.Context, doc *model.Document) {
	entry, err := m.store.Reviews().ActiveForDocument(ctx, doc.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			m.logger.Error("Reroute: ошибка поиска активной записи",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	role, err := rbac.RoleForClassification(doc.Classification)
	if err != nil {
		m.logger.Error("Reroute: недопустимый гриф",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if entry.AssignedRole == role {
		// Гриф сменился в пределах той же роли — запись остаётся
		return
	}

	entry.Status = model.ReviewReassigned
	entry.ClaimedBy = ""
	entry.ClaimedAt = nil
	if err := m.store.Reviews().Update(ctx, entry); err != nil {
		m.logger.Error("Reroute: ошибка отмены записи",
			slog.String("entry_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := m.Enqueue(ctx, doc); err != nil {
		m.logger.Error("Reroute: ошибка создания новой записи",
			slog.String("document_id", doc.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Info("Запись очереди перенаправлена",
		slog.String("document_id", doc.ID),
		slog.String("old_role", string(entry.AssignedRole)),
		slog.String("new_role", string(role)),
	)
}

// SweepSLA помечает просроченные активные записи и эскалирует их.
// Количество эскалаций выводится из прошедшего времени, поэтому
// повторный sweep не накручивает счётчик.
func (m *Manager) SweepSLA(ctx context.Context, now time.Time) {
	entries, err := m.store.Reviews().ListOverdue(ctx, now)
	if err != nil {
		m.logger.Error("SLA sweep: ошибка выборки просроченных записей",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, e := range entries {
		changed := false

		if !e.SLAViolated {
			e.SLAViolated = true
			slaViolationsTotal.Inc()
			changed = true
			m.logger.Warn("SLA проверки нарушен",
				slog.String("entry_id", e.ID),
				slog.String("document_id", e.DocumentID),
				slog.Time("due_at", e.DueAt),
			)
		}

		// Эскалация за каждый полный период SLA сверх дедлайна
		period := e.DueAt.Sub(e.EnqueuedAt)
		if period <= 0 {
			period = m.defaultSLA
		}
		escalations := 1 + int(now.Sub(e.DueAt)/period)
		if escalations > e.EscalationCount {
			e.EscalationCount = escalations
			changed = true
		}

		if e.EscalationCount >= m.threshold && !e.EscalatedToAdmin {
			e.EscalatedToAdmin = true
			escalationsTotal.Inc()
			changed = true
			m.logger.Warn("Запись очереди эскалирована администраторам",
				slog.String("entry_id", e.ID),
				slog.String("document_id", e.DocumentID),
				slog.Int("escalation_count", e.EscalationCount),
			)
		}

		if !changed {
			continue
		}
		if err := m.store.Reviews().Update(ctx, e); err != nil {
			m.logger.Error("SLA sweep: ошибка сохранения записи",
				slog.String("entry_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SweepAssignments переводит просроченные активные назначения в overdue.
// Только sweep меняет этот статус, действия пользователей — нет.
func (m *Manager) SweepAssignments(ctx context.Context, now time.Time) {
	assignments, err := m.store.Assignments().ListActiveOverdue(ctx, now)
	if err != nil {
		m.logger.Error("Sweep назначений: ошибка выборки",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, a := range assignments {
		a.Status = model.AssignmentOverdue
		a.UpdatedAt = now
		if err := m.store.Assignments().Update(ctx, a); err != nil {
			m.logger.Error("Sweep назначений: ошибка сохранения",
				slog.String("assignment_id", a.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.Warn("Назначение просрочено",
			slog.String("assignment_id", a.ID),
			slog.String("assignee_id", a.AssigneeID),
			slog.Time("due_at", a.DueAt),
		)
	}
}

// CreateAssignment выдаёт пакет документов исполнителю.
func (m *Manager) CreateAssignment(
	ctx context.Context,
	actor *model.User,
	assigneeID string,
	documentIDs []string,
	dueAt time.Time,
) (*model.Assignment, error) {
	if err := rbac.Authorize(actor, rbac.ActionManageAssignments); err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		return nil, fmt.Errorf("%w: назначение без документов", service.ErrValidation)
	}
	if _, err := m.store.Users().Get(ctx, assigneeID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("исполнитель %s: %w", assigneeID, service.ErrNotFound)
		}
		return nil, err
	}

	now := m.now().UTC()
	assignment := &model.Assignment{
		ID:            uuid.New().String(),
		AssigneeID:    assigneeID,
		DocumentIDs:   append([]string(nil), documentIDs...),
		DocumentCount: len(documentIDs),
		Status:        model.AssignmentActive,
		DueAt:         dueAt,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Assignments().Create(ctx, assignment); err != nil {
		return nil, fmt.Errorf("ошибка создания назначения: %w", err)
	}

	m.logger.Info("Назначение создано",
		slog.String("assignment_id", assignment.ID),
		slog.String("assignee_id", assigneeID),
		slog.Int("documents", len(documentIDs)),
		slog.String("created_by", actor.ID),
	)
	return assignment, nil
}

// GetAssignment возвращает назначение по ID.
func (m *Manager) GetAssignment(ctx context.Context, actor *model.User, id string) (*model.Assignment, error) {
	if err := rbac.Authorize(actor, rbac.ActionViewDocuments); err != nil {
		return nil, err
	}
	a, err := m.store.Assignments().Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

// recordAssignmentProgress увеличивает прогресс активных назначений
// исполнителя, содержащих документ. Просроченные назначения прогресс
// не теряют, но в active не возвращаются.
func (m *Manager) recordAssignmentProgress(ctx context.Context, documentID, userID string) {
	assignments, err := m.store.Assignments().List(ctx)
	if err != nil {
		m.logger.Error("Прогресс назначений: ошибка выборки",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, a := range assignments {
		if a.AssigneeID != userID || a.Status == model.AssignmentCompleted {
			continue
		}
		if !containsID(a.DocumentIDs, documentID) {
			continue
		}
		if a.CompletedCount >= a.DocumentCount {
			continue
		}
		a.CompletedCount++
		if a.CompletedCount == a.DocumentCount && a.Status == model.AssignmentActive {
			a.Status = model.AssignmentCompleted
		}
		a.UpdatedAt = m.now().UTC()
		if err := m.store.Assignments().Update(ctx, a); err != nil {
			m.logger.Error("Прогресс назначений: ошибка сохранения",
				slog.String("assignment_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ListQueue возвращает записи очереди, видимые пользователю:
// администратору — все, остальным — pending для их ролей и свои claimed.
func (m *Manager) ListQueue(ctx context.Context, actor *model.User) ([]*model.ReviewQueueEntry, error) {
	if err := rbac.Authorize(actor, rbac.ActionClaimReview); err != nil {
		return nil, err
	}
	entries, err := m.store.Reviews().List(ctx)
	if err != nil {
		return nil, err
	}
	if actor.HasRole(model.RoleAdmin) {
		return entries, nil
	}
	visible := make([]*model.ReviewQueueEntry, 0, len(entries))
	for _, e := range entries {
		switch {
		case e.Status == model.ReviewPending && actor.HasRole(e.AssignedRole):
			visible = append(visible, e)
		case e.ClaimedBy == actor.ID:
			visible = append(visible, e)
		}
	}
	return visible, nil
}

func containsID(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
