// Пакет service — бизнес-логика DocFlow: переходы жизненного цикла
// документов, классификация, admin override и экспорт.
//
// Каждая мутация документа атомарна с записью аудита: запись аудита
// открывается до мутации (pending) и подтверждается после успешного
// сохранения; при сбое сохранения — откатывается. Переходы одного
// документа сериализуются полосатым мьютексом.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/audit"
	"github.com/bigkaa/docflow/internal/domain/lifecycle"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/repository"
)

// Prometheus метрики переходов
var (
	// transitionsTotal — количество успешных переходов по целевому статусу.
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_document_transitions_total",
		Help: "Общее количество успешных переходов документов",
	}, []string{"target"})

	// transitionsDeniedTotal — количество отклонённых переходов по коду.
	transitionsDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_document_transitions_denied_total",
		Help: "Общее количество отклонённых переходов документов",
	}, []string{"code"})
)

// SystemActor — идентификатор инициатора системных переходов (исходы OCR).
const SystemActor = "system"

// Exporter — клиент внешней архивной системы.
type Exporter interface {
	// Export выгружает документ и возвращает внешний идентификатор.
	Export(ctx context.Context, doc *model.Document) (string, error)
}

// DocumentService — сервис жизненного цикла документов.
type DocumentService struct {
	store    repository.Store
	audit    *audit.Logger
	cache    *DocumentCache
	exporter Exporter
	logger   *slog.Logger

	locks keyedMutex
	now   func() time.Time

	// OnReclassify вызывается после смены грифа через admin override
	// (перемаршрутизация активной записи очереди проверки).
	OnReclassify func(ctx context.Context, doc *model.Document)
}

// NewDocumentService создаёт сервис документов.
// exporter может быть nil — тогда операция экспорта отклоняется.
func NewDocumentService(
	store repository.Store,
	auditLog *audit.Logger,
	cache *DocumentCache,
	exporter Exporter,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		store:    store,
		audit:    auditLog,
		cache:    cache,
		exporter: exporter,
		logger:   logger.With(slog.String("component", "document-service")),
		now:      time.Now,
	}
}

// Transition выполняет пользовательский переход документа в target.
// mutate — дополнительная мутация документа в рамках той же записи
// аудита (например, заметки проверяющего); может быть nil.
func (s *DocumentService) Transition(
	ctx context.Context,
	actor *model.User,
	docID string,
	target model.DocumentStatus,
	reason string,
	mutate func(d *model.Document),
) (*model.Document, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: инициатор не задан", ErrValidation)
	}
	return s.transition(ctx, actor, actor.ID, docID, target, reason, "document.transition", false, mutate)
}

// SystemTransition выполняет системный переход (исход OCR) без инициатора.
func (s *DocumentService) SystemTransition(
	ctx context.Context,
	docID string,
	target model.DocumentStatus,
	reason string,
	mutate func(d *model.Document),
) (*model.Document, error) {
	return s.transition(ctx, nil, SystemActor, docID, target, reason, "document.transition", false, mutate)
}

func (s *DocumentService) transition(
	ctx context.Context,
	actor *model.User,
	actorID string,
	docID string,
	target model.DocumentStatus,
	reason string,
	auditAction string,
	override bool,
	mutate func(d *model.Document),
) (*model.Document, error) {
	unlock := s.locks.Lock(docID)
	defer unlock()

	doc, err := s.store.Documents().Get(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if override {
		if err := lifecycle.GuardOverride(target); err != nil {
			transitionsDeniedTotal.WithLabelValues(transitionCode(err)).Inc()
			return nil, err
		}
	} else {
		if err := lifecycle.GuardActor(actor, target); err != nil {
			transitionsDeniedTotal.WithLabelValues(transitionCode(err)).Inc()
			return nil, err
		}
		if err := lifecycle.Guard(doc.Status, target, doc.Classified()); err != nil {
			transitionsDeniedTotal.WithLabelValues(transitionCode(err)).Inc()
			return nil, err
		}
	}

	now := s.now().UTC()
	tx, err := s.audit.Begin(model.AuditLogEntry{
		Actor:        actorID,
		Action:       auditAction,
		ResourceType: "document",
		ResourceID:   docID,
		Detail: map[string]string{
			"from":   string(doc.Status),
			"to":     string(target),
			"reason": reason,
		},
		Sensitive: override,
		Timestamp: now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	// Снимок для компенсации: мутация без закоммиченной записи
	// аудита недопустима
	prev := *doc
	prev.StatusHistory = append([]model.StatusChange(nil), doc.StatusHistory...)

	doc.Status = target
	doc.StatusHistory = append(doc.StatusHistory, model.StatusChange{
		Status:    target,
		Actor:     actorID,
		Timestamp: now,
		Reason:    reason,
	})
	doc.UpdatedAt = now
	if target == model.StatusFinalApproved {
		doc.FinalApprovedBy = actorID
		doc.FinalApprovedAt = &now
	}
	if mutate != nil {
		mutate(doc)
	}

	if err := s.store.Documents().Update(ctx, doc); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Ошибка отката записи аудита",
				slog.String("document_id", docID),
				slog.String("error", rbErr.Error()),
			)
		}
		return nil, fmt.Errorf("ошибка сохранения документа: %w", err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Ошибка подтверждения записи аудита",
			slog.String("document_id", docID),
			slog.String("error", err.Error()),
		)
		if rvErr := s.store.Documents().Update(ctx, &prev); rvErr != nil {
			s.logger.Error("Ошибка возврата документа после сбоя журнала аудита",
				slog.String("document_id", docID),
				slog.String("error", rvErr.Error()),
			)
		}
		s.cache.Delete(docID)
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	s.cache.Delete(docID)
	s.recomputeCounters(ctx, doc.ProjectID, now)
	transitionsTotal.WithLabelValues(string(target)).Inc()

	s.logger.Info("Переход документа выполнен",
		slog.String("document_id", docID),
		slog.String("target", string(target)),
		slog.String("actor", actorID),
	)
	return doc, nil
}

// recomputeCounters пересчитывает счётчики проекта из фактических
// статусов документов. Счётчики никогда не инкрементируются.
func (s *DocumentService) recomputeCounters(ctx context.Context, projectID string, now time.Time) {
	project, err := s.store.Projects().Get(ctx, projectID)
	if err != nil {
		s.logger.Warn("Пересчёт счётчиков: проект не найден",
			slog.String("project_id", projectID),
		)
		return
	}
	docs, err := s.store.Documents().ListByProject(ctx, projectID)
	if err != nil {
		s.logger.Error("Пересчёт счётчиков: ошибка чтения документов",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		return
	}
	project.Counters = model.RecomputeCounters(docs)
	project.UpdatedAt = now
	if err := s.store.Projects().Update(ctx, project); err != nil {
		s.logger.Error("Пересчёт счётчиков: ошибка сохранения проекта",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
	}
}

// Classify присваивает документу гриф и переводит его в CLASSIFIED_*.
// Гриф неизменяем через штатный поток: повторная классификация отклоняется.
func (s *DocumentService) Classify(
	ctx context.Context,
	actor *model.User,
	docID string,
	classification model.Classification,
) (*model.Document, error) {
	if actor == nil {
		return nil, fmt.Errorf("%w: инициатор не задан", ErrValidation)
	}
	target, err := lifecycle.StatusForClassification(classification)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return s.transition(ctx, actor, actor.ID, docID, target, "классификация", "document.classify", false,
		func(d *model.Document) {
			d.Classification = classification
		})
}

// AdminOverride переводит документ в произвольный валидный статус в обход
// матрицы переходов. Причина обязательна; запись аудита помечается sensitive.
func (s *DocumentService) AdminOverride(
	ctx context.Context,
	actor *model.User,
	docID string,
	target model.DocumentStatus,
	reason string,
) (*model.Document, error) {
	if err := rbac.Authorize(actor, rbac.ActionOverrideState); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	return s.transition(ctx, actor, actor.ID, docID, target, reason, "document.override", true, nil)
}

// Reclassify меняет гриф документа через admin override.
// Активная запись очереди проверки перемаршрутизируется через OnReclassify.
func (s *DocumentService) Reclassify(
	ctx context.Context,
	actor *model.User,
	docID string,
	classification model.Classification,
	reason string,
) (*model.Document, error) {
	if err := rbac.Authorize(actor, rbac.ActionOverrideState); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if !model.IsValidClassification(classification) {
		return nil, fmt.Errorf("%w: недопустимый гриф %q", ErrValidation, classification)
	}

	unlock := s.locks.Lock(docID)

	doc, err := s.store.Documents().Get(ctx, docID)
	if err != nil {
		unlock()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := s.now().UTC()
	tx, err := s.audit.Begin(model.AuditLogEntry{
		Actor:        actor.ID,
		Action:       "document.reclassify",
		ResourceType: "document",
		ResourceID:   docID,
		Detail: map[string]string{
			"from":   string(doc.Classification),
			"to":     string(classification),
			"reason": reason,
		},
		Sensitive: true,
		Timestamp: now,
	})
	if err != nil {
		unlock()
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	// Снимок для компенсации при сбое подтверждения записи аудита
	prev := *doc

	doc.Classification = classification
	doc.UpdatedAt = now

	if err := s.store.Documents().Update(ctx, doc); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Ошибка отката записи аудита",
				slog.String("document_id", docID),
				slog.String("error", rbErr.Error()),
			)
		}
		unlock()
		return nil, fmt.Errorf("ошибка сохранения документа: %w", err)
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("Ошибка подтверждения записи аудита",
			slog.String("document_id", docID),
			slog.String("error", err.Error()),
		)
		if rvErr := s.store.Documents().Update(ctx, &prev); rvErr != nil {
			s.logger.Error("Ошибка возврата документа после сбоя журнала аудита",
				slog.String("document_id", docID),
				slog.String("error", rvErr.Error()),
			)
		}
		s.cache.Delete(docID)
		unlock()
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}
	s.cache.Delete(docID)
	unlock()

	if s.OnReclassify != nil {
		s.OnReclassify(ctx, doc)
	}

	s.logger.Info("Гриф документа изменён через override",
		slog.String("document_id", docID),
		slog.String("classification", string(classification)),
		slog.String("actor", actor.ID),
	)
	return doc, nil
}

// Export выгружает финально одобренный документ во внешнюю архивную
// систему и переводит его в EXPORTED с сохранением внешнего идентификатора.
func (s *DocumentService) Export(ctx context.Context, actor *model.User, docID string) (*model.Document, error) {
	if err := rbac.Authorize(actor, rbac.ActionExport); err != nil {
		return nil, err
	}
	if s.exporter == nil {
		return nil, ErrExportDisabled
	}

	doc, err := s.store.Documents().Get(ctx, docID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	// Выгрузка до перехода: при сбое внешней системы статус не меняется
	if err := lifecycle.Guard(doc.Status, model.StatusExported, doc.Classified()); err != nil {
		return nil, err
	}

	ref, err := s.exporter.Export(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExportUnavailable, err)
	}

	return s.transition(ctx, actor, actor.ID, docID, model.StatusExported, "экспорт", "document.export", false,
		func(d *model.Document) {
			exportedAt := s.now().UTC()
			d.ExportedAt = &exportedAt
			d.ExportRef = ref
		})
}

// GetDocument возвращает документ с учётом уровня доступа пользователя.
func (s *DocumentService) GetDocument(ctx context.Context, actor *model.User, docID string) (*model.Document, error) {
	if err := rbac.Authorize(actor, rbac.ActionViewDocuments); err != nil {
		return nil, err
	}

	doc, ok := s.cache.Get(docID)
	if !ok {
		var err error
		doc, err = s.store.Documents().Get(ctx, docID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		s.cache.Set(docID, doc)
	}

	// Недоступный документ неотличим от несуществующего
	if !rbac.CanSeeDocument(actor, doc) {
		return nil, ErrNotFound
	}
	return doc, nil
}

// ListProjectDocuments возвращает документы проекта, отфильтрованные
// по уровню доступа. Запрет доступа — явная ошибка, не пустой список.
func (s *DocumentService) ListProjectDocuments(ctx context.Context, actor *model.User, projectID string) ([]*model.Document, error) {
	if err := rbac.Authorize(actor, rbac.ActionViewDocuments); err != nil {
		return nil, err
	}
	docs, err := s.store.Documents().ListByProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return rbac.FilterDocuments(actor, docs)
}

// AuditTrail возвращает записи аудита ресурса. Только для администраторов.
func (s *DocumentService) AuditTrail(actor *model.User, resourceID string) ([]model.AuditLogEntry, error) {
	if actor == nil || !actor.HasRole(model.RoleAdmin) {
		return nil, rbac.ErrForbidden
	}
	return s.audit.EntriesFor(resourceID), nil
}

// transitionCode извлекает код TransitionError для метрики.
func transitionCode(err error) string {
	var te *lifecycle.TransitionError
	if errors.As(err, &te) {
		return te.Code
	}
	return "UNKNOWN"
}
