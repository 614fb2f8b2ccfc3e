// Пакет orchestrator — оркестрация пакетных заданий распознавания.
//
// Оркестратор принимает задания, публикует единицы работы в очередь,
// принимает отчёты воркеров и сводит прогресс задания (reconciliation).
// Отчёты идемпотентны: повторный отчёт по документу с терминальным
// исходом OCR игнорируется, прогресс не искажается. Транзиентные сбои
// повторяются с экспоненциальным backoff до лимита; исчерпание лимита
// переводит документ в OCR_FAILED, не прерывая задание.
package orchestrator

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

	"github.com/bigkaa/docflow/internal/domain/lifecycle"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/domain/rbac"
	"github.com/bigkaa/docflow/internal/ocr"
	"github.com/bigkaa/docflow/internal/queue"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/service"
)

// Prometheus метрики оркестратора
var (
	// jobsSubmittedTotal — количество принятых заданий.
	jobsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_ocr_jobs_submitted_total",
		Help: "Общее количество принятых заданий распознавания",
	})

	// jobsFinishedTotal — количество завершённых заданий по статусу.
	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_ocr_jobs_finished_total",
		Help: "Общее количество завершённых заданий распознавания",
	}, []string{"status"})

	// documentsTotal — количество документов с терминальным исходом OCR.
	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_ocr_documents_total",
		Help: "Общее количество документов с терминальным исходом распознавания",
	}, []string{"outcome"})

	// retriesTotal — количество запланированных повторов.
	retriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_ocr_retries_total",
		Help: "Общее количество запланированных повторов распознавания",
	})
)

// Ошибки оркестратора.
var (
	// ErrEmptyJob — задание без документов.
	ErrEmptyJob = errors.New("задание не содержит документов")
	// ErrJobNotPausable — задание не в статусе, допускающем паузу/возобновление.
	ErrJobNotPausable = errors.New("задание не допускает изменение паузы")
)

// Orchestrator — оркестратор заданий распознавания.
type Orchestrator struct {
	store      repository.Store
	docs       *service.DocumentService
	queue      *queue.Queue
	retryLimit int
	backoff    time.Duration
	logger     *slog.Logger

	// jobMu сериализует reconciliation одного задания
	jobMu sync.Mutex
	now   func() time.Time

	// OnProcessed вызывается после фиксации успешного распознавания —
	// менеджер очереди проверки ставит документ на проверку.
	OnProcessed func(ctx context.Context, doc *model.Document)
}

// New создаёт оркестратор.
func New(
	store repository.Store,
	docs *service.DocumentService,
	q *queue.Queue,
	retryLimit int,
	backoff time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		docs:       docs,
		queue:      q,
		retryLimit: retryLimit,
		backoff:    backoff,
		logger:     logger.With(slog.String("component", "orchestrator")),
		now:        time.Now,
	}
}

// Submit принимает пакетное задание распознавания: проверяет права и
// классификацию всех документов, создаёт задание и публикует по одной
// единице работы на документ.
func (o *Orchestrator) Submit(
	ctx context.Context,
	actor *model.User,
	documentIDs []string,
	settings model.OCRSettings,
	provider string,
) (*model.OCRJob, error) {
	if err := rbac.Authorize(actor, rbac.ActionSubmitOCR); err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		return nil, ErrEmptyJob
	}

	// Все документы проверяются до каких-либо мутаций:
	// неклассифицированный документ отклоняет задание целиком
	for _, id := range documentIDs {
		doc, err := o.store.Documents().Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("документ %s: %w", id, service.ErrNotFound)
			}
			return nil, err
		}
		if err := lifecycle.Guard(doc.Status, model.StatusOCRProcessing, doc.Classified()); err != nil {
			return nil, fmt.Errorf("документ %s: %w", id, err)
		}
	}

	now := o.now().UTC()
	job := &model.OCRJob{
		ID:          uuid.New().String(),
		DocumentIDs: append([]string(nil), documentIDs...),
		Provider:    provider,
		Settings:    settings,
		Status:      model.JobProcessing,
		Progress:    model.JobProgress{Current: 0, Total: len(documentIDs)},
		SubmittedBy: actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.Jobs().Create(ctx, job); err != nil {
		return nil, fmt.Errorf("ошибка создания задания: %w", err)
	}

	for _, id := range documentIDs {
		if _, err := o.docs.Transition(ctx, actor, id, model.StatusOCRProcessing, "",
			func(d *model.Document) {
				d.OCRStatus = model.OCRStatusPending
			}); err != nil {
			// Проверено выше; гонка со встречным переходом — документ
			// выбывает из задания как failed
			o.logger.Error("Документ не переведён в OCR_PROCESSING",
				slog.String("job_id", job.ID),
				slog.String("document_id", id),
				slog.String("error", err.Error()),
			)
			o.reconcile(ctx, job.ID, id, false)
			continue
		}
		o.queue.Publish(queue.Unit{JobID: job.ID, DocumentID: id, Attempt: 0})
	}

	jobsSubmittedTotal.Inc()
	o.logger.Info("Задание распознавания принято",
		slog.String("job_id", job.ID),
		slog.Int("documents", len(documentIDs)),
		slog.String("provider", provider),
		slog.String("submitted_by", actor.ID),
	)
	return job, nil
}

// Report принимает отчёт воркера по единице работы.
// Реализует worker.Reporter.
func (o *Orchestrator) Report(ctx context.Context, u queue.Unit, settings ocr.Settings, res ocr.Result, recErr error) {
	doc, err := o.store.Documents().Get(ctx, u.DocumentID)
	if err != nil {
		o.logger.Error("Отчёт по неизвестному документу",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}

	// Идемпотентность: терминальный исход уже зафиксирован —
	// повторная доставка (at-least-once) игнорируется
	if doc.OCRStatus == model.OCRStatusDone || doc.OCRStatus == model.OCRStatusFailed {
		o.logger.Debug("Повторный отчёт проигнорирован",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
		)
		return
	}

	if recErr == nil {
		o.applySuccess(ctx, u, res)
		return
	}
	o.applyFailure(ctx, u, recErr)
}

func (o *Orchestrator) applySuccess(ctx context.Context, u queue.Unit, res ocr.Result) {
	doc, err := o.docs.SystemTransition(ctx, u.DocumentID, model.StatusOCRProcessed, "распознавание завершено",
		func(d *model.Document) {
			d.OCRStatus = model.OCRStatusDone
			d.OCRText = res.Text
			d.OCRConfidence = res.Confidence
		})
	if err != nil {
		o.logger.Error("Не удалось зафиксировать успех распознавания",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}
	documentsTotal.WithLabelValues("done").Inc()
	o.reconcile(ctx, u.JobID, u.DocumentID, true)
	if o.OnProcessed != nil {
		o.OnProcessed(ctx, doc)
	}
}

func (o *Orchestrator) applyFailure(ctx context.Context, u queue.Unit, recErr error) {
	nextAttempt := u.Attempt + 1
	if ocr.IsTransient(recErr) && nextAttempt <= o.retryLimit {
		// Экспоненциальный backoff: base * 2^attempt
		delay := o.backoff << uint(u.Attempt)
		o.bumpRetryCount(ctx, u.DocumentID)
		o.queue.PublishAfter(queue.Unit{
			JobID:      u.JobID,
			DocumentID: u.DocumentID,
			Attempt:    nextAttempt,
		}, delay)
		retriesTotal.Inc()
		o.logger.Info("Повтор распознавания запланирован",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
			slog.Int("attempt", nextAttempt),
			slog.String("delay", delay.String()),
		)
		return
	}

	_, err := o.docs.SystemTransition(ctx, u.DocumentID, model.StatusOCRFailed, "лимит повторов исчерпан",
		func(d *model.Document) {
			d.OCRStatus = model.OCRStatusFailed
		})
	if err != nil {
		o.logger.Error("Не удалось зафиксировать сбой распознавания",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
			slog.String("error", err.Error()),
		)
		return
	}
	documentsTotal.WithLabelValues("failed").Inc()
	o.reconcile(ctx, u.JobID, u.DocumentID, false)
}

// bumpRetryCount увеличивает счётчик повторов документа.
// Не является переходом статуса: документ остаётся в OCR_PROCESSING.
func (o *Orchestrator) bumpRetryCount(ctx context.Context, documentID string) {
	doc, err := o.store.Documents().Get(ctx, documentID)
	if err != nil {
		return
	}
	doc.OCRRetryCount++
	doc.UpdatedAt = o.now().UTC()
	if err := o.store.Documents().Update(ctx, doc); err != nil {
		o.logger.Warn("Не удалось обновить счётчик повторов",
			slog.String("document_id", documentID),
			slog.String("error", err.Error()),
		)
	}
}

// reconcile сводит прогресс задания после терминального исхода документа.
// Завершение задания: COMPLETED, если хотя бы один документ распознан;
// FAILED — только если все документы исчерпали лимит повторов.
func (o *Orchestrator) reconcile(ctx context.Context, jobID, documentID string, success bool) {
	o.jobMu.Lock()
	defer o.jobMu.Unlock()

	job, err := o.store.Jobs().Get(ctx, jobID)
	if err != nil {
		o.logger.Error("Reconciliation: задание не найдено",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if job.Status.Terminal() {
		return
	}

	job.Progress.Current++
	if !success {
		job.FailedCount++
	}
	now := o.now().UTC()
	job.UpdatedAt = now

	if job.Progress.Current >= job.Progress.Total {
		if job.FailedCount >= job.Progress.Total {
			job.Status = model.JobFailed
		} else {
			job.Status = model.JobCompleted
		}
		job.CompletedAt = &now
		jobsFinishedTotal.WithLabelValues(string(job.Status)).Inc()
	}

	if err := o.store.Jobs().Update(ctx, job); err != nil {
		o.logger.Error("Reconciliation: ошибка сохранения задания",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if job.Status.Terminal() {
		o.queue.Drop(jobID)
		o.logger.Info("Задание распознавания завершено",
			slog.String("job_id", jobID),
			slog.String("status", string(job.Status)),
			slog.Int("failed", job.FailedCount),
			slog.Int("total", job.Progress.Total),
		)
	}
}

// Pause приостанавливает выдачу единиц работы задания.
// Уже выданные единицы дорабатываются воркерами.
func (o *Orchestrator) Pause(ctx context.Context, actor *model.User, jobID string) (*model.OCRJob, error) {
	return o.setPaused(ctx, actor, jobID, true)
}

// Resume возобновляет выдачу единиц работы задания.
func (o *Orchestrator) Resume(ctx context.Context, actor *model.User, jobID string) (*model.OCRJob, error) {
	return o.setPaused(ctx, actor, jobID, false)
}

func (o *Orchestrator) setPaused(ctx context.Context, actor *model.User, jobID string, paused bool) (*model.OCRJob, error) {
	if err := rbac.Authorize(actor, rbac.ActionPauseJob); err != nil {
		return nil, err
	}

	o.jobMu.Lock()
	defer o.jobMu.Unlock()

	job, err := o.store.Jobs().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}

	switch {
	case paused && job.Status != model.JobProcessing:
		return nil, ErrJobNotPausable
	case !paused && job.Status != model.JobPaused:
		return nil, ErrJobNotPausable
	}

	if paused {
		job.Status = model.JobPaused
		o.queue.Pause(jobID)
	} else {
		job.Status = model.JobProcessing
		o.queue.Resume(jobID)
	}
	job.UpdatedAt = o.now().UTC()

	if err := o.store.Jobs().Update(ctx, job); err != nil {
		return nil, fmt.Errorf("ошибка сохранения задания: %w", err)
	}

	o.logger.Info("Статус задания изменён",
		slog.String("job_id", jobID),
		slog.String("status", string(job.Status)),
		slog.String("actor", actor.ID),
	)
	return job, nil
}

// GetJob возвращает задание по ID.
func (o *Orchestrator) GetJob(ctx context.Context, actor *model.User, jobID string) (*model.OCRJob, error) {
	if err := rbac.Authorize(actor, rbac.ActionViewDocuments); err != nil {
		return nil, err
	}
	job, err := o.store.Jobs().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, service.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// SettingsFor возвращает настройки распознавания задания.
// Реализует worker.SettingsResolver.
func (o *Orchestrator) SettingsFor(ctx context.Context, jobID string) (ocr.Settings, error) {
	job, err := o.store.Jobs().Get(ctx, jobID)
	if err != nil {
		return ocr.Settings{}, err
	}
	return ocr.Settings{
		LanguageHints: job.Settings.LanguageHints,
		DPI:           job.Settings.DPI,
	}, nil
}
