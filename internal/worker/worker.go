// Пакет worker — пул воркеров распознавания.
//
// Воркер в цикле берёт единицу работы из очереди, получает байты файла,
// вызывает OCR-провайдер и отдаёт результат оркестратору. Подтверждение
// единицы (Ack) выполняется после отчёта: упавший воркер не теряет
// работу — очередь вернёт единицу по visibility timeout.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/ocr"
	"github.com/bigkaa/docflow/internal/queue"
)

// Prometheus метрики воркеров
var (
	// unitsProcessedTotal — количество обработанных единиц по исходу.
	unitsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_worker_units_processed_total",
		Help: "Общее количество обработанных единиц работы",
	}, []string{"outcome"})
)

// FileFetcher — доступ к байтам файла документа.
// Реализация разрешает documentID в ссылку на файл и читает его
// из внешнего хранилища.
type FileFetcher interface {
	Fetch(ctx context.Context, documentID string) ([]byte, error)
}

// Reporter — приёмник результатов распознавания (оркестратор).
type Reporter interface {
	// Report принимает исход обработки единицы: результат или ошибку.
	Report(ctx context.Context, u queue.Unit, settings ocr.Settings, res ocr.Result, recErr error)
}

// SettingsResolver — источник настроек распознавания задания.
type SettingsResolver interface {
	SettingsFor(ctx context.Context, jobID string) (ocr.Settings, error)
}

// Pool — пул воркеров распознавания.
type Pool struct {
	queue    *queue.Queue
	fetcher  FileFetcher
	provider ocr.Provider
	reporter Reporter
	resolver SettingsResolver
	workers  int
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool создаёт пул из workers воркеров.
func NewPool(
	q *queue.Queue,
	fetcher FileFetcher,
	provider ocr.Provider,
	reporter Reporter,
	resolver SettingsResolver,
	workers int,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		queue:    q,
		fetcher:  fetcher,
		provider: provider,
		reporter: reporter,
		resolver: resolver,
		workers:  workers,
		logger:   logger.With(slog.String("component", "worker-pool")),
	}
}

// Start запускает воркеры.
func (p *Pool) Start(ctx context.Context) {
	pCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(pCtx, i)
	}

	p.logger.Info("Пул воркеров запущен",
		slog.Int("workers", p.workers),
		slog.String("provider", p.provider.Name()),
	)
}

// Stop останавливает воркеры и дожидается завершения текущих единиц.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("Пул воркеров остановлен")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))

	for {
		u, err := p.queue.Pull(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("Ошибка получения единицы работы", slog.String("error", err.Error()))
			continue
		}

		p.process(ctx, logger, u)
	}
}

// process обрабатывает одну единицу: файл → провайдер → отчёт → Ack.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, u queue.Unit) {
	settings, err := p.resolver.SettingsFor(ctx, u.JobID)
	if err != nil {
		logger.Error("Не удалось получить настройки задания",
			slog.String("job_id", u.JobID),
			slog.String("error", err.Error()),
		)
		unitsProcessedTotal.WithLabelValues("error").Inc()
		p.reporter.Report(ctx, u, ocr.Settings{}, ocr.Result{},
			&ocr.ProviderError{Provider: p.provider.Name(), Err: err})
		p.queue.Ack(u)
		return
	}

	res, recErr := p.recognize(ctx, u, settings)
	if recErr != nil {
		unitsProcessedTotal.WithLabelValues("error").Inc()
		logger.Warn("Сбой распознавания",
			slog.String("job_id", u.JobID),
			slog.String("document_id", u.DocumentID),
			slog.Int("attempt", u.Attempt),
			slog.String("error", recErr.Error()),
		)
	} else {
		unitsProcessedTotal.WithLabelValues("ok").Inc()
	}

	p.reporter.Report(ctx, u, settings, res, recErr)
	p.queue.Ack(u)
}

func (p *Pool) recognize(ctx context.Context, u queue.Unit, settings ocr.Settings) (ocr.Result, error) {
	image, err := p.fetcher.Fetch(ctx, u.DocumentID)
	if err != nil {
		// Недоступность файла — транзиентный сбой, подлежит повтору
		return ocr.Result{}, &ocr.ProviderError{Provider: p.provider.Name(), Err: err}
	}
	return p.provider.Recognize(ctx, image, settings)
}
