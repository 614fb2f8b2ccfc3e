// Пакет queue — in-memory очередь единиц работы распознавания
// с семантикой at-least-once.
//
// Единица работы — пара (задание, документ). Взятая воркером единица
// становится inflight; если воркер не подтвердил её за visibility
// timeout (упал, завис), фоновый sweep возвращает единицу в очередь.
// Отложенные единицы (повтор с backoff) публикуются через PublishAfter.
// Пауза задания блокирует выдачу его единиц, не удаляя их из очереди.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus метрики очереди
var (
	// queuePublishedTotal — количество опубликованных единиц работы.
	queuePublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_queue_published_total",
		Help: "Общее количество опубликованных единиц работы",
	})

	// queueRedeliveredTotal — количество повторных доставок по visibility timeout.
	queueRedeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_queue_redelivered_total",
		Help: "Общее количество повторных доставок по visibility timeout",
	})

	// queueDepth — текущая глубина очереди (готовые к выдаче единицы).
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "df_queue_depth",
		Help: "Текущее количество единиц работы, готовых к выдаче",
	})
)

// Unit — единица работы распознавания: один документ одного задания.
type Unit struct {
	// JobID — UUID задания
	JobID string
	// DocumentID — UUID документа
	DocumentID string
	// Attempt — номер попытки (0 — первая)
	Attempt int
}

// unitKey — ключ единицы в inflight-таблице.
type unitKey struct {
	jobID      string
	documentID string
}

// inflightUnit — выданная воркеру единица с дедлайном подтверждения.
type inflightUnit struct {
	unit     Unit
	deadline time.Time
}

// delayedUnit — отложенная единица (повтор с backoff).
type delayedUnit struct {
	unit  Unit
	dueAt time.Time
}

// Queue — in-memory очередь единиц работы.
type Queue struct {
	visibility time.Duration
	poll       time.Duration
	logger     *slog.Logger

	mu       sync.Mutex
	ready    []Unit
	inflight map[unitKey]inflightUnit
	delayed  []delayedUnit
	paused   map[string]bool

	// notify будит заблокированные Pull при появлении работы
	notify chan struct{}
	cancel context.CancelFunc
}

// New создаёт очередь с заданным visibility timeout.
// poll — интервал перепроверки очереди заблокированным Pull
// (страховка на случай пропущенной побудки); неположительный — 500ms.
func New(visibility, poll time.Duration, logger *slog.Logger) *Queue {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Queue{
		visibility: visibility,
		poll:       poll,
		logger:     logger.With(slog.String("component", "queue")),
		inflight:   make(map[unitKey]inflightUnit),
		paused:     make(map[string]bool),
		notify:     make(chan struct{}, 1),
	}
}

// Start запускает фоновую горутину sweep: возврат просроченных inflight
// и продвижение отложенных единиц. Интервал — четверть visibility timeout.
func (q *Queue) Start(ctx context.Context) {
	qCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	go q.run(qCtx)

	q.logger.Info("Очередь запущена",
		slog.String("visibility_timeout", q.visibility.String()),
	)
}

// Stop останавливает фоновую горутину очереди.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.logger.Info("Очередь остановлена")
}

func (q *Queue) run(ctx context.Context) {
	interval := q.visibility / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Sweep(time.Now())
		}
	}
}

// Publish кладёт единицу работы в очередь.
func (q *Queue) Publish(u Unit) {
	q.mu.Lock()
	q.ready = append(q.ready, u)
	queueDepth.Set(float64(len(q.ready)))
	q.mu.Unlock()

	queuePublishedTotal.Inc()
	q.wake()
}

// PublishAfter кладёт единицу работы с задержкой (повтор с backoff).
func (q *Queue) PublishAfter(u Unit, delay time.Duration) {
	q.mu.Lock()
	q.delayed = append(q.delayed, delayedUnit{unit: u, dueAt: time.Now().Add(delay)})
	q.mu.Unlock()

	queuePublishedTotal.Inc()
}

// Pull блокируется до появления доступной единицы работы или отмены ctx.
// Выданная единица становится inflight до Ack либо возврата по таймауту.
// Единицы приостановленных заданий не выдаются. Помимо побудки по notify
// очередь перепроверяется каждые poll.
func (q *Queue) Pull(ctx context.Context) (Unit, error) {
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		if u, ok := q.tryPull(); ok {
			// Цепная побудка: в очереди могут ждать другие воркеры
			if q.Len() > 0 {
				q.wake()
			}
			return u, nil
		}

		select {
		case <-ctx.Done():
			return Unit{}, ctx.Err()
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// tryPull выдаёт первую единицу незаприостановленного задания.
func (q *Queue) tryPull() (Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, u := range q.ready {
		if q.paused[u.JobID] {
			continue
		}
		q.ready = append(q.ready[:i], q.ready[i+1:]...)
		q.inflight[unitKey{u.JobID, u.DocumentID}] = inflightUnit{
			unit:     u,
			deadline: time.Now().Add(q.visibility),
		}
		queueDepth.Set(float64(len(q.ready)))
		return u, true
	}
	return Unit{}, false
}

// Ack подтверждает обработку единицы, убирая её из inflight.
// Подтверждение уже возвращённой единицы — no-op (at-least-once).
func (q *Queue) Ack(u Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, unitKey{u.JobID, u.DocumentID})
}

// Pause блокирует выдачу единиц задания. Уже выданные единицы
// дорабатываются воркерами.
func (q *Queue) Pause(jobID string) {
	q.mu.Lock()
	q.paused[jobID] = true
	q.mu.Unlock()
}

// Resume возобновляет выдачу единиц задания.
func (q *Queue) Resume(jobID string) {
	q.mu.Lock()
	delete(q.paused, jobID)
	q.mu.Unlock()
	q.wake()
}

// Drop удаляет все единицы задания из очереди (терминальный статус задания).
func (q *Queue) Drop(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	filtered := q.ready[:0]
	for _, u := range q.ready {
		if u.JobID != jobID {
			filtered = append(filtered, u)
		}
	}
	q.ready = filtered

	filteredDelayed := q.delayed[:0]
	for _, d := range q.delayed {
		if d.unit.JobID != jobID {
			filteredDelayed = append(filteredDelayed, d)
		}
	}
	q.delayed = filteredDelayed

	for k := range q.inflight {
		if k.jobID == jobID {
			delete(q.inflight, k)
		}
	}
	delete(q.paused, jobID)
	queueDepth.Set(float64(len(q.ready)))
}

// Sweep возвращает в очередь inflight-единицы с истёкшим visibility
// timeout и продвигает отложенные единицы с наступившим сроком.
// Вызывается фоновой горутиной; экспортирован для тестов.
func (q *Queue) Sweep(now time.Time) {
	q.mu.Lock()

	woke := false
	for k, inf := range q.inflight {
		if now.After(inf.deadline) {
			delete(q.inflight, k)
			q.ready = append(q.ready, inf.unit)
			queueRedeliveredTotal.Inc()
			woke = true
			q.logger.Warn("Единица работы возвращена в очередь по таймауту",
				slog.String("job_id", inf.unit.JobID),
				slog.String("document_id", inf.unit.DocumentID),
				slog.Int("attempt", inf.unit.Attempt),
			)
		}
	}

	remaining := q.delayed[:0]
	for _, d := range q.delayed {
		if now.After(d.dueAt) || now.Equal(d.dueAt) {
			q.ready = append(q.ready, d.unit)
			woke = true
		} else {
			remaining = append(remaining, d)
		}
	}
	q.delayed = remaining

	queueDepth.Set(float64(len(q.ready)))
	q.mu.Unlock()

	if woke {
		q.wake()
	}
}

// Len возвращает количество готовых к выдаче единиц.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// InflightLen возвращает количество выданных, но не подтверждённых единиц.
func (q *Queue) InflightLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// wake будит один заблокированный Pull без блокировки отправителя.
func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
