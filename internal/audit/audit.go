// Пакет audit — журнал аудита: неизменяемые записи действий,
// меняющих состояние системы.
//
// Двухфазный контракт: Begin создаёт файловую запись со статусом pending,
// вызывающая сторона выполняет мутацию, затем Commit или Rollback.
// Мутация считается состоявшейся только при успешном Commit —
// недоступность журнала отклоняет само действие.
//
// Закоммиченные записи попадают в ограниченное кольцо в памяти:
// вытесняются только самые старые, записи никогда не редактируются.
// Каждая запись — отдельный файл {id}.audit.json в директории журнала.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Prometheus-метрики журнала аудита.
var (
	auditAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "df_audit_appends_total",
		Help: "Общее количество операций журнала аудита по исходу.",
	}, []string{"outcome"})

	auditEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "df_audit_evictions_total",
		Help: "Общее количество вытесненных старых записей журнала.",
	})
)

// recordStatus — статус файловой записи журнала.
type recordStatus string

const (
	statusPending    recordStatus = "pending"
	statusCommitted  recordStatus = "committed"
	statusRolledBack recordStatus = "rolled_back"
)

// record — файловое представление записи журнала.
type record struct {
	Status recordStatus        `json:"status"`
	Entry  model.AuditLogEntry `json:"entry"`
}

// Logger — журнал аудита с файловым хранением и кольцом в памяти.
type Logger struct {
	// dir — директория хранения записей (DF_AUDIT_DIR)
	dir string
	// maxEntries — ёмкость кольца (DF_AUDIT_MAX_ENTRIES)
	maxEntries int
	// mu — мьютекс для потокобезопасности
	mu sync.Mutex
	// ring — закоммиченные записи, от старых к новым
	ring []model.AuditLogEntry
	// logger — логгер
	logger *slog.Logger
}

// New создаёт журнал аудита. Проверяет и создаёт директорию,
// загружает ранее закоммиченные записи, откатывает pending.
func New(dir string, maxEntries int, logger *slog.Logger) (*Logger, error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("ёмкость журнала аудита должна быть положительной, получено %d", maxEntries)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию журнала %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".audit_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория журнала %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	l := &Logger{
		dir:        dir,
		maxEntries: maxEntries,
		logger:     logger.With(slog.String("component", "audit")),
	}

	if err := l.recover(); err != nil {
		return nil, err
	}

	return l, nil
}

// Tx — незавершённая операция журнала.
// Commit делает запись видимой; Rollback отменяет её.
type Tx struct {
	l     *Logger
	entry model.AuditLogEntry
	done  bool
}

// Begin создаёт запись журнала со статусом pending.
// Заполняет ID и Timestamp, если они не заданы.
// Ошибка означает, что действие, которое документирует запись,
// должно быть отклонено целиком.
func (l *Logger) Begin(entry model.AuditLogEntry) (*Tx, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := entry.Validate(); err != nil {
		auditAppendsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := l.writeRecord(&record{Status: statusPending, Entry: entry}); err != nil {
		auditAppendsTotal.WithLabelValues("write_error").Inc()
		return nil, fmt.Errorf("не удалось создать запись журнала: %w", err)
	}

	return &Tx{l: l, entry: entry}, nil
}

// Commit помечает запись как закоммиченную и публикует её в кольце.
func (tx *Tx) Commit() error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()

	if tx.done {
		return fmt.Errorf("запись журнала %s уже завершена", tx.entry.ID)
	}

	if err := tx.l.writeRecord(&record{Status: statusCommitted, Entry: tx.entry}); err != nil {
		auditAppendsTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("не удалось закоммитить запись журнала %s: %w", tx.entry.ID, err)
	}
	tx.done = true

	tx.l.appendToRing(tx.entry)
	auditAppendsTotal.WithLabelValues("committed").Inc()

	tx.l.logger.Debug("Запись аудита закоммичена",
		slog.String("entry_id", tx.entry.ID),
		slog.String("action", tx.entry.Action),
		slog.String("resource_id", tx.entry.ResourceID),
	)
	return nil
}

// Rollback помечает запись как отменённую. Запись не попадает в кольцо.
func (tx *Tx) Rollback() error {
	tx.l.mu.Lock()
	defer tx.l.mu.Unlock()

	if tx.done {
		return nil
	}
	tx.done = true

	if err := tx.l.writeRecord(&record{Status: statusRolledBack, Entry: tx.entry}); err != nil {
		auditAppendsTotal.WithLabelValues("write_error").Inc()
		return fmt.Errorf("не удалось откатить запись журнала %s: %w", tx.entry.ID, err)
	}
	auditAppendsTotal.WithLabelValues("rolled_back").Inc()
	return nil
}

// Append — одношаговый вариант: Begin + Commit.
// Для действий, мутация которых уже состоялась атомарно.
func (l *Logger) Append(entry model.AuditLogEntry) error {
	tx, err := l.Begin(entry)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Entries возвращает закоммиченные записи от старых к новым (копия).
func (l *Logger) Entries() []model.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	result := make([]model.AuditLogEntry, len(l.ring))
	copy(result, l.ring)
	return result
}

// EntriesFor возвращает закоммиченные записи для указанного ресурса.
func (l *Logger) EntriesFor(resourceID string) []model.AuditLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var result []model.AuditLogEntry
	for _, e := range l.ring {
		if e.ResourceID == resourceID {
			result = append(result, e)
		}
	}
	return result
}

// Len возвращает количество записей в кольце.
func (l *Logger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ring)
}

// Dir возвращает путь к директории журнала.
func (l *Logger) Dir() string {
	return l.dir
}

// CheckReady проверяет, что директория журнала доступна на запись.
// Реализует интерфейс readiness probe.
func (l *Logger) CheckReady() (status, message string) {
	probe := filepath.Join(l.dir, ".ready")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return "fail", fmt.Sprintf("директория журнала недоступна на запись: %v", err)
	}
	_ = os.Remove(probe)
	return "ok", ""
}

// appendToRing добавляет запись в кольцо, вытесняя самую старую
// при переполнении. Вызывается под мьютексом.
func (l *Logger) appendToRing(entry model.AuditLogEntry) {
	l.ring = append(l.ring, entry)
	for len(l.ring) > l.maxEntries {
		evicted := l.ring[0]
		l.ring = l.ring[1:]
		auditEvictionsTotal.Inc()

		// Файл вытесненной записи удаляется, содержимое не редактируется
		path := filepath.Join(l.dir, auditFileName(evicted.ID))
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			l.logger.Warn("Не удалось удалить вытесненную запись журнала",
				slog.String("entry_id", evicted.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recover загружает закоммиченные записи в кольцо и откатывает pending.
// Вызывается при старте.
func (l *Logger) recover() error {
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.audit.json"))
	if err != nil {
		return fmt.Errorf("не удалось сканировать директорию журнала: %w", err)
	}

	var committed []model.AuditLogEntry
	for _, path := range paths {
		rec, err := l.readRecord(path)
		if err != nil {
			l.logger.Warn("Не удалось прочитать запись журнала при восстановлении",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch rec.Status {
		case statusCommitted:
			committed = append(committed, rec.Entry)
		case statusPending:
			// Незавершённая операция: мутация не подтверждена, откатываем
			l.logger.Warn("Обнаружена незавершённая запись журнала, откатываем",
				slog.String("entry_id", rec.Entry.ID),
				slog.String("action", rec.Entry.Action),
			)
			rec.Status = statusRolledBack
			if wrErr := l.writeRecord(rec); wrErr != nil {
				return fmt.Errorf("не удалось откатить запись %s: %w", rec.Entry.ID, wrErr)
			}
		}
	}

	sort.Slice(committed, func(i, j int) bool {
		return committed[i].Timestamp.Before(committed[j].Timestamp)
	})
	for _, e := range committed {
		l.appendToRing(e)
	}

	if len(committed) > 0 {
		l.logger.Info("Журнал аудита восстановлен",
			slog.Int("entries", len(l.ring)),
		)
	}
	return nil
}

// writeRecord атомарно записывает запись журнала на диск.
// Паттерн: temp файл → fsync → atomic rename.
func (l *Logger) writeRecord(rec *record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	targetPath := filepath.Join(l.dir, auditFileName(rec.Entry.ID))
	tmpPath := targetPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// readRecord читает запись журнала из файла.
func (l *Logger) readRecord(path string) (*record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	if !strings.HasSuffix(path, auditFileName(rec.Entry.ID)) {
		return nil, fmt.Errorf("имя файла %s не совпадает с ID записи %s", path, rec.Entry.ID)
	}

	return &rec, nil
}

// auditFileName возвращает имя файла для записи журнала.
func auditFileName(id string) string {
	return id + ".audit.json"
}
