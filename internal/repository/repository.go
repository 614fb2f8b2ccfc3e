// Пакет repository — слой доступа к данным оркестрационного ядра.
// Две реализации: in-memory (standalone, тесты) и PostgreSQL
// (чистый SQL через pgx, без ORM). Репозитории валидируют сущности
// перед каждой записью.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс
	// или вторая активная запись очереди на документ).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrAlreadyClaimed — запись очереди уже взята другим проверяющим.
	ErrAlreadyClaimed = errors.New("запись очереди уже взята")
)

// DocumentRepository — CRUD документов.
type DocumentRepository interface {
	// Create создаёт документ.
	Create(ctx context.Context, d *model.Document) error
	// Get возвращает документ по UUID.
	Get(ctx context.Context, id string) (*model.Document, error)
	// Update перезаписывает документ.
	Update(ctx context.Context, d *model.Document) error
	// ListByProject возвращает документы проекта.
	ListByProject(ctx context.Context, projectID string) ([]*model.Document, error)
	// List возвращает все документы.
	List(ctx context.Context) ([]*model.Document, error)
}

// ProjectRepository — CRUD проектов.
type ProjectRepository interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id string) (*model.Project, error)
	Update(ctx context.Context, p *model.Project) error
	List(ctx context.Context) ([]*model.Project, error)
}

// UserRepository — CRUD пользователей.
type UserRepository interface {
	Create(ctx context.Context, u *model.User) error
	Get(ctx context.Context, id string) (*model.User, error)
	// GetByUsername возвращает пользователя по логину (sub из JWT).
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Update(ctx context.Context, u *model.User) error
}

// ReviewRepository — записи очереди проверки.
type ReviewRepository interface {
	// Create создаёт запись. Возвращает ErrConflict, если у документа
	// уже есть активная (pending/claimed) запись.
	Create(ctx context.Context, e *model.ReviewQueueEntry) error
	Get(ctx context.Context, id string) (*model.ReviewQueueEntry, error)
	// Update перезаписывает запись. Не используется для claim/complete —
	// для них есть CAS-операции ниже.
	Update(ctx context.Context, e *model.ReviewQueueEntry) error
	// ActiveForDocument возвращает активную запись документа или ErrNotFound.
	ActiveForDocument(ctx context.Context, documentID string) (*model.ReviewQueueEntry, error)
	// Claim — атомарный compare-and-swap pending → claimed.
	// Возвращает ErrAlreadyClaimed, если запись не pending.
	Claim(ctx context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error)
	// Complete — атомарный compare-and-swap claimed → completed.
	// Возвращает ErrAlreadyClaimed, если запись не claimed данным пользователем.
	Complete(ctx context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error)
	// ListOverdue возвращает активные записи с DueAt < now.
	ListOverdue(ctx context.Context, now time.Time) ([]*model.ReviewQueueEntry, error)
	// List возвращает все записи.
	List(ctx context.Context) ([]*model.ReviewQueueEntry, error)
}

// JobRepository — задания распознавания.
type JobRepository interface {
	Create(ctx context.Context, j *model.OCRJob) error
	Get(ctx context.Context, id string) (*model.OCRJob, error)
	Update(ctx context.Context, j *model.OCRJob) error
	List(ctx context.Context) ([]*model.OCRJob, error)
}

// AssignmentRepository — назначения документов исполнителям.
type AssignmentRepository interface {
	Create(ctx context.Context, a *model.Assignment) error
	Get(ctx context.Context, id string) (*model.Assignment, error)
	Update(ctx context.Context, a *model.Assignment) error
	// ListActiveOverdue возвращает активные назначения с DueAt < now.
	ListActiveOverdue(ctx context.Context, now time.Time) ([]*model.Assignment, error)
	List(ctx context.Context) ([]*model.Assignment, error)
}

// Store — набор репозиториев одного хранилища.
type Store interface {
	Documents() DocumentRepository
	Projects() ProjectRepository
	Users() UserRepository
	Reviews() ReviewRepository
	Jobs() JobRepository
	Assignments() AssignmentRepository
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
