// postgres.go — реализация репозиториев поверх PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM. История статусов,
// ручные правки и настройки OCR хранятся в JSONB, списки — в TEXT[].
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// PostgresStore — реализация Store поверх PostgreSQL.
type PostgresStore struct {
	db DBTX
}

// NewPostgresStore создаёт Store поверх пула или транзакции pgx.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// Documents возвращает репозиторий документов.
func (s *PostgresStore) Documents() DocumentRepository { return &pgDocuments{db: s.db} }

// Projects возвращает репозиторий проектов.
func (s *PostgresStore) Projects() ProjectRepository { return &pgProjects{db: s.db} }

// Users возвращает репозиторий пользователей.
func (s *PostgresStore) Users() UserRepository { return &pgUsers{db: s.db} }

// Reviews возвращает репозиторий записей очереди проверки.
func (s *PostgresStore) Reviews() ReviewRepository { return &pgReviews{db: s.db} }

// Jobs возвращает репозиторий заданий распознавания.
func (s *PostgresStore) Jobs() JobRepository { return &pgJobs{db: s.db} }

// Assignments возвращает репозиторий назначений.
func (s *PostgresStore) Assignments() AssignmentRepository { return &pgAssignments{db: s.db} }

// --- Документы ---

type pgDocuments struct {
	db DBTX
}

const documentColumns = `id, project_id, file_path, checksum, classification, status,
	status_history, ocr_status, ocr_text, ocr_confidence, ocr_retry_count,
	reviewed_by, review_notes, manual_edits, final_approved_by, final_approved_at,
	exported_at, export_ref, uploaded_by, created_at, updated_at`

func (r *pgDocuments) Create(ctx context.Context, d *model.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := r.db.Exec(ctx, query,
		d.ID, d.ProjectID, d.FilePath, d.Checksum, string(d.Classification), string(d.Status),
		d.StatusHistory, string(d.OCRStatus), d.OCRText, d.OCRConfidence, d.OCRRetryCount,
		d.ReviewedBy, d.ReviewNotes, d.ManualEdits, d.FinalApprovedBy, d.FinalApprovedAt,
		d.ExportedAt, d.ExportRef, d.UploadedBy, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания документа: %w", err)
	}
	return nil
}

func scanDocument(row pgx.Row) (*model.Document, error) {
	d := &model.Document{}
	var classification, status, ocrStatus string
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.FilePath, &d.Checksum, &classification, &status,
		&d.StatusHistory, &ocrStatus, &d.OCRText, &d.OCRConfidence, &d.OCRRetryCount,
		&d.ReviewedBy, &d.ReviewNotes, &d.ManualEdits, &d.FinalApprovedBy, &d.FinalApprovedAt,
		&d.ExportedAt, &d.ExportRef, &d.UploadedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Classification = model.Classification(classification)
	d.Status = model.DocumentStatus(status)
	d.OCRStatus = model.OCRStatus(ocrStatus)
	return d, nil
}

func (r *pgDocuments) Get(ctx context.Context, id string) (*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	d, err := scanDocument(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения документа: %w", err)
	}
	return d, nil
}

func (r *pgDocuments) Update(ctx context.Context, d *model.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE documents SET
			file_path = $2, checksum = $3, classification = $4, status = $5,
			status_history = $6, ocr_status = $7, ocr_text = $8, ocr_confidence = $9,
			ocr_retry_count = $10, reviewed_by = $11, review_notes = $12, manual_edits = $13,
			final_approved_by = $14, final_approved_at = $15, exported_at = $16,
			export_ref = $17, updated_at = $18
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		d.ID, d.FilePath, d.Checksum, string(d.Classification), string(d.Status),
		d.StatusHistory, string(d.OCRStatus), d.OCRText, d.OCRConfidence,
		d.OCRRetryCount, d.ReviewedBy, d.ReviewNotes, d.ManualEdits,
		d.FinalApprovedBy, d.FinalApprovedAt, d.ExportedAt,
		d.ExportRef, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления документа: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgDocuments) list(ctx context.Context, query string, args ...any) ([]*model.Document, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка документов: %w", err)
	}
	defer rows.Close()

	var result []*model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования документа: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *pgDocuments) ListByProject(ctx context.Context, projectID string) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE project_id = $1 ORDER BY created_at`
	return r.list(ctx, query, projectID)
}

func (r *pgDocuments) List(ctx context.Context) ([]*model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at`
	return r.list(ctx, query)
}

// --- Проекты ---

type pgProjects struct {
	db DBTX
}

const projectColumns = `id, name, total, processed, reviewed, approved,
	sla_duration_seconds, created_at, updated_at`

func (r *pgProjects) Create(ctx context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO projects (` + projectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.Name, p.Counters.Total, p.Counters.Processed, p.Counters.Reviewed,
		p.Counters.Approved, int64(p.SLADuration/time.Second), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: проект с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания проекта: %w", err)
	}
	return nil
}

func scanProject(row pgx.Row) (*model.Project, error) {
	p := &model.Project{}
	var slaSeconds int64
	err := row.Scan(
		&p.ID, &p.Name, &p.Counters.Total, &p.Counters.Processed, &p.Counters.Reviewed,
		&p.Counters.Approved, &slaSeconds, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.SLADuration = time.Duration(slaSeconds) * time.Second
	return p, nil
}

func (r *pgProjects) Get(ctx context.Context, id string) (*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1`

	p, err := scanProject(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения проекта: %w", err)
	}
	return p, nil
}

func (r *pgProjects) Update(ctx context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE projects SET
			name = $2, total = $3, processed = $4, reviewed = $5, approved = $6,
			sla_duration_seconds = $7, updated_at = $8
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.ID, p.Name, p.Counters.Total, p.Counters.Processed, p.Counters.Reviewed,
		p.Counters.Approved, int64(p.SLADuration/time.Second), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления проекта: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgProjects) List(ctx context.Context) ([]*model.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка проектов: %w", err)
	}
	defer rows.Close()

	var result []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования проекта: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- Пользователи ---

type pgUsers struct {
	db DBTX
}

const userColumns = `id, username, roles, security_clearance, active,
	assigned_project_ids, created_at, updated_at`

func rolesToStrings(roles []model.Role) []string {
	result := make([]string, len(roles))
	for i, r := range roles {
		result[i] = string(r)
	}
	return result
}

func rolesFromStrings(roles []string) []model.Role {
	result := make([]model.Role, len(roles))
	for i, r := range roles {
		result[i] = model.Role(r)
	}
	return result
}

func (r *pgUsers) Create(ctx context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.Exec(ctx, query,
		u.ID, u.Username, rolesToStrings(u.Roles), u.SecurityClearance, u.Active,
		u.AssignedProjectIDs, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: пользователь с таким ID или username уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания пользователя: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	u := &model.User{}
	var roles []string
	err := row.Scan(
		&u.ID, &u.Username, &roles, &u.SecurityClearance, &u.Active,
		&u.AssignedProjectIDs, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	u.Roles = rolesFromStrings(roles)
	return u, nil
}

func (r *pgUsers) Get(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *pgUsers) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`

	u, err := scanUser(r.db.QueryRow(ctx, query, username))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *pgUsers) Update(ctx context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE users SET
			username = $2, roles = $3, security_clearance = $4, active = $5,
			assigned_project_ids = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		u.ID, u.Username, rolesToStrings(u.Roles), u.SecurityClearance, u.Active,
		u.AssignedProjectIDs, u.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления пользователя: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Очередь проверки ---

type pgReviews struct {
	db DBTX
}

const reviewColumns = `id, document_id, classification, assigned_role, status,
	claimed_by, claimed_at, enqueued_at, due_at, completed_at,
	sla_violated, escalation_count, escalated_to_admin`

func (r *pgReviews) Create(ctx context.Context, e *model.ReviewQueueEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO review_queue (` + reviewColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := r.db.Exec(ctx, query,
		e.ID, e.DocumentID, string(e.Classification), string(e.AssignedRole), string(e.Status),
		e.ClaimedBy, e.ClaimedAt, e.EnqueuedAt, e.DueAt, e.CompletedAt,
		e.SLAViolated, e.EscalationCount, e.EscalatedToAdmin,
	)
	if err != nil {
		// Частичный уникальный индекс запрещает вторую активную запись на документ
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: активная запись очереди для документа уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи очереди: %w", err)
	}
	return nil
}

func scanReviewEntry(row pgx.Row) (*model.ReviewQueueEntry, error) {
	e := &model.ReviewQueueEntry{}
	var classification, role, status string
	err := row.Scan(
		&e.ID, &e.DocumentID, &classification, &role, &status,
		&e.ClaimedBy, &e.ClaimedAt, &e.EnqueuedAt, &e.DueAt, &e.CompletedAt,
		&e.SLAViolated, &e.EscalationCount, &e.EscalatedToAdmin,
	)
	if err != nil {
		return nil, err
	}
	e.Classification = model.Classification(classification)
	e.AssignedRole = model.Role(role)
	e.Status = model.ReviewStatus(status)
	return e, nil
}

func (r *pgReviews) Get(ctx context.Context, id string) (*model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue WHERE id = $1`

	e, err := scanReviewEntry(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи очереди: %w", err)
	}
	return e, nil
}

func (r *pgReviews) Update(ctx context.Context, e *model.ReviewQueueEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE review_queue SET
			classification = $2, assigned_role = $3, status = $4, claimed_by = $5,
			claimed_at = $6, due_at = $7, completed_at = $8, sla_violated = $9,
			escalation_count = $10, escalated_to_admin = $11
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		e.ID, string(e.Classification), string(e.AssignedRole), string(e.Status), e.ClaimedBy,
		e.ClaimedAt, e.DueAt, e.CompletedAt, e.SLAViolated,
		e.EscalationCount, e.EscalatedToAdmin,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления записи очереди: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgReviews) ActiveForDocument(ctx context.Context, documentID string) (*model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue
		WHERE document_id = $1 AND status IN ('pending', 'claimed')`

	e, err := scanReviewEntry(r.db.QueryRow(ctx, query, documentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска активной записи очереди: %w", err)
	}
	return e, nil
}

// Claim — compare-and-swap средствами PostgreSQL: условный UPDATE
// побеждает ровно у одного из конкурирующих вызовов.
func (r *pgReviews) Claim(ctx context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error) {
	query := `
		UPDATE review_queue SET status = 'claimed', claimed_by = $2, claimed_at = $3
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + reviewColumns

	e, err := scanReviewEntry(r.db.QueryRow(ctx, query, entryID, userID, at))
	if err == nil {
		return e, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка захвата записи очереди: %w", err)
	}

	// CAS не сработал: различаем отсутствие записи и проигранную гонку
	if _, err := r.Get(ctx, entryID); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyClaimed
}

func (r *pgReviews) Complete(ctx context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error) {
	query := `
		UPDATE review_queue SET status = 'completed', completed_at = $3
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2
		RETURNING ` + reviewColumns

	e, err := scanReviewEntry(r.db.QueryRow(ctx, query, entryID, userID, at))
	if err == nil {
		return e, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("ошибка завершения записи очереди: %w", err)
	}

	if _, err := r.Get(ctx, entryID); err != nil {
		return nil, err
	}
	return nil, ErrAlreadyClaimed
}

func (r *pgReviews) listEntries(ctx context.Context, query string, args ...any) ([]*model.ReviewQueueEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей очереди: %w", err)
	}
	defer rows.Close()

	var result []*model.ReviewQueueEntry
	for rows.Next() {
		e, err := scanReviewEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи очереди: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *pgReviews) ListOverdue(ctx context.Context, now time.Time) ([]*model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue
		WHERE status IN ('pending', 'claimed') AND due_at < $1
		ORDER BY due_at`
	return r.listEntries(ctx, query, now)
}

func (r *pgReviews) List(ctx context.Context) ([]*model.ReviewQueueEntry, error) {
	query := `SELECT ` + reviewColumns + ` FROM review_queue ORDER BY enqueued_at`
	return r.listEntries(ctx, query)
}

// --- Задания распознавания ---

type pgJobs struct {
	db DBTX
}

const jobColumns = `id, document_ids, provider, settings, status,
	progress_current, progress_total, failed_count, submitted_by,
	created_at, updated_at, completed_at`

func (r *pgJobs) Create(ctx context.Context, j *model.OCRJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO ocr_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		j.ID, j.DocumentIDs, j.Provider, j.Settings, string(j.Status),
		j.Progress.Current, j.Progress.Total, j.FailedCount, j.SubmittedBy,
		j.CreatedAt, j.UpdatedAt, j.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: задание с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания задания: %w", err)
	}
	return nil
}

func scanJob(row pgx.Row) (*model.OCRJob, error) {
	j := &model.OCRJob{}
	var status string
	err := row.Scan(
		&j.ID, &j.DocumentIDs, &j.Provider, &j.Settings, &status,
		&j.Progress.Current, &j.Progress.Total, &j.FailedCount, &j.SubmittedBy,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return j, nil
}

func (r *pgJobs) Get(ctx context.Context, id string) (*model.OCRJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ocr_jobs WHERE id = $1`

	j, err := scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	return j, nil
}

func (r *pgJobs) Update(ctx context.Context, j *model.OCRJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE ocr_jobs SET
			status = $2, progress_current = $3, progress_total = $4, failed_count = $5,
			updated_at = $6, completed_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		j.ID, string(j.Status), j.Progress.Current, j.Progress.Total, j.FailedCount,
		j.UpdatedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgJobs) List(ctx context.Context) ([]*model.OCRJob, error) {
	query := `SELECT ` + jobColumns + ` FROM ocr_jobs ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка заданий: %w", err)
	}
	defer rows.Close()

	var result []*model.OCRJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования задания: %w", err)
		}
		result = append(result, j)
	}
	return result, rows.Err()
}

// --- Назначения ---

type pgAssignments struct {
	db DBTX
}

const assignmentColumns = `id, assignee_id, document_ids, document_count, completed_count,
	status, due_at, created_by, created_at, updated_at`

func (r *pgAssignments) Create(ctx context.Context, a *model.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO assignments (` + assignmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.AssigneeID, a.DocumentIDs, a.DocumentCount, a.CompletedCount,
		string(a.Status), a.DueAt, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: назначение с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания назначения: %w", err)
	}
	return nil
}

func scanAssignment(row pgx.Row) (*model.Assignment, error) {
	a := &model.Assignment{}
	var status string
	err := row.Scan(
		&a.ID, &a.AssigneeID, &a.DocumentIDs, &a.DocumentCount, &a.CompletedCount,
		&status, &a.DueAt, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.AssignmentStatus(status)
	return a, nil
}

func (r *pgAssignments) Get(ctx context.Context, id string) (*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`

	a, err := scanAssignment(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения назначения: %w", err)
	}
	return a, nil
}

func (r *pgAssignments) Update(ctx context.Context, a *model.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE assignments SET
			document_ids = $2, document_count = $3, completed_count = $4,
			status = $5, due_at = $6, updated_at = $7
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.DocumentIDs, a.DocumentCount, a.CompletedCount,
		string(a.Status), a.DueAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка обновления назначения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pgAssignments) listAssignments(ctx context.Context, query string, args ...any) ([]*model.Assignment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка назначений: %w", err)
	}
	defer rows.Close()

	var result []*model.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования назначения: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *pgAssignments) ListActiveOverdue(ctx context.Context, now time.Time) ([]*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
		WHERE status = 'active' AND due_at < $1
		ORDER BY due_at`
	return r.listAssignments(ctx, query, now)
}

func (r *pgAssignments) List(ctx context.Context) ([]*model.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments ORDER BY created_at`
	return r.listAssignments(ctx, query)
}
