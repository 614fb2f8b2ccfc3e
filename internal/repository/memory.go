// memory.go — in-memory реализация репозиториев.
// Используется в standalone-режиме (DF_STORE=memory) и в unit-тестах.
// Все операции под одним RWMutex; Claim/Complete — compare-and-swap
// внутри критической секции. Get/List возвращают глубокие копии.
package repository

import (
	"context"
	"sync"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// MemoryStore — in-memory хранилище всех сущностей ядра.
type MemoryStore struct {
	mu          sync.RWMutex
	documents   map[string]*model.Document
	projects    map[string]*model.Project
	users       map[string]*model.User
	reviews     map[string]*model.ReviewQueueEntry
	jobs        map[string]*model.OCRJob
	assignments map[string]*model.Assignment
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents:   make(map[string]*model.Document),
		projects:    make(map[string]*model.Project),
		users:       make(map[string]*model.User),
		reviews:     make(map[string]*model.ReviewQueueEntry),
		jobs:        make(map[string]*model.OCRJob),
		assignments: make(map[string]*model.Assignment),
	}
}

// Documents возвращает репозиторий документов.
func (s *MemoryStore) Documents() DocumentRepository { return (*memoryDocuments)(s) }

// Projects возвращает репозиторий проектов.
func (s *MemoryStore) Projects() ProjectRepository { return (*memoryProjects)(s) }

// Users возвращает репозиторий пользователей.
func (s *MemoryStore) Users() UserRepository { return (*memoryUsers)(s) }

// Reviews возвращает репозиторий записей очереди проверки.
func (s *MemoryStore) Reviews() ReviewRepository { return (*memoryReviews)(s) }

// Jobs возвращает репозиторий заданий распознавания.
func (s *MemoryStore) Jobs() JobRepository { return (*memoryJobs)(s) }

// Assignments возвращает репозиторий назначений.
func (s *MemoryStore) Assignments() AssignmentRepository { return (*memoryAssignments)(s) }

// --- Документы ---

type memoryDocuments MemoryStore

func (s *memoryDocuments) Create(_ context.Context, d *model.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.documents[d.ID]; exists {
		return ErrConflict
	}
	s.documents[d.ID] = copyDocument(d)
	return nil
}

func (s *memoryDocuments) Get(_ context.Context, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(d), nil
}

func (s *memoryDocuments) Update(_ context.Context, d *model.Document) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.documents[d.ID]; !ok {
		return ErrNotFound
	}
	s.documents[d.ID] = copyDocument(d)
	return nil
}

func (s *memoryDocuments) ListByProject(_ context.Context, projectID string) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Document
	for _, d := range s.documents {
		if d.ProjectID == projectID {
			result = append(result, copyDocument(d))
		}
	}
	return result, nil
}

func (s *memoryDocuments) List(_ context.Context) ([]*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Document, 0, len(s.documents))
	for _, d := range s.documents {
		result = append(result, copyDocument(d))
	}
	return result, nil
}

// --- Проекты ---

type memoryProjects MemoryStore

func (s *memoryProjects) Create(_ context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return ErrConflict
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memoryProjects) Get(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryProjects) Update(_ context.Context, p *model.Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return ErrNotFound
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

func (s *memoryProjects) List(_ context.Context) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Project, 0, len(s.projects))
	for _, p := range s.projects {
		cp := *p
		result = append(result, &cp)
	}
	return result, nil
}

// --- Пользователи ---

type memoryUsers MemoryStore

func (s *memoryUsers) Create(_ context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[u.ID]; exists {
		return ErrConflict
	}
	for _, have := range s.users {
		if have.Username == u.Username {
			return ErrConflict
		}
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *memoryUsers) Get(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *memoryUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryUsers) Update(_ context.Context, u *model.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return ErrNotFound
	}
	s.users[u.ID] = copyUser(u)
	return nil
}

// --- Очередь проверки ---

type memoryReviews MemoryStore

func (s *memoryReviews) Create(_ context.Context, e *model.ReviewQueueEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reviews[e.ID]; exists {
		return ErrConflict
	}
	// Не более одной активной записи на документ
	for _, have := range s.reviews {
		if have.DocumentID == e.DocumentID && have.Status.Active() {
			return ErrConflict
		}
	}
	s.reviews[e.ID] = copyReviewEntry(e)
	return nil
}

func (s *memoryReviews) Get(_ context.Context, id string) (*model.ReviewQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.reviews[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyReviewEntry(e), nil
}

func (s *memoryReviews) Update(_ context.Context, e *model.ReviewQueueEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[e.ID]; !ok {
		return ErrNotFound
	}
	s.reviews[e.ID] = copyReviewEntry(e)
	return nil
}

func (s *memoryReviews) ActiveForDocument(_ context.Context, documentID string) (*model.ReviewQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.reviews {
		if e.DocumentID == documentID && e.Status.Active() {
			return copyReviewEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

func (s *memoryReviews) Claim(_ context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reviews[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != model.ReviewPending {
		return nil, ErrAlreadyClaimed
	}
	e.Status = model.ReviewClaimed
	e.ClaimedBy = userID
	claimedAt := at
	e.ClaimedAt = &claimedAt
	return copyReviewEntry(e), nil
}

func (s *memoryReviews) Complete(_ context.Context, entryID, userID string, at time.Time) (*model.ReviewQueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reviews[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != model.ReviewClaimed || e.ClaimedBy != userID {
		return nil, ErrAlreadyClaimed
	}
	e.Status = model.ReviewCompleted
	completedAt := at
	e.CompletedAt = &completedAt
	return copyReviewEntry(e), nil
}

func (s *memoryReviews) ListOverdue(_ context.Context, now time.Time) ([]*model.ReviewQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.ReviewQueueEntry
	for _, e := range s.reviews {
		if e.Status.Active() && e.DueAt.Before(now) {
			result = append(result, copyReviewEntry(e))
		}
	}
	return result, nil
}

func (s *memoryReviews) List(_ context.Context) ([]*model.ReviewQueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.ReviewQueueEntry, 0, len(s.reviews))
	for _, e := range s.reviews {
		result = append(result, copyReviewEntry(e))
	}
	return result, nil
}

// --- Задания распознавания ---

type memoryJobs MemoryStore

func (s *memoryJobs) Create(_ context.Context, j *model.OCRJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; exists {
		return ErrConflict
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

func (s *memoryJobs) Get(_ context.Context, id string) (*model.OCRJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *memoryJobs) Update(_ context.Context, j *model.OCRJob) error {
	if err := j.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	s.jobs[j.ID] = copyJob(j)
	return nil
}

func (s *memoryJobs) List(_ context.Context) ([]*model.OCRJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.OCRJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		result = append(result, copyJob(j))
	}
	return result, nil
}

// --- Назначения ---

type memoryAssignments MemoryStore

func (s *memoryAssignments) Create(_ context.Context, a *model.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assignments[a.ID]; exists {
		return ErrConflict
	}
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

func (s *memoryAssignments) Get(_ context.Context, id string) (*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAssignment(a), nil
}

func (s *memoryAssignments) Update(_ context.Context, a *model.Assignment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[a.ID]; !ok {
		return ErrNotFound
	}
	s.assignments[a.ID] = copyAssignment(a)
	return nil
}

func (s *memoryAssignments) ListActiveOverdue(_ context.Context, now time.Time) ([]*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []*model.Assignment
	for _, a := range s.assignments {
		if a.Status == model.AssignmentActive && a.DueAt.Before(now) {
			result = append(result, copyAssignment(a))
		}
	}
	return result, nil
}

func (s *memoryAssignments) List(_ context.Context) ([]*model.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*model.Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		result = append(result, copyAssignment(a))
	}
	return result, nil
}

// --- Глубокие копии ---

func copyDocument(d *model.Document) *model.Document {
	cp := *d
	cp.StatusHistory = append([]model.StatusChange(nil), d.StatusHistory...)
	cp.ManualEdits = append([]model.ManualEdit(nil), d.ManualEdits...)
	if d.FinalApprovedAt != nil {
		t := *d.FinalApprovedAt
		cp.FinalApprovedAt = &t
	}
	if d.ExportedAt != nil {
		t := *d.ExportedAt
		cp.ExportedAt = &t
	}
	return &cp
}

func copyUser(u *model.User) *model.User {
	cp := *u
	cp.Roles = append([]model.Role(nil), u.Roles...)
	cp.AssignedProjectIDs = append([]string(nil), u.AssignedProjectIDs...)
	return &cp
}

func copyReviewEntry(e *model.ReviewQueueEntry) *model.ReviewQueueEntry {
	cp := *e
	if e.ClaimedAt != nil {
		t := *e.ClaimedAt
		cp.ClaimedAt = &t
	}
	if e.CompletedAt != nil {
		t := *e.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyJob(j *model.OCRJob) *model.OCRJob {
	cp := *j
	cp.DocumentIDs = append([]string(nil), j.DocumentIDs...)
	cp.Settings.LanguageHints = append([]string(nil), j.Settings.LanguageHints...)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func copyAssignment(a *model.Assignment) *model.Assignment {
	cp := *a
	cp.DocumentIDs = append([]string(nil), a.DocumentIDs...)
	return &cp
}
