package model

import "time"

// Role — роль пользователя в системе.
type Role string

const (
	// RoleAdmin — администратор: полный доступ, override переходов.
	RoleAdmin Role = "admin"
	// RoleReviewer — проверяющий публичных документов.
	RoleReviewer Role = "reviewer"
	// RoleTeacher — проверяющий приватных документов (повышенная роль).
	RoleTeacher Role = "teacher"
)

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleReviewer, RoleTeacher:
		return true
	default:
		return false
	}
}

// User — пользователь системы.
type User struct {
	// ID — UUID пользователя
	ID string
	// Username — логин (sub из JWT)
	Username string
	// Roles — набор ролей
	Roles []Role
	// SecurityClearance — уровень допуска (0 — базовый)
	SecurityClearance int
	// Active — активен ли пользователь
	Active bool
	// AssignedProjectIDs — проекты, назначенные пользователю
	// (используется для access level assigned_only)
	AssignedProjectIDs []string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// HasRole возвращает true, если пользователю присвоена роль r.
func (u *User) HasRole(r Role) bool {
	for _, have := range u.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// AssignedTo возвращает true, если проект назначен пользователю.
func (u *User) AssignedTo(projectID string) bool {
	for _, id := range u.AssignedProjectIDs {
		if id == projectID {
			return true
		}
	}
	return false
}
