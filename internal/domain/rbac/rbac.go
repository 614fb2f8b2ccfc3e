// Пакет rbac — разрешение ролей пользователя в набор действий
// и уровень доступа к данным.
// Правила: итоговый набор = объединение наборов всех ролей,
// уровень доступа = максимальный из уровней всех ролей.
// Наборы строятся один раз при инициализации пакета.
package rbac

import (
	"errors"
	"fmt"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// Action — типизированное действие, на которое выдаётся разрешение.
type Action string

const (
	// ActionViewDocuments — чтение документов в пределах уровня доступа.
	ActionViewDocuments Action = "view_documents"
	// ActionClassify — присвоение грифа документу.
	ActionClassify Action = "classify"
	// ActionSubmitOCR — отправка заданий распознавания.
	ActionSubmitOCR Action = "submit_ocr"
	// ActionClaimReview — взятие записи очереди проверки.
	ActionClaimReview Action = "claim_review"
	// ActionCompleteReview — завершение проверки.
	ActionCompleteReview Action = "complete_review"
	// ActionFinalApprove — финальное одобрение документа.
	ActionFinalApprove Action = "final_approve"
	// ActionOverrideState — переопределение статуса в обход матрицы переходов.
	ActionOverrideState Action = "override_state"
	// ActionManageAssignments — создание и управление назначениями.
	ActionManageAssignments Action = "manage_assignments"
	// ActionExport — выгрузка документа во внешний архив.
	ActionExport Action = "export"
	// ActionPauseJob — приостановка/возобновление заданий распознавания.
	ActionPauseJob Action = "pause_job"
)

// AccessLevel — уровень доступа к данным.
type AccessLevel string

const (
	// AccessAll — видит все документы без фильтрации.
	AccessAll AccessLevel = "all"
	// AccessPublicOnly — видит только документы с грифом PUBLIC.
	AccessPublicOnly AccessLevel = "public_only"
	// AccessAssignedOnly — видит только документы назначенных проектов.
	AccessAssignedOnly AccessLevel = "assigned_only"
)

// ErrForbidden — у пользователя нет разрешения на действие.
// Возвращается явно: фильтрация никогда не маскируется пустым результатом.
var ErrForbidden = errors.New("недостаточно прав")

// rolePermissions — набор действий каждой роли.
// Инвариант: каждая роль разрешается ровно в один уровень доступа.
var rolePermissions = map[model.Role]map[Action]bool{
	model.RoleAdmin: {
		ActionViewDocuments:     true,
		ActionClassify:          true,
		ActionSubmitOCR:         true,
		ActionClaimReview:       true,
		ActionCompleteReview:    true,
		ActionFinalApprove:      true,
		ActionOverrideState:     true,
		ActionManageAssignments: true,
		ActionExport:            true,
		ActionPauseJob:          true,
	},
	model.RoleReviewer: {
		ActionViewDocuments:  true,
		ActionClaimReview:    true,
		ActionCompleteReview: true,
	},
	model.RoleTeacher: {
		ActionViewDocuments:  true,
		ActionClaimReview:    true,
		ActionCompleteReview: true,
	},
}

// roleAccessLevel — уровень доступа каждой роли.
var roleAccessLevel = map[model.Role]AccessLevel{
	model.RoleAdmin:    AccessAll,
	model.RoleReviewer: AccessPublicOnly,
	model.RoleTeacher:  AccessAssignedOnly,
}

// accessWeight — вес уровня доступа для выбора максимального.
var accessWeight = map[AccessLevel]int{
	AccessPublicOnly:   1,
	AccessAssignedOnly: 2,
	AccessAll:          3,
}

// Grant — результат разрешения ролей пользователя.
type Grant struct {
	// Permissions — объединённый набор действий
	Permissions map[Action]bool
	// AccessLevel — итоговый уровень доступа к данным
	AccessLevel AccessLevel
}

// Allows возвращает true, если набор содержит действие.
func (g Grant) Allows(a Action) bool {
	return g.Permissions[a]
}

// Resolve разрешает роли пользователя в Grant.
// Неактивный пользователь получает пустой набор.
func Resolve(u *model.User) Grant {
	grant := Grant{
		Permissions: make(map[Action]bool),
		AccessLevel: AccessPublicOnly,
	}
	if u == nil || !u.Active {
		return grant
	}

	for _, role := range u.Roles {
		for action := range rolePermissions[role] {
			grant.Permissions[action] = true
		}
		if level, ok := roleAccessLevel[role]; ok {
			if accessWeight[level] > accessWeight[grant.AccessLevel] {
				grant.AccessLevel = level
			}
		}
	}
	return grant
}

// Authorize проверяет разрешение пользователя на действие.
// Возвращает ErrForbidden с контекстом — никогда не "пустой успех".
func Authorize(u *model.User, action Action) error {
	if u == nil || !u.Active {
		return fmt.Errorf("%w: пользователь неактивен", ErrForbidden)
	}
	if !Resolve(u).Allows(action) {
		return fmt.Errorf("%w: действие %q недоступно пользователю %s", ErrForbidden, action, u.Username)
	}
	return nil
}

// CanSeeDocument проверяет видимость документа для пользователя
// согласно его уровню доступа.
func CanSeeDocument(u *model.User, doc *model.Document) bool {
	if u == nil || !u.Active {
		return false
	}
	switch Resolve(u).AccessLevel {
	case AccessAll:
		return true
	case AccessAssignedOnly:
		return u.AssignedTo(doc.ProjectID)
	case AccessPublicOnly:
		return doc.Classification == model.ClassificationPublic
	default:
		return false
	}
}

// FilterDocuments возвращает документы, видимые пользователю.
// Пустой входной срез — не ошибка; отказ в действии view_documents — ошибка.
func FilterDocuments(u *model.User, docs []*model.Document) ([]*model.Document, error) {
	if err := Authorize(u, ActionViewDocuments); err != nil {
		return nil, err
	}
	visible := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		if CanSeeDocument(u, d) {
			visible = append(visible, d)
		}
	}
	return visible, nil
}

// RoleForClassification возвращает требуемую роль проверяющего для грифа.
// PUBLIC → reviewer, PRIVATE → teacher.
func RoleForClassification(c model.Classification) (model.Role, error) {
	switch c {
	case model.ClassificationPublic:
		return model.RoleReviewer, nil
	case model.ClassificationPrivate:
		return model.RoleTeacher, nil
	default:
		return "", fmt.Errorf("недопустимый гриф: %q", c)
	}
}

// CanClaimAs проверяет, может ли пользователь брать записи очереди,
// требующие роль required. Администратор может брать любые.
func CanClaimAs(u *model.User, required model.Role) bool {
	if u == nil || !u.Active {
		return false
	}
	return u.HasRole(required) || u.HasRole(model.RoleAdmin)
}
