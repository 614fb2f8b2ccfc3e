package rbac

import (
	"errors"
	"testing"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// user возвращает активного пользователя с указанными ролями.
func user(roles ...model.Role) *model.User {
	return &model.User{
		ID:       "user-1",
		Username: "tester",
		Roles:    roles,
		Active:   true,
	}
}

// TestResolve_AccessLevels проверяет, что каждая роль разрешается
// ровно в один уровень доступа.
func TestResolve_AccessLevels(t *testing.T) {
	tests := []struct {
		name  string
		roles []model.Role
		want  AccessLevel
	}{
		{name: "admin → all", roles: []model.Role{model.RoleAdmin}, want: AccessAll},
		{name: "reviewer → public_only", roles: []model.Role{model.RoleReviewer}, want: AccessPublicOnly},
		{name: "teacher → assigned_only", roles: []model.Role{model.RoleTeacher}, want: AccessAssignedOnly},
		{
			name:  "reviewer + teacher → assigned_only (max)",
			roles: []model.Role{model.RoleReviewer, model.RoleTeacher},
			want:  AccessAssignedOnly,
		},
		{
			name:  "teacher + admin → all (max)",
			roles: []model.Role{model.RoleTeacher, model.RoleAdmin},
			want:  AccessAll,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(user(tt.roles...)).AccessLevel
			if got != tt.want {
				t.Errorf("Resolve(%v).AccessLevel = %q, хотели %q", tt.roles, got, tt.want)
			}
		})
	}
}

// TestResolve_Inactive проверяет, что неактивный пользователь
// получает пустой набор разрешений.
func TestResolve_Inactive(t *testing.T) {
	u := user(model.RoleAdmin)
	u.Active = false

	grant := Resolve(u)
	if len(grant.Permissions) != 0 {
		t.Errorf("неактивный пользователь получил %d разрешений", len(grant.Permissions))
	}
	if err := Authorize(u, ActionViewDocuments); !errors.Is(err, ErrForbidden) {
		t.Errorf("ожидался ErrForbidden, получено %v", err)
	}
}

// TestAuthorize проверяет явный отказ для недоступных действий.
func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		roles   []model.Role
		action  Action
		wantErr bool
	}{
		{name: "admin override", roles: []model.Role{model.RoleAdmin}, action: ActionOverrideState},
		{name: "reviewer claim", roles: []model.Role{model.RoleReviewer}, action: ActionClaimReview},
		{name: "reviewer override — запрещено", roles: []model.Role{model.RoleReviewer}, action: ActionOverrideState, wantErr: true},
		{name: "teacher submit ocr — запрещено", roles: []model.Role{model.RoleTeacher}, action: ActionSubmitOCR, wantErr: true},
		{name: "admin pause job", roles: []model.Role{model.RoleAdmin}, action: ActionPauseJob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(user(tt.roles...), tt.action)
			if tt.wantErr {
				if !errors.Is(err, ErrForbidden) {
					t.Errorf("ожидался ErrForbidden, получено %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
			}
		})
	}
}

// TestCanSeeDocument проверяет фильтрацию видимости по уровню доступа.
func TestCanSeeDocument(t *testing.T) {
	public := &model.Document{ID: "d1", ProjectID: "p1", Classification: model.ClassificationPublic}
	private := &model.Document{ID: "d2", ProjectID: "p1", Classification: model.ClassificationPrivate}
	unclassified := &model.Document{ID: "d3", ProjectID: "p2"}

	admin := user(model.RoleAdmin)
	reviewer := user(model.RoleReviewer)
	teacher := user(model.RoleTeacher)
	teacher.AssignedProjectIDs = []string{"p1"}

	tests := []struct {
		name string
		u    *model.User
		doc  *model.Document
		want bool
	}{
		{name: "admin видит приватный", u: admin, doc: private, want: true},
		{name: "admin видит неклассифицированный", u: admin, doc: unclassified, want: true},
		{name: "reviewer видит публичный", u: reviewer, doc: public, want: true},
		{name: "reviewer не видит приватный", u: reviewer, doc: private, want: false},
		{name: "reviewer не видит неклассифицированный", u: reviewer, doc: unclassified, want: false},
		{name: "teacher видит назначенный проект", u: teacher, doc: private, want: true},
		{name: "teacher не видит чужой проект", u: teacher, doc: unclassified, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanSeeDocument(tt.u, tt.doc); got != tt.want {
				t.Errorf("CanSeeDocument = %v, хотели %v", got, tt.want)
			}
		})
	}
}

// TestFilterDocuments проверяет, что отказ в доступе — явная ошибка,
// а не пустой результат.
func TestFilterDocuments(t *testing.T) {
	docs := []*model.Document{
		{ID: "d1", ProjectID: "p1", Classification: model.ClassificationPublic},
		{ID: "d2", ProjectID: "p1", Classification: model.ClassificationPrivate},
	}

	visible, err := FilterDocuments(user(model.RoleReviewer), docs)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != "d1" {
		t.Errorf("reviewer должен видеть только публичный документ, получено %d", len(visible))
	}

	inactive := user(model.RoleReviewer)
	inactive.Active = false
	if _, err := FilterDocuments(inactive, docs); !errors.Is(err, ErrForbidden) {
		t.Errorf("ожидался ErrForbidden, получено %v", err)
	}
}

// TestRoleForClassification проверяет маршрутизацию грифа в роль.
func TestRoleForClassification(t *testing.T) {
	if r, _ := RoleForClassification(model.ClassificationPublic); r != model.RoleReviewer {
		t.Errorf("PUBLIC → %q, хотели reviewer", r)
	}
	if r, _ := RoleForClassification(model.ClassificationPrivate); r != model.RoleTeacher {
		t.Errorf("PRIVATE → %q, хотели teacher", r)
	}
	if _, err := RoleForClassification(""); err == nil {
		t.Error("пустой гриф должен вернуть ошибку")
	}
}

// TestCanClaimAs проверяет правило взятия записи очереди.
func TestCanClaimAs(t *testing.T) {
	if !CanClaimAs(user(model.RoleTeacher), model.RoleTeacher) {
		t.Error("teacher должен брать teacher-записи")
	}
	if CanClaimAs(user(model.RoleReviewer), model.RoleTeacher) {
		t.Error("reviewer не должен брать teacher-записи")
	}
	if !CanClaimAs(user(model.RoleAdmin), model.RoleTeacher) {
		t.Error("admin должен брать любые записи")
	}
}
