// auth.go — JWT middleware для аутентификации через JWKS Keycloak.
// Claims: sub, preferred_username и роли из настраиваемого claim
// (DF_JWT_ROLES_CLAIM, по умолчанию realm_access.roles). Роли токена
// маппятся в доменные роли (admin, reviewer, teacher); неизвестные
// роли игнорируются. Публичные endpoints (health, metrics) — без
// аутентификации (см. server.JWTAuthWithExclusions).
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/docflow/internal/api/errors"
	"github.com/bigkaa/docflow/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "jwt_claims"
)

// DefaultRolesClaim — путь claim с ролями по умолчанию (Keycloak realm roles).
// Сегменты вложенности разделяются точкой.
const DefaultRolesClaim = "realm_access.roles"

// AuthClaims — извлечённые и обработанные claims из JWT.
// Помещаются в контекст запроса для downstream handlers.
type AuthClaims struct {
	// Subject — sub из JWT (идентификатор пользователя в IdP).
	Subject string
	// PreferredUsername — preferred_username из JWT.
	PreferredUsername string
	// Roles — доменные роли, извлечённые из claim с ролями.
	Roles []model.Role
}

// User строит доменного пользователя из claims токена.
// Используется, когда пользователь не зарегистрирован в хранилище.
func (c *AuthClaims) User() *model.User {
	username := c.PreferredUsername
	if username == "" {
		username = c.Subject
	}
	return &model.User{
		ID:       c.Subject,
		Username: username,
		Roles:    c.Roles,
		Active:   true,
	}
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks       keyfunc.Keyfunc
	rolesClaim string
	logger     *slog.Logger
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
// caCertPath — опциональный путь к CA-сертификату для TLS.
// rolesClaim — путь claim с ролями; пустой — DefaultRolesClaim.
func NewJWTAuth(jwksURL, caCertPath, rolesClaim string, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	if rolesClaim == "" {
		rolesClaim = DefaultRolesClaim
	}
	return &JWTAuth{
		jwks:       k,
		rolesClaim: rolesClaim,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, rolesClaim string, logger *slog.Logger) *JWTAuth {
	if rolesClaim == "" {
		rolesClaim = DefaultRolesClaim
	}
	return &JWTAuth{
		jwks:       kf,
		rolesClaim: rolesClaim,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token, валидирует подпись (RS256), проверяет exp,
// маппит роли токена в доменные и помещает claims в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			raw := jwt.MapClaims{}
			token, err := jwt.ParseWithClaims(tokenString, raw, j.jwks.KeyfuncCtx(r.Context()),
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(30*time.Second),
			)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := raw.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			username, _ := raw["preferred_username"].(string)
			claims := &AuthClaims{
				Subject:           subject,
				PreferredUsername: username,
				Roles:             mapTokenRoles(raw, j.rolesClaim),
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// mapTokenRoles извлекает доменные роли из claim по пути rolesClaim
// (сегменты вложенности разделяются точкой). Keycloak кладёт в realm
// roles и служебные роли (offline_access, uma_authorization) —
// берутся только известные доменные.
func mapTokenRoles(raw jwt.MapClaims, rolesClaim string) []model.Role {
	var node any = map[string]any(raw)
	for _, seg := range strings.Split(rolesClaim, ".") {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}

	list, ok := node.([]any)
	if !ok {
		return nil
	}
	var roles []model.Role
	for _, v := range list {
		name, ok := v.(string)
		if !ok {
			continue
		}
		role := model.Role(name)
		if model.IsValidRole(role) {
			roles = append(roles, role)
		}
	}
	return roles
}

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// Close освобождает ресурсы JWT middleware.
func (j *JWTAuth) Close() {
	// keyfunc v3 не требует явного закрытия
}
