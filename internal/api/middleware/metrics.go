// metrics.go — Prometheus HTTP метрики оркестрационного ядра.
// Регистрирует метрики: df_http_requests_total, df_http_request_duration_seconds.
// Бизнес-метрики (очередь, задания, проверки) регистрируются
// в соответствующих пакетах.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "df_http_requests_total",
			Help: "Общее количество HTTP-запросов к оркестрационному ядру",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "df_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к оркестрационному ядру в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// idResources — коллекции API, у которых третий сегмент пути — идентификатор.
var idResources = map[string]bool{
	"documents":   true,
	"jobs":        true,
	"reviews":     true,
	"assignments": true,
	"projects":    true,
}

// normalizePath заменяет идентификаторы ресурсов на {id} для
// предотвращения взрывного роста кардинальности метрик.
// /api/v1/documents/7f3a.../export → /api/v1/documents/{id}/export
func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/api/v1/") {
		return path
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	// segments: ["api", "v1", resource, id, action...]
	if len(segments) < 4 || !idResources[segments[2]] {
		return path
	}
	segments[3] = "{id}"
	return "/" + strings.Join(segments, "/")
}
