// Пакет config — загрузка и валидация конфигурации DocFlow
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации DocFlow.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Таймаут чтения HTTP-запроса
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-ответа
	HTTPWriteTimeout time.Duration
	// Таймаут простоя keep-alive соединений
	HTTPIdleTimeout time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище ---

	// Тип хранилища: memory или postgres
	Store string

	// --- PostgreSQL (только при Store=postgres) ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации
	JWKSURL string
	// Путь к CA-сертификату для TLS-соединения с JWKS (опционально)
	JWKSCACertPath string
	// Claim для ролей в JWT
	JWTRolesClaim string

	// --- Распознавание ---

	// Провайдер OCR: tesseract или stub
	OCRProvider string
	// Максимальное число повторов распознавания одного документа
	OCRRetryLimit int
	// Базовая задержка перед повтором (растёт экспоненциально)
	OCRRetryBackoff time.Duration
	// Число воркеров распознавания
	Workers int

	// --- Очередь ---

	// Visibility timeout: через сколько невыполненная единица
	// работы возвращается в очередь
	QueueVisibilityTimeout time.Duration
	// Интервал опроса очереди воркером при простое
	QueuePollInterval time.Duration

	// --- Проверка (review) ---

	// SLA по умолчанию для документов проектов без собственного SLA
	SLADefault time.Duration
	// Интервал фонового прохода по просроченным записям
	SLASweepInterval time.Duration
	// Порог эскалации: после скольких нарушений запись уходит админу
	EscalationThreshold int

	// --- Аудит ---

	// Каталог файлов аудита
	AuditDir string
	// Максимальное число записей аудита в памяти
	AuditMaxEntries int

	// --- Экспорт ---

	// URL внешней системы экспорта (опционально; пустой — экспорт отключён)
	ExportURL string
	// Путь к CA-сертификату для TLS-соединения с системой экспорта
	ExportCACertPath string

	// --- Кэш чтения ---

	// Размер LRU-кэша документов
	CacheSize int
	// TTL записей кэша
	CacheTTL time.Duration

	// --- Зависимости ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DF_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("DF_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DF_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DF_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// DF_HTTP_READ_TIMEOUT — таймаут чтения (по умолчанию 30s)
	cfg.HTTPReadTimeout, err = getEnvDuration("DF_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_HTTP_READ_TIMEOUT: %w", err)
	}

	// DF_HTTP_WRITE_TIMEOUT — таймаут записи (по умолчанию 60s)
	cfg.HTTPWriteTimeout, err = getEnvDuration("DF_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_HTTP_WRITE_TIMEOUT: %w", err)
	}

	// DF_HTTP_IDLE_TIMEOUT — таймаут простоя (по умолчанию 120s)
	cfg.HTTPIdleTimeout, err = getEnvDuration("DF_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// DF_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DF_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DF_LOG_LEVEL: %w", err)
	}

	// DF_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DF_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DF_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище ---

	// DF_STORE — тип хранилища (по умолчанию memory)
	cfg.Store = getEnvDefault("DF_STORE", "memory")
	if cfg.Store != "memory" && cfg.Store != "postgres" {
		return nil, fmt.Errorf("DF_STORE: недопустимое значение %q, допустимые: memory, postgres", cfg.Store)
	}

	// --- PostgreSQL ---

	if cfg.Store == "postgres" {
		// DF_DB_HOST — обязательный при Store=postgres
		cfg.DBHost, err = getEnvRequired("DF_DB_HOST")
		if err != nil {
			return nil, err
		}

		// DF_DB_PORT — порт PostgreSQL (по умолчанию 5432)
		cfg.DBPort, err = getEnvInt("DF_DB_PORT", 5432)
		if err != nil {
			return nil, fmt.Errorf("DF_DB_PORT: %w", err)
		}

		// DF_DB_NAME — обязательный
		cfg.DBName, err = getEnvRequired("DF_DB_NAME")
		if err != nil {
			return nil, err
		}

		// DF_DB_USER — обязательный
		cfg.DBUser, err = getEnvRequired("DF_DB_USER")
		if err != nil {
			return nil, err
		}

		// DF_DB_PASSWORD — обязательный
		cfg.DBPassword, err = getEnvRequired("DF_DB_PASSWORD")
		if err != nil {
			return nil, err
		}

		// DF_DB_SSL_MODE — режим SSL (по умолчанию disable)
		cfg.DBSSLMode = getEnvDefault("DF_DB_SSL_MODE", "disable")
		validSSLModes := map[string]bool{
			"disable": true, "require": true, "verify-ca": true, "verify-full": true,
		}
		if !validSSLModes[cfg.DBSSLMode] {
			return nil, fmt.Errorf("DF_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
		}
	}

	// --- JWT ---

	// DF_JWKS_URL — обязательный
	cfg.JWKSURL, err = getEnvRequired("DF_JWKS_URL")
	if err != nil {
		return nil, err
	}
	cfg.JWKSURL = strings.TrimRight(cfg.JWKSURL, "/")

	// DF_JWKS_CA_CERT_PATH — путь к CA-сертификату JWKS (опционально)
	cfg.JWKSCACertPath = getEnvDefault("DF_JWKS_CA_CERT_PATH", "")

	// DF_JWT_ROLES_CLAIM — claim для ролей (по умолчанию realm_access.roles)
	cfg.JWTRolesClaim = getEnvDefault("DF_JWT_ROLES_CLAIM", "realm_access.roles")

	// --- Распознавание ---

	// DF_OCR_PROVIDER — провайдер OCR (по умолчанию tesseract)
	cfg.OCRProvider = getEnvDefault("DF_OCR_PROVIDER", "tesseract")
	if cfg.OCRProvider != "tesseract" && cfg.OCRProvider != "stub" {
		return nil, fmt.Errorf("DF_OCR_PROVIDER: недопустимое значение %q, допустимые: tesseract, stub", cfg.OCRProvider)
	}

	// DF_OCR_RETRY_LIMIT — максимум повторов распознавания (по умолчанию 3)
	cfg.OCRRetryLimit, err = getEnvInt("DF_OCR_RETRY_LIMIT", 3)
	if err != nil {
		return nil, fmt.Errorf("DF_OCR_RETRY_LIMIT: %w", err)
	}
	if cfg.OCRRetryLimit < 0 || cfg.OCRRetryLimit > 10 {
		return nil, fmt.Errorf("DF_OCR_RETRY_LIMIT: значение %d вне допустимого диапазона 0-10", cfg.OCRRetryLimit)
	}

	// DF_OCR_RETRY_BACKOFF — базовая задержка повтора (по умолчанию 5s)
	cfg.OCRRetryBackoff, err = getEnvDuration("DF_OCR_RETRY_BACKOFF", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_OCR_RETRY_BACKOFF: %w", err)
	}

	// DF_WORKERS — число воркеров распознавания (по умолчанию 4)
	cfg.Workers, err = getEnvInt("DF_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("DF_WORKERS: %w", err)
	}
	if cfg.Workers < 1 || cfg.Workers > 64 {
		return nil, fmt.Errorf("DF_WORKERS: значение %d вне допустимого диапазона 1-64", cfg.Workers)
	}

	// --- Очередь ---

	// DF_QUEUE_VISIBILITY_TIMEOUT — visibility timeout (по умолчанию 2m)
	cfg.QueueVisibilityTimeout, err = getEnvDuration("DF_QUEUE_VISIBILITY_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DF_QUEUE_VISIBILITY_TIMEOUT: %w", err)
	}

	// DF_QUEUE_POLL_INTERVAL — интервал опроса очереди (по умолчанию 500ms)
	cfg.QueuePollInterval, err = getEnvDuration("DF_QUEUE_POLL_INTERVAL", 500*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("DF_QUEUE_POLL_INTERVAL: %w", err)
	}

	// --- Проверка ---

	// DF_SLA_DEFAULT — SLA по умолчанию (по умолчанию 72h)
	cfg.SLADefault, err = getEnvDuration("DF_SLA_DEFAULT", 72*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("DF_SLA_DEFAULT: %w", err)
	}

	// DF_SLA_SWEEP_INTERVAL — интервал SLA-прохода (по умолчанию 1m)
	cfg.SLASweepInterval, err = getEnvDuration("DF_SLA_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DF_SLA_SWEEP_INTERVAL: %w", err)
	}

	// DF_ESCALATION_THRESHOLD — порог эскалации (по умолчанию 3)
	cfg.EscalationThreshold, err = getEnvInt("DF_ESCALATION_THRESHOLD", 3)
	if err != nil {
		return nil, fmt.Errorf("DF_ESCALATION_THRESHOLD: %w", err)
	}
	if cfg.EscalationThreshold < 1 {
		return nil, fmt.Errorf("DF_ESCALATION_THRESHOLD: значение %d должно быть положительным", cfg.EscalationThreshold)
	}

	// --- Аудит ---

	// DF_AUDIT_DIR — каталог аудита (по умолчанию ./audit)
	cfg.AuditDir = getEnvDefault("DF_AUDIT_DIR", "./audit")

	// DF_AUDIT_MAX_ENTRIES — максимум записей аудита в памяти (по умолчанию 10000)
	cfg.AuditMaxEntries, err = getEnvInt("DF_AUDIT_MAX_ENTRIES", 10000)
	if err != nil {
		return nil, fmt.Errorf("DF_AUDIT_MAX_ENTRIES: %w", err)
	}
	if cfg.AuditMaxEntries < 1 {
		return nil, fmt.Errorf("DF_AUDIT_MAX_ENTRIES: значение %d должно быть положительным", cfg.AuditMaxEntries)
	}

	// --- Экспорт ---

	// DF_EXPORT_URL — URL системы экспорта (опционально)
	cfg.ExportURL = strings.TrimRight(getEnvDefault("DF_EXPORT_URL", ""), "/")

	// DF_EXPORT_CA_CERT_PATH — CA-сертификат системы экспорта (опционально)
	cfg.ExportCACertPath = getEnvDefault("DF_EXPORT_CA_CERT_PATH", "")

	// --- Кэш чтения ---

	// DF_CACHE_SIZE — размер LRU-кэша (по умолчанию 1000)
	cfg.CacheSize, err = getEnvInt("DF_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DF_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("DF_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}

	// DF_CACHE_TTL — TTL кэша (по умолчанию 30s)
	cfg.CacheTTL, err = getEnvDuration("DF_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_CACHE_TTL: %w", err)
	}

	// --- Зависимости ---

	// DF_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("DF_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// DF_DEPHEALTH_GROUP — имя группы в метриках topologymetrics (по умолчанию docflow)
	cfg.DephealthGroup = getEnvDefault("DF_DEPHEALTH_GROUP", "docflow")

	// --- Graceful shutdown ---

	// DF_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("DF_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DF_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
