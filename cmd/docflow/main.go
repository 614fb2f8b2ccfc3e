// Точка входа DocFlow — оркестрационное ядро конвейера распознавания
// и проверки отсканированных документов.
// Загружает конфигурацию, подключается к хранилищу, применяет миграции,
// создаёт сервисный слой, очередь распознавания, пул воркеров и менеджер
// очереди проверки, запускает topologymetrics и HTTP-сервер
// с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/docflow/internal/api"
	"github.com/bigkaa/docflow/internal/api/handlers"
	"github.com/bigkaa/docflow/internal/api/middleware"
	"github.com/bigkaa/docflow/internal/audit"
	"github.com/bigkaa/docflow/internal/config"
	"github.com/bigkaa/docflow/internal/database"
	"github.com/bigkaa/docflow/internal/domain/model"
	"github.com/bigkaa/docflow/internal/export"
	"github.com/bigkaa/docflow/internal/ocr"
	"github.com/bigkaa/docflow/internal/orchestrator"
	"github.com/bigkaa/docflow/internal/queue"
	"github.com/bigkaa/docflow/internal/repository"
	"github.com/bigkaa/docflow/internal/review"
	"github.com/bigkaa/docflow/internal/server"
	"github.com/bigkaa/docflow/internal/service"
	"github.com/bigkaa/docflow/internal/worker"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("DocFlow запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.Store),
	)

	ctx := context.Background()

	// 3. Валидация встроенного OpenAPI контракта.
	// Контракт поддерживается вручную — битый документ останавливает запуск.
	if _, err := api.LoadSpec(ctx); err != nil {
		logger.Error("Ошибка OpenAPI контракта", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Хранилище: PostgreSQL или in-memory
	var (
		store        repository.Store
		storeChecker handlers.ReadinessChecker
		pgDB         *sql.DB
	)
	if cfg.Store == "postgres" {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
		// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
		// что позволяет обнаружить его исчерпание.
		pgDB = stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewPostgresStore(pool)
		storeChecker = database.NewReadinessChecker(pool)
	} else {
		store = repository.NewMemoryStore()
	}

	// 5. Журнал аудита
	auditLog, err := audit.New(cfg.AuditDir, cfg.AuditMaxEntries, logger)
	if err != nil {
		logger.Error("Ошибка инициализации журнала аудита", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Клиент архивной системы (опционально)
	var exporter service.Exporter
	if cfg.ExportURL != "" {
		archiveClient, err := export.New(cfg.ExportURL, cfg.ExportCACertPath, logger)
		if err != nil {
			logger.Error("Ошибка создания клиента архивной системы", slog.String("error", err.Error()))
			os.Exit(1)
		}
		exporter = archiveClient
		logger.Info("Клиент архивной системы создан", slog.String("url", cfg.ExportURL))
	}

	// 7. Сервис документов с LRU-кэшем чтения
	cache := service.NewDocumentCache(cfg.CacheSize, cfg.CacheTTL)
	docs := service.NewDocumentService(store, auditLog, cache, exporter, logger)

	// 8. Очередь распознавания и оркестратор
	q := queue.New(cfg.QueueVisibilityTimeout, cfg.QueuePollInterval, logger)
	q.Start(ctx)

	orch := orchestrator.New(store, docs, q, cfg.OCRRetryLimit, cfg.OCRRetryBackoff, logger)

	// 9. Менеджер очереди проверки
	reviews := review.New(store, docs, cfg.SLADefault, cfg.EscalationThreshold, cfg.SLASweepInterval, logger)
	reviews.Start(ctx)

	// Распознанные документы встают в очередь проверки;
	// смена грифа перемаршрутизирует активные записи.
	orch.OnProcessed = func(ctx context.Context, doc *model.Document) {
		if _, err := reviews.Enqueue(ctx, doc); err != nil {
			logger.Error("Ошибка постановки документа в очередь проверки",
				slog.String("document_id", doc.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	docs.OnReclassify = reviews.Reroute

	// 10. OCR-провайдер и пул воркеров
	var provider ocr.Provider
	if cfg.OCRProvider == "stub" {
		provider = ocr.NewStubProvider()
	} else {
		provider = ocr.NewTesseractProvider()
	}

	pool := worker.NewPool(q, worker.NewLocalFetcher(store.Documents()), provider, orch, orch, cfg.Workers, logger)
	pool.Start(ctx)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(cfg.JWKSURL, cfg.JWKSCACertPath, cfg.JWTRolesClaim, logger)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован", slog.String("jwks_url", cfg.JWKSURL))

	// 12. topologymetrics — мониторинг зависимостей
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     "docflow",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PGConnURL:     cfg.DatabaseDSN(),
		JWKSURL:       cfg.JWKSURL,
		ExportURL:     cfg.ExportURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
			defer dephealthSvc.Stop()
		}
	}

	// 13. Handlers и HTTP-сервер
	healthHandler := handlers.NewHealthHandler(storeChecker, auditLog)
	apiHandler := handlers.NewAPIHandler(docs, orch, reviews, store.Users(), logger)

	srv := server.New(cfg, logger, apiHandler, healthHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		server.JWTAuthWithExclusions(jwtAuth.Middleware(), "/health", "/metrics"),
	)

	// 14. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Остановка фоновых компонентов
	pool.Stop()
	reviews.Stop()
	q.Stop()

	logger.Info("DocFlow остановлен")
}
