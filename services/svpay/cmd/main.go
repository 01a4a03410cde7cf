// SV Pay - сервис платёжных интентов StudentVerse: authorize / confirm / void
// со студенческой скидкой, рассчитанной при авторизации.
//
// Хранилище выбирается STORE_DRIVER: memory (по умолчанию) или mysql. В режиме
// mysql события жизненного цикла пишутся в outbox и доставляются в Kafka.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/studentverse/pkg/config"
	dbpkg "example.com/studentverse/pkg/db"
	"example.com/studentverse/pkg/healthcheck"
	"example.com/studentverse/pkg/kafka"
	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/pkg/metrics"
	"example.com/studentverse/pkg/outbox"
	"example.com/studentverse/pkg/tracing"
	"example.com/studentverse/services/svpay/internal/discount"
	"example.com/studentverse/services/svpay/internal/handler"
	"example.com/studentverse/services/svpay/internal/middleware"
	"example.com/studentverse/services/svpay/internal/repository"
	"example.com/studentverse/services/svpay/internal/service"
)

// envFileVar - путь к .env файлу; без него читается ./.env, если он есть.
const envFileVar = "SVPAY_ENV_FILE"

func loadConfig() (*config.Config, error) {
	if path := os.Getenv(envFileVar); path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})
	logger.SetGlobalLogger(logger.With().Str("service", cfg.App.Name).Logger())
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Str("store", cfg.Store.Driver).
		Str("addr", cfg.HTTP.Addr()).
		Msg("Запуск SV Pay")

	// === Observability: Tracing ===

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    cfg.App.Name,
		Environment:    cfg.App.Env,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	var checks []healthcheck.Check

	var db *gorm.DB
	if cfg.Store.Driver == config.StoreDriverMySQL {
		db, err = dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
		}
		if err := dbpkg.Migrate(db, &repository.IntentModel{}, &outbox.OutboxModel{}); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции схемы")
		}
		checks = append(checks, healthcheck.MySQL(db))
		log.Info().Msg("Подключение к MySQL установлено")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = dbpkg.ConnectRedis(cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
		}
		checks = append(checks, healthcheck.Redis(rdb))
		log.Info().Msg("Подключение к Redis установлено")
	}

	readinessCheck := healthcheck.Composite(checks...)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), cfg.App.Name, metrics.WithReadinessCheck(readinessCheck))
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Инициализация бизнес-логики ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup
	var kafkaProducer *kafka.Producer

	var repo repository.IntentRepository
	switch {
	case db != nil && cfg.Kafka.Enabled():
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		repo = repository.NewIntentRepository(db, repository.WithOutbox(kafka.TopicIntentEvents))

		outboxRepo := outbox.NewOutboxRepository(db, repository.AggregateType)
		worker := outbox.NewOutboxWorker(outboxRepo, kafkaProducer, outbox.WorkerConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			MaxRetries:   cfg.Outbox.MaxRetries,
			Retention:    cfg.Outbox.Retention,
		}, cfg.App.Name)
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("Паника в Outbox Worker")
				}
			}()
			worker.Run(ctx)
		}()
		log.Info().Msg("Outbox Worker запущен")
	case db != nil:
		log.Warn().Msg("Kafka не настроена - события интентов не публикуются")
		repo = repository.NewIntentRepository(db)
	default:
		repo = repository.NewMemoryRepository()
	}

	policy := discount.NewStudentPolicy(cfg.Discount.Probability, cfg.Discount.Rate, cfg.Discount.ReasonCode)

	var svcOpts []service.Option
	if rdb != nil {
		svcOpts = append(svcOpts, service.WithRedis(rdb, cfg.Idempotency.TTL))
	}
	intentService := service.NewIntentService(repo, policy, svcOpts...)

	// === HTTP ===

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled && rdb != nil {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Limit:  cfg.RateLimit.RequestsLimit,
			Window: cfg.RateLimit.Window,
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:    cfg.App.Name,
		Service:        intentService,
		RateLimitMW:    rateLimitMW,
		TracingMW:      middleware.NewTracingMiddleware(),
		ReadinessCheck: handler.ReadinessChecker(readinessCheck),
		ResetEnabled:   cfg.Admin.ResetEnabled,
		Debug:          cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")
	case err := <-serverErr:
		log.Error().Err(err).Msg("Ошибка HTTP сервера")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	// Останавливаем Outbox Worker до закрытия producer и БД
	cancel()
	workersWg.Wait()

	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
	}
	if db != nil {
		if err := dbpkg.CloseMySQL(db); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("SV Pay остановлен")
}
