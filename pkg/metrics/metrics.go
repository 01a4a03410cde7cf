// Package metrics предоставляет Prometheus метрики SV Pay и HTTP server для /metrics.
//
// Типы метрик:
//   - Counter: только растёт (запросы, операции с интентами)
//   - Histogram: распределение значений (latency)
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/studentverse/pkg/logger"
)

// =============================================================================
// Метрики
// =============================================================================

var (
	// RequestsTotal - счётчик HTTP запросов.
	// PromQL: rate(requests_total{service="svpay"}[5m])
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, методу и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration - гистограмма latency запросов, от 5ms до 10s.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)

	// IntentOperations - операции с платёжными интентами и их результат.
	// PromQL: sum by (result) (rate(svpay_intent_operations_total{operation="confirm"}[5m]))
	IntentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svpay_intent_operations_total",
			Help: "Количество операций authorize/confirm/void/lookup/reset по результату",
		},
		[]string{"operation", "result"},
	)

	// DiscountsGranted - сколько авторизаций получили скидку, по коду причины.
	DiscountsGranted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svpay_discounts_granted_total",
			Help: "Количество применённых скидок по reason_code",
		},
		[]string{"reason_code"},
	)

	// OutboxEvents - результат доставки событий из outbox в Kafka.
	OutboxEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "svpay_outbox_events_total",
			Help: "События outbox по результату: published / failed / dead_letter",
		},
		[]string{"worker", "result"},
	)

	// OutboxPending - сколько событий ждёт отправки. Растущее значение значит, что Kafka недоступна.
	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "svpay_outbox_pending",
			Help: "Размер очереди outbox",
		},
		[]string{"worker"},
	)
)

// Результаты доставки для OutboxEvents.
const (
	OutboxPublished  = "published"
	OutboxFailed     = "failed"
	OutboxDeadLetter = "dead_letter"
)

// Результаты операций для IntentOperations.
const (
	ResultSuccess           = "success"
	ResultInvalidAmount     = "invalid_amount"
	ResultNotFound          = "not_found"
	ResultInvalidTransition = "invalid_transition"
	ResultConflict          = "conflict"
	ResultError             = "error"
)

// =============================================================================
// HTTP Server для /metrics endpoint
// =============================================================================

// ReadinessChecker - проверка готовности сервиса для /readyz.
type ReadinessChecker func(ctx context.Context) error

// Server - HTTP сервер для экспорта метрик Prometheus и health probes.
type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

// Option - функциональная опция для настройки Server.
type Option func(*Server)

// WithReadinessCheck добавляет проверку готовности для /readyz.
// Если checker возвращает ошибку - /readyz отвечает 503.
func WithReadinessCheck(checker func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

// NewServer создаёт metrics server на addr (например ":9090").
func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"alive"}`))
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler возвращает http.Handler сервера (используется в тестах).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleReady - readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.readinessCheck == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		// Детали ошибки наружу не отдаём
		_, _ = w.Write([]byte(`{"status":"not_ready"}`))
		logger.Warn().Err(err).Str("service", s.service).Msg("Readiness check failed")
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// Start запускает HTTP сервер. Блокирующий вызов - запускать в горутине.
func (s *Server) Start() error {
	logger.Info().
		Str("service", s.service).
		Str("addr", s.httpServer.Addr).
		Msg("Запуск Metrics Server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully останавливает сервер.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// =============================================================================
// Запись метрик
// =============================================================================

// RecordRequest записывает метрики запроса: status - "success" или "error".
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordIntentOperation увеличивает счётчик операций с интентами.
func RecordIntentOperation(operation, result string) {
	IntentOperations.WithLabelValues(operation, result).Inc()
}

// RecordDiscount отмечает выданную скидку.
func RecordDiscount(reasonCode string) {
	DiscountsGranted.WithLabelValues(reasonCode).Inc()
}

// RecordOutboxEvent увеличивает счётчик доставки событий outbox.
func RecordOutboxEvent(worker, result string) {
	OutboxEvents.WithLabelValues(worker, result).Inc()
}

// SetOutboxPending выставляет размер очереди outbox.
func SetOutboxPending(worker string, n int64) {
	OutboxPending.WithLabelValues(worker).Set(float64(n))
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds для HTTP запросов.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}

		RecordRequest(service, c.FullPath(), status, time.Since(start))
	}
}
