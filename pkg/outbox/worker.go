package outbox

import (
	"context"
	"time"

	"example.com/studentverse/pkg/kafka"
	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/pkg/metrics"
)

// KafkaProducer - отправка сообщений в Kafka (kafka.Producer или мок в тестах).
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// WorkerConfig - настройки Outbox Worker.
type WorkerConfig struct {
	PollInterval time.Duration // Интервал опроса таблицы outbox
	BatchSize    int           // Записей за один проход
	MaxRetries   int           // Столько неудачных попыток, после чего запись уходит в dead letter
	Retention    time.Duration // Сколько хранить опубликованные записи
}

// DefaultWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 1 * time.Second,
		BatchSize:    100,
		MaxRetries:   5,
		Retention:    7 * 24 * time.Hour,
	}
}

// purgeInterval - как часто удалять опубликованные записи.
const purgeInterval = 1 * time.Hour

// batchStats - итог одного прохода по очереди.
type batchStats struct {
	published  int
	failed     int
	deadLetter int
}

// OutboxWorker публикует события интентов из outbox в Kafka (at-least-once).
type OutboxWorker struct {
	repo     OutboxRepository
	producer KafkaProducer
	cfg      WorkerConfig
	name     string // Имя в логах и label метрик, например "svpay"
}

func NewOutboxWorker(repo OutboxRepository, producer KafkaProducer, cfg WorkerConfig, name string) *OutboxWorker {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultWorkerConfig().Retention
	}
	return &OutboxWorker{
		repo:     repo,
		producer: producer,
		cfg:      cfg,
		name:     name,
	}
}

// Run опрашивает outbox до отмены контекста.
func (w *OutboxWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("worker", w.name).Logger()
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Int("max_retries", w.cfg.MaxRetries).
		Msg("Запуск Outbox Worker")

	poll := time.NewTicker(w.cfg.PollInterval)
	defer poll.Stop()

	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Outbox Worker")
			return
		case <-poll.C:
			w.processOutbox(ctx)
		case <-purge.C:
			w.purgePublished(ctx)
		}
	}
}

// processOutbox отправляет одну пачку и обновляет gauge очереди.
func (w *OutboxWorker) processOutbox(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("worker", w.name).Logger()

	records, err := w.repo.FetchPending(ctx, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка чтения outbox")
		return
	}
	if len(records) == 0 {
		metrics.SetOutboxPending(w.name, 0)
		return
	}

	var stats batchStats
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		w.handle(ctx, record, &stats)
	}

	log.Debug().
		Int("published", stats.published).
		Int("failed", stats.failed).
		Int("dead_letter", stats.deadLetter).
		Msg("Пачка outbox обработана")

	w.refreshPending(ctx)
}

// handle доставляет запись или выводит её в dead letter.
func (w *OutboxWorker) handle(ctx context.Context, record *Outbox, stats *batchStats) {
	log := logger.FromContext(ctx).With().
		Str("worker", w.name).
		Str("outbox_id", record.ID).
		Str("event_type", record.EventType).
		Str("intent_id", record.AggregateID).
		Logger()

	if record.RetryCount >= w.cfg.MaxRetries {
		if err := w.repo.MarkDeadLetter(ctx, record.ID); err != nil {
			log.Error().Err(err).Msg("Ошибка перевода записи outbox в dead letter")
			return
		}
		stats.deadLetter++
		metrics.RecordOutboxEvent(w.name, metrics.OutboxDeadLetter)

		var lastErr string
		if record.LastError != nil {
			lastErr = *record.LastError
		}
		log.Warn().
			Int("retry_count", record.RetryCount).
			Str("last_error", lastErr).
			Msg("Событие выведено в dead letter")
		return
	}

	if err := w.ProcessSingle(ctx, record); err != nil {
		stats.failed++
		metrics.RecordOutboxEvent(w.name, metrics.OutboxFailed)
		log.Error().Err(err).Str("topic", record.Topic).Msg("Ошибка отправки события в Kafka")
		return
	}

	stats.published++
	metrics.RecordOutboxEvent(w.name, metrics.OutboxPublished)
}

// ProcessSingle отправляет одну запись и фиксирует результат в outbox.
// Headers записи (trace_id, correlation_id, event_type) уходят в headers сообщения.
func (w *OutboxWorker) ProcessSingle(ctx context.Context, record *Outbox) error {
	msg := &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: record.Headers,
	}

	if err := w.producer.SendMessage(ctx, msg); err != nil {
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			logger.Ctx(ctx).Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return err
	}

	return w.repo.MarkPublished(ctx, record.ID)
}

func (w *OutboxWorker) refreshPending(ctx context.Context) {
	n, err := w.repo.CountPending(ctx)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("worker", w.name).Msg("Не удалось посчитать очередь outbox")
		return
	}
	metrics.SetOutboxPending(w.name, n)
}

// purgePublished удаляет опубликованные записи старше Retention.
func (w *OutboxWorker) purgePublished(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("worker", w.name).Logger()

	deleted, err := w.repo.PurgePublished(ctx, time.Now().Add(-w.cfg.Retention))
	if err != nil {
		log.Error().Err(err).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Msg("Опубликованные записи outbox удалены")
	}
}
