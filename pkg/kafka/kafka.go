// Package kafka предоставляет обёртку над kafka-go для публикации событий SV Pay.
package kafka

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/studentverse/pkg/logger"
)

// TopicIntentEvents - топик событий жизненного цикла платёжных интентов.
const TopicIntentEvents = "svpay.intent.events"

// Ключи headers сообщений.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"
)

// Config содержит настройки подключения к Kafka.
type Config struct {
	Brokers []string
}

// TopicSpec - описание топика для EnsureTopics.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

// DefaultTopics возвращает топики, нужные SV Pay.
func DefaultTopics() []TopicSpec {
	return []TopicSpec{
		{Name: TopicIntentEvents, Partitions: 3, ReplicationFactor: 1},
	}
}

// Message - сообщение Kafka с метаданными.
type Message struct {
	Key     []byte            // Ключ партиционирования (intent_id)
	Value   []byte            // JSON payload
	Topic   string            // Топик
	Headers map[string]string // trace_id, correlation_id, event_type
	Time    time.Time         // Время создания
}

// toKafkaMessage конвертирует Message в kafka.Message.
func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// EnsureTopics создаёт отсутствующие топики через controller брокер.
// Уже существующие топики не считаются ошибкой.
func EnsureTopics(brokers []string, topics []TopicSpec) error {
	if len(brokers) == 0 {
		return fmt.Errorf("не указаны брокеры Kafka")
	}

	conn, err := kafka.Dial("tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("ошибка подключения к Kafka: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("ошибка получения controller: %w", err)
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("ошибка подключения к controller: %w", err)
	}
	defer controllerConn.Close()

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, t := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             t.Name,
			NumPartitions:     t.Partitions,
			ReplicationFactor: t.ReplicationFactor,
		})
	}

	if err := controllerConn.CreateTopics(configs...); err != nil {
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	logger.Info().Int("count", len(configs)).Msg("Топики Kafka проверены")
	return nil
}

// TraceIDFromContext извлекает trace_id из context (делегирует в pkg/logger).
func TraceIDFromContext(ctx context.Context) string {
	return logger.TraceIDFromContext(ctx)
}

// CorrelationIDFromContext извлекает correlation_id из context (делегирует в pkg/logger).
func CorrelationIDFromContext(ctx context.Context) string {
	return logger.CorrelationIDFromContext(ctx)
}
