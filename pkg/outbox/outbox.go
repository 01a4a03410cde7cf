// Package outbox реализует Outbox Pattern: событие пишется в таблицу outbox
// в той же транзакции, что и изменение интента, а OutboxWorker
// доставляет его в Kafka с гарантией at-least-once.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox - запись в таблице outbox.
type Outbox struct {
	ID            string            // UUID записи
	AggregateType string            // Тип агрегата ("intent")
	AggregateID   string            // ID агрегата (intent_id)
	EventType     string            // Тип события (svpay.intent.confirmed)
	Topic         string            // Kafka топик
	MessageKey    string            // Ключ сообщения для партиционирования
	Payload       []byte            // JSON payload
	Headers       map[string]string // trace_id, correlation_id, event_type
	CreatedAt     time.Time         // Время создания
	PublishedAt   *time.Time        // nil - ещё не отправлена
	DeadLetterAt  *time.Time        // Выведена из очереди после MaxRetries
	RetryCount    int               // Количество неудачных попыток
	LastError     *string           // Последняя ошибка
}

// New создаёт запись outbox для события агрегата. Ключ сообщения - ID агрегата.
func New(aggregateType, aggregateID, eventType, topic string, payload []byte, headers map[string]string) *Outbox {
	return &Outbox{
		ID:            uuid.New().String(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       payload,
		Headers:       headers,
		CreatedAt:     time.Now(),
	}
}

// Pending сообщает, ждёт ли запись отправки.
func (o *Outbox) Pending() bool {
	return o.PublishedAt == nil && o.DeadLetterAt == nil
}

// HeadersJSON возвращает headers в формате JSON для БД.
func (o *Outbox) HeadersJSON() ([]byte, error) {
	if o.Headers == nil {
		return nil, nil
	}
	return json.Marshal(o.Headers)
}

// SetHeadersFromJSON устанавливает headers из JSON.
func (o *Outbox) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &o.Headers)
}
