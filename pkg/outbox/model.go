package outbox

import "time"

// OutboxModel - строка таблицы outbox.
type OutboxModel struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	AggregateType string     `gorm:"column:aggregate_type;type:varchar(32);not null;index:idx_outbox_queue,priority:1"`
	AggregateID   string     `gorm:"column:aggregate_id;type:varchar(36);not null;index:idx_outbox_aggregate_id"`
	EventType     string     `gorm:"column:event_type;type:varchar(64);not null"`
	Topic         string     `gorm:"column:topic;type:varchar(128);not null"`
	MessageKey    string     `gorm:"column:message_key;type:varchar(64);not null"`
	Payload       []byte     `gorm:"column:payload;type:json;not null"`
	Headers       []byte     `gorm:"column:headers;type:json"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time `gorm:"column:published_at;index:idx_outbox_queue,priority:2"`
	DeadLetterAt  *time.Time `gorm:"column:dead_letter_at;index:idx_outbox_queue,priority:3"`
	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	LastError     *string    `gorm:"column:last_error;type:text"`
}

func (OutboxModel) TableName() string {
	return "outbox"
}

// ToDomain собирает запись из строки. Битые headers отбрасываются, событие всё равно уходит.
func (m *OutboxModel) ToDomain() *Outbox {
	o := &Outbox{
		ID:            m.ID,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		EventType:     m.EventType,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       m.Payload,
		CreatedAt:     m.CreatedAt,
		PublishedAt:   m.PublishedAt,
		DeadLetterAt:  m.DeadLetterAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
	_ = o.SetHeadersFromJSON(m.Headers)
	return o
}

func ModelFromDomain(o *Outbox) *OutboxModel {
	headers, _ := o.HeadersJSON()
	return &OutboxModel{
		ID:            o.ID,
		AggregateType: o.AggregateType,
		AggregateID:   o.AggregateID,
		EventType:     o.EventType,
		Topic:         o.Topic,
		MessageKey:    o.MessageKey,
		Payload:       o.Payload,
		Headers:       headers,
		CreatedAt:     o.CreatedAt,
		PublishedAt:   o.PublishedAt,
		DeadLetterAt:  o.DeadLetterAt,
		RetryCount:    o.RetryCount,
		LastError:     o.LastError,
	}
}
