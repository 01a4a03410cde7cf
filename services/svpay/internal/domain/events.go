package domain

import (
	"encoding/json"
	"time"
)

// Типы событий жизненного цикла интента.
const (
	EventIntentAuthorized = "svpay.intent.authorized"
	EventIntentConfirmed  = "svpay.intent.confirmed"
	EventIntentVoided     = "svpay.intent.voided"
)

// IntentEvent - payload события в Kafka.
type IntentEvent struct {
	EventType        string       `json:"event_type"`
	IntentID         string       `json:"intent_id"`
	Status           IntentStatus `json:"status"`
	OriginalAmount   string       `json:"original_amount"`
	DiscountedAmount *string      `json:"discounted_amount,omitempty"`
	ReasonCode       *string      `json:"reason_code,omitempty"`
	OccurredAt       time.Time    `json:"occurred_at"`
}

// EventTypeForStatus возвращает тип события, соответствующий статусу.
func EventTypeForStatus(status IntentStatus) string {
	switch status {
	case IntentStatusConfirmed:
		return EventIntentConfirmed
	case IntentStatusVoided:
		return EventIntentVoided
	default:
		return EventIntentAuthorized
	}
}

// NewIntentEvent собирает событие из текущего состояния интента.
func NewIntentEvent(p *PaymentIntent) IntentEvent {
	ev := IntentEvent{
		EventType:      EventTypeForStatus(p.Status),
		IntentID:       p.ID,
		Status:         p.Status,
		OriginalAmount: p.OriginalAmount.StringFixed(2),
		OccurredAt:     p.UpdatedAt,
	}
	if p.Discount != nil {
		amount := p.Discount.Amount.StringFixed(2)
		reason := p.Discount.ReasonCode
		ev.DiscountedAmount = &amount
		ev.ReasonCode = &reason
	}
	return ev
}

// Marshal сериализует событие в JSON.
func (e IntentEvent) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
