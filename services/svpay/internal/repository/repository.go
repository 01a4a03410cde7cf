// Package repository содержит хранилища платёжных интентов SV Pay.
//
// Две реализации: in-memory (по умолчанию, без durability) и GORM/MySQL
// с outbox событиями. Обе гарантируют не более одного успешного перехода
// из AUTHORIZED для каждого интента.
package repository

import (
	"context"

	"example.com/studentverse/services/svpay/internal/domain"
)

// IntentRepository определяет интерфейс хранилища интентов.
type IntentRepository interface {
	// Create сохраняет новый интент. ErrDuplicateIntent, если ID уже занят.
	Create(ctx context.Context, intent *domain.PaymentIntent) error

	// GetByID возвращает копию интента или ErrIntentNotFound.
	GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error)

	// Transition атомарно переводит интент в статус to.
	// Из конкурирующих confirm/void успешен ровно один, остальные получают ErrInvalidTransition.
	Transition(ctx context.Context, id string, to domain.IntentStatus) (*domain.PaymentIntent, error)

	// Reset удаляет все интенты.
	Reset(ctx context.Context) error
}
