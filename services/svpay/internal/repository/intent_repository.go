package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/studentverse/pkg/kafka"
	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/pkg/outbox"
	"example.com/studentverse/services/svpay/internal/domain"
)

// AggregateType - тип агрегата интента в таблице outbox.
const AggregateType = "intent"

// =============================================================================
// GORM модель
// =============================================================================

// IntentModel - GORM модель для таблицы payment_intents.
type IntentModel struct {
	ID               string              `gorm:"column:id;type:varchar(36);primaryKey"`
	Status           string              `gorm:"column:status;type:varchar(20);not null;index"`
	OriginalAmount   decimal.Decimal     `gorm:"column:original_amount;type:decimal(12,2);not null"`
	DiscountedAmount decimal.NullDecimal `gorm:"column:discounted_amount;type:decimal(12,2)"`
	ReasonCode       *string             `gorm:"column:reason_code;type:varchar(64)"`
	IdempotencyKey   *string             `gorm:"column:idempotency_key;type:varchar(128);index"`
	CreatedAt        time.Time           `gorm:"column:created_at"`
	UpdatedAt        time.Time           `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы в БД.
func (IntentModel) TableName() string {
	return "payment_intents"
}

// toDomain конвертирует GORM модель в доменную сущность.
func (m *IntentModel) toDomain() *domain.PaymentIntent {
	p := &domain.PaymentIntent{
		ID:             m.ID,
		Status:         domain.IntentStatus(m.Status),
		OriginalAmount: m.OriginalAmount,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	// Скидка существует только целиком: сумма и код вместе
	if m.DiscountedAmount.Valid && m.ReasonCode != nil {
		p.Discount = &domain.Discount{Amount: m.DiscountedAmount.Decimal, ReasonCode: *m.ReasonCode}
	}
	if m.IdempotencyKey != nil {
		p.IdempotencyKey = *m.IdempotencyKey
	}
	return p
}

// intentModelFromDomain конвертирует доменную сущность в GORM модель.
func intentModelFromDomain(p *domain.PaymentIntent) *IntentModel {
	m := &IntentModel{
		ID:             p.ID,
		Status:         string(p.Status),
		OriginalAmount: p.OriginalAmount,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.Discount != nil {
		reason := p.Discount.ReasonCode
		m.DiscountedAmount = decimal.NewNullDecimal(p.Discount.Amount)
		m.ReasonCode = &reason
	}
	if p.IdempotencyKey != "" {
		key := p.IdempotencyKey
		m.IdempotencyKey = &key
	}
	return m
}

// =============================================================================
// Реализация репозитория
// =============================================================================

// intentRepository - GORM реализация IntentRepository.
type intentRepository struct {
	db         *gorm.DB
	eventTopic string // пусто - события не пишутся
}

// GormOption - опция GORM репозитория.
type GormOption func(*intentRepository)

// WithOutbox включает запись событий жизненного цикла в outbox для топика topic.
func WithOutbox(topic string) GormOption {
	return func(r *intentRepository) {
		r.eventTopic = topic
	}
}

// NewIntentRepository создаёт GORM репозиторий интентов.
func NewIntentRepository(db *gorm.DB, opts ...GormOption) IntentRepository {
	r := &intentRepository{db: db}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create сохраняет интент и событие authorized в одной транзакции.
func (r *intentRepository) Create(ctx context.Context, intent *domain.PaymentIntent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(intentModelFromDomain(intent)).Error; err != nil {
			if isDuplicateKeyError(err) {
				return domain.ErrDuplicateIntent
			}
			return err
		}
		return r.writeEvent(ctx, tx, intent)
	})
}

// GetByID возвращает интент по ID.
func (r *intentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentIntent, error) {
	var model IntentModel

	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrIntentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

// Transition блокирует строку SELECT ... FOR UPDATE, проверяет переход
// по state machine и обновляет статус вместе с записью outbox.
func (r *intentRepository) Transition(ctx context.Context, id string, to domain.IntentStatus) (*domain.PaymentIntent, error) {
	var updated *domain.PaymentIntent

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model IntentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrIntentNotFound
			}
			return err
		}

		intent := model.toDomain()
		from := intent.Status
		if err := intent.TransitionTo(to); err != nil {
			return err
		}

		// Условие по статусу страхует от гонки, если строка не была заблокирована
		result := tx.Model(&IntentModel{}).
			Where("id = ? AND status = ?", id, string(from)).
			Updates(map[string]any{
				"status":     string(intent.Status),
				"updated_at": intent.UpdatedAt,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
		}

		if err := r.writeEvent(ctx, tx, intent); err != nil {
			return err
		}

		updated = intent
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// Reset удаляет все интенты. Необработанные события остаются в outbox.
func (r *intentRepository) Reset(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&IntentModel{}).Error
}

// writeEvent пишет событие о текущем состоянии интента в outbox через tx.
func (r *intentRepository) writeEvent(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent) error {
	if r.eventTopic == "" {
		return nil
	}

	event := domain.NewIntentEvent(intent)
	payload, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("сериализация события: %w", err)
	}

	headers := map[string]string{kafka.HeaderEventType: event.EventType}
	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[kafka.HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[kafka.HeaderCorrelationID] = correlationID
	}

	record := outbox.New(AggregateType, intent.ID, event.EventType, r.eventTopic, payload, headers)
	if err := outbox.Insert(tx, record); err != nil {
		return fmt.Errorf("запись в outbox: %w", err)
	}
	return nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
