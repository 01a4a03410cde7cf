package outbox

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrOutboxNotFound - запись outbox не найдена.
var ErrOutboxNotFound = errors.New("запись outbox не найдена")

// purgeBatchSize - сколько опубликованных записей удалять за один DELETE.
const purgeBatchSize = 1000

// OutboxRepository - очередь событий агрегата поверх таблицы outbox.
type OutboxRepository interface {
	// Create ставит событие в очередь вне транзакции агрегата.
	Create(ctx context.Context, record *Outbox) error

	// FetchPending возвращает ожидающие отправки записи, старые первыми.
	FetchPending(ctx context.Context, limit int) ([]*Outbox, error)

	// CountPending - размер очереди (без dead letter).
	CountPending(ctx context.Context) (int64, error)

	MarkPublished(ctx context.Context, id string) error

	// MarkFailed увеличивает retry_count и запоминает текст ошибки.
	MarkFailed(ctx context.Context, id string, cause error) error

	// MarkDeadLetter убирает запись из очереди без публикации.
	MarkDeadLetter(ctx context.Context, id string) error

	// PurgePublished удаляет опубликованные записи старше before.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

type outboxRepository struct {
	db            *gorm.DB
	aggregateType string
}

// NewOutboxRepository создаёт очередь для одного типа агрегата (например "intent").
func NewOutboxRepository(db *gorm.DB, aggregateType string) OutboxRepository {
	return &outboxRepository{db: db, aggregateType: aggregateType}
}

// Insert пишет запись через переданный *gorm.DB.
// Вызывается внутри транзакции, меняющей агрегат: событие фиксируется вместе с ней.
func Insert(tx *gorm.DB, record *Outbox) error {
	model := ModelFromDomain(record)
	if err := tx.Create(model).Error; err != nil {
		return err
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

func (r *outboxRepository) Create(ctx context.Context, record *Outbox) error {
	return Insert(r.db.WithContext(ctx), record)
}

// pending ограничивает запрос записями агрегата, ещё стоящими в очереди.
func (r *outboxRepository) pending(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&OutboxModel{}).
		Where("aggregate_type = ? AND published_at IS NULL AND dead_letter_at IS NULL", r.aggregateType)
}

// FetchPending сортирует по retry_count: записи, которые уже падали, уходят в конец пачки.
// Внутри одного retry_count порядок created_at сохраняет последовательность событий интента.
func (r *outboxRepository) FetchPending(ctx context.Context, limit int) ([]*Outbox, error) {
	var rows []OutboxModel
	if err := r.pending(ctx).
		Order("retry_count ASC").
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]*Outbox, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToDomain())
	}
	return records, nil
}

func (r *outboxRepository) CountPending(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pending(ctx).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{"published_at": time.Now()})
}

func (r *outboxRepository) MarkFailed(ctx context.Context, id string, cause error) error {
	return r.update(ctx, id, map[string]any{
		"retry_count": gorm.Expr("retry_count + 1"),
		"last_error":  cause.Error(),
	})
}

func (r *outboxRepository) MarkDeadLetter(ctx context.Context, id string) error {
	return r.update(ctx, id, map[string]any{"dead_letter_at": time.Now()})
}

// update применяет изменения к одной записи; 0 затронутых строк - ErrOutboxNotFound.
func (r *outboxRepository) update(ctx context.Context, id string, values map[string]any) error {
	res := r.db.WithContext(ctx).Model(&OutboxModel{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrOutboxNotFound
	}
	return nil
}

// PurgePublished удаляет не больше purgeBatchSize строк за вызов, чтобы не держать
// долгую блокировку таблицы. Dead letter записи не трогает: их разбирают вручную.
func (r *outboxRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("aggregate_type = ? AND published_at IS NOT NULL AND published_at < ?", r.aggregateType, before).
		Limit(purgeBatchSize).
		Delete(&OutboxModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
