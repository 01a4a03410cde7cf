// Package service содержит Payment Intent Authority - единственную точку
// создания и перевода платёжных интентов SV Pay.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/pkg/metrics"
	"example.com/studentverse/pkg/tracing"
	"example.com/studentverse/services/svpay/internal/discount"
	"example.com/studentverse/services/svpay/internal/domain"
	"example.com/studentverse/services/svpay/internal/repository"
)

// =============================================================================
// Конфигурация
// =============================================================================

const (
	// idempotencyKeyPrefix - префикс ключей идемпотентности в Redis.
	idempotencyKeyPrefix = "svpay:idempotency:"

	// idempotencyProcessing - значение ключа, пока первый запрос не завершён.
	idempotencyProcessing = "processing"

	// DefaultIdempotencyTTL - время жизни ключа идемпотентности.
	DefaultIdempotencyTTL = 24 * time.Hour

	// maxCreateAttempts - попытки сгенерировать свободный intent_id.
	maxCreateAttempts = 3
)

// Имена операций для метрик и spans.
const (
	OpAuthorize = "authorize"
	OpConfirm   = "confirm"
	OpVoid      = "void"
	OpLookup    = "lookup"
	OpReset     = "reset"
)

// =============================================================================
// Интерфейс сервиса
// =============================================================================

// AuthorizeRequest - запрос на авторизацию.
type AuthorizeRequest struct {
	Amount         decimal.Decimal // Запрошенная сумма, > 0
	IdempotencyKey string          // Необязательный ключ клиента
}

// AuthorizeResult - результат авторизации.
type AuthorizeResult struct {
	Intent        *domain.PaymentIntent
	AlreadyExists bool // true - повтор запроса с тем же ключом идемпотентности
}

// TransitionResult - результат confirm/void.
type TransitionResult struct {
	IntentID string
	Status   domain.IntentStatus
}

// IntentService - интерфейс Payment Intent Authority.
type IntentService interface {
	// Authorize создаёт интент в статусе AUTHORIZED и один раз рассчитывает скидку.
	Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error)

	// Confirm переводит интент в CONFIRMED. Повторный вызов - ErrInvalidTransition.
	Confirm(ctx context.Context, intentID string) (*TransitionResult, error)

	// Void переводит интент в VOIDED. Повторный вызов - ErrInvalidTransition.
	Void(ctx context.Context, intentID string) (*TransitionResult, error)

	// Lookup возвращает интент без изменения состояния.
	Lookup(ctx context.Context, intentID string) (*domain.PaymentIntent, error)

	// Reset удаляет все интенты и ключи идемпотентности.
	Reset(ctx context.Context) error
}

// =============================================================================
// Реализация сервиса
// =============================================================================

// intentService - реализация IntentService.
type intentService struct {
	repo   repository.IntentRepository
	policy discount.Policy
	redis  *redis.Client // nil - без дедупликации по ключу
	ttl    time.Duration
	newID  func() string
}

// Option - функциональная опция сервиса.
type Option func(*intentService)

// WithRedis включает идемпотентность authorize через Redis.
func WithRedis(client *redis.Client, ttl time.Duration) Option {
	return func(s *intentService) {
		s.redis = client
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithIDGenerator подменяет генератор intent_id.
func WithIDGenerator(gen func() string) Option {
	return func(s *intentService) {
		s.newID = gen
	}
}

// NewIntentService создаёт сервис. policy == nil означает "без скидок".
func NewIntentService(repo repository.IntentRepository, policy discount.Policy, opts ...Option) IntentService {
	if policy == nil {
		policy = discount.None()
	}
	s := &intentService{
		repo:   repo,
		policy: policy,
		ttl:    DefaultIdempotencyTTL,
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Authorize создаёт интент с идемпотентностью по ключу клиента.
func (s *intentService) Authorize(ctx context.Context, req AuthorizeRequest) (result *AuthorizeResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "svpay."+OpAuthorize,
		trace.WithAttributes(attribute.String("amount", req.Amount.StringFixed(2))))
	defer func() { finish(span, OpAuthorize, err) }()

	log := logger.Ctx(ctx)

	if err := domain.ValidateAmount(req.Amount); err != nil {
		log.Warn().Str("amount", req.Amount.String()).Msg("Некорректная сумма авторизации")
		return nil, err
	}

	// 1. Идемпотентность через Redis
	claimed := false
	if req.IdempotencyKey != "" && s.redis != nil {
		existing, ok, err := s.claimIdempotencyKey(ctx, req)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Info().
				Str("intent_id", existing.ID).
				Str("idempotency_key", req.IdempotencyKey).
				Msg("Интент уже существует (идемпотентность)")
			return &AuthorizeResult{Intent: existing, AlreadyExists: true}, nil
		}
		claimed = ok
	}

	// Ключ освобождается, если интент так и не создан
	defer func() {
		if err != nil && claimed {
			s.releaseIdempotencyKey(ctx, req.IdempotencyKey)
		}
	}()

	// 2. Скидка рассчитывается один раз и фиксируется в интенте
	disc, err := s.policy.Compute(ctx, req.Amount)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка расчёта скидки")
		return nil, fmt.Errorf("ошибка расчёта скидки: %w", err)
	}

	// 3. Создаём интент
	intent, err := s.createIntent(ctx, req, disc)
	if err != nil {
		return nil, err
	}

	// 4. Запоминаем ID интента под ключом
	if claimed {
		key := idempotencyKeyPrefix + req.IdempotencyKey
		if err := s.redis.Set(ctx, key, intent.ID, s.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Ошибка обновления ключа идемпотентности в Redis")
		}
	}

	if intent.Discount != nil {
		metrics.RecordDiscount(intent.Discount.ReasonCode)
	}

	span.SetAttributes(attribute.String("intent_id", intent.ID), attribute.Bool("discount", intent.HasDiscount()))
	log.Info().
		Str("intent_id", intent.ID).
		Str("amount", intent.OriginalAmount.StringFixed(2)).
		Str("charge_amount", intent.ChargeAmount().StringFixed(2)).
		Bool("discount", intent.HasDiscount()).
		Msg("Интент авторизован")

	return &AuthorizeResult{Intent: intent}, nil
}

// createIntent генерирует ID и сохраняет интент, повторяя при коллизии ID.
func (s *intentService) createIntent(ctx context.Context, req AuthorizeRequest, disc *domain.Discount) (*domain.PaymentIntent, error) {
	log := logger.Ctx(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxCreateAttempts; attempt++ {
		intent, err := domain.NewPaymentIntent(s.newID(), req.Amount, disc)
		if err != nil {
			return nil, err
		}
		intent.IdempotencyKey = req.IdempotencyKey

		err = s.repo.Create(ctx, intent)
		if err == nil {
			return intent, nil
		}
		if !errors.Is(err, domain.ErrDuplicateIntent) {
			log.Error().Err(err).Msg("Ошибка сохранения интента")
			return nil, fmt.Errorf("ошибка сохранения интента: %w", err)
		}

		log.Warn().Str("intent_id", intent.ID).Int("attempt", attempt).Msg("Коллизия intent_id, генерируем новый")
		lastErr = err
	}
	return nil, fmt.Errorf("не удалось сгенерировать уникальный intent_id: %w", lastErr)
}

// claimIdempotencyKey захватывает ключ через SETNX.
// Возвращает существующий интент при повторе, claimed=true если ключ захвачен.
// При ошибке Redis работаем без дедупликации.
func (s *intentService) claimIdempotencyKey(ctx context.Context, req AuthorizeRequest) (*domain.PaymentIntent, bool, error) {
	log := logger.Ctx(ctx)
	key := idempotencyKeyPrefix + req.IdempotencyKey

	wasSet, err := s.redis.SetNX(ctx, key, idempotencyProcessing, s.ttl).Result()
	if err != nil {
		log.Error().Err(err).Str("idempotency_key", req.IdempotencyKey).Msg("Ошибка Redis при проверке идемпотентности")
		return nil, false, nil
	}
	if wasSet {
		return nil, true, nil
	}

	value, err := s.redis.Get(ctx, key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// Ключ истёк между SETNX и GET
		wasSet, err = s.redis.SetNX(ctx, key, idempotencyProcessing, s.ttl).Result()
		if err != nil {
			log.Error().Err(err).Msg("Ошибка Redis при повторном захвате ключа")
			return nil, false, nil
		}
		if !wasSet {
			return nil, false, domain.ErrIdempotencyConflict
		}
		return nil, true, nil
	case err != nil:
		log.Error().Err(err).Msg("Ошибка чтения ключа идемпотентности")
		return nil, false, nil
	}

	if value == idempotencyProcessing {
		return nil, false, domain.ErrIdempotencyConflict
	}

	existing, err := s.repo.GetByID(ctx, value)
	if errors.Is(err, domain.ErrIntentNotFound) {
		// Интент удалён через Reset, ключ считается свободным
		if err := s.redis.Set(ctx, key, idempotencyProcessing, s.ttl).Err(); err != nil {
			log.Warn().Err(err).Msg("Ошибка перезахвата ключа идемпотентности")
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка получения интента по ключу: %w", err)
	}

	if !existing.OriginalAmount.Equal(req.Amount) {
		return nil, false, domain.ErrIdempotencyConflict
	}
	return existing, false, nil
}

// releaseIdempotencyKey освобождает ключ после неудачной авторизации.
func (s *intentService) releaseIdempotencyKey(ctx context.Context, idempotencyKey string) {
	if err := s.redis.Del(context.WithoutCancel(ctx), idempotencyKeyPrefix+idempotencyKey).Err(); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка удаления ключа идемпотентности")
	}
}

// Confirm подтверждает интент.
func (s *intentService) Confirm(ctx context.Context, intentID string) (*TransitionResult, error) {
	return s.transition(ctx, OpConfirm, intentID, domain.IntentStatusConfirmed)
}

// Void отменяет интент.
func (s *intentService) Void(ctx context.Context, intentID string) (*TransitionResult, error) {
	return s.transition(ctx, OpVoid, intentID, domain.IntentStatusVoided)
}

func (s *intentService) transition(ctx context.Context, op, intentID string, to domain.IntentStatus) (result *TransitionResult, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "svpay."+op,
		trace.WithAttributes(attribute.String("intent_id", intentID)))
	defer func() { finish(span, op, err) }()

	log := logger.Ctx(ctx).With().Str("intent_id", intentID).Str("operation", op).Logger()

	intent, err := s.repo.Transition(ctx, intentID, to)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIntentNotFound), errors.Is(err, domain.ErrInvalidTransition):
			log.Warn().Err(err).Msg("Переход интента отклонён")
			return nil, err
		default:
			log.Error().Err(err).Msg("Ошибка перехода интента")
			return nil, fmt.Errorf("ошибка перехода интента: %w", err)
		}
	}

	log.Info().Str("status", string(intent.Status)).Msg("Статус интента изменён")
	return &TransitionResult{IntentID: intent.ID, Status: intent.Status}, nil
}

// Lookup возвращает интент по ID.
func (s *intentService) Lookup(ctx context.Context, intentID string) (intent *domain.PaymentIntent, err error) {
	ctx, span := tracing.Tracer().Start(ctx, "svpay."+OpLookup,
		trace.WithAttributes(attribute.String("intent_id", intentID)))
	defer func() { finish(span, OpLookup, err) }()

	return s.repo.GetByID(ctx, intentID)
}

// Reset очищает хранилище и ключи идемпотентности.
func (s *intentService) Reset(ctx context.Context) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "svpay."+OpReset)
	defer func() { finish(span, OpReset, err) }()

	log := logger.Ctx(ctx)

	if err := s.repo.Reset(ctx); err != nil {
		log.Error().Err(err).Msg("Ошибка очистки хранилища интентов")
		return fmt.Errorf("ошибка очистки хранилища: %w", err)
	}

	if s.redis != nil {
		deleted, err := s.purgeIdempotencyKeys(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка очистки ключей идемпотентности")
		} else {
			log.Debug().Int("keys", deleted).Msg("Ключи идемпотентности удалены")
		}
	}

	log.Warn().Msg("Хранилище интентов очищено")
	return nil
}

// purgeIdempotencyKeys удаляет ключи по префиксу через SCAN.
func (s *intentService) purgeIdempotencyKeys(ctx context.Context) (int, error) {
	var keys []string
	iter := s.redis.Scan(ctx, 0, idempotencyKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := s.redis.Del(ctx, keys...).Err(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

// =============================================================================
// Метрики и spans
// =============================================================================

// finish записывает результат операции в метрики и закрывает span.
func finish(span trace.Span, op string, err error) {
	result := resultFor(err)
	metrics.RecordIntentOperation(op, result)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	span.End()
}

func resultFor(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errors.Is(err, domain.ErrInvalidAmount):
		return metrics.ResultInvalidAmount
	case errors.Is(err, domain.ErrIntentNotFound):
		return metrics.ResultNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return metrics.ResultInvalidTransition
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return metrics.ResultConflict
	default:
		return metrics.ResultError
	}
}
