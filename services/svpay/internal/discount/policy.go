// Package discount рассчитывает скидку при авторизации интента.
//
// Политика вызывается ровно один раз на authorize, результат фиксируется в интенте.
package discount

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"example.com/studentverse/services/svpay/internal/domain"
)

// DefaultReasonCode - код студенческой скидки по умолчанию.
const DefaultReasonCode = "STUDENT_DISCOUNT_15"

// Policy - правило расчёта скидки. nil без ошибки означает "скидки нет".
type Policy interface {
	Compute(ctx context.Context, amount decimal.Decimal) (*domain.Discount, error)
}

// PolicyFunc позволяет использовать функцию как Policy.
type PolicyFunc func(ctx context.Context, amount decimal.Decimal) (*domain.Discount, error)

// Compute вызывает f.
func (f PolicyFunc) Compute(ctx context.Context, amount decimal.Decimal) (*domain.Discount, error) {
	return f(ctx, amount)
}

// =============================================================================
// StudentPolicy
// =============================================================================

// StudentPolicy с вероятностью Probability даёт скидку Rate.
// Сумма после скидки округляется до центов.
type StudentPolicy struct {
	probability float64
	rate        decimal.Decimal
	reasonCode  string

	mu  sync.Mutex
	rng *rand.Rand
}

// Option - функциональная опция StudentPolicy.
type Option func(*StudentPolicy)

// WithRand подменяет генератор случайных чисел (для детерминированных тестов).
func WithRand(rng *rand.Rand) Option {
	return func(p *StudentPolicy) {
		p.rng = rng
	}
}

// NewStudentPolicy создаёт политику. probability в [0,1], rate в [0,1).
func NewStudentPolicy(probability, rate float64, reasonCode string, opts ...Option) *StudentPolicy {
	if reasonCode == "" {
		reasonCode = DefaultReasonCode
	}
	now := uint64(time.Now().UnixNano())
	p := &StudentPolicy{
		probability: probability,
		rate:        decimal.NewFromFloat(rate),
		reasonCode:  reasonCode,
		rng:         rand.New(rand.NewPCG(now, now>>1)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Compute решает, положена ли скидка, и считает сумму.
func (p *StudentPolicy) Compute(_ context.Context, amount decimal.Decimal) (*domain.Discount, error) {
	if !p.roll() {
		return nil, nil
	}
	return apply(amount, p.rate, p.reasonCode)
}

func (p *StudentPolicy) roll() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < p.probability
}

// =============================================================================
// Детерминированные политики
// =============================================================================

// Fixed всегда применяет скидку rate с кодом reasonCode.
func Fixed(rate float64, reasonCode string) Policy {
	r := decimal.NewFromFloat(rate)
	return PolicyFunc(func(_ context.Context, amount decimal.Decimal) (*domain.Discount, error) {
		return apply(amount, r, reasonCode)
	})
}

// None никогда не даёт скидку.
func None() Policy {
	return PolicyFunc(func(context.Context, decimal.Decimal) (*domain.Discount, error) {
		return nil, nil
	})
}

// apply считает round(amount * (1 - rate), 2).
// Если после округления сумма не положительная, скидка не применяется.
func apply(amount, rate decimal.Decimal, reasonCode string) (*domain.Discount, error) {
	discounted := amount.Mul(decimal.NewFromInt(1).Sub(rate)).Round(2)
	if !discounted.IsPositive() {
		return nil, nil
	}
	if discounted.GreaterThan(amount) {
		discounted = amount
	}
	return domain.NewDiscount(amount, discounted, reasonCode)
}
