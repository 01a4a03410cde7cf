package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus - статус платёжного интента.
type IntentStatus string

const (
	// IntentStatusAuthorized - интент создан, скидка рассчитана, ожидает confirm или void.
	IntentStatusAuthorized IntentStatus = "AUTHORIZED"

	// IntentStatusConfirmed - оплата подтверждена.
	IntentStatusConfirmed IntentStatus = "CONFIRMED"

	// IntentStatusVoided - интент отменён до подтверждения.
	IntentStatusVoided IntentStatus = "VOIDED"
)

// IsTerminal возвращает true для CONFIRMED и VOIDED.
func (s IntentStatus) IsTerminal() bool {
	return s == IntentStatusConfirmed || s == IntentStatusVoided
}

// IsValid проверяет, что статус входит в перечисление.
func (s IntentStatus) IsValid() bool {
	switch s {
	case IntentStatusAuthorized, IntentStatusConfirmed, IntentStatusVoided:
		return true
	}
	return false
}

// =============================================================================
// Допустимые переходы состояний (State Machine)
// =============================================================================

// allowedTransitions - в AUTHORIZED вернуться нельзя, из терминальных выхода нет.
var allowedTransitions = map[IntentStatus][]IntentStatus{
	IntentStatusAuthorized: {IntentStatusConfirmed, IntentStatusVoided},
}

// =============================================================================
// Discount
// =============================================================================

// Discount - применённая скидка. Сумма и код причины существуют только вместе.
type Discount struct {
	Amount     decimal.Decimal // Сумма к оплате после скидки
	ReasonCode string          // Код правила, например STUDENT_DISCOUNT_15
}

// NewDiscount создаёт скидку для original, проверяя 0 < discounted <= original.
func NewDiscount(original, discounted decimal.Decimal, reasonCode string) (*Discount, error) {
	d := &Discount{Amount: discounted, ReasonCode: reasonCode}
	if err := d.validate(original); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Discount) validate(original decimal.Decimal) error {
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: сумма %s не положительная", ErrInvalidDiscount, d.Amount.StringFixed(2))
	}
	if !d.Amount.Equal(d.Amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: больше %d знаков после запятой", ErrInvalidDiscount, AmountScale)
	}
	if d.Amount.GreaterThan(original) {
		return fmt.Errorf("%w: сумма %s больше исходной %s",
			ErrInvalidDiscount, d.Amount.StringFixed(2), original.StringFixed(2))
	}
	if d.ReasonCode == "" {
		return fmt.Errorf("%w: reason_code обязателен", ErrInvalidDiscount)
	}
	return nil
}

// =============================================================================
// PaymentIntent - доменная сущность
// =============================================================================

// PaymentIntent - одна попытка авторизации оплаты со скидкой.
// Денежные поля не меняются после создания, мутирует только Status.
type PaymentIntent struct {
	ID             string          // UUID интента
	Status         IntentStatus    // Текущий статус
	OriginalAmount decimal.Decimal // Запрошенная сумма
	Discount       *Discount       // nil - скидка не применена
	IdempotencyKey string          // Ключ клиента (может быть пустым)
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewPaymentIntent создаёт интент в статусе AUTHORIZED.
func NewPaymentIntent(id string, amount decimal.Decimal, discount *Discount) (*PaymentIntent, error) {
	now := time.Now().UTC()
	intent := &PaymentIntent{
		ID:             id,
		Status:         IntentStatusAuthorized,
		OriginalAmount: amount,
		Discount:       discount,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	return intent, nil
}

// =============================================================================
// Денежные суммы
// =============================================================================

// AmountScale - знаков после запятой в суммах (колонки decimal(12,2)).
const AmountScale = 2

// Границы экспоненты проверяются до любых вычислений: сравнение и округление
// decimal с экспонентой вроде 1e2000000 стоят минуты CPU.
const (
	maxAmountExponent = 10
	minAmountExponent = -18
)

// MaxAmount - наибольшая сумма, помещающаяся в decimal(12,2).
var MaxAmount = decimal.New(999999999999, -AmountScale)

// ValidateAmount проверяет, что сумма положительная, не больше MaxAmount
// и имеет не больше AmountScale знаков после запятой.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	exp := amount.Exponent()
	if exp > maxAmountExponent || exp < minAmountExponent {
		return fmt.Errorf("%w: недопустимый порядок числа", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: сумма больше %s", ErrInvalidAmount, MaxAmount.StringFixed(AmountScale))
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: больше %d знаков после запятой", ErrInvalidAmount, AmountScale)
	}
	return nil
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (p *PaymentIntent) CanTransitionTo(newStatus IntentStatus) bool {
	allowed, ok := allowedTransitions[p.Status]
	if !ok {
		return false // Терминальное состояние
	}
	for _, status := range allowed {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
// Ошибка оборачивает ErrInvalidTransition и содержит оба статуса.
func (p *PaymentIntent) TransitionTo(newStatus IntentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, newStatus)
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Confirm подтверждает оплату.
func (p *PaymentIntent) Confirm() error {
	return p.TransitionTo(IntentStatusConfirmed)
}

// Void отменяет интент.
func (p *PaymentIntent) Void() error {
	return p.TransitionTo(IntentStatusVoided)
}

// HasDiscount возвращает true, если при авторизации применена скидка.
func (p *PaymentIntent) HasDiscount() bool {
	return p.Discount != nil
}

// ChargeAmount - сумма, которая будет списана при confirm.
func (p *PaymentIntent) ChargeAmount() decimal.Decimal {
	if p.Discount != nil {
		return p.Discount.Amount
	}
	return p.OriginalAmount
}

// Validate проверяет корректность полей интента.
func (p *PaymentIntent) Validate() error {
	if p.ID == "" {
		return errors.New("intent_id обязателен")
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("неизвестный статус %q", p.Status)
	}
	if err := ValidateAmount(p.OriginalAmount); err != nil {
		return err
	}
	if p.Discount != nil {
		return p.Discount.validate(p.OriginalAmount)
	}
	return nil
}

// Clone возвращает независимую копию. Хранилища отдают наружу только копии.
func (p *PaymentIntent) Clone() *PaymentIntent {
	if p == nil {
		return nil
	}
	c := *p
	if p.Discount != nil {
		d := *p.Discount
		c.Discount = &d
	}
	return &c
}
