// Package domain содержит бизнес-сущности SV Pay.
package domain

import "errors"

// Доменные ошибки SV Pay.
var (
	// ErrInvalidAmount - сумма авторизации не положительная.
	ErrInvalidAmount = errors.New("сумма должна быть больше нуля")

	// ErrIntentNotFound - интент с таким ID отсутствует в хранилище.
	ErrIntentNotFound = errors.New("платёжный интент не найден")

	// ErrInvalidTransition - переход не допустим из текущего статуса.
	ErrInvalidTransition = errors.New("недопустимый переход состояния интента")

	// ErrInvalidDiscount - скидка нарушает 0 < discounted <= original или без reason_code.
	ErrInvalidDiscount = errors.New("некорректная скидка")

	// ErrDuplicateIntent - интент с таким ID уже существует.
	ErrDuplicateIntent = errors.New("интент с таким ID уже существует")

	// ErrIdempotencyConflict - ключ идемпотентности занят другим запросом.
	ErrIdempotencyConflict = errors.New("ключ идемпотентности уже использован с другими параметрами")
)
