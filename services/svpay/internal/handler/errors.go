// Package handler содержит HTTP обработчики REST API SV Pay.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/services/svpay/internal/domain"
)

// Коды ошибок API.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidAmount       = "invalid_amount"
	CodeNotFound            = "not_found"
	CodeInvalidTransition   = "invalid_state_transition"
	CodeIdempotencyConflict = "idempotency_conflict"
	CodeInternal            = "internal_error"
)

// ErrorResponse - стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HandleServiceError преобразует доменную ошибку в HTTP ответ.
func HandleServiceError(c *gin.Context, err error, method string) {
	log := logger.FromContext(c.Request.Context())

	var httpStatus int
	var code string

	switch {
	case err == nil:
		// nil ошибка здесь - баг в вызывающем коде
		log.Error().Str("method", method).Msg("HandleServiceError вызван с nil ошибкой")
		httpStatus, code = http.StatusInternalServerError, CodeInternal
	case errors.Is(err, domain.ErrInvalidAmount):
		httpStatus, code = http.StatusBadRequest, CodeInvalidAmount
	case errors.Is(err, domain.ErrIntentNotFound):
		httpStatus, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		httpStatus, code = http.StatusConflict, CodeInvalidTransition
	case errors.Is(err, domain.ErrIdempotencyConflict):
		httpStatus, code = http.StatusConflict, CodeIdempotencyConflict
	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка")
		httpStatus, code = http.StatusInternalServerError, CodeInternal
	}

	// Текст внутренних ошибок наружу не отдаём
	message := "Внутренняя ошибка сервера"
	if code != CodeInternal {
		message = err.Error()
	}

	c.JSON(httpStatus, ErrorResponse{Error: code, Message: message})
}

// badRequest отвечает 400 с указанным кодом.
func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}
