package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"example.com/studentverse/pkg/logger"
	"example.com/studentverse/services/svpay/internal/domain"
	"example.com/studentverse/services/svpay/internal/middleware"
	"example.com/studentverse/services/svpay/internal/service"
)

// maxIdempotencyKeyLength совпадает с размером колонки idempotency_key.
const maxIdempotencyKeyLength = 128

// maxAuthorizeBodyBytes - предел тела POST /api/v1/intents.
const maxAuthorizeBodyBytes = 1 << 10

// IntentService - операции Payment Intent Authority, нужные HTTP слою.
type IntentService interface {
	Authorize(ctx context.Context, req service.AuthorizeRequest) (*service.AuthorizeResult, error)
	Confirm(ctx context.Context, intentID string) (*service.TransitionResult, error)
	Void(ctx context.Context, intentID string) (*service.TransitionResult, error)
	Lookup(ctx context.Context, intentID string) (*domain.PaymentIntent, error)
	Reset(ctx context.Context) error
}

// IntentHandler - обработчик платёжных интентов.
type IntentHandler struct {
	svc IntentService
}

// NewIntentHandler создаёт новый обработчик интентов.
func NewIntentHandler(svc IntentService) *IntentHandler {
	return &IntentHandler{svc: svc}
}

// === Request/Response DTOs ===

// AuthorizeIntentRequest - тело POST /api/v1/intents.
// amount принимается строкой ("25.00") или числом.
type AuthorizeIntentRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
}

// IntentResponse - полный снимок интента.
type IntentResponse struct {
	IntentID         string    `json:"intent_id"`
	Status           string    `json:"status"`
	OriginalAmount   string    `json:"original_amount"`
	DiscountedAmount *string   `json:"discounted_amount,omitempty"`
	ReasonCode       *string   `json:"reason_code,omitempty"`
	ChargeAmount     string    `json:"charge_amount"`
	CreatedAt        time.Time `json:"created_at"`
}

// TransitionResponse - ответ confirm/void.
type TransitionResponse struct {
	IntentID string `json:"intent_id"`
	Status   string `json:"status"`
}

func toIntentResponse(p *domain.PaymentIntent) IntentResponse {
	resp := IntentResponse{
		IntentID:       p.ID,
		Status:         string(p.Status),
		OriginalAmount: p.OriginalAmount.StringFixed(2),
		ChargeAmount:   p.ChargeAmount().StringFixed(2),
		CreatedAt:      p.CreatedAt,
	}
	if p.Discount != nil {
		amount := p.Discount.Amount.StringFixed(2)
		reason := p.Discount.ReasonCode
		resp.DiscountedAmount = &amount
		resp.ReasonCode = &reason
	}
	return resp
}

// === Handlers ===

// Authorize создаёт интент.
// POST /api/v1/intents
func (h *IntentHandler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAuthorizeBodyBytes)

	var req AuthorizeIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("Некорректное тело запроса")
		badRequest(c, CodeInvalidRequest, "Ожидается JSON вида {\"amount\": \"25.00\"}")
		return
	}

	// Проверяем до любых вычислений с суммой
	amount := *req.Amount
	if err := domain.ValidateAmount(amount); err != nil {
		badRequest(c, CodeInvalidAmount, err.Error())
		return
	}

	key := c.GetHeader(middleware.HeaderIdempotencyKey)
	if len(key) > maxIdempotencyKeyLength {
		badRequest(c, CodeInvalidRequest, "Idempotency-Key длиннее 128 символов")
		return
	}

	result, err := h.svc.Authorize(ctx, service.AuthorizeRequest{Amount: amount, IdempotencyKey: key})
	if err != nil {
		HandleServiceError(c, err, "Authorize")
		return
	}

	status := http.StatusCreated
	if result.AlreadyExists {
		status = http.StatusOK
	}
	c.Header("Location", "/api/v1/intents/"+result.Intent.ID)
	c.JSON(status, toIntentResponse(result.Intent))
}

// Get возвращает интент.
// GET /api/v1/intents/:id
func (h *IntentHandler) Get(c *gin.Context) {
	intent, err := h.svc.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err, "Lookup")
		return
	}
	c.JSON(http.StatusOK, toIntentResponse(intent))
}

// Confirm подтверждает интент.
// POST /api/v1/intents/:id/confirm
func (h *IntentHandler) Confirm(c *gin.Context) {
	h.transition(c, "Confirm", h.svc.Confirm)
}

// Void отменяет интент.
// POST /api/v1/intents/:id/void
func (h *IntentHandler) Void(c *gin.Context) {
	h.transition(c, "Void", h.svc.Void)
}

func (h *IntentHandler) transition(
	c *gin.Context,
	method string,
	op func(ctx context.Context, intentID string) (*service.TransitionResult, error),
) {
	result, err := op(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleServiceError(c, err, method)
		return
	}
	c.JSON(http.StatusOK, TransitionResponse{IntentID: result.IntentID, Status: string(result.Status)})
}

// Reset очищает хранилище интентов.
// DELETE /api/v1/intents
func (h *IntentHandler) Reset(c *gin.Context) {
	if err := h.svc.Reset(c.Request.Context()); err != nil {
		HandleServiceError(c, err, "Reset")
		return
	}
	c.Status(http.StatusNoContent)
}
