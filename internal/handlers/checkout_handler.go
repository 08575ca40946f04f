package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

type CheckoutService interface {
	Checkout(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutResult, error)
	Session(ctx context.Context, id string) (*models.CheckoutSession, error)
	ConfirmCashReceived(ctx context.Context, id string) (*models.CheckoutSession, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
}

func NewCheckoutHandler(checkout CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

type sessionResponse struct {
	SessionID     string                      `json:"session_id"`
	PaymentCode   string                      `json:"payment_code"`
	PaymentMethod models.PaymentMethod        `json:"payment_method"`
	Amount        int64                       `json:"amount"`
	Currency      string                      `json:"currency"`
	Status        models.SessionStatus        `json:"status"`
	ExpiresAt     time.Time                   `json:"expires_at"`
	Settlement    *models.Settlement          `json:"settlement,omitempty"`
	LastError     string                      `json:"last_error,omitempty"`
	Instructions  *models.PaymentInstructions `json:"payment_instructions,omitempty"`
	Order         *models.OrderResult         `json:"order,omitempty"`
}

func newSessionResponse(s *models.CheckoutSession) sessionResponse {
	return sessionResponse{
		SessionID:     s.ID,
		PaymentCode:   s.PaymentCode,
		PaymentMethod: s.PaymentMethod,
		Amount:        s.Amount,
		Currency:      s.Currency,
		Status:        s.Status,
		ExpiresAt:     s.ExpiresAt,
		Settlement:    s.Settlement,
		LastError:     s.LastError,
	}
}

func (h *CheckoutHandler) CreateSession(c *gin.Context) {
	var in models.CreateSessionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		telemetry.Logger.Warn("Error decoding checkout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	res, err := h.checkout.Checkout(c.Request.Context(), in)
	if err != nil {
		telemetry.Logger.Info("Checkout rejected",
			zap.String("cart_id", in.CartID),
			zap.String("payment_method", string(in.PaymentMethod)),
			zap.Error(err),
		)
		respondError(c, err)
		return
	}

	resp := newSessionResponse(res.Session)
	resp.Instructions = res.Instructions
	resp.Order = res.Order
	c.JSON(http.StatusCreated, resp)
}

func (h *CheckoutHandler) GetSession(c *gin.Context) {
	s, err := h.checkout.Session(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSessionResponse(s))
}
