package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AdminHandler serves the support operations: cash confirmation and the
// reconciliation backlog.
type AdminHandler struct {
	checkout   CheckoutService
	reconciler TransferReconciler
}

func NewAdminHandler(checkout CheckoutService, reconciler TransferReconciler) *AdminHandler {
	return &AdminHandler{checkout: checkout, reconciler: reconciler}
}

func (h *AdminHandler) ConfirmCOD(c *gin.Context) {
	s, err := h.checkout.ConfirmCashReceived(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	telemetry.Logger.Info("Cash on delivery confirmed", zap.String("session_id", s.ID))
	c.JSON(http.StatusOK, newSessionResponse(s))
}

type transactionResponse struct {
	ProviderTxnID   int64                  `json:"provider_transaction_id"`
	Gateway         string                 `json:"gateway"`
	TransactionDate time.Time              `json:"transaction_date"`
	AccountNumber   string                 `json:"account_number"`
	Content         string                 `json:"content"`
	TransferAmount  int64                  `json:"transfer_amount"`
	ReferenceCode   string                 `json:"reference_code,omitempty"`
	PaymentCode     string                 `json:"payment_code,omitempty"`
	Outcome         *models.WebhookOutcome `json:"outcome,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

func (h *AdminHandler) ListUnprocessed(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	txns, err := h.reconciler.ListUnprocessed(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	items := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		items = append(items, transactionResponse{
			ProviderTxnID:   t.ProviderTxnID,
			Gateway:         t.Gateway,
			TransactionDate: t.TransactionDate,
			AccountNumber:   t.AccountNumber,
			Content:         t.Content,
			TransferAmount:  t.TransferAmount,
			ReferenceCode:   t.ReferenceCode,
			PaymentCode:     t.PaymentCode,
			Outcome:         t.Outcome,
			CreatedAt:       t.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"transactions": items, "count": len(items)})
}
