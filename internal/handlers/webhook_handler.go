package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

type TransferReconciler interface {
	Process(ctx context.Context, n models.TransferNotification) (models.WebhookOutcome, error)
	ListUnprocessed(ctx context.Context, limit int) ([]*models.PaymentTransaction, error)
}

type WebhookHandler struct {
	reconciler TransferReconciler
	apiKey     string
}

// NewWebhookHandler accepts unauthenticated calls when apiKey is empty.
func NewWebhookHandler(reconciler TransferReconciler, apiKey string) *WebhookHandler {
	return &WebhookHandler{reconciler: reconciler, apiKey: apiKey}
}

type webhookResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *WebhookHandler) authorized(c *gin.Context) bool {
	if h.apiKey == "" {
		return true
	}
	scheme, key, ok := strings.Cut(strings.TrimSpace(c.GetHeader("Authorization")), " ")
	if !ok || !strings.EqualFold(scheme, "Apikey") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(h.apiKey)) == 1
}

// BankTransfer answers 200 for every reconciled notification, whatever the business
// outcome. Only malformed payloads (400) and infrastructure failures (500, so the
// provider retries) are reported otherwise.
func (h *WebhookHandler) BankTransfer(c *gin.Context) {
	if !h.authorized(c) {
		c.JSON(http.StatusUnauthorized, webhookResponse{Message: "unauthorized"})
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, webhookResponse{Message: "unreadable body"})
		return
	}

	var wire models.TransferWebhook
	if err := json.Unmarshal(raw, &wire); err != nil {
		telemetry.Logger.Warn("Error decoding bank webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, webhookResponse{Message: "invalid payload"})
		return
	}
	n, err := wire.ToNotification(raw)
	if err != nil {
		telemetry.Logger.Warn("Invalid bank webhook",
			zap.Int64("provider_txn_id", wire.ID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadRequest, webhookResponse{Message: err.Error()})
		return
	}

	out, err := h.reconciler.Process(c.Request.Context(), n)
	if err != nil {
		telemetry.Logger.Error("Error processing bank webhook",
			zap.Int64("provider_txn_id", n.ProviderTxnID),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, webhookResponse{Message: "temporarily unable to process"})
		return
	}

	c.JSON(http.StatusOK, webhookResponse{Success: out.Success, Message: out.Message})
}
