package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/service"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrEmptyCart):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrCartNotFound), errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyProcessing),
		errors.Is(err, service.ErrAlreadySettled),
		errors.Is(err, service.ErrSettlementInProgress),
		errors.Is(err, service.ErrSessionNotPayable):
		return http.StatusConflict
	case errors.Is(err, service.ErrOrderCreation), errors.Is(err, service.ErrCommerceUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {"error": ...}. Internal errors are logged and hidden.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		telemetry.Logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
