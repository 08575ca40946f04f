package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/akylbek/payment-system/checkout-service/internal/handlers"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

func NewRouter(checkout handlers.CheckoutService, reconciler handlers.TransferReconciler, webhookAPIKey string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": telemetry.ServiceName})
	})

	checkoutHandler := handlers.NewCheckoutHandler(checkout)
	r.POST("/checkout/sessions", checkoutHandler.CreateSession)
	r.GET("/checkout/sessions/:id", checkoutHandler.GetSession)

	webhookHandler := handlers.NewWebhookHandler(reconciler, webhookAPIKey)
	r.POST("/webhooks/bank-transfer", webhookHandler.BankTransfer)

	adminHandler := handlers.NewAdminHandler(checkout, reconciler)
	admin := r.Group("/admin")
	admin.POST("/sessions/:id/confirm-cod", adminHandler.ConfirmCOD)
	admin.GET("/transactions/unprocessed", adminHandler.ListUnprocessed)

	return r
}
