package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/api"
	"github.com/akylbek/payment-system/checkout-service/internal/commerce"
	"github.com/akylbek/payment-system/checkout-service/internal/config"
	"github.com/akylbek/payment-system/checkout-service/internal/events"
	"github.com/akylbek/payment-system/checkout-service/internal/fulfillment"
	"github.com/akylbek/payment-system/checkout-service/internal/guard"
	"github.com/akylbek/payment-system/checkout-service/internal/interfaces"
	"github.com/akylbek/payment-system/checkout-service/internal/paymentcode"
	"github.com/akylbek/payment-system/checkout-service/internal/repository"
	"github.com/akylbek/payment-system/checkout-service/internal/scheduler"
	"github.com/akylbek/payment-system/checkout-service/internal/service"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize telemetry
	if err := telemetry.InitTelemetry("checkout-service", cfg.JaegerEndpoint); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Checkout Service")

	policy, err := service.ParseLatePaymentPolicy(cfg.LatePaymentPolicy)
	if err != nil {
		telemetry.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitDB(context.Background(), db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	sessionRepo := repository.NewSessionRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)

	// Connect to Redis
	var codGuard interfaces.SubmissionGuard
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
		})
		defer redisClient.Close()
		codGuard = guard.NewRedisGuard(redisClient)
	} else {
		telemetry.Logger.Warn("REDIS_URL not set, COD submissions are guarded by the store check only")
	}

	// Connect to NATS
	var notifier interfaces.FulfillmentNotifier
	if cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		defer nc.Close()
		notifier = fulfillment.NewNATSNotifier(nc, cfg.FulfillmentSubject)
	} else {
		telemetry.Logger.Warn("NATS_URL not set, fulfillment notifications are disabled")
	}

	// Connect to Kafka
	var publisher interfaces.SessionEventPublisher
	brokers := cfg.Brokers()
	if len(brokers) > 0 {
		kafkaWriter := events.NewSessionWriter(brokers, cfg.SessionTopic)
		defer kafkaWriter.Close()
		publisher = events.NewSessionPublisher(kafkaWriter)
	}

	clock := clockwork.NewRealClock()
	codec := paymentcode.New(cfg.PaymentCodePrefix)
	commerceClient := commerce.NewClient(cfg.CommerceAPIURL, cfg.CommerceAPIToken, cfg.CommerceTimeout)

	// Initialize services
	sessions := service.NewSessionManager(sessionRepo, commerceClient, publisher, codec, clock, cfg.SessionTTL)
	orchestrator := service.NewOrchestrator(sessionRepo, commerceClient, notifier, publisher, clock)
	reconciler := service.NewReconciler(transactionRepo, sessions, orchestrator, codec, clock, policy)
	codSettler := service.NewCODSettler(sessions, orchestrator, sessionRepo, commerceClient, codGuard, publisher, clock, cfg.CODGuardWindow)
	checkout := service.NewCheckoutService(sessions, codSettler, service.PayeeAccount{
		BankName:           cfg.BankName,
		BankBIN:            cfg.BankBIN,
		AccountNumber:      cfg.BankAccountNumber,
		AccountName:        cfg.BankAccountName,
		QRImageURLTemplate: cfg.QRImageURLTemplate,
	})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Bank notifications relayed over Kafka feed the same reconciler as the webhook
	consumerDone := make(chan struct{})
	if len(brokers) > 0 && cfg.TransferTopic != "" {
		consumer := events.NewTransferConsumer(events.NewTransferReader(brokers, cfg.TransferTopic), reconciler)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				telemetry.Logger.Error("Transfer consumer stopped", zap.Error(err))
			}
		}()
	} else {
		close(consumerDone)
	}

	sweeper, err := scheduler.NewExpirySweeper(sessions, cfg.ExpirySweepInterval)
	if err != nil {
		telemetry.Logger.Fatal("Failed to schedule expiry sweep", zap.Error(err))
	}
	if sweeper != nil {
		sweeper.Start()
	}

	r := api.NewRouter(checkout, reconciler, cfg.WebhookAPIKey)

	// Setup HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		telemetry.Logger.Info("Checkout Service starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	stop()
	<-consumerDone
	if sweeper != nil {
		if err := sweeper.Shutdown(); err != nil {
			telemetry.Logger.Error("Failed to stop expiry sweep", zap.Error(err))
		}
	}
	orchestrator.Wait()

	telemetry.Logger.Info("Server exited")
}
