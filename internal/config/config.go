package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port           string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	JaegerEndpoint string
	NatsURL        string

	SessionTopic       string
	TransferTopic      string
	FulfillmentSubject string

	CommerceAPIURL   string
	CommerceAPIToken string
	CommerceTimeout  time.Duration

	WebhookAPIKey       string
	PaymentCodePrefix   string
	SessionTTL          time.Duration
	CODGuardWindow      time.Duration
	LatePaymentPolicy   string
	ExpirySweepInterval time.Duration

	BankBIN            string
	BankName           string
	BankAccountNumber  string
	BankAccountName    string
	QRImageURLTemplate string
}

// Load reads the environment, after an optional .env file in the working directory.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:           getEnv("PORT", "8084"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   os.Getenv("KAFKA_BROKERS"),
		JaegerEndpoint: os.Getenv("JAEGER_ENDPOINT"),
		NatsURL:        os.Getenv("NATS_URL"),

		SessionTopic:       getEnv("KAFKA_SESSION_TOPIC", "checkout.session.changed"),
		TransferTopic:      os.Getenv("KAFKA_TRANSFER_TOPIC"),
		FulfillmentSubject: getEnv("FULFILLMENT_SUBJECT", "fulfillment.order.paid"),

		CommerceAPIURL:   os.Getenv("COMMERCE_API_URL"),
		CommerceAPIToken: os.Getenv("COMMERCE_API_TOKEN"),
		CommerceTimeout:  getDuration("COMMERCE_TIMEOUT", 10*time.Second),

		WebhookAPIKey:       os.Getenv("WEBHOOK_API_KEY"),
		PaymentCodePrefix:   getEnv("PAYMENT_CODE_PREFIX", "PERF"),
		SessionTTL:          getDuration("SESSION_TTL", 15*time.Minute),
		CODGuardWindow:      getDuration("COD_GUARD_WINDOW", 2*time.Minute),
		LatePaymentPolicy:   getEnv("LATE_PAYMENT_POLICY", "review"),
		ExpirySweepInterval: getDuration("EXPIRY_SWEEP_INTERVAL", 0),

		BankBIN:            os.Getenv("BANK_BIN"),
		BankName:           os.Getenv("BANK_NAME"),
		BankAccountNumber:  os.Getenv("BANK_ACCOUNT_NUMBER"),
		BankAccountName:    os.Getenv("BANK_ACCOUNT_NAME"),
		QRImageURLTemplate: os.Getenv("QR_IMAGE_URL_TEMPLATE"),
	}
}

// Brokers splits KafkaBrokers on commas. Empty means Kafka is not configured.
func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
