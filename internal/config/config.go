package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds all configuration for the service.
type Config struct {
	// Server
	Port          int    `envconfig:"PORT" default:"8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	WebhookToken  string `envconfig:"WEBHOOK_TOKEN"`
	InternalToken string `envconfig:"INTERNAL_TOKEN"`

	// Storage; in-memory stores are used when DatabaseURL is empty.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Kafka; events are dropped when no brokers are configured.
	KafkaBrokers     []string `envconfig:"KAFKA_BROKERS"`
	KafkaOrdersTopic string   `envconfig:"KAFKA_ORDERS_TOPIC" default:"shipbroker.orders"`
	KafkaWalletTopic string   `envconfig:"KAFKA_WALLET_TOPIC" default:"shipbroker.wallet"`
	KafkaTopUpTopic  string   `envconfig:"KAFKA_TOPUP_TOPIC" default:"shipbroker.topups"`
	KafkaGroupID     string   `envconfig:"KAFKA_GROUP_ID" default:"shipbroker"`

	// Delhivery
	DelhiveryAPIKey         string  `envconfig:"DELHIVERY_API_KEY"`
	DelhiveryBaseURL        string  `envconfig:"DELHIVERY_BASE_URL" default:"https://track.delhivery.com"`
	DelhiveryPickupLocation string  `envconfig:"DELHIVERY_PICKUP_LOCATION"`
	DelhiveryEnabled        bool    `envconfig:"DELHIVERY_ENABLED" default:"true"`
	DelhiveryUseMock        bool    `envconfig:"DELHIVERY_USE_MOCK" default:"false"`
	DelhiveryRPS            float64 `envconfig:"DELHIVERY_RPS" default:"10"`

	// Shiprocket
	ShiprocketEmail          string  `envconfig:"SHIPROCKET_EMAIL"`
	ShiprocketPassword       string  `envconfig:"SHIPROCKET_PASSWORD"`
	ShiprocketBaseURL        string  `envconfig:"SHIPROCKET_BASE_URL" default:"https://apiv2.shiprocket.in"`
	ShiprocketPickupLocation string  `envconfig:"SHIPROCKET_PICKUP_LOCATION" default:"Primary"`
	ShiprocketEnabled        bool    `envconfig:"SHIPROCKET_ENABLED" default:"true"`
	ShiprocketUseMock        bool    `envconfig:"SHIPROCKET_USE_MOCK" default:"false"`
	ShiprocketRPS            float64 `envconfig:"SHIPROCKET_RPS" default:"5"`

	// DHL Express
	DHLClientID      string  `envconfig:"DHL_CLIENT_ID"`
	DHLClientSecret  string  `envconfig:"DHL_CLIENT_SECRET"`
	DHLAccountNumber string  `envconfig:"DHL_ACCOUNT_NUMBER"`
	DHLBaseURL       string  `envconfig:"DHL_BASE_URL" default:"https://express.api.dhl.com/mydhlapi"`
	DHLEnabled       bool    `envconfig:"DHL_ENABLED" default:"true"`
	DHLUseMock       bool    `envconfig:"DHL_USE_MOCK" default:"false"`
	DHLRPS           float64 `envconfig:"DHL_RPS" default:"2"`

	// Pricing
	RateCardFile  string          `envconfig:"RATE_CARD_FILE"`
	FallbackBase  decimal.Decimal `envconfig:"FALLBACK_BASE" default:"50"`
	FallbackPerKg decimal.Decimal `envconfig:"FALLBACK_PER_KG" default:"20"`

	// Booking
	BookingWorkers       int           `envconfig:"BOOKING_WORKERS" default:"4"`
	BookingQueueSize     int           `envconfig:"BOOKING_QUEUE_SIZE" default:"256"`
	BookingSweepInterval time.Duration `envconfig:"BOOKING_SWEEP_INTERVAL" default:"30s"`
	BookingLease         time.Duration `envconfig:"BOOKING_LEASE" default:"2m"`
	BookingMaxAttempts   int           `envconfig:"BOOKING_MAX_ATTEMPTS" default:"5"`
	BookingRetryBase     time.Duration `envconfig:"BOOKING_RETRY_BASE" default:"30s"`

	// Tracking
	ReconcileInterval    time.Duration `envconfig:"RECONCILE_INTERVAL" default:"10m"`
	ReconcileConcurrency int           `envconfig:"RECONCILE_CONCURRENCY" default:"8"`

	// Telemetry
	OTELEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTELEndpoint string `envconfig:"OTEL_ENDPOINT" default:"http://localhost:4318"`
	ServiceName  string `envconfig:"SERVICE_NAME" default:"shipbroker"`
	Version      string `envconfig:"SERVICE_VERSION" default:"0.1.0"`
}

// Load reads a .env file when present, then environment variables.
// Variables already set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.FallbackBase.IsNegative() || c.FallbackPerKg.IsNegative() {
		return errors.New("config: fallback rates must not be negative")
	}
	if c.BookingMaxAttempts < 1 {
		return errors.New("config: BOOKING_MAX_ATTEMPTS must be at least 1")
	}
	if c.BookingLease <= 0 {
		return errors.New("config: BOOKING_LEASE must be positive")
	}
	return nil
}

// Attributes returns OpenTelemetry attributes for this configuration.
func (c *Config) Attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("service.name", c.ServiceName),
		attribute.String("service.version", c.Version),
		attribute.Bool("delhivery.enabled", c.DelhiveryEnabled),
		attribute.Bool("shiprocket.enabled", c.ShiprocketEnabled),
		attribute.Bool("dhl.enabled", c.DHLEnabled),
		attribute.Bool("postgres.enabled", c.DatabaseURL != ""),
		attribute.Int("kafka.brokers", len(c.KafkaBrokers)),
	}
}
