package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tournevent/shipbroker/internal/config"
	"github.com/tournevent/shipbroker/internal/events"
	brokerkafka "github.com/tournevent/shipbroker/internal/events/kafka"
	"github.com/tournevent/shipbroker/internal/orders"
	"github.com/tournevent/shipbroker/internal/pricing"
	"github.com/tournevent/shipbroker/internal/storage/memory"
	"github.com/tournevent/shipbroker/internal/storage/postgres"
	"github.com/tournevent/shipbroker/internal/telemetry"
	"github.com/tournevent/shipbroker/internal/tracking"
	"github.com/tournevent/shipbroker/internal/wallet"
	"github.com/tournevent/shipbroker/pkg/shipper"
	"github.com/tournevent/shipbroker/pkg/shipper/delhivery"
	"github.com/tournevent/shipbroker/pkg/shipper/dhl"
	"github.com/tournevent/shipbroker/pkg/shipper/shiprocket"
)

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return nil, func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) *shipper.Registry {
	registry := shipper.NewRegistry()

	if cfg.DelhiveryEnabled {
		registry.Register(delhivery.New(delhivery.Config{
			APIKey:            cfg.DelhiveryAPIKey,
			BaseURL:           cfg.DelhiveryBaseURL,
			PickupLocation:    cfg.DelhiveryPickupLocation,
			RequestsPerSecond: cfg.DelhiveryRPS,
			UseMock:           cfg.DelhiveryUseMock,
		}, logger, tracer))
	}

	if cfg.ShiprocketEnabled {
		registry.Register(shiprocket.New(shiprocket.Config{
			Email:             cfg.ShiprocketEmail,
			Password:          cfg.ShiprocketPassword,
			BaseURL:           cfg.ShiprocketBaseURL,
			PickupLocation:    cfg.ShiprocketPickupLocation,
			RequestsPerSecond: cfg.ShiprocketRPS,
			UseMock:           cfg.ShiprocketUseMock,
		}, logger, tracer))
	}

	if cfg.DHLEnabled {
		registry.Register(dhl.New(dhl.Config{
			ClientID:          cfg.DHLClientID,
			ClientSecret:      cfg.DHLClientSecret,
			AccountNumber:     cfg.DHLAccountNumber,
			BaseURL:           cfg.DHLBaseURL,
			RequestsPerSecond: cfg.DHLRPS,
			UseMock:           cfg.DHLUseMock,
		}, logger, tracer))
	}

	return registry
}

func initRateCard(cfg *config.Config) (*pricing.RateCard, error) {
	card := pricing.NewRateCard(cfg.FallbackBase, cfg.FallbackPerKg)
	if cfg.RateCardFile == "" {
		return card, nil
	}
	return pricing.LoadRateCard(cfg.RateCardFile, card)
}

// app holds the wired services shared by the commands.
type app struct {
	cfg          *config.Config
	logger       *otelzap.Logger
	metrics      *telemetry.Metrics
	registry     *shipper.Registry
	publisher    events.Publisher
	orderStore   orders.Store
	ledger       *wallet.Ledger
	quoter       *pricing.Quoter
	dispatcher   *orders.Dispatcher
	orchestrator *orders.Orchestrator
	closers      []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) (*app, error) {
	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   telemetry.NewMetrics(prometheus.DefaultRegisterer),
		registry:  initShipperRegistry(cfg, logger, tracer),
		publisher: events.Nop{},
	}

	var walletStore wallet.Store
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pool.Close)
		a.orderStore = postgres.NewOrderStore(pool)
		walletStore = postgres.NewWalletStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		a.orderStore = memory.NewOrderStore()
		walletStore = memory.NewWalletStore()
	}

	if len(cfg.KafkaBrokers) > 0 {
		pub := brokerkafka.NewPublisher(cfg.KafkaBrokers)
		a.publisher = topicPublisher{next: pub, orders: cfg.KafkaOrdersTopic, wallet: cfg.KafkaWalletTopic}
		a.closers = append(a.closers, func() {
			if err := pub.Close(); err != nil {
				logger.Warn("Closing Kafka publisher failed", zap.Error(err))
			}
		})
	}

	card, err := initRateCard(cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("loading rate card: %w", err)
	}

	a.ledger = wallet.NewLedger(walletStore, logger,
		wallet.WithPublisher(a.publisher),
		wallet.WithMetrics(a.metrics),
	)
	a.quoter = pricing.NewQuoter(a.registry, card, logger, a.metrics)
	a.dispatcher = orders.NewDispatcher(a.orderStore, logger, orders.DispatcherConfig{
		Workers:       cfg.BookingWorkers,
		QueueSize:     cfg.BookingQueueSize,
		SweepInterval: cfg.BookingSweepInterval,
		Lease:         cfg.BookingLease,
	})

	orderCfg := orders.DefaultConfig()
	orderCfg.MaxBookingAttempts = cfg.BookingMaxAttempts
	orderCfg.BookingLease = cfg.BookingLease
	orderCfg.RetryBaseDelay = cfg.BookingRetryBase
	a.orchestrator = orders.NewOrchestrator(a.orderStore, a.registry, a.quoter, a.ledger, logger,
		orders.WithScheduler(a.dispatcher),
		orders.WithPublisher(a.publisher),
		orders.WithMetrics(a.metrics),
		orders.WithConfig(orderCfg),
	)

	logger.Info("Services initialized",
		zap.Strings("partners", a.registry.Names()),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Int("kafka_brokers", len(cfg.KafkaBrokers)),
	)
	return a, nil
}

func (a *app) reconciler() *tracking.Reconciler {
	return tracking.NewReconciler(a.orchestrator, a.registry, a.logger, a.metrics, tracking.Config{
		Interval:    a.cfg.ReconcileInterval,
		Concurrency: a.cfg.ReconcileConcurrency,
	})
}

func (a *app) topUpConsumer() *brokerkafka.TopUpConsumer {
	return brokerkafka.NewTopUpConsumer(brokerkafka.ConsumerConfig{
		Brokers: a.cfg.KafkaBrokers,
		Topic:   a.cfg.KafkaTopUpTopic,
		GroupID: a.cfg.KafkaGroupID,
	}, a.ledger, a.logger)
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// topicPublisher routes the default topics to the configured names.
type topicPublisher struct {
	next   events.Publisher
	orders string
	wallet string
}

func (p topicPublisher) Publish(ctx context.Context, topic string, event events.Event) error {
	switch topic {
	case events.TopicOrders:
		topic = p.orders
	case events.TopicWallet:
		topic = p.wallet
	}
	return p.next.Publish(ctx, topic, event)
}
