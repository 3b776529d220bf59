package app

import (
	"context"
	"fmt"
	"os"

	"orderpipeline/internal/config"
	"orderpipeline/internal/orders"
	"orderpipeline/internal/orders/review"
	"orderpipeline/internal/platform/kafka"
	"orderpipeline/internal/platform/observability"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Container holds expensive-to-create singleton resources and dependencies
type Container struct {
	config            *config.Config
	logger            observability.Logger
	tracer            observability.Tracer
	messageProducer   kafka.Producer
	reviewDB          *gorm.DB
	drainer           *orders.Drainer
	otelLogShutdown   func(context.Context) error
	otelTraceShutdown func(context.Context) error
}

// NewContainer creates and initializes all infrastructure components
func NewContainer(ctx context.Context) (*Container, error) {
	// Load configuration first
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	container := &Container{
		config: cfg,
	}

	// Initialize logger
	if err := container.setupLogger(ctx); err != nil {
		return nil, err
	}

	// Setup OpenTelemetry and Kafka
	consumerFactory, err := container.setupObservability(ctx)
	if err != nil {
		return nil, err
	}

	// Setup the manual-review store
	reviewStore, err := container.setupReviewStore()
	if err != nil {
		return nil, err
	}

	// Wire the pipeline
	container.setupPipeline(consumerFactory, reviewStore)

	return container, nil
}

// setupLogger initializes the logger with OpenTelemetry integration
func (c *Container) setupLogger(ctx context.Context) error {
	// Start with basic logger
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	c.logger = logger
	return nil
}

// setupObservability configures OpenTelemetry logging and tracing and builds
// the Kafka components on top of the resulting tracer provider.
func (c *Container) setupObservability(ctx context.Context) (kafka.ConsumerFactory, error) {
	// Setup logging SDK
	otelLogShutdown, err := observability.SetupLoggingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry logging", zap.Error(err))
	}
	c.otelLogShutdown = otelLogShutdown

	// Setup tracing SDK
	tp, otelTraceShutdown, err := observability.SetupTracingSDK(ctx, c.config)
	if err != nil {
		c.logger.Error("Failed to setup OpenTelemetry tracing", zap.Error(err))
	}
	c.otelTraceShutdown = otelTraceShutdown

	// Re-initialize logger with OTel bridge
	c.reinitializeLoggerWithOTel()

	// Setup tracer
	c.tracer = otel.Tracer(config.ServiceName)

	// Setup Kafka with the TracerProvider
	return c.setupKafkaWithTracer(tp)
}

// reinitializeLoggerWithOTel creates a new logger with OpenTelemetry integration
func (c *Container) reinitializeLoggerWithOTel() {
	logProvider := global.GetLoggerProvider()
	instrumentationScopeName := "order-pipeline.manual"
	otelZapCore := otelzap.NewCore(instrumentationScopeName,
		otelzap.WithLoggerProvider(logProvider),
	)

	consoleEncoderConfig := zap.NewProductionEncoderConfig()
	consoleEncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(consoleEncoderConfig),
		zapcore.Lock(os.Stdout),
		zap.InfoLevel,
	)

	finalCore := zapcore.NewTee(otelZapCore, consoleCore)
	logger := zap.New(finalCore,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.Fields(zap.String("service.name", config.ServiceName)),
	)

	c.logger = logger
	c.logger.Info("Logger re-initialized with OpenTelemetry bridge")
}

// setupKafkaWithTracer initializes the Kafka producer and the consumer
// factory the drainer rebuilds readers with after broker failures.
func (c *Container) setupKafkaWithTracer(tp trace.TracerProvider) (kafka.ConsumerFactory, error) {
	broker := c.config.KafkaBroker

	consumerFactory := func() (kafka.Consumer, error) {
		baseReader := kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: []string{broker},
			Topic:   config.OrdersTopic,
			GroupID: config.GroupID,
		})
		return otelkafka.NewReader(baseReader)
	}

	// Create Kafka writer
	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(broker),
		Topic:        config.OrdersTopic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(config.OrdersTopic),
				attribute.String("messaging.kafka.client_id", config.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, err
	}
	c.messageProducer = writer

	return consumerFactory, nil
}

// setupReviewStore opens the manual-review database and migrates its table.
func (c *Container) setupReviewStore() (review.Store, error) {
	db, err := gorm.Open(postgres.Open(c.config.ReviewDBDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open review database: %w", err)
	}
	c.reviewDB = db

	store, err := review.NewStore(db)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// setupPipeline wires the domain components: fulfillment client, publisher,
// orchestrator and drainer.
func (c *Container) setupPipeline(consumerFactory kafka.ConsumerFactory, reviewStore review.Store) {
	fulfillment := orders.NewHTTPFulfillmentClient(c.config.FulfillmentURL, config.FulfillmentTimeout, c.logger)
	publisher := orders.NewPublisher(c.messageProducer, c.logger)
	orchestrator := orders.NewOrchestrator(fulfillment, publisher, reviewStore, c.logger, c.tracer)
	c.drainer = orders.NewDrainer(consumerFactory, orchestrator, orders.DefaultDrainerConfig(), c.logger)
}

// Shutdown gracefully shuts down all infrastructure components
func (c *Container) Shutdown(ctx context.Context) {
	c.logger.Info("Shutting down infrastructure...")

	if c.messageProducer != nil {
		if err := c.messageProducer.Close(); err != nil {
			c.logger.Error("Failed to close message producer", zap.Error(err))
		}
	}

	if c.reviewDB != nil {
		if sqlDB, err := c.reviewDB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				c.logger.Error("Failed to close review database", zap.Error(err))
			}
		}
	}

	// Shutdown OpenTelemetry
	if c.otelTraceShutdown != nil {
		if err := c.otelTraceShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel tracing", zap.Error(err))
		}
	}

	if c.otelLogShutdown != nil {
		if err := c.otelLogShutdown(ctx); err != nil {
			c.logger.Error("Failed to shutdown OTel logging", zap.Error(err))
		}
	}

	// Sync logger
	if err := c.logger.Sync(); err != nil {
		// Can't log this error since logger might be closed
		fmt.Printf("Failed to sync logger: %v\n", err)
	}
}

// Getters for accessing infrastructure components
func (c *Container) Logger() observability.Logger   { return c.logger }
func (c *Container) Tracer() observability.Tracer   { return c.tracer }
func (c *Container) MessageProducer() kafka.Producer { return c.messageProducer }
func (c *Container) Drainer() *orders.Drainer        { return c.drainer }
