package config

import (
	"fmt"
	"os"
	"time"
)

const (
	ServiceName    = "order-pipeline"
	ServiceVersion = "0.1.0"
)

const (
	OrdersTopic = "OrderEvents"
	GroupID     = "order-pipeline-group"

	// DrainInterval is the period between queue sweeps; PollTimeout is the
	// per-read deadline that makes a sweep non-blocking (a read that hits it
	// means the queue is empty right now).
	DrainInterval = 30 * time.Second
	PollTimeout   = 250 * time.Millisecond

	// ReconnectCooldown is how long the drainer waits after a broker
	// failure before rebuilding the consumer.
	ReconnectCooldown = 10 * time.Second

	BatchTimeout = 10 * time.Millisecond
	BatchSize    = 100
)

const (
	// MaxOccurrences is the retry ceiling: events arriving with
	// occurrences >= MaxOccurrences are discarded before dispatch.
	MaxOccurrences = 3

	// PublishedOccurrences is the counter value for events minted when the
	// workflow advances to its next step.
	PublishedOccurrences = 1

	FulfillmentTimeout = 15 * time.Second
)

const (
	LogsPath      = "/otlp/v1/logs"   // Grafana Cloud OTLP path
	TracesPath    = "/otlp/v1/traces" // Grafana Cloud OTLP path
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

const DefaultAPIAddr = ":8080"

type Config struct {
	KafkaBroker    string
	FulfillmentURL string
	ReviewDBDSN    string
	APIAddr        string
	OtelEndpoint   string
	OtelAuthHeader string
}

func LoadConfig() (*Config, error) {
	config := &Config{
		KafkaBroker:    os.Getenv("KAFKA_BROKER"),
		FulfillmentURL: os.Getenv("FULFILLMENT_URL"),
		ReviewDBDSN:    os.Getenv("REVIEW_DB_DSN"),
		APIAddr:        os.Getenv("API_ADDR"),
		OtelEndpoint:   os.Getenv("OTEL_ENDPOINT"),
		OtelAuthHeader: os.Getenv("OTEL_AUTH_HEADER"),
	}

	if config.KafkaBroker == "" {
		return nil, fmt.Errorf("KAFKA_BROKER environment variable is required")
	}
	if config.FulfillmentURL == "" {
		return nil, fmt.Errorf("FULFILLMENT_URL environment variable is required")
	}
	if config.ReviewDBDSN == "" {
		return nil, fmt.Errorf("REVIEW_DB_DSN environment variable is required")
	}
	if config.OtelEndpoint == "" {
		return nil, fmt.Errorf("OTEL_ENDPOINT environment variable is required")
	}
	if config.OtelAuthHeader == "" {
		return nil, fmt.Errorf("OTEL_AUTH_HEADER environment variable is required")
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	return config, nil
}
