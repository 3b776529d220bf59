// The api binary is the manual trigger for the pipeline: it accepts an order
// over HTTP and publishes a fresh MAKE_LEMONADE event onto the queue.
package main

import (
	"encoding/json"
	stdlog "log"

	"orderpipeline/internal/config"
	"orderpipeline/internal/orders"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/gin-gonic/gin"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("API server failed: %v", err)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	baseWriter := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBroker),
		Topic:        config.OrdersTopic,
		Balancer:     &kafkago.LeastBytes{},
		BatchTimeout: config.BatchTimeout,
		BatchSize:    config.BatchSize,
	}
	writer, err := otelkafka.NewWriter(baseWriter)
	if err != nil {
		return err
	}
	defer writer.Close()

	publisher := orders.NewPublisher(writer, logger)

	r := gin.Default()
	v1 := r.Group("/api/v1")
	{
		v1.POST("/orders/lemonade", createLemonadeOrder(publisher, logger))
	}
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	logger.Info("API server listening", zap.String("addr", cfg.APIAddr))
	return r.Run(cfg.APIAddr)
}

func createLemonadeOrder(publisher orders.Publisher, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req orders.LemonadeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		payload, err := json.Marshal(req)
		if err != nil {
			c.JSON(500, gin.H{"error": err.Error()})
			return
		}

		// Fresh events enter the pipeline with a zero attempt counter.
		if err := publisher.Publish(c.Request.Context(), orders.EventMakeLemonade, payload, 0); err != nil {
			logger.Error("Failed to enqueue order", zap.Error(err))
			c.JSON(502, gin.H{"error": "failed to enqueue order"})
			return
		}
		c.JSON(202, gin.H{"event": orders.EventMakeLemonade})
	}
}
