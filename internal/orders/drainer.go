package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderpipeline/internal/config"
	"orderpipeline/internal/platform/kafka"
	"orderpipeline/internal/platform/observability"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one drained message. It must not return failures:
// everything the handler cannot resolve ends inside it.
type MessageHandler interface {
	Orchestrate(ctx context.Context, msg kafkago.Message)
}

type DrainerConfig struct {
	Interval    time.Duration // period between queue sweeps
	PollTimeout time.Duration // per-read deadline; hitting it means the queue is empty
	Cooldown    time.Duration // wait after a broker failure before reconnecting
}

func DefaultDrainerConfig() DrainerConfig {
	return DrainerConfig{
		Interval:    config.DrainInterval,
		PollTimeout: config.PollTimeout,
		Cooldown:    config.ReconnectCooldown,
	}
}

// Drainer owns the consumer lifecycle and converts continuous message arrival
// into discrete, periodically processed batches. A batch is exactly whatever
// arrived since the last sweep, so a slow fulfillment call delays the rest of
// its batch but never stalls intake.
type Drainer struct {
	newConsumer kafka.ConsumerFactory
	handler     MessageHandler
	cfg         DrainerConfig
	logger      observability.Logger
}

func NewDrainer(newConsumer kafka.ConsumerFactory, handler MessageHandler, cfg DrainerConfig, logger observability.Logger) *Drainer {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DrainInterval
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = config.PollTimeout
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = config.ReconnectCooldown
	}
	return &Drainer{
		newConsumer: newConsumer,
		handler:     handler,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run blocks until ctx is canceled. This is the outer supervising loop: a
// broker failure aborts only the current drain cycle; after the cooldown the
// consumer is rebuilt and draining resumes. Retries are unbounded.
func (d *Drainer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.logger.Info("Queue drainer stopped.")
			return nil
		}

		consumer, err := d.newConsumer()
		if err != nil {
			d.logger.Error("❌ Failed to connect to broker",
				zap.Error(err),
				zap.Duration("cooldown", d.cfg.Cooldown),
			)
			if !d.sleep(ctx, d.cfg.Cooldown) {
				d.logger.Info("Queue drainer stopped.")
				return nil
			}
			continue
		}

		err = d.drainLoop(ctx, consumer)
		if cerr := consumer.Close(); cerr != nil {
			d.logger.Error("Failed to close consumer", zap.Error(cerr))
		}

		if ctx.Err() != nil {
			d.logger.Info("Queue drainer stopped.")
			return nil
		}

		d.logger.Error("❌ Drain cycle aborted, reconnecting after cooldown",
			zap.Error(err),
			zap.Duration("cooldown", d.cfg.Cooldown),
		)
		if !d.sleep(ctx, d.cfg.Cooldown) {
			d.logger.Info("Queue drainer stopped.")
			return nil
		}
	}
}

// drainLoop sweeps the queue once per interval until the context ends or the
// broker faults.
func (d *Drainer) drainLoop(ctx context.Context, consumer kafka.Consumer) error {
	d.logger.Info("Queue drainer connected. Sweeping on interval.",
		zap.Duration("interval", d.cfg.Interval),
	)

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			batch, err := d.drainOnce(ctx, consumer)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				d.logger.Info("No order events this interval")
				continue
			}

			d.logger.Info("📨 Drained order events", zap.Int("batch_size", len(batch)))
			for _, msg := range batch {
				d.handleMessage(ctx, msg)
			}
		}
	}
}

// drainOnce empties the queue of everything immediately available. Each read
// runs under a short deadline; hitting it means no message is waiting and the
// batch is complete.
func (d *Drainer) drainOnce(ctx context.Context, consumer kafka.Consumer) ([]kafkago.Message, error) {
	var batch []kafkago.Message
	for {
		pollCtx, cancel := context.WithTimeout(ctx, d.cfg.PollTimeout)
		msg, err := consumer.ReadMessage(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				// Messages already drained are presumed lost on shutdown.
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return batch, nil
			}
			return nil, fmt.Errorf("read order event: %w", err)
		}
		batch = append(batch, *msg)
	}
}

// handleMessage isolates one message: a failure, including a panic, must not
// take down the rest of the batch or the drainer itself.
func (d *Drainer) handleMessage(ctx context.Context, msg kafkago.Message) {
	correlationID := MessageCorrelationID(msg)
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("❌ Order event handling panicked",
				zap.Any("panic", r),
				zap.ByteString("raw_value", msg.Value),
				zap.String("correlation_id", correlationID),
			)
		}
	}()

	d.logger.Info("Handling order event",
		zap.String("correlation_id", correlationID),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
	)
	d.handler.Orchestrate(ctx, msg)
}

func (d *Drainer) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}
