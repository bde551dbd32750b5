package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"conversation-service/internal/telemetry"
)

// Publisher publishes audit and lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// Options configures NewPublisher.
type Options struct {
	URL           string
	Exchange      string
	RetryAttempts int
	Delay         time.Duration
	Logger        *zap.Logger
}

const maxDelay = 30 * time.Second

// NewPublisher builds a RabbitMQ publisher or a noop publisher when AMQP is disabled or unreachable.
func NewPublisher(ctx context.Context, opts Options) Publisher {
	logger := opts.Logger
	if opts.URL == "" {
		logger.Info("rabbitmq disabled, using noop", zap.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url", logger: logger}
	}

	conn, err := dialWithRetry(ctx, opts)
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		return noopPublisher{reason: err.Error(), logger: logger}
	}

	ch, err := conn.Channel()
	if err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), logger: logger}
	}

	if err := ch.ExchangeDeclare(
		opts.Exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		logger.Warn("rabbitmq disabled, using noop", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), logger: logger}
	}

	logger.Info("rabbitmq connected", zap.String("exchange", opts.Exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: opts.Exchange, logger: logger}
}

// dialWithRetry connects with exponential backoff, giving up on ctx cancellation.
func dialWithRetry(ctx context.Context, opts Options) (*amqp.Connection, error) {
	attempts := opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(opts.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		sleep := delay << (i - 1)
		if sleep > maxDelay {
			sleep = maxDelay
		}
		opts.Logger.Warn("rabbit dial failed", zap.Int("attempt", i), zap.Duration("sleep", sleep), zap.Error(err))

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.New("dial cancelled: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	table := amqp.Table{}
	for key, value := range headers {
		table[key] = value
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		p.logger.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	logger *zap.Logger
}

func (p noopPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		p.logger.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey),
			zap.String("event_type", envelope.EventType), zap.String("action", envelope.Payload.Action))
	default:
		p.logger.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey))
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
