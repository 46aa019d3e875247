package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"account-api/internal/ledger"
	"account-api/internal/models"
)

// ConsumerConfig wires the payment event consumer to its broker topology.
type ConsumerConfig struct {
	URL                string
	Exchange           string
	Queue              string
	RoutingKey         string
	DeadLetterExchange string
	PrefetchCount      int
}

// ConsumerMetrics counts processed deliveries by outcome.
type ConsumerMetrics interface {
	IncrementEventsConsumed(outcome string)
}

// PaymentEventConsumer listens for payment authorization events and applies
// them to the ledger. Messages are acked only after the mutation committed;
// events that can never succeed go to the dead letter exchange, transient
// failures are requeued.
type PaymentEventConsumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	engine  ledger.Engine
	config  ConsumerConfig
	metrics ConsumerMetrics
	logger  *logrus.Logger
}

func NewPaymentEventConsumer(config ConsumerConfig, engine ledger.Engine, metrics ConsumerMetrics, logger *logrus.Logger) (*PaymentEventConsumer, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if config.PrefetchCount > 0 {
		if err := channel.Qos(config.PrefetchCount, 0, false); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to set prefetch: %w", err)
		}
	}

	c := &PaymentEventConsumer{
		conn:    conn,
		channel: channel,
		engine:  engine,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}

	if err := c.declareTopology(); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	logger.WithField("queue", config.Queue).Info("✅ Payment event consumer initialized")
	return c, nil
}

func (c *PaymentEventConsumer) declareTopology() error {
	err := c.channel.ExchangeDeclare(
		c.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Poison messages land on the dead letter exchange for inspection.
	err = c.channel.ExchangeDeclare(c.config.DeadLetterExchange, "fanout", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	queue, err := c.channel.QueueDeclare(
		c.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		amqp.Table{
			"x-dead-letter-exchange": c.config.DeadLetterExchange,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(queue.Name, c.config.RoutingKey, c.config.Exchange, false, nil)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Start consumes in the background until ctx is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	msgs, err := c.channel.Consume(
		c.config.Queue, // queue
		"",             // consumer tag
		false,          // auto-ack
		false,          // exclusive
		false,          // no-local
		false,          // no-wait
		nil,            // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("🔄 Payment event consumer started")

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Info("🛑 Payment event consumer shutting down")
				return
			case msg, ok := <-msgs:
				if !ok {
					c.logger.Warn("Message channel closed")
					return
				}
				c.handleDelivery(ctx, msg)
			}
		}
	}()
	return nil
}

func (c *PaymentEventConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	var event PaymentAuthorizationEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.logger.WithError(err).Error("Failed to unmarshal payment event")
		c.count("rejected")
		msg.Nack(false, false) // send to DLQ
		return
	}

	err := c.Process(ctx, &event)
	if err == nil {
		c.count("applied")
		msg.Ack(false)
		return
	}

	if isPermanent(err) {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"operation_id": event.OperationID,
			"account":      event.AccountNumber,
		}).Error("Payment event rejected, sending to DLQ")
		c.count("rejected")
		msg.Nack(false, false)
		return
	}

	c.logger.WithError(err).WithField("operation_id", event.OperationID).
		Warn("Transient failure processing payment event, requeueing")
	c.count("requeued")
	msg.Nack(false, true)
}

func (c *PaymentEventConsumer) count(outcome string) {
	if c.metrics != nil {
		c.metrics.IncrementEventsConsumed(outcome)
	}
}

// Process validates and applies one payment event. Safe to call with the same
// event any number of times: replays return the originally recorded result.
func (c *PaymentEventConsumer) Process(ctx context.Context, event *PaymentAuthorizationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	kind, err := event.Operation()
	if err != nil {
		return err
	}

	if kind == models.OperationTransfer {
		_, err = c.engine.Transfer(ctx, ledger.TransferCommand{
			FromAccount: event.AccountNumber,
			ToAccount:   event.CounterpartAccount,
			Amount:      event.Amount,
			OperationID: event.OperationID,
		})
		if err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{
			"operation_id": event.OperationID,
			"from":         event.AccountNumber,
			"to":           event.CounterpartAccount,
		}).Info("Payment transfer event applied")
		return nil
	}

	_, err = c.engine.Apply(ctx, ledger.Command{
		AccountNumber: event.AccountNumber,
		Kind:          kind,
		Amount:        event.Amount,
		OperationID:   event.OperationID,
	})
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"operation_id": event.OperationID,
		"account":      event.AccountNumber,
		"event_type":   event.EventType,
	}).Info("Payment event applied")
	return nil
}

// isPermanent reports whether redelivering the event could ever succeed.
// Business rejections are deterministic; everything else might be transient.
func isPermanent(err error) bool {
	return errors.Is(err, models.ErrInvalidArgument) ||
		errors.Is(err, models.ErrInvalidState) ||
		errors.Is(err, models.ErrInsufficientFunds) ||
		errors.Is(err, models.ErrInvalidReleaseAmount) ||
		errors.Is(err, models.ErrNotFound)
}

func (c *PaymentEventConsumer) Close() error {
	if err := c.channel.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}
