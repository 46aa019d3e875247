package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"account-api/internal/models"
)

// PublisherConfig wires the balance event publisher to its exchange.
type PublisherConfig struct {
	URL      string
	Exchange string
}

// BalanceEventPublisher emits balance.updated events for downstream services.
// It satisfies ledger.EventPublisher.
type BalanceEventPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  PublisherConfig
	logger  *logrus.Logger
}

func NewBalanceEventPublisher(config PublisherConfig, logger *logrus.Logger) (*BalanceEventPublisher, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		config.Exchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.WithField("exchange", config.Exchange).Info("✅ Balance event publisher initialized")

	return &BalanceEventPublisher{
		conn:    conn,
		channel: channel,
		config:  config,
		logger:  logger,
	}, nil
}

func (p *BalanceEventPublisher) PublishBalanceUpdated(ctx context.Context, record *models.AuditRecord) error {
	event := BalanceUpdatedEvent{
		EventID:           uuid.New().String(),
		AccountNumber:     record.AccountNumber,
		Kind:              string(record.Kind),
		Amount:            record.Amount,
		AuthorizedBalance: record.AuthorizedBalance,
		ActualBalance:     record.ActualBalance,
		BalanceVersion:    record.BalanceVersion,
		OperationID:       record.OperationID,
		Timestamp:         time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal balance event: %w", err)
	}

	routingKey := fmt.Sprintf("balance.updated.%s", record.Kind)
	err = p.channel.PublishWithContext(ctx,
		p.config.Exchange, // exchange
		routingKey,        // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.EventID,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish balance event: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"routing_key":  routingKey,
		"audit_number": record.Number,
	}).Debug("Published balance update event")
	return nil
}

func (p *BalanceEventPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
