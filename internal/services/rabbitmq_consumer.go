package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ilikefeeling/reshk-sub001/internal/apperr"
	"github.com/ilikefeeling/reshk-sub001/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const depositQueue = "q.recovery.deposit_payments"

// DepositHandler confirms a deposit announced by the payment webhook relay
type DepositHandler func(ctx context.Context, event models.DepositPaidEvent) error

// RabbitMQConsumer feeds payment.deposit_paid messages into a DepositHandler
type RabbitMQConsumer struct {
	conn         *amqp.Connection
	channel      *amqp.Channel
	exchangeName string
	handler      DepositHandler
	timeout      time.Duration
}

func NewRabbitMQConsumer(url, exchangeName string, handler DepositHandler) (*RabbitMQConsumer, error) {
	conn, channel, err := dialExchange(url, exchangeName)
	if err != nil {
		return nil, err
	}

	return &RabbitMQConsumer{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		handler:      handler,
		timeout:      30 * time.Second,
	}, nil
}

// Start declares the queue and consumes until the channel closes
func (c *RabbitMQConsumer) Start() error {
	q, err := c.channel.QueueDeclare(
		depositQueue, // name
		true,         // durable
		false,        // delete when unused
		false,        // exclusive
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := c.channel.QueueBind(q.Name, RoutingDepositPaid, c.exchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue to %s: %w", RoutingDepositPaid, err)
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer tag
		false,  // auto-ack
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go c.consumeLoop(msgs)

	log.Info().Str("queue", q.Name).Msg("Deposit payment consumer started")
	return nil
}

func (c *RabbitMQConsumer) consumeLoop(msgs <-chan amqp.Delivery) {
	for d := range msgs {
		ack, requeue := c.handle(d.Body)
		if ack {
			d.Ack(false)
		} else {
			d.Nack(false, requeue)
		}
	}
}

// handle processes one message body and reports how to settle the delivery
func (c *RabbitMQConsumer) handle(body []byte) (ack, requeue bool) {
	var event models.DepositPaidEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal deposit message")
		return false, false
	}
	if event.RequestID == "" || event.PaymentRef == "" {
		log.Warn().Msg("Deposit message missing request_id or payment_ref")
		return true, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.handler(ctx, event)
	ack, requeue = settle(err)

	evt := log.Info()
	if err != nil {
		evt = log.Warn().Err(err)
	}
	evt.Str("request_id", event.RequestID).
		Str("payment_ref", event.PaymentRef).
		Bool("requeue", requeue).
		Msg("Deposit message processed")

	return ack, requeue
}

// settle decides the delivery outcome. Business rejections are final; only
// upstream and unexpected failures are retried.
func settle(err error) (ack, requeue bool) {
	if err == nil {
		return true, false
	}
	switch apperr.KindOf(err) {
	case apperr.UpstreamUnavailable, apperr.Internal:
		return false, true
	default:
		return true, false
	}
}

func (c *RabbitMQConsumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
