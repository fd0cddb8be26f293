// Package service holds the multi-step operations that span several
// repositories: booking and payment, engagement (comments, likes,
// ratings) and the publication of domain events.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/queue"
)

// EventPublisher delivers domain events to the message broker.
type EventPublisher interface {
	PublishPaymentRecorded(ctx context.Context, ev queue.PaymentRecordedEvent) error
}

// AMQPPublisher publishes events to RabbitMQ. A connection is opened per
// message; payments are infrequent enough that pooling is not needed.
// Errors are logged and returned so callers can ignore them without
// interrupting the request.
type AMQPPublisher struct {
	url string
}

func NewAMQPPublisher(url string) *AMQPPublisher { return &AMQPPublisher{url: url} }

// PublishPaymentRecorded sends ev to the payment.recorded queue as a
// persistent JSON message.
func (p *AMQPPublisher) PublishPaymentRecorded(ctx context.Context, ev queue.PaymentRecordedEvent) error {
	log := logrus.WithField("payment_id", ev.PaymentID)

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.WithError(err).Warn("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Warn("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// durable so messages survive broker restarts
	if _, err := ch.QueueDeclare(
		queue.PaymentQueueName, // name
		true,                   // durable
		false,                  // autoDelete
		false,                  // exclusive
		false,                  // noWait
		nil,                    // args
	); err != nil {
		log.WithError(err).Warn("rabbitmq: queue declare failed")
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx,
		"",                     // default exchange
		queue.PaymentQueueName, // routing key = queue name
		false,                  // mandatory
		false,                  // immediate
		pub,
	); err != nil {
		log.WithError(err).Warn("rabbitmq: publish failed")
		return err
	}
	return nil
}

// NopPublisher drops every event. It is used when the broker is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishPaymentRecorded(context.Context, queue.PaymentRecordedEvent) error {
	return nil
}
