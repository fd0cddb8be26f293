// This file holds the background consumer that listens to the
// payment.recorded queue and appends one structured line per event to
// <log dir>/payment.log.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// PaymentLog writes payment events to a dedicated file through its own
// logrus logger so the lines never mix with request logs.
type PaymentLog struct {
	log *logrus.Logger
	f   *os.File
}

// OpenPaymentLog creates dir if needed and opens dir/payment.log for
// appending.
func OpenPaymentLog(dir string) (*PaymentLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "payment.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	return &PaymentLog{log: l, f: f}, nil
}

func (p *PaymentLog) Close() error { return p.f.Close() }

// Handle decodes one message body and writes it to the log.
func (p *PaymentLog) Handle(body []byte) error {
	var ev PaymentRecordedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.PaymentID == 0 || ev.BookingID == 0 {
		return errors.New("event without payment or booking id")
	}
	p.log.WithFields(logrus.Fields{
		"payment_id":     ev.PaymentID,
		"booking_id":     ev.BookingID,
		"user_id":        ev.UserID,
		"tour_id":        ev.TourID,
		"ticket_id":      ev.TicketID,
		"quantity":       ev.Quantity,
		"total_price":    ev.TotalPrice.String(),
		"payment_status": ev.PaymentStatus,
		"recorded_at":    ev.RecordedAt,
	}).Info("payment recorded")
	return nil
}

// StartPaymentConsumer connects to RabbitMQ, declares the payment queue
// (durable) and feeds every delivery to sink. It reconnects with
// exponential backoff and returns only when ctx is cancelled. Messages
// that fail to process are rejected without requeue.
func StartPaymentConsumer(ctx context.Context, url string, sink *PaymentLog) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			logrus.WithError(err).Warnf("payment-consumer: failed to dial broker; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, sink)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logrus.WithError(err).Warn("payment-consumer: consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sink *PaymentLog) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logrus.WithError(err).Warn("payment-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(PaymentQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(PaymentQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := sink.Handle(d.Body); err != nil {
				logrus.WithError(err).Error("payment-consumer: handle message failed")
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
