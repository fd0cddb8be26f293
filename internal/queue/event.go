// Package queue defines message payloads exchanged over the message broker.
package queue

import "github.com/shopspring/decimal"

// PaymentQueueName is the durable queue payment events are routed to.
const PaymentQueueName = "payment.recorded"

// PaymentRecordedEvent is published once a payment has been committed and
// the tour inventory decremented. It carries enough information for
// downstream consumers to log, notify or feed analytics without querying
// the primary database.
type PaymentRecordedEvent struct {
	PaymentID     uint64          `json:"payment_id"`
	BookingID     uint64          `json:"booking_id"`
	UserID        uint64          `json:"user_id"`
	TourID        uint64          `json:"tour_id"`
	TicketID      uint64          `json:"ticket_id"`
	Quantity      uint32          `json:"quantity"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentStatus bool            `json:"payment_status"`
	RecordedAt    string          `json:"recorded_at"`
}
