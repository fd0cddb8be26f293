package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity caps adult_quantity and child_quantity of one booking.
const MaxQuantity = 1000

// childPriceFactor is the share of the ticket price charged per child.
var childPriceFactor = decimal.RequireFromString("0.75")

// BookingTotal returns price × (adults + 0.75 × children) using exact
// decimal arithmetic. The result is what gets frozen on the booking.
func BookingTotal(price decimal.Decimal, adults, children uint32) decimal.Decimal {
	units := decimal.NewFromInt(int64(adults)).
		Add(childPriceFactor.Mul(decimal.NewFromInt(int64(children))))
	return price.Mul(units)
}

// Booking reserves quantity against a ticket. TotalPrice is computed once
// at creation and never recomputed. TourID is not a column of the
// bookings table; repositories fill it by joining through the ticket.
//
// A booking is "created" until a Payment is recorded for it and "paid"
// afterwards. There is no cancellation state.
type Booking struct {
	ID            uint64          `json:"id"`             // bookings.id
	UserID        uint64          `json:"user_id"`        // bookings.user_id
	TicketID      uint64          `json:"ticket_id"`      // bookings.ticket_id
	TourID        uint64          `json:"tour_id"`        // tickets.tour_id
	AdultQuantity uint32          `json:"adult_quantity"` // bookings.adult_quantity
	ChildQuantity uint32          `json:"child_quantity"` // bookings.child_quantity
	TotalPrice    decimal.Decimal `json:"total_price"`    // bookings.total_price
	Active        bool            `json:"active"`         // bookings.active
	Paid          bool            `json:"paid"`           // EXISTS payments row
	CreatedAt     time.Time       `json:"created_at"`     // bookings.created_at
	UpdatedAt     time.Time       `json:"updated_at"`     // bookings.updated_at
}

// Quantity is the number of places the booking consumes from the tour.
// It is summed in 64 bits so two full uint32 columns cannot wrap.
func (b Booking) Quantity() uint64 { return uint64(b.AdultQuantity) + uint64(b.ChildQuantity) }

// Payment settles a booking. Recording it is what deducts inventory from
// the tour; there is at most one payment per booking.
type Payment struct {
	ID              uint64    `json:"id"`                // payments.id
	BookingID       uint64    `json:"booking_id"`        // payments.booking_id
	PaymentMethodID string    `json:"payment_method_id"` // payments.payment_method_id
	PaymentStatus   bool      `json:"payment_status"`    // payments.payment_status
	CreatedAt       time.Time `json:"created_at"`        // payments.created_at
}
