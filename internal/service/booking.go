package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/model"
	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/queue"
	"github.com/kiennguyen/apptravel/internal/repository"
)

var (
	// ErrInvalidQuantity rejects negative, oversized and empty bookings.
	ErrInvalidQuantity = errors.New("adult_quantity and child_quantity must be between 0 and 1000 and not both zero")
	// ErrInsufficientInventory means the tour has fewer places left than
	// the booking needs.
	ErrInsufficientInventory = errors.New("not enough remaining quantity for this tour")
	// ErrAlreadyPaid is returned for a second payment on the same booking.
	ErrAlreadyPaid = errors.New("booking already paid")
)

// publishTimeout bounds the background event publication.
const publishTimeout = 5 * time.Second

// BookingService prices bookings and records payments.
type BookingService struct {
	db       *sql.DB
	tickets  *repository.TicketRepo
	bookings *repository.BookingRepo
	payments *repository.PaymentRepo
	tours    *repository.TourRepo
	events   EventPublisher
}

func NewBookingService(db *sql.DB, tickets *repository.TicketRepo, bookings *repository.BookingRepo,
	payments *repository.PaymentRepo, tours *repository.TourRepo, events EventPublisher) *BookingService {
	if events == nil {
		events = NopPublisher{}
	}
	return &BookingService{db: db, tickets: tickets, bookings: bookings, payments: payments, tours: tours, events: events}
}

// CreateBooking books adults and children on an active ticket for userID.
// The total price is computed here once and frozen on the row. Inventory
// is untouched until the booking is paid.
func (s *BookingService) CreateBooking(ctx context.Context, userID, ticketID uint64, adults, children int) (*model.Booking, error) {
	if !validQuantity(adults) || !validQuantity(children) || adults+children == 0 {
		return nil, ErrInvalidQuantity
	}
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.Active {
		return nil, repository.ErrTicketNotFound
	}
	b := &model.Booking{
		UserID:        userID,
		TicketID:      ticket.ID,
		AdultQuantity: uint32(adults),
		ChildQuantity: uint32(children),
		TotalPrice:    model.BookingTotal(ticket.Price, uint32(adults), uint32(children)),
	}
	if err := s.bookings.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	return b, nil
}

func validQuantity(n int) bool { return n >= 0 && n <= model.MaxQuantity }

// PaymentInput is the client-supplied part of a payment. Status defaults
// to true when omitted.
type PaymentInput struct {
	MethodID string
	Status   *bool
}

// AddPayment records the payment of a booking owned by userID and draws
// the booked quantity from the tour, all in one transaction. The booking
// and tour rows stay locked until commit, so concurrent payments against
// the same tour are serialized and inventory cannot go negative.
//
// Errors: repository.ErrBookingNotFound when the booking is missing or
// owned by someone else, ErrAlreadyPaid, ErrInsufficientInventory.
func (s *BookingService) AddPayment(ctx context.Context, userID, bookingID uint64, in PaymentInput) (*model.Payment, error) {
	status := true
	if in.Status != nil {
		status = *in.Status
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin payment tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	booking, err := s.bookings.GetForUserForUpdateTx(ctx, tx, bookingID, userID)
	if err != nil {
		return nil, err
	}
	paid, err := s.payments.ExistsForBookingTx(ctx, tx, booking.ID)
	if err != nil {
		return nil, err
	}
	if paid {
		return nil, ErrAlreadyPaid
	}

	qty := booking.Quantity()
	remaining, err := s.tours.LockRemainingTx(ctx, tx, booking.TourID)
	if err != nil {
		return nil, err
	}
	if uint64(remaining) < qty {
		return nil, ErrInsufficientInventory
	}
	// qty <= remaining, so it fits the column type.
	if err := s.tours.DecrementRemainingTx(ctx, tx, booking.TourID, uint32(qty)); err != nil {
		if errors.Is(err, repository.ErrInsufficientQuantity) {
			return nil, ErrInsufficientInventory
		}
		return nil, err
	}

	p := &model.Payment{BookingID: booking.ID, PaymentMethodID: in.MethodID, PaymentStatus: status}
	if err := s.payments.CreateTx(ctx, tx, p); err != nil {
		if errors.Is(err, repository.ErrPaymentExists) {
			return nil, ErrAlreadyPaid
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit payment: %w", err)
	}
	committed = true
	p.CreatedAt = time.Now().UTC()

	logrus.WithFields(logrus.Fields{
		"payment_id": p.ID,
		"booking_id": booking.ID,
		"tour_id":    booking.TourID,
		"quantity":   qty,
	}).Info("payment recorded")

	s.publish(queue.PaymentRecordedEvent{
		PaymentID:     p.ID,
		BookingID:     booking.ID,
		UserID:        booking.UserID,
		TourID:        booking.TourID,
		TicketID:      booking.TicketID,
		Quantity:      uint32(qty),
		TotalPrice:    booking.TotalPrice,
		PaymentStatus: p.PaymentStatus,
		RecordedAt:    p.CreatedAt.Format(time.RFC3339),
	})
	return p, nil
}

// publish sends ev in the background. Failures are logged only; the
// payment is already committed.
func (s *BookingService) publish(ev queue.PaymentRecordedEvent) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.PublishPaymentRecorded(ctx, ev); err != nil {
			logrus.WithError(err).WithField("payment_id", ev.PaymentID).Warn("payment event not published")
		}
	}()
}

// Bookings lists the active bookings visible to caller: their own, or
// every active booking for a super-user.
func (s *BookingService) Bookings(ctx context.Context, caller policy.Caller) ([]model.Booking, error) {
	if policy.Elevated(caller) {
		return s.bookings.ListActive(ctx)
	}
	return s.bookings.ListActiveByUser(ctx, caller.UserID)
}

// OwnBookings lists the caller's own active bookings regardless of role.
func (s *BookingService) OwnBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return s.bookings.ListActiveByUser(ctx, userID)
}

// Booking loads a booking and applies the object rule of op. Bookings
// the caller may not see are reported as not found.
func (s *BookingService) Booking(ctx context.Context, caller policy.Caller, op policy.Operation, id uint64) (*model.Booking, error) {
	b, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CheckObject(policy.Lookup(op), caller, b.UserID) {
		return nil, repository.ErrBookingNotFound
	}
	return b, nil
}

// SetBookingActive changes the active flag, the only mutable field of a
// booking. Deleting a booking is SetBookingActive(false).
func (s *BookingService) SetBookingActive(ctx context.Context, caller policy.Caller, op policy.Operation, id uint64, active bool) (*model.Booking, error) {
	if _, err := s.Booking(ctx, caller, op, id); err != nil {
		return nil, err
	}
	if err := s.bookings.SetActive(ctx, id, active); err != nil {
		return nil, err
	}
	return s.bookings.GetByID(ctx, id)
}
