package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kiennguyen/apptravel/internal/model"
)

// BookingRepo encapsulates queries on `bookings`. The tour id and paid
// flag are derived by joining through tickets and payments.
type BookingRepo struct{ db *sql.DB }

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

const bookingSelect = `SELECT b.id, b.user_id, b.ticket_id, k.tour_id, b.adult_quantity, b.child_quantity,
		b.total_price, b.active,
		EXISTS(SELECT 1 FROM payments p WHERE p.booking_id = b.id) AS paid,
		b.created_at, b.updated_at
	FROM bookings b
	JOIN tickets k ON k.id = b.ticket_id`

const (
	qBookingInsert       = `INSERT INTO bookings (user_id, ticket_id, adult_quantity, child_quantity, total_price) VALUES (?, ?, ?, ?, ?)`
	qBookingByID         = bookingSelect + ` WHERE b.id = ?`
	qBookingActive       = bookingSelect + ` WHERE b.active = 1 ORDER BY b.id`
	qBookingActiveByUser = bookingSelect + ` WHERE b.user_id = ? AND b.active = 1 ORDER BY b.id`
	qBookingSetActive    = `UPDATE bookings SET active = ? WHERE id = ?`
	qBookingLockForUser  = `SELECT b.id, b.user_id, b.ticket_id, k.tour_id, b.adult_quantity, b.child_quantity, b.total_price, b.active
	FROM bookings b
	JOIN tickets k ON k.id = b.ticket_id
	WHERE b.id = ? AND b.user_id = ?
	FOR UPDATE`
)

func scanBooking(row interface{ Scan(...any) error }) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.UserID, &b.TicketID, &b.TourID, &b.AdultQuantity, &b.ChildQuantity,
		&b.TotalPrice, &b.Active, &b.Paid, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// Create persists b. TotalPrice must already be computed; it is never
// written again.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	res, err := r.db.ExecContext(ctx, qBookingInsert, b.UserID, b.TicketID, b.AdultQuantity, b.ChildQuantity, b.TotalPrice)
	if err != nil {
		if isMissingReference(err) {
			return ErrTicketNotFound
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	created, err := r.GetByID(ctx, uint64(id))
	if err != nil {
		return err
	}
	*b = *created
	return nil
}

// GetByID fetches a booking regardless of owner. Callers apply the
// access policy on the returned UserID.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, qBookingByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BookingRepo) list(ctx context.Context, q string, args ...any) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListActive returns every active booking.
func (r *BookingRepo) ListActive(ctx context.Context) ([]model.Booking, error) {
	return r.list(ctx, qBookingActive)
}

// ListActiveByUser returns the active bookings owned by userID.
func (r *BookingRepo) ListActiveByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx, qBookingActiveByUser, userID)
}

// SetActive flips the active flag. Price and quantities stay frozen.
func (r *BookingRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.db.ExecContext(ctx, qBookingSetActive, active, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrBookingNotFound)
}

// GetForUserForUpdateTx loads the booking owned by userID and locks the
// row until tx ends. A booking owned by someone else is reported as
// ErrBookingNotFound.
func (r *BookingRepo) GetForUserForUpdateTx(ctx context.Context, tx *sql.Tx, id, userID uint64) (*model.Booking, error) {
	var b model.Booking
	err := tx.QueryRowContext(ctx, qBookingLockForUser, id, userID).Scan(
		&b.ID, &b.UserID, &b.TicketID, &b.TourID, &b.AdultQuantity, &b.ChildQuantity, &b.TotalPrice, &b.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}
