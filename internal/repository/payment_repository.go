package repository

import (
	"context"
	"database/sql"

	"github.com/kiennguyen/apptravel/internal/model"
)

// PaymentRepo encapsulates writes to `payments`. All methods run inside
// the caller's transaction.
type PaymentRepo struct{ db *sql.DB }

func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// ErrPaymentExists is returned when a booking already carries a payment.
var ErrPaymentExists = ErrConflict

const (
	qPaymentCountForBooking = `SELECT COUNT(*) FROM payments WHERE booking_id = ? FOR UPDATE`
	qPaymentInsert          = `INSERT INTO payments (booking_id, payment_method_id, payment_status) VALUES (?, ?, ?)`
)

// ExistsForBookingTx reports whether bookingID already has a payment.
// The locking read also blocks a concurrent insert for the same booking.
func (r *PaymentRepo) ExistsForBookingTx(ctx context.Context, tx *sql.Tx, bookingID uint64) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, qPaymentCountForBooking, bookingID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateTx inserts p and fills its ID. A second payment for the same
// booking trips the unique key and yields ErrPaymentExists.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
	res, err := tx.ExecContext(ctx, qPaymentInsert, p.BookingID, p.PaymentMethodID, p.PaymentStatus)
	if err != nil {
		if IsDuplicate(err) {
			return ErrPaymentExists
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}
