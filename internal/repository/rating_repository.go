package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/kiennguyen/apptravel/internal/model"
)

// RatingRepo encapsulates queries on `ratings` together with the
// purchase check that gates rating creation.
type RatingRepo struct{ db *sql.DB }

func NewRatingRepo(db *sql.DB) *RatingRepo { return &RatingRepo{db: db} }

const ratingColumns = `id, user_id, tour_id, rating, active, created_at, updated_at`

const (
	qRatingHasPaidBooking = `SELECT EXISTS(
		SELECT 1 FROM bookings b
		JOIN tickets k  ON k.id = b.ticket_id
		JOIN payments p ON p.booking_id = b.id
		WHERE b.user_id = ? AND k.tour_id = ? AND p.payment_status = 1)`
	qRatingInsert       = `INSERT INTO ratings (user_id, tour_id, rating) VALUES (?, ?, ?)`
	qRatingByID         = `SELECT ` + ratingColumns + ` FROM ratings WHERE id = ?`
	qRatingActiveByTour = `SELECT ` + ratingColumns + ` FROM ratings WHERE tour_id = ? AND active = 1 ORDER BY id`
	qRatingAverage      = `SELECT AVG(rating) FROM ratings WHERE tour_id = ?`
	qRatingSetValue     = `UPDATE ratings SET rating = ? WHERE id = ?`
	qRatingDeactivate   = `UPDATE ratings SET active = 0 WHERE id = ?`
)

func scanRating(row interface{ Scan(...any) error }) (model.Rating, error) {
	var r model.Rating
	err := row.Scan(&r.ID, &r.UserID, &r.TourID, &r.Value, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

// HasPaidBooking reports whether userID holds a booking on a ticket of
// tourID that carries a successful payment.
func (r *RatingRepo) HasPaidBooking(ctx context.Context, userID, tourID uint64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, qRatingHasPaidBooking, userID, tourID).Scan(&ok)
	return ok, err
}

func (r *RatingRepo) Create(ctx context.Context, userID, tourID uint64, value uint8) (*model.Rating, error) {
	res, err := r.db.ExecContext(ctx, qRatingInsert, userID, tourID, value)
	if err != nil {
		if isMissingReference(err) {
			return nil, ErrTourNotFound
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

func (r *RatingRepo) GetByID(ctx context.Context, id uint64) (*model.Rating, error) {
	rt, err := scanRating(r.db.QueryRowContext(ctx, qRatingByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRatingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rt, nil
}

// ListActiveByTour returns the active ratings of a tour.
func (r *RatingRepo) ListActiveByTour(ctx context.Context, tourID uint64) ([]model.Rating, error) {
	rows, err := r.db.QueryContext(ctx, qRatingActiveByTour, tourID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Rating{}
	for rows.Next() {
		rt, err := scanRating(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// Average returns the mean over every rating of the tour, including
// soft-deleted ones, or nil when the tour has none.
func (r *RatingRepo) Average(ctx context.Context, tourID uint64) (*float64, error) {
	var avg sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, qRatingAverage, tourID).Scan(&avg); err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	v := avg.Float64
	return &v, nil
}

func (r *RatingRepo) UpdateValue(ctx context.Context, id uint64, value uint8) (*model.Rating, error) {
	res, err := r.db.ExecContext(ctx, qRatingSetValue, value, id)
	if err != nil {
		return nil, err
	}
	if err := affectedOne(res, ErrRatingNotFound); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Deactivate soft-deletes a rating.
func (r *RatingRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qRatingDeactivate, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrRatingNotFound)
}
