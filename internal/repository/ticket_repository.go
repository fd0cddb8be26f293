package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kiennguyen/apptravel/internal/model"
)

// TicketRepo encapsulates queries on the `tickets` table.
type TicketRepo struct{ db *sql.DB }

func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `id, tour_id, name, price, active, created_at, updated_at`

const (
	qTicketList         = `SELECT ` + ticketColumns + ` FROM tickets ORDER BY id`
	qTicketActiveByTour = `SELECT ` + ticketColumns + ` FROM tickets WHERE tour_id = ? AND active = 1 ORDER BY id`
	qTicketByID         = `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	qTicketInsert       = `INSERT INTO tickets (tour_id, name, price, active) VALUES (?, ?, ?, ?)`
	qTicketDeactivate   = `UPDATE tickets SET active = 0 WHERE id = ?`
)

func scanTicket(row interface{ Scan(...any) error }) (model.Ticket, error) {
	var t model.Ticket
	err := row.Scan(&t.ID, &t.TourID, &t.Name, &t.Price, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *TicketRepo) list(ctx context.Context, q string, args ...any) ([]model.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Ticket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// List returns every ticket, active or not.
func (r *TicketRepo) List(ctx context.Context) ([]model.Ticket, error) {
	return r.list(ctx, qTicketList)
}

// ListActiveByTour returns the active tickets of a tour.
func (r *TicketRepo) ListActiveByTour(ctx context.Context, tourID uint64) ([]model.Ticket, error) {
	return r.list(ctx, qTicketActiveByTour, tourID)
}

// GetByID fetches one ticket or ErrTicketNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, qTicketByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// TicketInput carries writable ticket fields; nil fields are untouched
// on update.
type TicketInput struct {
	TourID *uint64
	Name   *string
	Price  *decimal.Decimal
	Active *bool
}

// Create inserts a ticket. An unknown tour yields ErrTourNotFound.
func (r *TicketRepo) Create(ctx context.Context, in TicketInput) (*model.Ticket, error) {
	var (
		tourID uint64
		name   string
		price  decimal.Decimal
	)
	active := true
	if in.TourID != nil {
		tourID = *in.TourID
	}
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if in.Price != nil {
		price = *in.Price
	}
	if in.Active != nil {
		active = *in.Active
	}
	res, err := r.db.ExecContext(ctx, qTicketInsert, tourID, name, price, active)
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

// Update applies the non-nil fields of in.
func (r *TicketRepo) Update(ctx context.Context, id uint64, in TicketInput) (*model.Ticket, error) {
	var set setClause
	if in.TourID != nil {
		set.add("tour_id", *in.TourID)
	}
	if in.Name != nil {
		set.add("name", strings.TrimSpace(*in.Name))
	}
	if in.Price != nil {
		set.add("price", *in.Price)
	}
	if in.Active != nil {
		set.add("active", *in.Active)
	}
	if !set.empty() {
		res, err := r.db.ExecContext(ctx, `UPDATE tickets SET `+set.String()+` WHERE id = ?`, append(set.args, id)...)
		if err != nil {
			if isMissingReference(err) {
				return nil, ErrTourNotFound
			}
			return nil, err
		}
		if err := affectedOne(res, ErrTicketNotFound); err != nil {
			return nil, err
		}
	}
	return r.GetByID(ctx, id)
}

// Deactivate soft-deletes a ticket.
func (r *TicketRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qTicketDeactivate, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrTicketNotFound)
}
