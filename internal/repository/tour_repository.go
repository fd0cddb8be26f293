// This file holds the tour queries: lookup, category listing, admin
// writes, tag maintenance and the inventory primitives used by the
// payment transaction.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
)

// TourRepo encapsulates queries on `tours`, `tags` and `tour_tags`.
type TourRepo struct{ db *sql.DB }

func NewTourRepo(db *sql.DB) *TourRepo { return &TourRepo{db: db} }

const tourColumns = `t.id, t.category_id, c.name, t.name, t.description, t.image, t.remaining_quantity, t.active, t.created_at, t.updated_at`

const tourFrom = ` FROM tours t JOIN categories c ON c.id = t.category_id`

const (
	qTourByID           = `SELECT ` + tourColumns + tourFrom + ` WHERE t.id = ?`
	qTourActiveByCat    = `SELECT ` + tourColumns + tourFrom + ` WHERE t.category_id = ? AND t.active = 1 ORDER BY t.id`
	qTourInsert         = `INSERT INTO tours (category_id, name, description, image, remaining_quantity, active) VALUES (?, ?, ?, ?, ?, ?)`
	qTourDeactivate     = `UPDATE tours SET active = 0 WHERE id = ?`
	qTourLockRemaining  = `SELECT remaining_quantity FROM tours WHERE id = ? FOR UPDATE`
	qTourDecrement      = `UPDATE tours SET remaining_quantity = remaining_quantity - ? WHERE id = ? AND remaining_quantity >= ?`
	qTagUpsert          = `INSERT INTO tags (name) VALUES (?) ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)`
	qTourTagsClear      = `DELETE FROM tour_tags WHERE tour_id = ?`
	qTourTagLink        = `INSERT IGNORE INTO tour_tags (tour_id, tag_id) VALUES (?, ?)`
	qTourTagsForTourIDs = `SELECT tt.tour_id, g.name FROM tour_tags tt JOIN tags g ON g.id = tt.tag_id WHERE tt.tour_id IN (%s) ORDER BY g.name`
)

func scanTour(row interface{ Scan(...any) error }) (model.Tour, error) {
	var (
		t     model.Tour
		image sql.NullString
	)
	err := row.Scan(&t.ID, &t.CategoryID, &t.CategoryName, &t.Name, &t.Description, &image,
		&t.RemainingQuantity, &t.Active, &t.CreatedAt, &t.UpdatedAt)
	t.Image = stringPtr(image)
	t.Tags = []string{}
	return t, err
}

func collectTours(rows *sql.Rows) ([]model.Tour, error) {
	defer rows.Close()
	out := []model.Tour{}
	for rows.Next() {
		t, err := scanTour(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetByID fetches a tour (active or not) with its tags.
func (r *TourRepo) GetByID(ctx context.Context, id uint64) (*model.Tour, error) {
	t, err := scanTour(r.db.QueryRowContext(ctx, qTourByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTourNotFound
	}
	if err != nil {
		return nil, err
	}
	tours := []model.Tour{t}
	if err := r.attachTags(ctx, tours); err != nil {
		return nil, err
	}
	return &tours[0], nil
}

// ListActiveByCategory returns the active tours of a category.
func (r *TourRepo) ListActiveByCategory(ctx context.Context, categoryID uint64) ([]model.Tour, error) {
	rows, err := r.db.QueryContext(ctx, qTourActiveByCat, categoryID)
	if err != nil {
		return nil, err
	}
	tours, err := collectTours(rows)
	if err != nil {
		return nil, err
	}
	return tours, r.attachTags(ctx, tours)
}

// attachTags loads tag names for all tours in one query.
func (r *TourRepo) attachTags(ctx context.Context, tours []model.Tour) error {
	if len(tours) == 0 {
		return nil
	}
	idx := make(map[uint64]int, len(tours))
	args := make([]any, 0, len(tours))
	for i, t := range tours {
		idx[t.ID] = i
		args = append(args, t.ID)
	}
	q := strings.Replace(qTourTagsForTourIDs, "%s", placeholders(len(args)), 1)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			tourID uint64
			name   string
		)
		if err := rows.Scan(&tourID, &name); err != nil {
			return err
		}
		if i, ok := idx[tourID]; ok {
			tours[i].Tags = append(tours[i].Tags, name)
		}
	}
	return rows.Err()
}

// TourInput carries the writable fields of a tour. On update nil fields
// are left untouched; on create Name and CategoryID are required by the
// handler. A non-nil Tags replaces the full tag set.
type TourInput struct {
	CategoryID        *uint64
	Name              *string
	Description       *string
	Image             *string
	RemainingQuantity *uint32
	Active            *bool
	Tags              []string
	ReplaceTags       bool
}

// Create inserts a tour and its tags in one transaction.
func (r *TourRepo) Create(ctx context.Context, in TourInput) (*model.Tour, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	var (
		catID     uint64
		name      string
		desc      string
		remaining uint32
	)
	if in.CategoryID != nil {
		catID = *in.CategoryID
	}
	if in.Name != nil {
		name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		desc = *in.Description
	}
	if in.RemainingQuantity != nil {
		remaining = *in.RemainingQuantity
	}
	res, err := tx.ExecContext(ctx, qTourInsert, catID, name, desc, nullString(in.Image), remaining, active)
	if err != nil {
		if isMissingReference(err) {
			return nil, ErrCategoryNotFound
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := setTagsTx(ctx, tx, uint64(id), in.Tags); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return r.GetByID(ctx, uint64(id))
}

// Update applies the non-nil fields of in and, when ReplaceTags is set,
// swaps the tag set.
func (r *TourRepo) Update(ctx context.Context, id uint64, in TourInput) (*model.Tour, error) {
	var set setClause
	if in.CategoryID != nil {
		set.add("category_id", *in.CategoryID)
	}
	if in.Name != nil {
		set.add("name", strings.TrimSpace(*in.Name))
	}
	if in.Description != nil {
		set.add("description", *in.Description)
	}
	if in.Image != nil {
		set.add("image", *in.Image)
	}
	if in.RemainingQuantity != nil {
		set.add("remaining_quantity", *in.RemainingQuantity)
	}
	if in.Active != nil {
		set.add("active", *in.Active)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if set.empty() {
		var exists uint64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM tours WHERE id = ?`, id).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrTourNotFound
			}
			return nil, err
		}
	} else {
		res, err := tx.ExecContext(ctx, `UPDATE tours SET `+set.String()+` WHERE id = ?`, append(set.args, id)...)
		if err != nil {
			if isMissingReference(err) {
				return nil, ErrCategoryNotFound
			}
			return nil, err
		}
		if err := affectedOne(res, ErrTourNotFound); err != nil {
			return nil, err
		}
	}
	if in.ReplaceTags {
		if _, err := tx.ExecContext(ctx, qTourTagsClear, id); err != nil {
			return nil, err
		}
		if err := setTagsTx(ctx, tx, id, in.Tags); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true
	return r.GetByID(ctx, id)
}

// setTagsTx links the named tags to the tour, creating missing tags.
// Names are trimmed, lower-cased and de-duplicated.
func setTagsTx(ctx context.Context, tx *sql.Tx, tourID uint64, tags []string) error {
	seen := make(map[string]struct{}, len(tags))
	for _, raw := range tags {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		res, err := tx.ExecContext(ctx, qTagUpsert, name)
		if err != nil {
			return err
		}
		tagID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, qTourTagLink, tourID, tagID); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate hides the tour from listings without removing it.
func (r *TourRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qTourDeactivate, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrTourNotFound)
}

// LockRemainingTx reads the tour's remaining quantity and holds a row
// lock on the tour until tx ends. Concurrent payments on the same tour
// queue up behind this lock.
func (r *TourRepo) LockRemainingTx(ctx context.Context, tx *sql.Tx, tourID uint64) (uint32, error) {
	var remaining uint32
	err := tx.QueryRowContext(ctx, qTourLockRemaining, tourID).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrTourNotFound
	}
	return remaining, err
}

// DecrementRemainingTx subtracts qty from the tour's inventory. The
// update only matches while enough places are left, so the column can
// never go below zero even without the preceding lock.
func (r *TourRepo) DecrementRemainingTx(ctx context.Context, tx *sql.Tx, tourID uint64, qty uint32) error {
	res, err := tx.ExecContext(ctx, qTourDecrement, qty, tourID, qty)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrInsufficientQuantity)
}
