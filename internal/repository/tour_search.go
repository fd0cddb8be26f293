package repository

import (
	"context"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
)

// TourSearchQuery defines filters & pagination for the tour listing.
// Q matches tour name, category name or any tag name; CategoryIDs
// restricts the result to a set of categories. Both may be combined.
type TourSearchQuery struct {
	Q           string
	CategoryIDs []uint64
	Page        int
	PageSize    int
}

func (r *TourRepo) Search(ctx context.Context, q TourSearchQuery) ([]model.Tour, int64, error) {
	where := []string{}
	args := []any{}

	if term := strings.TrimSpace(q.Q); term != "" {
		p := likePattern(term)
		where = append(where, `(LOWER(t.name) LIKE ? OR LOWER(c.name) LIKE ? OR EXISTS (
			SELECT 1 FROM tour_tags tt JOIN tags g ON g.id = tt.tag_id
			WHERE tt.tour_id = t.id AND LOWER(g.name) LIKE ?))`)
		args = append(args, p, p, p)
	}
	if len(q.CategoryIDs) > 0 {
		where = append(where, "t.category_id IN ("+placeholders(len(q.CategoryIDs))+")")
		for _, id := range q.CategoryIDs {
			args = append(args, id)
		}
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	countSQL := `SELECT COUNT(*)` + tourFrom + ` WHERE ` + cond
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize

	dataSQL := `SELECT ` + tourColumns + tourFrom + `
		WHERE ` + cond + `
		ORDER BY t.id ASC
		LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	tours, err := collectTours(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachTags(ctx, tours); err != nil {
		return nil, 0, err
	}
	return tours, total, nil
}
