package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kiennguyen/apptravel/internal/model"
)

// CommentRepo encapsulates queries on `comments`. A row references
// exactly one of tour_id or news_id; the pair is mapped to and from
// model.CommentTarget here.
type CommentRepo struct{ db *sql.DB }

func NewCommentRepo(db *sql.DB) *CommentRepo { return &CommentRepo{db: db} }

const commentSelect = `SELECT m.id, m.user_id, u.username, m.tour_id, m.news_id, m.content, m.active, m.created_at, m.updated_at
	FROM comments m
	JOIN users u ON u.id = m.user_id`

const (
	qCommentInsert       = `INSERT INTO comments (user_id, tour_id, news_id, content) VALUES (?, ?, ?, ?)`
	qCommentByID         = commentSelect + ` WHERE m.id = ?`
	qCommentActiveByTour = commentSelect + ` WHERE m.tour_id = ? AND m.active = 1 ORDER BY m.id`
	qCommentActiveByNews = commentSelect + ` WHERE m.news_id = ? AND m.active = 1 ORDER BY m.id`
	qCommentSetContent   = `UPDATE comments SET content = ? WHERE id = ?`
	qCommentDeactivate   = `UPDATE comments SET active = 0 WHERE id = ?`
)

// errCorruptTarget flags a row that violates the one-target rule.
var errCorruptTarget = errors.New("comment row has no single target")

func scanComment(row interface{ Scan(...any) error }) (model.Comment, error) {
	var (
		c              model.Comment
		tourID, newsID sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Username, &tourID, &newsID, &c.Content, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return c, err
	}
	switch {
	case tourID.Valid && !newsID.Valid:
		c.Target = model.TourTarget(uint64(tourID.Int64))
	case newsID.Valid && !tourID.Valid:
		c.Target = model.NewsTarget(uint64(newsID.Int64))
	default:
		return c, fmt.Errorf("comment %d: %w", c.ID, errCorruptTarget)
	}
	return c, nil
}

func nullID(p *uint64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

// Create stores a comment by userID on target.
func (r *CommentRepo) Create(ctx context.Context, userID uint64, target model.CommentTarget, content string) (*model.Comment, error) {
	if !target.Valid() {
		return nil, errCorruptTarget
	}
	tourID, newsID := target.Columns()
	res, err := r.db.ExecContext(ctx, qCommentInsert, userID, nullID(tourID), nullID(newsID), content)
	if err != nil {
		if isMissingReference(err) {
			if target.Kind() == model.TargetTour {
				return nil, ErrTourNotFound
			}
			return nil, ErrNewsNotFound
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id))
}

func (r *CommentRepo) GetByID(ctx context.Context, id uint64) (*model.Comment, error) {
	c, err := scanComment(r.db.QueryRowContext(ctx, qCommentByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListActive returns the active comments on target, oldest first.
func (r *CommentRepo) ListActive(ctx context.Context, target model.CommentTarget) ([]model.Comment, error) {
	q := qCommentActiveByTour
	if target.Kind() == model.TargetNews {
		q = qCommentActiveByNews
	}
	rows, err := r.db.QueryContext(ctx, q, target.ID())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateContent replaces the text of a comment.
func (r *CommentRepo) UpdateContent(ctx context.Context, id uint64, content string) (*model.Comment, error) {
	res, err := r.db.ExecContext(ctx, qCommentSetContent, content, id)
	if err != nil {
		return nil, err
	}
	if err := affectedOne(res, ErrCommentNotFound); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Deactivate soft-deletes a comment.
func (r *CommentRepo) Deactivate(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qCommentDeactivate, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrCommentNotFound)
}
