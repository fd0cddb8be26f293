package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
)

// NewsRepo encapsulates queries on `news`. Reads compute the like count
// and, for an authenticated viewer, whether they currently like the item.
type NewsRepo struct{ db *sql.DB }

func NewNewsRepo(db *sql.DB) *NewsRepo { return &NewsRepo{db: db} }

const newsSelect = `SELECT n.id, n.title, n.content, n.image, n.active,
		(SELECT COUNT(*) FROM likes l WHERE l.news_id = n.id AND l.liked = 1) AS like_count,
		EXISTS(SELECT 1 FROM likes l WHERE l.news_id = n.id AND l.user_id = ? AND l.liked = 1) AS liked,
		n.created_at, n.updated_at
	FROM news n`

const (
	qNewsList   = newsSelect + ` ORDER BY n.id DESC`
	qNewsByID   = newsSelect + ` WHERE n.id = ?`
	qNewsInsert = `INSERT INTO news (title, content, image, active) VALUES (?, ?, ?, ?)`
	qNewsDelete = `DELETE FROM news WHERE id = ?`
	qNewsExists = `SELECT EXISTS(SELECT 1 FROM news WHERE id = ? AND active = 1)`
)

func scanNews(row interface{ Scan(...any) error }) (model.News, error) {
	var (
		n     model.News
		image sql.NullString
	)
	err := row.Scan(&n.ID, &n.Title, &n.Content, &image, &n.Active, &n.LikeCount, &n.Liked, &n.CreatedAt, &n.UpdatedAt)
	n.Image = stringPtr(image)
	return n, err
}

// List returns all news, newest first. viewerID 0 means anonymous.
func (r *NewsRepo) List(ctx context.Context, viewerID uint64) ([]model.News, error) {
	rows, err := r.db.QueryContext(ctx, qNewsList, viewerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.News{}
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetByID fetches one news item as seen by viewerID.
func (r *NewsRepo) GetByID(ctx context.Context, id, viewerID uint64) (*model.News, error) {
	return getNews(ctx, r.db, id, viewerID)
}

func getNews(ctx context.Context, q querier, id, viewerID uint64) (*model.News, error) {
	n, err := scanNews(q.QueryRowContext(ctx, qNewsByID, viewerID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNewsNotFound
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ActiveExists reports whether an active news item with id exists.
func (r *NewsRepo) ActiveExists(ctx context.Context, id uint64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, qNewsExists, id).Scan(&ok)
	return ok, err
}

// NewsInput carries writable news fields; nil fields are untouched on
// update.
type NewsInput struct {
	Title   *string
	Content *string
	Image   *string
	Active  *bool
}

func (r *NewsRepo) Create(ctx context.Context, in NewsInput) (*model.News, error) {
	var title, content string
	active := true
	if in.Title != nil {
		title = strings.TrimSpace(*in.Title)
	}
	if in.Content != nil {
		content = *in.Content
	}
	if in.Active != nil {
		active = *in.Active
	}
	res, err := r.db.ExecContext(ctx, qNewsInsert, title, content, nullString(in.Image), active)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, uint64(id), 0)
}

func (r *NewsRepo) Update(ctx context.Context, id uint64, in NewsInput) (*model.News, error) {
	var set setClause
	if in.Title != nil {
		set.add("title", strings.TrimSpace(*in.Title))
	}
	if in.Content != nil {
		set.add("content", *in.Content)
	}
	if in.Image != nil {
		set.add("image", *in.Image)
	}
	if in.Active != nil {
		set.add("active", *in.Active)
	}
	if !set.empty() {
		res, err := r.db.ExecContext(ctx, `UPDATE news SET `+set.String()+` WHERE id = ?`, append(set.args, id)...)
		if err != nil {
			return nil, err
		}
		if err := affectedOne(res, ErrNewsNotFound); err != nil {
			return nil, err
		}
	}
	return r.GetByID(ctx, id, 0)
}

// Delete removes the news item; its comments and likes cascade.
func (r *NewsRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qNewsDelete, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrNewsNotFound)
}
