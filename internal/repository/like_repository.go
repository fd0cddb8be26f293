package repository

import (
	"context"
	"database/sql"

	"github.com/kiennguyen/apptravel/internal/model"
)

// LikeRepo toggles likes on news items.
type LikeRepo struct{ db *sql.DB }

func NewLikeRepo(db *sql.DB) *LikeRepo { return &LikeRepo{db: db} }

const (
	// The unique key on (user_id, news_id) turns the insert into a flip
	// of the existing row, so two concurrent toggles serialize on it.
	qLikeToggle = `INSERT INTO likes (user_id, news_id, liked) VALUES (?, ?, 1) ON DUPLICATE KEY UPDATE liked = NOT liked`
	qLikeState  = `SELECT id, liked FROM likes WHERE user_id = ? AND news_id = ?`
)

// Toggle creates the like on first use and flips it afterwards. It
// returns the resulting state and the news item as seen by the user.
func (r *LikeRepo) Toggle(ctx context.Context, userID, newsID uint64) (*model.Like, *model.News, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, qLikeToggle, userID, newsID); err != nil {
		if isMissingReference(err) {
			return nil, nil, ErrNewsNotFound
		}
		return nil, nil, err
	}
	like := model.Like{UserID: userID, NewsID: newsID}
	if err := tx.QueryRowContext(ctx, qLikeState, userID, newsID).Scan(&like.ID, &like.Liked); err != nil {
		return nil, nil, err
	}
	news, err := getNews(ctx, tx, newsID, userID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	committed = true
	return &like, news, nil
}
