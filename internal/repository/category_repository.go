package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
)

// CategoryRepo encapsulates queries on the `categories` table.
type CategoryRepo struct{ db *sql.DB }

func NewCategoryRepo(db *sql.DB) *CategoryRepo { return &CategoryRepo{db: db} }

const (
	qCategoryList   = `SELECT id, name FROM categories ORDER BY id`
	qCategoryByID   = `SELECT id, name FROM categories WHERE id = ?`
	qCategoryInsert = `INSERT INTO categories (name) VALUES (?)`
	qCategoryRename = `UPDATE categories SET name = ? WHERE id = ?`
	qCategoryDelete = `DELETE FROM categories WHERE id = ?`
)

// List returns every category ordered by id.
func (r *CategoryRepo) List(ctx context.Context) ([]model.Category, error) {
	rows, err := r.db.QueryContext(ctx, qCategoryList)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.Category{}
	for rows.Next() {
		var c model.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByID fetches one category or ErrCategoryNotFound.
func (r *CategoryRepo) GetByID(ctx context.Context, id uint64) (*model.Category, error) {
	var c model.Category
	err := r.db.QueryRowContext(ctx, qCategoryByID, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a category; a taken name yields ErrConflict.
func (r *CategoryRepo) Create(ctx context.Context, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	res, err := r.db.ExecContext(ctx, qCategoryInsert, name)
	if err != nil {
		if IsDuplicate(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Category{ID: uint64(id), Name: name}, nil
}

// Rename changes the category name.
func (r *CategoryRepo) Rename(ctx context.Context, id uint64, name string) (*model.Category, error) {
	name = strings.TrimSpace(name)
	res, err := r.db.ExecContext(ctx, qCategoryRename, name, id)
	if err != nil {
		if IsDuplicate(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	if err := affectedOne(res, ErrCategoryNotFound); err != nil {
		return nil, err
	}
	return &model.Category{ID: id, Name: name}, nil
}

// Delete removes the category together with its tours.
func (r *CategoryRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qCategoryDelete, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrCategoryNotFound)
}
