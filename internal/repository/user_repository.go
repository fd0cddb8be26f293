package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
)

// UserRepo persists accounts in the `users` table.
type UserRepo struct{ db *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// ErrUsernameExists is returned when a username is already registered.
var ErrUsernameExists = errors.New("username already exists")

const userColumns = `id, username, email, password_hash, first_name, last_name, avatar, is_superuser, is_active, created_at, updated_at`

const (
	qUserInsert = `INSERT INTO users (username, email, password_hash, first_name, last_name, avatar, is_superuser) VALUES (?, ?, ?, ?, ?, ?, ?)`
	qUserByID   = `SELECT ` + userColumns + ` FROM users WHERE id = ? LIMIT 1`
	qUserByName = `SELECT ` + userColumns + ` FROM users WHERE username = ? LIMIT 1`
	qUserDelete = `DELETE FROM users WHERE id = ?`
)

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var (
		u      model.User
		avatar sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&avatar, &u.IsSuperUser, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Avatar = stringPtr(avatar)
	return &u, nil
}

// Create inserts u (PasswordHash must already be set) and reloads it so
// that defaults and timestamps are populated.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	u.Username = strings.TrimSpace(u.Username)
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	res, err := r.db.ExecContext(ctx, qUserInsert,
		u.Username, u.Email, u.PasswordHash, u.FirstName, u.LastName, nullString(u.Avatar), u.IsSuperUser)
	if err != nil {
		if IsDuplicate(err) {
			return ErrUsernameExists
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
	*u = *created
	return nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, qUserByID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// GetByUsername fetches a user by login name.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, qUserByName, strings.TrimSpace(username)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	return u, err
}

// UserPatch lists the profile fields a partial update may change. Nil
// fields are left untouched. PasswordHash must already be hashed.
type UserPatch struct {
	Username     *string
	Email        *string
	PasswordHash *string
	FirstName    *string
	LastName     *string
	Avatar       *string
	IsSuperUser  *bool
	IsActive     *bool
}

// Update applies p to the user and returns the reloaded record.
func (r *UserRepo) Update(ctx context.Context, id uint64, p UserPatch) (*model.User, error) {
	var set setClause
	if p.Username != nil {
		set.add("username", strings.TrimSpace(*p.Username))
	}
	if p.Email != nil {
		set.add("email", strings.ToLower(strings.TrimSpace(*p.Email)))
	}
	if p.PasswordHash != nil {
		set.add("password_hash", *p.PasswordHash)
	}
	if p.FirstName != nil {
		set.add("first_name", *p.FirstName)
	}
	if p.LastName != nil {
		set.add("last_name", *p.LastName)
	}
	if p.Avatar != nil {
		set.add("avatar", *p.Avatar)
	}
	if p.IsSuperUser != nil {
		set.add("is_superuser", *p.IsSuperUser)
	}
	if p.IsActive != nil {
		set.add("is_active", *p.IsActive)
	}
	if !set.empty() {
		q := `UPDATE users SET ` + set.String() + ` WHERE id = ?`
		res, err := r.db.ExecContext(ctx, q, append(set.args, id)...)
		if err != nil {
			if IsDuplicate(err) {
				return nil, ErrUsernameExists
			}
			return nil, err
		}
		if err := affectedOne(res, ErrUserNotFound); err != nil {
			return nil, err
		}
	}
	return r.GetByID(ctx, id)
}

// SetPasswordHash replaces the stored hash without reloading the user.
func (r *UserRepo) SetPasswordHash(ctx context.Context, id uint64, hash string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrUserNotFound)
}

// Delete removes the user; owned rows cascade.
func (r *UserRepo) Delete(ctx context.Context, id uint64) error {
	res, err := r.db.ExecContext(ctx, qUserDelete, id)
	if err != nil {
		return err
	}
	return affectedOne(res, ErrUserNotFound)
}
