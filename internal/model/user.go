package model

import "time"

// User represents an account as stored in the `users` table. Super-users
// administer the catalog and news; every other user browses, books and
// engages with content.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Username     – unique login name.
//	Email        – contact address (may be empty).
//	PasswordHash – bcrypt hashed password, never serialized.
//	FirstName    – given name.
//	LastName     – family name.
//	Avatar       – public URL of the uploaded avatar, if any.
//	IsSuperUser  – grants the elevated permission.
//	IsActive     – whether the account may sign in.
type User struct {
	ID           uint64    `json:"id"`           // users.id
	Username     string    `json:"username"`     // users.username
	Email        string    `json:"email"`        // users.email
	PasswordHash string    `json:"-"`            // users.password_hash
	FirstName    string    `json:"first_name"`   // users.first_name
	LastName     string    `json:"last_name"`    // users.last_name
	Avatar       *string   `json:"avatar"`       // users.avatar (nullable)
	IsSuperUser  bool      `json:"is_superuser"` // users.is_superuser
	IsActive     bool      `json:"is_active"`    // users.is_active
	CreatedAt    time.Time `json:"created_at"`   // users.created_at
	UpdatedAt    time.Time `json:"updated_at"`   // users.updated_at
}
