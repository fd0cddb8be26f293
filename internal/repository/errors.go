// Package repository defines the data access layer and the error values
// shared across repositories. Sentinel errors let handlers and services
// tell failure scenarios apart with errors.Is.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own. Handlers translate it into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state, such as a unique key already taken.
var ErrConflict = errors.New("conflict")

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrTourNotFound     = errors.New("tour not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrBookingNotFound  = errors.New("booking not found")
	ErrNewsNotFound     = errors.New("news not found")
	ErrCommentNotFound  = errors.New("comment not found")
	ErrRatingNotFound   = errors.New("rating not found")
	ErrTokenInvalid     = errors.New("invalid refresh token")

	// ErrInsufficientQuantity means a tour does not have enough places
	// left to cover a decrement.
	ErrInsufficientQuantity = errors.New("insufficient remaining quantity")
)

// mysqlDuplicateEntry is the server error number for a unique key clash.
const mysqlDuplicateEntry = 1062

// mysqlNoReferencedRow is raised when a foreign key points nowhere.
const mysqlNoReferencedRow = 1452

// IsDuplicate reports whether err is a MySQL duplicate-key violation.
func IsDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}

// isMissingReference reports whether err is a MySQL foreign key failure.
func isMissingReference(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlNoReferencedRow
}
