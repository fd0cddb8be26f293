// Package policy decides who may act on which resource. It holds four
// predicates over the calling identity and a table that names, for every
// API operation, which gate protects the route and which predicate
// protects the object. The table is plain Go data resolved when the
// router is built.
package policy

// Caller is the identity behind a request. The zero value is an
// anonymous caller.
type Caller struct {
	UserID        uint64
	IsSuperUser   bool
	Authenticated bool
}

// Anonymous is the caller of requests without a usable bearer token.
var Anonymous = Caller{}

// Owner reports whether the caller is authenticated and is the user
// associated with the resource. Gates comment and rating mutation.
func Owner(c Caller, ownerID uint64) bool {
	return c.Authenticated && c.UserID != 0 && c.UserID == ownerID
}

// SelfView reports whether the caller is the user associated with the
// resource. Gates booking visibility.
func SelfView(c Caller, ownerID uint64) bool {
	return c.UserID != 0 && c.UserID == ownerID
}

// Identity reports whether the caller is the target user record itself.
func Identity(c Caller, userID uint64) bool {
	return c.UserID != 0 && c.UserID == userID
}

// Elevated reports whether the caller is an authenticated super-user.
func Elevated(c Caller) bool {
	return c.Authenticated && c.IsSuperUser
}
