package policy

// Gate is the route-level requirement checked before a handler runs.
type Gate uint8

const (
	// AllowAny lets anonymous callers through.
	AllowAny Gate = iota
	// RequireAuth demands an authenticated caller.
	RequireAuth
	// RequireElevated demands an authenticated super-user.
	RequireElevated
)

// ObjectCheck names the predicate a handler applies once it has loaded
// the resource.
type ObjectCheck uint8

const (
	NoObjectCheck ObjectCheck = iota
	OwnerCheck
	SelfViewCheck
	// IdentityCheck is met by construction on the /users/current routes,
	// whose handlers resolve the target user from the caller.
	IdentityCheck
)

// Rule pairs a route gate with an object predicate.
type Rule struct {
	Gate   Gate
	Object ObjectCheck
}

// Operation identifies one API action.
type Operation uint8

const (
	CategoryList Operation = iota + 1
	CategoryCreate
	CategoryUpdate
	CategoryDelete
	CategoryTours

	TourList
	TourRetrieve
	TourCreate
	TourUpdate
	TourDelete
	TourTickets
	TourAddComment
	TourComments
	TourAddRating
	TourRating

	NewsList
	NewsRetrieve
	NewsCreate
	NewsUpdate
	NewsDelete
	NewsAddComment
	NewsComments
	NewsLike

	TicketList
	TicketRetrieve
	TicketCreate
	TicketUpdate
	TicketDelete
	TicketBook

	UserCreate
	UserUpdate
	UserDelete
	UserCurrent
	UserCurrentUpdate
	UserCurrentBookings

	CommentUpdate
	CommentDelete

	RatingUpdate
	RatingDelete

	BookingList
	BookingRetrieve
	BookingUpdate
	BookingDelete
	BookingPay
)

// Rules is the per-operation policy table. Every routed operation must
// have an entry; Lookup panics on a missing one so that a route without a
// policy never reaches production.
var Rules = map[Operation]Rule{
	CategoryList:   {Gate: AllowAny},
	CategoryCreate: {Gate: RequireElevated},
	CategoryUpdate: {Gate: RequireElevated},
	CategoryDelete: {Gate: RequireElevated},
	CategoryTours:  {Gate: AllowAny},

	TourList:       {Gate: AllowAny},
	TourRetrieve:   {Gate: AllowAny},
	TourCreate:     {Gate: RequireElevated},
	TourUpdate:     {Gate: RequireElevated},
	TourDelete:     {Gate: RequireElevated},
	TourTickets:    {Gate: AllowAny},
	TourAddComment: {Gate: RequireAuth},
	TourComments:   {Gate: AllowAny},
	TourAddRating:  {Gate: RequireAuth},
	TourRating:     {Gate: AllowAny},

	NewsList:       {Gate: AllowAny},
	NewsRetrieve:   {Gate: AllowAny},
	NewsCreate:     {Gate: RequireElevated},
	NewsUpdate:     {Gate: RequireElevated},
	NewsDelete:     {Gate: RequireElevated},
	NewsAddComment: {Gate: RequireAuth},
	NewsComments:   {Gate: AllowAny},
	NewsLike:       {Gate: RequireAuth},

	TicketList:     {Gate: AllowAny},
	TicketRetrieve: {Gate: AllowAny},
	TicketCreate:   {Gate: RequireElevated},
	TicketUpdate:   {Gate: RequireElevated},
	TicketDelete:   {Gate: RequireElevated},
	TicketBook:     {Gate: RequireAuth},

	UserCreate:          {Gate: AllowAny},
	UserUpdate:          {Gate: RequireElevated},
	UserDelete:          {Gate: RequireElevated},
	UserCurrent:         {Gate: RequireAuth, Object: IdentityCheck},
	UserCurrentUpdate:   {Gate: RequireAuth, Object: IdentityCheck},
	UserCurrentBookings: {Gate: RequireAuth, Object: IdentityCheck},

	CommentUpdate: {Gate: RequireAuth, Object: OwnerCheck},
	CommentDelete: {Gate: RequireAuth, Object: OwnerCheck},

	RatingUpdate: {Gate: RequireAuth, Object: OwnerCheck},
	RatingDelete: {Gate: RequireAuth, Object: OwnerCheck},

	BookingList:     {Gate: RequireAuth, Object: SelfViewCheck},
	BookingRetrieve: {Gate: RequireAuth, Object: SelfViewCheck},
	BookingUpdate:   {Gate: RequireAuth, Object: SelfViewCheck},
	BookingDelete:   {Gate: RequireAuth, Object: SelfViewCheck},
	BookingPay:      {Gate: RequireAuth, Object: OwnerCheck},
}

// Lookup returns the rule for op.
func Lookup(op Operation) Rule {
	r, ok := Rules[op]
	if !ok {
		panic("policy: no rule for operation")
	}
	return r
}

// Decision is the outcome of checking a gate.
type Decision uint8

const (
	Allow Decision = iota
	// Unauthenticated means the identity itself is missing (HTTP 401).
	Unauthenticated
	// Forbidden means the identity is known but not permitted (HTTP 403).
	Forbidden
)

// CheckGate evaluates the route-level gate of rule for caller.
func CheckGate(r Rule, c Caller) Decision {
	switch r.Gate {
	case RequireAuth:
		if !c.Authenticated {
			return Unauthenticated
		}
	case RequireElevated:
		if !c.Authenticated {
			return Unauthenticated
		}
		if !Elevated(c) {
			return Forbidden
		}
	}
	return Allow
}

// CheckObject applies the object predicate of rule to a resource whose
// associated user is subjectID. Super-users pass the self-view check so
// they can administer bookings; ownership and identity are strict.
func CheckObject(r Rule, c Caller, subjectID uint64) bool {
	switch r.Object {
	case OwnerCheck:
		return Owner(c, subjectID)
	case SelfViewCheck:
		return SelfView(c, subjectID) || Elevated(c)
	case IdentityCheck:
		return Identity(c, subjectID)
	}
	return true
}
