package model

import "time"

// News is an editorial post that users can comment on and like.
// LikeCount and Liked are derived: the number of likes currently set and
// whether the requesting user is among them.
type News struct {
	ID        uint64    `json:"id"`         // news.id
	Title     string    `json:"title"`      // news.title
	Content   string    `json:"content"`    // news.content
	Image     *string   `json:"image"`      // news.image (nullable)
	Active    bool      `json:"active"`     // news.active
	LikeCount int64     `json:"like_count"` // COUNT(likes WHERE liked)
	Liked     bool      `json:"liked"`      // likes.liked for the caller
	CreatedAt time.Time `json:"created_at"` // news.created_at
	UpdatedAt time.Time `json:"updated_at"` // news.updated_at
}

// Like records a user's like on a news item. A second request from the
// same user flips Liked instead of creating another row.
type Like struct {
	ID     uint64 `json:"id"`      // likes.id
	UserID uint64 `json:"user_id"` // likes.user_id
	NewsID uint64 `json:"news_id"` // likes.news_id
	Liked  bool   `json:"liked"`   // likes.liked
}

// Rating bounds.
const (
	MinRating = 1
	MaxRating = 5
)

// Rating is a user's score for a tour. Ratings can only be created by
// users holding a paid booking on the tour.
type Rating struct {
	ID        uint64    `json:"id"`         // ratings.id
	UserID    uint64    `json:"user_id"`    // ratings.user_id
	TourID    uint64    `json:"tour_id"`    // ratings.tour_id
	Value     uint8     `json:"rating"`     // ratings.rating
	Active    bool      `json:"active"`     // ratings.active
	CreatedAt time.Time `json:"created_at"` // ratings.created_at
	UpdatedAt time.Time `json:"updated_at"` // ratings.updated_at
}

// ValidRating reports whether v lies within [MinRating, MaxRating].
func ValidRating(v int) bool { return v >= MinRating && v <= MaxRating }
