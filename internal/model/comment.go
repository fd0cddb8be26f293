package model

import (
	"encoding/json"
	"time"
)

// TargetKind identifies what a comment is attached to.
type TargetKind uint8

const (
	TargetTour TargetKind = iota + 1
	TargetNews
)

func (k TargetKind) String() string {
	switch k {
	case TargetTour:
		return "tour"
	case TargetNews:
		return "news"
	}
	return "unknown"
}

// CommentTarget is the subject of a comment: exactly one tour or exactly
// one news item. The zero value is invalid; build targets with
// TourTarget or NewsTarget.
type CommentTarget struct {
	kind TargetKind
	id   uint64
}

// TourTarget addresses a comment at a tour.
func TourTarget(id uint64) CommentTarget { return CommentTarget{kind: TargetTour, id: id} }

// NewsTarget addresses a comment at a news item.
func NewsTarget(id uint64) CommentTarget { return CommentTarget{kind: TargetNews, id: id} }

func (t CommentTarget) Kind() TargetKind { return t.kind }
func (t CommentTarget) ID() uint64       { return t.id }
func (t CommentTarget) Valid() bool      { return t.kind != 0 && t.id != 0 }

// Tour returns the tour id when the target is a tour.
func (t CommentTarget) Tour() (uint64, bool) { return t.id, t.kind == TargetTour }

// News returns the news id when the target is a news item.
func (t CommentTarget) News() (uint64, bool) { return t.id, t.kind == TargetNews }

// Columns returns the (tour_id, news_id) pair to persist. Exactly one of
// them is non-nil for a valid target.
func (t CommentTarget) Columns() (tourID, newsID *uint64) {
	id := t.id
	switch t.kind {
	case TargetTour:
		return &id, nil
	case TargetNews:
		return nil, &id
	}
	return nil, nil
}

// MarshalJSON renders the target as {"type": "tour", "id": 7}.
func (t CommentTarget) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		ID   uint64 `json:"id"`
	}{Type: t.kind.String(), ID: t.id})
}

// Comment is a user's remark on a tour or a news item. Only the author
// may edit or delete it.
type Comment struct {
	ID        uint64        `json:"id"`         // comments.id
	UserID    uint64        `json:"user_id"`    // comments.user_id
	Username  string        `json:"username"`   // users.username
	Target    CommentTarget `json:"target"`     // comments.tour_id | comments.news_id
	Content   string        `json:"content"`    // comments.content
	Active    bool          `json:"active"`     // comments.active
	CreatedAt time.Time     `json:"created_at"` // comments.created_at
	UpdatedAt time.Time     `json:"updated_at"` // comments.updated_at
}
