package service

import (
	"context"
	"errors"
	"strings"

	"github.com/kiennguyen/apptravel/internal/model"
	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/repository"
)

var (
	// ErrRatingNotAllowed is returned when the caller has no paid booking
	// on the tour.
	ErrRatingNotAllowed = errors.New("you must book and pay for this tour before rating it")
	// ErrInvalidRating rejects values outside 1..5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	// ErrEmptyContent rejects blank comments.
	ErrEmptyContent = errors.New("content is required")
)

// EngagementService handles comments, likes and ratings.
type EngagementService struct {
	comments *repository.CommentRepo
	likes    *repository.LikeRepo
	ratings  *repository.RatingRepo
	tours    *repository.TourRepo
	news     *repository.NewsRepo
}

func NewEngagementService(comments *repository.CommentRepo, likes *repository.LikeRepo, ratings *repository.RatingRepo,
	tours *repository.TourRepo, news *repository.NewsRepo) *EngagementService {
	return &EngagementService{comments: comments, likes: likes, ratings: ratings, tours: tours, news: news}
}

// AddComment attaches a comment by userID to target.
func (s *EngagementService) AddComment(ctx context.Context, userID uint64, target model.CommentTarget, content string) (*model.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	return s.comments.Create(ctx, userID, target, content)
}

// Comments lists the active comments of an existing tour or news item.
func (s *EngagementService) Comments(ctx context.Context, target model.CommentTarget) ([]model.Comment, error) {
	if err := s.targetExists(ctx, target); err != nil {
		return nil, err
	}
	return s.comments.ListActive(ctx, target)
}

func (s *EngagementService) targetExists(ctx context.Context, target model.CommentTarget) error {
	if id, ok := target.Tour(); ok {
		_, err := s.tours.GetByID(ctx, id)
		return err
	}
	ok, err := s.news.ActiveExists(ctx, target.ID())
	if err != nil {
		return err
	}
	if !ok {
		return repository.ErrNewsNotFound
	}
	return nil
}

// ownedComment loads a comment and applies the object rule of op.
func (s *EngagementService) ownedComment(ctx context.Context, caller policy.Caller, op policy.Operation, id uint64) (*model.Comment, error) {
	c, err := s.comments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CheckObject(policy.Lookup(op), caller, c.UserID) {
		return nil, repository.ErrForbidden
	}
	return c, nil
}

// UpdateComment replaces the content of a comment owned by caller.
func (s *EngagementService) UpdateComment(ctx context.Context, caller policy.Caller, id uint64, content string) (*model.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.ownedComment(ctx, caller, policy.CommentUpdate, id); err != nil {
		return nil, err
	}
	return s.comments.UpdateContent(ctx, id, content)
}

// DeleteComment soft-deletes a comment owned by caller.
func (s *EngagementService) DeleteComment(ctx context.Context, caller policy.Caller, id uint64) error {
	if _, err := s.ownedComment(ctx, caller, policy.CommentDelete, id); err != nil {
		return err
	}
	return s.comments.Deactivate(ctx, id)
}

// ToggleLike flips userID's like on a news item and returns the item
// with the fresh like count and the caller's liked flag.
func (s *EngagementService) ToggleLike(ctx context.Context, userID, newsID uint64) (*model.News, error) {
	_, news, err := s.likes.Toggle(ctx, userID, newsID)
	return news, err
}

// AddRating stores a rating if userID holds a paid booking on the tour.
func (s *EngagementService) AddRating(ctx context.Context, userID, tourID uint64, value int) (*model.Rating, error) {
	if !model.ValidRating(value) {
		return nil, ErrInvalidRating
	}
	if _, err := s.tours.GetByID(ctx, tourID); err != nil {
		return nil, err
	}
	ok, err := s.ratings.HasPaidBooking(ctx, userID, tourID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRatingNotAllowed
	}
	return s.ratings.Create(ctx, userID, tourID, uint8(value))
}

// RatingSummary is the rating view of a tour.
type RatingSummary struct {
	Average *float64       `json:"average_rating"`
	Ratings []model.Rating `json:"ratings"`
}

// TourRating returns the mean over all ratings of the tour and the list
// of active ones.
func (s *EngagementService) TourRating(ctx context.Context, tourID uint64) (*RatingSummary, error) {
	if _, err := s.tours.GetByID(ctx, tourID); err != nil {
		return nil, err
	}
	avg, err := s.ratings.Average(ctx, tourID)
	if err != nil {
		return nil, err
	}
	list, err := s.ratings.ListActiveByTour(ctx, tourID)
	if err != nil {
		return nil, err
	}
	return &RatingSummary{Average: avg, Ratings: list}, nil
}

func (s *EngagementService) ownedRating(ctx context.Context, caller policy.Caller, op policy.Operation, id uint64) (*model.Rating, error) {
	r, err := s.ratings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !policy.CheckObject(policy.Lookup(op), caller, r.UserID) {
		return nil, repository.ErrForbidden
	}
	return r, nil
}

// UpdateRating changes the value of a rating owned by caller.
func (s *EngagementService) UpdateRating(ctx context.Context, caller policy.Caller, id uint64, value int) (*model.Rating, error) {
	if !model.ValidRating(value) {
		return nil, ErrInvalidRating
	}
	if _, err := s.ownedRating(ctx, caller, policy.RatingUpdate, id); err != nil {
		return nil, err
	}
	return s.ratings.UpdateValue(ctx, id, uint8(value))
}

// DeleteRating soft-deletes a rating owned by caller.
func (s *EngagementService) DeleteRating(ctx context.Context, caller policy.Caller, id uint64) error {
	if _, err := s.ownedRating(ctx, caller, policy.RatingDelete, id); err != nil {
		return err
	}
	return s.ratings.Deactivate(ctx, id)
}
