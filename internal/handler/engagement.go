package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/model"
	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/service"
)

// EngagementHandler serves news plus the comments, likes and ratings
// users attach to tours and news.
type EngagementHandler struct {
	News  *repository.NewsRepo
	Svc   *service.EngagementService
	Media media.Store
}

func NewEngagementHandler(news *repository.NewsRepo, svc *service.EngagementService, store media.Store) *EngagementHandler {
	if news == nil || svc == nil || store == nil {
		panic("nil dependency passed to NewEngagementHandler")
	}
	return &EngagementHandler{News: news, Svc: svc, Media: store}
}

// ----- news -----

// ListNews handles GET /news. Inactive items are only listed for
// super-users.
func (h *EngagementHandler) ListNews(c echo.Context) error {
	who := caller(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.News.List(ctx, who.UserID)
	if err != nil {
		return respondError(c, err)
	}
	if !policy.Elevated(who) {
		visible := list[:0]
		for _, n := range list {
			if n.Active {
				visible = append(visible, n)
			}
		}
		list = visible
	}
	return c.JSON(http.StatusOK, list)
}

// GetNews handles GET /news/:id.
func (h *EngagementHandler) GetNews(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	who := caller(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.News.GetByID(ctx, id, who.UserID)
	if err != nil {
		return respondError(c, err)
	}
	if !n.Active && !policy.Elevated(who) {
		return respondError(c, repository.ErrNewsNotFound)
	}
	return c.JSON(http.StatusOK, n)
}

type newsReq struct {
	Title   *string `json:"title" validate:"omitempty,min=1,max=255"`
	Content *string `json:"content"`
	Image   *string `json:"image" validate:"omitempty,max=512"`
	Active  *bool   `json:"active"`
	upload  *string
}

func (h *EngagementHandler) readNewsReq(c echo.Context) (newsReq, bool, error) {
	var req newsReq
	if !isMultipart(c) {
		handled, err := bindAndValidate(c, &req)
		return req, handled, err
	}
	f, err := newFormFields(c)
	if err != nil {
		return req, true, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart body"})
	}
	req = newsReq{Title: f.str("title"), Content: f.str("content"), Active: f.bool("active")}
	if len(f.errs) > 0 {
		return req, true, validationFailed(c, f.errs)
	}
	if err := c.Validate(&req); err != nil {
		return req, true, validationFailed(c, fieldMessages(err))
	}
	if fh := f.file("image"); fh != nil {
		url, err := saveUpload(c.Request().Context(), h.Media, "news", fh)
		if err != nil {
			return req, true, respondError(c, err)
		}
		req.Image, req.upload = &url, &url
	}
	return req, false, nil
}

func (r newsReq) input() repository.NewsInput {
	return repository.NewsInput{Title: r.Title, Content: r.Content, Image: r.Image, Active: r.Active}
}

func (r newsReq) missingForFullWrite() map[string]string {
	missing := map[string]string{}
	if r.Title == nil {
		missing["title"] = "this field is required"
	}
	if r.Content == nil {
		missing["content"] = "this field is required"
	}
	return missing
}

// CreateNews handles POST /news.
func (h *EngagementHandler) CreateNews(c echo.Context) error {
	req, handled, err := h.readNewsReq(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.upload)
		}
	}()
	if missing := req.missingForFullWrite(); len(missing) > 0 {
		return validationFailed(c, missing)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.News.Create(ctx, req.input())
	if err != nil {
		return respondError(c, err)
	}
	written = true
	return c.JSON(http.StatusCreated, n)
}

// UpdateNews handles PUT (full) and PATCH (partial) /news/:id.
func (h *EngagementHandler) UpdateNews(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	req, handled, err := h.readNewsReq(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.upload)
		}
	}()
	if c.Request().Method == http.MethodPut {
		if missing := req.missingForFullWrite(); len(missing) > 0 {
			return validationFailed(c, missing)
		}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.News.Update(ctx, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	written = true
	return c.JSON(http.StatusOK, n)
}

// DeleteNews handles DELETE /news/:id.
func (h *EngagementHandler) DeleteNews(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.News.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LikeNews handles POST /news/:id/like and returns the refreshed item.
func (h *EngagementHandler) LikeNews(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	n, err := h.Svc.ToggleLike(ctx, caller(c).UserID, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, n)
}

// ----- comments -----

type commentReq struct {
	Content string `json:"content" validate:"required"`
}

func (h *EngagementHandler) addComment(c echo.Context, target func(uint64) model.CommentTarget) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req commentReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cm, err := h.Svc.AddComment(ctx, caller(c).UserID, target(id), req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cm)
}

func (h *EngagementHandler) listComments(c echo.Context, target func(uint64) model.CommentTarget) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Svc.Comments(ctx, target(id))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// AddTourComment handles POST /tours/:id/comment.
func (h *EngagementHandler) AddTourComment(c echo.Context) error {
	return h.addComment(c, model.TourTarget)
}

// TourComments handles GET /tours/:id/comments.
func (h *EngagementHandler) TourComments(c echo.Context) error {
	return h.listComments(c, model.TourTarget)
}

// AddNewsComment handles POST /news/:id/comment.
func (h *EngagementHandler) AddNewsComment(c echo.Context) error {
	return h.addComment(c, model.NewsTarget)
}

// NewsComments handles GET /news/:id/comments.
func (h *EngagementHandler) NewsComments(c echo.Context) error {
	return h.listComments(c, model.NewsTarget)
}

// UpdateComment handles PUT/PATCH /comments/:id. Content is the only
// writable field.
func (h *EngagementHandler) UpdateComment(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req commentReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cm, err := h.Svc.UpdateComment(ctx, caller(c), id, req.Content)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cm)
}

// DeleteComment handles DELETE /comments/:id (soft delete).
func (h *EngagementHandler) DeleteComment(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.DeleteComment(ctx, caller(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ----- ratings -----

type ratingReq struct {
	Rating *int `json:"rating" validate:"required"`
}

// AddTourRating handles POST /tours/:id/rating.
func (h *EngagementHandler) AddTourRating(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req ratingReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Svc.AddRating(ctx, caller(c).UserID, id, *req.Rating)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

// TourRating handles GET /tours/:id/rating.
func (h *EngagementHandler) TourRating(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	sum, err := h.Svc.TourRating(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}

// UpdateRating handles PUT/PATCH /rating/:id.
func (h *EngagementHandler) UpdateRating(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req ratingReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	r, err := h.Svc.UpdateRating(ctx, caller(c), id, *req.Rating)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// DeleteRating handles DELETE /rating/:id (soft delete).
func (h *EngagementHandler) DeleteRating(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Svc.DeleteRating(ctx, caller(c), id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
