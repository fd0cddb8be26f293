package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/model"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/service"
	"github.com/kiennguyen/apptravel/internal/utils"
)

// UserHandler serves sign-up, user administration and the caller's own
// profile.
type UserHandler struct {
	Users      *repository.UserRepo
	Tokens     *repository.TokenRepo
	Bookings   *service.BookingService
	Media      media.Store
	BcryptCost int
}

func NewUserHandler(users *repository.UserRepo, tokens *repository.TokenRepo, bookings *service.BookingService,
	store media.Store, bcryptCost int) *UserHandler {
	if users == nil || tokens == nil || bookings == nil || store == nil {
		panic("nil dependency passed to NewUserHandler")
	}
	return &UserHandler{Users: users, Tokens: tokens, Bookings: bookings, Media: store, BcryptCost: bcryptCost}
}

// endSessions revokes the user's refresh tokens after a password change
// or a deactivation. Access tokens still run out on their own.
func (h *UserHandler) endSessions(c echo.Context, id uint64, p repository.UserPatch) {
	if p.PasswordHash == nil && (p.IsActive == nil || *p.IsActive) {
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Tokens.RevokeAllForUser(ctx, id); err != nil {
		logrus.WithError(err).WithField("user_id", id).Error("revoke sessions failed")
	}
}

// ----- DTOs -----

type signUpReq struct {
	Username  string `json:"username" validate:"required,max=150"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
	Email     string `json:"email" validate:"omitempty,email,max=254"`
	FirstName string `json:"first_name" validate:"max=150"`
	LastName  string `json:"last_name" validate:"max=150"`
}

type userPatchReq struct {
	Username    *string `json:"username" validate:"omitempty,min=1,max=150"`
	Password    *string `json:"password" validate:"omitempty,min=8,max=128"`
	Email       *string `json:"email" validate:"omitempty,email,max=254"`
	FirstName   *string `json:"first_name" validate:"omitempty,max=150"`
	LastName    *string `json:"last_name" validate:"omitempty,max=150"`
	IsSuperUser *bool   `json:"is_superuser"`
	IsActive    *bool   `json:"is_active"`
	avatar      *string
}

func (h *UserHandler) storeAvatar(c echo.Context, f *formFields) (*string, error) {
	fh := f.file("avatar")
	if fh == nil {
		return nil, nil
	}
	url, err := saveUpload(c.Request().Context(), h.Media, "avatars", fh)
	if err != nil {
		return nil, err
	}
	return &url, nil
}

// readPatch accepts JSON or multipart with an optional "avatar" file.
func (h *UserHandler) readPatch(c echo.Context) (userPatchReq, bool, error) {
	var req userPatchReq
	if !isMultipart(c) {
		handled, err := bindAndValidate(c, &req)
		return req, handled, err
	}
	f, err := newFormFields(c)
	if err != nil {
		return req, true, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart body"})
	}
	req = userPatchReq{
		Username:    f.str("username"),
		Password:    f.str("password"),
		Email:       f.str("email"),
		FirstName:   f.str("first_name"),
		LastName:    f.str("last_name"),
		IsSuperUser: f.bool("is_superuser"),
		IsActive:    f.bool("is_active"),
	}
	if len(f.errs) > 0 {
		return req, true, validationFailed(c, f.errs)
	}
	if err := c.Validate(&req); err != nil {
		return req, true, validationFailed(c, fieldMessages(err))
	}
	if req.avatar, err = h.storeAvatar(c, f); err != nil {
		return req, true, respondError(c, err)
	}
	return req, false, nil
}

func (h *UserHandler) patch(req userPatchReq, allowFlags bool) (repository.UserPatch, error) {
	p := repository.UserPatch{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Avatar:    req.avatar,
	}
	if allowFlags {
		p.IsSuperUser = req.IsSuperUser
		p.IsActive = req.IsActive
	}
	if req.Password != nil {
		hash, err := utils.HashPassword(*req.Password, h.BcryptCost)
		if err != nil {
			return p, err
		}
		p.PasswordHash = &hash
	}
	return p, nil
}

// Create handles POST /users (open sign-up). Accounts created here are
// never super-users.
func (h *UserHandler) Create(c echo.Context) error {
	var (
		req    signUpReq
		avatar *string
	)
	if isMultipart(c) {
		f, err := newFormFields(c)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart body"})
		}
		str := func(k string) string {
			if v := f.str(k); v != nil {
				return *v
			}
			return ""
		}
		req = signUpReq{
			Username:  str("username"),
			Password:  str("password"),
			Email:     str("email"),
			FirstName: str("first_name"),
			LastName:  str("last_name"),
		}
		if err := c.Validate(&req); err != nil {
			return validationFailed(c, fieldMessages(err))
		}
		if avatar, err = h.storeAvatar(c, f); err != nil {
			return respondError(c, err)
		}
	} else if handled, err := bindAndValidate(c, &req); handled {
		return err
	}

	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, avatar)
		}
	}()

	hash, err := utils.HashPassword(req.Password, h.BcryptCost)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	u := &model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Avatar:       avatar,
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Users.Create(ctx, u); err != nil {
		return respondError(c, err)
	}
	written = true
	return c.JSON(http.StatusCreated, u)
}

// Update handles PUT/PATCH /users/:id for super-users.
func (h *UserHandler) Update(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	req, handled, err := h.readPatch(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.avatar)
		}
	}()
	if c.Request().Method == http.MethodPut && req.Username == nil {
		return validationFailed(c, map[string]string{"username": "this field is required"})
	}
	p, err := h.patch(req, true)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	u, err := h.Users.Update(ctx, id, p)
	if err != nil {
		return respondError(c, err)
	}
	written = true
	h.endSessions(c, id, p)
	return c.JSON(http.StatusOK, u)
}

// Delete handles DELETE /users/:id.
func (h *UserHandler) Delete(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Users.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// currentUser loads the caller's own record. The lookup is keyed by the
// caller's id, so the identity rule of the /users/current routes holds
// without a further object check.
func (h *UserHandler) currentUser(c echo.Context) (*model.User, error) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	return h.Users.GetByID(ctx, caller(c).UserID)
}

// Current handles GET /users/current.
func (h *UserHandler) Current(c echo.Context) error {
	u, err := h.currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, u)
}

// UpdateCurrent handles PATCH /users/current. Role and activation flags
// are not self-service and are ignored.
func (h *UserHandler) UpdateCurrent(c echo.Context) error {
	u, err := h.currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	req, handled, err := h.readPatch(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.avatar)
		}
	}()
	p, err := h.patch(req, false)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "hash password failed"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	updated, err := h.Users.Update(ctx, u.ID, p)
	if err != nil {
		return respondError(c, err)
	}
	written = true
	h.endSessions(c, u.ID, p)
	return c.JSON(http.StatusOK, updated)
}

// CurrentBookings handles GET /users/current/booking.
func (h *UserHandler) CurrentBookings(c echo.Context) error {
	u, err := h.currentUser(c)
	if err != nil {
		return respondError(c, err)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Bookings.OwnBookings(ctx, u.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}
