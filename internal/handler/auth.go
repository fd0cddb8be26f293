package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/config"
	"github.com/kiennguyen/apptravel/internal/model"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/utils"
)

// AuthHandler issues and revokes tokens.
type AuthHandler struct {
	Cfg    config.Config
	Users  *repository.UserRepo
	Tokens *repository.TokenRepo
}

func NewAuthHandler(cfg config.Config, u *repository.UserRepo, t *repository.TokenRepo) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t}
}

// ----- DTOs -----

type tokenReq struct {
	GrantType    string `json:"grant_type" form:"grant_type"`
	Username     string `json:"username" form:"username"`
	Password     string `json:"password" form:"password"`
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

type revokeReq struct {
	Token string `json:"token" form:"token"`
}

type tokenResp struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

var errInvalidGrant = errors.New("invalid_grant")

// Token handles POST /o/token for the password and refresh_token grants.
// Each successful call returns a fresh access token and a fresh refresh
// token; a presented refresh token is revoked first, so it works once.
func (h *AuthHandler) Token(c echo.Context) error {
	var req tokenReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}

	ctx, cancel := reqCtx(c)
	defer cancel()

	var (
		u   *model.User
		err error
	)
	switch strings.TrimSpace(req.GrantType) {
	case "password":
		if strings.TrimSpace(req.Username) == "" || req.Password == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "username/password required"})
		}
		u, err = h.passwordGrant(ctx, req.Username, req.Password)
	case "refresh_token":
		raw := strings.TrimSpace(req.RefreshToken)
		if raw == "" {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token required"})
		}
		u, err = h.refreshGrant(ctx, raw)
	default:
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "unsupported_grant_type"})
	}
	if errors.Is(err, errInvalidGrant) {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}
	if err != nil {
		return respondError(c, err)
	}

	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.ID, u.IsSuperUser, h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	if err := h.Tokens.Store(ctx, u.ID, utils.HashRefreshRaw(refresh.Raw), refresh.Exp); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}

	logrus.WithFields(logrus.Fields{"user_id": u.ID, "grant_type": req.GrantType}).Info("token issued")
	return c.JSON(http.StatusOK, tokenResp{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    h.Cfg.AccessTTLMin * 60,
		RefreshToken: refresh.Raw,
	})
}

func (h *AuthHandler) passwordGrant(ctx context.Context, username, password string) (*model.User, error) {
	u, err := h.Users.GetByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, errInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive || !utils.VerifyPassword(u.PasswordHash, password) {
		return nil, errInvalidGrant
	}
	if utils.NeedsRehash(u.PasswordHash, h.Cfg.BcryptCost) {
		h.upgradeHash(ctx, u.ID, password)
	}
	return u, nil
}

// upgradeHash re-hashes the password at the configured cost. Failures only
// cost the upgrade, never the login.
func (h *AuthHandler) upgradeHash(ctx context.Context, id uint64, password string) {
	hash, err := utils.HashPassword(password, h.Cfg.BcryptCost)
	if err == nil {
		err = h.Users.SetPasswordHash(ctx, id, hash)
	}
	if err != nil {
		logrus.WithError(err).WithField("user_id", id).Warn("password rehash failed")
	}
}

func (h *AuthHandler) refreshGrant(ctx context.Context, raw string) (*model.User, error) {
	hash := utils.HashRefreshRaw(raw)
	userID, err := h.Tokens.Validate(ctx, hash)
	if errors.Is(err, repository.ErrTokenInvalid) {
		return nil, errInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	// A concurrent rotation of the same token loses here.
	if err := h.Tokens.Revoke(ctx, hash); err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			return nil, errInvalidGrant
		}
		return nil, err
	}
	u, err := h.Users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, errInvalidGrant
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, errInvalidGrant
	}
	return u, nil
}

// Revoke handles POST /o/revoke_token. Unknown or already revoked tokens
// are acknowledged the same way as live ones.
func (h *AuthHandler) Revoke(c echo.Context) error {
	var req revokeReq
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "token required"})
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	err := h.Tokens.Revoke(ctx, utils.HashRefreshRaw(strings.TrimSpace(req.Token)))
	if err != nil && !errors.Is(err, repository.ErrTokenInvalid) {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusOK)
}
