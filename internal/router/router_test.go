package router

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiennguyen/apptravel/internal/config"
	"github.com/kiennguyen/apptravel/internal/handler"
	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/service"
	"github.com/kiennguyen/apptravel/internal/utils"
)

const secret = "test-secret"

func newServer(t *testing.T) (*echo.Echo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return build(t, db), mock
}

func build(t *testing.T, db *sql.DB) *echo.Echo {
	users := repository.NewUserRepo(db)
	tours := repository.NewTourRepo(db)
	tickets := repository.NewTicketRepo(db)
	news := repository.NewNewsRepo(db)
	store := media.NewLocalStore(t.TempDir(), "/media", 0)
	bookings := service.NewBookingService(db, tickets, repository.NewBookingRepo(db),
		repository.NewPaymentRepo(db), tours, nil)
	engagement := service.NewEngagementService(repository.NewCommentRepo(db), repository.NewLikeRepo(db),
		repository.NewRatingRepo(db), tours, news)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return New(Handlers{
		Auth:       handler.NewAuthHandler(config.Config{JWTSecret: secret}, users, repository.NewTokenRepo(db)),
		Catalog:    handler.NewCatalogHandler(repository.NewCategoryRepo(db), tours, tickets, store, 20),
		Engagement: handler.NewEngagementHandler(news, engagement, store),
		Booking:    handler.NewBookingHandler(bookings),
		User:       handler.NewUserHandler(users, repository.NewTokenRepo(db), bookings, store, 4),
		Health:     handler.NewHealthHandler(db, nil),
	}, Options{JWTSecret: secret, MediaRoot: store.Root(), MediaURL: "/media", Logger: log})
}

func bearer(t *testing.T, userID uint64, su bool) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, su, 5)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(e *echo.Echo, method, target, auth, body string) *httptest.ResponseRecorder {
	var r io.Reader = http.NoBody
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(echo.HeaderAuthorization, auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e, _ := newServer(t)
	rec := do(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"database":"ok"}`, rec.Body.String())
}

func TestElevatedWritesGate(t *testing.T) {
	e, _ := newServer(t)

	rec := do(e, http.MethodPost, "/categories", "", `{"name":"Beach"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"authentication required"}`, rec.Body.String())

	rec = do(e, http.MethodPost, "/categories", bearer(t, 2, false), `{"name":"Beach"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	for _, path := range []string{"/tours/1", "/tickets/1", "/news/1", "/categories/1"} {
		rec = do(e, http.MethodDelete, path, bearer(t, 2, false), "")
		assert.Equal(t, http.StatusForbidden, rec.Code, path)
	}
}

func TestAuthenticatedGate(t *testing.T) {
	e, _ := newServer(t)
	for _, r := range [][2]string{
		{http.MethodPost, "/tickets/1/booking"},
		{http.MethodGet, "/booking"},
		{http.MethodPost, "/booking/1/payment"},
		{http.MethodPost, "/news/1/like"},
		{http.MethodPost, "/tours/1/rating"},
		{http.MethodPost, "/tours/1/comment"},
		{http.MethodPatch, "/comments/1"},
		{http.MethodDelete, "/rating/1"},
		{http.MethodGet, "/users/current"},
		{http.MethodGet, "/users/current/booking"},
	} {
		rec := do(e, r[0], r[1], "", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, r[1])
	}
}

func TestOpenCatalogRead(t *testing.T) {
	e, mock := newServer(t)
	mock.ExpectQuery(`SELECT id, name FROM categories ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "Beach"))

	rec := do(e, http.MethodGet, "/categories", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Beach"}]`, rec.Body.String())
}

func TestCurrentUserRouteWinsOverID(t *testing.T) {
	e, mock := newServer(t)
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "first_name", "last_name",
			"avatar", "is_superuser", "is_active", "created_at", "updated_at"}))

	rec := do(e, http.MethodGet, "/users/current", bearer(t, 2, false), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInvalidTokenRejected(t *testing.T) {
	e, _ := newServer(t)
	rec := do(e, http.MethodGet, "/categories", "Bearer nope", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
