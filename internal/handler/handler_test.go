package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/kiennguyen/apptravel/internal/config"
	"github.com/kiennguyen/apptravel/internal/middleware"
	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/service"
	"github.com/kiennguyen/apptravel/internal/utils"
)

var now = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

var (
	anon  = policy.Anonymous
	ann   = policy.Caller{UserID: 2, Authenticated: true}
	bob   = policy.Caller{UserID: 3, Authenticated: true}
	admin = policy.Caller{UserID: 1, Authenticated: true, IsSuperUser: true}
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

// fakeStore records uploads and removals without touching the filesystem.
type fakeStore struct{ saved, removed []string }

func (s *fakeStore) Save(_ context.Context, dir, name string, r io.Reader) (string, error) {
	if _, err := io.ReadAll(r); err != nil {
		return "", err
	}
	s.saved = append(s.saved, dir+"/"+name)
	return "/media/" + dir + "/" + name, nil
}

func (s *fakeStore) Remove(_ context.Context, url string) error {
	s.removed = append(s.removed, url)
	return nil
}

type request struct {
	method string
	target string
	body   io.Reader
	ctype  string
	id     string
	caller policy.Caller
}

func jsonReq(method, target, body string, who policy.Caller) request {
	return request{method: method, target: target, body: strings.NewReader(body), ctype: echo.MIMEApplicationJSON, caller: who}
}

func (r request) withID(id string) request { r.id = id; return r }

func call(t *testing.T, h echo.HandlerFunc, r request) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = NewValidator()
	if r.body == nil {
		r.body = http.NoBody
	}
	req := httptest.NewRequest(r.method, r.target, r.body)
	if r.ctype != "" {
		req.Header.Set(echo.HeaderContentType, r.ctype)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if r.id != "" {
		c.SetParamNames("id")
		c.SetParamValues(r.id)
	}
	middleware.SetCaller(c, r.caller)
	require.NoError(t, h(c))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// ----- catalog -----

func newCatalog(db *sql.DB) *CatalogHandler { return newCatalogWith(db, &fakeStore{}) }

func newCatalogWith(db *sql.DB, store *fakeStore) *CatalogHandler {
	return NewCatalogHandler(repository.NewCategoryRepo(db), repository.NewTourRepo(db),
		repository.NewTicketRepo(db), store, 20)
}

// imageForm builds a multipart body with the given fields and one image file.
func imageForm(t *testing.T, fields map[string]string, fileField, fileName string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	fw, err := w.CreateFormFile(fileField, fileName)
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png"))
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestPutTourMissingFieldsDropsUpload(t *testing.T) {
	db, _ := newMock(t)
	body, ctype := imageForm(t, map[string]string{"description": "d"}, "image", "cover.png")

	store := &fakeStore{}
	rec := call(t, newCatalogWith(db, store).UpdateTour, request{
		method: http.MethodPut, target: "/tours/1", body: body, ctype: ctype, caller: admin,
	}.withID("1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, []string{"tours/cover.png"}, store.saved)
	assert.Equal(t, []string{"/media/tours/cover.png"}, store.removed)
}

func TestCreateTourInvalidFieldsSkipsUpload(t *testing.T) {
	db, _ := newMock(t)
	body, ctype := imageForm(t, map[string]string{"category_id": "1", "name": strings.Repeat("x", 256)}, "image", "cover.png")

	store := &fakeStore{}
	rec := call(t, newCatalogWith(db, store).CreateTour, request{
		method: http.MethodPost, target: "/tours", body: body, ctype: ctype, caller: admin,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.saved)
	assert.Empty(t, store.removed)
}

var tourCols = []string{"id", "category_id", "category_name", "name", "description", "image", "remaining_quantity", "active", "created_at", "updated_at"}

func TestListToursRejectsNonNumericCategory(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).ListTours, request{method: http.MethodGet, target: "/tours?category_id=1,x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListToursEnvelope(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tours t`).WithArgs(1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(`ORDER BY t.id ASC LIMIT \? OFFSET \?`).WithArgs(1, 2, 20, 0).
		WillReturnRows(sqlmock.NewRows(tourCols).AddRow(4, 1, "Beach", "Sun", "d", nil, 5, true, now, now))
	mock.ExpectQuery(`FROM tour_tags tt`).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"tour_id", "name"}).AddRow(4, "sea"))

	rec := call(t, newCatalog(db).ListTours, request{method: http.MethodGet, target: "/tours?category_id=1,2"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 1, body["page"])
	assert.EqualValues(t, 20, body["page_size"])
	data := body["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, []any{"sea"}, data[0].(map[string]any)["tags"])
}

func TestListToursPageBeyondRange(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(3))
	mock.ExpectQuery(`LIMIT \? OFFSET \?`).WithArgs(20, 20).WillReturnRows(sqlmock.NewRows(tourCols))

	rec := call(t, newCatalog(db).ListTours, request{method: http.MethodGet, target: "/tours?page=2"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListToursRejectsBadPage(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).ListTours, request{method: http.MethodGet, target: "/tours?page=0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateCategoryValidation(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).CreateCategory, jsonReq(http.MethodPost, "/categories", `{"name":""}`, admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation failed", body["error"])
	assert.Equal(t, "this field is required", body["fields"].(map[string]any)["name"])
}

func TestCreateCategoryConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO categories`).WithArgs("Beach").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	rec := call(t, newCatalog(db).CreateCategory, jsonReq(http.MethodPost, "/categories", `{"name":"Beach"}`, admin))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPutTourRequiresNameAndCategory(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).UpdateTour, jsonReq(http.MethodPut, "/tours/4", `{"description":"x"}`, admin).withID("4"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "name")
	assert.Contains(t, fields, "category_id")
}

func TestTourTicketsUnknownTour(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`WHERE t.id = \?`).WithArgs(9).WillReturnRows(sqlmock.NewRows(tourCols))

	rec := call(t, newCatalog(db).TourTickets, request{method: http.MethodGet, target: "/tours/9/tickets", id: "9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateTicketRejectsNegativePrice(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).CreateTicket,
		jsonReq(http.MethodPost, "/tickets", `{"tour_id":4,"name":"Std","price":"-1"}`, admin))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "price")
}

func TestInvalidPathID(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newCatalog(db).GetTour, request{method: http.MethodGet, target: "/tours/abc", id: "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- news & engagement -----

var newsCols = []string{"id", "title", "content", "image", "active", "like_count", "liked", "created_at", "updated_at"}

func newEngagement(db *sql.DB, store *fakeStore) *EngagementHandler {
	news := repository.NewNewsRepo(db)
	svc := service.NewEngagementService(repository.NewCommentRepo(db), repository.NewLikeRepo(db),
		repository.NewRatingRepo(db), repository.NewTourRepo(db), news)
	return NewEngagementHandler(news, svc, store)
}

func TestListNewsHidesInactiveFromUsers(t *testing.T) {
	db, mock := newMock(t)
	rows := func() *sqlmock.Rows {
		return sqlmock.NewRows(newsCols).
			AddRow(2, "B", "b", nil, false, 0, false, now, now).
			AddRow(1, "A", "a", nil, true, 3, true, now, now)
	}
	mock.ExpectQuery(`FROM news n ORDER BY n.id DESC`).WithArgs(2).WillReturnRows(rows())
	mock.ExpectQuery(`FROM news n ORDER BY n.id DESC`).WithArgs(1).WillReturnRows(rows())

	h := newEngagement(db, &fakeStore{})
	rec := call(t, h.ListNews, request{method: http.MethodGet, target: "/news", caller: ann})
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, true, list[0]["liked"])

	rec = call(t, h.ListNews, request{method: http.MethodGet, target: "/news", caller: admin})
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestLikeNewsTogglesBack(t *testing.T) {
	db, mock := newMock(t)
	for _, liked := range []bool{true, false} {
		count := 0
		if liked {
			count = 1
		}
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO likes`).WithArgs(2, 5).WillReturnResult(sqlmock.NewResult(7, 1))
		mock.ExpectQuery(`SELECT id, liked FROM likes`).WithArgs(2, 5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "liked"}).AddRow(7, liked))
		mock.ExpectQuery(`FROM news n WHERE n.id = \?`).WithArgs(2, 5).
			WillReturnRows(sqlmock.NewRows(newsCols).AddRow(5, "t", "c", nil, true, count, liked, now, now))
		mock.ExpectCommit()
	}

	h := newEngagement(db, &fakeStore{})
	req := request{method: http.MethodPost, target: "/news/5/like", caller: ann}.withID("5")

	rec := call(t, h.LikeNews, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["liked"])
	assert.EqualValues(t, 1, body["like_count"])

	rec = call(t, h.LikeNews, req)
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, false, body["liked"])
	assert.EqualValues(t, 0, body["like_count"])
}

func TestLikeNewsUnknownItem(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO likes`).WithArgs(2, 99).
		WillReturnError(&mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})
	mock.ExpectRollback()

	rec := call(t, newEngagement(db, &fakeStore{}).LikeNews,
		request{method: http.MethodPost, target: "/news/99/like", caller: ann}.withID("99"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateNewsMultipartStoresImage(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO news`).WithArgs("Hello", "Body", "/media/news/pic.png", true).
		WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectQuery(`FROM news n WHERE n.id = \?`).WithArgs(0, 9).
		WillReturnRows(sqlmock.NewRows(newsCols).AddRow(9, "Hello", "Body", "/media/news/pic.png", true, 0, false, now, now))

	body, ctype := imageForm(t, map[string]string{"title": "Hello", "content": "Body"}, "image", "pic.png")

	store := &fakeStore{}
	rec := call(t, newEngagement(db, store).CreateNews, request{
		method: http.MethodPost, target: "/news", body: body, ctype: ctype, caller: admin,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{"news/pic.png"}, store.saved)
	assert.Empty(t, store.removed)
	assert.Equal(t, "/media/news/pic.png", decode(t, rec)["image"])
}

func TestUpdateNewsFailedWriteDropsUpload(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE news SET`).WillReturnError(errors.New("connection reset"))
	body, ctype := imageForm(t, map[string]string{"title": "Hello"}, "image", "pic.png")

	store := &fakeStore{}
	rec := call(t, newEngagement(db, store).UpdateNews, request{
		method: http.MethodPatch, target: "/news/5", body: body, ctype: ctype, caller: admin,
	}.withID("5"))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"/media/news/pic.png"}, store.removed)
}

func TestAddRatingRequiresValue(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newEngagement(db, &fakeStore{}).AddTourRating,
		jsonReq(http.MethodPost, "/tours/4/rating", `{}`, ann).withID("4"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "rating")
}

func TestAddRatingOutOfRange(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newEngagement(db, &fakeStore{}).AddTourRating,
		jsonReq(http.MethodPost, "/tours/4/rating", `{"rating":9}`, ann).withID("4"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddRatingWithoutPaidBookingForbidden(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`WHERE t.id = \?`).WithArgs(4).
		WillReturnRows(sqlmock.NewRows(tourCols).AddRow(4, 1, "Beach", "Sun", "d", nil, 5, true, now, now))
	mock.ExpectQuery(`FROM tour_tags tt`).WithArgs(4).WillReturnRows(sqlmock.NewRows([]string{"tour_id", "name"}))
	mock.ExpectQuery(`JOIN payments p ON p.booking_id = b.id`).WithArgs(2, 4).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))

	rec := call(t, newEngagement(db, &fakeStore{}).AddTourRating,
		jsonReq(http.MethodPost, "/tours/4/rating", `{"rating":5}`, ann).withID("4"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

var commentCols = []string{"id", "user_id", "username", "tour_id", "news_id", "content", "active", "created_at", "updated_at"}

func TestUpdateCommentByOtherUserForbidden(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`WHERE m.id = \?`).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(7, 2, "ann", 4, nil, "hi", true, now, now))

	rec := call(t, newEngagement(db, &fakeStore{}).UpdateComment,
		jsonReq(http.MethodPatch, "/comments/7", `{"content":"edited"}`, bob).withID("7"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// ----- bookings -----

var (
	bookingCols = []string{"id", "user_id", "ticket_id", "tour_id", "adult_quantity", "child_quantity", "total_price", "active", "paid", "created_at", "updated_at"}
	lockCols    = []string{"id", "user_id", "ticket_id", "tour_id", "adult_quantity", "child_quantity", "total_price", "active"}
)

func newBooking(db *sql.DB) *BookingHandler {
	return NewBookingHandler(service.NewBookingService(db, repository.NewTicketRepo(db), repository.NewBookingRepo(db),
		repository.NewPaymentRepo(db), repository.NewTourRepo(db), nil))
}

func TestBookRejectsEmptyBooking(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newBooking(db).Book,
		jsonReq(http.MethodPost, "/tickets/3/booking", `{"adult_quantity":0}`, ann).withID("3"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBookRejectsOversizedQuantities(t *testing.T) {
	db, _ := newMock(t)
	for _, body := range []string{
		`{"adult_quantity":4294967297}`,
		`{"adult_quantity":4294967295,"child_quantity":1}`,
		`{"child_quantity":1001}`,
	} {
		rec := call(t, newBooking(db).Book,
			jsonReq(http.MethodPost, "/tickets/3/booking", body, ann).withID("3"))
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "validation failed", decode(t, rec)["error"], body)
	}
}

func TestBookDefaultsToOneAdult(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM tickets WHERE id = \?`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tour_id", "name", "price", "active", "created_at", "updated_at"}).
			AddRow(3, 4, "Std", "100.00", true, now, now))
	mock.ExpectExec(`INSERT INTO bookings`).WithArgs(2, 3, 1, 0, "100").WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectQuery(`WHERE b.id = \?`).WithArgs(11).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(11, 2, 3, 4, 1, 0, "100.0000", true, false, now, now))

	rec := call(t, newBooking(db).Book, jsonReq(http.MethodPost, "/tickets/3/booking", `{}`, ann).withID("3"))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "100", decode(t, rec)["total_price"])
}

func TestGetBookingOfOtherUserIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(bookingCols).AddRow(11, 2, 3, 4, 1, 0, "100.0000", true, false, now, now)
	}
	mock.ExpectQuery(`WHERE b.id = \?`).WithArgs(11).WillReturnRows(row())
	mock.ExpectQuery(`WHERE b.id = \?`).WithArgs(11).WillReturnRows(row())

	h := newBooking(db)
	rec := call(t, h.Get, request{method: http.MethodGet, target: "/booking/11", id: "11", caller: bob})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h.Get, request{method: http.MethodGet, target: "/booking/11", id: "11", caller: admin})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateBookingOnlyTouchesActive(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`WHERE b.id = \?`).WithArgs(11).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(11, 2, 3, 4, 1, 0, "100.0000", true, false, now, now))
	mock.ExpectExec(`UPDATE bookings SET active = \? WHERE id = \?`).WithArgs(false, 11).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`WHERE b.id = \?`).WithArgs(11).
		WillReturnRows(sqlmock.NewRows(bookingCols).AddRow(11, 2, 3, 4, 1, 0, "100.0000", false, false, now, now))

	rec := call(t, newBooking(db).Update,
		jsonReq(http.MethodPatch, "/booking/11", `{"active":false,"adult_quantity":50}`, ann).withID("11"))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["active"])
	assert.EqualValues(t, 1, body["adult_quantity"])
}

func TestPaySecondPaymentConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`WHERE b.id = \? AND b.user_id = \? FOR UPDATE`).WithArgs(11, 2).
		WillReturnRows(sqlmock.NewRows(lockCols).AddRow(11, 2, 3, 4, 1, 0, "100.0000", true))
	mock.ExpectQuery(`FROM payments WHERE booking_id = \? FOR UPDATE`).WithArgs(11).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectRollback()

	rec := call(t, newBooking(db).Pay, jsonReq(http.MethodPost, "/booking/11/payment", `{"payment_method_id":"pm"}`, ann).withID("11"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// ----- users -----

var userCols = []string{"id", "username", "email", "password_hash", "first_name", "last_name", "avatar", "is_superuser", "is_active", "created_at", "updated_at"}

func newUsers(db *sql.DB) *UserHandler { return newUsersWith(db, &fakeStore{}) }

func newUsersWith(db *sql.DB, store *fakeStore) *UserHandler {
	bookings := service.NewBookingService(db, repository.NewTicketRepo(db), repository.NewBookingRepo(db),
		repository.NewPaymentRepo(db), repository.NewTourRepo(db), nil)
	return NewUserHandler(repository.NewUserRepo(db), repository.NewTokenRepo(db), bookings, store, bcrypt.MinCost)
}

func TestCreateUserTakenUsernameDropsAvatar(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	body, ctype := imageForm(t, map[string]string{
		"username": "ann", "password": "longenough", "email": "ann@example.com",
	}, "avatar", "me.png")

	store := &fakeStore{}
	rec := call(t, newUsersWith(db, store).Create, request{
		method: http.MethodPost, target: "/users", body: body, ctype: ctype, caller: anon,
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, []string{"avatars/me.png"}, store.saved)
	assert.Equal(t, []string{"/media/avatars/me.png"}, store.removed)
}

func TestCreateUserInvalidFieldsSkipsAvatar(t *testing.T) {
	db, _ := newMock(t)
	body, ctype := imageForm(t, map[string]string{"username": "ann", "password": "short"}, "avatar", "me.png")

	store := &fakeStore{}
	rec := call(t, newUsersWith(db, store).Create, request{
		method: http.MethodPost, target: "/users", body: body, ctype: ctype, caller: anon,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, store.saved)
}

func TestCreateUserValidation(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newUsers(db).Create,
		jsonReq(http.MethodPost, "/users", `{"username":"ann","password":"short","email":"nope"}`, anon))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decode(t, rec)["fields"].(map[string]any)
	assert.Equal(t, "must be at least 8 characters", fields["password"])
	assert.Equal(t, "enter a valid email address", fields["email"])
}

func TestCreateUserIsNeverSuperUser(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`INSERT INTO users`).
		WithArgs("ann", "ann@example.com", sqlmock.AnyArg(), "", "", sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "ann@example.com", "h", "", "", nil, false, true, now, now))

	rec := call(t, newUsers(db).Create, jsonReq(http.MethodPost, "/users",
		`{"username":"ann","password":"longenough","email":"ann@example.com","is_superuser":true}`, anon))
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["is_superuser"])
	assert.NotContains(t, body, "password_hash")
}

func TestUpdateCurrentIgnoresFlags(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h", "", "", nil, false, true, now, now))
	mock.ExpectExec(`UPDATE users SET first_name = \? WHERE id = \?`).WithArgs("Ann", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h", "Ann", "", nil, false, true, now, now))

	rec := call(t, newUsers(db).UpdateCurrent,
		jsonReq(http.MethodPatch, "/users/current", `{"first_name":"Ann","is_superuser":true}`, ann))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann", decode(t, rec)["first_name"])
}

func TestPasswordChangeRevokesRefreshTokens(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h", "", "", nil, false, true, now, now))
	mock.ExpectExec(`UPDATE users SET password_hash = \? WHERE id = \?`).WithArgs(sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h2", "", "", nil, false, true, now, now))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = UTC_TIMESTAMP\(\) WHERE user_id = \?`).WithArgs(2).
		WillReturnResult(sqlmock.NewResult(0, 3))

	rec := call(t, newUsers(db).UpdateCurrent,
		jsonReq(http.MethodPatch, "/users/current", `{"password":"longenough"}`, ann))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDeactivationRevokesRefreshTokens(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE users SET is_active = \? WHERE id = \?`).WithArgs(false, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(3, "bob", "", "h", "", "", nil, false, false, now, now))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = UTC_TIMESTAMP\(\) WHERE user_id = \?`).WithArgs(3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := call(t, newUsers(db).Update,
		jsonReq(http.MethodPatch, "/users/3", `{"is_active":false}`, admin).withID("3"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateCurrentValidation(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h", "", "", nil, false, true, now, now))

	rec := call(t, newUsers(db).UpdateCurrent,
		jsonReq(http.MethodPatch, "/users/current", `{"password":"123"}`, ann))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["fields"], "password")
}

// ----- tokens -----

func newAuth(db *sql.DB) *AuthHandler {
	cfg := config.Config{JWTSecret: "test-secret", AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: bcrypt.MinCost}
	return NewAuthHandler(cfg, repository.NewUserRepo(db), repository.NewTokenRepo(db))
}

func formReq(target string, v url.Values) request {
	return request{method: http.MethodPost, target: target, body: strings.NewReader(v.Encode()), ctype: echo.MIMEApplicationForm}
}

func TestTokenPasswordGrant(t *testing.T) {
	hash, err := utils.HashPassword("longenough", bcrypt.MinCost)
	require.NoError(t, err)

	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE username = \?`).WithArgs("ann").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", hash, "", "", nil, true, true, now, now))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	rec := call(t, newAuth(db).Token, formReq("/o/token", url.Values{
		"grant_type": {"password"}, "username": {"ann"}, "password": {"longenough"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Bearer", body["token_type"])
	assert.EqualValues(t, 900, body["expires_in"])
	assert.NotEmpty(t, body["refresh_token"])

	claims, err := utils.ParseAccessToken("test-secret", body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), claims.UserID)
	assert.True(t, claims.IsSuperUser)
}

func TestTokenPasswordGrantUpgradesWeakHash(t *testing.T) {
	hash, err := utils.HashPassword("longenough", bcrypt.MinCost)
	require.NoError(t, err)

	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE username = \?`).WithArgs("ann").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", hash, "", "", nil, false, true, now, now))
	mock.ExpectExec(`UPDATE users SET password_hash = \? WHERE id = \?`).WithArgs(sqlmock.AnyArg(), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := newAuth(db)
	h.Cfg.BcryptCost = bcrypt.MinCost + 1
	rec := call(t, h.Token, formReq("/o/token", url.Values{
		"grant_type": {"password"}, "username": {"ann"}, "password": {"longenough"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenRejectsInactiveUser(t *testing.T) {
	hash, err := utils.HashPassword("longenough", bcrypt.MinCost)
	require.NoError(t, err)

	db, mock := newMock(t)
	mock.ExpectQuery(`FROM users WHERE username = \?`).WithArgs("ann").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", hash, "", "", nil, false, false, now, now))

	rec := call(t, newAuth(db).Token, formReq("/o/token", url.Values{
		"grant_type": {"password"}, "username": {"ann"}, "password": {"longenough"},
	}))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenRefreshRotates(t *testing.T) {
	db, mock := newMock(t)
	oldHash := utils.HashRefreshRaw("old")
	mock.ExpectQuery(`FROM refresh_tokens WHERE token_hash = \?`).WithArgs(oldHash).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow(2, time.Now().Add(time.Hour), nil))
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at = UTC_TIMESTAMP\(\) WHERE token_hash = \?`).WithArgs(oldHash).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM users WHERE id = \?`).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(2, "ann", "", "h", "", "", nil, false, true, now, now))
	mock.ExpectExec(`INSERT INTO refresh_tokens`).WithArgs(2, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))

	rec := call(t, newAuth(db).Token, formReq("/o/token", url.Values{
		"grant_type": {"refresh_token"}, "refresh_token": {"old"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEqual(t, "old", decode(t, rec)["refresh_token"])
}

func TestTokenUnsupportedGrant(t *testing.T) {
	db, _ := newMock(t)
	rec := call(t, newAuth(db).Token, formReq("/o/token", url.Values{"grant_type": {"client_credentials"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeUnknownTokenAcknowledged(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE refresh_tokens SET revoked_at`).WithArgs(utils.HashRefreshRaw("gone")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	rec := call(t, newAuth(db).Revoke, formReq("/o/revoke_token", url.Values{"token": {"gone"}}))
	assert.Equal(t, http.StatusOK, rec.Code)
}
