package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiennguyen/apptravel/internal/model"
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

var (
	dupErr     = &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	missingRef = &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}
	now        = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
)

func TestLikePatternEscapesWildcards(t *testing.T) {
	assert.Equal(t, "%beach%", likePattern("Beach"))
	assert.Equal(t, `%50\%\_off%`, likePattern("50%_OFF"))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestIsDuplicate(t *testing.T) {
	assert.True(t, IsDuplicate(dupErr))
	assert.False(t, IsDuplicate(missingRef))
	assert.False(t, IsDuplicate(errors.New("other")))
}

func TestCategoryCreateConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(qCategoryInsert)).WithArgs("Beach").WillReturnError(dupErr)

	_, err := NewCategoryRepo(db).Create(context.Background(), "  Beach ")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCategoryDeleteMissing(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(qCategoryDelete)).WithArgs(9).WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewCategoryRepo(db).Delete(context.Background(), 9)
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

var tourCols = []string{"id", "category_id", "category_name", "name", "description", "image", "remaining_quantity", "active", "created_at", "updated_at"}

func TestTourSearchFiltersAndPaginates(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM tours t JOIN categories c ON c.id = t.category_id WHERE \(LOWER\(t.name\) LIKE \? OR LOWER\(c.name\) LIKE \? OR EXISTS .* AND t.category_id IN \(\?, \?\)`).
		WithArgs("%sea%", "%sea%", "%sea%", 1, 2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`SELECT t.id, .* ORDER BY t.id ASC LIMIT \? OFFSET \?`).
		WithArgs("%sea%", "%sea%", "%sea%", 1, 2, 20, 20).
		WillReturnRows(sqlmock.NewRows(tourCols).
			AddRow(21, 2, "Beach", "Seaside", "sun", nil, 10, true, now, now))
	mock.ExpectQuery(`SELECT tt.tour_id, g.name FROM tour_tags tt JOIN tags g ON g.id = tt.tag_id WHERE tt.tour_id IN \(\?\)`).
		WithArgs(21).
		WillReturnRows(sqlmock.NewRows([]string{"tour_id", "name"}).AddRow(21, "family").AddRow(21, "sea"))

	tours, total, err := NewTourRepo(db).Search(context.Background(), TourSearchQuery{
		Q: "Sea", CategoryIDs: []uint64{1, 2}, Page: 2, PageSize: 20,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(21), total)
	require.Len(t, tours, 1)
	assert.Equal(t, "Beach", tours[0].CategoryName)
	assert.Equal(t, []string{"family", "sea"}, tours[0].Tags)
	assert.Nil(t, tours[0].Image)
}

func TestTourSearchWithoutFilters(t *testing.T) {
	db, mock := newMock(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) .* WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`LIMIT \? OFFSET \?`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows(tourCols))

	tours, total, err := NewTourRepo(db).Search(context.Background(), TourSearchQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, tours)
}

func TestTourDecrementRemainingGuard(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qTourDecrement)).WithArgs(3, 5, 3).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = NewTourRepo(db).DecrementRemainingTx(context.Background(), tx, 5, 3)
	assert.ErrorIs(t, err, ErrInsufficientQuantity)
	require.NoError(t, tx.Rollback())
}

func TestTourCreateWithTags(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qTourInsert)).
		WithArgs(1, "Alps", "snow", nil, 30, true).
		WillReturnResult(sqlmock.NewResult(4, 1))
	mock.ExpectExec(regexp.QuoteMeta(qTagUpsert)).WithArgs("ski").WillReturnResult(sqlmock.NewResult(8, 1))
	mock.ExpectExec(regexp.QuoteMeta(qTourTagLink)).WithArgs(4, 8).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectQuery(regexp.QuoteMeta(qTourByID)).WithArgs(4).
		WillReturnRows(sqlmock.NewRows(tourCols).AddRow(4, 1, "Mountain", "Alps", "snow", nil, 30, true, now, now))
	mock.ExpectQuery(`FROM tour_tags tt`).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"tour_id", "name"}).AddRow(4, "ski"))

	cat, name, desc, qty := uint64(1), "Alps", "snow", uint32(30)
	tour, err := NewTourRepo(db).Create(context.Background(), TourInput{
		CategoryID: &cat, Name: &name, Description: &desc, RemainingQuantity: &qty,
		Tags: []string{" Ski", "ski", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tour.ID)
	assert.Equal(t, []string{"ski"}, tour.Tags)
}

func TestTourCreateUnknownCategory(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qTourInsert)).WillReturnError(missingRef)
	mock.ExpectRollback()

	cat := uint64(77)
	_, err := NewTourRepo(db).Create(context.Background(), TourInput{CategoryID: &cat})
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

var bookingCols = []string{"id", "user_id", "ticket_id", "tour_id", "adult_quantity", "child_quantity", "total_price", "active", "paid", "created_at", "updated_at"}

func TestBookingGetForUserForUpdateTxHidesOtherOwners(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(qBookingLockForUser)).WithArgs(10, 2).WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	_, err = NewBookingRepo(db).GetForUserForUpdateTx(context.Background(), tx, 10, 2)
	assert.ErrorIs(t, err, ErrBookingNotFound)
	require.NoError(t, tx.Rollback())
}

func TestBookingListActiveByUser(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qBookingActiveByUser)).WithArgs(2).
		WillReturnRows(sqlmock.NewRows(bookingCols).
			AddRow(1, 2, 3, 4, 2, 2, "350.0000", true, true, now, now))

	list, err := NewBookingRepo(db).ListActiveByUser(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Paid)
	assert.Equal(t, uint64(4), list[0].TourID)
	assert.Equal(t, "350", list[0].TotalPrice.String())
}

func TestPaymentCreateTxDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qPaymentInsert)).WithArgs(1, "card", true).WillReturnError(dupErr)
	mock.ExpectRollback()

	tx, err := db.Begin()
	require.NoError(t, err)
	err = NewPaymentRepo(db).CreateTx(context.Background(), tx, &model.Payment{BookingID: 1, PaymentMethodID: "card", PaymentStatus: true})
	assert.ErrorIs(t, err, ErrPaymentExists)
	require.NoError(t, tx.Rollback())
}

var newsCols = []string{"id", "title", "content", "image", "active", "like_count", "liked", "created_at", "updated_at"}

func TestLikeToggleReturnsState(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qLikeToggle)).WithArgs(2, 5).WillReturnResult(sqlmock.NewResult(1, 2))
	mock.ExpectQuery(regexp.QuoteMeta(qLikeState)).WithArgs(2, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "liked"}).AddRow(1, false))
	mock.ExpectQuery(regexp.QuoteMeta(qNewsByID)).WithArgs(2, 5).
		WillReturnRows(sqlmock.NewRows(newsCols).AddRow(5, "t", "c", nil, true, 0, false, now, now))
	mock.ExpectCommit()

	like, news, err := NewLikeRepo(db).Toggle(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.False(t, like.Liked)
	assert.Equal(t, int64(0), news.LikeCount)
	assert.False(t, news.Liked)
}

func TestLikeToggleTwiceRestoresState(t *testing.T) {
	db, mock := newMock(t)
	expect := func(affected int64, liked bool, count int) {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta(qLikeToggle)).WithArgs(2, 5).WillReturnResult(sqlmock.NewResult(7, affected))
		mock.ExpectQuery(regexp.QuoteMeta(qLikeState)).WithArgs(2, 5).
			WillReturnRows(sqlmock.NewRows([]string{"id", "liked"}).AddRow(7, liked))
		mock.ExpectQuery(regexp.QuoteMeta(qNewsByID)).WithArgs(2, 5).
			WillReturnRows(sqlmock.NewRows(newsCols).AddRow(5, "t", "c", nil, true, count, liked, now, now))
		mock.ExpectCommit()
	}
	// MySQL reports 1 affected row for an insert and 2 for the duplicate-key update.
	expect(1, true, 1)
	expect(2, false, 0)

	repo := NewLikeRepo(db)
	first, news, err := repo.Toggle(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.True(t, first.Liked)
	assert.Equal(t, int64(1), news.LikeCount)

	second, news, err := repo.Toggle(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.False(t, second.Liked)
	assert.Equal(t, int64(0), news.LikeCount)
	assert.Equal(t, first.ID, second.ID, "the same row is flipped")
}

func TestLikeToggleUnknownNews(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(qLikeToggle)).WithArgs(2, 99).WillReturnError(missingRef)
	mock.ExpectRollback()

	_, _, err := NewLikeRepo(db).Toggle(context.Background(), 2, 99)
	assert.ErrorIs(t, err, ErrNewsNotFound)
}

var commentCols = []string{"id", "user_id", "username", "tour_id", "news_id", "content", "active", "created_at", "updated_at"}

func TestCommentCreateOnNews(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(qCommentInsert)).WithArgs(2, nil, 5, "nice").WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectQuery(regexp.QuoteMeta(qCommentByID)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(7, 2, "ann", nil, 5, "nice", true, now, now))

	c, err := NewCommentRepo(db).Create(context.Background(), 2, model.NewsTarget(5), "nice")
	require.NoError(t, err)
	id, ok := c.Target.News()
	assert.True(t, ok)
	assert.Equal(t, uint64(5), id)
	assert.Equal(t, "ann", c.Username)
}

func TestCommentRejectsRowWithTwoTargets(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qCommentByID)).WithArgs(7).
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(7, 2, "ann", 1, 5, "x", true, now, now))

	_, err := NewCommentRepo(db).GetByID(context.Background(), 7)
	assert.ErrorIs(t, err, errCorruptTarget)
}

func TestCommentListActiveByTour(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qCommentActiveByTour)).WithArgs(3).
		WillReturnRows(sqlmock.NewRows(commentCols).AddRow(1, 2, "ann", 3, nil, "great", true, now, now))

	list, err := NewCommentRepo(db).ListActive(context.Background(), model.TourTarget(3))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.TargetTour, list[0].Target.Kind())
}

func TestRatingAverage(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qRatingAverage)).WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta(qRatingAverage)).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"avg"}).AddRow("4.5000"))

	repo := NewRatingRepo(db)
	avg, err := repo.Average(context.Background(), 3)
	require.NoError(t, err)
	assert.Nil(t, avg)

	avg, err = repo.Average(context.Background(), 4)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 4.5, *avg, 1e-9)
}

func TestRatingHasPaidBooking(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qRatingHasPaidBooking)).WithArgs(2, 3).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))

	ok, err := NewRatingRepo(db).HasPaidBooking(context.Background(), 2, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUserCreateDuplicate(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta(qUserInsert)).WillReturnError(dupErr)

	err := NewUserRepo(db).Create(context.Background(), &model.User{Username: "ann", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestTokenValidateRejectsRevokedAndExpired(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(qTokenLookup)).WithArgs("h1").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow(1, time.Now().Add(time.Hour), now))
	mock.ExpectQuery(regexp.QuoteMeta(qTokenLookup)).WithArgs("h2").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow(1, time.Now().Add(-time.Hour), nil))
	mock.ExpectQuery(regexp.QuoteMeta(qTokenLookup)).WithArgs("h3").
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "expires_at", "revoked_at"}).AddRow(6, time.Now().Add(time.Hour), nil))

	repo := NewTokenRepo(db)
	_, err := repo.Validate(context.Background(), "h1")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = repo.Validate(context.Background(), "h2")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	uid, err := repo.Validate(context.Background(), "h3")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), uid)
}
