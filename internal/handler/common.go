package handler

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/middleware"
	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/service"
)

// requestTimeout bounds the database work of a single request.
const requestTimeout = 5 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// caller returns the identity resolved by the JWT middleware.
func caller(c echo.Context) policy.Caller { return middleware.CallerFrom(c) }

// pathID parses the ":id" route parameter.
func pathID(c echo.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	return id, err == nil && id != 0
}

func invalidID(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid id"})
}

// notFoundErrors are the repository sentinels that map to 404.
var notFoundErrors = []error{
	repository.ErrUserNotFound,
	repository.ErrCategoryNotFound,
	repository.ErrTourNotFound,
	repository.ErrTicketNotFound,
	repository.ErrBookingNotFound,
	repository.ErrNewsNotFound,
	repository.ErrCommentNotFound,
	repository.ErrRatingNotFound,
}

// respondError translates domain and repository errors into the JSON
// error envelope. Anything unrecognized is logged and reported as 500
// without leaking details.
func respondError(c echo.Context, err error) error {
	for _, nf := range notFoundErrors {
		if errors.Is(err, nf) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": nf.Error()})
		}
	}
	switch {
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrRatingNotAllowed):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrAlreadyPaid):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrUsernameExists):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "already exists"})
	case errors.Is(err, service.ErrInsufficientInventory),
		errors.Is(err, service.ErrInvalidQuantity),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, media.ErrUnsupportedImage),
		errors.Is(err, media.ErrTooLarge):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "request timed out"})
	}
	logrus.WithError(err).WithFields(logrus.Fields{
		"method": c.Request().Method,
		"path":   c.Request().URL.Path,
	}).Error("unhandled error")
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func isMultipart(c echo.Context) bool {
	return strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm)
}

// formFields gives typed, optional access to multipart values. A key
// that is absent yields nil so partial updates leave the column alone.
type formFields struct {
	form *multipart.Form
	errs map[string]string
}

func newFormFields(c echo.Context) (*formFields, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	return &formFields{form: form, errs: map[string]string{}}, nil
}

func (f *formFields) str(key string) *string {
	vs, ok := f.form.Value[key]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}

func (f *formFields) uint64(key string) *uint64 {
	s := f.str(key)
	if s == nil {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(*s), 10, 64)
	if err != nil {
		f.errs[key] = "must be a non-negative integer"
		return nil
	}
	return &n
}

func (f *formFields) uint32(key string) *uint32 {
	s := f.str(key)
	if s == nil {
		return nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(*s), 10, 32)
	if err != nil {
		f.errs[key] = "must be a non-negative integer"
		return nil
	}
	v := uint32(n)
	return &v
}

func (f *formFields) bool(key string) *bool {
	s := f.str(key)
	if s == nil {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(*s))
	if err != nil {
		f.errs[key] = "must be a boolean"
		return nil
	}
	return &b
}

// list accepts repeated keys as well as one comma separated value.
func (f *formFields) list(key string) *[]string {
	vs, ok := f.form.Value[key]
	if !ok {
		return nil
	}
	out := []string{}
	for _, v := range vs {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return &out
}

func (f *formFields) file(key string) *multipart.FileHeader {
	fhs := f.form.File[key]
	if len(fhs) == 0 {
		return nil
	}
	return fhs[0]
}

// saveUpload stores an uploaded image and returns its public URL.
func saveUpload(ctx context.Context, store media.Store, dir string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()
	return store.Save(ctx, dir, fh.Filename, src)
}

// dropUpload removes an upload whose record was never written.
func dropUpload(store media.Store, url *string) {
	if url == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	if err := store.Remove(ctx, *url); err != nil {
		logrus.WithError(err).WithField("url", *url).Warn("media: remove unused upload failed")
	}
}
