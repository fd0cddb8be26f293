// Package router wires handlers, middleware and access rules onto echo.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/config"
	"github.com/kiennguyen/apptravel/internal/handler"
	"github.com/kiennguyen/apptravel/internal/middleware"
	"github.com/kiennguyen/apptravel/internal/policy"
)

// Handlers groups every HTTP handler the API exposes.
type Handlers struct {
	Auth       *handler.AuthHandler
	Catalog    *handler.CatalogHandler
	Engagement *handler.EngagementHandler
	Booking    *handler.BookingHandler
	User       *handler.UserHandler
	Health     *handler.HealthHandler
}

// Options carries the settings the router needs beyond the handlers.
type Options struct {
	JWTSecret string
	MediaRoot string
	MediaURL  string
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
	Redis     *redis.Client
	Logger    *logrus.Logger
}

// New builds the echo instance with global middleware and all routes.
// Caller resolution runs before the rate limiter so authenticated users
// are limited per user rather than per IP.
func New(h Handlers, opt Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()

	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(opt.Logger))
	e.Use(middleware.JWTAuth(opt.JWTSecret))
	e.Use(middleware.NewTokenBucket(opt.RateLimit, opt.Redis))

	e.GET("/healthz", h.Health.Health)
	if opt.MediaRoot != "" {
		e.Static(opt.MediaURL, opt.MediaRoot)
	}

	cache := middleware.NewResponseCache(opt.Cache, opt.Redis)
	RegisterAuth(e, h.Auth)
	RegisterCatalog(e, h.Catalog, h.Engagement, cache)
	RegisterNews(e, h.Engagement)
	RegisterEngagement(e, h.Engagement)
	RegisterBooking(e, h.Booking, cache)
	RegisterUsers(e, h.User)
	return e
}

// guard prepends the authorization check of op to extra middleware.
func guard(op policy.Operation, extra ...echo.MiddlewareFunc) []echo.MiddlewareFunc {
	return append([]echo.MiddlewareFunc{middleware.Authorize(op)}, extra...)
}

// update registers PUT and PATCH on the same handler.
func update(e *echo.Echo, path string, fn echo.HandlerFunc, op policy.Operation, extra ...echo.MiddlewareFunc) {
	e.Match([]string{http.MethodPut, http.MethodPatch}, path, fn, guard(op, extra...)...)
}

// RegisterAuth mounts the token endpoints.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	g := e.Group("/o")
	g.POST("/token", a.Token)
	g.POST("/revoke_token", a.Revoke)
}

// RegisterCatalog mounts categories, tours and tickets. Reads go through
// the response cache and successful writes invalidate it.
func RegisterCatalog(e *echo.Echo, c *handler.CatalogHandler, eng *handler.EngagementHandler, cache *middleware.ResponseCache) {
	read, inval := cache.Read(), cache.Invalidate()

	// ---- Categories ----
	e.GET("/categories", c.ListCategories, guard(policy.CategoryList, read)...)
	e.POST("/categories", c.CreateCategory, guard(policy.CategoryCreate, inval)...)
	update(e, "/categories/:id", c.UpdateCategory, policy.CategoryUpdate, inval)
	e.DELETE("/categories/:id", c.DeleteCategory, guard(policy.CategoryDelete, inval)...)
	e.GET("/categories/:id/tours", c.CategoryTours, guard(policy.CategoryTours, read)...)

	// ---- Tours ----
	e.GET("/tours", c.ListTours, guard(policy.TourList, read)...)
	e.GET("/tours/:id", c.GetTour, guard(policy.TourRetrieve, read)...)
	e.POST("/tours", c.CreateTour, guard(policy.TourCreate, inval)...)
	update(e, "/tours/:id", c.UpdateTour, policy.TourUpdate, inval)
	e.DELETE("/tours/:id", c.DeleteTour, guard(policy.TourDelete, inval)...)
	e.GET("/tours/:id/tickets", c.TourTickets, guard(policy.TourTickets, read)...)
	e.POST("/tours/:id/comment", eng.AddTourComment, guard(policy.TourAddComment)...)
	e.GET("/tours/:id/comments", eng.TourComments, guard(policy.TourComments)...)
	e.POST("/tours/:id/rating", eng.AddTourRating, guard(policy.TourAddRating)...)
	e.GET("/tours/:id/rating", eng.TourRating, guard(policy.TourRating)...)

	// ---- Tickets ----
	e.GET("/tickets", c.ListTickets, guard(policy.TicketList, read)...)
	e.GET("/tickets/:id", c.GetTicket, guard(policy.TicketRetrieve, read)...)
	e.POST("/tickets", c.CreateTicket, guard(policy.TicketCreate, inval)...)
	update(e, "/tickets/:id", c.UpdateTicket, policy.TicketUpdate, inval)
	e.DELETE("/tickets/:id", c.DeleteTicket, guard(policy.TicketDelete, inval)...)
}

// RegisterNews mounts news and its comment and like sub-resources. News
// reads are not cached because they carry the viewer's liked flag.
func RegisterNews(e *echo.Echo, n *handler.EngagementHandler) {
	e.GET("/news", n.ListNews, guard(policy.NewsList)...)
	e.GET("/news/:id", n.GetNews, guard(policy.NewsRetrieve)...)
	e.POST("/news", n.CreateNews, guard(policy.NewsCreate)...)
	update(e, "/news/:id", n.UpdateNews, policy.NewsUpdate)
	e.DELETE("/news/:id", n.DeleteNews, guard(policy.NewsDelete)...)
	e.POST("/news/:id/comment", n.AddNewsComment, guard(policy.NewsAddComment)...)
	e.GET("/news/:id/comments", n.NewsComments, guard(policy.NewsComments)...)
	e.POST("/news/:id/like", n.LikeNews, guard(policy.NewsLike)...)
}

// RegisterEngagement mounts comment and rating mutation.
func RegisterEngagement(e *echo.Echo, h *handler.EngagementHandler) {
	update(e, "/comments/:id", h.UpdateComment, policy.CommentUpdate)
	e.DELETE("/comments/:id", h.DeleteComment, guard(policy.CommentDelete)...)
	update(e, "/rating/:id", h.UpdateRating, policy.RatingUpdate)
	e.DELETE("/rating/:id", h.DeleteRating, guard(policy.RatingDelete)...)
}

// RegisterBooking mounts booking creation, visibility and payment. A paid
// booking lowers tour inventory, so payment invalidates the catalog cache.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, cache *middleware.ResponseCache) {
	e.POST("/tickets/:id/booking", b.Book, guard(policy.TicketBook)...)
	e.GET("/booking", b.List, guard(policy.BookingList)...)
	e.GET("/booking/:id", b.Get, guard(policy.BookingRetrieve)...)
	update(e, "/booking/:id", b.Update, policy.BookingUpdate)
	e.DELETE("/booking/:id", b.Delete, guard(policy.BookingDelete)...)
	e.POST("/booking/:id/payment", b.Pay, guard(policy.BookingPay, cache.Invalidate())...)
}

// RegisterUsers mounts sign-up, administration and the current user.
func RegisterUsers(e *echo.Echo, u *handler.UserHandler) {
	e.POST("/users", u.Create, guard(policy.UserCreate)...)
	e.GET("/users/current", u.Current, guard(policy.UserCurrent)...)
	e.PATCH("/users/current", u.UpdateCurrent, guard(policy.UserCurrentUpdate)...)
	e.GET("/users/current/booking", u.CurrentBookings, guard(policy.UserCurrentBookings)...)
	update(e, "/users/:id", u.Update, policy.UserUpdate)
	e.DELETE("/users/:id", u.Delete, guard(policy.UserDelete)...)
}
