package handler

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness for load balancers. The database is
// required; redis only degrades caching and rate limiting when down.
type HealthHandler struct {
	DB    *sql.DB
	Redis *redis.Client
}

func NewHealthHandler(db *sql.DB, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{DB: db, Redis: rdb}
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	status := echo.Map{"database": "ok"}
	if err := h.DB.PingContext(ctx); err != nil {
		status["database"] = "down"
		return c.JSON(http.StatusServiceUnavailable, status)
	}
	if h.Redis != nil {
		status["redis"] = "ok"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
		}
	}
	return c.JSON(http.StatusOK, status)
}
