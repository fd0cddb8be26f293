package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kiennguyen/apptravel/internal/config"
	"github.com/kiennguyen/apptravel/internal/database"
	"github.com/kiennguyen/apptravel/internal/handler"
	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/queue"
	"github.com/kiennguyen/apptravel/internal/repository"
	"github.com/kiennguyen/apptravel/internal/router"
	"github.com/kiennguyen/apptravel/internal/service"
)

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.StandardLogger()
	if cfg.Env == "prod" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func main() {
	cfg := config.Load()
	log := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DB)
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
		log.Info("schema applied")
	}

	rdb := config.NewRedisClient(ctx, cfg.Redis, log)
	if rdb != nil {
		defer rdb.Close()
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Queue.Enabled {
		events = service.NewAMQPPublisher(cfg.Queue.URL)
	}

	if cfg.Queue.ConsumerEnabled {
		sink, err := queue.OpenPaymentLog(cfg.Queue.LogDir)
		if err != nil {
			log.WithError(err).Fatal("payment log unavailable")
		}
		defer sink.Close()
		go func() {
			if err := queue.StartPaymentConsumer(ctx, cfg.Queue.URL, sink); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("payment consumer stopped")
			}
		}()
	}

	e := buildServer(cfg, db, rdb, events, log)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
	log.Info("stopped")
}

// buildServer wires repositories, services and handlers into the router.
func buildServer(cfg config.Config, db *sql.DB, rdb *redis.Client, events service.EventPublisher, log *logrus.Logger) *echo.Echo {
	// Repositories
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	categories := repository.NewCategoryRepo(db)
	tours := repository.NewTourRepo(db)
	tickets := repository.NewTicketRepo(db)
	bookings := repository.NewBookingRepo(db)
	payments := repository.NewPaymentRepo(db)
	news := repository.NewNewsRepo(db)
	comments := repository.NewCommentRepo(db)
	likes := repository.NewLikeRepo(db)
	ratings := repository.NewRatingRepo(db)

	store := media.NewLocalStore(cfg.Media.Root, cfg.Media.BaseURL, cfg.Media.MaxWidth)

	bookingSvc := service.NewBookingService(db, tickets, bookings, payments, tours, events)
	engagementSvc := service.NewEngagementService(comments, likes, ratings, tours, news)

	return router.New(router.Handlers{
		Auth:       handler.NewAuthHandler(cfg, users, tokens),
		Catalog:    handler.NewCatalogHandler(categories, tours, tickets, store, cfg.TourPageSize),
		Engagement: handler.NewEngagementHandler(news, engagementSvc, store),
		Booking:    handler.NewBookingHandler(bookingSvc),
		User:       handler.NewUserHandler(users, tokens, bookingSvc, store, cfg.BcryptCost),
		Health:     handler.NewHealthHandler(db, rdb),
	}, router.Options{
		JWTSecret: cfg.JWTSecret,
		MediaRoot: store.Root(),
		MediaURL:  cfg.Media.BaseURL,
		Cache:     cfg.Cache,
		RateLimit: cfg.RateLimit,
		Redis:     rdb,
		Logger:    log,
	})
}
