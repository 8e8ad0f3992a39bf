package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/cerrano/cms-backend/internal/config"
	"github.com/cerrano/cms-backend/internal/database"
	"github.com/cerrano/cms-backend/internal/handler"
	"github.com/cerrano/cms-backend/internal/middleware"
	"github.com/cerrano/cms-backend/internal/queue"
	"github.com/cerrano/cms-backend/internal/repository"
	"github.com/cerrano/cms-backend/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set env vars directly

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	users := &repository.UserRepo{DB: db}
	sessions := &repository.SessionRepo{DB: db}

	rdb := config.NewRedisClient()
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	// The consumer stands in for the email/SMS gateway; it reconnects
	// on its own and never takes the server down.
	go func() {
		if err := queue.StartNotificationConsumer(); err != nil {
			log.Printf("notification consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true

	deps := router.Deps{
		Auth:         handler.NewAuthHandler(cfg, users, sessions),
		Users:        handler.NewUserHandler(cfg, users, sessions),
		Admin:        handler.NewAdminHandler(users, sessions),
		UserStore:    users,
		SessionStore: sessions,
		AccessSecret: cfg.JWTSecret,
		RateLimit:    limiter,
	}

	router.RegisterRoutes(e)
	router.RegisterAuth(e, deps)
	router.RegisterUsers(e, deps)
	router.RegisterAdmin(e, deps)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
