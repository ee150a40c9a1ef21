package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/config"
	"github.com/taskpilot/taskpilot/internal/database"
	"github.com/taskpilot/taskpilot/internal/handler"
	"github.com/taskpilot/taskpilot/internal/mailer"
	"github.com/taskpilot/taskpilot/internal/queue"
	"github.com/taskpilot/taskpilot/internal/repository"
	"github.com/taskpilot/taskpilot/internal/router"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments set the environment
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.RunMigrations(context.Background(), db); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting disabled")
	}

	codec := auth.NewCodec(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL, cfg.RefreshTTL)
	users := repository.NewUserRepo(db)
	tasks := repository.NewTaskRepo(db)

	authHandler := handler.NewAuthHandler(cfg, codec, users, queue.PublishEmailRequested)
	acctHandler := handler.NewAccountHandler(cfg, users)
	taskHandler := handler.NewTaskHandler(tasks)

	sender := &mailer.Sender{
		Host: cfg.SMTPHost, Port: cfg.SMTPPort,
		User: cfg.SMTPUser, Pass: cfg.SMTPPass,
		From: cfg.MailFrom,
	}
	go func() {
		if err := queue.StartEmailConsumer(sender, cfg.Domain); err != nil {
			log.Printf("email consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, codec, rdb, authHandler, acctHandler, taskHandler)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
