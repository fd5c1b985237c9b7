package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"decidehub/internal/app"
	"decidehub/internal/config"
	"decidehub/internal/email"
	"decidehub/internal/notify"
	"decidehub/internal/quality"
	"decidehub/internal/search"
	"decidehub/internal/session"
	"decidehub/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pglike := search.NewPgLike(db)
	var meili *search.Meili
	if cfg.MeiliURL != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pglike)
	searchService.ReindexAllFromPG(ctx)

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	var mailer notify.Mailer
	if emailService.IsConfigured() {
		mailer = emailService
		log.Printf("email copies enabled via %s", cfg.SMTPHost)
	}
	dispatcher := notify.NewDispatcher(dataStore, mailer)

	var service *app.Service
	if cfg.RedisURL != "" {
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer redisStore.Close()
		log.Printf("refresh sessions stored in redis")
		service = app.NewWithSessionStore(cfg, dataStore, redisStore, searchService, dispatcher)
	} else {
		service = app.New(cfg, dataStore, searchService, dispatcher)
	}

	if cfg.EnrichURL != "" {
		service.SetEnricher(quality.NewEnricher(cfg.EnrichURL, cfg.EnrichAPIKey, cfg.EnrichModel, cfg.EnrichTimeout))
		log.Printf("quality enrichment enabled via %s", cfg.EnrichURL)
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			if err := service.SweepDeadlines(sweepCtx, 24*time.Hour); err != nil {
				log.Printf("deadline sweep: %v", err)
			}
			select {
			case <-ticker.C:
			case <-sweepCtx.Done():
				return
			}
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
