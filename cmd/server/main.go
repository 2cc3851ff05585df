package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"

	"datadesk/internal/config"
	"datadesk/internal/db"
	"datadesk/internal/email"
	"datadesk/internal/jobs"
	"datadesk/internal/metrics"
	"datadesk/internal/server"
	"datadesk/internal/service"
)

func main() {
	ctx := context.Background()
	cfg := config.Load()

	// Optional YAML config: department directory, reminder defaults, seed data
	yamlCfg, err := config.LoadYAMLConfig()
	if err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}
	if yamlCfg != nil {
		log.Printf("Loaded config file with %d departments and %d seed requests", len(yamlCfg.Departments), len(yamlCfg.Seed))
	}

	// Initialize store
	store, err := db.Open(ctx, cfg, service.SeedRequests(yamlCfg, time.Now().UTC()))
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.StoreBackend, err)
	}
	defer store.Close()
	log.Printf("Using %s store", cfg.StoreBackend)

	// Rate limiter storage shares Redis when it is configured
	var limiterStorage fiber.Storage
	if rs, ok := store.(*db.RedisStore); ok {
		limiterStorage = rs.Storage()
	} else if cfg.RedisURL != "" {
		storage, err := db.OpenRedisStorage(cfg.RedisURL)
		if err != nil {
			log.Printf("Warning: rate limiter falls back to memory: %v", err)
		} else {
			defer storage.Close()
			limiterStorage = storage
		}
	}

	metrics.Init(store)

	// Notifications
	emailService := email.NewService(cfg)
	dispatcher := email.NewDispatcher(emailService, email.DispatcherOptions{
		Workers:     cfg.EmailWorkers,
		QueueSize:   cfg.EmailQueueSize,
		Timeout:     cfg.EmailSendTimeout,
		MaxAttempts: cfg.EmailMaxAttempts,
		Backoff:     cfg.EmailRetryBackoff,
		OnResult: func(msg email.Message, result email.Result) {
			metrics.RecordNotification(msg.Kind, result.Delivered, result.Reason)
		},
	})

	svc := service.New(store, dispatcher, email.NewTemplates(cfg), yamlCfg)

	// Background reminders
	jobCtx, cancelJobs := context.WithCancel(ctx)
	defer cancelJobs()
	if cfg.ReminderInterval > 0 {
		go jobs.NewReminders(svc, cfg.ReminderInterval).Start(jobCtx)
	} else {
		log.Println("Reminder job disabled (REMINDER_INTERVAL=0)")
	}

	srv := server.New(cfg, limiterStorage)
	srv.RegisterRoutes(svc, store)

	// Graceful shutdown
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancelJobs()
	if err := srv.Shutdown(); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	dispatcher.Close(drainCtx)
	log.Println("Server exited")
}
