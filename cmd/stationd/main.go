package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"station-booking-backend/config"
	"station-booking-backend/internal/api"
	"station-booking-backend/internal/db"
	"station-booking-backend/internal/monitor"
	"station-booking-backend/internal/notification"
	"station-booking-backend/internal/store"
)

func main() {
	logger := log.New(os.Stdout, "stationd ", log.LstdFlags)

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	loc, err := time.LoadLocation(cfg.Monitor.Timezone)
	if err != nil {
		logger.Fatalf("failed to load timezone %q: %v", cfg.Monitor.Timezone, err)
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	// Initialize database
	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Availability store with the bounded optimistic-concurrency retry
	appStore := store.NewGormStore(gormDB, cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoff, loc)
	logger.Println("availability store initialized")

	// Notification worker pool
	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
	workerPool.Start(ctx)

	// Slot monitor: timers for occupied slots, plus the reconciliation sweep
	slotMonitor := monitor.New(appStore, cfg.Monitor.Grace, loc,
		monitor.WithNotifier(workerPool),
		monitor.WithReconcileInterval(cfg.Monitor.ReconcileInterval),
		monitor.WithReservationTTL(cfg.Monitor.ReservationTTL),
	)
	appStore.SetLifecycleHooks(slotMonitor)
	if cfg.Monitor.Enabled {
		go slotMonitor.Run(ctx)
	} else {
		logger.Println("slot monitor reconciliation loop is disabled")
	}

	// Initialize router
	router := api.NewRouter(appStore, &webpushOptions, &cfg.Server, loc)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	slotMonitor.Shutdown()
	logger.Println("Server gracefully stopped")
}
