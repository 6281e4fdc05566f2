package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"messenger/internal/api"
	"messenger/internal/auth"
	"messenger/internal/config"
	"messenger/internal/messaging"
	"messenger/internal/metrics"
	"messenger/internal/observer"
	"messenger/internal/realtime"
	"messenger/internal/storage"
)

const (
	connectTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// @title Messenger API
// @version 1.0
// @description Chat backend: message ingest, ordered conversation query and realtime change notifications
// @host localhost:9000
// @BasePath /
// @schemes http

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization
func main() {
	// A missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logs.GetLoggerFromString(cfg.Log.Level)
	metrics.Init()
	log.Info("Configuration loaded", "store", config.MaskURL(cfg.Store.URL), "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message store
	openCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	store, err := storage.Open(openCtx, cfg.Store.URL, log)
	cancel()
	if err != nil {
		return fmt.Errorf("message store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close message store", "error", err)
		}
	}()
	log.Info("Message store connected")

	// Notification bus. Without it the server still accepts and serves
	// messages, clients just stop getting pushed updates.
	var relay http.Handler
	rabbit, err := messaging.NewRabbitClient(cfg.Bus.URL, log)
	if err != nil {
		log.Error("Notification bus unavailable, realtime updates disabled", "error", err)
	} else {
		defer func() { _ = rabbit.Close() }()
		log.Info("RabbitMQ connected")

		obs := observer.New(store, rabbit, cfg.Bus.Channel, cfg.Bus.Event, cfg.Observer.Workers, log)
		if err := obs.Start(ctx); err != nil {
			log.Error("Change observer not started", "error", err)
		} else {
			defer obs.Stop()
		}

		hub := realtime.NewHub(log)
		if err := hub.Attach(rabbit, cfg.Bus.Channel, cfg.Bus.Event); err != nil {
			log.Error("Realtime relay not attached", "error", err)
		} else {
			defer hub.Close()
			relay = hub
		}
	}

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret)
	if !issuer.Enabled() {
		log.Warn("JWT_SECRET not set, realtime tokens are not issued")
	}

	apiHandler := api.NewAPI(store, store, issuer, relay, cfg, log)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutdown initiated...")
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown error", "error", err)
	}

	log.Info("Graceful shutdown complete")
	return nil
}
