// Package main is the entry point for the care scheduling server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/care-scheduler/backend/internal/api"
	"github.com/care-scheduler/backend/internal/calendar"
	"github.com/care-scheduler/backend/internal/config"
	"github.com/care-scheduler/backend/internal/logging"
	"github.com/care-scheduler/backend/internal/schedule"
	"github.com/care-scheduler/backend/internal/storage"
	"github.com/care-scheduler/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags override the environment.
	addr := flag.String("addr", cfg.Addr, "HTTP server address")
	dataDir := flag.String("data", cfg.DataDir, "Data directory for SQLite database")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()

	logging.Setup(cfg.LogLevel, cfg.LogConsole)

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(*addr); err != nil {
			log.Fatal().Err(err).Msg("health check failed")
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}
	log.Info().Str("version", version).Msg("starting care scheduler")

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timezone")
	}

	db, err := storage.NewDB(filepath.Join(*dataDir, "care-scheduler.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if err := storage.RunMigrations(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	hub := websocket.NewHub()
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub)

	repo := storage.NewOccurrenceRepository(db)
	manager := schedule.NewManager(db, repo, schedule.Options{
		Location:             loc,
		MaxSeriesOccurrences: cfg.MaxSeriesOccurrences,
		SeriesHorizon:        cfg.SeriesHorizon(),
		Notifier:             broadcaster,
	})
	query := schedule.NewQuery(db, repo, loc)

	sweeper := schedule.NewOverdueSweeper(query, broadcaster, schedule.SweeperOptions{
		Spec:     cfg.OverdueSweep,
		LookBack: cfg.OverdueLookBack,
		OnError: func(err error) {
			broadcaster.BroadcastNotification("error", "Overdue check failed", err.Error())
		},
	})
	if err := sweeper.Start(); err != nil {
		log.Warn().Err(err).Str("spec", cfg.OverdueSweep).Msg("overdue sweep disabled")
	}

	router := api.NewRouter(api.Services{
		DB:             db,
		Hub:            hub,
		Manager:        manager,
		Query:          query,
		Exporter:       calendar.NewExporter(query, nil),
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	server := &http.Server{
		Addr:         *addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", *addr).Str("timezone", loc.String()).Msg("server listening")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	broadcaster.BroadcastNotification("warning", "Server restarting", "Live updates will resume when the scheduler is back.")
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	stop()

	log.Info().Msg("server stopped")
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
