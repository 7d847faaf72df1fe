// cmd/crawler is the crawler's process entry point: it wires config,
// logging, the database, the telegram manager, the engine and the HTTP
// control surface, then blocks for a shutdown signal. Grounded on
// cmd/collector/main.go's startup/shutdown sequencing.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tgmedia/crawler/internal/config"
	"github.com/tgmedia/crawler/internal/control"
	"github.com/tgmedia/crawler/internal/database"
	"github.com/tgmedia/crawler/internal/engine"
	"github.com/tgmedia/crawler/internal/logger"
	"github.com/tgmedia/crawler/internal/migrator"
	"github.com/tgmedia/crawler/internal/model"
	"github.com/tgmedia/crawler/internal/nats"
	"github.com/tgmedia/crawler/internal/progress"
	"github.com/tgmedia/crawler/internal/publisher"
	"github.com/tgmedia/crawler/internal/repository"
	"github.com/tgmedia/crawler/internal/telegram"
	"github.com/tgmedia/crawler/migrations"
)

func main() {
	// .env is optional; real deployments set these vars directly.
	_ = godotenv.Load()

	// 1. load config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// 2. initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		panic("failed to init logger: " + err.Error())
	}
	log := logger.Get()
	log.Info().Msg("starting crawler")

	// 3. setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. connect to database and run migrations
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	mig, err := migrator.NewWithFS(migrations.FS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build migrator")
	}
	if err := mig.Up(ctx, cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	checkpointRepo := repository.NewChannelStateRepository(db.Pool)

	// 5. connect to NATS (optional progress fan-out)
	var extraSink func(model.Progress)
	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, progress fan-out via nats disabled")
		} else {
			defer nc.Close()
			if err := nc.EnsureStream(ctx, "PROGRESS", []string{"progress.*"}); err != nil {
				log.Warn().Err(err).Msg("failed to ensure nats progress stream, events will not be persisted")
			}
			pub := publisher.NewNATSPublisher(nc.Conn)
			extraSink = publisher.Adapter(ctx, pub)
		}
	}

	// 6. initialize telegram manager and RPC facade
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		log.Fatal().Msg("TG_API_ID and TG_API_HASH are required")
	}
	tgManager := telegram.NewManager(cfg, db.GORM)
	if err := tgManager.Init(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	facade := telegram.NewFacade(tgManager, cfg)

	// 7. progress hub
	hub := progress.NewHub()
	go hub.Run()

	// 8. build the engine
	eng, err := engine.New(ctx, cfg, engine.Deps{
		Checkpoint: checkpointRepo,
		Facade:     facade,
		Hub:        hub,
		ExtraSink:  extraSink,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build engine")
	}
	eng.Run(ctx)

	// 9. HTTP control surface
	handler := control.NewHandler(eng, hub)
	router := control.NewRouter(handler)

	srv := &http.Server{
		Addr:              addrFor(cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting control server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("control server error")
		}
	}()

	// 10. wait for shutdown
	<-ctx.Done()
	log.Info().Msg("shutting down...")

	eng.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	log.Info().Msg("shutdown complete")
}

func addrFor(port int) string {
	return ":" + strconv.Itoa(port)
}
