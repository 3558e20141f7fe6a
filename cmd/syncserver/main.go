package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/padeltrack/syncserver/internal/config"
	"github.com/padeltrack/syncserver/internal/feed"
	"github.com/padeltrack/syncserver/internal/gateway"
	"github.com/padeltrack/syncserver/internal/match"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogger(cfg.LogLevel)

	log.Info().
		Str("port", cfg.Port).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Bool("feed_enabled", cfg.NATSURL != "").
		Msg("starting padel sync server")

	clock := clockwork.NewRealClock()
	store := match.NewStore(clock)
	publisher := setupPublisher(cfg)

	service := gateway.NewService(gatewayConfig(cfg), store, clock, publisher)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	handler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodHead, http.MethodGet, http.MethodPost},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	}).Handler(mux)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     handler,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := service.Start(ctx); err != nil {
			log.Error().Err(err).Msg("sync service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Notify devices and close their connections before refusing new ones.
	service.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("padel sync server shutdown complete")
}

func setupLogger(level string) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

func setupPublisher(cfg config.Config) feed.Publisher {
	if cfg.NATSURL == "" {
		return feed.Noop{}
	}

	jsCfg := feed.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL

	publisher, err := feed.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Error().Err(err).Msg("score feed unavailable, continuing without it")
		return feed.Noop{}
	}
	return publisher
}

func gatewayConfig(cfg config.Config) gateway.Config {
	connCfg := gateway.DefaultConnectionConfig()
	connCfg.ReadTimeout = cfg.ReadTimeout
	connCfg.WriteTimeout = cfg.WriteTimeout
	connCfg.PingInterval = cfg.PingInterval
	connCfg.MaxMessageSize = cfg.MaxMessageSize
	connCfg.ReadBufferSize = cfg.ReadBufferSize
	connCfg.WriteBufferSize = cfg.WriteBufferSize

	return gateway.Config{
		ConnectionConfig:  connCfg,
		HeartbeatInterval: cfg.HeartbeatInterval,
		StatusInterval:    cfg.StatusInterval,
	}
}
