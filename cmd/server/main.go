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
	"github.com/rs/zerolog"

	"loom/internal/config"
	"loom/internal/engine"
	"loom/internal/httpapi"
	"loom/internal/persistence"
	"loom/internal/sink"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil {
		log.Info().Msg(".env not loaded, continuing with process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx := context.Background()
	gateway, err := persistence.NewRedisGateway(ctx, cfg.Redis.Addr(), cfg.Redis.Database, cfg.Redis.Password)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer func() {
		log.Info().Msg("closing redis connection")
		gateway.Close()
	}()
	log.Info().Str("addr", cfg.Redis.Addr()).Msg("redis connection established")

	var cs sink.ConsumerSink
	switch cfg.Consumer {
	case config.ConsumerConsole:
		cs = sink.NewConsoleSink(log)
	default:
		cs = sink.NewPersistenceSink(gateway, log)
	}

	eng := engine.New(gateway, cs, log)
	for _, symbol := range cfg.Market.Symbols {
		log.Info().Str("symbol", symbol).Msg("loading open orders and launching trader")
		if err := eng.NewTrader(ctx, symbol); err != nil {
			log.Fatal().Err(err).Str("symbol", symbol).Msg("failed to launch trader")
		}
	}
	defer func() {
		log.Info().Msg("shutting down matching engine...")
		if err := eng.Shutdown(); err != nil {
			log.Error().Err(err).Msg("engine shutdown returned an error")
		}
	}()

	api := httpapi.New(eng, log)
	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Server.Port),
		Handler: api,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-stop
	log.Info().Msg("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	} else {
		log.Info().Msg("http server gracefully stopped")
	}
}
