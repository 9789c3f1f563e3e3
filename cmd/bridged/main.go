package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"transcode-bridge/internal/bootstrap"
	"transcode-bridge/internal/config"
	"transcode-bridge/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("BRIDGE_CONFIG"), "path to YAML options file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	opts, err := config.LoadOptions(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load options")
	}
	if *addr != "" {
		opts.Server.Addr = *addr
	}
	bootstrap.SetupLogging(opts, "bridged")

	app, err := bootstrap.NewWithOptions(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap bridge")
	}

	srv := &http.Server{
		Addr:              opts.Server.Addr,
		Handler:           server.New(app, app.Jobs.Bus(), app.Metrics.Handler()).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", opts.Server.Addr).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
		_ = srv.Close()
	}
	if err := app.Close(); err != nil {
		log.Error().Err(err).Msg("close bridge")
	}
	log.Info().Msg("server stopped")
}
