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

	"agora.org/internal/cli"
	"agora.org/internal/config"
	"agora.org/internal/httpapi"
	"agora.org/internal/obs"
	"agora.org/internal/ranked"
	"agora.org/internal/store/mem"
	"agora.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := flag.String("config", os.Getenv("AGORA_CONFIG"), "path to config.toml")
	seedPath := flag.String("seed", "", "YAML seed file for the memory store")
	flag.Parse()

	log := obs.Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if err := obs.SetLevel(cfg.LogLevel); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("log level")
	}
	log = obs.Logger()

	obs.Init()
	obs.InitBuildInfo(version, commit)

	var (
		store ranked.Store
		probe httpapi.ReadyProbe
	)
	switch cfg.Store {
	case config.StorePostgres:
		pgStore, err := pg.Open(cfg.PGDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open db")
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	default:
		memStore := mem.New()
		if *seedPath != "" {
			seed, err := cli.LoadSeed(*seedPath)
			if err != nil {
				log.Fatal().Err(err).Msg("load seed")
			}
			if err := seed.Apply(memStore); err != nil {
				log.Fatal().Err(err).Msg("apply seed")
			}
		}
		store = memStore
	}

	svc, err := ranked.NewService(store)
	if err != nil {
		log.Fatal().Err(err).Msg("ranked service")
	}

	api := httpapi.New(probe, version, svc,
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSecond),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info().Str("version", version).Str("addr", srv.Addr).Str("store", cfg.Store).Msg("starting agora-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("stopped")
}
