package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quantrail/twapbook/internal/aggregator"
	"github.com/quantrail/twapbook/internal/auth"
	"github.com/quantrail/twapbook/internal/cache"
	"github.com/quantrail/twapbook/internal/config"
	"github.com/quantrail/twapbook/internal/httpapi"
	"github.com/quantrail/twapbook/internal/hub"
	"github.com/quantrail/twapbook/internal/logging"
	"github.com/quantrail/twapbook/internal/repository"
	"github.com/quantrail/twapbook/internal/twap"
	"github.com/quantrail/twapbook/internal/venue"
	"github.com/quantrail/twapbook/internal/venue/binance"
	"github.com/quantrail/twapbook/internal/venue/bybit"
	"github.com/quantrail/twapbook/internal/venue/coinbase"
	"github.com/quantrail/twapbook/internal/venue/kucoin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config: " + err.Error())
	}

	log := logging.New(cfg.Server.Environment)
	log.Info().Str("environment", cfg.Server.Environment).Msg("starting twapbook")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := buildRegistry(cfg, log)

	repo, err := repository.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("connecting to postgres")
	}
	defer repo.Close()

	redisCache := cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "twapbook")
	defer redisCache.Close()

	expiry, err := time.ParseDuration(cfg.JWT.Expiry)
	if err != nil {
		expiry = 30 * time.Minute
	}
	authGate := auth.New(repo, cfg.JWT.Secret, expiry)

	agg := aggregator.New(log)
	subscriptionHub := hub.New(registry, agg, log)
	bookSource := twap.NewAggregatorBookSource(agg, registry)

	server := httpapi.NewServer(registry, authGate, repo, subscriptionHub, bookSource, redisCache, log)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

// buildRegistry wires every venue adapter that the spec names. Binance
// and Bybit need no credentials (public market-data streams); Coinbase
// and Kucoin are skipped if their credentials are absent rather than
// failing startup, so the service still comes up with a partial venue
// set in development.
func buildRegistry(cfg *config.Config, log zerolog.Logger) *venue.Registry {
	adapters := []venue.Adapter{
		binance.New(logging.Component(log, "venue.binance")),
		bybit.New(logging.Component(log, "venue.bybit")),
	}

	if cfg.Venues.CoinbasePrivateKeyPEM != "" {
		cb, err := coinbase.New(coinbase.Config{
			KeyName:    cfg.Venues.CoinbaseKeyName,
			PrivateKey: cfg.Venues.CoinbasePrivateKeyPEM,
		}, logging.Component(log, "venue.coinbase"))
		if err != nil {
			log.Error().Err(err).Msg("coinbase adapter disabled: invalid credentials")
		} else {
			adapters = append(adapters, cb)
		}
	} else {
		log.Warn().Msg("coinbase adapter disabled: no credentials configured")
	}

	if cfg.Venues.KucoinAPIKey != "" {
		kc := kucoin.New(kucoin.Config{
			APIKey:     cfg.Venues.KucoinAPIKey,
			APISecret:  cfg.Venues.KucoinAPISecret,
			Passphrase: cfg.Venues.KucoinAPIPassphrase,
		}, logging.Component(log, "venue.kucoin"))
		adapters = append(adapters, kc)
	} else {
		log.Warn().Msg("kucoin adapter disabled: no credentials configured")
	}

	return venue.NewRegistry(adapters...)
}
