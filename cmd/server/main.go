package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/zonal-stats/internal/aggregator"
	"github.com/mohammed-shakir/zonal-stats/internal/cache"
	"github.com/mohammed-shakir/zonal-stats/internal/cache/redisstore"
	"github.com/mohammed-shakir/zonal-stats/internal/core/config"
	"github.com/mohammed-shakir/zonal-stats/internal/core/httpclient"
	"github.com/mohammed-shakir/zonal-stats/internal/core/observability"
	"github.com/mohammed-shakir/zonal-stats/internal/core/router"
	"github.com/mohammed-shakir/zonal-stats/internal/core/server"
	"github.com/mohammed-shakir/zonal-stats/internal/geostore"
	"github.com/mohammed-shakir/zonal-stats/internal/ingest"
	"github.com/mohammed-shakir/zonal-stats/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/zonal-stats/internal/layergroup"
	"github.com/mohammed-shakir/zonal-stats/internal/logger"
	"github.com/mohammed-shakir/zonal-stats/internal/raster"
	"github.com/mohammed-shakir/zonal-stats/internal/tiles"
	"github.com/mohammed-shakir/zonal-stats/internal/valuecount"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	log := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.ToLower(os.Getenv("LOG_CONSOLE")) == "true",
		Component: "zonal-stats",
	}, os.Stdout)

	observability.ExposeBuildInfo(Version)
	log.Info().
		Str("addr", cfg.Addr).
		Str("version", Version).
		Str("raster_service", cfg.RasterServiceURL).
		Str("redis", cfg.RedisAddr).
		Msg("starting zonal-stats")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Error().Err(err).Msg("redis connect failed")
		return 1
	}
	defer func() { _ = redisClient.Close() }()

	resultCache := cache.New(redisClient, cfg.CacheOpTimeout, log)

	source, err := raster.NewHTTPSource(cfg.RasterServiceURL, httpclient.NewOutbound())
	if err != nil {
		log.Error().Err(err).Msg("raster source init failed")
		return 1
	}

	legends := aggregator.NewLegendRegistry()
	agg, err := aggregator.New(source, legends, cfg.FormulaCacheSize, log)
	if err != nil {
		log.Error().Err(err).Msg("aggregator init failed")
		return 1
	}

	store := geostore.New()
	stats := valuecount.NewService(store, agg, resultCache, log)
	encoder := tiles.NewEncoder(store, layergroup.New(store), cfg.MVTExtent)
	runner := ingest.NewRunner(store, resultCache, log)

	if cfg.Invalidation.Enabled {
		consumer := kafkaconsumer.New(
			kafkaconsumer.NewConfig(cfg.Invalidation.Brokers, cfg.Invalidation.Topic, cfg.Invalidation.GroupID),
			log, resultCache,
		)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("invalidation consumer stopped")
			}
		}()
	}

	handlers := &router.Handlers{
		Store:       store,
		Stats:       stats,
		Encoder:     encoder,
		Ingest:      runner,
		Cache:       resultCache,
		Legends:     legends,
		Log:         &log,
		DefaultZoom: cfg.DefaultZoom,
	}

	if err := server.Run(ctx, cfg, &log, server.Routes(&log, handlers)); err != nil {
		log.Error().Err(err).Msg("server exited")
		return 1
	}
	return 0
}
