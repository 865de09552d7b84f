package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"server/internal/derive"
	"server/internal/http/handlers"
	httpapi "server/internal/http/httpapi"
	"server/internal/imagecache"
	"server/internal/infra"
	"server/internal/pipeline"
	"server/internal/resolver"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	// Cache root is created and probed exactly once, here. A root that
	// cannot be made writable refuses startup rather than silently
	// serving uncached.
	store, err := imagecache.NewStore(cfg.CacheRoot, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache root unavailable")
	}

	res, err := resolver.New(cfg.AssetRoot, cfg.MaxSourceBytes, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid asset root")
	}

	gen := derive.NewGenerator(cfg.ImageQuality, cfg.WebPEffort, cfg.MaxConcurrentEncodes, logger)

	pipe := pipeline.New(res, store, gen, pipeline.Options{
		Quality:        cfg.ImageQuality,
		Effort:         cfg.WebPEffort,
		DeliverTimeout: cfg.DeliverTimeout,
	}, logger)
	if err := pipe.Initialize(); err != nil {
		logger.Fatal().Err(err).Msg("pipeline initialization failed")
	}

	app := handlers.NewApp(pipe, logger)
	router := httpapi.NewRouter(app, cfg, logger)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	pipe.Shutdown()
	logger.Info().Msg("server stopped")
}
