package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/DaanH/buildings-visualizer/internal/http/handlers"
	httpapi "github.com/DaanH/buildings-visualizer/internal/http/httpapi"
	"github.com/DaanH/buildings-visualizer/internal/infra"
	"github.com/DaanH/buildings-visualizer/internal/infra/geoip"
	"github.com/DaanH/buildings-visualizer/internal/jobs"
	"github.com/DaanH/buildings-visualizer/internal/middleware"
	"github.com/DaanH/buildings-visualizer/internal/providers/openai"
	"github.com/DaanH/buildings-visualizer/internal/stats"
	"github.com/DaanH/buildings-visualizer/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer func() { _ = st.Close() }()

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country stats disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		defer func() { _ = resolver.Close() }()
		lookup = resolver.CountryCode
	}

	generator := openai.NewClient(openai.Options{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
		Logger:  logger,
	})
	if generator.HasCredentials() {
		logger.Info().Str("model", generator.Model()).Msg("image generation provider ready")
	} else {
		logger.Warn().Str("model", generator.Model()).Msg("OPENAI_API_KEY is not set, submissions will fail until it is configured")
	}

	recorder := stats.NewRecorder(st, logger)

	queue := jobs.NewQueue(st, generator, logger, jobs.Options{
		Workers:    cfg.QueueWorkers,
		Buffer:     cfg.QueueBuffer,
		JobTimeout: cfg.JobTimeout,
		Outcomes:   recorder,
	})
	queue.Start(ctx)

	app := handlers.NewApp(st, queue, recorder, cfg, logger)
	router := httpapi.NewRouter(app, lookup)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Stop accepting new work only after the listener is closed, then let
	// in-flight generations finish writing their records.
	queue.Stop()
	logger.Info().Msg("server stopped")
}
