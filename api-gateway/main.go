// api-gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"media-downloader/shared" // Import shared package
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to a YAML config file (optional)")
	flag.Parse()

	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	shared.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("API Gateway stopped with error")
	}
	log.Info().Msg("API Gateway stopped")
}

func run(ctx context.Context, cfg *shared.Config) error {
	log.Info().Str("port", cfg.APIGatewayPort).Msg("API Gateway starting")

	redisClient := shared.NewRedisClient(cfg)
	if redisClient != nil {
		defer redisClient.Close()
		if err := shared.PingRedis(ctx, redisClient); err != nil {
			return err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis")
	}

	queue, registry := backends(cfg, redisClient)
	defer queue.Close()

	cache, err := shared.NewMetadataCache(cfg.Cache, redisClient)
	if err != nil {
		return err
	}
	fetcher := shared.NewYtDlpFetcher(cfg.YtDlpPath, cfg.FFmpegPath, cfg.OutputDir)
	service := shared.NewJobService(cache, queue, registry, fetcher, shared.ServiceOptionsFromConfig(cfg))
	limiter := shared.NewRateLimiter(cfg.RateLimitRPM, redisClient)

	g, gctx := errgroup.WithContext(ctx)

	var workers workerStats
	if cfg.EmbeddedWorkers {
		pool := shared.NewWorkerPool(cfg.MaxWorkers, queue, registry, fetcher, cfg.JobTimeout)
		workers = pool
		g.Go(func() error { return pool.Run(gctx) })
	}
	if mc, ok := cache.(*shared.MemoryCache); ok {
		g.Go(func() error {
			mc.RunSweeper(gctx, cfg.Cache.SweepInterval)
			return nil
		})
	}

	srv := &http.Server{
		Addr:              ":" + cfg.APIGatewayPort,
		Handler:           newGateway(cfg, service, limiter, workers).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		fmt.Printf("🚀 API Gateway Server running on http://localhost:%s\n", cfg.APIGatewayPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down API Gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		// Wake workers blocked on an empty queue.
		queue.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// backends picks Redis-backed queue and registry when Redis is configured,
// otherwise process-local ones.
func backends(cfg *shared.Config, client *redis.Client) (shared.JobQueue, shared.JobRegistry) {
	if client == nil {
		log.Info().Msg("REDIS_ADDR not set, using in-memory queue and registry")
		return shared.NewInMemoryQueue(cfg.QueueMaxLength), shared.NewInMemoryDB()
	}
	return shared.NewRedisQueue(client, cfg.QueueName, cfg.QueueMaxLength), shared.NewRedisDB(client)
}
