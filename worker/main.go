// worker/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		log.Fatal().Err(err).Msg("Worker Service stopped with error")
	}
	log.Info().Msg("Worker Service stopped")
}

func run(ctx context.Context, cfg *shared.Config) error {
	// A standalone worker can only reach the gateway's jobs through Redis.
	if !cfg.UsesRedis() {
		return errors.New("REDIS_ADDR is required to run a standalone worker")
	}
	log.Info().Str("port", cfg.WorkerPort).Int("max_workers", cfg.MaxWorkers).Msg("Worker Service starting")

	redisClient := shared.NewRedisClient(cfg)
	defer redisClient.Close()
	if err := shared.PingRedis(ctx, redisClient); err != nil {
		return err
	}

	queue := shared.NewRedisQueue(redisClient, cfg.QueueName, cfg.QueueMaxLength)
	registry := shared.NewRedisDB(redisClient)
	fetcher := shared.NewYtDlpFetcher(cfg.YtDlpPath, cfg.FFmpegPath, cfg.OutputDir)
	pool := shared.NewWorkerPool(cfg.MaxWorkers, queue, registry, fetcher, cfg.JobTimeout)

	r := mux.NewRouter()
	r.HandleFunc("/health", healthHandler(pool, queue)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	srv := &http.Server{
		Addr:              ":" + cfg.WorkerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		fmt.Printf("⚙️ Worker Service running on http://localhost:%s\n", cfg.WorkerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down Worker Service, waiting for running jobs")
		queue.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// healthHandler: Basic health check for the Worker Service
func healthHandler(pool *shared.WorkerPool, queue shared.JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		depths := make(map[string]int)
		status := "ok"
		for _, p := range shared.Priorities {
			n, err := queue.Len(r.Context(), p)
			if err != nil {
				status = "degraded"
				break
			}
			depths[p.String()] = n
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":         status,
			"message":        "Worker Service is healthy",
			"active_workers": pool.Active(),
			"max_workers":    pool.Size(),
			"queue":          depths,
		})
	}
}
