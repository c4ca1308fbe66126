package cli

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/sudo-tiz/dns-proxy-go/internal/telemetry"
)

// NewTelemetryWorkerCommand creates the 'telemetry-worker' subcommand: a
// standalone Asynq consumer draining telemetry:persist_query tasks enqueued
// by the proxy's AsynqSink and handing each QueryRecord to an
// ExternalPersister. Grounded on the teacher's NewWorkerCommand (asynq.NewServeMux +
// asynq.NewServer + a best-effort metrics endpoint), repurposed from DNS
// lookup results to query telemetry records.
func NewTelemetryWorkerCommand() *cobra.Command {
	var redisAddr string
	var redisList string
	var concurrency int
	var metricsPort int
	var enableMetrics bool

	cmd := &cobra.Command{
		Use:   "telemetry-worker",
		Short: "Run a standalone telemetry persistence worker",
		Long:  `Drains QueryRecords enqueued by the proxy's telemetry tap from Redis and persists them to the configured external sink.`,
		Example: `  # Start a worker against a local Redis
  dnsproxy telemetry-worker --redis localhost:6379

  # Start with metrics enabled
  dnsproxy telemetry-worker --redis localhost:6379 --enable-metrics`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTelemetryWorker(redisAddr, redisList, concurrency, metricsPort, enableMetrics)
		},
	}

	cmd.Flags().StringVarP(&redisAddr, "redis", "r", os.Getenv("REDIS_ADDR"), "Redis address (required)")
	cmd.Flags().StringVar(&redisList, "redis-list", "dnsproxy:telemetry", "Redis list key the persister appends JSON records to")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "n", 4, "Number of parallel task processors")
	cmd.Flags().IntVarP(&metricsPort, "metrics-port", "m", 9091, "Port for the Prometheus metrics endpoint (if enabled)")
	cmd.Flags().BoolVarP(&enableMetrics, "enable-metrics", "M", false, "Enable the metrics HTTP endpoint")

	_ = cmd.MarkFlagRequired("redis")

	return cmd
}

func runTelemetryWorker(redisAddr, redisList string, concurrency, metricsPort int, enableMetrics bool) error {
	if redisAddr == "" {
		return fmt.Errorf("redis address is required")
	}

	if enableMetrics {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			addr := fmt.Sprintf(":%d", metricsPort)
			slog.Info("telemetry worker metrics enabled", "address", addr)

			srv := &http.Server{
				Addr:         addr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
				IdleTimeout:  60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("telemetry worker metrics server error", "error", err)
			}
		}()
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Error("failed to close redis connection", "error", err)
		}
	}()

	persister := telemetry.NewRedisListPersister(rdb, redisList)

	mux := asynq.NewServeMux()
	mux.HandleFunc(telemetry.TaskTypePersistQuery, telemetry.HandlePersistQueryTask(persister))

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{Concurrency: concurrency},
	)

	go func() {
		if err := srv.Run(mux); err != nil {
			slog.Error("telemetry worker run failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	srv.Shutdown()
	return nil
}
