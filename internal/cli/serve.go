package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sudo-tiz/dns-proxy-go/internal/admin"
	"github.com/sudo-tiz/dns-proxy-go/internal/classifier"
	"github.com/sudo-tiz/dns-proxy-go/internal/config"
	"github.com/sudo-tiz/dns-proxy-go/internal/features"
	"github.com/sudo-tiz/dns-proxy-go/internal/metrics"
	"github.com/sudo-tiz/dns-proxy-go/internal/pipeline"
	"github.com/sudo-tiz/dns-proxy-go/internal/respcache"
	"github.com/sudo-tiz/dns-proxy-go/internal/telemetry"
	"github.com/sudo-tiz/dns-proxy-go/internal/threatindex"
	"github.com/sudo-tiz/dns-proxy-go/internal/typocorrect"
	"github.com/sudo-tiz/dns-proxy-go/internal/upstream"
)

// NewServeCommand creates the 'serve' subcommand, which runs the recursive
// proxy's UDP listener plus its admin HTTP surface. Starts an in-memory
// telemetry sink if Redis isn't configured, mirroring the teacher's
// NewServerCommand in-memory-workers fallback.
func NewServeCommand() *cobra.Command {
	var configPath string
	var listenAddr string
	var listenPort int
	var redisAddr string
	var threatFeedPath string
	var upstreams []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the DNS proxy",
		Long:  `Start the recursive DNS proxy. Automatically falls back to an in-memory telemetry sink if Redis isn't configured.`,
		Example: `  # Start with default config
  dnsproxy serve --upstream 9.9.9.9:53

  # Start with a config file and Redis-backed telemetry
  dnsproxy serve --config /path/to/config.yaml --redis localhost:6379`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, configPath, listenAddr, listenPort, redisAddr, threatFeedPath, upstreams)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config file")
	cmd.Flags().StringVarP(&listenAddr, "listen-addr", "H", "", "UDP listen address (default: from config or 0.0.0.0)")
	cmd.Flags().IntVarP(&listenPort, "listen-port", "P", 0, "UDP listen port (default: from config or 5353)")
	cmd.Flags().StringVarP(&redisAddr, "redis", "r", os.Getenv("REDIS_ADDR"), "Redis address (optional, enables durable telemetry via Asynq)")
	cmd.Flags().StringVar(&threatFeedPath, "threat-feed", "", "Path to a newline-delimited threat feed file (optional)")
	cmd.Flags().StringSliceVarP(&upstreams, "upstream", "u", nil, "Upstream DNS server target(s) as host:port, e.g. 9.9.9.9:53 (repeatable)")

	return cmd
}

func runServe(cmd *cobra.Command, configPath, listenAddr string, listenPort int, redisAddr, threatFeedPath string, upstreams []string) error {
	if configPath == "" {
		configPath = "conf/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	config.ApplyStringOverride(listenAddr, &cfg.ListenAddr, cfg.GetListenAddr())
	config.ApplyIntOverride(cmd.Flags().Changed("listen-port"), listenPort, &cfg.ListenPort, cfg.GetListenPort())
	if len(upstreams) > 0 {
		cfg.Upstream.Endpoints = upstreams
	}
	if len(cfg.Upstream.Endpoints) == 0 {
		return fmt.Errorf("at least one --upstream target is required")
	}

	if redisAddr == "" {
		redisAddr = cfg.Telemetry.RedisAddr
	}
	if redisAddr == "" {
		slog.Info("redis not configured, telemetry will use an in-memory sink (no durable persistence)")
	} else {
		slog.Info("redis configured for telemetry", "addr", redisAddr)
	}

	index := threatindex.New(threatindex.Config{
		ExpectedCardinality: cfg.GetFilterExpectedCardinality(),
		TargetFPR:           cfg.GetFilterTargetFPR(),
		RefreshInterval:     time.Duration(cfg.GetThreatRefreshIntervalSeconds()) * time.Second,
	})
	refresher := threatindex.NewRefresher(index, threatindex.NewFileProvider(threatFeedPath), time.Duration(cfg.GetThreatRefreshIntervalSeconds())*time.Second, nil)

	cache := respcache.New(respcache.Config{
		Capacity:     cfg.GetCacheCapacity(),
		MinCacheTTL:  time.Duration(cfg.GetMinCacheTTLSeconds()) * time.Second,
		MaxCacheTTL:  time.Duration(cfg.GetMaxCacheTTLSeconds()) * time.Second,
		BlockRespTTL: time.Duration(cfg.GetBlockTTLSeconds()) * time.Second,
	})

	pool := upstream.NewPool(upstream.Config{
		Endpoints:      cfg.Upstream.Endpoints,
		Timeout:        time.Duration(cfg.GetUpstreamTimeoutMS()) * time.Millisecond,
		MaxAttempts:    cfg.GetMaxUpstreamAttempts(),
		CooldownPeriod: time.Duration(cfg.GetUpstreamCooldownMS()) * time.Millisecond,
	})

	weights := weightsFromConfig(cfg.Weights)
	corrector := typocorrect.New(typocorrect.DefaultKnownGood())
	corrector.ApplyRewrite = cfg.ApplyTypoRewrite

	sink := buildTelemetrySink(redisAddr)
	tap := telemetry.NewTap(cfg.GetTelemetryQueueCapacity(), sink, slog.Default())

	addr := fmt.Sprintf("%s:%d", cfg.GetListenAddr(), cfg.GetListenPort())
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", addr, err)
	}

	server := pipeline.New(
		conn,
		pipeline.Config{
			EnableClassifier:  cfg.GetEnableClassifier(),
			EnableTypoSuggest: cfg.GetEnableTypoSuggest(),
			PipelineDeadline:  time.Duration(cfg.GetPipelineDeadlineMS()) * time.Millisecond,
		},
		index, cache, pool, weights, features.DefaultConfig(), corrector, tap, slog.Default(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go refresher.Run(ctx)
	go tap.Run(ctx)

	go func() {
		slog.Info("starting DNS proxy", "address", addr)
		if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
			slog.Error("proxy serve failed", "error", err)
			os.Exit(1)
		}
	}()

	adminSrv := admin.NewServer(cfg, server, metrics.Registry)
	adminAddr := cfg.GetAdminHost() + ":" + cfg.GetAdminPort()
	httpSrv := &http.Server{
		Addr:         adminAddr,
		Handler:      adminSrv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		slog.Info("starting admin HTTP surface", "address", adminAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// weightsFromConfig overlays positive YAML overrides onto the default
// weight table, per spec.md §9's "classifier as data" design note.
func weightsFromConfig(w config.ClassifierWeights) classifier.Weights {
	d := classifier.DefaultWeights()
	if w.SuspiciousPatterns > 0 {
		d.SuspiciousPatterns = w.SuspiciousPatterns
	}
	if w.BrandImpersonation > 0 {
		d.BrandImpersonation = w.BrandImpersonation
	}
	if w.SuspiciousTLD > 0 {
		d.SuspiciousTLD = w.SuspiciousTLD
	}
	if w.EntropyOutlier > 0 {
		d.EntropyOutlier = w.EntropyOutlier
	}
	if w.ExcessiveLength > 0 {
		d.ExcessiveLength = w.ExcessiveLength
	}
	if w.HyphenCount > 0 {
		d.HyphenCount = w.HyphenCount
	}
	if w.DigitCount > 0 {
		d.DigitCount = w.DigitCount
	}
	if w.MaxRepeatRun > 0 {
		d.MaxRepeatRun = w.MaxRepeatRun
	}
	return d
}

func buildTelemetrySink(redisAddr string) telemetry.Sink {
	if redisAddr == "" {
		return telemetry.NewMemorySink()
	}
	return telemetry.NewAsynqSink(redisAddr, 3)
}
