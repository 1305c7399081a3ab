package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mazza/sellerd/internal/cache"
	"github.com/mazza/sellerd/internal/circuitbreaker"
	"github.com/mazza/sellerd/internal/client"
	"github.com/mazza/sellerd/internal/config"
	"github.com/mazza/sellerd/internal/logging"
	"github.com/mazza/sellerd/internal/metrics"
	"github.com/mazza/sellerd/internal/observability"
	"github.com/mazza/sellerd/internal/seller"
)

var (
	configPath  string
	backendURL  string
	token       string
	logLevel    string
	logFormat   string
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "sellerd",
		Short:         "sellerd - seller-side order fulfillment",
		Long:          "Watch live orders and dashboard stats, open or close the store, and verify pickups",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&backendURL, "backend", "", "Backend base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Seller session token")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(
		ordersCmd(),
		statsCmd(),
		storeCmd(),
		completeCmd(),
		scanCmd(),
		watchCmd(),
		codeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app is one configured engine plus everything that has to be torn down
// with it.
type app struct {
	cfg     *config.Config
	engine  *seller.Engine
	closers []func()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if backendURL != "" {
		cfg.Backend.BaseURL = backendURL
	}
	if token != "" {
		cfg.Backend.Token = token
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, cfg.Validate()
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	logging.InitStructured(cfg.Log.Format, cfg.Log.Level, os.Stderr)
	audit := logging.Default()
	audit.SetEnabled(cfg.Log.Audit)
	audit.SetConsole(os.Stderr)
	if cfg.Log.AuditFile != "" {
		if err := audit.SetOutput(cfg.Log.AuditFile); err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		a.closers = append(a.closers, audit.Close)
	}

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	}); err != nil {
		logging.Op().Warn("tracing disabled", "error", err)
	}
	a.closers = append(a.closers, func() { observability.Shutdown(context.Background()) })

	if cfg.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Metrics.Namespace, nil)
		if cfg.Metrics.Addr != "" {
			srv := startMetricsServer(cfg.Metrics.Addr)
			a.closers = append(a.closers, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			})
		}
	}

	var breakers *circuitbreaker.Registry
	if cfg.Breaker.Enabled {
		breakers = circuitbreaker.NewRegistry(circuitbreaker.Config{
			ErrorPct:       cfg.Breaker.ErrorPct,
			MinRequests:    cfg.Breaker.MinRequests,
			WindowDuration: cfg.Breaker.Window.Std(),
			OpenDuration:   cfg.Breaker.OpenDuration.Std(),
			HalfOpenProbes: cfg.Breaker.HalfOpenProbes,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.SetBreakerState(name, int(to))
				logging.Op().Warn("circuit breaker state change", "endpoint", name, "from", from.String(), "to", to.String())
			},
		})
	}

	api, err := client.New(client.Config{
		BaseURL:      cfg.Backend.BaseURL,
		Token:        cfg.Backend.Token,
		Timeout:      cfg.Backend.Timeout.Std(),
		MaxRetries:   cfg.Retry.MaxRetries,
		RetryInitial: cfg.Retry.Initial.Std(),
		RetryMax:     cfg.Retry.Max.Std(),
		Breakers:     breakers,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	var rc *redis.Client
	if cfg.Cache.Snapshots == "redis" || cfg.Cache.ShareInvalidations {
		rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rc.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			rc.Close()
			a.close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		a.closers = append(a.closers, func() { rc.Close() })
	}

	var snapshots cache.Backend
	if cfg.Cache.Snapshots == "redis" {
		snapshots = cache.NewRedisBackendFromClient(rc, cfg.SnapshotPrefix())
	}

	opts := seller.Options{
		Cache: cache.Config{
			DefaultTTL:  cfg.Cache.DefaultTTL.Std(),
			LoadTimeout: cfg.Cache.LoadTimeout.Std(),
			Snapshots:   snapshots,
			SnapshotTTL: cfg.Cache.SnapshotTTL.Std(),
		},
		Audit:          audit,
		LiveOrders:     cache.Defaults{TTL: cfg.Cache.LiveOrdersTTL.Std(), PollInterval: cfg.Cache.LiveOrdersPoll.Std()},
		DashboardStats: cache.Defaults{TTL: cfg.Cache.DashboardStatsTTL.Std(), PollInterval: cfg.Cache.DashboardStatsPoll.Std()},
	}
	if cfg.Cache.ShareInvalidations {
		opts.Redis = rc
		opts.InvalidationChannel = cfg.Cache.InvalidationChannel
	}

	engine, err := seller.New(api, opts)
	if err != nil {
		a.close()
		return nil, err
	}
	a.engine = engine
	// Registered last so the engine closes before the clients it uses.
	a.closers = append(a.closers, func() { engine.Close() })

	if snapshots != nil {
		if err := engine.Restore(ctx); err != nil {
			logging.Op().Warn("restore snapshots failed", "error", err)
		}
	}
	return a, nil
}

// close runs closers newest first.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func startMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.PrometheusHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Op().Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logging.Op().Info("serving metrics", "addr", addr)
	return srv
}
