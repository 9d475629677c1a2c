// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package app wires the collection daemon to its ambient HTTP surface
// (/metrics, /health, /ready) and the process's signal handling, leaving
// the cycle state machine itself to package daemon.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/bolausson/SensorPush/config"
	"github.com/bolausson/SensorPush/daemon"
	"github.com/bolausson/SensorPush/pkg/interfaces"
	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/pkg/notifications"
	"github.com/bolausson/SensorPush/record"
	"github.com/bolausson/SensorPush/storage"
	"github.com/bolausson/SensorPush/vendorclient"
)

const (
	signalChannelSize     = 1
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
)

// App owns the process-level concerns around one daemon.Daemon: the
// localhost-only HTTP server, signal-driven graceful shutdown, and the
// debug-signal state dump.
type App struct {
	cfg         *config.Config
	metricsPort string
	server      *http.Server
	daemon      *daemon.Daemon
	notifier    interfaces.Notifier

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the vendor client, the configured backend writers, the record
// builder, and the daemon that orchestrates them, then wraps the result in
// the HTTP server described by SPEC_FULL.md's ambient stack.
func New(cfg *config.Config, metricsPort string, opts daemon.Options) (*App, error) {
	client := vendorclient.New(cfg.Vendor.Email, cfg.Vendor.Password, cfg.Vendor.VerifySSL)
	return NewWithClient(cfg, metricsPort, opts, client)
}

// NewWithClient is New with the vendor client supplied directly, so tests
// can point collection at a fake vendor server instead of the real
// SensorPush API host.
func NewWithClient(cfg *config.Config, metricsPort string, opts daemon.Options, client *vendorclient.Client) (*App, error) {
	notifier := notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL)
	if notifier.IsEnabled() {
		logger.Info().Msg("Slack notifications enabled")
	} else {
		logger.Info().Msg("Slack notifications disabled (no webhook URL configured)")
	}

	writers, err := buildWriters(cfg.Backends)
	if err != nil {
		return nil, fmt.Errorf("failed to configure backends: %w", err)
	}
	pool := storage.NewWriterPool(writers)

	builder := record.New(cfg.Poll.Measurement, cfg.Vendor.MyAltitude, cfg.Vendor.NoConvert)

	d := daemon.New(client, pool, builder, notifier, opts)

	a := &App{
		cfg:         cfg,
		metricsPort: metricsPort,
		daemon:      d,
		notifier:    notifier,
	}
	a.server = a.buildServer()

	return a, nil
}

// buildWriters turns each configured backend into a concrete
// storage.BackendWriter.
func buildWriters(backends []config.BackendConfig) ([]storage.BackendWriter, error) {
	writers := make([]storage.BackendWriter, 0, len(backends))
	for _, b := range backends {
		switch b.Type {
		case "influxdb2":
			writers = append(writers, storage.NewInfluxDB2Writer(storage.InfluxDB2Config{
				URL: b.URL, Token: b.Token, Org: b.Org, Bucket: b.Bucket, VerifySSL: b.VerifySSL,
			}))
		case "influxdb3":
			writers = append(writers, storage.NewInfluxDB3Writer(storage.InfluxDB3Config{
				Host: b.Host, Token: b.Token, Database: b.Database, VerifySSL: b.VerifySSL,
			}))
		case "victoriametrics":
			writers = append(writers, storage.NewVMWriter(storage.VMConfig{
				URL: b.URL, VerifySSL: b.VerifySSL,
			}))
		default:
			return nil, fmt.Errorf("unknown backend type %q", b.Type)
		}
	}
	return writers, nil
}

// buildServer assembles the /metrics, /health, /ready mux, bound to
// localhost only.
func (a *App) buildServer() *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, a.daemon)
	}))

	return &http.Server{
		Addr:    "localhost:" + a.metricsPort,
		Handler: mux,
	}
}

// Run starts the HTTP server, connects every backend, and runs the
// collection loop until a shutdown signal arrives or the daemon gives up.
// It blocks until shutdown completes.
func (a *App) Run(interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	a.ctx = ctx
	a.cancel = cancel
	defer a.cancel()

	a.startMetricsServer()
	a.setupSignalHandler()

	if err := a.daemon.Start(ctx); err != nil {
		return fmt.Errorf("daemon start: %w", err)
	}

	err := a.daemon.Run(ctx, interval)
	a.performCleanup()
	return err
}

// RunOnce connects the backends, runs a single collection cycle and closes
// them again; the HTTP server is not started. Used by the CLI's one-shot
// mode.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.daemon.Start(ctx); err != nil {
		return fmt.Errorf("daemon start: %w", err)
	}
	defer a.daemon.Close()
	return a.daemon.RunOnce(ctx)
}

// startMetricsServer starts the HTTP server for metrics and health checks.
func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.server.Addr).Msg("Starting metrics and health check server (localhost only)")
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// setupSignalHandler arranges SIGTERM/SIGINT for graceful shutdown. SIGHUP
// is logged and otherwise ignored; it is not a reload trigger: this
// revision has no hot-reload path.
func (a *App) setupSignalHandler() {
	sigChan := make(chan os.Signal, signalChannelSize)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				logger.Info().Msg("Received SIGHUP; configuration reload is not supported, ignoring")
				continue
			}
			logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
			a.performGracefulShutdown()
			return
		}
	}()
}

// DumpApplicationState dumps current daemon/runtime state to logs.
func (a *App) DumpApplicationState() {
	logger.Info().Msg("=== APPLICATION STATE DUMP (SIGUSR1) ===")

	logger.Info().
		Str("state", a.daemon.State().String()).
		Int("consecutive_cycle_failures", a.daemon.ConsecutiveFailures()).
		Bool("healthy", a.daemon.Healthy()).
		Msg("Daemon state")

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	logger.Info().
		Uint64("alloc_mb", m.Alloc/1024/1024).
		Uint64("total_alloc_mb", m.TotalAlloc/1024/1024).
		Uint32("num_gc", m.NumGC).
		Int("num_goroutines", runtime.NumGoroutine()).
		Msg("Runtime statistics")

	logger.Info().Msg("=== END STATE DUMP ===")
}

// DumpGoroutineStackTraces dumps all goroutine stack traces to logs.
func DumpGoroutineStackTraces() {
	logger.Info().Msg("=== GOROUTINE STACK TRACES (SIGUSR2) ===")
	logger.Info().Int("num_goroutines", runtime.NumGoroutine()).Msg("Current goroutine count")

	buf := make([]byte, 1024*1024)
	stackLen := runtime.Stack(buf, true)
	logger.Info().Str("stack_traces", string(buf[:stackLen])).Msg("Full stack trace")

	logger.Info().Msg("=== END STACK TRACES ===")
}

// performGracefulShutdown stops the HTTP server and cancels the daemon's
// context; the daemon itself finishes its in-flight cycle before Run
// returns (the drain step).
func (a *App) performGracefulShutdown() {
	logger.Info().Msg("Initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server stopped")
	}

	a.cancel()
}

// performCleanup waits for the HTTP server goroutine and releases backend
// resources.
func (a *App) performCleanup() {
	logger.Info().Msg("Waiting for goroutines to finish...")
	a.wg.Wait()
	a.daemon.Close()
	logger.Info().Msg("All goroutines finished, exiting")
}

// rateLimitMiddleware wraps an HTTP handler with rate limiting.
func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			logger.Warn().
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Msg("Rate limit exceeded for health endpoint")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// healthCheckHandler handles liveness check requests: the process is up.
func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("OK")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write health check response")
	}
}

// readinessCheckHandler reports whether at least one backend is connected.
func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, d *daemon.Daemon) {
	_, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()

	if !d.Healthy() {
		logger.Warn().Msg("Readiness check failed: no backend connected")
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, writeErr := w.Write([]byte("NOT READY: no backend connected")); writeErr != nil {
			logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, writeErr := w.Write([]byte("READY")); writeErr != nil {
		logger.Error().Err(writeErr).Msg("Failed to write readiness check response")
	}
}
