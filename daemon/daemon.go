// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package daemon implements the collection daemon's lifecycle: the
// Starting -> Running -> Draining -> Stopped state machine, the per-cycle
// fetch/derive/write sequence, daemon-mode gap detection across every
// configured backend and sensor, and the interruptible sleep between
// cycles.
package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	sperrors "github.com/bolausson/SensorPush/pkg/errors"
	"github.com/bolausson/SensorPush/pkg/interfaces"
	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/pkg/metrics"
	"github.com/bolausson/SensorPush/pkg/watchdog"
	"github.com/bolausson/SensorPush/record"
	"github.com/bolausson/SensorPush/storage"
	"github.com/bolausson/SensorPush/timewindow"
	"github.com/bolausson/SensorPush/vendorclient"
)

// State names the daemon's current lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateCycleError
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateCycleError:
		return "cycle_error"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// maxConsecutiveCycleFailures is the number of consecutive failed cycles
// after which the daemon gives up and exits: persistent cycle failure is
// treated as fatal even though any single cycle's failure is not. A cycle
// counts as failed when the sensor listing fails or when any one of its
// windows fails after retries; cycles where only some windows failed are
// not distinguished from cycles where every window failed.
const maxConsecutiveCycleFailures = 50

// maxRetry/retryWait govern a single window's sample fetch: up to
// maxRetry attempts, retryWait apart: the same attempt count as the vendor
// client's auth retry schedule, with a longer wait between attempts.
const (
	maxRetry  = 3
	retryWait = 60 * time.Second
)

// watchdogPingInterval bounds how long the interruptible sleep goes
// between systemd watchdog pings, independent of the configured poll
// interval.
const watchdogPingInterval = 60 * time.Second

// Options configures one run of the daemon, whether a single one-shot
// cycle or the continuous daemon loop.
type Options struct {
	// Measurement is the base InfluxDB/VictoriaMetrics measurement name.
	Measurement string
	// Backlog is the lookback window used by one-shot mode, and by
	// daemon mode's gap-fill comparison threshold (poll_backlog).
	Backlog string
	// Start and Stop, when both non-zero, override backlog-derived
	// windowing with a literal range (one-shot mode only).
	Start, Stop time.Time
	// WindowStep is the stride used to slice [start, stop] into
	// overlapping vendor sample requests.
	WindowStep time.Duration
	// Measures restricts the requested sample fields; nil requests the
	// vendor client's default set.
	Measures []string
	// Limit caps samples returned per window; 0 means vendor default.
	Limit int
	// Sensors restricts collection to a specific sensor ID subset; nil
	// collects every sensor on the account.
	Sensors []string
	// DryRun logs what would be written instead of calling Pool.Write.
	DryRun bool
}

// Daemon owns one vendor account's collection: its API client, the derived
// record builder, and the pool of configured time-series backends.
type Daemon struct {
	client   *vendorclient.Client
	pool     *storage.WriterPool
	builder  *record.Builder
	notifier interfaces.Notifier
	watchdog *watchdog.Notifier

	opts Options

	state               atomic.Int32
	consecutiveFailures int
}

// New constructs a Daemon from its already-built collaborators. Config
// parsing and writer construction happen in the caller (package app), which
// knows how to turn config.Config into concrete vendorclient/storage
// values; Daemon itself only orchestrates the cycle.
func New(client *vendorclient.Client, pool *storage.WriterPool, builder *record.Builder, notifier interfaces.Notifier, opts Options) *Daemon {
	d := &Daemon{
		client:   client,
		pool:     pool,
		builder:  builder,
		notifier: notifier,
		watchdog: watchdog.New(),
		opts:     opts,
	}
	if notifier != nil {
		pool.SetNotifier(notifier)
	}
	d.state.Store(int32(StateStarting))
	return d
}

// State reports the daemon's current lifecycle phase.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// Healthy reports whether at least one configured backend is currently
// connected, the condition the HTTP readiness endpoint surfaces.
func (d *Daemon) Healthy() bool {
	return d.pool.AnyConnected()
}

// ConsecutiveFailures reports the current consecutive-cycle-failure count,
// for diagnostics (e.g. a SIGUSR1 state dump).
func (d *Daemon) ConsecutiveFailures() int {
	return d.consecutiveFailures
}

func (d *Daemon) setState(s State) {
	d.state.Store(int32(s))
}

// Start connects every configured backend. It returns ErrNoBackendAvailable
// (wrapped) if none could be reached; that failure is fatal to the caller.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.pool.ConnectAll(ctx); err != nil {
		return err
	}
	if err := d.watchdog.Ready(); err != nil {
		logger.Debug().Err(err).Msg("systemd READY notification failed")
	}
	d.setState(StateRunning)
	return nil
}

// Close releases every backend's resources. Call after Run/RunOnce
// returns.
func (d *Daemon) Close() {
	d.pool.Close()
}

// RunOnce performs exactly one collection cycle using a literal or
// backlog-derived window, then returns. Used by the CLI's one-shot mode.
func (d *Daemon) RunOnce(ctx context.Context) error {
	now := time.Now()
	start, stop := d.oneShotWindow(now)
	return d.runCycle(ctx, now, start, stop)
}

// Run loops collection cycles, sleeping interval between them, until ctx is
// cancelled, at which point it finishes the in-flight cycle and returns
// nil (graceful drain). A SIGHUP arriving while Run is active is the
// caller's concern: Run has no reload path, by design, so the caller
// should only log it.
func (d *Daemon) Run(ctx context.Context, interval time.Duration) error {
	for {
		cycleID := uuid.NewString()
		cycleLog := logger.With().Str("cycle_id", cycleID).Logger()

		if err := d.watchdog.Ping(); err == nil {
			metrics.WatchdogPingsTotal.Inc()
		}

		now := time.Now()
		start := d.daemonWindowStart(ctx, now)

		cycleStart := time.Now()
		err := d.runCycle(ctx, now, start, now)
		metrics.CycleDuration.Observe(time.Since(cycleStart).Seconds())

		if err != nil {
			d.consecutiveFailures++
			d.setState(StateCycleError)
			metrics.ConsecutiveCycleFailures.Set(float64(d.consecutiveFailures))
			cycleLog.Error().Err(err).Int("consecutive_failures", d.consecutiveFailures).Msg("collection cycle failed")

			if d.consecutiveFailures >= maxConsecutiveCycleFailures {
				if d.notifier != nil && d.notifier.IsEnabled() {
					_ = d.notifier.SendAlert(context.Background(), "danger", "Collection daemon exiting",
						fmt.Sprintf("%d consecutive cycle failures, last error: %v", d.consecutiveFailures, err))
				}
				return fmt.Errorf("daemon: %d consecutive cycle failures, giving up: %w", d.consecutiveFailures, err)
			}
			d.setState(StateRunning)
		} else {
			if d.consecutiveFailures > 0 {
				d.consecutiveFailures = 0
				metrics.ConsecutiveCycleFailures.Set(0)
			}
		}

		if err := d.interruptibleSleep(ctx, interval); err != nil {
			d.setState(StateDraining)
			logger.Info().Msg("shutdown requested, draining")
			d.setState(StateStopped)
			return nil
		}
	}
}

// runCycle performs the full per-cycle sequence: device-health records,
// then environmental samples sliced into overlapping windows.
func (d *Daemon) runCycle(ctx context.Context, now, start, stop time.Time) error {
	sensors, err := d.client.GetSensors(ctx)
	if err != nil {
		return fmt.Errorf("fetch sensors: %w", err)
	}
	metrics.SensorsDiscovered.Set(float64(len(sensors)))

	voltageRecords := d.builder.BuildVoltageRecords(sensors, now)
	if err := d.writeRecords(ctx, voltageRecords); err != nil {
		logger.Warn().Err(err).Msg("failed to write device-health records")
	}

	windows := timewindow.Slice(start, stop, int(d.opts.WindowStep.Minutes()))
	if len(windows) == 0 {
		logger.Debug().Time("start", start).Time("stop", stop).Msg("empty or inverted window, nothing to fetch")
		return nil
	}

	var firstErr error
	for _, w := range windows {
		windowStart := time.Now()
		err := d.fetchAndWriteWindow(ctx, w, sensors)
		metrics.WindowFetchDuration.Observe(time.Since(windowStart).Seconds())
		if err != nil {
			metrics.SampleFetchErrorsTotal.Inc()
			logger.Error().Err(err).Time("window_start", w.Start).Time("window_stop", w.Stop).Msg("window fetch failed after retries, skipping")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// fetchAndWriteWindow fetches one window's samples with retry, derives
// records, and writes them. A transient failure is retried up to maxRetry
// times, retryWait apart; exhausting the budget returns the last error so
// the caller can decide whether to skip (daemon mode) or abort (one-shot).
func (d *Daemon) fetchAndWriteWindow(ctx context.Context, w timewindow.Window, sensors map[string]vendorclient.Sensor) error {
	var samples vendorclient.SamplesResponse
	var lastErr error

	for attempt := 1; attempt <= maxRetry; attempt++ {
		var err error
		samples, err = d.client.GetSamples(ctx, w.Start, w.Stop, d.opts.Measures, d.opts.Limit, d.opts.Sensors)
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", maxRetry).Msg("sample fetch failed")
		if attempt < maxRetry {
			if err := sleepOrCancel(ctx, retryWait); err != nil {
				return err
			}
		}
	}
	if lastErr != nil {
		return sperrors.NewTransientAPIError("fetch samples", lastErr)
	}

	metrics.SamplesFetchedTotal.Add(float64(samples.TotalSamples))

	records, err := d.builder.ProcessSamples(samples, sensors)
	if err != nil {
		return fmt.Errorf("process samples: %w", err)
	}

	return d.writeRecords(ctx, records)
}

func (d *Daemon) writeRecords(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	if d.opts.DryRun {
		d.logDryRun(records)
		return nil
	}
	return d.pool.Write(ctx, records)
}

func (d *Daemon) logDryRun(records []record.Record) {
	preview := records
	if len(preview) > 5 {
		preview = preview[:5]
	}
	for _, r := range preview {
		logger.Info().
			Str("measurement", r.Measurement).
			Interface("tags", r.Tags).
			Interface("fields", r.Fields).
			Time("time", r.Time).
			Msg("dry-run: would write record")
	}
	if len(records) > len(preview) {
		logger.Info().Int("total", len(records)).Int("shown", len(preview)).Msg("dry-run: truncated preview")
	}
}

// oneShotWindow resolves the one-shot fetch range: a literal start/stop if
// both were given, otherwise backlog-before-now.
func (d *Daemon) oneShotWindow(now time.Time) (time.Time, time.Time) {
	if !d.opts.Start.IsZero() && !d.opts.Stop.IsZero() {
		return d.opts.Start, d.opts.Stop
	}

	backlogMinutes, err := timewindow.ParseBacklog(d.opts.Backlog)
	if err != nil {
		logger.Warn().Err(err).Str("backlog", d.opts.Backlog).Msg("invalid backlog, defaulting to 1 day")
		backlogMinutes = 24 * 60
	}
	return now.Add(-time.Duration(backlogMinutes) * time.Minute), now
}

// daemonWindowStart implements the gap-detection algorithm: for every
// configured (or just-discovered) sensor, find the oldest last-write
// timestamp across every connected backend, then compare that single
// oldest timestamp against poll_backlog. A sensor with no data on any
// backend simply contributes nothing to the minimum, so it inherits
// whatever the oldest other sensor produced -- erring toward
// over-fetching rather than under-fetching.
func (d *Daemon) daemonWindowStart(ctx context.Context, now time.Time) time.Time {
	backlogMinutes, err := timewindow.ParseBacklog(d.opts.Backlog)
	if err != nil {
		logger.Warn().Err(err).Str("backlog", d.opts.Backlog).Msg("invalid poll_backlog, defaulting to 10m")
		backlogMinutes = 10
	}
	pollBacklog := time.Duration(backlogMinutes) * time.Minute

	sensorIDs := d.opts.Sensors
	if len(sensorIDs) == 0 {
		sensors, err := d.client.GetSensors(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("could not list sensors for gap detection, falling back to backlog window")
			return now.Add(-pollBacklog)
		}
		sensorIDs = make([]string, 0, len(sensors))
		for id := range sensors {
			sensorIDs = append(sensorIDs, id)
		}
	}

	var oldest time.Time
	found := false
	for _, id := range sensorIDs {
		ts, ok := d.pool.QueryLastTimestamp(ctx, d.opts.Measurement, id)
		if !ok {
			continue
		}
		if !found || ts.Before(oldest) {
			oldest = ts
			found = true
		}
	}

	if !found {
		return now.Add(-pollBacklog)
	}

	gap := now.Sub(oldest)
	if gap > pollBacklog {
		return oldest.Add(-1 * time.Hour)
	}
	return now.Add(-pollBacklog)
}

// interruptibleSleep sleeps for duration in at-most-1-second increments so a
// cancelled context is noticed quickly, pinging the systemd watchdog every
// watchdogPingInterval along the way.
func (d *Daemon) interruptibleSleep(ctx context.Context, duration time.Duration) error {
	deadline := time.Now().Add(duration)
	lastPing := time.Now()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}

		step := time.Second
		if remaining < step {
			step = remaining
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}

		if time.Since(lastPing) >= watchdogPingInterval {
			if err := d.watchdog.Ping(); err == nil {
				metrics.WatchdogPingsTotal.Inc()
			}
			lastPing = time.Now()
		}
	}
}

func sleepOrCancel(ctx context.Context, duration time.Duration) error {
	t := time.NewTimer(duration)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
