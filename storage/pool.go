// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	sperrors "github.com/bolausson/SensorPush/pkg/errors"
	"github.com/bolausson/SensorPush/pkg/interfaces"
	"github.com/bolausson/SensorPush/pkg/logger"
	"github.com/bolausson/SensorPush/pkg/metrics"
	"github.com/bolausson/SensorPush/record"
)

// connectBackoff is the schedule WriterPool.ConnectAll walks while trying
// to bring up each configured backend.
var connectBackoff = []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second, 120 * time.Second, 300 * time.Second}

// writeBackoff is the schedule Write uses for a single writer's retry.
var writeBackoff = []time.Duration{5 * time.Second, 10 * time.Second}

const maxConsecutiveFailures = 3

// member tracks one writer's connection and failure state within the pool.
type member struct {
	writer              BackendWriter
	connected           bool
	consecutiveFailures int
	breaker             *gobreaker.CircuitBreaker[any]
}

// WriterPool owns an ordered list of BackendWriters and the connect/retry/
// reconnect state machine described by the daemon's per-cycle write step.
// It is driven by a single goroutine; there is no internal locking because
// no two cycles ever call into it concurrently.
type WriterPool struct {
	members  []*member
	notifier interfaces.Notifier
}

// NewWriterPool wraps writers in pool bookkeeping, in the order given. Order
// matters only for log/metric presentation; writers are otherwise
// independent.
func NewWriterPool(writers []BackendWriter) *WriterPool {
	members := make([]*member, 0, len(writers))
	for _, w := range writers {
		members = append(members, &member{
			writer:  w,
			breaker: newBreaker(w.Name()),
		})
	}
	return &WriterPool{members: members}
}

// SetNotifier wires an alerting channel for backend outage/recovery events.
// Optional; a nil or never-called notifier leaves the pool silent except for
// its own logging.
func (p *WriterPool) SetNotifier(n interfaces.Notifier) {
	p.notifier = n
}

func (p *WriterPool) notifyFailure(name string, err error) {
	if p.notifier == nil || !p.notifier.IsEnabled() {
		return
	}
	if alertErr := p.notifier.SendAlert(context.Background(), "danger", "Backend connection failure",
		name+" is unreachable: "+err.Error()); alertErr != nil {
		logger.Warn().Str("backend", name).Err(alertErr).Msg("failed to send backend failure alert")
	}
}

func (p *WriterPool) notifyRecovery(name string) {
	if p.notifier == nil || !p.notifier.IsEnabled() {
		return
	}
	if alertErr := p.notifier.SendAlert(context.Background(), "good", "Backend connection restored",
		name+" is reachable again."); alertErr != nil {
		logger.Warn().Str("backend", name).Err(alertErr).Msg("failed to send backend recovery alert")
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("backend", name).Str("from", from.String()).Str("to", to.String()).Msg("backend circuit breaker state change")
		},
	})
}

// ConnectAll attempts to connect every writer using the connect backoff
// schedule. It succeeds as soon as at least one writer is connected;
// writers that exhaust their schedule remain in the pool disconnected so a
// later cycle can retry them.
func (p *WriterPool) ConnectAll(ctx context.Context) error {
	anyConnected := false

	for _, m := range p.members {
		if err := p.connectWithBackoff(ctx, m); err != nil {
			logger.Error().Str("backend", m.writer.Name()).Err(err).Msg("failed to connect backend after all retries")
			continue
		}
		anyConnected = true
	}

	if !anyConnected {
		return sperrors.ErrNoBackendAvailable
	}
	return nil
}

func (p *WriterPool) connectWithBackoff(ctx context.Context, m *member) error {
	var lastErr error
	for attempt, delay := range connectBackoff {
		if err := m.writer.Connect(ctx); err != nil {
			lastErr = err
			logger.Error().
				Str("backend", m.writer.Name()).
				Int("attempt", attempt+1).
				Int("max_attempts", len(connectBackoff)).
				Err(err).
				Msg("failed to connect to backend")

			if attempt < len(connectBackoff)-1 {
				logger.Info().Dur("delay", delay).Msg("retrying backend connect")
				if err := sleepOrCancel(ctx, delay); err != nil {
					return err
				}
			}
			continue
		}
		m.connected = true
		m.consecutiveFailures = 0
		metrics.BackendConnected.WithLabelValues(m.writer.Name()).Set(1)
		return nil
	}
	return sperrors.NewBackendConnectError(m.writer.Name(), lastErr)
}

// Write attempts to write records to every member writer. A disconnected
// writer gets one reconnect attempt first; a connected writer gets up to
// three write attempts (retried after 5s, then after 10s) before its
// failure counter increments. The overall call only reports failure when every writer
// failed.
func (p *WriterPool) Write(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	anySucceeded := false

	for _, m := range p.members {
		if !m.connected {
			if err := m.writer.Connect(ctx); err != nil {
				logger.Warn().Str("backend", m.writer.Name()).Err(err).Msg("reconnect attempt failed, skipping this cycle")
				metrics.BackendConnected.WithLabelValues(m.writer.Name()).Set(0)
				continue
			}
			m.connected = true
			m.consecutiveFailures = 0
			metrics.BackendConnected.WithLabelValues(m.writer.Name()).Set(1)
			p.notifyRecovery(m.writer.Name())
		}

		if err := p.writeToMember(ctx, m, records); err != nil {
			logger.Error().Str("backend", m.writer.Name()).Err(err).Msg("write failed on all attempts")
			metrics.BackendWriteErrorsTotal.WithLabelValues(m.writer.Name()).Inc()
			continue
		}

		anySucceeded = true
		metrics.RecordsWrittenTotal.WithLabelValues(m.writer.Name()).Add(float64(len(records)))
	}

	if !anySucceeded {
		return sperrors.NewBackendWriteError("all", sperrors.ErrNoBackendAvailable)
	}
	return nil
}

func (p *WriterPool) writeToMember(ctx context.Context, m *member, records []record.Record) error {
	var lastErr error
	for attempt := 0; attempt <= len(writeBackoff); attempt++ {
		_, err := m.breaker.Execute(func() (any, error) {
			return nil, m.writer.Write(ctx, records)
		})
		if err == nil {
			m.consecutiveFailures = 0
			return nil
		}
		lastErr = err
		logger.Error().Str("backend", m.writer.Name()).Int("attempt", attempt+1).Err(err).Msg("backend write attempt failed")

		if attempt < len(writeBackoff) {
			if err := sleepOrCancel(ctx, writeBackoff[attempt]); err != nil {
				return err
			}
		}
	}

	m.consecutiveFailures++
	if m.consecutiveFailures >= maxConsecutiveFailures {
		m.connected = false
		metrics.BackendConnected.WithLabelValues(m.writer.Name()).Set(0)
		logger.Warn().Str("backend", m.writer.Name()).Msg("backend marked disconnected after repeated failures")
		p.notifyFailure(m.writer.Name(), lastErr)
	}
	return sperrors.NewBackendWriteError(m.writer.Name(), lastErr)
}

// QueryLastTimestamp asks every connected writer for the newest temperature
// timestamp for sensorID under measurement, returning the oldest of those
// results (the value the daemon's gap-fill algorithm needs) along with
// whether any writer had data at all.
func (p *WriterPool) QueryLastTimestamp(ctx context.Context, measurement, sensorID string) (time.Time, bool) {
	var oldest time.Time
	found := false

	for _, m := range p.members {
		if !m.connected {
			continue
		}
		ts, ok, err := m.writer.QueryLastTimestamp(ctx, measurement, sensorID)
		if err != nil {
			logger.Warn().Str("backend", m.writer.Name()).Err(err).Msg("could not query last timestamp")
			continue
		}
		if !ok {
			continue
		}
		if !found || ts.Before(oldest) {
			oldest = ts
			found = true
		}
	}
	return oldest, found
}

// Close releases every writer's resources; idempotent.
func (p *WriterPool) Close() {
	for _, m := range p.members {
		if err := m.writer.Close(); err != nil {
			logger.Warn().Str("backend", m.writer.Name()).Err(err).Msg("error closing backend")
		}
	}
}

// ConsecutiveFailures reports a writer's current failure count, for tests
// and diagnostics.
func (p *WriterPool) ConsecutiveFailures(name string) int {
	for _, m := range p.members {
		if m.writer.Name() == name {
			return m.consecutiveFailures
		}
	}
	return 0
}

// Connected reports whether a writer is currently marked connected.
func (p *WriterPool) Connected(name string) bool {
	for _, m := range p.members {
		if m.writer.Name() == name {
			return m.connected
		}
	}
	return false
}

// AnyConnected reports whether at least one writer is currently connected,
// the condition the readiness endpoint treats as healthy.
func (p *WriterPool) AnyConnected() bool {
	for _, m := range p.members {
		if m.connected {
			return true
		}
	}
	return false
}

func sleepOrCancel(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
