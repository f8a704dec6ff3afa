// Package connectivity provides ConnectivityObserver implementations for
// the sync engine.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	syncErrors "github.com/c0deZ3R0/go-offline-kit/errors"
	"github.com/c0deZ3R0/go-offline-kit/logging"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
)

// Prober checks whether the remote API is reachable.
// httptransport.Executor implements it with its health endpoint.
type Prober interface {
	Ping(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Ping(ctx context.Context) error { return f(ctx) }

// MonitorConfig controls probing cadence.
type MonitorConfig struct {
	// Interval between probes while online.
	Interval time.Duration

	// Timeout bounds a single probe.
	Timeout time.Duration

	// Backoff spaces probes while offline. The delay grows with each
	// consecutive failed probe.
	Backoff synckit.ExponentialBackoff

	// AssumeOnline is the state reported before the first probe completes.
	AssumeOnline bool
}

// DefaultMonitorConfig probes every 30s while online and backs off from 2s
// to 1m while offline.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Interval: 30 * time.Second,
		Timeout:  5 * time.Second,
		Backoff: synckit.ExponentialBackoff{
			InitialDelay: 2 * time.Second,
			MaxDelay:     time.Minute,
			Multiplier:   2,
		},
		AssumeOnline: true,
	}
}

type subscriber struct {
	ctx context.Context
	fn  func(bool)
}

// Monitor is a ConnectivityObserver that polls a Prober.
type Monitor struct {
	prober Prober
	cfg    MonitorConfig
	logger *slog.Logger

	online   atomic.Bool
	failures atomic.Int32

	mu      sync.Mutex
	subs    []subscriber
	started bool
	stop    chan struct{}
	done    chan struct{}
}

var _ synckit.ConnectivityObserver = (*Monitor)(nil)

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

func WithConfig(cfg MonitorConfig) MonitorOption {
	return func(m *Monitor) { m.cfg = cfg }
}

func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a Monitor. Call Start to begin probing.
func NewMonitor(prober Prober, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		prober: prober,
		cfg:    DefaultMonitorConfig(),
		logger: logging.WithComponent(logging.Component("connectivity")).Logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.Interval <= 0 {
		m.cfg.Interval = 30 * time.Second
	}
	if m.cfg.Timeout <= 0 {
		m.cfg.Timeout = 5 * time.Second
	}
	m.online.Store(m.cfg.AssumeOnline)
	return m
}

func (m *Monitor) IsOnline() bool { return m.online.Load() }

// Subscribe calls fn on every state change until ctx is done.
func (m *Monitor) Subscribe(ctx context.Context, fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, subscriber{ctx: ctx, fn: fn})
}

// Start probes immediately and then keeps probing until ctx is done or
// Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("monitor is already started")
	}
	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.logger.Info("Starting connectivity monitor",
		"interval", m.cfg.Interval,
		"timeout", m.cfg.Timeout)

	go func() {
		defer close(done)
		for {
			m.Check(ctx)

			timer := time.NewTimer(m.nextDelay())
			select {
			case <-timer.C:
			case <-stop:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return nil
}

// Stop ends probing and waits for the probe loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	m.logger.Info("Connectivity monitor stopped")
}

func (m *Monitor) nextDelay() time.Duration {
	if m.IsOnline() {
		return m.cfg.Interval
	}
	attempt := int(m.failures.Load()) - 1
	if d := m.cfg.Backoff.NextDelay(attempt); d > 0 {
		return d
	}
	return m.cfg.Interval
}

// Check probes once, updates the state and notifies subscribers when it
// changed. It returns the new state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	err := m.prober.Ping(probeCtx)
	cancel()

	online := !unreachable(err)
	if online {
		m.failures.Store(0)
	} else {
		m.failures.Add(1)
		m.logger.Debug("Connectivity probe failed",
			"consecutive_failures", m.failures.Load(),
			"error", err)
	}
	m.set(online)
	return online
}

// unreachable reports probe errors that mean the API cannot serve requests.
// A 4xx from the probe still proves the network path works.
func unreachable(err error) bool {
	if err == nil {
		return false
	}
	if syncErrors.IsServerRejected(err) {
		return syncErrors.StatusCode(err) >= 500
	}
	return true
}

func (m *Monitor) set(online bool) {
	if m.online.Swap(online) == online {
		return
	}
	if online {
		m.logger.Info("Connectivity restored")
	} else {
		m.logger.Warn("Connectivity lost")
	}
	notify(&m.mu, &m.subs, online, m.logger)
}

// notify calls every live subscriber in registration order and drops those
// whose context is done.
func notify(mu *sync.Mutex, subs *[]subscriber, online bool, logger *slog.Logger) {
	mu.Lock()
	live := (*subs)[:0]
	for _, s := range *subs {
		if s.ctx.Err() == nil {
			live = append(live, s)
		}
	}
	*subs = live
	current := append([]subscriber(nil), live...)
	mu.Unlock()

	for _, s := range current {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Connectivity subscriber panicked", "panic", r)
				}
			}()
			s.fn(online)
		}()
	}
}
