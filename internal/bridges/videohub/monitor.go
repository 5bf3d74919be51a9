package videohub

import (
	"context"
	"time"
)

// Monitor defaults.
const (
	DefaultMonitorInterval = 5 * time.Second
	DefaultProbeTimeout    = 100 * time.Millisecond

	// refreshSignalBuffer is the capacity of the refresh signal channel.
	refreshSignalBuffer = 10
)

// BackendProber is the part of the backend client the monitor uses.
type BackendProber interface {
	Probe(ctx context.Context) bool
	Republish() error
}

// Monitor polls backend connectivity and asks the device task for a full
// state refresh whenever the backend comes back.
type Monitor struct {
	prober   BackendProber
	interval time.Duration
	timeout  time.Duration
	signal   chan<- struct{}
	logger   Logger

	// connected is the last probe result. Only the monitor goroutine
	// touches it.
	connected bool
}

// NewMonitor creates a backend monitor that signals on signal. The initial
// state counts as connected, since registration has just succeeded.
func NewMonitor(prober BackendProber, signal chan<- struct{}, interval, timeout time.Duration, logger Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultMonitorInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Monitor{
		prober:    prober,
		interval:  interval,
		timeout:   timeout,
		signal:    signal,
		logger:    logger,
		connected: true,
	}
}

// Run polls until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll probes once and reacts to a disconnected to connected edge.
func (m *Monitor) poll(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	ok := m.prober.Probe(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return
	}

	prev := m.connected
	m.connected = ok

	switch {
	case prev && !ok:
		m.logWarn("backend connection lost")
	case !prev && ok:
		m.logInfo("backend connection restored, requesting full state refresh")
		if err := m.prober.Republish(); err != nil {
			m.logWarn("republishing backend registrations failed", "error", err)
		}
		select {
		case m.signal <- struct{}{}:
		default:
			m.logDebug("refresh already pending")
		}
	}
}

func (m *Monitor) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

func (m *Monitor) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *Monitor) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}
