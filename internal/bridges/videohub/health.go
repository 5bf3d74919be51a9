package videohub

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultHealthInterval is the default health publish period.
const DefaultHealthInterval = 30 * time.Second

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// BridgeHealth is the retained health message.
type BridgeHealth struct {
	ServiceID     string         `json:"service_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        HealthStatus   `json:"status"`
	Version       string         `json:"version,omitempty"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Reason        string         `json:"reason,omitempty"`
	Metrics       *BridgeMetrics `json:"metrics,omitempty"`
}

// NewLWTMessage returns the health payload the broker publishes when the
// bridge disappears without a clean shutdown.
func NewLWTMessage(serviceID string) BridgeHealth {
	return BridgeHealth{
		ServiceID: serviceID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// HealthPublisher publishes the retained health payload.
// Implemented by *backend.Instance.
type HealthPublisher interface {
	PublishHealth(payload []byte) error
	IsConnected() bool
}

// MetricsWriter receives a point per health tick.
// Implemented by *influxdb.Client.
type MetricsWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	ServiceID string
	Version   string

	// Interval is how often to publish health status. Default: 30s.
	Interval time.Duration

	Publisher HealthPublisher

	// Source returns the current bridge metrics.
	Source func() BridgeMetrics

	// Metrics is optional.
	Metrics MetricsWriter

	Logger Logger
}

// HealthReporter publishes bridge health at a fixed interval.
type HealthReporter struct {
	serviceID string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    func() BridgeMetrics
	metrics   MetricsWriter

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	return &HealthReporter{
		serviceID: cfg.ServiceID,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		metrics:   cfg.Metrics,
		done:      make(chan struct{}),
		logger:    cfg.Logger,
	}
}

// Start begins periodic reporting until ctx ends or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final stopping status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // best-effort during shutdown
		h.publishStatus(HealthStopping, "")
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(HealthStarting, "bridge starting")
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := determineStatus(h.currentMetrics())
	return h.publishStatus(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.tick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *HealthReporter) tick() {
	if err := h.PublishNow(); err != nil {
		h.logError("failed to publish health", err)
	}
	h.writeMetrics()
}

// determineStatus evaluates bridge health from its metrics.
func determineStatus(m BridgeMetrics) (HealthStatus, string) {
	if !m.BackendConnected {
		return HealthDegraded, "backend disconnected"
	}
	if !m.Connected {
		return HealthDegraded, "videohub disconnected"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) currentMetrics() BridgeMetrics {
	if h.source == nil {
		return BridgeMetrics{}
	}
	return h.source()
}

func (h *HealthReporter) publishStatus(status HealthStatus, reason string) error {
	if h.publisher == nil {
		return nil
	}
	payload, err := h.message(status, reason)
	if err != nil {
		return err
	}
	return h.publisher.PublishHealth(payload)
}

// Payload returns the current health message, as PublishNow would send it.
func (h *HealthReporter) Payload() ([]byte, error) {
	status, reason := determineStatus(h.currentMetrics())
	return h.message(status, reason)
}

func (h *HealthReporter) message(status HealthStatus, reason string) ([]byte, error) {
	msg := BridgeHealth{
		ServiceID:     h.serviceID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Reason:        reason,
	}
	if h.source != nil && status != HealthStarting {
		m := h.source()
		msg.Metrics = &m
	}
	return json.Marshal(msg)
}

// writeMetrics sends the bridge counters to the metrics sink.
func (h *HealthReporter) writeMetrics() {
	if h.metrics == nil || h.source == nil {
		return
	}

	m := h.source()
	h.metrics.WritePoint("videohub_bridge",
		map[string]string{"service_id": h.serviceID},
		map[string]interface{}{
			"connected":         m.Connected,
			"backend_connected": m.BackendConnected,
			"blocks_rx":         int64(m.Session.BlocksRx),
			"blocks_tx":         int64(m.Session.BlocksTx),
			"decode_errors":     int64(m.Session.DecodeError),
			"reconnects":        int64(m.Reconnects),
			"events_emitted":    int64(m.EventsEmitted),
			"refreshes":         int64(m.Refreshes),
			"commands_sent":     int64(m.Dispatch.Sent),
			"commands_failed":   int64(m.Dispatch.Failed),
			"commands_ignored":  int64(m.Dispatch.Ignored),
			"outputs":           m.Targets.Outputs,
			"pulse_errors":      int64(m.Targets.PulseErrors),
			"uptime_seconds":    int64(time.Since(h.startTime).Seconds()),
		},
	)
}

func (h *HealthReporter) logError(msg string, err error) {
	if h.logger != nil {
		h.logger.Error(msg, "error", err)
	}
}
