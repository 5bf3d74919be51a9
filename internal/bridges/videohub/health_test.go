package videohub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

type mockHealthPublisher struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
}

func (p *mockHealthPublisher) PublishHealth(payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *mockHealthPublisher) IsConnected() bool { return true }

func (p *mockHealthPublisher) Messages(t *testing.T) []BridgeHealth {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]BridgeHealth, 0, len(p.payloads))
	for _, raw := range p.payloads {
		var h BridgeHealth
		if err := json.Unmarshal(raw, &h); err != nil {
			t.Fatalf("unmarshal health: %v", err)
		}
		out = append(out, h)
	}
	return out
}

type mockMetricsWriter struct {
	mu     sync.Mutex
	points []string
	fields []map[string]interface{}
}

func (w *mockMetricsWriter) WritePoint(measurement string, _ map[string]string, fields map[string]interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, measurement)
	w.fields = append(w.fields, fields)
}

func TestDetermineStatus(t *testing.T) {
	tests := []struct {
		name   string
		m      BridgeMetrics
		want   HealthStatus
		reason string
	}{
		{"all connected", BridgeMetrics{Connected: true, BackendConnected: true}, HealthHealthy, ""},
		{"device down", BridgeMetrics{BackendConnected: true}, HealthDegraded, "videohub disconnected"},
		{"backend down", BridgeMetrics{Connected: true}, HealthDegraded, "backend disconnected"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := determineStatus(tt.m)
			if got != tt.want || reason != tt.reason {
				t.Errorf("determineStatus() = %q, %q; want %q, %q", got, reason, tt.want, tt.reason)
			}
		})
	}
}

func TestHealthReporter_Lifecycle(t *testing.T) {
	pub := &mockHealthPublisher{}
	metrics := &mockMetricsWriter{}
	h := NewHealthReporter(HealthReporterConfig{
		ServiceID: testServiceID,
		Version:   "1.2.3",
		Interval:  time.Hour,
		Publisher: pub,
		Source: func() BridgeMetrics {
			return BridgeMetrics{Connected: true, BackendConnected: true, Reconnects: 2}
		},
		Metrics: metrics,
	})

	if err := h.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	h.Start(context.Background())
	waitFor(t, time.Second, "first tick", func() bool { return len(pub.Messages(t)) >= 2 })
	h.Stop()
	h.Stop()

	msgs := pub.Messages(t)
	if len(msgs) != 3 {
		t.Fatalf("messages = %d, want 3", len(msgs))
	}
	if msgs[0].Status != HealthStarting || msgs[0].Metrics != nil {
		t.Errorf("starting = %+v", msgs[0])
	}
	if msgs[1].Status != HealthHealthy || msgs[1].Metrics == nil || msgs[1].Metrics.Reconnects != 2 {
		t.Errorf("tick = %+v", msgs[1])
	}
	if msgs[2].Status != HealthStopping || msgs[2].Version != "1.2.3" {
		t.Errorf("stopping = %+v", msgs[2])
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if len(metrics.points) != 1 || metrics.points[0] != "videohub_bridge" {
		t.Fatalf("points = %v", metrics.points)
	}
	if metrics.fields[0]["reconnects"] != int64(2) {
		t.Errorf("reconnects field = %v", metrics.fields[0]["reconnects"])
	}
}

func TestHealthReporter_Payload(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{
		ServiceID: testServiceID,
		Version:   "1.2.3",
		Source:    func() BridgeMetrics { return BridgeMetrics{BackendConnected: true} },
	})
	raw, err := h.Payload()
	if err != nil {
		t.Fatalf("Payload() error = %v", err)
	}
	var msg BridgeHealth
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Status != HealthDegraded || msg.Reason != "videohub disconnected" || msg.Metrics == nil {
		t.Errorf("payload = %+v", msg)
	}
}

func TestHealthReporter_PublishError(t *testing.T) {
	want := errors.New("broker gone")
	h := NewHealthReporter(HealthReporterConfig{
		ServiceID: testServiceID,
		Publisher: &mockHealthPublisher{err: want},
	})
	if err := h.PublishNow(); !errors.Is(err, want) {
		t.Errorf("PublishNow() error = %v, want %v", err, want)
	}
}

func TestHealthReporter_NilPublisher(t *testing.T) {
	h := NewHealthReporter(HealthReporterConfig{ServiceID: testServiceID})
	if err := h.PublishNow(); err != nil {
		t.Errorf("PublishNow() error = %v", err)
	}
	h.writeMetrics()
}

func TestNewLWTMessage(t *testing.T) {
	m := NewLWTMessage(testServiceID)
	if m.Status != HealthOffline || m.ServiceID != testServiceID || m.Reason == "" {
		t.Errorf("LWT = %+v", m)
	}
}
