package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/videohub-bridge/internal/audit"
	"github.com/nerrad567/videohub-bridge/internal/bridges/videohub"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/config"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/mqtt"
)

type fakeMQTT struct {
	mu        sync.Mutex
	published []string
	handlers  map[string]mqtt.MessageHandler
	connected bool
}

func (f *fakeMQTT) Publish(topic string, _ []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[string]mqtt.MessageHandler)
	}
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func TestMQTTTransport(t *testing.T) {
	fake := &fakeMQTT{connected: true}
	tr := mqttTransport{client: fake}

	if err := tr.Publish("videohub/instances/svc", []byte("{}"), 1, true); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(fake.published) != 1 || fake.published[0] != "videohub/instances/svc" {
		t.Errorf("published = %v", fake.published)
	}

	var gotTopic, gotPayload string
	if err := tr.Subscribe("a/b/invoke", 1, func(topic string, payload []byte) {
		gotTopic, gotPayload = topic, string(payload)
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	handler := fake.handlers["a/b/invoke"]
	if handler == nil {
		t.Fatal("handler not registered")
	}
	if err := handler("a/b/invoke", []byte(`{"output":1}`)); err != nil {
		t.Errorf("wrapped handler error = %v, want nil", err)
	}
	if gotTopic != "a/b/invoke" || gotPayload != `{"output":1}` {
		t.Errorf("handler got %q %q", gotTopic, gotPayload)
	}

	if !tr.IsConnected() {
		t.Error("IsConnected() = false")
	}
}

type recordingObserver struct {
	channels []string
}

func (r *recordingObserver) Broadcast(channel string, _ any) {
	r.channels = append(r.channels, channel)
}

func TestFanOut(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	f := fanOut{a, b}

	f.Broadcast("videohub.route_changed", nil)
	f.Broadcast("videohub.lock_changed", nil)

	for _, o := range []*recordingObserver{a, b} {
		if len(o.channels) != 2 || o.channels[0] != "videohub.route_changed" {
			t.Errorf("channels = %v", o.channels)
		}
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			ServiceID:      "studio-a",
			Name:           "Blackmagic Videohub",
			ShortID:        "videohub",
			Code:           "blackmagic-videohub",
			Color:          "#FF6B35",
			MachineID:      "rack-1",
			Message:        "hello",
			HealthInterval: 15 * time.Second,
		},
		Videohub: config.VideohubConfig{
			Host:              "10.0.0.5",
			Port:              9990,
			ReconnectDelay:    2 * time.Second,
			ReconnectMaxDelay: 20 * time.Second,
			ReconnectJitter:   0.1,
			ReceiveErrorDelay: time.Second,
		},
		Backend: config.BackendConfig{
			TopicPrefix:     "rship",
			MonitorInterval: 5 * time.Second,
			ProbeTimeout:    100 * time.Millisecond,
			CommandQueue:    50,
			EventQueue:      60,
		},
	}
}

func TestBridgeConfig(t *testing.T) {
	bc := bridgeConfig(testConfig())

	if bc.Instance.ServiceID != "studio-a" || bc.Instance.MachineID != "rack-1" || bc.Instance.Color != "#FF6B35" {
		t.Errorf("Instance = %+v", bc.Instance)
	}
	if bc.Reconnect.Initial != 2*time.Second || bc.Reconnect.Max != 20*time.Second || bc.Reconnect.Jitter != 0.1 {
		t.Errorf("Reconnect = %+v", bc.Reconnect)
	}
	if bc.CommandQueueSize != 50 || bc.EventQueueSize != 60 || bc.HealthInterval != 15*time.Second {
		t.Errorf("queues/health = %d %d %v", bc.CommandQueueSize, bc.EventQueueSize, bc.HealthInterval)
	}
}

func TestHealthWill(t *testing.T) {
	called := false
	will, err := healthWill(testConfig(), func() []byte {
		called = true
		return []byte("online")
	})
	if err != nil {
		t.Fatalf("healthWill() error = %v", err)
	}

	if will.Topic != "rship/health/studio-a" {
		t.Errorf("Topic = %q", will.Topic)
	}
	var msg videohub.BridgeHealth
	if err := json.Unmarshal(will.Payload, &msg); err != nil {
		t.Fatalf("unmarshal will: %v", err)
	}
	if msg.Status != videohub.HealthOffline || msg.ServiceID != "studio-a" {
		t.Errorf("will payload = %+v", msg)
	}
	if string(will.Online()) != "online" || !called {
		t.Error("Online callback not passed through")
	}
}

func TestHealthWill_DefaultPrefix(t *testing.T) {
	cfg := testConfig()
	cfg.Backend.TopicPrefix = ""
	will, err := healthWill(cfg, nil)
	if err != nil {
		t.Fatalf("healthWill() error = %v", err)
	}
	if !strings.HasPrefix(will.Topic, "videohub/health/") {
		t.Errorf("Topic = %q", will.Topic)
	}
}

func TestOpenJournal(t *testing.T) {
	ctx := context.Background()
	db, repo, recorder, err := openJournal(ctx, config.DatabaseConfig{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		WALMode:       true,
		BusyTimeout:   5,
		JournalBuffer: 8,
	}, logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard))
	if err != nil {
		t.Fatalf("openJournal() error = %v", err)
	}
	defer db.Close() //nolint:errcheck // test cleanup

	recorder.RecordCommand("set_route", map[string]any{"output": 1}, "sent", nil)
	recorder.Close()

	res, err := repo.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 1 || res.Entries[0].Command != "set_route" {
		t.Errorf("journal = %+v", res)
	}
}

type fakeChecker struct {
	err   error
	calls int
}

func (f *fakeChecker) HealthCheck(context.Context) error {
	f.calls++
	return f.err
}

func TestHealthCheck(t *testing.T) {
	ctx := context.Background()

	ok := &fakeChecker{}
	if err := healthCheck(ctx, []dependencyCheck{{"mqtt", ok}, {"api", ok}}); err != nil {
		t.Errorf("healthCheck() error = %v", err)
	}
	if ok.calls != 2 {
		t.Errorf("calls = %d, want 2", ok.calls)
	}

	down := errors.New("broker gone")
	after := &fakeChecker{}
	err := healthCheck(ctx, []dependencyCheck{{"mqtt", &fakeChecker{err: down}}, {"api", after}})
	if !errors.Is(err, down) || !strings.HasPrefix(err.Error(), "mqtt: ") {
		t.Errorf("healthCheck() error = %v, want wrapped mqtt failure", err)
	}
	if after.calls != 0 {
		t.Error("checks continued after the first failure")
	}
}

func TestHealthCheck_ClosedJournal(t *testing.T) {
	db, _, recorder, err := openJournal(context.Background(), config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "journal.db"),
		BusyTimeout: 5,
	}, logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "test", io.Discard))
	if err != nil {
		t.Fatalf("openJournal() error = %v", err)
	}
	checks := []dependencyCheck{{"database", db}}

	if err := healthCheck(context.Background(), checks); err != nil {
		t.Fatalf("healthCheck() error = %v", err)
	}

	recorder.Close()
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	err = healthCheck(context.Background(), checks)
	if err == nil || !strings.HasPrefix(err.Error(), "database: ") {
		t.Errorf("healthCheck() error = %v, want database failure", err)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("videohub: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIDEOHUB_BRIDGE_CONFIG", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("run() error = %v, want config error", err)
	}
}

func TestRun_MissingVideohubAddress(t *testing.T) {
	t.Setenv("VIDEOHUB_BRIDGE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("VIDEOHUB_ADDRESS", "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Error("run() should fail without a videohub address")
	}
}

func TestRun_BrokerUnreachable(t *testing.T) {
	t.Setenv("VIDEOHUB_BRIDGE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("VIDEOHUB_ADDRESS", "127.0.0.1")
	t.Setenv("BACKEND_ADDRESS", "127.0.0.1")
	t.Setenv("BACKEND_PORT", "1")
	t.Setenv("VIDEOHUB_BRIDGE_LOG_LEVEL", "error")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := run(ctx)
	if !errors.Is(err, mqtt.ErrConnectionFailed) {
		t.Errorf("run() error = %v, want %v", err, mqtt.ErrConnectionFailed)
	}
}
