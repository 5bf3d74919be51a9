//go:build integration

package mqtt

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Integration tests require a running MQTT broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func connectOrSkip(t *testing.T, will Will) *Client {
	t.Helper()
	client, err := Connect(testConfig(), will)
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connectOrSkip(t, Will{})

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if !strings.HasPrefix(client.ClientID(), "videohub-test-") {
		t.Errorf("ClientID() = %q", client.ClientID())
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	if _, err := Connect(cfg, Will{}); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_Roundtrip(t *testing.T) {
	client := connectOrSkip(t, Will{})

	topic := "videohub-test/roundtrip/" + client.ClientID()
	received := make(chan string, 1)
	if err := client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- string(payload)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", client.SubscriptionCount())
	}

	if err := client.Publish(topic, []byte("hello"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Errorf("payload = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestIntegration_OnlinePublishedOnConnect(t *testing.T) {
	topic := "videohub-test/health/" + time.Now().Format("150405.000000")
	var calls atomic.Int32

	client := connectOrSkip(t, Will{
		Topic:   topic,
		Payload: []byte(`{"status":"offline"}`),
		Online: func() []byte {
			calls.Add(1)
			return []byte(`{"status":"online"}`)
		},
	})
	defer client.Publish(topic, nil, 1, true) //nolint:errcheck // clear retained

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Error("online payload not published after connect")
	}
}
