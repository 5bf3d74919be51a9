package videohub

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// readUntil applies incoming messages until one of type T arrives.
func readUntil[T Message](t *testing.T, s *Session) T {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case item, ok := <-s.Incoming():
			if !ok {
				t.Fatal("incoming closed")
			}
			if item.Err != nil {
				t.Fatalf("receive error: %v", item.Err)
			}
			s.Apply(item.Message)
			if m, ok := item.Message.(T); ok {
				return m
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
		}
	}
}

func TestNewSession_Validation(t *testing.T) {
	if _, err := NewSession(SessionConfig{}); err == nil {
		t.Error("expected error for missing host")
	}
	if _, err := NewSession(SessionConfig{Host: "hub", Port: 70000}); err == nil {
		t.Error("expected error for invalid port")
	}

	s, err := NewSession(SessionConfig{Host: "hub"})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if s.Address() != "hub:9990" {
		t.Errorf("Address() = %q, want hub:9990", s.Address())
	}
}

func TestSession_ConnectAndPrelude(t *testing.T) {
	hub := newFakeVideohub(t, testPrelude(8))
	s, err := NewSession(hub.SessionConfig())
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !s.JustReconnected() {
		t.Error("reconnect flag not set after Connect")
	}
	if !s.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}

	readUntil[EndPrelude](t, s)

	st := s.State()
	if !st.Connected {
		t.Error("state not connected")
	}
	if st.Info == nil || st.Info.VideoOutputs != 8 {
		t.Fatalf("Info = %+v", st.Info)
	}
	if len(st.Routes) != 8 || st.InputLabels[7] != "Camera 8" || st.OutputLocks[0] != LockUnlocked {
		t.Errorf("state = %+v", st)
	}
	if st.ProtocolVersion != "2.8" {
		t.Errorf("ProtocolVersion = %q", st.ProtocolVersion)
	}

	s.ClearReconnectedFlag()
	if s.JustReconnected() {
		t.Error("reconnect flag still set")
	}

	stats := s.Stats()
	if stats.Connects != 1 || stats.BlocksRx < 7 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestSession_ConnectFailure(t *testing.T) {
	hub := newFakeVideohub(t, "")
	cfg := hub.SessionConfig()
	hub.Close()

	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
	if s.IsConnected() {
		t.Error("IsConnected() = true after failed connect")
	}
}

func TestSession_SendCommands(t *testing.T) {
	hub := newFakeVideohub(t, testPrelude(4))
	s, _ := NewSession(hub.SessionConfig())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	ctx := context.Background()
	if err := s.SetRoute(ctx, 2, 4); err != nil {
		t.Fatalf("SetRoute() error = %v", err)
	}
	if err := s.SetInputLabel(ctx, 0, "Cam A"); err != nil {
		t.Fatalf("SetInputLabel() error = %v", err)
	}
	if err := s.SetOutputLabel(ctx, 3, "Program"); err != nil {
		t.Fatalf("SetOutputLabel() error = %v", err)
	}

	want := []string{
		"VIDEO OUTPUT ROUTING:\n2 4",
		"INPUT LABELS:\n0 Cam A",
		"OUTPUT LABELS:\n3 Program",
	}
	waitFor(t, 2*time.Second, "device to receive commands", func() bool {
		return len(hub.Received()) >= len(want)
	})
	if got := hub.Received(); !slices.Equal(got[:len(want)], want) {
		t.Errorf("received = %q, want %q", got, want)
	}
}

func TestSession_RequestFullState(t *testing.T) {
	hub := newFakeVideohub(t, testPrelude(2))
	s, _ := NewSession(hub.SessionConfig())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := s.RequestFullState(context.Background()); err != nil {
		t.Fatalf("RequestFullState() error = %v", err)
	}

	want := []string{
		"VIDEOHUB DEVICE:",
		"INPUT LABELS:",
		"OUTPUT LABELS:",
		"VIDEO OUTPUT ROUTING:",
		"VIDEO OUTPUT LOCKS:",
		"TAKE MODE:",
	}
	waitFor(t, 2*time.Second, "queries", func() bool { return len(hub.Received()) >= len(want) })
	if got := hub.Received(); !slices.Equal(got, want) {
		t.Errorf("received = %q, want %q", got, want)
	}
	if hub.Accepted() != 1 {
		t.Errorf("connections = %d, refresh must not reconnect", hub.Accepted())
	}
}

func TestSession_SendWhileDisconnected(t *testing.T) {
	s, _ := NewSession(SessionConfig{Host: "127.0.0.1", Port: 1})

	if err := s.SetRoute(context.Background(), 0, 0); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SetRoute() error = %v, want ErrNotConnected", err)
	}
	if err := s.RequestFullState(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("RequestFullState() error = %v, want ErrNotConnected", err)
	}
}

func TestSession_StreamEndClosesIncoming(t *testing.T) {
	hub := newFakeVideohub(t, testPrelude(2))
	s, _ := NewSession(hub.SessionConfig())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	readUntil[EndPrelude](t, s)

	hub.DropConnections()

	incoming := s.Incoming()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-incoming:
			if !ok {
				if s.IsConnected() {
					t.Error("IsConnected() = true after stream end")
				}
				if s.State().Info == nil {
					t.Error("device info lost on disconnect")
				}
				return
			}
		case <-timeout:
			t.Fatal("incoming not closed after the device dropped")
		}
	}
}

func TestSession_ReconnectSetsFlagAgain(t *testing.T) {
	hub := newFakeVideohub(t, testPrelude(2))
	s, _ := NewSession(hub.SessionConfig())
	defer s.Close()

	ctx := context.Background()
	if err := s.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	readUntil[EndPrelude](t, s)
	s.ClearReconnectedFlag()

	if err := s.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if !s.JustReconnected() {
		t.Error("reconnect flag not set on second connect")
	}
	if !s.IsConnected() {
		t.Error("old reader cleared the connected flag of the new connection")
	}
	readUntil[EndPrelude](t, s)
	if s.Stats().Connects != 2 {
		t.Errorf("Connects = %d, want 2", s.Stats().Connects)
	}
}

func TestSession_MalformedBlockDelivered(t *testing.T) {
	hub := newFakeVideohub(t, "VIDEO OUTPUT LOCKS:\n0 Z\n\nPING:\n\n")
	s, _ := NewSession(hub.SessionConfig())
	defer s.Close()

	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	select {
	case item := <-s.Incoming():
		if !errors.Is(item.Err, ErrMalformedBlock) {
			t.Fatalf("first item = %+v, want malformed error", item)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no item")
	}

	readUntil[Ping](t, s)
	if s.Stats().DecodeError != 1 {
		t.Errorf("DecodeError = %d", s.Stats().DecodeError)
	}
}
