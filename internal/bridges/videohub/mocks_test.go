package videohub

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/videohub-bridge/internal/backend"
)

const testPrefix = "test"
const testServiceID = "svc"

// MockTransport implements backend.Transport for testing.
type MockTransport struct {
	mu        sync.Mutex
	published []mockPublish
	handlers  map[string]func(topic string, payload []byte)
	connected bool
	failOn    string
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	Retained bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockTransport) Publish(topic string, payload []byte, _ byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && strings.Contains(topic, m.failOn) {
		return errors.New("publish refused")
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

func (m *MockTransport) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// FailOn makes every publish whose topic contains substr fail. Empty clears.
func (m *MockTransport) FailOn(substr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = substr
}

func (m *MockTransport) GetPublished() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mockPublish(nil), m.published...)
}

func (m *MockTransport) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// Count returns the number of publishes on exactly topic.
func (m *MockTransport) Count(topic string) int {
	n := 0
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			n++
		}
	}
	return n
}

// PayloadsOn returns the payloads published on exactly topic, in order.
func (m *MockTransport) PayloadsOn(topic string) [][]byte {
	var out [][]byte
	for _, p := range m.GetPublished() {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

// Invoke delivers payload to the action handler subscribed on topic.
func (m *MockTransport) Invoke(t *testing.T, topic, payload string) {
	t.Helper()
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if !ok {
		t.Fatalf("no handler subscribed on %s", topic)
	}
	handler(topic, []byte(payload))
}

func targetTopic(target string) string {
	return fmt.Sprintf("%s/targets/%s/%s", testPrefix, testServiceID, target)
}

func invokeTopic(target, action string) string {
	return targetTopic(target) + "/actions/" + action + "/invoke"
}

func pulseTopic(target, emitter string) string {
	return targetTopic(target) + "/emitters/" + emitter + "/pulse"
}

func newTestBackend(t *testing.T) (*backend.Client, *MockTransport) {
	t.Helper()
	transport := NewMockTransport()
	client, err := backend.New(backend.Options{Transport: transport, TopicPrefix: testPrefix})
	if err != nil {
		t.Fatalf("backend.New() error = %v", err)
	}
	return client, transport
}

func testInstanceArgs() backend.InstanceArgs {
	return backend.InstanceArgs{
		Name:      "Blackmagic Videohub",
		ShortID:   "blackmagic-videohub",
		Code:      "blackmagic-videohub",
		ServiceID: testServiceID,
	}
}

// recordingJournal implements CommandJournal.
type recordingJournal struct {
	mu      sync.Mutex
	entries []journalEntry
}

type journalEntry struct {
	Command string
	Details map[string]any
	Outcome string
	Err     error
}

func (j *recordingJournal) RecordCommand(command string, details map[string]any, outcome string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, journalEntry{Command: command, Details: details, Outcome: outcome, Err: err})
}

func (j *recordingJournal) Entries() []journalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]journalEntry(nil), j.entries...)
}

// recordingObserver implements EventObserver.
type recordingObserver struct {
	mu       sync.Mutex
	channels []string
}

func (o *recordingObserver) Broadcast(channel string, _ any) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.channels = append(o.channels, channel)
}

func (o *recordingObserver) Channels() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.channels...)
}

// testPrelude renders the initial state dump of an n x n router with every
// output routed straight through.
func testPrelude(n int) string {
	var b strings.Builder
	b.WriteString("PROTOCOL PREAMBLE:\nVersion: 2.8\n\n")
	fmt.Fprintf(&b, "VIDEOHUB DEVICE:\nDevice present: true\nModel name: Blackmagic Smart Videohub %dx%d\n"+
		"Friendly name: Studio Hub\nUnique ID: 7C2E0D021714\nVideo inputs: %d\nVideo outputs: %d\n\n", n, n, n, n)
	b.WriteString("INPUT LABELS:\n")
	for i := range n {
		fmt.Fprintf(&b, "%d Camera %d\n", i, i+1)
	}
	b.WriteString("\nOUTPUT LABELS:\n")
	for i := range n {
		fmt.Fprintf(&b, "%d Monitor %d\n", i, i+1)
	}
	b.WriteString("\nVIDEO OUTPUT LOCKS:\n")
	for i := range n {
		fmt.Fprintf(&b, "%d U\n", i)
	}
	b.WriteString("\nVIDEO OUTPUT ROUTING:\n")
	for i := range n {
		fmt.Fprintf(&b, "%d %d\n", i, i)
	}
	b.WriteString("\nEND PRELUDE:\n\n")
	return b.String()
}

// fakeVideohub is a TCP server speaking enough of the protocol for tests.
// Every accepted connection receives the prelude; client blocks are recorded.
type fakeVideohub struct {
	t       *testing.T
	ln      net.Listener
	prelude string

	mu       sync.Mutex
	conns    []net.Conn
	accepted int
	received []string
}

func newFakeVideohub(t *testing.T, prelude string) *fakeVideohub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeVideohub{t: t, ln: ln, prelude: prelude}
	go f.acceptLoop()
	t.Cleanup(f.Close)
	return f
}

func (f *fakeVideohub) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conns = append(f.conns, conn)
		f.accepted++
		f.mu.Unlock()

		if _, err := conn.Write([]byte(f.prelude)); err != nil {
			continue
		}
		go f.readLoop(conn)
	}
}

func (f *fakeVideohub) readLoop(conn net.Conn) {
	r := bufio.NewReader(conn)
	var block []string
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(block) > 0 {
				f.mu.Lock()
				f.received = append(f.received, strings.Join(block, "\n"))
				f.mu.Unlock()
			}
			block = nil
			continue
		}
		block = append(block, line)
	}
}

func (f *fakeVideohub) Port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeVideohub) SessionConfig() SessionConfig {
	return SessionConfig{Host: "127.0.0.1", Port: f.Port(), ConnectTimeout: time.Second}
}

// Send writes raw protocol text to the newest connection.
func (f *fakeVideohub) Send(text string) {
	f.t.Helper()
	f.mu.Lock()
	var conn net.Conn
	if len(f.conns) > 0 {
		conn = f.conns[len(f.conns)-1]
	}
	f.mu.Unlock()
	if conn == nil {
		f.t.Fatal("no client connected")
	}
	if _, err := conn.Write([]byte(text)); err != nil {
		f.t.Fatalf("write: %v", err)
	}
}

// DropConnections closes every accepted connection.
func (f *fakeVideohub) DropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = nil
	f.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (f *fakeVideohub) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

func (f *fakeVideohub) Received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func (f *fakeVideohub) Close() {
	_ = f.ln.Close()
	f.DropConnections()
}

// waitFor polls cond until it holds or timeout passes.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// drainCommand reads one command from q or fails.
func drainCommand(t *testing.T, q *CommandQueue) Command {
	t.Helper()
	select {
	case cmd := <-q.C():
		return cmd
	case <-time.After(time.Second):
		t.Fatal("no command queued")
		return nil
	}
}
