package backend

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu         sync.Mutex
	published  []mockPublish
	handlers   map[string]func(topic string, payload []byte)
	subscribed []string
	connected  bool
	publishErr error
	block      chan struct{}
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockTransport) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *MockTransport) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockTransport) SetConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
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

func (m *MockTransport) Simulate(topic string, payload []byte) bool {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
	return ok
}

type setPayload struct {
	Output uint32 `json:"output" jsonschema:"minimum=1"`
	Input  uint32 `json:"input" jsonschema:"minimum=1"`
}

type statusPayload struct {
	Connected bool `json:"connected"`
}

func newTestClient(t *testing.T) (*Client, *MockTransport) {
	t.Helper()
	transport := NewMockTransport()
	client, err := New(Options{Transport: transport, TopicPrefix: "test"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return client, transport
}

func newTestTarget(t *testing.T, client *Client) *Target {
	t.Helper()
	inst, err := client.RegisterInstance(InstanceArgs{Name: "Hub", ServiceID: "svc"})
	if err != nil {
		t.Fatalf("RegisterInstance() error = %v", err)
	}
	target, err := inst.RegisterTarget(TargetArgs{Name: "Device", ShortID: "device", Category: "video"})
	if err != nil {
		t.Fatalf("RegisterTarget() error = %v", err)
	}
	return target
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New() without transport should fail")
	}
}

func TestNew_Defaults(t *testing.T) {
	client, err := New(Options{Transport: NewMockTransport()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if client.Topics().Prefix != DefaultTopicPrefix {
		t.Errorf("prefix = %q, want %q", client.Topics().Prefix, DefaultTopicPrefix)
	}
	if client.qos != DefaultQoS {
		t.Errorf("qos = %d, want %d", client.qos, DefaultQoS)
	}
}

func TestRegisterInstance_PublishesRetainedDescriptor(t *testing.T) {
	client, transport := newTestClient(t)

	inst, err := client.RegisterInstance(InstanceArgs{
		Name:      "Blackmagic Videohub",
		ShortID:   "blackmagic-videohub",
		Code:      "blackmagic-videohub",
		ServiceID: "svc",
		Color:     "#FF6B35",
	})
	if err != nil {
		t.Fatalf("RegisterInstance() error = %v", err)
	}
	if inst.ServiceID() != "svc" {
		t.Errorf("ServiceID() = %q", inst.ServiceID())
	}

	published := transport.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published %d messages, want 1", len(published))
	}
	if published[0].Topic != "test/instances/svc" || !published[0].Retained {
		t.Errorf("publish = %+v", published[0])
	}

	var desc InstanceDescriptor
	if err := json.Unmarshal(published[0].Payload, &desc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if desc.Status != "online" || desc.Color != "#FF6B35" || desc.Code != "blackmagic-videohub" {
		t.Errorf("descriptor = %+v", desc)
	}
}

func TestRegisterInstance_InvalidServiceID(t *testing.T) {
	client, _ := newTestClient(t)

	for _, id := range []string{"", "a/b", "a+b", "a#"} {
		if _, err := client.RegisterInstance(InstanceArgs{ServiceID: id}); !errors.Is(err, ErrInvalidID) {
			t.Errorf("RegisterInstance(%q) error = %v, want ErrInvalidID", id, err)
		}
	}
}

func TestRegisterTarget_IDAndParents(t *testing.T) {
	client, transport := newTestClient(t)
	device := newTestTarget(t, client)

	if device.ID() != "svc:device" {
		t.Errorf("ID() = %q, want svc:device", device.ID())
	}

	inst := device.instance
	output, err := inst.RegisterTarget(TargetArgs{Name: "Output 1", ShortID: "output-1", Parents: []string{device.ID()}})
	if err != nil {
		t.Fatalf("RegisterTarget() error = %v", err)
	}

	last := transport.GetPublished()[len(transport.GetPublished())-1]
	if last.Topic != "test/targets/svc/output-1" {
		t.Errorf("topic = %q", last.Topic)
	}
	var desc TargetDescriptor
	if err := json.Unmarshal(last.Payload, &desc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(desc.ParentTargets) != 1 || desc.ParentTargets[0] != "svc:device" {
		t.Errorf("parents = %v", desc.ParentTargets)
	}
	if output.Name() != "Output 1" || output.ShortID() != "output-1" {
		t.Errorf("target = %q/%q", output.Name(), output.ShortID())
	}
}

func TestRegisterTarget_PublishFailure(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)

	transport.mu.Lock()
	transport.publishErr = errors.New("broker gone")
	transport.mu.Unlock()

	_, err := target.instance.RegisterTarget(TargetArgs{Name: "Output 1", ShortID: "output-1"})
	if !errors.Is(err, ErrRegistrationFailed) {
		t.Errorf("error = %v, want ErrRegistrationFailed", err)
	}
}

func TestRegisterAction_DecodesPayload(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)

	var (
		mu  sync.Mutex
		got []setPayload
	)
	err := RegisterAction(target, ActionArgs{Name: "Set route", ShortID: "set-route"}, func(p setPayload) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("RegisterAction() error = %v", err)
	}

	invoke := "test/targets/svc/device/actions/set-route/invoke"
	if !transport.Simulate(invoke, []byte(`{"output":3,"input":5}`)) {
		t.Fatalf("no handler subscribed on %s", invoke)
	}
	transport.Simulate(invoke, []byte(`not json`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].Output != 3 || got[0].Input != 5 {
		t.Errorf("handled = %+v", got)
	}

	stats := client.Stats()
	if stats.Invocations != 1 || stats.Rejected != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRegisterAction_DescriptorSchema(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)

	if err := RegisterAction(target, ActionArgs{Name: "Set route", ShortID: "set-route"}, func(setPayload) {}); err != nil {
		t.Fatalf("RegisterAction() error = %v", err)
	}

	var found bool
	for _, p := range transport.GetPublished() {
		if p.Topic != "test/targets/svc/device/actions/set-route" {
			continue
		}
		found = true
		var desc ActionDescriptor
		if err := json.Unmarshal(p.Payload, &desc); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if desc.ID != "svc:device:set-route" {
			t.Errorf("ID = %q", desc.ID)
		}
		schema := string(desc.Schema)
		if !strings.Contains(schema, `"output"`) || !strings.Contains(schema, `"minimum":1`) {
			t.Errorf("schema = %s", schema)
		}
		if strings.Contains(schema, `"$ref"`) {
			t.Errorf("schema should be inlined: %s", schema)
		}
	}
	if !found {
		t.Fatal("action descriptor not published")
	}
}

func TestRegisterAction_NilHandler(t *testing.T) {
	client, _ := newTestClient(t)
	target := newTestTarget(t, client)

	err := RegisterAction[setPayload](target, ActionArgs{Name: "x", ShortID: "x"}, nil)
	if !errors.Is(err, ErrRegistrationFailed) {
		t.Errorf("error = %v, want ErrRegistrationFailed", err)
	}
}

func TestEmitter_Pulse(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)

	status, err := RegisterEmitter[statusPayload](target, EmitterArgs{Name: "Status", ShortID: "device-status"})
	if err != nil {
		t.Fatalf("RegisterEmitter() error = %v", err)
	}
	if status.ID() != "svc:device:device-status" {
		t.Errorf("ID() = %q", status.ID())
	}

	transport.ClearPublished()
	if err := status.Pulse(statusPayload{Connected: true}); err != nil {
		t.Fatalf("Pulse() error = %v", err)
	}

	published := transport.GetPublished()
	if len(published) != 1 {
		t.Fatalf("published %d, want 1", len(published))
	}
	if published[0].Topic != "test/targets/svc/device/emitters/device-status/pulse" || published[0].Retained {
		t.Errorf("pulse = %+v", published[0])
	}

	var pulse struct {
		EmitterID string        `json:"emitter_id"`
		Data      statusPayload `json:"data"`
	}
	if err := json.Unmarshal(published[0].Payload, &pulse); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pulse.EmitterID != status.ID() || !pulse.Data.Connected {
		t.Errorf("pulse = %+v", pulse)
	}
}

func TestEmitter_PulseFailure(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)

	status, err := RegisterEmitter[statusPayload](target, EmitterArgs{Name: "Status", ShortID: "status"})
	if err != nil {
		t.Fatalf("RegisterEmitter() error = %v", err)
	}

	transport.mu.Lock()
	transport.publishErr = errors.New("offline")
	transport.mu.Unlock()

	if err := status.Pulse(statusPayload{}); !errors.Is(err, ErrPulseFailed) {
		t.Errorf("error = %v, want ErrPulseFailed", err)
	}
	if client.Stats().PulseErrors != 1 {
		t.Errorf("PulseErrors = %d", client.Stats().PulseErrors)
	}
}

func TestRepublish_ResendsDescriptorsInOrder(t *testing.T) {
	client, transport := newTestClient(t)
	target := newTestTarget(t, client)
	if err := RegisterAction(target, ActionArgs{Name: "Set", ShortID: "set"}, func(setPayload) {}); err != nil {
		t.Fatalf("RegisterAction() error = %v", err)
	}

	before := transport.GetPublished()
	transport.ClearPublished()

	if err := client.Republish(); err != nil {
		t.Fatalf("Republish() error = %v", err)
	}

	after := transport.GetPublished()
	if len(after) != len(before) {
		t.Fatalf("republished %d, want %d", len(after), len(before))
	}
	for i := range after {
		if after[i].Topic != before[i].Topic || !after[i].Retained {
			t.Errorf("republish[%d] = %s, want %s", i, after[i].Topic, before[i].Topic)
		}
	}
	if stats := client.Stats(); stats.Descriptors != 3 || stats.Subscriptions != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestProbe(t *testing.T) {
	client, transport := newTestClient(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !client.Probe(ctx) {
		t.Error("Probe() = false on connected transport")
	}

	transport.SetConnected(false)
	if client.Probe(ctx) {
		t.Error("Probe() = true on disconnected transport")
	}
}

func TestProbe_TimesOut(t *testing.T) {
	client, transport := newTestClient(t)

	block := make(chan struct{})
	transport.mu.Lock()
	transport.block = block
	transport.mu.Unlock()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if client.Probe(ctx) {
		t.Error("Probe() = true for a transport that never answers")
	}
}
