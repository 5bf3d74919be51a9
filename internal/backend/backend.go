package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultQoS is the MQTT quality of service used for descriptors, pulses and
// action subscriptions.
const DefaultQoS byte = 1

// Transport is the message bus the client publishes on.
//
// The infrastructure MQTT client satisfies this through a small adapter in
// the main package.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// Logger is the logging surface used by the client.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a Client.
type Options struct {
	Transport   Transport
	TopicPrefix string
	QoS         byte
	Logger      Logger
}

// Stats holds client counters.
type Stats struct {
	Descriptors   int    `json:"descriptors"`
	Subscriptions int    `json:"subscriptions"`
	Invocations   uint64 `json:"invocations"`
	Rejected      uint64 `json:"rejected"`
	Pulses        uint64 `json:"pulses"`
	PulseErrors   uint64 `json:"pulse_errors"`
}

type subscription struct {
	topic   string
	handler func(topic string, payload []byte)
}

// Client registers instances, targets, actions and emitters on a Transport.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	transport Transport
	topics    Topics
	qos       byte

	mu            sync.Mutex
	descriptors   map[string][]byte
	order         []string
	subscriptions []subscription

	invocations atomic.Uint64
	rejected    atomic.Uint64
	pulses      atomic.Uint64
	pulseErrors atomic.Uint64

	logger Logger
}

// New creates a backend client.
func New(opts Options) (*Client, error) {
	if opts.Transport == nil {
		return nil, errors.New("backend: transport is required")
	}

	prefix := opts.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	qos := opts.QoS
	if qos == 0 {
		qos = DefaultQoS
	}

	return &Client{
		transport:   opts.Transport,
		topics:      Topics{Prefix: prefix},
		qos:         qos,
		descriptors: make(map[string][]byte),
		logger:      opts.Logger,
	}, nil
}

// Topics returns the topic builder used by the client.
func (c *Client) Topics() Topics {
	return c.topics
}

// IsConnected reports whether the transport is connected.
func (c *Client) IsConnected() bool {
	return c.transport.IsConnected()
}

// Probe checks transport connectivity, giving up when ctx expires.
//
// A probe that does not answer in time counts as disconnected.
func (c *Client) Probe(ctx context.Context) bool {
	result := make(chan bool, 1)
	go func() {
		result <- c.transport.IsConnected()
	}()

	select {
	case ok := <-result:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Republish re-sends every retained descriptor and renews every action
// subscription, in registration order.
func (c *Client) Republish() error {
	c.mu.Lock()
	topics := append([]string(nil), c.order...)
	payloads := make([][]byte, len(topics))
	for i, topic := range topics {
		payloads[i] = c.descriptors[topic]
	}
	subs := append([]subscription(nil), c.subscriptions...)
	c.mu.Unlock()

	var errs []error
	for i, topic := range topics {
		if err := c.transport.Publish(topic, payloads[i], c.qos, true); err != nil {
			errs = append(errs, fmt.Errorf("publishing %s: %w", topic, err))
		}
	}
	for _, sub := range subs {
		if err := c.transport.Subscribe(sub.topic, c.qos, sub.handler); err != nil {
			errs = append(errs, fmt.Errorf("subscribing %s: %w", sub.topic, err))
		}
	}

	c.logDebug("backend descriptors republished", "descriptors", len(topics), "subscriptions", len(subs))
	return errors.Join(errs...)
}

// Stats returns a snapshot of the client counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	descriptors := len(c.order)
	subscriptions := len(c.subscriptions)
	c.mu.Unlock()

	return Stats{
		Descriptors:   descriptors,
		Subscriptions: subscriptions,
		Invocations:   c.invocations.Load(),
		Rejected:      c.rejected.Load(),
		Pulses:        c.pulses.Load(),
		PulseErrors:   c.pulseErrors.Load(),
	}
}

// publishRetained marshals v and publishes it retained, remembering it for
// Republish once the broker has accepted it.
func (c *Client) publishRetained(topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling descriptor: %w", err)
	}

	if err := c.transport.Publish(topic, payload, c.qos, true); err != nil {
		return err
	}

	c.mu.Lock()
	if _, seen := c.descriptors[topic]; !seen {
		c.order = append(c.order, topic)
	}
	c.descriptors[topic] = payload
	c.mu.Unlock()
	return nil
}

// subscribe registers handler on topic, replacing an earlier handler for the
// same topic.
func (c *Client) subscribe(topic string, handler func(topic string, payload []byte)) error {
	if err := c.transport.Subscribe(topic, c.qos, handler); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.subscriptions {
		if c.subscriptions[i].topic == topic {
			c.subscriptions[i].handler = handler
			return nil
		}
	}
	c.subscriptions = append(c.subscriptions, subscription{topic: topic, handler: handler})
	return nil
}

func (c *Client) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

func (c *Client) logInfo(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Info(msg, args...)
	}
}

func (c *Client) logWarn(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
