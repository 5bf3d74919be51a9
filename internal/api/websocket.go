package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/videohub-bridge/internal/bridges/videohub"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/config"
	"github.com/nerrad567/videohub-bridge/internal/infrastructure/logging"
)

// Request types accepted from stream clients.
const (
	RequestSubscribe   = "subscribe"
	RequestUnsubscribe = "unsubscribe"
	RequestSnapshot    = "snapshot"
	RequestPing        = "ping"
)

// Frame types sent to stream clients.
const (
	FrameSnapshot = "snapshot"
	FrameEvent    = "event"
	FrameAck      = "ack"
	FramePong     = "pong"
	FrameError    = "error"
)

// ChannelAll subscribes a client to every event channel.
const ChannelAll = "*"

const (
	// clientSendBuffer is the per-client outbound frame buffer. A client
	// that lets it fill up is disconnected.
	clientSendBuffer = 256

	// hubEventBuffer holds broadcasts waiting for the hub goroutine.
	hubEventBuffer = 256
)

// Request is a message from a stream client, for example
//
//	{"type":"subscribe","id":"1","channels":["videohub.route_changed"]}
type Request struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channels []string `json:"channels,omitempty"`
}

// Frame is a message to a stream client. Event frames carry the channel and
// the payload the bridge broadcast; snapshot frames carry the DeviceState.
type Frame struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
}

func encodeFrame(frameType, id, channel string, data any) ([]byte, error) {
	return json.Marshal(Frame{
		Type:      frameType,
		ID:        id,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
}

func errorFrame(id, message string) []byte {
	data, _ := encodeFrame(FrameError, id, "", map[string]string{"message": message}) //nolint:errcheck // plain strings always encode
	return data
}

// streamClient is one WebSocket connection. subs is only touched by the
// hub goroutine.
type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	subs map[string]struct{}
}

func newStreamClient(conn *websocket.Conn, channels []string) *streamClient {
	c := &streamClient{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		subs: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		c.subs[ch] = struct{}{}
	}
	return c
}

func (c *streamClient) wants(channel string) bool {
	if _, ok := c.subs[ChannelAll]; ok {
		return true
	}
	_, ok := c.subs[channel]
	return ok
}

func (c *streamClient) channels() []string {
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

type hubEvent struct {
	channel string
	frame   []byte
}

// Hub fans bridge events out to stream clients. It implements the bridge's
// EventObserver.
//
// One goroutine (Run) owns the client set and every subscription. Other
// goroutines hand it work through inbox; Broadcast never blocks and drops
// events when the hub falls behind.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger
	known  map[string]struct{}

	inbox  chan func()
	events chan hubEvent
	done   chan struct{}

	clients map[*streamClient]struct{}

	running atomic.Bool
	count   atomic.Int64
	dropped atomic.Uint64
}

// NewHub creates a hub accepting the bridge's event channels. Call Run.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	known := make(map[string]struct{})
	for _, ch := range videohub.EventChannels() {
		known[ch] = struct{}{}
	}
	known[ChannelAll] = struct{}{}

	return &Hub{
		cfg:     cfg,
		logger:  logger,
		known:   known,
		inbox:   make(chan func()),
		events:  make(chan hubEvent, hubEventBuffer),
		done:    make(chan struct{}),
		clients: make(map[*streamClient]struct{}),
	}
}

// Run serves the hub until ctx ends, then disconnects every client. Only
// the first call does anything.
func (h *Hub) Run(ctx context.Context) {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case fn := <-h.inbox:
			fn()
		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

// call runs fn on the hub goroutine and waits for it. It reports false
// when the hub has stopped.
func (h *Hub) call(fn func()) bool {
	finished := make(chan struct{})
	select {
	case h.inbox <- func() { fn(); close(finished) }:
		<-finished
		return true
	case <-h.done:
		return false
	}
}

// UnknownChannels returns the entries of channels no event is broadcast on.
func (h *Hub) UnknownChannels(channels []string) []string {
	var unknown []string
	for _, ch := range channels {
		if _, ok := h.known[ch]; !ok {
			unknown = append(unknown, ch)
		}
	}
	return unknown
}

func (h *Hub) register(c *streamClient) bool {
	return h.call(func() {
		h.clients[c] = struct{}{}
		h.count.Add(1)
		h.logger.Debug("stream client connected", "channels", c.channels(), "clients", len(h.clients))
	})
}

func (h *Hub) unregister(c *streamClient) {
	h.call(func() { h.drop(c) })
}

// drop forgets c and closes its send channel, which ends its write pump.
func (h *Hub) drop(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
	h.logger.Debug("stream client disconnected", "clients", len(h.clients))
}

// push queues frame for c. A client whose buffer is full has missed
// frames and is dropped; it gets a fresh snapshot when it reconnects.
func (h *Hub) push(c *streamClient, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("stream client too slow, disconnecting")
		h.drop(c)
	}
}

func (h *Hub) reply(c *streamClient, frame []byte) {
	h.call(func() {
		if _, ok := h.clients[c]; ok {
			h.push(c, frame)
		}
	})
}

// subscribe adds (or removes) channels for c and acknowledges with the
// resulting subscription list.
func (h *Hub) subscribe(c *streamClient, id string, channels []string, add bool) {
	h.call(func() {
		if _, ok := h.clients[c]; !ok {
			return
		}
		for _, ch := range channels {
			if add {
				c.subs[ch] = struct{}{}
			} else {
				delete(c.subs, ch)
			}
		}
		frame, err := encodeFrame(FrameAck, id, "", map[string][]string{"channels": c.channels()})
		if err != nil {
			return
		}
		h.push(c, frame)
	})
}

func (h *Hub) deliver(ev hubEvent) {
	for c := range h.clients {
		if c.wants(ev.channel) {
			h.push(c, ev.frame)
		}
	}
}

// Broadcast queues payload for the clients subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	if h.count.Load() == 0 {
		return
	}

	frame, err := encodeFrame(FrameEvent, "", channel, payload)
	if err != nil {
		h.logger.Error("encoding stream event failed", "channel", channel, "error", err)
		return
	}

	select {
	case h.events <- hubEvent{channel: channel, frame: frame}:
	default:
		if h.dropped.Add(1) == 1 {
			h.logger.Warn("stream hub behind, dropping events", "channel", channel)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Dropped returns how many broadcasts were dropped because the hub fell
// behind.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// splitChannels parses the comma-separated channels query parameter.
func splitChannels(raw string) []string {
	var out []string
	for _, ch := range strings.Split(raw, ",") {
		if ch = strings.TrimSpace(ch); ch != "" {
			out = append(out, ch)
		}
	}
	return out
}

// handleWebSocket upgrades to the live event stream. The optional channels
// query parameter subscribes straight away; unknown channels are refused
// before the upgrade. The first frame is the current device snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	channels := splitChannels(r.URL.Query().Get("channels"))
	if unknown := s.hub.UnknownChannels(channels); len(unknown) > 0 {
		writeBadRequest(w, "unknown channels: "+strings.Join(unknown, ", "))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newStreamClient(conn, channels)
	snapshot, err := encodeFrame(FrameSnapshot, "", "", s.bridge.Snapshot())
	if err != nil {
		s.logger.Error("encoding snapshot failed", "error", err)
		conn.Close()
		return
	}
	client.send <- snapshot

	if !s.hub.register(client) {
		conn.Close()
		return
	}

	go client.writePump(s.wsCfg)
	go s.readPump(client)
}

// readPump reads client requests until the connection fails.
func (s *Server) readPump(c *streamClient) {
	defer func() {
		s.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(s.wsCfg.MaxMessageSize))
	wait := time.Duration(s.wsCfg.PingInterval+s.wsCfg.PongTimeout) * time.Second
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(wait)) }
	extend() //nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		extend() //nolint:errcheck // any request counts as liveness
		s.handleRequest(c, data)
	}
}

func (s *Server) handleRequest(c *streamClient, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.hub.reply(c, errorFrame("", "invalid JSON message"))
		return
	}

	switch req.Type {
	case RequestSubscribe, RequestUnsubscribe:
		if len(req.Channels) == 0 {
			s.hub.reply(c, errorFrame(req.ID, "channels is required"))
			return
		}
		if unknown := s.hub.UnknownChannels(req.Channels); len(unknown) > 0 {
			s.hub.reply(c, errorFrame(req.ID, "unknown channels: "+strings.Join(unknown, ", ")))
			return
		}
		s.hub.subscribe(c, req.ID, req.Channels, req.Type == RequestSubscribe)

	case RequestSnapshot:
		frame, err := encodeFrame(FrameSnapshot, req.ID, "", s.bridge.Snapshot())
		if err != nil {
			s.hub.reply(c, errorFrame(req.ID, "snapshot unavailable"))
			return
		}
		s.hub.reply(c, frame)

	case RequestPing:
		frame, err := encodeFrame(FramePong, req.ID, "", nil)
		if err == nil {
			s.hub.reply(c, frame)
		}

	default:
		s.hub.reply(c, errorFrame(req.ID, "unknown request type: "+req.Type))
	}
}

// writePump writes queued frames and keepalive pings. It exits when the
// hub closes the send channel or a write fails.
func (c *streamClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write error caught below
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // best-effort close
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // ping error caught below
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
