package videohub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Session defaults.
const (
	// DefaultConnectTimeout bounds a single dial attempt.
	DefaultConnectTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single block write.
	defaultWriteTimeout = 5 * time.Second

	// defaultKeepAlive is the TCP keepalive period for the device socket.
	defaultKeepAlive = 30 * time.Second

	// incomingBufferSize is the number of decoded blocks buffered between
	// the socket reader and the device task.
	incomingBufferSize = 100
)

// Logger is the logging interface used throughout the package.
// Compatible with *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Received is one item delivered on Session.Incoming.
// Exactly one of Message and Err is set. A closed channel means the stream
// ended.
type Received struct {
	Message Message
	Err     error
}

// SessionConfig holds the device connection settings.
type SessionConfig struct {
	// Host is the Videohub address.
	Host string

	// Port is the Videohub TCP port. Default: 9990.
	Port int

	// ConnectTimeout bounds one dial. Default: 5s.
	ConnectTimeout time.Duration
}

// SessionStats reports session counters.
type SessionStats struct {
	Connected   bool   `json:"connected"`
	Address     string `json:"address"`
	Connects    uint64 `json:"connects"`
	BlocksRx    uint64 `json:"blocks_rx"`
	BlocksTx    uint64 `json:"blocks_tx"`
	DecodeError uint64 `json:"decode_errors"`
}

// Session owns the single TCP connection to a Videohub and the DeviceState
// built from it.
//
// Thread Safety: Connect, Apply, State, the reconnect flag and the Set*
// methods belong to the device task. Incoming, IsConnected, Stats and Close
// may be called from any goroutine.
type Session struct {
	cfg     SessionConfig
	address string
	dialer  net.Dialer

	connMu   sync.Mutex
	conn     net.Conn
	incoming chan Received
	done     chan struct{}

	state           DeviceState
	justReconnected bool

	connected   atomic.Bool
	connects    atomic.Uint64
	blocksRx    atomic.Uint64
	blocksTx    atomic.Uint64
	decodeError atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a session. It does not connect.
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("videohub host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid videohub port %d", cfg.Port)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	return &Session{
		cfg:     cfg,
		address: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dialer: net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: defaultKeepAlive,
		},
		state: NewDeviceState(),
	}, nil
}

// SetLogger sets the logger for this session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// Address returns host:port of the device.
func (s *Session) Address() string {
	return s.address
}

// Connect dials the device, replacing any previous connection, and sets the
// reconnect flag. DeviceState survives reconnection so that the last known
// device info stays available.
func (s *Session) Connect(ctx context.Context) error {
	_ = s.closeConn() //nolint:errcheck // previous connection is being replaced

	s.logDebug("connecting to videohub", "address", s.address)
	conn, err := s.dialer.DialContext(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, s.address, err)
	}

	incoming := make(chan Received, incomingBufferSize)
	done := make(chan struct{})

	s.connMu.Lock()
	s.conn = conn
	s.incoming = incoming
	s.done = done
	s.connected.Store(true)
	s.connMu.Unlock()

	s.justReconnected = true
	s.connects.Add(1)

	go s.readLoop(conn, incoming, done)

	s.logDebug("connected to videohub", "address", s.address)
	return nil
}

// readLoop decodes blocks until the stream fails, then closes out.
// It never touches DeviceState.
func (s *Session) readLoop(conn net.Conn, out chan<- Received, done <-chan struct{}) {
	defer close(out)
	defer s.markDisconnected(conn)

	dec := NewDecoder(conn)
	for {
		msg, err := dec.Next()
		item := Received{Message: msg}
		if err != nil {
			if !errors.Is(err, ErrMalformedBlock) {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					s.logDebug("videohub read ended", "error", err)
				}
				return
			}
			s.decodeError.Add(1)
			item = Received{Err: err}
		} else {
			s.blocksRx.Add(1)
		}

		select {
		case out <- item:
		case <-done:
			return
		}
	}
}

// markDisconnected clears the connected flag unless conn was already replaced.
func (s *Session) markDisconnected(conn net.Conn) {
	s.connMu.Lock()
	if s.conn == conn {
		s.connected.Store(false)
	}
	s.connMu.Unlock()
}

// Incoming returns the channel of decoded blocks for the current connection.
// It is nil before the first Connect, so a select on it blocks.
func (s *Session) Incoming() <-chan Received {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.incoming
}

// Apply folds a received block into DeviceState.
func (s *Session) Apply(msg Message) {
	s.state.apply(msg)
}

// State returns a copy of the current DeviceState.
func (s *Session) State() DeviceState {
	st := s.state.Clone()
	st.Connected = s.connected.Load()
	return st
}

// JustReconnected reports whether the initial state dump of the current
// connection is still in progress.
func (s *Session) JustReconnected() bool {
	return s.justReconnected
}

// ClearReconnectedFlag ends the re-announcement window.
func (s *Session) ClearReconnectedFlag() {
	s.justReconnected = false
}

// IsConnected reports whether the socket reader is still running.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// Send writes one block to the device.
func (s *Session) Send(ctx context.Context, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}

	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	s.blocksTx.Add(1)
	return nil
}

// SetRoute routes input to output (both zero-based).
func (s *Session) SetRoute(ctx context.Context, output, input uint32) error {
	s.logInfo("setting route", "output", output, "input", input)
	return s.Send(ctx, VideoOutputRouting{{Output: output, Input: input}})
}

// SetInputLabel renames an input.
func (s *Session) SetInputLabel(ctx context.Context, input uint32, label string) error {
	s.logInfo("setting input label", "input", input, "label", label)
	return s.Send(ctx, InputLabels{{ID: input, Name: label}})
}

// SetOutputLabel renames an output.
func (s *Session) SetOutputLabel(ctx context.Context, output uint32, label string) error {
	s.logInfo("setting output label", "output", output, "label", label)
	return s.Send(ctx, OutputLabels{{ID: output, Name: label}})
}

// refreshQueries are the blocks re-requested by RequestFullState.
var refreshQueries = []string{
	headerDevice,
	headerInputLabels,
	headerOutputLabels,
	headerRouting,
	headerLocks,
	headerTakeMode,
}

// RequestFullState asks the device to dump every tracked block again without
// dropping the connection.
func (s *Session) RequestFullState(ctx context.Context) error {
	var errs []error
	for _, header := range refreshQueries {
		if err := s.Send(ctx, Query{Header: header}); err != nil {
			errs = append(errs, fmt.Errorf("query %s: %w", header, err))
			if errors.Is(err, ErrNotConnected) {
				break
			}
		}
	}
	return errors.Join(errs...)
}

// Stats returns session counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		Connected:   s.connected.Load(),
		Address:     s.address,
		Connects:    s.connects.Load(),
		BlocksRx:    s.blocksRx.Load(),
		BlocksTx:    s.blocksTx.Load(),
		DecodeError: s.decodeError.Load(),
	}
}

// Close drops the connection. The incoming channel is closed by the reader.
func (s *Session) Close() error {
	return s.closeConn()
}

func (s *Session) closeConn() error {
	s.connMu.Lock()
	conn, done := s.conn, s.done
	s.conn, s.done = nil, nil
	s.connected.Store(false)
	s.connMu.Unlock()

	if done != nil {
		close(done)
	}
	if conn == nil {
		return nil
	}
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Session) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Info(msg, keysAndValues...)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	if l := s.getLogger(); l != nil {
		l.Debug(msg, keysAndValues...)
	}
}
