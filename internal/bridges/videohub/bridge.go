package videohub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/videohub-bridge/internal/backend"
)

// DefaultReceiveErrorDelay is the pause after a malformed block.
const DefaultReceiveErrorDelay = 1 * time.Second

// DeviceSession is the device connection the bridge drives.
// Implemented by *Session; replaced by a mock in tests.
type DeviceSession interface {
	Connect(ctx context.Context) error
	Incoming() <-chan Received
	Apply(msg Message)
	State() DeviceState
	JustReconnected() bool
	ClearReconnectedFlag()
	SetRoute(ctx context.Context, output, input uint32) error
	SetInputLabel(ctx context.Context, input uint32, label string) error
	SetOutputLabel(ctx context.Context, output uint32, label string) error
	RequestFullState(ctx context.Context) error
	IsConnected() bool
	Stats() SessionStats
	Close() error
}

var _ DeviceSession = (*Session)(nil)

// Config holds bridge runtime settings.
type Config struct {
	// Instance identifies this bridge to the backend.
	Instance backend.InstanceArgs

	// Reconnect tunes the device reconnect delay. Default: fixed 5s.
	Reconnect BackoffConfig

	// ReceiveErrorDelay is the pause after a malformed block. Default: 1s.
	ReceiveErrorDelay time.Duration

	// MonitorInterval is the backend poll period. Default: 5s.
	MonitorInterval time.Duration

	// ProbeTimeout bounds one backend probe. Default: 100ms.
	ProbeTimeout time.Duration

	// CommandQueueSize and EventQueueSize default to 100.
	CommandQueueSize int
	EventQueueSize   int

	// HealthInterval is the health publish period. Default: 30s.
	HealthInterval time.Duration

	// Version is reported in health messages.
	Version string
}

func (c *Config) applyDefaults() {
	if c.ReceiveErrorDelay <= 0 {
		c.ReceiveErrorDelay = DefaultReceiveErrorDelay
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = DefaultMonitorInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.CommandQueueSize <= 0 {
		c.CommandQueueSize = DefaultQueueSize
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultQueueSize
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.Version == "" {
		c.Version = "dev"
	}
}

// BridgeOptions holds the dependencies of a bridge.
type BridgeOptions struct {
	// Config is the bridge configuration.
	Config *Config

	// Session is the device connection.
	Session DeviceSession

	// Backend is the automation backend client.
	Backend *backend.Client

	// Journal records dispatched commands. Optional.
	Journal CommandJournal

	// Observer receives every emitted payload. Optional.
	Observer EventObserver

	// Metrics receives health counters on every health tick. Optional.
	Metrics MetricsWriter

	// Logger is an optional structured logger.
	Logger Logger
}

// Bridge keeps the backend's view of one Videohub consistent with the device.
//
// Thread Safety: Start, Stop, GetMetrics and Snapshot are safe for concurrent
// use. Everything else runs on the goroutines started by Start.
type Bridge struct {
	cfg      Config
	session  DeviceSession
	backend  *backend.Client
	journal  CommandJournal
	observer EventObserver
	metrics  MetricsWriter

	commands *CommandQueue
	events   chan Event
	refresh  chan struct{}

	// Device task state.
	tracker    *Tracker
	backoff    *Backoff
	dispatcher *Dispatcher

	targets *TargetManager
	monitor *Monitor
	health  *HealthReporter

	snapshot atomic.Pointer[DeviceState]

	reconnects    atomic.Uint64
	eventsEmitted atomic.Uint64
	refreshes     atomic.Uint64
	receiveErrors atomic.Uint64

	started  atomic.Bool
	running  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	ctx      context.Context // cancelled on Stop
	cancel   context.CancelFunc

	logger Logger
}

// NewBridge creates a bridge. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Session == nil {
		return nil, fmt.Errorf("device session is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend client is required")
	}

	cfg := *opts.Config
	cfg.applyDefaults()

	b := &Bridge{
		cfg:      cfg,
		session:  opts.Session,
		backend:  opts.Backend,
		journal:  opts.Journal,
		observer: opts.Observer,
		metrics:  opts.Metrics,
		commands: NewCommandQueue(cfg.CommandQueueSize),
		events:   make(chan Event, cfg.EventQueueSize),
		refresh:  make(chan struct{}, refreshSignalBuffer),
		tracker:  NewTracker(),
		backoff:  NewBackoff(cfg.Reconnect),
		logger:   opts.Logger,
	}
	b.dispatcher = NewDispatcher(opts.Session, opts.Journal, opts.Logger)

	initial := opts.Session.State()
	b.snapshot.Store(&initial)

	return b, nil
}

// Start registers the instance, the device target and its actions and
// emitters, then launches the device, event and monitor goroutines.
// Registration failures are returned and nothing is started.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return errors.New("bridge already started")
	}
	if err := b.register(ctx); err != nil {
		b.started.Store(false)
		return err
	}

	b.wg.Add(3)
	go func() {
		defer b.wg.Done()
		b.runDevice(b.ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.targets.Run(b.ctx, b.events)
	}()
	go func() {
		defer b.wg.Done()
		b.monitor.Run(b.ctx)
	}()

	b.health.Start(b.ctx)
	b.running.Store(true)

	b.logInfo("videohub bridge started",
		"service_id", b.cfg.Instance.ServiceID,
		"device", b.cfg.Instance.Name,
	)
	return nil
}

// register creates the backend instance, health reporter, target manager
// and monitor.
func (b *Bridge) register(parent context.Context) error {
	instance, err := b.backend.RegisterInstance(b.cfg.Instance)
	if err != nil {
		return fmt.Errorf("registering instance: %w", err)
	}

	b.health = NewHealthReporter(HealthReporterConfig{
		ServiceID: instance.ServiceID(),
		Version:   b.cfg.Version,
		Interval:  b.cfg.HealthInterval,
		Publisher: instance,
		Source:    b.GetMetrics,
		Metrics:   b.metrics,
		Logger:    b.logger,
	})
	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}

	targets, err := NewTargetManager(TargetManagerOptions{
		Instance: instance,
		Commands: b.commands,
		Observer: b.observer,
		Logger:   b.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	if err := targets.Register(ctx); err != nil {
		cancel()
		return err
	}

	b.ctx, b.cancel = ctx, cancel
	b.targets = targets
	b.monitor = NewMonitor(b.backend, b.refresh, b.cfg.MonitorInterval, b.cfg.ProbeTimeout, b.logger)
	return nil
}

// Stop cancels the bridge goroutines, waits for them and closes the device
// connection. Safe to call more than once.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.commands.Close()
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()

		if b.health != nil {
			b.health.Stop()
		}
		if err := b.session.Close(); err != nil {
			b.logError("closing videohub session", err)
		}

		b.logInfo("videohub bridge stopped")
	})
}

// Commands returns the command queue fed by action handlers.
func (b *Bridge) Commands() *CommandQueue {
	return b.commands
}

// Snapshot returns the DeviceState published after the last device message.
func (b *Bridge) Snapshot() DeviceState {
	if st := b.snapshot.Load(); st != nil {
		return st.Clone()
	}
	return NewDeviceState()
}

// runDevice is the device task. It owns the session, the tracker, the
// backoff and the dispatcher.
func (b *Bridge) runDevice(ctx context.Context) {
	if err := b.session.Connect(ctx); err != nil {
		b.logError("initial videohub connection failed", err)
		b.emit(ctx, DeviceStatusChanged{Connected: false, Info: b.session.State().Info})
		if !b.reconnect(ctx) {
			return
		}
	}
	b.publishSnapshot()

	for {
		select {
		case <-ctx.Done():
			return

		case cmd := <-b.commands.C():
			b.dispatcher.Dispatch(ctx, cmd)

		case <-b.refresh:
			b.forceFullStateRefresh(ctx)

		case item, ok := <-b.session.Incoming():
			if !ok {
				b.logWarn("videohub connection lost", "address", b.session.Stats().Address)
				b.publishSnapshot()
				b.emit(ctx, DeviceStatusChanged{Connected: false, Info: b.session.State().Info})
				if !b.reconnect(ctx) {
					return
				}
				continue
			}
			if item.Err != nil {
				b.receiveErrors.Add(1)
				b.logWarn("videohub receive error", "error", item.Err)
				if !sleepContext(ctx, b.cfg.ReceiveErrorDelay) {
					return
				}
				continue
			}
			b.handleMessage(ctx, item.Message)
		}
	}
}

// reconnect waits and dials until a connect succeeds. It returns false when
// ctx ends first.
func (b *Bridge) reconnect(ctx context.Context) bool {
	for {
		delay := b.backoff.Next()
		b.logInfo("reconnecting to videohub", "delay", delay, "attempt", b.backoff.Attempts())
		if !sleepContext(ctx, delay) {
			return false
		}

		b.reconnects.Add(1)
		if err := b.session.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return false
			}
			b.logError("videohub reconnect failed", err)
			continue
		}

		b.backoff.Reset()
		b.logInfo("reconnected to videohub")
		b.publishSnapshot()
		return true
	}
}

// handleMessage folds msg into the session state and emits whatever changed.
func (b *Bridge) handleMessage(ctx context.Context, msg Message) {
	b.session.Apply(msg)
	b.diff(ctx, msg, b.session.State(), b.session.JustReconnected())
	b.publishSnapshot()
}

// diff emits events for the facts carried by msg, judged against state.
// It never modifies the session state.
func (b *Bridge) diff(ctx context.Context, msg Message, state DeviceState, force bool) {
	switch m := msg.(type) {
	case DeviceInfo:
		if state.Info == nil {
			return
		}
		b.logInfo("videohub device info",
			"model", state.Info.ModelName,
			"name", state.Info.FriendlyName,
			"inputs", state.Info.VideoInputs,
			"outputs", state.Info.VideoOutputs,
		)
		if b.tracker.ShouldEmit(deviceInfoKey(), deviceInfoValue(*state.Info), force) {
			b.emit(ctx, DeviceStatusChanged{Connected: true, Info: state.Info})
		}

	case InputLabels:
		for _, l := range m {
			if b.tracker.ShouldEmit(inputLabelKey(l.ID), l.Name, force) {
				b.emit(ctx, LabelChanged{PortType: PortInput, Port: l.ID, Label: l.Name})
			}
		}

	case OutputLabels:
		for _, l := range m {
			if b.tracker.ShouldEmit(outputLabelKey(l.ID), l.Name, force) {
				b.emit(ctx, LabelChanged{PortType: PortOutput, Port: l.ID, Label: l.Name})
			}
		}

	case VideoOutputRouting:
		for _, r := range m {
			if b.tracker.ShouldEmit(routeKey(r.Output), strconv.FormatUint(uint64(r.Input), 10), force) {
				b.emit(ctx, RouteChanged{
					Output:      r.Output,
					Input:       r.Input,
					InputLabel:  state.InputLabels[r.Input],
					OutputLabel: state.OutputLabels[r.Output],
				})
			}
		}

	case VideoOutputLocks:
		for _, l := range m {
			locked := l.State.Locked()
			if b.tracker.ShouldEmit(lockKey(l.Output), strconv.FormatBool(locked), force) {
				b.emit(ctx, LockChanged{Output: l.Output, Locked: locked})
			}
		}

	case TakeModes:
		for _, tm := range m {
			enabled := state.TakeMode[tm.Output]
			if b.tracker.ShouldEmit(takeModeKey(tm.Output), strconv.FormatBool(enabled), force) {
				b.emit(ctx, TakeModeChanged{Output: tm.Output, Enabled: enabled})
			}
		}

	case NetworkInterface:
		iface, ok := state.NetworkInterfaces[m.ID]
		if !ok {
			iface = m
		}
		if b.tracker.ShouldEmit(networkInterfaceKey(iface.ID), networkInterfaceValue(iface), force) {
			b.emit(ctx, NetworkInterfaceChanged{Interface: iface})
		}

	case EndPrelude:
		b.logDebug("videohub initial state dump complete")
		b.session.ClearReconnectedFlag()

	default:
		b.logOther(msg)
		b.scanState(ctx, state)
	}
}

// scanState is the fallback for blocks that do not carry take mode or
// network interface facts: it runs the cached ones through the tracker
// unforced, so only values that changed without a block of their own are
// announced.
func (b *Bridge) scanState(ctx context.Context, state DeviceState) {
	for _, output := range sortedKeys(state.TakeMode) {
		enabled := state.TakeMode[output]
		if b.tracker.ShouldEmit(takeModeKey(output), strconv.FormatBool(enabled), false) {
			b.emit(ctx, TakeModeChanged{Output: output, Enabled: enabled})
		}
	}
	for _, id := range sortedKeys(state.NetworkInterfaces) {
		iface := state.NetworkInterfaces[id]
		if b.tracker.ShouldEmit(networkInterfaceKey(id), networkInterfaceValue(iface), false) {
			b.emit(ctx, NetworkInterfaceChanged{Interface: iface})
		}
	}
}

func (b *Bridge) logOther(msg Message) {
	switch m := msg.(type) {
	case Preamble:
		b.logInfo("videohub protocol preamble", "version", m.Version)
	case Ack:
		b.logDebug("videohub acknowledged command")
	case Nak:
		b.logWarn("videohub rejected command")
	case Ping:
		b.logDebug("videohub ping")
	case Unknown:
		b.logDebug("ignoring unknown videohub block", "header", m.Header)
	}
}

// forceFullStateRefresh re-announces everything after the backend came back.
// The tracker is cleared, the current snapshot is replayed through the diff
// path and the device is asked to dump its state again. The device link is
// left alone.
func (b *Bridge) forceFullStateRefresh(ctx context.Context) {
	b.refreshes.Add(1)
	b.logInfo("forcing full state refresh")

	b.tracker.Reset()

	state := b.session.State()
	b.replay(ctx, state)

	if !state.Connected {
		return
	}
	if err := b.session.RequestFullState(ctx); err != nil {
		b.logWarn("requesting full videohub state failed", "error", err)
	}
}

// replay emits every fact of state as if it had just been received.
func (b *Bridge) replay(ctx context.Context, state DeviceState) {
	if state.Info != nil {
		if state.Connected {
			b.diff(ctx, *state.Info, state, false)
		} else if b.tracker.ShouldEmit(deviceInfoKey(), deviceInfoValue(*state.Info), false) {
			b.emit(ctx, DeviceStatusChanged{Connected: false, Info: state.Info})
		}
	}

	inputs := make(InputLabels, 0, len(state.InputLabels))
	for _, id := range sortedKeys(state.InputLabels) {
		inputs = append(inputs, Label{ID: id, Name: state.InputLabels[id]})
	}
	b.diff(ctx, inputs, state, false)

	outputs := make(OutputLabels, 0, len(state.OutputLabels))
	for _, id := range sortedKeys(state.OutputLabels) {
		outputs = append(outputs, Label{ID: id, Name: state.OutputLabels[id]})
	}
	b.diff(ctx, outputs, state, false)

	routes := make(VideoOutputRouting, 0, len(state.Routes))
	for _, out := range sortedKeys(state.Routes) {
		routes = append(routes, Route{Output: out, Input: state.Routes[out]})
	}
	b.diff(ctx, routes, state, false)

	locks := make(VideoOutputLocks, 0, len(state.OutputLocks))
	for _, out := range sortedKeys(state.OutputLocks) {
		locks = append(locks, Lock{Output: out, State: state.OutputLocks[out]})
	}
	b.diff(ctx, locks, state, false)

	b.scanState(ctx, state)
}

// emit hands ev to the event task, waiting while the channel is full.
func (b *Bridge) emit(ctx context.Context, ev Event) bool {
	select {
	case b.events <- ev:
		b.eventsEmitted.Add(1)
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) publishSnapshot() {
	st := b.session.State()
	b.snapshot.Store(&st)
}

// sleepContext waits for d or until ctx ends. It reports whether the full
// delay elapsed.
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// BridgeMetrics contains metrics data for the API metrics endpoint and the
// health reporter.
type BridgeMetrics struct {
	Connected        bool          `json:"connected"`
	BackendConnected bool          `json:"backend_connected"`
	Status           string        `json:"status"`
	Session          SessionStats  `json:"session"`
	Dispatch         DispatchStats `json:"dispatch"`
	Targets          TargetStats   `json:"targets"`
	Backend          backend.Stats `json:"backend"`
	Reconnects       uint64        `json:"reconnects"`
	EventsEmitted    uint64        `json:"events_emitted"`
	Refreshes        uint64        `json:"refreshes"`
	ReceiveErrors    uint64        `json:"receive_errors"`
	CommandQueue     int           `json:"command_queue"`
	EventQueue       int           `json:"event_queue"`
}

// HealthPayload returns the current retained health message, or nil before
// Start. Used as the MQTT online message.
func (b *Bridge) HealthPayload() []byte {
	if !b.running.Load() {
		return nil
	}
	payload, err := b.health.Payload()
	if err != nil {
		b.logError("encoding health payload", err)
		return nil
	}
	return payload
}

// GetMetrics returns current bridge metrics.
func (b *Bridge) GetMetrics() BridgeMetrics {
	m := BridgeMetrics{
		Connected:        b.session.IsConnected(),
		BackendConnected: b.backend.IsConnected(),
		Session:          b.session.Stats(),
		Dispatch:         b.dispatcher.Stats(),
		Backend:          b.backend.Stats(),
		Reconnects:       b.reconnects.Load(),
		EventsEmitted:    b.eventsEmitted.Load(),
		Refreshes:        b.refreshes.Load(),
		ReceiveErrors:    b.receiveErrors.Load(),
		CommandQueue:     b.commands.Len(),
		EventQueue:       len(b.events),
	}
	if b.running.Load() {
		m.Targets = b.targets.Stats()
	}

	status, _ := determineStatus(m)
	m.Status = string(status)
	return m
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if b.logger != nil {
		b.logger.Error(msg, "error", err)
	}
}
