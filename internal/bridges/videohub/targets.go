package videohub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/videohub-bridge/internal/backend"
)

// Device target identity.
const (
	DeviceTargetName     = "Videohub Device"
	DeviceTargetID       = "videohub-device"
	DeviceTargetCategory = "video"
)

// Action and emitter short ids.
const (
	actionSetRoute       = "set-route"
	actionSetInputLabel  = "set-input-label"
	actionSetOutputLabel = "set-output-label"
	actionSetOutputLock  = "set-output-lock"
	actionSetTakeMode    = "set-take-mode"

	actionSetInput = "set-input"
	actionSetLabel = "set-label"
	actionSetLock  = "set-lock"

	emitterDeviceStatus      = "device-status"
	emitterNetworkInterface  = "network-interface"
	emitterRouteChanged      = "route-changed"
	emitterInputLabelChanged = "input-label-changed"

	emitterInputChanged    = "input-changed"
	emitterLabelChanged    = "label-changed"
	emitterLockChanged     = "lock-changed"
	emitterTakeModeChanged = "take-mode-changed"
)

// outputTarget is the backend sub-target for one zero-based output.
type outputTarget struct {
	target          *backend.Target
	inputChanged    *backend.Emitter[InputChangedPayload]
	labelChanged    *backend.Emitter[LabelChangedPayload]
	lockChanged     *backend.Emitter[LockChangedPayload]
	takeModeChanged *backend.Emitter[TakeModeChangedPayload]
}

// TargetStats reports target manager counters.
type TargetStats struct {
	Outputs     int    `json:"outputs"`
	Pulses      uint64 `json:"pulses"`
	PulseErrors uint64 `json:"pulse_errors"`
	Dropped     uint64 `json:"dropped"`
	Pending     int    `json:"pending_commands"`
}

// TargetManagerOptions configures a TargetManager.
type TargetManagerOptions struct {
	Instance *backend.Instance
	Commands *CommandQueue
	Observer EventObserver
	Logger   Logger
}

// TargetManager owns the backend targets and every emitter handle. After
// Register it is driven only by the event task.
type TargetManager struct {
	instance *backend.Instance
	commands *CommandQueue
	observer EventObserver
	logger   Logger

	// ctx bounds command submission from action handlers.
	ctx context.Context

	// Commands that found the queue full wait here, in arrival order, for
	// a single overflow goroutine to hand them over.
	pendingMu sync.Mutex
	pending   []Command
	draining  bool

	device            *backend.Target
	deviceStatus      *backend.Emitter[DeviceStatusPayload]
	networkInterface  *backend.Emitter[NetworkInterfacePayload]
	routeChanged      *backend.Emitter[RouteChangedPayload]
	inputLabelChanged *backend.Emitter[LabelChangedPayload]

	// outputs is indexed by zero-based output and is either empty or
	// complete.
	outputs []*outputTarget

	outputCount atomic.Int64
	pulses      atomic.Uint64
	pulseErrors atomic.Uint64
	dropped     atomic.Uint64
}

// NewTargetManager creates a target manager. Nothing is registered until
// Register is called.
func NewTargetManager(opts TargetManagerOptions) (*TargetManager, error) {
	if opts.Instance == nil {
		return nil, errors.New("backend instance is required")
	}
	if opts.Commands == nil {
		return nil, errors.New("command queue is required")
	}
	return &TargetManager{
		instance: opts.Instance,
		commands: opts.Commands,
		observer: opts.Observer,
		logger:   opts.Logger,
		ctx:      context.Background(),
	}, nil
}

// Register creates the device target with its actions and emitters. ctx
// bounds every later command submission made by action handlers.
func (m *TargetManager) Register(ctx context.Context) error {
	m.ctx = ctx

	device, err := m.instance.RegisterTarget(backend.TargetArgs{
		Name:     DeviceTargetName,
		ShortID:  DeviceTargetID,
		Category: DeviceTargetCategory,
	})
	if err != nil {
		return fmt.Errorf("%w: device target: %w", ErrTargetRegistration, err)
	}
	m.device = device

	actions := []error{
		backend.RegisterAction(device, backend.ActionArgs{Name: "Set route", ShortID: actionSetRoute},
			func(p SetRouteAction) {
				m.submit(SetRoute{Output: oneToZero(p.Output), Input: oneToZero(p.Input)})
			}),
		backend.RegisterAction(device, backend.ActionArgs{Name: "Set input label", ShortID: actionSetInputLabel},
			func(p SetInputLabelAction) {
				m.submit(SetInputLabel{Input: oneToZero(p.Input), Label: p.Label})
			}),
		backend.RegisterAction(device, backend.ActionArgs{Name: "Set output label", ShortID: actionSetOutputLabel},
			func(p SetOutputLabelAction) {
				m.submit(SetOutputLabel{Output: oneToZero(p.Output), Label: p.Label})
			}),
		backend.RegisterAction(device, backend.ActionArgs{Name: "Set output lock", ShortID: actionSetOutputLock},
			func(p SetOutputLockAction) {
				m.submit(SetOutputLock{Output: oneToZero(p.Output), Locked: p.Locked})
			}),
		backend.RegisterAction(device, backend.ActionArgs{Name: "Set take mode", ShortID: actionSetTakeMode},
			func(p SetTakeModeAction) {
				m.submit(SetTakeMode{Output: oneToZero(p.Output), Enabled: p.Enabled})
			}),
	}
	if err := errors.Join(actions...); err != nil {
		return fmt.Errorf("%w: device actions: %w", ErrTargetRegistration, err)
	}

	if m.deviceStatus, err = backend.RegisterEmitter[DeviceStatusPayload](device,
		backend.EmitterArgs{Name: "Device status", ShortID: emitterDeviceStatus}); err != nil {
		return fmt.Errorf("%w: %w", ErrTargetRegistration, err)
	}
	if m.networkInterface, err = backend.RegisterEmitter[NetworkInterfacePayload](device,
		backend.EmitterArgs{Name: "Network interface", ShortID: emitterNetworkInterface}); err != nil {
		return fmt.Errorf("%w: %w", ErrTargetRegistration, err)
	}
	if m.routeChanged, err = backend.RegisterEmitter[RouteChangedPayload](device,
		backend.EmitterArgs{Name: "Route changed", ShortID: emitterRouteChanged}); err != nil {
		return fmt.Errorf("%w: %w", ErrTargetRegistration, err)
	}
	if m.inputLabelChanged, err = backend.RegisterEmitter[LabelChangedPayload](device,
		backend.EmitterArgs{Name: "Input label changed", ShortID: emitterInputLabelChanged}); err != nil {
		return fmt.Errorf("%w: %w", ErrTargetRegistration, err)
	}

	m.logInfo("device target registered", "target", device.ID())
	return nil
}

// Run handles events until ctx ends or events is closed.
func (m *TargetManager) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.Handle(ev)
		}
	}
}

// Handle turns one event into emitter pulses.
func (m *TargetManager) Handle(ev Event) {
	switch e := ev.(type) {
	case DeviceStatusChanged:
		payload := deviceStatusPayload(e)
		pulse(m, m.deviceStatus, payload)
		m.broadcast(e, payload)
		if e.Connected && e.Info != nil {
			m.ensureOutputs(e.Info.VideoOutputs)
		}

	case RouteChanged:
		payload := RouteChangedPayload{
			Output:      zeroToOne(e.Output),
			Input:       zeroToOne(e.Input),
			OutputLabel: e.OutputLabel,
			InputLabel:  e.InputLabel,
		}
		pulse(m, m.routeChanged, payload)
		m.broadcast(e, payload)
		if out := m.output(e.Output); out != nil {
			pulse(m, out.inputChanged, InputChangedPayload{Input: zeroToOne(e.Input), InputLabel: e.InputLabel})
		}

	case LabelChanged:
		payload := LabelChangedPayload{PortType: e.PortType, Port: zeroToOne(e.Port), Label: e.Label}
		m.broadcast(e, payload)
		if e.PortType == PortInput {
			pulse(m, m.inputLabelChanged, payload)
			// Inputs have no sub-targets; the first output carries them too.
			if len(m.outputs) > 0 {
				pulse(m, m.outputs[0].labelChanged, payload)
			}
			return
		}
		if out := m.output(e.Port); out != nil {
			pulse(m, out.labelChanged, payload)
		}

	case LockChanged:
		m.broadcast(e, map[string]any{"output": zeroToOne(e.Output), "locked": e.Locked})
		if out := m.output(e.Output); out != nil {
			pulse(m, out.lockChanged, LockChangedPayload{Locked: e.Locked})
		}

	case TakeModeChanged:
		m.broadcast(e, map[string]any{"output": zeroToOne(e.Output), "enabled": e.Enabled})
		if out := m.output(e.Output); out != nil {
			pulse(m, out.takeModeChanged, TakeModeChangedPayload{Enabled: e.Enabled})
		}

	case NetworkInterfaceChanged:
		payload := networkInterfacePayload(e.Interface)
		pulse(m, m.networkInterface, payload)
		m.broadcast(e, payload)
	}
}

// OutputCount returns the number of committed output sub-targets.
// Safe to call from any goroutine.
func (m *TargetManager) OutputCount() int {
	return int(m.outputCount.Load())
}

// Stats returns target manager counters. Safe to call from any goroutine.
func (m *TargetManager) Stats() TargetStats {
	return TargetStats{
		Outputs:     m.OutputCount(),
		Pulses:      m.pulses.Load(),
		PulseErrors: m.pulseErrors.Load(),
		Dropped:     m.dropped.Load(),
		Pending:     m.PendingCommands(),
	}
}

// output returns the sub-target for a zero-based output, or nil when none
// exists yet.
func (m *TargetManager) output(port uint32) *outputTarget {
	if int(port) >= len(m.outputs) {
		m.dropped.Add(1)
		m.logDebug("no sub-target for output, event dropped", "output", port)
		return nil
	}
	return m.outputs[port]
}

// ensureOutputs creates one sub-target per output the first time the device
// reports its size. The set is committed only when every output succeeded.
func (m *TargetManager) ensureOutputs(n uint32) {
	if len(m.outputs) > 0 || n == 0 {
		return
	}

	outputs := make([]*outputTarget, 0, n)
	for i := range n {
		out, err := m.registerOutput(i)
		if err != nil {
			m.logError("creating output sub-targets failed, will retry on next connected status",
				"output", i,
				"outputs", n,
				"error", err,
			)
			return
		}
		outputs = append(outputs, out)
	}

	m.outputs = outputs
	m.outputCount.Store(int64(len(outputs)))
	m.logInfo("output sub-targets created", "outputs", n)
}

func (m *TargetManager) registerOutput(output uint32) (*outputTarget, error) {
	t, err := m.instance.RegisterTarget(backend.TargetArgs{
		Name:     fmt.Sprintf("Output %d", zeroToOne(output)),
		ShortID:  fmt.Sprintf("output-%d", zeroToOne(output)),
		Category: DeviceTargetCategory,
		Parents:  []string{m.device.ID()},
	})
	if err != nil {
		return nil, err
	}

	err = errors.Join(
		backend.RegisterAction(t, backend.ActionArgs{Name: "Set input", ShortID: actionSetInput},
			outputHandler(output, m.handleSetInput)),
		backend.RegisterAction(t, backend.ActionArgs{Name: "Set label", ShortID: actionSetLabel},
			outputHandler(output, m.handleSetLabel)),
		backend.RegisterAction(t, backend.ActionArgs{Name: "Set lock", ShortID: actionSetLock},
			outputHandler(output, m.handleSetLock)),
		backend.RegisterAction(t, backend.ActionArgs{Name: "Set take mode", ShortID: actionSetTakeMode},
			outputHandler(output, m.handleSetTakeMode)),
	)
	if err != nil {
		return nil, err
	}

	out := &outputTarget{target: t}
	if out.inputChanged, err = backend.RegisterEmitter[InputChangedPayload](t,
		backend.EmitterArgs{Name: "Input changed", ShortID: emitterInputChanged}); err != nil {
		return nil, err
	}
	if out.labelChanged, err = backend.RegisterEmitter[LabelChangedPayload](t,
		backend.EmitterArgs{Name: "Label changed", ShortID: emitterLabelChanged}); err != nil {
		return nil, err
	}
	if out.lockChanged, err = backend.RegisterEmitter[LockChangedPayload](t,
		backend.EmitterArgs{Name: "Lock changed", ShortID: emitterLockChanged}); err != nil {
		return nil, err
	}
	if out.takeModeChanged, err = backend.RegisterEmitter[TakeModeChangedPayload](t,
		backend.EmitterArgs{Name: "Take mode changed", ShortID: emitterTakeModeChanged}); err != nil {
		return nil, err
	}
	return out, nil
}

// outputHandler binds a sub-target action to its zero-based output.
func outputHandler[T any](output uint32, fn func(uint32, T)) func(T) {
	return func(p T) { fn(output, p) }
}

func (m *TargetManager) handleSetInput(output uint32, p SetInputAction) {
	m.submit(SetRoute{Output: output, Input: oneToZero(p.Input)})
}

func (m *TargetManager) handleSetLabel(output uint32, p SetLabelAction) {
	m.submit(SetOutputLabel{Output: output, Label: p.Label})
}

func (m *TargetManager) handleSetLock(output uint32, p SetLockAction) {
	m.submit(SetOutputLock{Output: output, Locked: p.Locked})
}

func (m *TargetManager) handleSetTakeMode(output uint32, p SetTakeModeHereAction) {
	m.submit(SetTakeMode{Output: output, Enabled: p.Enabled})
}

// submit hands cmd to the device task without blocking the transport's
// delivery goroutine. Once the queue is full, cmd and every later command
// wait in order for the overflow goroutine to hand them over.
func (m *TargetManager) submit(cmd Command) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()

	if !m.draining && m.commands.TrySubmit(cmd) {
		return
	}
	m.pending = append(m.pending, cmd)
	if !m.draining {
		m.draining = true
		m.logDebug("command queue full, deferring submission", "command", cmd.Name())
		go m.drainPending()
	}
}

func (m *TargetManager) drainPending() {
	for {
		m.pendingMu.Lock()
		if len(m.pending) == 0 {
			m.draining = false
			m.pendingMu.Unlock()
			return
		}
		cmd := m.pending[0]
		m.pendingMu.Unlock()

		if err := m.commands.Submit(m.ctx, cmd); err != nil {
			m.logInfo("command dropped", "command", cmd.Name(), "error", err)
		}

		m.pendingMu.Lock()
		m.pending = m.pending[1:]
		m.pendingMu.Unlock()
	}
}

// PendingCommands returns how many commands wait for queue space,
// including the one being handed over.
func (m *TargetManager) PendingCommands() int {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	return len(m.pending)
}

func (m *TargetManager) broadcast(ev Event, payload any) {
	if m.observer != nil {
		m.observer.Broadcast(ev.Channel(), payload)
	}
}

func pulse[T any](m *TargetManager, e *backend.Emitter[T], data T) {
	if e == nil {
		return
	}
	if err := e.Pulse(data); err != nil {
		m.pulseErrors.Add(1)
		m.logWarn("emitter pulse failed", "emitter", e.ID(), "error", err)
		return
	}
	m.pulses.Add(1)
}

func (m *TargetManager) logDebug(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, keysAndValues...)
	}
}

func (m *TargetManager) logInfo(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Info(msg, keysAndValues...)
	}
}

func (m *TargetManager) logWarn(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, keysAndValues...)
	}
}

func (m *TargetManager) logError(msg string, keysAndValues ...any) {
	if m.logger != nil {
		m.logger.Error(msg, keysAndValues...)
	}
}
