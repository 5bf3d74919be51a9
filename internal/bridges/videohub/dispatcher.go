package videohub

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Dispatch outcomes recorded in the command journal.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeIgnored = "ignored"
)

// CommandJournal records what happened to each dispatched command.
// Implementations must not block the device task.
type CommandJournal interface {
	RecordCommand(command string, details map[string]any, outcome string, err error)
}

// commandSender is the part of the session the dispatcher drives.
type commandSender interface {
	SetRoute(ctx context.Context, output, input uint32) error
	SetInputLabel(ctx context.Context, input uint32, label string) error
	SetOutputLabel(ctx context.Context, output uint32, label string) error
}

// DispatchStats counts dispatch outcomes.
type DispatchStats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Ignored uint64 `json:"ignored"`
}

// Dispatcher turns commands into device writes. It runs on the device task.
type Dispatcher struct {
	session commandSender
	journal CommandJournal
	logger  Logger

	sent    atomic.Uint64
	failed  atomic.Uint64
	ignored atomic.Uint64
}

// NewDispatcher creates a dispatcher. journal and logger may be nil.
func NewDispatcher(session commandSender, journal CommandJournal, logger Logger) *Dispatcher {
	return &Dispatcher{session: session, journal: journal, logger: logger}
}

// Dispatch performs cmd against the device. Failures are logged and
// journalled, never returned: the action caller has already gone.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	var err error

	switch c := cmd.(type) {
	case SetRoute:
		err = d.session.SetRoute(ctx, c.Output, c.Input)
	case SetInputLabel:
		err = d.session.SetInputLabel(ctx, c.Input, c.Label)
	case SetOutputLabel:
		err = d.session.SetOutputLabel(ctx, c.Output, c.Label)
	case SetOutputLock:
		d.logInfo("output lock change not supported by device session, ignoring",
			"output", c.Output, "locked", c.Locked)
		d.record(cmd, OutcomeIgnored, nil)
		return
	case SetTakeMode:
		d.logInfo("take mode change not supported by device session, ignoring",
			"output", c.Output, "enabled", c.Enabled)
		d.record(cmd, OutcomeIgnored, nil)
		return
	default:
		d.logInfo("unknown command dropped", "command", fmt.Sprintf("%T", cmd))
		return
	}

	if err != nil {
		d.logError("command failed", "command", cmd.Name(), "error", err)
		d.record(cmd, OutcomeFailed, err)
		return
	}
	d.record(cmd, OutcomeSent, nil)
}

// Stats returns the dispatch counters.
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Sent:    d.sent.Load(),
		Failed:  d.failed.Load(),
		Ignored: d.ignored.Load(),
	}
}

func (d *Dispatcher) record(cmd Command, outcome string, err error) {
	switch outcome {
	case OutcomeSent:
		d.sent.Add(1)
	case OutcomeFailed:
		d.failed.Add(1)
	case OutcomeIgnored:
		d.ignored.Add(1)
	}

	if d.journal != nil {
		d.journal.RecordCommand(cmd.Name(), commandDetails(cmd), outcome, err)
	}
}

// commandDetails flattens a command for the journal. Ports are zero-based.
func commandDetails(cmd Command) map[string]any {
	switch c := cmd.(type) {
	case SetRoute:
		return map[string]any{"output": c.Output, "input": c.Input}
	case SetInputLabel:
		return map[string]any{"input": c.Input, "label": c.Label}
	case SetOutputLabel:
		return map[string]any{"output": c.Output, "label": c.Label}
	case SetOutputLock:
		return map[string]any{"output": c.Output, "locked": c.Locked}
	case SetTakeMode:
		return map[string]any{"output": c.Output, "enabled": c.Enabled}
	}
	return nil
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logError(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Error(msg, keysAndValues...)
	}
}
