package videohub

import (
	"context"
	"fmt"
	"sync"
)

// DefaultQueueSize is the default capacity of the command and event channels.
const DefaultQueueSize = 100

// Command is a normalised, zero-based request for the device.
type Command interface {
	// Name returns the command name used in logs and the audit journal.
	Name() string

	isCommand()
}

// SetRoute routes Input to Output.
type SetRoute struct {
	Output uint32 `json:"output"`
	Input  uint32 `json:"input"`
}

// SetInputLabel renames an input.
type SetInputLabel struct {
	Input uint32 `json:"input"`
	Label string `json:"label"`
}

// SetOutputLabel renames an output.
type SetOutputLabel struct {
	Output uint32 `json:"output"`
	Label  string `json:"label"`
}

// SetOutputLock requests a lock change. Accepted but not sent to the device.
type SetOutputLock struct {
	Output uint32 `json:"output"`
	Locked bool   `json:"locked"`
}

// SetTakeMode requests a take mode change. Accepted but not sent to the device.
type SetTakeMode struct {
	Output  uint32 `json:"output"`
	Enabled bool   `json:"enabled"`
}

func (SetRoute) Name() string       { return "set_route" }
func (SetInputLabel) Name() string  { return "set_input_label" }
func (SetOutputLabel) Name() string { return "set_output_label" }
func (SetOutputLock) Name() string  { return "set_output_lock" }
func (SetTakeMode) Name() string    { return "set_take_mode" }

func (SetRoute) isCommand()       {}
func (SetInputLabel) isCommand()  {}
func (SetOutputLabel) isCommand() {}
func (SetOutputLock) isCommand()  {}
func (SetTakeMode) isCommand()    {}

// CommandQueue carries commands from many action handlers to the single
// device task. Submit blocks while the queue is full.
type CommandQueue struct {
	ch       chan Command
	done     chan struct{}
	stopOnce sync.Once
}

// NewCommandQueue creates a queue holding up to size pending commands.
func NewCommandQueue(size int) *CommandQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &CommandQueue{
		ch:   make(chan Command, size),
		done: make(chan struct{}),
	}
}

// Submit enqueues cmd, waiting for space. It fails when ctx ends or the
// queue is closed; the command is then dropped.
func (q *CommandQueue) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	select {
	case q.ch <- cmd:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return fmt.Errorf("submitting %s: %w", cmd.Name(), ctx.Err())
	}
}

// TrySubmit enqueues cmd only if there is space right away.
func (q *CommandQueue) TrySubmit(cmd Command) bool {
	select {
	case <-q.done:
		return false
	default:
	}

	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

// C returns the receive side for the consuming task.
func (q *CommandQueue) C() <-chan Command {
	return q.ch
}

// Len returns the number of pending commands.
func (q *CommandQueue) Len() int {
	return len(q.ch)
}

// Close rejects further submissions. Pending commands stay readable.
func (q *CommandQueue) Close() {
	q.stopOnce.Do(func() { close(q.done) })
}
