package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder defaults.
const (
	DefaultBuffer       = 256
	DefaultWriteTimeout = 5 * time.Second
	DefaultSource       = "backend"
)

// Logger is the subset of *logging.Logger the recorder uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	Repository Repository

	// Buffer bounds the pending entries. Default: 256.
	Buffer int

	// Source is stored on every entry. Default: "backend".
	Source string

	// WriteTimeout bounds one insert. Default: 5s.
	WriteTimeout time.Duration

	Logger Logger
}

// RecorderStats counts what happened to recorded commands.
type RecorderStats struct {
	Written uint64 `json:"written"`
	Dropped uint64 `json:"dropped"`
	Failed  uint64 `json:"failed"`
}

// Recorder journals commands without blocking the caller. Entries go
// through a bounded buffer to a single writer goroutine; when the buffer
// is full the entry is dropped and counted.
//
// Recorder implements the bridge's CommandJournal.
type Recorder struct {
	repo    Repository
	source  string
	timeout time.Duration
	logger  Logger

	queue chan Entry
	done  chan struct{}

	closed    bool
	mu        sync.RWMutex
	closeOnce sync.Once

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewRecorder starts a recorder. Call Close to flush and stop it.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.Source == "" {
		cfg.Source = DefaultSource
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	r := &Recorder{
		repo:    cfg.Repository,
		source:  cfg.Source,
		timeout: cfg.WriteTimeout,
		logger:  cfg.Logger,
		queue:   make(chan Entry, cfg.Buffer),
		done:    make(chan struct{}),
	}
	go r.writeLoop()
	return r
}

// RecordCommand queues a journal entry. It never blocks.
func (r *Recorder) RecordCommand(command string, details map[string]any, outcome string, err error) {
	entry := Entry{
		Command:   command,
		Outcome:   outcome,
		Source:    r.source,
		Details:   details,
		CreatedAt: time.Now().UTC(),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return
	}

	select {
	case r.queue <- entry:
	default:
		if r.dropped.Add(1) == 1 && r.logger != nil {
			r.logger.Warn("command journal full, dropping entries", "command", command)
		}
	}
}

// Close stops accepting entries and waits for the queued ones to be written.
func (r *Recorder) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
		<-r.done
	})
}

// Stats returns the recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	for entry := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.repo.Create(ctx, &entry)
		cancel()

		if err != nil {
			r.failed.Add(1)
			if r.logger != nil {
				r.logger.Warn("writing command journal failed", "command", entry.Command, "error", err)
			}
			continue
		}
		r.written.Add(1)
	}
}

// Prune deletes entries older than retention every interval until ctx ends.
func Prune(ctx context.Context, repo Repository, retention, interval time.Duration, logger Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.DeleteBefore(ctx, time.Now().Add(-retention))
			if logger == nil {
				continue
			}
			if err != nil {
				logger.Warn("pruning command journal failed", "error", err)
			} else if n > 0 {
				logger.Info("pruned command journal", "deleted", n)
			}
		}
	}
}
