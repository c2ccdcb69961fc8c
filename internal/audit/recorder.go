package audit

import "context"

// DefaultQueueSize bounds the number of entries waiting to be written.
const DefaultQueueSize = 256

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes entries to a Repository from a single goroutine.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger Logger
}

// NewRecorder creates a recorder with a queue of size entries.
// A size of zero or less uses DefaultQueueSize.
func NewRecorder(repo Repository, size int) *Recorder {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Recorder{repo: repo, queue: make(chan *Entry, size), logger: noopLogger{}}
}

// SetLogger sets the logger for dropped and failed writes.
func (r *Recorder) SetLogger(logger Logger) { r.logger = logger }

// Record enqueues e without blocking. It reports false when the queue is
// full and the entry was dropped. A nil recorder drops everything.
func (r *Recorder) Record(e Entry) bool {
	if r == nil {
		return false
	}
	select {
	case r.queue <- &e:
		return true
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", e.Action, "entity_type", e.EntityType, "entity_id", e.EntityID)
		return false
	}
}

// Run writes queued entries until ctx is done, then drains what is left.
// Entries are written with a context detached from ctx so the drain
// completes during shutdown.
func (r *Recorder) Run(ctx context.Context) {
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case e := <-r.queue:
			r.write(writeCtx, e)
		case <-ctx.Done():
			for {
				select {
				case e := <-r.queue:
					r.write(writeCtx, e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, e *Entry) {
	if err := r.repo.Create(ctx, e); err != nil {
		r.logger.Error("audit write failed", "action", e.Action, "entity_type", e.EntityType, "error", err)
	}
}
