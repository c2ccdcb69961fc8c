package monitormi

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// maxConcurrentQueries matches the default pool size.
const maxConcurrentQueries = 4

// MachineSource lists the machines to watch. *machine.Registry satisfies it.
type MachineSource interface {
	ListMachines() ([]machine.Machine, error)
}

// StatusSink receives a status when it differs from the previous one seen
// for the same machine.
type StatusSink interface {
	StatusChanged(ctx context.Context, m machine.Machine, st *Status)
}

// Logger is the logging interface used by the watcher.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

type statusSource interface {
	Status(ctx context.Context, workCenter string) (*Status, error)
}

// Watcher polls the status of every registry machine and reports changes.
type Watcher struct {
	source   statusSource
	machines MachineSource
	interval time.Duration
	logger   Logger

	mu    sync.RWMutex
	last  map[string]*Status
	sinks []StatusSink
}

// NewWatcher creates a watcher. interval must be positive.
func NewWatcher(source statusSource, machines MachineSource, interval time.Duration) *Watcher {
	return &Watcher{
		source:   source,
		machines: machines,
		interval: interval,
		logger:   noopLogger{},
		last:     make(map[string]*Status),
	}
}

// SetLogger sets the logger for the watcher.
func (w *Watcher) SetLogger(logger Logger) { w.logger = logger }

// AddSink registers a sink for status changes. Call before Run.
func (w *Watcher) AddSink(s StatusSink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sinks = append(w.sinks, s)
}

// Run sweeps immediately and then every interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep queries every machine once. Work centers unknown to Monitor MI are
// skipped quietly; other failures are logged and keep the previous status.
func (w *Watcher) Sweep(ctx context.Context) {
	machines, err := w.machines.ListMachines()
	if err != nil {
		w.logger.Debug("skipping status sweep", "reason", err)
		return
	}

	w.mu.RLock()
	sinks := w.sinks
	w.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQueries)
	for _, m := range machines {
		g.Go(func() error {
			w.checkOne(gctx, m, sinks)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // checkOne never returns an error

	w.forgetRemoved(machines)
}

func (w *Watcher) checkOne(ctx context.Context, m machine.Machine, sinks []StatusSink) {
	st, err := w.source.Status(ctx, m.Number)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, ErrWorkCenterNotFound):
			w.logger.Debug("machine not in monitor mi", "machine", m.Number)
		default:
			w.logger.Warn("status query failed", "machine", m.Number, "error", err)
		}
		return
	}

	w.mu.Lock()
	prev := w.last[m.Number]
	w.last[m.Number] = st
	w.mu.Unlock()

	if !Changed(prev, st) {
		return
	}
	for _, s := range sinks {
		s.StatusChanged(ctx, m, st)
	}
}

func (w *Watcher) forgetRemoved(machines []machine.Machine) {
	keep := make(map[string]struct{}, len(machines))
	for _, m := range machines {
		keep[m.Number] = struct{}{}
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for number := range w.last {
		if _, ok := keep[number]; !ok {
			delete(w.last, number)
		}
	}
}

// Latest returns the last status seen for a machine number.
func (w *Watcher) Latest(number string) (*Status, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	st, ok := w.last[number]
	return st, ok
}

// Changed reports whether next differs from prev in anything an operator
// sees. Timestamps are ignored. A nil prev always counts as a change.
func Changed(prev, next *Status) bool {
	if prev == nil || next == nil {
		return prev != next
	}
	return prev.State != next.State ||
		prev.IsSetup != next.IsSetup ||
		prev.StopCode != next.StopCode ||
		orderNumber(prev.ActiveOrder) != orderNumber(next.ActiveOrder)
}

func orderNumber(o *Order) string {
	if o == nil {
		return ""
	}
	return o.OrderNumber
}
