package adambox

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// maxConcurrentReads bounds simultaneous Modbus connections per sweep.
const maxConcurrentReads = 8

// MachineSource lists the machines to poll.
// *machine.Registry satisfies it.
type MachineSource interface {
	ListMachines() ([]machine.Machine, error)
}

// Sink receives every successful reading.
type Sink interface {
	CounterRead(ctx context.Context, m machine.Machine, r Reading)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, m machine.Machine, r Reading)

// CounterRead calls f.
func (f SinkFunc) CounterRead(ctx context.Context, m machine.Machine, r Reading) { f(ctx, m, r) }

// Logger is the logging interface used by the poller.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Status is the latest poll outcome for one machine.
type Status struct {
	MachineNumber string    `json:"machine_number"`
	Reading       *Reading  `json:"reading,omitempty"`
	Error         string    `json:"error,omitempty"`
	FailedAt      time.Time `json:"failed_at,omitzero"`
}

// counterReader is the part of Reader the poller needs.
type counterReader interface {
	Read(ctx context.Context, ip string) (Reading, error)
}

// Poller reads every machine's counter on an interval.
type Poller struct {
	reader   counterReader
	machines MachineSource
	interval time.Duration
	logger   Logger

	mu     sync.RWMutex
	status map[string]Status
	sinks  []Sink
}

// NewPoller creates a poller. interval must be positive.
func NewPoller(reader counterReader, machines MachineSource, interval time.Duration) *Poller {
	return &Poller{
		reader:   reader,
		machines: machines,
		interval: interval,
		logger:   noopLogger{},
		status:   make(map[string]Status),
	}
}

// SetLogger sets the logger for the poller.
func (p *Poller) SetLogger(logger Logger) { p.logger = logger }

// AddSink registers a sink for successful readings. Call before Run.
func (p *Poller) AddSink(s Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Run sweeps immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep reads all machines with an IP address once. Failures are recorded
// per machine and never stop the sweep. While the registry is not ready
// nothing is read.
func (p *Poller) Sweep(ctx context.Context) {
	machines, err := p.machines.ListMachines()
	if err != nil {
		p.logger.Debug("skipping counter sweep", "reason", err)
		return
	}

	p.mu.RLock()
	sinks := p.sinks
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentReads)
	for _, m := range machines {
		if m.IPAddress == "" {
			continue
		}
		g.Go(func() error {
			p.pollOne(gctx, m, sinks)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // pollOne never returns an error

	p.forgetRemoved(machines)
}

func (p *Poller) pollOne(ctx context.Context, m machine.Machine, sinks []Sink) {
	reading, err := p.reader.Read(ctx, m.IPAddress)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("counter read failed", "machine", m.Number, "ip", m.IPAddress, "error", err)
		p.mu.Lock()
		st := p.status[m.Number]
		st.MachineNumber = m.Number
		st.Error = err.Error()
		st.FailedAt = time.Now().UTC()
		p.status[m.Number] = st
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	p.status[m.Number] = Status{MachineNumber: m.Number, Reading: &reading}
	p.mu.Unlock()

	for _, s := range sinks {
		s.CounterRead(ctx, m, reading)
	}
}

// forgetRemoved drops machines no longer in the registry or without an IP.
func (p *Poller) forgetRemoved(machines []machine.Machine) {
	keep := make(map[string]struct{}, len(machines))
	for _, m := range machines {
		if m.IPAddress != "" {
			keep[m.Number] = struct{}{}
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for number := range p.status {
		if _, ok := keep[number]; !ok {
			delete(p.status, number)
		}
	}
}

// Latest returns the last successful reading for a machine number.
func (p *Poller) Latest(number string) (Reading, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	st, ok := p.status[number]
	if !ok || st.Reading == nil {
		return Reading{}, ErrNoReading
	}
	return *st.Reading, nil
}

// Statuses returns the poll status of every machine, in no particular order.
func (p *Poller) Statuses() []Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Status, 0, len(p.status))
	for _, st := range p.status {
		out = append(out, st)
	}
	return out
}
