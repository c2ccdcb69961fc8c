package logbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// MachineLookup finds a machine by number. *machine.Registry implements it.
type MachineLookup interface {
	Machine(number string) (*machine.Machine, error)
}

// PartsCounter reads the current part counter of a machine.
type PartsCounter interface {
	PartsCount(ctx context.Context, m *machine.Machine) (int, error)
}

// OrderSource reports the manufacturing order running on a machine.
type OrderSource interface {
	ActiveOrderNumber(ctx context.Context, machineNumber string) (string, error)
}

// Publisher is told about every stored entry.
type Publisher interface {
	PublishEntry(ctx context.Context, ev Event)
}

// Publishers fans an event out to every publisher in order.
type Publishers []Publisher

// PublishEntry implements Publisher.
func (ps Publishers) PublishEntry(ctx context.Context, ev Event) {
	for _, p := range ps {
		p.PublishEntry(ctx, ev)
	}
}

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Service records and lists logbook entries for registry machines.
type Service struct {
	repo      Repository
	machines  MachineLookup
	counter   PartsCounter
	orders    OrderSource
	publisher Publisher
	logger    Logger
}

// NewService creates a logbook service.
func NewService(repo Repository, machines MachineLookup) *Service {
	return &Service{repo: repo, machines: machines, logger: noopLogger{}}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) { s.logger = logger }

// SetPartsCounter enables automatic part counts on tool changes.
func (s *Service) SetPartsCounter(c PartsCounter) { s.counter = c }

// SetOrderSource enables active order defaults on matrix codes.
func (s *Service) SetOrderSource(o OrderSource) { s.orders = o }

// SetPublisher sets the entry publisher.
func (s *Service) SetPublisher(p Publisher) { s.publisher = p }

// MachineFor returns the machine with the given number if it uses kind.
// Registry errors (loading, unavailable, not found) are passed through.
func (s *Service) MachineFor(number string, kind Kind) (*machine.Machine, error) {
	m, err := s.machines.Machine(number)
	if err != nil {
		return nil, err
	}
	if !m.Has(kind.Capability()) {
		return nil, fmt.Errorf("%w: %s on %s", ErrCapabilityDisabled, kind, number)
	}
	return m, nil
}

// RecordToolChange stores a tool change for the machine. When PartsCount is
// unset and the machine has a counter, the counter is read; a failed read
// is logged and the entry is stored without a count.
func (s *Service) RecordToolChange(ctx context.Context, number string, tc *ToolChange) error {
	m, err := s.MachineFor(number, KindToolChange)
	if err != nil {
		return err
	}
	tc.MachineID, tc.MachineNumber = m.ID, m.Number

	if tc.PartsCount == nil && s.counter != nil && m.IPAddress != "" {
		count, err := s.counter.PartsCount(ctx, m)
		if err != nil {
			s.logger.Warn("reading part counter failed", "machine", m.Number, "error", err)
		} else {
			tc.PartsCount = &count
		}
	}

	if err := Validate(tc); err != nil {
		return err
	}
	if err := s.repo.CreateToolChange(ctx, tc); err != nil {
		return err
	}
	s.rememberOrder(ctx, m, tc.ManufacturingOrder)
	s.publish(ctx, KindToolChange, m, tc.ID, tc.CreatedAt, tc)
	return nil
}

// RecordCompensation stores a compensation for the machine.
func (s *Service) RecordCompensation(ctx context.Context, number string, c *Compensation) error {
	m, err := s.MachineFor(number, KindCompensation)
	if err != nil {
		return err
	}
	c.MachineID, c.MachineNumber = m.ID, m.Number

	if err := Validate(c); err != nil {
		return err
	}
	if err := s.repo.CreateCompensation(ctx, c); err != nil {
		return err
	}
	s.rememberOrder(ctx, m, c.ManufacturingOrder)
	s.publish(ctx, KindCompensation, m, c.ID, c.CreatedAt, c)
	return nil
}

// RecordDisturbance stores a disturbance for the machine.
func (s *Service) RecordDisturbance(ctx context.Context, number string, d *Disturbance) error {
	m, err := s.MachineFor(number, KindDisturbance)
	if err != nil {
		return err
	}
	d.MachineID, d.MachineNumber = m.ID, m.Number

	if err := Validate(d); err != nil {
		return err
	}
	if err := s.repo.CreateDisturbance(ctx, d); err != nil {
		return err
	}
	s.publish(ctx, KindDisturbance, m, d.ID, d.CreatedAt, d)
	return nil
}

// RecordMatrixCode stores a matrix code for the machine. An empty order
// defaults to the order running in Monitor MI, then to the last order
// entered on the machine.
func (s *Service) RecordMatrixCode(ctx context.Context, number string, mc *MatrixCode) error {
	m, err := s.MachineFor(number, KindMatrixCode)
	if err != nil {
		return err
	}
	mc.MachineID, mc.MachineNumber = m.ID, m.Number

	if mc.ManufacturingOrder == "" {
		mc.ManufacturingOrder = s.defaultOrder(ctx, m)
	}
	if err := Validate(mc); err != nil {
		return err
	}
	if err := s.repo.CreateMatrixCode(ctx, mc); err != nil {
		return err
	}
	s.rememberOrder(ctx, m, mc.ManufacturingOrder)
	s.publish(ctx, KindMatrixCode, m, mc.ID, mc.CreatedAt, mc)
	return nil
}

// ToolChanges lists the machine's tool changes.
func (s *Service) ToolChanges(ctx context.Context, number string, opts ListOptions) (Page[ToolChange], error) {
	m, err := s.MachineFor(number, KindToolChange)
	if err != nil {
		return Page[ToolChange]{}, err
	}
	return s.repo.ListToolChanges(ctx, m.ID, opts)
}

// Compensations lists the machine's compensations.
func (s *Service) Compensations(ctx context.Context, number string, opts ListOptions) (Page[Compensation], error) {
	m, err := s.MachineFor(number, KindCompensation)
	if err != nil {
		return Page[Compensation]{}, err
	}
	return s.repo.ListCompensations(ctx, m.ID, opts)
}

// Disturbances lists the machine's disturbances.
func (s *Service) Disturbances(ctx context.Context, number string, opts ListOptions) (Page[Disturbance], error) {
	m, err := s.MachineFor(number, KindDisturbance)
	if err != nil {
		return Page[Disturbance]{}, err
	}
	return s.repo.ListDisturbances(ctx, m.ID, opts)
}

// MatrixCodes lists the machine's matrix codes.
func (s *Service) MatrixCodes(ctx context.Context, number string, opts ListOptions) (Page[MatrixCode], error) {
	m, err := s.MachineFor(number, KindMatrixCode)
	if err != nil {
		return Page[MatrixCode]{}, err
	}
	return s.repo.ListMatrixCodes(ctx, m.ID, opts)
}

// LastOrder returns the last manufacturing order entered on the machine.
func (s *Service) LastOrder(ctx context.Context, number string) (*LastOrder, error) {
	m, err := s.machines.Machine(number)
	if err != nil {
		return nil, err
	}
	return s.repo.GetLastOrder(ctx, m.ID)
}

func (s *Service) defaultOrder(ctx context.Context, m *machine.Machine) string {
	if s.orders != nil {
		order, err := s.orders.ActiveOrderNumber(ctx, m.Number)
		if err == nil && order != "" {
			return order
		}
		if err != nil {
			s.logger.Warn("reading active order failed", "machine", m.Number, "error", err)
		}
	}
	last, err := s.repo.GetLastOrder(ctx, m.ID)
	if err != nil {
		if !errors.Is(err, ErrNoLastOrder) {
			s.logger.Warn("reading last order failed", "machine", m.Number, "error", err)
		}
		return ""
	}
	return last.ManufacturingOrder
}

// rememberOrder is best effort; the entry is already stored.
func (s *Service) rememberOrder(ctx context.Context, m *machine.Machine, order string) {
	if order == "" {
		return
	}
	if err := s.repo.SetLastOrder(ctx, m.ID, order); err != nil {
		s.logger.Warn("saving last order failed", "machine", m.Number, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, kind Kind, m *machine.Machine, id string, at time.Time, entry any) {
	s.logger.Info("logbook entry recorded", "kind", kind, "machine", m.Number, "id", id)
	if s.publisher == nil {
		return
	}
	s.publisher.PublishEntry(ctx, Event{
		Kind:          kind,
		MachineNumber: m.Number,
		EntryID:       id,
		Entry:         entry,
		CreatedAt:     at,
	})
}
