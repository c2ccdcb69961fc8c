package logbook

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/verkstad/toolmgmt/internal/machine"
)

type fakeCounter struct {
	count int
	err   error
	calls int
}

func (f *fakeCounter) PartsCount(context.Context, *machine.Machine) (int, error) {
	f.calls++
	return f.count, f.err
}

type fakeOrders struct {
	order string
	err   error
}

func (f fakeOrders) ActiveOrderNumber(context.Context, string) (string, error) {
	return f.order, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) PublishEntry(_ context.Context, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

// newTestService wires a service to a migrated database holding machines
// 5701 (every section, counter at 10.0.0.21) and 5702 (tool changes only).
func newTestService(t *testing.T) (*Service, *recordingPublisher) {
	t.Helper()
	repo, db := newTestRepo(t)

	reg := machine.NewRegistry(machine.NewSQLiteRepository(db))
	if _, err := db.Exec("UPDATE machines SET ip_address = '10.0.0.21' WHERE id = 'mch-1'"); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}

	svc := NewService(repo, reg)
	pub := &recordingPublisher{}
	svc.SetPublisher(pub)
	return svc, pub
}

func TestService_RecordToolChange(t *testing.T) {
	svc, pub := newTestService(t)
	counter := &fakeCounter{count: 4200}
	svc.SetPartsCounter(counter)
	ctx := context.Background()

	tc := &ToolChange{ToolNumber: 3, Cause: CauseBreakage, Signature: "AB", ManufacturingOrder: "MO-11"}
	if err := svc.RecordToolChange(ctx, "5701", tc); err != nil {
		t.Fatalf("RecordToolChange() error = %v", err)
	}
	if tc.PartsCount == nil || *tc.PartsCount != 4200 {
		t.Errorf("PartsCount = %v, want 4200 from counter", tc.PartsCount)
	}
	if tc.MachineID != "mch-1" || tc.MachineNumber != "5701" {
		t.Errorf("machine fields = %q %q", tc.MachineID, tc.MachineNumber)
	}

	lo, err := svc.LastOrder(ctx, "5701")
	if err != nil || lo.ManufacturingOrder != "MO-11" {
		t.Errorf("LastOrder() = %v, %v; want MO-11", lo, err)
	}

	if len(pub.events) != 1 || pub.events[0].Kind != KindToolChange || pub.events[0].EntryID != tc.ID {
		t.Errorf("published events = %+v", pub.events)
	}

	// An explicit count skips the counter.
	explicit := &ToolChange{ToolNumber: 3, Cause: CauseWear, Signature: "AB", PartsCount: intp(4300)}
	if err := svc.RecordToolChange(ctx, "5701", explicit); err != nil {
		t.Fatalf("RecordToolChange() error = %v", err)
	}
	if counter.calls != 1 {
		t.Errorf("counter read %d times, want 1", counter.calls)
	}
	if explicit.PartsSinceLastChange == nil || *explicit.PartsSinceLastChange != 100 {
		t.Errorf("PartsSinceLastChange = %v, want 100", explicit.PartsSinceLastChange)
	}

	page, err := svc.ToolChanges(ctx, "5701", ListOptions{})
	if err != nil || page.Total != 2 {
		t.Errorf("ToolChanges() = %d entries, %v", page.Total, err)
	}
}

func TestService_CounterFailureIsNotFatal(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetPartsCounter(&fakeCounter{err: errors.New("i/o timeout")})

	tc := &ToolChange{ToolNumber: 3, Cause: CauseWear, Signature: "AB"}
	if err := svc.RecordToolChange(context.Background(), "5701", tc); err != nil {
		t.Fatalf("RecordToolChange() error = %v", err)
	}
	if tc.PartsCount != nil {
		t.Errorf("PartsCount = %v, want nil after counter failure", *tc.PartsCount)
	}
}

func TestService_MachineWithoutCounterIsNotRead(t *testing.T) {
	svc, _ := newTestService(t)
	counter := &fakeCounter{count: 1}
	svc.SetPartsCounter(counter)

	tc := &ToolChange{ToolNumber: 3, Cause: CauseWear, Signature: "AB"}
	if err := svc.RecordToolChange(context.Background(), "5702", tc); err != nil {
		t.Fatalf("RecordToolChange() error = %v", err)
	}
	if counter.calls != 0 {
		t.Error("machine without an IP address should not be polled")
	}
}

func TestService_CapabilityGate(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	err := svc.RecordDisturbance(ctx, "5702", &Disturbance{Area: AreaRobot, Comment: "x", Signature: "AB"})
	if !errors.Is(err, ErrCapabilityDisabled) {
		t.Errorf("RecordDisturbance() error = %v, want ErrCapabilityDisabled", err)
	}
	if _, err := svc.MatrixCodes(ctx, "5702", ListOptions{}); !errors.Is(err, ErrCapabilityDisabled) {
		t.Errorf("MatrixCodes() error = %v, want ErrCapabilityDisabled", err)
	}
	if len(pub.events) != 0 {
		t.Error("refused entries must not be published")
	}
}

func TestService_UnknownMachine(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Compensations(context.Background(), "9999", ListOptions{})
	if !errors.Is(err, machine.ErrMachineNotFound) {
		t.Errorf("Compensations() error = %v, want ErrMachineNotFound", err)
	}
}

func TestService_RegistryLoading(t *testing.T) {
	repo, _ := newTestRepo(t)
	svc := NewService(repo, machine.NewReadOnlyRegistry(machine.StaticLister{}))

	_, err := svc.Disturbances(context.Background(), "5701", ListOptions{})
	if !errors.Is(err, machine.ErrRegistryLoading) {
		t.Errorf("Disturbances() error = %v, want ErrRegistryLoading", err)
	}
}

func TestService_ValidationError(t *testing.T) {
	svc, pub := newTestService(t)
	err := svc.RecordCompensation(context.Background(), "5701",
		&Compensation{Direction: DirectionX, Value: "abc", Signature: "AB", Tool: "T1"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Errorf("RecordCompensation() error = %v, want ErrInvalidEntry", err)
	}
	if len(pub.events) != 0 {
		t.Error("invalid entries must not be published")
	}
}

func TestService_MatrixCodeOrderDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// No Monitor MI and no history: the order is required.
	err := svc.RecordMatrixCode(ctx, "5701", &MatrixCode{DateCode: "260301"})
	if !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("RecordMatrixCode() error = %v, want ErrInvalidEntry", err)
	}

	// Falls back to the last order entered on the machine.
	if err := svc.RecordCompensation(ctx, "5701", &Compensation{ManufacturingOrder: "MO-5", Tool: "T1",
		Direction: DirectionZ, Value: "0.1", Signature: "AB"}); err != nil {
		t.Fatalf("RecordCompensation() error = %v", err)
	}
	mc := &MatrixCode{DateCode: "260301"}
	if err := svc.RecordMatrixCode(ctx, "5701", mc); err != nil {
		t.Fatalf("RecordMatrixCode() error = %v", err)
	}
	if mc.ManufacturingOrder != "MO-5" {
		t.Errorf("order = %q, want last order MO-5", mc.ManufacturingOrder)
	}

	// The running order wins when Monitor MI knows it.
	svc.SetOrderSource(fakeOrders{order: "MO-9"})
	mc = &MatrixCode{DateCode: "260302"}
	if err := svc.RecordMatrixCode(ctx, "5701", mc); err != nil {
		t.Fatalf("RecordMatrixCode() error = %v", err)
	}
	if mc.ManufacturingOrder != "MO-9" {
		t.Errorf("order = %q, want active order MO-9", mc.ManufacturingOrder)
	}

	// A Monitor MI failure falls back again.
	svc.SetOrderSource(fakeOrders{err: errors.New("connection refused")})
	mc = &MatrixCode{DateCode: "260303"}
	if err := svc.RecordMatrixCode(ctx, "5701", mc); err != nil {
		t.Fatalf("RecordMatrixCode() error = %v", err)
	}
	if mc.ManufacturingOrder != "MO-9" {
		t.Errorf("order = %q, want last order MO-9", mc.ManufacturingOrder)
	}
}

func TestPublishers_FanOut(t *testing.T) {
	svc, first := newTestService(t)
	second := &recordingPublisher{}
	svc.SetPublisher(Publishers{first, second})

	d := &Disturbance{Area: AreaRobot, Comment: "gripper jammed", Signature: "AB"}
	if err := svc.RecordDisturbance(context.Background(), "5701", d); err != nil {
		t.Fatalf("RecordDisturbance() error = %v", err)
	}

	for i, p := range []*recordingPublisher{first, second} {
		if len(p.events) != 1 || p.events[0].EntryID != d.ID {
			t.Errorf("publisher %d events = %+v, want one event for %s", i, p.events, d.ID)
		}
	}
}
