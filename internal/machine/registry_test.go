package machine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

var errTest = errors.New("backend down")

// mockRepository is an in-memory Repository with hooks for failure paths.
type mockRepository struct {
	mu        sync.Mutex
	machines  map[string]Machine
	listErr   error
	createErr error

	// block, when set, holds List until it is closed or ctx ends.
	block chan struct{}
	calls atomic.Int32
}

func newMockRepository(machines ...Machine) *mockRepository {
	m := &mockRepository{machines: make(map[string]Machine)}
	for _, mc := range machines {
		m.machines[mc.ID] = mc
	}
	return m
}

// List reads the data when called, then waits on block if one is set.
func (m *mockRepository) List(ctx context.Context) ([]Machine, error) {
	m.mu.Lock()
	block, listErr := m.block, m.listErr
	out := make([]Machine, 0, len(m.machines))
	for _, mc := range m.machines {
		out = append(out, *mc.DeepCopy())
	}
	m.calls.Add(1)
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if listErr != nil {
		return nil, listErr
	}
	return out, nil
}

func (m *mockRepository) GetByID(_ context.Context, id string) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mc, ok := m.machines[id]; ok {
		return mc.DeepCopy(), nil
	}
	return nil, ErrMachineNotFound
}

func (m *mockRepository) GetByNumber(_ context.Context, number string) (*Machine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mc := range m.machines {
		if mc.Number == number {
			return mc.DeepCopy(), nil
		}
	}
	return nil, ErrMachineNotFound
}

func (m *mockRepository) Create(_ context.Context, mc *Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if mc.ID == "" {
		mc.ID = GenerateID()
	}
	m.machines[mc.ID] = *mc.DeepCopy()
	return nil
}

func (m *mockRepository) Update(_ context.Context, mc *Machine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.machines[mc.ID]; !ok {
		return ErrMachineNotFound
	}
	m.machines[mc.ID] = *mc.DeepCopy()
	return nil
}

func (m *mockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.machines[id]; !ok {
		return ErrMachineNotFound
	}
	delete(m.machines, id)
	return nil
}

func (m *mockRepository) setListErr(err error) {
	m.mu.Lock()
	m.listErr = err
	m.mu.Unlock()
}

func (m *mockRepository) setBlock(ch chan struct{}) {
	m.mu.Lock()
	m.block = ch
	m.mu.Unlock()
}

func testMachines() []Machine {
	return []Machine{
		{ID: "mch-1", Number: "5701", DisplayName: "Mazak 1", Capabilities: FullCapabilitySet()},
		{ID: "mch-2", Number: "5702", DisplayName: "Mazak 2", Capabilities: NewCapabilitySet(CapToolChange)},
	}
}

func TestRegistry_StartsLoading(t *testing.T) {
	reg := NewRegistry(newMockRepository(testMachines()...))

	if reg.Snapshot().State != StateLoading {
		t.Errorf("initial state = %v, want loading", reg.Snapshot().State)
	}
	if _, err := reg.Machine("5701"); !errors.Is(err, ErrRegistryLoading) {
		t.Errorf("Machine() before load error = %v, want ErrRegistryLoading", err)
	}
}

func TestRegistry_RefreshCache(t *testing.T) {
	reg := NewRegistry(newMockRepository(testMachines()...))

	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	snap := reg.Snapshot()
	if snap.State != StateReady || snap.Len() != 2 {
		t.Fatalf("snapshot = %v with %d machines", snap.State, snap.Len())
	}

	m, err := reg.Machine("5702")
	if err != nil {
		t.Fatalf("Machine() error = %v", err)
	}
	if m.MachineID() != "5702 Mazak 2" {
		t.Errorf("MachineID() = %q", m.MachineID())
	}
	if _, err := reg.Machine("9999"); !errors.Is(err, ErrMachineNotFound) {
		t.Errorf("Machine(9999) error = %v", err)
	}
}

func TestRegistry_UnavailableDistinctFromLoading(t *testing.T) {
	repo := newMockRepository(testMachines()...)
	repo.setListErr(errTest)
	reg := NewRegistry(repo)

	err := reg.RefreshCache(context.Background())
	if !errors.Is(err, ErrRegistryUnavailable) || !errors.Is(err, errTest) {
		t.Fatalf("RefreshCache() error = %v, want ErrRegistryUnavailable wrapping cause", err)
	}
	snap := reg.Snapshot()
	if snap.State != StateUnavailable {
		t.Errorf("state = %v, want unavailable", snap.State)
	}
	if _, err := reg.Machine("5701"); !errors.Is(err, ErrRegistryUnavailable) {
		t.Errorf("Machine() error = %v, want ErrRegistryUnavailable", err)
	}
	if reg.GetStats().LastError == "" {
		t.Error("GetStats() should record the last error")
	}

	repo.setListErr(nil)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() after recovery error = %v", err)
	}
	if reg.Snapshot().State != StateReady || reg.GetStats().LastError != "" {
		t.Error("registry should recover to ready")
	}
}

func TestRegistry_FailureKeepsReadyData(t *testing.T) {
	repo := newMockRepository(testMachines()...)
	reg := NewRegistry(repo)
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	before := reg.Snapshot()

	repo.setListErr(errTest)
	if err := reg.RefreshCache(context.Background()); !errors.Is(err, ErrRegistryUnavailable) {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Snapshot() != before {
		t.Error("a failed background refresh should keep the ready snapshot")
	}
}

func TestRegistry_FetchTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newMockRepository(testMachines()...)
	repo.setBlock(make(chan struct{}))
	reg := NewRegistry(repo, WithFetchTimeout(20*time.Millisecond))

	err := reg.RefreshCache(context.Background())
	if !errors.Is(err, ErrRegistryUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RefreshCache() error = %v, want unavailable after timeout", err)
	}
	if reg.Snapshot().State != StateUnavailable {
		t.Errorf("state = %v, want unavailable", reg.Snapshot().State)
	}
}

func TestRegistry_CallerContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newMockRepository(testMachines()...)
	release := make(chan struct{})
	repo.setBlock(release)
	reg := NewRegistry(repo)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := reg.RefreshCache(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RefreshCache() error = %v, want caller deadline", err)
	}

	// The shared fetch outlives the impatient caller and still publishes.
	close(release)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	snap, err := reg.Wait(waitCtx)
	if err != nil || snap.State != StateReady {
		t.Fatalf("Wait() = %v, %v; want ready", snap.State, err)
	}
}

func TestRegistry_ConcurrentRefreshShareFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newMockRepository(testMachines()...)
	release := make(chan struct{})
	repo.setBlock(release)
	reg := NewRegistry(repo)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- reg.RefreshCache(context.Background())
		}()
	}

	deadline := time.Now().Add(time.Second)
	for repo.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("RefreshCache() error = %v", err)
		}
	}
	if n := repo.calls.Load(); n != 1 {
		t.Errorf("List called %d times, want 1", n)
	}
}

func TestRegistry_InvalidateDiscardsStaleFetch(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newMockRepository(testMachines()...)
	release := make(chan struct{})
	repo.setBlock(release)
	reg := NewRegistry(repo)

	done := make(chan error, 1)
	go func() { done <- reg.RefreshCache(context.Background()) }()

	deadline := time.Now().Add(time.Second)
	for repo.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// The in-flight fetch already read both machines for generation 0.
	// Remove one and invalidate; the old result must not be published.
	_ = repo.Delete(context.Background(), "mch-2") //nolint:errcheck // fixture
	repo.setBlock(nil)
	reg.Invalidate()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	snap := reg.Snapshot()
	if snap.State != StateReady {
		t.Fatalf("state = %v, want ready", snap.State)
	}
	if snap.Generation != 1 {
		t.Errorf("Generation = %d, want 1", snap.Generation)
	}
	if snap.Contains("5702") {
		t.Error("stale fetch result was published")
	}
	if n := repo.calls.Load(); n != 2 {
		t.Errorf("List called %d times, want 2", n)
	}
}

func TestRegistry_InvalidateReturnsToLoading(t *testing.T) {
	reg := NewRegistry(newMockRepository(testMachines()...))
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	v := reg.Snapshot().Version

	reg.Invalidate()
	snap := reg.Snapshot()
	if snap.State != StateLoading {
		t.Errorf("state = %v, want loading", snap.State)
	}
	if snap.Version <= v {
		t.Errorf("Version = %d, want > %d", snap.Version, v)
	}

	if err := reg.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reg.Snapshot().State != StateReady {
		t.Error("Reload() should leave the registry ready")
	}
}

func TestRegistry_WaitHonoursContext(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := reg.Wait(ctx)
	if !errors.Is(err, context.Canceled) || snap.State != StateLoading {
		t.Errorf("Wait() = %v, %v; want loading, context.Canceled", snap.State, err)
	}
}

func TestRegistry_OnChange(t *testing.T) {
	reg := NewRegistry(newMockRepository(testMachines()...))

	var mu sync.Mutex
	var states []RegistryState
	reg.OnChange(func(s *Snapshot) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	_ = reg.RefreshCache(context.Background()) //nolint:errcheck // checked via listener
	reg.Invalidate()

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateReady || states[1] != StateLoading {
		t.Errorf("listener saw %v, want [ready loading]", states)
	}
}

func TestRegistry_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	repo := newMockRepository(testMachines()...)
	reg := NewRegistry(repo)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reg.Run(ctx, time.Hour) }()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	if snap, err := reg.Wait(waitCtx); err != nil || snap.State != StateReady {
		t.Fatalf("Wait() = %v, %v", snap.State, err)
	}

	// Invalidate wakes the loop for an immediate refetch.
	reg.Invalidate()
	if snap, err := reg.Wait(waitCtx); err != nil || snap.State != StateReady {
		t.Fatalf("Wait() after invalidate = %v, %v", snap.State, err)
	}
	if n := repo.calls.Load(); n != 2 {
		t.Errorf("List called %d times, want 2", n)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
}

func TestRegistry_CRUD(t *testing.T) {
	repo := newMockRepository(testMachines()...)
	reg := NewRegistry(repo)
	ctx := context.Background()
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	gen := reg.Snapshot().Generation

	m := &Machine{Number: "5703", DisplayName: " Okuma "}
	if err := reg.CreateMachine(ctx, m); err != nil {
		t.Fatalf("CreateMachine() error = %v", err)
	}
	got, err := reg.Machine("5703")
	if err != nil {
		t.Fatalf("Machine(5703) error = %v", err)
	}
	if got.DisplayName != "Okuma" || !got.Capabilities.Equal(FullCapabilitySet()) {
		t.Errorf("created machine = %+v, want trimmed name and full capabilities", got)
	}
	if reg.Snapshot().Generation <= gen {
		t.Error("mutation should bump the generation")
	}

	m.Number = "5704"
	m.Capabilities = NewCapabilitySet()
	if err := reg.UpdateMachine(ctx, m); err != nil {
		t.Fatalf("UpdateMachine() error = %v", err)
	}
	if _, err := reg.Machine("5703"); !errors.Is(err, ErrMachineNotFound) {
		t.Error("old number should be gone after renumbering")
	}
	got, _ = reg.Machine("5704")
	if got == nil || got.Capabilities.Len() != 0 {
		t.Errorf("updated machine = %+v, want empty capabilities", got)
	}

	byID, err := reg.GetMachine(ctx, m.ID)
	if err != nil || byID.Number != "5704" {
		t.Errorf("GetMachine() = %v, %v", byID, err)
	}

	if err := reg.DeleteMachine(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMachine() error = %v", err)
	}
	if reg.Snapshot().Contains("5704") {
		t.Error("deleted machine still cached")
	}
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg := NewRegistry(newMockRepository())
	err := reg.CreateMachine(context.Background(), &Machine{Number: "57", DisplayName: "x"})
	if !errors.Is(err, ErrInvalidNumber) {
		t.Errorf("CreateMachine() error = %v, want ErrInvalidNumber", err)
	}
}

func TestRegistry_ReadOnly(t *testing.T) {
	reg := NewReadOnlyRegistry(StaticLister(testMachines()))
	ctx := context.Background()

	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if reg.Snapshot().Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Snapshot().Len())
	}
	if err := reg.CreateMachine(ctx, &Machine{Number: "5703", DisplayName: "x"}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("CreateMachine() error = %v, want ErrReadOnly", err)
	}
	if err := reg.DeleteMachine(ctx, "mch-1"); !errors.Is(err, ErrReadOnly) {
		t.Errorf("DeleteMachine() error = %v, want ErrReadOnly", err)
	}
}

func TestRegistry_Clock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(newMockRepository(testMachines()...), WithClock(func() time.Time { return fixed }))
	if err := reg.RefreshCache(context.Background()); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	if !reg.GetStats().LoadedAt.Equal(fixed) {
		t.Errorf("LoadedAt = %v, want %v", reg.GetStats().LoadedAt, fixed)
	}
}
