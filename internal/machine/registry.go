package machine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// DefaultFetchTimeout bounds one List call against the source.
	DefaultFetchTimeout = 10 * time.Second

	// retryDelay is the wait before refetching after a failed load.
	retryDelay = 5 * time.Second

	// maxStaleAttempts limits how often RefreshCache restarts when its
	// fetch is overtaken by an invalidation.
	maxStaleAttempts = 3
)

// errStale marks a fetch whose generation was invalidated while it ran.
var errStale = errors.New("machine: stale fetch")

// Logger defines the logging interface used by the Registry.
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

// StaticLister serves a fixed machine list.
type StaticLister []Machine

// List returns a copy of the list.
func (l StaticLister) List(context.Context) ([]Machine, error) {
	out := make([]Machine, len(l))
	for i := range l {
		out[i] = *l[i].DeepCopy()
	}
	return out, nil
}

// Option configures a Registry.
type Option func(*Registry)

// WithFetchTimeout sets the bound on a single source fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.fetchTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// Registry caches the machine list and publishes immutable snapshots.
//
// The cache starts in the loading state. RefreshCache fills it; Invalidate
// drops it back to loading and bumps the generation so that any fetch
// already running for the old generation is discarded when it returns.
// Concurrent refreshes for the same generation share one source call.
//
// All public methods are thread-safe.
type Registry struct {
	source       Lister
	store        Store
	fetchTimeout time.Duration
	now          func() time.Time
	logger       Logger

	mu         sync.RWMutex
	snap       *Snapshot
	version    uint64
	generation uint64
	lastErr    error
	changed    chan struct{}
	listeners  []func(*Snapshot)

	group singleflight.Group
	kick  chan struct{}
}

// NewRegistry creates a registry backed by a full repository.
func NewRegistry(repo Repository, opts ...Option) *Registry {
	r := newRegistry(repo, opts)
	r.store = repo
	return r
}

// NewReadOnlyRegistry creates a registry over a list-only source.
// Mutations return ErrReadOnly.
func NewReadOnlyRegistry(source Lister, opts ...Option) *Registry {
	return newRegistry(source, opts)
}

func newRegistry(source Lister, opts []Option) *Registry {
	r := &Registry{
		source:       source,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       noopLogger{},
		snap:         LoadingSnapshot(),
		changed:      make(chan struct{}),
		kick:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// OnChange registers fn to receive every published snapshot.
// fn runs on the publishing goroutine and must not block.
func (r *Registry) OnChange(fn func(*Snapshot)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Snapshot returns the current snapshot. It is never nil.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// RefreshCache loads the machine list from the source and publishes it.
//
// On failure the registry keeps serving a previously loaded list, if any,
// and otherwise moves to the unavailable state. The returned error wraps
// ErrRegistryUnavailable. ctx only bounds how long the caller waits; the
// fetch itself is bounded by the fetch timeout and shared with concurrent
// callers.
func (r *Registry) RefreshCache(ctx context.Context) error {
	for range maxStaleAttempts {
		gen := r.currentGeneration()
		ch := r.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
			return nil, r.fetch(context.WithoutCancel(ctx), gen)
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-ch:
			if errors.Is(res.Err, errStale) {
				continue
			}
			return res.Err
		}
	}
	return ErrStaleFetch
}

func (r *Registry) fetch(ctx context.Context, gen uint64) error {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	start := r.now()
	machines, err := r.source.List(ctx)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("fetch timed out after %s: %w", r.fetchTimeout, err)
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		r.logger.Debug("discarding stale machine fetch", "generation", gen)
		return errStale
	}

	if err != nil {
		r.lastErr = err
		if r.snap.State == StateReady {
			r.mu.Unlock()
			r.logger.Warn("machine refresh failed, serving cached list", "error", err)
			return fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
		}
		r.version++
		snap := UnavailableSnapshot(err)
		snap.Version, snap.Generation = r.version, gen
		listeners := r.publishLocked(snap)
		r.mu.Unlock()

		r.logger.Error("machine registry unavailable", "error", err)
		notify(listeners, snap)
		return fmt.Errorf("%w: %w", ErrRegistryUnavailable, err)
	}

	r.lastErr = nil
	r.version++
	snap := newReadySnapshot(machines, r.version, gen, r.now())
	listeners := r.publishLocked(snap)
	r.mu.Unlock()

	r.logger.Info("machine cache refreshed",
		"count", snap.Len(),
		"version", snap.Version,
		"duration", r.now().Sub(start),
	)
	notify(listeners, snap)
	return nil
}

// Invalidate drops the cached list. The registry reports loading until the
// next successful refresh, and fetches started before the call are ignored.
// A running Run loop refetches immediately.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.generation++
	r.version++
	snap := &Snapshot{State: StateLoading, Version: r.version, Generation: r.generation}
	listeners := r.publishLocked(snap)
	r.mu.Unlock()

	r.logger.Info("machine cache invalidated", "generation", snap.Generation)
	notify(listeners, snap)

	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Reload invalidates the cache and refreshes it.
func (r *Registry) Reload(ctx context.Context) error {
	r.Invalidate()
	return r.RefreshCache(ctx)
}

// Wait blocks until the registry leaves the loading state or ctx is done.
// It returns the snapshot current at that moment.
func (r *Registry) Wait(ctx context.Context) (*Snapshot, error) {
	for {
		r.mu.RLock()
		snap, changed := r.snap, r.changed
		r.mu.RUnlock()

		if snap.State != StateLoading {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// Run keeps the cache fresh until ctx is cancelled.
//
// It loads immediately, then refreshes every interval. After a failure it
// retries sooner. An Invalidate triggers an immediate refetch. An interval
// of zero disables periodic refreshes but still honours Invalidate.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-r.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := interval
		if err := r.RefreshCache(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if next <= 0 || next > retryDelay {
				next = retryDelay
			}
		}
		if next > 0 {
			timer.Reset(next)
		}
	}
}

// Machine returns the machine with the given number from the current snapshot.
func (r *Registry) Machine(number string) (*Machine, error) {
	snap := r.Snapshot()
	if err := stateError(snap); err != nil {
		return nil, err
	}
	m, ok := snap.Lookup(number)
	if !ok {
		return nil, ErrMachineNotFound
	}
	return m, nil
}

// ListMachines returns every cached machine ordered by number.
func (r *Registry) ListMachines() ([]Machine, error) {
	snap := r.Snapshot()
	if err := stateError(snap); err != nil {
		return nil, err
	}
	return snap.Machines(), nil
}

// GetMachine retrieves a machine by database ID.
// The cache is consulted first; the store is used when the cache is not ready.
func (r *Registry) GetMachine(ctx context.Context, id string) (*Machine, error) {
	snap := r.Snapshot()
	if snap.Ready() {
		for _, m := range snap.machines {
			if m.ID == id {
				return m.DeepCopy(), nil
			}
		}
		return nil, ErrMachineNotFound
	}
	if r.store == nil {
		return nil, stateError(snap)
	}
	return r.store.GetByID(ctx, id)
}

// CreateMachine validates and persists m, then adds it to the cache.
// A machine whose capabilities were never set receives the full set;
// an explicitly empty set is kept.
func (r *Registry) CreateMachine(ctx context.Context, m *Machine) error {
	if r.store == nil {
		return ErrReadOnly
	}
	if m.Capabilities.IsZero() {
		m.Capabilities = FullCapabilitySet()
	}
	if err := ValidateMachine(m); err != nil {
		return err
	}
	if err := r.store.Create(ctx, m); err != nil {
		return err
	}

	r.applyMutation(func(list []Machine) []Machine {
		return append(list, *m.DeepCopy())
	})
	r.logger.Info("machine created", "id", m.ID, "number", m.Number)
	return nil
}

// UpdateMachine validates and persists m, then replaces it in the cache.
func (r *Registry) UpdateMachine(ctx context.Context, m *Machine) error {
	if r.store == nil {
		return ErrReadOnly
	}
	if err := ValidateMachine(m); err != nil {
		return err
	}
	if err := r.store.Update(ctx, m); err != nil {
		return err
	}

	r.applyMutation(func(list []Machine) []Machine {
		for i := range list {
			if list[i].ID == m.ID {
				updated := *m.DeepCopy()
				updated.CreatedAt = list[i].CreatedAt
				list[i] = updated
			}
		}
		return list
	})
	r.logger.Info("machine updated", "id", m.ID, "number", m.Number)
	return nil
}

// DeleteMachine removes a machine from the store and the cache.
func (r *Registry) DeleteMachine(ctx context.Context, id string) error {
	if r.store == nil {
		return ErrReadOnly
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}

	r.applyMutation(func(list []Machine) []Machine {
		out := list[:0]
		for _, m := range list {
			if m.ID != id {
				out = append(out, m)
			}
		}
		return out
	})
	r.logger.Info("machine deleted", "id", id)
	return nil
}

// applyMutation rewrites a ready snapshot after a successful store write.
// The generation is bumped so that a fetch started before the write cannot
// publish a list that lacks it. A registry that is not ready is left alone;
// its next refresh reads the write back from the store.
func (r *Registry) applyMutation(edit func([]Machine) []Machine) {
	r.mu.Lock()
	if !r.snap.Ready() {
		r.mu.Unlock()
		return
	}
	r.generation++
	r.version++
	list := edit(r.snap.Machines())
	snap := newReadySnapshot(list, r.version, r.generation, r.snap.LoadedAt)
	listeners := r.publishLocked(snap)
	r.mu.Unlock()

	notify(listeners, snap)
}

// RegistryStats is a point-in-time summary for health and metrics endpoints.
type RegistryStats struct {
	State      RegistryState `json:"state"`
	Machines   int           `json:"machines"`
	Version    uint64        `json:"version"`
	Generation uint64        `json:"generation"`
	LoadedAt   time.Time     `json:"loaded_at,omitzero"`
	LastError  string        `json:"last_error,omitempty"`
}

// GetStats returns registry statistics.
func (r *Registry) GetStats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		State:      r.snap.State,
		Machines:   r.snap.Len(),
		Version:    r.snap.Version,
		Generation: r.generation,
		LoadedAt:   r.snap.LoadedAt,
	}
	if r.lastErr != nil {
		stats.LastError = r.lastErr.Error()
	}
	return stats
}

func (r *Registry) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// publishLocked swaps in snap and wakes waiters. r.mu must be held.
// The returned listeners are called by the caller after unlocking.
func (r *Registry) publishLocked(snap *Snapshot) []func(*Snapshot) {
	r.snap = snap
	close(r.changed)
	r.changed = make(chan struct{})
	return slices.Clone(r.listeners)
}

func notify(listeners []func(*Snapshot), snap *Snapshot) {
	for _, fn := range listeners {
		fn(snap)
	}
}

// stateError maps a non-ready snapshot to its sentinel error.
func stateError(snap *Snapshot) error {
	switch snap.State {
	case StateReady:
		return nil
	case StateUnavailable:
		if snap.Err != nil {
			return fmt.Errorf("%w: %w", ErrRegistryUnavailable, snap.Err)
		}
		return ErrRegistryUnavailable
	default:
		return ErrRegistryLoading
	}
}

// StateError returns nil for a ready snapshot, ErrRegistryLoading or
// ErrRegistryUnavailable otherwise.
func StateError(snap *Snapshot) error {
	if snap == nil {
		return ErrRegistryLoading
	}
	return stateError(snap)
}
