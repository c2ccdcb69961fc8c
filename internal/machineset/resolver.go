package machineset

import (
	"context"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// SnapshotSource supplies the current registry snapshot.
// *machine.Registry implements it.
type SnapshotSource interface {
	Snapshot() *machine.Snapshot
}

// waiter is implemented by sources that can block until the first load.
type waiter interface {
	Wait(ctx context.Context) (*machine.Snapshot, error)
}

// Resolver resolves paths against a live snapshot source.
type Resolver struct {
	source SnapshotSource
}

// NewResolver creates a resolver over source.
func NewResolver(source SnapshotSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve resolves path against the current snapshot without blocking.
func (r *Resolver) Resolve(path string) Resolution {
	return Resolve(path, r.source.Snapshot())
}

// WaitResolve waits for the registry to leave the loading state, bounded by
// ctx, then resolves path. When ctx ends first the loading resolution is
// returned together with ctx.Err().
func (r *Resolver) WaitResolve(ctx context.Context, path string) (Resolution, error) {
	w, ok := r.source.(waiter)
	if !ok {
		return r.Resolve(path), nil
	}
	snap, err := w.Wait(ctx)
	return Resolve(path, snap), err
}

// Static is a SnapshotSource that always returns the same snapshot.
type Static struct {
	Snap *machine.Snapshot
}

// Snapshot implements SnapshotSource.
func (s Static) Snapshot() *machine.Snapshot {
	return s.Snap
}
