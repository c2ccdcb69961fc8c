package machineset

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/verkstad/toolmgmt/internal/machine"
)

func TestResolver_Static(t *testing.T) {
	r := NewResolver(Static{Snap: testSnapshot("5701")})

	if res := r.Resolve("/5701/x"); !res.Valid() {
		t.Errorf("Resolve() state = %v, want valid", res.State)
	}
	res, err := r.WaitResolve(context.Background(), "/9999")
	if err != nil || !res.NotFound() {
		t.Errorf("WaitResolve() = %v, %v; want invalid", res.State, err)
	}
}

func TestResolver_WaitsForRegistry(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := machine.NewReadOnlyRegistry(machine.StaticLister{
		{ID: "mch-1", Number: "5701", DisplayName: "Mazak 1"},
	})
	r := NewResolver(reg)

	if res := r.Resolve("/5701"); res.State != StateLoading {
		t.Fatalf("Resolve() before load = %v, want loading", res.State)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = reg.RefreshCache(context.Background()) //nolint:errcheck // observed via WaitResolve
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := r.WaitResolve(ctx, "/5701")
	if err != nil {
		t.Fatalf("WaitResolve() error = %v", err)
	}
	if !res.Valid() || res.Selection.Active != "5701 Mazak 1" {
		t.Errorf("WaitResolve() = %v active %q", res.State, res.Selection.Active)
	}
}

func TestResolver_WaitTimesOut(t *testing.T) {
	reg := machine.NewReadOnlyRegistry(machine.StaticLister{})
	r := NewResolver(reg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := r.WaitResolve(ctx, "/5701")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitResolve() error = %v, want deadline exceeded", err)
	}
	if res.State != StateLoading {
		t.Errorf("State = %v, want loading", res.State)
	}
}

func TestResolver_Unavailable(t *testing.T) {
	reg := machine.NewReadOnlyRegistry(failingLister{})
	_ = reg.RefreshCache(context.Background()) //nolint:errcheck // state checked below

	res, err := NewResolver(reg).WaitResolve(context.Background(), "/5701")
	if err != nil {
		t.Fatalf("WaitResolve() error = %v", err)
	}
	if res.State != StateUnavailable || res.NotFound() {
		t.Errorf("State = %v, want unavailable and not a not-found", res.State)
	}
}

type failingLister struct{}

func (failingLister) List(context.Context) ([]machine.Machine, error) {
	return nil, errors.New("database is locked")
}
