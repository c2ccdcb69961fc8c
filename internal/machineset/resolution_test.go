package machineset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/verkstad/toolmgmt/internal/machine"
)

var cmpOpts = cmp.Options{
	cmp.Comparer(func(a, b machine.CapabilitySet) bool { return a.Equal(b) }),
	cmpopts.EquateEmpty(),
	cmpopts.EquateErrors(),
}

func testSnapshot(numbers ...string) *machine.Snapshot {
	machines := make([]machine.Machine, 0, len(numbers))
	for _, n := range numbers {
		machines = append(machines, machine.Machine{
			ID:           "mch-" + n,
			Number:       n,
			DisplayName:  "Mazak " + n,
			Capabilities: machine.FullCapabilitySet(),
		})
	}
	return machine.NewSnapshot(machines)
}

func ids(numbers ...string) []machine.MachineID {
	out := make([]machine.MachineID, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, machine.FormatID(n, "Mazak "+n))
	}
	return out
}

func TestResolve_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		snap       *machine.Snapshot
		wantState  State
		wantReason Reason
		wantSel    Selection
		wantDrop   []string
	}{
		{
			name:      "partial registry keeps known machines in order",
			path:      "/5701-5702-5703/skapa-verktygsbyte",
			snap:      testSnapshot("5701", "5702"),
			wantState: StateValid,
			wantSel:   Selection{Available: ids("5701", "5702"), Active: ids("5701")[0], Valid: true},
			wantDrop:  []string{"5703"},
		},
		{
			name:       "three digit group",
			path:       "/570/skapa-verktygsbyte",
			snap:       testSnapshot("5701"),
			wantState:  StateInvalid,
			wantReason: ReasonMalformedPath,
			wantSel:    Selection{},
		},
		{
			name:       "unknown machine",
			path:       "/9999",
			snap:       testSnapshot("5701"),
			wantState:  StateInvalid,
			wantReason: ReasonUnknownMachines,
			wantSel:    Selection{},
			wantDrop:   []string{"9999"},
		},
		{
			name:      "duplicates preserved",
			path:      "/5701-5701",
			snap:      testSnapshot("5701"),
			wantState: StateValid,
			wantSel:   Selection{Available: ids("5701", "5701"), Active: ids("5701")[0], Valid: true},
		},
		{
			name:      "registry loading",
			path:      "/5701",
			snap:      machine.LoadingSnapshot(),
			wantState: StateLoading,
			wantSel:   Selection{},
		},
		{
			name:      "registry loading with malformed path",
			path:      "/570",
			snap:      machine.LoadingSnapshot(),
			wantState: StateLoading,
			wantSel:   Selection{},
		},
		{
			name:      "nil snapshot is loading",
			path:      "/5701",
			snap:      nil,
			wantState: StateLoading,
			wantSel:   Selection{},
		},
		{
			name:       "empty registry is invalid, not a fault",
			path:       "/5701",
			snap:       testSnapshot(),
			wantState:  StateInvalid,
			wantReason: ReasonUnknownMachines,
			wantSel:    Selection{},
			wantDrop:   []string{"5701"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolve(tt.path, tt.snap)

			if res.State != tt.wantState {
				t.Errorf("State = %v, want %v", res.State, tt.wantState)
			}
			if res.Reason != tt.wantReason {
				t.Errorf("Reason = %v, want %v", res.Reason, tt.wantReason)
			}
			if diff := cmp.Diff(tt.wantSel, res.Selection, cmpOpts); diff != "" {
				t.Errorf("Selection mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantDrop, res.Dropped, cmpOpts); diff != "" {
				t.Errorf("Dropped mismatch (-want +got):\n%s", diff)
			}
			if len(res.Machines) != len(res.Selection.Available) {
				t.Errorf("Machines has %d entries for %d available", len(res.Machines), len(res.Selection.Available))
			}
		})
	}
}

func TestResolve_Unavailable(t *testing.T) {
	cause := errors.New("connection refused")
	res := Resolve("/5701", machine.UnavailableSnapshot(cause))

	if res.State != StateUnavailable {
		t.Fatalf("State = %v, want unavailable", res.State)
	}
	if res.NotFound() || res.Valid() {
		t.Error("unavailable must not be reported as not found or valid")
	}
	if !errors.Is(res.Err, cause) {
		t.Errorf("Err = %v, want %v", res.Err, cause)
	}
	if len(res.Selection.Available) != 0 || res.Selection.Active != "" {
		t.Errorf("Selection = %+v, want empty", res.Selection)
	}
}

func TestResolve_ActiveRecord(t *testing.T) {
	snap := machine.NewSnapshot([]machine.Machine{
		{ID: "mch-1", Number: "5701", DisplayName: "Mazak 1", Capabilities: machine.NewCapabilitySet(machine.CapToolChange)},
		{ID: "mch-2", Number: "5702", DisplayName: "Mazak 2", Capabilities: machine.NewCapabilitySet(machine.CapMatrixCode)},
	})
	res := Resolve("/5702-5701/x", snap)

	m, ok := res.Active()
	if !ok || m.Number != "5702" {
		t.Fatalf("Active() = %v, %v; want 5702", m, ok)
	}
	if !m.Has(machine.CapMatrixCode) || m.Has(machine.CapToolChange) {
		t.Errorf("active capabilities = %v", m.Capabilities.List())
	}

	if _, ok := Resolve("/9999", snap).Active(); ok {
		t.Error("Active() on invalid resolution should report false")
	}
}

// randomPath builds a path whose machine segment mixes known and unknown
// numbers, or no machine segment at all.
func randomPath(r *rand.Rand, known []string) (path string, numbers []string) {
	if r.IntN(5) == 0 {
		widths := []int{1, 2, 3, 5, 6}
		return "/" + strings.Repeat("7", widths[r.IntN(len(widths))]) + "/page", nil
	}
	n := 1 + r.IntN(5)
	for range n {
		if len(known) > 0 && r.IntN(3) > 0 {
			numbers = append(numbers, known[r.IntN(len(known))])
		} else {
			numbers = append(numbers, fmt.Sprintf("%04d", 9000+r.IntN(1000)))
		}
	}
	return "/" + strings.Join(numbers, "-") + "/page", numbers
}

func TestResolve_Properties(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	known := []string{"5701", "5702", "5703", "6101"}
	snap := testSnapshot(known...)

	for i := range 500 {
		path, numbers := randomPath(r, known)

		res := Resolve(path, snap)

		// Valid iff at least one machine survived, and active is a member.
		if res.Selection.Valid != (len(res.Selection.Available) > 0) {
			t.Fatalf("#%d %q: Valid=%v with %d available", i, path, res.Selection.Valid, len(res.Selection.Available))
		}
		if res.Selection.Valid && !res.Selection.Contains(res.Selection.Active) {
			t.Fatalf("#%d %q: active %q not in available", i, path, res.Selection.Active)
		}
		if !res.Selection.Valid && res.Selection.Active != "" {
			t.Fatalf("#%d %q: invalid selection has active %q", i, path, res.Selection.Active)
		}

		// Unmatched paths are invalid whatever the registry holds.
		if numbers == nil && (res.State != StateInvalid || len(res.Selection.Available) != 0) {
			t.Fatalf("#%d %q: unmatched path resolved to %v", i, path, res.State)
		}

		// Available equals parsed numbers minus unknown ones, in order.
		var want []string
		for _, n := range numbers {
			if snap.Contains(n) {
				want = append(want, n)
			}
		}
		var got []string
		for _, id := range res.Selection.Available {
			got = append(got, id.Number())
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("#%d %q: available mismatch (-want +got):\n%s", i, path, diff)
		}

		// Idempotent.
		if diff := cmp.Diff(res, Resolve(path, snap), cmpOpts); diff != "" {
			t.Fatalf("#%d %q: second resolution differs:\n%s", i, path, diff)
		}

		// Selecting a non-member changes nothing.
		sel, ok := res.Selection.Select("0000 Nowhere")
		if ok {
			t.Fatalf("#%d %q: Select of non-member reported ok", i, path)
		}
		if diff := cmp.Diff(res.Selection, sel, cmpOpts); diff != "" {
			t.Fatalf("#%d %q: Select of non-member changed selection:\n%s", i, path, diff)
		}
	}
}

func TestSelection_Select(t *testing.T) {
	sel := NewSelection(ids("5701", "5702"))

	next, ok := sel.Select(ids("5702")[0])
	if !ok || next.Active != ids("5702")[0] {
		t.Fatalf("Select(5702) = %+v, %v", next, ok)
	}
	if sel.Active != ids("5701")[0] {
		t.Error("Select() mutated the receiver")
	}

	same, ok := next.Select("5703 Unknown")
	if ok || same.Active != next.Active {
		t.Errorf("Select(non-member) = %+v, %v; want unchanged", same, ok)
	}

	if _, ok := NewSelection(nil).Select(ids("5701")[0]); ok {
		t.Error("Select on an invalid selection should fail")
	}
}

func TestNewSelection_CopiesInput(t *testing.T) {
	in := ids("5701", "5702")
	sel := NewSelection(in)
	in[0] = "mutated"
	if sel.Available[0] == "mutated" {
		t.Error("NewSelection should copy its input")
	}
}

func TestStateAndReasonStrings(t *testing.T) {
	if StateValid.String() != "valid" || StateUnavailable.String() != "unavailable" {
		t.Error("unexpected state names")
	}
	if ReasonMalformedPath.String() != "malformed_path" || ReasonNone.String() != "" {
		t.Error("unexpected reason names")
	}
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, st := range []State{StateLoading, StateInvalid, StateValid, StateUnavailable} {
		text, err := st.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) error = %v", st, err)
		}
		var got State
		if err := got.UnmarshalText(text); err != nil || got != st {
			t.Errorf("UnmarshalText(%q) = %v, %v", text, got, err)
		}
	}
	var st State
	if err := st.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) error = nil")
	}
}
