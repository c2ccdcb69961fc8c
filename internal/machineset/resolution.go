package machineset

import (
	"fmt"
	"slices"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// State is the outcome class of a resolution.
type State int

// Resolution states.
const (
	StateLoading State = iota
	StateInvalid
	StateValid
	StateUnavailable
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateInvalid:
		return "invalid"
	case StateValid:
		return "valid"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{StateLoading, StateInvalid, StateValid, StateUnavailable} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("machineset: unknown state %q", text)
}

// Reason says why a resolution is invalid. It is internal detail; users see
// one "not found" outcome for both reasons.
type Reason int

// Invalid reasons.
const (
	ReasonNone Reason = iota
	ReasonMalformedPath
	ReasonUnknownMachines
)

// String returns the reason name used in logs and JSON.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return ""
	case ReasonMalformedPath:
		return "malformed_path"
	case ReasonUnknownMachines:
		return "unknown_machines"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Selection is the ordered machine list for a page and the active entry.
// Valid is true exactly when Available is non-empty, and then Active is
// one of its elements. An invalid selection has an empty Active.
type Selection struct {
	Available []machine.MachineID `json:"available"`
	Active    machine.MachineID   `json:"active"`
	Valid     bool                `json:"valid"`
}

// NewSelection builds a selection over available with the first entry active.
func NewSelection(available []machine.MachineID) Selection {
	if len(available) == 0 {
		return Selection{Available: []machine.MachineID{}}
	}
	return Selection{
		Available: slices.Clone(available),
		Active:    available[0],
		Valid:     true,
	}
}

// Contains reports whether id is one of the available machines.
func (s Selection) Contains(id machine.MachineID) bool {
	return slices.Contains(s.Available, id)
}

// Select returns a copy of s with next active. When next is not available
// s is returned unchanged and ok is false.
func (s Selection) Select(next machine.MachineID) (_ Selection, ok bool) {
	if !s.Valid || !s.Contains(next) {
		return s, false
	}
	out := s
	out.Available = slices.Clone(s.Available)
	out.Active = next
	return out, true
}

// Resolution is the result of resolving a path against a registry snapshot.
type Resolution struct {
	State  State  `json:"state"`
	Reason Reason `json:"reason,omitempty"`

	// Segment is the matched machine segment, empty when none matched.
	Segment string `json:"segment,omitempty"`

	Selection Selection `json:"selection"`

	// Machines holds the registry record for each Available entry, in the
	// same order. Callers use it to decide which sections to offer.
	Machines []machine.Machine `json:"machines"`

	// Dropped lists parsed numbers that are not in the registry.
	Dropped []string `json:"dropped,omitempty"`

	// Version is the registry snapshot version the result was derived from.
	Version uint64 `json:"version"`

	// Err holds the registry failure when State is StateUnavailable.
	Err error `json:"-"`
}

// Valid reports whether the resolution names at least one known machine.
func (r Resolution) Valid() bool {
	return r.State == StateValid
}

// Active returns the registry record of the active machine.
func (r Resolution) Active() (*machine.Machine, bool) {
	if !r.Valid() {
		return nil, false
	}
	i := slices.Index(r.Selection.Available, r.Selection.Active)
	if i < 0 || i >= len(r.Machines) {
		return nil, false
	}
	return r.Machines[i].DeepCopy(), true
}

// NotFound reports whether the resolution should be presented as a missing
// page. Loading and Unavailable are not "not found".
func (r Resolution) NotFound() bool {
	return r.State == StateInvalid
}

// Validate cross-references parsed numbers with a registry snapshot.
//
// Numbers absent from the snapshot are dropped without error. A snapshot
// that is nil or loading yields StateLoading, a failed one StateUnavailable;
// neither is reported as invalid.
func Validate(numbers []string, snap *machine.Snapshot) Resolution {
	res := Resolution{
		Selection: NewSelection(nil),
		Machines:  []machine.Machine{},
	}
	if snap == nil {
		res.State = StateLoading
		return res
	}
	res.Version = snap.Version

	switch snap.State {
	case machine.StateLoading:
		res.State = StateLoading
		return res
	case machine.StateUnavailable:
		res.State = StateUnavailable
		res.Err = snap.Err
		return res
	}

	available := make([]machine.MachineID, 0, len(numbers))
	for _, n := range numbers {
		m, ok := snap.Lookup(n)
		if !ok {
			res.Dropped = append(res.Dropped, n)
			continue
		}
		available = append(available, m.MachineID())
		res.Machines = append(res.Machines, *m)
	}

	res.Selection = NewSelection(available)
	if res.Selection.Valid {
		res.State = StateValid
		return res
	}

	res.State = StateInvalid
	if len(numbers) == 0 {
		res.Reason = ReasonMalformedPath
	} else {
		res.Reason = ReasonUnknownMachines
	}
	return res
}

// Resolve parses path and validates it against snap.
func Resolve(path string, snap *machine.Snapshot) Resolution {
	seg, _ := Segment(path)
	res := Validate(ParseNumbers(path), snap)
	res.Segment = seg
	return res
}
