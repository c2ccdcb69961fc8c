package machine

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Capability names one logbook section a machine takes part in.
type Capability string

// Known capabilities.
const (
	CapToolChange   Capability = "tool_change"
	CapCompensation Capability = "compensation"
	CapDisturbances Capability = "disturbances"
	CapMatrixCode   Capability = "matrix_code"
)

// AllCapabilities returns every known capability in display order.
func AllCapabilities() []Capability {
	return []Capability{CapToolChange, CapCompensation, CapDisturbances, CapMatrixCode}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	return slices.Contains(AllCapabilities(), c)
}

// CapabilitySet is the set of sections enabled for a machine.
// The zero value is an empty set. JSON form is a sorted array of names.
type CapabilitySet struct {
	m map[Capability]struct{}
}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := CapabilitySet{m: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		s.m[c] = struct{}{}
	}
	return s
}

// FullCapabilitySet returns a set holding every known capability.
// New machines start with it.
func FullCapabilitySet() CapabilitySet {
	return NewCapabilitySet(AllCapabilities()...)
}

// IsZero reports whether the set was never initialised, as opposed to
// explicitly emptied. A JSON field that is absent leaves the set zero.
func (s CapabilitySet) IsZero() bool {
	return s.m == nil
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s.m[c]
	return ok
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int {
	return len(s.m)
}

// List returns the capabilities sorted by name.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.m))
	for c := range s.m {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// With returns a copy of the set with c added.
func (s CapabilitySet) With(c Capability) CapabilitySet {
	out := s.Clone()
	out.m[c] = struct{}{}
	return out
}

// Without returns a copy of the set with c removed.
func (s CapabilitySet) Without(c Capability) CapabilitySet {
	out := s.Clone()
	delete(out.m, c)
	return out
}

// Clone returns an independent copy.
func (s CapabilitySet) Clone() CapabilitySet {
	out := CapabilitySet{m: make(map[Capability]struct{}, len(s.m))}
	for c := range s.m {
		out.m[c] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold the same capabilities.
func (s CapabilitySet) Equal(other CapabilitySet) bool {
	if len(s.m) != len(other.m) {
		return false
	}
	for c := range s.m {
		if !other.Has(c) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a sorted array.
func (s CapabilitySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.List())
}

// UnmarshalJSON decodes an array of capability names. null is a no-op.
func (s *CapabilitySet) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var caps []Capability
	if err := json.Unmarshal(data, &caps); err != nil {
		return fmt.Errorf("decoding capabilities: %w", err)
	}
	*s = NewCapabilitySet(caps...)
	return nil
}

// MachineID is the composite "<number> <displayName>" key shown in selectors.
// It is opaque apart from Number.
type MachineID string

// FormatID builds the identifier for a machine number and display name.
func FormatID(number, displayName string) MachineID {
	return MachineID(number + " " + displayName)
}

// Number returns the text before the first space.
func (id MachineID) Number() string {
	number, _, _ := strings.Cut(string(id), " ")
	return number
}

// String implements fmt.Stringer.
func (id MachineID) String() string {
	return string(id)
}

// Machine is one CNC machine known to the registry.
type Machine struct {
	// ID is the stable database identifier (e.g. "mch-1a2b3c4d").
	ID string `json:"id"`

	// Number is exactly four ASCII digits and unique across machines.
	Number string `json:"number"`

	DisplayName  string        `json:"display_name"`
	Capabilities CapabilitySet `json:"capabilities"`

	// IPAddress locates the AdamBox counter for this machine, if fitted.
	IPAddress string `json:"ip_address,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MachineID returns the composite selector key for m.
func (m *Machine) MachineID() MachineID {
	return FormatID(m.Number, m.DisplayName)
}

// Has reports whether capability c is enabled for m.
func (m *Machine) Has(c Capability) bool {
	return m.Capabilities.Has(c)
}

// DeepCopy returns a copy that shares no mutable state with m.
func (m *Machine) DeepCopy() *Machine {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Capabilities = m.Capabilities.Clone()
	return &cp
}

// RegistryState describes whether a snapshot can answer lookups.
type RegistryState int

// Registry states.
const (
	// StateLoading means no data is available yet, or the cache was invalidated.
	StateLoading RegistryState = iota
	// StateReady means the snapshot holds a complete machine list.
	StateReady
	// StateUnavailable means the last fetch failed and no usable data exists.
	StateUnavailable
)

// String returns the lowercase state name used in logs and API payloads.
func (s RegistryState) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s RegistryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RegistryState) UnmarshalText(text []byte) error {
	for _, st := range []RegistryState{StateLoading, StateReady, StateUnavailable} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("machine: unknown registry state %q", text)
}

// Snapshot is an immutable view of the registry at one point in time.
type Snapshot struct {
	State RegistryState

	// Version increases with every snapshot the registry publishes,
	// whatever its state. Consumers drop snapshots older than one they hold.
	Version uint64

	// Generation is the invalidation epoch the data was fetched for.
	Generation uint64

	// Err holds the fetch failure when State is StateUnavailable.
	Err error

	LoadedAt time.Time

	machines []Machine
	byNumber map[string]int
}

// NewSnapshot returns a ready snapshot over machines, ordered by number.
// When numbers repeat, the first occurrence wins.
func NewSnapshot(machines []Machine) *Snapshot {
	return newReadySnapshot(machines, 0, 0, time.Time{})
}

func newReadySnapshot(machines []Machine, version, generation uint64, loadedAt time.Time) *Snapshot {
	sorted := make([]Machine, 0, len(machines))
	for i := range machines {
		sorted = append(sorted, *machines[i].DeepCopy())
	}
	slices.SortStableFunc(sorted, func(a, b Machine) int {
		return strings.Compare(a.Number, b.Number)
	})

	s := &Snapshot{
		State:      StateReady,
		Version:    version,
		Generation: generation,
		LoadedAt:   loadedAt,
		machines:   make([]Machine, 0, len(sorted)),
		byNumber:   make(map[string]int, len(sorted)),
	}
	for _, m := range sorted {
		if _, dup := s.byNumber[m.Number]; dup {
			continue
		}
		s.byNumber[m.Number] = len(s.machines)
		s.machines = append(s.machines, m)
	}
	return s
}

// LoadingSnapshot returns a snapshot in the loading state.
func LoadingSnapshot() *Snapshot {
	return &Snapshot{State: StateLoading}
}

// UnavailableSnapshot returns a snapshot recording a failed fetch.
func UnavailableSnapshot(err error) *Snapshot {
	return &Snapshot{State: StateUnavailable, Err: err}
}

// Ready reports whether lookups against s are meaningful.
func (s *Snapshot) Ready() bool {
	return s != nil && s.State == StateReady
}

// Lookup returns a copy of the machine with the given number.
func (s *Snapshot) Lookup(number string) (*Machine, bool) {
	if !s.Ready() {
		return nil, false
	}
	i, ok := s.byNumber[number]
	if !ok {
		return nil, false
	}
	return s.machines[i].DeepCopy(), true
}

// Contains reports whether a machine with the given number exists.
func (s *Snapshot) Contains(number string) bool {
	if !s.Ready() {
		return false
	}
	_, ok := s.byNumber[number]
	return ok
}

// Machines returns copies of every machine, ordered by number.
func (s *Snapshot) Machines() []Machine {
	if !s.Ready() {
		return nil
	}
	out := make([]Machine, len(s.machines))
	for i := range s.machines {
		out[i] = *s.machines[i].DeepCopy()
	}
	return out
}

// Len returns the number of machines in the snapshot.
func (s *Snapshot) Len() int {
	if !s.Ready() {
		return 0
	}
	return len(s.machines)
}
