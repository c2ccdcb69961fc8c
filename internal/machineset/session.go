package machineset

import (
	"sync"
	"time"

	"github.com/verkstad/toolmgmt/internal/machine"
)

// Session tracks one viewer's machine selection.
//
// The active machine is seeded from the first available machine when the
// machine segment of the path changes. Re-deriving for the same segment,
// for example after a registry invalidation and reload, keeps the current
// choice while it is still available. Selecting never changes the path.
type Session struct {
	mu   sync.Mutex
	path string
	snap *machine.Snapshot

	// chosen is the active machine of the last valid resolution for
	// chosenSegment. Loading and unavailable snapshots leave it alone.
	chosen        machine.MachineID
	chosenSegment string

	res      Resolution
	lastUsed time.Time
	now      func() time.Time
}

// NewSession creates a session with no path against a loading registry.
func NewSession() *Session {
	return newSession(time.Now)
}

func newSession(now func() time.Time) *Session {
	s := &Session{now: now, snap: machine.LoadingSnapshot()}
	s.res = Resolve("", s.snap)
	s.lastUsed = now()
	return s
}

// Navigate records a new path and re-derives the selection.
func (s *Session) Navigate(path string) Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	s.path = path
	if seg, _ := Segment(path); seg != s.chosenSegment {
		s.chosen, s.chosenSegment = "", ""
	}
	return s.deriveLocked()
}

// Apply re-derives against snap. Snapshots older than the one already
// applied are discarded and ok is false.
func (s *Session) Apply(snap *machine.Snapshot) (_ Resolution, ok bool) {
	if snap == nil {
		return s.Current(), false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version < s.snap.Version {
		return s.res, false
	}
	s.snap = snap
	return s.deriveLocked(), true
}

// Select makes next the active machine. It is a no-op returning false when
// next is not among the available machines.
func (s *Session) Select(next machine.MachineID) (Resolution, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touch()
	sel, ok := s.res.Selection.Select(next)
	if !ok {
		return s.res, false
	}
	s.res.Selection = sel
	s.chosen, s.chosenSegment = next, s.res.Segment
	return s.res, true
}

// Current returns the latest resolution.
func (s *Session) Current() Resolution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.res
}

// Path returns the last navigated path.
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// LastUsed returns when the session was last navigated or selected.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch() {
	s.lastUsed = s.now()
}

// deriveLocked recomputes s.res. s.mu must be held.
func (s *Session) deriveLocked() Resolution {
	next := Resolve(s.path, s.snap)
	if next.Valid() {
		if s.chosen != "" && next.Segment == s.chosenSegment {
			if sel, ok := next.Selection.Select(s.chosen); ok {
				next.Selection = sel
			}
		}
		s.chosen, s.chosenSegment = next.Selection.Active, next.Segment
	}
	s.res = next
	return next
}

// SessionStore keeps one Session per key, typically a user ID.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	latest   *machine.Snapshot
	now      func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		latest:   machine.LoadingSnapshot(),
		now:      time.Now,
	}
}

// Get returns the session for key, creating it against the latest
// snapshot when missing.
func (st *SessionStore) Get(key string) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[key]; ok {
		return s
	}
	s := newSession(st.now)
	s.Apply(st.latest)
	st.sessions[key] = s
	return s
}

// ApplyAll pushes snap to every session. It is meant to be registered
// with machine.Registry.OnChange. Older snapshots are ignored.
func (st *SessionStore) ApplyAll(snap *machine.Snapshot) {
	if snap == nil {
		return
	}

	st.mu.Lock()
	if snap.Version < st.latest.Version {
		st.mu.Unlock()
		return
	}
	st.latest = snap
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.mu.Unlock()

	for _, s := range sessions {
		s.Apply(snap)
	}
}

// Delete drops the session for key.
func (st *SessionStore) Delete(key string) {
	st.mu.Lock()
	delete(st.sessions, key)
	st.mu.Unlock()
}

// Prune drops sessions idle for longer than maxIdle and returns how many
// were removed.
func (st *SessionStore) Prune(maxIdle time.Duration) int {
	cutoff := st.now().Add(-maxIdle)

	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for key, s := range st.sessions {
		if s.LastUsed().Before(cutoff) {
			delete(st.sessions, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of sessions.
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
