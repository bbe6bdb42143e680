package selection

import (
	"sort"
	"sync"
)

// session is one subscriber's uncommitted working set plus the grid order
// pinned when it was first rendered.
type session struct {
	working map[string]struct{}
	order   []string
	pinned  map[string]struct{}
}

func newSession(seed []string) *session {
	s := &session{working: make(map[string]struct{}, len(seed))}
	for _, n := range seed {
		s.working[n] = struct{}{}
	}
	return s
}

// toggle flips name if it is on the pinned grid. Names the user was never
// shown are refused and false is returned.
func (s *session) toggle(name string) bool {
	if _, shown := s.pinned[name]; !shown {
		return false
	}
	if _, ok := s.working[name]; ok {
		delete(s.working, name)
	} else {
		s.working[name] = struct{}{}
	}
	return true
}

func (s *session) selected() []string {
	out := make([]string, 0, len(s.working))
	for n := range s.working {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// arrange pins the first catalogue it sees and appends names that appear
// later in lexicographic order, so toggling never reshuffles the grid.
func (s *session) arrange(catalogue []string) []string {
	if s.pinned == nil {
		s.order = append([]string(nil), catalogue...)
		sort.Strings(s.order)
		s.pinned = make(map[string]struct{}, len(s.order))
		for _, n := range s.order {
			s.pinned[n] = struct{}{}
		}
		return s.order
	}
	var fresh []string
	for _, n := range catalogue {
		if _, ok := s.pinned[n]; !ok {
			fresh = append(fresh, n)
		}
	}
	if len(fresh) > 0 {
		sort.Strings(fresh)
		for _, n := range fresh {
			s.pinned[n] = struct{}{}
		}
		s.order = append(s.order, fresh...)
	}
	return s.order
}

// slot serializes all operations for one subscriber.
type slot struct {
	mu   sync.Mutex
	sess *session
	refs int // callers holding or waiting for mu; guarded by Sessions.mu
}

// Sessions is the in-memory session table keyed by subscriber id.
// Operations on one subscriber are serialized; different subscribers never
// block each other beyond the brief table lookup.
type Sessions struct {
	mu    sync.Mutex
	slots map[int64]*slot
}

func NewSessions() *Sessions {
	return &Sessions{slots: map[int64]*slot{}}
}

// lock returns the subscriber's slot with its mutex held. Every lock must be
// paired with release.
func (s *Sessions) lock(id int64) *slot {
	s.mu.Lock()
	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{}
		s.slots[id] = sl
	}
	sl.refs++
	s.mu.Unlock()
	sl.mu.Lock()
	return sl
}

// release unlocks sl and drops it from the table once nobody holds it and no
// session is open.
func (s *Sessions) release(id int64, sl *slot) {
	sl.mu.Unlock()
	s.mu.Lock()
	sl.refs--
	if sl.refs == 0 && sl.sess == nil {
		delete(s.slots, id)
	}
	s.mu.Unlock()
}

// Active reports whether id has an uncommitted session.
func (s *Sessions) Active(id int64) bool {
	sl := s.lock(id)
	defer s.release(id, sl)
	return sl.sess != nil
}

// Len counts open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	slots := make([]*slot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.Unlock()
	n := 0
	for _, sl := range slots {
		sl.mu.Lock()
		if sl.sess != nil {
			n++
		}
		sl.mu.Unlock()
	}
	return n
}
