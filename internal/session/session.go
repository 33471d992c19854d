package session

import (
	"sync"
	"time"
)

// Session is a single-writer container for one user's State. Mutations go
// through Update; subscribers receive a snapshot after every change.
type Session struct {
	ID string

	mu           sync.Mutex
	state        State
	lastActivity time.Time
	now          func() time.Time

	subs    map[int]chan State
	nextSub int
}

func newSession(id string, now func() time.Time) *Session {
	t := now()
	return &Session{
		ID:           id,
		state:        State{UpdatedAt: t},
		lastActivity: t,
		now:          now,
		subs:         make(map[int]chan State),
	}
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = s.now()
	return s.state.clone()
}

// Update applies fn to a copy of the state and commits it only when fn
// returns nil.
func (s *Session) Update(fn func(*State) error) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastActivity = s.now()

	next := s.state.clone()
	if fn != nil {
		if err := fn(&next); err != nil {
			return s.state.clone(), err
		}
	}
	next.UpdatedAt = s.lastActivity
	s.state = next

	snap := s.state.clone()
	s.broadcastLocked(snap)
	return snap, nil
}

// Subscribe returns a channel that always holds the latest snapshot not yet
// received. Slow readers miss intermediate states, never the last one.
func (s *Session) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan State, 1)
	if s.subs == nil {
		close(ch)
		return ch, func() {}
	}
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (s *Session) broadcastLocked(snap State) {
	for _, ch := range s.subs {
		select {
		case ch <- snap.clone():
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap.clone():
			default:
			}
		}
	}
}

func (s *Session) closeSubscribers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
	s.subs = nil
}

func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.state.Generating && s.lastActivity.Before(cutoff)
}
