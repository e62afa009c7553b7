package profile

import (
	"sort"
	"sync"
	"time"
)

// Store maps threads to their sessions. Lookups and lazy creation are safe
// for concurrent use, a session itself is only touched by its own thread.
type Store struct {
	sessions   sync.Map // uint64 -> *Session
	newSession func(threadName string) *Session
}

func NewStore(now func() time.Time, epsilon float64) *Store {
	return &Store{
		newSession: func(threadName string) *Session {
			s := NewSession(threadName, now().Truncate(time.Millisecond))
			s.Tree.SetEpsilon(epsilon)
			return s
		},
	}
}

// Session returns the session of t, creating it on first use.
func (s *Store) Session(t Thread) *Session {
	if v, ok := s.sessions.Load(t.ID); ok {
		return v.(*Session)
	}
	v, _ := s.sessions.LoadOrStore(t.ID, s.newSession(t.Name))
	return v.(*Session)
}

// Lookup returns the session of a thread without creating it.
func (s *Store) Lookup(threadID uint64) (*Session, bool) {
	v, ok := s.sessions.Load(threadID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Sessions returns every session ordered by creation time, then thread name.
func (s *Store) Sessions() []*Session {
	var sessions []*Session
	s.sessions.Range(func(_, v interface{}) bool {
		sessions = append(sessions, v.(*Session))
		return true
	})
	sortSessions(sessions)
	return sessions
}

func (s *Store) Len() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Reset removes every session.
func (s *Store) Reset() {
	s.sessions.Range(func(k, _ interface{}) bool {
		s.sessions.Delete(k)
		return true
	})
}

func sortSessions(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreationTime.Equal(b.CreationTime) {
			return a.CreationTime.Before(b.CreationTime)
		}
		return a.ThreadName < b.ThreadName
	})
}
