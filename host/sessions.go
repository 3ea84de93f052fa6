package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sorane/libretto/vm"
)

// Session is one independent playthrough: its own VM behind its own
// Worker. Concurrency between scripts happens only across sessions, never
// inside one.
type Session struct {
	ID     string
	Name   string
	Worker *Worker
}

// SessionStore manages playthrough sessions for a host application.
type SessionStore struct {
	mu       sync.RWMutex
	env      *Env
	eval     vm.Evaluator
	sessions map[string]*Session
	nextID   atomic.Uint64
}

// NewSessionStore creates a session store over the given environment.
// eval is handed to every session's VM and may be nil.
func NewSessionStore(env *Env, eval vm.Evaluator) *SessionStore {
	return &SessionStore{
		env:      env,
		eval:     eval,
		sessions: make(map[string]*Session),
	}
}

// Create starts a new playthrough at the project's entry script.
func (s *SessionStore) Create(ctx context.Context, name string) (*Session, error) {
	v, err := s.env.NewVM(ctx, s.eval)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:     fmt.Sprintf("s-%d", s.nextID.Add(1)),
		Name:   name,
		Worker: NewWorker(v),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	log.Infof("session %s (%q) started", session.ID, name)
	return session, nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Destroy stops a session's worker and removes it.
func (s *SessionStore) Destroy(id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if ok {
		session.Worker.Stop()
		log.Infof("session %s destroyed", id)
	}
}

// List returns the IDs of all live sessions.
func (s *SessionStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}
