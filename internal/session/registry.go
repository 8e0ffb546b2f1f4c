package session

import (
	"sync"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
)

var log = logger.With(logger.SubsystemSession)

// Registry is the process-wide Session index: by connection id, and by
// bound principal id for each Kind. All mutations are serialized under one
// mutex; readers get a copy-on-read snapshot so a long iteration (e.g.
// broadcasting to every operator) never holds the lock across a
// suspension point.
type Registry struct {
	mu        sync.RWMutex
	byConn    map[string]*Session
	byClient  map[string]*Session
	byOperator map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:     make(map[string]*Session),
		byClient:   make(map[string]*Session),
		byOperator: make(map[string]*Session),
	}
}

func (r *Registry) Attach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[s.ConnectionID] = s
}

// Detach removes a session from every index. Safe to call more than once.
func (r *Registry) Detach(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connectionID]
	if !ok {
		return
	}
	delete(r.byConn, connectionID)
	if s.Kind == KindClient && r.byClient[s.BoundPrincipalID] == s {
		delete(r.byClient, s.BoundPrincipalID)
	}
	if s.Kind == KindOperator && r.byOperator[s.BoundPrincipalID] == s {
		delete(r.byOperator, s.BoundPrincipalID)
	}
}

// ErrAlreadyBound names the condition of a principal that already has a
// bound session. Bind never returns it: Bind always evicts the older
// session instead of rejecting the new one.
var ErrAlreadyBound = errors.New("session already bound for principal")

// Bind atomically moves s from unbound to the appropriate principal index.
// A pre-existing session for the same principal is evicted with
// Close(reason="replaced"), not rejected.
func (r *Registry) Bind(s *Session, kind Kind, principalID string, perms map[Permission]bool) {
	r.mu.Lock()
	var evicted *Session
	switch kind {
	case KindClient:
		if old, ok := r.byClient[principalID]; ok && old != s {
			evicted = old
			delete(r.byConn, old.ConnectionID)
		}
		r.byClient[principalID] = s
	case KindOperator:
		if old, ok := r.byOperator[principalID]; ok && old != s {
			evicted = old
			delete(r.byConn, old.ConnectionID)
		}
		r.byOperator[principalID] = s
	}
	s.Bind(kind, principalID, perms)
	r.mu.Unlock()

	if evicted != nil {
		log.Infow("evicting stale session for reconnect", "principal_id", principalID, "kind", kind)
		evicted.Close(CloseReplaced)
	}
}

func (r *Registry) LookupClient(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byClient[clientID]
	return s, ok
}

func (r *Registry) LookupOperator(operatorID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byOperator[operatorID]
	return s, ok
}

// IterateClients returns a snapshot slice of all bound client sessions,
// safe to range over without holding the registry lock — used by the
// liveness monitor's full sweep.
func (r *Registry) IterateClients() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byClient))
	for _, s := range r.byClient {
		out = append(out, s)
	}
	return out
}

func (r *Registry) IterateOperators() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byOperator))
	for _, s := range r.byOperator {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Count() (clients, operators int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byClient), len(r.byOperator)
}
