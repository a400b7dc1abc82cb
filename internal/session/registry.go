package session

import "sync"

// Endpoint is one live transport connection attached to a session.
type Endpoint interface {
	ID() string
	Send(event string, data any)
}

// Registry is the process-wide index of live connections per session code.
// It is created at server start and injected into the transport layer;
// entries disappear once a session has no connections left.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]Endpoint
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]map[string]Endpoint)}
}

func (r *Registry) Attach(code string, ep Endpoint) {
	code = NormalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[code]
	if !ok {
		set = make(map[string]Endpoint)
		r.sessions[code] = set
	}
	set[ep.ID()] = ep
}

// Detach removes one endpoint and reports whether the session still has
// connections.
func (r *Registry) Detach(code, endpointID string) bool {
	code = NormalizeCode(code)
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.sessions[code]
	if !ok {
		return false
	}
	delete(set, endpointID)
	if len(set) == 0 {
		delete(r.sessions, code)
		return false
	}
	return true
}

// Broadcast sends an event to every endpoint of a session, optionally
// skipping one endpoint ID.
func (r *Registry) Broadcast(code, skipID, event string, data any) {
	code = NormalizeCode(code)
	r.mu.RLock()
	eps := make([]Endpoint, 0, len(r.sessions[code]))
	for id, ep := range r.sessions[code] {
		if id == skipID {
			continue
		}
		eps = append(eps, ep)
	}
	r.mu.RUnlock()
	for _, ep := range eps {
		ep.Send(event, data)
	}
}

func (r *Registry) Count(code string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[NormalizeCode(code)])
}
