package terminal

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Stats is a point-in-time view of the registry.
type Stats struct {
	Active           int `json:"active_connections"`
	TotalEverCreated int `json:"total_connections"`
}

// Info describes one registered session.
type Info struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	State        string    `json:"state"`
	Encoding     string    `json:"encoding"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

type registryEntry struct {
	session      Session
	createdAt    time.Time
	lastActivity time.Time
}

// Registry maps session ids to live sessions. It is the only path that both
// removes a session and closes it, so a session is never closed twice by
// concurrent removals.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*registryEntry
	total    int
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*registryEntry)}
}

// Add registers s under id.
func (r *Registry) Add(id string, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return fmt.Errorf("session %q already registered", id)
	}
	now := time.Now()
	r.sessions[id] = &registryEntry{session: s, createdAt: now, lastActivity: now}
	r.total++
	log.Printf("[registry] added %s session %s (%d active)", s.Kind(), id, len(r.sessions))
	return nil
}

// Get returns the session for id and marks it active.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	r.Touch(id)
	return e.session, true
}

// Touch records activity on id.
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.lastActivity = time.Now()
	}
}

// Remove deletes id and closes its session. The session is closed outside
// the lock. It returns false when id was not registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	if !ok {
		log.Printf("[registry] remove %s: not registered", id)
		return false
	}
	if err := e.session.Close(); err != nil {
		log.Printf("[registry] close %s: %v", id, err)
	}
	log.Printf("[registry] removed session %s", id)
	return true
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Active: len(r.sessions), TotalEverCreated: r.total}
}

// List returns the registered sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for id, e := range r.sessions {
		out = append(out, Info{
			ID:           id,
			Kind:         e.session.Kind(),
			State:        e.session.State().String(),
			Encoding:     e.session.Encoding(),
			CreatedAt:    e.createdAt,
			LastActivity: e.lastActivity,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// EvictIdle removes sessions idle for longer than maxIdle, and sessions that
// already closed on their own. A non-positive maxIdle only evicts closed ones.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	var stale []string
	r.mu.RLock()
	for id, e := range r.sessions {
		if e.session.State() == StateClosed || (maxIdle > 0 && e.lastActivity.Before(cutoff)) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if r.Remove(id) {
			n++
		}
	}
	if n > 0 {
		log.Printf("[registry] evicted %d idle session(s)", n)
	}
	return n
}

// CloseAll removes and closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.sessions
	r.sessions = make(map[string]*registryEntry)
	r.mu.Unlock()
	for id, e := range entries {
		if err := e.session.Close(); err != nil {
			log.Printf("[registry] close %s: %v", id, err)
		}
	}
	log.Printf("[registry] closed %d session(s)", len(entries))
}
