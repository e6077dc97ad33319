package server

import (
	"sync"

	"nchat/models"
)

// registry maps logged-in user names to their connection. A second login
// for the same name overwrites the first binding; the earlier connection
// stays open but no longer receives routed traffic.
type registry struct {
	mu    sync.RWMutex
	conns map[models.UserName]*Conn
}

func newRegistry() *registry {
	return &registry{conns: make(map[models.UserName]*Conn)}
}

func (r *registry) Bind(name models.UserName, c *Conn) {
	r.mu.Lock()
	r.conns[name] = c
	r.mu.Unlock()
}

// Unbind removes the name unconditionally, even if a later login rebound
// it to another connection.
func (r *registry) Unbind(name models.UserName) {
	r.mu.Lock()
	delete(r.conns, name)
	r.mu.Unlock()
}

func (r *registry) Lookup(name models.UserName) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[name]
	r.mu.RUnlock()
	return c, ok
}

func (r *registry) Len() int {
	r.mu.RLock()
	n := len(r.conns)
	r.mu.RUnlock()
	return n
}

func (r *registry) Names() []models.UserName {
	r.mu.RLock()
	names := make([]models.UserName, 0, len(r.conns))
	for name := range r.conns {
		names = append(names, name)
	}
	r.mu.RUnlock()
	return names
}
