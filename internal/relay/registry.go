package relay

import (
	"errors"
	"sync"

	"mirror-proxy-go/internal/store"
)

// ErrCapacity is returned by Registry.Add when the connection limit is
// reached.
var ErrCapacity = errors.New("relay: connection capacity reached")

// Registry tracks open relay connections and enforces a fixed capacity.
type Registry struct {
	mu       sync.Mutex
	conns    store.Store[*Conn]
	capacity int
}

// NewRegistry returns a registry that admits at most capacity connections.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		conns:    store.NewMemory[*Conn](),
		capacity: capacity,
	}
}

// Add registers c. The capacity check and the insert happen under one lock,
// so concurrent upgrades cannot both claim the last slot.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns.Len() >= r.capacity {
		return ErrCapacity
	}
	r.conns.Put(c.ID, c)
	return nil
}

// Remove deregisters the connection and reports whether it was present.
// Removing an unknown id is a no-op, so the eviction sweep and the read
// loop can both release the same connection without double counting.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns.Get(id); !ok {
		return false
	}
	r.conns.Delete(id)
	return true
}

// Get returns the connection registered under id.
func (r *Registry) Get(id string) (*Conn, bool) {
	return r.conns.Get(id)
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return r.conns.Len()
}

// Capacity returns the configured connection limit.
func (r *Registry) Capacity() int {
	return r.capacity
}

// Snapshot returns the registered connections at the time of the call.
func (r *Registry) Snapshot() []*Conn {
	out := make([]*Conn, 0, r.conns.Len())
	r.conns.Range(func(_ string, c *Conn) bool {
		out = append(out, c)
		return true
	})
	return out
}
