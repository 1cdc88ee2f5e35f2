package relay

import (
	"sort"
	"sync"

	"github.com/HMasataka/partyline/pkg/domain"
)

// Registry tracks the open connections. A client present in the registry is
// open; removal and close are always paired by the caller that wins Deregister.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]domain.Client
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]domain.Client),
	}
}

// Register adds a newly opened client
func (r *Registry) Register(client domain.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.clients[client.ID()]; exists {
		return domain.ErrClientAlreadyExists
	}

	r.clients[client.ID()] = client
	return nil
}

// Deregister removes the client with id and returns it. ok is false when the
// client was never registered or has already been removed.
func (r *Registry) Deregister(id string) (domain.Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client, ok := r.clients[id]
	if ok {
		delete(r.clients, id)
	}
	return client, ok
}

// Snapshot returns a point-in-time copy of the membership ordered by id
func (r *Registry) Snapshot() []domain.Client {
	r.mu.RLock()
	clients := make([]domain.Client, 0, len(r.clients))
	for _, client := range r.clients {
		clients = append(clients, client)
	}
	r.mu.RUnlock()

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ID() < clients[j].ID()
	})

	return clients
}

// Count returns the number of registered clients
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.clients)
}
