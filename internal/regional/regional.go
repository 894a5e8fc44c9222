// Package regional caches one AWS service client per region.
package regional

import "sync"

// Clients lazily builds and caches a client per region. It is safe for
// concurrent use.
type Clients[T any] struct {
	mu      sync.Mutex
	build   func(region string) T
	clients map[string]T
}

func New[T any](build func(region string) T) *Clients[T] {
	return &Clients[T]{
		build:   build,
		clients: map[string]T{},
	}
}

// Get returns the client for region, building it on first use.
func (c *Clients[T]) Get(region string) T {
	c.mu.Lock()
	defer c.mu.Unlock()

	client, ok := c.clients[region]
	if !ok {
		client = c.build(region)
		c.clients[region] = client
	}

	return client
}
