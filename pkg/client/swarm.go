package client

import (
	"context"
	"sync"

	"github.com/go-mclib/joinclient/pkg/config"
	"golang.org/x/sync/errgroup"
)

// Swarm runs several clients side by side, each with its own connection
// and handshake.
type Swarm struct {
	mu      sync.RWMutex
	clients []*Client
}

// NewSwarm creates a new swarm.
func NewSwarm() *Swarm {
	return &Swarm{}
}

// NewClient creates a new client within this swarm. Clients that may join
// at the same time should not share a module directory.
func (s *Swarm) NewClient(cfg config.Config) *Client {
	c := New(cfg)
	c.swarm = s
	s.mu.Lock()
	s.clients = append(s.clients, c)
	s.mu.Unlock()
	return c
}

// Clients returns all clients in the swarm.
func (s *Swarm) Clients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, len(s.clients))
	copy(out, s.clients)
	return out
}

// Start connects all clients concurrently. The first client to fail stops
// the others; its error is returned.
func (s *Swarm) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range s.Clients() {
		c := c
		g.Go(func() error {
			return c.ConnectAndStart(ctx)
		})
	}
	return g.Wait()
}
