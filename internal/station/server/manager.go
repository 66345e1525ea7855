package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/multiprog/pkg/log"
)

// Server defines the common interface for all sub-servers (http, mqtt, hot folder).
type Server interface {
	Start(ctx context.Context) error
}

// ServerFunc adapts a function to Server.
type ServerFunc func(ctx context.Context) error

func (f ServerFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of the station's outer surfaces.
type Manager struct {
	servers []Server
}

// NewManager returns a Manager for servers. Nil entries are skipped so that
// disabled surfaces can be passed through unconditionally.
func NewManager(servers ...Server) *Manager {
	m := &Manager{}
	for _, s := range servers {
		if s != nil {
			m.servers = append(m.servers, s)
		}
	}
	return m
}

// Len returns the number of managed servers.
func (m *Manager) Len() int {
	return len(m.servers)
}

// Start launches all servers in parallel and waits for termination. The first
// server to fail stops the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
