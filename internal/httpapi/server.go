// Package httpapi is the net/http adapter over the façade: JSON handlers,
// an SSE stream for live run events, and a healthz host snapshot.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bc-dunia/httpdrill/internal/facade"
)

// Server binds the façade's operation set to a net/http mux on one address.
type Server struct {
	svc *facade.Service

	mu       sync.Mutex
	running  bool
	addr     string
	server   *http.Server
	listener net.Listener
}

// NewServer builds a Server that will listen on addr once Start is called.
func NewServer(addr string, svc *facade.Service) *Server {
	return &Server{svc: svc, addr: addr}
}

// Start binds the listener and serves in the background. It returns once
// the listener is open; Serve errors after that point are not returned.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("httpapi: server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/events", s.handleStreamEvents)
	mux.HandleFunc("/runs/running", s.handleIsRunning)
	mux.HandleFunc("/runs/stop", s.handleStopRun)
	mux.HandleFunc("/runs/", s.routeRuns)
	mux.HandleFunc("/runs", s.routeRunsRoot)
	mux.HandleFunc("/auth/test", s.handleTestAuth)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/projects/", s.routeProjects)
	mux.HandleFunc("/projects", s.routeProjectsRoot)
	mux.HandleFunc("/endpoints/", s.routeEndpoints)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:           mux,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // the SSE stream is long-lived
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.running = true

	srv := s.server
	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("httpapi: server error: %v\n", err)
		}
	}()

	return nil
}

// Shutdown stops accepting new connections and waits for in-flight ones to
// drain, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address, resolved to an ephemeral port if :0 was
// requested.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// URL returns the server's base http:// URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://%s", s.Addr())
}

// StartTestServer starts a Server bound to an ephemeral loopback port, for
// use in tests. The returned cleanup function shuts it down.
func StartTestServer(svc *facade.Service) (*Server, func(), error) {
	srv := NewServer("127.0.0.1:0", svc)
	if err := srv.Start(); err != nil {
		return nil, nil, fmt.Errorf("httpapi: start test server: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
	return srv, cleanup, nil
}
