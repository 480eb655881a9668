// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package api exposes dnswall's policy REST control surface: rule
// CRUD, batch rebuild, purge, and supplemented query-log/controller
// health endpoints, mounted on a gorilla/mux router alongside a
// Prometheus /metrics handler.
package api

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/dnswall/internal/logging"
	"grimm.is/dnswall/internal/services"
)

// Server wires together the policy REST handler and ancillary
// endpoints behind one http.Server.
type Server struct {
	addr    string
	router  *mux.Router
	http    *http.Server
	logger  *logging.Logger
	running atomic.Bool
}

// NewServer builds a Server listening on addr, registering rules at
// policy.
func NewServer(addr string, policy *RulesHandler) *Server {
	router := mux.NewRouter()
	policy.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s := &Server{
		addr:   addr,
		router: router,
		logger: logging.WithComponent("api"),
	}
	s.http = &http.Server{Addr: addr, Handler: router}
	return s
}

// ListenAndServe starts the HTTP server; it blocks until Shutdown is
// called or a fatal listener error occurs.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Name identifies this service for cmd/dnswalld's lifecycle reporting.
func (s *Server) Name() string { return "rest-api" }

// Start launches the HTTP listener in the background and returns once
// it is accepting connections.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.running.Store(true)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("listener stopped", "error", err)
		}
		s.running.Store(false)
	}()
	return nil
}

// Stop shuts the REST server down, satisfying services.Service.
func (s *Server) Stop(ctx context.Context) error {
	err := s.Shutdown(ctx)
	s.running.Store(false)
	return err
}

// Status reports whether the HTTP listener is active.
func (s *Server) Status() services.ServiceStatus {
	return services.ServiceStatus{Name: s.Name(), Running: s.running.Load()}
}
