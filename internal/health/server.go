package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the aggregate health verdict.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusCritical Status = "critical"
)

// Checker pings one dependency.
type Checker interface {
	Name() string
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	CheckName string
	Fn        func(ctx context.Context) error
}

func (c CheckerFunc) Name() string                   { return c.CheckName }
func (c CheckerFunc) Ping(ctx context.Context) error { return c.Fn(ctx) }

// Server provides HTTP endpoints for health monitoring.
type Server struct {
	checkers []Checker
	server   *http.Server
}

// NewServer creates a new health server.
func NewServer(port int, checkers ...Checker) *Server {
	mux := http.NewServeMux()
	s := &Server{
		checkers: checkers,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := StatusHealthy
	checks := make(map[string]string, len(s.checkers))
	for _, c := range s.checkers {
		if err := c.Ping(ctx); err != nil {
			checks[c.Name()] = err.Error()
			status = StatusCritical
			continue
		}
		checks[c.Name()] = "ok"
	}

	response := map[string]any{"status": string(status), "checks": checks}
	w.Header().Set("Content-Type", "application/json")

	if status == StatusCritical {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}
