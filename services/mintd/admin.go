package mintd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Controller is the control plane surface of the engine.
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Status() Status
}

// AdminServer exposes HTTP endpoints for operator controls.
type AdminServer struct {
	base   context.Context
	engine Controller
	router chi.Router
}

// NewAdminServer builds the router. base is the context handed to Start so the
// loop outlives the request that launched it.
func NewAdminServer(base context.Context, engine Controller, auth *Authenticator) *AdminServer {
	s := &AdminServer{base: base, engine: engine, router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/engine/start", s.handleStart)
		r.Post("/engine/stop", s.handleStop)
		r.Get("/engine/status", s.handleStatus)
		r.Handle("/metrics", promhttp.Handler())
	})
	return s
}

// ServeHTTP implements http.Handler.
func (s *AdminServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *AdminServer) handleStart(w http.ResponseWriter, _ *http.Request) {
	if err := s.engine.Start(s.base); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, s.engine.Status())
}

func (s *AdminServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusAccepted, s.engine.Status())
}

func (s *AdminServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Status())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
