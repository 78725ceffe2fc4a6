// Package web exposes the controller over a small JSON HTTP API: status
// and telemetry for dashboards, and the operator commands the front panel
// of the instrument would offer.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/fluidlab/humidistat/pkg/daq"
	"github.com/fluidlab/humidistat/pkg/sink"
)

// Server is the HTTP command/status API.
type Server struct {
	sup      *daq.Supervisor
	recorder *sink.TSVLogger // nil when file recording is disabled
	router   *chi.Mux
	srv      *http.Server
}

// NewServer wires the API around a supervisor and an optional recorder.
func NewServer(sup *daq.Supervisor, recorder *sink.TSVLogger) *Server {
	s := &Server{
		sup:      sup,
		recorder: recorder,
		router:   chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Get("/api/status", s.handleStatus)
	r.Put("/api/setpoint", s.handleSetpoint)
	r.Put("/api/mode", s.handleMode)
	r.Put("/api/actuators", s.handleActuators)
	r.Post("/api/burst/increase", s.handleBurstIncrease)
	r.Post("/api/burst/decrease", s.handleBurstDecrease)
	r.Post("/api/reconnect", s.handleReconnect)
	r.Get("/api/config", s.handleConfigGet)
	r.Put("/api/config", s.handleConfigPut)
	r.Post("/api/recording", s.handleRecording)
}

// Handler returns the HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API on addr until Shutdown is called.
func (s *Server) Run(addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logrus.Infof("http api listening on %s", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}
