// Package statusapi exposes the controller's diagnostics HTTP surface,
// grounded on aggregator/internal/api/router.go's gorilla/mux route table
// and aggregator/main.go's gorilla/handlers request logging wrapper.
package statusapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"nrgchamp/hvac-controller/internal/controller"
	"nrgchamp/hvac-controller/internal/metrics"
)

// Server is the controller's read-only status and manual-trigger HTTP
// endpoint. It is a supplemented, optional surface: the core control loop
// runs whether or not it is started.
type Server struct {
	log  *slog.Logger
	ctrl *controller.Controller
	http *http.Server
}

// New builds a Server bound to addr, wiring /healthz, /status, /metrics and
// POST /evaluate. m may be nil.
func New(addr string, log *slog.Logger, ctrl *controller.Controller, m *metrics.Metrics) *Server {
	s := &Server{log: log, ctrl: ctrl}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.getHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/evaluate", s.postEvaluate).Methods(http.MethodPost)
	if m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}

	logged := handlers.LoggingHandler(os.Stdout, r)
	s.http = &http.Server{Addr: addr, Handler: logged}
	return s
}

// Start runs the server until it is stopped or fails. It returns
// http.ErrServerClosed on a clean Stop.
func (s *Server) Start() error {
	s.log.Info("status api starting", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("status api stopping")
	return s.http.Shutdown(ctx)
}

func (s *Server) getHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	st := s.ctrl.Status()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *Server) postEvaluate(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.TriggerEvaluation(r.Context()); err != nil {
		s.log.Warn("manual evaluation trigger failed", "error", err)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("triggered"))
}
