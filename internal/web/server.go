package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ces-budgetfix/internal/audit"
)

// Server exposes the latest validation report and the audit trail over a
// read-only HTTP API for operators reviewing a correction run.
type Server struct {
	addr       string
	reportFile string
	tracker    *audit.Tracker
	log        *logrus.Logger
	httpServer *http.Server
}

// NewServer creates the review server. tracker may be nil when no database is
// available; the run endpoints then return 503.
func NewServer(addr, reportFile string, tracker *audit.Tracker, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{addr: addr, reportFile: reportFile, tracker: tracker, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/api/report", s.handleReport).Methods("GET")
	r.HandleFunc("/api/runs", s.handleRuns).Methods("GET")
	r.HandleFunc("/api/runs/{id}", s.handleRunSites).Methods("GET")

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.addr).Info("Review server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReport returns the most recently written validation report verbatim.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.reportFile)
	if err != nil {
		if os.IsNotExist(err) {
			s.writeError(w, http.StatusNotFound, "no validation report has been written yet")
			return
		}
		s.log.WithError(err).Error("Failed to read report file")
		s.writeError(w, http.StatusInternalServerError, "failed to read report")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run tracking requires a database connection")
		return
	}
	runs, err := s.tracker.Runs(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to query runs")
		s.writeError(w, http.StatusInternalServerError, "failed to query runs")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs, "count": len(runs)})
}

func (s *Server) handleRunSites(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run tracking requires a database connection")
		return
	}
	runID := mux.Vars(r)["id"]
	sites, err := s.tracker.RunSites(r.Context(), runID)
	if err != nil {
		s.log.WithError(err).WithField("run_id", runID).Error("Failed to query run sites")
		s.writeError(w, http.StatusInternalServerError, "failed to query run sites")
		return
	}
	if len(sites) == 0 {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"run_id": runID, "sites": sites, "count": len(sites)})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
