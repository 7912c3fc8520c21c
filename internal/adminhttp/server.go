// Package adminhttp is the thin JSON transport over the Management Core:
// one handler per admin operation, a chi router with logging/recovery
// middleware, and the Prometheus /metrics endpoint.
package adminhttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayfetch/relayfetch/internal/relay"
)

// Server is the admin HTTP transport wrapping a relay.Management.
type Server struct {
	mgmt   *relay.Management
	router *chi.Mux
}

// New builds the router and registers every admin route.
func New(mgmt *relay.Management) *Server {
	s := &Server{mgmt: mgmt, router: chi.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/ping", s.handlePing)
	s.router.Post("/reload_config", s.handleReloadConfig)
	s.router.Post("/trigger_sync", s.handleTriggerSync)
	s.router.Post("/clean_unused_files", s.handleCleanUnusedFiles)
	s.router.Get("/config", s.handleGetConfig)
	s.router.Post("/config", s.handleUpdateConfig)
	s.router.Get("/files", s.handleListFiles)
	s.router.Post("/files", s.handleUpdateFiles)
	s.router.Get("/status", s.handleStatus)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Serve binds addr and blocks until ctx is cancelled or the server fails.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("admin http listening", "addr", addr)

	srv := &http.Server{Handler: s.router}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": s.mgmt.Ping()})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.ReloadConfig(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if err := s.mgmt.TriggerSync(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCleanUnusedFiles(w http.ResponseWriter, r *http.Request) {
	removed, err := s.mgmt.CleanUnusedFiles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"removed": removed})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgmt.GetConfig())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var input relay.UpdateConfigInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cfg, err := s.mgmt.UpdateConfig(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.mgmt.ListFiles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleUpdateFiles(w http.ResponseWriter, r *http.Request) {
	var input relay.UpdateFilesInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	files, err := s.mgmt.UpdateFiles(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.mgmt.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// writeError maps a relay.CoreError's Kind onto the matching HTTP status;
// any other error is treated as internal.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if coreErr, ok := err.(*relay.CoreError); ok {
		switch coreErr.Kind {
		case relay.KindInvalidArgument:
			status = http.StatusBadRequest
		case relay.KindNotFound:
			status = http.StatusNotFound
		case relay.KindInternal:
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
