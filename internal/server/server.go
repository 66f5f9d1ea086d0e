// Package server exposes the local control and observability API:
// manual sync, status, credential installation, settings, and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"mattersync/internal/metrics"
	"mattersync/internal/model"
	"mattersync/internal/scheduler"
	"mattersync/internal/settings"
)

// Syncer is the scheduler surface the API drives.
type Syncer interface {
	TriggerSync(ctx context.Context) error
	State() scheduler.State
}

// Server is the control API server.
type Server struct {
	syncer   Syncer
	settings settings.Store
	gatherer prometheus.Gatherer
	router   chi.Router
	log      *slog.Logger
}

// New creates a Server and wires its routes.
func New(syncer Syncer, st settings.Store, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	s := &Server{
		syncer:   syncer,
		settings: st,
		gatherer: gatherer,
		log:      log,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleSyncNow)
		r.Put("/credentials", s.handlePutCredentials)
		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	State         string `json:"state"`
	IsSyncing     bool   `json:"is_syncing"`
	Authenticated bool   `json:"authenticated"`
	LastSync      string `json:"last_sync,omitempty"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
	SyncInterval  string `json:"sync_interval"`
	SyncLocation  string `json:"sync_location"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	syncing, err := s.settings.IsSyncing(ctx)
	if err != nil {
		s.internalError(w, "read syncing flag", err)
		return
	}
	cred, err := s.settings.Credential(ctx)
	if err != nil {
		s.internalError(w, "read credential", err)
		return
	}
	lastSync, err := s.settings.LastSync(ctx)
	if err != nil {
		s.internalError(w, "read last sync", err)
		return
	}
	heartbeat, err := s.settings.LastHeartbeat(ctx)
	if err != nil {
		s.internalError(w, "read heartbeat", err)
		return
	}
	interval, err := s.settings.Interval(ctx)
	if err != nil {
		s.internalError(w, "read interval", err)
		return
	}
	location, err := s.settings.Location(ctx)
	if err != nil {
		s.internalError(w, "read location", err)
		return
	}

	resp := statusResponse{
		State:         string(s.syncer.State()),
		IsSyncing:     syncing,
		Authenticated: cred != nil,
		SyncInterval:  interval.String(),
		SyncLocation:  string(location),
	}
	if !lastSync.IsZero() {
		resp.LastSync = lastSync.UTC().Format(time.RFC3339)
	}
	if !heartbeat.IsZero() {
		resp.LastHeartbeat = heartbeat.UTC().Format(time.RFC3339)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSyncNow(w http.ResponseWriter, r *http.Request) {
	err := s.syncer.TriggerSync(r.Context())
	switch {
	case errors.Is(err, scheduler.ErrSyncInProgress):
		s.writeError(w, http.StatusConflict, "sync already in progress")
	case errors.Is(err, scheduler.ErrNotAuthenticated):
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
	case err != nil:
		s.internalError(w, "trigger sync", err)
	default:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}

func (s *Server) handlePutCredentials(w http.ResponseWriter, r *http.Request) {
	var cred model.Credential
	if err := json.NewDecoder(r.Body).Decode(&cred); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if cred.AccessToken == "" || cred.RefreshToken == "" {
		s.writeError(w, http.StatusBadRequest, "access_token and refresh_token are required")
		return
	}
	if err := s.settings.SetCredential(r.Context(), cred); err != nil {
		s.internalError(w, "store credential", err)
		return
	}
	s.log.Info("credentials installed")
	w.WriteHeader(http.StatusNoContent)
}

type settingsPayload struct {
	SyncInterval string `json:"sync_interval,omitempty"`
	SyncLocation string `json:"sync_location,omitempty"`
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	interval, err := s.settings.Interval(ctx)
	if err != nil {
		s.internalError(w, "read interval", err)
		return
	}
	location, err := s.settings.Location(ctx)
	if err != nil {
		s.internalError(w, "read location", err)
		return
	}
	s.writeJSON(w, http.StatusOK, settingsPayload{
		SyncInterval: interval.String(),
		SyncLocation: string(location),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ctx := r.Context()
	if payload.SyncInterval != "" {
		interval, err := model.ParseInterval(payload.SyncInterval)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.settings.SetInterval(ctx, interval); err != nil {
			s.internalError(w, "store interval", err)
			return
		}
	}
	if payload.SyncLocation != "" {
		location, err := model.ParseLocation(payload.SyncLocation)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.settings.SetLocation(ctx, location); err != nil {
			s.internalError(w, "store location", err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	s.log.Error(action, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
