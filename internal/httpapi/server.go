package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/servicestatus/internal/config"
	"github.com/hamed0406/servicestatus/internal/domain"
	apimw "github.com/hamed0406/servicestatus/internal/httpapi/middleware"
	"github.com/hamed0406/servicestatus/internal/monitor"
	"github.com/hamed0406/servicestatus/internal/registry"
)

// Monitor is the part of *monitor.Monitor the API drives.
type Monitor interface {
	Snapshot(ctx context.Context) (monitor.Snapshot, error)
	Subscribe(ctx context.Context) (<-chan monitor.Snapshot, func(), error)
	Add(ctx context.Context, name, url string) (domain.Endpoint, error)
	Rename(ctx context.Context, id domain.EndpointID, name string) (domain.Endpoint, error)
	Retarget(ctx context.Context, id domain.EndpointID, url string) (domain.Endpoint, error)
	Remove(ctx context.Context, id domain.EndpointID) error
	Ping(ctx context.Context, id domain.EndpointID) error
	PingAll()
	Open()
	ApplySettings(ctx context.Context, s config.Settings) error
	SetInSession(ctx context.Context, in bool) error
}

type Server struct {
	Logger  *zap.Logger
	Monitor Monitor
}

func NewServer(l *zap.Logger, m Monitor) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Monitor: m}
}

// Router mounts the API. pingPerMin and pingBurst limit POST /api/ping per
// client; pingPerMin <= 0 disables the limit.
func (s *Server) Router(pingPerMin, pingBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/indicator", s.handleIndicator)
		r.Get("/ws", s.handleWS)

		r.Get("/endpoints", s.handleListEndpoints)
		r.Post("/endpoints", s.handleAddEndpoint)
		r.Patch("/endpoints/{id}", s.handleEditEndpoint)
		r.Delete("/endpoints/{id}", s.handleRemoveEndpoint)
		r.Post("/endpoints/{id}/ping", s.handlePingEndpoint)

		r.With(apimw.RateLimit(pingPerMin, pingBurst)).Post("/ping", s.handlePingAll)

		r.Put("/settings", s.handlePutSettings)
		r.Put("/settings/interval", s.handlePutInterval)
		r.Put("/session", s.handlePutSession)
	})

	return r
}

// handleStatus serves the detail view; opening it runs a check cycle.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.Monitor.Open()
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type indicatorResponse struct {
	Indicator domain.Indicator `json:"indicator"`
	Color     string           `json:"color"`
	Visible   bool             `json:"visible"`
}

func (s *Server) handleIndicator(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, indicatorResponse{Indicator: snap.Indicator, Color: snap.Color, Visible: snap.Visible})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	writeJSON(w, http.StatusOK, snap.Endpoints)
}

type endpointPayload struct {
	Name *string `json:"name"`
	URL  *string `json:"url"`
}

func (p *endpointPayload) trim() {
	if p.Name != nil {
		v := strings.TrimSpace(*p.Name)
		p.Name = &v
	}
	if p.URL != nil {
		v := strings.TrimSpace(*p.URL)
		p.URL = &v
	}
}

func (s *Server) handleAddEndpoint(w http.ResponseWriter, r *http.Request) {
	var p endpointPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.URL == nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	p.trim()
	name := ""
	if p.Name != nil {
		name = *p.Name
	}

	n, err := s.Monitor.Add(r.Context(), name, *p.URL)
	if err != nil {
		s.fail(w, "add_endpoint", err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleEditEndpoint(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	var p endpointPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || (p.Name == nil && p.URL == nil) {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	p.trim()

	var (
		n   domain.Endpoint
		err error
	)
	if p.Name != nil {
		if n, err = s.Monitor.Rename(r.Context(), id, *p.Name); err != nil {
			s.fail(w, "rename_endpoint", err)
			return
		}
	}
	if p.URL != nil {
		if n, err = s.Monitor.Retarget(r.Context(), id, *p.URL); err != nil {
			s.fail(w, "retarget_endpoint", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleRemoveEndpoint(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	if err := s.Monitor.Remove(r.Context(), id); err != nil {
		s.fail(w, "remove_endpoint", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePingEndpoint(w http.ResponseWriter, r *http.Request) {
	id := domain.EndpointID(chi.URLParam(r, "id"))
	if err := s.Monitor.Ping(r.Context(), id); err != nil {
		s.fail(w, "ping_endpoint", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePingAll(w http.ResponseWriter, r *http.Request) {
	s.Monitor.PingAll()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	// absent keys keep their current value
	next := snap.Settings
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	s.applySettings(w, r, next)
}

type intervalPayload struct {
	RefreshRate *float64 `json:"refresh_rate"`
}

func (s *Server) handlePutInterval(w http.ResponseWriter, r *http.Request) {
	var p intervalPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil || p.RefreshRate == nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	next := snap.Settings
	next.RefreshRate = *p.RefreshRate
	s.applySettings(w, r, next)
}

func (s *Server) applySettings(w http.ResponseWriter, r *http.Request, next config.Settings) {
	if err := s.Monitor.ApplySettings(r.Context(), next); err != nil {
		if errors.Is(err, monitor.ErrClosed) || errors.Is(err, context.Canceled) {
			s.fail(w, "apply_settings", err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	snap, err := s.Monitor.Snapshot(r.Context())
	if err != nil {
		s.fail(w, "snapshot", err)
		return
	}
	s.Logger.Info("settings_applied", zap.Float64("interval_seconds", snap.IntervalSeconds))
	writeJSON(w, http.StatusOK, snap.Settings)
}

type sessionPayload struct {
	InSession bool `json:"in_session"`
}

func (s *Server) handlePutSession(w http.ResponseWriter, r *http.Request) {
	var p sessionPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	if err := s.Monitor.SetInSession(r.Context(), p.InSession); err != nil {
		s.fail(w, "set_session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps monitor errors to status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "endpoint not found")
	case errors.Is(err, monitor.ErrNoURL):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, monitor.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "monitor stopped")
	default:
		s.Logger.Error("request_failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
