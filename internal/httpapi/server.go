// Package httpapi serves the read-only admin surface: health, status,
// the persona registry and stored turns.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/councilbot/councilbot/internal/persona"
	"github.com/councilbot/councilbot/internal/session"
)

const (
	defaultTurnLimit = 20
	maxTurnLimit     = 200
)

// TurnReader is the read side of the turn store.
type TurnReader interface {
	RecentTurns(ctx context.Context, channelID, threadID string, limit int) ([]session.Turn, error)
	Ping(ctx context.Context) error
}

// Status is the runtime snapshot served at /api/v1/status.
type Status struct {
	StartedAt      time.Time `json:"started_at"`
	Handled        int64     `json:"handled"`
	PendingInbound int       `json:"pending_inbound"`
	ContextSource  string    `json:"context_source"`
	Model          string    `json:"model"`
}

// Deps are the services the admin surface reads from. Store and Status may
// be nil.
type Deps struct {
	Registry *persona.Registry
	Store    TurnReader
	Status   func() Status
}

type handler struct {
	deps Deps
}

// NewRouter wires the admin routes.
func NewRouter(d Deps) http.Handler {
	h := &handler{deps: d}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", h.handleHealth)
	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/status", h.handleStatus)
		api.Get("/personas", h.handlePersonas)
		api.Get("/channels/{channelID}/turns", h.handleTurns)
	})
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Status == nil {
		respondJSON(w, http.StatusOK, Status{})
		return
	}
	respondJSON(w, http.StatusOK, h.deps.Status())
}

type personasResponse struct {
	MeetingChannel string            `json:"meeting_channel,omitempty"`
	Default        persona.Persona   `json:"default"`
	Bindings       []persona.Binding `json:"bindings"`
	Speakers       []persona.Persona `json:"speakers"`
}

func (h *handler) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	reg := h.deps.Registry
	if reg == nil {
		respondError(w, http.StatusServiceUnavailable, "persona registry not loaded")
		return
	}
	resp := personasResponse{
		MeetingChannel: reg.MeetingChannel(),
		Default:        reg.Default(),
		Bindings:       reg.Bindings(),
	}
	for _, role := range persona.Roles {
		if p, ok := reg.ByRole(role); ok {
			resp.Speakers = append(resp.Speakers, p)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *handler) handleTurns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		respondError(w, http.StatusServiceUnavailable, "turn store not configured")
		return
	}
	channelID := chi.URLParam(r, "channelID")
	limit := defaultTurnLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxTurnLimit)
	}
	turns, err := h.deps.Store.RecentTurns(r.Context(), channelID, r.URL.Query().Get("thread"), limit)
	if err != nil {
		slog.Warn("Admin turns query failed", "channel_id", channelID, "error", err)
		respondError(w, http.StatusInternalServerError, "turn query failed")
		return
	}
	if turns == nil {
		turns = []session.Turn{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"channel_id": channelID, "turns": turns})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// Serve runs h on addr until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	}
}
