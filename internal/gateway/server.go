// Package gateway exposes sessions, commands and live events over HTTP.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/KafClaw/wagate/internal/broadcast"
	"github.com/KafClaw/wagate/internal/channel"
	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/dispatch"
	"github.com/KafClaw/wagate/internal/session"
)

const maxBodyBytes = 64 << 20

// Server wires the HTTP API to the session registry.
type Server struct {
	cfg      config.GatewayConfig
	registry *session.Registry
	dispatch *dispatch.Dispatcher
	events   *broadcast.Broadcaster
	log      zerolog.Logger
	allowed  map[string]bool
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds the gateway and registers its routes.
func New(cfg config.GatewayConfig, reg *session.Registry, d *dispatch.Dispatcher, events *broadcast.Broadcaster, log zerolog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	s := &Server{
		cfg:      cfg,
		registry: reg,
		dispatch: d,
		events:   events,
		log:      log.With().Str("component", "gateway").Logger(),
		allowed:  map[string]bool{},
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		mux:      http.NewServeMux(),
	}
	for _, k := range cfg.AllowedKeys {
		if k = strings.TrimSpace(k); k != "" {
			s.allowed[k] = true
		}
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessions": s.registry.Len()})
	})

	// Session lifecycle
	s.mux.HandleFunc("POST /api/v1/session/start", s.tenant(s.handleStart))
	s.mux.HandleFunc("GET /api/v1/session/status", s.tenant(s.handleStatus))
	s.mux.HandleFunc("GET /api/v1/session/qr", s.tenant(s.handleQR))
	s.mux.HandleFunc("POST /api/v1/session/logout", s.tenant(s.handleLogout))
	s.mux.HandleFunc("GET /api/v1/sessions", s.admin(s.handleList))

	// Messages
	s.mux.HandleFunc("POST /api/v1/messages/text", s.tenant(command(s.dispatch.SendText)))
	s.mux.HandleFunc("POST /api/v1/messages/media", s.tenant(command(s.dispatch.SendMedia)))
	s.mux.HandleFunc("POST /api/v1/messages/buttons", s.tenant(command(s.dispatch.SendButtons)))
	s.mux.HandleFunc("POST /api/v1/messages/broadcast", s.tenant(s.handleBroadcast))
	s.mux.HandleFunc("POST /api/v1/messages/read", s.tenant(command(s.dispatch.MarkRead)))
	s.mux.HandleFunc("POST /api/v1/messages/download", s.tenant(command(s.dispatch.DownloadMedia)))

	// Groups
	s.mux.HandleFunc("POST /api/v1/groups/create", s.tenant(command(s.dispatch.CreateGroup)))
	s.mux.HandleFunc("POST /api/v1/groups/add", s.tenant(command(s.dispatch.AddParticipants)))
	s.mux.HandleFunc("POST /api/v1/groups/remove", s.tenant(command(s.dispatch.RemoveParticipants)))
	s.mux.HandleFunc("POST /api/v1/groups/promote", s.tenant(command(s.dispatch.PromoteParticipants)))
	s.mux.HandleFunc("POST /api/v1/groups/demote", s.tenant(command(s.dispatch.DemoteParticipants)))

	// Contacts, presence, profile
	s.mux.HandleFunc("POST /api/v1/contacts/block", s.tenant(command(s.dispatch.Block)))
	s.mux.HandleFunc("POST /api/v1/contacts/unblock", s.tenant(command(s.dispatch.Unblock)))
	s.mux.HandleFunc("POST /api/v1/contacts/check", s.tenant(command(s.dispatch.CheckNumbers)))
	s.mux.HandleFunc("POST /api/v1/presence", s.tenant(command(s.dispatch.Presence)))
	s.mux.HandleFunc("POST /api/v1/profile/status", s.tenant(command(s.dispatch.UpdateProfileStatus)))
	s.mux.HandleFunc("POST /api/v1/profile/name", s.tenant(command(s.dispatch.UpdateProfileName)))

	// Live events
	s.mux.HandleFunc("GET /api/v1/events", s.tenant(s.handleSSE))
	s.mux.HandleFunc("GET /api/v1/ws", s.tenant(s.handleWS))
}

type tenantHandler func(w http.ResponseWriter, r *http.Request, tenantID string)

// tenant resolves the caller's tenant from its API key.
func (s *Server) tenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get("X-API-Key"))
		if key == "" {
			key = strings.TrimSpace(r.URL.Query().Get("api_key"))
		}
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing api key"})
			return
		}
		if len(s.allowed) > 0 && !s.allowed[key] {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "api key not allowed"})
			return
		}
		next(w, r, key)
	}
}

func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken == "" {
			writeJSON(w, http.StatusForbidden, errorBody{Error: "admin api disabled"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
			return
		}
		next(w, r)
	}
}

// command adapts a dispatcher method to a JSON endpoint.
func command[P, R any](fn func(context.Context, string, P) (R, error)) tenantHandler {
	return func(w http.ResponseWriter, r *http.Request, tenantID string) {
		var params P
		if err := decodeBody(w, r, &params); err != nil {
			writeError(w, err)
			return
		}
		res, err := fn(r.Context(), tenantID, params)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return &dispatch.InvalidRequestError{Field: "body", Reason: "is not valid JSON: " + err.Error()}
	}
	return nil
}

type errorBody struct {
	Error  string `json:"error"`
	Field  string `json:"field,omitempty"`
	Result any    `json:"result,omitempty"`
}

func statusFor(err error) int {
	var ce *channel.CapabilityError
	switch {
	case errors.Is(err, dispatch.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionNotConnected),
		errors.Is(err, session.ErrLoggedOut),
		errors.Is(err, session.ErrClosed):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ce):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeErrorResult(w, err, nil)
}

func writeErrorResult(w http.ResponseWriter, err error, result any) {
	body := errorBody{Error: err.Error(), Result: result}
	var ie *dispatch.InvalidRequestError
	if errors.As(err, &ie) {
		body.Field = ie.Field
	}
	writeJSON(w, statusFor(err), body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
