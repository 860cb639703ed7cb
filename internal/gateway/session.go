package gateway

import (
	"errors"
	"net/http"

	"github.com/KafClaw/wagate/internal/dispatch"
	"github.com/KafClaw/wagate/internal/session"
)

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, tenantID string) {
	sess, err := s.registry.Start(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

// status reports an idle snapshot for tenants without a session.
func (s *Server) status(tenantID string) session.Status {
	if sess, ok := s.registry.Get(tenantID); ok {
		return sess.Status()
	}
	return session.Status{TenantID: tenantID, State: session.Idle.String()}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, tenantID string) {
	writeJSON(w, http.StatusOK, s.status(tenantID))
}

func (s *Server) handleQR(w http.ResponseWriter, _ *http.Request, tenantID string) {
	sess, ok := s.registry.Get(tenantID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: session.ErrSessionNotFound.Error()})
		return
	}
	art, ok := sess.LinkingArtifact()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no linking code available"})
		return
	}
	writeJSON(w, http.StatusOK, art)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, tenantID string) {
	if err := s.registry.Logout(r.Context(), tenantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.registry.List()})
}

// handleBroadcast returns the partial result alongside any error.
func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request, tenantID string) {
	var params dispatch.BroadcastParams
	if err := decodeBody(w, r, &params); err != nil {
		writeError(w, err)
		return
	}
	res, err := s.dispatch.Broadcast(r.Context(), tenantID, params)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) || len(res.Results) == 0 {
			writeError(w, err)
			return
		}
		writeErrorResult(w, err, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
