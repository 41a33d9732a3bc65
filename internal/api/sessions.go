package api

import (
	"net/http"
	"strings"

	"github.com/gridrock/gridpool/internal/session"
	"github.com/gridrock/gridpool/pkg/httpx"
)

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.sessions.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	case http.MethodPost:
		var req session.Request
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		sess, err := s.sessions.GetOrCreate(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, sess)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

type refreshSessionsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleSessionsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req refreshSessionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := s.sessions.Refresh(r.Context(), req.IDs); err != nil {
		writeError(w, err)
		return
	}
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type modifySessionRequest struct {
	Modify []session.ModifyOp `json:"modify"`
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/sessions/"))
	if id == "" || strings.Contains(id, "/") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_session_id", "expected /v1/sessions/{id}")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sess)
	case http.MethodPatch:
		var req modifySessionRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		sess, err := s.sessions.Modify(r.Context(), id, req.Modify)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, sess)
	case http.MethodDelete:
		immediately := r.URL.Query().Get("immediately") == "true"
		if err := s.sessions.Destroy(r.Context(), id, immediately); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
