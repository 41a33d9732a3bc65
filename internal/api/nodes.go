package api

import (
	"net/http"
	"strings"

	"github.com/gridrock/gridpool/internal/node"
	"github.com/gridrock/gridpool/pkg/httpx"
)

type createNodeRequest struct {
	URL         string   `json:"url"`
	Tags        []string `json:"tags"`
	MaxSessions int      `json:"max_sessions"`
}

type modifyNodeRequest struct {
	URL  *string   `json:"url"`
	Tags *[]string `json:"tags"`
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		nodes, err := s.nodes.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
	case http.MethodPost:
		var req createNodeRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		created, err := s.nodes.Create(r.Context(), node.CreateInput{
			URL:         strings.TrimSpace(req.URL),
			Tags:        req.Tags,
			MaxSessions: req.MaxSessions,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, created)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *Server) handleNodesRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if err := s.nodes.Refresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	nodes, err := s.nodes.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"nodes": nodes})
}

func (s *Server) handleNodeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/nodes/"))
	if id == "" || strings.Contains(id, "/") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_node_id", "expected /v1/nodes/{id}")
		return
	}

	switch r.Method {
	case http.MethodGet:
		found, err := s.nodes.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, found)
	case http.MethodPatch:
		var req modifyNodeRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		updated, err := s.nodes.Modify(r.Context(), id, node.ModifyInput{
			URL:  req.URL,
			Tags: req.Tags,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := s.nodes.Destroy(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
