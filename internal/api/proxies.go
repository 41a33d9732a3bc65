package api

import (
	"net/http"
	"strings"

	"github.com/gridrock/gridpool/internal/model"
	"github.com/gridrock/gridpool/internal/proxy"
	"github.com/gridrock/gridpool/pkg/httpx"
)

type createProxyRequest struct {
	Type     string   `json:"type"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	PublicIP string   `json:"public_ip"`
	Tags     []string `json:"tags"`
	Shared   *bool    `json:"shared"`
	Active   *bool    `json:"active"`
}

func (s *Server) handleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		proxies, err := s.proxies.List(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"proxies": proxies})
	case http.MethodPost:
		var req createProxyRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
		created, err := s.proxies.Create(r.Context(), proxy.CreateSpec{
			Type:     model.ProxyType(strings.TrimSpace(req.Type)),
			Host:     req.Host,
			Port:     req.Port,
			PublicIP: strings.TrimSpace(req.PublicIP),
			Tags:     req.Tags,
			Shared:   req.Shared,
			Active:   req.Active,
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

func (s *Server) handleProxyByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/proxies/"))
	if id == "" || strings.Contains(id, "/") {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_proxy_id", "expected /v1/proxies/{id}")
		return
	}

	switch r.Method {
	case http.MethodGet:
		found, err := s.proxies.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, found)
	case http.MethodDelete:
		if err := s.proxies.Destroy(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
