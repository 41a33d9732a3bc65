// Package api is the thin HTTP resource layer over the pools: it decodes
// wire payloads, calls into the engine, and serializes views back out. No
// allocation logic lives here.
package api

import (
	"errors"
	"net/http"

	"github.com/gridrock/gridpool/internal/model"
	"github.com/gridrock/gridpool/internal/node"
	"github.com/gridrock/gridpool/internal/proxy"
	"github.com/gridrock/gridpool/internal/session"
	"github.com/gridrock/gridpool/pkg/httpx"
)

type Server struct {
	nodes    *node.Pool
	sessions *session.Pool
	proxies  *proxy.Pool
}

func NewServer(nodes *node.Pool, sessions *session.Pool, proxies *proxy.Pool) *Server {
	return &Server{nodes: nodes, sessions: sessions, proxies: proxies}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/nodes", s.handleNodes)
	mux.HandleFunc("/v1/nodes/refresh", s.handleNodesRefresh)
	mux.HandleFunc("/v1/nodes/", s.handleNodeByID)
	mux.HandleFunc("/v1/sessions", s.handleSessions)
	mux.HandleFunc("/v1/sessions/refresh", s.handleSessionsRefresh)
	mux.HandleFunc("/v1/sessions/", s.handleSessionByID)
	mux.HandleFunc("/v1/proxies", s.handleProxies)
	mux.HandleFunc("/v1/proxies/", s.handleProxyByID)

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps the engine's error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	var ce *model.CoercionError
	switch {
	case errors.As(err, &ve):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", ve.Error())
	case errors.Is(err, model.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, model.ErrCapacity):
		httpx.WriteError(w, http.StatusServiceUnavailable, "no_capacity", err.Error())
	case errors.Is(err, model.ErrConflict):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, model.ErrUnsupported):
		httpx.WriteError(w, http.StatusNotImplemented, "unsupported_operation", err.Error())
	case errors.As(err, &ce):
		httpx.WriteError(w, http.StatusInternalServerError, "coercion_error", ce.Error())
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
