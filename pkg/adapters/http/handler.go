// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package http is the inbound HTTP adapter: it exposes the responses endpoint
// plus the read-side lookups, and owns SSE framing toward clients.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/orsproxy/ors-proxy/pkg/core/engine"
	"github.com/orsproxy/ors-proxy/pkg/observability/logging"
	"github.com/orsproxy/ors-proxy/pkg/observability/metrics"
)

// Handler implements the HTTP adapter.
type Handler struct {
	engine  *engine.Engine
	logger  *logging.Logger
	metrics *metrics.Metrics
	mux     *http.ServeMux
}

// New creates a new HTTP handler.
func New(eng *engine.Engine, logger *logging.Logger, m *metrics.Metrics) *Handler {
	h := &Handler{
		engine:  eng,
		logger:  logger,
		metrics: m,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.Handle("GET /metrics", m.Handler())

	h.mux.HandleFunc("POST /v1/responses", h.handleResponses)
	h.mux.HandleFunc("GET /v1/responses/{id}", h.handleGetResponse)
	h.mux.HandleFunc("GET /v1/conversations/{id}/items", h.handleListConversationItems)

	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("request",
		"method", r.Method,
		"path", r.URL.Path,
		"remote_addr", r.RemoteAddr)

	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
}
