// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/orsproxy/ors-proxy/pkg/core/engine"
	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
	"github.com/orsproxy/ors-proxy/pkg/observability/metrics"
)

// handleResponses handles POST /v1/responses.
func (h *Handler) handleResponses(w http.ResponseWriter, r *http.Request) {
	var req schema.ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to parse request", "error", err)
		h.metrics.Requests.WithLabelValues(metrics.OutcomeRejected).Inc()
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse request body")
		return
	}

	h.logger.Info("processing response request",
		"model", req.Model,
		"stream", req.Stream,
		"input_items", len(req.Input))

	if req.Stream {
		h.handleStreamingResponse(w, r, &req)
		return
	}

	resp, err := h.engine.ProcessRequest(r.Context(), &req)
	if err != nil {
		h.metrics.Requests.WithLabelValues(metrics.OutcomeRejected).Inc()
		h.writeRequestError(w, err)
		return
	}
	h.metrics.Requests.WithLabelValues(outcomeForStatus(resp.Status)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)

	h.logger.Info("response sent", "response_id", resp.ID, "status", resp.Status)
}

// handleStreamingResponse handles the SSE path. Headers are written lazily on
// the first event so pre-stream failures still get a proper status code.
func (h *Handler) handleStreamingResponse(w http.ResponseWriter, r *http.Request, req *schema.ResponseRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.metrics.Requests.WithLabelValues(metrics.OutcomeRejected).Inc()
		h.writeError(w, http.StatusInternalServerError, "streaming_not_supported", "streaming not supported")
		return
	}

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	headersSent := false
	status := schema.StatusInProgress

	err := h.engine.ProcessStream(r.Context(), req, func(ev schema.StreamEvent) error {
		if !headersSent {
			w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			headersSent = true
		}

		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventType(), data); err != nil {
			return err
		}
		flusher.Flush()
		h.metrics.EventsEmitted.Inc()

		switch e := ev.(type) {
		case schema.ResponseCompletedEvent:
			status = e.Response.Status
		case schema.ResponseErrorEvent:
			status = schema.StatusFailed
		}
		return nil
	})

	if err != nil {
		if !headersSent {
			h.metrics.Requests.WithLabelValues(metrics.OutcomeRejected).Inc()
			h.writeRequestError(w, err)
			return
		}
		// Mid-stream write failure: the client is gone, nothing to send.
		h.logger.Warn("stream aborted", "error", err)
		h.metrics.Requests.WithLabelValues(metrics.OutcomeFailed).Inc()
		return
	}

	h.metrics.Requests.WithLabelValues(outcomeForStatus(status)).Inc()
	h.logger.Info("streaming completed", "status", status)
}

// handleGetResponse handles GET /v1/responses/{id}.
func (h *Handler) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	responseID := r.PathValue("id")
	if responseID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "response id is required")
		return
	}

	resp, err := h.engine.Store().GetResponse(r.Context(), responseID)
	if errors.Is(err, state.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("response %s not found", responseID))
		return
	}
	if err != nil {
		h.logger.Error("failed to get response", "error", err, "response_id", responseID)
		h.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":              resp.ID,
		"object":          "response",
		"conversation_id": resp.ConversationID,
		"created_at":      resp.CreatedAt,
	})
}

// writeRequestError maps a classified engine failure to an HTTP status.
func (h *Handler) writeRequestError(w http.ResponseWriter, err error) {
	var rerr *engine.RequestError
	if !errors.As(err, &rerr) {
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	switch rerr.Kind {
	case engine.KindValidation:
		h.writeError(w, http.StatusBadRequest, "invalid_request", rerr.Err.Error())
	case engine.KindUpstream:
		h.metrics.UpstreamErrors.Inc()
		h.logger.Error("upstream request failed", "error", rerr.Err)
		h.writeError(w, http.StatusBadGateway, "upstream_error", "upstream request failed")
	default:
		h.logger.Error("request failed", "kind", rerr.Kind, "error", rerr.Err)
		h.writeError(w, http.StatusInternalServerError, rerr.Kind+"_error", "request processing failed")
	}
}

func outcomeForStatus(status string) string {
	switch status {
	case schema.StatusCompleted:
		return metrics.OutcomeCompleted
	case schema.StatusIncomplete:
		return metrics.OutcomeIncomplete
	default:
		return metrics.OutcomeFailed
	}
}
