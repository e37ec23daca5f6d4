// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
)

// handleListConversationItems handles GET /v1/conversations/{id}/items.
func (h *Handler) handleListConversationItems(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("id")
	if conversationID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "conversation id is required")
		return
	}

	items, err := h.engine.Store().LoadItems(r.Context(), conversationID)
	if errors.Is(err, state.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("conversation %s not found", conversationID))
		return
	}
	if err != nil {
		h.logger.Error("failed to load items", "error", err, "conversation_id", conversationID)
		h.writeError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	if items == nil {
		items = []schema.Item{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"object": "list",
		"data":   items,
	})
}
