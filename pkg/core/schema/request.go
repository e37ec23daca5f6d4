// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"fmt"
)

// ResponseRequest represents a request to the /v1/responses endpoint.
type ResponseRequest struct {
	// Model ID forwarded to the upstream provider.
	Model string `json:"model"`

	// Input is the ordered list of new items for this turn. May be empty
	// when previous_response_id is set (pure replay).
	Input []Item `json:"input"`

	// Store controls persistence of the interaction. Defaults to true.
	Store *bool `json:"store,omitempty"`

	// PreviousResponseID continues the conversation that produced that response.
	PreviousResponseID *string `json:"previous_response_id,omitempty"`

	// Stream selects SSE streaming over a single aggregated JSON body.
	Stream bool `json:"stream,omitempty"`
}

// Validate validates the request.
func (r *ResponseRequest) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model is required")
	}
	if r.Input == nil {
		return fmt.Errorf("input is required")
	}
	for i := range r.Input {
		if err := r.Input[i].Validate(); err != nil {
			return fmt.Errorf("input[%d]: %w", i, err)
		}
	}
	return nil
}

// StoreEnabled reports whether the interaction should be persisted.
func (r *ResponseRequest) StoreEnabled() bool {
	return r.Store == nil || *r.Store
}

// Response is the aggregated response object returned for non-streaming
// requests and embedded in the terminal streaming event.
type Response struct {
	ID          string      `json:"id"`
	Object      string      `json:"object"` // always "response"
	CreatedAt   int64       `json:"created_at"`
	CompletedAt *int64      `json:"completed_at"` // nullable
	Model       string      `json:"model"`
	Status      string      `json:"status"` // "in_progress", "completed", "failed", "incomplete"
	Output      []Item      `json:"output"`
	Error       *ErrorField `json:"error"` // nullable

	PreviousResponseID *string `json:"previous_response_id"`
	Store              bool    `json:"store"`
}

// ErrorField carries a machine-readable code plus a human message.
type ErrorField struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StoredResponse is the persisted response row: a lookup entry mapping a
// response id to the conversation it extended.
type StoredResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	CreatedAt      int64  `json:"created_at"`
}
