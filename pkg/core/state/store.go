// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"errors"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
)

var (
	// ErrNotFound is returned when a conversation or response id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a concurrent append collides on a
	// sequence index; the caller should retry.
	ErrConflict = errors.New("append conflict")

	// ErrMissingCall is returned when a function_call_output references a
	// call_id with no matching function_call in the conversation.
	ErrMissingCall = errors.New("no matching function_call for output")
)

// ContextStore durably persists and retrieves ordered conversation items.
// The store is the sole authority for item ordering: sequence indices are
// dense and strictly increasing from 0 within a conversation, and appends
// are all-or-nothing.
type ContextStore interface {
	// CreateConversation inserts a new conversation and returns its id.
	CreateConversation(ctx context.Context) (string, error)

	// AppendItems appends items at the next sequence indices within one
	// transaction. Returns ErrConflict if a concurrent append collides and
	// ErrMissingCall if a function_call_output has no matching call.
	AppendItems(ctx context.Context, conversationID string, items []schema.Item) error

	// LoadItems returns all items of a conversation ordered by sequence index.
	LoadItems(ctx context.Context, conversationID string) ([]schema.Item, error)

	// ResolvePrevious maps a response id to the conversation it extended.
	ResolvePrevious(ctx context.Context, responseID string) (string, error)

	// RecordResponse stores the response id -> conversation id mapping so a
	// later previous_response_id can resolve.
	RecordResponse(ctx context.Context, responseID, conversationID string) error

	// GetResponse returns the stored response row.
	GetResponse(ctx context.Context, responseID string) (*schema.StoredResponse, error)

	// Close releases the underlying resources.
	Close() error
}
