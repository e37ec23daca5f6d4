// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-memory ContextStore. It backs tests and the
// "memory://" DATABASE_URL scheme; nothing survives a restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
)

// Store is an in-memory implementation of state.ContextStore.
type Store struct {
	mu            sync.Mutex
	conversations map[string][]schema.Item
	responses     map[string]schema.StoredResponse
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		conversations: make(map[string][]schema.Item),
		responses:     make(map[string]schema.StoredResponse),
	}
}

func (s *Store) CreateConversation(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := schema.NewID("conv_")
	s.conversations[id] = nil
	return id, nil
}

func (s *Store) AppendItems(ctx context.Context, conversationID string, items []schema.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[conversationID]
	if !ok {
		return state.ErrNotFound
	}

	// Validate function_call_output references before touching anything so
	// the append stays all-or-nothing.
	known := make(map[string]bool)
	for _, it := range existing {
		if it.Type == schema.ItemTypeFunctionCall {
			known[it.CallID] = true
		}
	}
	for _, it := range items {
		switch it.Type {
		case schema.ItemTypeFunctionCall:
			known[it.CallID] = true
		case schema.ItemTypeFunctionCallOutput:
			if !known[it.CallID] {
				return state.ErrMissingCall
			}
		}
	}

	s.conversations[conversationID] = append(existing, items...)
	return nil
}

func (s *Store) LoadItems(ctx context.Context, conversationID string) ([]schema.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, ok := s.conversations[conversationID]
	if !ok {
		return nil, state.ErrNotFound
	}
	out := make([]schema.Item, len(items))
	copy(out, items)
	return out, nil
}

func (s *Store) ResolvePrevious(ctx context.Context, responseID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[responseID]
	if !ok {
		return "", state.ErrNotFound
	}
	return resp.ConversationID, nil
}

func (s *Store) RecordResponse(ctx context.Context, responseID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.responses[responseID] = schema.StoredResponse{
		ID:             responseID,
		ConversationID: conversationID,
		CreatedAt:      time.Now().Unix(),
	}
	return nil
}

func (s *Store) GetResponse(ctx context.Context, responseID string) (*schema.StoredResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[responseID]
	if !ok {
		return nil, state.ErrNotFound
	}
	return &resp, nil
}

func (s *Store) Close() error {
	return nil
}

// ItemCount reports the number of stored items for a conversation. Test helper.
func (s *Store) ItemCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations[conversationID])
}

// ConversationCount reports the number of conversations. Test helper.
func (s *Store) ConversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conversations)
}
