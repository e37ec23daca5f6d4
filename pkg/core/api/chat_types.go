// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"fmt"
)

// ChatCompletionRequest represents a request to the upstream /v1/chat/completions endpoint.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// ChatMessage represents a message in the Chat Completions API. Content is a
// string for plain text, a []ChatContentPart for multimodal messages, and
// explicitly null on assistant messages that only carry tool calls.
type ChatMessage struct {
	Role       string         `json:"role"`
	Content    interface{}    `json:"content"`
	ToolCalls  []ChatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ChatContentPart represents a content part in a multimodal message.
// ImageURL passes through whatever JSON value the client supplied.
type ChatContentPart struct {
	Type     string          `json:"type"` // "text", "image_url"
	Text     string          `json:"text,omitempty"`
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// ChatToolCall represents a tool call, either complete (request history) or
// as a streamed fragment (chunk delta).
type ChatToolCall struct {
	Index    *int                 `json:"index,omitempty"`
	ID       string               `json:"id,omitempty"`
	Type     string               `json:"type,omitempty"` // "function"
	Function ChatToolCallFunction `json:"function"`
}

// ChatToolCallFunction contains the function name and arguments for a tool call.
type ChatToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ChatCompletionChunk represents one streaming chunk from the upstream.
// Unknown top-level fields are retained in Extra so nothing the provider
// sends is lost, but they are otherwise ignored.
type ChatCompletionChunk struct {
	ID      string            `json:"id,omitempty"`
	Object  string            `json:"object,omitempty"`
	Model   string            `json:"model,omitempty"`
	Created int64             `json:"created,omitempty"`
	Choices []ChatChunkChoice `json:"choices,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// ChatChunkChoice represents a choice in a streaming chunk.
type ChatChunkChoice struct {
	Index        int            `json:"index"`
	Delta        ChatChunkDelta `json:"delta"`
	FinishReason *string        `json:"finish_reason,omitempty"`
}

// ChatChunkDelta represents the delta content in a streaming chunk. All
// fields are optional; providers send keepalive chunks with none of them.
type ChatChunkDelta struct {
	Role      string         `json:"role,omitempty"`
	Content   *string        `json:"content,omitempty"`
	ToolCalls []ChatToolCall `json:"tool_calls,omitempty"`
}

// chunkKnownFields are the top-level keys mapped onto struct fields; anything
// else lands in Extra.
var chunkKnownFields = map[string]bool{
	"id": true, "object": true, "model": true, "created": true, "choices": true,
}

// UnmarshalJSON decodes a chunk permissively, absorbing unknown keys into
// Extra. Uses an alias to avoid infinite recursion.
func (c *ChatCompletionChunk) UnmarshalJSON(data []byte) error {
	type alias ChatCompletionChunk
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = ChatCompletionChunk(a)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil // already parsed via alias, best-effort
	}
	for key := range raw {
		if chunkKnownFields[key] {
			delete(raw, key)
		}
	}
	if len(raw) > 0 {
		c.Extra = raw
	}
	return nil
}

// DecodeChunk parses one SSE record payload into a chunk. A record with no
// choices decodes successfully into an empty chunk; only malformed JSON fails.
func DecodeChunk(record []byte) (*ChatCompletionChunk, error) {
	var chunk ChatCompletionChunk
	if err := json.Unmarshal(record, &chunk); err != nil {
		return nil, fmt.Errorf("decode chat completion chunk: %w", err)
	}
	return &chunk, nil
}
