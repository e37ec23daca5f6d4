// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"testing"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
)

func TestTranslateUserText(t *testing.T) {
	items := []schema.Item{{
		Type: schema.ItemTypeMessage,
		Role: schema.RoleUser,
		Content: []schema.ContentPart{
			{Type: schema.ContentTypeInputText, Text: "Part 1 "},
			{Type: schema.ContentTypeInputText, Text: "Part 2"},
		},
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Role != "user" {
		t.Errorf("expected role user, got %s", msgs[0].Role)
	}
	if msgs[0].Content != "Part 1 Part 2" {
		t.Errorf("expected concatenated text, got %v", msgs[0].Content)
	}
}

func TestTranslateDeveloperRole(t *testing.T) {
	items := []schema.Item{{
		Type:    schema.ItemTypeMessage,
		Role:    schema.RoleDeveloper,
		Content: []schema.ContentPart{{Type: schema.ContentTypeInputText, Text: "System prompt"}},
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	if msgs[0].Role != "system" {
		t.Errorf("developer should map to system, got %s", msgs[0].Role)
	}
}

func TestTranslateAssistantOutputText(t *testing.T) {
	items := []schema.Item{{
		Type:    schema.ItemTypeMessage,
		Role:    schema.RoleAssistant,
		Content: []schema.ContentPart{{Type: schema.ContentTypeOutputText, Text: "Hello"}},
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	if msgs[0].Role != "assistant" || msgs[0].Content != "Hello" {
		t.Errorf("unexpected message: %+v", msgs[0])
	}
}

func TestTranslateImageMessageUsesArrayForm(t *testing.T) {
	items := []schema.Item{{
		Type: schema.ItemTypeMessage,
		Role: schema.RoleUser,
		Content: []schema.ContentPart{
			{Type: schema.ContentTypeInputText, Text: "what is this?"},
			{Type: schema.ContentTypeInputImage, ImageURL: json.RawMessage(`{"url":"https://example.com/a.png"}`)},
		},
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	parts, ok := msgs[0].Content.([]ChatContentPart)
	if !ok {
		t.Fatalf("expected array content form, got %T", msgs[0].Content)
	}
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d", len(parts))
	}
	if parts[0].Type != "text" || parts[0].Text != "what is this?" {
		t.Errorf("unexpected first part: %+v", parts[0])
	}
	if parts[1].Type != "image_url" || string(parts[1].ImageURL) != `{"url":"https://example.com/a.png"}` {
		t.Errorf("unexpected second part: %+v", parts[1])
	}
}

func TestTranslateFunctionCall(t *testing.T) {
	items := []schema.Item{{
		Type:      schema.ItemTypeFunctionCall,
		CallID:    "call_1",
		Name:      "get_weather",
		Arguments: json.RawMessage(`{"city": "SF"}`),
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	msg := msgs[0]
	if msg.Role != "assistant" {
		t.Errorf("expected assistant role, got %s", msg.Role)
	}
	if msg.Content != nil {
		t.Errorf("content should be null for tool-call messages, got %v", msg.Content)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.ID != "call_1" || tc.Type != "function" || tc.Function.Name != "get_weather" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if tc.Function.Arguments != `{"city":"SF"}` {
		t.Errorf("arguments should serialize compactly, got %q", tc.Function.Arguments)
	}
}

func TestTranslateFunctionCallOutput(t *testing.T) {
	items := []schema.Item{{
		Type:   schema.ItemTypeFunctionCallOutput,
		CallID: "call_1",
		Output: "sunny, 22C",
	}}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	msg := msgs[0]
	if msg.Role != "tool" || msg.ToolCallID != "call_1" || msg.Content != "sunny, 22C" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestTranslateAdjacentFunctionCallsNotMerged(t *testing.T) {
	items := []schema.Item{
		{Type: schema.ItemTypeFunctionCall, CallID: "call_1", Name: "a", Arguments: schema.StringArguments("{}")},
		{Type: schema.ItemTypeFunctionCall, CallID: "call_2", Name: "b", Arguments: schema.StringArguments("{}")},
	}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("adjacent assistant messages must not merge, got %d messages", len(msgs))
	}
	if msgs[0].ToolCalls[0].ID != "call_1" || msgs[1].ToolCalls[0].ID != "call_2" {
		t.Errorf("tool call ordering lost: %+v", msgs)
	}
}

func TestTranslateFullConversationOrder(t *testing.T) {
	items := []schema.Item{
		{Type: schema.ItemTypeMessage, Role: schema.RoleUser, Content: []schema.ContentPart{{Type: schema.ContentTypeInputText, Text: "weather?"}}},
		{Type: schema.ItemTypeFunctionCall, CallID: "call_1", Name: "get_weather", Arguments: schema.StringArguments(`{"city":"SF"}`)},
		{Type: schema.ItemTypeFunctionCallOutput, CallID: "call_1", Output: "22C"},
		{Type: schema.ItemTypeMessage, Role: schema.RoleAssistant, Content: []schema.ContentPart{{Type: schema.ContentTypeOutputText, Text: "It is 22C."}}},
	}

	msgs, err := TranslateItems(items)
	if err != nil {
		t.Fatalf("TranslateItems: %v", err)
	}
	roles := []string{"user", "assistant", "tool", "assistant"}
	if len(msgs) != len(roles) {
		t.Fatalf("expected %d messages, got %d", len(roles), len(msgs))
	}
	for i, role := range roles {
		if msgs[i].Role != role {
			t.Errorf("message %d: expected role %s, got %s", i, role, msgs[i].Role)
		}
	}
}
