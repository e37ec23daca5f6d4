// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"fmt"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
)

// TranslateItems converts an ordered item list (stored history followed by
// the new inputs) into the flat Chat Completions message list the upstream
// expects. Adjacent assistant messages are deliberately not merged so that
// tool-call ordering survives the translation.
func TranslateItems(items []schema.Item) ([]ChatMessage, error) {
	messages := make([]ChatMessage, 0, len(items))

	for i := range items {
		item := &items[i]
		switch item.Type {
		case schema.ItemTypeMessage:
			msg, err := translateMessage(item)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			messages = append(messages, msg)

		case schema.ItemTypeFunctionCall:
			messages = append(messages, ChatMessage{
				Role:    "assistant",
				Content: nil,
				ToolCalls: []ChatToolCall{{
					ID:   item.CallID,
					Type: "function",
					Function: ChatToolCallFunction{
						Name:      item.Name,
						Arguments: item.ArgumentsString(),
					},
				}},
			})

		case schema.ItemTypeFunctionCallOutput:
			messages = append(messages, ChatMessage{
				Role:       "tool",
				Content:    item.Output,
				ToolCallID: item.CallID,
			})

		default:
			return nil, fmt.Errorf("item %d: cannot translate type %q", i, item.Type)
		}
	}

	return messages, nil
}

// translateMessage maps a message item to a chat message. Text-only content
// collapses to a plain string; any image part switches the whole message to
// the array content form, preserving part order.
func translateMessage(item *schema.Item) (ChatMessage, error) {
	role := item.Role
	if role == schema.RoleDeveloper {
		// Chat Completions has no developer role; legacy-mapped to system.
		role = "system"
	}

	hasImage := false
	for _, part := range item.Content {
		if part.Type == schema.ContentTypeInputImage {
			hasImage = true
			break
		}
	}

	if !hasImage {
		return ChatMessage{Role: role, Content: item.TextContent()}, nil
	}

	parts := make([]ChatContentPart, 0, len(item.Content))
	for _, part := range item.Content {
		switch part.Type {
		case schema.ContentTypeInputText, schema.ContentTypeOutputText:
			parts = append(parts, ChatContentPart{Type: "text", Text: part.Text})
		case schema.ContentTypeInputImage:
			parts = append(parts, ChatContentPart{Type: "image_url", ImageURL: part.ImageURL})
		default:
			return ChatMessage{}, fmt.Errorf("cannot translate content part type %q", part.Type)
		}
	}
	return ChatMessage{Role: role, Content: parts}, nil
}
