// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Item type discriminators.
const (
	ItemTypeMessage            = "message"
	ItemTypeFunctionCall       = "function_call"
	ItemTypeFunctionCallOutput = "function_call_output"
)

// Content part type discriminators.
const (
	ContentTypeInputText  = "input_text"
	ContentTypeInputImage = "input_image"
	ContentTypeOutputText = "output_text"
)

// Roles accepted on message items.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleDeveloper = "developer"
)

// Item is a typed element of conversation history (discriminated union by Type).
// It is the canonical shape both on the wire and in the store.
type Item struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`

	// Message fields (type="message")
	Role    string        `json:"role,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
	Status  string        `json:"status,omitempty"`

	// Function call fields (type="function_call")
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Function output fields (type="function_call_output")
	Output string `json:"output,omitempty"`
}

// ContentPart is a typed element inside a message's content array.
type ContentPart struct {
	Type string `json:"type"` // "input_text", "input_image", "output_text"

	Text string `json:"text,omitempty"`

	// ImageURL passes through untouched; providers accept both a bare URL
	// string and an object form.
	ImageURL json.RawMessage `json:"image_url,omitempty"`
}

// Validate checks the structural requirements of a single item.
func (it *Item) Validate() error {
	switch it.Type {
	case ItemTypeMessage:
		switch it.Role {
		case RoleUser, RoleAssistant, RoleDeveloper:
		default:
			return fmt.Errorf("message item has invalid role %q", it.Role)
		}
		for i, part := range it.Content {
			switch part.Type {
			case ContentTypeInputText, ContentTypeInputImage, ContentTypeOutputText:
			default:
				return fmt.Errorf("content part %d has invalid type %q", i, part.Type)
			}
		}
	case ItemTypeFunctionCall:
		if it.CallID == "" {
			return fmt.Errorf("function_call item requires call_id")
		}
		if it.Name == "" {
			return fmt.Errorf("function_call item requires name")
		}
	case ItemTypeFunctionCallOutput:
		if it.CallID == "" {
			return fmt.Errorf("function_call_output item requires call_id")
		}
	default:
		return fmt.Errorf("invalid item type %q", it.Type)
	}
	return nil
}

// ArgumentsString renders the stored arguments as the compact string form the
// upstream protocol expects. A JSON string value is unwrapped; any other JSON
// value is compacted.
func (it *Item) ArgumentsString() string {
	if len(it.Arguments) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(it.Arguments, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, it.Arguments); err != nil {
		return string(it.Arguments)
	}
	return buf.String()
}

// TextContent concatenates the text of all text-bearing content parts.
func (it *Item) TextContent() string {
	var buf bytes.Buffer
	for _, part := range it.Content {
		switch part.Type {
		case ContentTypeInputText, ContentTypeOutputText:
			buf.WriteString(part.Text)
		}
	}
	return buf.String()
}

// StringArguments wraps a plain argument string into the canonical JSON form.
func StringArguments(args string) json.RawMessage {
	b, _ := json.Marshal(args)
	return b
}
