// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// Streaming event type tags.
const (
	EventResponseCreated            = "response.created"
	EventOutputItemAdded            = "response.output_item.added"
	EventContentPartAdded           = "response.content_part.added"
	EventOutputTextDelta            = "response.output_text.delta"
	EventFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	EventContentPartDone            = "response.content_part.done"
	EventOutputItemDone             = "response.output_item.done"
	EventResponseCompleted          = "response.completed"
	EventResponseError              = "response.error"
)

// Item terminal statuses.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// StreamEvent is implemented by every streaming event payload. Within one
// response stream, sequence numbers are dense and strictly increasing from 0.
type StreamEvent interface {
	EventType() string
	Seq() int
}

// EventMeta carries the fields common to all streaming events.
type EventMeta struct {
	Type           string `json:"type"`
	SequenceNumber int    `json:"sequence_number"`
}

func (e EventMeta) EventType() string { return e.Type }
func (e EventMeta) Seq() int          { return e.SequenceNumber }

// ResponseCreatedEvent - response.created
type ResponseCreatedEvent struct {
	EventMeta
	ID string `json:"id"`
}

// OutputItemAddedEvent - response.output_item.added
type OutputItemAddedEvent struct {
	EventMeta
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Item        Item   `json:"item"`
}

// ContentPartAddedEvent - response.content_part.added
type ContentPartAddedEvent struct {
	EventMeta
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

// OutputTextDeltaEvent - response.output_text.delta
type OutputTextDeltaEvent struct {
	EventMeta
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

// FunctionCallArgumentsDeltaEvent - response.function_call_arguments.delta
type FunctionCallArgumentsDeltaEvent struct {
	EventMeta
	ItemID      string `json:"item_id"`
	OutputIndex int    `json:"output_index"`
	Delta       string `json:"delta"`
}

// ContentPartDoneEvent - response.content_part.done
type ContentPartDoneEvent struct {
	EventMeta
	ItemID       string      `json:"item_id"`
	OutputIndex  int         `json:"output_index"`
	ContentIndex int         `json:"content_index"`
	Part         ContentPart `json:"part"`
}

// OutputItemDoneEvent - response.output_item.done
type OutputItemDoneEvent struct {
	EventMeta
	OutputIndex int    `json:"output_index"`
	ItemID      string `json:"item_id"`
	Item        Item   `json:"item"`
}

// ResponseCompletedEvent - response.completed
type ResponseCompletedEvent struct {
	EventMeta
	ResponseID string    `json:"response_id"`
	Response   *Response `json:"response,omitempty"`
}

// ResponseErrorEvent - response.error
type ResponseErrorEvent struct {
	EventMeta
	Error ErrorField `json:"error"`
}
