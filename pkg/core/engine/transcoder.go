// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"strings"
	"time"

	"github.com/orsproxy/ors-proxy/pkg/core/api"
	"github.com/orsproxy/ors-proxy/pkg/core/schema"
)

type transcoderState int

const (
	transcoderInit transcoderState = iota
	transcoderOpen
	transcoderClosed
)

const (
	itemKindText = iota
	itemKindToolCall
)

// outputItem tracks one in-flight output item while upstream deltas accumulate.
type outputItem struct {
	kind        int
	id          string
	outputIndex int

	text strings.Builder // text items

	callID string // tool-call items
	name   string
	args   strings.Builder
}

// Transcoder converts a stream of upstream Chat Completions chunks into the
// strict response event lifecycle. Events carry dense sequence numbers
// starting at 0, and event ordering within one upstream delta is
// deterministic: text first, then tool-call fragments in array order, then
// the finish transition.
type Transcoder struct {
	responseID string
	model      string
	createdAt  int64

	state      transcoderState
	seq        int
	nextOutput int
	status     string

	textItem  *outputItem
	toolItems map[int]*outputItem
	order     []*outputItem
}

// NewTranscoder creates a transcoder for a single response stream.
func NewTranscoder(model string) *Transcoder {
	return &Transcoder{
		responseID: schema.NewID("resp_"),
		model:      model,
		createdAt:  time.Now().Unix(),
		status:     schema.StatusInProgress,
		toolItems:  make(map[int]*outputItem),
	}
}

// ResponseID returns the id assigned to this response.
func (t *Transcoder) ResponseID() string { return t.responseID }

// Status returns the terminal status, or "in_progress" before the stream closes.
func (t *Transcoder) Status() string { return t.status }

// Closed reports whether the stream reached a terminal event.
func (t *Transcoder) Closed() bool { return t.state == transcoderClosed }

func (t *Transcoder) meta(eventType string) schema.EventMeta {
	m := schema.EventMeta{Type: eventType, SequenceNumber: t.seq}
	t.seq++
	return m
}

// Start opens the stream and emits response.created.
func (t *Transcoder) Start() []schema.StreamEvent {
	if t.state != transcoderInit {
		return nil
	}
	t.state = transcoderOpen
	return []schema.StreamEvent{schema.ResponseCreatedEvent{
		EventMeta: t.meta(schema.EventResponseCreated),
		ID:        t.responseID,
	}}
}

// Process converts one upstream chunk into zero or more events. Chunks
// arriving after the stream closed are discarded. Only the first choice is
// transcoded.
func (t *Transcoder) Process(chunk *api.ChatCompletionChunk) []schema.StreamEvent {
	if t.state != transcoderOpen || len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]

	var events []schema.StreamEvent

	if choice.Delta.Content != nil && *choice.Delta.Content != "" {
		events = append(events, t.textDelta(*choice.Delta.Content)...)
	}
	for i, frag := range choice.Delta.ToolCalls {
		events = append(events, t.toolFragment(i, frag)...)
	}
	if choice.FinishReason != nil {
		events = append(events, t.finish(*choice.FinishReason)...)
	}
	return events
}

func (t *Transcoder) textDelta(delta string) []schema.StreamEvent {
	var events []schema.StreamEvent

	if t.textItem == nil {
		item := &outputItem{
			kind:        itemKindText,
			id:          schema.NewID("msg_"),
			outputIndex: t.nextOutput,
		}
		t.nextOutput++
		t.textItem = item
		t.order = append(t.order, item)

		events = append(events,
			schema.OutputItemAddedEvent{
				EventMeta:   t.meta(schema.EventOutputItemAdded),
				OutputIndex: item.outputIndex,
				ItemID:      item.id,
				Item: schema.Item{
					Type:    schema.ItemTypeMessage,
					ID:      item.id,
					Role:    schema.RoleAssistant,
					Status:  schema.StatusInProgress,
					Content: []schema.ContentPart{},
				},
			},
			schema.ContentPartAddedEvent{
				EventMeta:   t.meta(schema.EventContentPartAdded),
				ItemID:      item.id,
				OutputIndex: item.outputIndex,
				Part:        schema.ContentPart{Type: schema.ContentTypeOutputText},
			},
		)
	}

	t.textItem.text.WriteString(delta)
	events = append(events, schema.OutputTextDeltaEvent{
		EventMeta:   t.meta(schema.EventOutputTextDelta),
		ItemID:      t.textItem.id,
		OutputIndex: t.textItem.outputIndex,
		Delta:       delta,
	})
	return events
}

func (t *Transcoder) toolFragment(pos int, frag api.ChatToolCall) []schema.StreamEvent {
	// Providers key fragments by index; fall back to array position for the
	// few that omit it.
	key := pos
	if frag.Index != nil {
		key = *frag.Index
	}

	var events []schema.StreamEvent

	item, ok := t.toolItems[key]
	if !ok {
		item = &outputItem{
			kind:        itemKindToolCall,
			id:          schema.NewID("fc_"),
			outputIndex: t.nextOutput,
			callID:      frag.ID,
			name:        frag.Function.Name,
		}
		if item.callID == "" {
			item.callID = schema.NewID("call_")
		}
		t.nextOutput++
		t.toolItems[key] = item
		t.order = append(t.order, item)

		events = append(events, schema.OutputItemAddedEvent{
			EventMeta:   t.meta(schema.EventOutputItemAdded),
			OutputIndex: item.outputIndex,
			ItemID:      item.id,
			Item: schema.Item{
				Type:      schema.ItemTypeFunctionCall,
				ID:        item.id,
				Status:    schema.StatusInProgress,
				CallID:    item.callID,
				Name:      item.name,
				Arguments: schema.StringArguments(""),
			},
		})
	} else {
		if frag.ID != "" {
			item.callID = frag.ID
		}
		if frag.Function.Name != "" {
			item.name = frag.Function.Name
		}
	}

	if frag.Function.Arguments != "" {
		item.args.WriteString(frag.Function.Arguments)
		events = append(events, schema.FunctionCallArgumentsDeltaEvent{
			EventMeta:   t.meta(schema.EventFunctionCallArgumentsDelta),
			ItemID:      item.id,
			OutputIndex: item.outputIndex,
			Delta:       frag.Function.Arguments,
		})
	}
	return events
}

// finish closes every open item in creation order, then emits
// response.completed carrying the aggregated response.
func (t *Transcoder) finish(reason string) []schema.StreamEvent {
	t.state = transcoderClosed
	t.status = statusForFinishReason(reason)

	var events []schema.StreamEvent
	for _, item := range t.order {
		if item.kind == itemKindText {
			events = append(events, schema.ContentPartDoneEvent{
				EventMeta:   t.meta(schema.EventContentPartDone),
				ItemID:      item.id,
				OutputIndex: item.outputIndex,
				Part: schema.ContentPart{
					Type: schema.ContentTypeOutputText,
					Text: item.text.String(),
				},
			})
		}
		events = append(events, schema.OutputItemDoneEvent{
			EventMeta:   t.meta(schema.EventOutputItemDone),
			OutputIndex: item.outputIndex,
			ItemID:      item.id,
			Item:        t.itemSnapshot(item, schema.StatusCompleted),
		})
	}

	events = append(events, schema.ResponseCompletedEvent{
		EventMeta:  t.meta(schema.EventResponseCompleted),
		ResponseID: t.responseID,
		Response:   t.Response(),
	})
	return events
}

// FinishStream handles an upstream that ended without a finish_reason. The
// accumulated output is still closed out; an entirely empty stream completes
// as incomplete since upstream never produced anything.
func (t *Transcoder) FinishStream() []schema.StreamEvent {
	if t.state != transcoderOpen {
		return nil
	}
	reason := "stop"
	if len(t.order) == 0 {
		reason = "length"
	}
	return t.finish(reason)
}

// FinishError aborts the stream: open items close as failed and the terminal
// event is response.error.
func (t *Transcoder) FinishError(code, message string) []schema.StreamEvent {
	if t.state == transcoderClosed {
		return nil
	}
	t.state = transcoderClosed
	t.status = schema.StatusFailed

	var events []schema.StreamEvent
	for _, item := range t.order {
		events = append(events, schema.OutputItemDoneEvent{
			EventMeta:   t.meta(schema.EventOutputItemDone),
			OutputIndex: item.outputIndex,
			ItemID:      item.id,
			Item:        t.itemSnapshot(item, schema.StatusFailed),
		})
	}
	events = append(events, schema.ResponseErrorEvent{
		EventMeta: t.meta(schema.EventResponseError),
		Error:     schema.ErrorField{Code: code, Message: message},
	})
	return events
}

func (t *Transcoder) itemSnapshot(item *outputItem, status string) schema.Item {
	if item.kind == itemKindText {
		return schema.Item{
			Type:   schema.ItemTypeMessage,
			ID:     item.id,
			Role:   schema.RoleAssistant,
			Status: status,
			Content: []schema.ContentPart{{
				Type: schema.ContentTypeOutputText,
				Text: item.text.String(),
			}},
		}
	}
	return schema.Item{
		Type:      schema.ItemTypeFunctionCall,
		ID:        item.id,
		Status:    status,
		CallID:    item.callID,
		Name:      item.name,
		Arguments: schema.StringArguments(item.args.String()),
	}
}

// OutputItems returns the finished output items in creation order, shaped for
// persistence as conversation history.
func (t *Transcoder) OutputItems() []schema.Item {
	items := make([]schema.Item, 0, len(t.order))
	for _, item := range t.order {
		items = append(items, t.itemSnapshot(item, t.status))
	}
	return items
}

// Response assembles the aggregated response object. PreviousResponseID and
// Store are filled in by the caller, which owns those request-level fields.
func (t *Transcoder) Response() *schema.Response {
	resp := &schema.Response{
		ID:        t.responseID,
		Object:    "response",
		CreatedAt: t.createdAt,
		Model:     t.model,
		Status:    t.status,
		Output:    t.OutputItems(),
		Store:     true,
	}
	if t.state == transcoderClosed && t.status != schema.StatusFailed {
		now := time.Now().Unix()
		resp.CompletedAt = &now
	}
	return resp
}

// statusForFinishReason maps upstream finish reasons onto response statuses.
// Truncation and filtering both surface as incomplete.
func statusForFinishReason(reason string) string {
	switch reason {
	case "length", "content_filter":
		return schema.StatusIncomplete
	default:
		return schema.StatusCompleted
	}
}
