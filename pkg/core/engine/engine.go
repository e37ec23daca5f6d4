// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine orchestrates a single response turn: replaying stored
// conversation context, proxying it upstream as a streaming chat completion,
// transcoding the upstream chunks into response events, and persisting the
// finished turn.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/orsproxy/ors-proxy/pkg/core/api"
	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
	"github.com/orsproxy/ors-proxy/pkg/observability/logging"
)

// Error kinds, used by the HTTP adapter to map pre-stream failures to status codes.
const (
	KindValidation = "validation"
	KindStore      = "store"
	KindUpstream   = "upstream"
	KindProtocol   = "protocol"
	KindTimeout    = "timeout"
	KindInternal   = "internal"
)

// RequestError is a classified failure that happened before any event was
// emitted. Once the stream is open, failures surface as response.error events
// instead.
type RequestError struct {
	Kind string
	Err  error
}

func (e *RequestError) Error() string { return fmt.Sprintf("%s: %v", e.Kind, e.Err) }
func (e *RequestError) Unwrap() error { return e.Err }

func requestErr(kind string, err error) *RequestError {
	return &RequestError{Kind: kind, Err: err}
}

// EmitFunc receives transcoded events in order. Returning an error aborts the
// stream (the client is gone).
type EmitFunc func(schema.StreamEvent) error

// StreamOpener opens a streaming chat completion against the upstream provider.
type StreamOpener interface {
	OpenStream(ctx context.Context, req *api.ChatCompletionRequest) (io.ReadCloser, error)
}

// Options tunes the engine's streaming behavior.
type Options struct {
	// WallTimeout bounds the entire upstream exchange.
	WallTimeout time.Duration

	// IdleTimeout bounds the gap between consecutive upstream reads.
	IdleTimeout time.Duration

	// StrictDecode aborts the stream on a malformed upstream chunk instead
	// of skipping it.
	StrictDecode bool
}

const (
	defaultWallTimeout = 600 * time.Second
	defaultIdleTimeout = 60 * time.Second

	appendRetries = 3
)

// Engine is the core orchestrator for the responses endpoint.
type Engine struct {
	store    state.ContextStore
	upstream StreamOpener
	log      *logging.Logger
	opts     Options
}

// New creates an engine.
func New(store state.ContextStore, upstream StreamOpener, log *logging.Logger, opts Options) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("context store is required")
	}
	if upstream == nil {
		return nil, fmt.Errorf("upstream client is required")
	}
	if opts.WallTimeout <= 0 {
		opts.WallTimeout = defaultWallTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	return &Engine{store: store, upstream: upstream, log: log, opts: opts}, nil
}

// Store returns the context store.
func (e *Engine) Store() state.ContextStore {
	return e.store
}

// preparedTurn carries the request context resolved before opening upstream.
type preparedTurn struct {
	conversationID string // empty until lazily created
	history        []schema.Item
	messages       []api.ChatMessage
}

// prepare validates the request, resolves and replays conversation context,
// and translates it to the upstream wire shape.
func (e *Engine) prepare(ctx context.Context, req *schema.ResponseRequest) (*preparedTurn, *RequestError) {
	if err := req.Validate(); err != nil {
		return nil, requestErr(KindValidation, err)
	}

	turn := &preparedTurn{}

	if req.PreviousResponseID != nil && *req.PreviousResponseID != "" {
		convID, err := e.store.ResolvePrevious(ctx, *req.PreviousResponseID)
		if errors.Is(err, state.ErrNotFound) {
			return nil, requestErr(KindValidation,
				fmt.Errorf("previous response %s not found", *req.PreviousResponseID))
		}
		if err != nil {
			return nil, requestErr(KindStore, err)
		}
		turn.conversationID = convID

		turn.history, err = e.store.LoadItems(ctx, convID)
		if err != nil {
			return nil, requestErr(KindStore, err)
		}
	}

	// Every function_call_output in the input must reference a call visible
	// in the replayed history or earlier in the input itself.
	known := make(map[string]bool)
	for _, it := range turn.history {
		if it.Type == schema.ItemTypeFunctionCall {
			known[it.CallID] = true
		}
	}
	for i, it := range req.Input {
		switch it.Type {
		case schema.ItemTypeFunctionCall:
			known[it.CallID] = true
		case schema.ItemTypeFunctionCallOutput:
			if !known[it.CallID] {
				return nil, requestErr(KindValidation,
					fmt.Errorf("input[%d]: function_call_output references unknown call_id %q", i, it.CallID))
			}
		}
	}

	full := make([]schema.Item, 0, len(turn.history)+len(req.Input))
	full = append(full, turn.history...)
	full = append(full, req.Input...)

	messages, err := api.TranslateItems(full)
	if err != nil {
		return nil, requestErr(KindValidation, err)
	}
	turn.messages = messages
	return turn, nil
}

// ProcessStream runs one streaming turn, delivering events through emit.
// A non-nil return value means no event was emitted and the caller still owns
// the response; after the first emit, failures are delivered in-band.
func (e *Engine) ProcessStream(ctx context.Context, req *schema.ResponseRequest, emit EmitFunc) error {
	turn, rerr := e.prepare(ctx, req)
	if rerr != nil {
		return rerr
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.WallTimeout)
	defer cancel()

	body, err := e.upstream.OpenStream(ctx, &api.ChatCompletionRequest{
		Model:    req.Model,
		Messages: turn.messages,
	})
	if err != nil {
		return requestErr(KindUpstream, err)
	}
	defer body.Close()

	tr := NewTranscoder(req.Model)
	return e.run(ctx, req, turn, tr, body, emit)
}

// readResult is one framed upstream record, or the reader's terminal error.
type readResult struct {
	record []byte
	err    error
}

// run drives the transcoder from the upstream body until a terminal event.
func (e *Engine) run(ctx context.Context, req *schema.ResponseRequest, turn *preparedTurn, tr *Transcoder, body io.ReadCloser, emit EmitFunc) error {
	records := make(chan readResult, 16)
	go func() {
		defer close(records)
		send := func(res readResult) bool {
			select {
			case records <- res:
				return true
			case <-ctx.Done():
				return false
			}
		}
		framer := api.NewSSEFramer()
		buf := make([]byte, 4096)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				recs, ferr := framer.Feed(buf[:n])
				for _, rec := range recs {
					if !send(readResult{record: rec}) {
						return
					}
				}
				if ferr != nil {
					send(readResult{err: ferr})
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					send(readResult{err: err})
				}
				return
			}
			if framer.Closed() {
				return
			}
		}
	}()

	if err := e.emitAll(ctx, req, turn, tr, tr.Start(), emit); err != nil {
		return err
	}

	idle := time.NewTimer(e.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client gone or wall timeout. Nothing is persisted for an
			// abandoned turn; cancelling ctx also tears down upstream.
			if ctx.Err() == context.DeadlineExceeded {
				return e.emitAll(ctx, req, turn, tr,
					tr.FinishError("timeout", "upstream exchange exceeded time limit"), emit)
			}
			return nil

		case <-idle.C:
			e.logWarn("upstream idle timeout", "response_id", tr.ResponseID())
			return e.emitAll(ctx, req, turn, tr,
				tr.FinishError("timeout", "no upstream data within idle timeout"), emit)

		case res, ok := <-records:
			if !ok {
				// Upstream closed; close out whatever accumulated.
				return e.emitAll(ctx, req, turn, tr, tr.FinishStream(), emit)
			}
			if res.err != nil {
				code := "upstream_error"
				if errors.Is(res.err, api.ErrRecordBufferExceeded) {
					code = "protocol_error"
				}
				return e.emitAll(ctx, req, turn, tr,
					tr.FinishError(code, res.err.Error()), emit)
			}

			chunk, err := api.DecodeChunk(res.record)
			if err != nil {
				if e.opts.StrictDecode {
					return e.emitAll(ctx, req, turn, tr,
						tr.FinishError("protocol_error", fmt.Sprintf("malformed upstream chunk: %v", err)), emit)
				}
				e.logWarn("skipping malformed upstream chunk", "error", err)
				continue
			}

			if err := e.emitAll(ctx, req, turn, tr, tr.Process(chunk), emit); err != nil {
				return err
			}
			if tr.Closed() {
				return nil
			}

			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(e.opts.IdleTimeout)
		}
	}
}

// emitAll forwards events to emit, holding back response.completed until the
// turn is durably persisted. A persistence failure converts the held event
// into response.error at the same sequence number.
func (e *Engine) emitAll(ctx context.Context, req *schema.ResponseRequest, turn *preparedTurn, tr *Transcoder, events []schema.StreamEvent, emit EmitFunc) error {
	for _, ev := range events {
		completed, ok := ev.(schema.ResponseCompletedEvent)
		if !ok {
			if err := emit(ev); err != nil {
				return err
			}
			continue
		}

		if err := e.persistTurn(ctx, req, turn, tr); err != nil {
			e.logError("persisting turn failed", "response_id", tr.ResponseID(), "error", err)
			return emit(schema.ResponseErrorEvent{
				EventMeta: schema.EventMeta{
					Type:           schema.EventResponseError,
					SequenceNumber: completed.Seq(),
				},
				Error: schema.ErrorField{Code: "store_error", Message: "failed to persist response"},
			})
		}

		completed.Response.PreviousResponseID = req.PreviousResponseID
		completed.Response.Store = req.StoreEnabled()
		if err := emit(completed); err != nil {
			return err
		}
	}
	return nil
}

// persistTurn appends the request input plus generated output as one batch and
// records the response id. Turns with store=false, and turns that produced and
// consumed nothing, leave no trace.
func (e *Engine) persistTurn(ctx context.Context, req *schema.ResponseRequest, turn *preparedTurn, tr *Transcoder) error {
	if !req.StoreEnabled() {
		return nil
	}

	newItems := make([]schema.Item, 0, len(req.Input)+len(tr.order))
	newItems = append(newItems, req.Input...)
	newItems = append(newItems, tr.OutputItems()...)
	if len(newItems) == 0 {
		return nil
	}

	if turn.conversationID == "" {
		convID, err := e.store.CreateConversation(ctx)
		if err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
		turn.conversationID = convID
	}

	var err error
	for attempt := 0; attempt < appendRetries; attempt++ {
		err = e.store.AppendItems(ctx, turn.conversationID, newItems)
		if !errors.Is(err, state.ErrConflict) {
			break
		}
		e.logWarn("append conflict, retrying", "conversation_id", turn.conversationID, "attempt", attempt+1)
	}
	if err != nil {
		return fmt.Errorf("append items: %w", err)
	}

	if err := e.store.RecordResponse(ctx, tr.ResponseID(), turn.conversationID); err != nil {
		return fmt.Errorf("record response: %w", err)
	}
	return nil
}

// ProcessRequest runs one turn without streaming, returning the aggregated
// response. Mid-stream failures come back as a failed response rather than an
// error; only pre-stream failures return a RequestError.
func (e *Engine) ProcessRequest(ctx context.Context, req *schema.ResponseRequest) (*schema.Response, error) {
	turn, rerr := e.prepare(ctx, req)
	if rerr != nil {
		return nil, rerr
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.WallTimeout)
	defer cancel()

	body, err := e.upstream.OpenStream(ctx, &api.ChatCompletionRequest{
		Model:    req.Model,
		Messages: turn.messages,
	})
	if err != nil {
		return nil, requestErr(KindUpstream, err)
	}
	defer body.Close()

	tr := NewTranscoder(req.Model)

	var streamErr *schema.ErrorField
	collect := func(ev schema.StreamEvent) error {
		if errEv, ok := ev.(schema.ResponseErrorEvent); ok {
			e := errEv.Error
			streamErr = &e
		}
		return nil
	}
	if err := e.run(ctx, req, turn, tr, body, collect); err != nil {
		return nil, err
	}

	resp := tr.Response()
	resp.PreviousResponseID = req.PreviousResponseID
	resp.Store = req.StoreEnabled()
	if streamErr != nil {
		resp.Status = schema.StatusFailed
		resp.Error = streamErr
	}
	return resp, nil
}

func (e *Engine) logWarn(msg string, args ...any) {
	if e.log != nil {
		e.log.Warn(msg, args...)
	}
}

func (e *Engine) logError(msg string, args ...any) {
	if e.log != nil {
		e.log.Error(msg, args...)
	}
}
