// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/orsproxy/ors-proxy/pkg/core/schema"
	"github.com/orsproxy/ors-proxy/pkg/core/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "test.db") + "?mode=rwc"
	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func userText(text string) schema.Item {
	return schema.Item{
		Type:    schema.ItemTypeMessage,
		Role:    schema.RoleUser,
		Content: []schema.ContentPart{{Type: schema.ContentTypeInputText, Text: text}},
	}
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	batch := []schema.Item{
		userText("hello"),
		{
			Type:      schema.ItemTypeFunctionCall,
			CallID:    "call_1",
			Name:      "get_weather",
			Arguments: schema.StringArguments(`{"city":"SF"}`),
		},
	}
	if err := s.AppendItems(ctx, convID, batch); err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	if err := s.AppendItems(ctx, convID, []schema.Item{userText("again")}); err != nil {
		t.Fatalf("AppendItems second batch: %v", err)
	}

	items, err := s.LoadItems(ctx, convID)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Content[0].Text != "hello" {
		t.Errorf("item 0 out of order: %+v", items[0])
	}
	if items[1].Type != schema.ItemTypeFunctionCall || items[1].CallID != "call_1" {
		t.Errorf("item 1 not the function call: %+v", items[1])
	}
	if items[1].ArgumentsString() != `{"city":"SF"}` {
		t.Errorf("arguments lost in round trip: %q", items[1].ArgumentsString())
	}
	if items[2].Content[0].Text != "again" {
		t.Errorf("item 2 out of order: %+v", items[2])
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.LoadItems(context.Background(), "conv_missing"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.AppendItems(context.Background(), "conv_missing", []schema.Item{userText("x")}); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound on append, got %v", err)
	}
}

func TestOrphanFunctionCallOutputRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	orphan := []schema.Item{{
		Type:   schema.ItemTypeFunctionCallOutput,
		CallID: "call_ghost",
		Output: "nothing",
	}}
	if err := s.AppendItems(ctx, convID, orphan); !errors.Is(err, state.ErrMissingCall) {
		t.Fatalf("expected ErrMissingCall, got %v", err)
	}

	// The rejected batch must not be partially applied.
	items, err := s.LoadItems(ctx, convID)
	if err != nil {
		t.Fatalf("LoadItems: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("rejected append leaked %d items", len(items))
	}
}

func TestOutputMatchesCallInSameBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	batch := []schema.Item{
		{Type: schema.ItemTypeFunctionCall, CallID: "call_1", Name: "f", Arguments: schema.StringArguments("{}")},
		{Type: schema.ItemTypeFunctionCallOutput, CallID: "call_1", Output: "ok"},
	}
	if err := s.AppendItems(ctx, convID, batch); err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
}

func TestOutputMatchesCallFromEarlierBatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	call := []schema.Item{{Type: schema.ItemTypeFunctionCall, CallID: "call_1", Name: "f", Arguments: schema.StringArguments("{}")}}
	if err := s.AppendItems(ctx, convID, call); err != nil {
		t.Fatalf("AppendItems call: %v", err)
	}
	out := []schema.Item{{Type: schema.ItemTypeFunctionCallOutput, CallID: "call_1", Output: "ok"}}
	if err := s.AppendItems(ctx, convID, out); err != nil {
		t.Fatalf("AppendItems output: %v", err)
	}
}

func TestRecordAndResolveResponse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}

	if err := s.RecordResponse(ctx, "resp_1", convID); err != nil {
		t.Fatalf("RecordResponse: %v", err)
	}

	got, err := s.ResolvePrevious(ctx, "resp_1")
	if err != nil {
		t.Fatalf("ResolvePrevious: %v", err)
	}
	if got != convID {
		t.Errorf("expected %s, got %s", convID, got)
	}

	resp, err := s.GetResponse(ctx, "resp_1")
	if err != nil {
		t.Fatalf("GetResponse: %v", err)
	}
	if resp.ConversationID != convID || resp.CreatedAt == 0 {
		t.Errorf("unexpected stored response: %+v", resp)
	}

	if _, err := s.ResolvePrevious(ctx, "resp_missing"); !errors.Is(err, state.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestReopenPersists(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "persist.db") + "?mode=rwc"
	ctx := context.Background()

	s, err := New(dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	convID, err := s.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if err := s.AppendItems(ctx, convID, []schema.Item{userText("durable")}); err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	s.Close()

	s2, err := New(dsn)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	items, err := s2.LoadItems(ctx, convID)
	if err != nil {
		t.Fatalf("LoadItems after reopen: %v", err)
	}
	if len(items) != 1 || items[0].Content[0].Text != "durable" {
		t.Errorf("items lost across reopen: %+v", items)
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "sqlite://ors_proxy.db?mode=rwc", want: "file:ors_proxy.db"},
		{dsn: "sqlite://data/app.db", want: "file:data/app.db"},
		{dsn: "plain.db", want: "file:plain.db"},
		{dsn: "sqlite://db?mode=memory", want: "file::memory:"},
		{dsn: "sqlite://", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseDSN(tc.dsn)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseDSN(%q): expected error", tc.dsn)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseDSN(%q): %v", tc.dsn, err)
			continue
		}
		if got[:len(tc.want)] != tc.want {
			t.Errorf("parseDSN(%q) = %q, want prefix %q", tc.dsn, got, tc.want)
		}
	}
}
