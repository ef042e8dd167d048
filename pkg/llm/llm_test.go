/*
 * Copyright (C) 2025-2026, Podex Labs, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package llm

import (
	"encoding/json"
	"io"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	anthropicsse "github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/openai/openai-go/v2"
	openaisse "github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// anthropicDecoder replays a fixed event sequence through the SDK stream.
type anthropicDecoder struct {
	events []anthropicsse.Event
	i      int
}

func (d *anthropicDecoder) Event() anthropicsse.Event { return d.events[d.i-1] }
func (d *anthropicDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}
func (d *anthropicDecoder) Close() error { return nil }
func (d *anthropicDecoder) Err() error   { return nil }

func anthropicEvent(t *testing.T, eventType, payload string) anthropicsse.Event {
	t.Helper()
	return anthropicsse.Event{Type: eventType, Data: []byte(payload)}
}

func drain(t *testing.T, s Stream) []Delta {
	t.Helper()
	var deltas []Delta
	for {
		delta, err := s.Recv()
		if err == io.EOF {
			return deltas
		}
		require.NoError(t, err)
		deltas = append(deltas, delta)
	}
}

func TestAnthropicStreamTextAndToolCall(t *testing.T) {
	dec := &anthropicDecoder{events: []anthropicsse.Event{
		anthropicEvent(t, "content_block_delta",
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hello "}}`),
		anthropicEvent(t, "content_block_delta",
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"world"}}`),
		anthropicEvent(t, "content_block_start",
			`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"t1","name":"read_file"}}`),
		anthropicEvent(t, "content_block_delta",
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`),
		anthropicEvent(t, "content_block_delta",
			`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"main.go\"}"}}`),
		anthropicEvent(t, "content_block_stop",
			`{"type":"content_block_stop","index":1}`),
		anthropicEvent(t, "message_delta",
			`{"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":10,"output_tokens":5}}`),
		anthropicEvent(t, "message_stop", `{"type":"message_stop"}`),
	}}
	stream := newAnthropicStream(anthropicsse.NewStream[sdk.MessageStreamEventUnion](dec, nil))
	defer func() { _ = stream.Close() }()

	deltas := drain(t, stream)
	require.Len(t, deltas, 5)

	assert.Equal(t, Delta{Type: DeltaText, Text: "hello "}, deltas[0])
	assert.Equal(t, Delta{Type: DeltaText, Text: "world"}, deltas[1])

	require.Equal(t, DeltaToolCall, deltas[2].Type)
	assert.Equal(t, "t1", deltas[2].ToolCall.Id)
	assert.Equal(t, "read_file", deltas[2].ToolCall.Name)
	assert.JSONEq(t, `{"path":"main.go"}`, string(deltas[2].ToolCall.Arguments))

	require.Equal(t, DeltaUsage, deltas[3].Type)
	assert.Equal(t, 10, deltas[3].Usage.InputTokens)
	assert.Equal(t, 5, deltas[3].Usage.OutputTokens)

	assert.Equal(t, Delta{Type: DeltaStop, StopReason: "tool_use"}, deltas[4])
}

func TestAnthropicEncodeRequest(t *testing.T) {
	provider := &AnthropicProvider{defaultModel: "claude-sonnet-4-5", maxTokens: 2048}

	params, err := provider.encodeRequest(&Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "list files"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{
				{Id: "t1", Name: "list_directory", Arguments: json.RawMessage(`{"path":"."}`)},
			}},
			{Role: RoleTool, ToolCallId: "t1", Content: "main.go"},
		},
		Tools: []ToolDef{{
			Name:        "list_directory",
			Description: "List a directory",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, sdk.Model("claude-sonnet-4-5"), params.Model)
	assert.Equal(t, int64(2048), params.MaxTokens)
	require.Len(t, params.System, 1)
	assert.Equal(t, "be terse", params.System[0].Text)
	assert.Len(t, params.Messages, 3)
	assert.Len(t, params.Tools, 1)
}

func TestAnthropicEncodeRejectsEmpty(t *testing.T) {
	provider := &AnthropicProvider{defaultModel: "m", maxTokens: 1}

	_, err := provider.encodeRequest(&Request{})
	assert.Error(t, err)

	_, err = provider.encodeRequest(&Request{Messages: []Message{{Role: RoleSystem, Content: "only system"}}})
	assert.Error(t, err)
}

type openaiDecoder struct {
	events []openaisse.Event
	i      int
}

func (d *openaiDecoder) Event() openaisse.Event { return d.events[d.i-1] }
func (d *openaiDecoder) Next() bool {
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}
func (d *openaiDecoder) Close() error { return nil }
func (d *openaiDecoder) Err() error   { return nil }

func TestOpenAIStreamTextAndToolCall(t *testing.T) {
	dec := &openaiDecoder{events: []openaisse.Event{
		{Data: []byte(`{"choices":[{"index":0,"delta":{"content":"hi"}}]}`)},
		{Data: []byte(`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c1","function":{"name":"run_command","arguments":"{\"command\":"}}]}}]}`)},
		{Data: []byte(`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"ls\"}"}}]}}]}`)},
		{Data: []byte(`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`)},
	}}
	stream := newOpenAIStream(openaisse.NewStream[openai.ChatCompletionChunk](dec, nil))
	defer func() { _ = stream.Close() }()

	deltas := drain(t, stream)
	require.Len(t, deltas, 3)

	assert.Equal(t, Delta{Type: DeltaText, Text: "hi"}, deltas[0])

	require.Equal(t, DeltaToolCall, deltas[1].Type)
	assert.Equal(t, "c1", deltas[1].ToolCall.Id)
	assert.Equal(t, "run_command", deltas[1].ToolCall.Name)
	assert.JSONEq(t, `{"command":"ls"}`, string(deltas[1].ToolCall.Arguments))

	assert.Equal(t, Delta{Type: DeltaStop, StopReason: "tool_calls"}, deltas[2])
}

func TestOpenAIEncodeRequest(t *testing.T) {
	provider := &OpenAIProvider{defaultModel: "gpt-5", maxTokens: 1024}

	params, err := provider.encodeRequest(&Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "be terse"},
			{Role: RoleUser, Content: "list files"},
			{Role: RoleAssistant, Content: "sure", ToolCalls: []ToolCall{
				{Id: "c1", Name: "list_directory", Arguments: json.RawMessage(`{}`)},
			}},
			{Role: RoleTool, ToolCallId: "c1", Content: "main.go"},
		},
		Tools: []ToolDef{{
			Name:        "list_directory",
			Description: "List a directory",
			InputSchema: map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, openai.ChatModel("gpt-5"), params.Model)
	assert.Len(t, params.Messages, 4)
	assert.Len(t, params.Tools, 1)

	assistant := params.Messages[2].OfAssistant
	require.NotNil(t, assistant)
	require.Len(t, assistant.ToolCalls, 1)
	assert.Equal(t, "c1", assistant.ToolCalls[0].OfFunction.ID)
}

func TestNormalizeArguments(t *testing.T) {
	assert.Equal(t, json.RawMessage(`{}`), normalizeArguments(""))
	assert.Equal(t, json.RawMessage(`{}`), normalizeArguments("   "))
	assert.Equal(t, json.RawMessage(`{"a":1}`), normalizeArguments(`{"a":1}`))
}
